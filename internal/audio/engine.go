package audio

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/effects"
	"go.uber.org/zap"

	"github.com/jscyril/music_stream_engine/api"
	"github.com/jscyril/music_stream_engine/internal/dispatch"
	"github.com/jscyril/music_stream_engine/internal/logging"
	playerrors "github.com/jscyril/music_stream_engine/pkg/errors"
)

// Ensure Engine implements api.Engine at compile time
var _ api.Engine = (*Engine)(nil)

// Engine decodes one resource while its bytes are still arriving and
// renders it through an Output. Decoding runs on the engine's parse queue.
// Until every byte has arrived the decoder reads forward only and decodes
// ahead on a pump, so seeks are deferred and an output that catches up with
// the network plays silence and reports buffering. Once the resource is
// complete it is reopened seekable.
type Engine struct {
	out        Output
	logger     *zap.Logger
	buf        *ingestBuffer
	parseQueue *dispatch.Serial
	events     *eventQueue

	mu          sync.Mutex
	started     bool
	closed      bool
	playing     bool
	seekable    bool
	drained     bool
	ext         string
	streamer    beep.StreamSeekCloser
	format      beep.Format
	gate        *gate
	volume      *effects.Volume
	level       float64
	pendingSeek *time.Duration

	length atomic.Int64 // samples; 0 while unknown
}

// Option configures an Engine
type Option func(*Engine)

// WithOutput sets where audio is rendered
func WithOutput(out Output) Option {
	return func(e *Engine) { e.out = out }
}

// WithLogger sets the engine's logger
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithVolume sets the initial volume level (0.0 to 1.0)
func WithVolume(level float64) Option {
	return func(e *Engine) {
		if level >= 0 && level <= 1 {
			e.level = level
		}
	}
}

// NewEngine creates an engine with nothing ingested
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		out:        Speaker(),
		buf:        newIngestBuffer(),
		parseQueue: dispatch.NewSerial(4),
		events:     newEventQueue(),
		level:      0.5,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logging.OrNop(e.logger).Named("engine")
	return e
}

// Factory returns an api.EngineFactory building engines with opts
func Factory(opts ...Option) api.EngineFactory {
	return func() (api.Engine, error) {
		return NewEngine(opts...), nil
	}
}

// Events returns the engine's event channel
func (e *Engine) Events() <-chan api.EngineEvent {
	return e.events.out
}

func (e *Engine) emit(ev api.EngineEvent) {
	e.events.push(ev)
}

func (e *Engine) emitError(err error) {
	e.logger.Warn("engine error", zap.Error(err))
	e.emit(api.EngineEvent{Type: api.EngineError, Err: err})
}

// Ingest appends resource bytes. The first call starts decoding.
func (e *Engine) Ingest(p []byte) {
	e.buf.Write(p)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started || e.closed {
		return
	}
	e.started = true
	e.parseQueue.Async(e.decode)
}

// Finish marks the end of ingestion. The bytes received so far are then
// reopened with a seekable decoder.
func (e *Engine) Finish(err error) {
	if !e.buf.Finish(err) {
		return
	}
	if err != nil {
		e.logger.Debug("ingest ended early", zap.Int("bytes", e.buf.Len()), zap.Error(err))
	}
	e.parseQueue.Async(e.reopen)
}

// decode opens a forward-only decoder over the arriving bytes
func (e *Engine) decode() {
	header, err := e.buf.peek(4)
	if err != nil {
		return
	}
	if len(header) == 0 {
		return
	}
	ext := SniffFormat(header)

	streamer, format, err := DecodeAudio(e.buf.NewReader(), ext)
	if err != nil {
		e.mu.Lock()
		closed := e.closed
		e.mu.Unlock()
		if !closed {
			e.emitError(fmt.Errorf("%w: decode %s: %v", playerrors.ErrEngine, ext, err))
		}
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		streamer.Close()
		return
	}

	if err := e.out.Init(format.SampleRate); err != nil {
		streamer.Close()
		e.emitError(fmt.Errorf("%w: output init: %v", playerrors.ErrEngine, err))
		return
	}

	e.ext = ext
	e.streamer = streamer
	e.format = format
	if n := streamer.Len(); n > 0 {
		e.length.Store(int64(n))
	}

	e.gate = &gate{
		src:      newPump(streamer, format.SampleRate.N(time.Second)),
		onStarve: e.starved,
	}
	e.gate.paused.Store(!e.playing)
	e.volume = &effects.Volume{
		Streamer: e.gate,
		Base:     2,
		Volume:   levelToVolume(e.level),
		Silent:   e.level == 0,
	}
	e.enqueue()

	e.logger.Debug("decoder ready",
		zap.String("format", ext),
		zap.Int("sample_rate", int(format.SampleRate)),
		zap.Int("channels", format.NumChannels))
	e.emit(api.EngineEvent{Type: api.EngineReady})
}

// reopen swaps in a seekable decoder once ingestion has finished and
// applies any deferred seek
func (e *Engine) reopen() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	if e.streamer == nil {
		if e.buf.Len() == 0 {
			e.emitError(fmt.Errorf("%w: no audio data", playerrors.ErrEngine))
		}
		return
	}

	streamer, format, err := DecodeAudio(newSeekableBytes(e.buf.Bytes()), e.ext)
	if err != nil {
		e.logger.Warn("reopen for seeking failed", zap.Error(err))
		e.completePendingSeek(e.gate.pos.Load())
		return
	}

	// Hold the output still so the playhead read here is where the new
	// decoder resumes
	e.out.Lock()
	target := e.gate.pos.Load()
	if e.pendingSeek != nil {
		target = int64(format.SampleRate.N(*e.pendingSeek))
	}
	target = clamp(target, int64(streamer.Len()))
	if err := streamer.Seek(int(target)); err != nil {
		e.out.Unlock()
		streamer.Close()
		e.logger.Warn("seek after reopen failed", zap.Error(err))
		e.completePendingSeek(e.gate.pos.Load())
		return
	}
	src := e.gate.src
	e.gate.src = nil
	e.gate.s = streamer
	e.gate.pos.Store(target)
	// Everything has arrived, so any underrun is over
	e.gate.setStarved(false)
	e.out.Unlock()
	if src != nil {
		src.stop()
	}

	e.streamer = streamer
	e.format = format
	e.seekable = true
	e.length.Store(int64(streamer.Len()))
	e.completePendingSeek(target)
}

func (e *Engine) completePendingSeek(pos int64) {
	if e.pendingSeek == nil {
		return
	}
	e.pendingSeek = nil
	e.emit(api.EngineEvent{Type: api.EngineSeekCompleted, Time: e.format.SampleRate.D(int(pos))})
}

// enqueue hands the volume chain to the output. The drain callback runs
// on the output goroutine with the output lock held, so it must not wait
// on e.mu there.
func (e *Engine) enqueue() {
	e.drained = false
	e.out.Play(beep.Seq(e.volume, beep.Callback(func() { go e.ended() })))
}

// rearm puts a drained stream back on the output after a seek or replay
func (e *Engine) rearm() {
	if e.drained && e.seekable && e.volume != nil {
		e.enqueue()
	}
}

// starved runs on the output goroutine with the output lock held
func (e *Engine) starved(starved bool) {
	if starved {
		e.logger.Debug("output caught up with ingested data", zap.Int("bytes", e.buf.Len()))
	}
	e.emit(api.EngineEvent{Type: api.EngineBufferingChanged, Buffering: starved})
}

func (e *Engine) ended() {
	e.mu.Lock()
	closed := e.closed
	e.playing = false
	e.drained = true
	e.mu.Unlock()
	if !closed {
		e.emit(api.EngineEvent{Type: api.EngineQueueStatusChanged, Status: api.QueueStopped})
	}
}

// Play starts or resumes output
func (e *Engine) Play() error {
	return e.setPlaying(true, api.QueuePlaying)
}

// Pause pauses output
func (e *Engine) Pause() error {
	return e.setPlaying(false, api.QueuePaused)
}

// Stop halts output
func (e *Engine) Stop() error {
	return e.setPlaying(false, api.QueueStopped)
}

func (e *Engine) setPlaying(playing bool, status api.QueueStatus) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return playerrors.ErrEngine
	}
	e.playing = playing
	if e.gate != nil {
		e.gate.paused.Store(!playing)
		if !playing {
			// A paused output is not waiting for data; the next underrun
			// after resuming is reported afresh
			e.gate.starved.Store(false)
		}
	}
	if playing {
		e.rearm()
	}
	e.emit(api.EngineEvent{Type: api.EngineQueueStatusChanged, Status: status})
	return nil
}

// Seek moves the playhead to t. Before every byte has arrived the seek is
// deferred and completes with an EngineSeekCompleted event.
func (e *Engine) Seek(t time.Duration) (api.SeekResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return api.SeekImmediate, playerrors.ErrEngine
	}
	if !e.seekable {
		e.pendingSeek = &t
		return api.SeekDeferred, nil
	}

	target := clamp(int64(e.format.SampleRate.N(t)), e.length.Load())
	e.out.Lock()
	err := e.streamer.Seek(int(target))
	if err == nil {
		e.gate.pos.Store(target)
	}
	e.out.Unlock()
	if err != nil {
		return api.SeekImmediate, fmt.Errorf("%w: seek: %v", playerrors.ErrEngine, err)
	}
	if target < e.length.Load() {
		e.rearm()
	}

	e.emit(api.EngineEvent{Type: api.EngineSeekCompleted, Time: e.format.SampleRate.D(int(target))})
	return api.SeekImmediate, nil
}

// CurrentTime returns the playhead position
func (e *Engine) CurrentTime() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gate == nil {
		return 0
	}
	return e.format.SampleRate.D(int(e.gate.pos.Load()))
}

// Duration returns the resource length, or 0 while unknown
func (e *Engine) Duration() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.format.SampleRate == 0 {
		return 0
	}
	return e.format.SampleRate.D(int(e.length.Load()))
}

// SetVolume sets the volume level (0.0 to 1.0)
func (e *Engine) SetVolume(level float64) error {
	if level < 0 || level > 1 {
		return playerrors.ErrInvalidVolume
	}

	e.mu.Lock()
	e.level = level
	volume := e.volume
	e.mu.Unlock()

	if volume != nil {
		e.out.Lock()
		volume.Volume = levelToVolume(level)
		volume.Silent = level == 0
		e.out.Unlock()
	}
	return nil
}

// Volume returns the current volume level
func (e *Engine) Volume() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.level
}

// Close stops output and releases the decoder. Events is closed.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	g := e.gate
	e.mu.Unlock()

	// Wake blocked readers before taking the output lock
	e.buf.Close()
	if g != nil {
		g.detached.Store(true)
		e.out.Lock()
		s, src := g.s, g.src
		e.out.Unlock()
		if src != nil {
			src.stop()
		}
		if s != nil {
			s.Close()
		}
	}
	e.parseQueue.Close()
	e.events.close()
	return nil
}

// levelToVolume maps 0..1 onto the -1..1 exponent used by effects.Volume
func levelToVolume(level float64) float64 {
	return level*2 - 1
}

func clamp(n, length int64) int64 {
	if n < 0 {
		return 0
	}
	if length > 0 && n > length {
		return length
	}
	return n
}
