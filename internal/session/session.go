package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/jscyril/music_stream_engine/api"
	"github.com/jscyril/music_stream_engine/internal/fetch"
	"github.com/jscyril/music_stream_engine/internal/logging"
	playerrors "github.com/jscyril/music_stream_engine/pkg/errors"
	"github.com/jscyril/music_stream_engine/pkg/events"
)

// Navigator is the playlist surface the session drives
type Navigator interface {
	Select(id api.ResourceIdentifier) error
	Lookup(id api.ResourceIdentifier) (api.ResourceDescriptor, bool)
	Current() (api.ResourceIdentifier, error)
	Next() (api.ResourceIdentifier, error)
	Previous() (api.ResourceIdentifier, error)
	SetLoadMode(mode api.LoadMode) error
}

// Fetcher delivers the bytes of a resource
type Fetcher interface {
	Fetch(ctx context.Context, id api.ResourceIdentifier, h fetch.Handlers) error
}

const defaultPollInterval = 100 * time.Millisecond

// Session owns the single live engine and the playback state machine.
// All state is mutated on one goroutine; callers and background work talk
// to it through the inbox.
type Session struct {
	playlist        Navigator
	fetcher         Fetcher
	newEngine       api.EngineFactory
	bus             *events.EventBus
	logger          *zap.Logger
	pollInterval    time.Duration
	resumeAfterSeek bool

	inbox     chan any
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	// gen is read by fetch callbacks to discard stale bytes
	gen atomic.Uint64

	snapMu sync.RWMutex
	snap   api.PlaybackState

	// Owned by the loop goroutine
	state       api.PlaybackState
	engine      api.Engine
	cancelFetch context.CancelFunc
	lastFetch   chan struct{}
	ticker      *time.Ticker
	pauseIntent bool
	seekReturn  api.PlaybackStatus
	// stalled marks Buffering entered because output ran out of data
	stalled bool
}

// Option configures a Session
type Option func(*Session)

// WithLogger sets the session's logger
func WithLogger(l *zap.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithPollInterval sets how often the engine position is sampled
func WithPollInterval(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithResumeAfterSeek controls whether a completed seek starts playback
// even when the session was paused
func WithResumeAfterSeek(resume bool) Option {
	return func(s *Session) { s.resumeAfterSeek = resume }
}

// New creates a session and starts its loop
func New(playlist Navigator, fetcher Fetcher, newEngine api.EngineFactory, opts ...Option) *Session {
	s := &Session{
		playlist:        playlist,
		fetcher:         fetcher,
		newEngine:       newEngine,
		bus:             events.NewEventBus(),
		pollInterval:    defaultPollInterval,
		resumeAfterSeek: true,
		inbox:           make(chan any, 64),
		quit:            make(chan struct{}),
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.OrNop(s.logger).Named("session")

	go s.run()
	return s
}

// Subscribe returns a channel of observations of one type
func (s *Session) Subscribe(eventType api.EventType) <-chan api.Event {
	return s.bus.Subscribe(eventType)
}

// SubscribeAll returns a channel of every observation
func (s *Session) SubscribeAll() <-chan api.Event {
	return s.bus.SubscribeAll()
}

// Unsubscribe stops delivery to ch and closes it
func (s *Session) Unsubscribe(ch <-chan api.Event) {
	s.bus.Unsubscribe(ch)
}

// Snapshot returns the latest playback state
func (s *Session) Snapshot() api.PlaybackState {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	return s.snap
}

// Play tears down the current resource and starts loading id
func (s *Session) Play(id api.ResourceIdentifier) error {
	return s.do(command{Type: cmdPlay, ID: id})
}

// Toggle switches between playing and paused
func (s *Session) Toggle() error {
	return s.do(command{Type: cmdToggle})
}

// Seek moves playback to t
func (s *Session) Seek(t time.Duration) error {
	return s.do(command{Type: cmdSeek, Time: t})
}

// Next plays the playlist's next resource
func (s *Session) Next() error {
	return s.do(command{Type: cmdNext})
}

// Previous plays the playlist's previous resource
func (s *Session) Previous() error {
	return s.do(command{Type: cmdPrevious})
}

// SetLoadMode changes the playlist traversal policy without interrupting
// playback
func (s *Session) SetLoadMode(mode api.LoadMode) error {
	return s.do(command{Type: cmdSetLoadMode, Mode: mode})
}

// SetDragging marks whether the user is scrubbing the position. Position
// updates are suppressed while dragging; playback continues.
func (s *Session) SetDragging(dragging bool) error {
	return s.do(command{Type: cmdSetDragging, Flag: dragging})
}

// Close stops playback, releases the engine and waits for background
// fetches to return
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.quit)
	})
	<-s.done
	if s.lastFetch != nil {
		<-s.lastFetch
	}
	return nil
}

func (s *Session) do(cmd command) error {
	cmd.reply = make(chan error, 1)
	select {
	case s.inbox <- cmd:
	case <-s.done:
		return playerrors.ErrSessionClosed
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-s.done:
		return playerrors.ErrSessionClosed
	}
}

// post hands a message to the loop. It reports false once the loop has
// exited.
func (s *Session) post(msg any) bool {
	select {
	case s.inbox <- msg:
		return true
	case <-s.done:
		return false
	}
}

func (s *Session) run() {
	defer close(s.done)
	defer s.bus.Close()

	for {
		var tick <-chan time.Time
		if s.ticker != nil {
			tick = s.ticker.C
		}

		select {
		case <-s.quit:
			s.teardown()
			s.setStatus(api.StatusIdle)
			return

		case msg := <-s.inbox:
			switch m := msg.(type) {
			case command:
				m.reply <- s.handleCommand(m)
			case engineEvent:
				s.handleEngineEvent(m)
			case fetchProgress:
				s.handleProgress(m)
			case fetchDescriptor:
				s.handleDescriptor(m)
			case fetchFailed:
				s.handleFetchError(m)
			case fetchFinished:
				s.handleFetchFinished(m)
			}

		case <-tick:
			s.poll()
		}
	}
}

func (s *Session) handleCommand(cmd command) error {
	switch cmd.Type {
	case cmdPlay:
		if err := s.playlist.Select(cmd.ID); err != nil {
			return err
		}
		return s.play(cmd.ID)

	case cmdNext:
		id, err := s.playlist.Next()
		if err != nil {
			return err
		}
		return s.play(id)

	case cmdPrevious:
		id, err := s.playlist.Previous()
		if err != nil {
			return err
		}
		return s.play(id)

	case cmdSetLoadMode:
		return s.playlist.SetLoadMode(cmd.Mode)

	case cmdToggle:
		return s.toggle()

	case cmdSeek:
		return s.seek(cmd.Time)

	case cmdSetDragging:
		s.state.Dragging = cmd.Flag
		s.publishSnapshot()
		return nil
	}
	return fmt.Errorf("unknown command %d", cmd.Type)
}

// play replaces the live engine with a fresh one bound to id
func (s *Session) play(id api.ResourceIdentifier) error {
	desc, ok := s.playlist.Lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s", playerrors.ErrNoSuchResource, id)
	}

	s.teardown()
	gen := s.gen.Add(1)

	s.state = api.PlaybackState{
		Status:   api.StatusLoading,
		Resource: &desc,
		Dragging: s.state.Dragging,
	}

	engine, err := s.newEngine()
	if err != nil {
		err = playerrors.NewPlayerError("create engine", id, fmt.Errorf("%w: %v", playerrors.ErrEngine, err))
		s.fail(err)
		return err
	}
	s.engine = engine
	go s.forwardEngineEvents(gen, engine)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancelFetch = cancel

	prev := s.lastFetch
	finished := make(chan struct{})
	s.lastFetch = finished
	go s.runFetch(ctx, gen, id, engine, prev, finished)

	s.logger.Info("loading resource",
		zap.String("resource", id),
		zap.Stringer("source", desc.Source),
		zap.Uint64("generation", gen))
	s.setStatus(api.StatusLoading)
	return nil
}

// runFetch streams id into engine. It waits for the previous fetch to
// return first, since the coordinator rejects a second fetch of the same id.
func (s *Session) runFetch(ctx context.Context, gen uint64, id api.ResourceIdentifier, engine api.Engine, prev <-chan struct{}, finished chan<- struct{}) {
	defer close(finished)

	if prev != nil {
		<-prev
	}
	if ctx.Err() != nil {
		return
	}

	current := func() bool { return s.gen.Load() == gen }

	err := s.fetcher.Fetch(ctx, id, fetch.Handlers{
		OnBytes: func(p []byte) {
			if current() {
				engine.Ingest(p)
			}
		},
		OnProgress: func(p api.Progress) {
			if current() {
				s.post(fetchProgress{gen: gen, progress: p})
			}
		},
		OnDescriptorUpdate: func(d api.ResourceDescriptor) {
			if current() {
				s.post(fetchDescriptor{gen: gen, desc: d})
			}
		},
		OnError: func(err error) {
			if current() {
				s.post(fetchFailed{gen: gen, err: err})
			}
		},
	})

	if errors.Is(err, context.Canceled) || !current() {
		return
	}
	engine.Finish(err)
	s.post(fetchFinished{gen: gen, err: err})
}

func (s *Session) forwardEngineEvents(gen uint64, engine api.Engine) {
	for ev := range engine.Events() {
		if !s.post(engineEvent{gen: gen, event: ev}) {
			return
		}
	}
}

// teardown stops and releases the live engine, its timer and its fetch
func (s *Session) teardown() {
	s.stopTicker()
	s.stalled = false
	if s.cancelFetch != nil {
		s.cancelFetch()
		s.cancelFetch = nil
	}
	if s.engine != nil {
		if err := s.engine.Stop(); err != nil {
			s.logger.Debug("engine stop", zap.Error(err))
		}
		if err := s.engine.Close(); err != nil {
			s.logger.Debug("engine close", zap.Error(err))
		}
		s.engine = nil
	}
}

// fail tears the resource down and enters the error state. Later results
// from the same play are discarded.
func (s *Session) fail(err error) {
	s.teardown()
	s.gen.Add(1)
	s.state.Err = err
	s.logger.Warn("playback failed", zap.Error(err))
	s.bus.Publish(api.Event{Type: api.EventError, Payload: err})
	s.setStatus(api.StatusError)
}

func (s *Session) toggle() error {
	switch s.state.Status {
	case api.StatusPlaying:
		if err := s.engine.Pause(); err != nil {
			return err
		}
		s.pauseIntent = true
		s.setStatus(api.StatusPaused)
	case api.StatusPaused:
		if err := s.engine.Play(); err != nil {
			return err
		}
		s.pauseIntent = false
		s.setStatus(api.StatusPlaying)
	case api.StatusBuffering:
		if !s.stalled {
			return fmt.Errorf("%w: toggle while seeking", playerrors.ErrNotReady)
		}
		if err := s.engine.Pause(); err != nil {
			return err
		}
		s.stalled = false
		s.pauseIntent = true
		s.startTicker()
		s.setStatus(api.StatusPaused)
	default:
		return fmt.Errorf("%w: toggle while %s", playerrors.ErrNotReady, s.state.Status)
	}
	return nil
}

func (s *Session) seek(t time.Duration) error {
	switch s.state.Status {
	case api.StatusPlaying, api.StatusPaused, api.StatusSeeking, api.StatusBuffering:
	default:
		return fmt.Errorf("%w: seek while %s", playerrors.ErrNotReady, s.state.Status)
	}

	if t < 0 {
		t = 0
	}
	if d := s.state.Duration; d > 0 && t > d {
		t = d
	}

	result, err := s.engine.Seek(t)
	if err != nil {
		return playerrors.NewPlayerError("seek", s.resourceID(), err)
	}

	// A seek issued mid-seek returns to the state the first one left
	if s.state.Status == api.StatusPlaying || s.state.Status == api.StatusPaused {
		s.seekReturn = s.state.Status
	}
	if s.stalled {
		s.seekReturn = api.StatusPlaying
		s.stalled = false
	}
	s.state.Position = t

	if result == api.SeekDeferred {
		s.stopTicker()
		s.setStatus(api.StatusBuffering)
		return nil
	}
	s.setStatus(api.StatusSeeking)
	return nil
}

func (s *Session) handleEngineEvent(m engineEvent) {
	if m.gen != s.gen.Load() || s.engine == nil {
		return
	}
	ev := m.event

	switch ev.Type {
	case api.EngineReady:
		if s.state.Status != api.StatusLoading {
			return
		}
		s.state.Duration = s.engine.Duration()
		s.startTicker()
		if s.pauseIntent {
			s.setStatus(api.StatusPaused)
			return
		}
		if err := s.engine.Play(); err != nil {
			s.fail(playerrors.NewPlayerError("play", s.resourceID(), err))
			return
		}
		s.setStatus(api.StatusPlaying)

	case api.EngineSeekCompleted:
		if s.state.Status != api.StatusSeeking && s.state.Status != api.StatusBuffering {
			return
		}
		s.state.Position = ev.Time
		s.startTicker()

		target := s.seekReturn
		if s.resumeAfterSeek {
			target = api.StatusPlaying
		}
		if target == api.StatusPlaying {
			if err := s.engine.Play(); err != nil {
				s.fail(playerrors.NewPlayerError("play", s.resourceID(), err))
				return
			}
			s.pauseIntent = false
		} else if err := s.engine.Pause(); err != nil {
			s.fail(playerrors.NewPlayerError("pause", s.resourceID(), err))
			return
		}
		s.setStatus(target)

	case api.EngineQueueStatusChanged:
		// Playing and paused echo our own commands and may arrive after a
		// newer toggle, so only the end of the queue changes state
		if ev.Status == api.QueueStopped {
			s.trackEnded()
			return
		}
		s.logger.Debug("engine queue status", zap.Stringer("queue", ev.Status))

	case api.EngineBufferingChanged:
		s.handleStall(ev.Buffering)

	case api.EngineError:
		err := ev.Err
		if err == nil {
			err = playerrors.ErrEngine
		}
		if !errors.Is(err, playerrors.ErrEngine) {
			err = fmt.Errorf("%w: %v", playerrors.ErrEngine, err)
		}
		s.fail(playerrors.NewPlayerError("playback", s.resourceID(), err))
	}
}

// handleStall moves between Playing and Buffering as the output runs out
// of data and recovers. Buffering entered by a deferred seek is left alone.
func (s *Session) handleStall(stalled bool) {
	switch {
	case stalled && s.state.Status == api.StatusPlaying:
		s.stalled = true
		s.stopTicker()
		s.logger.Debug("playback stalled", zap.String("resource", s.resourceID()))
		s.setStatus(api.StatusBuffering)

	case !stalled && s.stalled && s.state.Status == api.StatusBuffering:
		s.stalled = false
		s.state.Position = s.engine.CurrentTime()
		s.startTicker()
		s.setStatus(api.StatusPlaying)
	}
}

func (s *Session) trackEnded() {
	switch s.state.Status {
	case api.StatusPlaying, api.StatusPaused, api.StatusSeeking, api.StatusBuffering:
	default:
		return
	}
	s.stalled = false
	if d := s.engine.Duration(); d > 0 {
		s.state.Duration = d
		s.state.Position = d
	}
	s.setStatus(api.StatusPaused)

	var desc api.ResourceDescriptor
	if s.state.Resource != nil {
		desc = *s.state.Resource
	}
	s.logger.Debug("track ended", zap.String("resource", desc.ID))
	s.bus.Publish(api.Event{Type: api.EventTrackEnded, Payload: desc})
}

func (s *Session) handleProgress(m fetchProgress) {
	if m.gen != s.gen.Load() {
		return
	}
	s.state.Progress = m.progress
	s.publishSnapshot()
	s.bus.Publish(api.Event{Type: api.EventProgress, Payload: m.progress})
}

func (s *Session) handleDescriptor(m fetchDescriptor) {
	if m.gen != s.gen.Load() {
		return
	}
	desc := m.desc
	s.state.Resource = &desc
	s.publishSnapshot()
	s.bus.Publish(api.Event{Type: api.EventDescriptorUpdate, Payload: desc})
}

func (s *Session) handleFetchError(m fetchFailed) {
	if m.gen != s.gen.Load() {
		return
	}
	// Stream failures are handled once the fetch returns
	if playerrors.IsFatal(m.err) {
		return
	}
	s.logger.Debug("fetch reported error", zap.Error(m.err))
	s.bus.Publish(api.Event{Type: api.EventError, Payload: m.err})
}

func (s *Session) handleFetchFinished(m fetchFinished) {
	if m.gen != s.gen.Load() || m.err == nil {
		return
	}
	if s.state.Status == api.StatusLoading {
		s.fail(m.err)
		return
	}
	// The engine plays what arrived; the caller decides what to do next
	s.logger.Warn("stream ended early", zap.String("resource", s.resourceID()), zap.Error(m.err))
	s.bus.Publish(api.Event{Type: api.EventError, Payload: m.err})
}

func (s *Session) poll() {
	if s.engine == nil || s.state.Dragging || s.stalled {
		return
	}
	if s.state.Status != api.StatusPlaying && s.state.Status != api.StatusPaused {
		return
	}

	s.state.Position = s.engine.CurrentTime()
	if d := s.engine.Duration(); d > 0 {
		s.state.Duration = d
	}
	s.publishSnapshot()
	s.bus.Publish(api.Event{Type: api.EventPositionUpdate, Payload: s.Snapshot()})
}

func (s *Session) startTicker() {
	if s.ticker == nil {
		s.ticker = time.NewTicker(s.pollInterval)
	}
}

func (s *Session) stopTicker() {
	if s.ticker != nil {
		s.ticker.Stop()
		s.ticker = nil
	}
}

func (s *Session) resourceID() string {
	if s.state.Resource == nil {
		return ""
	}
	return s.state.Resource.ID
}

// setStatus records a status and announces it when it changed
func (s *Session) setStatus(status api.PlaybackStatus) {
	changed := s.Snapshot().Status != status
	s.state.Status = status
	if status != api.StatusError {
		s.state.Err = nil
	}
	s.publishSnapshot()
	if changed || status == api.StatusLoading {
		s.logger.Debug("state changed", zap.Stringer("status", status))
		s.bus.Publish(api.Event{Type: api.EventStateChange, Payload: s.Snapshot()})
	}
}

func (s *Session) publishSnapshot() {
	snap := s.state
	if snap.Resource != nil {
		desc := *snap.Resource
		snap.Resource = &desc
	}
	s.snapMu.Lock()
	s.snap = snap
	s.snapMu.Unlock()
}
