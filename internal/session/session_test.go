package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jscyril/music_stream_engine/api"
	"github.com/jscyril/music_stream_engine/internal/fetch"
	"github.com/jscyril/music_stream_engine/internal/playlist"
	playerrors "github.com/jscyril/music_stream_engine/pkg/errors"
)

// fakeEngine records calls and lets tests emit engine events
type fakeEngine struct {
	mu         sync.Mutex
	ingested   []byte
	finished   bool
	finishErr  error
	playing    bool
	stopped    bool
	closed     bool
	seeks      []time.Duration
	seekResult api.SeekResult
	pos, dur   time.Duration
	events     chan api.EngineEvent
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{events: make(chan api.EngineEvent, 16), dur: time.Minute}
}

func (e *fakeEngine) Ingest(p []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.ingested = append(e.ingested, p...)
	}
}

func (e *fakeEngine) Finish(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.finished = true
	e.finishErr = err
}

func (e *fakeEngine) Play() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.playing = true
	return nil
}

func (e *fakeEngine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.playing = false
	return nil
}

func (e *fakeEngine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.playing = false
	e.stopped = true
	return nil
}

func (e *fakeEngine) Seek(t time.Duration) (api.SeekResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seeks = append(e.seeks, t)
	return e.seekResult, nil
}

func (e *fakeEngine) CurrentTime() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pos
}

func (e *fakeEngine) Duration() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dur
}

func (e *fakeEngine) Events() <-chan api.EngineEvent { return e.events }

func (e *fakeEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.events)
	}
	return nil
}

func (e *fakeEngine) emit(ev api.EngineEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.events <- ev
	}
}

func (e *fakeEngine) isPlaying() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playing
}

func (e *fakeEngine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *fakeEngine) data() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return string(e.ingested)
}

func (e *fakeEngine) setPos(d time.Duration) {
	e.mu.Lock()
	e.pos = d
	e.mu.Unlock()
}

// fakeFetcher runs a per-resource script; resources without one deliver
// their id as bytes and succeed.
type fakeFetcher struct {
	mu      sync.Mutex
	scripts map[string]func(ctx context.Context, h fetch.Handlers) error
}

func (f *fakeFetcher) set(id string, fn func(ctx context.Context, h fetch.Handlers) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.scripts == nil {
		f.scripts = make(map[string]func(ctx context.Context, h fetch.Handlers) error)
	}
	f.scripts[id] = fn
}

func (f *fakeFetcher) Fetch(ctx context.Context, id api.ResourceIdentifier, h fetch.Handlers) error {
	f.mu.Lock()
	fn := f.scripts[id]
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, h)
	}
	h.OnBytes([]byte(id))
	h.OnProgress(api.Progress{Completed: int64(len(id)), Total: int64(len(id)), Done: true})
	return nil
}

type harness struct {
	t       *testing.T
	session *Session
	fetcher *fakeFetcher
	list    *playlist.Playlist

	mu      sync.Mutex
	engines []*fakeEngine
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{t: t, fetcher: &fakeFetcher{}, list: playlist.New()}

	var res []api.ResourceDescriptor
	for _, id := range []string{"a", "b", "c"} {
		res = append(res, api.ResourceDescriptor{ID: id, Source: api.SourceNetwork, RemoteURL: "http://x/" + id})
	}
	if err := h.list.Reset(res, 0, nil); err != nil {
		t.Fatal(err)
	}

	factory := func() (api.Engine, error) {
		e := newFakeEngine()
		h.mu.Lock()
		h.engines = append(h.engines, e)
		h.mu.Unlock()
		return e, nil
	}
	opts = append([]Option{WithPollInterval(10 * time.Millisecond)}, opts...)
	h.session = New(h.list, h.fetcher, factory, opts...)
	t.Cleanup(func() { h.session.Close() })
	return h
}

func (h *harness) engine(i int) *fakeEngine {
	h.t.Helper()
	waitFor(h.t, "engine created", func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.engines) > i
	})
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.engines[i]
}

func (h *harness) waitStatus(want api.PlaybackStatus) {
	h.t.Helper()
	waitFor(h.t, "status "+want.String(), func() bool {
		return h.session.Snapshot().Status == want
	})
}

// playReady plays id and drives its engine to ready
func (h *harness) playReady(id string, engineIndex int) *fakeEngine {
	h.t.Helper()
	if err := h.session.Play(id); err != nil {
		h.t.Fatalf("Play(%s): %v", id, err)
	}
	e := h.engine(engineIndex)
	e.emit(api.EngineEvent{Type: api.EngineReady})
	return e
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestPlay_LoadingThenPlaying(t *testing.T) {
	h := newHarness(t)
	states := h.session.Subscribe(api.EventStateChange)

	if err := h.session.Play("b"); err != nil {
		t.Fatal(err)
	}
	if got := h.session.Snapshot(); got.Status != api.StatusLoading || got.Resource == nil || got.Resource.ID != "b" {
		t.Fatalf("after Play snapshot = %+v", got)
	}

	e := h.engine(0)
	waitFor(t, "bytes ingested", func() bool { return e.data() == "b" })
	waitFor(t, "finish", func() bool {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.finished && e.finishErr == nil
	})

	e.emit(api.EngineEvent{Type: api.EngineReady})
	h.waitStatus(api.StatusPlaying)
	if !e.isPlaying() {
		t.Error("engine not started on ready")
	}
	if h.session.Snapshot().Duration != time.Minute {
		t.Errorf("Duration = %v", h.session.Snapshot().Duration)
	}

	var seen []api.PlaybackStatus
	for len(seen) < 2 {
		select {
		case ev := <-states:
			seen = append(seen, ev.Payload.(api.PlaybackState).Status)
		case <-time.After(time.Second):
			t.Fatalf("state events = %v", seen)
		}
	}
	if seen[0] != api.StatusLoading || seen[1] != api.StatusPlaying {
		t.Errorf("state events = %v", seen)
	}
	if idx := h.list.Index(); idx != 1 {
		t.Errorf("playlist index = %d, want 1", idx)
	}
}

func TestPlay_UnknownResource(t *testing.T) {
	h := newHarness(t)
	if err := h.session.Play("nope"); !errors.Is(err, playerrors.ErrNoSuchResource) {
		t.Errorf("Play error = %v, want ErrNoSuchResource", err)
	}
	if h.session.Snapshot().Status != api.StatusIdle {
		t.Errorf("status = %s, want idle", h.session.Snapshot().Status)
	}
}

func TestToggle(t *testing.T) {
	h := newHarness(t)

	if err := h.session.Toggle(); !errors.Is(err, playerrors.ErrNotReady) {
		t.Errorf("Toggle while idle = %v, want ErrNotReady", err)
	}

	if err := h.session.Play("a"); err != nil {
		t.Fatal(err)
	}
	if err := h.session.Toggle(); !errors.Is(err, playerrors.ErrNotReady) {
		t.Errorf("Toggle while loading = %v, want ErrNotReady", err)
	}

	e := h.engine(0)
	e.emit(api.EngineEvent{Type: api.EngineReady})
	h.waitStatus(api.StatusPlaying)

	if err := h.session.Toggle(); err != nil {
		t.Fatal(err)
	}
	if h.session.Snapshot().Status != api.StatusPaused || e.isPlaying() {
		t.Error("toggle did not pause")
	}
	if err := h.session.Toggle(); err != nil {
		t.Fatal(err)
	}
	if h.session.Snapshot().Status != api.StatusPlaying || !e.isPlaying() {
		t.Error("toggle did not resume")
	}
}

func TestPauseIntentCarriesToNextResource(t *testing.T) {
	h := newHarness(t)
	h.playReady("a", 0)
	h.waitStatus(api.StatusPlaying)

	if err := h.session.Toggle(); err != nil {
		t.Fatal(err)
	}
	if err := h.session.Next(); err != nil {
		t.Fatal(err)
	}
	e := h.engine(1)
	e.emit(api.EngineEvent{Type: api.EngineReady})
	h.waitStatus(api.StatusPaused)

	if e.isPlaying() {
		t.Error("engine started despite pause intent")
	}
	if got := h.session.Snapshot().Resource.ID; got != "b" {
		t.Errorf("resource = %q, want b", got)
	}
}

func TestPlayDuringLoadingDiscardsOldBytes(t *testing.T) {
	h := newHarness(t)
	release := make(chan struct{})
	aStarted := make(chan struct{})

	// a keeps delivering after cancellation, like a transport that has
	// already buffered data
	h.fetcher.set("a", func(ctx context.Context, fh fetch.Handlers) error {
		fh.OnBytes([]byte("a1"))
		close(aStarted)
		<-release
		fh.OnBytes([]byte("a2"))
		fh.OnProgress(api.Progress{Completed: 4, Total: 4, Done: true})
		return nil
	})

	if err := h.session.Play("a"); err != nil {
		t.Fatal(err)
	}
	engineA := h.engine(0)
	<-aStarted

	if err := h.session.Play("b"); err != nil {
		t.Fatal(err)
	}
	engineB := h.engine(1)
	close(release)

	waitFor(t, "b bytes", func() bool { return engineB.data() == "b" })
	if strings.Contains(engineB.data(), "a") {
		t.Errorf("engine b received bytes from a: %q", engineB.data())
	}
	if engineA.data() != "a1" {
		t.Errorf("engine a data = %q, want only a1", engineA.data())
	}
	if !engineA.isClosed() {
		t.Error("engine a not closed")
	}

	// A stale ready from a must not move the session
	engineA.emit(api.EngineEvent{Type: api.EngineReady})
	time.Sleep(20 * time.Millisecond)
	if s := h.session.Snapshot(); s.Status != api.StatusLoading || s.Resource.ID != "b" {
		t.Errorf("snapshot = %s %s, want loading b", s.Status, s.Resource.ID)
	}
}

func TestLoadingErrorEntersErrorState(t *testing.T) {
	h := newHarness(t)
	errs := h.session.Subscribe(api.EventError)

	boom := errors.New("network down")
	h.fetcher.set("a", func(ctx context.Context, fh fetch.Handlers) error {
		err := playerrors.NewFetchError(playerrors.StageStream, "a", boom)
		fh.OnError(err)
		return err
	})

	if err := h.session.Play("a"); err != nil {
		t.Fatal(err)
	}
	e := h.engine(0)
	h.waitStatus(api.StatusError)

	snap := h.session.Snapshot()
	if !errors.Is(snap.Err, boom) {
		t.Errorf("snapshot Err = %v", snap.Err)
	}
	if !e.isClosed() {
		t.Error("engine not released after loading error")
	}

	select {
	case ev := <-errs:
		if !errors.Is(ev.Payload.(error), boom) {
			t.Errorf("error event = %v", ev.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("no error event")
	}
	select {
	case ev := <-errs:
		t.Errorf("stream error reported twice: %v", ev.Payload)
	case <-time.After(30 * time.Millisecond):
	}

	if err := h.session.Toggle(); !errors.Is(err, playerrors.ErrNotReady) {
		t.Errorf("Toggle in error state = %v", err)
	}

	// Retrying with a fresh play works
	h.fetcher.set("a", nil)
	h.playReady("a", 1)
	h.waitStatus(api.StatusPlaying)
	if h.session.Snapshot().Err != nil {
		t.Error("error not cleared after successful play")
	}
}

func TestLyricErrorDoesNotChangeState(t *testing.T) {
	h := newHarness(t)
	errs := h.session.Subscribe(api.EventError)

	h.fetcher.set("a", func(ctx context.Context, fh fetch.Handlers) error {
		fh.OnError(playerrors.NewFetchError(playerrors.StageLyric, "a", errors.New("no lyric")))
		fh.OnBytes([]byte("a"))
		return nil
	})

	h.playReady("a", 0)
	h.waitStatus(api.StatusPlaying)

	select {
	case ev := <-errs:
		if playerrors.IsFatal(ev.Payload.(error)) {
			t.Errorf("lyric error marked fatal: %v", ev.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("lyric error not published")
	}
}

func TestDeferredSeekBuffers(t *testing.T) {
	h := newHarness(t)
	e := h.playReady("a", 0)
	h.waitStatus(api.StatusPlaying)

	e.mu.Lock()
	e.seekResult = api.SeekDeferred
	e.mu.Unlock()

	if err := h.session.Seek(30 * time.Second); err != nil {
		t.Fatal(err)
	}
	snap := h.session.Snapshot()
	if snap.Status != api.StatusBuffering || !snap.Buffering() {
		t.Fatalf("status = %s, want buffering", snap.Status)
	}

	// The position timer is suspended while buffering
	e.setPos(2 * time.Second)
	time.Sleep(40 * time.Millisecond)
	if got := h.session.Snapshot().Position; got != 30*time.Second {
		t.Errorf("position moved while buffering: %v", got)
	}

	e.emit(api.EngineEvent{Type: api.EngineSeekCompleted, Time: 30 * time.Second})
	h.waitStatus(api.StatusPlaying)

	e.setPos(31 * time.Second)
	waitFor(t, "timer resumed", func() bool {
		return h.session.Snapshot().Position == 31*time.Second
	})
}

func TestImmediateSeekReturnsToPaused(t *testing.T) {
	h := newHarness(t, WithResumeAfterSeek(false))
	e := h.playReady("a", 0)
	h.waitStatus(api.StatusPlaying)

	if err := h.session.Toggle(); err != nil {
		t.Fatal(err)
	}
	if err := h.session.Seek(10 * time.Second); err != nil {
		t.Fatal(err)
	}
	if got := h.session.Snapshot().Status; got != api.StatusSeeking {
		t.Fatalf("status = %s, want seeking", got)
	}
	if err := h.session.Toggle(); !errors.Is(err, playerrors.ErrNotReady) {
		t.Errorf("Toggle while seeking = %v", err)
	}

	e.emit(api.EngineEvent{Type: api.EngineSeekCompleted, Time: 10 * time.Second})
	h.waitStatus(api.StatusPaused)
	if e.isPlaying() {
		t.Error("engine resumed after seek")
	}
}

func TestSeekResumesByDefault(t *testing.T) {
	h := newHarness(t)
	e := h.playReady("a", 0)
	h.waitStatus(api.StatusPlaying)
	h.session.Toggle()

	if err := h.session.Seek(2 * time.Hour); err != nil {
		t.Fatal(err)
	}
	e.mu.Lock()
	last := e.seeks[len(e.seeks)-1]
	e.mu.Unlock()
	if last != time.Minute {
		t.Errorf("seek target = %v, want clamped to duration", last)
	}

	e.emit(api.EngineEvent{Type: api.EngineSeekCompleted, Time: time.Minute})
	h.waitStatus(api.StatusPlaying)
	if !e.isPlaying() {
		t.Error("engine not resumed after seek")
	}
}

func TestUnderrunBuffersAndRecovers(t *testing.T) {
	h := newHarness(t)
	e := h.playReady("a", 0)
	h.waitStatus(api.StatusPlaying)

	e.setPos(5 * time.Second)
	waitFor(t, "position polled", func() bool {
		return h.session.Snapshot().Position == 5*time.Second
	})

	e.emit(api.EngineEvent{Type: api.EngineBufferingChanged, Buffering: true})
	h.waitStatus(api.StatusBuffering)
	if !h.session.Snapshot().Buffering() {
		t.Error("Buffering() = false while stalled")
	}

	// Polling is suspended until data arrives
	e.setPos(6 * time.Second)
	time.Sleep(40 * time.Millisecond)
	if got := h.session.Snapshot().Position; got != 5*time.Second {
		t.Errorf("position moved while stalled: %v", got)
	}

	e.emit(api.EngineEvent{Type: api.EngineBufferingChanged, Buffering: false})
	h.waitStatus(api.StatusPlaying)
	e.setPos(7 * time.Second)
	waitFor(t, "polling resumed", func() bool {
		return h.session.Snapshot().Position == 7*time.Second
	})
}

func TestUnderrunToggleAndSeek(t *testing.T) {
	tests := []struct {
		name string
		act  func(h *harness, e *fakeEngine) error
		want api.PlaybackStatus
	}{
		{
			name: "toggle pauses",
			act: func(h *harness, e *fakeEngine) error {
				return h.session.Toggle()
			},
			want: api.StatusPaused,
		},
		{
			name: "seek resumes playing",
			act: func(h *harness, e *fakeEngine) error {
				if err := h.session.Seek(10 * time.Second); err != nil {
					return err
				}
				e.emit(api.EngineEvent{Type: api.EngineSeekCompleted, Time: 10 * time.Second})
				return nil
			},
			want: api.StatusPlaying,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, WithResumeAfterSeek(false))
			e := h.playReady("a", 0)
			h.waitStatus(api.StatusPlaying)
			e.emit(api.EngineEvent{Type: api.EngineBufferingChanged, Buffering: true})
			h.waitStatus(api.StatusBuffering)

			if err := tt.act(h, e); err != nil {
				t.Fatal(err)
			}
			h.waitStatus(tt.want)

			// A late recovery no longer changes the state
			e.emit(api.EngineEvent{Type: api.EngineBufferingChanged, Buffering: false})
			time.Sleep(20 * time.Millisecond)
			if got := h.session.Snapshot().Status; got != tt.want {
				t.Errorf("status = %s after recovery, want %s", got, tt.want)
			}
		})
	}
}

func TestUnderrunIgnoredWhilePaused(t *testing.T) {
	h := newHarness(t)
	e := h.playReady("a", 0)
	h.waitStatus(api.StatusPlaying)
	if err := h.session.Toggle(); err != nil {
		t.Fatal(err)
	}

	e.emit(api.EngineEvent{Type: api.EngineBufferingChanged, Buffering: true})
	time.Sleep(20 * time.Millisecond)
	if got := h.session.Snapshot().Status; got != api.StatusPaused {
		t.Errorf("status = %s, want paused", got)
	}
}

func TestSeekNotReady(t *testing.T) {
	h := newHarness(t)
	if err := h.session.Seek(time.Second); !errors.Is(err, playerrors.ErrNotReady) {
		t.Errorf("Seek while idle = %v", err)
	}
}

func TestEngineErrorTearsDown(t *testing.T) {
	h := newHarness(t)
	e := h.playReady("a", 0)
	h.waitStatus(api.StatusPlaying)

	e.emit(api.EngineEvent{Type: api.EngineError, Err: errors.New("decode failed")})
	h.waitStatus(api.StatusError)

	if !errors.Is(h.session.Snapshot().Err, playerrors.ErrEngine) {
		t.Errorf("Err = %v, want ErrEngine", h.session.Snapshot().Err)
	}
	if !e.isClosed() {
		t.Error("engine not closed after error")
	}
	if got := h.session.Snapshot().Resource.ID; got != "a" {
		t.Errorf("resource = %q; session must not auto-advance", got)
	}
}

func TestQueueStoppedEndsTrack(t *testing.T) {
	h := newHarness(t)
	ended := h.session.Subscribe(api.EventTrackEnded)
	e := h.playReady("a", 0)
	h.waitStatus(api.StatusPlaying)

	e.emit(api.EngineEvent{Type: api.EngineQueueStatusChanged, Status: api.QueueStopped})
	h.waitStatus(api.StatusPaused)

	select {
	case ev := <-ended:
		if ev.Payload.(api.ResourceDescriptor).ID != "a" {
			t.Errorf("track ended payload = %+v", ev.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("no track ended event")
	}
	if got := h.session.Snapshot().Resource.ID; got != "a" {
		t.Errorf("resource = %q, want a", got)
	}
}

func TestPositionPollingAndDragging(t *testing.T) {
	h := newHarness(t)
	e := h.playReady("a", 0)
	h.waitStatus(api.StatusPlaying)

	e.setPos(3 * time.Second)
	waitFor(t, "position 3s", func() bool { return h.session.Snapshot().Position == 3*time.Second })

	if err := h.session.SetDragging(true); err != nil {
		t.Fatal(err)
	}
	e.setPos(7 * time.Second)
	time.Sleep(40 * time.Millisecond)
	if got := h.session.Snapshot().Position; got != 3*time.Second {
		t.Errorf("position updated while dragging: %v", got)
	}
	if !e.isPlaying() {
		t.Error("dragging paused playback")
	}

	h.session.SetDragging(false)
	waitFor(t, "position 7s", func() bool { return h.session.Snapshot().Position == 7*time.Second })
}

func TestNextPreviousSetLoadMode(t *testing.T) {
	h := newHarness(t)
	h.playReady("a", 0)

	if err := h.session.Previous(); err != nil {
		t.Fatal(err)
	}
	if got := h.session.Snapshot().Resource.ID; got != "c" {
		t.Errorf("after Previous resource = %q, want c", got)
	}

	if err := h.session.SetLoadMode(api.LoadRepeatOne); err != nil {
		t.Fatal(err)
	}
	if got := h.session.Snapshot().Resource.ID; got != "c" {
		t.Errorf("SetLoadMode changed resource to %q", got)
	}
	if err := h.session.Next(); err != nil {
		t.Fatal(err)
	}
	if got := h.session.Snapshot().Resource.ID; got != "c" {
		t.Errorf("repeat-one Next resource = %q, want c", got)
	}
}

func TestDescriptorAndProgressUpdates(t *testing.T) {
	h := newHarness(t)
	all := h.session.SubscribeAll()

	h.fetcher.set("a", func(ctx context.Context, fh fetch.Handlers) error {
		fh.OnBytes([]byte("a"))
		fh.OnProgress(api.Progress{Completed: 1, Total: 2})
		fh.OnDescriptorUpdate(api.ResourceDescriptor{ID: "a", Source: api.SourceCache, ContentHash: "ff"})
		return nil
	})
	if err := h.session.Play("a"); err != nil {
		t.Fatal(err)
	}

	var gotProgress, gotDesc bool
	deadline := time.After(2 * time.Second)
	for !gotProgress || !gotDesc {
		select {
		case ev := <-all:
			switch ev.Type {
			case api.EventProgress:
				gotProgress = ev.Payload.(api.Progress).Completed == 1
			case api.EventDescriptorUpdate:
				gotDesc = ev.Payload.(api.ResourceDescriptor).Source == api.SourceCache
			}
		case <-deadline:
			t.Fatalf("progress=%v descriptor=%v", gotProgress, gotDesc)
		}
	}

	waitFor(t, "snapshot updated", func() bool {
		s := h.session.Snapshot()
		return s.Resource.ContentHash == "ff" && s.Progress.Fraction() == 0.5
	})
}

func TestClose(t *testing.T) {
	h := newHarness(t)
	e := h.playReady("a", 0)
	h.waitStatus(api.StatusPlaying)

	if err := h.session.Close(); err != nil {
		t.Fatal(err)
	}
	if !e.isClosed() {
		t.Error("engine not closed on session close")
	}
	if err := h.session.Play("a"); !errors.Is(err, playerrors.ErrSessionClosed) {
		t.Errorf("Play after Close = %v, want ErrSessionClosed", err)
	}
	if err := h.session.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
