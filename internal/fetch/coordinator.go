package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jscyril/music_stream_engine/api"
	"github.com/jscyril/music_stream_engine/internal/logging"
	"github.com/jscyril/music_stream_engine/internal/store"
	playerrors "github.com/jscyril/music_stream_engine/pkg/errors"
)

// Resolver maps resource ids to their descriptors and records updates
type Resolver interface {
	Lookup(id api.ResourceIdentifier) (api.ResourceDescriptor, bool)
	Update(desc api.ResourceDescriptor) bool
}

// ContentStore is the cache the coordinator reads from and commits to
type ContentStore interface {
	GetFrom(ctx context.Context, source api.ResourceSource, hash string) ([]byte, error)
	Put(ctx context.Context, hash string, data []byte, meta api.ResourceDescriptor) error
	Lookup(id api.ResourceIdentifier) (api.ResourceDescriptor, bool)
}

// Handlers receive the output of a single fetch. Any of them may be nil.
// They are called from background goroutines; OnBytes calls arrive in
// stream order.
type Handlers struct {
	OnBytes            func([]byte)
	OnProgress         func(api.Progress)
	OnDescriptorUpdate func(api.ResourceDescriptor)
	OnError            func(error)
}

func (h Handlers) bytes(p []byte) {
	if h.OnBytes != nil {
		h.OnBytes(p)
	}
}

func (h Handlers) progress(p api.Progress) {
	if h.OnProgress != nil {
		h.OnProgress(p)
	}
}

func (h Handlers) descriptor(d api.ResourceDescriptor) {
	if h.OnDescriptorUpdate != nil {
		h.OnDescriptorUpdate(d)
	}
}

func (h Handlers) error(err error) {
	if h.OnError != nil {
		h.OnError(err)
	}
}

// lyricResponse is the lyric metadata document
type lyricResponse struct {
	Lrc struct {
		Lyric string `json:"lyric"`
	} `json:"lrc"`
}

// Coordinator resolves where a resource's bytes come from, streams them
// to the caller and commits completed network downloads to the store.
type Coordinator struct {
	resolver  Resolver
	store     ContentStore
	transport api.Transport
	lyricURL  func(api.ResourceIdentifier) string
	logger    *zap.Logger

	mu       sync.Mutex
	inFlight map[api.ResourceIdentifier]struct{}
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithLogger sets the coordinator's logger
func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithLyricURL sets how lyric document URLs are built. Lyrics are not
// fetched when the function is nil or returns "".
func WithLyricURL(fn func(api.ResourceIdentifier) string) Option {
	return func(c *Coordinator) { c.lyricURL = fn }
}

// NewCoordinator creates a fetch coordinator
func NewCoordinator(resolver Resolver, st ContentStore, transport api.Transport, opts ...Option) *Coordinator {
	c := &Coordinator{
		resolver:  resolver,
		store:     st,
		transport: transport,
		inFlight:  make(map[api.ResourceIdentifier]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.OrNop(c.logger).Named("fetch")
	return c
}

func (c *Coordinator) acquire(id api.ResourceIdentifier) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.inFlight[id]; busy {
		return false
	}
	c.inFlight[id] = struct{}{}
	return true
}

func (c *Coordinator) release(id api.ResourceIdentifier) {
	c.mu.Lock()
	delete(c.inFlight, id)
	c.mu.Unlock()
}

// InFlight reports whether a fetch for id is running
func (c *Coordinator) InFlight(id api.ResourceIdentifier) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, busy := c.inFlight[id]
	return busy
}

// Fetch delivers the bytes of resource id through h and blocks until
// delivery and any cache commit have finished. Lyrics are fetched alongside
// when missing. Every failure is reported to OnError; the returned error is
// the outcome of byte delivery alone. Cancellation of ctx is returned but
// not reported.
func (c *Coordinator) Fetch(ctx context.Context, id api.ResourceIdentifier, h Handlers) error {
	if !c.acquire(id) {
		return fmt.Errorf("%w: %s", playerrors.ErrAlreadyInFlight, id)
	}
	defer c.release(id)

	desc, ok := c.resolve(id, h)
	if !ok {
		err := playerrors.NewFetchError(playerrors.StageStream, id, playerrors.ErrNoSuchResource)
		h.error(err)
		return err
	}

	if desc.Source == api.SourceNetwork {
		if err := validateURL(desc.RemoteURL); err != nil {
			err = playerrors.NewFetchError(playerrors.StageStream, id, err)
			h.error(err)
			return err
		}
	}

	f := &fetch{c: c, h: h, desc: desc}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return f.deliver(gctx)
	})
	if desc.LyricText == "" && c.lyricURL != nil {
		if lyricURL := c.lyricURL(id); lyricURL != "" {
			g.Go(func() error {
				f.lyric(gctx, lyricURL)
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			c.logger.Debug("fetch cancelled", zap.String("resource", id))
			return ctx.Err()
		}
		c.logger.Warn("fetch failed", zap.String("resource", id), zap.Error(err))
		err = playerrors.NewFetchError(playerrors.StageStream, id, err)
		h.error(err)
		return err
	}

	if desc.Source == api.SourceNetwork {
		// The bytes are complete, so the commit outlives cancellation
		f.commit(context.WithoutCancel(ctx))
	}
	return nil
}

// resolve looks id up and adopts a cached copy of network resources
func (c *Coordinator) resolve(id api.ResourceIdentifier, h Handlers) (api.ResourceDescriptor, bool) {
	desc, ok := c.resolver.Lookup(id)
	if !ok {
		return api.ResourceDescriptor{}, false
	}
	if desc.Source != api.SourceNetwork || c.store == nil {
		return desc, true
	}

	cached, hit := c.store.Lookup(id)
	if !hit || cached.ContentHash == "" {
		return desc, true
	}

	desc.Source = cached.Source
	desc.ContentHash = cached.ContentHash
	if desc.LyricText == "" {
		desc.LyricText = cached.LyricText
	}
	if desc.CoverArtURL == "" {
		desc.CoverArtURL = cached.CoverArtURL
	}
	c.resolver.Update(desc)
	h.descriptor(desc)
	c.logger.Debug("using stored copy", zap.String("resource", id), zap.Stringer("source", desc.Source))
	return desc, true
}

func validateURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("%w: empty url", playerrors.ErrInvalidURL)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", playerrors.ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: unsupported scheme %q", playerrors.ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", playerrors.ErrInvalidURL)
	}
	return nil
}

// fetch is the state of one Fetch call
type fetch struct {
	c *Coordinator
	h Handlers

	mu   sync.Mutex
	desc api.ResourceDescriptor
	buf  bytes.Buffer
}

func (f *fetch) snapshot() api.ResourceDescriptor {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.desc
}

// deliver streams the resource bytes to OnBytes
func (f *fetch) deliver(ctx context.Context) error {
	desc := f.snapshot()

	if desc.Source != api.SourceNetwork {
		return f.deliverLocal(ctx, desc)
	}

	return f.c.transport.Stream(ctx, desc.RemoteURL,
		func(chunk []byte) {
			f.buf.Write(chunk)
			f.h.bytes(chunk)
		},
		f.h.progress)
}

func (f *fetch) deliverLocal(ctx context.Context, desc api.ResourceDescriptor) error {
	if desc.ContentHash == "" || f.c.store == nil {
		return fmt.Errorf("%w: no content hash for %s", playerrors.ErrInvalidLocalData, desc.ID)
	}

	data, err := f.c.store.GetFrom(ctx, desc.Source, desc.ContentHash)
	if err != nil {
		if errors.Is(err, playerrors.ErrNotFound) {
			return fmt.Errorf("%w: %v", playerrors.ErrInvalidLocalData, err)
		}
		return err
	}
	if len(data) == 0 {
		return fmt.Errorf("%w: empty blob %s", playerrors.ErrInvalidLocalData, desc.ContentHash)
	}

	size := int64(len(data))
	f.h.bytes(data)
	f.h.progress(api.Progress{Completed: size, Total: size, Done: true})
	return nil
}

// lyric fetches the lyric document. Failures are reported but never end
// the fetch.
func (f *fetch) lyric(ctx context.Context, lyricURL string) {
	id := f.snapshot().ID

	var resp lyricResponse
	if err := f.c.transport.FetchJSON(ctx, lyricURL, &resp); err != nil {
		if ctx.Err() != nil {
			return
		}
		f.c.logger.Debug("lyric fetch failed", zap.String("resource", id), zap.Error(err))
		f.h.error(playerrors.NewFetchError(playerrors.StageLyric, id, err))
		return
	}
	if resp.Lrc.Lyric == "" {
		return
	}

	f.mu.Lock()
	f.desc.LyricText = resp.Lrc.Lyric
	desc := f.desc
	f.mu.Unlock()

	f.c.resolver.Update(desc)
	f.h.descriptor(desc)
}

// commit writes a completed network download to the store and marks the
// resource as cached
func (f *fetch) commit(ctx context.Context) {
	desc := f.snapshot()
	if f.c.store == nil {
		return
	}

	data := f.buf.Bytes()
	hash := store.ContentHash(desc.ID, data)
	if err := f.c.store.Put(ctx, hash, data, desc); err != nil {
		f.c.logger.Warn("cache commit failed", zap.String("resource", desc.ID), zap.Error(err))
		f.h.error(playerrors.NewFetchError(playerrors.StageCache, desc.ID, err))
		return
	}

	desc.ContentHash = hash
	desc.Source = api.SourceCache
	f.mu.Lock()
	f.desc = desc
	f.mu.Unlock()

	f.c.resolver.Update(desc)
	f.h.descriptor(desc)
	f.c.logger.Info("resource cached",
		zap.String("resource", desc.ID),
		zap.String("hash", hash),
		zap.Int("bytes", len(data)))
}
