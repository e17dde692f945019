package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/jscyril/music_stream_engine/api"
	"github.com/jscyril/music_stream_engine/internal/dispatch"
	"github.com/jscyril/music_stream_engine/internal/logging"
	playerrors "github.com/jscyril/music_stream_engine/pkg/errors"
)

const (
	cacheDirName    = "Cache"
	downloadDirName = "Download"
	infoExt         = ".info"
)

// entryInfo is the sidecar record written next to every blob
type entryInfo struct {
	ID     string `json:"id"`
	Hash   string `json:"md5"`
	Name   string `json:"name,omitempty"`
	PicURL string `json:"picUrl,omitempty"`
	Lyric  string `json:"lyric,omitempty"`
}

func infoFromDescriptor(hash string, d api.ResourceDescriptor) entryInfo {
	return entryInfo{
		ID:     d.ID,
		Hash:   hash,
		Name:   d.DisplayName,
		PicURL: d.CoverArtURL,
		Lyric:  d.LyricText,
	}
}

func (e entryInfo) descriptor(source api.ResourceSource) api.ResourceDescriptor {
	return api.ResourceDescriptor{
		ID:          e.ID,
		DisplayName: e.Name,
		ContentHash: e.Hash,
		Source:      source,
		CoverArtURL: e.PicURL,
		LyricText:   e.Lyric,
	}
}

// Store is a directory-rooted content cache keyed by content hash.
// It keeps fetched resources under Cache/ and user downloads under Download/.
type Store struct {
	root        string
	cacheDir    string
	downloadDir string
	workers     int
	logger      *zap.Logger
	ioQueue     *dispatch.Serial

	// clearMu lets writers run concurrently while Clear runs alone
	clearMu sync.RWMutex

	locksMu sync.Mutex
	locks   map[string]*hashLock

	mu        sync.RWMutex
	cached    map[api.ResourceIdentifier]api.ResourceDescriptor
	downloads map[api.ResourceIdentifier]api.ResourceDescriptor
}

type hashLock struct {
	mu   sync.Mutex
	refs int
}

// Option configures a Store
type Option func(*Store)

// WithLogger sets the store's logger
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithScanWorkers bounds the number of sidecar files parsed concurrently
func WithScanWorkers(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.workers = n
		}
	}
}

// New opens (creating if needed) a store rooted at root
func New(root string, opts ...Option) (*Store, error) {
	s := &Store{
		root:        root,
		cacheDir:    filepath.Join(root, cacheDirName),
		downloadDir: filepath.Join(root, downloadDirName),
		workers:     4,
		locks:       make(map[string]*hashLock),
		cached:      make(map[api.ResourceIdentifier]api.ResourceDescriptor),
		downloads:   make(map[api.ResourceIdentifier]api.ResourceDescriptor),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.OrNop(s.logger).Named("store")

	if err := s.createDirectories(); err != nil {
		return nil, err
	}
	s.ioQueue = dispatch.NewSerial(8)
	return s, nil
}

// Close stops the store's background I/O queue
func (s *Store) Close() {
	s.ioQueue.Close()
}

// CacheDir returns the directory holding fetched resources
func (s *Store) CacheDir() string { return s.cacheDir }

// DownloadDir returns the directory holding downloaded resources
func (s *Store) DownloadDir() string { return s.downloadDir }

func (s *Store) createDirectories() error {
	for _, dir := range []string{s.cacheDir, s.downloadDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("%w: create %s: %v", playerrors.ErrIO, dir, err)
		}
	}
	return nil
}

func validHash(hash string) error {
	if hash == "" || strings.HasPrefix(hash, ".") || strings.ContainsAny(hash, `/\`) ||
		strings.HasSuffix(hash, infoExt) {
		return fmt.Errorf("%w: invalid content hash %q", playerrors.ErrIO, hash)
	}
	return nil
}

func (s *Store) lockHash(hash string) func() {
	s.locksMu.Lock()
	l, ok := s.locks[hash]
	if !ok {
		l = &hashLock{}
		s.locks[hash] = l
	}
	l.refs++
	s.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, hash)
		}
		s.locksMu.Unlock()
	}
}

// Put writes a blob and its sidecar metadata into the cache directory.
// Both files are replaced atomically; an existing entry is overwritten.
func (s *Store) Put(ctx context.Context, hash string, data []byte, meta api.ResourceDescriptor) error {
	if err := validHash(hash); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.clearMu.RLock()
	defer s.clearMu.RUnlock()

	unlock := s.lockHash(hash)
	defer unlock()

	info, err := json.Marshal(infoFromDescriptor(hash, meta))
	if err != nil {
		return fmt.Errorf("%w: marshal sidecar: %v", playerrors.ErrIO, err)
	}

	// The sidecar marks the entry as complete, so the blob goes first
	if err := writeFileAtomic(s.cacheDir, hash, data); err != nil {
		return err
	}
	if err := writeFileAtomic(s.cacheDir, hash+infoExt, info); err != nil {
		return err
	}

	desc := meta
	desc.ContentHash = hash
	desc.Source = api.SourceCache
	s.mu.Lock()
	s.cached[meta.ID] = desc
	s.mu.Unlock()

	s.logger.Debug("cache entry written",
		zap.String("resource", meta.ID),
		zap.String("hash", hash),
		zap.Int("bytes", len(data)))
	return nil
}

func writeFileAtomic(dir, name string, data []byte) error {
	tmp, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: create temp for %s: %v", playerrors.ErrIO, name, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("%w: write %s: %v", playerrors.ErrIO, name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("%w: sync %s: %v", playerrors.ErrIO, name, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("%w: close %s: %v", playerrors.ErrIO, name, err)
	}
	if err := os.Rename(tmpName, filepath.Join(dir, name)); err != nil {
		cleanup()
		return fmt.Errorf("%w: rename %s: %v", playerrors.ErrIO, name, err)
	}
	return nil
}

// Get returns the blob for hash, looking in the cache and then the
// download directory.
func (s *Store) Get(ctx context.Context, hash string) ([]byte, error) {
	data, err := s.GetFrom(ctx, api.SourceCache, hash)
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, playerrors.ErrNotFound) {
		return nil, err
	}
	return s.GetFrom(ctx, api.SourceDownload, hash)
}

// GetFrom reads the blob for hash from the directory backing source
func (s *Store) GetFrom(ctx context.Context, source api.ResourceSource, hash string) ([]byte, error) {
	if err := validHash(hash); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dir := s.cacheDir
	if source == api.SourceDownload {
		dir = s.downloadDir
	}

	data, err := os.ReadFile(filepath.Join(dir, hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", playerrors.ErrNotFound, hash)
		}
		return nil, fmt.Errorf("%w: read %s: %v", playerrors.ErrIO, hash, err)
	}
	return data, nil
}

// Lookup returns the cached or downloaded descriptor known for id
func (s *Store) Lookup(id api.ResourceIdentifier) (api.ResourceDescriptor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if d, ok := s.cached[id]; ok {
		return d, true
	}
	d, ok := s.downloads[id]
	return d, ok
}

// Clear deletes all cached and downloaded content and recreates the empty
// directories.
func (s *Store) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.clearMu.Lock()
	defer s.clearMu.Unlock()

	var firstErr error
	for _, dir := range []string{s.cacheDir, s.downloadDir} {
		if err := os.RemoveAll(dir); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%w: remove %s: %v", playerrors.ErrIO, dir, err)
		}
	}

	s.mu.Lock()
	s.cached = make(map[api.ResourceIdentifier]api.ResourceDescriptor)
	s.downloads = make(map[api.ResourceIdentifier]api.ResourceDescriptor)
	s.mu.Unlock()

	if err := s.createDirectories(); err != nil && firstErr == nil {
		firstErr = err
	}
	if firstErr == nil {
		s.logger.Info("cache cleared", zap.String("root", s.root))
	}
	return firstErr
}

// ClearAsync runs Clear on the store's I/O queue. The channel receives the
// result once and is then closed.
func (s *Store) ClearAsync(ctx context.Context) <-chan error {
	out := make(chan error, 1)
	if !s.ioQueue.Async(func() {
		out <- s.Clear(ctx)
		close(out)
	}) {
		out <- playerrors.ErrIO
		close(out)
	}
	return out
}
