package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jscyril/music_stream_engine/api"
	playerrors "github.com/jscyril/music_stream_engine/pkg/errors"
)

// ScanResult holds the descriptors found in each store directory
type ScanResult struct {
	Cache    map[api.ResourceIdentifier]api.ResourceDescriptor
	Download map[api.ResourceIdentifier]api.ResourceDescriptor
	Err      error
}

// Len returns the number of resources found in both directories
func (r ScanResult) Len() int {
	return len(r.Cache) + len(r.Download)
}

// Scan reads every entry of the cache and download directories and
// refreshes the store's lookup index. Unreadable entries are skipped.
func (s *Store) Scan(ctx context.Context) (ScanResult, error) {
	// Writers hold the read side, so nothing lands on disk between the
	// directory walk and the index swap
	s.clearMu.Lock()
	defer s.clearMu.Unlock()

	cached, err := s.scanDir(ctx, s.cacheDir, api.SourceCache)
	if err != nil {
		return ScanResult{}, err
	}
	downloads, err := s.scanDir(ctx, s.downloadDir, api.SourceDownload)
	if err != nil {
		return ScanResult{}, err
	}

	s.mu.Lock()
	s.cached = cached
	s.downloads = downloads
	s.mu.Unlock()

	s.logger.Info("store scanned",
		zap.Int("cached", len(cached)),
		zap.Int("downloaded", len(downloads)))

	return ScanResult{Cache: copyIndex(cached), Download: copyIndex(downloads)}, nil
}

// ScanAsync runs Scan on the store's I/O queue and delivers the result on
// the returned channel.
func (s *Store) ScanAsync(ctx context.Context) <-chan ScanResult {
	out := make(chan ScanResult, 1)
	if !s.ioQueue.Async(func() {
		res, err := s.Scan(ctx)
		res.Err = err
		out <- res
		close(out)
	}) {
		out <- ScanResult{Err: playerrors.ErrIO}
		close(out)
	}
	return out
}

func copyIndex(in map[api.ResourceIdentifier]api.ResourceDescriptor) map[api.ResourceIdentifier]api.ResourceDescriptor {
	out := make(map[api.ResourceIdentifier]api.ResourceDescriptor, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// scanDir parses the flat directory dir with a bounded worker pool
func (s *Store) scanDir(ctx context.Context, dir string, source api.ResourceSource) (map[api.ResourceIdentifier]api.ResourceDescriptor, error) {
	found := make(map[api.ResourceIdentifier]api.ResourceDescriptor)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return found, nil
		}
		s.logger.Warn("read store directory", zap.String("dir", dir), zap.Error(err))
		return found, nil
	}

	names := make(map[string]bool, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			names[entry.Name()] = true
		}
	}

	reader := NewMetadataReader()
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for name := range names {
		if strings.HasPrefix(name, ".") {
			continue
		}

		switch {
		case strings.HasSuffix(name, infoExt):
			hash := strings.TrimSuffix(name, infoExt)
			if !names[hash] {
				s.logger.Debug("sidecar without blob", zap.String("file", name))
				continue
			}
			path := filepath.Join(dir, name)
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				desc, err := readSidecar(path, source)
				if err != nil {
					s.logger.Debug("skip unreadable sidecar", zap.String("file", path), zap.Error(err))
					return nil
				}
				mu.Lock()
				found[desc.ID] = desc
				mu.Unlock()
				return nil
			})

		case source == api.SourceDownload && IsAudioFile(name) && !names[name+infoExt]:
			path := filepath.Join(dir, name)
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				desc, err := reader.Read(path)
				if err != nil {
					s.logger.Debug("skip unreadable download", zap.String("file", path), zap.Error(err))
					return nil
				}
				mu.Lock()
				found[desc.ID] = desc
				mu.Unlock()
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return found, nil
}

func readSidecar(path string, source api.ResourceSource) (api.ResourceDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return api.ResourceDescriptor{}, err
	}

	var info entryInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return api.ResourceDescriptor{}, err
	}
	if info.ID == "" {
		return api.ResourceDescriptor{}, playerrors.ErrInvalidLocalData
	}
	// The file name is authoritative for where the blob lives
	info.Hash = strings.TrimSuffix(filepath.Base(path), infoExt)
	return info.descriptor(source), nil
}
