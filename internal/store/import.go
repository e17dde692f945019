package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/jscyril/music_stream_engine/api"
	playerrors "github.com/jscyril/music_stream_engine/pkg/errors"
)

// Import copies an audio file into the download directory and indexes it.
// An existing download with the same file name is replaced.
func (s *Store) Import(ctx context.Context, path string) (api.ResourceDescriptor, error) {
	name := filepath.Base(path)
	if !IsAudioFile(name) {
		return api.ResourceDescriptor{}, fmt.Errorf("%w: %s", playerrors.ErrInvalidFormat, name)
	}
	if strings.HasPrefix(name, ".") {
		return api.ResourceDescriptor{}, fmt.Errorf("%w: hidden file %s", playerrors.ErrInvalidLocalData, name)
	}
	if err := ctx.Err(); err != nil {
		return api.ResourceDescriptor{}, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return api.ResourceDescriptor{}, fmt.Errorf("%w: read %s: %v", playerrors.ErrIO, path, err)
	}
	if len(data) == 0 {
		return api.ResourceDescriptor{}, fmt.Errorf("%w: %s is empty", playerrors.ErrInvalidLocalData, name)
	}

	s.clearMu.RLock()
	defer s.clearMu.RUnlock()

	unlock := s.lockHash(name)
	defer unlock()

	if err := writeFileAtomic(s.downloadDir, name, data); err != nil {
		return api.ResourceDescriptor{}, err
	}

	desc, err := NewMetadataReader().Read(filepath.Join(s.downloadDir, name))
	if err != nil {
		return api.ResourceDescriptor{}, fmt.Errorf("%w: %v", playerrors.ErrIO, err)
	}

	s.mu.Lock()
	s.downloads[desc.ID] = desc
	s.mu.Unlock()

	s.logger.Info("download imported",
		zap.String("resource", desc.ID),
		zap.String("file", name),
		zap.Int("bytes", len(data)))
	return desc, nil
}
