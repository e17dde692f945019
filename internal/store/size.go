package store

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// TotalSize sums the allocated size of every non-hidden file under the
// cache and download directories. Entries that cannot be inspected are
// skipped.
func (s *Store) TotalSize(ctx context.Context) (int64, error) {
	var total int64
	for _, dir := range []string{s.cacheDir, s.downloadDir} {
		n, err := s.dirSize(ctx, dir)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// TotalSizeAsync runs TotalSize on the store's I/O queue. The channel
// receives the size (0 on cancellation) and is then closed.
func (s *Store) TotalSizeAsync(ctx context.Context) <-chan int64 {
	out := make(chan int64, 1)
	if !s.ioQueue.Async(func() {
		n, _ := s.TotalSize(ctx)
		out <- n
		close(out)
	}) {
		out <- 0
		close(out)
	}
	return out
}

func (s *Store) dirSize(ctx context.Context, root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if path == root {
				return fs.SkipDir
			}
			s.logger.Debug("skip entry during size scan", zap.String("path", path), zap.Error(err))
			return nil
		}

		if path != root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			s.logger.Debug("skip entry during size scan", zap.String("path", path), zap.Error(err))
			return nil
		}
		total += allocatedSize(info)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}
