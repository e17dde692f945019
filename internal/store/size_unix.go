//go:build unix

package store

import (
	"io/fs"
	"syscall"
)

// allocatedSize returns the bytes the file occupies on disk
func allocatedSize(info fs.FileInfo) int64 {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		return int64(st.Blocks) * 512
	}
	return info.Size()
}
