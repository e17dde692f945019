//go:build !unix

package store

import "io/fs"

func allocatedSize(info fs.FileInfo) int64 {
	return info.Size()
}
