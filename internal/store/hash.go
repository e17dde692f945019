package store

import (
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/jscyril/music_stream_engine/api"
)

// ContentHash derives the cache key for a resource's bytes. The id is mixed
// in so identical payloads served for different resources stay separate.
func ContentHash(id api.ResourceIdentifier, data []byte) string {
	d := xxhash.New()
	d.WriteString(id)
	d.Write([]byte{0})
	d.Write(data)
	return fmt.Sprintf("%016x", d.Sum64())
}
