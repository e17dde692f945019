package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/dhowden/tag"

	"github.com/jscyril/music_stream_engine/api"
)

var audioExtensions = []string{".mp3", ".wav", ".flac"}

// IsAudioFile reports whether name has a playable audio extension
func IsAudioFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range audioExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// MetadataReader describes downloaded audio files that have no sidecar
type MetadataReader struct{}

// NewMetadataReader creates a new metadata reader
func NewMetadataReader() *MetadataReader {
	return &MetadataReader{}
}

// Read builds a download descriptor from the file's embedded tags,
// falling back to its file name.
func (r *MetadataReader) Read(filePath string) (api.ResourceDescriptor, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return api.ResourceDescriptor{}, fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	name := filepath.Base(filePath)
	desc := api.ResourceDescriptor{
		ID:          generateResourceID(name),
		DisplayName: strings.TrimSuffix(name, filepath.Ext(name)),
		ContentHash: name,
		Source:      api.SourceDownload,
	}

	metadata, err := tag.ReadFrom(file)
	if err != nil {
		// Untagged files are still playable
		return desc, nil
	}

	if title := metadata.Title(); title != "" {
		desc.DisplayName = title
		if artist := metadata.Artist(); artist != "" {
			desc.DisplayName = artist + " - " + title
		}
	}
	if lyrics := metadata.Lyrics(); lyrics != "" {
		desc.LyricText = lyrics
	}

	return desc, nil
}

// generateResourceID derives a stable id for a downloaded file
func generateResourceID(fileName string) string {
	return fmt.Sprintf("local-%016x", xxhash.Sum64String(fileName))
}
