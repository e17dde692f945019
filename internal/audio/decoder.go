package audio

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/faiface/beep"
	"github.com/faiface/beep/flac"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/wav"

	playerrors "github.com/jscyril/music_stream_engine/pkg/errors"
)

// SupportedFormats returns list of supported audio formats
func SupportedFormats() []string {
	return []string{".mp3", ".wav", ".flac"}
}

// IsSupported checks if a file format is supported
func IsSupported(filePath string) bool {
	ext := strings.ToLower(filepath.Ext(filePath))
	for _, format := range SupportedFormats() {
		if ext == format {
			return true
		}
	}
	return false
}

// SniffFormat guesses the container from the first bytes of a resource
// and returns the matching file extension. Unknown data is treated as mp3,
// which tolerates leading junk.
func SniffFormat(header []byte) string {
	switch {
	case bytes.HasPrefix(header, []byte("fLaC")):
		return ".flac"
	case bytes.HasPrefix(header, []byte("RIFF")):
		return ".wav"
	default:
		return ".mp3"
	}
}

// DecodeAudio decodes r as the format named by ext. Seeking works only
// when r also implements io.Seeker.
func DecodeAudio(r io.ReadCloser, ext string) (beep.StreamSeekCloser, beep.Format, error) {
	switch strings.ToLower(ext) {
	case ".mp3":
		return mp3.Decode(r)
	case ".wav":
		return wav.Decode(r)
	case ".flac":
		return flac.Decode(r)
	default:
		return nil, beep.Format{}, fmt.Errorf("%w: %s", playerrors.ErrInvalidFormat, ext)
	}
}

// seekableBytes adapts a complete buffer for DecodeAudio
type seekableBytes struct {
	*bytes.Reader
}

func (seekableBytes) Close() error { return nil }

func newSeekableBytes(data []byte) io.ReadCloser {
	return seekableBytes{bytes.NewReader(data)}
}
