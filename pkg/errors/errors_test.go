package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestPlayerError(t *testing.T) {
	err := NewPlayerError("decode", "track-1", ErrInvalidFormat)

	if !errors.Is(err, ErrInvalidFormat) {
		t.Error("PlayerError should unwrap to its cause")
	}
	want := "decode failed for track track-1: unsupported audio format"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	noTrack := NewPlayerError("speaker_init", "", ErrEngine)
	if noTrack.Error() != "speaker_init failed: audio engine failure" {
		t.Errorf("unexpected message %q", noTrack.Error())
	}
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"stream", NewFetchError(StageStream, "a", ErrInvalidURL), true},
		{"lyric", NewFetchError(StageLyric, "a", errors.New("boom")), false},
		{"cache", NewFetchError(StageCache, "a", ErrIO), false},
		{"wrapped lyric", fmt.Errorf("outer: %w", NewFetchError(StageLyric, "a", ErrIO)), false},
		{"plain", ErrNoSuchResource, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsFatal(tt.err); got != tt.want {
				t.Errorf("IsFatal(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
