package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions
var (
	ErrNoSuchResource   = errors.New("no such resource")
	ErrInvalidURL       = errors.New("invalid resource url")
	ErrInvalidLocalData = errors.New("invalid local resource data")
	ErrAlreadyInFlight  = errors.New("fetch already in flight")
	ErrIO               = errors.New("cache i/o failed")
	ErrEngine           = errors.New("audio engine failure")
	ErrInvalidIndex     = errors.New("playlist index out of range")
	ErrNotFound         = errors.New("content not found")
	ErrEmptyQueue       = errors.New("playlist is empty")
	ErrNotReady         = errors.New("transport controls not ready")
	ErrInvalidFormat    = errors.New("unsupported audio format")
	ErrInvalidVolume    = errors.New("volume must be between 0.0 and 1.0")
	ErrSessionClosed    = errors.New("playback session closed")
)

// PlayerError wraps errors with additional context
type PlayerError struct {
	Op    string // Operation that failed
	Track string // Track ID if applicable
	Err   error  // Underlying error
}

func (e *PlayerError) Error() string {
	if e.Track != "" {
		return fmt.Sprintf("%s failed for track %s: %v", e.Op, e.Track, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *PlayerError) Unwrap() error {
	return e.Err
}

// NewPlayerError creates a new PlayerError
func NewPlayerError(op, track string, err error) *PlayerError {
	return &PlayerError{Op: op, Track: track, Err: err}
}

// Stage names the part of a fetch that failed
type Stage string

const (
	StageStream Stage = "stream"
	StageLyric  Stage = "lyric"
	StageCache  Stage = "cache"
)

// FetchError is reported through a fetch's error handler.
// Only StageStream failures abort a fetch.
type FetchError struct {
	Stage    Stage
	Resource string
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s for %s: %v", e.Stage, e.Resource, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewFetchError creates a new FetchError
func NewFetchError(stage Stage, resource string, err error) *FetchError {
	return &FetchError{Stage: stage, Resource: resource, Err: err}
}

// IsFatal reports whether err ends the fetch it came from
func IsFatal(err error) bool {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Stage == StageStream
	}
	return err != nil
}
