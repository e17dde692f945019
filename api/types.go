package api

import (
	"context"
	"time"
)

// ResourceIdentifier is the opaque, globally unique key of a track
type ResourceIdentifier = string

// ResourceSource tells where a resource's bytes come from
type ResourceSource int

const (
	SourceNetwork ResourceSource = iota
	SourceCache
	SourceDownload
)

func (s ResourceSource) String() string {
	switch s {
	case SourceCache:
		return "cache"
	case SourceDownload:
		return "download"
	default:
		return "network"
	}
}

// ResourceDescriptor describes a single track and where its bytes live.
//
// Source == SourceCache implies ContentHash is set and the blob exists in the
// content store. Source == SourceNetwork requires RemoteURL.
type ResourceDescriptor struct {
	ID          ResourceIdentifier `json:"id"`
	DisplayName string             `json:"name"`
	ContentHash string             `json:"md5,omitempty"`
	Source      ResourceSource     `json:"-"`
	RemoteURL   string             `json:"url,omitempty"`
	CoverArtURL string             `json:"picUrl,omitempty"`
	LyricText   string             `json:"lyric,omitempty"`
}

// LoadMode selects how the playlist walks its resources
type LoadMode int

const (
	LoadOrder LoadMode = iota
	LoadShuffle
	LoadRepeatOne
)

func (m LoadMode) String() string {
	switch m {
	case LoadShuffle:
		return "shuffle"
	case LoadRepeatOne:
		return "repeat-one"
	default:
		return "order"
	}
}

// ParseLoadMode maps a user-facing name onto a LoadMode
func ParseLoadMode(s string) (LoadMode, bool) {
	switch s {
	case "order", "":
		return LoadOrder, true
	case "shuffle", "random":
		return LoadShuffle, true
	case "repeat-one", "single":
		return LoadRepeatOne, true
	}
	return LoadOrder, false
}

// Progress reports how many bytes of a resource have arrived.
// Total is -1 when the length is unknown. Done marks the last event of a
// successful byte stream.
type Progress struct {
	Completed int64
	Total     int64
	Done      bool
}

// Fraction returns completion in [0,1], or 0 when the total is unknown
func (p Progress) Fraction() float64 {
	if p.Total <= 0 {
		if p.Done {
			return 1
		}
		return 0
	}
	f := float64(p.Completed) / float64(p.Total)
	if f > 1 {
		return 1
	}
	return f
}

// Transport is the network collaborator. Each request either streams to
// completion and returns nil, or returns a terminal error.
type Transport interface {
	Stream(ctx context.Context, url string, onChunk func([]byte), onProgress func(Progress)) error
	FetchJSON(ctx context.Context, url string, v any) error
}

// PlaybackStatus is the state of a playback session
type PlaybackStatus int

const (
	StatusIdle PlaybackStatus = iota
	StatusLoading
	StatusPlaying
	StatusPaused
	StatusSeeking
	StatusBuffering
	StatusError
)

func (s PlaybackStatus) String() string {
	switch s {
	case StatusLoading:
		return "loading"
	case StatusPlaying:
		return "playing"
	case StatusPaused:
		return "paused"
	case StatusSeeking:
		return "seeking"
	case StatusBuffering:
		return "buffering"
	case StatusError:
		return "error"
	default:
		return "idle"
	}
}

// PlaybackState is a point-in-time view of a session
type PlaybackState struct {
	Status   PlaybackStatus
	Resource *ResourceDescriptor
	Position time.Duration
	Duration time.Duration
	Progress Progress
	Dragging bool
	Err      error
}

// Buffering reports whether the session is waiting for data
func (s PlaybackState) Buffering() bool {
	return s.Status == StatusBuffering || s.Status == StatusLoading
}

// SeekResult tells whether an engine serviced a seek right away
type SeekResult int

const (
	SeekImmediate SeekResult = iota
	SeekDeferred
)

// QueueStatus is the engine's output queue state
type QueueStatus int

const (
	QueuePlaying QueueStatus = iota
	QueuePaused
	QueueStopped
)

func (q QueueStatus) String() string {
	switch q {
	case QueuePlaying:
		return "playing"
	case QueuePaused:
		return "paused"
	default:
		return "stopped"
	}
}

// EngineEventType identifies engine telemetry
type EngineEventType int

const (
	EngineReady EngineEventType = iota
	EngineQueueStatusChanged
	EngineSeekCompleted
	EngineError
	EngineBufferingChanged
)

// EngineEvent is emitted by an Engine on its Events channel
type EngineEvent struct {
	Type   EngineEventType
	Status QueueStatus
	Time   time.Duration
	Err    error
	// Buffering is set on EngineBufferingChanged while playback has
	// caught up with the ingested data
	Buffering bool
}

// Engine is a decode/render handle bound to exactly one resource.
// Methods are safe for concurrent use. Ingest and Finish after Close are
// ignored. Events is closed by Close.
type Engine interface {
	Ingest(p []byte)
	Finish(err error)
	Play() error
	Pause() error
	Stop() error
	Seek(t time.Duration) (SeekResult, error)
	CurrentTime() time.Duration
	Duration() time.Duration
	Events() <-chan EngineEvent
	Close() error
}

// EngineFactory builds a fresh engine for each played resource
type EngineFactory func() (Engine, error)

// EventType identifies observations published by a session
type EventType int

const (
	EventStateChange EventType = iota
	EventPositionUpdate
	EventProgress
	EventDescriptorUpdate
	EventError
	EventTrackEnded
)

// Event is an observation published to session subscribers
type Event struct {
	Type    EventType
	Payload interface{}
}
