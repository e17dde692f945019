package session

import (
	"time"

	"github.com/jscyril/music_stream_engine/api"
)

type commandType int

const (
	cmdPlay commandType = iota
	cmdToggle
	cmdSeek
	cmdNext
	cmdPrevious
	cmdSetLoadMode
	cmdSetDragging
)

// command is a caller request executed on the session loop
type command struct {
	Type  commandType
	ID    api.ResourceIdentifier
	Time  time.Duration
	Mode  api.LoadMode
	Flag  bool
	reply chan error
}

// Asynchronous results, tagged with the generation of the play that
// started them.

type engineEvent struct {
	gen   uint64
	event api.EngineEvent
}

type fetchProgress struct {
	gen      uint64
	progress api.Progress
}

type fetchDescriptor struct {
	gen  uint64
	desc api.ResourceDescriptor
}

type fetchFailed struct {
	gen uint64
	err error
}

type fetchFinished struct {
	gen uint64
	err error
}
