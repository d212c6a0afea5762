package edge

import (
	"errors"
)

// ErrAborted is returned from the Edge interface when operations are performed on the edge after it has been aborted.
var ErrAborted = errors.New("edge aborted")

// ErrNotOpen is returned when an edge is closed more times than it has producers.
var ErrNotOpen = errors.New("edge not open cannot close")
