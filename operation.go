package kettle

import (
	"fmt"

	"github.com/pentaho/pentaho-kettle-sub148/models"
)

// CycleResult is the outcome of one processing cycle of an operation.
type CycleResult int

const (
	// Continue asks the engine to call ProcessOneCycle again.
	Continue CycleResult = iota
	// Finished reports that the operation has no more work.
	Finished
	// Failed reports that the cycle failed with the returned error.
	Failed
)

func (r CycleResult) String() string {
	switch r {
	case Continue:
		return "continue"
	case Finished:
		return "finished"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Operation is implemented by every operation kind.
//
// The engine creates one Operation per copy. Init is called once before any
// cycle, ProcessOneCycle repeatedly from a single goroutine until it returns
// Finished or Failed, and Dispose exactly once after Init was attempted,
// whatever the outcome.
type Operation interface {
	// Init prepares the operation. A non nil error fails the run before any
	// operation starts processing.
	Init(rc *RuntimeContext) error
	// ProcessOneCycle performs one unit of work, typically one input row.
	// Returning Failed with a *RowError reports a row level error, any other
	// error stops the run.
	ProcessOneCycle() (CycleResult, error)
	// Dispose releases the resources of the operation.
	Dispose(rc *RuntimeContext)
}

// ErrorRoutingSupporter is implemented by operations that can have their
// failed rows routed along an error hop.
type ErrorRoutingSupporter interface {
	SupportsErrorRouting() bool
}

// Registry creates operations by kind.
type Registry interface {
	New(kind string) (Operation, error)
}

// RowError reports that a single row failed processing.
type RowError struct {
	// Row is the failed input row.
	Row models.Row
	// Description explains the failure.
	Description string
	// Fields lists the offending field names, if known.
	Fields []string
	// Code is an optional machine readable error code.
	Code string
}

func (e *RowError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("row error %s: %s", e.Code, e.Description)
	}
	return "row error: " + e.Description
}

func supportsErrorRouting(op Operation) bool {
	s, ok := op.(ErrorRoutingSupporter)
	return ok && s.SupportsErrorRouting()
}
