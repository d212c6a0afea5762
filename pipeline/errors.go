package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

// ErrStructural matches, via errors.Is, every error raised because a graph is
// structurally invalid. Structural errors are reported synchronously by the
// model and the compiler; no run is attempted.
var ErrStructural = errors.New("structural error")

type structural struct{}

func (structural) Is(target error) bool { return target == ErrStructural }

// DuplicateNameError is returned when an operation name is already taken.
type DuplicateNameError struct {
	structural
	Name string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("operation %q already exists", e.Name)
}

// UnknownOperationError is returned when a name does not denote an operation of the model.
type UnknownOperationError struct {
	structural
	Name string
}

func (e *UnknownOperationError) Error() string {
	return fmt.Sprintf("unknown operation %q", e.Name)
}

// MultipleErrorHopError is returned when an operation would own a second error hop.
type MultipleErrorHopError struct {
	structural
	From     string
	Existing string
}

func (e *MultipleErrorHopError) Error() string {
	return fmt.Sprintf("operation %q already routes errors to %q", e.From, e.Existing)
}

// DuplicateHopError is returned when a hop between the same operations already exists.
type DuplicateHopError struct {
	structural
	From, To string
}

func (e *DuplicateHopError) Error() string {
	return fmt.Sprintf("hop %s->%s already exists", e.From, e.To)
}

// CycleError is returned when enabled hops would form a cycle.
type CycleError struct {
	structural
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cycle detected: %s", strings.Join(e.Path, " -> "))
}

// UnknownHopError is returned for hop ids that are not part of the model.
type UnknownHopError struct {
	structural
	ID HopID
}

func (e *UnknownHopError) Error() string {
	return fmt.Sprintf("unknown hop %d", e.ID)
}

// UnknownReferenceError is returned when an operation names a sub-pipeline the model does not reference.
type UnknownReferenceError struct {
	structural
	Operation string
	Path      string
}

func (e *UnknownReferenceError) Error() string {
	return fmt.Sprintf("operation %q references unknown sub-pipeline %q", e.Operation, e.Path)
}

// InvalidOperationError is returned for operations that cannot be part of a model.
type InvalidOperationError struct {
	structural
	Name   string
	Reason string
}

func (e *InvalidOperationError) Error() string {
	return fmt.Sprintf("invalid operation %q: %s", e.Name, e.Reason)
}
