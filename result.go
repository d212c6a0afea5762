package kettle

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

// Status summarizes how a run ended.
type Status int

const (
	StatusUnknown Status = iota
	// StatusSuccess means every operation finished without error.
	StatusSuccess
	// StatusPartial means the run finished but some rows were routed along error hops.
	StatusPartial
	// StatusFailure means an operation faulted or the run could not be built.
	StatusFailure
	// StatusCancelled means the run was stopped deliberately.
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusPartial:
		return "PARTIAL"
	case StatusFailure:
		return "FAILURE"
	case StatusCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	switch string(text) {
	case "SUCCESS":
		*s = StatusSuccess
	case "PARTIAL":
		*s = StatusPartial
	case "FAILURE":
		*s = StatusFailure
	case "CANCELLED":
		*s = StatusCancelled
	case "UNKNOWN":
		*s = StatusUnknown
	default:
		return fmt.Errorf("unknown status %q", text)
	}
	return nil
}

// Fault identifies the failure that stopped a run.
type Fault struct {
	Operation string
	Copy      int
	Err       error
}

func (f *Fault) Error() string {
	if f.Operation == "" {
		return f.Err.Error()
	}
	return fmt.Sprintf("%s.%d: %v", f.Operation, f.Copy, f.Err)
}

func (f *Fault) Unwrap() error {
	return f.Err
}

type jsonFault struct {
	Operation string `json:"operation,omitempty"`
	Copy      int    `json:"copy"`
	Message   string `json:"message"`
}

func (f *Fault) MarshalJSON() ([]byte, error) {
	return json.Marshal(jsonFault{
		Operation: f.Operation,
		Copy:      f.Copy,
		Message:   f.Err.Error(),
	})
}

// UnmarshalJSON restores a fault read back from storage; the original error
// type is lost, only its message is kept.
func (f *Fault) UnmarshalJSON(data []byte) error {
	var jf jsonFault
	if err := json.Unmarshal(data, &jf); err != nil {
		return err
	}
	f.Operation = jf.Operation
	f.Copy = jf.Copy
	f.Err = errors.New(jf.Message)
	return nil
}

// UnitState is the lifecycle state of one unit.
type UnitState int

const (
	UnitIdle UnitState = iota
	UnitInitializing
	UnitRunning
	UnitFinished
	UnitStopped
	UnitFailed
)

func (s UnitState) String() string {
	switch s {
	case UnitIdle:
		return "idle"
	case UnitInitializing:
		return "initializing"
	case UnitRunning:
		return "running"
	case UnitFinished:
		return "finished"
	case UnitStopped:
		return "stopped"
	case UnitFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s UnitState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *UnitState) UnmarshalText(text []byte) error {
	for st := UnitIdle; st <= UnitFailed; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown unit state %q", text)
}

// UnitReport holds the counters of one unit.
type UnitReport struct {
	Operation   string        `json:"operation"`
	Copy        int           `json:"copy"`
	State       UnitState     `json:"state"`
	RowsRead    int64         `json:"rowsRead"`
	RowsWritten int64         `json:"rowsWritten"`
	Errors      int64         `json:"errors"`
	AvgCycle    time.Duration `json:"avgCycleNs"`
}

// Result is the outcome of a terminated run.
type Result struct {
	RunID       string        `json:"runId"`
	Pipeline    string        `json:"pipeline"`
	Status      Status        `json:"status"`
	Fault       *Fault        `json:"fault,omitempty"`
	Units       []UnitReport  `json:"units"`
	RowsRead    int64         `json:"rowsRead"`
	RowsWritten int64         `json:"rowsWritten"`
	Errors      int64         `json:"errors"`
	Elapsed     time.Duration `json:"elapsedNs"`
}

// Unit returns the report of one unit.
func (r Result) Unit(operation string, copy int) (UnitReport, bool) {
	for _, u := range r.Units {
		if u.Operation == operation && u.Copy == copy {
			return u, true
		}
	}
	return UnitReport{}, false
}

// Operation sums the reports of all copies of an operation.
func (r Result) Operation(operation string) UnitReport {
	sum := UnitReport{Operation: operation, Copy: -1}
	for _, u := range r.Units {
		if u.Operation != operation {
			continue
		}
		sum.RowsRead += u.RowsRead
		sum.RowsWritten += u.RowsWritten
		sum.Errors += u.Errors
		if u.State > sum.State {
			sum.State = u.State
		}
	}
	return sum
}

// WriteJSON writes the result as JSON.
func (r Result) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
