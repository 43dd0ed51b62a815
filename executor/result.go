package executor

import "time"

// Result contains the outcome of one macro execution.
type Result struct {
	// ExecutionID uniquely identifies this run.
	ExecutionID string

	// Stdout is everything the macro printed.
	Stdout string

	// Status classifies the outcome.
	Status ExitStatus

	// Fault holds structured error detail when Status is not StatusSuccess.
	Fault *Fault

	// Duration is the wall-clock time the run took.
	Duration time.Duration

	// Steps is the number of Starlark computation steps consumed.
	Steps uint64
}

// ExitStatus represents the outcome of macro execution.
type ExitStatus int

const (
	// StatusSuccess indicates the macro ran to completion.
	StatusSuccess ExitStatus = iota
	// StatusError indicates the macro raised during execution.
	StatusError
	// StatusTimeout indicates the wall-clock budget was exceeded.
	StatusTimeout
	// StatusCanceled indicates the caller's context was canceled.
	StatusCanceled
	// StatusInternal indicates a fault inside the executor itself.
	StatusInternal
)

// String returns the string representation of the exit status.
func (s ExitStatus) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	case StatusTimeout:
		return "timeout"
	case StatusCanceled:
		return "canceled"
	case StatusInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Success returns true if the macro ran to completion.
func (r *Result) Success() bool {
	return r.Status == StatusSuccess
}

// Fault is the structured error captured from a failed execution. Faults are
// reported, not propagated: CAD operations fail for legitimate geometric
// reasons all the time, and a failed macro must never take the server down.
type Fault struct {
	// Kind classifies the fault (evaluation, timeout, cancel, internal).
	Kind string `json:"kind"`

	// Message is the error message.
	Message string `json:"message"`

	// Backtrace is the macro-level call stack, when available.
	Backtrace string `json:"backtrace,omitempty"`
}

func (f *Fault) Error() string {
	return f.Kind + ": " + f.Message
}
