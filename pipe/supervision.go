package pipe

import (
	"fmt"
	"runtime/debug"
)

// Directive is the outcome of a supervision decision.
type Directive int

const (
	// Stop fails the stage with the error that was decided on.
	Stop Directive = iota
	// Resume drops the failed unit of work and keeps the stage running.
	Resume
)

// String implements fmt.Stringer.
func (d Directive) String() string {
	switch d {
	case Resume:
		return "resume"
	default:
		return "stop"
	}
}

// Decider maps an error raised by asynchronous stage work to a Directive.
// Deciders are called from the stage goroutine and must not block.
type Decider func(err error) Directive

// StoppingDecider fails the stage on every error. It is the default.
func StoppingDecider(error) Directive { return Stop }

// ResumingDecider keeps the stage running on every error.
func ResumingDecider(error) Directive { return Resume }

// Decide calls d and converts a panic into Stop with a *RecoveryError.
// A nil Decider behaves like StoppingDecider.
func (d Decider) Decide(err error) (dir Directive, cause error) {
	if d == nil {
		return Stop, err
	}
	defer func() {
		if r := recover(); r != nil {
			dir = Stop
			cause = &RecoveryError{
				PanicValue: r,
				StackTrace: string(debug.Stack()),
			}
		}
	}()
	return d(err), err
}

// RecoveryError wraps a panic value with the stack trace.
type RecoveryError struct {
	// PanicValue is the original value that was passed to panic().
	PanicValue any
	// StackTrace contains the full stack trace at the point of panic.
	StackTrace string
}

func (e *RecoveryError) Error() string {
	return fmt.Sprintf("panic recovered: %v", e.PanicValue)
}
