package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/juju/errors"
)

var (
	_ error = &RetryError{}
	_ error = &FatalError{}
	_ error = &ValidationError{}
	_ error = &ResolutionError{}
	_ error = &CompileError{}
	_ error = &RunError{}
)

// NewRetryError marks err recoverable; a positive backoff overrides the
// node's retry policy for the next wait.
func NewRetryError(otherErr error, backoff time.Duration) error {
	return &RetryError{baseError: newBaseErr(otherErr), Backoff: backoff}
}

func NewRetryErrorf(backoff time.Duration, format string, args ...interface{}) error {
	return NewRetryError(errors.Errorf(format, args...), backoff)
}

func NewFatalError(otherErr error) error {
	return &FatalError{baseError: newBaseErr(otherErr)}
}

func NewFatalErrorf(format string, args ...interface{}) error {
	return NewFatalError(errors.Errorf(format, args...))
}

func newBaseErr(otherErr error) *baseError {
	return &baseError{unwrapErr(otherErr)}
}

func unwrapErr(err error) error {
	if err == nil {
		return nil
	}
	if ue, ok := err.(wrappedErr); ok {
		return unwrapErr(ue.UnwrapLocal())
	}
	return err
}

type wrappedErr interface {
	UnwrapLocal() error
}

type baseError struct {
	BaseErr error
}

func (e *baseError) Error() string {
	if e.BaseErr == nil {
		return "<nil>"
	}
	return e.BaseErr.Error()
}

func (e *baseError) UnwrapLocal() error {
	return e.BaseErr
}

func (e *baseError) Unwrap() error {
	return e.BaseErr
}

// RetryError is a recoverable node execution error.
type RetryError struct {
	*baseError
	Backoff time.Duration
}

// FatalError is never retried.
type FatalError struct {
	*baseError
}

func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

type ValidationKind string

const (
	KindDuplicateNode ValidationKind = "duplicate-node"
	KindUnknownNode   ValidationKind = "unknown-node"
	KindSlotConflict  ValidationKind = "slot-conflict"
	KindCycle         ValidationKind = "cycle"
	KindUnreachable   ValidationKind = "unreachable"
	KindBinding       ValidationKind = "binding"
	KindTrigger       ValidationKind = "trigger"
)

// ValidationError reports a structurally invalid DAG. It is never retried.
type ValidationError struct {
	Kind    ValidationKind
	DAG     string
	Node    string
	Edge    string
	Trigger string
	// Path holds the offending cycle, first node repeated at the end.
	Path []string
	Msg  string
}

func (e *ValidationError) Error() string {
	sb := &strings.Builder{}
	fmt.Fprintf(sb, "dag %s invalid (%s)", e.DAG, e.Kind)
	if e.Node != "" {
		fmt.Fprintf(sb, " node %s", e.Node)
	}
	if e.Edge != "" {
		fmt.Fprintf(sb, " edge %s", e.Edge)
	}
	if e.Trigger != "" {
		fmt.Fprintf(sb, " trigger %s", e.Trigger)
	}
	if len(e.Path) > 0 {
		fmt.Fprintf(sb, " path %s", strings.Join(e.Path, " -> "))
	}
	if e.Msg != "" {
		sb.WriteString(": " + e.Msg)
	}
	return sb.String()
}

func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ResolutionError names the binding expression that could not be resolved.
type ResolutionError struct {
	Expression string
	Node       string
	Slot       string
	Reason     string
	Cause      error
}

func (e *ResolutionError) Error() string {
	msg := fmt.Sprintf("resolve %q", e.Expression)
	if e.Node != "" {
		msg += fmt.Sprintf(" for %s.%s", e.Node, e.Slot)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ResolutionError) Unwrap() error {
	return e.Cause
}

func IsResolutionError(err error) bool {
	var re *ResolutionError
	return errors.As(err, &re)
}

// CompileError blocks deployment: the DAG cannot be projected onto the target.
type CompileError struct {
	DAG      string
	Platform string
	Node     string
	Trigger  string
	Msg      string
}

func (e *CompileError) Error() string {
	msg := fmt.Sprintf("compile dag %s for %s", e.DAG, e.Platform)
	if e.Node != "" {
		msg += " node " + e.Node
	}
	if e.Trigger != "" {
		msg += " trigger " + e.Trigger
	}
	return msg + ": " + e.Msg
}

// RunError carries the full per-node table of a run that did not succeed.
type RunError struct {
	Result *RunResult
}

func (e *RunError) Error() string {
	r := e.Result
	msg := fmt.Sprintf("run %s of dag %s %s", r.RunID, r.DAG, r.Status)
	if r.FirstFatal != "" {
		if nr := r.Nodes[r.FirstFatal]; nr != nil && nr.Error != nil {
			msg += fmt.Sprintf(": node %s: %v", r.FirstFatal, nr.Error)
		}
	}
	return msg + "\n" + r.Table()
}
