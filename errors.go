package bincore

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// Severity distinguishes errors that reject a single registration from
// ones that abort the whole rewrite: non-fatal kinds are reported and
// the offending registration is rejected while layout proceeds with the
// accepted subset; fatal kinds abort.
type Severity int

const (
	SeverityReject Severity = iota
	SeverityFatal
)

// Kind enumerates the error kinds surfaced by the core.
type Kind int

const (
	DuplicatePriorityAtAddress Kind = iota
	UnsafeOverwrite
	RegistryFrozen
	TrampolineTooFar
	PayloadSizeExceedsReserve
	VerifyFailed
)

func (k Kind) String() string {
	switch k {
	case DuplicatePriorityAtAddress:
		return "DuplicatePriorityAtAddress"
	case UnsafeOverwrite:
		return "UnsafeOverwrite"
	case RegistryFrozen:
		return "RegistryFrozen"
	case TrampolineTooFar:
		return "TrampolineTooFar"
	case PayloadSizeExceedsReserve:
		return "PayloadSizeExceedsReserve"
	case VerifyFailed:
		return "VerifyFailed"
	default:
		return "Unknown"
	}
}

func (k Kind) Severity() Severity {
	switch k {
	case DuplicatePriorityAtAddress, UnsafeOverwrite, RegistryFrozen:
		return SeverityReject
	default:
		return SeverityFatal
	}
}

// CoreError is a single diagnostic raised by the core, carrying the
// source address it concerns (0 when not address-specific).
type CoreError struct {
	Kind    Kind
	Addr    Address
	Message string
	cause   error
}

func (e *CoreError) Error() string {
	if e.Addr != 0 {
		return fmt.Sprintf("%s at 0x%x: %s", e.Kind, uint64(e.Addr), e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *CoreError) Unwrap() error { return e.cause }

// newRejectError builds a non-fatal, registration-rejecting error.
func newRejectError(kind Kind, addr Address, format string, args ...interface{}) *CoreError {
	return &CoreError{Kind: kind, Addr: addr, Message: fmt.Sprintf(format, args...)}
}

// newFatalError builds a fatal error with a stack trace attached at the
// point of failure.
func newFatalError(kind Kind, addr Address, format string, args ...interface{}) *CoreError {
	msg := fmt.Sprintf(format, args...)
	return &CoreError{Kind: kind, Addr: addr, Message: msg, cause: errors.New(msg)}
}

// StackTrace exposes the attached github.com/pkg/errors stack, if any,
// for diagnostic printing of fatal aborts.
func (e *CoreError) StackTrace() errors.StackTrace {
	type stackTracer interface{ StackTrace() errors.StackTrace }
	if st, ok := e.cause.(stackTracer); ok {
		return st.StackTrace()
	}
	return nil
}

// Diagnostics accumulates the non-fatal rejections produced while
// registering points, so a caller can inspect every rejected point
// instead of only the first.
type Diagnostics struct {
	errs *multierror.Error
}

func (d *Diagnostics) add(err *CoreError) {
	d.errs = multierror.Append(d.errs, err)
}

// Err returns the accumulated errors, or nil if none were recorded.
func (d *Diagnostics) Err() error {
	if d.errs == nil || len(d.errs.Errors) == 0 {
		return nil
	}
	return d.errs
}

// Len reports how many diagnostics have been recorded.
func (d *Diagnostics) Len() int {
	if d.errs == nil {
		return 0
	}
	return len(d.errs.Errors)
}
