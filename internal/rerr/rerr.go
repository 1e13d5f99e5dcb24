// Package rerr classifies pipeline failures into the five kinds from the
// error handling design: a BadBinary is fatal for the whole run, the rest
// are scoped to a single Flo and never abort the pipeline.
package rerr

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Kind is one of the five error kinds from the error handling design.
type Kind int

const (
	// Internal marks an assertion failure: a path-lockstep violation, an
	// orphan symbolic value, or similar. Fatal in debug builds, logged and
	// the Flo dropped otherwise.
	Internal Kind = iota
	// BadBinary marks a PE the container parser rejects outright (bad
	// magic, unsupported machine type). Fatal for the whole run.
	BadBinary
	// DecodeError marks a decoder failure mid-function. The offending Flo
	// is discarded.
	DecodeError
	// UnresolvedControlFlow marks a jump destination that cannot be
	// computed. The Flo is kept with an unknown_jump recorded, but
	// contributes no contexts and no structs.
	UnresolvedControlFlow
	// PathExplosion marks a Flo whose OptimalCoverage path count exceeded
	// the implementation-defined threshold. The Flo is skipped.
	PathExplosion
)

func (k Kind) String() string {
	switch k {
	case BadBinary:
		return "bad binary"
	case DecodeError:
		return "decode error"
	case UnresolvedControlFlow:
		return "unresolved control flow"
	case PathExplosion:
		return "path explosion"
	default:
		return "internal error"
	}
}

// Error wraps an underlying error with its Kind, preserving the stack trace
// attached by github.com/pkg/errors at the raise site.
type Error struct {
	Kind Kind
	err  error
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Kind, e.err) }
func (e *Error) Unwrap() error { return e.err }

// New builds a new Error of the given kind with a formatted message,
// attaching a stack trace at the call site.
func New(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, err: pkgerrors.Errorf(format, args...)}
}

// Wrap attaches kind and msg to err, preserving err's own stack trace if it
// has one, or attaching a fresh one otherwise.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, err: pkgerrors.Wrap(err, msg)}
}

// KindOf reports the Kind attached to err, or Internal if err was never
// classified through this package.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}
