package domain

import (
	"errors"
	"fmt"
)

// Error kinds surfaced to callers. Every failure produced by the core wraps
// exactly one of these so callers can branch with errors.Is.
var (
	ErrInvalidGrid        = errors.New("invalid grid")
	ErrGridMismatch       = errors.New("grid mismatch")
	ErrUnitMismatch       = errors.New("unit mismatch")
	ErrVariableMismatch   = errors.New("variable mismatch")
	ErrLabelCountMismatch = errors.New("label count mismatch")
	ErrInsufficientData   = errors.New("insufficient data")
	ErrNoOverlap          = errors.New("no overlap")
	ErrUnsupportedMethod  = errors.New("unsupported method")
	ErrProvider           = errors.New("provider failure")
)

var kindNames = []struct {
	kind error
	name string
}{
	{ErrProvider, "ProviderError"},
	{ErrInvalidGrid, "InvalidGridError"},
	{ErrGridMismatch, "GridMismatchError"},
	{ErrUnitMismatch, "UnitMismatchError"},
	{ErrVariableMismatch, "VariableMismatchError"},
	{ErrLabelCountMismatch, "LabelCountMismatchError"},
	{ErrInsufficientData, "InsufficientDataError"},
	{ErrNoOverlap, "NoOverlapError"},
	{ErrUnsupportedMethod, "UnsupportedMethodError"},
}

// Error carries an error kind plus the identifiers needed to diagnose it.
type Error struct {
	Kind error
	Msg  string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Msg)
}

func (e *Error) Unwrap() error { return e.Kind }

// NewError builds an *Error of the given kind.
func NewError(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// KindName returns the user-visible name of the error kind wrapped by err,
// or "Error" when err carries none of the known kinds.
func KindName(err error) string {
	for _, k := range kindNames {
		if errors.Is(err, k.kind) {
			return k.name
		}
	}
	return "Error"
}
