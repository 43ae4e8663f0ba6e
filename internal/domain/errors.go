// Package domain holds the error taxonomy shared by the storefront domain
// packages. Subpackages declare their sentinels as *Error values so that
// callers can match them with errors.Is and classify them with KindOf.
package domain

import (
	"strings"

	"github.com/go-faster/errors"
)

// Kind classifies a domain failure independently of the transport.
type Kind uint8

const (
	KindInternal Kind = iota
	KindInvalidArgument
	KindNotFound
	KindConflict
	KindPreconditionFailed
	KindForbidden
	KindInvalidTransition
	KindUnauthenticated
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "InvalidArgument"
	case KindNotFound:
		return "NotFound"
	case KindConflict:
		return "Conflict"
	case KindPreconditionFailed:
		return "PreconditionFailed"
	case KindForbidden:
		return "Forbidden"
	case KindInvalidTransition:
		return "InvalidTransition"
	case KindUnauthenticated:
		return "Unauthenticated"
	default:
		return "Internal"
	}
}

// Error is a classified domain failure. Code is a stable machine-readable
// identifier (e.g. COUPON_EXPIRED), Fields optionally names offending inputs.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Fields  []string
}

// NewError returns a new *Error.
func NewError(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func (e *Error) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	return e.Message + ": " + strings.Join(e.Fields, ", ")
}

// Is reports whether target is a domain error with the same kind and code, so
// copies produced by WithFields or WithMessage still match their sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Code == e.Code
}

// WithFields returns a copy of e naming the offending fields.
func (e *Error) WithFields(fields ...string) *Error {
	c := *e
	c.Fields = append([]string(nil), fields...)
	return &c
}

// WithMessage returns a copy of e with a more specific message.
func (e *Error) WithMessage(msg string) *Error {
	c := *e
	c.Message = msg
	return &c
}

// KindOf returns the Kind of the first *Error in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	if e, ok := AsError(err); ok {
		return e.Kind
	}
	return KindInternal
}

// AsError extracts the first *Error in err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Generic errors not owned by a single package.
var (
	ErrInvalidArgument = NewError(KindInvalidArgument, "INVALID_ARGUMENT", "invalid argument")
	ErrForbidden       = NewError(KindForbidden, "FORBIDDEN", "forbidden")
	ErrConflict        = NewError(KindConflict, "CONFLICT", "concurrent modification, retry")
)
