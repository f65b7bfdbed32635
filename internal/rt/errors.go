package rt

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"

	"github.com/fxnlabs/hwrt/internal/driver"
)

// Kind is the stable classification of a runtime error.
type Kind int

const (
	KindUnknown Kind = iota
	// KindAllocation: native allocation, context or pool creation failed.
	KindAllocation
	// KindInvalidParameter: unknown pointer, unsupported property, unknown device.
	KindInvalidParameter
	// KindBackendQuery: a native query failed for another reason.
	KindBackendQuery
	KindFeatureNotSupported
	// KindRuntime: any other failed native call.
	KindRuntime
)

func (k Kind) String() string {
	switch k {
	case KindAllocation:
		return "allocation_error"
	case KindInvalidParameter:
		return "invalid_parameter_error"
	case KindBackendQuery:
		return "generic_backend_query_error"
	case KindFeatureNotSupported:
		return "feature_not_supported"
	case KindRuntime:
		return "runtime_error"
	default:
		return "unknown_error"
	}
}

// ErrorCode is the native status code reported by a backend.
type ErrorCode struct {
	API   string
	Value int
}

func (c ErrorCode) String() string {
	if c.API == "" {
		return "none"
	}
	return fmt.Sprintf("%s:%d", c.API, c.Value)
}

// Error is a failure inside the runtime core.
type Error struct {
	Kind    Kind
	Message string
	Code    ErrorCode
	// Source is the file:line that produced the error.
	Source string

	err error
}

// MakeError creates an error of the given kind. The caller's location is
// recorded as Source.
func MakeError(kind Kind, msg string, code ErrorCode) *Error {
	return &Error{Kind: kind, Message: msg, Code: code, Source: caller(2)}
}

// ErrorFromNative wraps a failed native call. The native code, if any, is
// carried over.
func ErrorFromNative(kind Kind, msg string, err error) *Error {
	e := &Error{Kind: kind, Message: msg, Source: caller(2), err: err}
	if st, ok := driver.AsStatus(err); ok {
		e.Code = ErrorCode{API: st.API, Value: st.Code}
	}
	return e
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.Code.API != "" {
		msg += fmt.Sprintf(" (code %s)", e.Code)
	}
	if e.err != nil {
		msg += ": " + e.err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.err
}

// IsKind reports whether err carries a runtime error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf returns the kind of err, KindUnknown for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func caller(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "unknown"
	}
	return fmt.Sprintf("%s:%d", filepath.Base(file), line)
}
