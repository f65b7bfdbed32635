package driver

import (
	"errors"
	"fmt"
)

// StatusKind classifies native status codes across vendors.
type StatusKind int

const (
	StatusUnknown StatusKind = iota
	StatusInvalidValue
	StatusOutOfMemory
	StatusNotSupported
	StatusUninitialized
	StatusDeviceLost
)

func (k StatusKind) String() string {
	switch k {
	case StatusInvalidValue:
		return "invalid value"
	case StatusOutOfMemory:
		return "out of memory"
	case StatusNotSupported:
		return "not supported"
	case StatusUninitialized:
		return "uninitialized"
	case StatusDeviceLost:
		return "device lost"
	default:
		return "unknown"
	}
}

// Status is a failed native call.
type Status struct {
	API  string
	Call string
	Code int
	Kind StatusKind
}

func (s *Status) Error() string {
	return fmt.Sprintf("%s: %s() failed with code %d (%s)", s.API, s.Call, s.Code, s.Kind)
}

// NewStatus builds a Status for a failed call.
func NewStatus(api, call string, code int, kind StatusKind) *Status {
	return &Status{API: api, Call: call, Code: code, Kind: kind}
}

// AsStatus extracts the native status from err.
func AsStatus(err error) (*Status, bool) {
	var st *Status
	if errors.As(err, &st) {
		return st, true
	}
	return nil, false
}
