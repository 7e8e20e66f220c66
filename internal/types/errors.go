package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures surfaced to the dashboard
type ErrorKind string

const (
	KindTransport     ErrorKind = "TRANSPORT"
	KindHTTPStatus    ErrorKind = "HTTP_STATUS"
	KindDecode        ErrorKind = "DECODE"
	KindNotFound      ErrorKind = "NOT_FOUND"
	KindConfigMissing ErrorKind = "CONFIG_MISSING"
)

// ErrNotFound marks a lookup for which the upstream has no data
var ErrNotFound = errors.New("no data found")

// FetchError is returned by the API client for a failed GET
type FetchError struct {
	Kind       ErrorKind
	URL        string
	StatusCode int
	Message    string
	Err        error
}

func (e *FetchError) Error() string {
	switch e.Kind {
	case KindHTTPStatus:
		return fmt.Sprintf("GET %s: http status %d", e.URL, e.StatusCode)
	case KindDecode:
		return fmt.Sprintf("GET %s: decode: %s", e.URL, e.Message)
	default:
		return fmt.Sprintf("GET %s: %s", e.URL, e.Message)
	}
}

func (e *FetchError) Unwrap() error { return e.Err }

// DataUnavailable is the outcome of a data source accessor that could not
// produce a value
type DataUnavailable struct {
	Resource string
	Kind     ErrorKind
	Reason   string
	Err      error
}

func (e *DataUnavailable) Error() string {
	return fmt.Sprintf("%s unavailable: %s", e.Resource, e.Reason)
}

func (e *DataUnavailable) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrNotFound) match not-found outcomes
func (e *DataUnavailable) Is(target error) bool {
	return target == ErrNotFound && e.Kind == KindNotFound
}

// KindOf reports the error kind carried by err, or "" when it has none
func KindOf(err error) ErrorKind {
	var du *DataUnavailable
	if errors.As(err, &du) {
		return du.Kind
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// IsNotFound reports whether err means "the upstream has no data"
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
