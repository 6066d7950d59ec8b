package sofa

import (
	"errors"
	"fmt"
)

// ErrorKind names a category in the pipeline error taxonomy. Callers
// match kinds with errors.Is rather than comparing messages.
type ErrorKind string

const (
	// ErrNetworkUnavailable marks a transient fetch failure. Fetchers
	// fall back to cached content when any exists.
	ErrNetworkUnavailable ErrorKind = "network-unavailable"
	// ErrCacheCorrupt marks a cache entry whose metadata does not
	// decode. The key is discarded and treated as a miss.
	ErrCacheCorrupt ErrorKind = "cache-corrupt"
	// ErrCacheWriteFailed marks a failed cache commit. Fatal to the
	// stage that caused it.
	ErrCacheWriteFailed ErrorKind = "cache-write-failed"
	// ErrParse marks a per-resource parse failure; the resource is
	// skipped and recorded for next-run recovery.
	ErrParse ErrorKind = "parse"
	// ErrValidation marks a release record missing required fields.
	ErrValidation ErrorKind = "validation"
	// ErrRetentionEmpty marks a platform left with zero releases after
	// retention filtering.
	ErrRetentionEmpty ErrorKind = "retention-empty"
	// ErrConfig marks a configuration error, fatal at startup.
	ErrConfig ErrorKind = "config"
)

func (k ErrorKind) Error() string { return string(k) }

// Error is the domain error type. It records the operation that
// failed, the taxonomy kind, and an optional wrapped cause.
type Error struct {
	// Op is the failed operation, e.g. "httpcache/Cache.Get".
	Op string
	// Kind categorizes the failure.
	Kind ErrorKind
	// Message is a short human-readable description.
	Message string
	// Inner is the wrapped cause, if any.
	Inner error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Inner != nil:
		return fmt.Sprintf("%s: %s: %s: %v", e.Op, e.Kind, e.Message, e.Inner)
	case e.Message != "":
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Message)
	case e.Inner != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Inner)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Inner }

// Is reports kind equality, so errors.Is(err, ErrParse) works across
// wrapping layers.
func (e *Error) Is(target error) bool {
	if k, ok := target.(ErrorKind); ok {
		return e.Kind == k
	}
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// NewError builds a domain error.
func NewError(op string, kind ErrorKind, msg string, inner error) *Error {
	return &Error{Op: op, Kind: kind, Message: msg, Inner: inner}
}

// KindOf extracts the ErrorKind from err, or "" when err carries none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
