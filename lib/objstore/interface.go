package objstore

import (
	"context"
	"errors"
	"fmt"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// Store is the interface for whole-object storage backends.
// Objects are addressed by key (see Layout.Locate) and are always read and
// written as a whole: Put replaces any previous content at the key.
//
// All methods must be safe for concurrent use.
type Store interface {
	// Provider returns the name of the backend (e.g. "mem", "file", "s3", "raft").
	Provider() string
	// Get reads the full content of the object at key.
	// A missing object is reported as an *Error with code RetCNotFound.
	Get(ctx context.Context, key string) (data []byte, err error)
	// Put durably writes data as the full content of the object at key.
	Put(ctx context.Context, key string, data []byte) (err error)
	// Exists returns whether an object is stored at key.
	Exists(ctx context.Context, key string) (ok bool, err error)
	// Remove deletes the object at key. Removing a missing object is not an error.
	Remove(ctx context.Context, key string) (err error)
	// Close releases the resources held by the store.
	Close() (err error)
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is the error type returned by store implementations.
// It wraps a return code and a message, and optionally the backend's own error.
type Error struct {
	Code  RetCode
	Msg   string
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("objstore (%s): %s: %v", e.Code, e.Msg, e.Cause)
	}
	return fmt.Sprintf("objstore (%s): %s", e.Code, e.Msg)
}

// Unwrap returns the backend error, if any.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

// WrapError creates a new Error with the given code and message wrapping cause.
func WrapError(code RetCode, msg string, cause error) *Error {
	return &Error{Code: code, Msg: msg, Cause: cause}
}

// NotFound returns the error stores report for a missing object.
func NotFound(key string) *Error {
	return NewError(RetCNotFound, fmt.Sprintf("object %q not found", key))
}

// CodeOf returns the RetCode carried by err, RetCInternalError for foreign
// errors and RetCSuccess for nil.
func CodeOf(err error) RetCode {
	if err == nil {
		return RetCSuccess
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return RetCInternalError
}

// IsNotFound reports whether err means that the object does not exist.
func IsNotFound(err error) bool {
	return err != nil && CodeOf(err) == RetCNotFound
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess          RetCode = iota // 0: operation succeeded
	RetCInternalError                   // 1: backend failure
	RetCInvalidOperation                // 2: malformed request
	RetCNotFound                        // 3: no object at the key
	RetCObjectTooLarge                  // 4: object exceeds the layout's object size
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCInvalidOperation:
		return "InvalidOperation"
	case RetCNotFound:
		return "NotFound"
	case RetCObjectTooLarge:
		return "ObjectTooLarge"
	default:
		return fmt.Sprintf("Unknown(%d)", uint64(c))
	}
}
