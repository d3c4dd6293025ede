package sessionmap

import "errors"

var (
	// ErrStorageReadFailed is reported to load waiters when the object store could not read the directory object.
	ErrStorageReadFailed = errors.New("session map storage read failed")
	// ErrStorageWriteFailed is reported to save waiters when the write carrying their version failed.
	ErrStorageWriteFailed = errors.New("session map storage write failed")
	// ErrLoadFatal is reported to load waiters when the stored directory could not be decoded.
	// The node cannot serve sessions after it.
	ErrLoadFatal = errors.New("session map load failed fatally")
	// ErrClosed is returned by Query and Dump once the session map was closed.
	ErrClosed = errors.New("session map closed")
)

// Callback is invoked once when the operation it was registered for completes.
// err is nil on success.
type Callback func(err error)
