package objstore

import (
	"fmt"
	"path"
)

// ObjectID addresses one object of a file-like stream: the inode number of
// the stream and the index of the block within it.
type ObjectID struct {
	Ino   uint64
	Block uint64
}

// Name returns the canonical object name, e.g. "301.00000000".
func (o ObjectID) Name() string {
	return fmt.Sprintf("%x.%08x", o.Ino, o.Block)
}

func (o ObjectID) String() string {
	return o.Name()
}

// Layout describes how objects are placed in a store. It is passed
// explicitly to every read and write, there is no process wide default.
type Layout struct {
	// Pool is the namespace objects are placed in. Empty means the store root.
	Pool string
	// ObjectSize is the maximum size of one object in bytes, 0 means unlimited.
	ObjectSize uint32
}

// DefaultLayout returns the layout used when nothing else is configured.
func DefaultLayout() Layout {
	return Layout{Pool: "metadata", ObjectSize: 4 << 20}
}

// Locate returns the store key of an object under this layout.
func (l Layout) Locate(oid ObjectID) string {
	if l.Pool == "" {
		return oid.Name()
	}
	return path.Join(l.Pool, oid.Name())
}

// CheckSize returns an error with code RetCObjectTooLarge if size does not fit into one object.
func (l Layout) CheckSize(size int) error {
	if l.ObjectSize > 0 && size > int(l.ObjectSize) {
		return NewError(RetCObjectTooLarge, fmt.Sprintf("%d bytes exceed the object size of %d bytes", size, l.ObjectSize))
	}
	return nil
}
