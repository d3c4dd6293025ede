// Package memstore implements objstore.Store in process memory.
// Content does not survive a restart.
package memstore

import (
	"context"
	"sync/atomic"

	"github.com/ValentinKolb/dMDS/lib/objstore"
	"github.com/puzpuzpuz/xsync/v3"
)

// object is one stored value plus the write index it was stored at
type object struct {
	data  []byte
	index uint64
}

// Store is the in-memory object store.
type Store struct {
	objects *xsync.MapOf[string, object]
	index   atomic.Uint64
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		objects: xsync.NewMapOf[string, object](),
	}
}

// incAndGetIndex returns the next write index.
func (s *Store) incAndGetIndex() uint64 {
	return s.index.Add(1)
}

// --------------------------------------------------------------------------
// Interface Methods (docu see objstore/interface.go)
// --------------------------------------------------------------------------

func (s *Store) Provider() string {
	return "mem"
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, objstore.WrapError(objstore.RetCInternalError, "get "+key, err)
	}
	obj, ok := s.objects.Load(key)
	if !ok {
		return nil, objstore.NotFound(key)
	}
	return append([]byte{}, obj.data...), nil
}

func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return objstore.WrapError(objstore.RetCInternalError, "put "+key, err)
	}
	s.objects.Store(key, object{
		data:  append([]byte{}, data...),
		index: s.incAndGetIndex(),
	})
	return nil
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, objstore.WrapError(objstore.RetCInternalError, "exists "+key, err)
	}
	_, ok := s.objects.Load(key)
	return ok, nil
}

func (s *Store) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return objstore.WrapError(objstore.RetCInternalError, "remove "+key, err)
	}
	s.objects.Delete(key)
	return nil
}

func (s *Store) Close() error {
	return nil
}

// --------------------------------------------------------------------------
// Inspection
// --------------------------------------------------------------------------

// Len returns the number of stored objects.
func (s *Store) Len() int {
	return s.objects.Size()
}

// Writes returns how many Put calls the store has applied.
func (s *Store) Writes() uint64 {
	return s.index.Load()
}

// WriteIndex returns the write index the object at key was last stored at,
// or 0 if there is no such object.
func (s *Store) WriteIndex(key string) uint64 {
	obj, ok := s.objects.Load(key)
	if !ok {
		return 0
	}
	return obj.index
}
