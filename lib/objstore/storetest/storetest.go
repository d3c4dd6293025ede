// Package storetest provides a conformance suite for objstore.Store
// implementations. Every backend runs it from its own tests:
//
//	func TestStore(t *testing.T) {
//		storetest.RunStoreTests(t, "mem", func(t *testing.T) objstore.Store {
//			return memstore.New()
//		})
//	}
package storetest

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/ValentinKolb/dMDS/lib/objstore"
)

// Factory creates a new, empty store for one test.
type Factory func(t *testing.T) objstore.Store

// RunStoreTests runs the conformance suite against the stores produced by factory.
func RunStoreTests(t *testing.T, name string, factory Factory) {
	t.Run(name, func(t *testing.T) {
		t.Run("PutGet", func(t *testing.T) {
			testPutGet(t, factory(t))
		})

		t.Run("Overwrite", func(t *testing.T) {
			testOverwrite(t, factory(t))
		})

		t.Run("NotFound", func(t *testing.T) {
			testNotFound(t, factory(t))
		})

		t.Run("Exists", func(t *testing.T) {
			testExists(t, factory(t))
		})

		t.Run("Remove", func(t *testing.T) {
			testRemove(t, factory(t))
		})

		t.Run("EmptyObject", func(t *testing.T) {
			testEmptyObject(t, factory(t))
		})

		t.Run("NestedKeys", func(t *testing.T) {
			testNestedKeys(t, factory(t))
		})

		t.Run("Isolation", func(t *testing.T) {
			testIsolation(t, factory(t))
		})

		t.Run("ConcurrentWriters", func(t *testing.T) {
			testConcurrentWriters(t, factory(t))
		})
	})
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testPutGet(t *testing.T, store objstore.Store) {
	defer store.Close()
	ctx := context.Background()

	if store.Provider() == "" {
		t.Errorf("Provider() must not be empty")
	}

	data := []byte("session directory v1")
	if err := store.Put(ctx, "metadata/301.00000000", data); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := store.Get(ctx, "metadata/301.00000000")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("Expected %q, got %q", data, got)
	}
}

func testOverwrite(t *testing.T, store objstore.Store) {
	defer store.Close()
	ctx := context.Background()

	if err := store.Put(ctx, "obj", bytes.Repeat([]byte{1}, 1024)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	// a shorter second write must fully replace the first
	if err := store.Put(ctx, "obj", []byte{2, 2}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := store.Get(ctx, "obj")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !bytes.Equal(got, []byte{2, 2}) {
		t.Errorf("Expected overwritten content [2 2], got %d bytes: %v", len(got), got)
	}
}

func testNotFound(t *testing.T, store objstore.Store) {
	defer store.Close()

	_, err := store.Get(context.Background(), "does/not/exist")
	if err == nil {
		t.Fatalf("Expected an error for a missing object")
	}
	if !objstore.IsNotFound(err) {
		t.Errorf("Expected a not found error, got %v (code %s)", err, objstore.CodeOf(err))
	}
}

func testExists(t *testing.T, store objstore.Store) {
	defer store.Close()
	ctx := context.Background()

	ok, err := store.Exists(ctx, "a")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if ok {
		t.Errorf("Expected missing object to not exist")
	}

	if err := store.Put(ctx, "a", []byte("x")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if ok, err = store.Exists(ctx, "a"); err != nil || !ok {
		t.Errorf("Expected object to exist, got ok=%v err=%v", ok, err)
	}
}

func testRemove(t *testing.T, store objstore.Store) {
	defer store.Close()
	ctx := context.Background()

	if err := store.Put(ctx, "a", []byte("x")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := store.Remove(ctx, "a"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := store.Get(ctx, "a"); !objstore.IsNotFound(err) {
		t.Errorf("Expected not found after Remove, got %v", err)
	}
	if err := store.Remove(ctx, "a"); err != nil {
		t.Errorf("Removing a missing object should succeed, got %v", err)
	}
}

func testEmptyObject(t *testing.T, store objstore.Store) {
	defer store.Close()
	ctx := context.Background()

	if err := store.Put(ctx, "empty", []byte{}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	got, err := store.Get(ctx, "empty")
	if err != nil {
		t.Fatalf("Get of an empty object failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Expected empty content, got %d bytes", len(got))
	}
	if ok, _ := store.Exists(ctx, "empty"); !ok {
		t.Errorf("Expected empty object to exist")
	}
}

func testNestedKeys(t *testing.T, store objstore.Store) {
	defer store.Close()
	ctx := context.Background()

	keys := []string{"pool-a/300.00000000", "pool-a/301.00000000", "pool-b/300.00000000"}
	for i, key := range keys {
		if err := store.Put(ctx, key, []byte(fmt.Sprintf("content-%d", i))); err != nil {
			t.Fatalf("Put %s failed: %v", key, err)
		}
	}
	for i, key := range keys {
		got, err := store.Get(ctx, key)
		if err != nil {
			t.Fatalf("Get %s failed: %v", key, err)
		}
		if want := fmt.Sprintf("content-%d", i); string(got) != want {
			t.Errorf("Key %s: expected %q, got %q", key, want, got)
		}
	}
}

func testIsolation(t *testing.T, store objstore.Store) {
	defer store.Close()
	ctx := context.Background()

	data := []byte("original")
	if err := store.Put(ctx, "obj", data); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	// the caller may reuse its buffer after Put returns
	data[0] = 'X'

	got, err := store.Get(ctx, "obj")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "original" {
		t.Errorf("Store kept a reference to the caller's buffer: %q", got)
	}

	// and the returned buffer belongs to the caller
	got[0] = 'Y'
	again, _ := store.Get(ctx, "obj")
	if string(again) != "original" {
		t.Errorf("Store returned a shared buffer: %q", again)
	}
}

func testConcurrentWriters(t *testing.T, store objstore.Store) {
	defer store.Close()
	ctx := context.Background()

	const writers = 8
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				key := fmt.Sprintf("w%d", w)
				if err := store.Put(ctx, key, []byte(fmt.Sprintf("%d-%d", w, i))); err != nil {
					t.Errorf("Put %s failed: %v", key, err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	for w := 0; w < writers; w++ {
		got, err := store.Get(ctx, fmt.Sprintf("w%d", w))
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if want := fmt.Sprintf("%d-9", w); string(got) != want {
			t.Errorf("Expected last write %q, got %q", want, got)
		}
	}
}
