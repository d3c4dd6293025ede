package sessionmap

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/dMDS/lib/objstore"
	"github.com/ValentinKolb/dMDS/lib/objstore/memstore"
	"github.com/ValentinKolb/dMDS/lib/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func inFlight(t *testing.T, sm *SessionMap) bool {
	t.Helper()
	var inflight bool
	require.NoError(t, sm.Query(func(d *Directory) { inflight = d.tracker.InFlight() }))
	return inflight
}

func load(t *testing.T, sm *SessionMap) {
	t.Helper()
	w := newWaiter()
	sm.Load(w.cb())
	require.NoError(t, w.wait(t))
}

func decode(t *testing.T, data []byte) (uint64, map[session.Identity]session.Entry) {
	t.Helper()
	version, sessions, err := session.DecodeDirectory(data, time.Time{})
	require.NoError(t, err)
	return version, sessions
}

// --------------------------------------------------------------------------
// Load
// --------------------------------------------------------------------------

func TestObjectKey(t *testing.T) {
	conf := Config{NodeRank: 1, Layout: objstore.Layout{Pool: "metadata"}}
	assert.Equal(t, "metadata/301.00000000", conf.Key())

	conf.InodeBase = 0x1000
	assert.Equal(t, objstore.ObjectID{Ino: 0x1001}, conf.ObjectID())
}

func TestLoadMissingObject(t *testing.T) {
	sm := New(testConfig(), memstore.New())
	defer sm.Close()

	w := newWaiter()
	sm.Load(w.cb())
	err := w.wait(t)
	assert.ErrorIs(t, err, ErrStorageReadFailed)
	assert.True(t, objstore.IsNotFound(err))

	version, _, committed := state(t, sm)
	assert.Zero(t, version)
	assert.Zero(t, committed)
}

func TestLoadInstallsDirectory(t *testing.T) {
	store := memstore.New()
	conf := testConfig()
	storeDirectory(t, store, conf, 7, client(1), client(2))

	sm := New(conf, store)
	defer sm.Close()
	load(t, sm)

	require.NoError(t, sm.Query(func(d *Directory) {
		assert.Equal(t, uint64(7), d.Version())
		assert.Equal(t, uint64(7), d.Projected())
		assert.Equal(t, uint64(7), d.Committing())
		assert.Equal(t, uint64(7), d.Committed())
		assert.False(t, d.Dirty())
		assert.Equal(t, 2, d.Len())

		e, ok := d.Get(session.ClientID(1))
		require.True(t, ok)
		assert.True(t, e.Equal(client(1)))
		assert.Equal(t, conf.Clock(), e.LastRenewal)
	}))
}

func TestLoadWaitersShareOneRead(t *testing.T) {
	store := newGatedStore(true)
	conf := testConfig()
	storeDirectory(t, store.Store, conf, 3)

	sm := New(conf, store)
	defer sm.Close()

	order := make(chan string, 3)
	for _, name := range []string{"a", "b", "c"} {
		sm.Load(func(err error) {
			assert.NoError(t, err)
			order <- name
		})
	}

	read := store.nextRead(t)
	settle(t, sm)
	assert.Len(t, store.reads, 0, "concurrent loads must share one read")

	read.release(nil)
	for _, want := range []string{"a", "b", "c"} {
		select {
		case got := <-order:
			assert.Equal(t, want, got)
		case <-time.After(testTimeout):
			t.Fatalf("timed out waiting for load callback %s", want)
		}
	}
}

func TestLoadTruncatedDirectoryLeavesMapUntouched(t *testing.T) {
	store := memstore.New()
	conf := testConfig()
	data := session.EncodeDirectory(4, map[session.Identity]session.Entry{session.ClientID(1): client(1)})
	require.NoError(t, store.Put(t.Context(), conf.Key(), data[:len(data)-3]))

	sm := New(conf, store)
	defer sm.Close()
	sm.Exec(func(d *Directory) { d.Add(client(9)) })

	w := newWaiter()
	sm.Load(w.cb())
	err := w.wait(t)
	assert.ErrorIs(t, err, ErrLoadFatal)
	assert.ErrorIs(t, err, session.ErrMalformedDirectory)
	assert.ErrorIs(t, err, session.ErrMalformedEntry)

	require.NoError(t, sm.Query(func(d *Directory) {
		assert.Equal(t, uint64(1), d.Version())
		assert.Equal(t, 1, d.Len())
		_, ok := d.Get(session.ClientID(9))
		assert.True(t, ok)
	}))
}

func TestLoadEmptySaveReload(t *testing.T) {
	store := memstore.New()
	conf := testConfig()
	storeDirectory(t, store, conf, 12)

	sm := New(conf, store)
	load(t, sm)
	w := newWaiter()
	sm.Save(w.cb(), 0)
	require.NoError(t, w.wait(t))
	sm.Close()

	assert.Equal(t, uint64(2), store.Writes())

	reloaded := New(conf, store)
	defer reloaded.Close()
	load(t, reloaded)

	require.NoError(t, reloaded.Query(func(d *Directory) {
		assert.Equal(t, uint64(12), d.Version())
		assert.Equal(t, uint64(12), d.Committed())
		assert.Zero(t, d.Len())
	}))
}

func TestLoadDeferredBehindWrite(t *testing.T) {
	store := newGatedStore(true)
	conf := testConfig()

	sm := New(conf, store)
	defer sm.Close()
	sm.Exec(func(d *Directory) { d.Add(client(1)) })

	saved := newWaiter()
	sm.Save(saved.cb(), 0)
	write := store.nextWrite(t)

	loaded := newWaiter()
	sm.Load(loaded.cb())
	settle(t, sm)
	assert.Len(t, store.reads, 0, "no read while a write is in flight")

	write.release(nil)
	require.NoError(t, saved.wait(t))

	store.nextRead(t).release(nil)
	require.NoError(t, loaded.wait(t))

	version, _, committed := state(t, sm)
	assert.Equal(t, uint64(1), version)
	assert.Equal(t, uint64(1), committed)
}

func TestSaveDuringLoadWritesLoadedMap(t *testing.T) {
	store := newGatedStore(true)
	conf := testConfig()
	storeDirectory(t, store.Store, conf, 7, client(1), client(2))

	sm := New(conf, store)
	defer sm.Close()

	loaded := newWaiter()
	sm.Load(loaded.cb())
	read := store.nextRead(t)

	saved := newWaiter()
	sm.Save(saved.cb(), 0)
	settle(t, sm)
	assert.False(t, inFlight(t, sm), "no write while the load is running")
	assert.Zero(t, store.writesIssued())
	assert.Equal(t, uint64(1), sm.Stats().SavesParked)
	assert.Zero(t, sm.Stats().SavesFolded)

	read.release(nil)
	require.NoError(t, loaded.wait(t))

	write := store.nextWrite(t)
	version, sessions := decode(t, write.data)
	assert.Equal(t, uint64(7), version)
	assert.Len(t, sessions, 2)
	assert.False(t, saved.fired())

	write.release(nil)
	require.NoError(t, saved.wait(t))
	assert.Equal(t, 1, saved.count())

	_, _, committed := state(t, sm)
	assert.Equal(t, uint64(7), committed)
	assert.Equal(t, 1, store.writesIssued())
}

func TestSaveBehindDeferredLoadWritesLoadedMap(t *testing.T) {
	store := newGatedStore(true)
	conf := testConfig()

	sm := New(conf, store)
	defer sm.Close()
	sm.Exec(func(d *Directory) { d.Add(client(1)) })

	first := newWaiter()
	sm.Save(first.cb(), 0)
	write := store.nextWrite(t)

	loaded := newWaiter()
	sm.Load(loaded.cb())
	second := newWaiter()
	sm.Save(second.cb(), 0)
	settle(t, sm)

	// the first write persists v1 with one session, the load then reads it
	// back and only afterwards the second save writes the loaded map
	write.release(nil)
	require.NoError(t, first.wait(t))
	assert.False(t, second.fired())

	store.nextRead(t).release(nil)
	require.NoError(t, loaded.wait(t))

	write = store.nextWrite(t)
	version, sessions := decode(t, write.data)
	assert.Equal(t, uint64(1), version)
	assert.Len(t, sessions, 1)
	write.release(nil)
	require.NoError(t, second.wait(t))
	assert.Equal(t, 2, store.writesIssued())
}

func TestSaveDuringFailedLoadFails(t *testing.T) {
	store := newGatedStore(true)
	sm := New(testConfig(), store)
	defer sm.Close()

	loaded := newWaiter()
	sm.Load(loaded.cb())
	read := store.nextRead(t)

	saved := newWaiter()
	sm.Save(saved.cb(), 0)
	settle(t, sm)

	read.release(nil)
	assert.ErrorIs(t, loaded.wait(t), ErrStorageReadFailed)

	err := saved.wait(t)
	assert.ErrorIs(t, err, ErrStorageWriteFailed)
	assert.True(t, objstore.IsNotFound(err))

	settle(t, sm)
	assert.False(t, inFlight(t, sm))
	assert.Zero(t, store.writesIssued(), "an unloaded map must not overwrite the stored one")
}

// --------------------------------------------------------------------------
// Save
// --------------------------------------------------------------------------

func TestSaveTwoEntries(t *testing.T) {
	store := newGatedStore(false)
	conf := testConfig()
	storeDirectory(t, store.Store, conf, 3)

	sm := New(conf, store)
	defer sm.Close()
	load(t, sm)

	sm.Exec(func(d *Directory) {
		d.Add(client(1))
		d.Add(client(2))
	})

	saved := newWaiter()
	sm.Save(saved.cb(), 0)

	write := store.nextWrite(t)
	assert.Equal(t, conf.Key(), write.key)
	assert.Equal(t, uint32(2), binary.LittleEndian.Uint32(write.data[8:12]))
	version, sessions := decode(t, write.data)
	assert.Equal(t, uint64(5), version)
	assert.Len(t, sessions, 2)

	v, committing, committed := state(t, sm)
	assert.Equal(t, uint64(5), v)
	assert.Equal(t, uint64(5), committing)
	assert.Equal(t, uint64(3), committed)
	assert.False(t, saved.fired(), "callback fired before the write was confirmed")

	write.release(nil)
	require.NoError(t, saved.wait(t))
	settle(t, sm)

	_, _, committed = state(t, sm)
	assert.Equal(t, uint64(5), committed)
	assert.Equal(t, 1, saved.count())
	assert.Equal(t, 1, store.writesIssued())
}

func TestSaveFoldsLowerTarget(t *testing.T) {
	store := newGatedStore(false)
	conf := testConfig()
	storeDirectory(t, store.Store, conf, 5)

	sm := New(conf, store)
	defer sm.Close()
	load(t, sm)

	first, second := newWaiter(), newWaiter()
	sm.Save(first.cb(), 5)
	write := store.nextWrite(t)
	sm.Save(second.cb(), 3)
	settle(t, sm)

	write.release(nil)
	require.NoError(t, first.wait(t))
	require.NoError(t, second.wait(t))

	assert.False(t, inFlight(t, sm))
	assert.Equal(t, 1, store.writesIssued())
	assert.Equal(t, 1, first.count())
	assert.Equal(t, 1, second.count())
}

func TestSaveSameTargetTwice(t *testing.T) {
	store := newGatedStore(false)
	conf := testConfig()
	storeDirectory(t, store.Store, conf, 10)

	sm := New(conf, store)
	defer sm.Close()
	load(t, sm)

	a, b := newWaiter(), newWaiter()
	sm.Save(a.cb(), 10)
	write := store.nextWrite(t)
	sm.Save(b.cb(), 10)
	settle(t, sm)
	assert.False(t, b.fired())

	write.release(nil)
	require.NoError(t, a.wait(t))
	require.NoError(t, b.wait(t))

	assert.False(t, inFlight(t, sm))
	assert.Equal(t, 1, store.writesIssued())
	assert.Equal(t, uint64(1), sm.Stats().SavesIssued)
	assert.Equal(t, uint64(1), sm.Stats().SavesFolded)
}

func TestMutationDuringFlightNeedsNextWrite(t *testing.T) {
	store := newGatedStore(false)
	conf := testConfig()
	storeDirectory(t, store.Store, conf, 5)

	sm := New(conf, store)
	defer sm.Close()
	load(t, sm)

	a := newWaiter()
	sm.Save(a.cb(), 0)
	first := store.nextWrite(t)

	sm.Exec(func(d *Directory) { d.Add(client(1)) })
	b := newWaiter()
	sm.Save(b.cb(), 0)
	settle(t, sm)

	// the first write is the map as of its issue
	version, sessions := decode(t, first.data)
	assert.Equal(t, uint64(5), version)
	assert.Empty(t, sessions)

	first.release(nil)
	require.NoError(t, a.wait(t))
	settle(t, sm)
	assert.False(t, b.fired(), "a v5 write must not satisfy a v6 request")

	second := store.nextWrite(t)
	version, sessions = decode(t, second.data)
	assert.Equal(t, uint64(6), version)
	assert.Len(t, sessions, 1)

	second.release(nil)
	require.NoError(t, b.wait(t))

	_, _, committed := state(t, sm)
	assert.Equal(t, uint64(6), committed)
	assert.Equal(t, 2, store.writesIssued())
}

func TestSaveTargetAboveVersion(t *testing.T) {
	store := newGatedStore(false)
	conf := testConfig()
	storeDirectory(t, store.Store, conf, 5)

	sm := New(conf, store)
	defer sm.Close()
	load(t, sm)

	w := newWaiter()
	sm.Save(w.cb(), 7)
	settle(t, sm)
	assert.False(t, inFlight(t, sm))
	assert.Equal(t, uint64(1), sm.Stats().SavesParked)
	assert.Zero(t, sm.Stats().SavesFolded, "nothing was in flight to fold into")

	sm.Exec(func(d *Directory) { d.Add(client(1)) })
	settle(t, sm)
	assert.False(t, inFlight(t, sm), "version 6 does not reach the requested 7")

	sm.Exec(func(d *Directory) { d.Add(client(2)) })
	write := store.nextWrite(t)
	version, _ := decode(t, write.data)
	assert.Equal(t, uint64(7), version)
	assert.False(t, w.fired())

	write.release(nil)
	require.NoError(t, w.wait(t))
}

func TestSaveFailure(t *testing.T) {
	store := newGatedStore(false)
	conf := testConfig()
	storeDirectory(t, store.Store, conf, 5)

	sm := New(conf, store)
	defer sm.Close()
	load(t, sm)
	sm.Exec(func(d *Directory) { d.Add(client(1)) })

	failed := newWaiter()
	sm.Save(failed.cb(), 0)
	store.nextWrite(t).release(errors.New("disk on fire"))

	err := failed.wait(t)
	assert.ErrorIs(t, err, ErrStorageWriteFailed)
	assert.ErrorContains(t, err, "disk on fire")

	version, committing, committed := state(t, sm)
	assert.Equal(t, uint64(6), version)
	assert.Equal(t, uint64(5), committing)
	assert.Equal(t, uint64(5), committed)
	require.NoError(t, sm.Query(func(d *Directory) {
		assert.Equal(t, 1, d.Len())
		assert.True(t, d.Dirty())
	}))

	// a retry by the caller goes through
	retried := newWaiter()
	sm.Save(retried.cb(), 0)
	store.nextWrite(t).release(nil)
	require.NoError(t, retried.wait(t))
	_, _, committed = state(t, sm)
	assert.Equal(t, uint64(6), committed)
	assert.Equal(t, 1, failed.count())
}

func TestSaveObjectTooLarge(t *testing.T) {
	store := memstore.New()
	conf := testConfig()
	conf.Layout.ObjectSize = 32

	sm := New(conf, store)
	defer sm.Close()
	sm.Exec(func(d *Directory) {
		d.Add(client(1))
		d.Add(client(2))
	})

	w := newWaiter()
	sm.Save(w.cb(), 0)
	err := w.wait(t)
	assert.ErrorIs(t, err, ErrStorageWriteFailed)
	assert.Equal(t, objstore.RetCObjectTooLarge, objstore.CodeOf(err))
	assert.Zero(t, store.Writes())
	assert.False(t, inFlight(t, sm))
}

func TestCommittedIsMonotonic(t *testing.T) {
	store := memstore.New()
	sm := New(testConfig(), store)
	defer sm.Close()

	type observation struct{ version, committed uint64 }
	var observations []observation
	observe := func(d *Directory) {
		observations = append(observations, observation{d.Version(), d.Committed()})
	}

	rnd := rand.New(rand.NewSource(42))
	var waiters []*waiter
	for i := 0; i < 200; i++ {
		i := i
		remove := rnd.Intn(4) == 0
		sm.Exec(func(d *Directory) {
			if remove && d.Len() > 0 {
				// every iteration changes the map, so the version after it is i+1
				var oldest session.Identity
				d.Range(func(e session.Entry) bool {
					oldest = e.ID
					return false
				})
				d.Remove(oldest)
				return
			}
			d.Add(client(int64(i)))
		})
		if rnd.Intn(3) == 0 {
			w := newWaiter()
			waiters = append(waiters, w)
			cb := w.cb()
			sm.Save(func(err error) {
				sm.Exec(observe)
				cb(err)
			}, uint64(i/2))
		}
	}
	final := newWaiter()
	waiters = append(waiters, final)
	sm.Save(final.cb(), 0)

	for _, w := range waiters {
		require.NoError(t, w.wait(t))
	}
	settle(t, sm)

	var last uint64
	require.NoError(t, sm.Query(func(*Directory) {
		for _, o := range observations {
			assert.GreaterOrEqual(t, o.committed, last)
			assert.LessOrEqual(t, o.committed, o.version)
			last = o.committed
		}
	}))
	for _, w := range waiters {
		assert.Equal(t, 1, w.count())
	}

	version, _, committed := state(t, sm)
	assert.Equal(t, version, committed)
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

func TestCloseAbandonsInFlightSave(t *testing.T) {
	store := newGatedStore(false)
	sm := New(testConfig(), store)

	w := newWaiter()
	sm.Save(w.cb(), 0)
	store.nextWrite(t)

	sm.Close()
	assert.False(t, w.fired())

	late := newWaiter()
	sm.Save(late.cb(), 0)
	sm.Load(late.cb())
	assert.False(t, late.fired())

	assert.ErrorIs(t, sm.Query(func(*Directory) {}), ErrClosed)
	assert.ErrorIs(t, sm.Dump(), ErrClosed)
	sm.Close()
}

func TestDirectoryMutations(t *testing.T) {
	sm := New(testConfig(), memstore.New())
	defer sm.Close()

	now := time.Unix(1800000000, 0)
	require.NoError(t, sm.Query(func(d *Directory) {
		assert.Equal(t, uint64(1), d.Project())
		assert.Equal(t, uint64(2), d.Project())
		assert.Equal(t, uint64(0), d.Version())

		assert.Equal(t, uint64(1), d.Add(client(1)))
		assert.Equal(t, uint64(2), d.Projected(), "applying a projected mutation keeps the projection")

		assert.Equal(t, uint64(2), d.Add(client(2)))
		assert.Equal(t, uint64(3), d.Add(client(3)))
		assert.Equal(t, uint64(3), d.Projected())

		v, ok := d.Remove(session.ClientID(2))
		assert.True(t, ok)
		assert.Equal(t, uint64(4), v)
		v, ok = d.Remove(session.ClientID(2))
		assert.False(t, ok)
		assert.Equal(t, uint64(4), v)

		assert.True(t, d.Touch(session.ClientID(1), now))
		assert.False(t, d.Touch(session.ClientID(2), now))
		assert.Equal(t, uint64(4), d.Version(), "renewals are not versioned")

		e, _ := d.Get(session.ClientID(1))
		assert.Equal(t, now, e.LastRenewal)

		// Get returns a copy
		e.CompletedRequests[0] = 999
		again, _ := d.Get(session.ClientID(1))
		assert.Equal(t, uint64(1), again.CompletedRequests[0])

		var ids []session.Identity
		d.Range(func(e session.Entry) bool {
			ids = append(ids, e.ID)
			return true
		})
		assert.Equal(t, []session.Identity{session.ClientID(1), session.ClientID(3)}, ids)
		assert.Len(t, d.Sessions(), 2)
	}))
}

func TestDumpAndMetrics(t *testing.T) {
	store := memstore.New()
	sm := New(testConfig(), store)
	defer sm.Close()

	sm.Exec(func(d *Directory) { d.Add(client(1)) })
	w := newWaiter()
	sm.Save(w.cb(), 0)
	require.NoError(t, w.wait(t))
	require.NoError(t, sm.Dump())
	settle(t, sm)

	s := sm.Stats()
	assert.Equal(t, uint64(1), s.Version)
	assert.Equal(t, uint64(1), s.Committed)
	assert.Equal(t, int64(1), s.Sessions)
	assert.Equal(t, uint64(1), s.SavesIssued)
	assert.Positive(t, s.BytesWritten)

	var buf bytes.Buffer
	sm.WritePrometheus(&buf)
	assert.Contains(t, buf.String(), `dmds_sessionmap_saves_total{rank="1",result="issued"} 1`)
	assert.Contains(t, buf.String(), `dmds_sessionmap_committed_version{rank="1"} 1`)
}

func TestListingShowsEverySession(t *testing.T) {
	d := newDirectory()
	d.install(4, map[session.Identity]session.Entry{
		client(1).ID: client(1),
		client(2).ID: client(2),
	})

	out := listing(d)
	assert.True(t, strings.HasPrefix(out, "session map v4 "), out)
	assert.Contains(t, out, "2 sessions")
	for _, e := range []session.Entry{client(1), client(2)} {
		assert.Contains(t, out, e.ID.String())
		assert.Contains(t, out, e.Addr)
	}
	assert.Equal(t, 3, strings.Count(out, "\n")+1)
}

func TestSyncWrappers(t *testing.T) {
	store := newGatedStore(false)
	conf := testConfig()
	storeDirectory(t, store.Store, conf, 2, client(1))

	sm := New(conf, store)
	require.NoError(t, sm.LoadSync(t.Context()))

	// nobody releases this write, so the caller's context ends the wait
	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, sm.SaveSync(ctx, 0), context.DeadlineExceeded)
	store.nextWrite(t)

	sm.Close()
	assert.ErrorIs(t, sm.SaveSync(t.Context(), 0), ErrClosed)
	assert.ErrorIs(t, sm.LoadSync(t.Context()), ErrClosed)
}
