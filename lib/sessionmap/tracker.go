package sessionmap

import (
	"maps"
	"slices"

	"github.com/eapache/queue"
)

// CommitTracker arbitrates save requests for one directory. It keeps the
// committing and committed markers and the commit waiters, and makes sure at
// most one write is outstanding at any time.
//
// A tracker is owned by a single goroutine and does no locking.
type CommitTracker struct {
	committing uint64
	committed  uint64
	inflight   bool

	// callbacks by version, FIFO per version
	waiters map[uint64]*queue.Queue
}

// NewCommitTracker creates a tracker for a directory that is durable at version committed.
func NewCommitTracker(committed uint64) *CommitTracker {
	return &CommitTracker{
		committing: committed,
		committed:  committed,
		waiters:    make(map[uint64]*queue.Queue),
	}
}

// Committing returns the version of the write in flight, or Committed if there is none.
func (t *CommitTracker) Committing() uint64 { return t.committing }

// Committed returns the highest version confirmed durable.
func (t *CommitTracker) Committed() uint64 { return t.committed }

// InFlight reports whether a write is outstanding.
func (t *CommitTracker) InFlight() bool { return t.inflight }

// Waiting returns the number of registered callbacks.
func (t *CommitTracker) Waiting() int {
	n := 0
	for _, q := range t.waiters {
		n += q.Length()
	}
	return n
}

// Reset moves both markers to v after the directory was loaded.
// It must not be called while a write is in flight.
func (t *CommitTracker) Reset(v uint64) {
	t.committing = v
	t.committed = v
}

// RequestSave registers cb to fire once the directory is durable at target
// (0 meaning the live version) and decides whether a write must be issued.
// version is the live version of the directory.
//
// If issue is true the caller must write the directory at writeVersion and
// report the outcome with WriteFinished or WriteFailed.
//
//   - A write in flight at committing >= target absorbs the request.
//   - Otherwise, with nothing in flight and target <= version, the live
//     version is written.
//   - Everything else is parked under target and served by the first write of
//     a version >= target (see NextWrite).
func (t *CommitTracker) RequestSave(target, version uint64, cb Callback) (issue bool, writeVersion uint64) {
	if target == 0 {
		target = version
	}

	if t.inflight {
		if t.committing >= target {
			t.enqueue(t.committing, cb)
		} else {
			t.enqueue(target, cb)
		}
		return false, 0
	}

	if target > version {
		t.enqueue(target, cb)
		return false, 0
	}

	t.enqueue(version, cb)
	return true, t.begin(version)
}

// NextWrite starts a write of the live version if no write is in flight and
// parked callbacks are satisfiable by it.
func (t *CommitTracker) NextWrite(version uint64) (issue bool, writeVersion uint64) {
	if t.inflight {
		return false, 0
	}
	for v := range t.waiters {
		if v <= version {
			return true, t.begin(version)
		}
	}
	return false, 0
}

// WriteFinished records that the write of version w is durable and fires the
// callbacks waiting for it in registration order.
func (t *CommitTracker) WriteFinished(w uint64) {
	t.inflight = false
	t.committing = w
	t.committed = max(t.committed, w)
	t.drain(w, nil)
}

// WriteFailed records that the write of version w failed. committed stays
// where it was and the callbacks waiting for w fire with err.
func (t *CommitTracker) WriteFailed(w uint64, err error) {
	t.inflight = false
	t.committing = t.committed
	t.drain(w, err)
}

// begin marks a write of version v in flight. Parked callbacks with a target
// at or below v ride along with it: they are moved to v, lowest target first.
func (t *CommitTracker) begin(v uint64) uint64 {
	var merged *queue.Queue
	for _, target := range slices.Sorted(maps.Keys(t.waiters)) {
		if target > v {
			break
		}
		q := t.waiters[target]
		delete(t.waiters, target)
		if merged == nil {
			merged = q
			continue
		}
		for q.Length() > 0 {
			merged.Add(q.Remove())
		}
	}
	if merged != nil {
		t.waiters[v] = merged
	}

	t.inflight = true
	t.committing = v
	return v
}

func (t *CommitTracker) enqueue(v uint64, cb Callback) {
	q, ok := t.waiters[v]
	if !ok {
		q = queue.New()
		t.waiters[v] = q
	}
	q.Add(cb)
}

// drain detaches the callbacks of version v before invoking them, so a
// callback may register new ones.
func (t *CommitTracker) drain(v uint64, err error) {
	q, ok := t.waiters[v]
	if !ok {
		return
	}
	delete(t.waiters, v)
	for q.Length() > 0 {
		if cb := q.Remove().(Callback); cb != nil {
			cb(err)
		}
	}
}
