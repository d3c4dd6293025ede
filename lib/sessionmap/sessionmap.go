package sessionmap

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dMDS/lib/objstore"
	"github.com/ValentinKolb/dMDS/lib/session"
	"github.com/ValentinKolb/dMDS/lib/util"
	"github.com/eapache/queue"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("sessionmap")

// InodeBase is the inode number of rank 0's session map object. Every rank
// stores its directory at InodeBase+rank.
const InodeBase = 0x300

// Config describes where a session map lives.
type Config struct {
	// NodeRank is the rank of the metadata node owning the map.
	NodeRank uint64
	// InodeBase overrides the base inode number. 0 means InodeBase.
	InodeBase uint64
	// Layout places the directory object in the store.
	Layout objstore.Layout
	// Clock returns the current time, used as renewal time of loaded sessions.
	// Defaults to time.Now.
	Clock func() time.Time
}

// ObjectID returns the id of the object holding the directory.
func (c Config) ObjectID() objstore.ObjectID {
	base := c.InodeBase
	if base == 0 {
		base = InodeBase
	}
	return objstore.ObjectID{Ino: base + c.NodeRank}
}

// Key returns the store key of the directory object.
func (c Config) Key() string {
	return c.Layout.Locate(c.ObjectID())
}

// SessionMap keeps the session directory of one metadata node and persists
// it as a single versioned object.
//
// All state is owned by an internal loop: Load, Save and Exec only post work
// to it and return immediately, callbacks run on the loop. Callbacks must not
// call Query (it would wait for its own loop).
type SessionMap struct {
	conf  Config
	key   string
	store objstore.Store

	loop     *util.Loop
	objecter *objecter
	cancel   context.CancelFunc
	closed   atomic.Bool

	// owned by the loop
	dir         *Directory
	loading     bool
	loadPending bool
	loadWaiters *queue.Queue
	loadSaves   *queue.Queue
	writeStart  time.Time

	metrics *sessionMetrics
}

// New creates an empty session map persisting through store. The map holds
// version 0 until Load installs the stored directory.
func New(conf Config, store objstore.Store) *SessionMap {
	if conf.Clock == nil {
		conf.Clock = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	loop := util.NewLoop()

	sm := &SessionMap{
		conf:        conf,
		key:         conf.Key(),
		store:       store,
		loop:        loop,
		objecter:    newObjecter(ctx, store, loop),
		cancel:      cancel,
		dir:         newDirectory(),
		loadWaiters: queue.New(),
		loadSaves:   queue.New(),
		metrics:     newSessionMetrics(conf.NodeRank),
	}
	log.Debugf("created session map of rank %d at %s (%s)", conf.NodeRank, sm.key, store.Provider())
	return sm
}

// Key returns the store key of the directory object.
func (sm *SessionMap) Key() string {
	return sm.key
}

// --------------------------------------------------------------------------
// Load
// --------------------------------------------------------------------------

// Load reads the directory object and replaces the live map with it.
// onLoaded fires once the load finished; concurrent calls share one read.
//
// Read failures are reported as ErrStorageReadFailed, an undecodable object
// as ErrLoadFatal. In both cases the live map is left untouched. A load
// requested while a write is in flight starts once that write finished.
// Calling Load again after it completed reads the object again.
func (sm *SessionMap) Load(onLoaded Callback) {
	sm.post(func() {
		sm.loadWaiters.Add(onLoaded)
		if sm.loading || sm.loadPending {
			return
		}
		if sm.dir.tracker.InFlight() {
			sm.loadPending = true
			return
		}
		sm.startLoad()
	})
}

func (sm *SessionMap) startLoad() {
	sm.loading = true
	sm.loadPending = false
	log.Debugf("loading session map from %s", sm.key)
	sm.objecter.read(sm.key, sm.loadFinish)
}

func (sm *SessionMap) loadFinish(data []byte, err error) {
	sm.loading = false

	if err != nil {
		err = fmt.Errorf("%w: %s: %w", ErrStorageReadFailed, sm.key, err)
	} else {
		version, sessions, decErr := session.DecodeDirectory(data, sm.conf.Clock())
		if decErr != nil {
			err = fmt.Errorf("%w: %s: %w", ErrLoadFatal, sm.key, decErr)
		} else {
			sm.dir.install(version, sessions)
			log.Infof("loaded session map v%d with %d sessions from %s", version, len(sessions), sm.key)
			log.Debugf("%s", listing(sm.dir))
		}
	}

	if err != nil {
		sm.metrics.loadsFailed.Inc()
		log.Errorf("loading session map failed: %v", err)
	} else {
		sm.metrics.loads.Inc()
	}
	sm.metrics.observe(sm.dir)

	waiters := sm.loadWaiters
	sm.loadWaiters = queue.New()
	for waiters.Length() > 0 {
		if cb := waiters.Remove().(Callback); cb != nil {
			cb(err)
		}
	}

	saves := sm.loadSaves
	sm.loadSaves = queue.New()
	for saves.Length() > 0 {
		req := saves.Remove().(saveRequest)
		if err != nil {
			if req.cb != nil {
				req.cb(fmt.Errorf("%w: %s: map not loaded: %w", ErrStorageWriteFailed, sm.key, err))
			}
			continue
		}
		sm.requestSave(req.cb, req.target)
	}

	sm.next()
}

// --------------------------------------------------------------------------
// Save
// --------------------------------------------------------------------------

// Save makes the directory durable at least up to version target (0 for the
// live version) and fires onSaved once it is, or with ErrStorageWriteFailed
// if the write carrying it failed.
//
// At most one write is in flight. A request the in-flight write satisfies is
// folded into it, any other request is served by a later write of the live
// map. Each write persists the map exactly as it was when the write was issued.
//
// A request made while a load is running or pending waits for the load and is
// then served against the loaded map; if the load fails it fails as well.
func (sm *SessionMap) Save(onSaved Callback, target uint64) {
	sm.post(func() {
		sm.metrics.savesRequested.Inc()
		if sm.loading || sm.loadPending {
			sm.loadSaves.Add(saveRequest{cb: onSaved, target: target})
			sm.metrics.savesParked.Inc()
			return
		}
		sm.requestSave(onSaved, target)
	})
}

type saveRequest struct {
	cb     Callback
	target uint64
}

func (sm *SessionMap) requestSave(cb Callback, target uint64) {
	t := sm.dir.tracker
	effective := target
	if effective == 0 {
		effective = sm.dir.version
	}
	folded := t.InFlight() && t.Committing() >= effective

	issue, w := t.RequestSave(target, sm.dir.version, cb)
	if !issue {
		if folded {
			sm.metrics.savesFolded.Inc()
		} else {
			sm.metrics.savesParked.Inc()
		}
		sm.metrics.observe(sm.dir)
		return
	}
	sm.write(w)
}

// write encodes the live map and issues it as version w.
func (sm *SessionMap) write(w uint64) {
	data := session.EncodeDirectory(w, sm.dir.sessions)

	if err := sm.conf.Layout.CheckSize(len(data)); err != nil {
		sm.metrics.savesFailed.Inc()
		sm.dir.tracker.WriteFailed(w, fmt.Errorf("%w: %s v%d: %w", ErrStorageWriteFailed, sm.key, w, err))
		log.Errorf("session map v%d not written: %v", w, err)
		sm.next()
		return
	}

	log.Debugf("writing session map v%d (%d sessions, %d bytes) to %s", w, len(sm.dir.sessions), len(data), sm.key)
	sm.metrics.writeIssued(len(data))
	sm.metrics.observe(sm.dir)
	sm.writeStart = time.Now()
	sm.objecter.writeFull(sm.key, data, func(err error) {
		sm.writeFinish(w, err)
	})
}

func (sm *SessionMap) writeFinish(w uint64, err error) {
	sm.metrics.writeFinished(sm.writeStart, err)
	if err != nil {
		log.Errorf("writing session map v%d failed: %v", w, err)
		sm.dir.tracker.WriteFailed(w, fmt.Errorf("%w: %s v%d: %w", ErrStorageWriteFailed, sm.key, w, err))
	} else {
		log.Debugf("session map v%d committed", w)
		sm.dir.tracker.WriteFinished(w)
	}
	sm.metrics.observe(sm.dir)
	sm.next()
}

// next starts whatever waited for the write that just ended: a deferred load
// first, then a write for parked save requests.
func (sm *SessionMap) next() {
	if sm.dir.tracker.InFlight() || sm.loading {
		return
	}
	if sm.loadPending {
		sm.startLoad()
		return
	}
	if issue, w := sm.dir.tracker.NextWrite(sm.dir.version); issue {
		sm.write(w)
	}
}

// LoadSync is Load for callers off the loop: it blocks until the load
// finished or ctx is done.
func (sm *SessionMap) LoadSync(ctx context.Context) error {
	return sm.await(ctx, sm.Load)
}

// SaveSync is Save for callers off the loop: it blocks until the map is
// durable up to target or ctx is done.
func (sm *SessionMap) SaveSync(ctx context.Context, target uint64) error {
	return sm.await(ctx, func(cb Callback) { sm.Save(cb, target) })
}

func (sm *SessionMap) await(ctx context.Context, start func(cb Callback)) error {
	if sm.closed.Load() {
		return ErrClosed
	}
	done := make(chan error, 1)
	start(func(err error) { done <- err })
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-sm.loop.Done():
		return ErrClosed
	}
}

// --------------------------------------------------------------------------
// Access
// --------------------------------------------------------------------------

// Exec runs fn on the owner loop and returns immediately.
// Save requests parked for a version fn reaches are written afterwards.
func (sm *SessionMap) Exec(fn func(d *Directory)) {
	sm.post(func() {
		fn(sm.dir)
		sm.metrics.observe(sm.dir)
		sm.next()
	})
}

// Query runs fn on the owner loop and waits for it. It must not be called
// from a callback or an Exec function.
func (sm *SessionMap) Query(fn func(d *Directory)) error {
	if sm.closed.Load() || !sm.loop.Call(func() { fn(sm.dir) }) {
		return ErrClosed
	}
	return nil
}

// Stats returns counters and the last observed state of the map.
func (sm *SessionMap) Stats() Stats {
	return sm.metrics.stats()
}

// WritePrometheus writes the map's metrics in Prometheus text format.
func (sm *SessionMap) WritePrometheus(w io.Writer) {
	sm.metrics.writePrometheus(w)
}

// Dump logs the whole directory at info level.
func (sm *SessionMap) Dump() error {
	return sm.Query(func(d *Directory) {
		log.Infof("%s", listing(d))
	})
}

// listing renders the directory state followed by one line per session.
func listing(d *Directory) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "session map v%d (projected %d, committing %d, committed %d), %d sessions",
		d.Version(), d.Projected(), d.Committing(), d.Committed(), d.Len())
	d.Range(func(e session.Entry) bool {
		fmt.Fprintf(&sb, "\n  %-20s %-24s completed=%d prealloc=%d renewed=%s",
			e.ID, e.Addr, len(e.CompletedRequests), len(e.PreallocInodes), e.LastRenewal.Format(time.RFC3339))
		return true
	})
	return sb.String()
}

// Close stops the map. In-flight loads and saves are abandoned: their
// callbacks never fire, and neither do the callbacks of later calls.
// The store is not closed.
func (sm *SessionMap) Close() {
	if !sm.closed.CompareAndSwap(false, true) {
		return
	}
	sm.cancel()
	sm.loop.Close()
	sm.objecter.wait()
	sm.metrics.close()
	log.Debugf("closed session map of rank %d", sm.conf.NodeRank)
}

func (sm *SessionMap) post(task util.Task) {
	if sm.closed.Load() {
		return
	}
	sm.loop.Post(task)
}
