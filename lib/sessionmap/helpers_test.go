package sessionmap

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dMDS/lib/objstore"
	"github.com/ValentinKolb/dMDS/lib/objstore/memstore"
	"github.com/ValentinKolb/dMDS/lib/session"
	"github.com/stretchr/testify/require"
)

const testTimeout = 5 * time.Second

// pendingIO is a store call held back until the test releases it.
type pendingIO struct {
	key  string
	data []byte
	done chan error
}

// release lets the call finish with err.
func (p *pendingIO) release(err error) {
	p.done <- err
}

// gatedStore is a memstore whose Put (and optionally Get) calls block until
// the test releases them. Released writes with a nil error are applied.
type gatedStore struct {
	*memstore.Store
	writes    chan *pendingIO
	reads     chan *pendingIO
	gateReads bool

	mu     sync.Mutex
	issued int
}

func newGatedStore(gateReads bool) *gatedStore {
	return &gatedStore{
		Store:     memstore.New(),
		writes:    make(chan *pendingIO, 16),
		reads:     make(chan *pendingIO, 16),
		gateReads: gateReads,
	}
}

func (g *gatedStore) Put(ctx context.Context, key string, data []byte) error {
	g.mu.Lock()
	g.issued++
	g.mu.Unlock()

	p := &pendingIO{key: key, data: append([]byte{}, data...), done: make(chan error, 1)}
	g.writes <- p
	select {
	case err := <-p.done:
		if err != nil {
			return err
		}
		return g.Store.Put(ctx, key, data)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *gatedStore) Get(ctx context.Context, key string) ([]byte, error) {
	if !g.gateReads {
		return g.Store.Get(ctx, key)
	}
	p := &pendingIO{key: key, done: make(chan error, 1)}
	g.reads <- p
	select {
	case err := <-p.done:
		if err != nil {
			return nil, err
		}
		return g.Store.Get(ctx, key)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// writesIssued returns how many Put calls reached the store.
func (g *gatedStore) writesIssued() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.issued
}

func (g *gatedStore) nextWrite(t *testing.T) *pendingIO {
	t.Helper()
	select {
	case p := <-g.writes:
		return p
	case <-time.After(testTimeout):
		t.Fatalf("timed out waiting for a write")
		return nil
	}
}

func (g *gatedStore) nextRead(t *testing.T) *pendingIO {
	t.Helper()
	select {
	case p := <-g.reads:
		return p
	case <-time.After(testTimeout):
		t.Fatalf("timed out waiting for a read")
		return nil
	}
}

// waiter records the invocations of one callback.
type waiter struct {
	mu    sync.Mutex
	calls int
	err   error
	done  chan struct{}
}

func newWaiter() *waiter {
	return &waiter{done: make(chan struct{})}
}

func (w *waiter) cb() Callback {
	return func(err error) {
		w.mu.Lock()
		defer w.mu.Unlock()
		w.calls++
		w.err = err
		if w.calls == 1 {
			close(w.done)
		}
	}
}

// wait blocks until the callback fired and returns its error.
func (w *waiter) wait(t *testing.T) error {
	t.Helper()
	select {
	case <-w.done:
	case <-time.After(testTimeout):
		t.Fatalf("timed out waiting for callback")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

func (w *waiter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls
}

func (w *waiter) fired() bool {
	return w.count() > 0
}

// settle waits until everything posted to sm so far has run.
func settle(t *testing.T, sm *SessionMap) {
	t.Helper()
	require.NoError(t, sm.Query(func(*Directory) {}))
}

// state reads the version markers of sm.
func state(t *testing.T, sm *SessionMap) (version, committing, committed uint64) {
	t.Helper()
	require.NoError(t, sm.Query(func(d *Directory) {
		version, committing, committed = d.Version(), d.Committing(), d.Committed()
	}))
	return
}

func testConfig() Config {
	return Config{
		NodeRank: 1,
		Layout:   objstore.Layout{Pool: "metadata"},
		Clock:    func() time.Time { return time.Unix(1700000000, 0) },
	}
}

func client(num int64) session.Entry {
	return session.Entry{
		ID:                session.ClientID(num),
		Addr:              fmt.Sprintf("10.0.0.1:0/%d", num),
		CompletedRequests: []uint64{uint64(num), uint64(num) + 1},
		Metadata:          map[string]string{"hostname": "host"},
	}
}

// storeDirectory puts an encoded directory at the config's key.
func storeDirectory(t *testing.T, store objstore.Store, conf Config, version uint64, entries ...session.Entry) {
	t.Helper()
	sessions := make(map[session.Identity]session.Entry)
	for _, e := range entries {
		sessions[e.ID] = e
	}
	require.NoError(t, store.Put(context.Background(), conf.Key(), session.EncodeDirectory(version, sessions)))
}
