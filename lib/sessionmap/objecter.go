package sessionmap

import (
	"context"
	"sync"

	"github.com/ValentinKolb/dMDS/lib/objstore"
	"github.com/ValentinKolb/dMDS/lib/util"
)

// objecter issues store calls without blocking the owner loop: every call
// runs on its own goroutine and its completion is posted back onto the loop.
// Completions arriving after the context was cancelled are dropped.
type objecter struct {
	store    objstore.Store
	loop     *util.Loop
	ctx      context.Context
	inflight sync.WaitGroup
}

func newObjecter(ctx context.Context, store objstore.Store, loop *util.Loop) *objecter {
	return &objecter{store: store, loop: loop, ctx: ctx}
}

// read fetches the whole object at key and calls onFinish on the loop.
func (o *objecter) read(key string, onFinish func(data []byte, err error)) {
	if o.ctx.Err() != nil {
		return
	}
	o.inflight.Add(1)
	go func() {
		defer o.inflight.Done()
		data, err := o.store.Get(o.ctx, key)
		o.complete(func() { onFinish(data, err) })
	}()
}

// writeFull replaces the object at key with data and calls onFinish on the loop.
func (o *objecter) writeFull(key string, data []byte, onFinish func(err error)) {
	if o.ctx.Err() != nil {
		return
	}
	o.inflight.Add(1)
	go func() {
		defer o.inflight.Done()
		err := o.store.Put(o.ctx, key, data)
		o.complete(func() { onFinish(err) })
	}()
}

func (o *objecter) complete(task util.Task) {
	o.loop.Post(func() {
		if o.ctx.Err() != nil {
			return
		}
		task()
	})
}

// wait blocks until all issued calls have returned from the store.
// No call may be issued concurrently with it.
func (o *objecter) wait() {
	o.inflight.Wait()
}
