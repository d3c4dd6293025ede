// Package sessionmap keeps the session directory of a metadata node and
// persists it as one versioned object.
//
// The directory tracks four versions:
//
//   - version: the version of the live map, bumped by every applied mutation
//   - projected: the version the map will reach once announced mutations apply
//   - committing: the version of the write in flight
//   - committed: the highest version the store confirmed durable
//
// with committed <= committing <= version while a write is in flight.
//
// Load reads the directory object once at startup and installs it. Save asks
// for durability up to a version; the CommitTracker folds requests into the
// write in flight where that satisfies them, so the store never sees two
// concurrent writes of the object. Every callback fires exactly once, after
// the store confirmed a version at least as high as the one it waited for.
//
// Concurrency model: a SessionMap owns a util.Loop. Mutations (Exec), save
// and load requests and the completions of store calls all run on it, so the
// directory needs no locks. Store calls run on their own goroutines and post
// their completion back to the loop. LoadSync and SaveSync wrap Load and Save
// for callers that want to block.
//
// Usage:
//
//	sm := sessionmap.New(sessionmap.Config{
//		NodeRank: 0,
//		Layout:   objstore.DefaultLayout(),
//	}, store)
//	defer sm.Close()
//
//	sm.Load(func(err error) { ... })
//	sm.Exec(func(d *sessionmap.Directory) {
//		d.Add(session.Entry{ID: session.ClientID(4123), Addr: "10.0.0.7:0/3141"})
//	})
//	sm.Save(func(err error) { ... }, 0)
package sessionmap
