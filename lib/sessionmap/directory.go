package sessionmap

import (
	"maps"
	"slices"
	"time"

	"github.com/ValentinKolb/dMDS/lib/session"
)

// Directory is the live session directory of a SessionMap. It is only ever
// handed out inside Exec and Query functions, which run on the owner loop;
// it must not be retained or used outside of them.
type Directory struct {
	version   uint64
	projected uint64
	sessions  map[session.Identity]session.Entry
	tracker   *CommitTracker
}

func newDirectory() *Directory {
	return &Directory{
		sessions: make(map[session.Identity]session.Entry),
		tracker:  NewCommitTracker(0),
	}
}

// Version is the version of the live map.
func (d *Directory) Version() uint64 { return d.version }

// Projected is the version the map will have once all announced mutations are applied.
func (d *Directory) Projected() uint64 { return d.projected }

// Committing is the version being written, or Committed if no write is in flight.
func (d *Directory) Committing() uint64 { return d.tracker.Committing() }

// Committed is the highest version confirmed durable.
func (d *Directory) Committed() uint64 { return d.tracker.Committed() }

// Dirty reports whether the live map holds changes that are not durable yet.
func (d *Directory) Dirty() bool { return d.version > d.tracker.Committed() }

// Len returns the number of sessions.
func (d *Directory) Len() int { return len(d.sessions) }

// Get returns a copy of the session of id.
func (d *Directory) Get(id session.Identity) (session.Entry, bool) {
	e, ok := d.sessions[id]
	if !ok {
		return session.Entry{}, false
	}
	return e.Clone(), true
}

// Range calls fn for every session, ordered by identity, until fn returns false.
// The entries passed to fn are shared with the directory and must not be modified.
func (d *Directory) Range(fn func(e session.Entry) bool) {
	for _, id := range slices.SortedFunc(maps.Keys(d.sessions), session.Identity.Compare) {
		if !fn(d.sessions[id]) {
			return
		}
	}
}

// Sessions returns a deep copy of all sessions.
func (d *Directory) Sessions() map[session.Identity]session.Entry {
	out := make(map[session.Identity]session.Entry, len(d.sessions))
	for id, e := range d.sessions {
		out[id] = e.Clone()
	}
	return out
}

// Project announces an upcoming mutation and returns the version the map
// will have once it is applied.
func (d *Directory) Project() uint64 {
	d.projected++
	return d.projected
}

// Add inserts or replaces the session of e.ID and returns the new version.
func (d *Directory) Add(e session.Entry) uint64 {
	d.sessions[e.ID] = e.Clone()
	return d.bump()
}

// Remove deletes the session of id. It returns the new version and false if
// there was no such session, in which case the version is unchanged.
func (d *Directory) Remove(id session.Identity) (uint64, bool) {
	if _, ok := d.sessions[id]; !ok {
		return d.version, false
	}
	delete(d.sessions, id)
	return d.bump(), true
}

// Touch records a capability renewal of id at now. Renewals are not
// persisted and do not change the version.
func (d *Directory) Touch(id session.Identity, now time.Time) bool {
	e, ok := d.sessions[id]
	if !ok {
		return false
	}
	e.LastRenewal = now
	d.sessions[id] = e
	return true
}

func (d *Directory) bump() uint64 {
	d.version++
	d.projected = max(d.projected, d.version)
	return d.version
}

// install replaces the map wholesale with a loaded directory.
func (d *Directory) install(version uint64, sessions map[session.Identity]session.Entry) {
	d.sessions = sessions
	d.version = version
	d.projected = version
	d.tracker.Reset(version)
}
