package session

import (
	"fmt"
	"maps"
	"slices"
	"time"
)

// --------------------------------------------------------------------------
// Identity
// --------------------------------------------------------------------------

// EntityType is the kind of cluster entity owning a session.
type EntityType uint8

const (
	EntityMon    EntityType = 1
	EntityMDS    EntityType = 2
	EntityOSD    EntityType = 4
	EntityClient EntityType = 8
)

func (t EntityType) String() string {
	switch t {
	case EntityMon:
		return "mon"
	case EntityMDS:
		return "mds"
	case EntityOSD:
		return "osd"
	case EntityClient:
		return "client"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// Identity is the fixed-format, globally unique name of a session owner.
// It is the key of the session map.
type Identity struct {
	Type EntityType
	Num  int64
}

// ClientID returns the identity of the client with the given number.
func ClientID(num int64) Identity {
	return Identity{Type: EntityClient, Num: num}
}

func (id Identity) String() string {
	return fmt.Sprintf("%s.%d", id.Type, id.Num)
}

// Compare orders identities by type, then by number.
func (id Identity) Compare(other Identity) int {
	if id.Type != other.Type {
		if id.Type < other.Type {
			return -1
		}
		return 1
	}
	switch {
	case id.Num < other.Num:
		return -1
	case id.Num > other.Num:
		return 1
	default:
		return 0
	}
}

// --------------------------------------------------------------------------
// Entry
// --------------------------------------------------------------------------

// Entry is the persistent state of one client session.
type Entry struct {
	// ID identifies the session owner.
	ID Identity
	// Addr is the network address the client connected from.
	Addr string
	// CompletedRequests holds the transaction ids of requests that were already
	// completed for this client, so replays after a reconnect can be answered
	// without executing them twice.
	CompletedRequests []uint64
	// PreallocInodes holds inode numbers reserved for the client.
	PreallocInodes []uint64
	// Metadata is free-form client metadata (hostname, mount point, ...).
	Metadata map[string]string

	// LastRenewal is the last time the client renewed its capabilities.
	// It is never persisted: entries decoded from storage get the decode time.
	LastRenewal time.Time
}

// Clone returns a deep copy of the entry.
func (e Entry) Clone() Entry {
	c := e
	c.CompletedRequests = slices.Clone(e.CompletedRequests)
	c.PreallocInodes = slices.Clone(e.PreallocInodes)
	if e.Metadata != nil {
		c.Metadata = maps.Clone(e.Metadata)
	}
	return c
}

// Equal reports whether two entries carry the same persistent state.
// LastRenewal is ignored, it is not part of the persistent state.
func (e Entry) Equal(other Entry) bool {
	return e.ID == other.ID &&
		e.Addr == other.Addr &&
		slices.Equal(e.CompletedRequests, other.CompletedRequests) &&
		slices.Equal(e.PreallocInodes, other.PreallocInodes) &&
		maps.Equal(e.Metadata, other.Metadata)
}
