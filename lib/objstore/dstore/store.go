package dstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ValentinKolb/dMDS/lib/objstore"
	"github.com/ValentinKolb/dMDS/lib/objstore/dstore/internal"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/client"
	"github.com/lni/dragonboat/v4/config"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	retries = 5
	log     = logger.GetLogger("objstore")
)

// Store is the raft replicated object store. It talks to the local replica of
// one shard through a dragonboat NodeHost.
type Store struct {
	nh      *dragonboat.NodeHost
	ownsNH  bool
	shardID uint64
	cs      *client.Session
	timeout time.Duration
}

// New creates a store on an already running shard of nh.
// The caller keeps ownership of nh; Close does not stop it.
func New(nh *dragonboat.NodeHost, shardID uint64, timeout time.Duration) *Store {
	return &Store{
		nh:      nh,
		shardID: shardID,
		cs:      nh.GetNoOPSession(shardID),
		timeout: timeout,
	}
}

// Start creates a NodeHost, starts the local replica of the object shard and
// returns a store owning both. Close stops the NodeHost.
func Start(nhConf config.NodeHostConfig, members map[uint64]string, rc config.Config, timeout time.Duration) (*Store, error) {
	nh, err := dragonboat.NewNodeHost(nhConf)
	if err != nil {
		return nil, fmt.Errorf("failed to create node host: %w", err)
	}
	if err := nh.StartConcurrentReplica(members, false, NewStateMachine, rc); err != nil {
		nh.Close()
		return nil, fmt.Errorf("failed to start shard %d: %w", rc.ShardID, err)
	}
	log.Infof("started replica %d of object shard %d", rc.ReplicaID, rc.ShardID)

	s := New(nh, rc.ShardID, timeout)
	s.ownsNH = true
	return s, nil
}

// --------------------------------------------------------------------------
// Internal write and read operations (used by interface methods)
// --------------------------------------------------------------------------

// write proposes a serialized Command and waits until it was applied.
// Busy errors are retried.
func (s *Store) write(ctx context.Context, cmd internal.Command) error {
	data := cmd.Serialize()
	for i := 0; i < retries; i++ {
		proposeCtx, cancel := context.WithTimeout(ctx, s.timeout)
		res, err := s.nh.SyncPropose(proposeCtx, s.cs, data)
		cancel()

		if errors.Is(err, dragonboat.ErrSystemBusy) {
			log.Infof("SyncPropose: System busy, retrying (%d/%d)...", i+1, retries)
			if !sleep(ctx, s.timeout/10) {
				break
			}
			continue
		}

		if err != nil {
			return objstore.WrapError(objstore.RetCInternalError, fmt.Sprintf("%s %s", cmd.Type, cmd.Key), err)
		}
		if res.Value != uint64(objstore.RetCSuccess) {
			return objstore.NewError(objstore.RetCode(res.Value), string(res.Data))
		}
		return nil
	}
	return objstore.WrapError(objstore.RetCInternalError, "timeout", ctx.Err())
}

// read queries the state machine and converts the response into the expected type R.
//
// Reads are linearizable (SyncRead) unless stale is set, in which case the
// faster StaleRead is used. Busy errors are retried.
func read[R any](ctx context.Context, s *Store, q internal.Query, stale bool) (R, error) {
	var zero R
	for i := 0; i < retries; i++ {
		var res interface{}
		var err error

		if stale {
			res, err = s.nh.StaleRead(s.shardID, q)
		} else {
			readCtx, cancel := context.WithTimeout(ctx, s.timeout)
			res, err = s.nh.SyncRead(readCtx, s.shardID, q)
			cancel()
		}

		if errors.Is(err, dragonboat.ErrSystemBusy) {
			log.Infof("SyncRead: System busy, retrying (%d/%d)...", i+1, retries)
			if !sleep(ctx, s.timeout/10) {
				break
			}
			continue
		}

		if err != nil {
			var se *objstore.Error
			if errors.As(err, &se) {
				return zero, se
			}
			return zero, objstore.WrapError(objstore.RetCInternalError, fmt.Sprintf("%s %s", q.Type, q.Key), err)
		}

		casted, ok := res.(R)
		if !ok {
			return zero, objstore.NewError(objstore.RetCInternalError,
				fmt.Sprintf("unexpected type: received %T, expected %T", res, zero))
		}
		return casted, nil
	}
	return zero, objstore.WrapError(objstore.RetCInternalError, "timeout", ctx.Err())
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docs see objstore/interface.go)
// --------------------------------------------------------------------------

func (s *Store) Provider() string {
	return "raft"
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	res, err := read[internal.QueryResult](ctx, s, internal.Query{
		Type: internal.QueryTGet,
		Key:  key,
	}, false)
	if err != nil {
		return nil, err
	}
	if !res.Ok {
		return nil, objstore.NotFound(key)
	}
	// the state machine shares its values, hand out a private copy
	return append([]byte{}, res.Value...), nil
}

func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	return s.write(ctx, internal.Command{
		Type:  internal.CommandTPut,
		Key:   key,
		Value: data,
	})
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	return read[bool](ctx, s, internal.Query{
		Type: internal.QueryTExists,
		Key:  key,
	}, false)
}

func (s *Store) Remove(ctx context.Context, key string) error {
	return s.write(ctx, internal.Command{
		Type: internal.CommandTRemove,
		Key:  key,
	})
}

func (s *Store) Close() error {
	if s.ownsNH {
		s.nh.Close()
	}
	return nil
}

// Info returns statistics of the local replica's object table (stale read).
func (s *Store) Info(ctx context.Context) (TableInfo, error) {
	return read[TableInfo](ctx, s, internal.Query{Type: internal.QueryTInfo}, true)
}

// TableInfo describes the object table of one replica.
type TableInfo = internal.TableInfo
