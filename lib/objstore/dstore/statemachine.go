package dstore

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"maps"
	"slices"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dMDS/lib/objstore"
	"github.com/ValentinKolb/dMDS/lib/objstore/dstore/internal"
	sm "github.com/lni/dragonboat/v4/statemachine"
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// State Machine Implementation
// --------------------------------------------------------------------------

// ObjectStateMachine is the dragonboat state machine holding the replicated object table.
// Stored values are never modified in place, so readers may share them.
type ObjectStateMachine struct {
	replicaID uint64
	shardID   uint64
	objects   *xsync.MapOf[string, []byte]
	applied   atomic.Uint64
}

// NewStateMachine creates the state machine for one replica of a shard.
// Its signature matches what dragonboat expects from a concurrent state machine factory.
func NewStateMachine(shardID uint64, replicaID uint64) sm.IConcurrentStateMachine {
	return &ObjectStateMachine{
		replicaID: replicaID,
		shardID:   shardID,
		objects:   xsync.NewMapOf[string, []byte](),
	}
}

// Lookup handles read-only queries on the object table.
func (fsm *ObjectStateMachine) Lookup(itf interface{}) (interface{}, error) {
	q, ok := itf.(internal.Query)
	if !ok {
		return nil, objstore.NewError(objstore.RetCInternalError, fmt.Sprintf("invalid Query type: %T", itf))
	}

	switch q.Type {
	case internal.QueryTGet:
		val, ok := fsm.objects.Load(q.Key)
		return internal.QueryResult{Value: val, Ok: ok}, nil
	case internal.QueryTExists:
		_, ok := fsm.objects.Load(q.Key)
		return ok, nil
	case internal.QueryTInfo:
		info := internal.TableInfo{AppliedIndex: fsm.applied.Load()}
		fsm.objects.Range(func(_ string, value []byte) bool {
			info.Objects++
			info.Bytes += uint64(len(value))
			return true
		})
		return info, nil
	default:
		return nil, objstore.NewError(objstore.RetCInvalidOperation, fmt.Sprintf("unknown Query operation: %d", q.Type))
	}
}

// Update applies a batch of committed commands to the object table.
func (fsm *ObjectStateMachine) Update(entries []sm.Entry) ([]sm.Entry, error) {
	if len(entries) == 0 {
		return entries, nil
	}

	start := time.Now()

	for idx, e := range entries {
		if len(e.Cmd) == 0 {
			entries[idx].Result = sm.Result{Value: uint64(objstore.RetCInvalidOperation), Data: []byte("empty command ignored")}
			continue
		}

		cmd := internal.Command{}
		if err := cmd.Deserialize(e.Cmd); err != nil {
			entries[idx].Result = sm.Result{
				Value: uint64(objstore.RetCInternalError),
				Data:  []byte(fmt.Sprintf("failed to deserialize command: %v", err)),
			}
			continue
		}

		switch cmd.Type {
		case internal.CommandTPut:
			fsm.objects.Store(cmd.Key, cmd.Value)
			entries[idx].Result = sm.Result{
				Value: uint64(objstore.RetCSuccess),
				Data:  []byte(fmt.Sprintf("put: key=%s", cmd.Key)),
			}
		case internal.CommandTRemove:
			fsm.objects.Delete(cmd.Key)
			entries[idx].Result = sm.Result{
				Value: uint64(objstore.RetCSuccess),
				Data:  []byte(fmt.Sprintf("removed: key=%s", cmd.Key)),
			}
		default:
			entries[idx].Result = sm.Result{
				Value: uint64(objstore.RetCInvalidOperation),
				Data:  []byte(fmt.Sprintf("unknown Command operation: %s", cmd.Type)),
			}
		}
	}
	fsm.applied.Store(entries[len(entries)-1].Index)

	if elapsed := time.Since(start); elapsed > time.Millisecond {
		log.Infof("state machine took long to update. Batch updated %d entries, took %.2fms", len(entries), float64(elapsed)/float64(time.Millisecond))
	}
	return entries, nil
}

// snapshotObject is one object captured by PrepareSnapshot
type snapshotObject struct {
	key   string
	value []byte
}

// PrepareSnapshot captures the object table. Values are immutable, so copying
// the references is enough for a consistent point-in-time view.
func (fsm *ObjectStateMachine) PrepareSnapshot() (interface{}, error) {
	table := make(map[string][]byte, fsm.objects.Size())
	fsm.objects.Range(func(key string, value []byte) bool {
		table[key] = value
		return true
	})

	keys := slices.Sorted(maps.Keys(table))
	snapshot := make([]snapshotObject, 0, len(keys))
	for _, key := range keys {
		snapshot = append(snapshot, snapshotObject{key: key, value: table[key]})
	}
	return snapshot, nil
}

// SaveSnapshot writes the table captured by PrepareSnapshot with the format:
// 8 bytes object count, then per object 4 bytes key length, key,
// 4 bytes value length, value (all big endian).
func (fsm *ObjectStateMachine) SaveSnapshot(ctx interface{}, writer io.Writer, _ sm.ISnapshotFileCollection, done <-chan struct{}) error {
	snapshot, ok := ctx.([]snapshotObject)
	if !ok {
		return fmt.Errorf("invalid snapshot context type: %T", ctx)
	}

	w := bufio.NewWriter(writer)
	var header [8]byte
	binary.BigEndian.PutUint64(header[:], uint64(len(snapshot)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}

	for _, obj := range snapshot {
		select {
		case <-done:
			return sm.ErrSnapshotStopped
		default:
		}
		if err := writeChunk(w, []byte(obj.key)); err != nil {
			return err
		}
		if err := writeChunk(w, obj.value); err != nil {
			return err
		}
	}
	return w.Flush()
}

// RecoverFromSnapshot replaces the object table with the content of a snapshot.
func (fsm *ObjectStateMachine) RecoverFromSnapshot(r io.Reader, _ []sm.SnapshotFile, done <-chan struct{}) error {
	reader := bufio.NewReader(r)

	var header [8]byte
	if _, err := io.ReadFull(reader, header[:]); err != nil {
		return fmt.Errorf("reading snapshot header: %w", err)
	}
	count := binary.BigEndian.Uint64(header[:])

	objects := xsync.NewMapOf[string, []byte]()
	for i := uint64(0); i < count; i++ {
		select {
		case <-done:
			return sm.ErrSnapshotStopped
		default:
		}
		key, err := readChunk(reader)
		if err != nil {
			return fmt.Errorf("reading key of object %d: %w", i, err)
		}
		value, err := readChunk(reader)
		if err != nil {
			return fmt.Errorf("reading value of object %d: %w", i, err)
		}
		objects.Store(string(key), value)
	}

	fsm.objects = objects
	return nil
}

// Close performs any necessary cleanup.
func (fsm *ObjectStateMachine) Close() error {
	fsm.objects.Clear()
	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func writeChunk(w io.Writer, data []byte) error {
	var size [4]byte
	binary.BigEndian.PutUint32(size[:], uint32(len(data)))
	if _, err := w.Write(size[:]); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

func readChunk(r io.Reader) ([]byte, error) {
	var size [4]byte
	if _, err := io.ReadFull(r, size[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(size[:])
	if n == 0 {
		return nil, nil
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}
