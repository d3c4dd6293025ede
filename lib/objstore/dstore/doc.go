// Package dstore implements objstore.Store as a raft replicated object table
// on top of dragonboat.
//
// Every replica of the object shard runs an ObjectStateMachine, a concurrent
// state machine keeping all objects in memory. Writes (Put, Remove) are
// serialized into internal.Command values and proposed with SyncPropose;
// a write returns once a majority has applied it. Reads are linearizable
// SyncRead queries against the local replica, Info uses a StaleRead.
//
// Snapshots capture the whole table: PrepareSnapshot takes a point-in-time
// view (stored values are immutable), SaveSnapshot streams it as length
// prefixed key/value pairs while updates continue.
//
// Usage:
//
//	store, err := dstore.Start(conf.ToNodeHostConfig(), conf.ClusterMembers,
//		conf.ToDragonboatConfig(conf.ShardID), 5*time.Second)
//	if err != nil {
//		return err
//	}
//	defer store.Close()
//
// Busy NodeHosts are retried a few times before an operation fails with
// objstore.RetCInternalError.
package dstore
