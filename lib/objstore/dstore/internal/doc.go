// Package internal holds the wire structures exchanged between the dstore
// client and its replicated state machine.
//
// Commands (Put, Remove) change the object table. They are serialized into
// the raft log with the following layout:
//
//   - 1 byte: command type
//   - 4 bytes: key length (uint32, big endian)
//   - N bytes: key
//   - M bytes: object content (Put only, everything after the key)
//
// Queries (Get, Exists, Info) are executed locally on a replica through
// SyncRead or StaleRead and are never serialized.
//
// The types are not safe for concurrent use.
package internal
