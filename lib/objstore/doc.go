// Package objstore defines the whole-object storage interface the session map
// persists through, together with object naming and placement.
//
// An object is identified by an ObjectID (inode number plus block number) and
// placed by a Layout, which maps the object to a backend key of the form
// "<pool>/<ino hex>.<block as 8 hex digits>", e.g. "metadata/301.00000000".
//
// Backends live in subpackages:
//
//   - memstore: process-local map, for tests and single node setups
//   - fsstore: directory tree on an afero filesystem
//   - dstore: raft replicated object table built on dragonboat
//   - s3store, gcsstore, redisstore: remote object stores
//
// The backends package opens any of them from a URL, and storetest holds the
// conformance suite they all pass.
//
// Errors returned by backends are *Error values carrying a RetCode. Callers
// test for a missing object with IsNotFound.
package objstore
