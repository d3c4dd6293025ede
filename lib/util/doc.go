// Package util provides the scheduling primitives the rest of dMDS is built on.
//
//   - LockFreeMPSC: a lock-free multi-producer single-consumer queue. Any number
//     of goroutines may Push, a single internal goroutine delivers the values
//     through the channel returned by Recv.
//   - Loop: an owner task queue built on LockFreeMPSC. Every task posted to a
//     loop runs on the loop's goroutine, one at a time. The session map runs all
//     of its state changes and all storage completions on its own Loop.
//   - HashString: FNV-1a string hashing used to derive raft replica IDs.
package util
