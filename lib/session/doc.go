// Package session defines the persistent record of a client session and its
// binary encoding.
//
// An Entry is keyed by its Identity (entity type + number). Besides the
// identity an entry carries the client address, the ids of completed requests,
// preallocated inodes and free-form metadata. LastRenewal lives on the entry
// but is deliberately not persisted.
//
// Wire format (little endian):
//
//	Directory := version:u64 | count:u32 | Entry[count]
//	Entry     := type:u8 | num:i64 | addr:str | completed:u64list | prealloc:u64list | metadata:strmap
//	str       := len:u32 | bytes[len]
//	u64list   := n:u32 | u64[n]
//	strmap    := n:u32 | (key:str | value:str)[n]   (sorted by key)
//
// Encoding is a pure function of the entry state. Decoding validates every
// length prefix against the remaining buffer and fails with ErrMalformedEntry
// or ErrMalformedDirectory instead of returning partial results.
package session
