package util

// HashString maps a string to a uint64 with FNV-1a, mixing in seed.
// It is used to derive stable numeric raft replica IDs from human readable node names.
func HashString(s string, seed uint64) uint64 {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)

	hash := uint64(offset64) ^ seed
	for i := 0; i < len(s); i++ {
		hash ^= uint64(s[i])
		hash *= prime64
	}
	return hash
}
