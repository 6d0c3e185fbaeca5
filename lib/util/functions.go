package util

// --------------------------------------------------------------------------
// Hash Functions
// --------------------------------------------------------------------------

// HashString generates a hash value for a string with a seed
// This function uses the FNV-1a hash algorithm, which is fast and has good distribution
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

// PartitionID maps a key to one of partitionCount partitions.
// A non-positive partitionCount yields -1 (the "not partition bound" id).
func PartitionID(key string, partitionCount int32) int32 {
	if partitionCount <= 0 {
		return -1
	}
	// the higher bits of FNV-1a are better distributed than the lowest ones
	return int32((HashString(key, 0) >> 7) % uint64(partitionCount))
}
