// Package syncutil contains small concurrency helpers.
package syncutil

import "sync"

const shardCount = 128

// ShardedMutex serializes work per string key using a fixed pool of
// mutexes. Memory stays bounded no matter how many keys appear; two keys
// hashing to the same shard occasionally contend, which is acceptable for
// short critical sections.
//
// The zero value is ready to use.
type ShardedMutex struct {
	shards [shardCount]sync.Mutex
}

// Lock acquires the shard for key and returns the matching unlock func.
func (s *ShardedMutex) Lock(key string) func() {
	mu := &s.shards[fnv32(key)%shardCount]
	mu.Lock()
	return mu.Unlock
}

// fnv32 is FNV-1a, inlined to avoid a hash.Hash allocation per lock.
func fnv32(key string) uint32 {
	h := uint32(2166136261)
	for i := 0; i < len(key); i++ {
		h ^= uint32(key[i])
		h *= 16777619
	}
	return h
}
