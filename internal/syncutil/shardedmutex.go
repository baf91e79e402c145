package syncutil

import (
	"hash/fnv"
	"sync"
)

const shardCount = 128

// ShardedMutex is a fixed pool of mutexes keyed by string, used to
// serialize work per subscription or tenant without allocating a lock
// per key. Keys that hash to the same shard contend with each other,
// which is acceptable for request-scoped critical sections.
type ShardedMutex struct {
	shards [shardCount]sync.Mutex
}

// Lock acquires the mutex covering key and returns its unlock func.
func (s *ShardedMutex) Lock(key string) func() {
	mu := s.shard(key)
	mu.Lock()
	return mu.Unlock
}

func (s *ShardedMutex) shard(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &s.shards[h.Sum32()%shardCount]
}
