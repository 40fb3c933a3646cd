package eventqueue

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// seenCeiling is the in-memory dedup set's hard memory ceiling: once
// crossed, the set is cleared rather than grown further,
// making dedup best-effort rather than exact across the clearing boundary.
const seenCeiling = 100_000

// SeenSet is the dedup backend push() consults for activity_id membership.
type SeenSet interface {
	// CheckAndAdd reports whether id has been seen before, recording it as
	// seen as a side effect if not (an atomic check-and-add).
	CheckAndAdd(id string) bool
	Len() int
}

// memorySeenSet is the default in-process dedup set.
type memorySeenSet struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func newMemorySeenSet() *memorySeenSet {
	return &memorySeenSet{seen: make(map[string]struct{})}
}

func (s *memorySeenSet) CheckAndAdd(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[id]; ok {
		return true
	}
	if len(s.seen) >= seenCeiling {
		s.seen = make(map[string]struct{})
	}
	s.seen[id] = struct{}{}
	return false
}

func (s *memorySeenSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

// RedisSeenSet is an alternative dedup backend that survives process
// restarts by keeping membership in Redis with a TTL substituting for the
// in-memory ceiling: instead of clearing the whole set at 100k entries, each
// member expires on its own after ttl.
type RedisSeenSet struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisSeenSet constructs a Redis-backed dedup set. keyPrefix namespaces
// the dedup keys (e.g. per-queue), ttl bounds how long a given activity_id
// is remembered.
func NewRedisSeenSet(client *redis.Client, keyPrefix string, ttl time.Duration) *RedisSeenSet {
	return &RedisSeenSet{client: client, prefix: keyPrefix, ttl: ttl}
}

// CheckAndAdd uses SET NX to perform an atomic check-and-set: the key is
// written only if absent, and SetNX's return value tells us which happened.
func (r *RedisSeenSet) CheckAndAdd(id string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ok, err := r.client.SetNX(ctx, r.prefix+id, 1, r.ttl).Result()
	if err != nil {
		// Dedup is best-effort; a Redis hiccup must never block the push
		// path, so treat it as "not seen" rather than failing the write.
		return false
	}
	return !ok
}

// Len reports the approximate set size via SCAN; intended for diagnostics
// only, not the push hot path.
func (r *RedisSeenSet) Len() int {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var count int
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		count++
	}
	return count
}
