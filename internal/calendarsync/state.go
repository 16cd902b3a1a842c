package calendarsync

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// StateStore keeps OAuth state values until the callback consumes them.
type StateStore interface {
	Save(ctx context.Context, state, providerID string, ttl time.Duration) error
	// Consume returns the provider the state was issued to and forgets it.
	// Unknown or expired states yield ErrInvalidState.
	Consume(ctx context.Context, state string) (string, error)
}

type RedisStateStore struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisStateStore(rdb *redis.Client, prefix string) *RedisStateStore {
	prefix = strings.TrimRight(prefix, ":")
	if prefix == "" {
		prefix = "appointly:oauth:state"
	}
	return &RedisStateStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStateStore) Save(ctx context.Context, state, providerID string, ttl time.Duration) error {
	return s.rdb.Set(ctx, s.key(state), providerID, ttl).Err()
}

func (s *RedisStateStore) Consume(ctx context.Context, state string) (string, error) {
	providerID, err := s.rdb.GetDel(ctx, s.key(state)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrInvalidState
	}
	if err != nil {
		return "", err
	}
	return providerID, nil
}

func (s *RedisStateStore) key(state string) string {
	return s.prefix + ":" + state
}

// MemoryStateStore is used when Redis is not configured. States do not
// survive a restart or reach other instances.
type MemoryStateStore struct {
	mu     sync.Mutex
	states map[string]memoryState
	now    func() time.Time
}

type memoryState struct {
	providerID string
	expires    time.Time
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{states: make(map[string]memoryState), now: time.Now}
}

func (s *MemoryStateStore) Save(ctx context.Context, state, providerID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, v := range s.states {
		if now.After(v.expires) {
			delete(s.states, k)
		}
	}
	s.states[state] = memoryState{providerID: providerID, expires: now.Add(ttl)}
	return nil
}

func (s *MemoryStateStore) Consume(ctx context.Context, state string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.states[state]
	delete(s.states, state)
	if !ok || s.now().After(v.expires) {
		return "", ErrInvalidState
	}
	return v.providerID, nil
}
