package crud

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pitabwire/dastyar/model"
)

// IdempotencyStore deduplicates mutations submitted with an idempotency
// key. The key format is "idem:{entity}:{operation}:{key}".
type IdempotencyStore interface {
	// Check looks up a previous result by key. If the key exists and the
	// input hash matches, it returns the cached result. If the key exists
	// but the hash differs, it returns a conflict error.
	Check(ctx context.Context, key string, inputHash string) (result *model.ActionState[string], found bool, err error)

	// Store saves a mutation result keyed by the idempotency key with a TTL.
	Store(ctx context.Context, key string, inputHash string, result model.ActionState[string], ttl time.Duration) error
}

type idempotencyEntry struct {
	InputHash string                    `json:"input_hash"`
	Result    model.ActionState[string] `json:"result"`
}

func conflict(key string) error {
	return model.NewConflictError(fmt.Sprintf("idempotency key %q already used with different input", key))
}

// --- MemoryIdempotencyStore ---

// MemoryIdempotencyStore is an in-memory IdempotencyStore with TTL support.
type MemoryIdempotencyStore struct {
	mu      sync.RWMutex
	entries map[string]*memEntry
	now     func() time.Time
}

type memEntry struct {
	data      idempotencyEntry
	expiresAt time.Time
}

// NewMemoryIdempotencyStore creates a new in-memory idempotency store.
func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{
		entries: make(map[string]*memEntry),
		now:     time.Now,
	}
}

// Check looks up a cached result. Expired entries are dropped.
func (s *MemoryIdempotencyStore) Check(_ context.Context, key string, inputHash string) (*model.ActionState[string], bool, error) {
	s.mu.RLock()
	entry, exists := s.entries[key]
	s.mu.RUnlock()

	if !exists {
		return nil, false, nil
	}

	if s.now().After(entry.expiresAt) {
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
		return nil, false, nil
	}

	if entry.data.InputHash != inputHash {
		return nil, true, conflict(key)
	}

	result := entry.data.Result
	return &result, true, nil
}

// Store saves a result with TTL.
func (s *MemoryIdempotencyStore) Store(_ context.Context, key string, inputHash string, result model.ActionState[string], ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = &memEntry{
		data:      idempotencyEntry{InputHash: inputHash, Result: result},
		expiresAt: s.now().Add(ttl),
	}
	return nil
}

// Len returns the number of entries, including expired ones.
func (s *MemoryIdempotencyStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// --- RedisIdempotencyStore ---

// RedisIdempotencyStore is a Redis-backed IdempotencyStore with TTL.
type RedisIdempotencyStore struct {
	client redis.Cmdable
}

// NewRedisIdempotencyStore creates a new Redis-backed idempotency store.
func NewRedisIdempotencyStore(client redis.Cmdable) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client}
}

// Check looks up a cached result in Redis.
func (s *RedisIdempotencyStore) Check(ctx context.Context, key string, inputHash string) (*model.ActionState[string], bool, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %q: %w", key, err)
	}

	var entry idempotencyEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, false, fmt.Errorf("unmarshal idempotency entry %q: %w", key, err)
	}

	if entry.InputHash != inputHash {
		return nil, true, conflict(key)
	}
	return &entry.Result, true, nil
}

// Store saves a result in Redis with TTL.
func (s *RedisIdempotencyStore) Store(ctx context.Context, key string, inputHash string, result model.ActionState[string], ttl time.Duration) error {
	data, err := json.Marshal(idempotencyEntry{InputHash: inputHash, Result: result})
	if err != nil {
		return fmt.Errorf("marshal idempotency entry: %w", err)
	}
	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

// FormatIdempotencyKey builds the standard idempotency key.
func FormatIdempotencyKey(et model.EntityType, op model.Operation, key string) string {
	return fmt.Sprintf("idem:%s:%s:%s", et, op, key)
}

// HashForm returns a stable hash of the form values, independent of map
// order.
func HashForm(form model.FormData) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	h := sha256.New()
	for _, k := range keys {
		fmt.Fprintf(h, "%d:%s=%d:%s;", len(k), k, len(form[k]), form[k])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Idempotent runs mutation unless key already holds a result for the same
// form, in which case the stored result is replayed. An empty key always
// runs the mutation. Only successful results are stored, so a failed
// submission can be retried with the same key.
func Idempotent(ctx context.Context, s IdempotencyStore, key string, form model.FormData, ttl time.Duration, mutation Mutation) (state model.ActionState[string], replayed bool, err error) {
	if s == nil || key == "" {
		return mutation(ctx, form), false, nil
	}

	hash := HashForm(form)
	cached, found, err := s.Check(ctx, key, hash)
	if err != nil {
		return model.ActionState[string]{}, false, err
	}
	if found {
		return *cached, true, nil
	}

	state = mutation(ctx, form)
	if state.Success {
		if err := s.Store(ctx, key, hash, state, ttl); err != nil {
			return state, false, err
		}
	}
	return state, false, nil
}

// MsgIdempotencyConflict is returned when an idempotency key is reused with
// a different form.
const MsgIdempotencyConflict = "این درخواست قبلاً با اطلاعات دیگری ثبت شده است."

// MsgStoreFailed is returned when the idempotency store cannot be read.
const MsgStoreFailed = "خطای سرور. لطفاً دوباره تلاش کنید."

// WithIdempotency wraps m so that a resubmission with the same key replays
// the first successful result instead of mutating again. onReplay, when not
// nil, runs whenever a stored result is served instead of running m.
func WithIdempotency(s IdempotencyStore, key string, ttl time.Duration, m Mutation, onReplay func()) Mutation {
	return func(ctx context.Context, form model.FormData) model.ActionState[string] {
		state, replayed, err := Idempotent(ctx, s, key, form, ttl, m)
		if replayed && onReplay != nil {
			onReplay()
		}
		if err == nil {
			return state
		}
		if errors.Is(err, &model.ErrorEnvelope{Code: model.ErrConflict}) {
			return model.Failed[string](MsgIdempotencyConflict)
		}
		if state.Success {
			// The mutation ran; only remembering it failed.
			return state
		}
		return model.Failed[string](MsgStoreFailed)
	}
}
