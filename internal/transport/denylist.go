package transport

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Denylist remembers revoked token ids until the tokens would have expired.
type Denylist interface {
	Revoke(ctx context.Context, jti string, until time.Time) error
	Revoked(ctx context.Context, jti string) (bool, error)
}

// MemoryDenylist is a Denylist for a single replica.
type MemoryDenylist struct {
	mu      sync.Mutex
	revoked map[string]time.Time
	now     func() time.Time
}

// NewMemoryDenylist creates an empty in-memory denylist.
func NewMemoryDenylist() *MemoryDenylist {
	return &MemoryDenylist{revoked: make(map[string]time.Time), now: time.Now}
}

// Revoke adds jti. Expired entries are dropped on the way.
func (d *MemoryDenylist) Revoke(_ context.Context, jti string, until time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for k, exp := range d.revoked {
		if now.After(exp) {
			delete(d.revoked, k)
		}
	}
	d.revoked[jti] = until
	return nil
}

// Revoked reports whether jti was revoked and has not expired yet.
func (d *MemoryDenylist) Revoked(_ context.Context, jti string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	until, ok := d.revoked[jti]
	return ok && !d.now().After(until), nil
}

// RedisDenylist shares revocations between replicas. Entries expire with
// the token.
type RedisDenylist struct {
	client redis.Cmdable
	prefix string
}

// NewRedisDenylist creates a denylist over client.
func NewRedisDenylist(client redis.Cmdable) *RedisDenylist {
	return &RedisDenylist{client: client, prefix: "dastyar:revoked:"}
}

// Revoke stores jti until the token expiry. An already expired token is not
// stored.
func (d *RedisDenylist) Revoke(ctx context.Context, jti string, until time.Time) error {
	ttl := time.Until(until)
	if ttl <= 0 {
		return nil
	}
	return d.client.Set(ctx, d.prefix+jti, 1, ttl).Err()
}

// Revoked reports whether jti is stored.
func (d *RedisDenylist) Revoked(ctx context.Context, jti string) (bool, error) {
	n, err := d.client.Exists(ctx, d.prefix+jti).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
