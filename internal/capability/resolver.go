// Package capability resolves and caches operator capabilities from a
// static role policy.
package capability

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/pitabwire/dastyar/internal/observability"
	"github.com/pitabwire/dastyar/model"
)

type cacheEntry struct {
	caps    model.CapabilitySet
	expires time.Time
}

// Resolver implements model.CapabilityResolver with an in-memory cache.
type Resolver struct {
	evaluator model.PolicyEvaluator
	ttl       time.Duration
	metrics   *observability.Metrics
	now       func() time.Time
	mu        sync.RWMutex
	cache     map[string]cacheEntry
}

var _ model.CapabilityResolver = (*Resolver)(nil)

// NewResolver creates a Resolver with the given evaluator and cache TTL.
// metrics may be nil.
func NewResolver(evaluator model.PolicyEvaluator, ttl time.Duration, metrics *observability.Metrics) *Resolver {
	return &Resolver{
		evaluator: evaluator,
		ttl:       ttl,
		metrics:   metrics,
		now:       time.Now,
		cache:     make(map[string]cacheEntry),
	}
}

// cacheKey scopes an entry to the operator and their roles, so a token with
// different roles never reads another token's set.
func cacheKey(rctx *model.RequestContext) string {
	roles := slices.Clone(rctx.Roles)
	slices.Sort(roles)
	return rctx.SubjectID + ":" + strings.Join(roles, ",")
}

// Resolve returns the full capability set for the given context. Results are
// cached for the configured TTL.
func (r *Resolver) Resolve(rctx *model.RequestContext) (model.CapabilitySet, error) {
	key := cacheKey(rctx)

	r.mu.RLock()
	if entry, ok := r.cache[key]; ok && r.now().Before(entry.expires) {
		r.mu.RUnlock()
		r.metrics.RecordCapabilityCacheHit()
		return entry.caps, nil
	}
	r.mu.RUnlock()
	r.metrics.RecordCapabilityCacheMiss()

	caps, err := r.evaluator.ResolveCapabilities(rctx)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache[key] = cacheEntry{caps: caps, expires: r.now().Add(r.ttl)}
	r.mu.Unlock()

	return caps, nil
}

// Invalidate clears the cached capabilities of an operator.
func (r *Resolver) Invalidate(subjectID string) {
	prefix := subjectID + ":"
	r.mu.Lock()
	for key := range r.cache {
		if strings.HasPrefix(key, prefix) {
			delete(r.cache, key)
		}
	}
	r.mu.Unlock()
}

// Sync reloads the policy and drops every cached set.
func (r *Resolver) Sync() error {
	if err := r.evaluator.Sync(); err != nil {
		return err
	}
	r.mu.Lock()
	r.cache = make(map[string]cacheEntry)
	r.mu.Unlock()
	return nil
}
