// Package lookup resolves the option lists behind select widgets. Sources
// are either registered loaders, such as the client list, or lookups
// declared in definitions with static options.
package lookup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/pitabwire/dastyar/internal/config"
	"github.com/pitabwire/dastyar/internal/observability"
	"github.com/pitabwire/dastyar/internal/store"
	"github.com/pitabwire/dastyar/model"
)

// SourceClients is the built-in source listing every client.
const SourceClients = "clients"

// loadTimeout bounds a shared load once it no longer belongs to a single
// request.
const loadTimeout = 30 * time.Second

// Source loads the options of one named source.
type Source struct {
	Load func(ctx context.Context, form model.FormData) ([]model.OptionDescriptor, error)
	// Keys are the form fields the options depend on. Their values are part
	// of the cache key, so a dependent dropdown is cached per parent value.
	Keys []string
	// TTL overrides the provider default when positive.
	TTL time.Duration
}

// Lookups resolves lookups declared in definitions.
type Lookups interface {
	GetLookup(id string) (model.LookupDefinition, bool)
}

// Provider resolves sources to option lists with a TTL cache. Concurrent
// misses of one key share a single load.
type Provider struct {
	lookups    Lookups
	defaultTTL time.Duration
	maxEntries int
	logger     *zap.Logger
	metrics    *observability.Metrics
	now        func() time.Time

	mu      sync.RWMutex
	sources map[string]Source
	cache   map[string]cacheEntry
	// gen counts invalidations. A load started before one is not cached.
	gen   uint64
	group singleflight.Group
}

type cacheEntry struct {
	options   []model.OptionDescriptor
	expiresAt time.Time
}

// NewProvider creates a Provider. logger and metrics may be nil.
func NewProvider(lookups Lookups, cfg config.CacheConfig, logger *zap.Logger, metrics *observability.Metrics) *Provider {
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 1000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		lookups:    lookups,
		defaultTTL: cfg.TTL,
		maxEntries: cfg.MaxEntries,
		logger:     logger,
		metrics:    metrics,
		now:        time.Now,
		sources:    make(map[string]Source),
		cache:      make(map[string]cacheEntry),
	}
}

// Register adds a named source. A later registration replaces an earlier
// one.
func (p *Provider) Register(name string, s Source) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sources[name] = s
}

// Names returns the registered source names.
func (p *Provider) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.sources))
	for n := range p.sources {
		names = append(names, n)
	}
	return names
}

// Options resolves source with the in-progress form values.
func (p *Provider) Options(ctx context.Context, source string, form model.FormData) ([]model.OptionDescriptor, error) {
	src, ok := p.resolve(source)
	if !ok {
		return nil, model.NewNotFoundError(fmt.Sprintf("lookup %q not found", source))
	}

	key := cacheKey(source, src.Keys, form)
	if options, hit := p.getFromCache(key); hit {
		p.metrics.RecordLookupCacheHit(source)
		return options, nil
	}
	p.metrics.RecordLookupCacheMiss(source)

	p.mu.RLock()
	gen := p.gen
	p.mu.RUnlock()

	// The load is shared by every caller of this generation, so it runs on
	// a context no single caller can cancel.
	flight := p.group.DoChan(fmt.Sprintf("%s#%d", key, gen), func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		loadCtx, span := observability.StartSpan(loadCtx, "lookup.load", attribute.String("lookup", source))
		options, err := src.Load(loadCtx, form)
		observability.EndSpanWithError(span, err)
		if err != nil {
			return nil, err
		}
		ttl := p.defaultTTL
		if src.TTL > 0 {
			ttl = src.TTL
		}
		p.putInCache(key, options, ttl, gen)
		return options, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-flight:
		if res.Err != nil {
			observability.RequestLogger(ctx, p.logger).Warn("lookup load failed",
				zap.String("lookup", source),
				zap.Error(res.Err),
			)
			return nil, fmt.Errorf("lookup %q: %w", source, res.Err)
		}
		return res.Val.([]model.OptionDescriptor), nil
	}
}

// GetLookup resolves a lookup for the lookup endpoint, filtered by query.
func (p *Provider) GetLookup(ctx context.Context, id, query string, form model.FormData) (model.LookupResponse, error) {
	options, err := p.Options(ctx, id, form)
	if err != nil {
		return model.LookupResponse{}, err
	}
	filtered := filterOptions(options, query)
	if filtered == nil {
		filtered = []model.OptionDescriptor{}
	}
	return model.LookupResponse{Data: model.LookupPayload{Options: filtered}}, nil
}

// resolve finds a registered source, or builds one from a declared lookup.
func (p *Provider) resolve(name string) (Source, bool) {
	p.mu.RLock()
	src, ok := p.sources[name]
	p.mu.RUnlock()
	if ok {
		return src, true
	}
	if p.lookups == nil {
		return Source{}, false
	}

	def, ok := p.lookups.GetLookup(name)
	if !ok {
		return Source{}, false
	}
	if def.Source != "" {
		p.mu.RLock()
		src, ok = p.sources[def.Source]
		p.mu.RUnlock()
		if !ok {
			return Source{}, false
		}
	} else {
		static := staticOptions(def.Static)
		src = Source{Load: func(context.Context, model.FormData) ([]model.OptionDescriptor, error) {
			return static, nil
		}}
	}
	if def.Cache != nil && def.Cache.TTL != "" {
		if parsed, err := time.ParseDuration(def.Cache.TTL); err == nil {
			src.TTL = parsed
		}
	}
	return src, true
}

func staticOptions(static []model.StaticOption) []model.OptionDescriptor {
	out := make([]model.OptionDescriptor, len(static))
	for i, o := range static {
		out[i] = model.OptionDescriptor{Label: o.Label, Value: o.Value}
	}
	return out
}

func cacheKey(source string, keys []string, form model.FormData) string {
	var b strings.Builder
	b.WriteString("lookup:")
	b.WriteString(source)
	for _, k := range keys {
		fmt.Fprintf(&b, ":%s=%s", k, form[k])
	}
	return b.String()
}

func (p *Provider) getFromCache(key string) ([]model.OptionDescriptor, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	entry, exists := p.cache[key]
	if !exists || p.now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.options, true
}

// putInCache stores options loaded during generation gen. Options loaded
// before an invalidation are dropped.
func (p *Provider) putInCache(key string, options []model.OptionDescriptor, ttl time.Duration, gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if gen != p.gen {
		return
	}
	if len(p.cache) >= p.maxEntries {
		p.evictExpired()
	}
	p.cache[key] = cacheEntry{options: options, expiresAt: p.now().Add(ttl)}
}

// evictExpired removes expired entries. Must be called with mu held.
func (p *Provider) evictExpired() {
	now := p.now()
	for k, v := range p.cache {
		if now.After(v.expiresAt) {
			delete(p.cache, k)
		}
	}
}

// Invalidate drops every cached entry of source, including the entries of
// each parent value.
func (p *Provider) Invalidate(source string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.gen++
	prefix := "lookup:" + source
	for k := range p.cache {
		if k == prefix || strings.HasPrefix(k, prefix+":") {
			delete(p.cache, k)
		}
	}
}

// InvalidateAll empties the cache, after the definitions were reloaded.
func (p *Provider) InvalidateAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gen++
	clear(p.cache)
}

// CacheLen returns the number of cached entries, including expired ones.
func (p *Provider) CacheLen() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.cache)
}

// filterOptions keeps the options whose label contains query,
// case-insensitively.
func filterOptions(options []model.OptionDescriptor, query string) []model.OptionDescriptor {
	if query == "" {
		return options
	}

	q := strings.ToLower(query)
	var filtered []model.OptionDescriptor
	for _, opt := range options {
		if strings.Contains(strings.ToLower(opt.Label), q) {
			filtered = append(filtered, opt)
		}
	}
	return filtered
}

// ClientNames lists every client with a localized envelope, as
// action.Service.GetAllClientNames does.
type ClientNames func(ctx context.Context) model.ActionState[[]store.ClientName]

// Clients builds the client selector source. A failed listing surfaces its
// localized message.
func Clients(names ClientNames) Source {
	return Source{Load: func(ctx context.Context, _ model.FormData) ([]model.OptionDescriptor, error) {
		state := names(ctx)
		if !state.Success {
			return nil, errors.New(state.Message)
		}
		options := make([]model.OptionDescriptor, len(state.Data))
		for i, c := range state.Data {
			options[i] = model.OptionDescriptor{Label: c.Name, Value: c.ID}
		}
		return options, nil
	}}
}
