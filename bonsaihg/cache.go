package bonsaihg

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru"

	"github.com/scmcore/corestore/internal/config"
	"github.com/scmcore/corestore/internal/xmetrics"
)

// cache tiers named for the MappingCacheHitTotal{tier,outcome} series.
const (
	tierInProcess    = "in_process"
	tierOutOfProcess = "out_of_process"
	tierUnderlying   = "underlying"

	outcomeHit  = "hit"
	outcomeMiss = "miss"
)

// OutOfProcessCache is the second cache tier: a shared cache reachable
// by every process in the fleet, not just this one. This reference
// deployment ships only a no-op implementation; a real one would be
// backed by the fleet's memcache/redis tier.
type OutOfProcessCache interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, key string, entry Entry) error
}

// NullOutOfProcessCache never stores anything, giving CachedStore a
// working second tier with no external dependency.
type NullOutOfProcessCache struct{}

func (NullOutOfProcessCache) Get(ctx context.Context, key string) (Entry, bool, error) {
	return Entry{}, false, nil
}
func (NullOutOfProcessCache) Set(ctx context.Context, key string, entry Entry) error { return nil }

// CachedStore wraps a Store with the two-tier cache and rendez-vous
// batching described in the Design Notes "Caching wrapper" and
// "Rendez-vous batching": an in-process LRU tier (golang-lru, as the
// teacher depends on for its own hot-path caches), then an
// out-of-process tier, then the underlying store — with independent
// rendez-vous dispatchers for bonsai-keyed and hg-keyed lookups so a
// burst of one kind never delays the other. Empty results are never
// cached, per the invariant in the Design Notes.
type CachedStore struct {
	inner        Store
	inProcess    *lru.Cache
	outOfProcess OutOfProcessCache

	byBonsai *rendezvous
	byHg     *rendezvous
}

// NewCachedStore builds the wrapper. inProcessSize bounds the in-process
// LRU tier; oop may be nil, in which case NullOutOfProcessCache is used.
func NewCachedStore(inner Store, cfg config.RendezVous, inProcessSize int, oop OutOfProcessCache) (*CachedStore, error) {
	if oop == nil {
		oop = NullOutOfProcessCache{}
	}
	c, err := lru.New(inProcessSize)
	if err != nil {
		return nil, fmt.Errorf("bonsaihg: building in-process cache: %w", err)
	}
	cs := &CachedStore{inner: inner, inProcess: c, outOfProcess: oop}
	cs.byBonsai = newRendezvous(cfg, cs.fetchBonsaiBatch)
	cs.byHg = newRendezvous(cfg, cs.fetchHgBatch)
	return cs, nil
}

func (c *CachedStore) fetchBonsaiBatch(ctx context.Context, keys []string) (map[string]Entry, error) {
	ids := make([]BonsaiID, 0, len(keys))
	for _, k := range keys {
		b, err := parseBonsaiHex(k)
		if err != nil {
			return nil, fmt.Errorf("bonsaihg: cache: %w", err)
		}
		ids = append(ids, b)
	}
	entries, err := c.inner.GetByBonsai(ctx, QueryOptions{}, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Entry, len(entries))
	for _, e := range entries {
		out[e.Bonsai.Hex()] = e
	}
	return out, nil
}

func (c *CachedStore) fetchHgBatch(ctx context.Context, keys []string) (map[string]Entry, error) {
	ids := make([]HgID, 0, len(keys))
	for _, k := range keys {
		h, err := parseHgHex(k)
		if err != nil {
			return nil, fmt.Errorf("bonsaihg: cache: %w", err)
		}
		ids = append(ids, h)
	}
	entries, err := c.inner.GetByHg(ctx, QueryOptions{}, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Entry, len(entries))
	for _, e := range entries {
		out[e.Hg.Hex()] = e
	}
	return out, nil
}

// GetOneByBonsai resolves a single bonsai id through the in-process
// tier, then the out-of-process tier, then a rendez-vous-batched query
// against the underlying store.
func (c *CachedStore) GetOneByBonsai(ctx context.Context, id BonsaiID) (Entry, bool, error) {
	key := id.Hex()
	if v, ok := c.inProcess.Get(key); ok {
		xmetrics.MappingCacheHitTotal.WithLabelValues(tierInProcess, outcomeHit).Inc()
		return v.(Entry), true, nil
	}
	if e, ok, err := c.outOfProcess.Get(ctx, key); err == nil && ok {
		xmetrics.MappingCacheHitTotal.WithLabelValues(tierOutOfProcess, outcomeHit).Inc()
		c.inProcess.Add(key, e)
		return e, true, nil
	}
	xmetrics.MappingCacheHitTotal.WithLabelValues(tierUnderlying, outcomeMiss).Inc()

	entry, ok, err := c.byBonsai.Get(ctx, key)
	if err != nil || !ok {
		return Entry{}, false, err
	}
	c.inProcess.Add(key, entry)
	_ = c.outOfProcess.Set(ctx, key, entry)
	return entry, true, nil
}

// GetOneByHg is the hg-keyed counterpart of GetOneByBonsai.
func (c *CachedStore) GetOneByHg(ctx context.Context, id HgID) (Entry, bool, error) {
	key := id.Hex()
	if v, ok := c.inProcess.Get(key); ok {
		xmetrics.MappingCacheHitTotal.WithLabelValues(tierInProcess, outcomeHit).Inc()
		return v.(Entry), true, nil
	}
	if e, ok, err := c.outOfProcess.Get(ctx, key); err == nil && ok {
		xmetrics.MappingCacheHitTotal.WithLabelValues(tierOutOfProcess, outcomeHit).Inc()
		c.inProcess.Add(key, e)
		return e, true, nil
	}
	xmetrics.MappingCacheHitTotal.WithLabelValues(tierUnderlying, outcomeMiss).Inc()

	entry, ok, err := c.byHg.Get(ctx, key)
	if err != nil || !ok {
		return Entry{}, false, err
	}
	c.inProcess.Add(key, entry)
	_ = c.outOfProcess.Set(ctx, key, entry)
	return entry, true, nil
}

// Add removes entry's bonsai and hg keys from the in-process tier
// before delegating; the out-of-process tier is left unchanged.
func (c *CachedStore) Add(ctx context.Context, entry Entry) (bool, error) {
	c.inProcess.Remove(entry.Bonsai.Hex())
	c.inProcess.Remove(entry.Hg.Hex())
	return c.inner.Add(ctx, entry)
}

// GetByBonsai implements Store by delegating straight to the underlying
// store: an explicit batch call has already amortized its own query, so
// rendez-vous batching (meant for independent concurrent single-key
// requests) would add latency rather than save it.
func (c *CachedStore) GetByBonsai(ctx context.Context, opts QueryOptions, ids []BonsaiID) ([]Entry, error) {
	return c.inner.GetByBonsai(ctx, opts, ids)
}

// GetByHg implements Store; see GetByBonsai.
func (c *CachedStore) GetByHg(ctx context.Context, opts QueryOptions, ids []HgID) ([]Entry, error) {
	return c.inner.GetByHg(ctx, opts, ids)
}

// GetHgInRange implements Store.
func (c *CachedStore) GetHgInRange(ctx context.Context, repoID int64, low, high HgID, limit int) ([]HgID, error) {
	return c.inner.GetHgInRange(ctx, repoID, low, high, limit)
}
