package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/visioncue/visioncue/internal/span"
)

const (
	// tableKey is the durable-store key the full cache table persists under.
	tableKey = "visioncue:result-cache"
	// stampKey records the taxonomy/template version the persisted table
	// was written with. A mismatch at startup wipes the table.
	stampKey = "visioncue:version-stamp"

	// MaxAge is the fixed staleness horizon: entries older than this are
	// rejected even when their version matches.
	MaxAge = 24 * time.Hour

	// DefaultMaxEntries bounds the in-memory table.
	DefaultMaxEntries = 500
)

// CorruptionError signals that the persisted payload failed to parse. The
// cache clears itself and proceeds cold; the caller never sees a failure.
type CorruptionError struct {
	Err error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("cache corruption: %v", e.Err)
}

func (e *CorruptionError) Unwrap() error { return e.Err }

// Entry is one cached extraction result. Entries are immutable: updates
// happen by delete-and-reinsert, never in place.
type Entry struct {
	Key       string      `json:"key"`
	Spans     []span.Span `json:"spans"`
	Meta      EntryMeta   `json:"meta"`
	Signature string      `json:"signature"`
	Timestamp time.Time   `json:"timestamp"`
	Version   string      `json:"version"`
}

// EntryMeta carries result provenance worth replaying on a hit.
type EntryMeta struct {
	Adversarial bool   `json:"adversarial"`
	Degraded    bool   `json:"degraded"`
	SchemaValid bool   `json:"schema_valid"`
	Model       string `json:"model,omitempty"`
	DegradedWhy string `json:"degraded_why,omitempty"`
}

// Stats reports cache observability counters.
type Stats struct {
	Entries   int   `json:"entries"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Expired   int64 `json:"expired"`
}

// Config holds cache construction parameters.
type Config struct {
	Store      Store  // durable backend; nil disables persistence
	Version    string // live taxonomy/template version
	MaxEntries int    // LRU bound; 0 uses DefaultMaxEntries
}

// Cache is an explicitly constructed service instance with its own
// lifecycle: construct, Hydrate, use, Close. Tests run isolated instances
// concurrently; there is no package-level state.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*Entry
	order   []string // LRU order, oldest first
	store   Store
	version string
	maxEnt  int

	hydrateOnce sync.Once
	flight      singleflight.Group
	persistWG   sync.WaitGroup

	hits, misses, evictions, expired int64

	now func() time.Time
}

// New constructs a cache. The durable table is not read until Hydrate (or
// the first Get) runs, keeping construction off the hot path.
func New(cfg Config) *Cache {
	maxEnt := cfg.MaxEntries
	if maxEnt <= 0 {
		maxEnt = DefaultMaxEntries
	}
	return &Cache{
		entries: make(map[string]*Entry),
		store:   cfg.Store,
		version: cfg.Version,
		maxEnt:  maxEnt,
		now:     time.Now,
	}
}

// Key derives the content-addressed cache key from the canonical text, the
// policy, and the live version.
func Key(canonicalText string, policy span.Policy, version string) string {
	h := sha256.New()
	h.Write([]byte(canonicalText))
	h.Write([]byte{0})
	policyJSON, _ := json.Marshal(policy)
	h.Write(policyJSON)
	h.Write([]byte{0})
	h.Write([]byte(version))
	return fmt.Sprintf("%x", h.Sum(nil))
}

// Hydrate loads the persisted table, at most once per process lifetime.
// A version-stamp mismatch wipes the persisted table; a corrupt payload is
// cleared and logged, never surfaced to callers.
func (c *Cache) Hydrate(ctx context.Context) {
	c.hydrateOnce.Do(func() { c.hydrate(ctx) })
}

func (c *Cache) hydrate(ctx context.Context) {
	if c.store == nil {
		return
	}

	stamp, ok, err := c.store.GetItem(ctx, stampKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: cache stamp read failed, starting cold: %v\n", err)
		return
	}
	if ok && stamp != c.version {
		// Taxonomy/template version changed since the stamp was recorded:
		// the whole persisted table is stale.
		if err := RemoveMany(ctx, c.store, []string{tableKey}); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: stale cache wipe failed: %v\n", err)
		}
	}
	if !ok || stamp != c.version {
		if err := c.store.SetItem(ctx, stampKey, c.version); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: cache stamp write failed: %v\n", err)
		}
		return
	}

	payload, ok, err := c.store.GetItem(ctx, tableKey)
	if err != nil || !ok {
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: cache hydrate read failed, starting cold: %v\n", err)
		}
		return
	}

	var persisted []*Entry
	if err := json.Unmarshal([]byte(payload), &persisted); err != nil {
		corr := &CorruptionError{Err: err}
		fmt.Fprintf(os.Stderr, "Warning: %v — clearing persisted cache\n", corr)
		if err := c.store.RemoveItem(ctx, tableKey); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: corrupt cache clear failed: %v\n", err)
		}
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range persisted {
		if !c.usable(e) {
			continue
		}
		c.entries[e.Key] = e
		c.order = append(c.order, e.Key)
	}
}

// usable applies lazy invalidation: version mismatch or age beyond the
// horizon rejects an entry even when present.
func (c *Cache) usable(e *Entry) bool {
	if e == nil || e.Version != c.version {
		return false
	}
	return c.now().Sub(e.Timestamp) <= MaxAge
}

// Get returns the cached spans and metadata for key, if fresh.
// Returned spans are copies; the cached entry is never aliased out.
func (c *Cache) Get(ctx context.Context, key string) ([]span.Span, EntryMeta, bool) {
	return c.lookup(ctx, key, true)
}

// lookup is Get with optional stats recording. Internal re-checks pass
// record=false so one logical lookup never counts more than once.
func (c *Cache) lookup(ctx context.Context, key string, record bool) ([]span.Span, EntryMeta, bool) {
	c.Hydrate(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		if record {
			c.misses++
		}
		return nil, EntryMeta{}, false
	}
	if !c.usable(e) {
		c.removeLocked(key)
		c.expired++
		if record {
			c.misses++
		}
		return nil, EntryMeta{}, false
	}

	// Refresh recency: delete + reinsert.
	c.removeFromOrderLocked(key)
	c.order = append(c.order, key)

	if record {
		c.hits++
	}
	return span.Clone(e.Spans), e.Meta, true
}

// ComputeFunc produces the value for a key on a miss.
type ComputeFunc func(ctx context.Context) ([]span.Span, EntryMeta, error)

// GetOrCompute returns the cached value or computes it, guaranteeing at
// most one in-flight computation per key: concurrent callers for the same
// key await the single result instead of issuing duplicate extractions.
// Degraded results are handed back to every waiting caller but never
// stored, so the next lookup retries the computation.
func (c *Cache) GetOrCompute(ctx context.Context, key string, compute ComputeFunc) ([]span.Span, EntryMeta, bool, error) {
	if spans, meta, ok := c.Get(ctx, key); ok {
		return spans, meta, true, nil
	}

	type outcome struct {
		spans []span.Span
		meta  EntryMeta
	}
	v, err, _ := c.flight.Do(key, func() (any, error) {
		// A racing caller may have populated the key while we queued.
		// This re-check belongs to the lookup that already counted a
		// miss, so it stays out of the stats.
		if spans, meta, ok := c.lookup(ctx, key, false); ok {
			return outcome{spans: spans, meta: meta}, nil
		}
		spans, meta, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		if !meta.Degraded {
			c.Put(ctx, key, spans, meta)
		}
		return outcome{spans: spans, meta: meta}, nil
	})
	if err != nil {
		return nil, EntryMeta{}, false, err
	}
	o := v.(outcome)
	return span.Clone(o.spans), o.meta, false, nil
}

// Put inserts a result, refreshing recency by delete+reinsert, evicting
// oldest entries over the size bound, then flushing the table best-effort.
func (c *Cache) Put(ctx context.Context, key string, spans []span.Span, meta EntryMeta) {
	e := &Entry{
		Key:       key,
		Spans:     span.Clone(spans),
		Meta:      meta,
		Signature: signature(spans),
		Timestamp: c.now(),
		Version:   c.version,
	}

	c.mu.Lock()
	c.removeLocked(key)
	c.entries[key] = e
	c.order = append(c.order, key)
	for len(c.order) > c.maxEnt {
		oldest := c.order[0]
		c.removeLocked(oldest)
		c.evictions++
	}
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	c.persistAsync(snapshot)
}

// Clear wipes the table in memory and durably, stamp included. The next
// Hydrate starts cold and rewrites the stamp.
func (c *Cache) Clear(ctx context.Context) {
	c.mu.Lock()
	c.entries = make(map[string]*Entry)
	c.order = nil
	c.mu.Unlock()

	if c.store != nil {
		if err := RemoveMany(ctx, c.store, []string{tableKey, stampKey}); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: cache clear failed: %v\n", err)
		}
	}
}

// Stats returns current counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries:   len(c.entries),
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Expired:   c.expired,
	}
}

// Close waits for outstanding persistence flushes.
func (c *Cache) Close() {
	c.persistWG.Wait()
}

func (c *Cache) removeLocked(key string) {
	if _, ok := c.entries[key]; !ok {
		return
	}
	delete(c.entries, key)
	c.removeFromOrderLocked(key)
}

func (c *Cache) removeFromOrderLocked(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

// snapshotLocked serializes the table in LRU order for persistence.
func (c *Cache) snapshotLocked() []byte {
	entries := make([]*Entry, 0, len(c.order))
	for _, k := range c.order {
		if e, ok := c.entries[k]; ok {
			entries = append(entries, e)
		}
	}
	payload, err := json.Marshal(entries)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: cache snapshot marshal failed: %v\n", err)
		return nil
	}
	return payload
}

// persistAsync flushes fire-and-forget: failure is logged, never
// propagated to the caller.
func (c *Cache) persistAsync(payload []byte) {
	if c.store == nil || payload == nil {
		return
	}
	c.persistWG.Add(1)
	go func() {
		defer c.persistWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.store.SetItem(ctx, tableKey, string(payload)); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: cache persist failed: %v\n", err)
		}
	}()
}

// signature fingerprints a span list for entry integrity checks.
func signature(spans []span.Span) string {
	h := sha256.New()
	for _, s := range spans {
		fmt.Fprintf(h, "%d:%d:%s:%s;", s.Start, s.End, s.Category, s.Source)
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}
