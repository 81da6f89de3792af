package cache

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/visioncue/visioncue/internal/span"
)

func sampleSpans() []span.Span {
	return []span.Span{
		{Start: 0, End: 4, Quote: "slow", Category: span.CategoryCameraMovement, Confidence: 1.0, Source: span.SourceClosedVocab},
	}
}

func TestKeyDistinguishesInputs(t *testing.T) {
	pol := span.DefaultPolicy()
	base := Key("a calm forest", pol, "v2")
	if base != Key("a calm forest", pol, "v2") {
		t.Fatal("same inputs produced different keys")
	}
	if base == Key("a calm meadow", pol, "v2") {
		t.Error("text change did not change the key")
	}
	if base == Key("a calm forest", pol, "v3") {
		t.Error("version change did not change the key")
	}
	loose := pol
	loose.MinConfidence = 0.1
	if base == Key("a calm forest", loose, "v2") {
		t.Error("policy change did not change the key")
	}
}

func TestGetOrComputeSkipsComputeOnHit(t *testing.T) {
	c := New(Config{Version: "v2"})
	ctx := context.Background()

	var calls int32
	compute := func(ctx context.Context) ([]span.Span, EntryMeta, error) {
		atomic.AddInt32(&calls, 1)
		return sampleSpans(), EntryMeta{Model: "mock"}, nil
	}

	key := Key("slow pan", span.DefaultPolicy(), "v2")
	spans, _, hit, err := c.GetOrCompute(ctx, key, compute)
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	if hit {
		t.Error("first call reported a hit")
	}
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}

	spans2, meta, hit, err := c.GetOrCompute(ctx, key, compute)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if !hit {
		t.Error("second call missed")
	}
	if meta.Model != "mock" {
		t.Errorf("meta.Model = %q, want mock", meta.Model)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("compute ran %d times, want 1", got)
	}

	// Returned spans must not alias the cached entry.
	spans2[0].Quote = "mutated"
	spans3, _, _ := c.Get(ctx, key)
	if spans3[0].Quote != "slow" {
		t.Error("caller mutation leaked into the cache")
	}
}

func TestGetOrComputeDegradedNotStored(t *testing.T) {
	c := New(Config{Version: "v2"})
	ctx := context.Background()

	spans, meta, hit, err := c.GetOrCompute(ctx, "k", func(ctx context.Context) ([]span.Span, EntryMeta, error) {
		return sampleSpans(), EntryMeta{Degraded: true, DegradedWhy: "model down"}, nil
	})
	if err != nil || hit {
		t.Fatalf("GetOrCompute: hit=%v err=%v", hit, err)
	}
	if len(spans) != 1 || !meta.Degraded || meta.DegradedWhy != "model down" {
		t.Fatalf("degraded outcome not returned: spans=%d meta=%+v", len(spans), meta)
	}
	if _, _, ok := c.Get(ctx, "k"); ok {
		t.Error("degraded result was stored")
	}
}

func TestGetOrComputeCountsOneMiss(t *testing.T) {
	c := New(Config{Version: "v2"})
	ctx := context.Background()

	_, _, _, err := c.GetOrCompute(ctx, "k", func(ctx context.Context) ([]span.Span, EntryMeta, error) {
		return sampleSpans(), EntryMeta{}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if st := c.Stats(); st.Misses != 1 || st.Hits != 0 {
		t.Fatalf("after cold lookup: hits=%d misses=%d, want 0/1", st.Hits, st.Misses)
	}

	if _, _, _, err := c.GetOrCompute(ctx, "k", func(ctx context.Context) ([]span.Span, EntryMeta, error) {
		t.Error("compute ran on a warm key")
		return nil, EntryMeta{}, nil
	}); err != nil {
		t.Fatal(err)
	}
	if st := c.Stats(); st.Misses != 1 || st.Hits != 1 {
		t.Errorf("after warm lookup: hits=%d misses=%d, want 1/1", st.Hits, st.Misses)
	}
}

func TestGetOrComputeError(t *testing.T) {
	c := New(Config{Version: "v2"})
	wantErr := errors.New("model down")
	_, _, _, err := c.GetOrCompute(context.Background(), "k", func(ctx context.Context) ([]span.Span, EntryMeta, error) {
		return nil, EntryMeta{}, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
	if _, _, ok := c.Get(context.Background(), "k"); ok {
		t.Error("failed compute left an entry behind")
	}
}

func TestCoalesceConcurrentCallers(t *testing.T) {
	c := New(Config{Version: "v2"})
	ctx := context.Background()

	var calls int32
	release := make(chan struct{})
	compute := func(ctx context.Context) ([]span.Span, EntryMeta, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return sampleSpans(), EntryMeta{}, nil
	}

	const workers = 8
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, _, _, err := c.GetOrCompute(ctx, "same-key", compute); err != nil {
				t.Errorf("GetOrCompute: %v", err)
			}
		}()
	}
	close(start)
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("compute ran %d times for one key, want 1", got)
	}
}

func TestAgeHorizonExpiry(t *testing.T) {
	c := New(Config{Version: "v2"})
	ctx := context.Background()

	at := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return at }

	c.Put(ctx, "k", sampleSpans(), EntryMeta{})
	if _, _, ok := c.Get(ctx, "k"); !ok {
		t.Fatal("fresh entry missed")
	}

	at = at.Add(MaxAge - time.Minute)
	if _, _, ok := c.Get(ctx, "k"); !ok {
		t.Error("entry inside the horizon missed")
	}

	at = at.Add(2 * time.Minute)
	if _, _, ok := c.Get(ctx, "k"); ok {
		t.Error("entry past the horizon hit")
	}
	if st := c.Stats(); st.Expired != 1 {
		t.Errorf("Expired = %d, want 1", st.Expired)
	}
}

func TestLRUEviction(t *testing.T) {
	c := New(Config{Version: "v2", MaxEntries: 3})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		c.Put(ctx, fmt.Sprintf("k%d", i), sampleSpans(), EntryMeta{})
	}
	// Touch k0 so k1 becomes oldest.
	if _, _, ok := c.Get(ctx, "k0"); !ok {
		t.Fatal("k0 missed before eviction")
	}

	c.Put(ctx, "k3", sampleSpans(), EntryMeta{})

	if _, _, ok := c.Get(ctx, "k1"); ok {
		t.Error("oldest entry k1 survived eviction")
	}
	if _, _, ok := c.Get(ctx, "k0"); !ok {
		t.Error("recently used k0 was evicted")
	}
	if st := c.Stats(); st.Evictions != 1 {
		t.Errorf("Evictions = %d, want 1", st.Evictions)
	}
	c.Close()
}

func TestHydrateFromStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	first := New(Config{Store: store, Version: "v2"})
	first.Hydrate(ctx)
	key := Key("slow pan", span.DefaultPolicy(), "v2")
	first.Put(ctx, key, sampleSpans(), EntryMeta{Model: "mock"})
	first.Close()

	second := New(Config{Store: store, Version: "v2"})
	spans, meta, ok := second.Get(ctx, key)
	if !ok {
		t.Fatal("restart lost the entry")
	}
	if len(spans) != 1 || spans[0].Quote != "slow" {
		t.Errorf("restored spans = %+v", spans)
	}
	if meta.Model != "mock" {
		t.Errorf("restored meta.Model = %q", meta.Model)
	}
}

func TestVersionBumpWipesPersistedTable(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	first := New(Config{Store: store, Version: "v2"})
	first.Hydrate(ctx)
	first.Put(ctx, "k", sampleSpans(), EntryMeta{})
	first.Close()

	second := New(Config{Store: store, Version: "v3"})
	if _, _, ok := second.Get(ctx, "k"); ok {
		t.Error("entry survived a version bump")
	}
	if _, ok, _ := store.GetItem(ctx, tableKey); ok {
		t.Error("persisted table survived a version bump")
	}
	stamp, ok, _ := store.GetItem(ctx, stampKey)
	if !ok || stamp != "v3" {
		t.Errorf("stamp = %q (present=%v), want v3", stamp, ok)
	}
}

func TestCorruptPayloadStartsCold(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	if err := store.SetItem(ctx, stampKey, "v2"); err != nil {
		t.Fatal(err)
	}
	if err := store.SetItem(ctx, tableKey, "{not json"); err != nil {
		t.Fatal(err)
	}

	c := New(Config{Store: store, Version: "v2"})
	if _, _, ok := c.Get(ctx, "anything"); ok {
		t.Error("corrupt table produced a hit")
	}
	if _, ok, _ := store.GetItem(ctx, tableKey); ok {
		t.Error("corrupt payload was not cleared")
	}

	// The cache stays usable after recovery.
	c.Put(ctx, "k", sampleSpans(), EntryMeta{})
	if _, _, ok := c.Get(ctx, "k"); !ok {
		t.Error("cache unusable after corruption recovery")
	}
	c.Close()
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	c := New(Config{Store: store, Version: "v2"})
	c.Hydrate(ctx)
	c.Put(ctx, "k", sampleSpans(), EntryMeta{})
	c.Close()

	c.Clear(ctx)
	if _, _, ok := c.Get(ctx, "k"); ok {
		t.Error("entry survived Clear")
	}
	if _, ok, _ := store.GetItem(ctx, tableKey); ok {
		t.Error("persisted table survived Clear")
	}
	if _, ok, _ := store.GetItem(ctx, stampKey); ok {
		t.Error("version stamp survived Clear")
	}
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")

	st, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer st.Close()

	if _, ok, err := st.GetItem(ctx, "missing"); err != nil || ok {
		t.Fatalf("GetItem(missing) = ok=%v err=%v", ok, err)
	}
	if err := st.SetItem(ctx, "a", "1"); err != nil {
		t.Fatalf("SetItem: %v", err)
	}
	if err := st.SetItem(ctx, "a", "2"); err != nil {
		t.Fatalf("SetItem upsert: %v", err)
	}
	v, ok, err := st.GetItem(ctx, "a")
	if err != nil || !ok || v != "2" {
		t.Fatalf("GetItem(a) = %q ok=%v err=%v, want 2", v, ok, err)
	}
	if err := st.RemoveItem(ctx, "a"); err != nil {
		t.Fatalf("RemoveItem: %v", err)
	}
	if _, ok, _ := st.GetItem(ctx, "a"); ok {
		t.Error("RemoveItem left the row behind")
	}
}

func TestRemoveManyChunks(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	keys := make([]string, 0, removeBatchSize+30)
	for i := 0; i < removeBatchSize+30; i++ {
		k := fmt.Sprintf("k%d", i)
		keys = append(keys, k)
		if err := store.SetItem(ctx, k, "v"); err != nil {
			t.Fatal(err)
		}
	}
	if err := RemoveMany(ctx, store, keys); err != nil {
		t.Fatalf("RemoveMany: %v", err)
	}
	for _, k := range keys {
		if _, ok, _ := store.GetItem(ctx, k); ok {
			t.Fatalf("key %s survived RemoveMany", k)
		}
	}
}
