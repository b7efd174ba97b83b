package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/matsen/bibfill/internal/cache"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeResolver serves canned payloads and counts requests per DOI. An
// optional gate blocks every request until released, which lets tests pile
// up concurrent callers.
type fakeResolver struct {
	mu       sync.Mutex
	calls    map[string]int
	payloads map[string]string
	errs     map[string]error
	gate     chan struct{}
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		calls:    make(map[string]int),
		payloads: make(map[string]string),
		errs:     make(map[string]error),
	}
}

func (f *fakeResolver) Resolve(ctx context.Context, doi string) (json.RawMessage, error) {
	f.mu.Lock()
	f.calls[doi]++
	f.mu.Unlock()

	if f.gate != nil {
		<-f.gate
	}

	if err := f.errs[doi]; err != nil {
		return nil, err
	}
	if p, ok := f.payloads[doi]; ok {
		return json.RawMessage(p), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, doi)
}

func (f *fakeResolver) callCount(doi string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[doi]
}

func testFetcher(resolver Resolver) (*Fetcher, cache.Store) {
	store := cache.NewMemory()
	limit := NewLimiter(1000, 1000, 16)
	return NewFetcher(store, limit, resolver, discard()), store
}

func TestFetcherFetchesAndCaches(t *testing.T) {
	resolver := newFakeResolver()
	resolver.payloads["10.1/x"] = `{"title":"T","type":"book","DOI":"10.1/x"}`
	f, store := testFetcher(resolver)

	e, err := f.Resolve(context.Background(), "10.1/x")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if v, _ := e.Fields.Get("title"); v == nil {
		t.Error("fetched entry missing title")
	}
	if e.Type != "book" {
		t.Errorf("Type = %q", e.Type)
	}

	rec, err := store.Get(Namespace, "10.1/x")
	if err != nil || rec == nil {
		t.Fatalf("record not cached: rec=%v err=%v", rec, err)
	}

	// Second resolution is served from the cache.
	if _, err := f.Resolve(context.Background(), "10.1/x"); err != nil {
		t.Fatalf("second Resolve: %v", err)
	}
	if n := resolver.callCount("10.1/x"); n != 1 {
		t.Errorf("resolver saw %d requests, want 1", n)
	}
}

func TestFetcherCacheHitSkipsResolver(t *testing.T) {
	resolver := newFakeResolver()
	f, store := testFetcher(resolver)

	store.Put(&cache.Record{
		Namespace: Namespace,
		Key:       "10.1/x",
		Payload:   []byte(`{"title":"Cached","type":"misc"}`),
	})

	e, err := f.Resolve(context.Background(), "10.1/x")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if v, _ := e.Fields.Get("title"); v == nil {
		t.Error("cached entry missing title")
	}
	if n := resolver.callCount("10.1/x"); n != 0 {
		t.Errorf("resolver saw %d requests, want 0 on cache hit", n)
	}
}

func TestFetcherRefetchesCorruptCacheRecord(t *testing.T) {
	resolver := newFakeResolver()
	resolver.payloads["10.1/x"] = `{"title":"Fresh","type":"misc"}`
	f, store := testFetcher(resolver)

	// Valid JSON, but not a decodable record.
	store.Put(&cache.Record{
		Namespace: Namespace,
		Key:       "10.1/x",
		Payload:   []byte(`{"title": true}`),
	})

	e, err := f.Resolve(context.Background(), "10.1/x")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if v, _ := e.Fields.Get("title"); v == nil {
		t.Error("entry missing title after re-fetch")
	}
	if n := resolver.callCount("10.1/x"); n != 1 {
		t.Errorf("resolver saw %d requests, want 1", n)
	}

	rec, _ := store.Get(Namespace, "10.1/x")
	if rec == nil || string(rec.Payload) != `{"title":"Fresh","type":"misc"}` {
		t.Errorf("corrupt record not replaced: %v", rec)
	}
}

func TestFetcherCoalescesConcurrentRequests(t *testing.T) {
	resolver := newFakeResolver()
	resolver.payloads["10.1/x"] = `{"title":"T","type":"misc"}`
	resolver.gate = make(chan struct{})
	f, _ := testFetcher(resolver)

	const callers = 8
	var wg, started sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		started.Add(1)
		go func(i int) {
			defer wg.Done()
			started.Done()
			_, errs[i] = f.Resolve(context.Background(), "10.1/x")
		}(i)
	}

	// Let callers pile up on the in-flight call, then release it.
	started.Wait()
	time.Sleep(50 * time.Millisecond)
	close(resolver.gate)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("caller %d: %v", i, err)
		}
	}
	if n := resolver.callCount("10.1/x"); n != 1 {
		t.Errorf("resolver saw %d requests, want 1 for %d concurrent callers", n, callers)
	}
}

func TestFetcherErrorSharedByFollowers(t *testing.T) {
	resolver := newFakeResolver()
	resolver.errs["10.1/gone"] = fmt.Errorf("%w: 10.1/gone", ErrNotFound)
	resolver.gate = make(chan struct{})
	f, store := testFetcher(resolver)

	const callers = 4
	var wg, started sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		started.Add(1)
		go func(i int) {
			defer wg.Done()
			started.Done()
			_, errs[i] = f.Resolve(context.Background(), "10.1/gone")
		}(i)
	}
	started.Wait()
	time.Sleep(50 * time.Millisecond)
	close(resolver.gate)
	wg.Wait()

	for i, err := range errs {
		if !IsNotFound(err) {
			t.Errorf("caller %d: err = %v, want ErrNotFound", i, err)
		}
	}
	if n := resolver.callCount("10.1/gone"); n != 1 {
		t.Errorf("resolver saw %d requests, want 1", n)
	}
	if rec, _ := store.Get(Namespace, "10.1/gone"); rec != nil {
		t.Error("failed resolution must not be cached")
	}
}

func TestFetcherCleansBeforeCaching(t *testing.T) {
	resolver := newFakeResolver()
	resolver.payloads["10.1/x"] = `{"type":"journal-article","title":"T","score":7.3,"subtitle":[]}`
	f, store := testFetcher(resolver)

	e, err := f.Resolve(context.Background(), "10.1/x")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if e.Type != "article-journal" {
		t.Errorf("Type = %q, want remapped article-journal", e.Type)
	}
	if e.Fields.Has("score") || e.Fields.Has("subtitle") {
		t.Error("registry fields survived cleaning")
	}

	rec, _ := store.Get(Namespace, "10.1/x")
	if rec == nil {
		t.Fatal("record not cached")
	}
	if string(rec.Payload) == resolver.payloads["10.1/x"] {
		t.Error("raw payload cached; the cleaned record should be")
	}
}
