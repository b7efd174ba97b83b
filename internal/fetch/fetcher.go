package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/matsen/bibfill/internal/cache"
	"github.com/matsen/bibfill/internal/csl"
)

// Namespace scopes this fetcher's records within the cache store.
const Namespace = "crossref"

// Resolver turns a DOI into a raw CSL-JSON record. *Client is the production
// implementation; tests substitute fakes.
type Resolver interface {
	Resolve(ctx context.Context, doi string) (json.RawMessage, error)
}

// Fetcher resolves DOIs to bibliographic records. It consults the cache
// first, and coalesces concurrent requests for the same DOI into a single
// outbound call: at most one request per distinct DOI is in flight at any
// instant, however many entries in the batch reference it.
//
// The cache store and limiter are shared, long-lived resources injected at
// construction.
type Fetcher struct {
	store  cache.Store
	limit  *Limiter
	client Resolver
	log    *slog.Logger

	mu       sync.Mutex
	inflight map[string]*call
}

// call is the shared in-flight operation for one DOI. Every caller that
// coalesces onto it receives the identical result.
type call struct {
	done    chan struct{}
	payload json.RawMessage
	err     error
}

// NewFetcher creates a Fetcher around the given shared resources.
func NewFetcher(store cache.Store, limit *Limiter, client Resolver, log *slog.Logger) *Fetcher {
	if log == nil {
		log = slog.Default()
	}
	return &Fetcher{
		store:    store,
		limit:    limit,
		client:   client,
		log:      log,
		inflight: make(map[string]*call),
	}
}

// Resolve returns the bibliographic record for a DOI. The cache-hit path
// bypasses the rate limiter entirely. A cached record that fails to decode is
// treated as a miss and re-fetched.
func (f *Fetcher) Resolve(ctx context.Context, doi string) (*csl.Entry, error) {
	if rec, err := f.store.Get(Namespace, doi); err != nil {
		f.log.Warn("cache read failed, fetching", "doi", doi, "err", err)
	} else if rec != nil {
		e, err := decodeRecord(rec.Payload)
		if err == nil {
			return e, nil
		}
		f.log.Warn("corrupt cache record, re-fetching", "doi", doi, "err", err)
	}

	c, leader := f.join(doi)
	if leader {
		c.payload, c.err = f.fetchOne(ctx, doi)
		f.mu.Lock()
		delete(f.inflight, doi)
		f.mu.Unlock()
		close(c.done)
	} else {
		select {
		case <-c.done:
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for coalesced fetch of %s: %w", doi, ctx.Err())
		}
	}

	if c.err != nil {
		return nil, c.err
	}
	return decodeRecord(c.payload)
}

// join registers interest in a DOI. The first caller becomes the leader and
// performs the fetch; the rest attach to its call record.
func (f *Fetcher) join(doi string) (*call, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.inflight[doi]; ok {
		return c, false
	}
	c := &call{done: make(chan struct{})}
	f.inflight[doi] = c
	return c, true
}

// fetchOne performs the single outbound request for a DOI: permit, request,
// clean, cache. Only a complete cleaned record is ever written to the cache.
func (f *Fetcher) fetchOne(ctx context.Context, doi string) (json.RawMessage, error) {
	release, err := f.limit.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	payload, err := f.client.Resolve(ctx, doi)
	if err != nil {
		return nil, err
	}

	cleaned, err := CleanRecord(payload, f.log)
	if err != nil {
		return nil, err
	}

	if err := f.store.Put(&cache.Record{
		Namespace: Namespace,
		Key:       doi,
		Payload:   cleaned,
		FetchedAt: time.Now().UTC(),
	}); err != nil {
		// A write failure costs a re-fetch next run, nothing more.
		f.log.Warn("cache write failed", "doi", doi, "err", err)
	}

	return cleaned, nil
}

// ClearCache removes cached records in the given namespace ("" clears
// everything). Subsequent resolutions fetch fresh records.
func (f *Fetcher) ClearCache(namespace string) error {
	return f.store.Clear(namespace)
}

func decodeRecord(payload json.RawMessage) (*csl.Entry, error) {
	e, err := csl.DecodeEntry(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return &e, nil
}
