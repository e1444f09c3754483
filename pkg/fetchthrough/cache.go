// Package fetchthrough implements a batched fetch-through cache: identifiers
// are resolved from a persistent document store where possible, and the
// remainder is fetched from an upstream provider in bounded pages, persisted,
// and returned alongside the hits.
package fetchthrough

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"
	"github.com/illmade-knight/go-annotationcache/pkg/cacheerr"
	"github.com/illmade-knight/go-annotationcache/pkg/metrics"
	"github.com/illmade-knight/go-annotationcache/pkg/store"
	"github.com/illmade-knight/go-annotationcache/pkg/transform"
	"github.com/illmade-knight/go-annotationcache/pkg/types"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const DefaultMaxPageSize = 200

// Config holds the per-collection settings for a Cache.
type Config struct {
	// Collection names the store collection documents are persisted in.
	Collection string `yaml:"collection"`
	// URL is the upstream batch endpoint.
	URL string `yaml:"url"`
	// MaxPageSize caps the number of identifiers sent in one upstream request.
	MaxPageSize int `yaml:"max_page_size"`
	// PageConcurrency bounds how many pages one call issues at once.
	PageConcurrency int `yaml:"page_concurrency"`
}

// DefaultConfig returns a Config with the default page settings.
func DefaultConfig(collection, url string) Config {
	return Config{
		Collection:      collection,
		URL:             url,
		MaxPageSize:     DefaultMaxPageSize,
		PageConcurrency: 1,
	}
}

// Poster is the upstream batch client.
type Poster interface {
	Post(ctx context.Context, target string, body any) ([]byte, error)
}

// Transformer maps a raw upstream payload onto documents.
type Transformer func(raw []byte) ([]types.Document, error)

// Strategy carries the per-record-type behaviour of a Cache. IsValidID,
// RecordID and DocumentID are required. RecordID and DocumentID must agree for
// a record that has been through the store.
//
// A stored record is a hit only for the request id equal to its RecordID. When
// one response expands into records keyed by derived ids (RequestID differs
// from DocumentID), a repeat lookup of the original request id never hits and
// is always fetched from upstream again.
type Strategy[T any] struct {
	IsValidID  func(id string) bool
	RecordID   func(record T) string
	DocumentID func(doc types.Document) string
	// RequestID maps a fetched document back to the request identifier it
	// answers. Defaults to DocumentID.
	RequestID func(doc types.Document) string
	// BuildRequestBody defaults to {"ids": ids}.
	BuildRequestBody func(ids []string) any
	// Decode defaults to transform.Decode.
	Decode func(doc types.Document) (T, error)
}

// IDsBody is the default request body.
func IDsBody(ids []string) any {
	return map[string]any{"ids": ids}
}

// Option configures optional collaborators of a Cache.
type Option func(*options)

type options struct {
	transformer Transformer
	metrics     *metrics.Metrics
}

// WithTransformer replaces transform.JSONArray as the response mapper.
func WithTransformer(t Transformer) Option {
	return func(o *options) { o.transformer = t }
}

// WithMetrics records cache activity on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// Cache is a batched fetch-through cache for records of type T.
type Cache[T any] struct {
	cfg       Config
	strategy  Strategy[T]
	store     store.DocumentStore
	client    Poster
	transform Transformer
	metrics   *metrics.Metrics
	flights   *flightGroup[T]
	logger    zerolog.Logger
}

// New creates a Cache. The configuration is copied and fixed for the life of
// the cache.
func New[T any](cfg Config, strategy Strategy[T], docStore store.DocumentStore, client Poster, logger zerolog.Logger, opts ...Option) (*Cache[T], error) {
	if cfg.Collection == "" {
		return nil, errors.New("collection is required")
	}
	if cfg.URL == "" {
		return nil, errors.New("upstream url is required")
	}
	if cfg.MaxPageSize <= 0 {
		return nil, fmt.Errorf("max page size must be positive, got %d", cfg.MaxPageSize)
	}
	if cfg.PageConcurrency <= 0 {
		cfg.PageConcurrency = 1
	}
	if strategy.IsValidID == nil || strategy.RecordID == nil || strategy.DocumentID == nil {
		return nil, errors.New("strategy requires IsValidID, RecordID and DocumentID")
	}
	if strategy.RequestID == nil {
		strategy.RequestID = strategy.DocumentID
	}
	if strategy.BuildRequestBody == nil {
		strategy.BuildRequestBody = IDsBody
	}
	if strategy.Decode == nil {
		strategy.Decode = transform.Decode[T]
	}
	if docStore == nil {
		return nil, errors.New("document store cannot be nil")
	}
	if client == nil {
		return nil, errors.New("upstream client cannot be nil")
	}

	o := options{transformer: transform.JSONArray}
	for _, opt := range opts {
		opt(&o)
	}

	return &Cache[T]{
		cfg:       cfg,
		strategy:  strategy,
		store:     docStore,
		client:    client,
		transform: o.transformer,
		metrics:   o.metrics,
		flights:   newFlightGroup[T](),
		logger:    logger.With().Str("component", "FetchThroughCache").Str("collection", cfg.Collection).Logger(),
	}, nil
}

// Config returns the cache configuration.
func (c *Cache[T]) Config() Config { return c.cfg }

// FetchAndCache resolves ids to records. Cached records come from the store;
// valid uncached ids are fetched upstream in pages, persisted and returned.
// Invalid ids are dropped silently. On failure the records resolved so far are
// returned together with the error; pages committed before the failure stay
// committed.
func (c *Cache[T]) FetchAndCache(ctx context.Context, ids []string) ([]T, error) {
	ids = dedupe(ids)
	if len(ids) == 0 {
		return []T{}, nil
	}

	results, remaining, err := c.lookup(ctx, ids)
	if err != nil {
		return results, err
	}
	c.metrics.Hits(c.cfg.Collection, len(results))

	valid := remaining[:0]
	for _, id := range remaining {
		if c.strategy.IsValidID(id) {
			valid = append(valid, id)
		}
	}
	if invalid := len(remaining) - len(valid); invalid > 0 {
		c.metrics.Invalid(c.cfg.Collection, invalid)
		c.logger.Debug().Int("invalid", invalid).Msg("Dropped invalid identifiers.")
	}
	if len(valid) == 0 {
		return results, nil
	}
	c.metrics.Misses(c.cfg.Collection, len(valid))

	fetched, err := c.resolve(ctx, valid, true)
	return append(results, fetched...), err
}

// Fetch resolves a single id. An invalid id, or one the upstream has nothing
// for, yields a not-found failure.
func (c *Cache[T]) Fetch(ctx context.Context, id string) (T, error) {
	var zero T
	if !c.strategy.IsValidID(id) {
		return zero, cacheerr.NotFound("fetchthrough.fetch", fmt.Errorf("invalid identifier %q", id))
	}
	records, err := c.FetchAndCache(ctx, []string{id})
	if err != nil {
		return zero, err
	}
	if len(records) == 0 {
		return zero, cacheerr.NotFound("fetchthrough.fetch", fmt.Errorf("no %s record for %q", c.cfg.Collection, id))
	}
	for _, r := range records {
		if c.strategy.RecordID(r) == id {
			return r, nil
		}
	}
	return records[0], nil
}

// InFlight reports how many identifiers are currently being fetched upstream.
func (c *Cache[T]) InFlight() int {
	return c.flights.pending()
}

// lookup reads ids from the store and returns the decoded hits and the ids
// still unresolved.
func (c *Cache[T]) lookup(ctx context.Context, ids []string) ([]T, []string, error) {
	docs, err := c.store.FindByIDs(ctx, c.cfg.Collection, ids)
	if err != nil {
		return []T{}, nil, cacheerr.Wrap(cacheerr.KindPersistence, "fetchthrough.find", err)
	}

	results := make([]T, 0, len(ids))
	hit := make(map[string]struct{}, len(docs))
	for _, doc := range docs {
		rec, err := c.strategy.Decode(doc)
		if err != nil {
			return results, nil, cacheerr.Wrap(cacheerr.KindMapping, "fetchthrough.decode", err)
		}
		results = append(results, rec)
		hit[c.strategy.RecordID(rec)] = struct{}{}
	}

	remaining := make([]string, 0, len(ids)-len(hit))
	for _, id := range ids {
		if _, ok := hit[id]; !ok {
			remaining = append(remaining, id)
		}
	}
	return results, remaining, nil
}

// resolve fetches ids upstream, sharing in-flight pages with concurrent calls.
// When a page this call was waiting on fails, its ids are tried once more on
// this call's own behalf.
func (c *Cache[T]) resolve(ctx context.Context, ids []string, retryShared bool) ([]T, error) {
	owned, waits := c.flights.claim(ids, c.cfg.MaxPageSize)

	results, err := c.recheck(ctx, owned)
	if err != nil {
		for _, f := range owned {
			c.flights.finish(f, nil, err)
		}
		return []T{}, err
	}

	fetched, runErr := c.runPages(ctx, owned)
	results = append(results, fetched...)

	var retry []string
	for f, waited := range waits {
		select {
		case <-f.done:
		case <-ctx.Done():
			return results, multierror.Append(runErr, fmt.Errorf("waiting for in-flight fetch: %w", ctx.Err()))
		}
		if f.err != nil {
			retry = append(retry, waited...)
			continue
		}
		want := make(map[string]struct{}, len(waited))
		for _, id := range waited {
			want[id] = struct{}{}
		}
		for _, k := range f.records {
			if _, ok := want[k.requestID]; ok {
				results = append(results, k.record)
			}
		}
	}
	if runErr != nil {
		return results, runErr
	}

	if len(retry) > 0 {
		if !retryShared {
			return results, fmt.Errorf("shared fetch for %d identifiers failed", len(retry))
		}
		c.logger.Debug().Int("count", len(retry)).Msg("Retrying identifiers from a failed shared fetch.")
		more, err := c.resolve(ctx, retry, false)
		return append(results, more...), err
	}
	return results, nil
}

// recheck reads the owned ids from the store again. Another call may have
// persisted them between this call's lookup and its claim. It returns the
// records found and leaves the rest in each flight's fetch list.
func (c *Cache[T]) recheck(ctx context.Context, owned []*flight[T]) ([]T, error) {
	if len(owned) == 0 {
		return nil, nil
	}
	var ids []string
	for _, f := range owned {
		ids = append(ids, f.ids...)
	}
	found, _, err := c.lookup(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]T, len(found))
	for _, rec := range found {
		byID[c.strategy.RecordID(rec)] = rec
	}

	var hits []T
	for _, f := range owned {
		f.fetch = make([]string, 0, len(f.ids))
		for _, id := range f.ids {
			if rec, ok := byID[id]; ok {
				f.hits = append(f.hits, keyed[T]{requestID: id, record: rec})
				hits = append(hits, rec)
				continue
			}
			f.fetch = append(f.fetch, id)
		}
	}
	if len(hits) > 0 {
		c.logger.Debug().Int("count", len(hits)).Msg("Identifiers persisted by a concurrent call.")
	}
	return hits, nil
}

// runPages issues the owned pages with bounded concurrency. Once a page has
// failed no further page starts; pages already issued run to completion.
func (c *Cache[T]) runPages(ctx context.Context, pages []*flight[T]) ([]T, error) {
	var (
		mu      sync.Mutex
		results []T
		failed  atomic.Bool
		g       errgroup.Group
	)
	g.SetLimit(c.cfg.PageConcurrency)

	for i, page := range pages {
		g.Go(func() error {
			if len(page.fetch) == 0 {
				c.flights.finish(page, page.hits, nil)
				return nil
			}
			if failed.Load() {
				c.flights.finish(page, nil, ErrPageAborted)
				return nil
			}
			records, err := c.fetchPage(ctx, i, page.fetch)
			if err != nil {
				c.flights.finish(page, nil, err)
				failed.Store(true)
				return err
			}
			c.flights.finish(page, append(page.hits, records...), nil)
			mu.Lock()
			for _, k := range records {
				results = append(results, k.record)
			}
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()
	return results, err
}

// fetchPage performs one upstream request, persists the mapped documents and
// decodes them.
func (c *Cache[T]) fetchPage(ctx context.Context, page int, ids []string) ([]keyed[T], error) {
	log := c.logger.With().Int("page", page).Int("ids", len(ids)).Logger()

	raw, err := c.client.Post(ctx, c.cfg.URL, c.strategy.BuildRequestBody(ids))
	if err != nil {
		c.metrics.Upstream(c.cfg.Collection, metrics.OutcomeError)
		log.Error().Err(err).Msg("Upstream fetch failed.")
		return nil, cacheerr.Wrap(cacheerr.KindTransport, "fetchthrough.post", err)
	}
	c.metrics.Upstream(c.cfg.Collection, metrics.OutcomeSuccess)

	docs, err := c.transform(raw)
	if err != nil {
		log.Error().Err(err).Msg("Failed to map upstream response.")
		return nil, cacheerr.Wrap(cacheerr.KindMapping, "fetchthrough.transform", err)
	}

	keep := make([]types.Document, 0, len(docs))
	records := make([]keyed[T], 0, len(docs))
	for _, doc := range docs {
		id := c.strategy.DocumentID(doc)
		if id == "" {
			log.Warn().Msg("Skipping upstream document without an identifier.")
			continue
		}
		doc[types.IDField] = id
		rec, err := c.strategy.Decode(doc)
		if err != nil {
			return nil, cacheerr.Wrap(cacheerr.KindMapping, "fetchthrough.decode", err)
		}
		keep = append(keep, doc)
		records = append(records, keyed[T]{requestID: c.strategy.RequestID(doc), record: rec})
	}

	if len(keep) > 0 {
		if err := c.store.UpsertMany(ctx, c.cfg.Collection, keep); err != nil {
			log.Error().Err(err).Msg("Failed to persist fetched documents.")
			return nil, cacheerr.Wrap(cacheerr.KindPersistence, "fetchthrough.upsert", err)
		}
		c.metrics.Persisted(c.cfg.Collection, len(keep))
	}
	log.Debug().Int("persisted", len(keep)).Msg("Fetched page.")
	return records, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
