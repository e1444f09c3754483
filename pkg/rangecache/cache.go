// Package rangecache implements a lazily built, in-memory index over a full
// dataset snapshot, answering inclusive range-overlap queries per grouping key.
//
// The index is loaded on first use. Concurrent first callers share a single
// load and block until it completes. A load that yields no records leaves the
// cache uninitialized so the next call tries again; a failing load propagates
// its error and also leaves the cache uninitialized.
package rangecache

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/illmade-knight/go-annotationcache/pkg/cacheerr"
	"github.com/illmade-knight/go-annotationcache/pkg/metrics"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// State is the lifecycle state of a Cache.
type State int

const (
	Uninitialized State = iota
	Loading
	Ready
)

func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	default:
		return "uninitialized"
	}
}

// Loader fetches the full dataset.
type Loader[T any] func(ctx context.Context) ([]T, error)

// Extractor derives the grouping key and position of a record. Records for
// which Span reports false are indexed for Lookup but never match a Query.
type Extractor[T any] struct {
	Key  func(record T) string
	Span func(record T) (Span, bool)
}

// Config configures a Cache.
type Config struct {
	// Name labels logs and metrics.
	Name string `yaml:"name"`
	// RefreshInterval makes the first call after the interval reload the
	// snapshot. Zero keeps the first successful load for the life of the
	// process.
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

// Option configures optional collaborators of a Cache.
type Option func(*options)

type options struct {
	metrics *metrics.Metrics
	now     func() time.Time
}

// WithMetrics records loads on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithClock replaces time.Now for refresh decisions.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

const loadKey = "snapshot"

// Cache is a full-snapshot range cache over records of type T.
type Cache[T any] struct {
	cfg     Config
	load    Loader[T]
	ex      Extractor[T]
	idx     atomic.Pointer[index[T]]
	loading atomic.Bool
	group   singleflight.Group
	metrics *metrics.Metrics
	now     func() time.Time
	logger  zerolog.Logger
}

// New creates an uninitialized Cache. Nothing is loaded until the first call.
func New[T any](cfg Config, load Loader[T], ex Extractor[T], logger zerolog.Logger, opts ...Option) (*Cache[T], error) {
	if load == nil {
		return nil, errors.New("loader cannot be nil")
	}
	if ex.Key == nil || ex.Span == nil {
		return nil, errors.New("extractor requires Key and Span")
	}
	if cfg.RefreshInterval < 0 {
		return nil, errors.New("refresh interval cannot be negative")
	}
	if cfg.Name == "" {
		cfg.Name = "rangecache"
	}
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Cache[T]{
		cfg:     cfg,
		load:    load,
		ex:      ex,
		metrics: o.metrics,
		now:     o.now,
		logger:  logger.With().Str("component", "RangeCache").Str("cache", cfg.Name).Logger(),
	}, nil
}

// Query returns the records under key whose span overlaps window, inclusive
// on both sides. An unknown key yields an empty result.
func (c *Cache[T]) Query(ctx context.Context, key string, window Span) ([]T, error) {
	idx, err := c.ensure(ctx)
	if err != nil || idx == nil {
		return []T{}, err
	}
	if window.End < window.Start {
		window.Start, window.End = window.End, window.Start
	}
	return idx.query(key, window), nil
}

// Lookup returns every record under key.
func (c *Cache[T]) Lookup(ctx context.Context, key string) ([]T, error) {
	idx, err := c.ensure(ctx)
	if err != nil || idx == nil {
		return []T{}, err
	}
	return idx.lookup(key), nil
}

// Refresh reloads the snapshot now. On failure, or when the load is empty, the
// current index is kept and counts as loaded at the time of the attempt.
func (c *Cache[T]) Refresh(ctx context.Context) error {
	_, err, _ := c.group.Do(loadKey, func() (any, error) {
		return c.reload(context.WithoutCancel(ctx))
	})
	return err
}

// State reports the current lifecycle state.
func (c *Cache[T]) State() State {
	if c.loading.Load() {
		return Loading
	}
	if c.idx.Load() == nil {
		return Uninitialized
	}
	return Ready
}

// Size reports the number of records and grouping keys indexed.
func (c *Cache[T]) Size() (records, keys int) {
	idx := c.idx.Load()
	if idx == nil {
		return 0, 0
	}
	return idx.size, idx.keys()
}

func (c *Cache[T]) stale(idx *index[T]) bool {
	return c.cfg.RefreshInterval > 0 && c.now().Sub(idx.loadedAt) >= c.cfg.RefreshInterval
}

// ensure returns the current index, loading it first if needed. A nil index
// with a nil error means the load produced nothing.
func (c *Cache[T]) ensure(ctx context.Context) (*index[T], error) {
	current := c.idx.Load()
	if current != nil && !c.stale(current) {
		return current, nil
	}

	v, err, _ := c.group.Do(loadKey, func() (any, error) {
		if idx := c.idx.Load(); idx != nil && !c.stale(idx) {
			return idx, nil
		}
		// Detached: every waiting caller shares this load.
		return c.reload(context.WithoutCancel(ctx))
	})
	if err != nil {
		if current != nil {
			c.logger.Error().Err(err).Msg("Snapshot refresh failed, serving previous index.")
			return current, nil
		}
		return nil, err
	}
	idx, _ := v.(*index[T])
	return idx, nil
}

func (c *Cache[T]) reload(ctx context.Context) (*index[T], error) {
	c.loading.Store(true)
	defer c.loading.Store(false)

	start := c.now()
	records, err := c.load(ctx)
	if err != nil {
		c.metrics.SnapshotLoad(c.cfg.Name, metrics.OutcomeError, 0)
		c.logger.Error().Err(err).Msg("Snapshot load failed.")
		if old := c.idx.Load(); old != nil {
			c.keep(old)
		}
		return nil, cacheerr.Wrap(cacheerr.KindTransport, "rangecache.load", err)
	}
	if len(records) == 0 {
		c.metrics.SnapshotLoad(c.cfg.Name, metrics.OutcomeEmpty, 0)
		c.logger.Warn().Msg("Snapshot load returned no records, index not built.")
		if old := c.idx.Load(); old != nil {
			return c.keep(old), nil
		}
		return nil, nil
	}

	idx := buildIndex(records, c.ex, c.now())
	c.idx.Store(idx)
	c.metrics.SnapshotLoad(c.cfg.Name, metrics.OutcomeSuccess, idx.size)
	c.logger.Info().
		Int("records", idx.size).
		Int("keys", idx.keys()).
		Dur("duration", c.now().Sub(start)).
		Msg("Snapshot index built.")
	return idx, nil
}

// keep re-stamps the current index so that a failed or empty reload is next
// attempted one refresh interval later.
func (c *Cache[T]) keep(idx *index[T]) *index[T] {
	kept := *idx
	kept.loadedAt = c.now()
	c.idx.Store(&kept)
	return &kept
}
