package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/illmade-knight/go-annotationcache/pkg/types"
	"github.com/rs/zerolog"
)

// L1Config sizes the in-process layer. Cost is counted in documents.
type L1Config struct {
	NumCounters int64         `yaml:"num_counters"`
	MaxCost     int64         `yaml:"max_cost"`
	BufferItems int64         `yaml:"buffer_items"`
	TTL         time.Duration `yaml:"ttl"`
}

// DefaultL1Config holds roughly 100k documents.
func DefaultL1Config() L1Config {
	return L1Config{
		NumCounters: 1_000_000,
		MaxCost:     100_000,
		BufferItems: 64,
	}
}

// L1Store fronts another DocumentStore with a ristretto cache. Reads are served
// from memory where possible and the remainder is read from the backing store.
// Writes go to the backing store first and populate the cache on success.
type L1Store struct {
	cache   *ristretto.Cache
	backing DocumentStore
	ttl     time.Duration
	logger  zerolog.Logger
}

// NewL1Store wraps backing with an in-process cache.
func NewL1Store(cfg L1Config, backing DocumentStore, logger zerolog.Logger) (*L1Store, error) {
	if backing == nil {
		return nil, errors.New("backing store cannot be nil")
	}
	if cfg.NumCounters <= 0 || cfg.MaxCost <= 0 || cfg.BufferItems <= 0 {
		return nil, errors.New("l1: invalid config")
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
	})
	if err != nil {
		return nil, fmt.Errorf("l1: %w", err)
	}
	return &L1Store{
		cache:   c,
		backing: backing,
		ttl:     cfg.TTL,
		logger:  logger.With().Str("component", "L1Store").Logger(),
	}, nil
}

func l1Key(collection, id string) string {
	return collection + "\x00" + id
}

// FindByIDs serves cached ids from memory and reads the rest from the backing
// store, caching what it finds.
func (s *L1Store) FindByIDs(ctx context.Context, collection string, ids []string) ([]types.Document, error) {
	ids = dedupe(ids)
	out := make([]types.Document, 0, len(ids))
	var missing []string
	for _, id := range ids {
		v, ok := s.cache.Get(l1Key(collection, id))
		if !ok {
			missing = append(missing, id)
			continue
		}
		doc, _ := v.(types.Document)
		if doc == nil {
			s.cache.Del(l1Key(collection, id))
			missing = append(missing, id)
			continue
		}
		out = append(out, doc.Clone())
	}
	if len(missing) == 0 {
		return out, nil
	}

	found, err := s.backing.FindByIDs(ctx, collection, missing)
	if err != nil {
		return nil, err
	}
	s.remember(collection, found)
	return append(out, found...), nil
}

// UpsertMany writes through to the backing store.
func (s *L1Store) UpsertMany(ctx context.Context, collection string, docs []types.Document) error {
	if err := s.backing.UpsertMany(ctx, collection, docs); err != nil {
		return err
	}
	s.remember(collection, docs)
	return nil
}

func (s *L1Store) remember(collection string, docs []types.Document) {
	for _, doc := range docs {
		id := doc.ID()
		if id == "" {
			continue
		}
		s.cache.SetWithTTL(l1Key(collection, id), doc.Clone(), 1, s.ttl)
	}
	s.cache.Wait()
}

// Ping delegates to the backing store when it supports it.
func (s *L1Store) Ping(ctx context.Context) error {
	if p, ok := s.backing.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Close stops the cache and closes the backing store.
func (s *L1Store) Close() error {
	s.cache.Wait()
	s.cache.Close()
	return s.backing.Close()
}
