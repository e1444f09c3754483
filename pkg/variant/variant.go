// Package variant caches variant annotations keyed by dbSNP or COSMIC
// identifier, fetched in batches from a VEP-style by-id endpoint.
package variant

import (
	"context"

	"github.com/illmade-knight/go-annotationcache/pkg/fetchthrough"
	"github.com/illmade-knight/go-annotationcache/pkg/idpolicy"
	"github.com/illmade-knight/go-annotationcache/pkg/store"
	"github.com/illmade-knight/go-annotationcache/pkg/types"
	"github.com/rs/zerolog"
)

// Collection is the store collection holding variant annotations.
const Collection = "vep.annotation"

// idField is the document field the upstream echoes the requested id in.
const idField = "input"

// Strategy returns the fetch-through behaviour for variant annotations.
func Strategy() fetchthrough.Strategy[types.VariantAnnotation] {
	return fetchthrough.Strategy[types.VariantAnnotation]{
		IsValidID:  idpolicy.VariantID,
		RecordID:   func(a types.VariantAnnotation) string { return a.VariantID },
		DocumentID: func(d types.Document) string { return d.String(idField) },
	}
}

// Service resolves variant annotations through a fetch-through cache.
type Service struct {
	cache *fetchthrough.Cache[types.VariantAnnotation]
}

// NewService creates a Service. An empty cfg.Collection defaults to Collection.
func NewService(
	cfg fetchthrough.Config,
	docStore store.DocumentStore,
	client fetchthrough.Poster,
	logger zerolog.Logger,
	opts ...fetchthrough.Option,
) (*Service, error) {
	if cfg.Collection == "" {
		cfg.Collection = Collection
	}
	c, err := fetchthrough.New(cfg, Strategy(), docStore, client, logger.With().Str("service", "variant").Logger(), opts...)
	if err != nil {
		return nil, err
	}
	return &Service{cache: c}, nil
}

// Annotate returns annotations for every valid id, fetching the ones not yet
// cached.
func (s *Service) Annotate(ctx context.Context, ids []string) ([]types.VariantAnnotation, error) {
	return s.cache.FetchAndCache(ctx, ids)
}

// Get returns the annotation for a single id.
func (s *Service) Get(ctx context.Context, id string) (types.VariantAnnotation, error) {
	return s.cache.Fetch(ctx, id)
}

// Consequences returns the transcript consequences of a single variant.
func (s *Service) Consequences(ctx context.Context, id string) ([]types.TranscriptConsequence, error) {
	a, err := s.cache.Fetch(ctx, id)
	if err != nil {
		return nil, err
	}
	return a.TranscriptConsequences, nil
}
