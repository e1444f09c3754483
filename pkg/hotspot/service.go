// Package hotspot serves cancer hotspots by transcript from a full-snapshot
// range cache, and matches them against the protein positions of transcript
// consequences.
package hotspot

import (
	"context"
	"errors"
	"fmt"

	"github.com/illmade-knight/go-annotationcache/pkg/cacheerr"
	"github.com/illmade-knight/go-annotationcache/pkg/rangecache"
	"github.com/illmade-knight/go-annotationcache/pkg/transform"
	"github.com/illmade-knight/go-annotationcache/pkg/types"
	"github.com/illmade-knight/go-annotationcache/pkg/upstream"
	"github.com/rs/zerolog"
)

// ScopedSource is a snapshot source that can also fetch a single resource.
type ScopedSource interface {
	upstream.SnapshotSource
	FetchScoped(ctx context.Context, pathSuffix string) ([]byte, error)
}

// Extractor groups hotspots by transcript and positions them by amino acid
// range or residue.
var Extractor = rangecache.Extractor[types.Hotspot]{
	Key: func(h types.Hotspot) string { return h.TranscriptID },
	Span: func(h types.Hotspot) (rangecache.Span, bool) {
		start, end, ok := h.Position()
		return rangecache.Span{Start: start, End: end}, ok
	},
}

// Service answers hotspot queries.
type Service struct {
	source upstream.SnapshotSource
	cache  *rangecache.Cache[types.Hotspot]
	logger zerolog.Logger
}

// NewService creates a Service. The snapshot is not fetched until the first
// cached query.
func NewService(source upstream.SnapshotSource, cfg rangecache.Config, logger zerolog.Logger, opts ...rangecache.Option) (*Service, error) {
	if source == nil {
		return nil, errors.New("hotspot source cannot be nil")
	}
	if cfg.Name == "" {
		cfg.Name = "hotspots"
	}
	s := &Service{
		source: source,
		logger: logger.With().Str("component", "HotspotService").Logger(),
	}
	c, err := rangecache.New(cfg, s.GetAllHotspots, Extractor, logger, opts...)
	if err != nil {
		return nil, err
	}
	s.cache = c
	return s, nil
}

// GetAllHotspots fetches the full hotspot list from the source, bypassing the
// cache.
func (s *Service) GetAllHotspots(ctx context.Context) ([]types.Hotspot, error) {
	raw, err := s.source.FetchAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch hotspots from %s: %w", s.source, err)
	}
	hotspots, err := transform.DecodeArray[types.Hotspot](raw)
	if err != nil {
		return nil, fmt.Errorf("map hotspots from %s: %w", s.source, err)
	}
	return hotspots, nil
}

// GetHotspots returns every cached hotspot on a transcript.
func (s *Service) GetHotspots(ctx context.Context, transcriptID string) ([]types.Hotspot, error) {
	return s.cache.Lookup(ctx, transcriptID)
}

// GetHotspotsForTranscript returns the hotspots on the consequence's transcript
// that overlap its protein range, each combined with the consequence's gene
// and protein positions. A consequence without a protein position matches
// nothing.
func (s *Service) GetHotspotsForTranscript(ctx context.Context, tc types.TranscriptConsequence) ([]types.AnnotatedHotspot, error) {
	if tc.ProteinStart <= 0 {
		return []types.AnnotatedHotspot{}, nil
	}
	end := tc.ProteinEnd
	if end <= 0 {
		end = tc.ProteinStart
	}
	matches, err := s.cache.Query(ctx, tc.TranscriptID, rangecache.Span{Start: tc.ProteinStart, End: end})
	if err != nil {
		return nil, err
	}
	out := make([]types.AnnotatedHotspot, 0, len(matches))
	for _, h := range matches {
		out = append(out, types.AnnotatedHotspot{
			Hotspot:      h,
			GeneID:       tc.GeneID,
			ProteinStart: tc.ProteinStart,
			ProteinEnd:   tc.ProteinEnd,
		})
	}
	return out, nil
}

// GetHotspotsForConsequences matches every consequence and concatenates the
// results.
func (s *Service) GetHotspotsForConsequences(ctx context.Context, tcs []types.TranscriptConsequence) ([]types.AnnotatedHotspot, error) {
	out := []types.AnnotatedHotspot{}
	for _, tc := range tcs {
		matches, err := s.GetHotspotsForTranscript(ctx, tc)
		if err != nil {
			return nil, err
		}
		out = append(out, matches...)
	}
	return out, nil
}

// FetchByTranscript asks the source for one transcript's hotspots without
// touching the cache. It needs a source that supports scoped fetches.
func (s *Service) FetchByTranscript(ctx context.Context, transcriptID string) ([]types.Hotspot, error) {
	scoped, ok := s.source.(ScopedSource)
	if !ok {
		return nil, cacheerr.NotFound("hotspot.byTranscript", fmt.Errorf("source %s does not support per-transcript queries", s.source))
	}
	raw, err := scoped.FetchScoped(ctx, "byTranscript/"+transcriptID)
	if err != nil {
		return nil, err
	}
	return transform.DecodeArray[types.Hotspot](raw)
}

// Refresh reloads the snapshot now.
func (s *Service) Refresh(ctx context.Context) error {
	return s.cache.Refresh(ctx)
}

// State reports the cache state.
func (s *Service) State() rangecache.State {
	return s.cache.State()
}
