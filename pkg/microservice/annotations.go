package microservice

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/illmade-knight/go-annotationcache/pkg/cacheerr"
	"github.com/illmade-knight/go-annotationcache/pkg/types"
	"github.com/rs/zerolog"
)

const maxRequestBody = 1 << 20

// VariantAnnotator resolves variant annotations.
type VariantAnnotator interface {
	Annotate(ctx context.Context, ids []string) ([]types.VariantAnnotation, error)
	Get(ctx context.Context, id string) (types.VariantAnnotation, error)
}

// HotspotFinder answers hotspot queries.
type HotspotFinder interface {
	GetHotspots(ctx context.Context, transcriptID string) ([]types.Hotspot, error)
	GetHotspotsForConsequences(ctx context.Context, tcs []types.TranscriptConsequence) ([]types.AnnotatedHotspot, error)
	GetAllHotspots(ctx context.Context) ([]types.Hotspot, error)
	Refresh(ctx context.Context) error
}

// AnnotationServer exposes the caches over HTTP on top of a BaseServer.
type AnnotationServer struct {
	*BaseServer
	variants VariantAnnotator
	hotspots HotspotFinder
}

// NewAnnotationServer registers the annotation routes on base. Either
// collaborator may be nil, in which case its routes are not served.
func NewAnnotationServer(base *BaseServer, variants VariantAnnotator, hotspots HotspotFinder) *AnnotationServer {
	s := &AnnotationServer{BaseServer: base, variants: variants, hotspots: hotspots}
	mux := base.Mux()
	if variants != nil {
		mux.HandleFunc("POST /variants", s.annotateVariants)
		mux.HandleFunc("GET /variants/{id}", s.getVariant)
	}
	if hotspots != nil {
		mux.HandleFunc("GET /hotspots", s.allHotspots)
		mux.HandleFunc("GET /hotspots/{transcriptID}", s.transcriptHotspots)
		mux.HandleFunc("POST /hotspots/refresh", s.refreshHotspots)
	}
	if variants != nil && hotspots != nil {
		mux.HandleFunc("GET /variants/{id}/hotspots", s.variantHotspots)
	}
	return s
}

type idsRequest struct {
	IDs []string `json:"ids"`
}

func (s *AnnotationServer) annotateVariants(w http.ResponseWriter, r *http.Request) {
	var req idsRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(&req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}
	annotations, err := s.variants.Annotate(r.Context(), req.IDs)
	if err != nil {
		writeCacheError(r.Context(), w, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, annotations)
}

func (s *AnnotationServer) getVariant(w http.ResponseWriter, r *http.Request) {
	a, err := s.variants.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeCacheError(r.Context(), w, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, a)
}

func (s *AnnotationServer) variantHotspots(w http.ResponseWriter, r *http.Request) {
	a, err := s.variants.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeCacheError(r.Context(), w, err)
		return
	}
	hotspots, err := s.hotspots.GetHotspotsForConsequences(r.Context(), a.TranscriptConsequences)
	if err != nil {
		writeCacheError(r.Context(), w, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, hotspots)
}

func (s *AnnotationServer) transcriptHotspots(w http.ResponseWriter, r *http.Request) {
	hotspots, err := s.hotspots.GetHotspots(r.Context(), r.PathValue("transcriptID"))
	if err != nil {
		writeCacheError(r.Context(), w, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, hotspots)
}

func (s *AnnotationServer) allHotspots(w http.ResponseWriter, r *http.Request) {
	hotspots, err := s.hotspots.GetAllHotspots(r.Context())
	if err != nil {
		writeCacheError(r.Context(), w, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, hotspots)
}

func (s *AnnotationServer) refreshHotspots(w http.ResponseWriter, r *http.Request) {
	if err := s.hotspots.Refresh(r.Context()); err != nil {
		writeCacheError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// StatusFor maps a cache failure onto an HTTP status.
func StatusFor(err error) int {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	switch cacheerr.KindOf(err) {
	case cacheerr.KindNotFound:
		return http.StatusNotFound
	case cacheerr.KindTransport, cacheerr.KindMapping:
		return http.StatusBadGateway
	case cacheerr.KindPersistence:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeCacheError(ctx context.Context, w http.ResponseWriter, err error) {
	writeError(ctx, w, StatusFor(err), err)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, err error) {
	log := zerolog.Ctx(ctx)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Int("status", status).Msg("Request failed.")
	} else {
		log.Debug().Err(err).Int("status", status).Msg("Request rejected.")
	}
	writeJSON(ctx, w, status, map[string]string{"error": err.Error()})
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("Failed to encode response.")
	}
}
