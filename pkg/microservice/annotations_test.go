package microservice_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/illmade-knight/go-annotationcache/pkg/cacheerr"
	"github.com/illmade-knight/go-annotationcache/pkg/microservice"
	"github.com/illmade-knight/go-annotationcache/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeVariants struct {
	annotations map[string]types.VariantAnnotation
	err         error
	gotIDs      []string
}

func (f *fakeVariants) Annotate(_ context.Context, ids []string) ([]types.VariantAnnotation, error) {
	f.gotIDs = ids
	if f.err != nil {
		return nil, f.err
	}
	var out []types.VariantAnnotation
	for _, id := range ids {
		if a, ok := f.annotations[id]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeVariants) Get(_ context.Context, id string) (types.VariantAnnotation, error) {
	if f.err != nil {
		return types.VariantAnnotation{}, f.err
	}
	a, ok := f.annotations[id]
	if !ok {
		return a, cacheerr.NotFound("variant.get", errors.New(id))
	}
	return a, nil
}

type fakeHotspots struct {
	byTranscript map[string][]types.Hotspot
	refreshErr   error
	refreshed    int
}

func (f *fakeHotspots) GetHotspots(_ context.Context, id string) ([]types.Hotspot, error) {
	return f.byTranscript[id], nil
}

func (f *fakeHotspots) GetHotspotsForConsequences(_ context.Context, tcs []types.TranscriptConsequence) ([]types.AnnotatedHotspot, error) {
	var out []types.AnnotatedHotspot
	for _, tc := range tcs {
		for _, h := range f.byTranscript[tc.TranscriptID] {
			out = append(out, types.AnnotatedHotspot{Hotspot: h, GeneID: tc.GeneID, ProteinStart: tc.ProteinStart, ProteinEnd: tc.ProteinEnd})
		}
	}
	return out, nil
}

func (f *fakeHotspots) GetAllHotspots(context.Context) ([]types.Hotspot, error) {
	var out []types.Hotspot
	for _, hs := range f.byTranscript {
		out = append(out, hs...)
	}
	return out, nil
}

func (f *fakeHotspots) Refresh(context.Context) error {
	f.refreshed++
	return f.refreshErr
}

func newAnnotationServer(v microservice.VariantAnnotator, h microservice.HotspotFinder) *microservice.AnnotationServer {
	return microservice.NewAnnotationServer(microservice.NewBaseServer(zerolog.Nop(), ":0", nil), v, h)
}

func serve(s *microservice.AnnotationServer, method, target, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(method, target, strings.NewReader(body)))
	return rec
}

func TestAnnotationServer_Variants(t *testing.T) {
	variants := &fakeVariants{annotations: map[string]types.VariantAnnotation{
		"rs1": {VariantID: "rs1", MostSevereConsequence: "missense_variant"},
	}}
	s := newAnnotationServer(variants, nil)

	rec := serve(s, http.MethodPost, "/variants", `{"ids":["rs1","rs2"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"rs1", "rs2"}, variants.gotIDs)
	var got []types.VariantAnnotation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "rs1", got[0].VariantID)

	rec = serve(s, http.MethodGet, "/variants/rs1", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(s, http.MethodGet, "/variants/rs404", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(s, http.MethodPost, "/variants", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(s, http.MethodGet, "/hotspots/ENST1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code, "hotspot routes are absent without a hotspot finder")
}

func TestAnnotationServer_UpstreamFailure(t *testing.T) {
	variants := &fakeVariants{err: cacheerr.Transport("vep.post", http.StatusInternalServerError, []byte("boom"), nil)}
	s := newAnnotationServer(variants, nil)

	rec := serve(s, http.MethodPost, "/variants", `{"ids":["rs1"]}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "error")
}

func TestAnnotationServer_Hotspots(t *testing.T) {
	variants := &fakeVariants{annotations: map[string]types.VariantAnnotation{
		"rs28934578": {VariantID: "rs28934578", TranscriptConsequences: []types.TranscriptConsequence{
			{TranscriptID: "ENST00000269305", GeneID: "ENSG00000141510", ProteinStart: 175, ProteinEnd: 175},
		}},
	}}
	hotspots := &fakeHotspots{byTranscript: map[string][]types.Hotspot{
		"ENST00000269305": {{HugoSymbol: "TP53", TranscriptID: "ENST00000269305", Residue: "R175"}},
	}}
	s := newAnnotationServer(variants, hotspots)

	rec := serve(s, http.MethodGet, "/hotspots/ENST00000269305", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var hs []types.Hotspot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hs))
	assert.Len(t, hs, 1)

	rec = serve(s, http.MethodGet, "/hotspots", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(s, http.MethodGet, "/variants/rs28934578/hotspots", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var annotated []types.AnnotatedHotspot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &annotated))
	require.Len(t, annotated, 1)
	assert.Equal(t, "ENSG00000141510", annotated[0].GeneID)
	assert.Equal(t, "R175", annotated[0].Residue)

	rec = serve(s, http.MethodPost, "/hotspots/refresh", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1, hotspots.refreshed)

	hotspots.refreshErr = cacheerr.Mapping("hotspots", errors.New("bad payload"))
	rec = serve(s, http.MethodPost, "/hotspots/refresh", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, microservice.StatusFor(cacheerr.NotFound("op", nil)))
	assert.Equal(t, http.StatusBadGateway, microservice.StatusFor(cacheerr.Transport("op", 500, nil, nil)))
	assert.Equal(t, http.StatusBadGateway, microservice.StatusFor(cacheerr.Mapping("op", errors.New("x"))))
	assert.Equal(t, http.StatusServiceUnavailable, microservice.StatusFor(cacheerr.Persistence("op", errors.New("x"))))
	assert.Equal(t, http.StatusGatewayTimeout, microservice.StatusFor(context.DeadlineExceeded))
	assert.Equal(t, http.StatusGatewayTimeout, microservice.StatusFor(cacheerr.Transport("op", 0, nil, context.DeadlineExceeded)))
	assert.Equal(t, http.StatusGatewayTimeout, microservice.StatusFor(cacheerr.Persistence("op", context.DeadlineExceeded)))
	assert.Equal(t, http.StatusInternalServerError, microservice.StatusFor(errors.New("x")))
}
