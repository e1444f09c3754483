package app_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/illmade-knight/go-annotationcache/pkg/app"
	"github.com/illmade-knight/go-annotationcache/pkg/config"
	"github.com/illmade-knight/go-annotationcache/pkg/store"
	"github.com/illmade-knight/go-annotationcache/pkg/types"
	"github.com/illmade-knight/go-annotationcache/pkg/variant"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const vepBody = `[{
  "input": "rs121913529", "id": "rs121913529", "seq_region_name": "12",
  "start": 25245350, "end": 25245350, "most_severe_consequence": "missense_variant",
  "transcript_consequences": [
    {"transcript_id": "ENST00000256078", "gene_id": "ENSG00000133703", "gene_symbol": "KRAS",
     "protein_start": 12, "protein_end": 12, "consequence_terms": ["missense_variant"], "canonical": 1}
  ]
}]`

const hotspotBody = `[
  {"hugoSymbol": "KRAS", "transcriptId": "ENST00000256078", "residue": "G12", "tumorCount": 2175},
  {"hugoSymbol": "KRAS", "transcriptId": "ENST00000256078", "residue": "Q61", "tumorCount": 400}
]`

type upstreams struct {
	vep         *httptest.Server
	hotspots    *httptest.Server
	vepCalls    atomic.Int32
	hotspotLoad atomic.Int32
}

func newUpstreams(t *testing.T) *upstreams {
	t.Helper()
	u := &upstreams{}
	u.vep = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.vepCalls.Add(1)
		_, _ = io.Copy(io.Discard, r.Body)
		_, _ = w.Write([]byte(vepBody))
	}))
	u.hotspots = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		u.hotspotLoad.Add(1)
		_, _ = w.Write([]byte(hotspotBody))
	}))
	t.Cleanup(u.vep.Close)
	t.Cleanup(u.hotspots.Close)
	return u
}

func newConfig(u *upstreams) *config.Config {
	cfg := config.Default()
	cfg.HTTPPort = ":0"
	cfg.Variant.URL = u.vep.URL + "/vep/human/id"
	cfg.Hotspots.URL = u.hotspots.URL + "/api/hotspots/single"
	return cfg
}

func serve(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestApp_EndToEnd(t *testing.T) {
	u := newUpstreams(t)
	mem := store.NewMemoryStore()
	a, err := app.New(context.Background(), newConfig(u), zerolog.Nop(), app.WithStore(mem))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	h := a.Server.Handler()

	rec := serve(t, h, http.MethodPost, "/variants", `{"ids":["rs121913529","not-a-variant"]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var annotations []types.VariantAnnotation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &annotations))
	require.Len(t, annotations, 1)
	assert.Equal(t, "rs121913529", annotations[0].VariantID)
	assert.Equal(t, 1, mem.Len(variant.Collection))

	rec = serve(t, h, http.MethodGet, "/variants/rs121913529/hotspots", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var matched []types.AnnotatedHotspot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &matched))
	require.Len(t, matched, 1)
	assert.Equal(t, "G12", matched[0].Residue)
	assert.Equal(t, "ENSG00000133703", matched[0].GeneID)
	assert.Equal(t, 12, matched[0].ProteinStart)

	assert.Equal(t, int32(1), u.vepCalls.Load(), "second lookup is served from the store")
	assert.Equal(t, int32(1), u.hotspotLoad.Load())

	rec = serve(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `annotationcache_cache_misses_total{collection="vep.annotation"} 1`)
	assert.Contains(t, rec.Body.String(), `annotationcache_snapshot_records{cache="hotspots"} 2`)
}

func TestApp_ReadinessUsesStore(t *testing.T) {
	u := newUpstreams(t)
	cfg := newConfig(u)
	cfg.Store.Backend = store.BackendSQLite
	cfg.Store.SQL.DSN = ":memory:"

	a, err := app.New(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)

	rec := serve(t, a.Server.Handler(), http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
}

func TestApp_StartAndShutdown(t *testing.T) {
	u := newUpstreams(t)
	a, err := app.New(context.Background(), newConfig(u), zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, a.Start())

	resp, err := http.Get("http://localhost" + a.Server.GetHTTPPort() + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, a.Shutdown(context.Background()))
}

func TestNew_Errors(t *testing.T) {
	_, err := app.New(context.Background(), nil, zerolog.Nop())
	require.Error(t, err)

	u := newUpstreams(t)
	cfg := newConfig(u)
	cfg.Store.Backend = "mongo"
	_, err = app.New(context.Background(), cfg, zerolog.Nop())
	require.Error(t, err)

	cfg = newConfig(u)
	cfg.Hotspots.URL = ""
	_, err = app.New(context.Background(), cfg, zerolog.Nop())
	require.Error(t, err)
}
