package variant_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/illmade-knight/go-annotationcache/pkg/cacheerr"
	"github.com/illmade-knight/go-annotationcache/pkg/fetchthrough"
	"github.com/illmade-knight/go-annotationcache/pkg/store"
	"github.com/illmade-knight/go-annotationcache/pkg/types"
	"github.com/illmade-knight/go-annotationcache/pkg/upstream"
	"github.com/illmade-knight/go-annotationcache/pkg/variant"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const vepResponse = `[
  {
    "input": "rs121913529",
    "id": "rs121913529",
    "assembly_name": "GRCh38",
    "seq_region_name": "12",
    "start": 25245350,
    "end": 25245350,
    "strand": 1,
    "allele_string": "C/A/G/T",
    "most_severe_consequence": "missense_variant",
    "transcript_consequences": [
      {"transcript_id": "ENST00000256078", "gene_id": "ENSG00000133703", "gene_symbol": "KRAS",
       "protein_start": 12, "protein_end": 12, "amino_acids": "G/C", "consequence_terms": ["missense_variant"], "canonical": 1}
    ]
  }
]`

// newVEPServer answers every batch request with vepResponse and records the
// request bodies.
func newVEPServer(t *testing.T) (*httptest.Server, *atomic.Int32, *[]map[string][]string) {
	t.Helper()
	var calls atomic.Int32
	var bodies []map[string][]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		raw, _ := io.ReadAll(r.Body)
		var body map[string][]string
		assert.NoError(t, json.Unmarshal(raw, &body))
		bodies = append(bodies, body)
		_, _ = w.Write([]byte(vepResponse))
	}))
	t.Cleanup(server.Close)
	return server, &calls, &bodies
}

func TestService_AnnotateOverHTTP(t *testing.T) {
	ctx := context.Background()
	server, calls, bodies := newVEPServer(t)

	docStore := store.NewMemoryStore()
	client := upstream.NewClient(upstream.DefaultClientConfig(), nil, zerolog.Nop())
	svc, err := variant.NewService(fetchthrough.DefaultConfig("", server.URL), docStore, client, zerolog.Nop())
	require.NoError(t, err)

	annotations, err := svc.Annotate(ctx, []string{"rs121913529", "chr12:g.25245350C>A"})
	require.NoError(t, err)
	require.Len(t, annotations, 1)

	a := annotations[0]
	assert.Equal(t, "rs121913529", a.VariantID)
	assert.Equal(t, 25245350, a.Start)
	require.Len(t, a.TranscriptConsequences, 1)
	assert.Equal(t, "KRAS", a.TranscriptConsequences[0].GeneSymbol)
	assert.Equal(t, 12, a.TranscriptConsequences[0].ProteinStart)

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, []map[string][]string{{"ids": {"rs121913529"}}}, *bodies)
	assert.Equal(t, 1, docStore.Len(variant.Collection))

	// Served from the store the second time, including after a decode round trip.
	again, err := svc.Get(ctx, "rs121913529")
	require.NoError(t, err)
	assert.Equal(t, a, again)
	assert.Equal(t, int32(1), calls.Load())

	consequences, err := svc.Consequences(ctx, "rs121913529")
	require.NoError(t, err)
	assert.Equal(t, "ENST00000256078", consequences[0].TranscriptID)
}

func TestService_UpstreamFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	t.Cleanup(server.Close)

	client := upstream.NewClient(upstream.DefaultClientConfig(), nil, zerolog.Nop())
	svc, err := variant.NewService(fetchthrough.DefaultConfig("", server.URL), store.NewMemoryStore(), client, zerolog.Nop())
	require.NoError(t, err)

	_, err = svc.Annotate(context.Background(), []string{"COSM476"})
	require.Error(t, err)
	assert.Equal(t, cacheerr.KindTransport, cacheerr.KindOf(err))
	assert.Equal(t, http.StatusInternalServerError, cacheerr.StatusOf(err))
}

func TestStrategy_ExtractionAgreesAfterRoundTrip(t *testing.T) {
	s := variant.Strategy()
	rec := types.VariantAnnotation{VariantID: "COSM476", MostSevereConsequence: "missense_variant"}

	raw, err := json.Marshal(rec)
	require.NoError(t, err)
	var doc types.Document
	require.NoError(t, json.Unmarshal(raw, &doc))

	assert.Equal(t, s.RecordID(rec), s.DocumentID(doc))
	assert.True(t, s.IsValidID("COSM476"))
	assert.True(t, s.IsValidID("rs1"))
	assert.False(t, s.IsValidID("COSV123"))
}
