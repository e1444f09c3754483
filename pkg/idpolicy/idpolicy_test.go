package idpolicy_test

import (
	"testing"

	"github.com/illmade-knight/go-annotationcache/pkg/idpolicy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVariantID(t *testing.T) {
	valid := []string{"rs123", "rs1", "COSM476"}
	invalid := []string{"", "rs", "RS123", "rs123a", "xrs123", "not-a-valid-id", "COSM", " rs123", "rs12 3"}

	for _, id := range valid {
		assert.True(t, idpolicy.VariantID(id), "expected %q to be valid", id)
	}
	for _, id := range invalid {
		assert.False(t, idpolicy.VariantID(id), "expected %q to be invalid", id)
	}
}

func TestEnsemblTranscript(t *testing.T) {
	assert.True(t, idpolicy.EnsemblTranscript("ENST00000269305"))
	assert.True(t, idpolicy.EnsemblTranscript("ENST00000269305.4"))
	assert.False(t, idpolicy.EnsemblTranscript("ENSG00000141510"))
	assert.False(t, idpolicy.EnsemblTranscript("ENST00000269305."))
}

func TestPatterns(t *testing.T) {
	t.Run("full match only", func(t *testing.T) {
		p, err := idpolicy.Patterns(`a+`, `b\d`)
		require.NoError(t, err)
		assert.True(t, p("aaa"))
		assert.True(t, p("b7"))
		assert.False(t, p("aaab7"))
	})

	t.Run("invalid pattern", func(t *testing.T) {
		_, err := idpolicy.Patterns(`(`)
		require.Error(t, err)
	})

	t.Run("no patterns", func(t *testing.T) {
		_, err := idpolicy.Patterns()
		require.Error(t, err)
	})
}

func TestNonBlank(t *testing.T) {
	p := idpolicy.NonBlank(func(string) bool { return true })
	assert.True(t, p("x"))
	assert.False(t, p(""))
	assert.False(t, p(" x"))
}
