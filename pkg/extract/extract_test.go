package extract_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/assess/pkg/extract"
)

func TestStructuredBlockRecoversEmbeddedObject(t *testing.T) {
	obj := map[string]interface{}{
		"relevance":        "high",
		"evaluation_score": 88,
		"nested":           map[string]interface{}{"a": []int{1, 2}},
	}
	data, err := json.Marshal(obj)
	require.NoError(t, err)

	tests := []struct {
		name   string
		prefix string
		suffix string
	}{
		{"bare", "", ""},
		{"prose around", "Here is the feedback you asked for:\n", "\nLet me know if you need more."},
		{"markdown fence", "```json\n", "\n```"},
		{"brackets in prose", "Scores [see below] follow: ", " (end)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			block, err := extract.StructuredBlock(tt.prefix + string(data) + tt.suffix)
			require.NoError(t, err)
			assert.Equal(t, string(data), block)
		})
	}
}

func TestStructuredBlockNotFound(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"plain prose", "I cannot produce JSON for this document."},
		{"only opening brace", "result: { incomplete"},
		{"only closing brace", "oops } trailing"},
		{"reversed braces", "} nothing {"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			block, err := extract.StructuredBlock(tt.raw)
			assert.ErrorIs(t, err, extract.ErrNotFound)
			assert.Empty(t, block)
		})
	}
}

func TestStructuredBlockIsGreedy(t *testing.T) {
	raw := `first {"a":1} then {"b":2} done`
	block, err := extract.StructuredBlock(raw)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1} then {"b":2}`, block)
}
