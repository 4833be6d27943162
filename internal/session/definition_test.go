package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBindIndexRoundTrip(t *testing.T) {
	t.Parallel()

	raw := Definition{Settings: map[string]any{"entryUrl": "https://example.com"}}
	bound := BindIndex(raw, "products")

	idx, ok := IndexOf(bound)
	require.True(t, ok)
	assert.Equal(t, "products", idx)
	_, ok = IndexOf(raw)
	assert.False(t, ok, "input must not be mutated")
}

func TestBindIndexReplacesPreviousBinding(t *testing.T) {
	t.Parallel()

	def := BindIndex(Definition{}, "first")
	def = BindIndex(def, "second")

	idx, ok := IndexOf(def)
	require.True(t, ok)
	assert.Equal(t, "second", idx)
	assert.Len(t, def.Variables, 1)
}

func TestCloneIsDeep(t *testing.T) {
	t.Parallel()

	orig := Definition{
		Collector: KindWeb,
		Settings: map[string]any{
			"nested":  map[string]any{"depth": 2.0},
			"filters": []any{"a", map[string]any{"pattern": "x"}},
		},
		Variables: map[string]string{"index": "idx"},
	}
	cp := orig.Clone()
	cp.Settings["nested"].(map[string]any)["depth"] = 9.0
	cp.Settings["filters"].([]any)[1].(map[string]any)["pattern"] = "changed"
	cp.Variables["index"] = "other"

	assert.Equal(t, 2.0, orig.Settings["nested"].(map[string]any)["depth"])
	assert.Equal(t, "x", orig.Settings["filters"].([]any)[1].(map[string]any)["pattern"])
	assert.Equal(t, "idx", orig.Variables["index"])
}

func TestWithCollectorOverridesCallerValue(t *testing.T) {
	t.Parallel()

	def := WithCollector(Definition{Collector: "bogus"}, KindFile)
	assert.Equal(t, KindFile, def.Collector)
}

func TestValidateIndex(t *testing.T) {
	t.Parallel()

	require.ErrorIs(t, ValidateIndex("  "), ErrValidation)
	require.NoError(t, ValidateIndex("idx"))
}
