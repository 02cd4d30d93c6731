package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractTokens(t *testing.T) {
	tokens := ExtractTokens("a {{ x }} b {{ y + 1 }}")
	require.Len(t, tokens, 2)
	assert.Equal(t, "x", tokens[0].Expr)
	assert.Equal(t, "y + 1", tokens[1].Expr)

	assert.Empty(t, ExtractTokens("no templates here"))
	assert.Empty(t, ExtractTokens("unterminated {{ x"))
}

func TestIsComplete(t *testing.T) {
	assert.True(t, IsComplete("{{ x }}"))
	assert.True(t, IsComplete("  {{ x }}  "))
	assert.False(t, IsComplete("n={{ x }}"))
	assert.False(t, IsComplete("{{ x }}{{ y }}"))
	assert.False(t, IsComplete("plain"))
}

func TestWalkCompleteTemplatePreservesType(t *testing.T) {
	ev := NewEvaluator(MapContext{"n": int64(42), "items": []any{int64(1)}})

	v, err := Walk("{{ 42 }}", ev)
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)

	v, err = Walk("{{ items }}", ev)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1)}, v)

	v, err = Walk("{{ {'k': n} }}", ev)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"k": int64(42)}, v)
}

func TestWalkInlineTemplateYieldsString(t *testing.T) {
	ev := NewEvaluator(MapContext{"n": int64(42)})

	v, err := Walk("n={{ n }}", ev)
	require.NoError(t, err)
	assert.Equal(t, "n=42", v)

	v, err = Walk("{{ n }}/{{ n + 1 }}", ev)
	require.NoError(t, err)
	assert.Equal(t, "42/43", v)
}

func TestWalkComposite(t *testing.T) {
	ev := NewEvaluator(MapContext{"id": int64(7), "host": "example.com"})

	v, err := Walk(map[string]any{
		"url":   "https://{{ host }}/items/{{ id }}",
		"count": "{{ id }}",
		"tags":  []any{"{{ host }}", "static"},
		"plain": int64(1),
	}, ev)
	require.NoError(t, err)

	assert.Equal(t, map[string]any{
		"url":   "https://example.com/items/7",
		"count": int64(7),
		"tags":  []any{"example.com", "static"},
		"plain": int64(1),
	}, v)
}

func TestWalkKeysNotSubstituted(t *testing.T) {
	ev := NewEvaluator(MapContext{"k": "replaced"})
	v, err := Walk(map[string]any{"{{ k }}": "{{ k }}"}, ev)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"{{ k }}": "replaced"}, v)
}

func TestWalkIdempotentWithoutTemplates(t *testing.T) {
	ev := NewEvaluator(MapContext{"x": int64(1)})
	in := map[string]any{"a": "{{ x }}", "b": []any{"n={{ x }}"}}

	once, err := Walk(in, ev)
	require.NoError(t, err)
	twice, err := Walk(once, ev)
	require.NoError(t, err)
	assert.Equal(t, once, twice)
}

func TestWalkPropagatesErrors(t *testing.T) {
	ev := NewEvaluator(MapContext{})
	_, err := Walk(map[string]any{"a": "{{ missing }}"}, ev)
	var terr *TemplateError
	require.ErrorAs(t, err, &terr)
}

func TestStringify(t *testing.T) {
	assert.Equal(t, "null", Stringify(nil))
	assert.Equal(t, "true", Stringify(true))
	assert.Equal(t, "42", Stringify(int64(42)))
	assert.Equal(t, "2.5", Stringify(2.5))
	assert.Equal(t, "text", Stringify("text"))
	assert.Equal(t, `[1,2]`, Stringify([]any{int64(1), int64(2)}))
}
