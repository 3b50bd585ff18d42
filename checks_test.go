package wschain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchJSONPath(t *testing.T) {
	doc := map[string]any{
		"user": map[string]any{"id": float64(7), "tags": []any{"a", "b"}},
	}

	assert.NoError(t, MatchJSONPath("$.user.id", 7).fn(doc))
	assert.NoError(t, MatchJSONPath("$.user.tags[*]", "b").fn(doc))
	assert.NoError(t, MatchJSONPath("$.user.tags", nil).fn(doc))
	assert.Error(t, MatchJSONPath("$.user.id", 8).fn(doc))
	assert.Error(t, MatchJSONPath("$.missing", nil).fn(doc))

	assert.Equal(t, "matching JSONPath $.user.id == 7", MatchJSONPath("$.user.id", 7).String())
}

func TestMatchExpr(t *testing.T) {
	c := MatchExpr(`msg.n > 2 && msg.kind == "tick"`)

	assert.NoError(t, c.fn(map[string]any{"n": float64(3), "kind": "tick"}))
	assert.ErrorIs(t, c.fn(map[string]any{"n": float64(1), "kind": "tick"}), errCheckFalse)
	assert.Error(t, MatchExpr(`msg.n >`).fn(map[string]any{}))
	assert.Equal(t, `matching expression "msg.n > 2 && msg.kind == \"tick\""`, c.String())
}

func TestMatchJSONSchema(t *testing.T) {
	c := MatchJSONSchema(`{
		"type": "object",
		"required": ["id"],
		"properties": {"id": {"type": "integer"}}
	}`)

	assert.NoError(t, c.fn(map[string]any{"id": float64(3)}))
	assert.Error(t, c.fn(map[string]any{"name": "x"}))
	assert.Error(t, MatchJSONSchema(`{`).fn(map[string]any{}))
	assert.Equal(t, "matching JSON schema", c.String())
}
