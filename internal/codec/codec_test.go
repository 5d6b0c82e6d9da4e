package codec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCBORDecodesGenericMaps(t *testing.T) {
	c := CBOR()

	data, err := c.Marshal(map[string]any{
		"value": "a",
		"nested": map[string]any{
			"list": []any{"x", "y"},
		},
	})
	require.NoError(t, err)

	var out any
	require.NoError(t, c.Unmarshal(data, &out))

	doc, ok := out.(map[string]any)
	require.True(t, ok, "expected map[string]any, got %T", out)
	assert.Equal(t, "a", doc["value"])

	nested, ok := doc["nested"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, []any{"x", "y"}, nested["list"])
}

func TestCBORKeepsTime(t *testing.T) {
	c := CBOR()
	now := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

	data, err := c.Marshal(map[string]any{"at": now})
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, c.Unmarshal(data, &out))

	got, ok := out["at"].(time.Time)
	require.True(t, ok, "expected time.Time, got %T", out["at"])
	assert.True(t, now.Equal(got))
}

func TestJSONRoundTrip(t *testing.T) {
	c := JSON()

	data, err := c.Marshal(map[string]any{"n": 1, "s": "x"})
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, c.Unmarshal(data, &out))
	assert.Equal(t, float64(1), out["n"])
	assert.Equal(t, "x", out["s"])
}
