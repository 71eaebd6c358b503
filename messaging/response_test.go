package messaging

import (
	"testing"

	"github.com/glimte/fleck-go/codec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResponse(t *testing.T) {
	t.Run("Full envelope", func(t *testing.T) {
		payload := []byte(`{"status":201,"headers":{"x":"y"},"body":{"n":6},"errors":["a"],"deprecated":true,"extra":1}`)

		r := ParseResponse("corr-1", payload, codec.Default)

		assert.Equal(t, "corr-1", r.ID)
		assert.Equal(t, 201, r.Status)
		assert.Equal(t, map[string]interface{}{"x": "y"}, r.Headers)
		assert.Equal(t, map[string]interface{}{"n": float64(6)}, r.Body)
		assert.Equal(t, []string{"a"}, r.Errors)
		assert.True(t, r.Deprecated)
		assert.True(t, r.OK())
	})

	t.Run("Defaults for missing fields", func(t *testing.T) {
		r := ParseResponse("corr-1", []byte(`{"status":404}`), nil)

		assert.Equal(t, 404, r.Status)
		assert.NotNil(t, r.Headers)
		assert.Empty(t, r.Headers)
		assert.Equal(t, []string{}, r.Errors)
		assert.False(t, r.Deprecated)
		assert.Nil(t, r.Body)
		assert.False(t, r.OK())
	})

	t.Run("Garbled payload becomes 500", func(t *testing.T) {
		r := ParseResponse("corr-1", []byte(`{not json`), nil)

		assert.Equal(t, 500, r.Status)
		require.NotEmpty(t, r.Errors)
		assert.Equal(t, "Internal Server Error", r.Errors[0])
	})

	t.Run("Non string errors are stringified", func(t *testing.T) {
		r := ParseResponse("corr-1", []byte(`{"status":400,"errors":["bad",42]}`), nil)
		assert.Equal(t, []string{"bad", "42"}, r.Errors)
	})
}

func TestServiceUnavailable(t *testing.T) {
	r := ServiceUnavailable("corr-1")

	assert.Equal(t, 503, r.Status)
	assert.Equal(t, []string{"Service Unavailable"}, r.Errors)
	assert.Nil(t, r.Body)
	assert.Equal(t, "503 Service Unavailable", r.String())
}

func TestResponseDecodeBody(t *testing.T) {
	r := ParseResponse("corr-1", []byte(`{"status":200,"body":{"num":6,"name":"x"}}`), nil)

	var out struct {
		Num  int    `json:"num"`
		Name string `json:"name"`
	}
	require.NoError(t, r.DecodeBody(&out))
	assert.Equal(t, 6, out.Num)
	assert.Equal(t, "x", out.Name)

	envelope := r.Envelope()
	assert.Equal(t, 200, envelope.Status)
}
