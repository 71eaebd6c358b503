package codec

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONCodec(t *testing.T) {
	t.Run("Decode ignores unknown fields", func(t *testing.T) {
		var out struct {
			Status int `json:"status"`
		}
		err := Default.Decode([]byte(`{"status":200,"extra":true}`), &out)
		require.NoError(t, err)
		assert.Equal(t, 200, out.Status)
	})

	t.Run("Decode of generic payload yields float64 numbers", func(t *testing.T) {
		var out map[string]interface{}
		require.NoError(t, Default.Decode([]byte(`{"num":5}`), &out))
		assert.Equal(t, float64(5), out["num"])
	})

	t.Run("Malformed payload returns DecodeError", func(t *testing.T) {
		var out map[string]interface{}
		err := Default.Decode([]byte(`{not json`), &out)
		require.Error(t, err)
		assert.True(t, IsDecodeError(err))
		assert.True(t, errors.Is(err, ErrDecode))
	})

	t.Run("Encode produces JSON", func(t *testing.T) {
		data, err := Default.Encode(map[string]interface{}{"body": "6"})
		require.NoError(t, err)
		assert.JSONEq(t, `{"body":"6"}`, string(data))
		assert.Equal(t, "application/json", Default.ContentType())
	})
}
