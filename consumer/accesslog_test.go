package consumer

import (
	"log/slog"
	"testing"
	"time"

	"github.com/glimte/fleck-go/codec"
	"github.com/stretchr/testify/assert"
)

func TestAccessLog(t *testing.T) {
	newReq := func() *Request {
		req := newRequest(delivery(`{"headers":{"ip":"10.0.0.9","version":"v2"},"params":{}}`), codec.Default, discardLogger())
		req.processedAt = req.createdAt.Add(12500 * time.Microsecond)
		return req
	}

	t.Run("Formats the default exchange", func(t *testing.T) {
		req := newReq()
		cfg := Config{Queue: "math", ExchangeType: "direct"}

		line := formatAccessLog(cfg, req, effectiveStatus(req, false))

		assert.Equal(t, `10.0.0.9 billing => (""|D|math) #req-1 "incr /v2" 200 (12.5ms)`, line)
	})

	t.Run("Formats named exchanges and deprecation", func(t *testing.T) {
		req := newReq()
		req.version = ""
		req.response.Deprecate()
		cfg := Config{Queue: "math", ExchangeType: "fanout", ExchangeName: "broadcast"}

		line := formatAccessLog(cfg, req, effectiveStatus(req, false))

		assert.Equal(t, `10.0.0.9 billing => ("broadcast"|F|math) #req-1 "incr /v1" 200 (12.5ms) DEPRECATED`, line)
	})

	t.Run("Effective status", func(t *testing.T) {
		req := newReq()
		assert.Equal(t, 200, effectiveStatus(req, false))
		assert.Equal(t, 503, effectiveStatus(req, true))

		req.Reject(false)
		assert.Equal(t, 406, effectiveStatus(req, true))
	})

	t.Run("Level", func(t *testing.T) {
		assert.Equal(t, slog.LevelInfo, accessLogLevel(200, false))
		assert.Equal(t, slog.LevelWarn, accessLogLevel(200, true))
		assert.Equal(t, slog.LevelWarn, accessLogLevel(404, false))
		assert.Equal(t, slog.LevelError, accessLogLevel(500, false))
		assert.Equal(t, slog.LevelError, accessLogLevel(503, true))
	})
}
