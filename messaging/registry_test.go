package messaging

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRequest(id string, multiple bool, cb Callback) *Request {
	return &Request{
		id:       id,
		queue:    "test.queue",
		action:   "test",
		multiple: multiple,
		callback: cb,
		logger:   slog.Default(),
		done:     make(chan struct{}),
	}
}

func TestRegistry(t *testing.T) {
	t.Run("Add and Get", func(t *testing.T) {
		registry := NewRegistry()
		req := newTestRequest("corr-1", false, nil)

		require.NoError(t, registry.Add(req))
		assert.Same(t, req, registry.Get("corr-1"))
		assert.Equal(t, 1, registry.Len())
	})

	t.Run("Add with nil request", func(t *testing.T) {
		registry := NewRegistry()

		err := registry.Add(nil)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "request cannot be nil")
	})

	t.Run("Add without correlation ID", func(t *testing.T) {
		registry := NewRegistry()

		err := registry.Add(newTestRequest("", false, nil))
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "correlation ID is required")
	})

	t.Run("Add rejects duplicate ids", func(t *testing.T) {
		registry := NewRegistry()
		require.NoError(t, registry.Add(newTestRequest("corr-1", false, nil)))

		err := registry.Add(newTestRequest("corr-1", false, nil))
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "already registered")
	})

	t.Run("Get unknown id", func(t *testing.T) {
		registry := NewRegistry()
		assert.Nil(t, registry.Get("missing"))
	})

	t.Run("Remove is idempotent", func(t *testing.T) {
		registry := NewRegistry()
		req := newTestRequest("corr-1", false, nil)
		require.NoError(t, registry.Add(req))

		assert.Same(t, req, registry.Remove("corr-1"))
		assert.Nil(t, registry.Remove("corr-1"))
		assert.Nil(t, registry.Remove("never-added"))
		assert.Equal(t, 0, registry.Len())
	})

	t.Run("Concurrent Remove has one winner", func(t *testing.T) {
		registry := NewRegistry()
		require.NoError(t, registry.Add(newTestRequest("corr-1", false, nil)))

		var winners int32
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if registry.Remove("corr-1") != nil {
					atomic.AddInt32(&winners, 1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), winners)
	})

	t.Run("Drain empties the registry", func(t *testing.T) {
		registry := NewRegistry()
		for i := 0; i < 5; i++ {
			require.NoError(t, registry.Add(newTestRequest(fmt.Sprintf("corr-%d", i), false, nil)))
		}

		pending := registry.Drain()
		assert.Len(t, pending, 5)
		assert.Equal(t, 0, registry.Len())
		assert.Empty(t, registry.Drain())
	})
}
