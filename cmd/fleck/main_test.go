package main

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/glimte/fleck-go/health"
	"github.com/glimte/fleck-go/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	cmd := newRootCommand(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestParsePairs(t *testing.T) {
	t.Run("decodes JSON values", func(t *testing.T) {
		got, err := parsePairs([]string{"num=5", "ok=true", "tags=[\"a\",\"b\"]", "name=bob"})
		require.NoError(t, err)

		assert.Equal(t, float64(5), got["num"])
		assert.Equal(t, true, got["ok"])
		assert.Equal(t, []interface{}{"a", "b"}, got["tags"])
		assert.Equal(t, "bob", got["name"])
	})

	t.Run("keeps everything after the first equals sign", func(t *testing.T) {
		got, err := parsePairs([]string{"expr=a=b"})
		require.NoError(t, err)
		assert.Equal(t, "a=b", got["expr"])
	})

	t.Run("rejects malformed pairs", func(t *testing.T) {
		_, err := parsePairs([]string{"novalue"})
		assert.Error(t, err)

		_, err = parsePairs([]string{"=5"})
		assert.Error(t, err)
	})

	t.Run("empty input", func(t *testing.T) {
		got, err := parsePairs(nil)
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestDemoCommand(t *testing.T) {
	out, err := execute(t, "demo", "--num", "41", "--log-level", "error")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)

	assert.True(t, strings.HasPrefix(lines[0], "incr "))
	assert.Contains(t, lines[0], `"status":200`)
	assert.Contains(t, lines[0], `"body":42`)

	assert.True(t, strings.HasPrefix(lines[1], "sum "))
	assert.Contains(t, lines[1], `"body":51`)

	assert.Contains(t, lines[2], `"status":400`)
	assert.Contains(t, lines[2], "Bad Request")

	assert.True(t, strings.HasPrefix(lines[3], "frobnicate "))
	assert.Contains(t, lines[3], `"status":404`)
}

func TestHostsCommand(t *testing.T) {
	out, err := execute(t, "hosts", "127.0.0.1:1", "--timeout", "200ms")
	require.NoError(t, err)

	assert.Contains(t, out, "HOST")
	assert.Contains(t, out, "127.0.0.1:1")
	assert.Contains(t, out, "false")
}

func TestRequestCommandArgs(t *testing.T) {
	_, err := execute(t, "request", "calc")
	assert.Error(t, err)

	_, err = execute(t, "request", "calc", "incr", "--param", "broken")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid --param")
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, version)
}

func TestMux(t *testing.T) {
	registry := prometheus.NewRegistry()
	require.NoError(t, metrics.New(registry).Register())
	mux := newMux(registry, health.NewRegistry())

	for path, want := range map[string]int{
		"/metrics": http.StatusOK,
		"/healthz": http.StatusOK,
		"/readyz":  http.StatusOK,
		"/livez":   http.StatusOK,
		"/nope":    http.StatusNotFound,
	} {
		t.Run(path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
			assert.Equal(t, want, rec.Code)
		})
	}
}
