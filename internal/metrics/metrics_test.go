package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()

	m.ObserveRequest("/v1/chat/completions", 200, 10*time.Millisecond)
	m.ObserveRequest("/v1/chat/completions", 200, 20*time.Millisecond)
	m.ObserveRequest("/v1/chat/completions", 502, time.Second)
	m.UpstreamError("gemini")
	m.StreamChunk()
	m.StreamChunk()
	m.LorebookReload(true)
	m.LorebookReload(false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues("/v1/chat/completions", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("/v1/chat/completions", "502")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.upstreamErrors.WithLabelValues("gemini")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.streamChunks))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.lorebookReloads.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.lorebookReloads.WithLabelValues("rejected")))
}

func TestIndependentRegistries(t *testing.T) {
	a, b := New(), New()
	a.StreamChunk()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.streamChunks))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.streamChunks))
}

func TestHandler(t *testing.T) {
	m := New()
	m.UpstreamError("cerebras")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `persona_proxy_upstream_errors_total{provider="cerebras"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRequest("/health", 200, time.Millisecond)
		m.UpstreamError("gemini")
		m.StreamChunk()
		m.LorebookReload(true)
	})
}
