package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/rcliao/persona-proxy/internal/config"
	"github.com/rcliao/persona-proxy/internal/lore"
	"github.com/rcliao/persona-proxy/internal/metrics"
	"github.com/rcliao/persona-proxy/internal/model"
	"github.com/rcliao/persona-proxy/internal/pipeline"
	"github.com/rcliao/persona-proxy/internal/provider/providertest"
	"github.com/rcliao/persona-proxy/internal/proxy"
	"github.com/rcliao/persona-proxy/internal/rules"
	"github.com/rcliao/persona-proxy/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

type fixture struct {
	server    *Server
	provider  *providertest.Provider
	lore      *lore.Store
	snapshots *store.SQLiteStore
}

func newFixture(t *testing.T, p *providertest.Provider, mutate func(*config.Settings)) *fixture {
	t.Helper()
	cfg := config.Defaults()
	cfg.Provider.Model = "test-model"
	cfg.Content = config.ContentConfig{BypassLevel: rules.LevelNone}
	if mutate != nil {
		mutate(&cfg)
	}

	lb := lore.NewStore(nil)
	snaps, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "lore.db"))
	require.NoError(t, err)
	t.Cleanup(func() { snaps.Close() })

	svc := proxy.New(cfg, p, pipeline.NewMessages(lb, nil, nil), pipeline.NewResponses(nil), nil, nil)
	srv := New(Options{Service: svc, Lore: lb, Snapshots: snaps, Metrics: metrics.New()})
	return &fixture{server: srv, provider: p, lore: lb, snapshots: snaps}
}

func (f *fixture) do(method, target, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) model.ErrorDetail {
	t.Helper()
	var resp model.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func TestChatCompletions(t *testing.T) {
	f := newFixture(t, &providertest.Provider{Text: "  Hello   there  "}, nil)

	rec := f.do(http.MethodPost, "/v1/chat/completions", `{"messages":[{"role":"user","content":"hi"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var comp model.ChatCompletion
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &comp))
	assert.Equal(t, "chat.completion", comp.Object)
	assert.Equal(t, "test-model", comp.Model)
	require.Len(t, comp.Choices, 1)
	assert.Equal(t, "Hello there", comp.Choices[0].Message.Content)
	assert.Equal(t, "stop", comp.Choices[0].FinishReason)
}

func TestChatCompletions_ClientErrors(t *testing.T) {
	f := newFixture(t, &providertest.Provider{Text: "x"}, nil)

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{"messages": [`},
		{"empty messages", `{"messages": []}`},
		{"unsupported model", `{"model": "gpt-4", "messages": [{"role": "user", "content": "hi"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(http.MethodPost, "/v1/chat/completions", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, pipeline.ErrTypeInvalidRequest, decodeError(t, rec).Type)
		})
	}
	assert.Empty(t, f.provider.Requests())
}

func TestChatCompletions_UpstreamError(t *testing.T) {
	f := newFixture(t, &providertest.Provider{Err: errors.New("quota exceeded")}, nil)

	rec := f.do(http.MethodPost, "/v1/chat/completions", `{"messages":[{"role":"user","content":"hi"}]}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	detail := decodeError(t, rec)
	assert.Equal(t, pipeline.ErrTypeUpstream, detail.Type)
	assert.Contains(t, detail.Message, "quota exceeded")
}

func TestChatCompletions_Stream(t *testing.T) {
	f := newFixture(t, &providertest.Provider{Chunks: []string{"Hel", "", "lo world"}}, nil)

	rec := f.do(http.MethodPost, "/v1/chat/completions", `{"stream":true,"messages":[{"role":"user","content":"hi"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))

	frames := strings.Split(strings.TrimSuffix(rec.Body.String(), "\n\n"), "\n\n")
	require.Len(t, frames, 3)
	assert.Equal(t, "data: [DONE]", frames[2])

	var first model.ChatCompletionChunk
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(frames[0], "data: ")), &first))
	assert.Equal(t, "chat.completion.chunk", first.Object)
	assert.Equal(t, "Hel", first.Choices[0].Delta.Content)
}

func TestChatCompletions_StreamUpstreamError(t *testing.T) {
	p := &providertest.Provider{Chunks: []string{"partial"}, StreamErr: errors.New("reset")}
	f := newFixture(t, p, nil)

	rec := f.do(http.MethodPost, "/v1/chat/completions", `{"stream":true,"messages":[{"role":"user","content":"hi"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	frames := strings.Split(strings.TrimSuffix(rec.Body.String(), "\n\n"), "\n\n")
	require.Len(t, frames, 2)
	assert.JSONEq(t, `{"error":{"message":"reset","type":"upstream_error"}}`, strings.TrimPrefix(frames[1], "data: "))
	assert.NotContains(t, rec.Body.String(), model.DoneSentinel)
}

func TestChatCompletions_StreamClientGone(t *testing.T) {
	p := &providertest.Provider{Chunks: []string{"a", "b", "c"}}
	f := newFixture(t, p, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions",
		strings.NewReader(`{"stream":true,"messages":[{"role":"user","content":"hi"}]}`)).WithContext(ctx)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	assert.NotContains(t, rec.Body.String(), "data:")
	assert.Zero(t, p.Pulled())
}

func TestListModels(t *testing.T) {
	f := newFixture(t, &providertest.Provider{Catalog: []string{"a", "b"}}, nil)

	rec := f.do(http.MethodGet, "/v1/models", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"object":"list","data":[
		{"id":"a","object":"model","owned_by":"scripted"},
		{"id":"b","object":"model","owned_by":"scripted"}]}`, rec.Body.String())
}

func TestHealthAndConfig(t *testing.T) {
	f := newFixture(t, &providertest.Provider{}, func(cfg *config.Settings) {
		cfg.Provider.APIKey = "secret"
	})

	rec := f.do(http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var health map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, "scripted", health["provider"])

	rec = f.do(http.MethodGet, "/config", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret")
	assert.Contains(t, rec.Body.String(), `"model":"test-model"`)
}

func TestLorebookSearch(t *testing.T) {
	f := newFixture(t, &providertest.Provider{}, nil)
	require.True(t, f.lore.Load(`{"characters": {"Aria": {"description": "A wandering bard"}}}`))

	rec := f.do(http.MethodGet, "/lorebook/search?q=bard", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Query   string            `json:"query"`
		Matches []model.LoreMatch `json:"matches"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Matches, 1)
	assert.Equal(t, "Aria", resp.Matches[0].Character.Name)

	rec = f.do(http.MethodGet, "/lorebook/search?q=dragon", "")
	assert.JSONEq(t, `{"query":"dragon","matches":[]}`, rec.Body.String())

	rec = f.do(http.MethodGet, "/lorebook/search", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReloadLorebook(t *testing.T) {
	f := newFixture(t, &providertest.Provider{}, func(cfg *config.Settings) {
		cfg.Server.AdminToken = "s3cret"
	})
	blob := `{"characters": {"Aria": {}, "Bram": {}}}`

	rec := f.do(http.MethodPost, "/admin/lorebook", blob)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = f.do(http.MethodPost, "/admin/lorebook", blob, "Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, f.lore.Loaded())

	rec = f.do(http.MethodPost, "/admin/lorebook", blob, "Authorization", "Bearer s3cret")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, f.lore.Loaded())
	assert.Equal(t, 2, f.lore.Stats().Characters)

	snap, err := f.snapshots.Latest(context.Background(), store.DefaultName)
	require.NoError(t, err)
	assert.Equal(t, blob, snap.Content)
	assert.Equal(t, model.SourceAdmin, snap.Source)
	assert.Equal(t, 2, snap.Characters)

	rec = f.do(http.MethodPost, "/admin/lorebook", "{invalid json", "Authorization", "Bearer s3cret")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 2, f.lore.Stats().Characters, "rejected content keeps the previous lorebook")

	rec = f.do(http.MethodPost, "/admin/lorebook", "  ", "Authorization", "Bearer s3cret")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, f.lore.Loaded())
}

func TestCORS(t *testing.T) {
	f := newFixture(t, &providertest.Provider{}, func(cfg *config.Settings) {
		cfg.Server.AllowedOrigins = []string{"https://chat.example"}
	})

	rec := f.do(http.MethodOptions, "/v1/chat/completions", "", "Origin", "https://chat.example")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://chat.example", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = f.do(http.MethodGet, "/health", "", "Origin", "https://evil.example")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, &providertest.Provider{}, func(cfg *config.Settings) {
		cfg.RateLimit = config.RateLimitConfig{RPS: 0.001, Burst: 1}
	})

	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/v1/models", "").Code)
	rec := f.do(http.MethodGet, "/v1/models", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, errTypeRateLimit, decodeError(t, rec).Type)

	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/health", "").Code, "health is never limited")
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, &providertest.Provider{Text: "ok"}, nil)
	f.do(http.MethodPost, "/v1/chat/completions", `{"messages":[{"role":"user","content":"hi"}]}`)

	rec := f.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `persona_proxy_requests_total{code="200",route="/v1/chat/completions"} 1`)
}

func TestRecoverer(t *testing.T) {
	f := newFixture(t, &providertest.Provider{}, nil)
	h := f.server.recoverer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, pipeline.ErrTypeInternal, decodeError(t, rec).Type)
}

func TestRecoverer_AfterStreamStarted(t *testing.T) {
	f := newFixture(t, &providertest.Provider{}, nil)
	h := f.server.recoverer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("data: {}\n\n"))
		w.(http.Flusher).Flush()
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "data: {}\n\n", rec.Body.String())
	assert.NotContains(t, rec.Body.String(), pipeline.ErrTypeInternal)
}

func TestLimiterPoolSweep(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	p := &limiterPool{ttl: time.Minute, now: func() time.Time { return now }}

	for i := 0; i < 100; i++ {
		p.Allow(fmt.Sprintf("10.0.0.%d", i))
	}
	now = now.Add(30 * time.Second)
	p.Allow("10.0.0.1")
	p.Allow("192.168.1.1")
	require.Equal(t, 101, p.size())

	now = now.Add(45 * time.Second)
	assert.Equal(t, 99, p.sweep())
	assert.Equal(t, 2, p.size())

	now = now.Add(time.Hour)
	assert.Equal(t, 2, p.sweep())
	assert.Zero(t, p.size())
}

func TestLimiterPoolRun(t *testing.T) {
	now := time.Now()
	var mu sync.Mutex
	p := &limiterPool{ttl: time.Minute, now: func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}}
	p.Allow("1.2.3.4")

	mu.Lock()
	now = now.Add(2 * time.Minute)
	mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.run(ctx, time.Millisecond)
		close(done)
	}()
	assert.Eventually(t, func() bool { return p.size() == 0 }, time.Second, time.Millisecond)
	cancel()
	<-done
}

func TestLimiterPoolDefaults(t *testing.T) {
	p := &limiterPool{}
	l := p.get("1.2.3.4")
	assert.Equal(t, 10, l.Burst())
	assert.Same(t, l, p.get("1.2.3.4"))
}

func TestRateLimitDisabled(t *testing.T) {
	f := newFixture(t, &providertest.Provider{}, func(cfg *config.Settings) {
		cfg.RateLimit = config.RateLimitConfig{RPS: 0, Burst: 1}
	})
	for i := 0; i < 20; i++ {
		require.Equal(t, http.StatusOK, f.do(http.MethodGet, "/v1/models", "").Code)
	}
}
