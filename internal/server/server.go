// Package server exposes the proxy over HTTP: the OpenAI-compatible
// chat-completion endpoint, model listing, health and config checks,
// lorebook search and reload, and Prometheus metrics.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/rcliao/persona-proxy/internal/config"
	"github.com/rcliao/persona-proxy/internal/lore"
	"github.com/rcliao/persona-proxy/internal/metrics"
	"github.com/rcliao/persona-proxy/internal/model"
	"github.com/rcliao/persona-proxy/internal/pipeline"
	"github.com/rcliao/persona-proxy/internal/proxy"
	"github.com/rcliao/persona-proxy/internal/store"
)

const (
	maxBodyBytes     = 10 << 20
	errTypeRateLimit = "rate_limit_error"
	errTypeAuth      = "authentication_error"
	shutdownTimeout  = 10 * time.Second
)

// Options wires the server's collaborators. Lore, Snapshots and Metrics may
// be nil.
type Options struct {
	Service   *proxy.Service
	Lore      *lore.Store
	Snapshots store.Store
	Metrics   *metrics.Metrics
	Log       *zap.Logger
}

// Server routes HTTP requests to the proxy service.
type Server struct {
	svc       *proxy.Service
	cfg       config.Settings
	lore      *lore.Store
	snapshots store.Store
	metrics   *metrics.Metrics
	limiters  *limiterPool
	log       *zap.Logger
	handler   http.Handler
}

// New builds the server and its route table.
func New(opts Options) *Server {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	lb := opts.Lore
	if lb == nil {
		lb = lore.NewStore(log)
	}
	cfg := opts.Service.Settings()
	s := &Server{
		svc:       opts.Service,
		cfg:       cfg,
		lore:      lb,
		snapshots: opts.Snapshots,
		metrics:   opts.Metrics,
		limiters:  &limiterPool{cfg: cfg.RateLimit},
		log:       log,
	}

	r := mux.NewRouter()
	r.Use(s.observe)
	r.HandleFunc("/v1/chat/completions", s.chatCompletions).Methods(http.MethodPost)
	r.HandleFunc("/v1/models", s.listModels).Methods(http.MethodGet)
	r.HandleFunc("/health", s.health).Methods(http.MethodGet)
	r.HandleFunc("/config", s.showConfig).Methods(http.MethodGet)
	r.HandleFunc("/lorebook/search", s.searchLorebook).Methods(http.MethodGet)
	r.HandleFunc("/admin/lorebook", s.reloadLorebook).Methods(http.MethodPost)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}

	s.handler = s.recoverer(s.gateway(r))
	return s
}

// Handler returns the root handler with all middleware applied.
func (s *Server) Handler() http.Handler { return s.handler }

// ListenAndServe serves on the configured address until ctx is cancelled,
// then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.Server.Addr(),
		Handler: s.handler,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	if s.cfg.RateLimit.RPS > 0 {
		go s.limiters.run(sweepCtx, limiterSweepEvery)
	}

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.log.Info("server stopped")
	return nil
}

func (s *Server) chatCompletions(w http.ResponseWriter, r *http.Request) {
	var req model.ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error(), pipeline.ErrTypeInvalidRequest)
		return
	}

	if req.Stream {
		events, err := s.svc.Stream(r.Context(), req)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		s.writeStream(w, r, events)
		return
	}

	comp, err := s.svc.Complete(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, comp)
}

type modelEntry struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by"`
}

type modelList struct {
	Object string       `json:"object"`
	Data   []modelEntry `json:"data"`
}

func (s *Server) listModels(w http.ResponseWriter, r *http.Request) {
	p := s.svc.Provider()
	list := modelList{Object: "list", Data: []modelEntry{}}
	for _, name := range p.Models() {
		list.Data = append(list.Data, modelEntry{ID: name, Object: "model", OwnedBy: p.Name()})
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"provider": s.svc.Provider().Name(),
		"model":    s.cfg.Provider.Model,
		"lorebook": s.lore.Stats(),
	})
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Public())
}

func (s *Server) searchLorebook(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, http.StatusBadRequest, "query parameter q is required", pipeline.ErrTypeInvalidRequest)
		return
	}
	matches := s.lore.Search(q)
	if matches == nil {
		matches = []model.LoreMatch{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"query": q, "matches": matches})
}

// reloadLorebook replaces the lorebook with the request body. An empty body
// clears it. Accepted content is persisted as a new snapshot.
func (s *Server) reloadLorebook(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeError(w, http.StatusUnauthorized, "invalid admin token", errTypeAuth)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: "+err.Error(), pipeline.ErrTypeInvalidRequest)
		return
	}
	blob := string(body)

	if strings.TrimSpace(blob) == "" {
		s.lore.Load("")
		s.log.Info("lorebook cleared")
		writeJSON(w, http.StatusOK, map[string]any{"stats": s.lore.Stats()})
		return
	}

	ok := s.lore.Load(blob)
	s.metrics.LorebookReload(ok)
	if !ok {
		writeError(w, http.StatusBadRequest, "lorebook rejected: expected a JSON object or array", pipeline.ErrTypeInvalidRequest)
		return
	}

	stats := s.lore.Stats()
	resp := map[string]any{"stats": stats}
	if s.snapshots != nil {
		snap, err := s.snapshots.Put(r.Context(), store.PutParams{
			Name:       store.DefaultName,
			Content:    blob,
			Source:     model.SourceAdmin,
			Characters: stats.Characters,
		})
		if err != nil {
			s.log.Warn("persist lorebook snapshot", zap.Error(err))
		} else {
			snap.Content = ""
			resp["snapshot"] = snap
		}
	}
	s.log.Info("lorebook reloaded", zap.Int("characters", stats.Characters))
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) authorized(r *http.Request) bool {
	token := s.cfg.Server.AdminToken
	if token == "" {
		return true
	}
	got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(token)) == 1
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, proxy.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error(), pipeline.ErrTypeInvalidRequest)
	case errors.Is(err, proxy.ErrUpstream):
		writeError(w, http.StatusBadGateway, err.Error(), pipeline.ErrTypeUpstream)
	default:
		s.log.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error(), pipeline.ErrTypeInternal)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message, typ string) {
	writeJSON(w, status, model.ErrorResponse{Error: model.ErrorDetail{Message: message, Type: typ}})
}
