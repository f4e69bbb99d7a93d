// Package provider talks to the upstream generative-language backends.
package provider

import (
	"context"
	"fmt"
	"iter"
	"slices"

	"go.uber.org/zap"

	"github.com/rcliao/persona-proxy/internal/config"
	"github.com/rcliao/persona-proxy/internal/model"
)

// Request is one generation call.
type Request struct {
	Model       string
	Messages    []model.ChatMessage
	Temperature *float64 // nil uses the configured default
}

// Provider generates text from chat messages.
type Provider interface {
	// Name identifies the backend.
	Name() string

	// Generate returns the complete response text.
	Generate(ctx context.Context, req Request) (string, error)

	// Stream yields response text chunks as they arrive. Iteration stops at
	// the first error. Breaking out of the range releases the connection.
	Stream(ctx context.Context, req Request) iter.Seq2[string, error]

	// Models lists the model names this provider accepts.
	Models() []string

	// ValidateModel reports whether name is in Models.
	ValidateModel(name string) bool
}

// GeminiModels is the default allow-list for the Gemini backend.
var GeminiModels = []string{
	"gemini-2.5-flash",
	"gemini-2.5-flash-lite",
	"gemini-2.5-pro",
	"gemini-2.0-flash-exp",
	"gemini-1.5-flash",
}

// CerebrasModels is the default allow-list for the Cerebras backend.
var CerebrasModels = []string{
	"llama3-8b",
	"llama3-70b",
	"gemma-2b",
	"gemma-7b",
	"mistral-7b",
	"mixtral-8x7b",
	"granite-20b",
}

// DefaultModels returns the built-in allow-list of the named provider, or
// nil for an unknown name.
func DefaultModels(name string) []string {
	switch name {
	case config.ProviderGemini:
		return slices.Clone(GeminiModels)
	case config.ProviderCerebras:
		return slices.Clone(CerebrasModels)
	}
	return nil
}

// New builds the provider selected by cfg.
func New(ctx context.Context, cfg config.ProviderConfig, log *zap.Logger) (Provider, error) {
	if log == nil {
		log = zap.NewNop()
	}
	switch cfg.Name {
	case config.ProviderGemini:
		return NewGemini(ctx, cfg, log)
	case config.ProviderCerebras:
		return NewOpenAI(cfg, CerebrasModels, log)
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Name)
	}
}

// catalog implements the model allow-list half of Provider.
type catalog struct {
	models []string
}

func newCatalog(override, defaults []string) catalog {
	if len(override) > 0 {
		return catalog{models: slices.Clone(override)}
	}
	return catalog{models: slices.Clone(defaults)}
}

func (c catalog) Models() []string { return slices.Clone(c.models) }

func (c catalog) ValidateModel(name string) bool { return slices.Contains(c.models, name) }

// temperature resolves the per-request override against the default.
func temperature(req Request, cfg config.ProviderConfig) float64 {
	if req.Temperature != nil {
		return *req.Temperature
	}
	return cfg.Temperature
}

func modelName(req Request, cfg config.ProviderConfig) string {
	if req.Model != "" {
		return req.Model
	}
	return cfg.Model
}
