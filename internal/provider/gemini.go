package provider

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/rcliao/persona-proxy/internal/config"
	"github.com/rcliao/persona-proxy/internal/model"
)

// Gemini generates text with the Google Gen AI SDK.
type Gemini struct {
	catalog
	client *genai.Client
	cfg    config.ProviderConfig
	log    *zap.Logger
}

var _ Provider = (*Gemini)(nil)

var safetyCategories = []genai.HarmCategory{
	genai.HarmCategoryHarassment,
	genai.HarmCategoryHateSpeech,
	genai.HarmCategorySexuallyExplicit,
	genai.HarmCategoryDangerousContent,
}

// NewGemini creates a Gemini provider. cfg.BaseURL, when set, replaces the
// API endpoint.
func NewGemini(ctx context.Context, cfg config.ProviderConfig, log *zap.Logger) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required (set GOOGLE_AI_API_KEY)")
	}

	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &Gemini{
		catalog: newCatalog(cfg.Models, GeminiModels),
		client:  client,
		cfg:     cfg,
		log:     log,
	}, nil
}

func (g *Gemini) Name() string { return config.ProviderGemini }

func (g *Gemini) Generate(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.RequestTimeout())
	defer cancel()

	resp, err := g.client.Models.GenerateContent(ctx, modelName(req, g.cfg), toContents(req.Messages), g.generationConfig(req))
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	text := resp.Text()
	if text == "" {
		g.log.Warn("gemini returned no text", zap.String("model", modelName(req, g.cfg)))
	}
	return text, nil
}

func (g *Gemini) Stream(ctx context.Context, req Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for resp, err := range g.client.Models.GenerateContentStream(ctx, modelName(req, g.cfg), toContents(req.Messages), g.generationConfig(req)) {
			if err != nil {
				yield("", fmt.Errorf("gemini stream: %w", err))
				return
			}
			if !yield(resp.Text(), nil) {
				return
			}
		}
	}
}

func (g *Gemini) generationConfig(req Request) *genai.GenerateContentConfig {
	gc := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(temperature(req, g.cfg))),
		MaxOutputTokens: int32(g.cfg.MaxOutputTokens),
	}
	if g.cfg.TopP > 0 {
		gc.TopP = genai.Ptr(float32(g.cfg.TopP))
	}
	if g.cfg.TopK > 0 {
		gc.TopK = genai.Ptr(float32(g.cfg.TopK))
	}
	if g.cfg.SafetyThreshold != "" {
		threshold := genai.HarmBlockThreshold(strings.ToUpper(g.cfg.SafetyThreshold))
		for _, c := range safetyCategories {
			gc.SafetySettings = append(gc.SafetySettings, &genai.SafetySetting{Category: c, Threshold: threshold})
		}
	}
	return gc
}

// toContents maps chat messages onto Gemini contents. Gemini only knows the
// user and model roles, so system messages are sent as user turns.
func toContents(msgs []model.ChatMessage) []*genai.Content {
	contents := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		role := genai.Role(genai.RoleUser)
		if m.Role == model.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}
	return contents
}
