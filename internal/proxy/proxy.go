// Package proxy is the single transformation entry point: it validates a
// chat request, rewrites its messages, calls the provider and wraps the
// post-processed answer in a chat-completion envelope.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/rcliao/persona-proxy/internal/config"
	"github.com/rcliao/persona-proxy/internal/metrics"
	"github.com/rcliao/persona-proxy/internal/model"
	"github.com/rcliao/persona-proxy/internal/pipeline"
	"github.com/rcliao/persona-proxy/internal/provider"
	"github.com/rcliao/persona-proxy/internal/textproc"
)

var (
	// ErrInvalidRequest marks errors caused by the client's input.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrUpstream marks errors returned by the provider.
	ErrUpstream = errors.New("upstream provider error")
)

// Service runs requests through the pipelines and the provider.
type Service struct {
	cfg       config.Settings
	provider  provider.Provider
	messages  *pipeline.Messages
	responses *pipeline.Responses
	metrics   *metrics.Metrics
	log       *zap.Logger
}

// New creates a service. m may be nil.
func New(cfg config.Settings, p provider.Provider, messages *pipeline.Messages, responses *pipeline.Responses, m *metrics.Metrics, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		cfg:       cfg,
		provider:  p,
		messages:  messages,
		responses: responses,
		metrics:   m,
		log:       log,
	}
}

// Settings returns the settings the service was created with.
func (s *Service) Settings() config.Settings { return s.cfg }

// Provider returns the upstream provider.
func (s *Service) Provider() provider.Provider { return s.provider }

// Complete returns a whole chat completion.
func (s *Service) Complete(ctx context.Context, req model.ChatRequest) (model.ChatCompletion, error) {
	preq, meta, err := s.prepare(req)
	if err != nil {
		return model.ChatCompletion{}, err
	}

	text, err := s.provider.Generate(ctx, preq)
	if err != nil {
		s.metrics.UpstreamError(s.provider.Name())
		s.log.Error("generation failed", zap.String("model", meta.Model), zap.Error(err))
		return model.ChatCompletion{}, fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	comp := s.responses.Whole(s.cfg, meta, text)
	s.log.Info("completion",
		zap.String("id", comp.ID),
		zap.String("model", meta.Model),
		zap.Int("completion_tokens", comp.Usage.CompletionTokens),
		zap.Float64("spice_score", textproc.SpiceScore(comp.Choices[0].Message.Content)),
	)
	return comp, nil
}

// Stream validates and transforms the request and returns the event
// sequence. Validation errors are returned before anything is streamed;
// provider errors arrive as an inline error event.
func (s *Service) Stream(ctx context.Context, req model.ChatRequest) (iter.Seq[model.StreamEvent], error) {
	preq, meta, err := s.prepare(req)
	if err != nil {
		return nil, err
	}
	meta.ID = pipeline.NewCompletionID()
	s.log.Info("stream", zap.String("id", meta.ID), zap.String("model", meta.Model))

	src := s.provider.Stream(ctx, preq)
	counted := func(yield func(string, error) bool) {
		for chunk, err := range src {
			if err != nil {
				s.metrics.UpstreamError(s.provider.Name())
				s.log.Error("stream failed", zap.String("id", meta.ID), zap.Error(err))
			}
			if !yield(chunk, err) {
				return
			}
		}
	}
	return s.responses.Stream(ctx, s.cfg, meta, counted), nil
}

func (s *Service) prepare(req model.ChatRequest) (provider.Request, pipeline.Meta, error) {
	if len(req.Messages) == 0 {
		return provider.Request{}, pipeline.Meta{}, fmt.Errorf("%w: messages must not be empty", ErrInvalidRequest)
	}
	name := req.Model
	if name == "" {
		name = s.cfg.Provider.Model
	}
	if !s.provider.ValidateModel(name) {
		return provider.Request{}, pipeline.Meta{}, fmt.Errorf("%w: unsupported model %q", ErrInvalidRequest, name)
	}

	msgs := s.messages.Transform(s.cfg, req.Messages)
	chars := 0
	for _, m := range msgs {
		chars += utf8.RuneCountInString(m.Content)
	}
	preq := provider.Request{Model: name, Messages: msgs, Temperature: req.Temperature}
	return preq, pipeline.Meta{Model: name, PromptChars: chars}, nil
}
