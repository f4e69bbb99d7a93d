package proxy

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/rcliao/persona-proxy/internal/config"
	"github.com/rcliao/persona-proxy/internal/lore"
	"github.com/rcliao/persona-proxy/internal/model"
	"github.com/rcliao/persona-proxy/internal/pipeline"
	"github.com/rcliao/persona-proxy/internal/provider/providertest"
	"github.com/rcliao/persona-proxy/internal/rules"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

func newService(p *providertest.Provider, mutate func(*config.Settings)) *Service {
	cfg := config.Defaults()
	cfg.Provider.Model = "test-model"
	cfg.Content = config.ContentConfig{BypassLevel: rules.LevelNone}
	if mutate != nil {
		mutate(&cfg)
	}
	store := lore.NewStore(nil)
	store.Load(`{"world": {"setting": "Vey"}}`)
	return New(cfg, p, pipeline.NewMessages(store, nil, nil), pipeline.NewResponses(nil), nil, nil)
}

func userRequest(text string) model.ChatRequest {
	return model.ChatRequest{Messages: []model.ChatMessage{{Role: model.RoleUser, Content: text}}}
}

func TestComplete(t *testing.T) {
	p := &providertest.Provider{Text: "  Well   damn.  "}
	s := newService(p, func(cfg *config.Settings) {
		cfg.Content.EnableForbiddenWords = true
		cfg.Content.ForbiddenWords = []string{"damn"}
		cfg.Lorebook.Enabled = true
	})

	temp := 0.3
	req := userRequest("hello")
	req.Temperature = &temp
	comp, err := s.Complete(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "Well darn.", comp.Choices[0].Message.Content)
	assert.Equal(t, "test-model", comp.Model)
	assert.Greater(t, comp.Usage.PromptTokens, 0)

	reqs := p.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "test-model", reqs[0].Model)
	assert.Equal(t, &temp, reqs[0].Temperature)
	assert.True(t, strings.HasPrefix(reqs[0].Messages[0].Content, "[Lorebook Context]\nSetting: Vey"))
	assert.Equal(t, "hello", req.Messages[0].Content, "request is not modified")
}

func TestComplete_InvalidRequest(t *testing.T) {
	p := &providertest.Provider{Text: "x"}
	s := newService(p, nil)

	_, err := s.Complete(context.Background(), model.ChatRequest{})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	req := userRequest("hi")
	req.Model = "gpt-4"
	_, err = s.Complete(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Contains(t, err.Error(), `"gpt-4"`)

	assert.Empty(t, p.Requests(), "invalid requests never reach the provider")
}

func TestComplete_UpstreamError(t *testing.T) {
	cause := errors.New("quota exceeded")
	s := newService(&providertest.Provider{Err: cause}, nil)

	_, err := s.Complete(context.Background(), userRequest("hi"))
	assert.ErrorIs(t, err, ErrUpstream)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrInvalidRequest)
}

func TestStream(t *testing.T) {
	p := &providertest.Provider{Chunks: []string{"Hel", "", "lo world"}}
	s := newService(p, nil)

	seq, err := s.Stream(context.Background(), userRequest("hi"))
	require.NoError(t, err)

	var events []model.StreamEvent
	for ev := range seq {
		events = append(events, ev)
	}
	require.Len(t, events, 3)
	assert.Equal(t, "Hel", events[0].Content())
	assert.Equal(t, "lo world", events[1].Content())
	assert.True(t, events[2].Done)
	assert.Equal(t, "test-model", events[0].Chunk.Model)
	assert.True(t, strings.HasPrefix(events[0].Chunk.ID, "chatcmpl-"))
}

func TestStream_InvalidRequest(t *testing.T) {
	_, err := newService(&providertest.Provider{}, nil).Stream(context.Background(), model.ChatRequest{})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestStream_UpstreamErrorIsInline(t *testing.T) {
	p := &providertest.Provider{Chunks: []string{"partial"}, StreamErr: errors.New("connection reset")}
	seq, err := newService(p, nil).Stream(context.Background(), userRequest("hi"))
	require.NoError(t, err)

	var events []model.StreamEvent
	for ev := range seq {
		events = append(events, ev)
	}
	require.Len(t, events, 2)
	require.NotNil(t, events[1].Err)
	assert.Equal(t, pipeline.ErrTypeUpstream, events[1].Err.Error.Type)
	assert.Equal(t, "connection reset", events[1].Err.Error.Message)
}

func TestStream_ConsumerBreak(t *testing.T) {
	p := &providertest.Provider{Chunks: []string{"a ", "b ", "c ", "d "}}
	seq, err := newService(p, nil).Stream(context.Background(), userRequest("hi"))
	require.NoError(t, err)

	for range seq {
		break
	}
	assert.Equal(t, 1, p.Pulled())
}
