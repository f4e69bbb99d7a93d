package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/rcliao/persona-proxy/internal/config"
	"github.com/rcliao/persona-proxy/internal/model"
)

const cerebrasBaseURL = "https://api.cerebras.ai/v1"

// OpenAI talks to any OpenAI-compatible chat-completions API. It backs the
// Cerebras provider.
type OpenAI struct {
	catalog
	baseURL string
	cfg     config.ProviderConfig
	client  *http.Client
	log     *zap.Logger
}

var _ Provider = (*OpenAI)(nil)

type openaiChatRequest struct {
	Model       string          `json:"model"`
	Messages    []openaiMessage `json:"messages"`
	Stream      bool            `json:"stream"`
	Temperature float64         `json:"temperature"`
	TopP        float64         `json:"top_p,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiChatResponse struct {
	Choices []struct {
		Message openaiMessage `json:"message"`
	} `json:"choices"`
}

type openaiStreamResponse struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

// NewOpenAI creates an OpenAI-compatible provider. defaults is the model
// allow-list used when cfg.Models is empty.
func NewOpenAI(cfg config.ProviderConfig, defaults []string, log *zap.Logger) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s API key is required (set CEREBRAS_API_KEY)", cfg.Name)
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = cerebrasBaseURL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &OpenAI{
		catalog: newCatalog(cfg.Models, defaults),
		baseURL: baseURL,
		cfg:     cfg,
		client:  &http.Client{},
		log:     log,
	}, nil
}

func (o *OpenAI) Name() string { return o.cfg.Name }

func (o *OpenAI) Generate(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.RequestTimeout())
	defer cancel()

	resp, err := o.do(ctx, req, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var result openaiChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("no choices returned")
	}
	return result.Choices[0].Message.Content, nil
}

func (o *OpenAI) Stream(ctx context.Context, req Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		resp, err := o.do(ctx, req, true)
		if err != nil {
			yield("", err)
			return
		}
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == model.DoneSentinel {
				return
			}
			var chunk openaiStreamResponse
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				yield("", fmt.Errorf("decode chunk: %w", err))
				return
			}
			for _, choice := range chunk.Choices {
				if !yield(choice.Delta.Content, nil) {
					return
				}
				if choice.FinishReason != nil {
					return
				}
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			yield("", fmt.Errorf("stream read: %w", err))
		}
	}
}

// do sends the request and returns the response when the status is 200.
func (o *OpenAI) do(ctx context.Context, req Request, stream bool) (*http.Response, error) {
	body := openaiChatRequest{
		Model:       modelName(req, o.cfg),
		Stream:      stream,
		Temperature: temperature(req, o.cfg),
		TopP:        o.cfg.TopP,
		MaxTokens:   o.cfg.MaxOutputTokens,
	}
	body.Messages = make([]openaiMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, openaiMessage{Role: string(m.Role), Content: m.Content})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", o.cfg.Name, err)
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("%s error %d: %s", o.cfg.Name, resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return resp, nil
}
