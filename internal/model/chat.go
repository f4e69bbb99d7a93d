// Package model defines the chat, lorebook and completion data types shared
// by the proxy packages.
package model

import (
	"encoding/json"
)

// Role is the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ChatMessage is one entry of a chat-completion request.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the client-facing chat-completion request body.
type ChatRequest struct {
	Messages    []ChatMessage `json:"messages"`
	Model       string        `json:"model,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

// Usage holds approximated token counts. They are derived from text length,
// not from a tokenizer, and are not billing accurate.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Choice is a single whole-response choice.
type Choice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// ChatCompletion is the non-streaming response envelope.
type ChatCompletion struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// Delta carries the content of one streamed chunk.
type Delta struct {
	Content string `json:"content"`
}

// ChunkChoice is a single streamed choice.
type ChunkChoice struct {
	Index        int     `json:"index"`
	Delta        Delta   `json:"delta"`
	FinishReason *string `json:"finish_reason"`
}

// ChatCompletionChunk is the envelope of one server-sent event.
type ChatCompletionChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []ChunkChoice `json:"choices"`
}

// ErrorDetail is the body of a structured error.
type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
}

// ErrorResponse is the structured error envelope used for HTTP errors and
// inline stream errors.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// DoneSentinel terminates a chat-completion event stream.
const DoneSentinel = "[DONE]"

// StreamEvent is one element of a transformed stream: a chunk, an inline
// error, or the terminal done marker.
type StreamEvent struct {
	Chunk *ChatCompletionChunk
	Err   *ErrorResponse
	Done  bool
}

// Data renders the event as the payload of an SSE "data:" line.
func (e StreamEvent) Data() string {
	switch {
	case e.Done:
		return DoneSentinel
	case e.Err != nil:
		b, _ := json.Marshal(e.Err)
		return string(b)
	case e.Chunk != nil:
		b, _ := json.Marshal(e.Chunk)
		return string(b)
	}
	return ""
}

// Content returns the delta text of a chunk event, or "".
func (e StreamEvent) Content() string {
	if e.Chunk == nil || len(e.Chunk.Choices) == 0 {
		return ""
	}
	return e.Chunk.Choices[0].Delta.Content
}
