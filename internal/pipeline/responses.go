package pipeline

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/rcliao/persona-proxy/internal/config"
	"github.com/rcliao/persona-proxy/internal/model"
	"github.com/rcliao/persona-proxy/internal/textproc"
)

// Error types carried in structured error bodies.
const (
	ErrTypeInvalidRequest = "invalid_request_error"
	ErrTypeUpstream       = "upstream_error"
	ErrTypeInternal       = "internal_error"
)

// Meta describes the request a response belongs to.
type Meta struct {
	Model       string
	PromptChars int
	ID          string // generated when empty
}

// Responses is the response-side transform.
type Responses struct {
	log *zap.Logger
	now func() time.Time
}

// NewResponses creates the response transform.
func NewResponses(log *zap.Logger) *Responses {
	if log == nil {
		log = zap.NewNop()
	}
	return &Responses{log: log, now: time.Now}
}

// Text applies the whole-text stages: sanitize and prefill, forbidden-term
// substitution, markdown repair.
func (r *Responses) Text(cfg config.Settings, text string) string {
	text = textproc.CleanResponseText(text, cfg.Content.CustomPrefillText)
	if cfg.Content.EnableForbiddenWords {
		words := cfg.ForbiddenWordList()
		if found, hits := textproc.CheckForbiddenWords(text, words); found {
			r.log.Debug("forbidden words replaced", zap.Strings("words", hits))
			text = textproc.ReplaceForbiddenWords(text, words)
		}
	}
	if cfg.Content.EnableMarkdownCheck {
		text = textproc.EnsureMarkdownFormatting(text)
	}
	return text
}

// Whole transforms a complete provider response into a chat completion.
func (r *Responses) Whole(cfg config.Settings, meta Meta, text string) model.ChatCompletion {
	content := r.Text(cfg, text)
	prompt := approxTokens(meta.PromptChars)
	completion := approxTokens(utf8.RuneCountInString(content))
	return model.ChatCompletion{
		ID:      completionID(meta),
		Object:  "chat.completion",
		Created: r.now().Unix(),
		Model:   meta.Model,
		Choices: []model.Choice{{
			Index:        0,
			Message:      model.ChatMessage{Role: model.RoleAssistant, Content: content},
			FinishReason: "stop",
		}},
		Usage: model.Usage{
			PromptTokens:     prompt,
			CompletionTokens: completion,
			TotalTokens:      prompt + completion,
		},
	}
}

// Stream transforms provider chunks one at a time. Every yielded chunk
// shares one id. Empty chunks are dropped and the stream ends with a done
// event. A source error or panic yields one error event instead and ends
// the stream. Nothing more is pulled from src once ctx is cancelled or the
// consumer stops.
//
// Whitespace-only chunks produce no event; once visible text has been sent
// they are carried as a single leading space on the next visible chunk.
//
// Forbidden-term substitution and markup stripping only see one chunk at a
// time, so a term split across two chunks is not replaced.
func (r *Responses) Stream(ctx context.Context, cfg config.Settings, meta Meta, src iter.Seq2[string, error]) iter.Seq[model.StreamEvent] {
	return func(yield func(model.StreamEvent) bool) {
		id := completionID(meta)
		created := r.now().Unix()
		st := &chunkState{prefill: cfg.Content.CustomPrefillText}
		if cfg.Content.EnableForbiddenWords {
			st.forbidden = textproc.NewForbiddenReplacer(cfg.ForbiddenWordList())
		}

		var inYield, stopped bool
		emit := func(ev model.StreamEvent) bool {
			inYield = true
			ok := yield(ev)
			inYield = false
			if !ok {
				stopped = true
			}
			return ok
		}

		defer func() {
			p := recover()
			if p == nil {
				return
			}
			if inYield {
				panic(p)
			}
			r.log.Error("stream panic", zap.Any("panic", p), zap.String("id", id))
			if !stopped {
				emit(errorEvent(fmt.Sprintf("internal error: %v", p), ErrTypeInternal))
			}
		}()

		for chunk, err := range src {
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				r.log.Warn("upstream stream error", zap.Error(err), zap.String("id", id))
				emit(errorEvent(err.Error(), ErrTypeUpstream))
				return
			}
			text := st.process(cfg, chunk)
			if text == "" {
				continue
			}
			ev := model.StreamEvent{Chunk: &model.ChatCompletionChunk{
				ID:      id,
				Object:  "chat.completion.chunk",
				Created: created,
				Model:   meta.Model,
				Choices: []model.ChunkChoice{{Index: 0, Delta: model.Delta{Content: text}}},
			}}
			if !emit(ev) {
				return
			}
			if ctx.Err() != nil {
				return
			}
		}
		if ctx.Err() != nil {
			return
		}
		emit(model.StreamEvent{Done: true})
	}
}

// chunkState carries what one chunk needs to know about the ones before it.
type chunkState struct {
	prefill       string
	forbidden     *textproc.ForbiddenReplacer
	started       bool // visible text has been emitted
	trailingSpace bool // the last emitted chunk ended in a space
	pendingSpace  bool // a whitespace-only chunk was dropped since then
}

func (s *chunkState) process(cfg config.Settings, raw string) string {
	text := textproc.StripUnsafeMarkup(textproc.SquashWhitespace(raw))
	if strings.TrimSpace(text) == "" {
		if text != "" && s.started && !s.trailingSpace {
			s.pendingSpace = true
		}
		return ""
	}
	switch {
	case !s.started:
		text = strings.TrimLeft(text, " ")
	case s.trailingSpace:
		text = strings.TrimPrefix(text, " ")
	case s.pendingSpace && !strings.HasPrefix(text, " "):
		text = " " + text
	}
	s.pendingSpace = false

	text = s.forbidden.Replace(text)
	if cfg.Content.EnableMarkdownCheck {
		text = keepEdges(text, textproc.EnsureMarkdownFormatting)
	}
	if text == "" {
		return ""
	}

	if !s.started {
		if strings.TrimSpace(s.prefill) != "" {
			text = s.prefill + text
		}
		s.started = true
	}
	s.trailingSpace = strings.HasSuffix(text, " ")
	return text
}

// keepEdges applies f to the trimmed core of text and restores the leading
// and trailing space f would otherwise drop.
func keepEdges(text string, f func(string) string) string {
	core := strings.TrimSpace(text)
	if core == "" {
		return text
	}
	lead := text[:strings.Index(text, core)]
	trail := text[len(lead)+len(core):]
	return lead + f(core) + trail
}

func errorEvent(msg, typ string) model.StreamEvent {
	return model.StreamEvent{Err: &model.ErrorResponse{Error: model.ErrorDetail{Message: msg, Type: typ}}}
}

func completionID(meta Meta) string {
	if meta.ID != "" {
		return meta.ID
	}
	return NewCompletionID()
}

// NewCompletionID returns a fresh "chatcmpl-" prefixed ULID.
func NewCompletionID() string {
	return "chatcmpl-" + ulid.Make().String()
}

// approxTokens estimates tokens as one per four characters, rounded up.
func approxTokens(chars int) int {
	if chars <= 0 {
		return 0
	}
	return (chars + 3) / 4
}
