package adapter

import (
	"context"
	"io"
	"iter"

	"endless-chat/internal/domain/model"
)

// TokenCount is the result of counting a message sequence.
type TokenCount struct {
	Total int
}

// TokenCounter counts prompt tokens. It must be a pure function of the
// message contents and return zero for an empty sequence.
type TokenCounter interface {
	CountTokens(messages []model.Message) TokenCount
}

// Payload is the outgoing generation request.
type Payload struct {
	Messages    []model.Message `json:"messages"`
	Model       string          `json:"model,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
}

// Response is what the transport hands back. Body is nil when the
// upstream returned no readable stream; the caller closes it.
type Response struct {
	StatusCode int
	Status     string
	OK         bool
	Body       io.ReadCloser
}

// Transport issues a generation request. Cancelling ctx aborts the
// underlying transfer, including an in-progress body read.
type Transport interface {
	Send(ctx context.Context, payload Payload) (*Response, error)
}

// Moderation is the verdict for one piece of text.
type Moderation struct {
	Flags []string
}

// ModerationChecker is remote and fallible; callers cache results.
type ModerationChecker interface {
	Check(ctx context.Context, text string) (Moderation, error)
}

// SuggestionSource yields progressively refined follow-up suggestion
// lists for a conversation snapshot. Iteration stops when ctx is done.
type SuggestionSource interface {
	Suggestions(ctx context.Context, history []model.Message) iter.Seq2[[]string, error]
}

// TitleSource yields progressively refined titles for the opening input.
type TitleSource interface {
	Titles(ctx context.Context, input string) iter.Seq2[string, error]
}

// Translator renders a notice in the user's language.
type Translator interface {
	Translate(ctx context.Context, text string) (string, error)
}

// Resetter is implemented by collaborators that keep per-conversation
// caches; the session resets them when the conversation is cleared.
type Resetter interface {
	Reset()
}
