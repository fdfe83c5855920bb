package ai

import (
	"context"
	"iter"

	"endless-chat/internal/domain/model"
	"endless-chat/internal/domain/ports/adapter"
)

var (
	_ adapter.ModerationChecker = NoopAI{}
	_ adapter.SuggestionSource  = NoopAI{}
	_ adapter.TitleSource       = NoopAI{}
)

// NoopAI stands in for the OpenAI side when no key is configured: nothing
// is ever flagged and the feeds stay empty.
type NoopAI struct{}

func (NoopAI) Check(ctx context.Context, _ string) (adapter.Moderation, error) {
	return adapter.Moderation{}, ctx.Err()
}

func (NoopAI) Suggestions(context.Context, []model.Message) iter.Seq2[[]string, error] {
	return func(func([]string, error) bool) {}
}

func (NoopAI) Titles(context.Context, string) iter.Seq2[string, error] {
	return func(func(string, error) bool) {}
}
