package ai

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/tidwall/gjson"

	"endless-chat/internal/domain/model"
	"endless-chat/internal/domain/ports/adapter"
)

var (
	_ adapter.ModerationChecker = (*OpenAIAdapter)(nil)
	_ adapter.SuggestionSource  = (*OpenAIAdapter)(nil)
	_ adapter.TitleSource       = (*OpenAIAdapter)(nil)
)

const (
	maxSuggestions = 5

	suggestionPrompt = "Suggest up to 5 short follow-up questions the user might ask next. " +
		"Write one question per line with no numbering and nothing else."
	titlePrompt = "Write a title of at most six words for a conversation that starts with the message below. " +
		"Reply with the title only.\n\n"
)

// OpenAIAdapter backs moderation, follow-up suggestions and titles with
// the OpenAI API.
type OpenAIAdapter struct {
	client          openai.Client
	model           string
	moderationModel string
}

// NewOpenAIAdapter builds the client. baseURL may point at any
// OpenAI-compatible gateway.
func NewOpenAIAdapter(apiKey, baseURL, model, moderationModel string, extra ...option.RequestOption) (*OpenAIAdapter, error) {
	if apiKey == "" {
		return nil, errors.New("openai: empty api key")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	opts = append(opts, extra...)
	return &OpenAIAdapter{
		client:          openai.NewClient(opts...),
		model:           model,
		moderationModel: moderationModel,
	}, nil
}

func (a *OpenAIAdapter) Check(ctx context.Context, text string) (adapter.Moderation, error) {
	resp, err := a.client.Moderations.New(ctx, openai.ModerationNewParams{
		Input: openai.ModerationNewParamsInputUnion{OfString: openai.String(text)},
		Model: openai.ModerationModel(a.moderationModel),
	})
	if err != nil {
		return adapter.Moderation{}, fmt.Errorf("openai moderation: %w", err)
	}
	return adapter.Moderation{Flags: flaggedCategories(resp.RawJSON())}, nil
}

// flaggedCategories lists the categories set to true on the first result,
// in response order.
func flaggedCategories(raw string) []string {
	if !gjson.Valid(raw) {
		return nil
	}
	var flags []string
	gjson.Get(raw, "results.0.categories").ForEach(func(key, value gjson.Result) bool {
		if value.Type == gjson.True {
			flags = append(flags, key.String())
		}
		return true
	})
	return flags
}

func (a *OpenAIAdapter) Suggestions(ctx context.Context, history []model.Message) iter.Seq2[[]string, error] {
	return func(yield func([]string, error) bool) {
		msgs := toOpenAIMessages(history)
		msgs = append(msgs, openai.UserMessage(suggestionPrompt))

		var last []string
		for text, err := range a.stream(ctx, msgs) {
			if err != nil {
				yield(nil, err)
				return
			}
			list := parseSuggestions(text)
			if len(list) == 0 || slices.Equal(list, last) {
				continue
			}
			last = list
			if !yield(list, nil) {
				return
			}
		}
	}
}

func (a *OpenAIAdapter) Titles(ctx context.Context, input string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		msgs := []openai.ChatCompletionMessageParamUnion{openai.UserMessage(titlePrompt + input)}

		var last string
		for text, err := range a.stream(ctx, msgs) {
			if err != nil {
				yield("", err)
				return
			}
			title := cleanTitle(text)
			if title == "" || title == last {
				continue
			}
			last = title
			if !yield(title, nil) {
				return
			}
		}
	}
}

// stream yields the accumulated completion text after every delta.
func (a *OpenAIAdapter) stream(ctx context.Context, msgs []openai.ChatCompletionMessageParamUnion) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		s := a.client.Chat.Completions.NewStreaming(ctx, openai.ChatCompletionNewParams{
			Model:    openai.ChatModel(a.model),
			Messages: msgs,
		})
		defer s.Close()

		var sb strings.Builder
		for s.Next() {
			chunk := s.Current()
			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
				continue
			}
			sb.WriteString(chunk.Choices[0].Delta.Content)
			if !yield(sb.String(), nil) {
				return
			}
		}
		if err := s.Err(); err != nil {
			yield("", fmt.Errorf("openai stream: %w", err))
		}
	}
}

func toOpenAIMessages(history []model.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+1)
	for _, m := range history {
		switch m.Role {
		case model.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case model.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

// parseSuggestions splits a partial completion into questions, dropping
// list markers the model adds anyway.
func parseSuggestions(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*•0123456789.) ")
		if line == "" {
			continue
		}
		out = append(out, line)
		if len(out) == maxSuggestions {
			break
		}
	}
	return out
}

func cleanTitle(text string) string {
	t := strings.TrimSpace(text)
	t = strings.Trim(t, "\"'“”《》")
	if i := strings.IndexByte(t, '\n'); i >= 0 {
		t = t[:i]
	}
	return strings.TrimSpace(t)
}
