package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"endless-chat/internal/domain/ports/adapter"
)

// Compile-time check
var _ adapter.Translator = (*GeminiTranslator)(nil)

// GeminiTranslator renders notices in the configured target language.
type GeminiTranslator struct {
	client *genai.Client
	model  string
	target string
}

func NewGeminiTranslator(ctx context.Context, apiKey, baseURL, model, target string) (*GeminiTranslator, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: empty api key")
	}
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &GeminiTranslator{client: client, model: model, target: target}, nil
}

func (g *GeminiTranslator) Translate(ctx context.Context, text string) (string, error) {
	prompt := fmt.Sprintf("Translate the following notice into %s. Reply with the translation only.\n\n%s", g.target, text)
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), nil)
	if err != nil {
		return "", fmt.Errorf("gemini translate: %w", err)
	}
	out := candidateText(resp)
	if out == "" {
		return "", errors.New("gemini translate: empty response")
	}
	return out, nil
}

func candidateText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if p != nil && p.Text != "" && !p.Thought {
			sb.WriteString(p.Text)
		}
	}
	return strings.TrimSpace(sb.String())
}
