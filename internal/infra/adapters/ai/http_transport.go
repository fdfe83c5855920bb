package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"endless-chat/internal/domain/ports/adapter"
)

// Compile-time check
var _ adapter.Transport = (*HTTPTransport)(nil)

const chatPath = "/single/chat_messages"

// HTTPTransport PUTs the conversation to the generation endpoint and hands
// back the streaming body untouched.
type HTTPTransport struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewHTTPTransport targets <baseURL>/single/chat_messages. apiKey is sent
// as a bearer token when set. headerTimeout bounds the wait for response
// headers only; the body may stream for as long as the context allows.
func NewHTTPTransport(baseURL, apiKey string, headerTimeout time.Duration) (*HTTPTransport, error) {
	if baseURL == "" {
		return nil, errors.New("transport: empty base url")
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.ResponseHeaderTimeout = headerTimeout
	return &HTTPTransport{
		endpoint: strings.TrimRight(baseURL, "/") + chatPath,
		apiKey:   apiKey,
		client:   &http.Client{Transport: tr},
	}, nil
}

func (t *HTTPTransport) Send(ctx context.Context, payload adapter.Payload) (*adapter.Response, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, t.endpoint, bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send chat request: %w", err)
	}
	return &adapter.Response{
		StatusCode: resp.StatusCode,
		Status:     statusText(resp),
		OK:         resp.StatusCode >= 200 && resp.StatusCode < 300,
		Body:       resp.Body,
	}, nil
}

// statusText strips the code from "429 Too Many Requests".
func statusText(resp *http.Response) string {
	text := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if text == "" {
		text = http.StatusText(resp.StatusCode)
	}
	return text
}
