//go:build !integration

package web

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"endless-chat/internal/domain"
	"endless-chat/internal/usecase"
)

// newTestLogger creates a silent logger for tests.
func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(nil)
	return &logger
}

// mockChatUC records calls and replays canned errors.
type mockChatUC struct {
	mu         sync.Mutex
	snap       usecase.Snapshot
	calls      []string
	submitErr  error
	retryErr   error
	roleErr    error
	stopResult bool
	observer   func(usecase.Snapshot)
}

var _ usecase.ChatUseCase = (*mockChatUC)(nil)

func (m *mockChatUC) record(call string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
}

func (m *mockChatUC) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *mockChatUC) SetSystemRole(_ context.Context, role string) error {
	m.record("role:" + role)
	if m.roleErr != nil {
		return m.roleErr
	}
	m.mu.Lock()
	m.snap.SystemRole = role
	m.mu.Unlock()
	return nil
}

func (m *mockChatUC) SetInput(_ context.Context, text string) {
	m.record("input:" + text)
	m.mu.Lock()
	m.snap.Input = text
	m.mu.Unlock()
}

func (m *mockChatUC) Submit(context.Context) error {
	m.record("submit")
	if m.submitErr != nil {
		return m.submitErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snap.Input == "" {
		return domain.ErrEmptyInput
	}
	m.snap.Input = ""
	m.snap.State = usecase.StateSending
	m.snap.Streaming = true
	return nil
}

func (m *mockChatUC) Retry(context.Context) error {
	m.record("retry")
	return m.retryErr
}

func (m *mockChatUC) Stop(context.Context) bool {
	m.record("stop")
	return m.stopResult
}

func (m *mockChatUC) Clear(context.Context) { m.record("clear") }

func (m *mockChatUC) SetSuggestionsEnabled(_ context.Context, on bool) {
	m.mu.Lock()
	m.snap.SuggestionsEnabled = on
	m.mu.Unlock()
	m.record("suggestions")
}

func (m *mockChatUC) SetBackground(bg bool) {
	m.mu.Lock()
	m.snap.Background = bg
	m.mu.Unlock()
	m.record("background")
}

func (m *mockChatUC) Snapshot() usecase.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

func (m *mockChatUC) Subscribe(fn func(usecase.Snapshot)) func() {
	m.mu.Lock()
	m.observer = fn
	m.mu.Unlock()
	return func() {}
}

func (m *mockChatUC) Restore(context.Context) error { return nil }
func (m *mockChatUC) Close()                        {}
