//go:build !integration

package usecase

import (
	"context"
	"errors"
	"io"
	"iter"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"endless-chat/internal/domain"
	"endless-chat/internal/domain/model"
	"endless-chat/internal/domain/ports/adapter"
	"endless-chat/internal/infra/clock"
	"endless-chat/internal/infra/i18n"
)

// -----------------------------
// Utilities
// -----------------------------

func newLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

func newTexts(t *testing.T) *i18n.Translator {
	t.Helper()
	tr, err := i18n.NewTranslator(i18n.LocalesFS, "zh")
	if err != nil {
		t.Fatalf("load locale: %v", err)
	}
	return tr
}

// drive advances the fake clock frame by frame until done is closed.
func drive(t *testing.T, clk *clock.FakeClock, done <-chan struct{}) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		select {
		case <-done:
			return
		default:
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for completion")
		}
		clk.Advance(16 * time.Millisecond)
		time.Sleep(time.Millisecond)
	}
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(time.Millisecond)
	}
}

// -----------------------------
// Token counter
// -----------------------------

type fakeCounter struct {
	perMessage int
	overrides  map[string]int
	calls      atomic.Int64
	resets     atomic.Int64
}

var _ adapter.TokenCounter = (*fakeCounter)(nil)

func (f *fakeCounter) CountTokens(msgs []model.Message) adapter.TokenCount {
	f.calls.Add(1)
	total := 0
	for _, m := range msgs {
		if n, ok := f.overrides[m.Content]; ok {
			total += n
			continue
		}
		total += f.perMessage
	}
	return adapter.TokenCount{Total: total}
}

func (f *fakeCounter) Reset() { f.resets.Add(1) }

// -----------------------------
// Transport
// -----------------------------

// chunkBody yields one chunk per Read, then EOF or err.
type chunkBody struct {
	mu     sync.Mutex
	chunks [][]byte
	err    error
	closed bool
}

func newChunkBody(chunks ...string) *chunkBody {
	b := &chunkBody{}
	for _, c := range chunks {
		b.chunks = append(b.chunks, []byte(c))
	}
	return b
}

func (b *chunkBody) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, errors.New("read on closed body")
	}
	if len(b.chunks) == 0 {
		if b.err != nil {
			return 0, b.err
		}
		return 0, io.EOF
	}
	n := copy(p, b.chunks[0])
	b.chunks[0] = b.chunks[0][n:]
	if len(b.chunks[0]) == 0 {
		b.chunks = b.chunks[1:]
	}
	return n, nil
}

func (b *chunkBody) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

type fakeTransport struct {
	mu       sync.Mutex
	payloads []adapter.Payload
	respond  func(ctx context.Context, p adapter.Payload) (*adapter.Response, error)
}

var _ adapter.Transport = (*fakeTransport)(nil)

func (f *fakeTransport) Send(ctx context.Context, p adapter.Payload) (*adapter.Response, error) {
	f.mu.Lock()
	f.payloads = append(f.payloads, p)
	respond := f.respond
	f.mu.Unlock()
	return respond(ctx, p)
}

func (f *fakeTransport) sent() []adapter.Payload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]adapter.Payload(nil), f.payloads...)
}

func streamOf(chunks ...string) func(context.Context, adapter.Payload) (*adapter.Response, error) {
	return func(context.Context, adapter.Payload) (*adapter.Response, error) {
		return &adapter.Response{StatusCode: 200, Status: "OK", OK: true, Body: newChunkBody(chunks...)}, nil
	}
}

// -----------------------------
// Moderation, translation, notification
// -----------------------------

type fakeChecker struct {
	mu    sync.Mutex
	flags map[string][]string
	err   error
	calls map[string]int
	gate  chan struct{}

	// entered, when set, receives a signal as a call starts waiting on gate
	entered chan struct{}
}

var _ adapter.ModerationChecker = (*fakeChecker)(nil)

func (f *fakeChecker) Check(ctx context.Context, text string) (adapter.Moderation, error) {
	if f.entered != nil {
		select {
		case f.entered <- struct{}{}:
		default:
		}
	}
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[text]++
	if f.err != nil {
		return adapter.Moderation{}, f.err
	}
	return adapter.Moderation{Flags: f.flags[text]}, nil
}

func (f *fakeChecker) callsFor(text string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[text]
}

func (f *fakeChecker) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

type fakeTranslator struct {
	prefix string
	err    error
}

func (f *fakeTranslator) Translate(ctx context.Context, text string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.prefix + text, nil
}

type fakeNotifier struct {
	mu      sync.Mutex
	notices []adapter.Notice
}

var _ adapter.Notifier = (*fakeNotifier)(nil)

func (f *fakeNotifier) Notify(ctx context.Context, n adapter.Notice) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notices = append(f.notices, n)
	return nil
}

func (f *fakeNotifier) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.notices))
	for i, n := range f.notices {
		out[i] = n.Text
	}
	return out
}

// -----------------------------
// Suggestion and title sources
// -----------------------------

// scriptedSeq yields each value after receiving from step (when set).
func scriptedSeq[T any](values []T, err error, step <-chan struct{}) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for _, v := range values {
			if step != nil {
				<-step
			}
			if !yield(v, nil) {
				return
			}
		}
		if err != nil {
			var zero T
			yield(zero, err)
		}
	}
}

type fakeSuggestions struct {
	mu    sync.Mutex
	calls int
	seq   func(ctx context.Context, history []model.Message) iter.Seq2[[]string, error]
}

func (f *fakeSuggestions) Suggestions(ctx context.Context, history []model.Message) iter.Seq2[[]string, error] {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.seq == nil {
		return scriptedSeq[[]string](nil, nil, nil)
	}
	return f.seq(ctx, history)
}

func (f *fakeSuggestions) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeTitles struct {
	mu     sync.Mutex
	inputs []string
	values []string
}

func (f *fakeTitles) Titles(ctx context.Context, input string) iter.Seq2[string, error] {
	f.mu.Lock()
	f.inputs = append(f.inputs, input)
	values := append([]string(nil), f.values...)
	f.mu.Unlock()
	return scriptedSeq(values, nil, nil)
}

func (f *fakeTitles) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.inputs...)
}

// -----------------------------
// Key-value store
// -----------------------------

type memKV struct {
	mu   sync.Mutex
	data map[string][]byte
	// gate, when set, stalls writes until it is closed
	gate chan struct{}
}

func newMemKV() *memKV { return &memKV{data: make(map[string][]byte)} }

func (m *memKV) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *memKV) Set(ctx context.Context, key string, value []byte) error {
	m.wait()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *memKV) Delete(ctx context.Context, key string) error {
	m.wait()
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memKV) wait() {
	if m.gate != nil {
		<-m.gate
	}
}

func (m *memKV) value(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return string(v), ok
}
