//go:build !integration

package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"endless-chat/internal/domain/ports/adapter"
	"endless-chat/internal/infra/clock"
)

func newTestModerator(t *testing.T, checker *fakeChecker, translator *fakeTranslator, clk clock.Clock) (*Moderator, *fakeNotifier) {
	t.Helper()
	n := &fakeNotifier{}
	var tr adapter.Translator
	if translator != nil {
		tr = translator
	}
	return NewModerator(checker, tr, n, newTexts(t), clk, 3, newLogger()), n
}

func TestModerator_Check(t *testing.T) {
	t.Run("should call the checker once per distinct text", func(t *testing.T) {
		checker := &fakeChecker{flags: map[string][]string{"bad": {"hate"}}}
		m, _ := newTestModerator(t, checker, nil, clock.Fake(t0))

		for range 3 {
			flags, err := m.Check(context.Background(), "bad")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff([]string{"hate"}, flags); diff != "" {
				t.Errorf("unexpected flags (-want +got):\n%s", diff)
			}
		}
		if got := checker.callsFor("bad"); got != 1 {
			t.Errorf("expected 1 remote call, but got %d", got)
		}
	})

	t.Run("should share one remote call between concurrent checks", func(t *testing.T) {
		checker := &fakeChecker{gate: make(chan struct{})}
		m, _ := newTestModerator(t, checker, nil, clock.Fake(t0))

		var wg sync.WaitGroup
		for range 5 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = m.Check(context.Background(), "same text")
			}()
		}
		time.Sleep(10 * time.Millisecond)
		close(checker.gate)
		wg.Wait()

		if got := checker.callsFor("same text"); got != 1 {
			t.Errorf("expected 1 remote call, but got %d", got)
		}
	})

	t.Run("should not cache failures", func(t *testing.T) {
		checker := &fakeChecker{err: errors.New("unavailable")}
		m, _ := newTestModerator(t, checker, nil, clock.Fake(t0))
		_, _ = m.Check(context.Background(), "x")
		_, _ = m.Check(context.Background(), "x")
		if got := checker.callsFor("x"); got != 2 {
			t.Errorf("expected 2 remote calls, but got %d", got)
		}
		if _, ok := m.Flagged("x"); ok {
			t.Error("expected no cached verdict")
		}
	})

	t.Run("should forget verdicts on reset", func(t *testing.T) {
		checker := &fakeChecker{}
		m, _ := newTestModerator(t, checker, nil, clock.Fake(t0))
		_, _ = m.Check(context.Background(), "x")
		m.Reset()
		_, _ = m.Check(context.Background(), "x")
		if got := checker.callsFor("x"); got != 2 {
			t.Errorf("expected 2 remote calls, but got %d", got)
		}
	})

	t.Run("should not cache a verdict that lands after reset", func(t *testing.T) {
		checker := &fakeChecker{
			flags:   map[string][]string{"x": {"hate"}},
			gate:    make(chan struct{}),
			entered: make(chan struct{}, 1),
		}
		m, _ := newTestModerator(t, checker, nil, clock.Fake(t0))

		done := make(chan struct{})
		go func() {
			defer close(done)
			_, _ = m.Check(context.Background(), "x")
		}()
		<-checker.entered
		m.Reset()
		close(checker.gate)
		<-done

		if flags, ok := m.Flagged("x"); ok {
			t.Errorf("expected no cached verdict after reset, but got %v", flags)
		}
		if _, err := m.Check(context.Background(), "x"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := checker.callsFor("x"); got != 2 {
			t.Errorf("expected a fresh remote call after reset, but got %d calls", got)
		}
	})
}

func TestModerator_Moderate(t *testing.T) {
	t.Run("should warn, translate and add delayed notices", func(t *testing.T) {
		clk := clock.Fake(t0)
		checker := &fakeChecker{flags: map[string][]string{"bad": {"hate", "violence"}}}
		m, n := newTestModerator(t, checker, &fakeTranslator{prefix: "T:"}, clk)

		m.Moderate(context.Background(), "bad")
		want := []string{"hate, violence detected!", "T:detect hate, violence which violates our policy"}
		if diff := cmp.Diff(want, n.texts()); diff != "" {
			t.Fatalf("unexpected notices (-want +got):\n%s", diff)
		}

		clk.Advance(500 * time.Millisecond)
		clk.Advance(200 * time.Millisecond)
		want = append(want, "现在暂时没有影响，未来可能会强制合规", "如有异议可通过页面下方问题反馈联系我")
		if diff := cmp.Diff(want, n.texts()); diff != "" {
			t.Errorf("unexpected notices (-want +got):\n%s", diff)
		}
	})

	t.Run("should only add supplementary notices for the first occurrences", func(t *testing.T) {
		clk := clock.Fake(t0)
		checker := &fakeChecker{flags: map[string][]string{"bad": {"hate"}}}
		m, n := newTestModerator(t, checker, nil, clk)

		for range 5 {
			m.Moderate(context.Background(), "bad")
			clk.Advance(time.Second)
		}
		// 5 warnings, 5 policy notices, 3 x 2 supplementary
		if got := len(n.texts()); got != 16 {
			t.Errorf("expected 16 notices, but got %d: %v", got, n.texts())
		}
	})

	t.Run("should stay silent for clean text and failures", func(t *testing.T) {
		clk := clock.Fake(t0)
		m, n := newTestModerator(t, &fakeChecker{}, nil, clk)
		m.Moderate(context.Background(), "fine")
		m.Moderate(context.Background(), "")

		failing, n2 := newTestModerator(t, &fakeChecker{err: errors.New("down")}, nil, clk)
		failing.Moderate(context.Background(), "anything")

		if len(n.texts())+len(n2.texts()) != 0 {
			t.Errorf("expected no notices, but got %v %v", n.texts(), n2.texts())
		}
	})

	t.Run("should fall back to the untranslated notice", func(t *testing.T) {
		checker := &fakeChecker{flags: map[string][]string{"bad": {"sexual"}}}
		m, n := newTestModerator(t, checker, &fakeTranslator{err: errors.New("quota")}, clock.Fake(t0))
		m.Moderate(context.Background(), "bad")
		want := []string{"sexual detected!", "detect sexual which violates our policy"}
		if diff := cmp.Diff(want, n.texts()); diff != "" {
			t.Errorf("unexpected notices (-want +got):\n%s", diff)
		}
	})

	t.Run("should drop pending notices on reset", func(t *testing.T) {
		clk := clock.Fake(t0)
		checker := &fakeChecker{flags: map[string][]string{"bad": {"hate"}}}
		m, n := newTestModerator(t, checker, nil, clk)
		m.Moderate(context.Background(), "bad")
		m.Reset()
		clk.Advance(time.Second)
		if got := len(n.texts()); got != 2 {
			t.Errorf("expected only the immediate notices, but got %v", n.texts())
		}
	})
}
