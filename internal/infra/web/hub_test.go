//go:build !integration

package web

import (
	"context"
	"testing"

	"endless-chat/internal/domain/ports/adapter"
)

func TestHub(t *testing.T) {
	t.Run("should drop events for a full subscriber", func(t *testing.T) {
		h := NewHub()
		ch, cancel := h.Subscribe()
		defer cancel()

		for i := 0; i < subscriberBuffer+5; i++ {
			_ = h.Notify(context.Background(), adapter.Notice{Text: "x"})
		}
		if len(ch) != subscriberBuffer {
			t.Errorf("expected %d buffered events, but got %d", subscriberBuffer, len(ch))
		}
	})

	t.Run("should close streams on cancel and Close", func(t *testing.T) {
		h := NewHub()
		a, cancelA := h.Subscribe()
		b, _ := h.Subscribe()

		cancelA()
		cancelA()
		if _, ok := <-a; ok {
			t.Error("expected cancelled stream to be closed")
		}

		h.Close()
		if _, ok := <-b; ok {
			t.Error("expected Close to end remaining streams")
		}
		late, _ := h.Subscribe()
		if _, ok := <-late; ok {
			t.Error("expected a closed stream after Close")
		}
	})
}
