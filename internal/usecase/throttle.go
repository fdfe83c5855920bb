package usecase

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"endless-chat/internal/infra/clock"
)

// Throttler runs fn at most once per interval, on both edges: the first
// call runs immediately and the latest call inside the window runs when
// the window closes. A non-positive interval disables it.
type Throttler struct {
	clock clock.Clock
	fn    func(string)

	mu      sync.Mutex
	limiter *rate.Limiter
	pending string
	timer   *clock.Timer
}

func NewThrottler(clk clock.Clock, interval time.Duration, fn func(string)) *Throttler {
	t := &Throttler{clock: clk, fn: fn}
	if interval > 0 {
		t.limiter = rate.NewLimiter(rate.Every(interval), 1)
	}
	return t
}

func (t *Throttler) Enabled() bool { return t.limiter != nil }

func (t *Throttler) Call(v string) {
	if t.limiter == nil {
		return
	}

	t.mu.Lock()
	if t.timer != nil {
		t.pending = v
		t.mu.Unlock()
		return
	}
	now := t.clock.Now()
	r := t.limiter.ReserveN(now, 1)
	delay := r.DelayFrom(now)
	if delay > 0 {
		t.pending = v
		t.timer = t.clock.AfterFunc(delay, t.flush)
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	t.fn(v)
}

func (t *Throttler) flush() {
	t.mu.Lock()
	if t.timer == nil {
		t.mu.Unlock()
		return
	}
	v := t.pending
	t.timer = nil
	t.pending = ""
	t.mu.Unlock()

	t.fn(v)
}

// Stop drops a pending trailing call.
func (t *Throttler) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
		t.pending = ""
	}
}
