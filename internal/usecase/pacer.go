package usecase

import (
	"math"
	"time"

	"endless-chat/internal/config"
)

// Step is the result of one display tick.
type Step struct {
	Shown       string
	Advanced    int
	FastForward bool
	// Delay until the next tick. NextFrame means "yield to the next
	// frame" rather than a computed delay.
	Delay     time.Duration
	NextFrame bool
	// Done is reported by exactly one Tick, once the source is exhausted
	// and everything has been shown.
	Done bool
}

// Pacer turns irregular chunk arrivals into a smooth reveal. It holds no
// timers; the caller feeds it arrivals and asks for ticks.
type Pacer struct {
	cfg config.PacerConfig

	real      []rune
	shown     int
	gaps      []time.Duration
	last      time.Time
	exhausted bool
	finalized bool
}

// NewPacer starts a stream at start; the first gap is measured from it.
func NewPacer(cfg config.PacerConfig, start time.Time) *Pacer {
	if cfg.Window <= 0 {
		cfg.Window = 5
	}
	if cfg.Factor <= 0 {
		cfg.Factor = 50
	}
	return &Pacer{
		cfg:  cfg,
		real: make([]rune, 0, 256),
		gaps: []time.Duration{0},
		last: start,
	}
}

// Push appends an arrived chunk and records its arrival gap. It reports
// false when the chunk was ignored: empty, after Close, or a lone line
// break following text that already ends in one.
func (p *Pacer) Push(chunk string, now time.Time) bool {
	if chunk == "" || p.exhausted {
		return false
	}
	// checked against received text, not shown text, so the result does not depend on tick timing
	if chunk == "\n" && len(p.real) > 0 && p.real[len(p.real)-1] == '\n' {
		return false
	}
	p.real = append(p.real, []rune(chunk)...)
	p.gaps = append(p.gaps, now.Sub(p.last))
	if len(p.gaps) > p.cfg.Window {
		p.gaps = p.gaps[len(p.gaps)-p.cfg.Window:]
	}
	p.last = now
	return true
}

// Close marks the source exhausted.
func (p *Pacer) Close() { p.exhausted = true }

func (p *Pacer) Exhausted() bool { return p.exhausted }
func (p *Pacer) Finalized() bool { return p.finalized }
func (p *Pacer) Shown() string   { return string(p.real[:p.shown]) }
func (p *Pacer) Real() string    { return string(p.real) }
func (p *Pacer) Backlog() int    { return len(p.real) - p.shown }

// Tick reveals the next slice of text. interested=false switches to
// fast-forward, as does an exhausted source.
func (p *Pacer) Tick(interested bool) Step {
	if p.finalized {
		return Step{Shown: p.Shown()}
	}

	fast := p.exhausted || !interested
	step := Step{FastForward: fast}

	if distance := p.Backlog(); distance > 0 {
		n := p.advance(distance)
		p.shown += n
		step.Advanced = n
	}
	step.Shown = p.Shown()

	remaining := p.Backlog()
	switch {
	case remaining == 0 && p.exhausted:
		p.finalized = true
		step.Done = true
	case remaining == 0:
		step.Delay, step.NextFrame = p.cfg.Frame, true
	case fast:
		ms := p.cfg.FastForwardBudget.Milliseconds() / int64(remaining)
		if ms == 0 {
			step.Delay, step.NextFrame = p.cfg.Frame, true
		} else {
			step.Delay = time.Duration(ms) * time.Millisecond
		}
	default:
		step.Delay = p.pacedDelay(remaining)
	}
	return step
}

// advance is round(distance/factor), at least one rune.
func (p *Pacer) advance(distance int) int {
	n := int(math.Round(float64(distance) / float64(p.cfg.Factor)))
	return min(max(n, 1), distance)
}

// pacedDelay is min(mean recent gap, maxDelay/remaining), rounded to ms.
func (p *Pacer) pacedDelay(remaining int) time.Duration {
	var sum time.Duration
	for _, g := range p.gaps {
		sum += g
	}
	meanMs := float64(sum.Milliseconds()) / float64(len(p.gaps))
	capMs := float64(p.cfg.MaxDelay.Milliseconds()) / float64(remaining)
	return time.Duration(math.Round(math.Min(meanMs, capMs))) * time.Millisecond
}
