package usecase

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"endless-chat/internal/config"
	"endless-chat/internal/domain"
	"endless-chat/internal/domain/model"
	"endless-chat/internal/domain/ports/adapter"
	"endless-chat/internal/infra/clock"
	"endless-chat/internal/infra/logging"
	"endless-chat/internal/infra/metrics"
)

// State of a generation request.
type State string

const (
	StateIdle      State = "idle"
	StateSending   State = "sending"
	StateStreaming State = "streaming"
	StateFinalized State = "finalized"
	StateCancelled State = "cancelled"
	StateFailed    State = "failed"
)

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	return s == StateFinalized || s == StateCancelled || s == StateFailed
}

// Active reports whether a request is in flight.
func (s State) Active() bool { return s == StateSending || s == StateStreaming }

// maxErrorBody bounds how much of a failed response body is kept.
const maxErrorBody = 64 << 10

const readBufSize = 4 << 10

// Outcome is the terminal result of a Lifecycle.
type Outcome struct {
	RequestID string
	State     State
	// Message is the archived assistant turn; nil unless Finalized with text.
	Message *model.Message
	// Err is a *domain.TransportError when Failed.
	Err     error
	Elapsed time.Duration
}

// LifecycleHooks are invoked from the lifecycle goroutine. OnFinish runs
// before Done is closed.
type LifecycleHooks struct {
	OnState    func(State)
	OnProgress func(shown string)
	OnFinish   func(Outcome)
}

// RequestOptions are forwarded verbatim in every payload.
type RequestOptions struct {
	Model       string
	Temperature *float64
}

// Lifecycle drives one generation request from send to a terminal state.
type Lifecycle struct {
	id        string
	transport adapter.Transport
	trimmer   *Trimmer
	clock     clock.Clock
	pacing    config.PacerConfig
	opts      RequestOptions
	log       *zerolog.Logger
	hooks     LifecycleHooks

	ctx        context.Context
	cancel     context.CancelFunc
	interested atomic.Bool
	done       chan struct{}

	mu      sync.Mutex
	state   State
	outcome Outcome
}

// NewLifecycle prepares a request bound to ctx. Cancelling ctx or calling
// Cancel aborts it.
func NewLifecycle(ctx context.Context, transport adapter.Transport, trimmer *Trimmer, clk clock.Clock, pacing config.PacerConfig, opts RequestOptions, logger *zerolog.Logger, hooks LifecycleHooks) *Lifecycle {
	id := ulid.Make().String()
	ctx, cancel := context.WithCancel(logging.WithRequestID(ctx, id))
	l := &Lifecycle{
		id:        id,
		transport: transport,
		trimmer:   trimmer,
		clock:     clk,
		pacing:    pacing,
		opts:      opts,
		log:       logging.With(ctx, logger),
		hooks:     hooks,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		state:     StateIdle,
	}
	l.interested.Store(true)
	return l
}

func (l *Lifecycle) ID() string { return l.id }

func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Done is closed once the lifecycle reached a terminal state.
func (l *Lifecycle) Done() <-chan struct{} { return l.done }

// Outcome is valid after Done is closed.
func (l *Lifecycle) Outcome() Outcome {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.outcome
}

// Cancel aborts the request. Nothing is archived.
func (l *Lifecycle) Cancel() { l.cancel() }

// SetInterested toggles paced delivery. When false the backlog is drained
// as fast as possible.
func (l *Lifecycle) SetInterested(v bool) { l.interested.Store(v) }

// Run sends the trimmed history and blocks until a terminal state.
func (l *Lifecycle) Run(history []model.Message, system *model.Message) Outcome {
	defer close(l.done)
	defer l.cancel()
	defer logging.TraceDuration(l.log, "Lifecycle.Run")()

	start := l.clock.Now()
	messages, evicted := l.trimmer.Trim(history, system)
	metrics.AddTrimmed(evicted)

	l.setState(StateSending)
	l.log.Debug().Int("messages", len(messages)).Int("evicted", evicted).Msg("sending request")

	res, err := l.transport.Send(l.ctx, adapter.Payload{
		Messages:    messages,
		Model:       l.opts.Model,
		Temperature: l.opts.Temperature,
	})
	if err != nil {
		if l.ctx.Err() != nil {
			return l.finish(start, StateCancelled, nil, nil)
		}
		return l.finish(start, StateFailed, nil, &domain.TransportError{Kind: domain.TransportFailure, Err: err})
	}
	if !res.OK {
		body := readErrorBody(res.Body)
		return l.finish(start, StateFailed, nil, &domain.TransportError{
			Kind:       domain.TransportFailure,
			StatusCode: res.StatusCode,
			Status:     res.Status,
			Body:       body,
		})
	}
	if res.Body == nil {
		return l.finish(start, StateFailed, nil, &domain.TransportError{
			Kind:       domain.TransportFailure,
			StatusCode: res.StatusCode,
			Status:     res.Status,
			Err:        domain.ErrNoBody,
		})
	}

	l.setState(StateStreaming)
	return l.stream(start, l.clock.Now(), res.Body)
}

type arrival struct {
	text string
	err  error
}

// stream paces the body. Arrival gaps are measured from opened, so
// time to first byte does not count as a gap.
func (l *Lifecycle) stream(start, opened time.Time, body io.ReadCloser) Outcome {
	defer body.Close()

	arrivals := make(chan arrival)
	go readChunks(l.ctx, body, arrivals)

	pacer := NewPacer(l.pacing, opened)
	src := arrivals
	tick := l.clock.After(0)
	for {
		select {
		case <-l.ctx.Done():
			// unblock the reader; it exits on ctx as well
			body.Close()
			return l.finish(start, StateCancelled, nil, nil)

		case a, ok := <-src:
			if !ok {
				pacer.Close()
				src = nil
				continue
			}
			if a.err != nil {
				if l.ctx.Err() != nil {
					return l.finish(start, StateCancelled, nil, nil)
				}
				return l.finish(start, StateFailed, nil, &domain.TransportError{Kind: domain.StreamReadFailure, Err: a.err})
			}
			pacer.Push(a.text, l.clock.Now())

		case <-tick:
			step := pacer.Tick(l.interested.Load())
			if step.Advanced > 0 {
				metrics.IncRevealTick(step.FastForward)
				if l.hooks.OnProgress != nil {
					l.hooks.OnProgress(step.Shown)
				}
			}
			if step.Done {
				var msg *model.Message
				if step.Shown != "" {
					m := model.AssistantMessage(step.Shown)
					msg = &m
				}
				return l.finish(start, StateFinalized, msg, nil)
			}
			tick = l.clock.After(step.Delay)
		}
	}
}

// readChunks forwards body reads as text, carrying a rune split across
// reads over to the next one. The channel is closed on EOF.
func readChunks(ctx context.Context, body io.Reader, out chan<- arrival) {
	defer close(out)

	send := func(a arrival) bool {
		select {
		case out <- a:
			return true
		case <-ctx.Done():
			return false
		}
	}

	buf := make([]byte, readBufSize)
	var carry []byte
	for {
		n, err := body.Read(buf)
		if n > 0 {
			data := append(carry, buf[:n]...)
			cut := completePrefix(data)
			carry = append([]byte(nil), data[cut:]...)
			if cut > 0 && !send(arrival{text: string(data[:cut])}) {
				return
			}
		}
		if errors.Is(err, io.EOF) {
			if len(carry) > 0 {
				send(arrival{text: string(carry)})
			}
			return
		}
		if err != nil {
			send(arrival{err: err})
			return
		}
	}
}

// completePrefix returns the length of data without a trailing incomplete
// UTF-8 sequence.
func completePrefix(data []byte) int {
	for i := len(data) - 1; i >= 0 && i >= len(data)-utf8.UTFMax; i-- {
		if !utf8.RuneStart(data[i]) {
			continue
		}
		if utf8.FullRune(data[i:]) {
			return len(data)
		}
		return i
	}
	return len(data)
}

func readErrorBody(body io.ReadCloser) string {
	if body == nil {
		return ""
	}
	defer body.Close()
	b, _ := io.ReadAll(io.LimitReader(body, maxErrorBody))
	return string(b)
}

func (l *Lifecycle) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
	if l.hooks.OnState != nil {
		l.hooks.OnState(s)
	}
}

func (l *Lifecycle) finish(start time.Time, state State, msg *model.Message, err error) Outcome {
	o := Outcome{
		RequestID: l.id,
		State:     state,
		Message:   msg,
		Err:       err,
		Elapsed:   l.clock.Now().Sub(start),
	}
	l.mu.Lock()
	l.state = state
	l.outcome = o
	l.mu.Unlock()

	metrics.ObserveRequest(string(state), o.Elapsed)
	switch state {
	case StateFailed:
		l.log.Warn().Err(err).Msg("request failed")
	default:
		l.log.Debug().Str("state", string(state)).Dur("elapsed", o.Elapsed).Msg("request finished")
	}

	if l.hooks.OnState != nil {
		l.hooks.OnState(state)
	}
	if l.hooks.OnFinish != nil {
		l.hooks.OnFinish(o)
	}
	return o
}
