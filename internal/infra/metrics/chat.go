package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		chatRequestsTotal,
		chatStreamSeconds,
		chatRevealTicks,
		chatTrimmedMessages,
		chatSideEffectFailures,
	)
}

var (
	chatRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_requests_total",
			Help: "Generation requests by terminal outcome (finalized/cancelled/failed).",
		},
		[]string{"outcome"},
	)

	chatStreamSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_stream_seconds",
			Help:    "Time from request start to terminal outcome.",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64, 128},
		},
		[]string{"outcome"},
	)

	chatRevealTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_reveal_ticks_total",
			Help: "Display ticks executed by the stream pacer, by mode.",
		},
		[]string{"mode"}, // paced | fast_forward
	)

	chatTrimmedMessages = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_trimmed_messages_total",
			Help: "Messages evicted from outgoing payloads to fit the token budget.",
		},
	)

	chatSideEffectFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_side_effect_failures_total",
			Help: "Best-effort background failures (moderation/suggestion/title/notify/persist).",
		},
		[]string{"kind"},
	)
)

func ObserveRequest(outcome string, elapsed time.Duration) {
	chatRequestsTotal.WithLabelValues(norm(outcome)).Inc()
	chatStreamSeconds.WithLabelValues(norm(outcome)).Observe(elapsed.Seconds())
}

func IncRevealTick(fastForward bool) {
	mode := "paced"
	if fastForward {
		mode = "fast_forward"
	}
	chatRevealTicks.WithLabelValues(mode).Inc()
}

func AddTrimmed(n int) {
	if n > 0 {
		chatTrimmedMessages.Add(float64(n))
	}
}

func IncSideEffectFailure(kind string) {
	chatSideEffectFailures.WithLabelValues(norm(kind)).Inc()
}
