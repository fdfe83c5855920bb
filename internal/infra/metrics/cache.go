package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(cacheRequestsTotal) }

var cacheRequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "chat_cache_requests_total",
		Help: "Cache hits and misses for the moderation and token-count caches.",
	},
	[]string{"cache", "result"}, // e.g., cache="moderation", result="hit"
)

func IncCacheRequest(cacheName string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheRequestsTotal.WithLabelValues(norm(cacheName), result).Inc()
}
