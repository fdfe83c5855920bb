//go:build !integration

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMustRegister_IsIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	MustRegister(reg)
	MustRegister(reg)
}

func TestHelpersRecord(t *testing.T) {
	before := testutil.ToFloat64(chatRequestsTotal.WithLabelValues("finalized"))
	ObserveRequest(" Finalized ", 2*time.Second)
	if got := testutil.ToFloat64(chatRequestsTotal.WithLabelValues("finalized")); got != before+1 {
		t.Fatalf("expected finalized counter to grow by 1, got %v -> %v", before, got)
	}

	IncCacheRequest("moderation", true)
	IncCacheRequest("moderation", false)
	if got := testutil.ToFloat64(cacheRequestsTotal.WithLabelValues("moderation", "hit")); got < 1 {
		t.Fatalf("expected moderation hit to be recorded, got %v", got)
	}

	trimmed := testutil.ToFloat64(chatTrimmedMessages)
	AddTrimmed(0)
	AddTrimmed(2)
	if got := testutil.ToFloat64(chatTrimmedMessages); got != trimmed+2 {
		t.Fatalf("expected trimmed counter +2, got %v -> %v", trimmed, got)
	}
}
