package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestActionsRoutedCountsByOutcome(t *testing.T) {
	before := testutil.ToFloat64(ActionsRouted.WithLabelValues("REQUEST_TIMEOUT"))
	ActionsRouted.WithLabelValues("REQUEST_TIMEOUT").Inc()
	after := testutil.ToFloat64(ActionsRouted.WithLabelValues("REQUEST_TIMEOUT"))
	if after-before != 1 {
		t.Fatalf("counter delta = %v, want 1", after-before)
	}
}

func TestPendingGaugeMoves(t *testing.T) {
	PendingRequests.Set(0)
	PendingRequests.Inc()
	PendingRequests.Inc()
	PendingRequests.Dec()
	if got := testutil.ToFloat64(PendingRequests); got != 1 {
		t.Fatalf("pending = %v, want 1", got)
	}
	PendingRequests.Set(0)
}
