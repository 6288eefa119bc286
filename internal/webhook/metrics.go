package webhook

import "expvar"

var (
	metricQueuedTotal       = expvar.NewInt("webhook_queued_total")
	metricDroppedTotal      = expvar.NewInt("webhook_dropped_total")
	metricRetryTotal        = expvar.NewInt("webhook_retry_total")
	metricRetryDroppedTotal = expvar.NewInt("webhook_retry_dropped_total")
	metricSentTotal         = expvar.NewInt("webhook_sent_total")
	metricFailedTotal       = expvar.NewInt("webhook_failed_total")
	metricCircuitOpenTotal  = expvar.NewInt("webhook_circuit_open_total")
	metricQueueLen          = expvar.NewInt("webhook_queue_len")

	metricRetryPending         = expvar.NewInt("webhook_retry_pending")
	metricRetrySupersededTotal = expvar.NewInt("webhook_retry_superseded_total")
)
