package httptransport

import "expvar"

var (
	metricSessionCreateTotal  = expvar.NewInt("session_create_total")
	metricSessionCreateErrors = expvar.NewInt("session_create_errors_total")
	metricSessionEndTotal     = expvar.NewInt("session_end_total")

	metricTokenIssueTotal  = expvar.NewInt("token_issue_total")
	metricTokenIssueErrors = expvar.NewInt("token_issue_errors_total")

	metricSSEConnectionsTotal  = expvar.NewInt("session_sse_connections_total")
	metricSSEConnectionsActive = expvar.NewInt("session_sse_connections_active")

	adminAuthFailures = expvar.NewInt("admin_auth_failures_total")
)
