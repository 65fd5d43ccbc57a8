package observability

const (
	MUsecaseRequests         MetricKey = "usecase_requests_total"
	MUsecaseDuration         MetricKey = "usecase_duration_seconds"
	MHTTPRequests            MetricKey = "http_requests_total"
	MHTTPRequestDuration     MetricKey = "http_request_duration_seconds"
	MExternalRequests        MetricKey = "external_requests_total"
	MExternalRequestDuration MetricKey = "external_request_duration_seconds"

	MCompensationFailures   MetricKey = "compensation_failures_total"
	MReconciliationOutcomes MetricKey = "reconciliation_outcomes_total"
	MCircuitBreakerState    MetricKey = "circuit_breaker_state"
	MEventsPublished        MetricKey = "events_published_total"
)
