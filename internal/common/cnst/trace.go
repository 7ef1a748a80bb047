package cnst

// Tracer names used across the services
const (
	TraceOrchestrator = "hostlink/orchestrator"
	TraceScheduler    = "hostlink/scheduler"
)

// Span names
const (
	SpanResolveHost      = "hostlink.host.resolve"
	SpanHTTPHostBringUp  = "hostlink.host.http_bring_up"
	SpanStartTransaction = "hostlink.transaction.start"
	SpanScheduleFire     = "hostlink.schedule.fire"
)

// Attribute keys
const (
	AttrTransactionID = "hostlink.transaction_id"
	AttrActionID      = "hostlink.action_id"
	AttrActionSlug    = "hostlink.action_slug"
	AttrHostID        = "hostlink.host_id"
	AttrScheduleID    = "hostlink.schedule_id"
	AttrRequestID     = "hostlink.request_id"
)
