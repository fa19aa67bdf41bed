package types

// Telemetry metric names for CloudWatch.
// All components MUST use these constants.
const (
	// Metric Names
	MetricAPILatency          = "APILatency"
	MetricDetectionsIngested  = "DetectionsIngested"
	MetricMitigationsApplied  = "MitigationsApplied"
	MetricDailyDetections     = "DailyDetections"
	MetricPendingDetections   = "PendingDetections"
	MetricExternalAPIFailure  = "ExternalAPIFailure"
	MetricEventPublishFailure = "EventPublishFailure"

	// Dimension Keys
	DimEndpoint = "Endpoint"
	DimMethod   = "Method"
	DimStatus   = "Status"
	DimProvider = "Provider"
	DimMode     = "Mode"

	// Metric Namespace
	MetricNamespace = "WeedTrack"
)
