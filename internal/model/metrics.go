package model

// MetricType is the discriminator for AggregatedMetric rows.
type MetricType string

const (
	MetricTypeException MetricType = "exception"
	MetricTypeEndpoint   MetricType = "endpoint"
	MetricTypeLogVolume  MetricType = "log_volume"
)

// AggregatedMetric is an append/upsert row per (project_id, date, hour, metric_type, ...).
type AggregatedMetric struct {
	ProjectID      int64
	Date           string // YYYYMMDD
	Hour           int
	MetricType     MetricType
	EndpointMethod string
	EndpointPath   string
	LogLevel       string
	LogType        string
	LogCount       int64
	ErrorCount     int64
	AvgDurationMs  float64
	MinDurationMs  float64
	MaxDurationMs  float64
	P95DurationMs  float64
	P99DurationMs  float64
}

// CredentialRecord is the cached resolution of a presented credential.
// Fields are the union of the two ValidateApiKeyResponse shapes seen in the
// original source; a field left unset by the Auth collaborator stays at its
// zero value and callers must not treat that as "explicitly zero".
type CredentialRecord struct {
	ProjectID          int64
	AccountID          int64
	DailyQuota         int64
	RetentionDays      int
	RateLimitPerMinute int
	RateLimitPerHour   int
	CurrentUsage       int64
	IssuedAt           int64 // unix seconds
}

// BottleneckMetric is the supplemented endpoint-latency rollup (see
// SPEC_FULL.md §3.5): top-N slowest endpoints per project per hour.
type BottleneckMetric struct {
	ProjectID      int64
	PeriodFrom     string
	PeriodTo       string
	EndpointMethod string
	EndpointPath   string
	RequestCount   int64
	AvgDurationMs  float64
	P95DurationMs  float64
	P99DurationMs  float64
}
