package resource

import "time"

// MetricsSource labels where a snapshot came from.
type MetricsSource string

const (
	SourceCloudWatch MetricsSource = "cloudwatch"
	SourceEstimated  MetricsSource = "estimated"
)

// MetricsSnapshot is a point-in-time utilization and cost view of one resource.
type MetricsSnapshot struct {
	CPUPercent            float64       `json:"cpu_percent"`
	MemoryPercent         float64       `json:"memory_percent"`
	ConnectionCount       float64       `json:"connection_count"`
	RequestRate           float64       `json:"request_rate"`
	StorageGB             float64       `json:"storage_gb"`
	EstimatedDailyCostUSD float64       `json:"estimated_daily_cost_usd"`
	CapturedAt            time.Time     `json:"captured_at"`
	Source                MetricsSource `json:"source"`
}

// HealthStatus is the system-wide classification.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthCritical HealthStatus = "critical"
)

// ResourceHealth is the per-resource part of a HealthReport.
type ResourceHealth struct {
	Resource Resource        `json:"resource"`
	Metrics  MetricsSnapshot `json:"metrics"`
	Good     bool            `json:"good"`
}

// HealthReport is derived on demand and never persisted.
type HealthReport struct {
	Overall         HealthStatus              `json:"overall"`
	PerResource     map[string]ResourceHealth `json:"per_resource"`
	Alerts          []string                  `json:"alerts"`
	Recommendations []string                  `json:"recommendations"`
	Total           int                       `json:"total"`
	Good            int                       `json:"good"`
	GeneratedAt     time.Time                 `json:"generated_at"`
}
