package health

import "time"

// AlertKind identifies which threshold an Alert crossed.
type AlertKind string

const (
	AlertDegradedHealth       AlertKind = "degraded_health_score"
	AlertCriticalHealth       AlertKind = "critical_health_score"
	AlertFailureRateExceeded  AlertKind = "max_failure_rate_exceeded"
	AlertMinAccountsAvailable AlertKind = "min_available_accounts"
)

// Alert is one event published on the in-process fan-out.
type Alert struct {
	Kind      AlertKind
	Account   string // empty for fleet-wide alerts (e.g. AlertMinAccountsAvailable)
	Value     float64
	Threshold float64
	At        time.Time
}

// Publisher is the narrow interface the health monitor needs from the alert
// bus, kept here to avoid internal/health depending on
// internal/observability/alertbus's concrete type.
type Publisher interface {
	Publish(Alert)
}
