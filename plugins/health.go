package plugins

// Health states reported by HealthChecker.
const (
	HealthHealthy   = "healthy"
	HealthDegraded  = "degraded"
	HealthUnhealthy = "unhealthy"
)

// HealthReport is a point-in-time health status of a plugin.
type HealthReport struct {
	Status    string         `json:"status"`
	Message   string         `json:"message,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp int64          `json:"timestamp"` // unix seconds
}

// HealthChecker is implemented by plugins that can report their health.
type HealthChecker interface {
	Health() HealthReport
}
