package domain

import "time"

type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

type HealthResponse struct {
	Status     HealthStatus `json:"status"`
	Timestamp  time.Time    `json:"timestamp"`
	DeviceType DeviceType   `json:"device_type"`
	Message    string       `json:"message,omitempty"`
}

// RunReport describes the most recent completed run.
type RunReport struct {
	RunID      string         `json:"run_id"`
	DeviceType DeviceType     `json:"device_type"`
	StartedAt  time.Time      `json:"started_at"`
	Duration   time.Duration  `json:"duration"`
	Devices    int            `json:"devices"`
	Accepted   int            `json:"accepted"`
	Rejected   int            `json:"rejected"`
	Summary    map[Reason]int `json:"summary"`
	Acks       []Ack          `json:"acks,omitempty"`
	Spooled    bool           `json:"spooled"`
	Error      string         `json:"error,omitempty"`
}
