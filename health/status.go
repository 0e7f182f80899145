// Package health tracks the health of client components and exposes it,
// together with Prometheus metrics, over an HTTP endpoint.
package health

import (
	"regexp"
	"time"
)

// Sanitization patterns for messages that may embed connection details.
var (
	urlRegex        = regexp.MustCompile(`(?:https?|wss?|tcp)://[^\s]+`)
	ipAddrRegex     = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	credentialRegex = regexp.MustCompile(`(?i)(password|token|key|secret|credential)[^a-zA-Z]*[:=][^,\s}]+`)
)

// Status represents the health state of a component or of the whole client.
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      string    `json:"status"` // "healthy", "degraded", "unhealthy"
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
	Metrics     *Metrics  `json:"metrics,omitempty"`
}

// Metrics carries health-related counters alongside a status.
type Metrics struct {
	Uptime       time.Duration `json:"uptime"`
	MsgsIn       uint64        `json:"msgs_in,omitempty"`
	MsgsOut      uint64        `json:"msgs_out,omitempty"`
	Reconnects   uint64        `json:"reconnects,omitempty"`
	LastActivity time.Time     `json:"last_activity,omitempty"`
}

// IsHealthy returns true if the status is healthy.
func (s Status) IsHealthy() bool {
	return s.Status == "healthy"
}

// IsDegraded returns true if the status is degraded.
func (s Status) IsDegraded() bool {
	return s.Status == "degraded"
}

// IsUnhealthy returns true if the status is unhealthy.
func (s Status) IsUnhealthy() bool {
	return s.Status == "unhealthy"
}

// WithMetrics returns a copy of the status with metrics attached.
func (s Status) WithMetrics(metrics *Metrics) Status {
	s.Metrics = metrics
	return s
}

// WithSubStatus adds a sub-status and returns a copy.
func (s Status) WithSubStatus(subStatus Status) Status {
	newSubStatuses := make([]Status, len(s.SubStatuses), len(s.SubStatuses)+1)
	copy(newSubStatuses, s.SubStatuses)
	s.SubStatuses = append(newSubStatuses, subStatus)
	return s
}

// NewHealthy creates a healthy status.
func NewHealthy(component, message string) Status {
	return newStatus(component, "healthy", message)
}

// NewDegraded creates a degraded status.
func NewDegraded(component, message string) Status {
	return newStatus(component, "degraded", message)
}

// NewUnhealthy creates an unhealthy status. The message is sanitized since
// failure text often embeds endpoints or credentials.
func NewUnhealthy(component, message string) Status {
	return newStatus(component, "unhealthy", sanitizeMessage(message))
}

func newStatus(component, status, message string) Status {
	return Status{
		Component: component,
		Healthy:   status == "healthy",
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// sanitizeMessage strips endpoints, addresses, and credential fragments
// from a message before it is exposed on the health endpoint.
func sanitizeMessage(msg string) string {
	msg = urlRegex.ReplaceAllString(msg, "[URL]")
	msg = ipAddrRegex.ReplaceAllString(msg, "[IP]")
	msg = credentialRegex.ReplaceAllString(msg, "$1=[REDACTED]")
	return msg
}
