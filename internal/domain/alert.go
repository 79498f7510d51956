package domain

import "time"

// AlertLevel represents alert severity
type AlertLevel string

const (
	AlertInfo      AlertLevel = "INFO"
	AlertWarning   AlertLevel = "WARNING"
	AlertCritical  AlertLevel = "CRITICAL"
	AlertEmergency AlertLevel = "EMERGENCY"
)

// Severity orders levels: INFO < WARNING < CRITICAL < EMERGENCY
func (l AlertLevel) Severity() int {
	switch l {
	case AlertWarning:
		return 1
	case AlertCritical:
		return 2
	case AlertEmergency:
		return 3
	default:
		return 0
	}
}

// Alert is a monitoring signal raised by the metrics engine
type Alert struct {
	ID           string                 `json:"id"`
	Timestamp    time.Time              `json:"timestamp"`
	Level        AlertLevel             `json:"level"`
	Message      string                 `json:"message"`
	Data         map[string]interface{} `json:"data,omitempty"`
	Acknowledged bool                   `json:"acknowledged"`
}

// Urgent reports whether the alert must be persisted immediately
func (a Alert) Urgent() bool {
	return a.Level.Severity() >= AlertCritical.Severity()
}
