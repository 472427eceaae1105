// Package queue defines message payloads exchanged over the message broker.
package queue

// ActivationChangedEvent is published whenever an activation's status or
// protocol version changes. It carries enough information for downstream
// audit consumers to log the transition without querying the primary
// database.
type ActivationChangedEvent struct {
	ActivationID  string `json:"activation_id"`
	UserID        string `json:"user_id"`
	ApplicationID string `json:"application_id"`
	Status        string `json:"status"`
	Version       int    `json:"version"`
	Reason        string `json:"reason"`
	ChangedAt     string `json:"changed_at"`
}

// Reasons recorded with activation history events.
const (
	ReasonVersionChanged = "ACTIVATION_VERSION_CHANGED"
	ReasonStatusChanged  = "ACTIVATION_STATUS_CHANGED"
)
