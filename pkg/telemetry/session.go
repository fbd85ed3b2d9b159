package telemetry

import "github.com/google/uuid"

// NewSessionID returns a random correlation token for one client instance.
// It is never used for authorization.
func NewSessionID() string {
	return uuid.NewString()
}

// NewAlertID returns a unique alert identifier.
func NewAlertID() string {
	return uuid.NewString()
}
