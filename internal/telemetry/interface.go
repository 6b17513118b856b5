package telemetry

import "context"

// Event kinds.
const (
	AlarmCreated = "alarm.created"
	AlarmCleared = "alarm.cleared"
)

// Publisher forwards alarm events off the box.
type Publisher interface {
	// Publish enqueues e without waiting for the brokers.
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Event is one alarm transition.
type Event struct {
	Kind          string `json:"kind"`
	ID            string `json:"id"`
	Resource      string `json:"resource"`
	TypeID        string `json:"type-id"`
	Severity      string `json:"severity"`
	ServiceAffect bool   `json:"service-affect"`
	Text          string `json:"text"`
	TimeCreated   int64  `json:"time-created"`
	TimeCleared   int64  `json:"time-cleared,omitempty"`
}
