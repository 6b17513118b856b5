package metrics

import (
	"net/http"
	"time"
)

// Collector receives the daemon's operational counters.
type Collector interface {
	AlarmCreated(typeID, severity string)
	AlarmCleared(typeID, severity string)
	PmRollover(period string)
	SyncCompleted(periphType string, elapsed time.Duration, err error)
	SlotStatus(resource, status string)
	FanLevel(fan string, level int)
	FanLevelChanged(direction string)
	HardwareRetry(action string)
	HardwareFailure(action string)
	// Handler serves the collected metrics; nil when collection is disabled.
	Handler() http.Handler
	IsEnabled() bool
}
