package telemetry

import "codeberg.org/mutker/otnpmon/internal/errors"

const (
	// Configuration Errors
	ErrInvalidConfig = errors.ErrorCode("telemetry_invalid_config")
	ErrNoBrokers     = errors.ErrorCode("telemetry_no_brokers")
	ErrInvalidTopic  = errors.ErrorCode("telemetry_invalid_topic")

	// Publishing Errors
	ErrEncodeEvent = errors.ErrorCode("telemetry_encode_event_failed")
	ErrQueueFull   = errors.ErrorCode("telemetry_queue_full")
	ErrWriteFailed = errors.ErrorCode("telemetry_write_failed")

	// Operation Errors
	ErrPublisherClosed = errors.ErrorCode("telemetry_publisher_closed")
	ErrServiceShutdown = errors.ErrShutdownFailed
)
