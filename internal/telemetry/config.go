package telemetry

import (
	"strings"

	"codeberg.org/mutker/otnpmon/internal/errors"
)

const (
	defaultTopic     = "otn.alarms"
	defaultQueueSize = 256
)

type Config struct {
	Enabled bool
	Brokers []string
	Topic   string
	// QueueSize bounds the events buffered while the brokers are slow.
	QueueSize int
}

func DefaultConfig() Config {
	return Config{
		Topic:     defaultTopic,
		QueueSize: defaultQueueSize,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	if !c.Enabled {
		return nil
	}
	if len(c.Brokers) == 0 {
		return errFactory.New(ErrNoBrokers)
	}
	if strings.TrimSpace(c.Topic) == "" {
		return errFactory.New(ErrInvalidTopic)
	}
	return nil
}
