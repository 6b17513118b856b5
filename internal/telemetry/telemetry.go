package telemetry

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"codeberg.org/mutker/otnpmon/internal/errors"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

const writeTimeout = 10 * time.Second

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type service struct {
	writer messageWriter
	log    zerolog.Logger
	queue  chan kafka.Message

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// No-op implementation
type noopPublisher struct{}

// Noop returns a Publisher that drops every event.
func Noop() Publisher {
	return noopPublisher{}
}

// NewService returns a Kafka backed Publisher, or a no-op one when
// publishing is disabled.
func NewService(cfg Config, log zerolog.Logger) (Publisher, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	if !cfg.Enabled {
		log.Debug().Msg("Telemetry disabled, using no-op publisher")
		return Noop(), nil
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: false,
	}

	log.Debug().
		Strs("brokers", cfg.Brokers).
		Str("topic", cfg.Topic).
		Msg("Telemetry publisher initialized")

	return newService(writer, cfg.QueueSize, log), nil
}

func newService(writer messageWriter, queueSize int, log zerolog.Logger) *service {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	s := &service{
		writer: writer,
		log:    log,
		queue:  make(chan kafka.Message, queueSize),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *service) run() {
	defer close(s.done)

	for msg := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := s.writer.WriteMessages(ctx, msg)
		cancel()
		if err != nil {
			s.log.Warn().
				Err(errors.New().Wrap(ErrWriteFailed, err)).
				Str("key", string(msg.Key)).
				Msg("Failed to publish alarm event")
		}
	}
}

func (s *service) Publish(ctx context.Context, e Event) error {
	errFactory := errors.New()

	value, err := json.Marshal(e)
	if err != nil {
		return errFactory.Wrap(ErrEncodeEvent, err)
	}
	// keyed by resource so one module's transitions stay ordered
	msg := kafka.Message{
		Key:   []byte(e.Resource),
		Value: value,
		Time:  time.Unix(0, max(e.TimeCleared, e.TimeCreated)),
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errFactory.New(ErrPublisherClosed)
	}

	select {
	case s.queue <- msg:
		return nil
	case <-ctx.Done():
		return errFactory.Wrap(errors.ErrTimeout, ctx.Err())
	default:
		return errFactory.WithData(ErrQueueFull, e.ID)
	}
}

func (s *service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	<-s.done

	if err := s.writer.Close(); err != nil {
		return errors.New().Wrap(ErrServiceShutdown, err)
	}
	return nil
}

// No-op implementation
func (noopPublisher) Publish(_ context.Context, _ Event) error {
	return nil
}

func (noopPublisher) Close() error {
	return nil
}
