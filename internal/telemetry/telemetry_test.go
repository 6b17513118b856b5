package telemetry

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	apperrors "codeberg.org/mutker/otnpmon/internal/errors"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	block    chan struct{}
	closed   bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.block != nil {
		<-w.block
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func TestPublishWritesKeyedJSON(t *testing.T) {
	writer := &recordingWriter{}
	s := newService(writer, 4, zerolog.Nop())

	event := Event{
		Kind:        AlarmCreated,
		ID:          "FAN-1-7#FAN_FAIL",
		Resource:    "FAN-1-7",
		TypeID:      "FAN_FAIL",
		Severity:    "CRITICAL",
		Text:        "FAN CARD FAIL",
		TimeCreated: 1700000000000000000,
	}
	require.NoError(t, s.Publish(context.Background(), event))
	require.NoError(t, s.Close())

	require.Len(t, writer.messages, 1)
	assert.True(t, writer.closed)
	assert.Equal(t, "FAN-1-7", string(writer.messages[0].Key))

	var decoded Event
	require.NoError(t, json.Unmarshal(writer.messages[0].Value, &decoded))
	assert.Equal(t, event, decoded)
}

func TestPublishQueueFull(t *testing.T) {
	writer := &recordingWriter{block: make(chan struct{})}
	s := newService(writer, 1, zerolog.Nop())

	// the worker holds one message while blocked, the queue one more
	require.NoError(t, s.Publish(context.Background(), Event{ID: "a"}))
	var err error
	for i := 0; i < 3 && err == nil; i++ {
		err = s.Publish(context.Background(), Event{ID: "b"})
	}
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, ErrQueueFull))

	close(writer.block)
	require.NoError(t, s.Close())
}

func TestPublishAfterClose(t *testing.T) {
	s := newService(&recordingWriter{}, 1, zerolog.Nop())
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	err := s.Publish(context.Background(), Event{ID: "late"})
	assert.True(t, apperrors.HasCode(err, ErrPublisherClosed))
}

func TestDisabledIsNoop(t *testing.T) {
	p, err := NewService(DefaultConfig(), zerolog.Nop())
	require.NoError(t, err)
	assert.NoError(t, p.Publish(context.Background(), Event{}))
	assert.NoError(t, p.Close())
}

func TestEnabledRequiresBrokers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = true
	_, err := NewService(cfg, zerolog.Nop())
	assert.Error(t, err)
}
