package kafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap/zaptest"

	"github.com/abhinav937/who-is-using-the-server/internal/core/domain"
	"github.com/abhinav937/who-is-using-the-server/internal/infra/config"
)

type fakeAsyncProducer struct {
	input     chan *sarama.ProducerMessage
	successes chan *sarama.ProducerMessage
	errors    chan *sarama.ProducerError
}

func newFakeAsyncProducer() *fakeAsyncProducer {
	return &fakeAsyncProducer{
		input:     make(chan *sarama.ProducerMessage, 16),
		successes: make(chan *sarama.ProducerMessage, 16),
		errors:    make(chan *sarama.ProducerError, 16),
	}
}

func (f *fakeAsyncProducer) AsyncClose()                               {}
func (f *fakeAsyncProducer) Close() error                              { return nil }
func (f *fakeAsyncProducer) Input() chan<- *sarama.ProducerMessage     { return f.input }
func (f *fakeAsyncProducer) Successes() <-chan *sarama.ProducerMessage { return f.successes }
func (f *fakeAsyncProducer) Errors() <-chan *sarama.ProducerError      { return f.errors }
func (f *fakeAsyncProducer) IsTransactional() bool                     { return false }
func (f *fakeAsyncProducer) TxnStatus() sarama.ProducerTxnStatusFlag {
	return sarama.ProducerTxnFlagReady
}
func (f *fakeAsyncProducer) BeginTxn() error  { return nil }
func (f *fakeAsyncProducer) CommitTxn() error { return nil }
func (f *fakeAsyncProducer) AbortTxn() error  { return nil }
func (f *fakeAsyncProducer) AddOffsetsToTxn(map[string][]*sarama.PartitionOffsetMetadata, string) error {
	return nil
}
func (f *fakeAsyncProducer) AddMessageToTxn(*sarama.ConsumerMessage, string, *string) error {
	return nil
}

func newTestPublisher(t *testing.T) (*EventPublisher, *fakeAsyncProducer) {
	t.Helper()

	fake := newFakeAsyncProducer()
	producer := &Producer{
		producer: fake,
		logger:   zaptest.NewLogger(t),
		cfg:      config.KafkaSettings{TopicPrefix: "presence"},
		errChan:  make(chan error, 1),
		done:     make(chan struct{}),
	}

	appCfg := config.AppSettings{Name: "who-is-using-the-server", Env: "test"}
	return NewEventPublisher(producer, appCfg, zaptest.NewLogger(t)), fake
}

func decodeEnvelope(t *testing.T, msg *sarama.ProducerMessage) eventEnvelope {
	t.Helper()

	raw, err := msg.Value.Encode()
	if err != nil {
		t.Fatalf("encode message value: %v", err)
	}
	var envelope eventEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return envelope
}

func TestPublishSessionStarted(t *testing.T) {
	publisher, fake := newTestPublisher(t)
	startedAt := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	err := publisher.PublishSessionStarted(context.Background(), domain.SessionStartedEvent{
		EventID:   "evt-1",
		ServerID:  "srv1",
		Username:  "alice",
		SessionID: "sess-1",
		StartedAt: startedAt,
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	msg := <-fake.input
	if msg.Topic != "presence.session.started" {
		t.Fatalf("unexpected topic %q", msg.Topic)
	}
	key, _ := msg.Key.Encode()
	if string(key) != "srv1" {
		t.Fatalf("expected key srv1, got %q", key)
	}

	envelope := decodeEnvelope(t, msg)
	if envelope.EventID != "evt-1" {
		t.Fatalf("unexpected event id %q", envelope.EventID)
	}
	if envelope.EventType != "presence.session.started" {
		t.Fatalf("unexpected event type %q", envelope.EventType)
	}
	if envelope.Version != schemaVersion {
		t.Fatalf("unexpected version %q", envelope.Version)
	}
	if envelope.Metadata["service"] != "who-is-using-the-server" || envelope.Metadata["environment"] != "test" {
		t.Fatalf("unexpected metadata %v", envelope.Metadata)
	}

	payload, ok := envelope.Payload.(map[string]any)
	if !ok {
		t.Fatalf("unexpected payload shape %T", envelope.Payload)
	}
	if payload["username"] != "alice" || payload["server_id"] != "srv1" || payload["session_id"] != "sess-1" {
		t.Fatalf("unexpected payload %v", payload)
	}
}

func TestPublishSessionEnded(t *testing.T) {
	publisher, fake := newTestPublisher(t)
	endedAt := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	err := publisher.PublishSessionEnded(context.Background(), domain.SessionEndedEvent{
		EventID:  "evt-2",
		ServerID: "srv1",
		Username: "alice",
		Reason:   domain.ReasonTimeout,
		Duration: 90 * time.Second,
		EndedAt:  endedAt,
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	msg := <-fake.input
	if msg.Topic != "presence.session.ended" {
		t.Fatalf("unexpected topic %q", msg.Topic)
	}

	envelope := decodeEnvelope(t, msg)
	payload := envelope.Payload.(map[string]any)
	if payload["reason"] != "timeout" {
		t.Fatalf("unexpected reason %v", payload["reason"])
	}
	if payload["duration_seconds"] != float64(90) {
		t.Fatalf("unexpected duration %v", payload["duration_seconds"])
	}
}

func TestPublishServerFreed(t *testing.T) {
	publisher, fake := newTestPublisher(t)
	freedAt := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	err := publisher.PublishServerFreed(context.Background(), domain.ServerFreedEvent{
		ServerID: "srv1",
		FreedAt:  freedAt,
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	msg := <-fake.input
	if msg.Topic != "presence.server.freed" {
		t.Fatalf("unexpected topic %q", msg.Topic)
	}

	envelope := decodeEnvelope(t, msg)
	if envelope.EventID == "" {
		t.Fatalf("expected a generated event id")
	}
	payload := envelope.Payload.(map[string]any)
	if payload["server_id"] != "srv1" {
		t.Fatalf("unexpected payload %v", payload)
	}
}

func TestPublishHonoursContextCancellation(t *testing.T) {
	fake := newFakeAsyncProducer()
	// Unbuffered input so the publish blocks until the context dies.
	fake.input = make(chan *sarama.ProducerMessage)

	producer := &Producer{
		producer: fake,
		logger:   zaptest.NewLogger(t),
		cfg:      config.KafkaSettings{TopicPrefix: "presence"},
		errChan:  make(chan error, 1),
		done:     make(chan struct{}),
	}
	publisher := NewEventPublisher(producer, config.AppSettings{}, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := publisher.PublishServerFreed(ctx, domain.ServerFreedEvent{ServerID: "srv1"})
	if err == nil {
		t.Fatalf("expected context error")
	}
}

func TestTopicNamePrefixing(t *testing.T) {
	producer := &Producer{cfg: config.KafkaSettings{TopicPrefix: "presence"}}

	if got := producer.TopicName("session.started"); got != "presence.session.started" {
		t.Fatalf("unexpected topic %q", got)
	}
	if got := producer.TopicName("presence.session.started"); got != "presence.session.started" {
		t.Fatalf("double prefixing: %q", got)
	}

	bare := &Producer{cfg: config.KafkaSettings{}}
	if got := bare.TopicName("session.started"); got != "session.started" {
		t.Fatalf("unexpected topic without prefix: %q", got)
	}
}
