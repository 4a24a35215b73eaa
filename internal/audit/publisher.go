package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"school-gateway/internal/models"

	"github.com/segmentio/kafka-go"
)

// Event types emitted by the gateway. Event content formatting beyond this
// envelope belongs to the audit consumers, not the gateway.
const (
	EventSessionConnected = "session.connected"
	EventSessionClosed    = "session.closed"
	EventFrameDispatched  = "frame.dispatched"
	EventFrameRejected    = "frame.rejected"
)

// Event is one opaque audit envelope.
type Event struct {
	Type        string      `json:"type"`
	AccountID   string      `json:"accountId"`
	Role        models.Role `json:"role"`
	ConnID      string      `json:"connId"`
	Verb        string      `json:"verb,omitempty"`
	Description string      `json:"description,omitempty"`
	Outcome     string      `json:"outcome,omitempty"`
	At          time.Time   `json:"at"`
}

// Publisher emits audit events off the hot path. Implementations must not
// block frame processing on broker availability.
type Publisher interface {
	Publish(ctx context.Context, event Event)
	Close() error
}

// KafkaPublisher writes events to the audit topic, keyed by account so one
// account's events stay ordered within a partition.
type KafkaPublisher struct {
	writer *kafka.Writer
	logger *slog.Logger
}

func NewKafkaPublisher(brokers []string, topic string, logger *slog.Logger) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...any) {
			logger.Warn("kafka write failed", "detail", msg)
		}),
	}
	return &KafkaPublisher{writer: writer, logger: logger}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event Event) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	data, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("failed to marshal audit event", "error", err)
		return
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.AccountID),
		Value: data,
	})
	if err != nil {
		// Async mode surfaces most failures via ErrorLogger; anything caught
		// here is dropped the same way.
		p.logger.Warn("audit event dropped", "type", event.Type, "error", err)
	}
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NopPublisher discards events; used in tests and broker-less runs.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) {}
func (NopPublisher) Close() error                   { return nil }
