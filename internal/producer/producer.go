// Package producer publishes alert.created events to Kafka.
package producer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/adamstauffer/cyphon/internal/events"
	kafkautil "github.com/adamstauffer/cyphon/pkg/kafka"
)

// Producer wraps a Kafka writer. It is an events.Handler, so it can be
// subscribed to the alert bus directly.
type Producer struct {
	writer *kafka.Writer
	topic  string
}

var _ events.Handler = (*Producer)(nil)

// NewProducer creates a new Kafka producer with the specified brokers and topic.
// Writes are synchronous and wait for the leader's ack.
func NewProducer(brokers string, topic string) (*Producer, error) {
	if err := kafkautil.ValidateProducerParams(brokers, topic); err != nil {
		return nil, err
	}

	brokerList := kafkautil.ParseBrokers(brokers)

	slog.Info("Initializing Kafka producer",
		"brokers", brokerList,
		"topic", topic,
	)

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokerList...),
		Topic:        topic,
		Balancer:     &kafka.Hash{}, // partition by watchdog
		WriteTimeout: kafkautil.WriteTimeout,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}

	return &Producer{
		writer: writer,
		topic:  topic,
	}, nil
}

// buildMessage creates a Kafka message keyed by watchdog so that one watchdog's
// alerts stay ordered on a partition.
func buildMessage(evt *events.AlertCreated) (kafka.Message, error) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal alert created event: %w", err)
	}

	return kafka.Message{
		Key:   []byte(evt.Watchdog),
		Value: payload,
		Headers: []kafka.Header{
			{Key: kafkautil.ContentTypeHeader, Value: []byte("application/json")},
			{Key: "schema_version", Value: []byte(strconv.Itoa(evt.SchemaVersion))},
			{Key: "alert_id", Value: []byte(evt.AlertID)},
		},
		Time: time.Now(),
	}, nil
}

// HandleAlertCreated implements events.Handler by publishing the event.
func (p *Producer) HandleAlertCreated(ctx context.Context, evt *events.AlertCreated) error {
	return p.Publish(ctx, evt)
}

// Publish serializes an alert created event to JSON and publishes it to Kafka.
func (p *Producer) Publish(ctx context.Context, evt *events.AlertCreated) error {
	msg, err := buildMessage(evt)
	if err != nil {
		return err
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write message to Kafka: %w", err)
	}

	slog.Info("Published alert created event",
		"alert_id", evt.AlertID,
		"watchdog", evt.Watchdog,
		"level", evt.Level,
		"topic", p.topic,
	)
	return nil
}

// Close gracefully closes the Kafka writer and releases resources.
func (p *Producer) Close() error {
	slog.Info("Closing Kafka producer", "topic", p.topic)
	if err := p.writer.Close(); err != nil {
		slog.Error("Error closing Kafka producer", "error", err)
		return err
	}
	slog.Info("Kafka producer closed successfully")
	return nil
}
