// Package consumer provides the Kafka reader for document queues.
package consumer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	kafkautil "github.com/adamstauffer/cyphon/pkg/kafka"
)

// Message is a raw document payload read from a queue.
type Message struct {
	Value       []byte
	ContentType string
	Raw         *kafka.Message // for offset tracking
}

// Consumer wraps a Kafka reader for one document topic.
type Consumer struct {
	reader *kafka.Reader
	topic  string
}

// NewConsumer creates a new Kafka consumer with the specified brokers, topic, and group ID.
// Offsets are committed only through CommitMessage (at-least-once).
func NewConsumer(brokers string, topic string, groupID string) (*Consumer, error) {
	if err := kafkautil.ValidateConsumerParams(brokers, topic, groupID); err != nil {
		return nil, err
	}

	brokerList := kafkautil.ParseBrokers(brokers)

	slog.Info("Initializing Kafka consumer",
		"brokers", brokerList,
		"topic", topic,
		"group_id", groupID,
	)

	reader := kafka.NewReader(kafkautil.NewReaderConfig(brokerList, topic, groupID))

	return &Consumer{
		reader: reader,
		topic:  topic,
	}, nil
}

// ReadMessage fetches the next message without committing it.
func (c *Consumer) ReadMessage(ctx context.Context) (*Message, error) {
	msg, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read message from Kafka: %w", err)
	}
	return newMessage(msg), nil
}

func newMessage(msg kafka.Message) *Message {
	return &Message{
		Value:       msg.Value,
		ContentType: kafkautil.HeaderValue(msg.Headers, kafkautil.ContentTypeHeader),
		Raw:         &msg,
	}
}

// CommitMessage commits the offset for the given message.
// This should be called after the message has been handled.
func (c *Consumer) CommitMessage(ctx context.Context, msg *Message) error {
	if msg == nil || msg.Raw == nil {
		return nil
	}
	return c.reader.CommitMessages(ctx, *msg.Raw)
}

// Close gracefully closes the Kafka reader and releases resources.
func (c *Consumer) Close() error {
	slog.Info("Closing Kafka consumer", "topic", c.topic)
	if err := c.reader.Close(); err != nil {
		slog.Error("Error closing Kafka consumer", "error", err)
		return err
	}
	slog.Info("Kafka consumer closed successfully")
	return nil
}
