package producer

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/adamstauffer/cyphon/internal/document"
	kafkautil "github.com/adamstauffer/cyphon/pkg/kafka"
)

// Encoding selects the payload format of published documents.
type Encoding string

const (
	EncodingJSON     Encoding = "json"
	EncodingProtobuf Encoding = "protobuf"
)

// ParseEncoding validates an encoding name.
func ParseEncoding(s string) (Encoding, error) {
	switch e := Encoding(s); e {
	case EncodingJSON, EncodingProtobuf:
		return e, nil
	default:
		return "", fmt.Errorf("unknown encoding: %s", s)
	}
}

// DocumentProducer publishes documents to a document queue.
type DocumentProducer struct {
	writer   *kafka.Writer
	topic    string
	encoding Encoding
}

// NewDocumentProducer creates a producer for the documents topic.
func NewDocumentProducer(brokers, topic string, encoding Encoding) (*DocumentProducer, error) {
	if err := kafkautil.ValidateProducerParams(brokers, topic); err != nil {
		return nil, err
	}
	if _, err := ParseEncoding(string(encoding)); err != nil {
		return nil, err
	}

	brokerList := kafkautil.ParseBrokers(brokers)
	slog.Info("Initializing Kafka document producer",
		"brokers", brokerList,
		"topic", topic,
		"encoding", encoding,
	)

	return &DocumentProducer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokerList...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			WriteTimeout: kafkautil.WriteTimeout,
			RequiredAcks: kafka.RequireOne,
			Async:        false,
		},
		topic:    topic,
		encoding: encoding,
	}, nil
}

// buildDocumentMessage encodes doc and keys it by a hash of its id so documents
// spread evenly across partitions.
func buildDocumentMessage(doc *document.Document, encoding Encoding) (kafka.Message, error) {
	var (
		payload     []byte
		contentType string
		err         error
	)
	switch encoding {
	case EncodingProtobuf:
		payload, err = document.EncodeProtobuf(doc)
		contentType = document.ContentTypeProtobuf
	default:
		payload, err = document.Encode(doc)
		contentType = document.ContentTypeJSON
	}
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to encode document %s: %w", doc.DocID, err)
	}

	return kafka.Message{
		Key:   hashDocID(doc.DocID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: kafkautil.ContentTypeHeader, Value: []byte(contentType)},
			{Key: "collection", Value: []byte(doc.Collection)},
		},
		Time: time.Now(),
	}, nil
}

func hashDocID(docID string) []byte {
	hash := sha256.Sum256([]byte(docID))
	return hash[:16]
}

// Publish encodes and writes one document.
func (p *DocumentProducer) Publish(ctx context.Context, doc *document.Document) error {
	msg, err := buildDocumentMessage(doc, p.encoding)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write message to Kafka: %w", err)
	}
	return nil
}

// Close gracefully closes the Kafka writer and releases resources.
func (p *DocumentProducer) Close() error {
	slog.Info("Closing Kafka document producer", "topic", p.topic)
	if err := p.writer.Close(); err != nil {
		slog.Error("Error closing Kafka document producer", "error", err)
		return err
	}
	return nil
}
