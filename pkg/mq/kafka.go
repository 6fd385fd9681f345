// Package mq provides a Kafka producer used by the outbox relay.
package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/consigfacil/creditengine/pkg/logger"
)

// KafkaConfig configures the producer.
type KafkaConfig struct {
	Brokers      []string
	MaxRetries   int
	RetryBackoff int // milliseconds
}

// KafkaProducer publishes messages with all-replica acks.
type KafkaProducer struct {
	writer *kafka.Writer
	config KafkaConfig
}

// NewProducer creates a Kafka producer.
func NewProducer(cfg KafkaConfig) (*KafkaProducer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		AllowAutoTopicCreation: true,
		Compression:            kafka.Gzip,
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            cfg.MaxRetries,
		WriteBackoffMin:        time.Duration(cfg.RetryBackoff) * time.Millisecond,
		WriteBackoffMax:        time.Duration(cfg.RetryBackoff*10) * time.Millisecond,
	}

	logger.Info(context.Background(), "kafka producer created", "brokers", cfg.Brokers)
	return &KafkaProducer{writer: writer, config: cfg}, nil
}

// SendMessage publishes a single JSON-encoded message.
func (kp *KafkaProducer) SendMessage(ctx context.Context, topic, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return kp.SendRaw(ctx, topic, key, data)
}

// SendRaw publishes an already-encoded payload.
func (kp *KafkaProducer) SendRaw(ctx context.Context, topic, key string, payload []byte) error {
	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: payload,
	}
	if err := kp.writer.WriteMessages(ctx, msg); err != nil {
		logger.Error(ctx, "failed to send kafka message", "topic", topic, "key", key, "error", err)
		return err
	}
	logger.Debug(ctx, "kafka message sent", "topic", topic, "key", key)
	return nil
}

// Close flushes and closes the writer.
func (kp *KafkaProducer) Close() error {
	return kp.writer.Close()
}
