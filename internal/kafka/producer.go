package kafka

import (
	"context"
	"fmt"
	"time"

	"vidflow/internal/logger"

	"github.com/segmentio/kafka-go"
)

type Producer struct {
	Writer *kafka.Writer
	logger *logger.Logger
}

// NewProducer returns a producer that routes each message by its own topic.
func NewProducer(brokers []string, log *logger.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
	}
	return &Producer{Writer: writer, logger: log}
}

func newMessage(topic, key string, value []byte) kafka.Message {
	return kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
		Time:  time.Now().UTC(),
	}
}

// Publish writes one keyed event. Messages with the same key keep their order.
func (p *Producer) Publish(ctx context.Context, topic, key string, value []byte) error {
	if err := p.Writer.WriteMessages(ctx, newMessage(topic, key, value)); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	if p.logger != nil {
		p.logger.LogKafka("PUBLISH", topic, fmt.Sprintf("key=%s bytes=%d", key, len(value)))
	}
	return nil
}

func (p *Producer) Close() error {
	return p.Writer.Close()
}

// NopPublisher drops events. Used when KAFKA_ENABLED is false.
type NopPublisher struct {
	logger *logger.Logger
}

func NewNopPublisher(log *logger.Logger) *NopPublisher {
	return &NopPublisher{logger: log}
}

func (n *NopPublisher) Publish(ctx context.Context, topic, key string, value []byte) error {
	if n.logger != nil {
		n.logger.Debug("KAFKA", fmt.Sprintf("kafka disabled, dropped %s event key=%s", topic, key))
	}
	return nil
}
