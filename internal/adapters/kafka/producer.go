// Package kafka publishes outbox messages with a sarama sync producer.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/fitstack/membership-payments/internal/outbox"
	"github.com/fitstack/membership-payments/internal/platform/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

// Producer publishes outbox messages with a sarama sync producer.
type Producer struct {
	syncProducer sarama.SyncProducer
	logger       *zap.Logger
}

// NewProducer dials brokers and waits for all in-sync replicas on each send.
func NewProducer(brokers []string, logger *zap.Logger) (*Producer, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1
	config.Version = sarama.V2_8_0_0

	p, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("error creating producer: %w", err)
	}

	return NewProducerFrom(p, logger), nil
}

// NewProducerFrom wraps an existing sarama producer.
func NewProducerFrom(p sarama.SyncProducer, logger *zap.Logger) *Producer {
	return &Producer{syncProducer: p, logger: logger}
}

// ProduceMessage sends msg keyed by its aggregate id so that all events for
// one payment land on the same partition. Trace context travels in headers.
func (p *Producer) ProduceMessage(ctx context.Context, topic string, msg outbox.Message) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	headers := make([]sarama.RecordHeader, 0, len(carrier)+1)
	headers = append(headers, sarama.RecordHeader{Key: []byte("event_type"), Value: []byte(msg.Event)})
	for k, v := range carrier {
		headers = append(headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}

	pm := &sarama.ProducerMessage{
		Topic:   topic,
		Value:   sarama.ByteEncoder(value),
		Headers: headers,
	}
	if msg.Key != "" {
		pm.Key = sarama.StringEncoder(msg.Key)
	}

	partition, offset, err := p.syncProducer.SendMessage(pm)
	if err != nil {
		return fmt.Errorf("error sending message: %w", err)
	}

	logging.Debug(ctx, p.logger, "message sent",
		zap.String("topic", topic),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
	)

	return nil
}

// Close closes the underlying producer.
func (p *Producer) Close() error {
	return p.syncProducer.Close()
}
