package events

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type kafkaPublisher struct {
	writer messageWriter
}

// NewKafkaPublisher writes alerts to topic, keyed by patient id so that a
// patient's alerts stay ordered within one partition.
func NewKafkaPublisher(brokers []string, topic string) Publisher {
	return &kafkaPublisher{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		WriteTimeout: 10 * time.Second,
	}}
}

func (p *kafkaPublisher) PublishUrgent(ctx context.Context, evt UrgentSideEffect) error {
	body, err := evt.encode()
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(evt.PatientID.String()),
		Value: body,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(TypeUrgentSideEffect)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka publish: %w", err)
	}
	return nil
}

func (p *kafkaPublisher) Close() error {
	return p.writer.Close()
}
