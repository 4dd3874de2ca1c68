package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"sn-go/internal/config"
	"sn-go/internal/kafka"
)

// kafkaSink publishes notification events to the relationship events topic.
// The recipient id is the partition key so one user's notifications stay ordered.
type kafkaSink struct {
	producer kafka.MessageProducer
	topic    string
}

// NewKafkaSink creates a Sink backed by the Kafka notifications topic.
func NewKafkaSink(producer kafka.MessageProducer, cfg config.KafkaConfig) Sink {
	return &kafkaSink{producer: producer, topic: cfg.NotificationsTopic}
}

func (s *kafkaSink) Emit(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal notification event: %w", err)
	}
	key := []byte(fmt.Sprintf("%d", event.RecipientID))
	if err := s.producer.SendMessage(ctx, s.topic, key, payload); err != nil {
		return fmt.Errorf("failed to publish notification event to topic %s: %w", s.topic, err)
	}
	return nil
}
