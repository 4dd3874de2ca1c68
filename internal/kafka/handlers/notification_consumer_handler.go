package kafkahandlers

import (
	"context"
	"encoding/json"
	"log"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"sn-go/internal/models"
	"sn-go/internal/notify"
	"sn-go/internal/storage"
)

// NotificationConsumerLogic persists relationship events from the
// notifications topic into the per-user inbox. Malformed messages are skipped
// (offset committed); store errors are returned so the message is retried.
type NotificationConsumerLogic struct {
	notifications storage.NotificationRepository
}

// NewNotificationConsumerLogic creates a new instance of NotificationConsumerLogic.
func NewNotificationConsumerLogic(repo storage.NotificationRepository) *NotificationConsumerLogic {
	if repo == nil {
		log.Panic("NotificationRepository cannot be nil")
	}
	return &NotificationConsumerLogic{notifications: repo}
}

// HandleEvent is the MessageHandler passed to the Kafka consumer.
func (h *NotificationConsumerLogic) HandleEvent(ctx context.Context, msg *kafka.Message) error {
	var event notify.Event
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		log.Printf("Error unmarshalling notification event (Value: '%s'): %v. This message will be skipped.", string(msg.Value), err)
		return nil
	}

	n := &models.Notification{
		RecipientID: event.RecipientID,
		ActorID:     event.ActorID,
		Type:        event.Type,
	}
	if err := h.notifications.Create(ctx, n); err != nil {
		log.Printf("Error saving notification (%s, actor %d -> recipient %d): %v",
			event.Type, event.ActorID, event.RecipientID, err)
		return err // Retryable
	}

	log.Printf("Notification %s stored for recipient %d (actor %d)", event.Type, event.RecipientID, event.ActorID)
	return nil
}
