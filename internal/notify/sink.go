package notify

import (
	"context"
	"time"
)

// Event is a fire-and-forget notification submission. The engine emits one
// after both aggregate writes of a relationship change are confirmed; a failed
// emission is logged and never rolls the change back.
type Event struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	RecipientID uint      `json:"recipientId"`
	ActorID     uint      `json:"actorId"`
	Timestamp   time.Time `json:"timestamp"`
}

// Sink accepts notification events for asynchronous delivery.
type Sink interface {
	Emit(ctx context.Context, event Event) error
}
