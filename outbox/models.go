package outbox

import (
	"encoding/json"
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusProcessed Status = "processed"
	StatusDead      Status = "dead"
)

// Message is a domain event recorded in the same transaction as the state
// change it describes.
type Message struct {
	ID          string
	Topic       string
	Payload     json.RawMessage
	Status      Status
	Attempts    int
	CreatedAt   time.Time
	LastAttempt *time.Time
}
