package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Writer enqueues events inside the caller's transaction, so an event exists
// exactly when the state change that produced it commits.
type Writer struct {
	repo        Repository
	idGenerator func() string
	now         func() time.Time
}

func NewWriter(repo Repository) *Writer {
	if repo == nil {
		repo = NewRepository()
	}
	return &Writer{
		repo:        repo,
		idGenerator: func() string { return uuid.NewString() },
		now:         time.Now,
	}
}

func (w *Writer) WithClock(now func() time.Time) *Writer {
	w.now = now
	return w
}

func (w *Writer) WithIDGenerator(gen func() string) *Writer {
	w.idGenerator = gen
	return w
}

func (w *Writer) Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	if topic == "" {
		return fmt.Errorf("outbox: empty topic")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("outbox: encode payload: %w", err)
	}
	return w.repo.Insert(ctx, tx, Message{
		ID:        w.idGenerator(),
		Topic:     topic,
		Payload:   body,
		Status:    StatusPending,
		CreatedAt: w.now(),
	})
}
