package dispute

import "time"

// Status represents the lifecycle of a dispute record.
type Status string

const (
	StatusUnderReview Status = "under_review"
	StatusResolved    Status = "resolved"
)

// Subject names the kind of entity under dispute.
type Subject string

const (
	SubjectJob    Subject = "job"
	SubjectEscrow Subject = "escrow"
)

// Record mirrors the disputes table.
type Record struct {
	ID         string
	Subject    Subject
	SubjectID  int64
	Initiator  string
	Status     Status
	Winner     *string
	ResolvedBy *string
	CreatedAt  time.Time
	ResolvedAt *time.Time
}
