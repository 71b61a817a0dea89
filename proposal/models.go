package proposal

import "time"

type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusRejected  Status = "rejected"
	StatusWithdrawn Status = "withdrawn"
)

// Proposal is a freelancer's bid on a posted job.
type Proposal struct {
	ID           int64
	JobID        int64
	Freelancer   string
	Bid          int64
	ContentRef   string
	DeliveryTime time.Time
	Status       Status
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
