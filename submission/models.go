package submission

import "time"

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusRevised  Status = "revised"
)

// Submission is a unit of delivered work against an in-progress job.
type Submission struct {
	ID          int64
	JobID       int64
	Freelancer  string
	WorkRef     string
	CommentRef  string
	Status      Status
	SubmittedAt time.Time
}

var transitions = map[Status][]Status{
	StatusPending:  {StatusApproved, StatusRejected, StatusRevised},
	StatusRevised:  {StatusApproved, StatusRejected},
	StatusRejected: {StatusRevised},
}

// CanTransition reports whether a submission may move from one status to another.
// Approved is terminal.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
