package job

import "time"

type Status string

const (
	StatusPosted     Status = "posted"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusDisputed   Status = "disputed"
)

// Job mirrors the jobs table. Escrowed is the custody balance held for the
// job; it equals Budget until payout or refund zeroes it.
type Job struct {
	ID          int64
	Client      string
	ContentRef  string
	Budget      int64
	Escrowed    int64
	Deadline    time.Time
	Freelancer  *string
	Status      Status
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// HiredFreelancer returns the hired freelancer or "" before hiring.
func (j Job) HiredFreelancer() string {
	if j.Freelancer == nil {
		return ""
	}
	return *j.Freelancer
}

// Active reports whether the job can still change budget or deadline.
func (j Job) Active() bool {
	return j.Status == StatusPosted || j.Status == StatusInProgress
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

var transitions = map[Status][]Status{
	StatusPosted:     {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusDisputed},
	StatusDisputed:   {StatusCompleted},
}

// CanTransition reports whether from -> to is an edge of the job lifecycle.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
