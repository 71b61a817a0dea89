package escrow

import "time"

type Status string

const (
	StatusActive   Status = "active"
	StatusReleased Status = "released"
	StatusRefunded Status = "refunded"
	StatusDisputed Status = "disputed"
)

// Account holds funds for one job outside the job ledger's own custody.
type Account struct {
	JobID      int64
	Balance    int64
	Client     string
	Freelancer string
	Status     Status
	CreatedAt  time.Time
	ReleasedAt *time.Time
}

var transitions = map[Status][]Status{
	StatusActive:   {StatusReleased, StatusRefunded, StatusDisputed},
	StatusDisputed: {StatusReleased},
}

func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
