package registry

import "time"

// Profile captures the registry view of a marketplace participant.
type Profile struct {
	Address       string
	Freelancer    bool
	Active        bool
	Reputation    int64
	CompletedJobs int64
	TotalEarnings int64
	RatingSum     int64
	RatingCount   int64
	CreatedAt     time.Time
}

// Reputation maps the rating aggregate onto 0..100: sum*100/(count*5),
// truncated. No ratings yields zero.
func Reputation(sum, count int64) int64 {
	if count <= 0 {
		return 0
	}
	return sum * 100 / (count * 5)
}

const (
	MinScore = 1
	MaxScore = 5
)
