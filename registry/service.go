package registry

import (
	"context"
	"errors"
	"time"

	"escrowflow/fault"

	"github.com/jackc/pgx/v5"
)

// Service is the identity registry consumed by the job and proposal ledgers.
// Unknown addresses answer false to every eligibility question rather than
// failing, so callers can turn them into authorization errors.
type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) *Service {
	if repo == nil {
		repo = NewRepository()
	}
	return &Service{repo: repo, now: time.Now}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Register enrolls address as a client or a freelancer. The role is fixed
// for the lifetime of the profile.
func (s *Service) Register(ctx context.Context, tx pgx.Tx, address string, freelancer bool) (Profile, error) {
	if address == "" {
		return Profile{}, fault.Validation("identity", nil, "address required")
	}
	return s.repo.Create(ctx, tx, Profile{
		Address:    address,
		Freelancer: freelancer,
		Active:     true,
		CreatedAt:  s.now(),
	})
}

func (s *Service) Get(ctx context.Context, tx pgx.Tx, address string) (Profile, error) {
	return s.repo.Get(ctx, tx, address)
}

func (s *Service) lookup(ctx context.Context, tx pgx.Tx, address string) (Profile, bool, error) {
	if address == "" {
		return Profile{}, false, nil
	}
	p, err := s.repo.Get(ctx, tx, address)
	if errors.Is(err, fault.ErrNotFound) {
		return Profile{}, false, nil
	}
	if err != nil {
		return Profile{}, false, err
	}
	return p, true, nil
}

func (s *Service) IsRegistered(ctx context.Context, tx pgx.Tx, address string) (bool, error) {
	_, ok, err := s.lookup(ctx, tx, address)
	return ok, err
}

func (s *Service) IsFreelancer(ctx context.Context, tx pgx.Tx, address string) (bool, error) {
	p, ok, err := s.lookup(ctx, tx, address)
	return ok && p.Freelancer, err
}

func (s *Service) IsActive(ctx context.Context, tx pgx.Tx, address string) (bool, error) {
	p, ok, err := s.lookup(ctx, tx, address)
	return ok && p.Active, err
}

func (s *Service) CurrentReputation(ctx context.Context, tx pgx.Tx, address string) (int64, error) {
	p, err := s.repo.Get(ctx, tx, address)
	if err != nil {
		return 0, err
	}
	return p.Reputation, nil
}

// RecordCompletion bumps the completed-jobs counter and adds earnings.
func (s *Service) RecordCompletion(ctx context.Context, tx pgx.Tx, address string, earnings int64) error {
	if earnings < 0 {
		return fault.Validation("identity", address, "negative earnings")
	}
	p, err := s.repo.GetForUpdate(ctx, tx, address)
	if err != nil {
		return err
	}
	p.CompletedJobs++
	p.TotalEarnings += earnings
	return s.repo.Update(ctx, tx, p)
}

func (s *Service) SetActive(ctx context.Context, tx pgx.Tx, address string, active bool) (Profile, error) {
	p, err := s.repo.GetForUpdate(ctx, tx, address)
	if err != nil {
		return Profile{}, err
	}
	p.Active = active
	if err := s.repo.Update(ctx, tx, p); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// Rate adds a 1..5 score from rater to ratee and recomputes reputation.
func (s *Service) Rate(ctx context.Context, tx pgx.Tx, rater, ratee string, score int) (Profile, error) {
	if score < MinScore || score > MaxScore {
		return Profile{}, fault.Validation("identity", ratee, "score %d outside %d..%d", score, MinScore, MaxScore)
	}
	if rater == ratee {
		return Profile{}, fault.Validation("identity", ratee, "cannot rate yourself")
	}
	if ok, err := s.IsRegistered(ctx, tx, rater); err != nil {
		return Profile{}, err
	} else if !ok {
		return Profile{}, fault.Unauthorized("identity", rater, "rater is not registered")
	}

	p, err := s.repo.GetForUpdate(ctx, tx, ratee)
	if err != nil {
		return Profile{}, err
	}
	p.RatingSum += int64(score)
	p.RatingCount++
	p.Reputation = Reputation(p.RatingSum, p.RatingCount)
	if err := s.repo.Update(ctx, tx, p); err != nil {
		return Profile{}, err
	}
	return p, nil
}
