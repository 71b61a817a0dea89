package dispute

import (
	"context"
	"time"

	"escrowflow/fault"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Service keeps the audit record of disputes raised against jobs and escrow
// accounts. The owning component performs the state transition; the service
// only records who opened and who settled it.
type Service struct {
	repo  Repository
	now   func() time.Time
	newID func() string
}

func NewService(repo Repository) *Service {
	if repo == nil {
		repo = NewRepository()
	}
	return &Service{repo: repo, now: time.Now, newID: func() string { return uuid.NewString() }}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.newID = gen
	return s
}

func (s *Service) Open(ctx context.Context, tx pgx.Tx, subject Subject, subjectID int64, initiator string) (Record, error) {
	if subject != SubjectJob && subject != SubjectEscrow {
		return Record{}, fault.Validation("dispute", nil, "unknown subject %q", subject)
	}
	rec := Record{
		ID:        s.newID(),
		Subject:   subject,
		SubjectID: subjectID,
		Initiator: initiator,
		Status:    StatusUnderReview,
		CreatedAt: s.now(),
	}
	if err := s.repo.Insert(ctx, tx, rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (s *Service) Resolve(ctx context.Context, tx pgx.Tx, subject Subject, subjectID int64, winner, resolvedBy string) (Record, error) {
	rec, err := s.repo.GetOpen(ctx, tx, subject, subjectID)
	if err != nil {
		return Record{}, err
	}
	at := s.now()
	rec.Status = StatusResolved
	rec.Winner = &winner
	rec.ResolvedBy = &resolvedBy
	rec.ResolvedAt = &at
	if err := s.repo.Update(ctx, tx, rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// List returns a subject's disputes, newest first.
func (s *Service) List(ctx context.Context, tx pgx.Tx, subject Subject, subjectID int64) ([]Record, error) {
	return s.repo.List(ctx, tx, subject, subjectID)
}
