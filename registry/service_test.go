package registry

import (
	"context"
	"errors"
	"testing"

	"escrowflow/fault"

	"github.com/jackc/pgx/v5"
)

func TestReputation(t *testing.T) {
	cases := []struct {
		sum, count, want int64
	}{
		{0, 0, 0},
		{5, 1, 100},
		{9, 2, 90},
		{1, 1, 20},
		{7, 3, 46},
	}
	for _, tc := range cases {
		if got := Reputation(tc.sum, tc.count); got != tc.want {
			t.Errorf("Reputation(%d,%d): expected %d got %d", tc.sum, tc.count, tc.want, got)
		}
	}
}

func TestService_Eligibility(t *testing.T) {
	svc := NewService(newFakeRepository())
	ctx := context.Background()

	if _, err := svc.Register(ctx, nil, "client-1", false); err != nil {
		t.Fatalf("register client: %v", err)
	}
	if _, err := svc.Register(ctx, nil, "free-1", true); err != nil {
		t.Fatalf("register freelancer: %v", err)
	}
	if _, err := svc.Register(ctx, nil, "free-1", true); !errors.Is(err, fault.ErrAlreadyExists) {
		t.Fatalf("expected duplicate registration to fail, got %v", err)
	}

	if ok, _ := svc.IsFreelancer(ctx, nil, "client-1"); ok {
		t.Fatal("client must not be a freelancer")
	}
	if ok, _ := svc.IsFreelancer(ctx, nil, "free-1"); !ok {
		t.Fatal("expected freelancer")
	}
	if ok, _ := svc.IsRegistered(ctx, nil, "ghost"); ok {
		t.Fatal("unknown address must not be registered")
	}

	if _, err := svc.SetActive(ctx, nil, "free-1", false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if ok, _ := svc.IsActive(ctx, nil, "free-1"); ok {
		t.Fatal("expected inactive freelancer")
	}
}

func TestService_RateTwoScores(t *testing.T) {
	svc := NewService(newFakeRepository())
	ctx := context.Background()
	_, _ = svc.Register(ctx, nil, "client-1", false)
	_, _ = svc.Register(ctx, nil, "client-2", false)
	_, _ = svc.Register(ctx, nil, "free-1", true)

	if _, err := svc.Rate(ctx, nil, "client-1", "free-1", 4); err != nil {
		t.Fatalf("rate 4: %v", err)
	}
	p, err := svc.Rate(ctx, nil, "client-2", "free-1", 5)
	if err != nil {
		t.Fatalf("rate 5: %v", err)
	}
	if p.Reputation != 90 {
		t.Fatalf("expected reputation 90 got %d", p.Reputation)
	}
	rep, _ := svc.CurrentReputation(ctx, nil, "free-1")
	if rep != 90 {
		t.Fatalf("expected stored reputation 90 got %d", rep)
	}

	if _, err := svc.Rate(ctx, nil, "client-1", "free-1", 6); !errors.Is(err, fault.ErrValidation) {
		t.Fatalf("expected validation error for score 6, got %v", err)
	}
	if _, err := svc.Rate(ctx, nil, "ghost", "free-1", 3); !errors.Is(err, fault.ErrUnauthorized) {
		t.Fatalf("expected unregistered rater to be rejected, got %v", err)
	}
}

func TestService_RecordCompletion(t *testing.T) {
	svc := NewService(newFakeRepository())
	ctx := context.Background()
	_, _ = svc.Register(ctx, nil, "free-1", true)

	if err := svc.RecordCompletion(ctx, nil, "free-1", 500); err != nil {
		t.Fatalf("record completion: %v", err)
	}
	if err := svc.RecordCompletion(ctx, nil, "free-1", 250); err != nil {
		t.Fatalf("record completion: %v", err)
	}
	p, _ := svc.Get(ctx, nil, "free-1")
	if p.CompletedJobs != 2 || p.TotalEarnings != 750 {
		t.Fatalf("unexpected counters %+v", p)
	}
	if err := svc.RecordCompletion(ctx, nil, "ghost", 1); !errors.Is(err, fault.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

type fakeRepository struct {
	profiles map[string]Profile
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{profiles: map[string]Profile{}}
}

func (f *fakeRepository) Create(ctx context.Context, tx pgx.Tx, p Profile) (Profile, error) {
	if _, ok := f.profiles[p.Address]; ok {
		return Profile{}, fault.AlreadyExists("identity", p.Address, "already registered")
	}
	f.profiles[p.Address] = p
	return p, nil
}

func (f *fakeRepository) Get(ctx context.Context, tx pgx.Tx, address string) (Profile, error) {
	p, ok := f.profiles[address]
	if !ok {
		return Profile{}, fault.NotFound("identity", address)
	}
	return p, nil
}

func (f *fakeRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, address string) (Profile, error) {
	return f.Get(ctx, tx, address)
}

func (f *fakeRepository) Update(ctx context.Context, tx pgx.Tx, p Profile) error {
	if _, ok := f.profiles[p.Address]; !ok {
		return fault.NotFound("identity", p.Address)
	}
	f.profiles[p.Address] = p
	return nil
}
