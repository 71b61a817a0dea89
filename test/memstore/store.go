// Package memstore is an in-memory, transactional implementation of every
// repository the marketplace engine uses. Transactions are serialized: Begin
// takes the store lock and works on a copy that Commit installs.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"escrowflow/dispute"
	"escrowflow/escrow"
	"escrowflow/job"
	"escrowflow/ledger"
	"escrowflow/marketplace"
	"escrowflow/outbox"
	"escrowflow/proposal"
	"escrowflow/registry"
	"escrowflow/submission"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"
)

type markKey struct {
	job        int64
	freelancer string
}

type grantKey struct {
	address string
	role    string
}

type state struct {
	jobs          map[int64]job.Job
	jobSeq        int64
	marks         map[markKey]time.Time
	proposals     map[int64]proposal.Proposal
	proposalSeq   int64
	submissions   map[int64]submission.Submission
	submissionSeq int64
	escrows       map[int64]escrow.Account
	disputes      []dispute.Record
	profiles      map[string]registry.Profile
	grants        map[grantKey]time.Time
	paused        bool
	accounts      map[string]ledger.Account
	entries       []ledger.Entry
	outbox        []outbox.Message
}

func newState() *state {
	return &state{
		jobs:        map[int64]job.Job{},
		marks:       map[markKey]time.Time{},
		proposals:   map[int64]proposal.Proposal{},
		submissions: map[int64]submission.Submission{},
		escrows:     map[int64]escrow.Account{},
		profiles:    map[string]registry.Profile{},
		grants:      map[grantKey]time.Time{},
		accounts:    map[string]ledger.Account{},
	}
}

func (s *state) clone() *state {
	c := *s
	c.jobs = cloneMap(s.jobs)
	c.marks = cloneMap(s.marks)
	c.proposals = cloneMap(s.proposals)
	c.submissions = cloneMap(s.submissions)
	c.escrows = cloneMap(s.escrows)
	c.profiles = cloneMap(s.profiles)
	c.grants = cloneMap(s.grants)
	c.accounts = cloneMap(s.accounts)
	c.disputes = append([]dispute.Record(nil), s.disputes...)
	c.entries = append([]ledger.Entry(nil), s.entries...)
	c.outbox = append([]outbox.Message(nil), s.outbox...)
	return &c
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// EntryHook observes each ledger entry as it is appended, together with the
// job rows visible to the same transaction.
type EntryHook func(jobs map[int64]job.Job, e ledger.Entry)

type Store struct {
	mu      sync.Mutex
	current *state
	hookMu  sync.Mutex
	hook    EntryHook
}

func New() *Store {
	return &Store{current: newState()}
}

func (s *Store) SetEntryHook(h EntryHook) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	s.hook = h
}

func (s *Store) entryHook() EntryHook {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	return s.hook
}

// Begin blocks until no other transaction is open.
func (s *Store) Begin(ctx context.Context) (pgx.Tx, error) {
	s.mu.Lock()
	return &Tx{store: s, st: s.current.clone()}, nil
}

// Deps wires the store into a marketplace engine.
func (s *Store) Deps(log logrus.FieldLogger) marketplace.Deps {
	return marketplace.Deps{
		Pool:        s,
		Jobs:        JobRepo{},
		Proposals:   ProposalRepo{},
		Submissions: SubmissionRepo{},
		Escrows:     EscrowRepo{},
		Disputes:    DisputeRepo{},
		Identities:  IdentityRepo{},
		Roles:       RoleRepo{},
		Accounts:    AccountRepo{store: s},
		Outbox:      OutboxRepo{},
		Logger:      log,
	}
}

func (s *Store) read(fn func(st *state)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.current)
}

// Topics lists committed outbox topics in insertion order.
func (s *Store) Topics() []string {
	var out []string
	s.read(func(st *state) {
		for _, m := range st.outbox {
			out = append(out, m.Topic)
		}
	})
	return out
}

func (s *Store) Entries() []ledger.Entry {
	var out []ledger.Entry
	s.read(func(st *state) { out = append(out, st.entries...) })
	return out
}

// Jobs returns committed jobs ordered by id.
func (s *Store) Jobs() []job.Job {
	var out []job.Job
	s.read(func(st *state) {
		for _, j := range st.jobs {
			out = append(out, j)
		}
	})
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}

// Tx is a store transaction. Only Commit and Rollback are implemented.
type Tx struct {
	pgx.Tx
	store *Store
	st    *state
	done  bool
}

func (t *Tx) Commit(ctx context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.store.current = t.st
	t.store.mu.Unlock()
	return nil
}

func (t *Tx) Rollback(ctx context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.store.mu.Unlock()
	return nil
}

func stateOf(tx pgx.Tx) *state {
	t, ok := tx.(*Tx)
	if !ok || t.done {
		panic("memstore: repository used outside an open memstore transaction")
	}
	return t.st
}
