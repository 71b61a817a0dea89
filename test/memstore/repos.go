package memstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"escrowflow/capability"
	"escrowflow/dispute"
	"escrowflow/escrow"
	"escrowflow/fault"
	"escrowflow/job"
	"escrowflow/ledger"
	"escrowflow/outbox"
	"escrowflow/proposal"
	"escrowflow/registry"
	"escrowflow/submission"

	"github.com/jackc/pgx/v5"
)

type JobRepo struct{}

func (JobRepo) Create(ctx context.Context, tx pgx.Tx, j job.Job) (job.Job, error) {
	st := stateOf(tx)
	j.ID = st.jobSeq
	st.jobSeq++
	st.jobs[j.ID] = j
	return j, nil
}

func (JobRepo) Get(ctx context.Context, tx pgx.Tx, id int64) (job.Job, error) {
	j, ok := stateOf(tx).jobs[id]
	if !ok {
		return job.Job{}, fault.NotFound("job", id)
	}
	return j, nil
}

func (r JobRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, id int64) (job.Job, error) {
	return r.Get(ctx, tx, id)
}

func (JobRepo) Update(ctx context.Context, tx pgx.Tx, j job.Job) error {
	st := stateOf(tx)
	if _, ok := st.jobs[j.ID]; !ok {
		return fault.NotFound("job", j.ID)
	}
	if j.Status.Terminal() && j.Escrowed != 0 {
		return fmt.Errorf("memstore: terminal job %d still holds %d", j.ID, j.Escrowed)
	}
	st.jobs[j.ID] = j
	return nil
}

func (JobRepo) MarkProposal(ctx context.Context, tx pgx.Tx, jobID int64, freelancer string, at time.Time) error {
	st := stateOf(tx)
	key := markKey{jobID, freelancer}
	if _, ok := st.marks[key]; ok {
		return fault.AlreadyExists("job", jobID, "%s already proposed", freelancer)
	}
	st.marks[key] = at
	return nil
}

func (JobRepo) HasProposal(ctx context.Context, tx pgx.Tx, jobID int64, freelancer string) (bool, error) {
	_, ok := stateOf(tx).marks[markKey{jobID, freelancer}]
	return ok, nil
}

type ProposalRepo struct{}

func (ProposalRepo) Create(ctx context.Context, tx pgx.Tx, p proposal.Proposal) (proposal.Proposal, error) {
	st := stateOf(tx)
	for _, existing := range st.proposals {
		if existing.JobID == p.JobID && existing.Freelancer == p.Freelancer {
			return proposal.Proposal{}, fault.AlreadyExists("proposal", nil, "%s already proposed on job %d", p.Freelancer, p.JobID)
		}
	}
	st.proposalSeq++
	p.ID = st.proposalSeq
	st.proposals[p.ID] = p
	return p, nil
}

func (ProposalRepo) Get(ctx context.Context, tx pgx.Tx, id int64) (proposal.Proposal, error) {
	p, ok := stateOf(tx).proposals[id]
	if !ok {
		return proposal.Proposal{}, fault.NotFound("proposal", id)
	}
	return p, nil
}

func (r ProposalRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, id int64) (proposal.Proposal, error) {
	return r.Get(ctx, tx, id)
}

func (ProposalRepo) Update(ctx context.Context, tx pgx.Tx, p proposal.Proposal) error {
	st := stateOf(tx)
	if _, ok := st.proposals[p.ID]; !ok {
		return fault.NotFound("proposal", p.ID)
	}
	if p.Status == proposal.StatusAccepted {
		for _, other := range st.proposals {
			if other.ID != p.ID && other.JobID == p.JobID && other.Status == proposal.StatusAccepted {
				return fault.InvalidTransition("proposal", p.ID, "job %d already has an accepted proposal", p.JobID)
			}
		}
	}
	st.proposals[p.ID] = p
	return nil
}

func (ProposalRepo) ListByJob(ctx context.Context, tx pgx.Tx, jobID int64) ([]proposal.Proposal, error) {
	return listProposals(stateOf(tx), func(p proposal.Proposal) bool { return p.JobID == jobID }), nil
}

func (ProposalRepo) ListByFreelancer(ctx context.Context, tx pgx.Tx, freelancer string) ([]proposal.Proposal, error) {
	return listProposals(stateOf(tx), func(p proposal.Proposal) bool { return p.Freelancer == freelancer }), nil
}

func listProposals(st *state, keep func(proposal.Proposal) bool) []proposal.Proposal {
	out := make([]proposal.Proposal, 0, 8)
	for _, p := range st.proposals {
		if keep(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}

type SubmissionRepo struct{}

func (SubmissionRepo) Create(ctx context.Context, tx pgx.Tx, s submission.Submission) (submission.Submission, error) {
	st := stateOf(tx)
	st.submissionSeq++
	s.ID = st.submissionSeq
	st.submissions[s.ID] = s
	return s, nil
}

func (SubmissionRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, jobID, id int64) (submission.Submission, error) {
	s, ok := stateOf(tx).submissions[id]
	if !ok || s.JobID != jobID {
		return submission.Submission{}, fault.NotFound("submission", id)
	}
	return s, nil
}

func (SubmissionRepo) Update(ctx context.Context, tx pgx.Tx, s submission.Submission) error {
	st := stateOf(tx)
	if existing, ok := st.submissions[s.ID]; !ok || existing.JobID != s.JobID {
		return fault.NotFound("submission", s.ID)
	}
	st.submissions[s.ID] = s
	return nil
}

func (SubmissionRepo) ListByJob(ctx context.Context, tx pgx.Tx, jobID int64) ([]submission.Submission, error) {
	out := make([]submission.Submission, 0, 4)
	for _, s := range stateOf(tx).submissions {
		if s.JobID == jobID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

type EscrowRepo struct{}

func (EscrowRepo) Create(ctx context.Context, tx pgx.Tx, a escrow.Account) error {
	st := stateOf(tx)
	if _, ok := st.escrows[a.JobID]; ok {
		return fault.AlreadyExists("escrow", a.JobID, "escrow already exists for job")
	}
	st.escrows[a.JobID] = a
	return nil
}

func (EscrowRepo) Get(ctx context.Context, tx pgx.Tx, jobID int64) (escrow.Account, error) {
	a, ok := stateOf(tx).escrows[jobID]
	if !ok {
		return escrow.Account{}, fault.NotFound("escrow", jobID)
	}
	return a, nil
}

func (r EscrowRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, jobID int64) (escrow.Account, error) {
	return r.Get(ctx, tx, jobID)
}

func (EscrowRepo) Update(ctx context.Context, tx pgx.Tx, a escrow.Account) error {
	st := stateOf(tx)
	if _, ok := st.escrows[a.JobID]; !ok {
		return fault.NotFound("escrow", a.JobID)
	}
	st.escrows[a.JobID] = a
	return nil
}

type DisputeRepo struct{}

func (DisputeRepo) Insert(ctx context.Context, tx pgx.Tx, rec dispute.Record) error {
	st := stateOf(tx)
	for _, r := range st.disputes {
		if r.Subject == rec.Subject && r.SubjectID == rec.SubjectID && r.Status == dispute.StatusUnderReview {
			return fault.AlreadyExists("dispute", rec.SubjectID, "%s already has an open dispute", rec.Subject)
		}
	}
	st.disputes = append(st.disputes, rec)
	return nil
}

func (DisputeRepo) GetOpen(ctx context.Context, tx pgx.Tx, subject dispute.Subject, subjectID int64) (dispute.Record, error) {
	for _, r := range stateOf(tx).disputes {
		if r.Subject == subject && r.SubjectID == subjectID && r.Status == dispute.StatusUnderReview {
			return r, nil
		}
	}
	return dispute.Record{}, fault.NotFound("dispute", fmt.Sprintf("%s/%d", subject, subjectID))
}

func (DisputeRepo) Update(ctx context.Context, tx pgx.Tx, rec dispute.Record) error {
	st := stateOf(tx)
	for i, r := range st.disputes {
		if r.ID == rec.ID {
			st.disputes[i] = rec
			return nil
		}
	}
	return fault.NotFound("dispute", rec.ID)
}

func (DisputeRepo) List(ctx context.Context, tx pgx.Tx, subject dispute.Subject, subjectID int64) ([]dispute.Record, error) {
	st := stateOf(tx)
	out := make([]dispute.Record, 0, 2)
	for i := len(st.disputes) - 1; i >= 0; i-- {
		r := st.disputes[i]
		if r.Subject == subject && r.SubjectID == subjectID {
			out = append(out, r)
		}
	}
	return out, nil
}

type IdentityRepo struct{}

func (IdentityRepo) Create(ctx context.Context, tx pgx.Tx, p registry.Profile) (registry.Profile, error) {
	st := stateOf(tx)
	if _, ok := st.profiles[p.Address]; ok {
		return registry.Profile{}, fault.AlreadyExists("identity", p.Address, "already registered")
	}
	st.profiles[p.Address] = p
	return p, nil
}

func (IdentityRepo) Get(ctx context.Context, tx pgx.Tx, address string) (registry.Profile, error) {
	p, ok := stateOf(tx).profiles[address]
	if !ok {
		return registry.Profile{}, fault.NotFound("identity", address)
	}
	return p, nil
}

func (r IdentityRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, address string) (registry.Profile, error) {
	return r.Get(ctx, tx, address)
}

func (IdentityRepo) Update(ctx context.Context, tx pgx.Tx, p registry.Profile) error {
	st := stateOf(tx)
	if _, ok := st.profiles[p.Address]; !ok {
		return fault.NotFound("identity", p.Address)
	}
	st.profiles[p.Address] = p
	return nil
}

type RoleRepo struct{}

func (RoleRepo) HasRole(ctx context.Context, tx pgx.Tx, address string, role capability.Role) (bool, error) {
	_, ok := stateOf(tx).grants[grantKey{address, string(role)}]
	return ok, nil
}

func (RoleRepo) Grant(ctx context.Context, tx pgx.Tx, address string, role capability.Role, at time.Time) error {
	st := stateOf(tx)
	key := grantKey{address, string(role)}
	if _, ok := st.grants[key]; !ok {
		st.grants[key] = at
	}
	return nil
}

func (RoleRepo) Revoke(ctx context.Context, tx pgx.Tx, address string, role capability.Role) error {
	delete(stateOf(tx).grants, grantKey{address, string(role)})
	return nil
}

func (RoleRepo) Paused(ctx context.Context, tx pgx.Tx) (bool, error) {
	return stateOf(tx).paused, nil
}

func (RoleRepo) SetPaused(ctx context.Context, tx pgx.Tx, paused bool, at time.Time) error {
	stateOf(tx).paused = paused
	return nil
}

type AccountRepo struct {
	store *Store
}

func (AccountRepo) LockAccount(ctx context.Context, tx pgx.Tx, holder string) (ledger.Account, error) {
	st := stateOf(tx)
	a, ok := st.accounts[holder]
	if !ok {
		a = ledger.Account{Holder: holder}
		st.accounts[holder] = a
	}
	return a, nil
}

func (AccountRepo) UpdateBalance(ctx context.Context, tx pgx.Tx, holder string, balance, version int64, at time.Time) error {
	st := stateOf(tx)
	a, ok := st.accounts[holder]
	if !ok || a.Version != version {
		return errors.New("memstore: optimistic lock failed")
	}
	if balance < 0 {
		return fmt.Errorf("memstore: negative balance for %s", holder)
	}
	st.accounts[holder] = ledger.Account{Holder: holder, Balance: balance, Version: version + 1, UpdatedAt: at}
	return nil
}

func (r AccountRepo) AppendEntry(ctx context.Context, tx pgx.Tx, e ledger.Entry) error {
	st := stateOf(tx)
	st.entries = append(st.entries, e)
	if r.store != nil {
		if hook := r.store.entryHook(); hook != nil {
			hook(cloneMap(st.jobs), e)
		}
	}
	return nil
}

func (AccountRepo) Balance(ctx context.Context, tx pgx.Tx, holder string) (int64, error) {
	return stateOf(tx).accounts[holder].Balance, nil
}

type OutboxRepo struct{}

func (OutboxRepo) Insert(ctx context.Context, tx pgx.Tx, msg outbox.Message) error {
	st := stateOf(tx)
	st.outbox = append(st.outbox, msg)
	return nil
}

func (OutboxRepo) ClaimPending(ctx context.Context, tx pgx.Tx, limit int) ([]outbox.Message, error) {
	var out []outbox.Message
	for _, m := range stateOf(tx).outbox {
		if m.Status == outbox.StatusPending && len(out) < limit {
			out = append(out, m)
		}
	}
	return out, nil
}

func (OutboxRepo) MarkProcessed(ctx context.Context, tx pgx.Tx, id string, at time.Time) error {
	return markOutbox(stateOf(tx), id, func(m *outbox.Message) {
		m.Status = outbox.StatusProcessed
		m.Attempts++
		m.LastAttempt = &at
	})
}

func (OutboxRepo) MarkFailed(ctx context.Context, tx pgx.Tx, id string, dead bool, at time.Time) error {
	return markOutbox(stateOf(tx), id, func(m *outbox.Message) {
		m.Attempts++
		m.LastAttempt = &at
		if dead {
			m.Status = outbox.StatusDead
		}
	})
}

func markOutbox(st *state, id string, fn func(*outbox.Message)) error {
	for i := range st.outbox {
		if st.outbox[i].ID == id {
			fn(&st.outbox[i])
			return nil
		}
	}
	return fmt.Errorf("memstore: outbox message %s not found", id)
}
