package marketplace_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"escrowflow/capability"
	"escrowflow/dispute"
	"escrowflow/escrow"
	"escrowflow/fault"
	"escrowflow/job"
	"escrowflow/ledger"
	"escrowflow/marketplace"
	"escrowflow/proposal"
	"escrowflow/submission"
	"escrowflow/test/memstore"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

var t0 = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

type harness struct {
	store  *memstore.Store
	engine *marketplace.Engine
	logs   *test.Hook
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	store := memstore.New()
	log, hook := test.NewNullLogger()
	var seq atomic.Int64
	eng, err := marketplace.New(store.Deps(log), marketplace.Options{
		Now:   func() time.Time { return t0 },
		NewID: func() string { return fmt.Sprintf("id-%d", seq.Add(1)) },
	})
	require.NoError(t, err)
	require.NoError(t, eng.Bootstrap(ctx, []string{"admin"}))

	_, err = eng.RegisterIdentity(ctx, "client", false)
	require.NoError(t, err)
	for _, f := range []string{"alice", "bob", "carol"} {
		_, err := eng.RegisterIdentity(ctx, f, true)
		require.NoError(t, err)
	}
	_, err = eng.Mint(ctx, "admin", "client", 5000)
	require.NoError(t, err)
	hook.Reset()
	return &harness{store: store, engine: eng, logs: hook}
}

func (h *harness) postJob(t *testing.T, budget int64) job.Job {
	t.Helper()
	j, err := h.engine.CreateJob(context.Background(), "client", job.CreateParams{
		ContentRef: "ipfs://job",
		Budget:     budget,
		Deadline:   t0.Add(30 * 24 * time.Hour),
	})
	require.NoError(t, err)
	return j
}

func (h *harness) propose(t *testing.T, jobID int64, freelancer string, bid int64) proposal.Proposal {
	t.Helper()
	p, err := h.engine.SubmitProposal(context.Background(), freelancer, proposal.SubmitParams{
		JobID:        jobID,
		Bid:          bid,
		ContentRef:   "ipfs://proposal/" + freelancer,
		DeliveryTime: t0.Add(7 * 24 * time.Hour),
	})
	require.NoError(t, err)
	return p
}

func (h *harness) hired(t *testing.T, budget int64) job.Job {
	t.Helper()
	j := h.postJob(t, budget)
	p := h.propose(t, j.ID, "alice", budget)
	res, err := h.engine.AcceptProposal(context.Background(), "client", p.ID)
	require.NoError(t, err)
	return res.Job
}

func (h *harness) balance(t *testing.T, holder string) int64 {
	t.Helper()
	b, err := h.engine.Balance(context.Background(), holder)
	require.NoError(t, err)
	return b
}

func TestScenarioA_FullLifecyclePaysFreelancer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	j := h.postJob(t, 1000)
	assert.Equal(t, int64(0), j.ID)
	assert.Equal(t, int64(4000), h.balance(t, "client"))
	assert.Equal(t, int64(1000), h.balance(t, ledger.CustodyHolder))

	p := h.propose(t, j.ID, "alice", 1000)
	res, err := h.engine.AcceptProposal(ctx, "client", p.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusInProgress, res.Job.Status)
	assert.Empty(t, res.Rejected)

	s, err := h.engine.SubmitWork(ctx, "alice", j.ID, "ipfs://work", "")
	require.NoError(t, err)
	approved, err := h.engine.ApproveSubmission(ctx, "client", j.ID, s.ID)
	require.NoError(t, err)

	assert.Equal(t, submission.StatusApproved, approved.Submission.Status)
	assert.Equal(t, job.StatusCompleted, approved.Job.Status)
	assert.Equal(t, int64(0), approved.Job.Escrowed)
	assert.Equal(t, int64(1000), h.balance(t, "alice"))
	assert.Equal(t, int64(0), h.balance(t, ledger.CustodyHolder))
	assert.Equal(t, int64(4000), h.balance(t, "client"))

	profile, err := h.engine.GetIdentity(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), profile.CompletedJobs)
	assert.Equal(t, int64(1000), profile.TotalEarnings)

	assert.Equal(t, "job.created", h.store.Topics()[0])
	assert.Contains(t, h.store.Topics(), "job.completed")
	assert.Contains(t, h.store.Topics(), "submission.approved")
}

func TestScenarioB_CancelAfterHireRejected(t *testing.T) {
	h := newHarness(t)
	j := h.hired(t, 800)

	_, err := h.engine.CancelJob(context.Background(), "client", j.ID)
	require.ErrorIs(t, err, fault.ErrInvalidTransition)

	after, err := h.engine.GetJob(context.Background(), j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusInProgress, after.Status)
	assert.Equal(t, int64(800), after.Escrowed)
}

func TestScenarioC_FreelancerCannotApprove(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	j := h.hired(t, 800)
	s, err := h.engine.SubmitWork(ctx, "alice", j.ID, "ipfs://work", "")
	require.NoError(t, err)

	_, err = h.engine.ApproveSubmission(ctx, "alice", j.ID, s.ID)
	require.ErrorIs(t, err, fault.ErrUnauthorized)
	assert.Equal(t, int64(0), h.balance(t, "alice"))
}

func TestScenarioD_SubmitWorkUnknownJob(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.SubmitWork(context.Background(), "alice", 999, "ipfs://work", "")
	require.ErrorIs(t, err, fault.ErrNotFound)
}

func TestScenarioE_PauseBlocksMutationsUntilUnpaused(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	existing := h.postJob(t, 300)
	params := job.CreateParams{ContentRef: "ipfs://job", Budget: 500, Deadline: t0.Add(time.Hour)}

	require.ErrorIs(t, h.engine.Pause(ctx, "client"), fault.ErrUnauthorized)
	require.NoError(t, h.engine.Pause(ctx, "admin"))

	_, err := h.engine.CreateJob(ctx, "client", params)
	require.ErrorIs(t, err, fault.ErrPaused)

	read, err := h.engine.GetJob(ctx, existing.ID)
	require.NoError(t, err, "reads stay available while paused")
	assert.Equal(t, existing.ID, read.ID)

	require.NoError(t, h.engine.Unpause(ctx, "admin"))
	created, err := h.engine.CreateJob(ctx, "client", params)
	require.NoError(t, err)
	assert.Equal(t, existing.ID+1, created.ID)

	var rejected *logrus.Entry
	for _, e := range h.logs.AllEntries() {
		if e.Data["op"] == "job.create" && e.Data["outcome"] == "rejected" {
			rejected = e
		}
	}
	require.NotNil(t, rejected, "paused create should be audited")
	assert.Equal(t, "paused", rejected.Data["kind"])
	assert.Equal(t, "client", rejected.Data["caller"])
}

func TestAcceptProposal_CascadingRejection(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	j := h.postJob(t, 1000)
	a := h.propose(t, j.ID, "alice", 900)
	b := h.propose(t, j.ID, "bob", 950)
	c := h.propose(t, j.ID, "carol", 990)

	res, err := h.engine.AcceptProposal(ctx, "client", b.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{a.ID, c.ID}, res.Rejected)
	assert.Equal(t, "bob", res.Job.HiredFreelancer())

	list, err := h.engine.GetProposalsByJob(ctx, j.ID)
	require.NoError(t, err)
	require.Len(t, list, 3)
	statuses := map[string]proposal.Status{}
	for _, p := range list {
		statuses[p.Freelancer] = p.Status
	}
	assert.Equal(t, map[string]proposal.Status{
		"alice": proposal.StatusRejected,
		"bob":   proposal.StatusAccepted,
		"carol": proposal.StatusRejected,
	}, statuses)

	_, err = h.engine.AcceptProposal(ctx, "client", a.ID)
	require.ErrorIs(t, err, fault.ErrInvalidTransition)
	_, err = h.engine.SubmitProposal(ctx, "alice", proposal.SubmitParams{
		JobID: j.ID, Bid: 10, ContentRef: "late", DeliveryTime: t0.Add(time.Hour),
	})
	require.ErrorIs(t, err, fault.ErrInvalidTransition)
}

func TestAcceptProposal_ConcurrentAcceptsHireOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	j := h.postJob(t, 1000)
	ids := []int64{
		h.propose(t, j.ID, "alice", 900).ID,
		h.propose(t, j.ID, "bob", 950).ID,
		h.propose(t, j.ID, "carol", 990).ID,
	}

	var wins atomic.Int32
	var g errgroup.Group
	for _, id := range ids {
		id := id
		g.Go(func() error {
			_, err := h.engine.AcceptProposal(ctx, "client", id)
			if err == nil {
				wins.Add(1)
				return nil
			}
			if fault.KindOf(err) == fault.ErrInvalidTransition {
				return nil
			}
			return err
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), wins.Load())

	list, err := h.engine.GetProposalsByJob(ctx, j.ID)
	require.NoError(t, err)
	accepted := 0
	for _, p := range list {
		if p.Status == proposal.StatusAccepted {
			accepted++
		} else {
			assert.Equal(t, proposal.StatusRejected, p.Status)
		}
	}
	assert.Equal(t, 1, accepted)
}

func TestPayoutObservesCompletedJob(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	j := h.hired(t, 700)

	var observed []job.Job
	h.store.SetEntryHook(func(jobs map[int64]job.Job, e ledger.Entry) {
		if e.Holder == "alice" && e.Type == ledger.EntryCredit {
			observed = append(observed, jobs[j.ID])
		}
	})
	_, err := h.engine.CompleteJob(ctx, "client", j.ID)
	require.NoError(t, err)
	h.store.SetEntryHook(nil)

	require.Len(t, observed, 1, "exactly one payout")
	assert.Equal(t, job.StatusCompleted, observed[0].Status)
	assert.Equal(t, int64(0), observed[0].Escrowed)

	_, err = h.engine.CompleteJob(ctx, "client", j.ID)
	require.ErrorIs(t, err, fault.ErrInvalidTransition)
	assert.Equal(t, int64(700), h.balance(t, "alice"))
}

func TestTransferFailureLeavesNoState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.engine.RegisterIdentity(ctx, "broke", false)
	require.NoError(t, err)
	topicsBefore := len(h.store.Topics())

	_, err = h.engine.CreateJob(ctx, "broke", job.CreateParams{
		ContentRef: "ipfs://job", Budget: 500, Deadline: t0.Add(time.Hour),
	})
	require.ErrorIs(t, err, fault.ErrTransferFailed)
	assert.Empty(t, h.store.Jobs())
	assert.Len(t, h.store.Topics(), topicsBefore)

	j := h.postJob(t, 4000)
	assert.Equal(t, int64(0), j.ID, "failed create must not consume an id")

	_, err = h.engine.IncreaseBudget(ctx, "client", j.ID, 2000)
	require.ErrorIs(t, err, fault.ErrTransferFailed)
	after, err := h.engine.GetJob(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4000), after.Budget)
	assert.Equal(t, int64(4000), after.Escrowed)
}

func TestJobDispute_ModeratorAwardsWinner(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.engine.GrantRole(ctx, "admin", "mod", capability.RoleModerator))
	j := h.hired(t, 600)

	_, err := h.engine.InitiateJobDispute(ctx, "bob", j.ID)
	require.ErrorIs(t, err, fault.ErrUnauthorized)

	opened, err := h.engine.InitiateJobDispute(ctx, "alice", j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusDisputed, opened.Job.Status)
	assert.Equal(t, dispute.StatusUnderReview, opened.Dispute.Status)

	_, err = h.engine.ResolveJobDispute(ctx, "client", j.ID, "client")
	require.ErrorIs(t, err, fault.ErrUnauthorized)
	_, err = h.engine.ResolveJobDispute(ctx, "mod", j.ID, "bob")
	require.ErrorIs(t, err, fault.ErrValidation)

	resolved, err := h.engine.ResolveJobDispute(ctx, "mod", j.ID, "client")
	require.NoError(t, err)
	assert.Equal(t, job.StatusCompleted, resolved.Job.Status)
	assert.Equal(t, "client", *resolved.Dispute.Winner)
	assert.Equal(t, int64(5000), h.balance(t, "client"))
	assert.Equal(t, int64(0), h.balance(t, "alice"))

	records, err := h.engine.GetDisputes(ctx, dispute.SubjectJob, j.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, dispute.StatusResolved, records[0].Status)
}

func TestSubmissionRevisionLoop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	j := h.hired(t, 500)

	s, err := h.engine.SubmitWork(ctx, "alice", j.ID, "ipfs://v1", "")
	require.NoError(t, err)
	_, err = h.engine.RejectSubmission(ctx, "client", j.ID, s.ID, "ipfs://feedback")
	require.NoError(t, err)
	revised, err := h.engine.UpdateSubmission(ctx, "alice", j.ID, s.ID, "ipfs://v2", "ipfs://reply")
	require.NoError(t, err)
	assert.Equal(t, submission.StatusRevised, revised.Status)

	_, err = h.engine.ApproveSubmission(ctx, "client", j.ID, s.ID)
	require.NoError(t, err)
	_, err = h.engine.SubmitWork(ctx, "alice", j.ID, "ipfs://v3", "")
	require.ErrorIs(t, err, fault.ErrInvalidTransition)

	list, err := h.engine.GetJobSubmissions(ctx, j.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, submission.StatusApproved, list[0].Status)
}

func TestCompletedJobRefusesFurtherReview(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	j := h.hired(t, 500)

	first, err := h.engine.SubmitWork(ctx, "alice", j.ID, "ipfs://v1", "")
	require.NoError(t, err)
	second, err := h.engine.SubmitWork(ctx, "alice", j.ID, "ipfs://v2", "")
	require.NoError(t, err)

	approved, err := h.engine.ApproveSubmission(ctx, "client", j.ID, first.ID)
	require.NoError(t, err)
	require.Equal(t, job.StatusCompleted, approved.Job.Status)

	_, err = h.engine.RejectSubmission(ctx, "client", j.ID, second.ID, "ipfs://late")
	require.ErrorIs(t, err, fault.ErrInvalidTransition)
	_, err = h.engine.ApproveSubmission(ctx, "client", j.ID, second.ID)
	require.ErrorIs(t, err, fault.ErrInvalidTransition)

	list, err := h.engine.GetJobSubmissions(ctx, j.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, submission.StatusApproved, list[0].Status)
	assert.Equal(t, submission.StatusPending, list[1].Status)
	assert.Equal(t, int64(500), h.balance(t, "alice"))
}

func TestStandaloneEscrowLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.engine.GrantRole(ctx, "admin", "escrow-ops", capability.RoleEscrowManager))

	params := escrow.CreateParams{JobID: 42, Client: "client", Freelancer: "alice", Amount: 500}
	_, err := h.engine.CreateEscrow(ctx, "client", params)
	require.ErrorIs(t, err, fault.ErrUnauthorized)

	a, err := h.engine.CreateEscrow(ctx, "escrow-ops", params)
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusActive, a.Status)
	_, err = h.engine.CreateEscrow(ctx, "escrow-ops", params)
	require.ErrorIs(t, err, fault.ErrAlreadyExists)

	_, err = h.engine.AddEscrowFunds(ctx, "client", 42, 250)
	require.NoError(t, err)
	disputed, err := h.engine.InitiateEscrowDispute(ctx, "alice", 42)
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusDisputed, disputed.Account.Status)

	resolved, err := h.engine.ResolveEscrowDispute(ctx, "escrow-ops", 42, "alice")
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusReleased, resolved.Account.Status)
	assert.Equal(t, int64(750), h.balance(t, "alice"))
	assert.Equal(t, int64(4250), h.balance(t, "client"))

	details, err := h.engine.GetEscrowDetails(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, int64(0), details.Balance)
	assert.NotNil(t, details.ReleasedAt)
}

func TestRatingsAndModeration(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.engine.Rate(ctx, "client", "alice", 4)
	require.NoError(t, err)
	p, err := h.engine.Rate(ctx, "bob", "alice", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(90), p.Reputation)

	_, err = h.engine.Rate(ctx, "alice", "alice", 5)
	require.ErrorIs(t, err, fault.ErrValidation)
	_, err = h.engine.Rate(ctx, "stranger", "alice", 5)
	require.ErrorIs(t, err, fault.ErrUnauthorized)

	_, err = h.engine.SetIdentityActive(ctx, "client", "alice", false)
	require.ErrorIs(t, err, fault.ErrUnauthorized)
	require.NoError(t, h.engine.GrantRole(ctx, "admin", "mod", capability.RoleModerator))
	_, err = h.engine.SetIdentityActive(ctx, "mod", "alice", false)
	require.NoError(t, err)

	j := h.postJob(t, 200)
	_, err = h.engine.SubmitProposal(ctx, "alice", proposal.SubmitParams{
		JobID: j.ID, Bid: 200, ContentRef: "c", DeliveryTime: t0.Add(time.Hour),
	})
	require.ErrorIs(t, err, fault.ErrUnauthorized, "inactive freelancers cannot propose")
}

func TestDeactivatedFreelancerCannotReviseOrBeHired(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	j := h.postJob(t, 1000)
	p := h.propose(t, j.ID, "bob", 900)

	require.NoError(t, h.engine.GrantRole(ctx, "admin", "mod", capability.RoleModerator))
	_, err := h.engine.SetIdentityActive(ctx, "mod", "bob", false)
	require.NoError(t, err)

	_, err = h.engine.UpdateProposal(ctx, "bob", proposal.UpdateParams{
		ProposalID: p.ID, Bid: 800, ContentRef: "ipfs://v2", DeliveryTime: t0.Add(48 * time.Hour),
	})
	require.ErrorIs(t, err, fault.ErrUnauthorized)
	_, err = h.engine.AcceptProposal(ctx, "client", p.ID)
	require.ErrorIs(t, err, fault.ErrUnauthorized)

	stored, err := h.engine.GetProposal(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(900), stored.Bid)
	assert.Equal(t, proposal.StatusPending, stored.Status)
	current, err := h.engine.GetJob(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusPosted, current.Status)
}

func TestHireFreelancerNeedsPendingProposal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	j := h.postJob(t, 500)
	a := h.propose(t, j.ID, "alice", 500)
	h.propose(t, j.ID, "bob", 450)

	_, err := h.engine.WithdrawProposal(ctx, "alice", a.ID)
	require.NoError(t, err)
	_, err = h.engine.HireFreelancer(ctx, "client", j.ID, "alice")
	require.ErrorIs(t, err, fault.ErrInvalidTransition)
	_, err = h.engine.HireFreelancer(ctx, "client", j.ID, "carol")
	require.ErrorIs(t, err, fault.ErrValidation)

	hired, err := h.engine.HireFreelancer(ctx, "client", j.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, "bob", hired.HiredFreelancer())
	assert.Equal(t, job.StatusInProgress, hired.Status)
}

func TestRoleAdministration(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.ErrorIs(t, h.engine.GrantRole(ctx, "client", "client", capability.RoleAdmin), fault.ErrUnauthorized)
	require.NoError(t, h.engine.GrantRole(ctx, "admin", "ops", capability.RoleJobManager))

	j := h.postJob(t, 300)
	h.propose(t, j.ID, "bob", 300)
	hired, err := h.engine.HireFreelancer(ctx, "ops", j.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, "bob", hired.HiredFreelancer())

	require.NoError(t, h.engine.RevokeRole(ctx, "admin", "ops", capability.RoleJobManager))
	_, err = h.engine.CompleteJob(ctx, "ops", j.ID)
	require.ErrorIs(t, err, fault.ErrUnauthorized)

	require.ErrorIs(t, h.engine.RevokeRole(ctx, "admin", "admin", capability.RoleAdmin), fault.ErrValidation)

	_, err = h.engine.Mint(ctx, "client", "client", 10)
	require.ErrorIs(t, err, fault.ErrUnauthorized)
}
