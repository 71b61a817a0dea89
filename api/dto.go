package api

import (
	"time"

	"escrowflow/dispute"
	"escrowflow/escrow"
	"escrowflow/job"
	"escrowflow/proposal"
	"escrowflow/registry"
	"escrowflow/submission"
)

type jobResponse struct {
	ID          int64   `json:"id"`
	Client      string  `json:"client"`
	ContentRef  string  `json:"content_ref"`
	Budget      int64   `json:"budget"`
	Escrowed    int64   `json:"escrowed"`
	Deadline    string  `json:"deadline"`
	Freelancer  *string `json:"freelancer,omitempty"`
	Status      string  `json:"status"`
	CreatedAt   string  `json:"created_at"`
	CompletedAt *string `json:"completed_at,omitempty"`
}

func toJobResponse(j job.Job) jobResponse {
	return jobResponse{
		ID:          j.ID,
		Client:      j.Client,
		ContentRef:  j.ContentRef,
		Budget:      j.Budget,
		Escrowed:    j.Escrowed,
		Deadline:    formatTime(j.Deadline),
		Freelancer:  j.Freelancer,
		Status:      string(j.Status),
		CreatedAt:   formatTime(j.CreatedAt),
		CompletedAt: formatTimePtr(j.CompletedAt),
	}
}

type proposalResponse struct {
	ID           int64  `json:"id"`
	JobID        int64  `json:"job_id"`
	Freelancer   string `json:"freelancer"`
	Bid          int64  `json:"bid"`
	ContentRef   string `json:"content_ref"`
	DeliveryTime string `json:"delivery_time"`
	Status       string `json:"status"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

func toProposalResponse(p proposal.Proposal) proposalResponse {
	return proposalResponse{
		ID:           p.ID,
		JobID:        p.JobID,
		Freelancer:   p.Freelancer,
		Bid:          p.Bid,
		ContentRef:   p.ContentRef,
		DeliveryTime: formatTime(p.DeliveryTime),
		Status:       string(p.Status),
		CreatedAt:    formatTime(p.CreatedAt),
		UpdatedAt:    formatTime(p.UpdatedAt),
	}
}

func toProposalResponses(ps []proposal.Proposal) []proposalResponse {
	out := make([]proposalResponse, 0, len(ps))
	for _, p := range ps {
		out = append(out, toProposalResponse(p))
	}
	return out
}

type acceptResponse struct {
	Proposal proposalResponse `json:"proposal"`
	Job      jobResponse      `json:"job"`
	Rejected []int64          `json:"rejected"`
}

type submissionResponse struct {
	ID          int64  `json:"id"`
	JobID       int64  `json:"job_id"`
	Freelancer  string `json:"freelancer"`
	WorkRef     string `json:"work_ref"`
	CommentRef  string `json:"comment_ref,omitempty"`
	Status      string `json:"status"`
	SubmittedAt string `json:"submitted_at"`
}

func toSubmissionResponse(s submission.Submission) submissionResponse {
	return submissionResponse{
		ID:          s.ID,
		JobID:       s.JobID,
		Freelancer:  s.Freelancer,
		WorkRef:     s.WorkRef,
		CommentRef:  s.CommentRef,
		Status:      string(s.Status),
		SubmittedAt: formatTime(s.SubmittedAt),
	}
}

type approveResponse struct {
	Submission submissionResponse `json:"submission"`
	Job        jobResponse        `json:"job"`
}

type escrowResponse struct {
	JobID      int64   `json:"job_id"`
	Balance    int64   `json:"balance"`
	Client     string  `json:"client"`
	Freelancer string  `json:"freelancer"`
	Status     string  `json:"status"`
	CreatedAt  string  `json:"created_at"`
	ReleasedAt *string `json:"released_at,omitempty"`
}

func toEscrowResponse(a escrow.Account) escrowResponse {
	return escrowResponse{
		JobID:      a.JobID,
		Balance:    a.Balance,
		Client:     a.Client,
		Freelancer: a.Freelancer,
		Status:     string(a.Status),
		CreatedAt:  formatTime(a.CreatedAt),
		ReleasedAt: formatTimePtr(a.ReleasedAt),
	}
}

type disputeResponse struct {
	ID         string  `json:"id"`
	Subject    string  `json:"subject"`
	SubjectID  int64   `json:"subject_id"`
	Initiator  string  `json:"initiator"`
	Status     string  `json:"status"`
	Winner     *string `json:"winner,omitempty"`
	ResolvedBy *string `json:"resolved_by,omitempty"`
	CreatedAt  string  `json:"created_at"`
	ResolvedAt *string `json:"resolved_at,omitempty"`
}

func toDisputeResponse(d dispute.Record) disputeResponse {
	return disputeResponse{
		ID:         d.ID,
		Subject:    string(d.Subject),
		SubjectID:  d.SubjectID,
		Initiator:  d.Initiator,
		Status:     string(d.Status),
		Winner:     d.Winner,
		ResolvedBy: d.ResolvedBy,
		CreatedAt:  formatTime(d.CreatedAt),
		ResolvedAt: formatTimePtr(d.ResolvedAt),
	}
}

type profileResponse struct {
	Address       string `json:"address"`
	Freelancer    bool   `json:"freelancer"`
	Active        bool   `json:"active"`
	Reputation    int64  `json:"reputation"`
	CompletedJobs int64  `json:"completed_jobs"`
	TotalEarnings int64  `json:"total_earnings"`
	RatingCount   int64  `json:"rating_count"`
	CreatedAt     string `json:"created_at"`
}

func toProfileResponse(p registry.Profile) profileResponse {
	return profileResponse{
		Address:       p.Address,
		Freelancer:    p.Freelancer,
		Active:        p.Active,
		Reputation:    p.Reputation,
		CompletedJobs: p.CompletedJobs,
		TotalEarnings: p.TotalEarnings,
		RatingCount:   p.RatingCount,
		CreatedAt:     formatTime(p.CreatedAt),
	}
}

type balanceResponse struct {
	Holder  string `json:"holder"`
	Balance int64  `json:"balance"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}
