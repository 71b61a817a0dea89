package api

import (
	"context"
	"net/http"
	"time"

	"escrowflow/dispute"
	"escrowflow/job"
	"escrowflow/marketplace"
)

type createJobRequest struct {
	ContentRef string    `json:"content_ref" validate:"required"`
	Budget     int64     `json:"budget" validate:"gt=0"`
	Deadline   time.Time `json:"deadline"`
}

type hireRequest struct {
	Freelancer string `json:"freelancer" validate:"required"`
}

type resolveRequest struct {
	Winner string `json:"winner" validate:"required"`
}

type deadlineRequest struct {
	Deadline time.Time `json:"deadline"`
}

type amountRequest struct {
	Amount int64 `json:"amount" validate:"gt=0"`
}

type jobDisputeResponse struct {
	Job     jobResponse     `json:"job"`
	Dispute disputeResponse `json:"dispute"`
}

func toJobDisputeResponse(res marketplace.JobDispute) jobDisputeResponse {
	return jobDisputeResponse{Job: toJobResponse(res.Job), Dispute: toDisputeResponse(res.Dispute)}
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if !s.decode(w, r, &req) {
		return
	}
	j, err := s.engine.CreateJob(r.Context(), CallerFrom(r.Context()), job.CreateParams{
		ContentRef: req.ContentRef,
		Budget:     req.Budget,
		Deadline:   req.Deadline,
	})
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toJobResponse(j))
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathID(w, r, "jobID")
	if !ok {
		return
	}
	j, err := s.engine.GetJob(r.Context(), jobID)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(j))
}

func (s *Server) handleHire(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathID(w, r, "jobID")
	if !ok {
		return
	}
	var req hireRequest
	if !s.decode(w, r, &req) {
		return
	}
	j, err := s.engine.HireFreelancer(r.Context(), CallerFrom(r.Context()), jobID, req.Freelancer)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(j))
}

func (s *Server) handleCompleteJob(w http.ResponseWriter, r *http.Request) {
	s.jobTransition(w, r, s.engine.CompleteJob)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	s.jobTransition(w, r, s.engine.CancelJob)
}

func (s *Server) jobTransition(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, caller string, jobID int64) (job.Job, error)) {
	jobID, ok := pathID(w, r, "jobID")
	if !ok {
		return
	}
	j, err := op(r.Context(), CallerFrom(r.Context()), jobID)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(j))
}

func (s *Server) handleInitiateJobDispute(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathID(w, r, "jobID")
	if !ok {
		return
	}
	res, err := s.engine.InitiateJobDispute(r.Context(), CallerFrom(r.Context()), jobID)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toJobDisputeResponse(res))
}

func (s *Server) handleResolveJobDispute(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathID(w, r, "jobID")
	if !ok {
		return
	}
	var req resolveRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.engine.ResolveJobDispute(r.Context(), CallerFrom(r.Context()), jobID, req.Winner)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobDisputeResponse(res))
}

func (s *Server) handleJobDisputes(w http.ResponseWriter, r *http.Request) {
	s.listDisputes(w, r, dispute.SubjectJob)
}

func (s *Server) listDisputes(w http.ResponseWriter, r *http.Request, subject dispute.Subject) {
	id, ok := pathID(w, r, "jobID")
	if !ok {
		return
	}
	records, err := s.engine.GetDisputes(r.Context(), subject, id)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	out := make([]disputeResponse, 0, len(records))
	for _, d := range records {
		out = append(out, toDisputeResponse(d))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleExtendDeadline(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathID(w, r, "jobID")
	if !ok {
		return
	}
	var req deadlineRequest
	if !s.decode(w, r, &req) {
		return
	}
	j, err := s.engine.ExtendDeadline(r.Context(), CallerFrom(r.Context()), jobID, req.Deadline)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(j))
}

func (s *Server) handleIncreaseBudget(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathID(w, r, "jobID")
	if !ok {
		return
	}
	var req amountRequest
	if !s.decode(w, r, &req) {
		return
	}
	j, err := s.engine.IncreaseBudget(r.Context(), CallerFrom(r.Context()), jobID, req.Amount)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(j))
}
