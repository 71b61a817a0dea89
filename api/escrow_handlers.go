package api

import (
	"net/http"

	"escrowflow/dispute"
	"escrowflow/escrow"
	"escrowflow/marketplace"
)

type createEscrowRequest struct {
	JobID      *int64 `json:"job_id" validate:"required,min=0"`
	Client     string `json:"client" validate:"required"`
	Freelancer string `json:"freelancer" validate:"required,nefield=Client"`
	Amount     int64  `json:"amount" validate:"gt=0"`
}

type escrowDisputeResponse struct {
	Escrow  escrowResponse  `json:"escrow"`
	Dispute disputeResponse `json:"dispute"`
}

func toEscrowDisputeResponse(res marketplace.EscrowDispute) escrowDisputeResponse {
	return escrowDisputeResponse{Escrow: toEscrowResponse(res.Account), Dispute: toDisputeResponse(res.Dispute)}
}

func (s *Server) handleCreateEscrow(w http.ResponseWriter, r *http.Request) {
	var req createEscrowRequest
	if !s.decode(w, r, &req) {
		return
	}
	a, err := s.engine.CreateEscrow(r.Context(), CallerFrom(r.Context()), escrow.CreateParams{
		JobID:      *req.JobID,
		Client:     req.Client,
		Freelancer: req.Freelancer,
		Amount:     req.Amount,
	})
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEscrowResponse(a))
}

func (s *Server) handleGetEscrow(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathID(w, r, "jobID")
	if !ok {
		return
	}
	a, err := s.engine.GetEscrowDetails(r.Context(), jobID)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEscrowResponse(a))
}

func (s *Server) handleReleaseEscrow(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathID(w, r, "jobID")
	if !ok {
		return
	}
	a, err := s.engine.ReleaseEscrow(r.Context(), CallerFrom(r.Context()), jobID)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEscrowResponse(a))
}

func (s *Server) handleRefundEscrow(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathID(w, r, "jobID")
	if !ok {
		return
	}
	a, err := s.engine.RefundEscrow(r.Context(), CallerFrom(r.Context()), jobID)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEscrowResponse(a))
}

func (s *Server) handleAddEscrowFunds(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathID(w, r, "jobID")
	if !ok {
		return
	}
	var req amountRequest
	if !s.decode(w, r, &req) {
		return
	}
	a, err := s.engine.AddEscrowFunds(r.Context(), CallerFrom(r.Context()), jobID, req.Amount)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEscrowResponse(a))
}

func (s *Server) handleEscrowDisputes(w http.ResponseWriter, r *http.Request) {
	s.listDisputes(w, r, dispute.SubjectEscrow)
}

func (s *Server) handleInitiateEscrowDispute(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathID(w, r, "jobID")
	if !ok {
		return
	}
	res, err := s.engine.InitiateEscrowDispute(r.Context(), CallerFrom(r.Context()), jobID)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEscrowDisputeResponse(res))
}

func (s *Server) handleResolveEscrowDispute(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathID(w, r, "jobID")
	if !ok {
		return
	}
	var req resolveRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.engine.ResolveEscrowDispute(r.Context(), CallerFrom(r.Context()), jobID, req.Winner)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEscrowDisputeResponse(res))
}
