package api

import (
	"net/http"
	"time"

	"escrowflow/proposal"

	"github.com/go-chi/chi/v5"
)

type proposalRequest struct {
	Bid          int64     `json:"bid" validate:"gt=0"`
	ContentRef   string    `json:"content_ref" validate:"required"`
	DeliveryTime time.Time `json:"delivery_time"`
}

func (s *Server) handleSubmitProposal(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathID(w, r, "jobID")
	if !ok {
		return
	}
	var req proposalRequest
	if !s.decode(w, r, &req) {
		return
	}
	p, err := s.engine.SubmitProposal(r.Context(), CallerFrom(r.Context()), proposal.SubmitParams{
		JobID:        jobID,
		Bid:          req.Bid,
		ContentRef:   req.ContentRef,
		DeliveryTime: req.DeliveryTime,
	})
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProposalResponse(p))
}

func (s *Server) handleJobProposals(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathID(w, r, "jobID")
	if !ok {
		return
	}
	ps, err := s.engine.GetProposalsByJob(r.Context(), jobID)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProposalResponses(ps))
}

func (s *Server) handleFreelancerProposals(w http.ResponseWriter, r *http.Request) {
	ps, err := s.engine.GetProposalsByFreelancer(r.Context(), chi.URLParam(r, "address"))
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProposalResponses(ps))
}

func (s *Server) handleUpdateProposal(w http.ResponseWriter, r *http.Request) {
	proposalID, ok := pathID(w, r, "proposalID")
	if !ok {
		return
	}
	var req proposalRequest
	if !s.decode(w, r, &req) {
		return
	}
	p, err := s.engine.UpdateProposal(r.Context(), CallerFrom(r.Context()), proposal.UpdateParams{
		ProposalID:   proposalID,
		Bid:          req.Bid,
		ContentRef:   req.ContentRef,
		DeliveryTime: req.DeliveryTime,
	})
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProposalResponse(p))
}

func (s *Server) handleWithdrawProposal(w http.ResponseWriter, r *http.Request) {
	proposalID, ok := pathID(w, r, "proposalID")
	if !ok {
		return
	}
	p, err := s.engine.WithdrawProposal(r.Context(), CallerFrom(r.Context()), proposalID)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProposalResponse(p))
}

func (s *Server) handleAcceptProposal(w http.ResponseWriter, r *http.Request) {
	proposalID, ok := pathID(w, r, "proposalID")
	if !ok {
		return
	}
	res, err := s.engine.AcceptProposal(r.Context(), CallerFrom(r.Context()), proposalID)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	rejected := res.Rejected
	if rejected == nil {
		rejected = []int64{}
	}
	writeJSON(w, http.StatusOK, acceptResponse{
		Proposal: toProposalResponse(res.Proposal),
		Job:      toJobResponse(res.Job),
		Rejected: rejected,
	})
}
