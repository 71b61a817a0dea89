package api

import (
	"net/http"

	"escrowflow/capability"

	"github.com/go-chi/chi/v5"
)

type registerIdentityRequest struct {
	Freelancer *bool `json:"freelancer" validate:"required"`
}

type activeRequest struct {
	Active *bool `json:"active" validate:"required"`
}

type rateRequest struct {
	Score int `json:"score" validate:"min=1,max=5"`
}

type roleRequest struct {
	Address string `json:"address" validate:"required"`
	Role    string `json:"role" validate:"required"`
}

type mintRequest struct {
	To     string `json:"to" validate:"required"`
	Amount int64  `json:"amount" validate:"gt=0"`
}

func (s *Server) handleRegisterIdentity(w http.ResponseWriter, r *http.Request) {
	var req registerIdentityRequest
	if !s.decode(w, r, &req) {
		return
	}
	p, err := s.engine.RegisterIdentity(r.Context(), CallerFrom(r.Context()), *req.Freelancer)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProfileResponse(p))
}

func (s *Server) handleGetIdentity(w http.ResponseWriter, r *http.Request) {
	p, err := s.engine.GetIdentity(r.Context(), chi.URLParam(r, "address"))
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProfileResponse(p))
}

func (s *Server) handleSetIdentityActive(w http.ResponseWriter, r *http.Request) {
	var req activeRequest
	if !s.decode(w, r, &req) {
		return
	}
	p, err := s.engine.SetIdentityActive(r.Context(), CallerFrom(r.Context()), chi.URLParam(r, "address"), *req.Active)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProfileResponse(p))
}

func (s *Server) handleRate(w http.ResponseWriter, r *http.Request) {
	var req rateRequest
	if !s.decode(w, r, &req) {
		return
	}
	p, err := s.engine.Rate(r.Context(), CallerFrom(r.Context()), chi.URLParam(r, "address"), req.Score)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProfileResponse(p))
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Pause(r.Context(), CallerFrom(r.Context())); err != nil {
		s.sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": true})
}

func (s *Server) handleUnpause(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Unpause(r.Context(), CallerFrom(r.Context())); err != nil {
		s.sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": false})
}

func (s *Server) handleGrantRole(w http.ResponseWriter, r *http.Request) {
	s.changeRole(w, r, true)
}

func (s *Server) handleRevokeRole(w http.ResponseWriter, r *http.Request) {
	s.changeRole(w, r, false)
}

func (s *Server) changeRole(w http.ResponseWriter, r *http.Request, grant bool) {
	var req roleRequest
	if !s.decode(w, r, &req) {
		return
	}
	role, err := capability.ParseRole(req.Role)
	if err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	caller := CallerFrom(r.Context())
	if grant {
		err = s.engine.GrantRole(r.Context(), caller, req.Address, role)
	} else {
		err = s.engine.RevokeRole(r.Context(), caller, req.Address, role)
	}
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"address": req.Address, "role": role, "granted": grant})
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	var req mintRequest
	if !s.decode(w, r, &req) {
		return
	}
	balance, err := s.engine.Mint(r.Context(), CallerFrom(r.Context()), req.To, req.Amount)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Holder: req.To, Balance: balance})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	balance, err := s.engine.Balance(r.Context(), address)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Holder: address, Balance: balance})
}
