package api

import "net/http"

type submitWorkRequest struct {
	WorkRef    string `json:"work_ref" validate:"required"`
	CommentRef string `json:"comment_ref"`
}

type rejectRequest struct {
	FeedbackRef string `json:"feedback_ref"`
}

func (s *Server) handleSubmitWork(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathID(w, r, "jobID")
	if !ok {
		return
	}
	var req submitWorkRequest
	if !s.decode(w, r, &req) {
		return
	}
	sub, err := s.engine.SubmitWork(r.Context(), CallerFrom(r.Context()), jobID, req.WorkRef, req.CommentRef)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSubmissionResponse(sub))
}

func (s *Server) handleJobSubmissions(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathID(w, r, "jobID")
	if !ok {
		return
	}
	subs, err := s.engine.GetJobSubmissions(r.Context(), jobID)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	out := make([]submissionResponse, 0, len(subs))
	for _, sub := range subs {
		out = append(out, toSubmissionResponse(sub))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUpdateSubmission(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathID(w, r, "jobID")
	if !ok {
		return
	}
	submissionID, ok := pathID(w, r, "submissionID")
	if !ok {
		return
	}
	var req submitWorkRequest
	if !s.decode(w, r, &req) {
		return
	}
	sub, err := s.engine.UpdateSubmission(r.Context(), CallerFrom(r.Context()), jobID, submissionID, req.WorkRef, req.CommentRef)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSubmissionResponse(sub))
}

func (s *Server) handleApproveSubmission(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathID(w, r, "jobID")
	if !ok {
		return
	}
	submissionID, ok := pathID(w, r, "submissionID")
	if !ok {
		return
	}
	res, err := s.engine.ApproveSubmission(r.Context(), CallerFrom(r.Context()), jobID, submissionID)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, approveResponse{
		Submission: toSubmissionResponse(res.Submission),
		Job:        toJobResponse(res.Job),
	})
}

func (s *Server) handleRejectSubmission(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathID(w, r, "jobID")
	if !ok {
		return
	}
	submissionID, ok := pathID(w, r, "submissionID")
	if !ok {
		return
	}
	var req rejectRequest
	if !s.decode(w, r, &req) {
		return
	}
	sub, err := s.engine.RejectSubmission(r.Context(), CallerFrom(r.Context()), jobID, submissionID, req.FeedbackRef)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSubmissionResponse(sub))
}
