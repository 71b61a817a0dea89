// Package api exposes the marketplace engine over HTTP/JSON. Every route
// under /api/v1 except registration and login requires a bearer token whose
// subject is the caller address.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"escrowflow/auth"
	"escrowflow/marketplace"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
)

// Authenticator is the subset of auth.Service the HTTP layer needs.
type Authenticator interface {
	TokenVerifier
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
}

type Options struct {
	AllowOrigins   []string
	RequestTimeout time.Duration
}

type Server struct {
	engine    *marketplace.Engine
	auth      Authenticator
	log       logrus.FieldLogger
	validator *ValidationHelper
	opts      Options
}

func NewServer(engine *marketplace.Engine, authn Authenticator, log logrus.FieldLogger, opts Options) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if len(opts.AllowOrigins) == 0 {
		opts.AllowOrigins = []string{"https://*", "http://*"}
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	return &Server{
		engine:    engine,
		auth:      authn,
		log:       log,
		validator: NewValidationHelper(),
		opts:      opts,
	}
}

// Routes builds the chi router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.opts.RequestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.opts.AllowOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/register", s.handleRegister)
		r.Post("/auth/login", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(RequireAuth(s.auth))

			r.Post("/identities", s.handleRegisterIdentity)
			r.Get("/identities/{address}", s.handleGetIdentity)
			r.Put("/identities/{address}/active", s.handleSetIdentityActive)
			r.Post("/identities/{address}/ratings", s.handleRate)

			r.Post("/jobs", s.handleCreateJob)
			r.Route("/jobs/{jobID}", func(r chi.Router) {
				r.Get("/", s.handleGetJob)
				r.Post("/hire", s.handleHire)
				r.Post("/complete", s.handleCompleteJob)
				r.Post("/cancel", s.handleCancelJob)
				r.Get("/disputes", s.handleJobDisputes)
				r.Post("/disputes", s.handleInitiateJobDispute)
				r.Post("/disputes/resolve", s.handleResolveJobDispute)
				r.Put("/deadline", s.handleExtendDeadline)
				r.Post("/budget", s.handleIncreaseBudget)
				r.Get("/proposals", s.handleJobProposals)
				r.Post("/proposals", s.handleSubmitProposal)
				r.Get("/submissions", s.handleJobSubmissions)
				r.Post("/submissions", s.handleSubmitWork)
				r.Put("/submissions/{submissionID}", s.handleUpdateSubmission)
				r.Post("/submissions/{submissionID}/approve", s.handleApproveSubmission)
				r.Post("/submissions/{submissionID}/reject", s.handleRejectSubmission)
			})

			r.Put("/proposals/{proposalID}", s.handleUpdateProposal)
			r.Post("/proposals/{proposalID}/withdraw", s.handleWithdrawProposal)
			r.Post("/proposals/{proposalID}/accept", s.handleAcceptProposal)
			r.Get("/freelancers/{address}/proposals", s.handleFreelancerProposals)

			r.Post("/escrows", s.handleCreateEscrow)
			r.Route("/escrows/{jobID}", func(r chi.Router) {
				r.Get("/", s.handleGetEscrow)
				r.Post("/release", s.handleReleaseEscrow)
				r.Post("/refund", s.handleRefundEscrow)
				r.Post("/funds", s.handleAddEscrowFunds)
				r.Get("/disputes", s.handleEscrowDisputes)
				r.Post("/disputes", s.handleInitiateEscrowDispute)
				r.Post("/disputes/resolve", s.handleResolveEscrowDispute)
			})

			r.Post("/admin/pause", s.handlePause)
			r.Post("/admin/unpause", s.handleUnpause)
			r.Post("/admin/roles", s.handleGrantRole)
			r.Delete("/admin/roles", s.handleRevokeRole)
			r.Post("/admin/mint", s.handleMint)
			r.Get("/accounts/{address}/balance", s.handleBalance)
		})
	})
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"bytes":      ww.BytesWritten(),
			"duration":   time.Since(start).String(),
			"request_id": middleware.GetReqID(r.Context()),
		}).Debug("http request")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	paused, err := s.engine.Paused(r.Context())
	if err != nil {
		s.log.WithError(err).Warn("health check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "paused": paused})
}

// pathID parses an integer URL parameter, writing a 400 when it is malformed.
func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id < 0 {
		SendErrorResponse(w, "invalid "+name, http.StatusBadRequest, nil)
		return 0, false
	}
	return id, true
}
