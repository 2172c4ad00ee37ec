// Package api implements the Human Decision API, the inbound mail
// webhook, and the query endpoint — the three HTTP surfaces of
// cmd/casedash — over net/http, grounded on mbflow's rest package.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/smilemakc/caseorch/internal/domain"
	"github.com/smilemakc/caseorch/internal/mail"
	"github.com/smilemakc/caseorch/internal/queue"
)

// Server is the human decision API, inbound mail webhook, and query
// endpoint handler.
type Server struct {
	store   domain.Storage
	q       queue.Queue
	matcher *mail.Matcher
	auth    Authenticator
	logger  *slog.Logger
	mux     *http.ServeMux
}

// NewServer constructs a Server and wires its routes.
func NewServer(store domain.Storage, q queue.Queue, auth Authenticator, logger *slog.Logger) *Server {
	s := &Server{
		store:   store,
		q:       q,
		matcher: mail.NewMatcher(store),
		auth:    auth,
		logger:  logger,
		mux:     http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	decision := http.NewServeMux()
	decision.HandleFunc("POST /api/v1/cases/{caseId}/proposals/{proposalId}/approve", s.handleApprove)
	decision.HandleFunc("POST /api/v1/cases/{caseId}/proposals/{proposalId}/adjust", s.handleAdjust)
	decision.HandleFunc("POST /api/v1/cases/{caseId}/proposals/{proposalId}/dismiss", s.handleDismiss)
	decision.HandleFunc("POST /api/v1/cases/{caseId}/proposals/{proposalId}/withdraw", s.handleWithdraw)
	decision.HandleFunc("GET /api/v1/cases/{caseId}/state", s.handleQuery)
	s.mux.Handle("/api/v1/cases/", authMiddleware(s.auth, s.logger, decision))

	// The inbound mail webhook authenticates via provider-specific
	// shared-secret verification (left to the deployment's reverse
	// proxy / provider signature check), not the dashboard bearer
	// token, so it is routed outside the authMiddleware chain.
	s.mux.HandleFunc("POST /webhooks/inbound-mail", s.handleInboundWebhook)
}

// ServeHTTP implements http.Handler, applying the ambient middleware
// chain around the routed mux.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	handler := contentTypeMiddleware(s.mux)
	handler = loggingMiddleware(s.logger, handler)
	handler = recoveryMiddleware(s.logger, handler)
	handler.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
