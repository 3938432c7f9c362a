package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"ideaforge/internal/keylock"
	"ideaforge/internal/metrics"
	"ideaforge/internal/ratelimit"
	"ideaforge/internal/usertoken"
	"ideaforge/internal/util"
	"ideaforge/pkg/cache"
	"ideaforge/pkg/domain"
	"ideaforge/services/studio/internal/app"
)

const (
	defaultIdempotencyTTL = 10 * time.Minute
	maxBodyBytes          = 1 << 20
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App           *app.App
	TokenVerifier *usertoken.Verifier
	// Limiter throttles AI endpoints per user. Nil disables throttling.
	Limiter ratelimit.Limiter
	// Idempotency stores replayable responses. Nil disables Idempotency-Key handling.
	Idempotency    cache.Cache
	IdempotencyTTL time.Duration
	Locker         keylock.Locker
	Metrics        *metrics.Metrics
	CORSOrigins    []string
}

// Server exposes the studio HTTP API.
type Server struct {
	app            *app.App
	tokenVerifier  *usertoken.Verifier
	limiter        ratelimit.Limiter
	idempotency    cache.Cache
	idempotencyTTL time.Duration
	locker         keylock.Locker
	metrics        *metrics.Metrics
	corsOrigins    []string
	validate       *validator.Validate
	mux            *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("server: app is required")
	}
	if cfg.TokenVerifier == nil {
		return nil, errors.New("server: token verifier is required")
	}
	ttl := cfg.IdempotencyTTL
	if ttl <= 0 {
		ttl = defaultIdempotencyTTL
	}
	locker := cfg.Locker
	if locker == nil {
		locker = keylock.NewLocalLocker()
	}
	s := &Server{
		app:            cfg.App,
		tokenVerifier:  cfg.TokenVerifier,
		limiter:        cfg.Limiter,
		idempotency:    cfg.Idempotency,
		idempotencyTTL: ttl,
		locker:         locker,
		metrics:        cfg.Metrics,
		corsOrigins:    cfg.CORSOrigins,
		validate:       newValidator(),
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("studio", util.WithSecurityHeaders(util.WithCORS(s.corsOrigins, s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}

	// account
	s.mux.Handle("GET /api/credits", s.withUser(s.handleCredits))
	s.mux.Handle("GET /api/credits/history", s.withUser(s.handleCreditHistory))

	// projects and wizard steps
	s.mux.Handle("GET /api/projects/limit", s.withUser(s.handleProjectLimit))
	s.mux.Handle("GET /api/projects", s.withUser(s.handleListProjects))
	s.mux.Handle("POST /api/projects", s.withUser(s.handleCreateProject))
	s.mux.Handle("GET /api/projects/{id}", s.withUser(s.handleGetProject))
	s.mux.Handle("POST /api/projects/{id}/idea", s.withUser(s.handleSaveIdea))
	s.mux.Handle("POST /api/projects/{id}/details", s.withUser(s.handleSaveDetails))
	s.mux.Handle("POST /api/projects/{id}/tools", s.withUser(s.handleSetTools))
	s.mux.Handle("POST /api/projects/{id}/plan", s.withUser(s.handleSavePlan))
	s.mux.Handle("GET /api/projects/{id}/documents", s.withUser(s.handleListDocuments))

	// metered AI actions
	s.mux.Handle("POST /api/projects/{id}/refine-idea", s.withAI(s.handleRefineIdea))
	s.mux.Handle("POST /api/projects/{id}/suggest-answer", s.withAI(s.handleSuggestAnswer))
	s.mux.Handle("POST /api/generate-plan", s.withAI(s.handleGeneratePlan))
	s.mux.Handle("POST /api/generate-documents", s.withAI(s.handleGenerateDocuments))
	s.mux.Handle("POST /api/regenerate-document", s.withAI(s.handleRegenerateDocument))

	// documents
	s.mux.Handle("GET /api/documents/{id}", s.withUser(s.handleGetDocument))
	s.mux.Handle("POST /api/documents/{id}/export", s.withUser(s.handleExportDocument))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type userHandler func(http.ResponseWriter, *http.Request, domain.User)

// withUser verifies the bearer token and materializes the caller's account.
func (s *Server) withUser(next userHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		id, err := s.tokenVerifier.Verify(token)
		if err != nil {
			util.LoggerFromContext(r.Context()).Debug("access token rejected", "err", err)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		user, err := s.app.EnsureUser(r.Context(), id.UserID, id.Email)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		ctx := util.ContextWithLogger(r.Context(), util.LoggerFromContext(r.Context()).With("user_id", user.ID))
		next(w, r.WithContext(ctx), user)
	})
}

// withAI guards metered endpoints with the per-user rate limit and
// Idempotency-Key replay.
func (s *Server) withAI(next userHandler) http.Handler {
	return s.withUser(func(w http.ResponseWriter, r *http.Request, user domain.User) {
		if s.limiter != nil && !s.limiter.Allow(r.Context(), "ai:"+user.ID) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		s.idempotent(next)(w, r, user)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}
