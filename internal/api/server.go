// Package api serves the HTTP surface: the voice and SMS webhooks the
// phone platform calls, the conference TwiML and status callbacks, the
// climax playlist endpoints, and the operator debug endpoints.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/twilio/twilio-go/twiml"

	"github.com/halpline/halpline/internal/api/middleware"
	"github.com/halpline/halpline/internal/calllog"
	"github.com/halpline/halpline/internal/conference"
	"github.com/halpline/halpline/internal/config"
	"github.com/halpline/halpline/internal/player"
	"github.com/halpline/halpline/internal/script"
)

// Playlists resolves the climax endpoints into ordered Play verbs. The
// narrative implements it.
type Playlists interface {
	Climax(ctx context.Context, clavaeChoice, karenChoice int) ([]twiml.Element, error)
	FinalClimax(ctx context.Context, right bool) ([]twiml.Element, error)
}

// Server holds HTTP handler dependencies and the chi router.
type Server struct {
	router      *chi.Mux
	cfg         *config.Config
	scripts     *script.Registry
	state       *script.Manager
	players     *player.Store
	conferences *conference.Registry
	playlists   Playlists
	log         *calllog.Log
	logger      *slog.Logger
}

// NewServer creates the HTTP handler with all routes mounted.
func NewServer(cfg *config.Config, scripts *script.Registry, state *script.Manager,
	players *player.Store, conferences *conference.Registry, playlists Playlists,
	log *calllog.Log, logger *slog.Logger) *Server {
	s := &Server{
		router:      chi.NewRouter(),
		cfg:         cfg,
		scripts:     scripts,
		state:       state,
		players:     players,
		conferences: conferences,
		playlists:   playlists,
		log:         log,
		logger:      logger.With("subsystem", "api"),
	}

	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// handleFunc mounts a handler for both GET and POST; the phone platform
// is configurable either way and the staging tools use GET.
func handleFunc(r chi.Router, pattern string, h http.HandlerFunc) {
	r.Get(pattern, h)
	r.Post(pattern, h)
}

// routes configures all middleware and mounts all route groups.
func (s *Server) routes() {
	r := s.router

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.StructuredLogger)
	r.Use(middleware.Recoverer)

	webhookLimiter := middleware.NewIPRateLimiter(middleware.WebhookRateLimitConfig())
	loginLimiter := middleware.NewIPRateLimiter(middleware.LoginRateLimitConfig())

	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(webhookLimiter))

		handleFunc(r, "/tipline/start", s.handleVoice)
		handleFunc(r, "/tipline/sms", s.handleSMS)
		handleFunc(r, "/conf/twiml/{id}", s.handleConferenceTwiML)
		handleFunc(r, "/conf/status/{id}", s.handleConferenceStatus)
		handleFunc(r, "/climax/{clavae}/{karen}", s.handleClimax)
		handleFunc(r, "/finalclimax/{result}", s.handleFinalClimax)
	})

	r.Get("/health", s.handleHealth)

	r.Route("/debug", func(r chi.Router) {
		r.With(middleware.RateLimit(loginLimiter)).Post("/login", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireOperator(s.cfg.JWTSecretBytes()))

			r.Get("/players", s.handleListPlayers)
			r.Get("/players/{number}", s.handleGetPlayer)
			r.Delete("/players/{number}", s.handleDeletePlayer)
			r.Post("/players/{number}", s.handleRestorePlayer)
			r.Get("/state", s.handleGetState)
			r.Post("/state/generation", s.handleBumpGeneration)
			r.Get("/conferences", s.handleListConferences)
			r.Get("/calls", s.handleListCalls)
		})
	})

	s.logger.Info("routes mounted")
}

// handleHealth returns basic health status. Unauthenticated.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleVoice serves the inbound voice webhook. Every call lands here;
// the script registry works out where the caller is in the story.
func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	req, err := script.ParseRequest(r)
	if err != nil {
		s.logger.Error("bad voice webhook", "error", err)
		writeTwiML(w, script.ConfusedResponse())
		return
	}
	if err := req.Load(r.Context(), s.players); err != nil {
		s.logger.Error("loading player", "caller", req.Caller.E164(), "error", err)
		writeTwiML(w, script.ConfusedResponse())
		return
	}

	verbs := s.scripts.HandleCall(r.Context(), req)
	s.record(r.Context(), calllog.Entry{
		Kind:   calllog.KindCall,
		Caller: req.Caller.E164(),
		Dialed: req.Dialed.E164(),
		Digits: req.Digits,
	})
	writeTwiML(w, verbs)
}

// handleSMS serves the inbound SMS webhook. Replies always go out via
// the REST gateway, so the webhook response stays empty.
func (s *Server) handleSMS(w http.ResponseWriter, r *http.Request) {
	req, err := script.ParseRequest(r)
	if err != nil {
		s.logger.Error("bad sms webhook", "error", err)
		writeEmptyMessageResponse(w)
		return
	}
	if err := req.Load(r.Context(), s.players); err != nil {
		s.logger.Error("loading player", "caller", req.Caller.E164(), "error", err)
		writeEmptyMessageResponse(w)
		return
	}

	s.scripts.HandleText(r.Context(), req)
	s.record(r.Context(), calllog.Entry{
		Kind:   calllog.KindText,
		Caller: req.Caller.E164(),
		Dialed: req.Dialed.E164(),
		Body:   req.Body,
	})
	writeEmptyMessageResponse(w)
}

// handleConferenceTwiML serves one participant's leg. On an outbound
// leg the participant is the dialed party.
func (s *Server) handleConferenceTwiML(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid conference id")
		return
	}
	req, err := script.ParseRequest(r)
	if err != nil {
		s.logger.Error("bad conference webhook", "conference", id, "error", err)
		writeTwiML(w, script.ConfusedResponse())
		return
	}

	verbs, err := s.conferences.ParticipantTwiML(r.Context(), id, req.Dialed)
	if err != nil {
		s.logger.Error("conference twiml", "conference", id, "error", err)
		writeTwiML(w, script.ConfusedResponse())
		return
	}
	writeTwiML(w, verbs)
}

// handleConferenceStatus consumes lifecycle callbacks.
func (s *Server) handleConferenceStatus(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid conference id")
		return
	}
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form body")
		return
	}

	if err := s.conferences.HandleStatusEvent(r.Context(), id, r.Form); err != nil {
		s.logger.Error("conference status", "conference", id, "error", err)
	}
	s.record(r.Context(), calllog.Entry{
		Kind:   calllog.KindStatus,
		Caller: r.Form.Get("ParticipantLabel"),
		Status: r.Form.Get("StatusCallbackEvent"),
	})
	w.WriteHeader(http.StatusNoContent)
}

// handleClimax plays the ending determined by both players' choices.
func (s *Server) handleClimax(w http.ResponseWriter, r *http.Request) {
	clavaeChoice, err1 := strconv.Atoi(chi.URLParam(r, "clavae"))
	karenChoice, err2 := strconv.Atoi(chi.URLParam(r, "karen"))
	if err1 != nil || err2 != nil {
		writeError(w, http.StatusBadRequest, "invalid choice")
		return
	}

	verbs, err := s.playlists.Climax(r.Context(), clavaeChoice, karenChoice)
	if err != nil {
		s.logger.Error("climax playlist", "clavae", clavaeChoice, "karen", karenChoice, "error", err)
		writeTwiML(w, script.ConfusedResponse())
		return
	}
	writeTwiML(w, verbs)
}

// handleFinalClimax plays the outcome of the final puzzle.
func (s *Server) handleFinalClimax(w http.ResponseWriter, r *http.Request) {
	result := chi.URLParam(r, "result")
	if result != "right" && result != "wrong" {
		writeError(w, http.StatusBadRequest, "invalid result")
		return
	}

	verbs, err := s.playlists.FinalClimax(r.Context(), result == "right")
	if err != nil {
		s.logger.Error("final climax playlist", "result", result, "error", err)
		writeTwiML(w, script.ConfusedResponse())
		return
	}
	writeTwiML(w, verbs)
}

// record appends to the call log when one is wired.
func (s *Server) record(ctx context.Context, e calllog.Entry) {
	if s.log != nil {
		s.log.Record(ctx, e)
	}
}
