package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/halpline/halpline/internal/api/middleware"
	"github.com/halpline/halpline/internal/phone"
	"github.com/halpline/halpline/internal/player"
)

// loginRequest is the body of POST /debug/login.
type loginRequest struct {
	Password string `json:"password"`
}

// loginResponse carries the minted operator token.
type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// handleLogin checks the operator password and mints a bearer token.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if s.cfg.AdminPasswordHash == "" {
		writeError(w, http.StatusForbidden, "debug access not configured")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(s.cfg.AdminPasswordHash), []byte(req.Password)); err != nil {
		s.logger.Warn("debug login rejected", "remote_addr", r.RemoteAddr)
		writeError(w, http.StatusUnauthorized, "invalid password")
		return
	}

	token, expiresAt, err := middleware.GenerateOperatorToken(s.cfg.JWTSecretBytes())
	if err != nil {
		s.logger.Error("minting operator token", "error", err)
		writeError(w, http.StatusInternalServerError, "could not issue token")
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{Token: token, ExpiresAt: expiresAt})
}

// handleListPlayers returns the E.164 keys of every stored player.
func (s *Server) handleListPlayers(w http.ResponseWriter, r *http.Request) {
	numbers, err := s.players.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing players failed")
		return
	}
	keys := make([]string, 0, len(numbers))
	for _, n := range numbers {
		keys = append(keys, n.E164())
	}
	writeJSON(w, http.StatusOK, keys)
}

// playerView pairs a player record with its number; the stored JSON
// omits the key.
type playerView struct {
	Number string `json:"number"`
	*player.Player
}

// handleGetPlayer returns one player's full record.
func (s *Server) handleGetPlayer(w http.ResponseWriter, r *http.Request) {
	number, err := phone.Parse(chi.URLParam(r, "number"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid number")
		return
	}

	p, err := s.players.Load(r.Context(), number)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "loading player failed")
		return
	}
	writeJSON(w, http.StatusOK, playerView{Number: number.E164(), Player: p})
}

// handleDeletePlayer resets a player completely.
func (s *Server) handleDeletePlayer(w http.ResponseWriter, r *http.Request) {
	number, err := phone.Parse(chi.URLParam(r, "number"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid number")
		return
	}

	if err := s.players.Delete(r.Context(), number); err != nil {
		writeError(w, http.StatusInternalServerError, "deleting player failed")
		return
	}
	s.logger.Info("player deleted", "player", number.E164())
	writeJSON(w, http.StatusOK, map[string]string{"deleted": number.E164()})
}

// handleRestorePlayer overwrites a player from a snapshot body. The
// restored record wins over any in-flight request: its generation
// advances past the stored one so stale saves get dropped.
func (s *Server) handleRestorePlayer(w http.ResponseWriter, r *http.Request) {
	number, err := phone.Parse(chi.URLParam(r, "number"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid number")
		return
	}

	p := player.New(number)
	if err := json.NewDecoder(r.Body).Decode(p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid player snapshot")
		return
	}
	p.Number = number

	if err := s.players.AdvanceGenerationTo(r.Context(), p); err != nil {
		writeError(w, http.StatusInternalServerError, "restoring player failed")
		return
	}
	s.logger.Info("player restored", "player", number.E164(), "generation", p.Generation)
	writeJSON(w, http.StatusOK, playerView{Number: number.E164(), Player: p})
}

// handleGetState returns the canonical shared script state.
func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	state, err := s.state.State(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "loading state failed")
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// handleBumpGeneration advances the shared-state generation so every
// process abandons its local copy on next sync.
func (s *Server) handleBumpGeneration(w http.ResponseWriter, r *http.Request) {
	if err := s.state.BumpGeneration(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "bumping generation failed")
		return
	}
	state, err := s.state.State(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "loading state failed")
		return
	}
	s.logger.Info("state generation bumped", "generation", state.Generation)
	writeJSON(w, http.StatusOK, state)
}

// handleListConferences returns the active conference records.
func (s *Server) handleListConferences(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.conferences.List())
}

// handleListCalls returns recent call log entries, newest first.
func (s *Server) handleListCalls(w http.ResponseWriter, r *http.Request) {
	if s.log == nil {
		writeError(w, http.StatusNotFound, "call log not enabled")
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	entries, err := s.log.ListRecent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "listing calls failed")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
