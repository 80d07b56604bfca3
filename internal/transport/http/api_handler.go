package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/aenulfahir/tryoutkan-main-sub001/internal/app"
	"github.com/aenulfahir/tryoutkan-main-sub001/internal/domain"
)

// APIHandler exposes the read-side and the non-socket session operations:
// starting an attempt, the resume-on-reload lookup, score results, and the
// package leaderboard.
type APIHandler struct {
	sessions *app.SessionService
	rankings *app.RankingService
	log      *zap.Logger
}

func NewAPIHandler(sessions *app.SessionService, rankings *app.RankingService, log *zap.Logger) *APIHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &APIHandler{sessions: sessions, rankings: rankings, log: log}
}

// Register mounts the routes on a mux.
func (h *APIHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/sessions/start", h.handleStart)
	mux.HandleFunc("/sessions/active", h.handleActive)
	mux.HandleFunc("/sessions/submit", h.handleSubmit)
	mux.HandleFunc("/results", h.handleResult)
	mux.HandleFunc("/rankings", h.handleRankings)
}

// currentUserID resolves the caller identity. Authentication itself is an
// external collaborator; the engine only needs the ID for ownership checks.
func currentUserID(r *http.Request) string {
	if id := r.Header.Get("X-User-ID"); id != "" {
		return id
	}
	return r.URL.Query().Get("userId")
}

func (h *APIHandler) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID := currentUserID(r)
	packageID := r.URL.Query().Get("packageId")
	if userID == "" || packageID == "" {
		http.Error(w, "missing userId or packageId", http.StatusBadRequest)
		return
	}

	session, err := h.sessions.StartSession(r.Context(), userID, packageID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, session)
}

func (h *APIHandler) handleActive(w http.ResponseWriter, r *http.Request) {
	userID := currentUserID(r)
	packageID := r.URL.Query().Get("packageId")
	if userID == "" || packageID == "" {
		http.Error(w, "missing userId or packageId", http.StatusBadRequest)
		return
	}

	session, err := h.sessions.GetActiveSession(r.Context(), userID, packageID)
	if errors.Is(err, domain.ErrSessionNotFound) {
		// The resume-on-reload UI treats "no active session" as a normal
		// answer, not a failure.
		h.writeJSON(w, nil)
		return
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, session)
}

func (h *APIHandler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID := currentUserID(r)
	sessionID := r.URL.Query().Get("sessionId")
	if userID == "" || sessionID == "" {
		http.Error(w, "missing userId or sessionId", http.StatusBadRequest)
		return
	}

	result, err := h.sessions.Submit(r.Context(), sessionID, userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, result)
}

func (h *APIHandler) handleResult(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		http.Error(w, "missing sessionId", http.StatusBadRequest)
		return
	}

	result, err := h.sessions.GetScoreResult(r.Context(), sessionID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, result)
}

func (h *APIHandler) handleRankings(w http.ResponseWriter, r *http.Request) {
	packageID := r.URL.Query().Get("packageId")
	if packageID == "" {
		http.Error(w, "missing packageId", http.StatusBadRequest)
		return
	}

	entries, err := h.rankings.Rankings(r.Context(), packageID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, entries)
}

func (h *APIHandler) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Debug("write response failed", zap.Error(err))
	}
}

func (h *APIHandler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, domain.ErrPackageNotFound),
		errors.Is(err, domain.ErrResultNotFound),
		errors.Is(err, domain.ErrQuestionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrIndexOutOfRange):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrNotOwner):
		status = http.StatusForbidden
	}
	http.Error(w, err.Error(), status)
}
