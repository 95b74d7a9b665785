// Package api exposes HTTP handlers for driving and inspecting a sync peer.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/activitysync/internal/auth"
	"example.com/activitysync/internal/domain"
	"example.com/activitysync/internal/session"
	"example.com/activitysync/internal/transport/httplink"
)

// Peer is the session surface the handlers drive. *session.Peer implements it.
type Peer interface {
	View() session.View
	Start(ctx context.Context, activityID string) (session.Result, error)
	StartRemote(ctx context.Context, activityID string) (session.Result, error)
	Pause(ctx context.Context) (session.Result, error)
	Resume(ctx context.Context) (session.Result, error)
	Skip(ctx context.Context) (session.Result, error)
	Extend(ctx context.Context, seconds int) (session.Result, error)
	Increment(ctx context.Context) (session.Result, error)
	Decrement(ctx context.Context) (session.Result, error)
	Abort(ctx context.Context) (session.Result, error)
	RequestActivityList(ctx context.Context) error
	RequestNavigateToList(ctx context.Context) error
	Activities(ctx context.Context) ([]domain.Activity, error)
	SaveActivity(ctx context.Context, activity domain.Activity) error
	DeleteActivity(ctx context.Context, id string) error
	History(ctx context.Context, limit int) ([]domain.CompletedActivity, error)
}

// Handler coordinates HTTP requests with the peer session.
type Handler struct {
	peer         Peer
	inbound      httplink.Receiver
	historyLimit int
}

// NewHandler builds a Handler. inbound receives tier-1 messages posted by the
// counterpart and may be nil when the immediate tier is disabled.
func NewHandler(peer Peer, inbound httplink.Receiver, historyLimit int) *Handler {
	if historyLimit <= 0 {
		historyLimit = 50
	}
	return &Handler{peer: peer, inbound: inbound, historyLimit: historyLimit}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/activities", h.activities)
	mux.HandleFunc("/v1/activities/", h.activityByID)
	mux.HandleFunc("/v1/run", h.run)
	mux.HandleFunc("/v1/run/", h.runAction)
	mux.HandleFunc("/v1/history", h.history)
	mux.HandleFunc("/v1/counterpart/", h.counterpart)
	if h.inbound != nil {
		mux.Handle(httplink.MessagesPath, requireScope(auth.ScopePeerSync, httplink.NewHandler(h.inbound)))
	}
	mux.HandleFunc(httplink.HealthPath, healthz)
	mux.Handle("/metrics", promhttp.Handler())
}

// healthz reports a simple OK status; the counterpart probes it for reachability.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func requireScope(scope string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !authorize(w, r, scope) {
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authorize writes the error response and returns false when the request
// carries none of the scopes.
func authorize(w http.ResponseWriter, r *http.Request, scopes ...string) bool {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return false
	}
	for _, scope := range scopes {
		if claims.HasScope(scope) {
			return true
		}
	}
	writeError(w, http.StatusForbidden, "forbidden", "scope "+scopes[0]+" required")
	return false
}

func (h *Handler) activities(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.saveActivity(w, r)
	case http.MethodGet:
		h.listActivities(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) activityByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/activities/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing activity id")
		return
	}

	switch r.Method {
	case http.MethodDelete:
		if !authorize(w, r, auth.ScopeActivitiesWrite) {
			return
		}
		if err := h.peer.DeleteActivity(r.Context(), id); err != nil {
			writeDomainError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) listActivities(w http.ResponseWriter, r *http.Request) {
	if !authorize(w, r, auth.ScopeActivitiesRead, auth.ScopeActivitiesWrite) {
		return
	}
	activities, err := h.peer.Activities(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ListActivitiesResponse{Items: activities})
}

func (h *Handler) saveActivity(w http.ResponseWriter, r *http.Request) {
	if !authorize(w, r, auth.ScopeActivitiesWrite) {
		return
	}

	var req SaveActivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	activity := req.toActivity()
	if err := h.peer.SaveActivity(r.Context(), activity); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, SaveActivityResponse{ActivityID: activity.ID, Tasks: len(activity.Tasks)})
}

func (h *Handler) run(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if !authorize(w, r, auth.ScopeRunControl, auth.ScopeActivitiesRead) {
		return
	}
	writeJSON(w, http.StatusOK, h.peer.View())
}

func (h *Handler) runAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if !authorize(w, r, auth.ScopeRunControl) {
		return
	}

	ctx := r.Context()
	action := strings.TrimPrefix(r.URL.Path, "/v1/run/")
	var (
		res session.Result
		err error
	)
	switch action {
	case "start":
		var req StartRunRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.ActivityID) == "" {
			writeError(w, http.StatusBadRequest, "validation_failed", "activity_id is required")
			return
		}
		if req.Remote {
			res, err = h.peer.StartRemote(ctx, req.ActivityID)
		} else {
			res, err = h.peer.Start(ctx, req.ActivityID)
		}
	case "pause":
		res, err = h.peer.Pause(ctx)
	case "resume":
		res, err = h.peer.Resume(ctx)
	case "skip":
		res, err = h.peer.Skip(ctx)
	case "extend":
		var req ExtendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Seconds <= 0 {
			writeError(w, http.StatusBadRequest, "validation_failed", "seconds must be > 0")
			return
		}
		res, err = h.peer.Extend(ctx, req.Seconds)
	case "increment":
		res, err = h.peer.Increment(ctx)
	case "decrement":
		res, err = h.peer.Decrement(ctx)
	case "abort":
		res, err = h.peer.Abort(ctx)
	default:
		writeError(w, http.StatusNotFound, "not_found", "unknown run action "+strconv.Quote(action))
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, RunActionResponse{Result: res, View: h.peer.View()})
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if !authorize(w, r, auth.ScopeActivitiesRead, auth.ScopeActivitiesWrite) {
		return
	}

	limit := h.historyLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	items, err := h.peer.History(r.Context(), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if items == nil {
		items = []domain.CompletedActivity{}
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Items: items})
}

// counterpart forwards list and navigation requests to the other peer.
func (h *Handler) counterpart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	if !authorize(w, r, auth.ScopeRunControl) {
		return
	}

	var err error
	switch strings.TrimPrefix(r.URL.Path, "/v1/counterpart/") {
	case "activity-list":
		err = h.peer.RequestActivityList(r.Context())
	case "navigate-to-list":
		err = h.peer.RequestNavigateToList(r.Context())
	default:
		writeError(w, http.StatusNotFound, "not_found", "unknown counterpart request")
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrActivityNotFound):
		writeError(w, http.StatusNotFound, "not_found", "activity not found")
	case errors.Is(err, domain.ErrInvalidTask), errors.Is(err, domain.ErrEmptyActivity):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, session.ErrRemoteRunActive):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, session.ErrStopped):
		writeError(w, http.StatusServiceUnavailable, "unavailable", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
