package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"beadboard/internal/models"
	"beadboard/internal/services/sync"

	"github.com/gorilla/mux"
)

// Handler handles HTTP requests.
type Handler struct {
	repo      IssueRepository
	hub       SyncCoordinator
	wsHandler *sync.WebSocketHandler // WebSocket for live subscriptions
	watcher   WorkspaceWatcher
}

func NewHandler(
	repo IssueRepository,
	hub SyncCoordinator,
	wsHandler *sync.WebSocketHandler,
	watcher WorkspaceWatcher,
) *Handler {
	return &Handler{
		repo:      repo,
		hub:       hub,
		wsHandler: wsHandler,
		watcher:   watcher,
	}
}

// Issue handlers. Every write goes through the bd CLI and then arms the
// mutation gate, so connected viewers pick the change up in one
// coalesced refresh instead of racing the write.

// ListIssues is a one-shot (non-subscribing) fetch through the same
// query vocabulary the sync protocol uses.
func (h *Handler) ListIssues(w http.ResponseWriter, r *http.Request) {
	params := make(map[string]any)
	for _, name := range []string{"status", "assignee", "type", "label", "priority_max"} {
		if v := r.URL.Query().Get(name); v != "" {
			params[name] = v
		}
	}

	spec := models.SubscriptionSpec{Type: "issues", Params: params}
	if err := spec.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, models.ErrCodeInvalidSpec, err)
		return
	}

	issues, err := h.repo.Fetch(r.Context(), spec)
	if err != nil {
		writeError(w, http.StatusBadGateway, models.ErrCodeFetchFailed, err)
		return
	}
	models.SortIssues(issues)

	writeJSON(w, http.StatusOK, map[string]any{
		"issues": issues,
		"count":  len(issues),
	})
}

func (h *Handler) CreateIssue(w http.ResponseWriter, r *http.Request) {
	var create models.IssueCreate
	if err := json.NewDecoder(r.Body).Decode(&create); err != nil {
		writeError(w, http.StatusBadRequest, models.ErrCodeBadMessage, err)
		return
	}
	if create.Title == "" {
		writeError(w, http.StatusBadRequest, models.ErrCodeBadMessage, fmt.Errorf("title is required"))
		return
	}

	created, err := h.repo.Create(r.Context(), &create)
	if err != nil {
		writeError(w, http.StatusBadGateway, models.ErrCodeFetchFailed, err)
		return
	}

	h.hub.AfterMutation()
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) UpdateIssue(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var update models.IssueUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeError(w, http.StatusBadRequest, models.ErrCodeBadMessage, err)
		return
	}

	if err := h.repo.Update(r.Context(), id, &update); err != nil {
		writeError(w, http.StatusBadGateway, models.ErrCodeFetchFailed, err)
		return
	}

	h.hub.AfterMutation()
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "updated": true})
}

func (h *Handler) CloseIssue(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var body struct {
		Reason string `json:"reason,omitempty"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, models.ErrCodeBadMessage, err)
			return
		}
	}

	if err := h.repo.CloseIssue(r.Context(), id, body.Reason); err != nil {
		writeError(w, http.StatusBadGateway, models.ErrCodeFetchFailed, err)
		return
	}

	h.hub.AfterMutation()
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "closed": true})
}

// SwitchWorkspace re-points the whole server at a different workspace:
// repository, watcher, then registry wipe + viewer broadcast.
func (h *Handler) SwitchWorkspace(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Path == "" {
		writeError(w, http.StatusBadRequest, models.ErrCodeBadMessage, fmt.Errorf("path is required"))
		return
	}

	h.repo.SetWorkspace(body.Path)
	if err := h.watcher.Repoint(body.Path); err != nil {
		writeError(w, http.StatusInternalServerError, models.ErrCodeFetchFailed, err)
		return
	}
	h.hub.SwitchWorkspace(body.Path)

	writeJSON(w, http.StatusOK, map[string]any{"path": body.Path, "switched": true})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	writeJSON(w, status, &models.WireError{
		Type:    models.MsgError,
		Code:    code,
		Message: err.Error(),
	})
}
