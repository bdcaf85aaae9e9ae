package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ringtail/che/internal/create"
	"github.com/ringtail/che/internal/events"
	"github.com/ringtail/che/internal/models"
	"github.com/ringtail/che/internal/notify"
	"github.com/ringtail/che/internal/panel"
	"github.com/ringtail/che/internal/storage"
	"github.com/ringtail/che/internal/tracker"
	"github.com/ringtail/che/internal/workspace"
)

// Tracker is the part of *tracker.Tracker the HTTP shim drives.
type Tracker interface {
	Machines(ctx context.Context) ([]*models.Machine, error)
	Machine(ctx context.Context, id string) (*models.Machine, bool, error)
	Select(ctx context.Context, workspaceID, machineID string) error
	Selection(ctx context.Context) (tracker.SelectionState, error)
	Refresh(ctx context.Context, workspaceID string) error
	Publish(ctx context.Context, ev events.Event) error
}

// Deps are the components behind the HTTP API. Journal, Creator and Chaos are
// optional; their endpoints answer 503 when absent.
type Deps struct {
	Tracker       Tracker
	Panel         *panel.View
	Notifications *notify.Manager
	Journal       *storage.Journal
	Creator       *create.Service
	Chaos         *workspace.Chaos
	WorkspaceID   string
	Logger        *zap.Logger
}

type Handler struct {
	Deps
	log *zap.Logger
}

func NewHTTPHandler(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	h := &Handler{Deps: d, log: d.Logger.Named("http")}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ping", h.handlePing)
	mux.HandleFunc("GET /machines", h.handleMachines)
	mux.HandleFunc("GET /get", h.handleGet)
	mux.HandleFunc("GET /history", h.handleHistory)
	mux.HandleFunc("POST /select", h.handleSelect)
	mux.HandleFunc("GET /selection", h.handleSelection)
	mux.HandleFunc("GET /panel", h.handlePanel)
	mux.HandleFunc("GET /notifications", h.handleNotifications)
	mux.HandleFunc("POST /events", h.handleEvents)
	mux.HandleFunc("POST /refresh", h.handleRefresh)
	mux.HandleFunc("GET /recipes", h.handleRecipes)
	mux.HandleFunc("POST /create", h.handleCreate)

	mux.HandleFunc("POST /chaos/partition", h.handlePartition)
	mux.HandleFunc("POST /chaos/heal", h.handleHeal)
	mux.HandleFunc("POST /chaos/latency", h.handleLatency)

	return mux
}

func (h *Handler) handlePing(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"msg": "pong from machined http"})
}

func (h *Handler) handleMachines(w http.ResponseWriter, r *http.Request) {
	ms, err := h.Tracker.Machines(r.Context())
	if err != nil {
		h.trackerError(w, err)
		return
	}
	if ms == nil {
		ms = []*models.Machine{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"machines": ms})
}

// handleGet answers from the registry, then from the last-known record.
func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "id required")
		return
	}

	ctx := r.Context()
	m, ok, err := h.Tracker.Machine(ctx, id)
	if err != nil {
		h.trackerError(w, err)
		return
	}
	if ok {
		writeJSON(w, http.StatusOK, map[string]any{"source": "registry", "machine": m})
		return
	}

	if h.Journal != nil {
		m, err := h.Journal.Machine(ctx, id)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, map[string]any{"source": "journal", "machine": m})
			return
		case !errors.Is(err, storage.ErrNotFound):
			h.log.Error("read last-known machine", zap.String("machine_id", id), zap.Error(err))
			h.writeError(w, http.StatusInternalServerError, "failed to read machine")
			return
		}
	}
	h.writeError(w, http.StatusNotFound, "machine not found")
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	if h.Journal == nil {
		h.writeError(w, http.StatusServiceUnavailable, "journal disabled")
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "id required")
		return
	}
	limit, ok := h.limit(w, r)
	if !ok {
		return
	}
	recs, err := h.Journal.History(r.Context(), id, limit)
	if err != nil {
		h.log.Error("read history", zap.String("machine_id", id), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "failed to read history")
		return
	}
	if recs == nil {
		recs = []models.EventRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"machine_id": id, "events": recs})
}

func (h *Handler) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WorkspaceID string `json:"workspace_id"`
		MachineID   string `json:"machine_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if req.MachineID == "" {
		h.writeError(w, http.StatusBadRequest, "machine_id required")
		return
	}
	if req.WorkspaceID == "" {
		req.WorkspaceID = h.WorkspaceID
	}
	if err := h.Tracker.Select(r.Context(), req.WorkspaceID, req.MachineID); err != nil {
		h.trackerError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "selecting", "machine_id": req.MachineID})
}

func (h *Handler) handleSelection(w http.ResponseWriter, r *http.Request) {
	st, err := h.Tracker.Selection(r.Context())
	if err != nil {
		h.trackerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) handlePanel(w http.ResponseWriter, _ *http.Request) {
	if h.Panel == nil {
		h.writeError(w, http.StatusServiceUnavailable, "panel disabled")
		return
	}
	writeJSON(w, http.StatusOK, h.Panel.Snapshot())
}

func (h *Handler) handleNotifications(w http.ResponseWriter, r *http.Request) {
	if h.Notifications == nil {
		h.writeError(w, http.StatusServiceUnavailable, "notifications disabled")
		return
	}
	limit, ok := h.limit(w, r)
	if !ok {
		return
	}
	ns := h.Notifications.Recent(limit)
	if ns == nil {
		ns = []models.Notification{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": ns})
}

// handleEvents injects a lifecycle or workspace event as if it came off the
// bus.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	ev, err := events.Decode(data)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if ev.EventKind() == events.KindMachineState {
		h.writeError(w, http.StatusBadRequest, "machine.state events are produced by the tracker")
		return
	}
	if err := h.Tracker.Publish(r.Context(), ev); err != nil {
		h.trackerError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "kind": string(ev.EventKind())})
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WorkspaceID string `json:"workspace_id"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
			return
		}
	}
	if req.WorkspaceID == "" {
		req.WorkspaceID = h.WorkspaceID
	}
	if req.WorkspaceID == "" {
		h.writeError(w, http.StatusBadRequest, "workspace_id required")
		return
	}
	if err := h.Tracker.Refresh(r.Context(), req.WorkspaceID); err != nil {
		h.trackerError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "refreshing", "workspace_id": req.WorkspaceID})
}

type recipeView struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Type      string   `json:"type"`
	Tags      []string `json:"tags,omitempty"`
	ScriptURL string   `json:"script_url,omitempty"`
}

func (h *Handler) handleRecipes(w http.ResponseWriter, r *http.Request) {
	if h.Creator == nil {
		h.writeError(w, http.StatusServiceUnavailable, "machine creation disabled")
		return
	}
	rs, err := h.Creator.SearchRecipes(r.Context(), create.ParseTags(r.URL.Query().Get("tags")))
	if err != nil {
		h.log.Warn("recipe search", zap.Error(err))
		h.writeError(w, http.StatusBadGateway, "recipe search failed")
		return
	}
	out := make([]recipeView, 0, len(rs))
	for _, rc := range rs {
		out = append(out, recipeView{ID: rc.ID, Name: rc.Name, Type: rc.Type, Tags: rc.Tags, ScriptURL: rc.ScriptURL()})
	}
	writeJSON(w, http.StatusOK, map[string]any{"recipes": out})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	if h.Creator == nil {
		h.writeError(w, http.StatusServiceUnavailable, "machine creation disabled")
		return
	}
	var req struct {
		create.Form
		ReplaceDev bool `json:"replace_dev"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	ctx := r.Context()
	var (
		d   *models.MachineDescriptor
		err error
	)
	if req.ReplaceDev {
		d, err = h.Creator.ReplaceDevMachine(ctx, req.Form)
	} else {
		d, err = h.Creator.Create(ctx, req.Form)
	}
	switch {
	case errors.Is(err, create.ErrInvalidForm):
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.log.Error("create machine", zap.String("name", req.Name), zap.Error(err))
		h.writeError(w, http.StatusBadGateway, "failed to create machine")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":     d.ID,
		"name":   d.Config.Name,
		"status": d.Status,
		"dev":    d.Config.Dev,
	})
}

type chaosRequest struct {
	WorkspaceID string `json:"workspace_id"`
	LatencyMs   int    `json:"latency_ms"`
}

func (h *Handler) chaosBody(w http.ResponseWriter, r *http.Request) (chaosRequest, bool) {
	var body chaosRequest
	if h.Chaos == nil {
		h.writeError(w, http.StatusServiceUnavailable, "chaos disabled")
		return body, false
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	if body.WorkspaceID == "" {
		h.writeError(w, http.StatusBadRequest, "workspace_id required")
		return body, false
	}
	return body, true
}

func (h *Handler) handlePartition(w http.ResponseWriter, r *http.Request) {
	body, ok := h.chaosBody(w, r)
	if !ok {
		return
	}
	h.Chaos.Partition(body.WorkspaceID)
	writeJSON(w, http.StatusOK, map[string]string{
		"status":       "partitioned",
		"workspace_id": body.WorkspaceID,
	})
}

func (h *Handler) handleHeal(w http.ResponseWriter, r *http.Request) {
	body, ok := h.chaosBody(w, r)
	if !ok {
		return
	}
	h.Chaos.Heal(body.WorkspaceID)
	writeJSON(w, http.StatusOK, map[string]string{
		"status":       "healed",
		"workspace_id": body.WorkspaceID,
	})
}

func (h *Handler) handleLatency(w http.ResponseWriter, r *http.Request) {
	body, ok := h.chaosBody(w, r)
	if !ok {
		return
	}
	if err := h.Chaos.SetLatency(body.WorkspaceID, time.Duration(body.LatencyMs)*time.Millisecond); err != nil {
		h.writeError(w, http.StatusBadRequest, "latency_ms must be non-negative")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "latency_set",
		"workspace_id": body.WorkspaceID,
		"latency_ms":   body.LatencyMs,
	})
}

func (h *Handler) limit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		h.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return 0, false
	}
	return n, true
}

func (h *Handler) trackerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tracker.ErrStopped):
		h.writeError(w, http.StatusServiceUnavailable, "tracker stopped")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		h.writeError(w, http.StatusGatewayTimeout, err.Error())
	default:
		h.log.Error("tracker call", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
	h.log.Info("request failed", zap.Int("status", status), zap.String("error", msg))
}
