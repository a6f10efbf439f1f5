package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/akagifreeez/deepl-quota-monitor/internal/models"
	"github.com/akagifreeez/deepl-quota-monitor/internal/services"
	"github.com/akagifreeez/deepl-quota-monitor/internal/workers"
)

// GroupHandler serves group CRUD and scheduler control. Every mutation
// resyncs the poller so the task registry always matches the stored state.
type GroupHandler struct {
	registry *services.Registry
	poller   *workers.GroupPoller
}

func NewGroupHandler(registry *services.Registry, poller *workers.GroupPoller) *GroupHandler {
	return &GroupHandler{registry: registry, poller: poller}
}

// ListGroups returns all groups with key counts.
// GET /api/v1/groups
func (h *GroupHandler) ListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.registry.ListGroups(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, groups)
}

// CreateGroup creates a group and schedules its polling task.
// POST /api/v1/groups
func (h *GroupHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Name          string `json:"name"`
		QueryInterval int    `json:"query_interval"`
		IsActive      *bool  `json:"is_active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		respondError(w, models.Validationf("invalid request body"))
		return
	}

	isActive := true
	if input.IsActive != nil {
		isActive = *input.IsActive
	}

	group, err := h.registry.CreateGroup(r.Context(), input.Name, input.QueryInterval, isActive)
	if err != nil {
		respondError(w, err)
		return
	}

	h.poller.SyncGroup(*group)
	respondJSON(w, http.StatusCreated, group)
}

// UpdateGroup mutates name/interval/active and resyncs the task.
// PUT /api/v1/groups/{id}
func (h *GroupHandler) UpdateGroup(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		respondError(w, err)
		return
	}

	var params services.UpdateGroupParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		respondError(w, models.Validationf("invalid request body"))
		return
	}

	group, err := h.registry.UpdateGroup(r.Context(), id, params)
	if err != nil {
		respondError(w, err)
		return
	}

	h.poller.SyncGroup(*group)
	respondJSON(w, http.StatusOK, group)
}

// DeleteGroup stops the group's task and cascades the delete to its keys
// and their records.
// DELETE /api/v1/groups/{id}
func (h *GroupHandler) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		respondError(w, err)
		return
	}

	if err := h.registry.DeleteGroup(r.Context(), id); err != nil {
		respondError(w, err)
		return
	}

	h.poller.StopGroup(id)
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// CheckNow triggers an immediate out-of-band check for one group. The call
// acks right away; the check runs in the background and progress shows up in
// the summary's last_check and the scheduler status.
// POST /api/v1/groups/{id}/check-now
func (h *GroupHandler) CheckNow(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		respondError(w, err)
		return
	}

	if err := h.poller.CheckNow(r.Context(), id); err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{
		"status":  "accepted",
		"message": fmt.Sprintf("usage check started for group %d", id),
	})
}

// SchedulerStatus lists the running polling tasks.
// GET /api/v1/scheduler/status
func (h *GroupHandler) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	tasks := h.poller.Status()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"running_tasks": len(tasks),
		"tasks":         tasks,
	})
}
