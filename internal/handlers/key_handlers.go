package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/akagifreeez/deepl-quota-monitor/internal/models"
	"github.com/akagifreeez/deepl-quota-monitor/internal/services"
)

// KeyHandler serves API key CRUD.
type KeyHandler struct {
	registry *services.Registry
}

func NewKeyHandler(registry *services.Registry) *KeyHandler {
	return &KeyHandler{registry: registry}
}

// CreateKey registers a single key.
// POST /api/v1/keys
func (h *KeyHandler) CreateKey(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Name    string `json:"name"`
		Secret  string `json:"secret"`
		GroupID int64  `json:"group_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		respondError(w, models.Validationf("invalid request body"))
		return
	}

	key, err := h.registry.CreateKey(r.Context(), input.Name, input.Secret, input.GroupID)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, key)
}

// CreateKeysBulk registers many secrets into one group. Already-registered
// or empty secrets are reported back as skipped, not errors.
// POST /api/v1/keys/bulk
func (h *KeyHandler) CreateKeysBulk(w http.ResponseWriter, r *http.Request) {
	var input struct {
		GroupID int64    `json:"group_id"`
		Secrets []string `json:"secrets"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		respondError(w, models.Validationf("invalid request body"))
		return
	}

	created, skipped, err := h.registry.CreateKeys(r.Context(), input.GroupID, input.Secrets)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"created": created,
		"skipped": skipped,
	})
}

// UpdateKey renames a key.
// PUT /api/v1/keys/{id}
func (h *KeyHandler) UpdateKey(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		respondError(w, err)
		return
	}

	var input struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		respondError(w, models.Validationf("invalid request body"))
		return
	}

	key, err := h.registry.UpdateKey(r.Context(), id, input.Name)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, key)
}

// DeleteKey removes a key and its usage records.
// DELETE /api/v1/keys/{id}
func (h *KeyHandler) DeleteKey(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		respondError(w, err)
		return
	}

	if err := h.registry.DeleteKey(r.Context(), id); err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
