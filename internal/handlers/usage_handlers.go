package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/akagifreeez/deepl-quota-monitor/internal/models"
	"github.com/akagifreeez/deepl-quota-monitor/internal/services"
)

// UsageHandler serves the dashboard-facing read surface: summary rows, key
// details with the latest snapshot, and hourly/daily series.
type UsageHandler struct {
	registry   *services.Registry
	store      *services.UsageStore
	aggregator *services.Aggregator
}

func NewUsageHandler(registry *services.Registry, store *services.UsageStore, aggregator *services.Aggregator) *UsageHandler {
	return &UsageHandler{registry: registry, store: store, aggregator: aggregator}
}

// GetSummary returns one row per key plus the fleet's active tally.
// GET /api/v1/summary
func (h *UsageHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.store.Summary(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"keys":         summaries,
		"active_count": services.ActiveCount(summaries),
	})
}

// GetKeyDetails returns a key's metadata, decrypted secret and latest usage.
// GET /api/v1/keys/{id}
func (h *UsageHandler) GetKeyDetails(w http.ResponseWriter, r *http.Request) {
	keyID, err := parseID(r)
	if err != nil {
		respondError(w, err)
		return
	}

	ctx := r.Context()
	key, err := h.registry.KeyByID(ctx, keyID, true)
	if err != nil {
		respondError(w, err)
		return
	}

	latest, err := h.store.Latest(ctx, keyID)
	if err != nil {
		respondError(w, err)
		return
	}

	groupName, err := h.registry.NameOf(ctx, key.GroupID)
	if err != nil {
		respondError(w, err)
		return
	}

	now := time.Now()
	count, limit := services.EffectiveCounts(key.ApiType, latest)

	resp := map[string]interface{}{
		"key":          key,
		"group_name":   groupName,
		"latest_usage": latest, // null when never checked
		"status":       services.Classify(key, latest, now),
		"is_expired":   services.IsExpired(key, now),
	}
	if latest != nil {
		resp["character_count"] = count
		resp["character_limit"] = limit
		resp["usage_percentage"] = services.UsagePercentage(count, limit)
	}

	respondJSON(w, http.StatusOK, resp)
}

// GetUsage returns hourly records or daily aggregates for a key.
// GET /api/v1/keys/{id}/usage?period=hour|day&window=24
func (h *UsageHandler) GetUsage(w http.ResponseWriter, r *http.Request) {
	keyID, err := parseID(r)
	if err != nil {
		respondError(w, err)
		return
	}

	ctx := r.Context()
	if _, err := h.registry.KeyByID(ctx, keyID, false); err != nil {
		respondError(w, err)
		return
	}

	period := r.URL.Query().Get("period")
	if period == "" {
		period = "hour"
	}
	window, _ := strconv.Atoi(r.URL.Query().Get("window"))

	switch period {
	case "hour":
		points, err := h.aggregator.Hourly(ctx, keyID, window)
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, points)
	case "day":
		aggregates, err := h.aggregator.Daily(ctx, keyID, window)
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, aggregates)
	default:
		respondError(w, models.Validationf("period must be 'hour' or 'day'"))
	}
}

func parseID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return 0, models.Validationf("invalid id")
	}
	return id, nil
}
