package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/lostradar/lostradar/internal/faults"
	"github.com/lostradar/lostradar/internal/models"
	"github.com/lostradar/lostradar/internal/services"
)

const maxUploadBytes = 10 << 20 // 10 MB

// HealthChecker is any component that can report liveness.
type HealthChecker func(ctx context.Context) error

// ItemLister serves the recent-items listing.
type ItemLister interface {
	ListRecent(ctx context.Context, limit int) ([]*models.Item, error)
}

// OwnerLister serves the caller's own reports, read straight from the
// index payloads so partially-ingested items without a metadata row still
// show up.
type OwnerLister interface {
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]models.SearchHit, error)
}

// Handler holds the thin HTTP entry points. All orchestration lives in the
// coordinators; handlers only translate transport input/output.
type Handler struct {
	ingest   *services.IngestionCoordinator
	search   *services.SearchCoordinator
	status   services.StatusTracker
	items    ItemLister
	ownItems OwnerLister
	auth     Authenticator
	listLen  int

	checks map[string]HealthChecker
}

// NewHandler creates the handler set.
func NewHandler(
	ingest *services.IngestionCoordinator,
	search *services.SearchCoordinator,
	status services.StatusTracker,
	items ItemLister,
	ownItems OwnerLister,
	auth Authenticator,
	checks map[string]HealthChecker,
) *Handler {
	return &Handler{
		ingest:   ingest,
		search:   search,
		status:   status,
		items:    items,
		ownItems: ownItems,
		auth:     auth,
		listLen:  50,
		checks:   checks,
	}
}

// UploadHandler accepts a multipart upload and starts ingestion. Responds
// 202: the vector indexing step finishes asynchronously and the client
// polls /api/status for completion.
func (h *Handler) UploadHandler(w http.ResponseWriter, r *http.Request) {
	principal, err := h.auth.Authenticate(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, faults.Tagf(faults.ErrValidation, "failed to parse form: %v", err))
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, faults.Tagf(faults.ErrValidation, "image file is required"))
		return
	}
	defer file.Close()

	image, err := readImage(file)
	if err != nil {
		writeError(w, err)
		return
	}

	itemType, err := models.ParseItemType(r.FormValue("item_type"))
	if err != nil {
		writeError(w, faults.Tag(faults.ErrValidation, err))
		return
	}

	input := services.UploadInput{
		Title:       r.FormValue("title"),
		Description: r.FormValue("description"),
		Location:    r.FormValue("location"),
		Type:        itemType,
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Image:       image,
	}

	item, err := h.ingest.Begin(r.Context(), input, principal)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"item_id":   item.ID,
		"image_url": item.ImageURL,
		"status":    "started",
	})
}

// StatusHandler reports the ingestion lifecycle state for one item.
func (h *Handler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	itemID := r.URL.Query().Get("itemId")
	if itemID == "" {
		writeError(w, faults.Tagf(faults.ErrValidation, "itemId is required"))
		return
	}

	status, ok := h.status.Get(itemID)
	if !ok {
		writeError(w, faults.Tagf(faults.ErrNotFound, "no status for item %s", itemID))
		return
	}

	writeJSON(w, http.StatusOK, status)
}

// SearchImageHandler runs a similarity query for an uploaded image.
func (h *Handler) SearchImageHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, faults.Tagf(faults.ErrValidation, "failed to parse form: %v", err))
		return
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		writeError(w, faults.Tagf(faults.ErrValidation, "image file is required"))
		return
	}
	defer file.Close()

	image, err := readImage(file)
	if err != nil {
		writeError(w, err)
		return
	}

	limit := formInt(r, "limit")
	threshold := formFloat(r, "threshold")

	hits, err := h.search.SearchByImage(r.Context(), image, limit, threshold)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"hits": hits})
}

type textSearchRequest struct {
	Query     string  `json:"query"`
	Limit     int     `json:"limit"`
	Threshold float32 `json:"threshold"`
}

// SearchTextHandler runs a similarity query for a text description.
func (h *Handler) SearchTextHandler(w http.ResponseWriter, r *http.Request) {
	var req textSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, faults.Tagf(faults.ErrValidation, "invalid request body: %v", err))
		return
	}

	hits, err := h.search.SearchByText(r.Context(), req.Query, req.Limit, req.Threshold)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"hits": hits})
}

type deleteRequest struct {
	ItemID string `json:"item_id"`
}

// DeleteHandler removes an item across all stores, owner or admin only.
func (h *Handler) DeleteHandler(w http.ResponseWriter, r *http.Request) {
	principal, err := h.auth.Authenticate(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req deleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, faults.Tagf(faults.ErrValidation, "invalid request body: %v", err))
		return
	}
	if req.ItemID == "" {
		writeError(w, faults.Tagf(faults.ErrValidation, "item_id is required"))
		return
	}

	if err := h.ingest.Remove(r.Context(), req.ItemID, principal); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// ListItemsHandler returns recent reports, newest first.
func (h *Handler) ListItemsHandler(w http.ResponseWriter, r *http.Request) {
	items, err := h.items.ListRecent(r.Context(), h.listLen)
	if err != nil {
		writeError(w, err)
		return
	}
	if items == nil {
		items = []*models.Item{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

// MyItemsHandler returns the caller's own reports.
func (h *Handler) MyItemsHandler(w http.ResponseWriter, r *http.Request) {
	principal, err := h.auth.Authenticate(r)
	if err != nil {
		writeError(w, err)
		return
	}

	items, err := h.ownItems.ListByOwner(r.Context(), principal.ID, h.listLen)
	if err != nil {
		writeError(w, err)
		return
	}
	if items == nil {
		items = []models.SearchHit{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

// HealthCheckHandler probes every wired dependency.
func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	result := make(map[string]string, len(h.checks))
	healthy := true

	for name, check := range h.checks {
		if err := check(r.Context()); err != nil {
			log.Warn().Err(err).Str("component", name).Msg("Health check failed")
			result[name] = err.Error()
			healthy = false
		} else {
			result[name] = "ok"
		}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]interface{}{
		"healthy":    healthy,
		"components": result,
	})
}

// readImage reads the uploaded file, rejecting anything over the size
// limit. Reading one byte past the limit distinguishes "too large" from
// "exactly at the limit"; truncating would ingest corrupt bytes.
func readImage(file io.Reader) ([]byte, error) {
	image, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		return nil, faults.Tagf(faults.ErrValidation, "failed to read image: %v", err)
	}
	if len(image) > maxUploadBytes {
		return nil, faults.Tagf(faults.ErrValidation, "image exceeds the %d byte limit", maxUploadBytes)
	}
	return image, nil
}

func formInt(r *http.Request, key string) int {
	v, err := strconv.Atoi(r.FormValue(key))
	if err != nil {
		return 0
	}
	return v
}

func formFloat(r *http.Request, key string) float32 {
	v, err := strconv.ParseFloat(r.FormValue(key), 32)
	if err != nil {
		return 0
	}
	return float32(v)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

// writeError maps the fault taxonomy onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, faults.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, faults.ErrAuth):
		status = http.StatusUnauthorized
	case errors.Is(err, faults.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, faults.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, faults.ErrConnection), errors.Is(err, faults.ErrStore):
		status = http.StatusBadGateway
	}

	if status >= 500 {
		log.Error().Err(err).Int("status", status).Msg("Request failed")
	}

	writeJSON(w, status, map[string]string{"error": err.Error()})
}
