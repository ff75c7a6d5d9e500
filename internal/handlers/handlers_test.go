package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lostradar/lostradar/internal/faults"
	"github.com/lostradar/lostradar/internal/models"
	"github.com/lostradar/lostradar/internal/services"
)

type stubEmbedder struct{ dim int }

func (s stubEmbedder) EmbedImage(context.Context, []byte) ([]float32, error) {
	return make([]float32, s.dim), nil
}

func (s stubEmbedder) EmbedText(context.Context, string) ([]float32, error) {
	return make([]float32, s.dim), nil
}

func (s stubEmbedder) Dimension() int { return s.dim }

type stubIndex struct {
	hits      []models.SearchHit
	searchErr error
}

func (s stubIndex) Insert(context.Context, *models.Item, []float32) error { return nil }

func (s stubIndex) Search(context.Context, []float32, int, float32) ([]models.SearchHit, error) {
	if s.searchErr != nil {
		return nil, s.searchErr
	}
	return s.hits, nil
}

func (s stubIndex) Fetch(context.Context, string) (*models.Item, error) {
	return nil, faults.Tagf(faults.ErrNotFound, "not indexed")
}

func (s stubIndex) Delete(context.Context, string) error { return nil }

type stubLister struct {
	items []*models.Item
	err   error
}

func (s stubLister) ListRecent(context.Context, int) ([]*models.Item, error) {
	return s.items, s.err
}

func TestHeaderAuthenticator(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    models.Principal
		wantErr bool
	}{
		{
			"full identity",
			map[string]string{"X-User-Id": "u1", "X-User-Email": "u@example.com", "X-User-Admin": "true"},
			models.Principal{ID: "u1", Email: "u@example.com", Admin: true},
			false,
		},
		{
			"non-admin",
			map[string]string{"X-User-Id": "u2", "X-User-Admin": "false"},
			models.Principal{ID: "u2"},
			false,
		},
		{"missing id", map[string]string{"X-User-Email": "u@example.com"}, models.Principal{}, true},
		{"no headers", nil, models.Principal{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}

			principal, err := HeaderAuthenticator{}.Authenticate(r)
			if tt.wantErr {
				require.ErrorIs(t, err, faults.ErrAuth)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, principal)
		})
	}
}

func TestStatusHandler(t *testing.T) {
	tracker := services.NewMemoryStatusTracker(time.Hour)
	t.Cleanup(tracker.Close)
	tracker.Set("known", models.StateComplete, "")

	h := NewHandler(nil, nil, tracker, nil, nil, HeaderAuthenticator{}, nil)

	tests := []struct {
		name       string
		query      string
		wantStatus int
	}{
		{"known item", "?itemId=known", http.StatusOK},
		{"unknown item", "?itemId=missing", http.StatusNotFound},
		{"missing parameter", "", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/status"+tt.query, nil)
			w := httptest.NewRecorder()

			h.StatusHandler(w, r)
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func imageForm(t *testing.T, size int) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("image", "photo.jpg")
	require.NoError(t, err)
	_, err = fw.Write(bytes.Repeat([]byte{0xAB}, size))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestUploadHandlerRejectsOversizedImage(t *testing.T) {
	h := NewHandler(nil, nil, nil, nil, nil, HeaderAuthenticator{}, nil)

	body, contentType := imageForm(t, maxUploadBytes+4096)
	r := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	r.Header.Set("Content-Type", contentType)
	r.Header.Set("X-User-Id", "u1")
	w := httptest.NewRecorder()

	h.UploadHandler(w, r)
	assert.Equal(t, http.StatusBadRequest, w.Code, "oversized image must be rejected, never truncated")
}

func TestUploadHandlerAcceptsImageAtLimit(t *testing.T) {
	// Stops at the type-validation step, proving the size check let an
	// exactly-at-limit image through.
	h := NewHandler(nil, nil, nil, nil, nil, HeaderAuthenticator{}, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("image", "photo.jpg")
	require.NoError(t, err)
	_, err = fw.Write(bytes.Repeat([]byte{0xAB}, maxUploadBytes))
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("item_type", "stolen"))
	require.NoError(t, mw.Close())

	r := httptest.NewRequest(http.MethodPost, "/api/upload", &buf)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	r.Header.Set("X-User-Id", "u1")
	w := httptest.NewRecorder()

	h.UploadHandler(w, r)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "item type")
}

func TestSearchImageHandlerRejectsOversizedImage(t *testing.T) {
	h := NewHandler(nil, nil, nil, nil, nil, HeaderAuthenticator{}, nil)

	body, contentType := imageForm(t, maxUploadBytes+4096)
	r := httptest.NewRequest(http.MethodPost, "/api/search/image", body)
	r.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()

	h.SearchImageHandler(w, r)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSearchTextHandler(t *testing.T) {
	index := stubIndex{hits: []models.SearchHit{
		{ItemID: "a", Score: 0.9, Title: "wallet"},
	}}
	search := services.NewSearchCoordinator(stubEmbedder{dim: 4}, index, nil)
	h := NewHandler(nil, search, nil, nil, nil, HeaderAuthenticator{}, nil)

	body := strings.NewReader(`{"query": "black wallet", "limit": 5}`)
	r := httptest.NewRequest(http.MethodPost, "/api/search/text", body)
	w := httptest.NewRecorder()

	h.SearchTextHandler(w, r)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Hits []models.SearchHit `json:"hits"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Hits, 1)
	assert.Equal(t, "a", resp.Hits[0].ItemID)
	assert.Equal(t, float32(0.9), resp.Hits[0].Score)
}

func TestSearchTextHandlerEmptyQuery(t *testing.T) {
	search := services.NewSearchCoordinator(stubEmbedder{dim: 4}, stubIndex{}, nil)
	h := NewHandler(nil, search, nil, nil, nil, HeaderAuthenticator{}, nil)

	r := httptest.NewRequest(http.MethodPost, "/api/search/text", strings.NewReader(`{"query": "  "}`))
	w := httptest.NewRecorder()

	h.SearchTextHandler(w, r)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSearchTextHandlerStoreOutage(t *testing.T) {
	index := stubIndex{searchErr: faults.Tagf(faults.ErrStore, "unreachable")}
	search := services.NewSearchCoordinator(stubEmbedder{dim: 4}, index, nil)
	h := NewHandler(nil, search, nil, nil, nil, HeaderAuthenticator{}, nil)

	r := httptest.NewRequest(http.MethodPost, "/api/search/text", strings.NewReader(`{"query": "keys"}`))
	w := httptest.NewRecorder()

	h.SearchTextHandler(w, r)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestListItemsHandler(t *testing.T) {
	lister := stubLister{items: []*models.Item{{ID: "a", Title: "wallet"}}}
	h := NewHandler(nil, nil, nil, lister, nil, HeaderAuthenticator{}, nil)

	r := httptest.NewRequest(http.MethodGet, "/api/items", nil)
	w := httptest.NewRecorder()

	h.ListItemsHandler(w, r)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Items []*models.Item `json:"items"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "a", resp.Items[0].ID)
}

func TestListItemsHandlerEmptyIsArray(t *testing.T) {
	h := NewHandler(nil, nil, nil, stubLister{}, nil, HeaderAuthenticator{}, nil)

	r := httptest.NewRequest(http.MethodGet, "/api/items", nil)
	w := httptest.NewRecorder()

	h.ListItemsHandler(w, r)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"items":[]`)
}

type stubOwnerLister struct {
	hits      []models.SearchHit
	lastOwner string
}

func (s *stubOwnerLister) ListByOwner(_ context.Context, ownerID string, _ int) ([]models.SearchHit, error) {
	s.lastOwner = ownerID
	return s.hits, nil
}

func TestMyItemsHandler(t *testing.T) {
	lister := &stubOwnerLister{hits: []models.SearchHit{{ItemID: "a", Title: "wallet"}}}
	h := NewHandler(nil, nil, nil, nil, lister, HeaderAuthenticator{}, nil)

	r := httptest.NewRequest(http.MethodGet, "/api/items/mine", nil)
	r.Header.Set("X-User-Id", "u1")
	w := httptest.NewRecorder()

	h.MyItemsHandler(w, r)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "u1", lister.lastOwner)

	var resp struct {
		Items []models.SearchHit `json:"items"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "a", resp.Items[0].ItemID)
}

func TestMyItemsHandlerRequiresIdentity(t *testing.T) {
	h := NewHandler(nil, nil, nil, nil, &stubOwnerLister{}, HeaderAuthenticator{}, nil)

	r := httptest.NewRequest(http.MethodGet, "/api/items/mine", nil)
	w := httptest.NewRecorder()

	h.MyItemsHandler(w, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHealthCheckHandler(t *testing.T) {
	checks := map[string]HealthChecker{
		"postgres": func(context.Context) error { return nil },
		"qdrant":   func(context.Context) error { return faults.Tagf(faults.ErrConnection, "dial refused") },
	}
	h := NewHandler(nil, nil, nil, nil, nil, HeaderAuthenticator{}, checks)

	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	h.HealthCheckHandler(w, r)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp struct {
		Healthy    bool              `json:"healthy"`
		Components map[string]string `json:"components"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Healthy)
	assert.Equal(t, "ok", resp.Components["postgres"])
	assert.Contains(t, resp.Components["qdrant"], "dial refused")
}

func TestHealthCheckHandlerAllHealthy(t *testing.T) {
	checks := map[string]HealthChecker{
		"postgres": func(context.Context) error { return nil },
	}
	h := NewHandler(nil, nil, nil, nil, nil, HeaderAuthenticator{}, checks)

	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	h.HealthCheckHandler(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWriteErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", faults.Tagf(faults.ErrValidation, "missing title"), http.StatusBadRequest},
		{"auth", faults.Tagf(faults.ErrAuth, "no identity"), http.StatusUnauthorized},
		{"forbidden", faults.Tagf(faults.ErrForbidden, "not the owner"), http.StatusForbidden},
		{"not found", faults.Tagf(faults.ErrNotFound, "item x"), http.StatusNotFound},
		{"connection", faults.Tagf(faults.ErrConnection, "dial refused"), http.StatusBadGateway},
		{"vector store", faults.Tagf(faults.ErrStore, "upsert failed"), http.StatusBadGateway},
		{"object storage", faults.Tagf(faults.ErrStorage, "bucket gone"), http.StatusInternalServerError},
		{"embedding", faults.Tagf(faults.ErrEmbedding, "model down"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			writeError(w, tt.err)
			assert.Equal(t, tt.want, w.Code)

			var resp map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp["error"])
		})
	}
}
