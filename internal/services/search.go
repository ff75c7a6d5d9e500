package services

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/lostradar/lostradar/internal/faults"
	"github.com/lostradar/lostradar/internal/models"
)

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 100
)

// SearchCoordinator answers "find items similar to this image/text". It
// embeds the query, runs the nearest-neighbor search and optionally
// enriches hits with metadata rows — always preserving the vector store's
// native rank order and passing scores through unmodified.
type SearchCoordinator struct {
	embedder Embedder
	index    VectorIndex
	metadata MetadataRepo // optional; nil disables the join
}

// NewSearchCoordinator wires the coordinator. metadata may be nil.
func NewSearchCoordinator(embedder Embedder, index VectorIndex, metadata MetadataRepo) *SearchCoordinator {
	return &SearchCoordinator{
		embedder: embedder,
		index:    index,
		metadata: metadata,
	}
}

// SearchByImage embeds the image and searches.
func (c *SearchCoordinator) SearchByImage(ctx context.Context, image []byte, limit int, threshold float32) ([]models.SearchHit, error) {
	if len(image) == 0 {
		return nil, faults.Tagf(faults.ErrValidation, "image is required")
	}
	vector, err := c.embedder.EmbedImage(ctx, image)
	if err != nil {
		return nil, err
	}
	return c.SearchByVector(ctx, vector, limit, threshold)
}

// SearchByText embeds the query string and searches.
func (c *SearchCoordinator) SearchByText(ctx context.Context, query string, limit int, threshold float32) ([]models.SearchHit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, faults.Tagf(faults.ErrValidation, "query is required")
	}
	vector, err := c.embedder.EmbedText(ctx, query)
	if err != nil {
		return nil, err
	}
	return c.SearchByVector(ctx, vector, limit, threshold)
}

// SearchByVector runs the similarity query. A dimension mismatch fails
// fast without touching the store — it signals model/schema skew that
// retrying cannot fix. Zero hits is an empty slice, not an error.
func (c *SearchCoordinator) SearchByVector(ctx context.Context, vector []float32, limit int, threshold float32) ([]models.SearchHit, error) {
	if len(vector) != c.embedder.Dimension() {
		return nil, faults.Tagf(faults.ErrDimensionMismatch,
			"query vector has %d dimensions, want %d", len(vector), c.embedder.Dimension())
	}

	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	hits, err := c.index.Search(ctx, vector, limit, threshold)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return []models.SearchHit{}, nil
	}

	return c.enrich(ctx, hits), nil
}

// enrich merges metadata rows into the hits by id. The vector store's
// original order and count are never changed: a missing or failing join
// degrades to the payload-only hit.
func (c *SearchCoordinator) enrich(ctx context.Context, hits []models.SearchHit) []models.SearchHit {
	if c.metadata == nil {
		return hits
	}

	ids := make([]string, len(hits))
	for i, hit := range hits {
		ids[i] = hit.ItemID
	}

	rows, err := c.metadata.FetchByIDs(ctx, ids)
	if err != nil {
		log.Warn().Err(err).Msg("Metadata join failed, returning payload-only hits")
		return hits
	}

	byID := make(map[string]*models.Item, len(rows))
	for _, row := range rows {
		byID[row.ID] = row
	}

	for i := range hits {
		row, ok := byID[hits[i].ItemID]
		if !ok {
			continue
		}
		hits[i].Title = row.Title
		hits[i].Description = row.Description
		hits[i].Location = row.Location
		hits[i].Type = row.Type
		hits[i].ImageURL = row.ImageURL
		hits[i].OwnerID = row.OwnerID
		hits[i].CreatedAt = row.CreatedAt
	}

	return hits
}
