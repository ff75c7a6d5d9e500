package services

import (
	"context"
	"io"

	"github.com/lostradar/lostradar/internal/models"
)

// The coordinators accept these capability interfaces so the concrete
// MinIO/Postgres/Qdrant clients stay swappable and the orchestration logic
// stays testable against fakes.

// ObjectStorage stores raw image bytes.
type ObjectStorage interface {
	Put(ctx context.Context, reader io.Reader, filename, contentType string, size int64) (key, url string, err error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	KeyFromURL(imageURL string) string
}

// Embedder converts images or text into fixed-dimension vectors.
type Embedder interface {
	EmbedImage(ctx context.Context, data []byte) ([]float32, error)
	EmbedText(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// VectorIndex is the similarity-search side of an item.
type VectorIndex interface {
	Insert(ctx context.Context, item *models.Item, vector []float32) error
	Search(ctx context.Context, vector []float32, limit int, threshold float32) ([]models.SearchHit, error)
	Fetch(ctx context.Context, itemID string) (*models.Item, error)
	Delete(ctx context.Context, itemID string) error
}

// MetadataRepo is the relational side of an item.
type MetadataRepo interface {
	Upsert(ctx context.Context, item *models.Item) error
	Get(ctx context.Context, id string) (*models.Item, error)
	FetchByIDs(ctx context.Context, ids []string) ([]*models.Item, error)
	DeleteByID(ctx context.Context, id string) error
}

// EventPublisher announces item lifecycle transitions to interested
// downstream consumers. Publishing is best effort; failures are logged by
// the implementation and never fail the triggering operation.
type EventPublisher interface {
	ItemIndexed(ctx context.Context, item *models.Item)
	ItemDeleted(ctx context.Context, itemID string)
}
