package services

import (
	"bytes"
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/lostradar/lostradar/internal/faults"
	"github.com/lostradar/lostradar/internal/models"
)

// IngestionCoordinator turns one upload into a consistent set of writes
// across the object store, the embedding provider, the metadata store and
// the vector index. The caller gets a fast synchronous answer; the
// highest-latency step (vector indexing) runs on the background pool and
// is observable via the status tracker.
//
// An item becomes discoverable by search if and only if the asynchronous
// insert succeeds. Every earlier side effect is compensated on failure so
// a half-ingested item never lingers.
type IngestionCoordinator struct {
	objects  ObjectStorage
	embedder Embedder
	index    VectorIndex
	metadata MetadataRepo
	status   StatusTracker
	runner   Runner
	events   EventPublisher
}

// NewIngestionCoordinator wires the coordinator. events may be nil when no
// broker is configured.
func NewIngestionCoordinator(
	objects ObjectStorage,
	embedder Embedder,
	index VectorIndex,
	metadata MetadataRepo,
	status StatusTracker,
	runner Runner,
	events EventPublisher,
) *IngestionCoordinator {
	return &IngestionCoordinator{
		objects:  objects,
		embedder: embedder,
		index:    index,
		metadata: metadata,
		status:   status,
		runner:   runner,
		events:   events,
	}
}

// UploadInput is one upload request after transport decoding.
type UploadInput struct {
	Title       string
	Description string
	Location    string
	Type        models.ItemType
	Filename    string
	ContentType string
	Image       []byte
}

func (in *UploadInput) validate() error {
	if strings.TrimSpace(in.Title) == "" {
		return faults.Tagf(faults.ErrValidation, "title is required")
	}
	if strings.TrimSpace(in.Location) == "" {
		return faults.Tagf(faults.ErrValidation, "location is required")
	}
	if len(in.Image) == 0 {
		return faults.Tagf(faults.ErrValidation, "image is required")
	}
	if in.Type != models.ItemTypeLost && in.Type != models.ItemTypeFound {
		return faults.Tagf(faults.ErrValidation, "item type must be lost or found")
	}
	return nil
}

// Begin runs the synchronous ingestion phase: validate, store the image,
// generate the embedding, write the metadata row. Indexing is scheduled on
// the background pool before returning.
//
// Synchronous failures compensate already-completed side effects, so a
// failed upload leaves the system in its pre-upload state.
func (c *IngestionCoordinator) Begin(ctx context.Context, in UploadInput, owner models.Principal) (*models.Item, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	if owner.ID == "" {
		return nil, faults.Tagf(faults.ErrAuth, "missing principal")
	}

	item := &models.Item{
		ID:          uuid.New().String(),
		Title:       in.Title,
		Description: in.Description,
		Location:    in.Location,
		Type:        in.Type,
		OwnerID:     owner.ID,
		CreatedAt:   time.Now().UTC(),
	}

	c.status.Set(item.ID, models.StateProcessing, "")

	key, url, err := c.objects.Put(ctx, bytes.NewReader(in.Image), in.Filename, in.ContentType, int64(len(in.Image)))
	if err != nil {
		c.status.Set(item.ID, models.StateError, "image upload failed")
		return nil, err
	}
	item.ImageKey = key
	item.ImageURL = url

	vector, err := c.embedder.EmbedImage(ctx, in.Image)
	if err != nil {
		c.compensate(ctx, item, false)
		c.status.Set(item.ID, models.StateError, "embedding generation failed")
		return nil, err
	}

	if err := c.metadata.Upsert(ctx, item); err != nil {
		c.compensate(ctx, item, false)
		c.status.Set(item.ID, models.StateError, "metadata write failed")
		return nil, err
	}

	c.runner.Submit("index-item", func(ctx context.Context) {
		c.finishIngestion(ctx, item, vector)
	})

	log.Info().
		Str("item_id", item.ID).
		Str("owner_id", item.OwnerID).
		Str("item_type", string(item.Type)).
		Msg("Ingestion started")

	return item, nil
}

// finishIngestion is the asynchronous phase: insert into the vector index.
// The index client retries internally; when it still fails, every earlier
// write is rolled back so no orphaned, unsearchable-but-referenced item
// remains.
func (c *IngestionCoordinator) finishIngestion(ctx context.Context, item *models.Item, vector []float32) {
	if err := c.index.Insert(ctx, item, vector); err != nil {
		log.Error().Err(err).Str("item_id", item.ID).Msg("Vector insert failed, rolling back")
		c.compensate(ctx, item, true)
		c.status.Set(item.ID, models.StateError, "indexing failed")
		return
	}

	c.status.Set(item.ID, models.StateComplete, "")
	if c.events != nil {
		c.events.ItemIndexed(ctx, item)
	}

	log.Info().Str("item_id", item.ID).Msg("Ingestion complete")
}

// compensate undoes completed side effects. Cleanup failures are logged
// but not propagated; the remaining blob is a storage-cost nuisance, and
// the status record tells the operator which item to sweep.
func (c *IngestionCoordinator) compensate(ctx context.Context, item *models.Item, metadataWritten bool) {
	if item.ImageKey != "" {
		if err := c.objects.Delete(ctx, item.ImageKey); err != nil {
			log.Error().Err(err).Str("item_id", item.ID).Str("key", item.ImageKey).Msg("Compensation: blob delete failed")
		}
	}
	if metadataWritten {
		if err := c.metadata.DeleteByID(ctx, item.ID); err != nil {
			log.Error().Err(err).Str("item_id", item.ID).Msg("Compensation: metadata delete failed")
		}
	}
}

// Remove deletes one item across all three stores, gated by the
// authorization guard. The vector delete must succeed for the operation to
// succeed (an orphaned vector is a consistency bug); metadata and blob
// cleanup failures are logged only (an orphaned blob is a cost nuisance).
func (c *IngestionCoordinator) Remove(ctx context.Context, itemID string, principal models.Principal) error {
	if principal.ID == "" {
		return faults.Tagf(faults.ErrAuth, "missing principal")
	}

	item, err := c.metadata.Get(ctx, itemID)
	if err != nil {
		// No metadata row; the vector payload still knows the owner.
		var fetchErr error
		item, fetchErr = c.index.Fetch(ctx, itemID)
		if fetchErr != nil {
			return fetchErr
		}
	}

	if !CanDelete(principal, item.OwnerID) {
		log.Warn().
			Str("item_id", itemID).
			Str("principal", principal.ID).
			Str("owner", item.OwnerID).
			Msg("Delete refused")
		return faults.Tagf(faults.ErrForbidden, "principal %s may not delete item %s", principal.ID, itemID)
	}

	if err := c.index.Delete(ctx, itemID); err != nil {
		return err
	}

	if err := c.metadata.DeleteByID(ctx, itemID); err != nil {
		log.Error().Err(err).Str("item_id", itemID).Msg("Metadata delete failed after vector delete")
	}

	c.deleteBlob(ctx, item)

	if c.events != nil {
		c.events.ItemDeleted(ctx, itemID)
	}

	log.Info().Str("item_id", itemID).Str("principal", principal.ID).Msg("Item deleted")
	return nil
}

// deleteBlob removes the item's image, best effort. Items indexed before
// the payload carried the object key fall back to deriving it from the
// public URL; an already-absent blob is not an error.
func (c *IngestionCoordinator) deleteBlob(ctx context.Context, item *models.Item) {
	key := item.ImageKey
	if key == "" {
		key = c.objects.KeyFromURL(item.ImageURL)
	}
	if key == "" {
		return
	}

	exists, err := c.objects.Exists(ctx, key)
	if err != nil {
		log.Error().Err(err).Str("item_id", item.ID).Str("key", key).Msg("Blob existence check failed after vector delete")
		return
	}
	if !exists {
		log.Debug().Str("item_id", item.ID).Str("key", key).Msg("Blob already absent")
		return
	}

	if err := c.objects.Delete(ctx, key); err != nil {
		log.Error().Err(err).Str("item_id", item.ID).Str("key", key).Msg("Blob delete failed after vector delete")
	}
}
