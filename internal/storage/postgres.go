package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/lostradar/lostradar/internal/faults"
	"github.com/lostradar/lostradar/internal/models"
)

// MetadataStore is the relational side of an item: everything except the
// image bytes and the embedding. It carries the owner id used by the
// authorization check on delete.
type MetadataStore struct {
	db *sql.DB
}

func NewMetadataStore(host, port, user, password, dbName, sslMode string) (*MetadataStore, error) {
	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		host, port, user, password, dbName, sslMode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	s := &MetadataStore{db: db}
	if err := s.init(); err != nil {
		return nil, fmt.Errorf("failed to initialize db schema: %w", err)
	}

	log.Info().Str("host", host).Str("database", dbName).Msg("Metadata store initialized")
	return s, nil
}

func (s *MetadataStore) init() error {
	query := `
	CREATE TABLE IF NOT EXISTS items (
		id VARCHAR(36) PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT,
		location TEXT NOT NULL,
		item_type VARCHAR(10) NOT NULL,
		image_url TEXT,
		image_key TEXT,
		owner_id VARCHAR(64) NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_items_owner_id ON items(owner_id);
	CREATE INDEX IF NOT EXISTS idx_items_created_at ON items(created_at DESC);`

	_, err := s.db.Exec(query)
	return err
}

// Upsert writes or overwrites one item row.
func (s *MetadataStore) Upsert(ctx context.Context, item *models.Item) error {
	query := `
	INSERT INTO items (id, title, description, location, item_type, image_url, image_key, owner_id, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (id) DO UPDATE SET
		title = EXCLUDED.title,
		description = EXCLUDED.description,
		location = EXCLUDED.location,
		item_type = EXCLUDED.item_type,
		image_url = EXCLUDED.image_url,
		image_key = EXCLUDED.image_key
	;`

	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, query,
		item.ID, item.Title, item.Description, item.Location, string(item.Type),
		item.ImageURL, item.ImageKey, item.OwnerID, item.CreatedAt,
	)
	if err != nil {
		log.Error().Err(err).Str("id", item.ID).Msg("Failed to upsert item row")
		return faults.Tag(faults.ErrMetadata, err)
	}

	return nil
}

// Get retrieves one item by id.
func (s *MetadataStore) Get(ctx context.Context, id string) (*models.Item, error) {
	query := `
	SELECT id, title, description, location, item_type, image_url, image_key, owner_id, created_at
	FROM items WHERE id = $1`

	item, err := scanItem(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, faults.Tagf(faults.ErrNotFound, "item %s", id)
	}
	if err != nil {
		log.Error().Err(err).Str("id", id).Msg("Failed to get item row")
		return nil, faults.Tag(faults.ErrMetadata, err)
	}

	return item, nil
}

// FetchByIDs retrieves item rows for a batch of ids in one call. Missing
// ids are simply absent from the result; callers degrade gracefully.
func (s *MetadataStore) FetchByIDs(ctx context.Context, ids []string) ([]*models.Item, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `
	SELECT id, title, description, location, item_type, image_url, image_key, owner_id, created_at
	FROM items WHERE id = ANY($1)`

	rows, err := s.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, faults.Tag(faults.ErrMetadata, err)
	}
	defer rows.Close()

	var items []*models.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, faults.Tag(faults.ErrMetadata, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, faults.Tag(faults.ErrMetadata, err)
	}

	return items, nil
}

// ListRecent returns the newest items first.
func (s *MetadataStore) ListRecent(ctx context.Context, limit int) ([]*models.Item, error) {
	query := `
	SELECT id, title, description, location, item_type, image_url, image_key, owner_id, created_at
	FROM items
	ORDER BY created_at DESC
	LIMIT $1`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, faults.Tag(faults.ErrMetadata, err)
	}
	defer rows.Close()

	var items []*models.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, faults.Tag(faults.ErrMetadata, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, faults.Tag(faults.ErrMetadata, err)
	}

	return items, nil
}

// DeleteByID removes one item row. Deleting an absent row is not an error.
func (s *MetadataStore) DeleteByID(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM items WHERE id = $1`, id)
	if err != nil {
		log.Error().Err(err).Str("id", id).Msg("Failed to delete item row")
		return faults.Tag(faults.ErrMetadata, err)
	}
	return nil
}

// HealthCheck verifies database connectivity.
func (s *MetadataStore) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying pool.
func (s *MetadataStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanItem(row rowScanner) (*models.Item, error) {
	item := &models.Item{}
	var description, imageURL, imageKey sql.NullString
	var itemType string

	err := row.Scan(
		&item.ID, &item.Title, &description, &item.Location, &itemType,
		&imageURL, &imageKey, &item.OwnerID, &item.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	item.Description = description.String
	item.ImageURL = imageURL.String
	item.ImageKey = imageKey.String
	item.Type = models.ItemType(itemType)
	return item, nil
}
