// Package vectorstore is the single reliable handle to the Qdrant index.
// It hides connection churn and transient failures from the coordinators:
// every operation is health-checked, retried with exponential backoff and
// re-dialed on connection loss, so callers never implement ad hoc retry.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	qdrant "github.com/qdrant/go-client/qdrant"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/lostradar/lostradar/internal/faults"
	"github.com/lostradar/lostradar/internal/models"
)

// Config configures the Qdrant client.
type Config struct {
	// Address is the Qdrant gRPC endpoint (host:port).
	Address string

	// Collection is the single collection this deployment reads and writes.
	Collection string

	// Dimension is the embedding dimension the collection must carry.
	Dimension uint64

	// StaleAfter is how long a connection is trusted after its last
	// successful liveness probe. Default 30s.
	StaleAfter time.Duration

	// MaxAttempts is the number of attempts per operation. Default 3.
	MaxAttempts int

	// BaseBackoff is the delay before the first retry; it doubles per
	// attempt. Default 1s.
	BaseBackoff time.Duration

	// RequestTimeout bounds each individual store call. Default 60s.
	RequestTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.StaleAfter == 0 {
		c.StaleAfter = 30 * time.Second
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.BaseBackoff == 0 {
		c.BaseBackoff = time.Second
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 60 * time.Second
	}
}

// Client is safe for concurrent use. Reconnection is serialized: concurrent
// callers finding a stale connection wait for a single re-dial instead of
// all dialing independently.
type Client struct {
	cfg Config

	mu          sync.Mutex
	conn        *grpc.ClientConn
	collections qdrant.CollectionsClient
	points      qdrant.PointsClient
	lastProbe   time.Time
}

// NewClient creates the client and verifies liveness once.
func NewClient(cfg Config) (*Client, error) {
	cfg.applyDefaults()
	if cfg.Address == "" {
		return nil, fmt.Errorf("vectorstore: address is required")
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("vectorstore: collection is required")
	}
	if cfg.Dimension == 0 {
		return nil, fmt.Errorf("vectorstore: dimension is required")
	}

	c := &Client{cfg: cfg}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}

	log.Info().
		Str("address", cfg.Address).
		Str("collection", cfg.Collection).
		Uint64("dimension", cfg.Dimension).
		Msg("Qdrant client initialized")

	return c, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// ensureConnected re-establishes and liveness-probes the connection when it
// is absent or older than the staleness threshold. Held under c.mu so only
// one caller reconnects while the rest wait.
func (c *Client) ensureConnected(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.points != nil && time.Since(c.lastProbe) < c.cfg.StaleAfter {
		return nil
	}

	if c.points == nil {
		if err := c.redialLocked(); err != nil {
			return faults.Tag(faults.ErrConnection, err)
		}
	}

	if err := c.probeLocked(ctx); err != nil {
		log.Warn().Err(err).Msg("Qdrant liveness probe failed, re-dialing")
		if err := c.redialLocked(); err != nil {
			return faults.Tag(faults.ErrConnection, err)
		}
		if err := c.probeLocked(ctx); err != nil {
			return faults.Tag(faults.ErrConnection, err)
		}
	}

	c.lastProbe = time.Now()
	return nil
}

func (c *Client) redialLocked() error {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}

	conn, err := grpc.Dial(c.cfg.Address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("failed to connect to Qdrant at %s: %w", c.cfg.Address, err)
	}

	c.conn = conn
	c.collections = qdrant.NewCollectionsClient(conn)
	c.points = qdrant.NewPointsClient(conn)
	return nil
}

// probeLocked is the lightweight liveness call: list collections.
func (c *Client) probeLocked(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := c.collections.List(ctx, &qdrant.ListCollectionsRequest{})
	return err
}

// markStale forces the next ensureConnected to re-probe.
func (c *Client) markStale() {
	c.mu.Lock()
	c.lastProbe = time.Time{}
	c.mu.Unlock()
}

func (c *Client) pointsClient() qdrant.PointsClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.points
}

func (c *Client) collectionsClient() qdrant.CollectionsClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.collections
}

// isConnectionLoss classifies gRPC failures that warrant a reconnect
// before the next attempt. Timeouts count: they are treated the same as
// transient failures for retry purposes.
func isConnectionLoss(err error) bool {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled:
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// withRetry runs fn up to MaxAttempts times with exponential backoff
// starting at BaseBackoff. Configuration faults are never retried and the
// last error is surfaced unchanged; callers decide fatality.
func (c *Client) withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if err := c.ensureConnected(ctx); err != nil {
			lastErr = err
		} else {
			callCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
			err := fn(callCtx)
			cancel()
			if err == nil {
				return nil
			}
			if errors.Is(err, faults.ErrSchemaMismatch) {
				return err
			}
			lastErr = err
			if isConnectionLoss(err) {
				c.markStale()
			}
		}

		if attempt < c.cfg.MaxAttempts {
			delay := c.cfg.BaseBackoff << (attempt - 1)
			log.Warn().
				Err(lastErr).
				Str("op", op).
				Int("attempt", attempt).
				Int("max_attempts", c.cfg.MaxAttempts).
				Dur("backoff", delay).
				Msg("Qdrant operation failed, retrying")

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	return lastErr
}

// EnsureCollection creates the collection if it is absent (Cosine metric)
// and fails fast with a schema mismatch when an existing collection carries
// a different vector dimension.
func (c *Client) EnsureCollection(ctx context.Context) error {
	return c.withRetry(ctx, "ensure_collection", func(ctx context.Context) error {
		info, err := c.collectionsClient().Get(ctx, &qdrant.GetCollectionInfoRequest{
			CollectionName: c.cfg.Collection,
		})
		if err == nil {
			existing := info.GetResult().GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()
			if existing != 0 && existing != c.cfg.Dimension {
				return faults.Tagf(faults.ErrSchemaMismatch,
					"collection %q has dimension %d, want %d",
					c.cfg.Collection, existing, c.cfg.Dimension)
			}
			log.Debug().Str("collection", c.cfg.Collection).Msg("Collection already exists")
			return nil
		}
		if status.Code(err) != codes.NotFound {
			return faults.Tag(faults.ErrStore, err)
		}

		_, err = c.collectionsClient().Create(ctx, &qdrant.CreateCollection{
			CollectionName: c.cfg.Collection,
			VectorsConfig: &qdrant.VectorsConfig{
				Config: &qdrant.VectorsConfig_Params{
					Params: &qdrant.VectorParams{
						Size:     c.cfg.Dimension,
						Distance: qdrant.Distance_Cosine,
					},
				},
			},
		})
		if err != nil {
			// Lost a create race with another instance; that is fine.
			if status.Code(err) == codes.AlreadyExists {
				return nil
			}
			return faults.Tag(faults.ErrStore, err)
		}

		log.Info().Str("collection", c.cfg.Collection).Msg("Collection created")
		return nil
	})
}

// Insert upserts one item with its embedding and denormalized payload.
// Inserting the same item id again overwrites the point, so re-ingestion
// is idempotent per item.
func (c *Client) Insert(ctx context.Context, item *models.Item, vector []float32) error {
	if uint64(len(vector)) != c.cfg.Dimension {
		return faults.Tagf(faults.ErrDimensionMismatch,
			"vector has %d dimensions, collection wants %d", len(vector), c.cfg.Dimension)
	}

	point := &qdrant.PointStruct{
		Id: pointID(item.ID),
		Vectors: &qdrant.Vectors{
			VectorsOptions: &qdrant.Vectors_Vector{
				Vector: &qdrant.Vector{Data: vector},
			},
		},
		Payload: itemPayload(item),
	}

	err := c.withRetry(ctx, "insert", func(ctx context.Context) error {
		_, err := c.pointsClient().Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: c.cfg.Collection,
			Points:         []*qdrant.PointStruct{point},
			Wait:           boolPtr(true),
		})
		return err
	})
	if err != nil {
		return faults.Tag(faults.ErrStore, err)
	}

	log.Info().Str("item_id", item.ID).Msg("Embedding indexed")
	return nil
}

// Search runs a k-nearest-neighbor query and returns hits in Qdrant's
// native order: descending Cosine similarity. Scores are passed through
// unmodified. A threshold of 0 disables server-side filtering.
func (c *Client) Search(ctx context.Context, vector []float32, limit int, threshold float32) ([]models.SearchHit, error) {
	if uint64(len(vector)) != c.cfg.Dimension {
		return nil, faults.Tagf(faults.ErrDimensionMismatch,
			"query vector has %d dimensions, collection wants %d", len(vector), c.cfg.Dimension)
	}

	req := &qdrant.SearchPoints{
		CollectionName: c.cfg.Collection,
		Vector:         vector,
		Limit:          uint64(limit),
		WithPayload: &qdrant.WithPayloadSelector{
			SelectorOptions: &qdrant.WithPayloadSelector_Enable{Enable: true},
		},
	}
	if threshold > 0 {
		req.ScoreThreshold = &threshold
	}

	var hits []models.SearchHit
	err := c.withRetry(ctx, "search", func(ctx context.Context) error {
		resp, err := c.pointsClient().Search(ctx, req)
		if err != nil {
			return err
		}
		hits = make([]models.SearchHit, 0, len(resp.Result))
		for _, scored := range resp.Result {
			hit := hitFromPayload(scored.Payload)
			hit.ItemID = pointIDString(scored.Id)
			hit.Score = scored.Score
			hits = append(hits, hit)
		}
		return nil
	})
	if err != nil {
		return nil, faults.Tag(faults.ErrStore, err)
	}

	return hits, nil
}

// Fetch retrieves a single item's payload by id. Used for existence checks
// and as the owner lookup fallback when no metadata row survives.
func (c *Client) Fetch(ctx context.Context, itemID string) (*models.Item, error) {
	var item *models.Item
	err := c.withRetry(ctx, "fetch", func(ctx context.Context) error {
		resp, err := c.pointsClient().Get(ctx, &qdrant.GetPoints{
			CollectionName: c.cfg.Collection,
			Ids:            []*qdrant.PointId{pointID(itemID)},
			WithPayload: &qdrant.WithPayloadSelector{
				SelectorOptions: &qdrant.WithPayloadSelector_Enable{Enable: true},
			},
		})
		if err != nil {
			return err
		}
		if len(resp.Result) == 0 {
			item = nil
			return nil
		}
		item = itemFromPayload(itemID, resp.Result[0].Payload)
		return nil
	})
	if err != nil {
		return nil, faults.Tag(faults.ErrStore, err)
	}
	if item == nil {
		return nil, faults.Tagf(faults.ErrNotFound, "item %s not indexed", itemID)
	}
	return item, nil
}

// ListByOwner is the non-vector filtered read: all indexed items of one
// owner, newest first is not guaranteed (scroll order is store-defined).
func (c *Client) ListByOwner(ctx context.Context, ownerID string, limit int) ([]models.SearchHit, error) {
	lim := uint32(limit)
	req := &qdrant.ScrollPoints{
		CollectionName: c.cfg.Collection,
		Limit:          &lim,
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{{
				ConditionOneOf: &qdrant.Condition_Field{
					Field: &qdrant.FieldCondition{
						Key: "owner_id",
						Match: &qdrant.Match{
							MatchValue: &qdrant.Match_Keyword{Keyword: ownerID},
						},
					},
				},
			}},
		},
		WithPayload: &qdrant.WithPayloadSelector{
			SelectorOptions: &qdrant.WithPayloadSelector_Enable{Enable: true},
		},
	}

	var hits []models.SearchHit
	err := c.withRetry(ctx, "list_by_owner", func(ctx context.Context) error {
		resp, err := c.pointsClient().Scroll(ctx, req)
		if err != nil {
			return err
		}
		hits = make([]models.SearchHit, 0, len(resp.Result))
		for _, point := range resp.Result {
			hit := hitFromPayload(point.Payload)
			hit.ItemID = pointIDString(point.Id)
			hits = append(hits, hit)
		}
		return nil
	})
	if err != nil {
		return nil, faults.Tag(faults.ErrStore, err)
	}

	return hits, nil
}

// Delete removes one item's point.
func (c *Client) Delete(ctx context.Context, itemID string) error {
	err := c.withRetry(ctx, "delete", func(ctx context.Context) error {
		_, err := c.pointsClient().Delete(ctx, &qdrant.DeletePoints{
			CollectionName: c.cfg.Collection,
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Points{
					Points: &qdrant.PointsIdsList{
						Ids: []*qdrant.PointId{pointID(itemID)},
					},
				},
			},
			Wait: boolPtr(true),
		})
		return err
	})
	if err != nil {
		return faults.Tag(faults.ErrStore, err)
	}

	log.Info().Str("item_id", itemID).Msg("Vector deleted")
	return nil
}

// HealthCheck verifies liveness without touching retry state.
func (c *Client) HealthCheck(ctx context.Context) error {
	return c.ensureConnected(ctx)
}
