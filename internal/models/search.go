package models

import "time"

// SearchHit is one ranked result of a similarity query. Never persisted.
// Score is the vector store's native Cosine similarity (higher is better)
// and is passed through unmodified so thresholds stay consistent with the
// collection's metric.
type SearchHit struct {
	ItemID      string    `json:"item_id"`
	Score       float32   `json:"score"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Location    string    `json:"location"`
	Type        ItemType  `json:"item_type"`
	ImageURL    string    `json:"image_url"`
	OwnerID     string    `json:"owner_id"`
	CreatedAt   time.Time `json:"created_at"`
}
