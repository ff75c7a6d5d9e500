package models

import (
	"fmt"
	"time"
)

// ItemType says whether a report is about a lost or a found item.
type ItemType string

const (
	ItemTypeLost  ItemType = "lost"
	ItemTypeFound ItemType = "found"
)

// ParseItemType validates a user-supplied item type string.
func ParseItemType(s string) (ItemType, error) {
	switch ItemType(s) {
	case ItemTypeLost, ItemTypeFound:
		return ItemType(s), nil
	default:
		return "", fmt.Errorf("invalid item type %q", s)
	}
}

// Item is a single lost/found report. The embedding itself is never held
// here; it lives only in the vector store. An item is visible to search
// only once its vector has been indexed.
type Item struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Location    string    `json:"location"`
	Type        ItemType  `json:"item_type"`
	ImageURL    string    `json:"image_url"`
	ImageKey    string    `json:"image_key,omitempty"`
	OwnerID     string    `json:"owner_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// Principal is the acting user, resolved by the auth layer in front of us.
type Principal struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Admin bool   `json:"admin"`
}
