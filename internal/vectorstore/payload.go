package vectorstore

import (
	"fmt"
	"time"

	qdrant "github.com/qdrant/go-client/qdrant"

	"github.com/lostradar/lostradar/internal/models"
)

// The collection payload is a flat set of scalar fields denormalized from
// the item so search returns display-ready hits without a join. Timestamps
// travel as RFC3339 strings.

func itemPayload(item *models.Item) map[string]*qdrant.Value {
	return map[string]*qdrant.Value{
		"title":       stringValue(item.Title),
		"description": stringValue(item.Description),
		"location":    stringValue(item.Location),
		"item_type":   stringValue(string(item.Type)),
		"image_url":   stringValue(item.ImageURL),
		"image_key":   stringValue(item.ImageKey),
		"owner_id":    stringValue(item.OwnerID),
		"created_at":  stringValue(item.CreatedAt.UTC().Format(time.RFC3339)),
	}
}

func hitFromPayload(payload map[string]*qdrant.Value) models.SearchHit {
	hit := models.SearchHit{
		Title:       stringField(payload, "title"),
		Description: stringField(payload, "description"),
		Location:    stringField(payload, "location"),
		Type:        models.ItemType(stringField(payload, "item_type")),
		ImageURL:    stringField(payload, "image_url"),
		OwnerID:     stringField(payload, "owner_id"),
	}
	if t, err := time.Parse(time.RFC3339, stringField(payload, "created_at")); err == nil {
		hit.CreatedAt = t
	}
	return hit
}

func itemFromPayload(id string, payload map[string]*qdrant.Value) *models.Item {
	item := &models.Item{
		ID:          id,
		Title:       stringField(payload, "title"),
		Description: stringField(payload, "description"),
		Location:    stringField(payload, "location"),
		Type:        models.ItemType(stringField(payload, "item_type")),
		ImageURL:    stringField(payload, "image_url"),
		ImageKey:    stringField(payload, "image_key"),
		OwnerID:     stringField(payload, "owner_id"),
	}
	if t, err := time.Parse(time.RFC3339, stringField(payload, "created_at")); err == nil {
		item.CreatedAt = t
	}
	return item
}

func stringValue(s string) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: s}}
}

func stringField(payload map[string]*qdrant.Value, key string) string {
	val, ok := payload[key]
	if !ok {
		return ""
	}
	if str, ok := val.Kind.(*qdrant.Value_StringValue); ok {
		return str.StringValue
	}
	return ""
}

func pointID(id string) *qdrant.PointId {
	return &qdrant.PointId{PointIdOptions: &qdrant.PointId_Uuid{Uuid: id}}
}

func pointIDString(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if u, ok := id.PointIdOptions.(*qdrant.PointId_Uuid); ok {
		return u.Uuid
	}
	if n, ok := id.PointIdOptions.(*qdrant.PointId_Num); ok {
		return fmt.Sprintf("%d", n.Num)
	}
	return ""
}

func boolPtr(b bool) *bool {
	return &b
}
