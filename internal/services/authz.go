package services

import "github.com/lostradar/lostradar/internal/models"

// CanDelete decides whether the acting principal may destroy an item: the
// owner may, an administrator may, nobody else. Pure decision function;
// the caller fetches the item and returns Forbidden when this is false.
func CanDelete(principal models.Principal, ownerID string) bool {
	if principal.Admin {
		return true
	}
	return principal.ID != "" && principal.ID == ownerID
}
