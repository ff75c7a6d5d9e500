package handlers

import (
	"net/http"

	"github.com/lostradar/lostradar/internal/faults"
	"github.com/lostradar/lostradar/internal/models"
)

// Authenticator resolves the acting principal from a request. Session
// management itself is an external collaborator; the core only needs a
// verified identity.
type Authenticator interface {
	Authenticate(r *http.Request) (models.Principal, error)
}

// HeaderAuthenticator trusts identity headers set by the auth proxy in
// front of this service. Deploy it only behind a proxy that strips these
// headers from client traffic.
type HeaderAuthenticator struct{}

func (HeaderAuthenticator) Authenticate(r *http.Request) (models.Principal, error) {
	id := r.Header.Get("X-User-Id")
	if id == "" {
		return models.Principal{}, faults.Tagf(faults.ErrAuth, "missing identity headers")
	}
	return models.Principal{
		ID:    id,
		Email: r.Header.Get("X-User-Email"),
		Admin: r.Header.Get("X-User-Admin") == "true",
	}, nil
}
