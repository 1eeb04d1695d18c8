// Package provision converges deploy-time configuration: the site identity, the
// bootstrap administrator and placeholder social-provider credentials.
package provision

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by store readers when a record is absent.
	ErrNotFound = errors.New("provision: not found")
	// ErrAlreadyExists is returned by create operations that lost a unique-key race.
	ErrAlreadyExists = errors.New("provision: already exists")
)

// Site is the singleton site identity.
type Site struct {
	ID     int64
	Domain string
	Name   string
}

// AdminAccount is the bootstrap administrator. The password is stored hashed.
type AdminAccount struct {
	ID       string
	Username string
	Email    string
}

// ProviderConfig is a social-provider application record.
type ProviderConfig struct {
	ID       int64
	Provider string
	Name     string
	ClientID string
	Secret   string
	SiteIDs  []int64
}

// Linked reports whether the config is linked to siteID.
func (p *ProviderConfig) Linked(siteID int64) bool {
	for _, id := range p.SiteIDs {
		if id == siteID {
			return true
		}
	}
	return false
}

// Store is the persistence contract the Reconciler consumes. Unique keys (site id,
// provider key, username) are the only concurrency guard.
type Store interface {
	// UpsertSite creates or overwrites the site at id.
	UpsertSite(ctx context.Context, id int64, domain, name string) (*Site, error)
	AccountExists(ctx context.Context, username string) (bool, error)
	// CreateAdminAccount creates an account with administrative privilege.
	// It returns ErrAlreadyExists only if the username was taken concurrently.
	// An email already held by another account is an ordinary error.
	CreateAdminAccount(ctx context.Context, username, email, password string) (*AdminAccount, error)
	// FindProviderConfig returns (nil, nil) when no config exists for provider.
	FindProviderConfig(ctx context.Context, provider string) (*ProviderConfig, error)
	CreateProviderConfig(ctx context.Context, provider, name, clientID, secret string) (*ProviderConfig, error)
	// LinkSite adds site to cfg's linked sites; linking twice is a no-op.
	LinkSite(ctx context.Context, cfg *ProviderConfig, site *Site) error
}
