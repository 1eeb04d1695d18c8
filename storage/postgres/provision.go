// Package pgstore persists reconciler state in the profiles Postgres schema.
package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/open-rails/profilekit/core"
	"github.com/open-rails/profilekit/password"
	"github.com/open-rails/profilekit/provision"
	"github.com/open-rails/profilekit/roles"
)

// ProvisionStore implements provision.CredentialStore over pgxpool.
type ProvisionStore struct {
	pg *pgxpool.Pool
}

var _ provision.CredentialStore = (*ProvisionStore)(nil)

func NewProvisionStore(pool *pgxpool.Pool) *ProvisionStore {
	return &ProvisionStore{pg: pool}
}

// Open creates a pool and verifies connectivity.
func Open(ctx context.Context, url string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

func (s *ProvisionStore) UpsertSite(ctx context.Context, id int64, domain, name string) (*provision.Site, error) {
	var site provision.Site
	err := s.pg.QueryRow(ctx, `
		INSERT INTO profiles.sites (id, domain, name) VALUES ($1,$2,$3)
		ON CONFLICT (id) DO UPDATE SET domain=EXCLUDED.domain, name=EXCLUDED.name
		RETURNING id, domain, name`, id, domain, name).Scan(&site.ID, &site.Domain, &site.Name)
	if err != nil {
		return nil, err
	}
	return &site, nil
}

func (s *ProvisionStore) AccountExists(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := s.pg.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM profiles.users WHERE username=$1)`, username).Scan(&exists)
	return exists, err
}

// CreateAdminAccount inserts the user, its password and the admin role grant in
// one transaction.
func (s *ProvisionStore) CreateAdminAccount(ctx context.Context, username, email, pass string) (*provision.AdminAccount, error) {
	hash, algo, err := password.Hash(pass)
	if err != nil {
		return nil, err
	}
	tx, err := s.pg.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	acct := &provision.AdminAccount{Username: username, Email: email}
	err = tx.QueryRow(ctx, `
		INSERT INTO profiles.users (email, username, email_verified)
		VALUES (NULLIF(lower($1), ''), $2, true)
		RETURNING id::text`, email, username).Scan(&acct.ID)
	if err != nil {
		return nil, adminConflict(err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO profiles.user_passwords (user_id, password_hash, hash_algo) VALUES ($1::uuid,$2,$3)`, acct.ID, hash, algo); err != nil {
		return nil, err
	}
	roleID := roles.IDFromSlug(roles.Admin)
	if _, err := tx.Exec(ctx, `INSERT INTO profiles.roles (id, slug, name) VALUES ($1::uuid,$2,'Administrator') ON CONFLICT DO NOTHING`, roleID.String(), roles.Admin); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO profiles.user_roles (user_id, role_id)
		SELECT $1::uuid, id FROM profiles.roles WHERE slug=$2
		ON CONFLICT DO NOTHING`, acct.ID, roles.Admin); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return acct, nil
}

func (s *ProvisionStore) FindProviderConfig(ctx context.Context, provider string) (*provision.ProviderConfig, error) {
	var cfg provision.ProviderConfig
	err := s.pg.QueryRow(ctx, `SELECT id, provider, name, client_id, secret FROM profiles.social_apps WHERE provider=$1`, provider).
		Scan(&cfg.ID, &cfg.Provider, &cfg.Name, &cfg.ClientID, &cfg.Secret)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rows, err := s.pg.Query(ctx, `SELECT site_id FROM profiles.social_app_sites WHERE social_app_id=$1 ORDER BY site_id`, cfg.ID)
	if err != nil {
		return nil, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, err
	}
	cfg.SiteIDs = ids
	return &cfg, nil
}

func (s *ProvisionStore) CreateProviderConfig(ctx context.Context, provider, name, clientID, secret string) (*provision.ProviderConfig, error) {
	cfg := provision.ProviderConfig{Provider: provider, Name: name, ClientID: clientID, Secret: secret}
	err := s.pg.QueryRow(ctx, `
		INSERT INTO profiles.social_apps (provider, name, client_id, secret) VALUES ($1,$2,$3,$4)
		RETURNING id`, provider, name, clientID, secret).Scan(&cfg.ID)
	if isUniqueViolation(err) {
		return nil, provision.ErrAlreadyExists
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *ProvisionStore) UpdateProviderCredentials(ctx context.Context, provider, clientID, secret string) (*provision.ProviderConfig, error) {
	tag, err := s.pg.Exec(ctx, `UPDATE profiles.social_apps SET client_id=$2, secret=$3 WHERE provider=$1`, provider, clientID, secret)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, provision.ErrNotFound
	}
	return s.FindProviderConfig(ctx, provider)
}

func (s *ProvisionStore) LinkSite(ctx context.Context, cfg *provision.ProviderConfig, site *provision.Site) error {
	_, err := s.pg.Exec(ctx, `
		INSERT INTO profiles.social_app_sites (social_app_id, site_id) VALUES ($1,$2)
		ON CONFLICT DO NOTHING`, cfg.ID, site.ID)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return provision.ErrNotFound
	}
	if err != nil {
		return err
	}
	if !cfg.Linked(site.ID) {
		cfg.SiteIDs = append(cfg.SiteIDs, site.ID)
	}
	return nil
}

// adminConflict reports a taken username as ErrAlreadyExists. Any other
// conflict, such as the admin email belonging to someone else, stays an error.
func adminConflict(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return err
	}
	switch pgErr.ConstraintName {
	case "users_username_uniq":
		return provision.ErrAlreadyExists
	case "users_email_uniq":
		return fmt.Errorf("%w: %s", core.ErrEmailTaken, pgErr.ConstraintName)
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
