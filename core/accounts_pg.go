package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresAccounts implements AccountStore over the profiles schema.
type PostgresAccounts struct {
	pg *pgxpool.Pool
}

func NewPostgresAccounts(pool *pgxpool.Pool) *PostgresAccounts {
	return &PostgresAccounts{pg: pool}
}

const userColumns = `id::text, email, username, email_verified, is_active, biography, created_at, updated_at, last_login`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Email, &u.Username, &u.EmailVerified, &u.IsActive, &u.Biography, &u.CreatedAt, &u.UpdatedAt, &u.LastLogin); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (p *PostgresAccounts) UserByID(ctx context.Context, id string) (*User, error) {
	return scanUser(p.pg.QueryRow(ctx, `SELECT `+userColumns+` FROM profiles.users WHERE id::text=$1`, id))
}

func (p *PostgresAccounts) UserByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(p.pg.QueryRow(ctx, `SELECT `+userColumns+` FROM profiles.users WHERE lower(email)=lower($1)`, email))
}

func (p *PostgresAccounts) UserByUsername(ctx context.Context, username string) (*User, error) {
	return scanUser(p.pg.QueryRow(ctx, `SELECT `+userColumns+` FROM profiles.users WHERE username=$1`, username))
}

func (p *PostgresAccounts) CreateUser(ctx context.Context, nu NewUser) (*User, error) {
	tx, err := p.pg.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Empty email is stored as NULL so several provider-only users can coexist.
	u, err := scanUser(tx.QueryRow(ctx, `INSERT INTO profiles.users (email, username, email_verified, biography)
VALUES (NULLIF(lower($1), ''), $2, $3, $4)
RETURNING `+userColumns, nu.Email, nu.Username, nu.EmailVerified, nu.Biography))
	if err != nil {
		return nil, mapUniqueViolation(err)
	}
	if nu.PasswordHash != "" {
		if _, err := tx.Exec(ctx, `INSERT INTO profiles.user_passwords (user_id, password_hash, hash_algo) VALUES ($1::uuid,$2,$3)`, u.ID, nu.PasswordHash, nu.PasswordAlgo); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return u, nil
}

// mapUniqueViolation translates unique index violations on users into sentinels.
func mapUniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return err
	}
	switch {
	case strings.Contains(pgErr.ConstraintName, "username"):
		return fmt.Errorf("%w: %s", ErrUsernameTaken, pgErr.ConstraintName)
	case strings.Contains(pgErr.ConstraintName, "email"):
		return fmt.Errorf("%w: %s", ErrEmailTaken, pgErr.ConstraintName)
	}
	return err
}

func (p *PostgresAccounts) SetEmailVerified(ctx context.Context, id string, v bool) error {
	_, err := p.pg.Exec(ctx, `UPDATE profiles.users SET email_verified=$2, updated_at=NOW() WHERE id::text=$1`, id, v)
	return err
}

func (p *PostgresAccounts) SetLastLogin(ctx context.Context, id string, t time.Time) error {
	_, err := p.pg.Exec(ctx, `UPDATE profiles.users SET last_login=$2, updated_at=NOW() WHERE id::text=$1`, id, t)
	return err
}

func (p *PostgresAccounts) UpdateBiography(ctx context.Context, id string, bio *string) error {
	tag, err := p.pg.Exec(ctx, `UPDATE profiles.users SET biography=$2, updated_at=NOW() WHERE id::text=$1`, id, bio)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (p *PostgresAccounts) PasswordHash(ctx context.Context, userID string) (hash, algo string, err error) {
	err = p.pg.QueryRow(ctx, `SELECT password_hash, hash_algo FROM profiles.user_passwords WHERE user_id::text=$1`, userID).Scan(&hash, &algo)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", "", ErrUserNotFound
	}
	return hash, algo, err
}

func (p *PostgresAccounts) UpsertPasswordHash(ctx context.Context, userID, hash, algo string) error {
	_, err := p.pg.Exec(ctx, `INSERT INTO profiles.user_passwords (user_id, password_hash, hash_algo)
VALUES ($1::uuid,$2,$3)
ON CONFLICT (user_id) DO UPDATE SET password_hash=EXCLUDED.password_hash, hash_algo=EXCLUDED.hash_algo, password_updated_at=NOW()`, userID, hash, algo)
	return err
}

func (p *PostgresAccounts) ProviderLink(ctx context.Context, issuer, subject string) (string, error) {
	var uid string
	err := p.pg.QueryRow(ctx, `SELECT user_id::text FROM profiles.user_providers WHERE issuer=$1 AND subject=$2`, issuer, subject).Scan(&uid)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrUserNotFound
	}
	return uid, err
}

func (p *PostgresAccounts) LinkProvider(ctx context.Context, link ProviderLink) error {
	_, err := p.pg.Exec(ctx, `
		INSERT INTO profiles.user_providers (user_id, issuer, provider_slug, subject, email_at_provider)
		VALUES ($1::uuid,$2,$3,$4,$5)
		ON CONFLICT (issuer, subject) DO UPDATE
		SET email_at_provider=EXCLUDED.email_at_provider,
		    provider_slug=COALESCE(EXCLUDED.provider_slug, profiles.user_providers.provider_slug)
		WHERE profiles.user_providers.user_id=EXCLUDED.user_id
	`, link.UserID, link.Issuer, link.Provider, link.Subject, link.Email)
	return err
}

func (p *PostgresAccounts) ListProviderLinks(ctx context.Context, userID string) ([]ProviderLink, error) {
	rows, err := p.pg.Query(ctx, `SELECT user_id::text, issuer, provider_slug, subject, email_at_provider, created_at
FROM profiles.user_providers WHERE user_id::text=$1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ProviderLink
	for rows.Next() {
		var l ProviderLink
		if err := rows.Scan(&l.UserID, &l.Issuer, &l.Provider, &l.Subject, &l.Email, &l.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (p *PostgresAccounts) ListRoleSlugs(ctx context.Context, userID string) ([]string, error) {
	rows, err := p.pg.Query(ctx, `SELECT r.slug FROM profiles.user_roles ur JOIN profiles.roles r ON ur.role_id=r.id WHERE ur.user_id::text=$1 AND r.deleted_at IS NULL ORDER BY r.slug`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var slug string
		if err := rows.Scan(&slug); err != nil {
			return nil, err
		}
		out = append(out, slug)
	}
	return out, rows.Err()
}
