// Package sqlitestore implements account and provisioning storage over SQLite
// for single-node deployments.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/open-rails/profilekit/core"
	"github.com/open-rails/profilekit/password"
	"github.com/open-rails/profilekit/provision"
	"github.com/open-rails/profilekit/roles"
	"github.com/open-rails/profilekit/storage/sqlite/migrations"
)

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(v int64) time.Time { return time.UnixMilli(v).UTC() }

// Store implements core.AccountStore and provision.CredentialStore.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var (
	_ core.AccountStore         = (*Store)(nil)
	_ provision.CredentialStore = (*Store)(nil)
)

// Open opens the database at path and applies the bundled schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	s := New(db)
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, nil
}

// New wraps an already-migrated handle.
func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	files, err := fs.Glob(migrations.FS, "*.sql")
	if err != nil {
		return err
	}
	sort.Strings(files)
	for _, name := range files {
		b, err := migrations.FS.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, string(b)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
	}
	return nil
}

// uniqueColumn returns the offending column of a UNIQUE violation, or "".
func uniqueColumn(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if !strings.Contains(msg, "UNIQUE constraint failed") {
		return ""
	}
	switch {
	case strings.Contains(msg, "username"):
		return "username"
	case strings.Contains(msg, "email"):
		return "email"
	}
	return "other"
}

const userColumns = `id, email, username, email_verified, is_active, biography, created_at, updated_at, last_login`

func scanUser(row interface{ Scan(...any) error }) (*core.User, error) {
	var (
		u                core.User
		email, bio       sql.NullString
		created, updated int64
		lastLogin        sql.NullInt64
	)
	if err := row.Scan(&u.ID, &email, &u.Username, &u.EmailVerified, &u.IsActive, &bio, &created, &updated, &lastLogin); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrUserNotFound
		}
		return nil, err
	}
	if email.Valid {
		u.Email = &email.String
	}
	if bio.Valid {
		u.Biography = &bio.String
	}
	u.CreatedAt = fromMillis(created)
	u.UpdatedAt = fromMillis(updated)
	if lastLogin.Valid {
		t := fromMillis(lastLogin.Int64)
		u.LastLogin = &t
	}
	return &u, nil
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func (s *Store) UserByID(ctx context.Context, id string) (*core.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

func (s *Store) UserByEmail(ctx context.Context, email string) (*core.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower(?)`, email))
}

func (s *Store) UserByUsername(ctx context.Context, username string) (*core.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, username))
}

func (s *Store) CreateUser(ctx context.Context, nu core.NewUser) (*core.User, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()
	u, err := s.insertUser(ctx, tx, nu)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Store) insertUser(ctx context.Context, tx *sql.Tx, nu core.NewUser) (*core.User, error) {
	now := s.now().UTC().Truncate(time.Millisecond)
	u := &core.User{
		ID:            uuid.NewString(),
		Username:      nu.Username,
		EmailVerified: nu.EmailVerified,
		IsActive:      true,
		Biography:     nu.Biography,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	var email sql.NullString
	if e := core.NormalizeEmail(nu.Email); e != "" {
		u.Email = &e
		email = sql.NullString{String: e, Valid: true}
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO users (id, email, username, email_verified, is_active, biography, created_at, updated_at)
VALUES (?, ?, ?, ?, 1, ?, ?, ?)`, u.ID, email, u.Username, u.EmailVerified, nullString(u.Biography), toMillis(now), toMillis(now))
	switch uniqueColumn(err) {
	case "username":
		return nil, core.ErrUsernameTaken
	case "email":
		return nil, core.ErrEmailTaken
	}
	if err != nil {
		return nil, err
	}
	if nu.PasswordHash != "" {
		if _, err := tx.ExecContext(ctx, `INSERT INTO user_passwords (user_id, password_hash, hash_algo, password_updated_at) VALUES (?, ?, ?, ?)`,
			u.ID, nu.PasswordHash, nu.PasswordAlgo, toMillis(now)); err != nil {
			return nil, err
		}
	}
	return u, nil
}

func (s *Store) updateUser(ctx context.Context, id, set string, arg any) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET `+set+` = ?, updated_at = ? WHERE id = ?`, arg, toMillis(s.now()), id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return core.ErrUserNotFound
	}
	return nil
}

func (s *Store) SetEmailVerified(ctx context.Context, id string, v bool) error {
	return s.updateUser(ctx, id, "email_verified", v)
}

func (s *Store) SetLastLogin(ctx context.Context, id string, t time.Time) error {
	return s.updateUser(ctx, id, "last_login", toMillis(t))
}

func (s *Store) UpdateBiography(ctx context.Context, id string, bio *string) error {
	return s.updateUser(ctx, id, "biography", nullString(bio))
}

// SetActive toggles the is_active flag.
func (s *Store) SetActive(ctx context.Context, id string, active bool) error {
	return s.updateUser(ctx, id, "is_active", active)
}

func (s *Store) PasswordHash(ctx context.Context, userID string) (hash, algo string, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT password_hash, hash_algo FROM user_passwords WHERE user_id = ?`, userID).Scan(&hash, &algo)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", core.ErrUserNotFound
	}
	return hash, algo, err
}

func (s *Store) UpsertPasswordHash(ctx context.Context, userID, hash, algo string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO user_passwords (user_id, password_hash, hash_algo, password_updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT (user_id) DO UPDATE SET password_hash = excluded.password_hash, hash_algo = excluded.hash_algo, password_updated_at = excluded.password_updated_at`,
		userID, hash, algo, toMillis(s.now()))
	if err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
		return core.ErrUserNotFound
	}
	return err
}

func (s *Store) ProviderLink(ctx context.Context, issuer, subject string) (string, error) {
	var uid string
	err := s.db.QueryRowContext(ctx, `SELECT user_id FROM user_providers WHERE issuer = ? AND subject = ?`, issuer, subject).Scan(&uid)
	if errors.Is(err, sql.ErrNoRows) {
		return "", core.ErrUserNotFound
	}
	return uid, err
}

func (s *Store) LinkProvider(ctx context.Context, link core.ProviderLink) error {
	created := link.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO user_providers (user_id, issuer, provider_slug, subject, email_at_provider, created_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (issuer, subject) DO UPDATE SET email_at_provider = excluded.email_at_provider
WHERE user_providers.user_id = excluded.user_id`,
		link.UserID, link.Issuer, link.Provider, link.Subject, nullString(link.Email), toMillis(created))
	return err
}

func (s *Store) ListProviderLinks(ctx context.Context, userID string) ([]core.ProviderLink, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id, issuer, COALESCE(provider_slug, ''), subject, email_at_provider, created_at
FROM user_providers WHERE user_id = ? ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []core.ProviderLink
	for rows.Next() {
		var (
			l       core.ProviderLink
			email   sql.NullString
			created int64
		)
		if err := rows.Scan(&l.UserID, &l.Issuer, &l.Provider, &l.Subject, &email, &created); err != nil {
			return nil, err
		}
		if email.Valid {
			l.Email = &email.String
		}
		l.CreatedAt = fromMillis(created)
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Store) ListRoleSlugs(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT r.slug FROM user_roles ur JOIN roles r ON ur.role_id = r.id
WHERE ur.user_id = ? AND r.deleted_at IS NULL ORDER BY r.slug`, userID)
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

// --- provision.Store ---

func (s *Store) UpsertSite(ctx context.Context, id int64, domain, name string) (*provision.Site, error) {
	_, err := s.db.ExecContext(ctx, `INSERT INTO sites (id, domain, name) VALUES (?, ?, ?)
ON CONFLICT (id) DO UPDATE SET domain = excluded.domain, name = excluded.name`, id, domain, name)
	if err != nil {
		return nil, err
	}
	return &provision.Site{ID: id, Domain: domain, Name: name}, nil
}

func (s *Store) AccountExists(ctx context.Context, username string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM users WHERE username = ?`, username).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) CreateAdminAccount(ctx context.Context, username, email, pass string) (*provision.AdminAccount, error) {
	hash, algo, err := password.Hash(pass)
	if err != nil {
		return nil, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	u, err := s.insertUser(ctx, tx, core.NewUser{Email: email, Username: username, EmailVerified: true, PasswordHash: hash, PasswordAlgo: algo})
	if errors.Is(err, core.ErrUsernameTaken) {
		return nil, provision.ErrAlreadyExists
	}
	if err != nil {
		return nil, err
	}
	roleID := roles.IDFromSlug(roles.Admin).String()
	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO roles (id, slug, name) VALUES (?, ?, 'Administrator')`, roleID, roles.Admin); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO user_roles (user_id, role_id) SELECT ?, id FROM roles WHERE slug = ?`, u.ID, roles.Admin); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &provision.AdminAccount{ID: u.ID, Username: u.Username, Email: email}, nil
}

func (s *Store) FindProviderConfig(ctx context.Context, provider string) (*provision.ProviderConfig, error) {
	var cfg provision.ProviderConfig
	err := s.db.QueryRowContext(ctx, `SELECT id, provider, name, client_id, secret FROM social_apps WHERE provider = ?`, provider).
		Scan(&cfg.ID, &cfg.Provider, &cfg.Name, &cfg.ClientID, &cfg.Secret)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT site_id FROM social_app_sites WHERE social_app_id = ? ORDER BY site_id`, cfg.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		cfg.SiteIDs = append(cfg.SiteIDs, id)
	}
	return &cfg, rows.Err()
}

func (s *Store) CreateProviderConfig(ctx context.Context, provider, name, clientID, secret string) (*provision.ProviderConfig, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO social_apps (provider, name, client_id, secret) VALUES (?, ?, ?, ?)`, provider, name, clientID, secret)
	if uniqueColumn(err) != "" {
		return nil, provision.ErrAlreadyExists
	}
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &provision.ProviderConfig{ID: id, Provider: provider, Name: name, ClientID: clientID, Secret: secret}, nil
}

func (s *Store) UpdateProviderCredentials(ctx context.Context, provider, clientID, secret string) (*provision.ProviderConfig, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE social_apps SET client_id = ?, secret = ? WHERE provider = ?`, clientID, secret, provider)
	if err != nil {
		return nil, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, err
	} else if n == 0 {
		return nil, provision.ErrNotFound
	}
	return s.FindProviderConfig(ctx, provider)
}

func (s *Store) LinkSite(ctx context.Context, cfg *provision.ProviderConfig, site *provision.Site) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO social_app_sites (social_app_id, site_id) VALUES (?, ?)`, cfg.ID, site.ID)
	if err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
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
