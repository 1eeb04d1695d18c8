package pgstore_test

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/require"

	"github.com/open-rails/profilekit/core"
	pgmigrations "github.com/open-rails/profilekit/migrations/postgres"
	"github.com/open-rails/profilekit/provision"
	pgstore "github.com/open-rails/profilekit/storage/postgres"
)

func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("PROFILEKIT_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("PROFILEKIT_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	db, err := sql.Open("pgx", url)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, pgmigrations.Apply(ctx, db))

	pool, err := pgstore.Open(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	_, err = pool.Exec(ctx, `TRUNCATE profiles.social_app_sites, profiles.social_apps, profiles.sites, profiles.user_roles, profiles.user_providers, profiles.user_passwords, profiles.users`)
	require.NoError(t, err)
	return pool
}

func TestProvisionStore_Reconcile(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	store := pgstore.NewProvisionStore(pool)
	r := provision.NewReconciler(store, provision.DefaultConfig())

	rep := r.Reconcile(ctx, provision.Env{Hostname: "app.example.com"})
	require.True(t, rep.OK(), "warning: %v", rep.Warning)
	require.True(t, rep.AdminCreated)
	require.True(t, rep.ProviderCreated)

	_, err := store.UpdateProviderCredentials(ctx, "google", "real", "real-secret")
	require.NoError(t, err)

	rep = r.Reconcile(ctx, provision.Env{Hostname: "app.example.com"})
	require.True(t, rep.OK(), "warning: %v", rep.Warning)
	require.False(t, rep.AdminCreated)
	require.False(t, rep.ProviderCreated)

	cfg, err := store.FindProviderConfig(ctx, "google")
	require.NoError(t, err)
	require.Equal(t, "real", cfg.ClientID)
	require.Equal(t, []int64{1}, cfg.SiteIDs)

	accounts := core.NewPostgresAccounts(pool)
	u, err := accounts.UserByUsername(ctx, "admin")
	require.NoError(t, err)
	slugs, err := accounts.ListRoleSlugs(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"admin"}, slugs)
}

func TestProvisionStore_Conflicts(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	store := pgstore.NewProvisionStore(pool)

	_, err := store.CreateAdminAccount(ctx, "admin", "admin@example.com", "admin123")
	require.NoError(t, err)
	_, err = store.CreateAdminAccount(ctx, "admin", "other@example.com", "admin123")
	require.ErrorIs(t, err, provision.ErrAlreadyExists)
	_, err = store.CreateAdminAccount(ctx, "root", "Admin@example.com", "admin123")
	require.ErrorIs(t, err, core.ErrEmailTaken)
	require.NotErrorIs(t, err, provision.ErrAlreadyExists)

	_, err = store.CreateProviderConfig(ctx, "google", "Google", "a", "b")
	require.NoError(t, err)
	_, err = store.CreateProviderConfig(ctx, "google", "Google", "a", "b")
	require.ErrorIs(t, err, provision.ErrAlreadyExists)

	cfg, err := store.FindProviderConfig(ctx, "google")
	require.NoError(t, err)
	require.ErrorIs(t, store.LinkSite(ctx, cfg, &provision.Site{ID: 99}), provision.ErrNotFound)

	missing, err := store.FindProviderConfig(ctx, "github")
	require.NoError(t, err)
	require.Nil(t, missing)
	_, err = store.UpdateProviderCredentials(ctx, "github", "a", "b")
	require.ErrorIs(t, err, provision.ErrNotFound)
}

func TestProvisionStore_ReconcileAdminEmailTaken(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	store := pgstore.NewProvisionStore(pool)
	_, err := core.NewPostgresAccounts(pool).CreateUser(ctx, core.NewUser{Username: "someone", Email: "admin@example.com"})
	require.NoError(t, err)

	rep := provision.NewReconciler(store, provision.DefaultConfig()).Reconcile(ctx, provision.Env{Hostname: "app.example.com"})
	require.False(t, rep.OK())
	require.Equal(t, provision.StateSiteConverged, rep.Reached)
	var pe *provision.PersistenceError
	require.ErrorAs(t, rep.Warning, &pe)
	require.Equal(t, "create_admin_account", pe.Op)
	require.ErrorIs(t, rep.Warning, core.ErrEmailTaken)

	exists, err := store.AccountExists(ctx, "admin")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestPostgresAccounts_UniqueViolations(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	accounts := core.NewPostgresAccounts(pool)

	_, err := accounts.CreateUser(ctx, core.NewUser{Username: "ada", Email: "ada@example.com"})
	require.NoError(t, err)
	_, err = accounts.CreateUser(ctx, core.NewUser{Username: "ada", Email: "x@example.com"})
	require.ErrorIs(t, err, core.ErrUsernameTaken)
	_, err = accounts.CreateUser(ctx, core.NewUser{Username: "ada2", Email: "ADA@example.com"})
	require.ErrorIs(t, err, core.ErrEmailTaken)

	// Provider-only accounts without email coexist.
	_, err = accounts.CreateUser(ctx, core.NewUser{Username: "p1"})
	require.NoError(t, err)
	_, err = accounts.CreateUser(ctx, core.NewUser{Username: "p2"})
	require.NoError(t, err)
}
