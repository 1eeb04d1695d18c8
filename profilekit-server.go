package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/sirupsen/logrus"

	authhttp "github.com/open-rails/profilekit/adapters/http"
	"github.com/open-rails/profilekit/core"
	pgmigrations "github.com/open-rails/profilekit/migrations/postgres"
	oidckit "github.com/open-rails/profilekit/oidc"
	"github.com/open-rails/profilekit/provision"
	"github.com/open-rails/profilekit/riverjobs"
	memorystore "github.com/open-rails/profilekit/storage/memory"
	pgstore "github.com/open-rails/profilekit/storage/postgres"
	redisstore "github.com/open-rails/profilekit/storage/redis"
	sqlitestore "github.com/open-rails/profilekit/storage/sqlite"
)

type config struct {
	ListenAddr string `env:"PROFILEKIT_LISTEN_ADDR" envDefault:":8080"`
	Issuer     string `env:"PROFILEKIT_ISSUER" validate:"required,url"`
	BaseURL    string `env:"PROFILEKIT_BASE_URL" validate:"omitempty,url"`
	SigningKey string `env:"PROFILEKIT_SIGNING_KEY,unset" validate:"required,min=32"`

	AccessTokenTTL time.Duration `env:"PROFILEKIT_ACCESS_TOKEN_TTL" envDefault:"1h"`
	SessionTTL     time.Duration `env:"PROFILEKIT_SESSION_TTL" envDefault:"336h"`

	// Storage: Postgres when DATABASE_URL is set, else SQLite when a path is set, else memory.
	DBURL      string `env:"DATABASE_URL"`
	SQLitePath string `env:"PROFILEKIT_SQLITE_PATH"`
	RedisURL   string `env:"REDIS_URL"`

	MigrateOnStart   bool   `env:"PROFILEKIT_MIGRATE_ON_START" envDefault:"true"`
	ReconcileOnStart bool   `env:"PROFILEKIT_RECONCILE_ON_START" envDefault:"true"`
	ReconcileCron    string `env:"PROFILEKIT_RECONCILE_CRON" envDefault:"*/30 * * * *"`

	GoogleClientID     string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET,unset"`

	TrustedProxies []string `env:"PROFILEKIT_TRUSTED_PROXIES" envSeparator:","`
	LogLevel       string   `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=trace debug info warn error"`
}

func main() {
	_ = godotenv.Load()
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cmd := "serve"
	if len(os.Args) > 1 && strings.TrimSpace(os.Args[1]) != "" {
		cmd = strings.TrimSpace(os.Args[1])
	}

	// Reconciliation never fails a deploy, so it runs before config validation.
	if cmd == "reconcile" {
		runReconcile(log)
		return
	}

	cfg, err := loadConfig(env.Options{})
	if err != nil {
		fatal(log, err)
	}
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(lvl)
	}

	switch cmd {
	case "serve":
		err = runServe(cfg, log)
	case "migrate":
		err = runMigrate(context.Background(), cfg)
	default:
		err = fmt.Errorf("unknown command %q (supported: serve, migrate, reconcile)", cmd)
	}
	if err != nil {
		fatal(log, err)
	}
}

func loadConfig(opts env.Options) (*config, error) {
	var c config
	if err := env.ParseWithOptions(&c, opts); err != nil {
		return nil, err
	}
	c.Issuer = strings.TrimRight(strings.TrimSpace(c.Issuer), "/")
	if err := validator.New().Struct(c); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &c, nil
}

// backend is the storage selected by config.
type backend struct {
	pg        *pgxpool.Pool
	accounts  core.AccountStore
	provision provision.CredentialStore
	close     func()
}

func openBackend(ctx context.Context, cfg *config) (*backend, error) {
	switch {
	case cfg.DBURL != "":
		pool, err := pgstore.Open(ctx, cfg.DBURL)
		if err != nil {
			return nil, err
		}
		return &backend{
			pg:        pool,
			accounts:  core.NewPostgresAccounts(pool),
			provision: pgstore.NewProvisionStore(pool),
			close:     pool.Close,
		}, nil
	case cfg.SQLitePath != "":
		st, err := sqlitestore.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return &backend{accounts: st, provision: st, close: func() { _ = st.Close() }}, nil
	default:
		st := memorystore.NewStore()
		return &backend{accounts: st, provision: st, close: func() {}}, nil
	}
}

func runServe(cfg *config, log *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MigrateOnStart && cfg.DBURL != "" {
		if err := runMigrate(ctx, cfg); err != nil {
			return err
		}
	}
	be, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer be.close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	providers := map[string]oidckit.RPConfig{}
	if cfg.GoogleClientID != "" {
		providers[string(oidckit.ProviderGoogle)] = oidckit.RPConfig{ClientID: cfg.GoogleClientID, ClientSecret: cfg.GoogleClientSecret}
	}
	svc, err := authhttp.NewService(core.Config{
		Issuer:              cfg.Issuer,
		SigningKey:          []byte(cfg.SigningKey),
		AccessTokenDuration: cfg.AccessTokenTTL,
		SessionDuration:     cfg.SessionTTL,
		BaseURL:             cfg.BaseURL,
		Providers:           providers,
	})
	if err != nil {
		return err
	}
	svc.WithAccountStore(be.accounts).
		WithLogger(log).
		WithMetrics(core.NewMetrics(reg)).
		WithAuthLogger(core.NewLogrusEventLogger(log))

	if len(cfg.TrustedProxies) > 0 {
		prefixes, err := authhttp.ParseTrustedProxies(cfg.TrustedProxies)
		if err != nil {
			return fmt.Errorf("PROFILEKIT_TRUSTED_PROXIES: %w", err)
		}
		svc.WithClientIPFunc(authhttp.ClientIPFromForwardedHeaders(prefixes))
	}

	checks := map[string]func(context.Context) error{}
	if be.pg != nil {
		checks["postgres"] = be.pg.Ping
	}
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		svc.WithRedis(rdb)
		checks["redis"] = redisstore.NewKV(rdb, "").Ping
	}

	penv, err := provision.LoadEnv()
	if err != nil {
		log.WithError(err).Warn("reconcile_env_invalid")
	}
	pcfg, err := provision.LoadConfig()
	if err != nil {
		log.WithError(err).Warn("reconcile_config_invalid")
		pcfg = provision.DefaultConfig()
	}
	reconciler := provision.NewReconciler(be.provision, pcfg,
		provision.WithLogger(log),
		provision.WithMetrics(provision.NewMetrics(reg)),
	)
	svc.WithReconciler(reconciler, penv).WithProviderCredentials(be.provision, pcfg)
	if cfg.ReconcileOnStart {
		reconciler.Reconcile(ctx, penv)
	}

	if be.pg != nil {
		client, err := startRiver(ctx, be.pg, cfg, reconciler, penv, log)
		if err != nil {
			return err
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := client.Stop(stopCtx); err != nil {
				log.WithError(err).Warn("river_stop_failed")
			}
		}()
	}

	apiH := svc.APIHandler()
	oidcH := svc.OIDCHandler()

	mux := http.NewServeMux()
	mux.Handle("GET /healthz", healthHandler(checks))
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.Handle("GET /auth/oidc/", oidcH)
	mux.Handle("/auth/", apiH)

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	log.WithField("addr", cfg.ListenAddr).Info("listening")
	return server.ListenAndServe()
}

// healthHandler answers 200 {"status":"ok"} when every dependency check passes
// and 503 with the failing dependency names otherwise.
func healthHandler(checks map[string]func(context.Context) error) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		failed := map[string]string{}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				failed[name] = err.Error()
			}
		}
		w.Header().Set("Content-Type", "application/json")
		if len(failed) > 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]any{"status": "degraded", "failed": failed})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
}

func startRiver(ctx context.Context, pool *pgxpool.Pool, cfg *config, r *provision.Reconciler, penv provision.Env, log logrus.FieldLogger) (*river.Client[pgx.Tx], error) {
	workers := river.NewWorkers()
	riverjobs.RegisterReconcileWorker(workers, r, penv, log)
	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues:  map[string]river.QueueConfig{river.QueueDefault: {MaxWorkers: 2}},
		Workers: workers,
	})
	if err != nil {
		return nil, fmt.Errorf("river client: %w", err)
	}
	if cfg.ReconcileCron != "" {
		if err := riverjobs.AddReconcilePeriodicJob(client, cfg.ReconcileCron, riverjobs.ReconcileArgs{}, false); err != nil {
			return nil, err
		}
	}
	if err := client.Start(ctx); err != nil {
		return nil, fmt.Errorf("river start: %w", err)
	}
	return client, nil
}

// runMigrate applies the profiles schema and River's own tables. SQLite stores
// migrate themselves on open.
func runMigrate(ctx context.Context, cfg *config) error {
	if cfg.DBURL == "" {
		if cfg.SQLitePath == "" {
			return errors.New("DATABASE_URL or PROFILEKIT_SQLITE_PATH is required to migrate")
		}
		st, err := sqlitestore.Open(cfg.SQLitePath)
		if err != nil {
			return err
		}
		return st.Close()
	}

	sqlDB, err := sql.Open("pgx", cfg.DBURL)
	if err != nil {
		return fmt.Errorf("open sql db: %w", err)
	}
	defer sqlDB.Close()
	if err := pgmigrations.Apply(ctx, sqlDB); err != nil {
		return err
	}

	pool, err := pgstore.Open(ctx, cfg.DBURL)
	if err != nil {
		return err
	}
	defer pool.Close()
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		return fmt.Errorf("river migrator: %w", err)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		return fmt.Errorf("river migrate: %w", err)
	}
	return nil
}

// runReconcile is the deploy hook. Every failure is logged as a warning and the
// process exits 0 so a deploy is never blocked.
func runReconcile(log *logrus.Logger) {
	ctx := context.Background()
	var c config
	if err := env.Parse(&c); err != nil {
		log.WithError(err).Warn("reconcile_config_invalid")
	}
	penv, err := provision.LoadEnv()
	if err != nil {
		log.WithError(err).Warn("reconcile_env_invalid")
	}
	pcfg, err := provision.LoadConfig()
	if err != nil {
		log.WithError(err).Warn("reconcile_config_invalid")
		pcfg = provision.DefaultConfig()
	}

	var store provision.Store
	be, err := openBackend(ctx, &c)
	if err != nil {
		log.WithError(err).Warn("reconcile_store_unavailable")
	} else {
		defer be.close()
		store = be.provision
	}
	rep := provision.NewReconciler(store, pcfg, provision.WithLogger(log)).Reconcile(ctx, penv)
	log.WithFields(logrus.Fields{
		"outcome":          string(rep.Outcome),
		"reached":          rep.Reached.String(),
		"admin_created":    rep.AdminCreated,
		"provider_created": rep.ProviderCreated,
	}).Info("reconcile_finished")
}

func fatal(log *logrus.Logger, err error) {
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		os.Exit(0)
	}
	log.WithError(err).Error("exit")
	os.Exit(1)
}
