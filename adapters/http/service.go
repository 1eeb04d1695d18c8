package authhttp

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	core "github.com/open-rails/profilekit/core"
	oidckit "github.com/open-rails/profilekit/oidc"
	"github.com/open-rails/profilekit/provision"
	memorylimiter "github.com/open-rails/profilekit/ratelimit/memory"
	redislimiter "github.com/open-rails/profilekit/ratelimit/redis"
	memorystore "github.com/open-rails/profilekit/storage/memory"
	redisstore "github.com/open-rails/profilekit/storage/redis"
)

// OIDCFlow is the relying-party side of the browser redirect flow.
// *oidckit.Manager implements it.
type OIDCFlow interface {
	Begin(ctx context.Context, provider, state, nonce, codeChallenge, redirectURI string) (string, error)
	Exchange(ctx context.Context, provider, redirectURI, code, verifier, nonce string) (oidckit.Claims, error)
	IssuerFor(provider string) (string, bool)
}

// providerConfigurer is implemented by flows whose providers can change at runtime.
type providerConfigurer interface {
	Configure(provider string, c oidckit.RPConfig) bool
	Disable(provider string) bool
}

var (
	_ OIDCFlow           = (*oidckit.Manager)(nil)
	_ providerConfigurer = (*oidckit.Manager)(nil)
)

// Service wraps core.Service with net/http mounting helpers.
type Service struct {
	svc      *core.Service
	rd       *redis.Client
	rl       RateLimiter
	clientIP ClientIPFunc
	oidc     OIDCFlow
	states   oidckit.StateCache
	log      logrus.FieldLogger

	reconciler   *provision.Reconciler
	reconcileEnv provision.Env

	creds        provision.CredentialStore
	credsCfg     provision.Config
	envProviders map[string]oidckit.RPConfig
}

func (s *Service) allow(r *http.Request, bucket string) bool {
	if s == nil {
		return true
	}
	if s.rl == nil {
		return true
	}
	ipFn := s.clientIP
	if ipFn == nil {
		ipFn = DefaultClientIP()
	}
	ip := ipFn(r)
	if strings.TrimSpace(ip) == "" {
		return true
	}
	key := "auth:" + bucket + ":ip:" + ip
	ok, err := s.rl.AllowNamed(bucket, key)
	if err != nil {
		s.log.WithError(err).WithField("bucket", bucket).Warn("rate_limiter_failed")
		return true
	}
	return ok
}

// NewService constructs a core.Service and wraps it for net/http mounting.
// Sessions, OIDC states and rate limits start in memory; WithRedis moves them to Redis.
func NewService(cfg core.Config) (*Service, error) {
	coreSvc, err := core.NewFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	coreSvc = coreSvc.WithEphemeralStore(memorystore.NewKV(), core.EphemeralMemory)
	s := &Service{
		svc:      coreSvc,
		rl:       memorylimiter.New(ToMemoryLimits(DefaultRateLimits())),
		clientIP: DefaultClientIP(),
		oidc:     oidckit.NewManager(oidckit.ResolveRPClients(cfg.Providers)),
		states:   memorystore.NewStateCache(15 * time.Minute),
		log:      coreSvc.Logger(),

		envProviders: map[string]oidckit.RPConfig{},
	}
	for name, c := range cfg.Providers {
		s.envProviders[strings.ToLower(strings.TrimSpace(name))] = c
	}
	return s, nil
}

func (s *Service) WithPostgres(pg *pgxpool.Pool) *Service { s.svc = s.svc.WithPostgres(pg); return s }
func (s *Service) WithAccountStore(store core.AccountStore) *Service {
	s.svc = s.svc.WithAccountStore(store)
	return s
}

// WithRedis moves sessions, OIDC states and rate limit counters to rd.
func (s *Service) WithRedis(rd *redis.Client) *Service {
	s.rd = rd
	if rd != nil {
		s.svc = s.svc.WithEphemeralStore(redisstore.NewKV(rd, "profilekit:"), core.EphemeralRedis)
		s.states = redisstore.NewStateCache(rd, "profilekit:oidc:state:", 0)
		if _, ok := s.rl.(*memorylimiter.Limiter); ok {
			s.rl = redislimiter.New(rd, ToRedisLimits(DefaultRateLimits()))
		}
	}
	return s
}
func (s *Service) WithRateLimiter(rl RateLimiter) *Service { s.rl = rl; return s }
func (s *Service) DisableRateLimiter() *Service            { s.rl = nil; return s }
func (s *Service) WithClientIPFunc(fn ClientIPFunc) *Service {
	if fn == nil {
		s.clientIP = DefaultClientIP()
		return s
	}
	s.clientIP = fn
	return s
}
func (s *Service) WithLogger(l logrus.FieldLogger) *Service {
	if l != nil {
		s.log = l
		s.svc = s.svc.WithLogger(l)
	}
	return s
}
func (s *Service) WithMetrics(m *core.Metrics) *Service {
	s.svc = s.svc.WithMetrics(m)
	return s
}
func (s *Service) WithAuthLogger(l core.AuthEventLogger) *Service {
	s.svc = s.svc.WithAuthLogger(l)
	return s
}
func (s *Service) WithEphemeralStore(store core.EphemeralStore, mode core.EphemeralMode) *Service {
	s.svc = s.svc.WithEphemeralStore(store, mode)
	return s
}

// WithOIDC replaces the relying party used by the browser flow.
func (s *Service) WithOIDC(flow OIDCFlow) *Service {
	if flow != nil {
		s.oidc = flow
	}
	return s
}

// WithStateCache replaces where pending OIDC states are kept.
func (s *Service) WithStateCache(c oidckit.StateCache) *Service {
	if c != nil {
		s.states = c
	}
	return s
}

// WithReconciler exposes POST /auth/admin/reconcile, running r against env.
func (s *Service) WithReconciler(r *provision.Reconciler, env provision.Env) *Service {
	s.reconciler = r
	s.reconcileEnv = env
	return s
}

// WithProviderCredentials makes sign-in read cfg.Provider's client credentials
// from store and exposes PUT /auth/admin/providers/{provider}/credentials.
// Stored credentials win over core.Config.Providers while they are linked to
// cfg.SiteID and not placeholders.
func (s *Service) WithProviderCredentials(store provision.CredentialStore, cfg provision.Config) *Service {
	s.creds = store
	s.credsCfg = cfg
	return s
}

func (s *Service) Core() *core.Service { return s.svc }

func (s *Service) secureCookies() bool {
	return strings.HasPrefix(s.svc.Options().BaseURL, "https://")
}
