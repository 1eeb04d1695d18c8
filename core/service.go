package core

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

// Service is the core profile/auth service used by HTTP adapters.
type Service struct {
	opts           Options
	signingKey     []byte
	accounts       AccountStore
	pg             *pgxpool.Pool
	log            logrus.FieldLogger
	metrics        *Metrics
	authlog        AuthEventLogger
	ephemeralStore EphemeralStore
	ephemeralMode  EphemeralMode
}

func NewService(opts Options, signingKey []byte) *Service {
	log := logrus.StandardLogger()
	return &Service{
		opts:          opts,
		signingKey:    signingKey,
		log:           log,
		metrics:       NewMetrics(nil),
		authlog:       NewLogrusEventLogger(log),
		ephemeralMode: EphemeralMemory,
	}
}

// NewFromConfig validates cfg, applies defaults and returns a Service without storage attached.
func NewFromConfig(cfg Config) (*Service, error) {
	if strings.TrimSpace(cfg.Issuer) == "" {
		return nil, fmt.Errorf("profilekit: Issuer is required (e.g., \"https://profiles.example.com\")")
	}
	if len(cfg.SigningKey) < 32 {
		return nil, fmt.Errorf("profilekit: SigningKey must be at least 32 bytes")
	}
	aud := strings.TrimSpace(cfg.Audience)
	if aud == "" {
		aud = "profilekit"
	}
	accessTTL := cfg.AccessTokenDuration
	if accessTTL == 0 {
		accessTTL = time.Hour
	}
	sessTTL := cfg.SessionDuration
	if sessTTL == 0 {
		sessTTL = 14 * 24 * time.Hour
	}
	opts := Options{
		Issuer:              strings.TrimRight(cfg.Issuer, "/"),
		Audience:            aud,
		AccessTokenDuration: accessTTL,
		SessionDuration:     sessTTL,
		BaseURL:             strings.TrimRight(cfg.BaseURL, "/"),
	}
	return NewService(opts, cfg.SigningKey), nil
}

// Options returns the resolved options.
func (s *Service) Options() Options { return s.opts }

// WithPostgres attaches Postgres as the account store.
func (s *Service) WithPostgres(pool *pgxpool.Pool) *Service {
	s.pg = pool
	if pool != nil {
		s.accounts = NewPostgresAccounts(pool)
	}
	return s
}

// Postgres returns the attached pool, or nil.
func (s *Service) Postgres() *pgxpool.Pool { return s.pg }

// WithAccountStore attaches any AccountStore (sqlite, memory).
func (s *Service) WithAccountStore(store AccountStore) *Service { s.accounts = store; return s }

func (s *Service) WithLogger(l logrus.FieldLogger) *Service {
	if l != nil {
		s.log = l
		if _, ok := s.authlog.(*LogrusEventLogger); ok {
			s.authlog = NewLogrusEventLogger(l)
		}
	}
	return s
}

func (s *Service) WithMetrics(m *Metrics) *Service {
	if m != nil {
		s.metrics = m
	}
	return s
}

func (s *Service) WithAuthLogger(l AuthEventLogger) *Service { s.authlog = l; return s }

// Logger returns the service logger.
func (s *Service) Logger() logrus.FieldLogger { return s.log }

func (s *Service) store() (AccountStore, error) {
	if s == nil || s.accounts == nil {
		return nil, ErrStoreUnavailable
	}
	return s.accounts, nil
}

func randB64(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
