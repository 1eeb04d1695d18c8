package core

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"time"
)

type EphemeralMode string

const (
	EphemeralMemory EphemeralMode = "memory"
	EphemeralRedis  EphemeralMode = "redis"
)

var errNoEphemeralStore = errors.New("profilekit: ephemeral store unavailable")

// EphemeralStore holds short-lived state (sessions) with a TTL.
// A missing key is (nil, false, nil), not an error.
type EphemeralStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

func (s *Service) WithEphemeralStore(store EphemeralStore, mode EphemeralMode) *Service {
	if mode == "" {
		mode = EphemeralMemory
	}
	s.ephemeralStore = store
	s.ephemeralMode = mode
	return s
}

// EphemeralMode reports which kind of store backs sessions.
func (s *Service) EphemeralMode() EphemeralMode {
	if s == nil || s.ephemeralMode == "" {
		return EphemeralMemory
	}
	return s.ephemeralMode
}

func ephemPut[T any](ctx context.Context, s *Service, key string, v T, ttl time.Duration) error {
	if s == nil || s.ephemeralStore == nil {
		return errNoEphemeralStore
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.ephemeralStore.Set(ctx, key, b, ttl)
}

func ephemLoad[T any](ctx context.Context, s *Service, key string) (T, bool, error) {
	var out T
	if s == nil || s.ephemeralStore == nil {
		return out, false, errNoEphemeralStore
	}
	b, ok, err := s.ephemeralStore.Get(ctx, key)
	if err != nil || !ok {
		return out, false, err
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return out, false, err
	}
	return out, true, nil
}

func (s *Service) ephemDel(ctx context.Context, key string) error {
	if s == nil || s.ephemeralStore == nil {
		return errNoEphemeralStore
	}
	return s.ephemeralStore.Del(ctx, key)
}

// IsDevEnvironment is true unless ENV, APP_ENV or ENVIRONMENT (first one set) is prod or production.
func IsDevEnvironment() bool {
	for _, k := range []string{"ENV", "APP_ENV", "ENVIRONMENT"} {
		if v := strings.ToLower(strings.TrimSpace(os.Getenv(k))); v != "" {
			return v != "prod" && v != "production"
		}
	}
	return true
}
