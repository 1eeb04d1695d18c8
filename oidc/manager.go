package oidckit

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/zitadel/oidc/v2/pkg/client/rp"
)

// ErrUnknownProvider is returned for provider slugs that are not configured.
var ErrUnknownProvider = errors.New("unknown provider")

// RPClient is a resolved provider: issuer, client credentials and scopes.
type RPClient struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	Scopes       []string
	// ExtraAuthParams are appended to the authorization URL (e.g. prompt=select_account).
	ExtraAuthParams map[string]string
}

// Manager starts and completes PKCE authorization-code flows against configured providers.
// Relying parties are built from discovery on first use and cached per redirect URI.
// Providers can be reconfigured at runtime with Configure and Disable.
type Manager struct {
	mu        sync.Mutex
	providers map[string]RPClient
	rps       map[rpKey]rp.RelyingParty
}

type rpKey struct{ provider, redirectURI string }

func NewManager(cfgs map[string]RPClient) *Manager {
	providers := make(map[string]RPClient, len(cfgs))
	for k, v := range cfgs {
		providers[k] = v
	}
	return &Manager{providers: providers, rps: map[rpKey]rp.RelyingParty{}}
}

// Provider returns the configured RPClient for a provider slug.
func (m *Manager) Provider(name string) (RPClient, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pc, ok := m.providers[name]
	return pc, ok
}

// Providers lists configured provider slugs in sorted order.
func (m *Manager) Providers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.providers))
	for k := range m.providers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// IssuerFor returns the configured issuer URL for a provider slug.
func (m *Manager) IssuerFor(provider string) (string, bool) {
	pc, ok := m.Provider(provider)
	if !ok {
		return "", false
	}
	return pc.Issuer, true
}

// Configure installs c for provider, replacing any previous credentials, and
// reports whether anything changed. A config that resolves to nothing (no client
// id, unknown issuer) disables the provider instead.
func (m *Manager) Configure(provider string, c RPConfig) bool {
	provider = strings.ToLower(strings.TrimSpace(provider))
	resolved := ResolveRPClients(map[string]RPConfig{provider: c})
	pc, ok := resolved[provider]
	if !ok {
		return m.Disable(provider)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.providers[provider]; ok && sameClient(cur, pc) {
		return false
	}
	pc.ExtraAuthParams = m.providers[provider].ExtraAuthParams
	m.providers[provider] = pc
	m.dropRPsLocked(provider)
	return true
}

// Disable removes provider so Begin and Exchange reject it. It reports whether
// the provider was configured.
func (m *Manager) Disable(provider string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.providers[provider]; !ok {
		return false
	}
	delete(m.providers, provider)
	m.dropRPsLocked(provider)
	return true
}

func (m *Manager) dropRPsLocked(provider string) {
	for k := range m.rps {
		if k.provider == provider {
			delete(m.rps, k)
		}
	}
}

func sameClient(a, b RPClient) bool {
	return a.Issuer == b.Issuer && a.ClientID == b.ClientID && a.ClientSecret == b.ClientSecret && slices.Equal(a.Scopes, b.Scopes)
}

// Begin returns the provider's authorization URL. The caller persists state,
// verifier and nonce (StateCache) before redirecting.
func (m *Manager) Begin(ctx context.Context, provider, state, nonce, codeChallenge, redirectURI string) (string, error) {
	client, pc, err := m.relyingParty(provider, redirectURI)
	if err != nil {
		return "", err
	}
	opts := []rp.AuthURLOpt{
		rp.WithCodeChallenge(codeChallenge),
		rp.AuthURLOpt(rp.WithURLParam("code_challenge_method", "S256")),
		rp.AuthURLOpt(rp.WithURLParam("nonce", nonce)),
	}
	for k, v := range pc.ExtraAuthParams {
		opts = append(opts, rp.AuthURLOpt(rp.WithURLParam(k, v)))
	}
	return rp.AuthURL(state, client, opts...), nil
}

// Exchange redeems an authorization code and verifies the ID token against nonce.
func (m *Manager) Exchange(ctx context.Context, provider, redirectURI, code, verifier, nonce string) (Claims, error) {
	client, _, err := m.relyingParty(provider, redirectURI)
	if err != nil {
		return Claims{}, err
	}
	return DefaultExchanger(ctx, client, provider, code, verifier, nonce)
}

func (m *Manager) relyingParty(provider, redirectURI string) (rp.RelyingParty, RPClient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pc, ok := m.providers[provider]
	if !ok {
		return nil, RPClient{}, ErrUnknownProvider
	}
	key := rpKey{provider, redirectURI}
	if c, ok := m.rps[key]; ok {
		return c, pc, nil
	}
	c, err := rp.NewRelyingPartyOIDC(pc.Issuer, pc.ClientID, pc.ClientSecret, redirectURI, pc.Scopes)
	if err != nil {
		return nil, pc, fmt.Errorf("oidc discovery for %s: %w", provider, err)
	}
	m.rps[key] = c
	return c, pc, nil
}

// GeneratePKCE returns a verifier and its S256 challenge.
func GeneratePKCE() (verifier string, challenge string, err error) {
	v := make([]byte, 32)
	if _, err = rand.Read(v); err != nil {
		return "", "", err
	}
	verifier = base64.RawURLEncoding.EncodeToString(v)
	sum := sha256.Sum256([]byte(verifier))
	return verifier, base64.RawURLEncoding.EncodeToString(sum[:]), nil
}

// StateCache stores pending flows keyed by the OAuth state. Get followed by Del
// makes a state single-use.
type StateCache interface {
	Put(ctx context.Context, state string, data StateData) error
	Get(ctx context.Context, state string) (StateData, bool, error)
	Del(ctx context.Context, state string) error
}

// StateData is persisted between the login redirect and the callback.
type StateData struct {
	Provider    string `json:"provider"`
	Verifier    string `json:"verifier"`
	Nonce       string `json:"nonce"`
	RedirectURI string `json:"redirect_uri"`
	LinkUserID  string `json:"link_user_id,omitempty"`
	// Intent is the sign-in intent declared before the redirect ("login", "register" or empty).
	Intent string `json:"intent,omitempty"`
	// ReturnJSON makes the callback answer with JSON instead of a browser redirect.
	ReturnJSON bool `json:"return_json,omitempty"`
}
