package memorystore

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/open-rails/profilekit/core"
	"github.com/open-rails/profilekit/password"
	"github.com/open-rails/profilekit/provision"
	"github.com/open-rails/profilekit/roles"
)

type passwordRec struct {
	hash string
	algo string
}

type linkKey struct {
	issuer  string
	subject string
}

// Store is an in-memory account and provisioning store.
// It is only safe for single-process deployments and tests.
type Store struct {
	mu        sync.Mutex
	users     map[string]core.User
	passwords map[string]passwordRec
	links     map[linkKey]core.ProviderLink
	userRoles map[string]map[string]struct{}
	sites     map[int64]provision.Site
	apps      map[string]provision.ProviderConfig
	nextAppID int64
	failures  map[string]error
}

var (
	_ core.AccountStore         = (*Store)(nil)
	_ provision.CredentialStore = (*Store)(nil)
)

func NewStore() *Store {
	return &Store{
		users:     make(map[string]core.User),
		passwords: make(map[string]passwordRec),
		links:     make(map[linkKey]core.ProviderLink),
		userRoles: make(map[string]map[string]struct{}),
		sites:     make(map[int64]provision.Site),
		apps:      make(map[string]provision.ProviderConfig),
		failures:  make(map[string]error),
	}
}

// FailOn makes the named operation (method name, e.g. "CreateAdminAccount") return err.
// A nil err clears the failure.
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

func (s *Store) failure(op string) error { return s.failures[op] }

// --- core.AccountStore ---

func (s *Store) UserByID(_ context.Context, id string) (*core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("UserByID"); err != nil {
		return nil, err
	}
	u, ok := s.users[id]
	if !ok {
		return nil, core.ErrUserNotFound
	}
	return &u, nil
}

func (s *Store) UserByEmail(_ context.Context, email string) (*core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("UserByEmail"); err != nil {
		return nil, err
	}
	if u, ok := s.userByEmailLocked(email); ok {
		return &u, nil
	}
	return nil, core.ErrUserNotFound
}

func (s *Store) UserByUsername(_ context.Context, username string) (*core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("UserByUsername"); err != nil {
		return nil, err
	}
	if u, ok := s.userByUsernameLocked(username); ok {
		return &u, nil
	}
	return nil, core.ErrUserNotFound
}

func (s *Store) userByEmailLocked(email string) (core.User, bool) {
	email = core.NormalizeEmail(email)
	if email == "" {
		return core.User{}, false
	}
	for _, u := range s.users {
		if u.Email != nil && strings.EqualFold(*u.Email, email) {
			return u, true
		}
	}
	return core.User{}, false
}

func (s *Store) userByUsernameLocked(username string) (core.User, bool) {
	for _, u := range s.users {
		if u.Username == username {
			return u, true
		}
	}
	return core.User{}, false
}

func (s *Store) CreateUser(_ context.Context, nu core.NewUser) (*core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("CreateUser"); err != nil {
		return nil, err
	}
	u, err := s.createUserLocked(nu)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) createUserLocked(nu core.NewUser) (core.User, error) {
	if _, ok := s.userByUsernameLocked(nu.Username); ok {
		return core.User{}, core.ErrUsernameTaken
	}
	if _, ok := s.userByEmailLocked(nu.Email); ok {
		return core.User{}, core.ErrEmailTaken
	}
	now := time.Now().UTC()
	u := core.User{
		ID:            uuid.NewString(),
		Username:      nu.Username,
		EmailVerified: nu.EmailVerified,
		IsActive:      true,
		Biography:     nu.Biography,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if e := core.NormalizeEmail(nu.Email); e != "" {
		u.Email = &e
	}
	s.users[u.ID] = u
	if nu.PasswordHash != "" {
		s.passwords[u.ID] = passwordRec{hash: nu.PasswordHash, algo: nu.PasswordAlgo}
	}
	return u, nil
}

func (s *Store) updateUser(op, id string, fn func(u *core.User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure(op); err != nil {
		return err
	}
	u, ok := s.users[id]
	if !ok {
		return core.ErrUserNotFound
	}
	fn(&u)
	u.UpdatedAt = time.Now().UTC()
	s.users[id] = u
	return nil
}

func (s *Store) SetEmailVerified(_ context.Context, id string, v bool) error {
	return s.updateUser("SetEmailVerified", id, func(u *core.User) { u.EmailVerified = v })
}

func (s *Store) SetLastLogin(_ context.Context, id string, t time.Time) error {
	return s.updateUser("SetLastLogin", id, func(u *core.User) { u.LastLogin = &t })
}

func (s *Store) UpdateBiography(_ context.Context, id string, bio *string) error {
	return s.updateUser("UpdateBiography", id, func(u *core.User) { u.Biography = bio })
}

// SetActive toggles the is_active flag; used by hosts and tests.
func (s *Store) SetActive(id string, active bool) error {
	return s.updateUser("SetActive", id, func(u *core.User) { u.IsActive = active })
}

func (s *Store) PasswordHash(_ context.Context, userID string) (string, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("PasswordHash"); err != nil {
		return "", "", err
	}
	p, ok := s.passwords[userID]
	if !ok {
		return "", "", core.ErrUserNotFound
	}
	return p.hash, p.algo, nil
}

func (s *Store) UpsertPasswordHash(_ context.Context, userID, hash, algo string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("UpsertPasswordHash"); err != nil {
		return err
	}
	if _, ok := s.users[userID]; !ok {
		return core.ErrUserNotFound
	}
	s.passwords[userID] = passwordRec{hash: hash, algo: algo}
	return nil
}

func (s *Store) ProviderLink(_ context.Context, issuer, subject string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("ProviderLink"); err != nil {
		return "", err
	}
	l, ok := s.links[linkKey{issuer, subject}]
	if !ok {
		return "", core.ErrUserNotFound
	}
	return l.UserID, nil
}

// LinkProvider inserts the link or refreshes its email. A link owned by another
// user is left untouched.
func (s *Store) LinkProvider(_ context.Context, link core.ProviderLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("LinkProvider"); err != nil {
		return err
	}
	k := linkKey{link.Issuer, link.Subject}
	if cur, ok := s.links[k]; ok {
		if cur.UserID == link.UserID {
			cur.Email = link.Email
			s.links[k] = cur
		}
		return nil
	}
	if link.CreatedAt.IsZero() {
		link.CreatedAt = time.Now().UTC()
	}
	s.links[k] = link
	return nil
}

func (s *Store) ListProviderLinks(_ context.Context, userID string) ([]core.ProviderLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("ListProviderLinks"); err != nil {
		return nil, err
	}
	var out []core.ProviderLink
	for _, l := range s.links {
		if l.UserID == userID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) ListRoleSlugs(_ context.Context, userID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("ListRoleSlugs"); err != nil {
		return nil, err
	}
	var out []string
	for slug := range s.userRoles[userID] {
		out = append(out, slug)
	}
	sort.Strings(out)
	return out, nil
}

// --- provision.Store ---

func (s *Store) UpsertSite(_ context.Context, id int64, domain, name string) (*provision.Site, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("UpsertSite"); err != nil {
		return nil, err
	}
	site := provision.Site{ID: id, Domain: domain, Name: name}
	s.sites[id] = site
	return &site, nil
}

func (s *Store) AccountExists(_ context.Context, username string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("AccountExists"); err != nil {
		return false, err
	}
	_, ok := s.userByUsernameLocked(username)
	return ok, nil
}

func (s *Store) CreateAdminAccount(_ context.Context, username, email, pass string) (*provision.AdminAccount, error) {
	hash, algo, err := password.Hash(pass)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("CreateAdminAccount"); err != nil {
		return nil, err
	}
	u, err := s.createUserLocked(core.NewUser{Email: email, Username: username, EmailVerified: true, PasswordHash: hash, PasswordAlgo: algo})
	if errors.Is(err, core.ErrUsernameTaken) {
		return nil, provision.ErrAlreadyExists
	}
	if err != nil {
		return nil, err
	}
	s.userRoles[u.ID] = map[string]struct{}{roles.Admin: {}}
	return &provision.AdminAccount{ID: u.ID, Username: u.Username, Email: email}, nil
}

func (s *Store) FindProviderConfig(_ context.Context, provider string) (*provision.ProviderConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("FindProviderConfig"); err != nil {
		return nil, err
	}
	cfg, ok := s.apps[provider]
	if !ok {
		return nil, nil
	}
	cfg.SiteIDs = append([]int64(nil), cfg.SiteIDs...)
	return &cfg, nil
}

func (s *Store) CreateProviderConfig(_ context.Context, provider, name, clientID, secret string) (*provision.ProviderConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("CreateProviderConfig"); err != nil {
		return nil, err
	}
	if _, ok := s.apps[provider]; ok {
		return nil, provision.ErrAlreadyExists
	}
	s.nextAppID++
	cfg := provision.ProviderConfig{ID: s.nextAppID, Provider: provider, Name: name, ClientID: clientID, Secret: secret}
	s.apps[provider] = cfg
	return &cfg, nil
}

func (s *Store) UpdateProviderCredentials(_ context.Context, provider, clientID, secret string) (*provision.ProviderConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("UpdateProviderCredentials"); err != nil {
		return nil, err
	}
	cfg, ok := s.apps[provider]
	if !ok {
		return nil, provision.ErrNotFound
	}
	cfg.ClientID, cfg.Secret = clientID, secret
	s.apps[provider] = cfg
	cfg.SiteIDs = append([]int64(nil), cfg.SiteIDs...)
	return &cfg, nil
}

func (s *Store) LinkSite(_ context.Context, cfg *provision.ProviderConfig, site *provision.Site) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("LinkSite"); err != nil {
		return err
	}
	cur, ok := s.apps[cfg.Provider]
	if !ok {
		return provision.ErrNotFound
	}
	if _, ok := s.sites[site.ID]; !ok {
		return provision.ErrNotFound
	}
	if !cur.Linked(site.ID) {
		cur.SiteIDs = append(cur.SiteIDs, site.ID)
		s.apps[cfg.Provider] = cur
	}
	cfg.SiteIDs = append([]int64(nil), cur.SiteIDs...)
	return nil
}

// --- readers ---

// Site returns the stored site or provision.ErrNotFound.
func (s *Store) Site(id int64) (provision.Site, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	site, ok := s.sites[id]
	if !ok {
		return provision.Site{}, provision.ErrNotFound
	}
	return site, nil
}

// CountProviderConfigs returns the number of provider configs for provider.
func (s *Store) CountProviderConfigs(provider string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.apps[provider]; ok {
		return 1
	}
	return 0
}

// CountUsers returns the number of accounts named username.
func (s *Store) CountUsers(username string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, u := range s.users {
		if u.Username == username {
			n++
		}
	}
	return n
}
