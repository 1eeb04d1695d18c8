package provision

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
)

// State is a node of a reconcile run: Start → SiteConverged → AdminChecked →
// ProviderConverged → Done. A failure jumps straight to Done.
type State int

const (
	StateStart State = iota
	StateSiteConverged
	StateAdminChecked
	StateProviderConverged
	StateDone
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateSiteConverged:
		return "site_converged"
	case StateAdminChecked:
		return "admin_checked"
	case StateProviderConverged:
		return "provider_converged"
	case StateDone:
		return "done"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Outcome is the best-effort result of a run.
type Outcome string

const (
	OutcomeOK      Outcome = "ok"
	OutcomeWarning Outcome = "warning"
)

// Report describes what a run did. Reached is the last state completed before Done;
// Warning carries the contained failure when Outcome is OutcomeWarning.
type Report struct {
	Outcome         Outcome
	Reached         State
	Warning         error
	Site            *Site
	AdminCreated    bool
	ProviderCreated bool
}

// OK reports whether every step completed.
func (r Report) OK() bool { return r.Outcome == OutcomeOK }

// Reconciler converges site identity, bootstrap admin and provider placeholders.
type Reconciler struct {
	store    Store
	cfg      Config
	log      logrus.FieldLogger
	metrics  *Metrics
	validate *validator.Validate
}

type Option func(*Reconciler)

func WithLogger(l logrus.FieldLogger) Option {
	return func(r *Reconciler) {
		if l != nil {
			r.log = l
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(r *Reconciler) {
		if m != nil {
			r.metrics = m
		}
	}
}

func NewReconciler(store Store, cfg Config, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:    store,
		cfg:      cfg,
		log:      logrus.StandardLogger(),
		metrics:  NewMetrics(nil),
		validate: validator.New(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Reconcile runs the three steps in order. It never returns an error and never
// panics: any failure is logged as a warning, stops the run and is surfaced only
// through the Report.
func (r *Reconciler) Reconcile(ctx context.Context, env Env) (rep Report) {
	rep = Report{Outcome: OutcomeOK, Reached: StateStart}
	defer func() {
		if p := recover(); p != nil {
			rep = r.fail(rep, &PersistenceError{Op: "reconcile", Err: fmt.Errorf("panic: %v", p)})
		}
		r.metrics.Runs.WithLabelValues(string(rep.Outcome)).Inc()
	}()

	if r.store == nil {
		return r.fail(rep, &PersistenceError{Op: "open_store", Err: errors.New("store not configured")})
	}

	host, err := r.hostname(env)
	if err != nil {
		return r.fail(rep, err)
	}

	site, err := r.convergeSite(ctx, host)
	if err != nil {
		return r.fail(rep, err)
	}
	rep.Site = site
	rep.Reached = StateSiteConverged

	created, err := r.bootstrapAdmin(ctx)
	if err != nil {
		return r.fail(rep, err)
	}
	rep.AdminCreated = created
	rep.Reached = StateAdminChecked

	created, err = r.convergeProvider(ctx, site)
	rep.ProviderCreated = created
	if err != nil {
		return r.fail(rep, err)
	}
	rep.Reached = StateProviderConverged

	r.log.WithFields(logrus.Fields{
		"site_id":          site.ID,
		"domain":           site.Domain,
		"admin_created":    rep.AdminCreated,
		"provider":         r.cfg.Provider,
		"provider_created": rep.ProviderCreated,
	}).Info("reconcile_done")
	return rep
}

func (r *Reconciler) fail(rep Report, err error) Report {
	step := rep.Reached + 1
	if step > StateProviderConverged {
		step = StateDone
	}
	rep.Outcome = OutcomeWarning
	rep.Warning = err
	r.metrics.StepFailures.WithLabelValues(step.String()).Inc()
	r.log.WithError(err).WithFields(logrus.Fields{
		"step":    step.String(),
		"reached": rep.Reached.String(),
	}).Warn("reconcile_step_failed")
	return rep
}

func (r *Reconciler) hostname(env Env) (string, error) {
	host := strings.TrimSpace(env.Hostname)
	if host == "" {
		return "localhost", nil
	}
	if err := r.validate.Var(host, "hostname_rfc1123"); err != nil {
		return "", &ConfigurationError{Field: "RENDER_EXTERNAL_HOSTNAME", Value: host, Err: err}
	}
	return host, nil
}

func (r *Reconciler) convergeSite(ctx context.Context, host string) (*Site, error) {
	site, err := r.store.UpsertSite(ctx, r.cfg.SiteID, host, r.cfg.SiteName)
	if err != nil {
		return nil, &PersistenceError{Op: "upsert_site", Err: err}
	}
	return site, nil
}

// bootstrapAdmin creates the admin account only when absent. An existing account
// is never modified.
func (r *Reconciler) bootstrapAdmin(ctx context.Context) (bool, error) {
	exists, err := r.store.AccountExists(ctx, r.cfg.AdminUsername)
	if err != nil {
		return false, &PersistenceError{Op: "account_exists", Err: err}
	}
	if exists {
		return false, nil
	}
	_, err = r.store.CreateAdminAccount(ctx, r.cfg.AdminUsername, r.cfg.AdminEmail, r.cfg.AdminPassword)
	if errors.Is(err, ErrAlreadyExists) {
		// A concurrent deploy created it first.
		return false, nil
	}
	if err != nil {
		return false, &PersistenceError{Op: "create_admin_account", Err: err}
	}
	r.log.WithField("username", r.cfg.AdminUsername).Info("reconcile_admin_created")
	return true, nil
}

// convergeProvider creates the placeholder config when absent and otherwise only
// ensures the site link. Credential fields of an existing config are never written.
func (r *Reconciler) convergeProvider(ctx context.Context, site *Site) (bool, error) {
	cfg, err := r.store.FindProviderConfig(ctx, r.cfg.Provider)
	if err != nil {
		return false, &PersistenceError{Op: "find_provider_config", Err: err}
	}
	created := false
	if cfg == nil {
		cfg, err = r.store.CreateProviderConfig(ctx, r.cfg.Provider, r.cfg.ProviderName, r.cfg.PlaceholderClientID, r.cfg.PlaceholderSecret)
		switch {
		case errors.Is(err, ErrAlreadyExists):
			cfg, err = r.store.FindProviderConfig(ctx, r.cfg.Provider)
			if err != nil {
				return false, &PersistenceError{Op: "find_provider_config", Err: err}
			}
			if cfg == nil {
				return false, &PersistenceError{Op: "find_provider_config", Err: ErrNotFound}
			}
		case err != nil:
			return false, &PersistenceError{Op: "create_provider_config", Err: err}
		default:
			created = true
			r.log.WithField("provider", r.cfg.Provider).Info("reconcile_provider_placeholder_created")
		}
	} else if r.cfg.IsPlaceholder(cfg) {
		r.log.WithField("provider", r.cfg.Provider).Warn("reconcile_provider_credentials_still_placeholder")
	}
	if err := r.store.LinkSite(ctx, cfg, site); err != nil {
		return created, &PersistenceError{Op: "link_site", Err: err}
	}
	return created, nil
}
