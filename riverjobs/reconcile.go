package riverjobs

import (
	"context"
	"errors"
	"time"

	"github.com/riverqueue/river"
	"github.com/sirupsen/logrus"

	"github.com/open-rails/profilekit/provision"
)

// ReconcileArgs re-runs deployment reconciliation. Hostname overrides the worker's
// environment when set.
type ReconcileArgs struct {
	Hostname string `json:"hostname,omitempty"`
}

func (ReconcileArgs) Kind() string { return "profilekit_reconcile" }

func (args ReconcileArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue: river.QueueDefault,
		UniqueOpts: river.UniqueOpts{
			ByArgs:   true,
			ByPeriod: time.Hour,
			ByQueue:  true,
		},
	}
}

// ReconcileWorker repairs drift in the site, admin and provider records.
//
// A run that ends in a warning still completes the job; the warning is only logged.
type ReconcileWorker struct {
	river.WorkerDefaults[ReconcileArgs]
	reconciler *provision.Reconciler
	env        provision.Env
	log        logrus.FieldLogger
}

func NewReconcileWorker(r *provision.Reconciler, env provision.Env, log logrus.FieldLogger) *ReconcileWorker {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &ReconcileWorker{reconciler: r, env: env, log: log}
}

func (w *ReconcileWorker) Timeout(*river.Job[ReconcileArgs]) time.Duration {
	return time.Minute
}

func (w *ReconcileWorker) Work(ctx context.Context, job *river.Job[ReconcileArgs]) error {
	if w == nil || w.reconciler == nil {
		return errors.New("profilekit reconcile: reconciler not configured")
	}
	env := w.env
	if job != nil && job.Args.Hostname != "" {
		env.Hostname = job.Args.Hostname
	}
	rep := w.reconciler.Reconcile(ctx, env)
	if !rep.OK() {
		w.log.WithError(rep.Warning).WithField("reached", rep.Reached.String()).Warn("reconcile_job_warning")
	}
	return nil
}
