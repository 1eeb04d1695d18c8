package riverjobs

import (
	"errors"
	"fmt"

	"github.com/riverqueue/river"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/open-rails/profilekit/provision"
)

// RegisterReconcileWorker adds the reconcile worker to ws.
func RegisterReconcileWorker(ws *river.Workers, r *provision.Reconciler, env provision.Env, log logrus.FieldLogger) {
	river.AddWorker(ws, NewReconcileWorker(r, env, log))
}

// AddReconcilePeriodicJob enqueues args on a cron schedule. Standard five-field
// specs and descriptors are accepted ("*/30 * * * *", "@hourly").
func AddReconcilePeriodicJob[T any](client *river.Client[T], cronSpec string, args ReconcileArgs, runOnStart bool) error {
	schedule, err := cron.ParseStandard(cronSpec)
	if err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", cronSpec, err)
	}
	if client == nil {
		return errors.New("riverjobs: nil river client")
	}
	opts := args.InsertOpts()
	client.PeriodicJobs().Add(river.NewPeriodicJob(
		schedule,
		func() (river.JobArgs, *river.InsertOpts) { return args, &opts },
		&river.PeriodicJobOpts{RunOnStart: runOnStart},
	))
	return nil
}
