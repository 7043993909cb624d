package deploy

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Cleanup deletes superseded replica sets and finished jobs older
// than the retention window. Dependents are orphaned on delete so a
// live controller can still reconcile them.
func (c *Controller) Cleanup(ctx context.Context) error {
	retention := c.Config.Cleanup.Retention
	ns := c.Env.Namespace

	sets, err := c.Cluster.SupersededReplicaSets(ctx, ns, retention)
	if err != nil {
		return err
	}
	for _, name := range sets {
		if err := c.Cluster.DeleteReplicaSet(ctx, ns, name); err != nil {
			return fmt.Errorf("deleting replica set %s: %w", name, err)
		}
	}

	jobs, err := c.Cluster.CompletedJobs(ctx, ns, retention)
	if err != nil {
		return err
	}
	for _, name := range jobs {
		if err := c.Cluster.DeleteJob(ctx, ns, name); err != nil {
			return fmt.Errorf("deleting job %s: %w", name, err)
		}
	}

	c.Logger.Info("cleanup completed",
		"environment", c.Env.Name,
		"replica_sets", len(sets),
		"jobs", len(jobs),
		"retention", retention.String())
	c.Status.Info("cleaned up %d replica sets, %d jobs", len(sets), len(jobs))
	return nil
}

// CleanupOnSchedule runs Cleanup on a cron schedule in the foreground
// until the context is cancelled. Failures are logged and the next
// tick still fires.
func (c *Controller) CleanupOnSchedule(ctx context.Context, schedule string) error {
	spec, err := cron.ParseStandard(schedule)
	if err != nil {
		return fmt.Errorf("invalid cleanup schedule %q: %w", schedule, err)
	}

	c.Status.Info("cleanup scheduled (%s)", schedule)
	for {
		next := spec.Next(time.Now())
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Until(next)):
		}
		if err := c.Cleanup(ctx); err != nil {
			c.Logger.Warn("scheduled cleanup failed", "error", err)
			c.Status.Warning("cleanup: %v", err)
		}
	}
}
