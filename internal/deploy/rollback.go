package deploy

import (
	"context"
	"errors"
	"fmt"

	"github.com/stackpilot/stackpilot/internal/events"
)

// Rollback reverts the selected component (or every service) to its
// previous revision. One invocation steps back exactly one revision.
// The data store is never rolled back.
func (c *Controller) Rollback(ctx context.Context, component string) error {
	services, err := c.services(component)
	if err != nil {
		return err
	}
	if err := c.checkPrerequisites(ctx); err != nil {
		return err
	}

	c.emit(events.New(events.RollbackRequested, c.RunID).
		WithData("environment", c.Env.Name).
		WithData("component", componentName(component)))

	for _, svc := range services {
		c.Status.Info("rolling back %s", svc.Name)
		if err := c.Runner.RolloutUndo(ctx, c.Env.Namespace, svc.Kind, svc.Name); err != nil {
			if errors.Is(err, ErrNoRolloutHistory) {
				return &RollbackError{Component: svc.Name, Err: ErrNoRolloutHistory}
			}
			return fmt.Errorf("rolling back %s: %w", svc.Name, err)
		}
		c.Logger.Info("rollback issued", "service", svc.Name, "environment", c.Env.Name)
		c.Status.Success("%s rolled back one revision", svc.Name)
	}
	return nil
}
