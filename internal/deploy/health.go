package deploy

import (
	"context"
	"fmt"

	"github.com/stackpilot/stackpilot/internal/await"
	"github.com/stackpilot/stackpilot/internal/config"
)

// HealthCheck probes the readiness endpoint of each selected service
// from inside the cluster. Every failing service is reported, not
// just the first.
func (c *Controller) HealthCheck(ctx context.Context, component string) error {
	services, err := c.services(component)
	if err != nil {
		return err
	}
	return c.healthCheck(ctx, services)
}

func (c *Controller) healthCheck(ctx context.Context, services []config.Workload) error {
	var failing []string
	for _, svc := range services {
		if err := c.probeService(ctx, svc); err != nil {
			c.Logger.Warn("health check failed", "service", svc.Name, "error", err)
			failing = append(failing, svc.Name)
			continue
		}
		c.Status.Success("%s healthy", svc.Name)
	}
	if len(failing) > 0 {
		return &HealthCheckFailedError{Services: failing}
	}
	return nil
}

// probeService curls the readiness path from within the service's own
// pod, so the probe exercises the same network the pod serves on.
func (c *Controller) probeService(ctx context.Context, svc config.Workload) error {
	pod, err := c.Cluster.PodForApp(ctx, c.Env.Namespace, svc.Name)
	if err != nil {
		return err
	}
	port := svc.Port
	if port == 0 {
		port = 80
	}
	url := fmt.Sprintf("http://127.0.0.1:%d%s", port, svc.ReadinessPath)
	command := []string{"wget", "-q", "-O-", "--tries=1", "--timeout=2", url}

	return await.Await(ctx, svc.Name, c.Config.Timeouts.PollInterval, c.Config.Timeouts.Readiness,
		func(ctx context.Context) (bool, error) {
			if _, err := c.Runner.Exec(ctx, c.Env.Namespace, pod, command); err != nil {
				return false, err
			}
			return true, nil
		})
}
