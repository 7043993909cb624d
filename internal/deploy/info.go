package deploy

import (
	"context"

	"github.com/stackpilot/stackpilot/internal/telemetry"
)

// ServiceStatus is the live state of one declared service.
type ServiceStatus struct {
	Name  string
	Kind  string
	Ready bool
}

// Report is the environment summary printed after a deploy and by the
// info command.
type Report struct {
	Environment     string
	Namespace       string
	Services        []ServiceStatus
	Endpoints       []Endpoint
	ExternalAddress string
}

// Info assembles the current state of the environment: per-service
// readiness, service endpoints, and the external address if exposed.
func (c *Controller) Info(ctx context.Context) (*Report, error) {
	report := &Report{
		Environment: c.Env.Name,
		Namespace:   c.Env.Namespace,
	}

	for _, svc := range c.Config.Services {
		ready, err := c.workloadReady(ctx, svc)
		if err != nil {
			return nil, err
		}
		report.Services = append(report.Services, ServiceStatus{
			Name:  svc.Name,
			Kind:  svc.Kind,
			Ready: ready,
		})
	}
	if ds := c.Config.Datastore; ds.Name != "" {
		ready, err := c.workloadReady(ctx, ds)
		if err != nil {
			return nil, err
		}
		report.Services = append([]ServiceStatus{{Name: ds.Name, Kind: ds.Kind, Ready: ready}}, report.Services...)
	}

	eps, err := c.Cluster.Endpoints(ctx, c.Env.Namespace)
	if err != nil {
		return nil, err
	}
	report.Endpoints = eps

	addr, err := c.Cluster.ExternalAddress(ctx, c.Env.Namespace)
	if err != nil {
		return nil, err
	}
	report.ExternalAddress = addr
	return report, nil
}

// Print writes the report as operator-facing status lines.
func (r *Report) Print(status *telemetry.Status) {
	status.Info("environment %s (namespace %s)", r.Environment, r.Namespace)
	for _, s := range r.Services {
		state := "not ready"
		if s.Ready {
			state = "ready"
		}
		status.Info("  %-20s %-12s %s", s.Name, s.Kind, state)
	}
	for _, ep := range r.Endpoints {
		status.Info("  endpoint %s -> %s:%d", ep.Service, ep.Address, ep.Port)
	}
	if r.ExternalAddress != "" {
		status.Info("  external address: %s", r.ExternalAddress)
	} else {
		status.Info("  no external address exposed")
	}
}
