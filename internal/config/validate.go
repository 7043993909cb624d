package config

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
)

// ConfigurationError aggregates every violation found during
// validation, not just the first.
type ConfigurationError struct {
	Violations []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration invalid (%d violations):\n  - %s",
		len(e.Violations), strings.Join(e.Violations, "\n  - "))
}

// Validate checks the whole catalog for internal consistency.
func (c *Config) Validate() error {
	var violations []string
	add := func(format string, args ...any) {
		violations = append(violations, fmt.Sprintf(format, args...))
	}

	if len(c.Environments) == 0 {
		add("no environments declared")
	}
	for name, env := range c.Environments {
		if env.Namespace == "" {
			add("environment %q: namespace is required", name)
		}
		if env.State.Bucket == "" {
			add("environment %q: state.bucket is required", name)
		}
		if env.State.Key == "" {
			add("environment %q: state.key is required", name)
		}
		switch env.State.LockBackend {
		case "dynamodb":
			if env.State.LockTable == "" {
				add("environment %q: state.lock_table is required for the dynamodb lock backend", name)
			}
		case "etcd":
			if len(env.State.EtcdEndpoints) == 0 {
				add("environment %q: state.etcd_endpoints is required for the etcd lock backend", name)
			}
		default:
			add("environment %q: unknown lock backend %q", name, env.State.LockBackend)
		}
	}

	if c.Datastore.Name == "" {
		add("datastore: name is required")
	}
	if c.Datastore.Manifest == "" {
		add("datastore: manifest is required")
	}

	seen := map[string]bool{}
	for _, s := range c.Services {
		if s.Name == "" {
			add("service with empty name")
			continue
		}
		if seen[s.Name] {
			add("service %q declared twice", s.Name)
		}
		seen[s.Name] = true
		if s.Manifest == "" {
			add("service %q: manifest is required", s.Name)
		}
		if s.Kind != "Deployment" && s.Kind != "StatefulSet" {
			add("service %q: unknown kind %q", s.Name, s.Kind)
		}
	}

	switch c.Migrations.Mode {
	case "exec":
		if c.Migrations.Service != "" && !seen[c.Migrations.Service] {
			add("migrations: service %q is not declared", c.Migrations.Service)
		}
	case "direct":
		if c.Migrations.DatabaseURLOutput == "" {
			add("migrations: database_url_output is required for direct mode")
		}
		if len(c.Migrations.SQLFiles) == 0 {
			add("migrations: sql_files is required for direct mode")
		}
	default:
		add("migrations: unknown mode %q", c.Migrations.Mode)
	}

	if c.ModelRefresh.Service != "" && !seen[c.ModelRefresh.Service] {
		add("model_refresh: service %q is not declared", c.ModelRefresh.Service)
	}

	for _, guard := range []struct{ name, src string }{
		{"monitoring.when", c.Monitoring.When},
		{"model_refresh.when", c.ModelRefresh.When},
	} {
		if guard.src == "" {
			continue
		}
		if _, err := expr.Compile(guard.src, expr.AsBool()); err != nil {
			add("%s: invalid guard expression: %v", guard.name, err)
		}
	}

	if len(violations) > 0 {
		return &ConfigurationError{Violations: violations}
	}
	return nil
}

// EvalGuard evaluates a stage guard expression against the selected
// environment. An empty expression is true.
func EvalGuard(src string, env Environment, c *Config) (bool, error) {
	if src == "" {
		return true, nil
	}
	scope := map[string]any{
		"env":        env.Name,
		"namespace":  env.Namespace,
		"region":     env.Region,
		"vars":       env.Variables,
		"monitoring": c.Monitoring.IsEnabled(),
	}
	program, err := expr.Compile(src, expr.Env(scope), expr.AsBool())
	if err != nil {
		return false, fmt.Errorf("compiling guard %q: %w", src, err)
	}
	out, err := expr.Run(program, scope)
	if err != nil {
		return false, fmt.Errorf("evaluating guard %q: %w", src, err)
	}
	return out.(bool), nil
}
