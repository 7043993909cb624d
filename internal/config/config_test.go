package config

import (
	"errors"
	"strings"
	"testing"
	"time"
)

const validYAML = `
environments:
  production:
    namespace: myapp
    region: us-east-1
    state:
      bucket: myapp-tfstate-production
      key: production/terraform.tfstate
      lock_table: myapp-tflock
  staging:
    namespace: myapp-staging
    region: us-east-1
    state:
      bucket: myapp-tfstate-staging
      key: staging/terraform.tfstate
      lock_table: myapp-tflock
    variables:
      log_level: debug
datastore:
  name: postgres
  manifest: k8s/postgres.yaml
services:
  - name: api
    manifest: k8s/api.yaml
    replicas: 2
    port: 8080
    primary: true
  - name: worker
    manifest: k8s/worker.yaml
migrations:
  service: api
  command: ["./manage", "migrate"]
model_refresh:
  service: worker
  command: ["./refresh-models"]
monitoring:
  config_files: [monitoring/scrape.yaml, monitoring/alerts.yaml]
`

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte(validYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	env, err := cfg.Environment("")
	if err != nil {
		t.Fatalf("default environment: %v", err)
	}
	if env.Name != "production" {
		t.Errorf("default environment = %q, want production", env.Name)
	}
	if env.State.LockBackend != "dynamodb" {
		t.Errorf("lock backend = %q, want dynamodb", env.State.LockBackend)
	}

	if cfg.Datastore.Kind != "StatefulSet" {
		t.Errorf("datastore kind = %q, want StatefulSet", cfg.Datastore.Kind)
	}
	if cfg.Services[0].Kind != "Deployment" {
		t.Errorf("service kind = %q, want Deployment", cfg.Services[0].Kind)
	}
	if cfg.Services[1].ReadinessPath != "/healthz" {
		t.Errorf("readiness path = %q, want /healthz", cfg.Services[1].ReadinessPath)
	}
	if !cfg.Monitoring.IsEnabled() {
		t.Error("monitoring should default to enabled")
	}
	if cfg.Timeouts.Readiness != 300*time.Second {
		t.Errorf("readiness timeout = %v, want 300s", cfg.Timeouts.Readiness)
	}
	if cfg.Migrations.Mode != "exec" {
		t.Errorf("migrations mode = %q, want exec", cfg.Migrations.Mode)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvRegion, "eu-west-1")
	t.Setenv(EnvMonitoring, "false")
	t.Setenv(EnvImageTag, "v1.2.3")

	cfg, err := Parse([]byte(validYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	env, _ := cfg.Environment("staging")
	if env.Region != "eu-west-1" {
		t.Errorf("region = %q, want eu-west-1", env.Region)
	}
	if cfg.Monitoring.IsEnabled() {
		t.Error("monitoring should be disabled by env var")
	}
	if cfg.Registry.Tag != "v1.2.3" {
		t.Errorf("tag = %q, want v1.2.3", cfg.Registry.Tag)
	}
}

func TestValidateAggregatesViolations(t *testing.T) {
	bad := `
environments:
  production:
    state:
      lock_backend: dynamodb
datastore: {}
services:
  - name: api
  - name: api
    manifest: k8s/api.yaml
migrations:
  mode: direct
`
	_, err := Parse([]byte(bad))
	if err == nil {
		t.Fatal("expected validation error")
	}

	var ce *ConfigurationError
	if !errors.As(err, &ce) {
		t.Fatalf("error type = %T, want *ConfigurationError", err)
	}

	// Every violation is reported, not just the first.
	wants := []string{
		"namespace is required",
		"state.bucket is required",
		"state.key is required",
		"state.lock_table is required",
		"datastore: name is required",
		"declared twice",
		"database_url_output is required",
		"sql_files is required",
	}
	msg := ce.Error()
	for _, want := range wants {
		if !strings.Contains(msg, want) {
			t.Errorf("violations missing %q in:\n%s", want, msg)
		}
	}
	if len(ce.Violations) < len(wants) {
		t.Errorf("got %d violations, want at least %d", len(ce.Violations), len(wants))
	}
}

func TestUnknownEnvironment(t *testing.T) {
	cfg, err := Parse([]byte(validYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, err := cfg.Environment("qa"); err == nil {
		t.Error("expected error for unknown environment")
	}
}

func TestPrimaryService(t *testing.T) {
	cfg, err := Parse([]byte(validYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	svc, ok := cfg.PrimaryService()
	if !ok || svc.Name != "api" {
		t.Errorf("primary service = %q, want api", svc.Name)
	}
}

func TestEvalGuard(t *testing.T) {
	cfg, err := Parse([]byte(validYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	env, _ := cfg.Environment("staging")

	cases := []struct {
		expr string
		want bool
	}{
		{"", true},
		{"monitoring", true},
		{`env == "staging"`, true},
		{`env == "production"`, false},
		{`vars["log_level"] == "debug"`, true},
	}
	for _, tc := range cases {
		t.Run(tc.expr, func(t *testing.T) {
			got, err := EvalGuard(tc.expr, env, cfg)
			if err != nil {
				t.Fatalf("EvalGuard(%q): %v", tc.expr, err)
			}
			if got != tc.want {
				t.Errorf("EvalGuard(%q) = %v, want %v", tc.expr, got, tc.want)
			}
		})
	}

	if _, err := EvalGuard("not an expression ===", env, cfg); err == nil {
		t.Error("expected error for invalid expression")
	}
}
