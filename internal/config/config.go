// Package config loads the stackpilot.yaml environment catalog and
// workload descriptors, applies environment-variable overrides, and
// validates the result.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default file name looked up in the working directory.
const DefaultPath = "stackpilot.yaml"

// Environment variables consumed by the orchestrator. All optional.
const (
	EnvRegion       = "STACKPILOT_REGION"
	EnvMonitoring   = "STACKPILOT_MONITORING"
	EnvRegistry     = "STACKPILOT_REGISTRY"
	EnvImageTag     = "STACKPILOT_IMAGE_TAG"
	EnvPush         = "STACKPILOT_PUSH"
	EnvBuildCleanup = "STACKPILOT_BUILD_CLEANUP"
)

// Config is the full orchestrator configuration.
type Config struct {
	Environments map[string]Environment `yaml:"environments"`
	Datastore    Workload               `yaml:"datastore"`
	Services     []Workload             `yaml:"services"`
	Migrations   Migrations             `yaml:"migrations"`
	ModelRefresh ModelRefresh           `yaml:"model_refresh"`
	Monitoring   Monitoring             `yaml:"monitoring"`
	Registry     Registry               `yaml:"registry"`
	Cleanup      Cleanup                `yaml:"cleanup"`
	Timeouts     Timeouts               `yaml:"timeouts"`
}

// Environment is one named deployment target. Immutable for the
// duration of a run.
type Environment struct {
	Name      string            `yaml:"-"`
	Namespace string            `yaml:"namespace"`
	Region    string            `yaml:"region"`
	State     StateBackend      `yaml:"state"`
	Variables map[string]string `yaml:"variables"`
}

// StateBackend locates the remote infrastructure state and its lock.
type StateBackend struct {
	Bucket        string   `yaml:"bucket"`
	Key           string   `yaml:"key"`
	LockTable     string   `yaml:"lock_table"`
	LockBackend   string   `yaml:"lock_backend"` // dynamodb (default) or etcd
	EtcdEndpoints []string `yaml:"etcd_endpoints"`
}

// Workload describes one service: manifest, image, replicas, probes.
type Workload struct {
	Name          string `yaml:"name"`
	Manifest      string `yaml:"manifest"`
	BuildContext  string `yaml:"build_context"`
	Kind          string `yaml:"kind"` // Deployment (default) or StatefulSet
	Replicas      int    `yaml:"replicas"`
	Image         string `yaml:"image"`
	Port          int    `yaml:"port"`
	ReadinessPath string `yaml:"readiness_path"`
	Primary       bool   `yaml:"primary"`
}

// Migrations configures the post-rollout data migration step.
type Migrations struct {
	Mode    string   `yaml:"mode"` // exec (default) or direct
	Service string   `yaml:"service"`
	Command []string `yaml:"command"`
	// SQLFiles are executed in order when mode is direct.
	SQLFiles []string `yaml:"sql_files"`
	// DatabaseURLOutput names the sensitive infrastructure output
	// holding the connection string for direct mode.
	DatabaseURLOutput string `yaml:"database_url_output"`
}

// ModelRefresh configures the precomputed-artifact refresh step.
type ModelRefresh struct {
	Service string   `yaml:"service"`
	Command []string `yaml:"command"`
	When    string   `yaml:"when"`
}

// Monitoring configures scrape/alert configuration loading. Enabled
// is a pointer so an absent key defaults to on.
type Monitoring struct {
	Enabled     *bool    `yaml:"enabled"`
	Namespace   string   `yaml:"namespace"`
	ConfigFiles []string `yaml:"config_files"`
	When        string   `yaml:"when"`
}

// IsEnabled reports whether monitoring configuration should be
// loaded. Defaults to true when unset.
func (m Monitoring) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// Registry configures image build and push.
type Registry struct {
	Host         string `yaml:"host"`
	Tag          string `yaml:"tag"`
	Push         bool   `yaml:"push"`
	CleanupCache bool   `yaml:"cleanup_cache"`
}

// Cleanup configures superseded-resource retention.
type Cleanup struct {
	Retention time.Duration `yaml:"retention"`
}

// Timeouts bounds the readiness and rollout waits.
type Timeouts struct {
	Readiness    time.Duration `yaml:"readiness"`
	Rollout      time.Duration `yaml:"rollout"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// Load reads, overrides, defaults, and validates a config file.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return Parse(data)
}

// Parse decodes config bytes, applies environment overrides and
// defaults, and validates.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyDefaults()
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	for name, env := range c.Environments {
		env.Name = name
		if env.State.LockBackend == "" {
			env.State.LockBackend = "dynamodb"
		}
		c.Environments[name] = env
	}
	if c.Datastore.Kind == "" {
		c.Datastore.Kind = "StatefulSet"
	}
	for i := range c.Services {
		if c.Services[i].Kind == "" {
			c.Services[i].Kind = "Deployment"
		}
		if c.Services[i].ReadinessPath == "" {
			c.Services[i].ReadinessPath = "/healthz"
		}
	}
	if c.Migrations.Mode == "" {
		c.Migrations.Mode = "exec"
	}
	if c.Monitoring.Namespace == "" {
		c.Monitoring.Namespace = "monitoring"
	}
	if c.Cleanup.Retention == 0 {
		c.Cleanup.Retention = 24 * time.Hour
	}
	if c.Timeouts.Readiness == 0 {
		c.Timeouts.Readiness = 300 * time.Second
	}
	if c.Timeouts.Rollout == 0 {
		c.Timeouts.Rollout = 300 * time.Second
	}
	if c.Timeouts.PollInterval == 0 {
		c.Timeouts.PollInterval = 5 * time.Second
	}
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(EnvRegion); v != "" {
		for name, env := range c.Environments {
			env.Region = v
			c.Environments[name] = env
		}
	}
	if v := os.Getenv(EnvMonitoring); v != "" {
		enabled := boolValue(v)
		c.Monitoring.Enabled = &enabled
	}
	if v := os.Getenv(EnvRegistry); v != "" {
		c.Registry.Host = v
	}
	if v := os.Getenv(EnvImageTag); v != "" {
		c.Registry.Tag = v
	}
	if v := os.Getenv(EnvPush); v != "" {
		c.Registry.Push = boolValue(v)
	}
	if v := os.Getenv(EnvBuildCleanup); v != "" {
		c.Registry.CleanupCache = boolValue(v)
	}
}

func boolValue(s string) bool {
	switch s {
	case "0", "false", "no", "off":
		return false
	}
	return true
}

// Environment returns the named environment, defaulting to production.
func (c *Config) Environment(name string) (Environment, error) {
	if name == "" {
		name = "production"
	}
	env, ok := c.Environments[name]
	if !ok {
		return Environment{}, fmt.Errorf("unknown environment %q", name)
	}
	return env, nil
}

// Service returns the named workload descriptor.
func (c *Config) Service(name string) (Workload, bool) {
	for _, s := range c.Services {
		if s.Name == name {
			return s, true
		}
	}
	return Workload{}, false
}

// PrimaryService returns the workload migrations run in. Falls back
// to the first declared service.
func (c *Config) PrimaryService() (Workload, bool) {
	for _, s := range c.Services {
		if s.Primary {
			return s, true
		}
	}
	if len(c.Services) > 0 {
		return c.Services[0], true
	}
	return Workload{}, false
}
