package deploy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"sigs.k8s.io/yaml"
)

// stageMonitoring loads scrape and alert configuration into the
// monitoring namespace as config maps. Each file must be well-formed
// YAML; malformed files are rejected before anything is applied.
func (c *Controller) stageMonitoring(ctx context.Context) error {
	mon := c.Config.Monitoring
	if len(mon.ConfigFiles) == 0 {
		return nil
	}
	if err := c.Cluster.EnsureNamespace(ctx, mon.Namespace); err != nil {
		return err
	}
	for _, file := range mon.ConfigFiles {
		data, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("reading monitoring config %s: %w", file, err)
		}
		var doc map[string]interface{}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("monitoring config %s is not valid YAML: %w", file, err)
		}
		name := configMapName(file)
		if err := c.Cluster.ApplyConfigMap(ctx, mon.Namespace, name, map[string]string{
			filepath.Base(file): string(data),
		}); err != nil {
			return err
		}
		c.Logger.Info("monitoring config loaded", "configmap", name, "namespace", mon.Namespace)
	}
	return nil
}

// configMapName derives a DNS-safe config map name from a file path.
func configMapName(file string) string {
	base := filepath.Base(file)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = strings.ToLower(base)
	base = strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-' {
			return r
		}
		return '-'
	}, base)
	return "stackpilot-" + strings.Trim(base, "-")
}
