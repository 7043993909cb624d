package deploy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/stackpilot/stackpilot/internal/config"
)

// SQLExecutor runs migration files directly against the data store.
// Used when migrations are configured with mode direct; the default
// exec mode runs inside a service pod instead.
type SQLExecutor interface {
	ExecFiles(ctx context.Context, url string, files []string) error
}

// PgxExecutor executes SQL files over a single pgx connection.
type PgxExecutor struct{}

// ExecFiles implements SQLExecutor. Files run in declared order; the
// first failure aborts. The connection URL is sensitive and must not
// appear in errors or logs.
func (PgxExecutor) ExecFiles(ctx context.Context, url string, files []string) error {
	conn, err := pgx.Connect(ctx, url)
	if err != nil {
		return fmt.Errorf("connecting to data store: %w", scrub(err, url))
	}
	defer conn.Close(ctx)

	for _, file := range files {
		stmts, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", file, err)
		}
		if _, err := conn.Exec(ctx, string(stmts)); err != nil {
			return fmt.Errorf("migration %s: %w", file, scrub(err, url))
		}
	}
	return nil
}

// scrub removes the connection string from driver errors before they
// propagate into logs.
func scrub(err error, secret string) error {
	if err == nil || secret == "" {
		return err
	}
	return errors.New(strings.ReplaceAll(err.Error(), secret, "***"))
}

// stageMigrations runs data migrations after the rollout. Failures
// are recoverable: the deploy continues with a warning.
func (c *Controller) stageMigrations(ctx context.Context) error {
	m := c.Config.Migrations
	switch m.Mode {
	case "direct":
		return c.migrateDirect(ctx, m)
	default:
		return c.migrateExec(ctx, m)
	}
}

func (c *Controller) migrateExec(ctx context.Context, m config.Migrations) error {
	if len(m.Command) == 0 {
		return nil
	}
	pod, err := c.execTarget(ctx, m.Service)
	if err != nil {
		return err
	}
	out, err := c.Runner.Exec(ctx, c.Env.Namespace, pod, m.Command)
	if err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	c.Logger.Info("migrations completed", "pod", pod, "output_bytes", len(out))
	return nil
}

func (c *Controller) migrateDirect(ctx context.Context, m config.Migrations) error {
	if len(m.SQLFiles) == 0 {
		return nil
	}
	url, err := c.Outputs.String(m.DatabaseURLOutput)
	if err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	db := c.DB
	if db == nil {
		db = PgxExecutor{}
	}
	if err := db.ExecFiles(ctx, url, m.SQLFiles); err != nil {
		return err
	}
	c.Logger.Info("migrations completed", "mode", "direct", "files", len(m.SQLFiles))
	return nil
}
