package deploy

import (
	"context"
	"time"

	"github.com/stackpilot/stackpilot/internal/events"
)

// Severity decides what a stage failure does to the run.
type Severity int

const (
	// SeverityFatal stops the run and fails the process.
	SeverityFatal Severity = iota
	// SeverityRecoverable logs a warning and lets the run continue.
	// Recoverable failures never affect the exit code.
	SeverityRecoverable
)

// Stage is one step of the deployment sequence. When is an optional
// guard expression over the environment; a false guard skips the
// stage without running it.
type Stage struct {
	Name     string
	Severity Severity
	When     string
	Run      func(ctx context.Context) error
}

// runStages executes stages in order, honoring guards and severity.
// The returned warnings list holds one entry per recoverable failure.
func (c *Controller) runStages(ctx context.Context, stages []Stage) ([]string, error) {
	var warnings []string
	for _, st := range stages {
		if st.When != "" {
			ok, err := c.evalGuard(st.When)
			if err != nil {
				return warnings, err
			}
			if !ok {
				c.Status.Info("skipping %s (guard not met)", st.Name)
				c.emit(events.New(events.StageSkipped, c.RunID).WithData("stage", st.Name))
				continue
			}
		}

		c.Status.Info("stage %s", st.Name)
		c.emit(events.New(events.StageStarted, c.RunID).WithData("stage", st.Name))
		start := time.Now()
		err := st.Run(ctx)
		elapsed := time.Since(start)

		if err == nil {
			c.observe(st.Name, "ok", elapsed)
			c.Status.Success("%s done", st.Name)
			c.emit(events.New(events.StageCompleted, c.RunID).WithData("stage", st.Name))
			continue
		}

		if st.Severity == SeverityRecoverable {
			c.observe(st.Name, "warning", elapsed)
			c.Logger.Warn("stage failed, continuing", "stage", st.Name, "error", err)
			c.Status.Warning("%s: %v", st.Name, err)
			c.emit(events.New(events.StageWarning, c.RunID).
				WithData("stage", st.Name).
				WithData("error", err.Error()))
			warnings = append(warnings, st.Name+": "+err.Error())
			continue
		}

		c.observe(st.Name, "error", elapsed)
		c.Logger.Error("stage failed", "stage", st.Name, "error", err)
		c.Status.Error("%s: %v", st.Name, err)
		return warnings, err
	}
	return warnings, nil
}
