// Package simulator invokes the external simulation program for one site
// under a time budget and reports a terminal status.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/croplab/fieldrun/internal/config"
	"github.com/croplab/fieldrun/internal/log"
	"github.com/croplab/fieldrun/internal/site"
)

// Status is the terminal state of one task.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusTimedOut  Status = "timed_out"
	StatusFailed    Status = "failed"
)

// terminationGracePeriod is the time between SIGTERM and SIGKILL on timeout.
const terminationGracePeriod = 5 * time.Second

// Runner stages inputs and executes the external program. All interaction
// with the program is through the filesystem; the runner performs no retries.
type Runner struct {
	cfg    *config.Config
	logger *slog.Logger
}

// New creates a Runner for the given configuration.
func New(cfg *config.Config) *Runner {
	return &Runner{
		cfg:    cfg,
		logger: log.WithComponent("simulator"),
	}
}

// Execute runs the external program for one site. On StatusCompleted the
// site's Outputs map holds the absolute path of each requested output tag.
// The returned error carries detail for TimedOut/Failed and is nil for
// Completed; failures here are batch-recoverable, never fatal.
func (r *Runner) Execute(ctx context.Context, runID string, s *site.Site) (Status, error) {
	logger := r.logger.With("site_id", s.ID, "run_id", runID)
	s.ResetOutputs()

	runDir, err := r.stage(runID, s)
	if err != nil {
		return StatusFailed, fmt.Errorf("stage inputs: %w", err)
	}
	defer os.RemoveAll(runDir)

	logPath := filepath.Join(runDir, s.ID+".log")
	status, execErr := r.spawn(ctx, runDir, logPath, logger)
	if status != StatusCompleted {
		r.preserveLog(logPath, s.ID)
		return status, execErr
	}

	// Collect requested outputs; a missing or empty file fails the task.
	outputs := make(map[string]string, len(r.cfg.Model.OutputTypes))
	for _, tag := range r.cfg.Model.OutputTypes {
		src := filepath.Join(runDir, s.ID+"."+tag)
		info, err := os.Stat(src)
		if err != nil || info.Size() == 0 {
			r.preserveLog(logPath, s.ID)
			return StatusFailed, fmt.Errorf("output %s not produced for site %s", tag, s.ID)
		}
		dst := filepath.Join(r.cfg.OutputDir, filepath.Base(src))
		if err := moveFile(src, dst); err != nil {
			return StatusFailed, fmt.Errorf("collect output %s: %w", tag, err)
		}
		outputs[tag] = dst
	}

	for tag, path := range outputs {
		s.Outputs[tag] = path
	}
	logger.Debug("task completed", "outputs", len(outputs))
	return StatusCompleted, nil
}

// spawn starts the executable in its own process group with cwd runDir and
// blocks until exit or the per-task timeout. On timeout it terminates the
// whole process tree: SIGTERM, a grace period, then SIGKILL.
func (r *Runner) spawn(ctx context.Context, runDir, logPath string, logger *slog.Logger) (Status, error) {
	logFile, err := os.Create(logPath)
	if err != nil {
		return StatusFailed, fmt.Errorf("create run log: %w", err)
	}
	defer logFile.Close()

	cmd := exec.Command(r.cfg.Model.Executable)
	cmd.Dir = runDir
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	configureProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		return StatusFailed, fmt.Errorf("start process: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	timeout := r.cfg.Model.Timeout
	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case <-ctx.Done():
		killProcessGroup(cmd)
		<-waitErr
		return StatusFailed, ctx.Err()

	case <-timeoutCh:
		logger.Warn("task timed out, terminating process group", "timeout", timeout)
		terminateProcessGroup(cmd)

		grace := time.NewTimer(terminationGracePeriod)
		defer grace.Stop()
		select {
		case <-waitErr:
		case <-grace.C:
			logger.Warn("process did not exit after SIGTERM, sending SIGKILL")
			killProcessGroup(cmd)
			<-waitErr
		}
		return StatusTimedOut, fmt.Errorf("execution timed out after %v", timeout)

	case err := <-waitErr:
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				return StatusFailed, fmt.Errorf("process exited with status %d", exitErr.ExitCode())
			}
			return StatusFailed, fmt.Errorf("wait for process: %w", err)
		}
		return StatusCompleted, nil
	}
}

// preserveLog copies the run log into the workspace log directory so failed
// and timed-out runs can be diagnosed after the staging dir is removed.
func (r *Runner) preserveLog(logPath, siteID string) {
	if r.cfg.LogDir == "" {
		return
	}
	if err := os.MkdirAll(r.cfg.LogDir, 0o755); err != nil {
		return
	}
	_ = moveFile(logPath, filepath.Join(r.cfg.LogDir, siteID+".log"))
}

// moveFile renames src to dst, falling back to copy+remove across devices.
func moveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return err
	}
	return os.Remove(src)
}
