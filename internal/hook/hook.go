// Package hook hands finished transcripts to an external command.
package hook

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/google/shlex"
	"github.com/sirupsen/logrus"

	"github.com/sergeyshmagin/audiopipe/internal/config"
)

// Job is one delivery: the assembled transcript plus where it came from.
type Job struct {
	Text   string
	Source string
}

// Runner executes the configured delivery command.
type Runner struct {
	cfg      *config.Config
	logger   *logrus.Logger
	hostname string
}

func NewRunner(cfg *config.Config, logger *logrus.Logger) *Runner {
	host, _ := os.Hostname()
	return &Runner{cfg: cfg, logger: logger, hostname: host}
}

// Enabled reports whether a delivery command is configured.
func (r *Runner) Enabled() bool {
	return strings.TrimSpace(r.cfg.Delivery.Command) != ""
}

// Run executes the delivery command with the transcript appended as the
// final argument. The transcript and source are also exported through
// AUDIOPIPE_TEXT and AUDIOPIPE_SOURCE for commands that prefer env.
func (r *Runner) Run(ctx context.Context, job Job) error {
	cmdStr := r.cfg.Delivery.Command
	if cmdStr == "" {
		return fmt.Errorf("no delivery.command configured")
	}
	args := append([]string{}, r.cfg.Delivery.Args...)

	prefix := strings.ReplaceAll(r.cfg.Delivery.Prefix, "${hostname}", r.hostname)
	payload := strings.TrimSpace(prefix + job.Text)
	args = append(args, payload)

	runCtx := ctx
	var cancel context.CancelFunc
	if r.cfg.Delivery.TimeoutSec > 0 {
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(float64(time.Second)*r.cfg.Delivery.TimeoutSec))
		defer cancel()
	}
	cmd := exec.CommandContext(runCtx, cmdStr, args...)
	cmd.Env = os.Environ()
	for k, v := range r.cfg.Delivery.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.Env = append(cmd.Env, fmt.Sprintf("AUDIOPIPE_TEXT=%s", job.Text))
	cmd.Env = append(cmd.Env, fmt.Sprintf("AUDIOPIPE_SOURCE=%s", job.Source))

	out, err := cmd.CombinedOutput()
	if len(out) > 0 {
		r.logger.Infof("delivery output: %s", strings.TrimSpace(string(out)))
	}
	if err != nil {
		return fmt.Errorf("delivery failed: %w", err)
	}
	return nil
}

// ParseArgs allows delivery.args to be configured as a single string.
func ParseArgs(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return []string{}, nil
	}
	return shlex.Split(raw)
}
