// Package dispatch runs the stack's helper scripts on behalf of admitted API requests.
package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"lompapi/internal/config"

	"github.com/rs/zerolog"
)

// ErrUnknownCommand is returned for capabilities with no catalogued script.
var ErrUnknownCommand = errors.New("unknown command")

// Command is a helper script and the action passed as its first argument.
type Command struct {
	Script string
	Action string
}

// DefaultCatalog maps capabilities to helper scripts, relative to the scripts directory.
var DefaultCatalog = map[string]Command{
	"sites:read":      {Script: "helpers/wp/wp_helpers.sh", Action: "list_sites"},
	"sites:create":    {Script: "component_manager.sh", Action: "install_wordpress"},
	"sites:delete":    {Script: "helpers/wp/wp_helpers.sh", Action: "delete_site"},
	"backups:read":    {Script: "helpers/utils/backup_helpers.sh", Action: "list_backups"},
	"backups:create":  {Script: "helpers/utils/backup_helpers.sh", Action: "create_backup"},
	"system:status":   {Script: "helpers/monitoring/system_helpers.sh", Action: "get_system_info"},
	"monitoring:read": {Script: "helpers/monitoring/system_helpers.sh", Action: "get_detailed_metrics"},
}

// Dispatcher runs the command catalogued for a capability and returns its standard output.
type Dispatcher interface {
	Run(ctx context.Context, capability string, args ...string) (string, error)
}

// Observer is told about every finished run.
type Observer interface {
	ObserveDispatch(command string, d time.Duration, err error)
}

// ExitError reports a script that ran but failed.
type ExitError struct {
	Command string
	Code    int
	Stderr  string
	Err     error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with code %d", e.Command, e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }

// ShellDispatcher runs scripts through a shell with a per-run timeout.
type ShellDispatcher struct {
	scriptsDir string
	shell      string
	timeout    time.Duration
	catalog    map[string]Command
	observer   Observer
	logger     zerolog.Logger
}

type Option func(*ShellDispatcher)

// WithCatalog replaces DefaultCatalog.
func WithCatalog(catalog map[string]Command) Option {
	return func(d *ShellDispatcher) { d.catalog = catalog }
}

func WithObserver(o Observer) Option {
	return func(d *ShellDispatcher) { d.observer = o }
}

func NewShellDispatcher(cfg config.DispatchConfig, logger zerolog.Logger, opts ...Option) *ShellDispatcher {
	d := &ShellDispatcher{
		scriptsDir: cfg.ScriptsDir,
		shell:      cfg.Shell,
		timeout:    cfg.Timeout,
		catalog:    DefaultCatalog,
		logger:     logger.With().Str("component", "dispatch").Logger(),
	}
	if d.shell == "" {
		d.shell = "bash"
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run implements Dispatcher. Arguments are passed to the script as separate argv entries, never
// through a shell command line.
func (d *ShellDispatcher) Run(ctx context.Context, capability string, args ...string) (string, error) {
	cmd, ok := d.catalog[capability]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownCommand, capability)
	}
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	// Scripts run from the scripts directory, so their paths stay relative to it.
	argv := append([]string{filepath.FromSlash(cmd.Script), cmd.Action}, args...)
	c := exec.CommandContext(ctx, d.shell, argv...)
	c.Dir = d.scriptsDir
	// Children that inherit stdout must not keep Run blocked after the kill.
	c.WaitDelay = time.Second
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	start := time.Now()
	err := c.Run()
	elapsed := time.Since(start)

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			err = &ExitError{
				Command: cmd.Action,
				Code:    exitErr.ExitCode(),
				Stderr:  strings.TrimSpace(stderr.String()),
				Err:     err,
			}
		} else {
			err = fmt.Errorf("failed to run %s: %w", cmd.Action, err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w: %w", ctxErr, err)
		}
		d.logger.Error().Err(err).Str("capability", capability).Dur("elapsed", elapsed).
			Str("stderr", strings.TrimSpace(stderr.String())).Msg("Helper script failed")
	} else {
		d.logger.Debug().Str("capability", capability).Dur("elapsed", elapsed).Msg("Helper script finished")
	}
	if d.observer != nil {
		d.observer.ObserveDispatch(capability, elapsed, err)
	}
	if err != nil {
		return "", err
	}
	return stdout.String(), nil
}

// Lines splits script output into trimmed, non-empty lines.
func Lines(out string) []string {
	var lines []string
	for _, line := range strings.Split(out, "\n") {
		if l := strings.TrimSpace(line); l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}
