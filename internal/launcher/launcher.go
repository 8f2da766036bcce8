// Package launcher brings up the external services Carlos depends on.
// Each service carries an ordered list of platform-appropriate start
// strategies; the launcher tries them in order, waiting for the service
// to settle and re-probing after each. It is safe to call repeatedly —
// an already-running service short-circuits on the first probe, so
// concurrent callers converge without explicit mutual exclusion.
package launcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/carlosai/carlos/internal/probe"
)

// SetupFlagFile is the marker written by the installer once initial
// setup has completed. Its absence is a fatal startup condition.
const SetupFlagFile = "setup_completed.flag"

// Strategy is one way of starting a service. Run launches the process
// (or asks the platform service manager to); Settle is how long to wait
// before re-probing. Heavier services need longer settle times.
type Strategy struct {
	Description string
	Settle      time.Duration
	Run         func(ctx context.Context) error
}

// Service describes a dependency the launcher can probe and start.
type Service struct {
	Name           string
	BaseURL        string
	ProbeEndpoints []string
	// Tolerant widens probe status acceptance (see probe.Probe.Tolerant).
	Tolerant   bool
	Strategies []Strategy
}

// Launcher probes and starts services.
type Launcher struct {
	logger *slog.Logger

	// sleep is swappable so tests don't wait out real settle times.
	sleep func(ctx context.Context, d time.Duration)

	// probeTimeout bounds each individual probe request.
	probeTimeout time.Duration
}

// New creates a launcher.
func New(logger *slog.Logger) *Launcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Launcher{
		logger:       logger,
		sleep:        sleepCtx,
		probeTimeout: probe.DefaultTimeout,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// IsRunning probes the service without attempting to start it.
func (l *Launcher) IsRunning(ctx context.Context, svc *Service) bool {
	p := probe.New(l.probeTimeout, l.logger)
	p.Tolerant = svc.Tolerant
	return p.Reachable(ctx, svc.BaseURL, svc.ProbeEndpoints)
}

// EnsureRunning returns true if the service is reachable, starting it
// if necessary. Strategies are tried in order; the first whose
// post-settle probe succeeds wins. Returns false, without error, when
// every strategy is exhausted.
func (l *Launcher) EnsureRunning(ctx context.Context, svc *Service) bool {
	if l.IsRunning(ctx, svc) {
		l.logger.Info("service already running", "service", svc.Name)
		return true
	}

	l.logger.Info("service not running, attempting start", "service", svc.Name)

	for _, s := range svc.Strategies {
		if ctx.Err() != nil {
			return false
		}

		l.logger.Info("trying start strategy", "service", svc.Name, "strategy", s.Description)
		if err := s.Run(ctx); err != nil {
			l.logger.Debug("start strategy failed", "service", svc.Name, "strategy", s.Description, "error", err)
			continue
		}

		l.sleep(ctx, s.Settle)

		if l.IsRunning(ctx, svc) {
			l.logger.Info("service started", "service", svc.Name, "strategy", s.Description)
			return true
		}
	}

	l.logger.Warn("all start strategies exhausted", "service", svc.Name)
	return false
}

// StatusSummary returns a human-readable reachability report for the
// given services, one line each.
func (l *Launcher) StatusSummary(ctx context.Context, services ...*Service) string {
	var b strings.Builder
	b.WriteString("Service status:\n")
	for _, svc := range services {
		state := "not running"
		if l.IsRunning(ctx, svc) {
			state = "running"
		}
		fmt.Fprintf(&b, "  %-12s %s\n", svc.Name+":", state)
	}
	return strings.TrimRight(b.String(), "\n")
}

// SetupComplete reports whether the one-time setup marker exists in dir.
func SetupComplete(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, SetupFlagFile))
	return err == nil
}

// commandStrategy builds a Strategy that starts a detached process.
// The strategy fails fast when the executable cannot be found, letting
// the launcher move on to the next candidate without burning its settle
// time.
func commandStrategy(desc string, settle time.Duration, name string, args ...string) Strategy {
	return Strategy{
		Description: desc,
		Settle:      settle,
		Run: func(ctx context.Context) error {
			path := name
			if !filepath.IsAbs(name) {
				var err error
				path, err = exec.LookPath(name)
				if err != nil {
					return fmt.Errorf("locate %s: %w", name, err)
				}
			} else if _, err := os.Stat(name); err != nil {
				return fmt.Errorf("locate %s: %w", name, err)
			}

			// Not CommandContext: the service must outlive this
			// process, so it is started detached and released.
			cmd := exec.Command(path, args...)
			cmd.Stdout = nil
			cmd.Stderr = nil
			if err := cmd.Start(); err != nil {
				return fmt.Errorf("start %s: %w", name, err)
			}
			return cmd.Process.Release()
		},
	}
}

// foregroundStrategy builds a Strategy that runs a command to
// completion, for service-manager style launches (sc, systemctl) where
// the command returns once the start request is accepted.
func foregroundStrategy(desc string, settle time.Duration, name string, args ...string) Strategy {
	return Strategy{
		Description: desc,
		Settle:      settle,
		Run: func(ctx context.Context) error {
			cmd := exec.CommandContext(ctx, name, args...)
			if out, err := cmd.CombinedOutput(); err != nil {
				return fmt.Errorf("%s: %w (%s)", desc, err, strings.TrimSpace(string(out)))
			}
			return nil
		},
	}
}
