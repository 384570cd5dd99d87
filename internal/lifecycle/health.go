package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// ErrDraining is reported by readiness once a shutdown session has started.
var ErrDraining = errors.New("shutdown in progress")

// HealthChecker exposes liveness and readiness probes.
type HealthChecker interface {
	Liveness(ctx context.Context) error
	Readiness(ctx context.Context) error
}

// DependencyChecker reports per-component status, "OK" meaning healthy.
type DependencyChecker interface {
	Check(ctx context.Context) map[string]string
}

type stateSource interface {
	State() State
}

// Probes ties readiness to the coordinator state and dependency health.
type Probes struct {
	log    *slog.Logger
	state  stateSource
	checks DependencyChecker
}

// NewProbes creates a new Probes instance. checks may be nil.
func NewProbes(log *slog.Logger, coordinator *Coordinator, checks DependencyChecker) *Probes {
	if log == nil {
		log = slog.Default()
	}

	p := &Probes{log: log}
	if coordinator != nil {
		p.state = coordinator
	}
	if checks != nil {
		p.checks = checks
	}

	return p
}

// Liveness reports success while the process is not terminating.
func (p *Probes) Liveness(ctx context.Context) error {
	p.log.Debug("liveness probe called")

	if p.state != nil && p.state.State() == StateTerminal {
		return ErrDraining
	}
	return nil
}

// Readiness fails as soon as draining begins so traffic is routed away before the listener closes.
func (p *Probes) Readiness(ctx context.Context) error {
	p.log.Debug("readiness probe called")

	if p.state != nil && p.state.State() != StateIdle {
		return ErrDraining
	}
	if p.checks == nil {
		return nil
	}

	results := p.checks.Check(ctx)

	var failed []string
	for name, status := range results {
		if status != "OK" {
			failed = append(failed, fmt.Sprintf("%s: %s", name, status))
		}
	}
	if len(failed) == 0 {
		return nil
	}

	sort.Strings(failed)
	return errors.New(strings.Join(failed, "; "))
}
