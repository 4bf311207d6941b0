// Package reconcile merges fetched secret values into an environment,
// deciding what happens when a variable is already set to something else.
package reconcile

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/systmms/secretstage/internal/metrics"
)

// Policy decides the outcome of a clash between a fetched value and an
// existing one.
type Policy string

const (
	// PolicyRaise fails on the first clash.
	PolicyRaise Policy = "raise"
	// PolicyPreserve keeps the existing value unless the name is forced.
	PolicyPreserve Policy = "preserve"
	// PolicyOverwrite replaces the existing value.
	PolicyOverwrite Policy = "overwrite"
)

// ParsePolicy parses a policy name. The empty string selects PolicyPreserve.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "preserve", "preserve_env", "preserve_existing":
		return PolicyPreserve, nil
	case "raise":
		return PolicyRaise, nil
	case "overwrite", "overwrite_env", "overwrite_existing":
		return PolicyOverwrite, nil
	default:
		return "", fmt.Errorf("unknown clash policy %q (want raise, preserve or overwrite)", s)
	}
}

// EnvClashError is returned under PolicyRaise. It names the variable but
// never carries either value.
type EnvClashError struct {
	Name string
}

func (e *EnvClashError) Error() string {
	return fmt.Sprintf("environment variable %s conflicts with the fetched secret", e.Name)
}

// Result lists what Apply did, each list sorted by name.
type Result struct {
	// Set holds names that were unset or already equal.
	Set []string
	// Preserved holds clashing names whose existing value was kept.
	Preserved []string
	// Overwritten holds clashing names that received the fetched value.
	Overwritten []string
}

// Reconciler applies fetched values to an Env under a clash Policy.
type Reconciler struct {
	policy Policy
	forced map[string]struct{}
	logger *zap.Logger
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithForceOverwrite names variables that are overwritten on clash
// regardless of PolicyPreserve.
func WithForceOverwrite(names ...string) Option {
	return func(r *Reconciler) {
		for _, name := range names {
			if name = strings.TrimSpace(name); name != "" {
				r.forced[name] = struct{}{}
			}
		}
	}
}

// WithLogger sets the logger for clash warnings. A nil logger is ignored.
func WithLogger(l *zap.Logger) Option {
	return func(r *Reconciler) {
		if l != nil {
			r.logger = l
		}
	}
}

// New creates a Reconciler.
func New(policy Policy, opts ...Option) *Reconciler {
	r := &Reconciler{
		policy: policy,
		forced: make(map[string]struct{}),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Apply writes fetched into env in name order. Under PolicyRaise the first
// clash stops the run; variables before it have already been written.
func (r *Reconciler) Apply(fetched map[string]string, env Env) (Result, error) {
	names := make([]string, 0, len(fetched))
	for name := range fetched {
		names = append(names, name)
	}
	sort.Strings(names)

	var res Result
	for _, name := range names {
		value := fetched[name]

		existing, ok := env.Lookup(name)
		if !ok || existing == value {
			if err := env.Set(name, value); err != nil {
				return res, fmt.Errorf("failed to set %s: %w", name, err)
			}
			res.Set = append(res.Set, name)
			continue
		}

		_, forced := r.forced[name]
		switch {
		case forced || r.policy == PolicyOverwrite:
			resolution := metrics.ClashOverwritten
			if forced {
				resolution = metrics.ClashForced
			}
			metrics.RecordClash(resolution)
			r.logger.Warn("overwriting existing environment variable with fetched secret",
				zap.String("name", name),
				zap.Bool("forced", forced),
			)
			if err := env.Set(name, value); err != nil {
				return res, fmt.Errorf("failed to set %s: %w", name, err)
			}
			res.Overwritten = append(res.Overwritten, name)

		case r.policy == PolicyPreserve:
			metrics.RecordClash(metrics.ClashPreserved)
			r.logger.Warn("preserving existing environment variable that differs from fetched secret",
				zap.String("name", name),
			)
			res.Preserved = append(res.Preserved, name)

		default:
			metrics.RecordClash(metrics.ClashRaised)
			return res, &EnvClashError{Name: name}
		}
	}
	return res, nil
}
