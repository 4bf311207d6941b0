// Package secretstage is the entry point for applications: it loads the
// secrets named by version pointers into the environment at startup and adds
// new versions when a secret changes.
//
// A typical startup looks like:
//
//	client := secretstage.New(storeClient,
//		secretstage.WithLogger(logger),
//		secretstage.WithPolicy(reconcile.PolicyPreserve),
//	)
//	if _, err := client.LoadIntoProcessEnv(ctx); err != nil {
//		return err
//	}
package secretstage

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/systmms/secretstage/pkg/fetch"
	"github.com/systmms/secretstage/pkg/manager"
	"github.com/systmms/secretstage/pkg/reconcile"
	"github.com/systmms/secretstage/pkg/secret"
	"github.com/systmms/secretstage/pkg/store"
)

// Client loads and writes staged secrets through a store.
type Client struct {
	store         store.Client
	naming        secret.Naming
	logger        *zap.Logger
	enabled       bool
	failOnMissing bool
	batchLimit    int
	policy        reconcile.Policy
	forced        []string
}

// Option configures a Client.
type Option func(*Client)

// WithNaming overrides the default naming conventions.
func WithNaming(n secret.Naming) Option {
	return func(c *Client) {
		c.naming = n
	}
}

// WithLogger sets the logger handed to every component. A nil logger is
// ignored.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithEnabled turns loading on or off. A disabled client never touches the
// store on load. Defaults to true.
func WithEnabled(enabled bool) Option {
	return func(c *Client) {
		c.enabled = enabled
	}
}

// WithFailOnMissing controls whether a missing secret fails a load.
// Defaults to true.
func WithFailOnMissing(fail bool) Option {
	return func(c *Client) {
		c.failOnMissing = fail
	}
}

// WithBatchLimit sets how many secrets go into one batch read.
func WithBatchLimit(n int) Option {
	return func(c *Client) {
		c.batchLimit = n
	}
}

// WithPolicy sets the clash policy. Defaults to reconcile.PolicyPreserve.
func WithPolicy(p reconcile.Policy) Option {
	return func(c *Client) {
		c.policy = p
	}
}

// WithForceOverwrite names variables that always take the fetched value.
func WithForceOverwrite(names ...string) Option {
	return func(c *Client) {
		c.forced = append(c.forced, names...)
	}
}

// New creates a Client on top of storeClient.
func New(storeClient store.Client, opts ...Option) *Client {
	c := &Client{
		store:         storeClient,
		naming:        secret.DefaultNaming(),
		logger:        zap.NewNop(),
		enabled:       true,
		failOnMissing: true,
		batchLimit:    fetch.DefaultBatchLimit,
		policy:        reconcile.PolicyPreserve,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Naming returns the naming conventions in use.
func (c *Client) Naming() secret.Naming {
	return c.naming
}

// Enabled reports whether loading is turned on.
func (c *Client) Enabled() bool {
	return c.enabled
}

// Summary describes one load.
type Summary struct {
	// Skipped is set when loading is disabled.
	Skipped bool
	// Loaded holds every variable name that was fetched, sorted.
	Loaded      []string
	Preserved   []string
	Overwritten []string
	Duration    time.Duration
}

// Resolve derives the desired stages from the pointer variables in environ
// and fetches their values keyed by variable name.
func (c *Client) Resolve(ctx context.Context, environ map[string]string) (map[string]string, error) {
	desired, err := c.naming.DesiredFromEnv(environ)
	if err != nil {
		return nil, err
	}
	if len(desired) == 0 {
		return map[string]string{}, nil
	}

	f := fetch.New(c.store,
		fetch.WithNaming(c.naming),
		fetch.WithLogger(c.logger),
		fetch.WithBatchLimit(c.batchLimit),
		fetch.WithFailOnMissing(c.failOnMissing),
	)
	return f.SecretValuesByEnvName(ctx, desired)
}

// LoadIntoEnv resolves the pointers in environ and writes the values into env
// under the configured clash policy. environ is usually a snapshot of env.
func (c *Client) LoadIntoEnv(ctx context.Context, environ map[string]string, env reconcile.Env) (Summary, error) {
	if !c.enabled {
		c.logger.Debug("secret loading disabled")
		return Summary{Skipped: true}, nil
	}

	start := time.Now()
	fetched, err := c.Resolve(ctx, environ)
	if err != nil {
		return Summary{}, err
	}

	r := reconcile.New(c.policy,
		reconcile.WithForceOverwrite(c.forced...),
		reconcile.WithLogger(c.logger),
	)
	res, err := r.Apply(fetched, env)
	summary := Summary{
		Loaded:      loadedNames(res),
		Preserved:   res.Preserved,
		Overwritten: res.Overwritten,
		Duration:    time.Since(start),
	}
	if err != nil {
		return summary, err
	}

	c.logger.Info(fmt.Sprintf("loaded secrets in %s", summary.Duration),
		zap.Int("count", len(fetched)),
	)
	return summary, nil
}

func loadedNames(res reconcile.Result) []string {
	names := slices.Concat(res.Set, res.Overwritten, res.Preserved)
	slices.Sort(names)
	return names
}

// LoadIntoProcessEnv loads secrets into the process environment.
func (c *Client) LoadIntoProcessEnv(ctx context.Context) (Summary, error) {
	return c.LoadIntoEnv(ctx, reconcile.Snapshot(), reconcile.OSEnv{})
}

// AddOrUpdate stores value as the next version of the secret called name
// and returns the pointer variable name with the new version number.
func (c *Client) AddOrUpdate(ctx context.Context, name, overrideNamespace, value, description string) (string, int, error) {
	id, err := c.naming.Parse(secret.Source{Name: name, OverrideNamespace: overrideNamespace})
	if err != nil {
		return "", 0, err
	}

	m := manager.New(c.store, manager.WithNaming(c.naming), manager.WithLogger(c.logger))
	version, err := m.AddVersion(ctx, id, value, description)
	if err != nil {
		return "", 0, err
	}
	return id.PointerName(), version, nil
}

// CurrentStage reports the version history of the secret called name.
func (c *Client) CurrentStage(ctx context.Context, name, overrideNamespace string) (secret.Identity, manager.History, error) {
	id, err := c.naming.Parse(secret.Source{Name: name, OverrideNamespace: overrideNamespace})
	if err != nil {
		return secret.Identity{}, manager.History{}, err
	}

	m := manager.New(c.store, manager.WithNaming(c.naming), manager.WithLogger(c.logger))
	h, err := m.History(ctx, id)
	if err != nil {
		return id, manager.History{}, err
	}
	return id, h, nil
}
