// internal/browser/session/registry.go
package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xkilldash9x/linkedin-inbox/internal/browser/humanoid"
	"github.com/xkilldash9x/linkedin-inbox/internal/config"
)

// Factory builds the controller for an account on first use.
type Factory func(account string) *Controller

// NewFactory returns a Factory wiring every controller to the same launcher and settings.
func NewFactory(cfg *config.Config, launcher Launcher, logger *zap.Logger, opts ...Option) Factory {
	base := append([]Option{WithHumanoidConfig(humanoid.FromConfig(cfg.Browser.Humanoid))}, opts...)
	return func(account string) *Controller {
		return NewController(account, cfg.Session, launcher, logger, base...)
	}
}

// Registry owns one controller per account key.
type Registry struct {
	mu          sync.Mutex
	controllers map[string]*Controller
	factory     Factory
	logger      *zap.Logger
	logins      singleflight.Group
}

// NewRegistry creates an empty registry.
func NewRegistry(factory Factory, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		controllers: make(map[string]*Controller),
		factory:     factory,
		logger:      logger.Named("session_registry"),
	}
}

// Get returns the controller for account, creating it on first use.
func (r *Registry) Get(account string) *Controller {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.controllers[account]
	if !ok {
		c = r.factory(account)
		r.controllers[account] = c
		r.logger.Debug("Controller created.", zap.String("account", account))
	}
	return c
}

// Lookup returns the controller for account without creating one.
func (r *Registry) Lookup(account string) (*Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.controllers[account]
	return c, ok
}

// Login runs GetOrCreate for account. Concurrent logins for the same account
// share a single launch and login wait.
func (r *Registry) Login(ctx context.Context, account string) (*Handle, error) {
	v, err, shared := r.logins.Do(account, func() (interface{}, error) {
		return r.Get(account).GetOrCreate(ctx)
	})
	if shared {
		r.logger.Debug("Joined in-flight login.", zap.String("account", account))
	}
	if err != nil {
		return nil, err
	}
	return v.(*Handle), nil
}

// Close shuts down and forgets the controller for account.
func (r *Registry) Close(ctx context.Context, account string) error {
	r.mu.Lock()
	c, ok := r.controllers[account]
	delete(r.controllers, account)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return c.Close(ctx)
}

// CloseAll shuts down every controller.
func (r *Registry) CloseAll(ctx context.Context) error {
	r.mu.Lock()
	all := r.controllers
	r.controllers = make(map[string]*Controller)
	r.mu.Unlock()

	var errs []error
	for account, c := range all {
		if err := c.Close(ctx); err != nil {
			errs = append(errs, err)
			r.logger.Warn("Failed to close session.", zap.String("account", account), zap.Error(err))
		}
	}
	return errors.Join(errs...)
}

// Accounts lists the registered account keys in order.
func (r *Registry) Accounts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.controllers))
	for k := range r.controllers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Reap marks every inactive session Stale and returns the affected accounts.
func (r *Registry) Reap() []string {
	r.mu.Lock()
	all := make([]*Controller, 0, len(r.controllers))
	for _, c := range r.controllers {
		all = append(all, c)
	}
	r.mu.Unlock()

	var reaped []string
	for _, c := range all {
		if c.inactive() {
			c.Invalidate()
			reaped = append(reaped, c.Account())
		}
	}
	sort.Strings(reaped)
	return reaped
}

// Run reaps inactive sessions every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if reaped := r.Reap(); len(reaped) > 0 {
				r.logger.Info("Inactive sessions invalidated.", zap.Strings("accounts", reaped))
			}
		}
	}
}
