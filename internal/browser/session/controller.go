// internal/browser/session/controller.go
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/linkedin-inbox/internal/apperr"
	"github.com/xkilldash9x/linkedin-inbox/internal/browser/humanoid"
	"github.com/xkilldash9x/linkedin-inbox/internal/config"
)

// Landmarks that only render for a signed-in member.
var loginLandmarks = []string{
	".msg-conversations-container__conversations-list",
	".global-nav__me",
}

// Handle is what callers get from an authenticated session.
type Handle struct {
	Account  string
	Page     Page
	Humanoid *humanoid.Humanoid
	Profile  Profile
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock injects the time source used for inactivity tracking.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithLoginHook registers a callback fired on every transition to Authenticated.
func WithLoginHook(fn func(account string)) Option {
	return func(c *Controller) { c.onLogin = fn }
}

// WithHumanoidConfig sets the synthesizer configuration for new handles.
func WithHumanoidConfig(cfg humanoid.Config) Option {
	return func(c *Controller) { c.humanCfg = cfg }
}

// Controller owns one account's browser session. Operations for the account
// are serialized through Do; lifecycle changes go through GetOrCreate and Close.
type Controller struct {
	account  string
	cfg      config.SessionConfig
	launcher Launcher
	logger   *zap.Logger
	humanCfg humanoid.Config
	now      func() time.Time
	onLogin  func(account string)

	// lifecycle serializes launch, login and close.
	lifecycle sync.Mutex
	// ops serializes browser work for the account.
	ops sync.Mutex

	mu           sync.RWMutex
	state        State
	page         Page
	human        *humanoid.Humanoid
	lastActivity time.Time
	profile      Profile
	cancelLogin  context.CancelFunc
	// everSignedIn is set on the first authentication and cleared by Close, so a
	// session that only went stale or lost its browser can be re-verified.
	everSignedIn bool
}

// NewController creates a controller in the Uninitialized state.
func NewController(account string, cfg config.SessionConfig, launcher Launcher, logger *zap.Logger, opts ...Option) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Controller{
		account:  account,
		cfg:      cfg,
		launcher: launcher,
		logger:   logger.Named("session").With(zap.String("account", account)),
		humanCfg: humanoid.DefaultConfig(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Account returns the key this controller serves.
func (c *Controller) Account() string { return c.account }

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Profile returns the last detected member identity.
func (c *Controller) Profile() Profile {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.profile
}

// LastActivity returns when the session was last used.
func (c *Controller) LastActivity() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastActivity
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()
	if prev != s {
		c.logger.Info("Session state changed.", zap.Stringer("from", prev), zap.Stringer("to", s))
	}
}

func (c *Controller) touch() {
	c.mu.Lock()
	c.lastActivity = c.now()
	c.mu.Unlock()
}

func (c *Controller) handleLocked() *Handle {
	return &Handle{Account: c.account, Page: c.page, Humanoid: c.human, Profile: c.profile}
}

func pageDead(p Page) bool {
	if p == nil {
		return true
	}
	select {
	case <-p.Done():
		return true
	default:
		return false
	}
}

// GetOrCreate returns an authenticated handle, launching the browser and
// waiting for a manual login when needed. It blocks until the login landmark
// appears, the login timeout passes or ctx is done.
func (c *Controller) GetOrCreate(ctx context.Context) (*Handle, error) {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.RLock()
	state, page := c.state, c.page
	c.mu.RUnlock()

	if state == Authenticated && !pageDead(page) && !c.inactive() {
		c.touch()
		c.mu.RLock()
		defer c.mu.RUnlock()
		return c.handleLocked(), nil
	}

	if state.needsLaunch() || pageDead(page) {
		if err := c.launch(ctx); err != nil {
			return nil, err
		}
	}

	loginCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancelLogin = cancel
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.cancelLogin = nil
		c.mu.Unlock()
		cancel()
	}()

	if err := c.awaitLogin(loginCtx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.state = Authenticated
	c.everSignedIn = true
	c.lastActivity = c.now()
	h := c.handleLocked()
	c.mu.Unlock()
	c.logger.Info("Session authenticated.")
	if c.onLogin != nil {
		c.onLogin(c.account)
	}
	return h, nil
}

// launch replaces any dead page with a freshly launched browser.
func (c *Controller) launch(ctx context.Context) error {
	c.mu.Lock()
	old := c.page
	c.page, c.human = nil, nil
	c.mu.Unlock()
	if old != nil {
		if err := old.Close(); err != nil {
			c.logger.Debug("Closing previous browser failed.", zap.Error(err))
		}
	}

	c.setState(Launching)
	page, err := c.launcher.Launch(ctx, c.account)
	if err != nil {
		c.setState(Closed)
		return apperr.Wrap(apperr.KindBrowserFatal, "session.launch", err)
	}

	c.mu.Lock()
	c.page = page
	c.human = humanoid.New(c.humanCfg, c.logger, page.Executor())
	c.mu.Unlock()
	return nil
}

// awaitLogin checks the messaging page for a signed-in landmark, then falls
// back to the login page and polls until the member finishes signing in.
func (c *Controller) awaitLogin(ctx context.Context) error {
	c.setState(AwaitingManualLogin)
	c.mu.RLock()
	page := c.page
	c.mu.RUnlock()

	if err := c.navigate(ctx, page, c.cfg.MessagingURL); err != nil {
		return err
	}
	if c.signedIn(ctx, page) {
		return nil
	}

	if err := c.navigate(ctx, page, c.cfg.LoginURL); err != nil {
		return err
	}
	c.logger.Info("Waiting for manual login.", zap.Duration("timeout", c.cfg.LoginTimeout))

	timeout := time.NewTimer(c.cfg.LoginTimeout)
	defer timeout.Stop()
	poll := time.NewTicker(c.cfg.PollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("login wait interrupted: %w", ctx.Err())
		case <-page.Done():
			c.setState(Closed)
			return apperr.New(apperr.KindBrowserFatal, "session.login", "browser closed during login")
		case <-timeout.C:
			return apperr.New(apperr.KindLoginTimeout, "session.login",
				fmt.Sprintf("manual login not completed within %s", c.cfg.LoginTimeout))
		case <-poll.C:
			if c.signedIn(ctx, page) {
				return nil
			}
		}
	}
}

func (c *Controller) navigate(ctx context.Context, page Page, url string) error {
	navCtx, cancel := context.WithTimeout(ctx, c.cfg.NavigationTimeout)
	defer cancel()
	err := page.Navigate(navCtx, url)
	switch {
	case err == nil:
		return nil
	case pageDead(page):
		c.setState(Closed)
		return apperr.Wrap(apperr.KindBrowserFatal, "session.navigate", err)
	case ctx.Err() != nil:
		return fmt.Errorf("navigation to %s interrupted: %w", url, ctx.Err())
	case errors.Is(err, context.DeadlineExceeded) || navCtx.Err() != nil:
		return &apperr.Error{Kind: apperr.KindNavigationTimeout, Op: "session.navigate",
			Reason: fmt.Sprintf("navigation to %s timed out", url), Err: err}
	default:
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
}

func (c *Controller) signedIn(ctx context.Context, page Page) bool {
	for _, sel := range loginLandmarks {
		found, err := page.Exists(ctx, sel)
		if err != nil {
			c.logger.Debug("Landmark probe failed.", zap.String("selector", sel), zap.Error(err))
			continue
		}
		if found {
			c.logger.Debug("Login landmark found.", zap.String("selector", sel))
			return true
		}
	}
	return false
}

func (c *Controller) inactive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state == Authenticated && c.now().Sub(c.lastActivity) > c.cfg.InactivityTimeout
}

// IsValid reports whether the session can serve requests now. It changes no state.
func (c *Controller) IsValid(ctx context.Context) bool {
	c.mu.RLock()
	state, page := c.state, c.page
	c.mu.RUnlock()
	if state != Authenticated || pageDead(page) || c.inactive() {
		return false
	}
	loc, err := page.Location(ctx)
	if err != nil {
		return false
	}
	return strings.Contains(loc, "linkedin.com")
}

// Active returns the handle of an authenticated session without blocking on
// login. A session that is no longer valid is marked Stale.
func (c *Controller) Active(ctx context.Context) (*Handle, error) {
	if c.State() != Authenticated {
		return nil, apperr.New(apperr.KindSessionNotAuthenticated, "session", "session_not_authenticated")
	}
	if !c.IsValid(ctx) {
		c.mu.Lock()
		dead := pageDead(c.page)
		if c.state == Authenticated {
			if dead {
				c.state = Closed
			} else {
				c.state = Stale
			}
		}
		c.mu.Unlock()
		c.logger.Info("Session no longer valid.", zap.Bool("browser_gone", dead))
		return nil, apperr.New(apperr.KindSessionNotAuthenticated, "session", "session_not_authenticated")
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.handleLocked(), nil
}

// Do runs fn with exclusive use of the authenticated session. A BrowserFatal
// failure, or a browser that died while fn ran, closes the session.
func (c *Controller) Do(ctx context.Context, fn func(ctx context.Context, h *Handle) error) error {
	c.ops.Lock()
	defer c.ops.Unlock()

	h, err := c.Active(ctx)
	if errors.Is(err, apperr.ErrSessionNotAuthenticated) {
		h, err = c.reverify(ctx)
	}
	if err != nil {
		return err
	}
	c.touch()
	err = fn(ctx, h)
	if err != nil && pageDead(h.Page) && !errors.Is(err, apperr.ErrBrowserFatal) {
		err = apperr.Wrap(apperr.KindBrowserFatal, "session", err)
	}
	if errors.Is(err, apperr.ErrBrowserFatal) {
		c.logger.Warn("Browser failure, closing session.", zap.Error(err))
		c.teardown()
		return err
	}
	c.touch()
	return err
}

// reverify brings a session that was signed in before back to Authenticated
// without waiting for a manual login: it relaunches a dead browser, opens
// messaging and checks for a login landmark once. A session that never
// signed in, was closed, or is in the middle of a login is not touched.
func (c *Controller) reverify(ctx context.Context) (*Handle, error) {
	notAuthenticated := apperr.New(apperr.KindSessionNotAuthenticated, "session", "session_not_authenticated")
	if !c.lifecycle.TryLock() {
		return nil, notAuthenticated
	}
	defer c.lifecycle.Unlock()

	c.mu.RLock()
	state, page, known := c.state, c.page, c.everSignedIn
	c.mu.RUnlock()
	if !known || (state != Stale && state != Closed) {
		return nil, notAuthenticated
	}

	relaunched := pageDead(page)
	if relaunched {
		if err := c.launch(ctx); err != nil {
			return nil, err
		}
		c.mu.RLock()
		page = c.page
		c.mu.RUnlock()
	}

	if err := c.navigate(ctx, page, c.cfg.MessagingURL); err != nil {
		if !errors.Is(err, apperr.ErrBrowserFatal) {
			c.setState(Stale)
		}
		return nil, err
	}
	if !c.signedIn(ctx, page) {
		c.setState(Stale)
		c.logger.Info("Re-verification found no login landmark.")
		return nil, notAuthenticated
	}

	c.mu.Lock()
	c.state = Authenticated
	c.lastActivity = c.now()
	h := c.handleLocked()
	c.mu.Unlock()
	c.logger.Info("Session re-verified.", zap.Bool("relaunched", relaunched))
	if relaunched && c.onLogin != nil {
		c.onLogin(c.account)
	}
	return h, nil
}

// Invalidate marks an authenticated session Stale so the next GetOrCreate re-verifies login.
func (c *Controller) Invalidate() {
	c.mu.Lock()
	changed := c.state == Authenticated
	if changed {
		c.state = Stale
	}
	c.mu.Unlock()
	if changed {
		c.logger.Info("Session invalidated.")
	}
}

// Close interrupts any pending login wait, shuts the browser down and moves to Closed.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.RLock()
	cancel := c.cancelLogin
	c.mu.RUnlock()
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		c.lifecycle.Lock()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		go func() {
			<-done
			c.lifecycle.Unlock()
		}()
		return fmt.Errorf("failed to close session: %w", ctx.Err())
	}
	defer c.lifecycle.Unlock()

	c.mu.Lock()
	c.everSignedIn = false
	c.mu.Unlock()
	return c.teardown()
}

func (c *Controller) teardown() error {
	c.mu.Lock()
	page := c.page
	c.page, c.human = nil, nil
	c.state = Closed
	c.mu.Unlock()
	c.logger.Info("Session closed.")
	if page == nil {
		return nil
	}
	return page.Close()
}
