// internal/browser/session/page.go
package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/linkedin-inbox/internal/browser/humanoid"
	"github.com/xkilldash9x/linkedin-inbox/internal/browser/stealth"
	"github.com/xkilldash9x/linkedin-inbox/internal/config"
)

// Page is the live browser tab a controller owns.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Location(ctx context.Context) (string, error)
	// Exists reports whether any element matches selector right now.
	Exists(ctx context.Context, selector string) (bool, error)
	// Evaluate runs a JavaScript expression and decodes its result into out.
	Evaluate(ctx context.Context, expression string, out interface{}) error
	Executor() humanoid.Executor
	// Done is closed when the browser process or tab goes away.
	Done() <-chan struct{}
	Close() error
}

// Launcher starts a browser for an account.
type Launcher interface {
	Launch(ctx context.Context, account string) (Page, error)
}

// ChromeLauncher launches Chrome through chromedp with the stealth layer applied.
type ChromeLauncher struct {
	browser config.BrowserConfig
	persona stealth.Persona
	logger  *zap.Logger
}

// NewChromeLauncher builds a launcher from the browser and stealth sections.
func NewChromeLauncher(cfg *config.Config, logger *zap.Logger) *ChromeLauncher {
	return &ChromeLauncher{
		browser: cfg.Browser,
		persona: stealth.FromConfig(cfg.Stealth, cfg.Browser.Viewport),
		logger:  logger.Named("chrome"),
	}
}

var unsafePathChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// ProfileDir returns the persistent user-data directory for account.
func ProfileDir(root, account string) string {
	name := strings.Trim(unsafePathChars.ReplaceAllString(account, "_"), ".")
	if name == "" {
		name = "default"
	}
	return filepath.Join(root, name)
}

// Launch starts a new browser. The process is detached from ctx so it
// outlives the request that created it; ctx bounds only the startup.
func (l *ChromeLauncher) Launch(ctx context.Context, account string) (Page, error) {
	dir := ProfileDir(l.browser.ProfileDir, account)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create profile directory %s: %w", dir, err)
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), DefaultAllocatorOptions(l.browser, dir)...)
	ctxOpts := []chromedp.ContextOption{}
	if l.browser.Debug {
		ctxOpts = append(ctxOpts, chromedp.WithDebugf(l.logger.Sugar().Debugf))
	}
	tabCtx, tabCancel := chromedp.NewContext(allocCtx, ctxOpts...)

	p := &chromePage{
		tab:    tabCtx,
		logger: l.logger.With(zap.String("account", account)),
		cancel: func() {
			tabCancel()
			allocCancel()
		},
	}
	p.exec = &cdpExecutor{logger: p.logger, run: p.run}

	// The first Run allocates the browser and must not carry a deadline,
	// otherwise the process dies with it.
	if err := chromedp.Run(tabCtx); err != nil {
		p.cancel()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}
	if err := p.run(ctx, stealth.Apply(l.persona, l.logger)); err != nil {
		p.cancel()
		return nil, fmt.Errorf("failed to apply stealth persona: %w", err)
	}
	l.logger.Info("Browser launched.", zap.String("account", account), zap.String("profile_dir", dir))
	return p, nil
}

type chromePage struct {
	tab    context.Context
	cancel func()
	logger *zap.Logger
	exec   *cdpExecutor
}

func (p *chromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	combined, cancel := CombineContext(p.tab, ctx)
	defer cancel()
	return chromedp.Run(combined, actions...)
}

func (p *chromePage) Navigate(ctx context.Context, url string) error {
	return p.run(ctx, chromedp.Navigate(url))
}

func (p *chromePage) Location(ctx context.Context) (string, error) {
	var loc string
	err := p.run(ctx, chromedp.Location(&loc))
	return loc, err
}

func (p *chromePage) Exists(ctx context.Context, selector string) (bool, error) {
	var found bool
	expr, err := bindArgs(`(sel) => document.querySelector(sel) !== null`, []interface{}{selector})
	if err != nil {
		return false, err
	}
	err = p.Evaluate(ctx, expr, &found)
	return found, err
}

func (p *chromePage) Evaluate(ctx context.Context, expression string, out interface{}) error {
	return p.run(ctx, chromedp.Evaluate(expression, out, func(e *runtime.EvaluateParams) *runtime.EvaluateParams {
		return e.WithAwaitPromise(true)
	}))
}

func (p *chromePage) Executor() humanoid.Executor { return p.exec }

func (p *chromePage) Done() <-chan struct{} { return p.tab.Done() }

// Close asks Chrome to shut down gracefully, then releases the allocator.
func (p *chromePage) Close() error {
	err := chromedp.Cancel(p.tab)
	p.cancel()
	if err != nil && err != context.Canceled {
		return fmt.Errorf("failed to close browser: %w", err)
	}
	return nil
}
