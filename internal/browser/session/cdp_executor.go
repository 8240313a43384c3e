// internal/browser/session/cdp_executor.go
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/linkedin-inbox/internal/browser/humanoid"
)

// cdpExecutor implements humanoid.Executor with chromedp actions. It bridges
// the browser-agnostic synthesizer and the concrete CDP tab.
type cdpExecutor struct {
	logger *zap.Logger
	// run executes actions against the tab, combining the tab context with the caller's.
	run func(ctx context.Context, actions ...chromedp.Action) error
}

var _ humanoid.Executor = (*cdpExecutor)(nil)

// Sleep pauses execution for the specified duration, respecting the context.
func (e *cdpExecutor) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// DispatchMouseEvent dispatches a single mouse event via CDP.
func (e *cdpExecutor) DispatchMouseEvent(ctx context.Context, data humanoid.MouseEventData) error {
	p := input.DispatchMouseEvent(input.MouseType(data.Type), data.X, data.Y).
		WithButton(input.MouseButton(data.Button)).
		WithButtons(data.Buttons).
		WithClickCount(int64(data.ClickCount))
	if data.Type == humanoid.MouseWheel {
		p = p.WithDeltaX(data.DeltaX).WithDeltaY(data.DeltaY)
	}

	timeout := 10 * time.Second
	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := e.run(opCtx, p)
	if err != nil && opCtx.Err() == context.DeadlineExceeded {
		e.logger.Debug("DispatchMouseEvent timed out.", zap.Duration("timeout", timeout))
		return fmt.Errorf("cdpExecutor DispatchMouseEvent timed out after %v: %w", timeout, opCtx.Err())
	}
	return err
}

// SendKeys types printable text via CDP key events.
func (e *cdpExecutor) SendKeys(ctx context.Context, keys string) error {
	timeout := 10 * time.Second
	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := e.run(opCtx, chromedp.KeyEvent(keys))
	if err != nil && opCtx.Err() == context.DeadlineExceeded {
		e.logger.Debug("SendKeys timed out.", zap.Duration("timeout", timeout))
		return fmt.Errorf("cdpExecutor SendKeys timed out after %v: %w", timeout, opCtx.Err())
	}
	return err
}

// DispatchStructuredKey presses and releases a single non-printable key.
func (e *cdpExecutor) DispatchStructuredKey(ctx context.Context, data humanoid.KeyEventData) error {
	keyDown := input.DispatchKeyEvent(input.KeyRawDown).
		WithKey(data.Key).
		WithCode(data.Code).
		WithWindowsVirtualKeyCode(data.WindowsVirtualKeyCode)
	keyUp := input.DispatchKeyEvent(input.KeyUp).
		WithKey(data.Key).
		WithCode(data.Code).
		WithWindowsVirtualKeyCode(data.WindowsVirtualKeyCode)
	if data.Key == humanoid.EnterKey.Key {
		// Enter needs a char event for contenteditable composers to submit.
		keyDown = input.DispatchKeyEvent(input.KeyDown).
			WithKey(data.Key).
			WithCode(data.Code).
			WithWindowsVirtualKeyCode(data.WindowsVirtualKeyCode).
			WithText("\r")
	}

	timeout := 5 * time.Second
	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := e.run(opCtx, keyDown, keyUp); err != nil {
		if opCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("cdpExecutor: timeout dispatching key %q after %v: %w", data.Key, timeout, opCtx.Err())
		}
		return fmt.Errorf("cdpExecutor: failed to dispatch key %q: %w", data.Key, err)
	}
	return nil
}

// geometryScript returns the border-box quad of the first visible match.
const geometryScript = `(function(sel) {
  const node = document.querySelector(sel);
  if (!node) return null;
  const rect = node.getBoundingClientRect();
  const style = window.getComputedStyle(node);
  const visible = rect.width > 0 && rect.height > 0 && style.display !== 'none' && style.visibility !== 'hidden' && style.opacity !== '0';
  if (!visible) return null;
  return {
    vertices: [rect.left, rect.top, rect.right, rect.top, rect.right, rect.bottom, rect.left, rect.bottom],
    width: Math.round(rect.width),
    height: Math.round(rect.height),
    tagName: node.tagName || ''
  };
})`

type geometryPayload struct {
	Vertices []float64 `json:"vertices"`
	Width    int64     `json:"width"`
	Height   int64     `json:"height"`
	TagName  string    `json:"tagName"`
}

// GetElementGeometry retrieves the viewport box of the element matched by selector.
func (e *cdpExecutor) GetElementGeometry(ctx context.Context, selector string) (*humanoid.ElementGeometry, error) {
	res, err := e.ExecuteScript(ctx, geometryScript, []interface{}{selector})
	if err != nil {
		return nil, fmt.Errorf("failed to get geometry for '%s': %w", selector, err)
	}
	if len(res) == 0 || string(res) == "null" {
		e.logger.Debug("Element geometry probe returned null (not found or not visible).", zap.String("selector", selector))
		return nil, fmt.Errorf("element '%s' not found or not visible", selector)
	}

	var geom geometryPayload
	if err := json.Unmarshal(res, &geom); err != nil {
		return nil, fmt.Errorf("failed to unmarshal geometry for '%s': %w (payload: %s)", selector, err, string(res))
	}
	if geom.Width <= 0 || geom.Height <= 0 {
		return nil, fmt.Errorf("element '%s' not found or not visible (invalid dimensions: width=%d, height=%d)", selector, geom.Width, geom.Height)
	}
	return &humanoid.ElementGeometry{
		Vertices: geom.Vertices,
		Width:    geom.Width,
		Height:   geom.Height,
		TagName:  geom.TagName,
	}, nil
}

// ExecuteScript evaluates script in the page. When args are given the script
// must be a function expression; it is invoked with the JSON-encoded args.
func (e *cdpExecutor) ExecuteScript(ctx context.Context, script string, args []interface{}) (json.RawMessage, error) {
	expr, err := bindArgs(script, args)
	if err != nil {
		return nil, err
	}

	timeout := 20 * time.Second
	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var res json.RawMessage
	err = e.run(opCtx,
		chromedp.Evaluate(expr, &res, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithReturnByValue(true).WithAwaitPromise(true).WithSilent(true)
		}),
	)
	if err != nil {
		if opCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("timeout during ExecuteScript: %w", opCtx.Err())
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("context error during ExecuteScript: %w", err)
		}
		return nil, fmt.Errorf("failed ExecuteScript evaluation: %w", err)
	}
	return res, nil
}

// bindArgs turns a function expression and its arguments into a call expression.
func bindArgs(script string, args []interface{}) (string, error) {
	if len(args) == 0 {
		return script, nil
	}
	encoded := make([]string, len(args))
	for i, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return "", fmt.Errorf("failed to encode script argument %d: %w", i, err)
		}
		encoded[i] = string(b)
	}
	return "(" + strings.TrimSpace(script) + ")(" + strings.Join(encoded, ", ") + ")", nil
}
