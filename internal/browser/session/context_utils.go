// internal/browser/session/context_utils.go
package session

import (
	"context"
	"errors"
)

// CombineContext derives a context from primary that is also canceled when
// secondary is done. Values come from primary only, which is what chromedp
// needs: primary carries the tab, secondary carries the request deadline.
// A deadline on secondary is copied onto the result so Err reports
// context.DeadlineExceeded, and context.Cause reports why secondary ended.
func CombineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(primary)
	stopDeadline := context.CancelFunc(func() {})
	d, hasDeadline := secondary.Deadline()
	if hasDeadline {
		ctx, stopDeadline = context.WithDeadline(ctx, d)
	}
	stop := context.AfterFunc(secondary, func() {
		// The copied deadline fires on its own and reports DeadlineExceeded.
		if hasDeadline && errors.Is(secondary.Err(), context.DeadlineExceeded) {
			return
		}
		cancel(context.Cause(secondary))
	})
	return ctx, func() {
		stop()
		stopDeadline()
		cancel(context.Canceled)
	}
}

// Detach returns a context that keeps the values of ctx (such as the chromedp
// target) but is never canceled by it. Cleanup that must outlive a request uses it.
func Detach(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
