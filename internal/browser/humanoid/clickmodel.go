package humanoid

import (
	"context"
)

// IntelligentClick moves to the element along a humanized path, then presses,
// holds and releases the left button.
func (h *Humanoid) IntelligentClick(ctx context.Context, selector string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.click(ctx, selector)
}

// click is the non-locking counterpart of IntelligentClick.
func (h *Humanoid) click(ctx context.Context, selector string) error {
	if err := h.moveToSelector(ctx, selector); err != nil {
		return err
	}
	return h.pressAndRelease(ctx)
}

func (h *Humanoid) pressAndRelease(ctx context.Context) error {
	pos := h.currentPos
	mouseDown := MouseEventData{
		Type:       MousePress,
		X:          pos.X,
		Y:          pos.Y,
		Button:     ButtonLeft,
		ClickCount: 1,
		Buttons:    1, // Bitfield: 1 indicates the left button is now pressed.
	}
	if err := h.executor.DispatchMouseEvent(ctx, mouseDown); err != nil {
		return err
	}

	hold := h.sample(Range{Min: h.cfg.ClickHoldMin, Max: h.cfg.ClickHoldMax})
	if err := h.executor.Sleep(ctx, hold); err != nil {
		// Never leave the button stuck down.
		_ = h.release(context.Background(), pos)
		return err
	}
	return h.release(ctx, pos)
}

func (h *Humanoid) release(ctx context.Context, pos Vector2D) error {
	mouseUp := MouseEventData{
		Type:       MouseRelease,
		X:          pos.X,
		Y:          pos.Y,
		Button:     ButtonLeft,
		ClickCount: 1,
		Buttons:    0,
	}
	return h.executor.DispatchMouseEvent(ctx, mouseUp)
}
