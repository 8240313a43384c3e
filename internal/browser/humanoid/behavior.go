package humanoid

import (
	"context"
	"time"
)

// Pause waits for the current profile's between-action pause.
func (h *Humanoid) Pause(ctx context.Context) error {
	h.mu.Lock()
	d := h.sample(h.cfg.ProfileFunc().Pause)
	h.mu.Unlock()
	if !h.cfg.Enabled {
		return nil
	}
	return h.executor.Sleep(ctx, d)
}

// Wait sleeps for a duration drawn from r.
func (h *Humanoid) Wait(ctx context.Context, r Range) error {
	h.mu.Lock()
	d := h.sample(r)
	h.mu.Unlock()
	return h.executor.Sleep(ctx, d)
}

// Jitter draws a float uniformly from [lo, hi).
func (h *Humanoid) Jitter(lo, hi float64) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return lo + h.rng.Float64()*(hi-lo)
}

// ReadingBudget draws a reading duration from the current profile.
func (h *Humanoid) ReadingBudget() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sample(h.cfg.ProfileFunc().Reading)
}

// Hesitate simulates a user pausing with continuous, subtle cursor movements.
// Elapsed time is counted from the sleeps issued, not the wall clock.
func (h *Humanoid) Hesitate(ctx context.Context, duration time.Duration) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	anchor := h.currentPos
	var elapsed time.Duration
	for elapsed < duration {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		target := anchor.Add(Vector2D{X: h.noiseX.Next() * 2.5, Y: h.noiseY.Next() * 2.5})
		ev := MouseEventData{Type: MouseMove, X: target.X, Y: target.Y, Button: ButtonNone}
		if err := h.executor.DispatchMouseEvent(ctx, ev); err != nil {
			return err
		}
		h.currentPos = target

		step := 40*time.Millisecond + time.Duration(h.rng.Int63n(int64(50*time.Millisecond)))
		if elapsed+step > duration {
			step = duration - elapsed
		}
		if err := h.executor.Sleep(ctx, step); err != nil {
			return err
		}
		elapsed += step
	}
	return nil
}
