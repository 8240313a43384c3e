package humanoid

import (
	"context"
	"fmt"
	"time"
)

// Direction is the vertical scroll direction.
type Direction int

const (
	DirectionDown Direction = iota
	DirectionUp
)

func (d Direction) String() string {
	if d == DirectionUp {
		return "up"
	}
	return "down"
}

// sign returns +1 for down and -1 for up, matching wheel deltaY.
func (d Direction) sign() float64 {
	if d == DirectionUp {
		return -1
	}
	return 1
}

// ScrollStep is a single wheel tick and the pause after it.
type ScrollStep struct {
	DeltaY float64
	Pause  time.Duration
	// Correction marks the trailing step that compensates for overscroll.
	Correction bool
}

// scrollStepRange is the inclusive step-count range for a scroll sequence.
func (s Speed) scrollStepRange() (int, int) {
	switch s {
	case SpeedSlow:
		return 6, 14
	case SpeedFast:
		return 3, 6
	default:
		return 3, 9
	}
}

// ScrollSequence plans a scroll of distance pixels in direction without dispatching it.
func (h *Humanoid) ScrollSequence(direction Direction, distance float64) []ScrollStep {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.scrollSequence(direction, distance)
}

// scrollSequence splits distance into unequal ticks with occasional overscroll.
// A final correction step brings the sum back within 10px of the target.
// Callers must hold the lock.
func (h *Humanoid) scrollSequence(direction Direction, distance float64) []ScrollStep {
	distance = absf(distance)
	if distance < 1 {
		return nil
	}
	lo, hi := h.cfg.Speed.scrollStepRange()
	n := lo + h.rng.Intn(hi-lo+1)
	stepDistance := distance / float64(n)
	sign := direction.sign()

	steps := make([]ScrollStep, 0, n+1)
	scrolled := 0.0
	for i := 0; i < n; i++ {
		amount := stepDistance * (1 + (h.rng.Float64()-0.5)*2*h.cfg.ScrollVariance)
		if h.rng.Float64() < h.cfg.ScrollOvershootProbability {
			amount *= 1.1 + h.rng.Float64()*0.2
		}
		scrolled += amount

		pause := 100*time.Millisecond + time.Duration(h.rng.Int63n(int64(200*time.Millisecond)))
		if h.cfg.Enabled && h.rng.Float64() < 0.2 {
			pause += 200*time.Millisecond + time.Duration(h.rng.Int63n(int64(500*time.Millisecond)))
		}
		steps = append(steps, ScrollStep{DeltaY: sign * amount, Pause: pause})
	}

	if remaining := distance - scrolled; absf(remaining) > 10 {
		steps = append(steps, ScrollStep{
			DeltaY:     sign * remaining,
			Pause:      150*time.Millisecond + time.Duration(h.rng.Int63n(int64(250*time.Millisecond))),
			Correction: true,
		})
	}
	return steps
}

// Scroll performs a humanized wheel scroll at the current pointer position.
func (h *Humanoid) Scroll(ctx context.Context, direction Direction, distance float64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.scroll(ctx, direction, distance)
}

func (h *Humanoid) scroll(ctx context.Context, direction Direction, distance float64) error {
	for _, step := range h.scrollSequence(direction, distance) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		ev := MouseEventData{
			Type:   MouseWheel,
			X:      h.currentPos.X,
			Y:      h.currentPos.Y,
			Button: ButtonNone,
			DeltaY: step.DeltaY,
		}
		if err := h.executor.DispatchMouseEvent(ctx, ev); err != nil {
			return fmt.Errorf("humanoid: scroll %s failed: %w", direction, err)
		}
		if err := h.executor.Sleep(ctx, step.Pause); err != nil {
			return err
		}
	}
	return nil
}
