package humanoid

import (
	"context"
	"math"
	"time"
)

// PathStep is one pointer position along a trajectory and the pause after reaching it.
type PathStep struct {
	Point Vector2D
	Delay time.Duration
}

// calculateFittsLaw determines a realistic movement duration based on Fitts's Law.
// Callers must hold the lock.
func (h *Humanoid) calculateFittsLaw(distance float64) time.Duration {
	const W = 30.0 // Assumed default target width (W) in pixels.
	id := math.Log2(1.0 + distance/W)
	mt := h.cfg.FittsA + h.cfg.FittsB*id
	mt += mt * (h.rng.Float64()*0.3 - 0.15) // +/- 15%
	return time.Duration(mt) * time.Millisecond
}

// bezier evaluates the cubic Bezier curve at t.
func bezier(p0, p1, p2, p3 Vector2D, t float64) Vector2D {
	omt := 1.0 - t
	omt2 := omt * omt
	omt3 := omt2 * omt
	t2 := t * t
	t3 := t2 * t
	return p0.Mul(omt3).Add(p1.Mul(3 * omt2 * t)).Add(p2.Mul(3 * omt * t2)).Add(p3.Mul(t3))
}

// PointerPathTo generates the trajectory from the current pointer position to
// target without dispatching anything.
func (h *Humanoid) PointerPathTo(target Vector2D) []PathStep {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pointerPath(h.currentPos, target)
}

// pointerPath builds a curved path with a slow-fast-slow velocity envelope.
// The last step always lands exactly on end. Callers must hold the lock.
func (h *Humanoid) pointerPath(start, end Vector2D) []PathStep {
	mainVec := end.Sub(start)
	dist := mainVec.Mag()
	base := h.cfg.Speed.stepDelay()
	if dist < 1.0 {
		return []PathStep{{Point: end, Delay: base}}
	}

	lo, hi := h.cfg.Speed.pathSteps()
	n := lo + h.rng.Intn(hi-lo+1)

	dir := mainVec.Normalize()
	perp := dir.Perp()
	// Control points bow the curve to one side, scaled by distance but capped
	// so long moves do not swing wildly.
	bow := math.Min(dist*0.3, 120)
	p1 := start.Add(dir.Mul(dist / 3)).Add(perp.Mul((h.rng.Float64() - 0.5) * 2 * bow))
	p2 := start.Add(dir.Mul(dist * 2 / 3)).Add(perp.Mul((h.rng.Float64() - 0.5) * 2 * bow))

	path := make([]PathStep, 0, n)
	var total time.Duration
	for i := 1; i <= n; i++ {
		t := float64(i) / float64(n)
		pt := bezier(start, p1, p2, end, t)
		if i < n {
			pt.X += h.noiseX.Next() * h.cfg.PathJitterPx
			pt.Y += h.noiseY.Next() * h.cfg.PathJitterPx
		}

		// Slow near both ends, fastest mid-path.
		envelope := 1.6 - math.Sin(math.Pi*t)
		delay := time.Duration(float64(base) * envelope * (0.8 + h.rng.Float64()*0.4))
		if h.cfg.Enabled && h.rng.Float64() < h.cfg.HesitationProbability {
			delay += 50*time.Millisecond + time.Duration(h.rng.Int63n(int64(150*time.Millisecond)))
		}
		total += delay
		path = append(path, PathStep{Point: pt, Delay: delay})
	}

	// Stretch the schedule when it is faster than Fitts's Law allows.
	if fitts := h.calculateFittsLaw(dist); h.cfg.Enabled && total < fitts && total > 0 {
		scale := float64(fitts) / float64(total)
		for i := range path {
			path[i].Delay = time.Duration(float64(path[i].Delay) * scale)
		}
	}
	return path
}

// MoveTo moves the pointer to a point inside the element matched by selector.
func (h *Humanoid) MoveTo(ctx context.Context, selector string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.moveToSelector(ctx, selector)
}

// MoveToPoint moves the pointer to an absolute viewport position.
func (h *Humanoid) MoveToPoint(ctx context.Context, target Vector2D) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.moveToPoint(ctx, target)
}

func (h *Humanoid) moveToSelector(ctx context.Context, selector string) error {
	target, err := h.centerOf(ctx, selector)
	if err != nil {
		return err
	}
	return h.moveToPoint(ctx, target)
}

// moveToPoint dispatches every step of the path. Callers must hold the lock.
func (h *Humanoid) moveToPoint(ctx context.Context, target Vector2D) error {
	for _, step := range h.pointerPath(h.currentPos, target) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		ev := MouseEventData{
			Type:   MouseMove,
			X:      step.Point.X,
			Y:      step.Point.Y,
			Button: ButtonNone,
		}
		if err := h.executor.DispatchMouseEvent(ctx, ev); err != nil {
			return err
		}
		h.currentPos = step.Point
		if err := h.executor.Sleep(ctx, step.Delay); err != nil {
			return err
		}
	}
	return nil
}
