package humanoid

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const (
	lineHeight        = 25.0
	fixationsPerLine  = 5
	defaultReadRegion = "main"
)

// Fixation is a point the reader's attention rests on and for how long.
type Fixation struct {
	Point Vector2D
	Dwell time.Duration
	// Line is the zero-based text line being read.
	Line int
	// Thinking marks a long pause spent processing rather than scanning.
	Thinking bool
}

// fallbackRegion is used when the content element has no usable geometry.
var fallbackRegion = Rect{Left: 100, Top: 150, Width: 600, Height: 400}

// ReadingPause plans a line-by-line scan of region that lasts exactly budget.
// A non-positive budget draws one from the current profile.
func (h *Humanoid) ReadingPause(region Rect, budget time.Duration) []Fixation {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.readingPause(region, budget)
}

// readingPause sweeps left to right across each line with small vertical
// jitter, occasionally jumps back a line or two and occasionally stops to think.
// The dwell times sum to budget. Callers must hold the lock.
func (h *Humanoid) readingPause(region Rect, budget time.Duration) []Fixation {
	if budget <= 0 {
		budget = h.sample(h.cfg.ProfileFunc().Reading)
	}
	if region.Width <= 0 || region.Height <= 0 {
		region = fallbackRegion
	}
	totalLines := int(region.Height / lineHeight)
	if totalLines < 1 {
		totalLines = 1
	}

	var (
		fixations []Fixation
		spent     time.Duration
		line      int
	)
	add := func(f Fixation) bool {
		if spent+f.Dwell >= budget {
			f.Dwell = budget - spent
			spent = budget
			fixations = append(fixations, f)
			return false
		}
		spent += f.Dwell
		fixations = append(fixations, f)
		return true
	}

	for {
		lineY := region.Top + float64(line)*lineHeight + h.rng.Float64()*10
		startX := region.Left + h.rng.Float64()*20
		endX := region.Left + region.Width*(0.7+h.rng.Float64()*0.2)

		for i := 0; i < fixationsPerLine; i++ {
			x := startX + (endX-startX)*float64(i)/float64(fixationsPerLine-1)
			y := lineY + (h.rng.Float64()-0.5)*3
			dwell := 150*time.Millisecond + time.Duration(h.rng.Int63n(int64(200*time.Millisecond)))
			if i == fixationsPerLine-1 {
				// Return sweep to the next line.
				dwell += 100*time.Millisecond + time.Duration(h.rng.Int63n(int64(300*time.Millisecond)))
			}
			if !add(Fixation{Point: Vector2D{X: x, Y: y}, Dwell: dwell, Line: line}) {
				return fixations
			}
		}

		line = (line + 1) % totalLines

		if h.rng.Float64() < h.cfg.BacktrackProbability {
			line -= 1 + h.rng.Intn(2)
			if line < 0 {
				line = 0
			}
			last := &fixations[len(fixations)-1]
			extra := 200*time.Millisecond + time.Duration(h.rng.Int63n(int64(400*time.Millisecond)))
			if spent+extra >= budget {
				last.Dwell += budget - spent
				return fixations
			}
			last.Dwell += extra
			spent += extra
		}

		if h.rng.Float64() < h.cfg.ThinkingProbability {
			last := fixations[len(fixations)-1]
			think := 800*time.Millisecond + time.Duration(h.rng.Int63n(int64(1200*time.Millisecond)))
			if !add(Fixation{Point: last.Point, Dwell: think, Line: last.Line, Thinking: true}) {
				return fixations
			}
		}
	}
}

// Read simulates reading the element matched by selector for budget, drifting
// the pointer along with the reader's attention.
func (h *Humanoid) Read(ctx context.Context, selector string, budget time.Duration) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if selector == "" {
		selector = defaultReadRegion
	}
	region := fallbackRegion
	if geo, err := h.executor.GetElementGeometry(ctx, selector); err == nil {
		if r, ok := boxToRect(geo); ok {
			// Inset like a reader skipping margins and headers, capped to a comfortable column.
			region = Rect{
				Left:   r.Left + 50,
				Top:    r.Top + 100,
				Width:  clampf(r.Width-100, 0, 800),
				Height: clampf(r.Height-200, 0, 600),
			}
		}
	} else if ctx.Err() != nil {
		return ctx.Err()
	} else {
		h.logger.Debug("Reading region unavailable, using fallback.", zap.String("selector", selector), zap.Error(err))
	}

	for _, f := range h.readingPause(region, budget) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !f.Thinking {
			ev := MouseEventData{Type: MouseMove, X: f.Point.X, Y: f.Point.Y, Button: ButtonNone}
			if err := h.executor.DispatchMouseEvent(ctx, ev); err != nil {
				return err
			}
			h.currentPos = f.Point
		}
		if err := h.executor.Sleep(ctx, f.Dwell); err != nil {
			return err
		}
	}
	return nil
}
