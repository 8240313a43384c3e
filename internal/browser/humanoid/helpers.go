package humanoid

import (
	"context"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

// boxToCenter calculates the geometric center of an element's geometry.
func boxToCenter(geo *ElementGeometry) (center Vector2D, valid bool) {
	if geo == nil || len(geo.Vertices) < 8 {
		return Vector2D{}, false
	}
	centerX := (geo.Vertices[0] + geo.Vertices[2] + geo.Vertices[4] + geo.Vertices[6]) / 4
	centerY := (geo.Vertices[1] + geo.Vertices[3] + geo.Vertices[5] + geo.Vertices[7]) / 4
	return Vector2D{X: centerX, Y: centerY}, true
}

// Rect is an axis-aligned region in viewport CSS pixels.
type Rect struct {
	Left, Top, Width, Height float64
}

// boxToRect converts element geometry to its bounding rectangle.
func boxToRect(geo *ElementGeometry) (Rect, bool) {
	if geo == nil || len(geo.Vertices) < 8 {
		return Rect{}, false
	}
	return Rect{
		Left:   geo.Vertices[0],
		Top:    geo.Vertices[1],
		Width:  float64(geo.Width),
		Height: float64(geo.Height),
	}, true
}

// getElementBoxBySelector finds an element and retrieves its geometry via the executor.
func (h *Humanoid) getElementBoxBySelector(ctx context.Context, selector string) (*ElementGeometry, error) {
	geo, err := h.executor.GetElementGeometry(ctx, selector)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("humanoid: geometry retrieval failed for '%s': %w", selector, err)
	}
	if geo == nil {
		return nil, fmt.Errorf("humanoid: executor returned nil geometry for '%s'", selector)
	}
	if len(geo.Vertices) < 8 {
		return nil, fmt.Errorf("humanoid: element '%s' returned invalid geometry", selector)
	}
	if geo.Width <= 0 || geo.Height <= 0 {
		h.logger.Debug("Element found but has zero size.",
			zap.String("selector", selector),
			zap.Int64("width", geo.Width),
			zap.Int64("height", geo.Height))
		return nil, fmt.Errorf("humanoid: element '%s' is not interactable (zero size)", selector)
	}
	return geo, nil
}

// visibilityScript reports how far an element's center sits outside the viewport vertically.
const visibilityScript = `(function(sel){
  const el = document.querySelector(sel);
  if (!el) { return {found:false, delta:0}; }
  const r = el.getBoundingClientRect();
  const mid = r.top + r.height / 2;
  const vh = window.innerHeight || document.documentElement.clientHeight;
  let delta = 0;
  if (mid < vh * 0.15) { delta = mid - vh * 0.4; }
  else if (mid > vh * 0.85) { delta = mid - vh * 0.6; }
  return {found:true, delta:delta};
})`

type visibility struct {
	Found bool    `json:"found"`
	Delta float64 `json:"delta"`
}

// ensureVisible brings the element into the comfortable middle of the viewport
// with a humanized scroll sequence. Callers must hold the lock.
func (h *Humanoid) ensureVisible(ctx context.Context, selector string) error {
	raw, err := h.executor.ExecuteScript(ctx, visibilityScript, []interface{}{selector})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// Visibility is best effort, the geometry lookup reports real failures.
		h.logger.Debug("Visibility probe failed.", zap.String("selector", selector), zap.Error(err))
		return nil
	}
	var vis visibility
	if len(raw) > 0 {
		if err := codec.Unmarshal(raw, &vis); err != nil {
			return fmt.Errorf("humanoid: failed to decode visibility probe: %w", err)
		}
	}
	if !vis.Found || absf(vis.Delta) < 5 {
		return nil
	}
	dir := DirectionDown
	if vis.Delta < 0 {
		dir = DirectionUp
	}
	return h.scroll(ctx, dir, absf(vis.Delta))
}

// centerOf scrolls the element into view and returns a point inside it, offset
// from the exact center the way a person rarely hits dead center.
func (h *Humanoid) centerOf(ctx context.Context, selector string) (Vector2D, error) {
	if err := h.ensureVisible(ctx, selector); err != nil {
		return Vector2D{}, err
	}
	geo, err := h.getElementBoxBySelector(ctx, selector)
	if err != nil {
		return Vector2D{}, err
	}
	center, valid := boxToCenter(geo)
	if !valid {
		return Vector2D{}, fmt.Errorf("humanoid: element '%s' has invalid geometry structure", selector)
	}
	center.X += (h.rng.Float64() - 0.5) * float64(geo.Width) * 0.3
	center.Y += (h.rng.Float64() - 0.5) * float64(geo.Height) * 0.3
	return center, nil
}

// sample draws from r. Callers must hold the lock.
func (h *Humanoid) sample(r Range) time.Duration {
	return r.Sample(h.rng)
}

func absf(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func clampf(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
