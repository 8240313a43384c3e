// FILE: ./internal/browser/humanoid/humanoid_test.go
package humanoid

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfileFor(t *testing.T) {
	at := func(hour int) time.Time { return time.Date(2026, 1, 5, hour, 30, 0, 0, time.Local) }

	tests := []struct {
		hour int
		want string
	}{
		{8, "night"}, {9, "business"}, {17, "business"}, {18, "evening"},
		{22, "evening"}, {23, "night"}, {0, "night"}, {3, "night"},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("hour_%02d", tt.hour), func(t *testing.T) {
			assert.Equal(t, tt.want, ProfileFor(at(tt.hour)).Name)
		})
	}

	// Later profiles are strictly slower.
	assert.Less(t, BusinessProfile.Typing.Max, EveningProfile.Typing.Max)
	assert.Less(t, EveningProfile.Typing.Max, NightProfile.Typing.Max)
	assert.Less(t, BusinessProfile.Reading.Min, NightProfile.Reading.Min)
}

func TestRangeSample(t *testing.T) {
	h := NewTestHumanoid(newMockExecutor(t), 1)
	r := Range{Min: 10 * time.Millisecond, Max: 20 * time.Millisecond}
	for i := 0; i < 200; i++ {
		d := r.Sample(h.rng)
		require.GreaterOrEqual(t, d, r.Min)
		require.LessOrEqual(t, d, r.Max)
	}
	assert.Equal(t, 5*time.Millisecond, Range{Min: 5 * time.Millisecond}.Sample(h.rng), "degenerate range returns min")
	assert.Equal(t, 15*time.Millisecond, r.Mid())
}

func TestParseSpeed(t *testing.T) {
	assert.Equal(t, SpeedSlow, ParseSpeed("slow"))
	assert.Equal(t, SpeedFast, ParseSpeed("fast"))
	assert.Equal(t, SpeedNormal, ParseSpeed("normal"))
	assert.Equal(t, SpeedNormal, ParseSpeed("warp"))
	assert.Equal(t, "fast", SpeedFast.String())
}

func TestPointerPathTo(t *testing.T) {
	for _, speed := range []Speed{SpeedSlow, SpeedNormal, SpeedFast} {
		t.Run(speed.String(), func(t *testing.T) {
			for seed := int64(1); seed <= 10; seed++ {
				h := NewTestHumanoid(newMockExecutor(t), seed, WithStartPosition(Vector2D{X: 10, Y: 10}))
				h.cfg.Speed = speed
				target := Vector2D{X: 800, Y: 500}

				path := h.PointerPathTo(target)
				lo, hi := speed.pathSteps()
				require.GreaterOrEqual(t, len(path), lo)
				require.LessOrEqual(t, len(path), hi)
				assert.Equal(t, target, path[len(path)-1].Point, "path ends exactly on target")

				for _, step := range path {
					assert.Greater(t, step.Delay, time.Duration(0))
					// The bow is capped at 120px plus jitter, so no point strays far off the box.
					assert.True(t, step.Point.X > -200 && step.Point.X < 1000, "x=%f", step.Point.X)
				}
			}
		})
	}
}

func TestPointerPathEnvelope(t *testing.T) {
	h := NewTestHumanoid(newMockExecutor(t), 3, WithStartPosition(Vector2D{}))
	h.cfg.HesitationProbability = 0
	h.cfg.Speed = SpeedSlow

	path := h.PointerPathTo(Vector2D{X: 1000, Y: 0})
	n := len(path)
	edge := path[0].Delay + path[n-1].Delay
	mid := path[n/2].Delay + path[n/2-1].Delay
	assert.Greater(t, edge, mid, "movement is slow at the ends and fast in the middle")
}

func TestPointerPathZeroDistance(t *testing.T) {
	h := NewTestHumanoid(newMockExecutor(t), 1, WithStartPosition(Vector2D{X: 5, Y: 5}))
	path := h.PointerPathTo(Vector2D{X: 5, Y: 5})
	require.Len(t, path, 1)
	assert.Equal(t, Vector2D{X: 5, Y: 5}, path[0].Point)
}

func TestIntelligentClick(t *testing.T) {
	exec := newMockExecutor(t)
	h := NewTestHumanoid(exec, 42)

	require.NoError(t, h.IntelligentClick(context.Background(), "button.send"))

	moves := exec.events(MouseMove)
	require.NotEmpty(t, moves)
	presses := exec.events(MousePress)
	releases := exec.events(MouseRelease)
	require.Len(t, presses, 1)
	require.Len(t, releases, 1)

	// Press and release land inside the element box.
	for _, ev := range []MouseEventData{presses[0], releases[0]} {
		assert.True(t, ev.X >= 200 && ev.X <= 300, "x=%f", ev.X)
		assert.True(t, ev.Y >= 100 && ev.Y <= 140, "y=%f", ev.Y)
		assert.Equal(t, ButtonLeft, ev.Button)
	}
	assert.Equal(t, int64(1), presses[0].Buttons)
	assert.Equal(t, int64(0), releases[0].Buttons)

	// The event order is moves, press, hold, release.
	last := exec.dispatchedEvents[len(exec.dispatchedEvents)-1]
	assert.Equal(t, MouseRelease, last.Type)
	hold := exec.sleepDurations[len(exec.sleepDurations)-1]
	assert.GreaterOrEqual(t, hold, 40*time.Millisecond)
	assert.LessOrEqual(t, hold, 100*time.Millisecond)
	assert.Equal(t, Vector2D{X: presses[0].X, Y: presses[0].Y}, h.Position())
}

func TestIntelligentClickScrollsIntoView(t *testing.T) {
	exec := newMockExecutor(t)
	calls := 0
	exec.MockExecuteScript = func(ctx context.Context, script string, args []interface{}) (json.RawMessage, error) {
		calls++
		assert.Equal(t, []interface{}{"li.far"}, args)
		return json.RawMessage(`{"found":true,"delta":420}`), nil
	}
	h := NewTestHumanoid(exec, 7)

	require.NoError(t, h.IntelligentClick(context.Background(), "li.far"))
	assert.Equal(t, 1, calls)

	total := 0.0
	for _, ev := range exec.events(MouseWheel) {
		total += ev.DeltaY
	}
	assert.InDelta(t, 420, total, 10)
}

func TestClickReleasesOnCancelledHold(t *testing.T) {
	exec := newMockExecutor(t)
	h := NewTestHumanoid(exec, 1)
	ctx, cancel := context.WithCancel(context.Background())

	exec.MockSleep = func(sctx context.Context, d time.Duration) error {
		exec.mu.Lock()
		pressed := len(exec.dispatchedEvents) > 0 && exec.dispatchedEvents[len(exec.dispatchedEvents)-1].Type == MousePress
		exec.mu.Unlock()
		if pressed {
			cancel()
			return context.Canceled
		}
		return nil
	}

	err := h.IntelligentClick(ctx, "button")
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, exec.events(MouseRelease), 1, "the button is never left pressed")
}

func TestGeometryErrors(t *testing.T) {
	exec := newMockExecutor(t)
	exec.geometryBySelector["div.empty"] = &ElementGeometry{Vertices: []float64{0, 0, 0, 0, 0, 0, 0, 0}}
	exec.MockGetElementGeometry = nil
	h := NewTestHumanoid(exec, 1)

	err := h.MoveTo(context.Background(), "div.empty")
	assert.ErrorContains(t, err, "zero size")

	exec.MockGetElementGeometry = func(ctx context.Context, selector string) (*ElementGeometry, error) {
		return nil, errors.New("node not found")
	}
	err = h.MoveTo(context.Background(), "div.gone")
	assert.ErrorContains(t, err, "geometry retrieval failed")
}

func TestScrollSequence(t *testing.T) {
	for seed := int64(1); seed <= 20; seed++ {
		h := NewTestHumanoid(newMockExecutor(t), seed)
		h.cfg.Speed = Speed(seed % 3)

		steps := h.ScrollSequence(DirectionDown, 600)
		regular := 0
		sum := 0.0
		for _, s := range steps {
			if !s.Correction {
				regular++
				assert.Greater(t, s.DeltaY, 0.0)
			}
			sum += s.DeltaY
			assert.GreaterOrEqual(t, s.Pause, 100*time.Millisecond)
		}
		assert.GreaterOrEqual(t, regular, 3)
		assert.LessOrEqual(t, regular, 14)
		assert.InDelta(t, 600, sum, 10, "seed %d", seed)
	}
}

func TestScrollSequenceUpAndOverscroll(t *testing.T) {
	h := NewTestHumanoid(newMockExecutor(t), 5)
	h.cfg.ScrollOvershootProbability = 1
	h.cfg.ScrollVariance = 0

	steps := h.ScrollSequence(DirectionUp, 300)
	require.NotEmpty(t, steps)
	last := steps[len(steps)-1]
	assert.True(t, last.Correction, "a forced overscroll is corrected")
	assert.Greater(t, last.DeltaY, 0.0, "the correction scrolls back down")

	sum := 0.0
	for _, s := range steps {
		sum += s.DeltaY
	}
	assert.InDelta(t, -300, sum, 10)
	assert.Empty(t, h.ScrollSequence(DirectionDown, 0))
	assert.Equal(t, "up", DirectionUp.String())
}

func TestScrollDispatchesWheelEvents(t *testing.T) {
	exec := newMockExecutor(t)
	h := NewTestHumanoid(exec, 11)
	require.NoError(t, h.Scroll(context.Background(), DirectionUp, 650))

	wheels := exec.events(MouseWheel)
	require.NotEmpty(t, wheels)
	total := 0.0
	for _, w := range wheels {
		total += w.DeltaY
	}
	assert.InDelta(t, -650, total, 10)
}

func TestTypeTextReplaysExactly(t *testing.T) {
	const msg = "Thanks for reaching out, happy to chat Tuesday at 10am!"
	for seed := int64(1); seed <= 25; seed++ {
		h := NewTestHumanoid(newMockExecutor(t), seed)
		h.cfg.TypoRate = 0.2

		var out []rune
		typos := 0
		for _, ks := range h.TypeText(msg) {
			if ks.Control != nil {
				require.Equal(t, BackspaceKey, *ks.Control)
				out = out[:len(out)-1]
				continue
			}
			if ks.Typo {
				typos++
			}
			out = append(out, []rune(ks.Text)...)
		}
		assert.Equal(t, msg, string(out), "seed %d", seed)
		if seed == 1 {
			assert.Greater(t, typos, 0)
		}
	}
}

func TestTypeTextCadence(t *testing.T) {
	h := NewTestHumanoid(newMockExecutor(t), 9)
	h.cfg.TypoRate = 0

	strokes := h.TypeText("e z")
	require.Len(t, strokes, 3)
	for _, ks := range strokes {
		// Bounded by the business profile scaled by the heaviest weight and the word pause.
		assert.GreaterOrEqual(t, ks.Delay, time.Duration(float64(BusinessProfile.Typing.Min)*0.8))
		assert.LessOrEqual(t, ks.Delay, time.Duration(float64(BusinessProfile.Typing.Max)*0.9*2.5))
	}
	assert.Greater(t, strokes[1].Delay, 144*time.Millisecond, "word boundaries pause longer")
	assert.Less(t, charWeight('e'), charWeight('z'))
	assert.Less(t, charWeight('z'), charWeight('!'))
}

func TestTypeDispatchesThroughExecutor(t *testing.T) {
	exec := newMockExecutor(t)
	h := NewTestHumanoid(exec, 4)
	h.cfg.TypoRate = 0.3

	require.NoError(t, h.Type(context.Background(), ".msg-form__contenteditable", "Hello there"))
	assert.Len(t, exec.events(MousePress), 1, "the composer is focused with a click first")
	assert.Equal(t, "Hello there", exec.replay())
}

func TestPressKey(t *testing.T) {
	exec := newMockExecutor(t)
	h := NewTestHumanoid(exec, 4)
	require.NoError(t, h.PressKey(context.Background(), EnterKey))
	require.Len(t, exec.structuredKeys, 1)
	assert.Equal(t, int64(13), exec.structuredKeys[0].WindowsVirtualKeyCode)
}

func TestReadingPause(t *testing.T) {
	region := Rect{Left: 100, Top: 100, Width: 500, Height: 200}
	for seed := int64(1); seed <= 10; seed++ {
		h := NewTestHumanoid(newMockExecutor(t), seed)
		budget := 6 * time.Second

		fixations := h.ReadingPause(region, budget)
		require.NotEmpty(t, fixations)
		var total time.Duration
		for _, f := range fixations {
			total += f.Dwell
			if !f.Thinking {
				assert.GreaterOrEqual(t, f.Point.X, region.Left)
				assert.LessOrEqual(t, f.Point.X, region.Left+region.Width)
				assert.Less(t, f.Line, 8)
			}
		}
		assert.Equal(t, budget, total, "seed %d", seed)
	}
}

func TestReadingPauseBacktracksAndThinks(t *testing.T) {
	thinking := 0
	backtracked := false
	for seed := int64(1); seed <= 10; seed++ {
		h := NewTestHumanoid(newMockExecutor(t), seed)
		h.cfg.BacktrackProbability = 0.5
		h.cfg.ThinkingProbability = 1

		fixations := h.ReadingPause(Rect{Left: 0, Top: 0, Width: 400, Height: 300}, 30*time.Second)
		for i := 1; i < len(fixations); i++ {
			if fixations[i].Thinking {
				thinking++
			}
			if fixations[i].Line < fixations[i-1].Line && fixations[i-1].Line < 11 {
				backtracked = true
			}
		}
	}
	assert.Greater(t, thinking, 0)
	assert.True(t, backtracked)
}

func TestReadingPauseDefaultsBudgetFromProfile(t *testing.T) {
	h := NewTestHumanoid(newMockExecutor(t), 8, WithProfile(NightProfile))
	var total time.Duration
	for _, f := range h.ReadingPause(Rect{}, 0) {
		total += f.Dwell
	}
	assert.GreaterOrEqual(t, total, NightProfile.Reading.Min)
	assert.LessOrEqual(t, total, NightProfile.Reading.Max)
}

func TestRead(t *testing.T) {
	exec := newMockExecutor(t)
	exec.geometryBySelector[".msg-s-message-list"] = &ElementGeometry{
		Vertices: []float64{0, 0, 900, 0, 900, 700, 0, 700},
		Width:    900,
		Height:   700,
	}
	h := NewTestHumanoid(exec, 3)

	require.NoError(t, h.Read(context.Background(), ".msg-s-message-list", 4*time.Second))
	assert.Equal(t, 4*time.Second, exec.totalSleep())
	for _, ev := range exec.events(MouseMove) {
		assert.GreaterOrEqual(t, ev.X, 50.0)
		assert.LessOrEqual(t, ev.X, 850.0)
	}
}

func TestReadHonorsCancellation(t *testing.T) {
	exec := newMockExecutor(t)
	h := NewTestHumanoid(exec, 3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, h.Read(ctx, "main", time.Second), context.Canceled)
}

func TestPauseAndHesitate(t *testing.T) {
	exec := newMockExecutor(t)
	h := NewTestHumanoid(exec, 6, WithProfile(EveningProfile))

	require.NoError(t, h.Pause(context.Background()))
	require.Len(t, exec.sleepDurations, 1)
	assert.GreaterOrEqual(t, exec.sleepDurations[0], EveningProfile.Pause.Min)
	assert.LessOrEqual(t, exec.sleepDurations[0], EveningProfile.Pause.Max)

	start := h.Position()
	require.NoError(t, h.Hesitate(context.Background(), 500*time.Millisecond))
	assert.Equal(t, time.Duration(500*time.Millisecond)+exec.sleepDurations[0], exec.totalSleep())
	assert.Less(t, h.Position().Dist(start), 15.0, "hesitation stays near the anchor")

	h.cfg.Enabled = false
	before := len(exec.sleepDurations)
	require.NoError(t, h.Pause(context.Background()))
	assert.Len(t, exec.sleepDurations, before, "disabled humanization skips optional pauses")
}

func TestJitterAndWait(t *testing.T) {
	exec := newMockExecutor(t)
	h := NewTestHumanoid(exec, 6)
	for i := 0; i < 50; i++ {
		v := h.Jitter(500, 800)
		require.True(t, v >= 500 && v < 800)
	}
	require.NoError(t, h.Wait(context.Background(), Range{Min: 3 * time.Second, Max: 5 * time.Second}))
	assert.True(t, exec.totalSleep() >= 3*time.Second && exec.totalSleep() <= 5*time.Second)
	assert.False(t, math.IsNaN(h.Jitter(0, 0)))
}

func TestFromConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.True(t, cfg.Enabled)
	assert.Equal(t, SpeedNormal, cfg.Speed)
	assert.Equal(t, 40*time.Millisecond, cfg.ClickHoldMin)
	assert.Equal(t, 100*time.Millisecond, cfg.ClickHoldMax)
	assert.InDelta(t, 0.05, cfg.TypoRate, 1e-9)
}
