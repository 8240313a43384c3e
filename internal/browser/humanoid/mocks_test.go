// FILE: ./internal/browser/humanoid/mocks_test.go
package humanoid

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"
)

// mockExecutor implements the Executor interface for testing.
// It is shared by every test in the package.
type mockExecutor struct {
	t                *testing.T
	dispatchedEvents []MouseEventData
	sentKeys         []string
	structuredKeys   []KeyEventData
	sleepDurations   []time.Duration
	scripts          []string
	returnErr        error
	mu               sync.Mutex

	// geometry is returned for every selector unless geometryBySelector has one.
	geometry           *ElementGeometry
	geometryBySelector map[string]*ElementGeometry

	// Overrides replace the default behavior when set. They must not touch the
	// Humanoid, since it holds its own lock while calling the executor.
	MockGetElementGeometry func(ctx context.Context, selector string) (*ElementGeometry, error)
	MockExecuteScript      func(ctx context.Context, script string, args []interface{}) (json.RawMessage, error)
	MockSleep              func(ctx context.Context, d time.Duration) error
}

// newMockExecutor creates a new mock executor with a 100x40 button at (200,100).
func newMockExecutor(t *testing.T) *mockExecutor {
	return &mockExecutor{
		t: t,
		geometry: &ElementGeometry{
			Vertices: []float64{200, 100, 300, 100, 300, 140, 200, 140},
			Width:    100,
			Height:   40,
			TagName:  "BUTTON",
		},
		geometryBySelector: map[string]*ElementGeometry{},
	}
}

func (m *mockExecutor) DispatchMouseEvent(ctx context.Context, data MouseEventData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dispatchedEvents = append(m.dispatchedEvents, data)
	if m.returnErr != nil {
		return m.returnErr
	}
	if ctx.Err() != nil && ctx != context.Background() {
		return ctx.Err()
	}
	return nil
}

func (m *mockExecutor) Sleep(ctx context.Context, d time.Duration) error {
	if m.MockSleep != nil {
		return m.MockSleep(ctx, d)
	}
	if ctx.Err() != nil && ctx != context.Background() {
		return ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sleepDurations = append(m.sleepDurations, d)
	return nil
}

func (m *mockExecutor) SendKeys(ctx context.Context, keys string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sentKeys = append(m.sentKeys, keys)
	return m.returnErr
}

func (m *mockExecutor) DispatchStructuredKey(ctx context.Context, data KeyEventData) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.structuredKeys = append(m.structuredKeys, data)
	// Backspace is recorded in sentKeys too so tests can replay the text.
	if data.Key == BackspaceKey.Key {
		m.sentKeys = append(m.sentKeys, string(KeyBackspace))
	}
	return m.returnErr
}

func (m *mockExecutor) GetElementGeometry(ctx context.Context, selector string) (*ElementGeometry, error) {
	if m.MockGetElementGeometry != nil {
		return m.MockGetElementGeometry(ctx, selector)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if geo, ok := m.geometryBySelector[selector]; ok {
		return geo, nil
	}
	return m.geometry, nil
}

func (m *mockExecutor) ExecuteScript(ctx context.Context, script string, args []interface{}) (json.RawMessage, error) {
	m.mu.Lock()
	m.scripts = append(m.scripts, script)
	m.mu.Unlock()
	if m.MockExecuteScript != nil {
		return m.MockExecuteScript(ctx, script, args)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	// Default: the element is already comfortably visible.
	return json.RawMessage(`{"found":true,"delta":0}`), nil
}

func (m *mockExecutor) events(typ MouseEventType) []MouseEventData {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []MouseEventData
	for _, e := range m.dispatchedEvents {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func (m *mockExecutor) totalSleep() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total time.Duration
	for _, d := range m.sleepDurations {
		total += d
	}
	return total
}

// replay applies recorded keys to an empty buffer.
func (m *mockExecutor) replay() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []rune
	for _, k := range m.sentKeys {
		if k == string(KeyBackspace) {
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
			continue
		}
		out = append(out, []rune(k)...)
	}
	return string(out)
}
