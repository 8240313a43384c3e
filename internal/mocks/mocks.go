// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/linkedin-inbox/internal/browser/humanoid"
	"github.com/xkilldash9x/linkedin-inbox/internal/browser/session"
)

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

// -- Executor --

// Executor is a humanoid.Executor that dispatches nothing and records every call.
// Sleeps return immediately unless the context is already done.
type Executor struct {
	mu sync.Mutex

	Events  []humanoid.MouseEventData
	Keys    []string
	Sleeps  []time.Duration
	Scripts []string

	// Geometry is returned for every selector not listed in GeometryBySelector.
	Geometry           *humanoid.ElementGeometry
	GeometryBySelector map[string]*humanoid.ElementGeometry
	// ScriptFunc answers ExecuteScript; nil reports every element as already in view.
	ScriptFunc func(script string, args []interface{}) (json.RawMessage, error)
}

// NewExecutor returns an executor whose elements are all a 100x40 box at (200,100).
func NewExecutor() *Executor {
	return &Executor{
		Geometry:           box(200, 100, 100, 40),
		GeometryBySelector: make(map[string]*humanoid.ElementGeometry),
	}
}

func box(x, y, w, h float64) *humanoid.ElementGeometry {
	return &humanoid.ElementGeometry{
		Vertices: []float64{x, y, x + w, y, x + w, y + h, x, y + h},
		Width:    int64(w),
		Height:   int64(h),
	}
}

var _ humanoid.Executor = (*Executor)(nil)

func (e *Executor) Sleep(ctx context.Context, d time.Duration) error {
	e.mu.Lock()
	e.Sleeps = append(e.Sleeps, d)
	e.mu.Unlock()
	return ctx.Err()
}

func (e *Executor) DispatchMouseEvent(ctx context.Context, data humanoid.MouseEventData) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Events = append(e.Events, data)
	return ctx.Err()
}

func (e *Executor) SendKeys(ctx context.Context, keys string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Keys = append(e.Keys, keys)
	return ctx.Err()
}

func (e *Executor) DispatchStructuredKey(ctx context.Context, data humanoid.KeyEventData) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if data.Key == humanoid.BackspaceKey.Key {
		e.Keys = append(e.Keys, string(humanoid.KeyBackspace))
	} else {
		e.Keys = append(e.Keys, "<"+data.Key+">")
	}
	return ctx.Err()
}

func (e *Executor) GetElementGeometry(ctx context.Context, selector string) (*humanoid.ElementGeometry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if g, ok := e.GeometryBySelector[selector]; ok {
		if g == nil {
			return nil, fmt.Errorf("element '%s' not found or not visible", selector)
		}
		return g, nil
	}
	return e.Geometry, ctx.Err()
}

func (e *Executor) ExecuteScript(ctx context.Context, script string, args []interface{}) (json.RawMessage, error) {
	e.mu.Lock()
	e.Scripts = append(e.Scripts, script)
	fn := e.ScriptFunc
	e.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if fn == nil {
		// Scroll-into-view probes decode {found, delta}; report already visible.
		return json.RawMessage(`{"found":true,"delta":0}`), nil
	}
	return fn(script, args)
}

// Typed returns the concatenation of every SendKeys call with backspaces applied.
func (e *Executor) Typed() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []rune
	for _, k := range e.Keys {
		switch {
		case k == string(humanoid.KeyBackspace):
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		case strings.HasPrefix(k, "<") && strings.HasSuffix(k, ">") && len(k) > 2:
		default:
			out = append(out, []rune(k)...)
		}
	}
	return string(out)
}

// Pressed reports whether a structured key with the given name was dispatched.
func (e *Executor) Pressed(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, k := range e.Keys {
		if k == "<"+key+">" {
			return true
		}
	}
	return false
}

// Clicks counts mouse presses.
func (e *Executor) Clicks() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, ev := range e.Events {
		if ev.Type == humanoid.MousePress {
			n++
		}
	}
	return n
}

// Wheels returns the vertical deltas of every wheel event.
func (e *Executor) Wheels() []float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []float64
	for _, ev := range e.Events {
		if ev.Type == humanoid.MouseWheel {
			out = append(out, ev.DeltaY)
		}
	}
	return out
}

// -- Page --

// Page is an in-memory session.Page. Behavior is scripted through the func
// fields; the zero values navigate successfully, find nothing and evaluate to null.
type Page struct {
	mu          sync.Mutex
	url         string
	navigations []string
	evaluations []string

	NavigateFunc func(ctx context.Context, url string) error
	ExistsFunc   func(selector string) bool
	EvaluateFunc func(expression string) (interface{}, error)

	exec      *Executor
	done      chan struct{}
	closeOnce sync.Once
	closed    bool
}

// NewPage returns a live page on about:blank.
func NewPage() *Page {
	return &Page{url: "about:blank", exec: NewExecutor(), done: make(chan struct{})}
}

var _ session.Page = (*Page)(nil)

func (p *Page) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	p.navigations = append(p.navigations, url)
	fn := p.NavigateFunc
	p.mu.Unlock()
	if fn != nil {
		if err := fn(ctx, url); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	p.SetURL(url)
	return nil
}

// SetURL moves the page without recording a navigation.
func (p *Page) SetURL(url string) {
	p.mu.Lock()
	p.url = url
	p.mu.Unlock()
}

func (p *Page) Location(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, ctx.Err()
}

func (p *Page) Exists(ctx context.Context, selector string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p.mu.Lock()
	fn := p.ExistsFunc
	p.mu.Unlock()
	return fn != nil && fn(selector), nil
}

// Evaluate passes the EvaluateFunc result through a JSON round trip into out,
// the way a browser returns values by value.
func (p *Page) Evaluate(ctx context.Context, expression string, out interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	p.evaluations = append(p.evaluations, expression)
	fn := p.EvaluateFunc
	p.mu.Unlock()

	var v interface{}
	if fn != nil {
		var err error
		if v, err = fn(expression); err != nil {
			return err
		}
	}
	if out == nil {
		return nil
	}
	raw, err := codec.Marshal(v)
	if err != nil {
		return err
	}
	return codec.Unmarshal(raw, out)
}

func (p *Page) Executor() humanoid.Executor { return p.exec }

// Exec exposes the recording executor.
func (p *Page) Exec() *Executor { return p.exec }

func (p *Page) Done() <-chan struct{} { return p.done }

func (p *Page) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.Crash()
	return nil
}

// Crash simulates the browser process going away.
func (p *Page) Crash() {
	p.closeOnce.Do(func() { close(p.done) })
}

// Closed reports whether Close was called.
func (p *Page) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Navigations returns every URL passed to Navigate.
func (p *Page) Navigations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.navigations...)
}

// Evaluations returns every evaluated expression.
func (p *Page) Evaluations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.evaluations...)
}

// -- Launcher --

// MockLauncher mocks session.Launcher.
type MockLauncher struct {
	mock.Mock
}

func (m *MockLauncher) Launch(ctx context.Context, account string) (session.Page, error) {
	args := m.Called(ctx, account)
	if fn, ok := args.Get(0).(func(context.Context, string) session.Page); ok {
		return fn(ctx, account), args.Error(1)
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(session.Page), args.Error(1)
}

// SignedIn returns an ExistsFunc that reports the login landmarks present.
func SignedIn() func(string) bool {
	return func(sel string) bool {
		return sel == ".global-nav__me" || sel == ".msg-conversations-container__conversations-list"
	}
}
