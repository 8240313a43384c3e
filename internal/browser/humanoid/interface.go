// internal/browser/humanoid/interface.go
package humanoid

import (
	"context"
	"encoding/json"
	"time"
)

// MouseEventType mirrors the CDP Input.dispatchMouseEvent types.
type MouseEventType string

const (
	MouseMove    MouseEventType = "mouseMoved"
	MousePress   MouseEventType = "mousePressed"
	MouseRelease MouseEventType = "mouseReleased"
	MouseWheel   MouseEventType = "mouseWheel"
)

// MouseButton identifies the button involved in a mouse event.
type MouseButton string

const (
	ButtonNone MouseButton = "none"
	ButtonLeft MouseButton = "left"
)

// MouseEventData is a single synthetic pointer event.
type MouseEventData struct {
	Type       MouseEventType
	X, Y       float64
	Button     MouseButton
	Buttons    int64
	ClickCount int
	DeltaX     float64
	DeltaY     float64
}

// KeyEventData is a structured key press such as Enter or Backspace.
type KeyEventData struct {
	Key  string
	Code string
	// WindowsVirtualKeyCode is required by Chrome for non-printable keys.
	WindowsVirtualKeyCode int64
}

// ElementGeometry is the box of an element in viewport CSS pixels. Vertices
// holds the four corners clockwise from top-left as x,y pairs.
type ElementGeometry struct {
	Vertices []float64
	Width    int64
	Height   int64
	TagName  string
}

// Controller defines the high-level interface for human-like interactions.
// This is the interface implemented by the Humanoid struct itself.
type Controller interface {
	MoveTo(ctx context.Context, selector string) error
	IntelligentClick(ctx context.Context, selector string) error
	Type(ctx context.Context, selector string, text string) error
	PressKey(ctx context.Context, key KeyEventData) error
	Scroll(ctx context.Context, direction Direction, distance float64) error
	Read(ctx context.Context, selector string, budget time.Duration) error
	Pause(ctx context.Context) error
}

// Executor defines the low-level browser surface the Humanoid drives.
type Executor interface {
	Sleep(ctx context.Context, d time.Duration) error
	DispatchMouseEvent(ctx context.Context, data MouseEventData) error
	SendKeys(ctx context.Context, keys string) error
	// DispatchStructuredKey presses and releases a single key.
	DispatchStructuredKey(ctx context.Context, data KeyEventData) error
	GetElementGeometry(ctx context.Context, selector string) (*ElementGeometry, error)
	ExecuteScript(ctx context.Context, script string, args []interface{}) (json.RawMessage, error)
}

// ControlKey defines constants for common control characters used in SendKeys.
type ControlKey string

const (
	KeyBackspace ControlKey = "\b"
	KeyEnter     ControlKey = "\r"
)

var (
	// EnterKey submits the focused composer.
	EnterKey = KeyEventData{Key: "Enter", Code: "Enter", WindowsVirtualKeyCode: 13}
	// BackspaceKey deletes the character before the caret.
	BackspaceKey = KeyEventData{Key: "Backspace", Code: "Backspace", WindowsVirtualKeyCode: 8}
)
