package session

import "fmt"

// State is the lifecycle position of an account's browser session.
type State int

const (
	Uninitialized State = iota
	Launching
	AwaitingManualLogin
	Authenticated
	Stale
	Closed
)

var stateNames = [...]string{
	Uninitialized:       "uninitialized",
	Launching:           "launching",
	AwaitingManualLogin: "awaiting_manual_login",
	Authenticated:       "authenticated",
	Stale:               "stale",
	Closed:              "closed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText renders the state name in JSON payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// needsLaunch reports whether a session in this state has no usable browser.
func (s State) needsLaunch() bool {
	return s == Uninitialized || s == Closed
}
