// internal/browser/humanoid/profile.go
package humanoid

import (
	"math/rand"
	"time"
)

// Range is a closed duration interval sampled uniformly.
type Range struct {
	Min time.Duration `json:"min"`
	Max time.Duration `json:"max"`
}

// Sample draws a duration uniformly from the range.
func (r Range) Sample(rng *rand.Rand) time.Duration {
	if r.Max <= r.Min {
		return r.Min
	}
	return r.Min + time.Duration(rng.Int63n(int64(r.Max-r.Min)+1))
}

// Mid returns the midpoint of the range.
func (r Range) Mid() time.Duration {
	return r.Min + (r.Max-r.Min)/2
}

// Profile is a time-of-day derived pacing profile. Later profiles are slower
// and more deliberate.
type Profile struct {
	Name string
	// Reading is the time spent reading a conversation.
	Reading Range
	// Typing is the per-character delay.
	Typing Range
	// Pause is the pause between discrete actions.
	Pause Range
}

var (
	BusinessProfile = Profile{
		Name:    "business",
		Reading: Range{3000 * time.Millisecond, 8000 * time.Millisecond},
		Typing:  Range{80 * time.Millisecond, 150 * time.Millisecond},
		Pause:   Range{1500 * time.Millisecond, 4000 * time.Millisecond},
	}
	EveningProfile = Profile{
		Name:    "evening",
		Reading: Range{4000 * time.Millisecond, 10000 * time.Millisecond},
		Typing:  Range{100 * time.Millisecond, 200 * time.Millisecond},
		Pause:   Range{2000 * time.Millisecond, 5000 * time.Millisecond},
	}
	NightProfile = Profile{
		Name:    "night",
		Reading: Range{5000 * time.Millisecond, 12000 * time.Millisecond},
		Typing:  Range{120 * time.Millisecond, 250 * time.Millisecond},
		Pause:   Range{3000 * time.Millisecond, 8000 * time.Millisecond},
	}
)

// ProfileFor picks the profile for the local hour of t: business 9-17,
// evening 18-22, night otherwise.
func ProfileFor(t time.Time) Profile {
	switch h := t.Hour(); {
	case h >= 9 && h <= 17:
		return BusinessProfile
	case h >= 18 && h <= 22:
		return EveningProfile
	default:
		return NightProfile
	}
}

// Speed scales how quickly the synthesizer moves.
type Speed int

const (
	SpeedSlow Speed = iota
	SpeedNormal
	SpeedFast
)

// ParseSpeed maps a config value to a Speed, defaulting to normal.
func ParseSpeed(s string) Speed {
	switch s {
	case "slow":
		return SpeedSlow
	case "fast":
		return SpeedFast
	default:
		return SpeedNormal
	}
}

func (s Speed) String() string {
	switch s {
	case SpeedSlow:
		return "slow"
	case SpeedFast:
		return "fast"
	default:
		return "normal"
	}
}

// pathSteps is the inclusive step-count range for pointer paths.
func (s Speed) pathSteps() (int, int) {
	switch s {
	case SpeedSlow:
		return 25, 35
	case SpeedFast:
		return 10, 18
	default:
		return 16, 28
	}
}

// stepDelay is the base delay between pointer steps.
func (s Speed) stepDelay() time.Duration {
	switch s {
	case SpeedSlow:
		return 18 * time.Millisecond
	case SpeedFast:
		return 6 * time.Millisecond
	default:
		return 11 * time.Millisecond
	}
}
