// internal/browser/humanoid/config.go
package humanoid

import (
	"math/rand"
	"time"

	"github.com/xkilldash9x/linkedin-inbox/internal/config"
)

// Config holds the parameters defining the behavior of the simulation.
type Config struct {
	Enabled bool
	Speed   Speed
	Rng     *rand.Rand

	// Fitts's Law parameters, in milliseconds.
	FittsA, FittsB float64

	PathJitterPx          float64
	HesitationProbability float64
	ClickHoldMin          time.Duration
	ClickHoldMax          time.Duration

	TypoRate            float64
	WordPauseMultiplier float64

	ScrollVariance             float64
	ScrollOvershootProbability float64

	BacktrackProbability float64
	ThinkingProbability  float64

	// ProfileFunc picks the pacing profile. Defaults to ProfileFor(time.Now()).
	ProfileFunc func() Profile
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return FromConfig(config.NewDefaultConfig().Browser.Humanoid)
}

// FromConfig maps the loaded configuration section onto a Config.
func FromConfig(c config.HumanoidConfig) Config {
	return Config{
		Enabled:                    c.Enabled,
		Speed:                      ParseSpeed(c.Speed),
		FittsA:                     120,
		FittsB:                     140,
		PathJitterPx:               c.PathJitterPx,
		HesitationProbability:      c.HesitationProbability,
		ClickHoldMin:               time.Duration(c.ClickHoldMinMs) * time.Millisecond,
		ClickHoldMax:               time.Duration(c.ClickHoldMaxMs) * time.Millisecond,
		TypoRate:                   c.TypoRate,
		WordPauseMultiplier:        c.WordPauseMultiplier,
		ScrollVariance:             c.ScrollVariance,
		ScrollOvershootProbability: c.ScrollOvershootProbability,
		BacktrackProbability:       c.BacktrackProbability,
		ThinkingProbability:        c.ThinkingProbability,
	}
}
