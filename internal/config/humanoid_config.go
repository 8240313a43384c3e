// File: internal/config/humanoid_config.go
// This file defines the HumanoidConfig struct, which contains the tunable
// parameters for the behavior synthesizer. These settings control pointer
// paths, scroll splitting, typing cadence, typo injection and reading pauses.
//
// The values are loaded through Viper like every other section, so the
// synthesizer's "personality" can be tuned without changing the core code.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// HumanoidConfig holds the behavior synthesizer parameters.
type HumanoidConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Speed   string `mapstructure:"speed" yaml:"speed"`

	// Pointer movement
	PathJitterPx          float64 `mapstructure:"path_jitter_px" yaml:"path_jitter_px"`
	HesitationProbability float64 `mapstructure:"hesitation_probability" yaml:"hesitation_probability"`
	ClickHoldMinMs        int     `mapstructure:"click_hold_min_ms" yaml:"click_hold_min_ms"`
	ClickHoldMaxMs        int     `mapstructure:"click_hold_max_ms" yaml:"click_hold_max_ms"`

	// Typing
	TypoRate            float64 `mapstructure:"typo_rate" yaml:"typo_rate"`
	WordPauseMultiplier float64 `mapstructure:"word_pause_multiplier" yaml:"word_pause_multiplier"`

	// Scrolling
	ScrollVariance             float64 `mapstructure:"scroll_variance" yaml:"scroll_variance"`
	ScrollOvershootProbability float64 `mapstructure:"scroll_overshoot_probability" yaml:"scroll_overshoot_probability"`

	// Reading
	BacktrackProbability float64 `mapstructure:"backtrack_probability" yaml:"backtrack_probability"`
	ThinkingProbability  float64 `mapstructure:"thinking_probability" yaml:"thinking_probability"`
}

// setHumanoidDefaults registers the behavior synthesizer defaults.
func setHumanoidDefaults(v *viper.Viper) {
	v.SetDefault("browser.humanoid.enabled", true)
	v.SetDefault("browser.humanoid.speed", "normal")
	v.SetDefault("browser.humanoid.path_jitter_px", 2.0)
	v.SetDefault("browser.humanoid.hesitation_probability", 0.1)
	v.SetDefault("browser.humanoid.click_hold_min_ms", 40)
	v.SetDefault("browser.humanoid.click_hold_max_ms", 100)
	v.SetDefault("browser.humanoid.typo_rate", 0.05)
	v.SetDefault("browser.humanoid.word_pause_multiplier", 2.5)
	v.SetDefault("browser.humanoid.scroll_variance", 0.2)
	v.SetDefault("browser.humanoid.scroll_overshoot_probability", 0.15)
	v.SetDefault("browser.humanoid.backtrack_probability", 0.12)
	v.SetDefault("browser.humanoid.thinking_probability", 0.08)
}

// Validate checks the probability and range fields.
func (h *HumanoidConfig) Validate() error {
	switch h.Speed {
	case "", "slow", "normal", "fast":
	default:
		return fmt.Errorf("speed must be one of slow, normal or fast, got %q", h.Speed)
	}
	probs := map[string]float64{
		"hesitation_probability":       h.HesitationProbability,
		"typo_rate":                    h.TypoRate,
		"scroll_overshoot_probability": h.ScrollOvershootProbability,
		"backtrack_probability":        h.BacktrackProbability,
		"thinking_probability":         h.ThinkingProbability,
	}
	for name, p := range probs {
		if p < 0 || p > 1 {
			return fmt.Errorf("%s must be between 0.0 and 1.0", name)
		}
	}
	if h.ClickHoldMinMs < 0 || h.ClickHoldMaxMs < h.ClickHoldMinMs {
		return fmt.Errorf("click hold range must satisfy 0 <= click_hold_min_ms <= click_hold_max_ms")
	}
	return nil
}
