package humanoid

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"
)

// -- keyboardNeighbors maps characters to their adjacent keys on a QWERTY layout --
var keyboardNeighbors = map[rune]string{
	'1': "2q", '2': "13wq", '3': "24we", '4': "35er", '5': "46rt", '6': "57ty",
	'7': "68yu", '8': "79ui", '9': "80io", '0': "9op",
	'q': "wa", 'w': "qase", 'e': "wsdr", 'r': "edft", 't': "rfgy",
	'y': "tghu", 'u': "yhji", 'i': "ujko", 'o': "iklp", 'p': "ol",
	'a': "qwsz", 's': "awedxz", 'd': "serfcx", 'f': "drtgvc", 'g': "ftyhbv",
	'h': "gyujnb", 'j': "huikmn", 'k': "jiolm", 'l': "kop",
	'z': "asx", 'x': "zsdc", 'c': "xdfv", 'v': "cfgb", 'b': "vghn", 'n': "bhjm", 'm': "njk",
}

// -- frequentLetters are typed fastest, in English frequency order --
const frequentLetters = "etaoinshrdlu"

// Keystroke is one planned key action. Exactly one of Text or Control is set.
type Keystroke struct {
	Text    string
	Control *KeyEventData
	// Delay is the pause after the key.
	Delay time.Duration
	// Typo marks a deliberately wrong character that a later backspace removes.
	Typo bool
}

// TypeText plans the keystrokes for text without dispatching them. Replaying
// the plan (appending Text, deleting on Backspace) reproduces text exactly.
func (h *Humanoid) TypeText(text string) []Keystroke {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.typeText(text)
}

// charWeight scales the base per-character delay by how practiced the key is.
func charWeight(r rune) float64 {
	lower := unicode.ToLower(r)
	switch {
	case strings.ContainsRune(frequentLetters, lower):
		return 0.8
	case unicode.IsLetter(r):
		return 1.0
	case r == ' ':
		return 0.9
	default:
		return 1.25
	}
}

// typeText builds the keystroke plan. Callers must hold the lock.
func (h *Humanoid) typeText(text string) []Keystroke {
	profile := h.cfg.ProfileFunc()
	runes := []rune(text)
	strokes := make([]Keystroke, 0, len(runes)+len(runes)/10)

	for _, r := range runes {
		delay := time.Duration(float64(h.sample(profile.Typing)) * charWeight(r))
		if unicode.IsUpper(r) {
			// Reaching for shift.
			delay += 30 * time.Millisecond
		}

		if h.cfg.Enabled && unicode.IsLetter(r) && h.rng.Float64() < h.cfg.TypoRate {
			if typo, ok := h.neighborOf(r); ok {
				notice := 200*time.Millisecond + time.Duration(h.rng.Int63n(int64(300*time.Millisecond)))
				strokes = append(strokes,
					Keystroke{Text: string(typo), Delay: notice, Typo: true},
					Keystroke{Control: &BackspaceKey, Delay: 100*time.Millisecond + time.Duration(h.rng.Int63n(int64(200*time.Millisecond)))},
				)
			}
		}

		if r == ' ' && h.cfg.Enabled {
			delay = time.Duration(float64(delay) * h.cfg.WordPauseMultiplier)
		}
		strokes = append(strokes, Keystroke{Text: string(r), Delay: delay})
	}
	return strokes
}

// neighborOf picks an adjacent key, preserving case.
func (h *Humanoid) neighborOf(r rune) (rune, bool) {
	lower := unicode.ToLower(r)
	neighbors, ok := keyboardNeighbors[lower]
	if !ok || len(neighbors) == 0 {
		return 0, false
	}
	typo := rune(neighbors[h.rng.Intn(len(neighbors))])
	if unicode.IsUpper(r) {
		typo = unicode.ToUpper(typo)
	}
	return typo, true
}

// Type focuses the element with a humanized click and types text into it.
func (h *Humanoid) Type(ctx context.Context, selector string, text string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.click(ctx, selector); err != nil {
		return fmt.Errorf("humanoid: failed to focus '%s': %w", selector, err)
	}
	if err := h.executor.Sleep(ctx, h.sample(Range{Min: 300 * time.Millisecond, Max: 800 * time.Millisecond})); err != nil {
		return err
	}
	for _, ks := range h.typeText(text) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var err error
		if ks.Control != nil {
			err = h.executor.DispatchStructuredKey(ctx, *ks.Control)
		} else {
			err = h.executor.SendKeys(ctx, ks.Text)
		}
		if err != nil {
			return fmt.Errorf("humanoid: typing failed: %w", err)
		}
		if err := h.executor.Sleep(ctx, ks.Delay); err != nil {
			return err
		}
	}
	return nil
}

// PressKey presses a single structured key after a short reaction delay.
func (h *Humanoid) PressKey(ctx context.Context, key KeyEventData) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.executor.Sleep(ctx, h.sample(Range{Min: 50 * time.Millisecond, Max: 150 * time.Millisecond})); err != nil {
		return err
	}
	return h.executor.DispatchStructuredKey(ctx, key)
}
