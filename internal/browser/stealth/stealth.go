// Package stealth configures a browser context so its observable fingerprint
// resembles a consumer Chrome on Windows. Everything is applied once per
// context, before the first navigation.
package stealth

import (
	"context"
	_ "embed"
	"fmt"
	"regexp"
	"strings"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/linkedin-inbox/internal/config"
)

//go:embed evasions.js
var evasionsScript string

var chromeMajor = regexp.MustCompile(`Chrome/(\d+)`)

// Persona defines the browser characteristics to emulate.
type Persona struct {
	UserAgent           string   `json:"userAgent"`
	Platform            string   `json:"platform"`
	Languages           []string `json:"languages"`
	Timezone            string   `json:"-"`
	Locale              string   `json:"-"`
	WebGLVendor         string   `json:"webglVendor"`
	WebGLRenderer       string   `json:"webglRenderer"`
	HardwareConcurrency int      `json:"hardwareConcurrency"`
	DeviceMemory        int      `json:"deviceMemory"`
	Width               int      `json:"width"`
	Height              int      `json:"height"`
}

// DefaultPersona provides the stock Windows Chrome profile.
func DefaultPersona() Persona {
	cfg := config.NewDefaultConfig()
	return FromConfig(cfg.Stealth, cfg.Browser.Viewport)
}

// FromConfig builds a persona from the stealth section and the browser viewport.
func FromConfig(s config.StealthConfig, viewport map[string]int) Persona {
	p := Persona{
		UserAgent:           s.UserAgent,
		Platform:            s.Platform,
		Languages:           append([]string(nil), s.Languages...),
		Timezone:            s.Timezone,
		Locale:              s.Locale,
		WebGLVendor:         s.WebGLVendor,
		WebGLRenderer:       s.WebGLRenderer,
		HardwareConcurrency: s.HardwareCores,
		DeviceMemory:        s.DeviceMemoryGB,
		Width:               viewport["width"],
		Height:              viewport["height"],
	}
	if len(p.Languages) == 0 {
		p.Languages = []string{"en-US", "en"}
	}
	if p.Width <= 0 || p.Height <= 0 {
		p.Width, p.Height = 1366, 768
	}
	return p
}

// AcceptLanguage renders Languages as a weighted Accept-Language header value.
func (p Persona) AcceptLanguage() string {
	parts := make([]string, 0, len(p.Languages))
	for i, lang := range p.Languages {
		if i == 0 {
			parts = append(parts, lang)
			continue
		}
		q := 1.0 - 0.1*float64(i)
		if q < 0.1 {
			q = 0.1
		}
		parts = append(parts, fmt.Sprintf("%s;q=%.1f", lang, q))
	}
	return strings.Join(parts, ",")
}

// ChromeMajor extracts the major version from the user agent, or "" when absent.
func (p Persona) ChromeMajor() string {
	if m := chromeMajor.FindStringSubmatch(p.UserAgent); len(m) == 2 {
		return m[1]
	}
	return ""
}

// Headers returns the request headers a real Chrome of this persona sends.
func (p Persona) Headers() network.Headers {
	h := network.Headers{
		"Accept-Language": p.AcceptLanguage(),
	}
	if major := p.ChromeMajor(); major != "" {
		h["Sec-Ch-Ua"] = fmt.Sprintf(`"Google Chrome";v="%s", "Chromium";v="%s", "Not_A Brand";v="24"`, major, major)
		h["Sec-Ch-Ua-Mobile"] = "?0"
		h["Sec-Ch-Ua-Platform"] = fmt.Sprintf(`"%s"`, platformBrand(p.Platform))
	}
	return h
}

func platformBrand(platform string) string {
	switch {
	case strings.HasPrefix(platform, "Win"):
		return "Windows"
	case strings.HasPrefix(platform, "Mac"):
		return "macOS"
	default:
		return "Linux"
	}
}

// Script returns the evasion script bound to this persona.
func (p Persona) Script() (string, error) {
	payload, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to encode persona: %w", err)
	}
	return strings.TrimSpace(evasionsScript) + "(" + string(payload) + ");", nil
}

// Apply constructs a sequence of Chrome DevTools Protocol actions to make the
// browser appear like a standard, user-operated one.
func Apply(p Persona, logger *zap.Logger) chromedp.Tasks {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Debug("Applying browser stealth persona",
		zap.String("userAgent", p.UserAgent),
		zap.String("platform", p.Platform),
		zap.String("timezone", p.Timezone),
	)

	return chromedp.Tasks{
		// 1. The user agent override also covers navigator.platform and the
		// Accept-Language the network stack sends.
		emulation.SetUserAgentOverride(p.UserAgent).
			WithAcceptLanguage(p.AcceptLanguage()).
			WithPlatform(p.Platform),

		// 2. Inject the evasions script. AddScriptToEvaluateOnNewDocument
		// returns two values, so it needs an ActionFunc wrapper.
		chromedp.ActionFunc(func(ctx context.Context) error {
			script, err := p.Script()
			if err != nil {
				return err
			}
			if _, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx); err != nil {
				return fmt.Errorf("failed to inject evasions script: %w", err)
			}
			return nil
		}),

		// 3. Timezone and locale.
		emulation.SetTimezoneOverride(p.Timezone),
		emulation.SetLocaleOverride().WithLocale(p.Locale),

		// 4. Viewport metrics matching the screen the script reports.
		emulation.SetDeviceMetricsOverride(int64(p.Width), int64(p.Height), 1, false),

		// 5. Consistent HTTP headers, including client hints.
		network.SetExtraHTTPHeaders(p.Headers()),
	}
}
