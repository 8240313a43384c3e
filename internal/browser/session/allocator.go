package session

import (
	"fmt"
	"strings"

	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/linkedin-inbox/internal/config"
)

// flag is a named Chrome command-line switch. Keeping them as data lets the
// option list be inspected without a browser.
type flag struct {
	Name  string
	Value interface{}
}

// allocatorFlags assembles the switches for a persistent, low-profile Chrome.
func allocatorFlags(cfg config.BrowserConfig) []flag {
	width, height := viewport(cfg)
	flags := []flag{
		// chromedp turns this on by default and it exposes navigator.webdriver.
		{"enable-automation", false},
		{"disable-blink-features", "AutomationControlled"},
		{"headless", cfg.Headless},
		{"hide-scrollbars", cfg.Headless},
		{"mute-audio", true},
		{"no-first-run", true},
		{"no-default-browser-check", true},
		{"disable-default-apps", true},
		{"disable-sync", true},
		{"disable-background-networking", true},
		{"disable-background-timer-throttling", true},
		{"disable-backgrounding-occluded-windows", true},
		{"disable-renderer-backgrounding", true},
		{"disable-features", "TranslateUI"},
		{"disable-ipc-flooding-protection", true},
		{"disable-client-side-phishing-detection", true},
		{"disable-component-update", true},
		{"disable-domain-reliability", true},
		{"password-store", "basic"},
		{"use-mock-keychain", true},
		{"metrics-recording-only", true},
		{"window-size", fmt.Sprintf("%d,%d", width, height)},
	}
	if cfg.DisableCache {
		flags = append(flags,
			flag{"disk-cache-size", "0"},
			flag{"media-cache-size", "0"},
			flag{"disable-cache", true},
		)
	}
	for _, arg := range cfg.Args {
		name, value := splitArg(arg)
		flags = append(flags, flag{name, value})
	}
	return flags
}

// splitArg turns "--name=value" or "--name" into a flag name and value.
func splitArg(arg string) (string, interface{}) {
	arg = strings.TrimLeft(arg, "-")
	if name, value, ok := strings.Cut(arg, "="); ok {
		return name, value
	}
	return arg, true
}

func viewport(cfg config.BrowserConfig) (int, int) {
	w, h := cfg.Viewport["width"], cfg.Viewport["height"]
	if w <= 0 || h <= 0 {
		return 1366, 768
	}
	return w, h
}

// DefaultAllocatorOptions returns the exec allocator options for one account's
// browser. profileDir holds the persistent user data (cookies, local storage).
func DefaultAllocatorOptions(cfg config.BrowserConfig, profileDir string) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)
	for _, f := range allocatorFlags(cfg) {
		opts = append(opts, chromedp.Flag(f.Name, f.Value))
	}
	width, height := viewport(cfg)
	opts = append(opts, chromedp.WindowSize(width, height))
	if profileDir != "" {
		opts = append(opts, chromedp.UserDataDir(profileDir))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	return opts
}
