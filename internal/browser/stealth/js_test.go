// internal/browser/stealth/js_test.go
package stealth

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"testing"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// setupBrowserContext starts a headless Chrome, skipping when none is installed.
func setupBrowserContext(t *testing.T) (context.Context, context.CancelFunc) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping browser test in short mode")
	}
	found := false
	for _, name := range []string{"google-chrome", "chromium", "chromium-browser", "chrome"} {
		if _, err := exec.LookPath(name); err == nil {
			found = true
			break
		}
	}
	if !found {
		t.Skip("no Chrome executable available")
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:], chromedp.NoSandbox)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	ctx, ctxCancel := chromedp.NewContext(allocCtx)
	ctx, timeoutCancel := context.WithTimeout(ctx, 30*time.Second)
	return ctx, func() {
		timeoutCancel()
		ctxCancel()
		allocCancel()
	}
}

// TestEvasionsInBrowser checks the masked surfaces in a real page.
func TestEvasionsInBrowser(t *testing.T) {
	ctx, cancel := setupBrowserContext(t)
	defer cancel()

	persona := DefaultPersona()
	persona.Platform = "JSTestOS"
	persona.Languages = []string{"js-TEST", "js"}
	require.NoError(t, chromedp.Run(ctx, Apply(persona, zaptest.NewLogger(t))))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><h1>evasions</h1></body></html>`)
	}))
	defer server.Close()

	var (
		webdriver bool
		platform  string
		languages []string
		cores     int
		toString  string
		monotonic bool
	)
	err := chromedp.Run(ctx,
		chromedp.Navigate(server.URL),
		chromedp.WaitVisible("body"),
		chromedp.Evaluate(`navigator.webdriver === true`, &webdriver),
		chromedp.Evaluate(`navigator.platform`, &platform),
		chromedp.Evaluate(`Array.from(navigator.languages)`, &languages),
		chromedp.Evaluate(`navigator.hardwareConcurrency`, &cores),
		chromedp.Evaluate(`HTMLCanvasElement.prototype.toDataURL.toString()`, &toString),
		chromedp.Evaluate(`(() => { let a = performance.now(); for (let i = 0; i < 100; i++) { const b = performance.now(); if (b < a) return false; a = b; } return true; })()`, &monotonic),
	)
	require.NoError(t, err)

	assert.False(t, webdriver)
	assert.Equal(t, "JSTestOS", platform)
	assert.Equal(t, []string{"js-TEST", "js"}, languages)
	assert.Equal(t, persona.HardwareConcurrency, cores)
	assert.Contains(t, toString, "[native code]")
	assert.True(t, monotonic)
}
