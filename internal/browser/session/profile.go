package session

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/linkedin-inbox/internal/apperr"
)

// Profile is the signed-in member's identity as shown in the UI.
type Profile struct {
	DisplayName string `json:"displayName"`
	ProfileURL  string `json:"profileUrl"`
}

// Identity keys stored conversations: the profile URL, else the display name.
func (p Profile) Identity() string {
	if p.ProfileURL != "" {
		return p.ProfileURL
	}
	return p.DisplayName
}

// Empty reports whether no identity was detected.
func (p Profile) Empty() bool { return p.Identity() == "" }

const detectProfileScript = `(() => {
  const text = (el) => (el && (el.innerText || el.textContent) || '').trim();
  const named = [
    ['.feed-identity-module__actor-meta h1', (el) => text(el)],
    ['.feed-identity-module__actor-meta .text-heading-xlarge', (el) => text(el)],
    ['.global-nav__me-photo[alt]', (el) => (el.getAttribute('alt') || '').trim()],
    ['[data-control-name="identity_profile_photo"][alt]', (el) => (el.getAttribute('alt') || '').trim()],
  ];
  let name = '', via = '';
  for (const [sel, read] of named) {
    const el = document.querySelector(sel);
    const v = el ? read(el) : '';
    if (v) { name = v; via = sel; break; }
  }
  const link = document.querySelector('a[href*="/in/"]');
  let url = link ? link.href : '';
  if (url) { url = url.split('?')[0]; }
  return { displayName: name, profileUrl: url, strategy: via };
})()`

type profileProbe struct {
	DisplayName string `json:"displayName"`
	ProfileURL  string `json:"profileUrl"`
	Strategy    string `json:"strategy"`
}

// DetectProfile reads the member's display name and profile URL from the feed
// and remembers them on the controller.
func (c *Controller) DetectProfile(ctx context.Context) (Profile, error) {
	var detected Profile
	err := c.Do(ctx, func(ctx context.Context, h *Handle) error {
		if err := c.navigate(ctx, h.Page, c.cfg.FeedURL); err != nil {
			return err
		}
		if err := h.Humanoid.Pause(ctx); err != nil {
			return err
		}
		var probe profileProbe
		if err := h.Page.Evaluate(ctx, detectProfileScript, &probe); err != nil {
			return err
		}
		detected = Profile{
			DisplayName: strings.Join(strings.Fields(probe.DisplayName), " "),
			ProfileURL:  strings.TrimSpace(probe.ProfileURL),
		}
		if detected.Empty() {
			return apperr.SelectorExhausted("session.detect_profile", "profile identity")
		}
		c.logger.Info("Profile detected.",
			zap.String("display_name", detected.DisplayName),
			zap.String("profile_url", detected.ProfileURL),
			zap.String("strategy", probe.Strategy),
		)
		return nil
	})
	if err != nil {
		return Profile{}, err
	}

	c.mu.Lock()
	c.profile = detected
	c.mu.Unlock()
	return detected, nil
}

// SetProfile seeds a known identity, e.g. one stored for the user earlier.
func (c *Controller) SetProfile(p Profile) {
	c.mu.Lock()
	c.profile = p
	c.mu.Unlock()
}
