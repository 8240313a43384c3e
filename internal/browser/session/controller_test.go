// internal/browser/session/controller_test.go
package session_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/linkedin-inbox/internal/apperr"
	"github.com/xkilldash9x/linkedin-inbox/internal/browser/session"
	"github.com/xkilldash9x/linkedin-inbox/internal/config"
	"github.com/xkilldash9x/linkedin-inbox/internal/mocks"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func testSessionConfig() config.SessionConfig {
	cfg := config.NewDefaultConfig().Session
	cfg.LoginTimeout = 300 * time.Millisecond
	cfg.PollInterval = 5 * time.Millisecond
	cfg.NavigationTimeout = time.Second
	return cfg
}

type fixture struct {
	t        *testing.T
	cfg      config.SessionConfig
	clock    *fakeClock
	launcher *mocks.MockLauncher
	logins   atomic.Int32
	ctrl     *session.Controller
}

func newFixture(t *testing.T, pages ...*mocks.Page) *fixture {
	t.Helper()
	f := &fixture{t: t, cfg: testSessionConfig(), clock: newFakeClock(), launcher: new(mocks.MockLauncher)}
	for _, p := range pages {
		f.launcher.On("Launch", mock.Anything, "acct-1").Return(p, nil).Once()
	}
	f.ctrl = session.NewController("acct-1", f.cfg, f.launcher, zaptest.NewLogger(t),
		session.WithClock(f.clock.Now),
		session.WithLoginHook(func(string) { f.logins.Add(1) }),
	)
	return f
}

func signedInPage() *mocks.Page {
	p := mocks.NewPage()
	p.ExistsFunc = mocks.SignedIn()
	return p
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "awaiting_manual_login", session.AwaitingManualLogin.String())
	assert.Equal(t, "closed", session.Closed.String())
	assert.Equal(t, "state(42)", session.State(42).String())
	text, err := session.Authenticated.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "authenticated", string(text))
}

func TestGetOrCreate_AlreadySignedIn(t *testing.T) {
	page := signedInPage()
	f := newFixture(t, page)

	h, err := f.ctrl.GetOrCreate(context.Background())
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.Same(t, page, h.Page.(*mocks.Page))
	assert.NotNil(t, h.Humanoid)
	assert.Equal(t, "acct-1", h.Account)

	assert.Equal(t, session.Authenticated, f.ctrl.State())
	assert.Equal(t, []string{f.cfg.MessagingURL}, page.Navigations())
	assert.Equal(t, int32(1), f.logins.Load())
	assert.Equal(t, f.clock.Now(), f.ctrl.LastActivity())
	f.launcher.AssertExpectations(t)
}

func TestGetOrCreate_Idempotent(t *testing.T) {
	f := newFixture(t, signedInPage())

	first, err := f.ctrl.GetOrCreate(context.Background())
	require.NoError(t, err)
	second, err := f.ctrl.GetOrCreate(context.Background())
	require.NoError(t, err)

	assert.Same(t, first.Page, second.Page)
	assert.Equal(t, int32(1), f.logins.Load())
	f.launcher.AssertNumberOfCalls(t, "Launch", 1)
}

func TestGetOrCreate_WaitsForManualLogin(t *testing.T) {
	page := mocks.NewPage()
	var probes atomic.Int32
	page.ExistsFunc = func(sel string) bool {
		// The member finishes signing in after a few polls.
		return probes.Add(1) > 6 && sel == ".global-nav__me"
	}
	f := newFixture(t, page)

	_, err := f.ctrl.GetOrCreate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, session.Authenticated, f.ctrl.State())
	assert.Equal(t, []string{f.cfg.MessagingURL, f.cfg.LoginURL}, page.Navigations())
	assert.Equal(t, int32(1), f.logins.Load())
}

func TestGetOrCreate_LoginTimeout(t *testing.T) {
	f := newFixture(t, mocks.NewPage())

	start := time.Now()
	_, err := f.ctrl.GetOrCreate(context.Background())
	require.Error(t, err)

	assert.True(t, errors.Is(err, apperr.ErrLoginTimeout), "got %v", err)
	assert.GreaterOrEqual(t, time.Since(start), f.cfg.LoginTimeout)
	assert.Equal(t, 504, apperr.HTTPStatus(err))
	assert.Equal(t, session.AwaitingManualLogin, f.ctrl.State())
	assert.Zero(t, f.logins.Load())
}

func TestGetOrCreate_CancelledWait(t *testing.T) {
	f := newFixture(t, mocks.NewPage())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := f.ctrl.GetOrCreate(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, errors.Is(err, apperr.ErrLoginTimeout))
}

func TestGetOrCreate_LaunchFailure(t *testing.T) {
	f := newFixture(t)
	f.launcher.On("Launch", mock.Anything, "acct-1").Return(nil, errors.New("chrome not found")).Once()

	_, err := f.ctrl.GetOrCreate(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrBrowserFatal)
	assert.Contains(t, err.Error(), "chrome not found")
	assert.Equal(t, session.Closed, f.ctrl.State())
}

func TestGetOrCreate_NavigationTimeout(t *testing.T) {
	page := mocks.NewPage()
	page.NavigateFunc = func(ctx context.Context, _ string) error {
		<-ctx.Done()
		return ctx.Err()
	}
	f := newFixture(t, page)
	f.cfg.NavigationTimeout = 20 * time.Millisecond
	f.ctrl = session.NewController("acct-1", f.cfg, f.launcher, zaptest.NewLogger(t))

	_, err := f.ctrl.GetOrCreate(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrNavigationTimeout)
}

func TestGetOrCreate_RelaunchesDeadBrowser(t *testing.T) {
	first, second := signedInPage(), signedInPage()
	f := newFixture(t, first, second)

	_, err := f.ctrl.GetOrCreate(context.Background())
	require.NoError(t, err)
	first.Crash()

	h, err := f.ctrl.GetOrCreate(context.Background())
	require.NoError(t, err)
	assert.Same(t, second, h.Page.(*mocks.Page))
	f.launcher.AssertNumberOfCalls(t, "Launch", 2)
	assert.Equal(t, int32(2), f.logins.Load())
}

func TestActive(t *testing.T) {
	t.Run("NotAuthenticated", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.ctrl.Active(context.Background())
		require.Error(t, err)
		assert.ErrorIs(t, err, apperr.ErrSessionNotAuthenticated)
		assert.Equal(t, "session_not_authenticated", apperr.ReasonOf(err))
		assert.Equal(t, 401, apperr.HTTPStatus(err))
		f.launcher.AssertNotCalled(t, "Launch", mock.Anything, mock.Anything)
	})

	t.Run("LeftLinkedIn", func(t *testing.T) {
		page := signedInPage()
		f := newFixture(t, page)
		_, err := f.ctrl.GetOrCreate(context.Background())
		require.NoError(t, err)

		page.SetURL("https://example.com/")
		assert.False(t, f.ctrl.IsValid(context.Background()))
		assert.Equal(t, session.Authenticated, f.ctrl.State(), "IsValid must not change state")

		_, err = f.ctrl.Active(context.Background())
		assert.ErrorIs(t, err, apperr.ErrSessionNotAuthenticated)
		assert.Equal(t, session.Stale, f.ctrl.State())

		// A stale session with a live browser re-verifies login without relaunching.
		_, err = f.ctrl.GetOrCreate(context.Background())
		require.NoError(t, err)
		assert.Equal(t, session.Authenticated, f.ctrl.State())
		f.launcher.AssertNumberOfCalls(t, "Launch", 1)
	})

	t.Run("BrowserGone", func(t *testing.T) {
		page := signedInPage()
		f := newFixture(t, page)
		_, err := f.ctrl.GetOrCreate(context.Background())
		require.NoError(t, err)

		page.Crash()
		_, err = f.ctrl.Active(context.Background())
		assert.ErrorIs(t, err, apperr.ErrSessionNotAuthenticated)
		assert.Equal(t, session.Closed, f.ctrl.State())
	})
}

func TestInactivity(t *testing.T) {
	f := newFixture(t, signedInPage())
	_, err := f.ctrl.GetOrCreate(context.Background())
	require.NoError(t, err)

	f.clock.Advance(f.cfg.InactivityTimeout)
	assert.True(t, f.ctrl.IsValid(context.Background()), "exactly at the limit is still valid")

	f.clock.Advance(time.Second)
	assert.False(t, f.ctrl.IsValid(context.Background()))
}

func TestDo(t *testing.T) {
	t.Run("TouchesActivity", func(t *testing.T) {
		f := newFixture(t, signedInPage())
		_, err := f.ctrl.GetOrCreate(context.Background())
		require.NoError(t, err)

		f.clock.Advance(10 * time.Minute)
		var called bool
		err = f.ctrl.Do(context.Background(), func(ctx context.Context, h *session.Handle) error {
			called = true
			return nil
		})
		require.NoError(t, err)
		assert.True(t, called)
		assert.Equal(t, f.clock.Now(), f.ctrl.LastActivity())
	})

	t.Run("PassesThroughOrdinaryErrors", func(t *testing.T) {
		f := newFixture(t, signedInPage())
		_, err := f.ctrl.GetOrCreate(context.Background())
		require.NoError(t, err)

		boom := apperr.SelectorExhausted("extraction", "message list")
		err = f.ctrl.Do(context.Background(), func(context.Context, *session.Handle) error { return boom })
		assert.ErrorIs(t, err, apperr.ErrSelectorExhausted)
		assert.Equal(t, session.Authenticated, f.ctrl.State())
	})

	t.Run("BrowserFatalClosesSession", func(t *testing.T) {
		page := signedInPage()
		f := newFixture(t, page)
		_, err := f.ctrl.GetOrCreate(context.Background())
		require.NoError(t, err)

		err = f.ctrl.Do(context.Background(), func(context.Context, *session.Handle) error {
			return apperr.New(apperr.KindBrowserFatal, "test", "target crashed")
		})
		assert.ErrorIs(t, err, apperr.ErrBrowserFatal)
		assert.Equal(t, session.Closed, f.ctrl.State())
		assert.True(t, page.Closed())
	})

	t.Run("CrashDuringWorkIsFatal", func(t *testing.T) {
		page := signedInPage()
		f := newFixture(t, page)
		_, err := f.ctrl.GetOrCreate(context.Background())
		require.NoError(t, err)

		err = f.ctrl.Do(context.Background(), func(context.Context, *session.Handle) error {
			page.Crash()
			return errors.New("websocket closed")
		})
		assert.ErrorIs(t, err, apperr.ErrBrowserFatal)
		assert.Equal(t, session.Closed, f.ctrl.State())
	})

	t.Run("ReverifiesIdleSession", func(t *testing.T) {
		page := signedInPage()
		f := newFixture(t, page)
		_, err := f.ctrl.GetOrCreate(context.Background())
		require.NoError(t, err)

		f.clock.Advance(f.cfg.InactivityTimeout + time.Minute)
		var called bool
		err = f.ctrl.Do(context.Background(), func(ctx context.Context, h *session.Handle) error {
			called = true
			assert.Same(t, page, h.Page.(*mocks.Page))
			return nil
		})
		require.NoError(t, err)
		assert.True(t, called)
		assert.Equal(t, session.Authenticated, f.ctrl.State())
		f.launcher.AssertNumberOfCalls(t, "Launch", 1)
		assert.Equal(t, int32(1), f.logins.Load(), "re-verifying a live browser is not a login")
	})

	t.Run("RelaunchesCrashedBrowser", func(t *testing.T) {
		first, second := signedInPage(), signedInPage()
		f := newFixture(t, first, second)
		_, err := f.ctrl.GetOrCreate(context.Background())
		require.NoError(t, err)

		first.Crash()
		err = f.ctrl.Do(context.Background(), func(ctx context.Context, h *session.Handle) error {
			assert.Same(t, second, h.Page.(*mocks.Page))
			return nil
		})
		require.NoError(t, err)
		f.launcher.AssertNumberOfCalls(t, "Launch", 2)
		assert.Equal(t, int32(2), f.logins.Load())
	})

	t.Run("SignedOutStaysStale", func(t *testing.T) {
		page := signedInPage()
		f := newFixture(t, page)
		_, err := f.ctrl.GetOrCreate(context.Background())
		require.NoError(t, err)

		page.ExistsFunc = nil
		f.ctrl.Invalidate()
		err = f.ctrl.Do(context.Background(), func(context.Context, *session.Handle) error {
			t.Error("fn must not run without a login")
			return nil
		})
		assert.ErrorIs(t, err, apperr.ErrSessionNotAuthenticated)
		assert.Equal(t, session.Stale, f.ctrl.State())
	})

	t.Run("ClosedSessionIsNotRevived", func(t *testing.T) {
		f := newFixture(t, signedInPage())
		_, err := f.ctrl.GetOrCreate(context.Background())
		require.NoError(t, err)
		require.NoError(t, f.ctrl.Close(context.Background()))

		err = f.ctrl.Do(context.Background(), func(context.Context, *session.Handle) error { return nil })
		assert.ErrorIs(t, err, apperr.ErrSessionNotAuthenticated)
		f.launcher.AssertNumberOfCalls(t, "Launch", 1)
	})

	t.Run("Serialized", func(t *testing.T) {
		f := newFixture(t, signedInPage())
		_, err := f.ctrl.GetOrCreate(context.Background())
		require.NoError(t, err)

		var inFlight, peak atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = f.ctrl.Do(context.Background(), func(context.Context, *session.Handle) error {
					n := inFlight.Add(1)
					if n > peak.Load() {
						peak.Store(n)
					}
					time.Sleep(2 * time.Millisecond)
					inFlight.Add(-1)
					return nil
				})
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), peak.Load())
	})
}

func TestInvalidate(t *testing.T) {
	f := newFixture(t, signedInPage())
	f.ctrl.Invalidate()
	assert.Equal(t, session.Uninitialized, f.ctrl.State(), "only authenticated sessions go stale")

	_, err := f.ctrl.GetOrCreate(context.Background())
	require.NoError(t, err)
	f.ctrl.Invalidate()
	assert.Equal(t, session.Stale, f.ctrl.State())
}

func TestClose(t *testing.T) {
	t.Run("ClosesBrowser", func(t *testing.T) {
		page := signedInPage()
		f := newFixture(t, page)
		_, err := f.ctrl.GetOrCreate(context.Background())
		require.NoError(t, err)

		require.NoError(t, f.ctrl.Close(context.Background()))
		assert.True(t, page.Closed())
		assert.Equal(t, session.Closed, f.ctrl.State())
	})

	t.Run("InterruptsLoginWait", func(t *testing.T) {
		f := newFixture(t, mocks.NewPage())
		f.cfg.LoginTimeout = time.Minute
		f.ctrl = session.NewController("acct-1", f.cfg, f.launcher, zaptest.NewLogger(t))

		errCh := make(chan error, 1)
		go func() {
			_, err := f.ctrl.GetOrCreate(context.Background())
			errCh <- err
		}()
		require.Eventually(t, func() bool {
			return f.ctrl.State() == session.AwaitingManualLogin
		}, time.Second, time.Millisecond)

		require.NoError(t, f.ctrl.Close(context.Background()))
		select {
		case err := <-errCh:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(time.Second):
			t.Fatal("login wait was not interrupted")
		}
		assert.Equal(t, session.Closed, f.ctrl.State())
	})
}

func TestDetectProfile(t *testing.T) {
	page := signedInPage()
	page.EvaluateFunc = func(string) (interface{}, error) {
		return map[string]string{
			"displayName": "  Ada   Lovelace ",
			"profileUrl":  "https://www.linkedin.com/in/ada/",
			"strategy":    ".feed-identity-module__actor-meta h1",
		}, nil
	}
	f := newFixture(t, page)

	_, err := f.ctrl.DetectProfile(context.Background())
	assert.ErrorIs(t, err, apperr.ErrSessionNotAuthenticated, "detection needs a signed-in session")

	_, err = f.ctrl.GetOrCreate(context.Background())
	require.NoError(t, err)
	p, err := f.ctrl.DetectProfile(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "Ada Lovelace", p.DisplayName)
	assert.Equal(t, "https://www.linkedin.com/in/ada/", p.Identity())
	assert.Equal(t, p, f.ctrl.Profile())
	assert.Contains(t, page.Navigations(), f.cfg.FeedURL)

	h, err := f.ctrl.Active(context.Background())
	require.NoError(t, err)
	assert.Equal(t, p, h.Profile)
}

func TestDetectProfile_NothingFound(t *testing.T) {
	page := signedInPage()
	page.EvaluateFunc = func(string) (interface{}, error) {
		return map[string]string{"displayName": "", "profileUrl": ""}, nil
	}
	f := newFixture(t, page)
	_, err := f.ctrl.GetOrCreate(context.Background())
	require.NoError(t, err)

	_, err = f.ctrl.DetectProfile(context.Background())
	assert.ErrorIs(t, err, apperr.ErrSelectorExhausted)
	assert.True(t, f.ctrl.Profile().Empty())
}

func TestProfileIdentity(t *testing.T) {
	assert.Equal(t, "https://www.linkedin.com/in/x/", session.Profile{DisplayName: "X", ProfileURL: "https://www.linkedin.com/in/x/"}.Identity())
	assert.Equal(t, "X", session.Profile{DisplayName: "X"}.Identity())
	assert.True(t, session.Profile{}.Empty())
}
