// Package governor implements account scoped admission control for every
// automated action. Flows call Reserve, which admits and records the attempt
// under one ledger update; CanPerform checks without recording.
package governor

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/linkedin-inbox/internal/apperr"
)

// Decision is the result of an admission check.
type Decision struct {
	Allowed    bool          `json:"allowed"`
	Reason     string        `json:"reason,omitempty"`
	WaitTime   time.Duration `json:"-"`
	Confidence float64       `json:"confidence"`
}

// Err converts a denial into a RateLimited error. It returns nil when allowed.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return apperr.RateLimited(d.Reason, d.WaitTime)
}

// Option configures a Governor.
type Option func(*Governor)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Governor) { g.now = now }
}

// WithRand replaces the jitter source.
func WithRand(rng *rand.Rand) Option {
	return func(g *Governor) { g.rng = rng }
}

// Governor decides admission per account. It holds no budget state itself;
// everything lives in the injected Store.
type Governor struct {
	limits Limits
	store  Store
	logger *zap.Logger
	now    func() time.Time

	rngMu sync.Mutex
	rng   *rand.Rand
}

// New creates a Governor. A nil store gets a fresh MemoryStore.
func New(limits Limits, store Store, logger *zap.Logger, opts ...Option) *Governor {
	if store == nil {
		store = NewMemoryStore()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Governor{
		limits: limits,
		store:  store,
		logger: logger.Named("governor"),
		now:    time.Now,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Limits returns the configured budgets.
func (g *Governor) Limits() Limits {
	return g.limits
}

func (g *Governor) jitter(b Budget) float64 {
	if b.JitterMax <= b.JitterMin {
		return b.JitterMin
	}
	g.rngMu.Lock()
	defer g.rngMu.Unlock()
	return b.JitterMin + g.rng.Float64()*(b.JitterMax-b.JitterMin)
}

// CanPerform checks whether the account may perform an action of the category now.
func (g *Governor) CanPerform(account string, cat Category) Decision {
	var d Decision
	g.store.Update(account, func(l *Ledger) {
		d = g.decide(l, cat, g.now())
	})
	if !d.Allowed {
		g.logger.Info("Action denied",
			zap.String("account", account),
			zap.String("category", string(cat)),
			zap.String("reason", d.Reason),
			zap.Duration("wait", d.WaitTime))
	}
	return d
}

// Reserve checks whether the account may perform an action of the category
// now and, if so, records the attempt in the same ledger update. Concurrent
// callers for one account therefore cannot all pass the same check. The slot
// stays spent whatever the outcome of the action.
func (g *Governor) Reserve(account string, cat Category) Decision {
	now := g.now()
	var d Decision
	g.store.Update(account, func(l *Ledger) {
		d = g.decide(l, cat, now)
		if d.Allowed {
			l.append(cat, now)
		}
	})
	if !d.Allowed {
		g.logger.Info("Action denied",
			zap.String("account", account),
			zap.String("category", string(cat)),
			zap.String("reason", d.Reason),
			zap.Duration("wait", d.WaitTime))
		return d
	}
	g.logger.Debug("Activity reserved", zap.String("account", account), zap.String("category", string(cat)))
	return d
}

func (g *Governor) decide(l *Ledger, cat Category, now time.Time) Decision {
	l.prune(now)
	hourAgo := now.Add(-hourWindow)

	if b, ok := g.limits.Budgets[cat]; ok {
		ts := l.events[cat]
		text := reasonText[cat]

		if since(ts, hourAgo) >= b.Hourly {
			return Decision{Reason: text.hourly, WaitTime: untilExit(ts, hourAgo, hourWindow, now)}
		}
		// After pruning, every remaining entry is inside the day window.
		if len(ts) >= b.Daily {
			return Decision{Reason: text.daily, WaitTime: untilExit(ts, now.Add(-dayWindow), dayWindow, now)}
		}
		if prev, ok := last(ts); ok && b.MinInterval > 0 {
			required := time.Duration(float64(b.MinInterval) * g.jitter(b))
			if elapsed := now.Sub(prev); elapsed < required {
				return Decision{Reason: text.interval, WaitTime: required - elapsed}
			}
		}
	}

	if cat != CategoryLogin {
		if g.limits.TotalPerHour > 0 && since(l.total, hourAgo) >= g.limits.TotalPerHour {
			return Decision{Reason: reasonTotal, WaitTime: untilExit(l.total, hourAgo, hourWindow, now)}
		}
		if g.sessionExpired(l, now) {
			return Decision{Reason: reasonSession, WaitTime: g.limits.BreakDuration}
		}
	}

	return Decision{Allowed: true, Confidence: g.confidence(l, now)}
}

// sessionExpired reports whether continuous activity since the last login
// exceeds the maximum session duration. A quiet gap at least as long as the
// break duration counts as the break having been taken.
func (g *Governor) sessionExpired(l *Ledger, now time.Time) bool {
	if l.sessionStart.IsZero() || g.limits.MaxSessionDuration <= 0 {
		return false
	}
	if g.limits.BreakDuration > 0 && !l.lastActivity.IsZero() && now.Sub(l.lastActivity) >= g.limits.BreakDuration {
		l.sessionStart = now
		return false
	}
	return now.Sub(l.sessionStart) > g.limits.MaxSessionDuration
}

// nextAllowed is the shortest wait after which every per-category rule and
// the total ceiling would admit cat again. The interval is taken at the
// lowest jitter factor, the earliest moment a check can pass.
func (g *Governor) nextAllowed(l *Ledger, cat Category, now time.Time) time.Duration {
	hourAgo := now.Add(-hourWindow)
	var wait time.Duration
	if b, ok := g.limits.Budgets[cat]; ok {
		ts := l.events[cat]
		if since(ts, hourAgo) >= b.Hourly {
			wait = max(wait, untilExit(ts, hourAgo, hourWindow, now))
		}
		if len(ts) >= b.Daily {
			wait = max(wait, untilExit(ts, now.Add(-dayWindow), dayWindow, now))
		}
		if prev, ok := last(ts); ok && b.MinInterval > 0 {
			required := time.Duration(float64(b.MinInterval) * b.JitterMin)
			if elapsed := now.Sub(prev); elapsed < required {
				wait = max(wait, required-elapsed)
			}
		}
	}
	if cat != CategoryLogin && g.limits.TotalPerHour > 0 && since(l.total, hourAgo) >= g.limits.TotalPerHour {
		wait = max(wait, untilExit(l.total, hourAgo, hourWindow, now))
	}
	return wait
}

// untilExit is the time until the oldest entry after cutoff leaves the window.
func untilExit(ts []time.Time, cutoff time.Time, window time.Duration, now time.Time) time.Duration {
	oldest, ok := oldestAfter(ts, cutoff)
	if !ok {
		return 0
	}
	wait := oldest.Add(window).Sub(now)
	if wait < 0 {
		return 0
	}
	return wait
}

func (g *Governor) confidence(l *Ledger, now time.Time) float64 {
	hourAgo := now.Add(-hourWindow)
	score := 1.0
	ratio := func(n, limit int) {
		if limit <= 0 {
			return
		}
		score = math.Min(score, 1-float64(n)/float64(limit))
	}
	for _, cat := range []Category{CategoryMessage, CategoryConversation} {
		ratio(since(l.events[cat], hourAgo), g.limits.Budgets[cat].Hourly)
	}
	ratio(since(l.total, hourAgo), g.limits.TotalPerHour)
	return math.Max(0, math.Min(1, score))
}

// Record appends an activity event for the account.
func (g *Governor) Record(account string, cat Category) {
	now := g.now()
	g.store.Update(account, func(l *Ledger) {
		l.prune(now)
		l.append(cat, now)
	})
	g.logger.Debug("Activity recorded", zap.String("account", account), zap.String("category", string(cat)))
}

// RecordLogin records a login, which also restarts the continuous session clock.
func (g *Governor) RecordLogin(account string) {
	g.Record(account, CategoryLogin)
}

// Forget drops all state for the account.
func (g *Governor) Forget(account string) {
	g.store.Forget(account)
}

// For binds the governor to one account.
func (g *Governor) For(account string) *Account {
	return &Account{g: g, account: account}
}

// Account is a Governor bound to a single account key.
type Account struct {
	g       *Governor
	account string
}

func (a *Account) CanPerform(cat Category) Decision { return a.g.CanPerform(a.account, cat) }
func (a *Account) Reserve(cat Category) Decision    { return a.g.Reserve(a.account, cat) }
func (a *Account) Record(cat Category)              { a.g.Record(a.account, cat) }
func (a *Account) RecordLogin()                     { a.g.RecordLogin(a.account) }
func (a *Account) Status() Status                   { return a.g.Status(a.account) }
