package governor

import "github.com/xkilldash9x/linkedin-inbox/internal/browser/humanoid"

// Window describes usage within one window.
type Window struct {
	Current   int `json:"current"`
	Limit     int `json:"limit"`
	Remaining int `json:"remaining"`
}

func newWindow(current, limit int) Window {
	remaining := limit - current
	if remaining < 0 {
		remaining = 0
	}
	return Window{Current: current, Limit: limit, Remaining: remaining}
}

// CategoryStatus is the usage snapshot of a single category.
type CategoryStatus struct {
	Hourly        Window `json:"hourly"`
	Daily         Window `json:"daily"`
	NextAllowedMs int64  `json:"nextAllowedMs"`
}

// TotalStatus is the cross category usage snapshot.
type TotalStatus struct {
	Hourly Window `json:"hourly"`
}

// MsRange is a duration range rendered in milliseconds.
type MsRange struct {
	Min int64 `json:"min"`
	Max int64 `json:"max"`
}

func msRange(r humanoid.Range) MsRange {
	return MsRange{Min: r.Min.Milliseconds(), Max: r.Max.Milliseconds()}
}

// BehaviorPattern is the pacing profile active at snapshot time.
type BehaviorPattern struct {
	Name                string  `json:"name"`
	ReadingTime         MsRange `json:"readingTime"`
	TypingSpeed         MsRange `json:"typingSpeed"`
	PauseBetweenActions MsRange `json:"pauseBetweenActions"`
}

// Status is the read-only snapshot served by the status endpoint.
type Status struct {
	Messages             CategoryStatus  `json:"messages"`
	Conversations        CategoryStatus  `json:"conversations"`
	Syncs                CategoryStatus  `json:"syncs"`
	TotalActivity        TotalStatus     `json:"totalActivity"`
	Confidence           float64         `json:"confidence"`
	BehaviorPattern      BehaviorPattern `json:"behaviorPattern"`
	SessionDurationMs    int64           `json:"sessionDuration"`
	MaxSessionDurationMs int64           `json:"maxSessionDuration"`
}

// Status builds the snapshot for the account. It prunes expired entries but
// records nothing.
func (g *Governor) Status(account string) Status {
	now := g.now()
	var st Status
	g.store.Update(account, func(l *Ledger) {
		l.prune(now)
		hourAgo := now.Add(-hourWindow)

		cats := make(map[Category]CategoryStatus, len(governed))
		for _, cat := range governed {
			b := g.limits.Budgets[cat]
			ts := l.events[cat]
			cats[cat] = CategoryStatus{
				Hourly:        newWindow(since(ts, hourAgo), b.Hourly),
				Daily:         newWindow(len(ts), b.Daily),
				NextAllowedMs: g.nextAllowed(l, cat, now).Milliseconds(),
			}
		}
		st.Messages = cats[CategoryMessage]
		st.Conversations = cats[CategoryConversation]
		st.Syncs = cats[CategorySync]
		st.TotalActivity = TotalStatus{Hourly: newWindow(since(l.total, hourAgo), g.limits.TotalPerHour)}
		st.Confidence = g.confidence(l, now)
		if !l.sessionStart.IsZero() {
			st.SessionDurationMs = now.Sub(l.sessionStart).Milliseconds()
		}
	})

	p := humanoid.ProfileFor(now)
	st.BehaviorPattern = BehaviorPattern{
		Name:                p.Name,
		ReadingTime:         msRange(p.Reading),
		TypingSpeed:         msRange(p.Typing),
		PauseBetweenActions: msRange(p.Pause),
	}
	st.MaxSessionDurationMs = g.limits.MaxSessionDuration.Milliseconds()
	return st
}
