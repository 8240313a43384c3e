package governor

import (
	"time"

	"github.com/xkilldash9x/linkedin-inbox/internal/config"
)

// Category tags an activity event.
type Category string

const (
	CategoryMessage      Category = "message"
	CategoryConversation Category = "conversation"
	CategorySync         Category = "sync"
	CategoryLogin        Category = "login"
)

// governed lists the categories that carry their own budget, in reporting order.
var governed = []Category{CategoryMessage, CategoryConversation, CategorySync}

const (
	hourWindow = time.Hour
	dayWindow  = 24 * time.Hour
)

// Budget is the admission budget for one category.
type Budget struct {
	Hourly      int
	Daily       int
	MinInterval time.Duration
	// The minimum interval is scaled by a factor drawn uniformly from [JitterMin, JitterMax]
	// on every check.
	JitterMin float64
	JitterMax float64
}

// Limits is the full set of budgets a Governor enforces for each account.
type Limits struct {
	Budgets            map[Category]Budget
	TotalPerHour       int
	MaxSessionDuration time.Duration
	BreakDuration      time.Duration
}

// DefaultLimits returns the conservative production budgets. Syncs run in the
// background and are throttled hardest.
func DefaultLimits() Limits {
	return LimitsFromConfig(config.NewDefaultConfig().Governor)
}

// LimitsFromConfig converts the governor config section.
func LimitsFromConfig(cfg config.GovernorConfig) Limits {
	toBudget := func(b config.BudgetConfig) Budget {
		return Budget{
			Hourly:      b.Hourly,
			Daily:       b.Daily,
			MinInterval: b.MinInterval,
			JitterMin:   b.JitterMin,
			JitterMax:   b.JitterMax,
		}
	}
	return Limits{
		Budgets: map[Category]Budget{
			CategoryMessage:      toBudget(cfg.Message),
			CategoryConversation: toBudget(cfg.Conversation),
			CategorySync:         toBudget(cfg.Sync),
		},
		TotalPerHour:       cfg.TotalPerHour,
		MaxSessionDuration: cfg.MaxSessionDuration,
		BreakDuration:      cfg.BreakDuration,
	}
}

// reasons holds the denial texts per category.
type reasons struct {
	hourly, daily, interval string
}

var reasonText = map[Category]reasons{
	CategoryMessage: {
		hourly:   "Message hourly limit exceeded",
		daily:    "Message daily limit exceeded",
		interval: "Too soon after last message",
	},
	CategoryConversation: {
		hourly:   "Conversation scraping hourly limit exceeded",
		daily:    "Conversation scraping daily limit exceeded",
		interval: "Too soon after last conversation scrape",
	},
	CategorySync: {
		hourly:   "Sync hourly limit exceeded",
		daily:    "Sync daily limit exceeded",
		interval: "Too soon after last sync",
	},
}

const (
	reasonTotal   = "Total activity limit exceeded"
	reasonSession = "Session duration limit exceeded - take a break"
)
