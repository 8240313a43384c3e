// internal/extraction/engine.go
package extraction

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/linkedin-inbox/internal/apperr"
	"github.com/xkilldash9x/linkedin-inbox/internal/browser/humanoid"
	"github.com/xkilldash9x/linkedin-inbox/internal/browser/session"
	"github.com/xkilldash9x/linkedin-inbox/internal/config"
)

// targetAttr is stamped on the list item about to be clicked.
const targetAttr = "data-inbox-target"

var (
	openSettle    = humanoid.Range{Min: 2500 * time.Millisecond, Max: 4500 * time.Millisecond}
	retrySettle   = humanoid.Range{Min: 3 * time.Second, Max: 5 * time.Second}
	scrollSettle  = humanoid.Range{Min: 600 * time.Millisecond, Max: 1200 * time.Millisecond}
	searchSettle  = humanoid.Range{Min: 1500 * time.Millisecond, Max: 2500 * time.Millisecond}
	composeSettle = humanoid.Range{Min: 400 * time.Millisecond, Max: 900 * time.Millisecond}
)

// Browser is the page surface the engine reads through.
type Browser interface {
	Navigate(ctx context.Context, url string) error
	Location(ctx context.Context) (string, error)
	Evaluate(ctx context.Context, expression string, out interface{}) error
}

// Actor performs every interaction with human-like timing.
type Actor interface {
	humanoid.Controller
	Wait(ctx context.Context, r humanoid.Range) error
	Jitter(lo, hi float64) float64
	ReadingBudget() time.Duration
}

// Target bundles what one extraction runs against.
type Target struct {
	Page  Browser
	Actor Actor
	// Self is the owner's display name; matching senders are reported as You.
	Self string
}

// TargetFrom adapts an authenticated session handle.
func TargetFrom(h *session.Handle) Target {
	return Target{Page: h.Page, Actor: h.Humanoid, Self: h.Profile.DisplayName}
}

// Config tunes the engine.
type Config struct {
	MessagingURL       string
	ScanDepth          int
	ListWaitTimeout    time.Duration
	MessageWaitTimeout time.Duration
	HistoryScrolls     int
	MaxRetries         int
	PollInterval       time.Duration
}

// ConfigFrom derives the engine settings from the application config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		MessagingURL:       cfg.Session.MessagingURL,
		ScanDepth:          cfg.Extraction.ScanDepth,
		ListWaitTimeout:    cfg.Extraction.ListWaitTimeout,
		MessageWaitTimeout: cfg.Extraction.MessageWaitTimeout,
		HistoryScrolls:     cfg.Extraction.HistoryScrolls,
		MaxRetries:         cfg.Extraction.MaxRetries,
		PollInterval:       250 * time.Millisecond,
	}
}

// Item is one entry of the conversation list.
type Item struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
	// Strategy is the name strategy that produced Name.
	Strategy string `json:"strategy,omitempty"`
}

// Located is a conversation found for a name hint.
type Located struct {
	Item
	// Via is "list" when found among the first items, "search" otherwise.
	Via string `json:"via"`
}

// Message is one extracted chat message.
type Message struct {
	Sender   string `json:"sender"`
	Receiver string `json:"receiver"`
	Body     string `json:"message"`
	Time     string `json:"time"`
}

// Extraction is the result of reading one open conversation.
type Extraction struct {
	Counterparty string
	Messages     []Message
	// Strategies maps each field to the strategy that won it.
	Strategies map[string]string
}

// Engine locates, opens and reads conversations.
type Engine struct {
	cfg     Config
	catalog Catalog
	logger  *zap.Logger
}

// New creates an engine. Zero config values fall back to conservative defaults.
func New(cfg Config, catalog Catalog, logger *zap.Logger) *Engine {
	if cfg.ScanDepth <= 0 {
		cfg.ScanDepth = 3
	}
	if cfg.ListWaitTimeout <= 0 {
		cfg.ListWaitTimeout = 10 * time.Second
	}
	if cfg.MessageWaitTimeout <= 0 {
		cfg.MessageWaitTimeout = 8 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{cfg: cfg, catalog: catalog, logger: logger.Named("extraction")}
}

// Catalog returns the strategies in use.
func (e *Engine) Catalog() Catalog { return e.catalog }

func (e *Engine) eval(ctx context.Context, t Target, out interface{}, fn string, args ...interface{}) error {
	expr, err := call(fn, args...)
	if err != nil {
		return err
	}
	if err := t.Page.Evaluate(ctx, expr, out); err != nil {
		return fmt.Errorf("page probe failed: %w", err)
	}
	return nil
}

func (e *Engine) match(ctx context.Context, t Target, c Cascade, visibleOnly bool) (matchResult, error) {
	var m matchResult
	err := e.eval(ctx, t, &m, firstMatchJS, c, visibleOnly)
	return m, err
}

// waitFor polls until a strategy of c matches or timeout passes.
func (e *Engine) waitFor(ctx context.Context, t Target, op string, c Cascade, visibleOnly bool, timeout time.Duration) (matchResult, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		m, err := e.match(ctx, t, c, visibleOnly)
		if err != nil {
			return m, err
		}
		if m.Count > 0 {
			e.logger.Debug("Selector strategy matched.",
				zap.String("field", c.Field), zap.String("strategy", m.Strategy), zap.Int("count", m.Count))
			return m, nil
		}
		select {
		case <-ctx.Done():
			return m, ctx.Err()
		case <-deadline.C:
			e.logger.Warn("Selector cascade exhausted.", zap.String("op", op), zap.String("field", c.Field))
			return m, apperr.SelectorExhausted(op, c.Field)
		case <-ticker.C:
		}
	}
}

// OpenMessaging navigates to the inbox unless already there and waits for the
// conversation list.
func (e *Engine) OpenMessaging(ctx context.Context, t Target) error {
	loc, err := t.Page.Location(ctx)
	if err != nil {
		return fmt.Errorf("failed to read page location: %w", err)
	}
	if !strings.Contains(loc, "/messaging") {
		if err := t.Page.Navigate(ctx, e.cfg.MessagingURL); err != nil {
			return err
		}
		if err := t.Actor.Pause(ctx); err != nil {
			return err
		}
	}
	_, err = e.waitFor(ctx, t, "extraction.open_messaging", e.catalog.ConversationList, false, e.cfg.ListWaitTimeout)
	return err
}

// ScanConversations reads up to limit list items. Placeholder names are
// blanked so callers infer the counterparty from the thread instead.
func (e *Engine) ScanConversations(ctx context.Context, t Target, limit int) ([]Item, error) {
	if limit <= 0 {
		return nil, nil
	}
	var res listItemsResult
	if err := e.eval(ctx, t, &res, listItemsJS, e.catalog.ConversationItem, e.catalog.ItemName, limit); err != nil {
		return nil, err
	}
	if res.Strategy == "" {
		e.logger.Warn("Selector cascade exhausted.", zap.String("field", e.catalog.ConversationItem.Field))
		return nil, apperr.SelectorExhausted("extraction.scan", e.catalog.ConversationItem.Field)
	}

	items := make([]Item, 0, len(res.Items))
	for _, it := range res.Items {
		name := collapse(it.Name)
		if !validListName(name) {
			if name != "" {
				e.logger.Debug("Rejected placeholder conversation name.", zap.String("name", name), zap.Int("index", it.Index))
			}
			name = ""
		}
		items = append(items, Item{Index: it.Index, Name: name, Strategy: it.Strategy})
	}
	e.logger.Debug("Scanned conversation list.",
		zap.String("item_strategy", res.Strategy), zap.Int("total", res.Total), zap.Int("returned", len(items)))
	return items, nil
}

// LocateConversation finds the conversation whose list name matches hint,
// searching when it is not among the first ScanDepth items. It returns nil
// when nothing matches.
func (e *Engine) LocateConversation(ctx context.Context, t Target, hint string) (*Located, error) {
	hint = collapse(hint)
	if hint == "" {
		return nil, apperr.New(apperr.KindValidation, "extraction.locate", "contact name is required")
	}
	items, err := e.ScanConversations(ctx, t, e.cfg.ScanDepth)
	if err != nil && apperr.KindOf(err) != apperr.KindSelectorExhausted {
		return nil, err
	}
	for _, it := range items {
		if matchName(it.Name, hint) {
			e.logger.Debug("Conversation located in list.", zap.String("hint", hint), zap.String("name", it.Name))
			return &Located{Item: it, Via: "list"}, nil
		}
	}

	search, err := e.match(ctx, t, e.catalog.SearchInput, true)
	if err != nil {
		return nil, err
	}
	if search.Count == 0 {
		e.logger.Warn("Selector cascade exhausted.", zap.String("field", e.catalog.SearchInput.Field))
		return nil, nil
	}
	if err := t.Actor.Type(ctx, search.Selector, hint); err != nil {
		return nil, fmt.Errorf("failed to type search query: %w", err)
	}
	if err := t.Actor.Wait(ctx, searchSettle); err != nil {
		return nil, err
	}
	results, err := e.ScanConversations(ctx, t, 1)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindSelectorExhausted {
			return nil, nil
		}
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	first := results[0]
	if first.Name == "" {
		first.Name = hint
	}
	e.logger.Debug("Conversation located by search.", zap.String("hint", hint), zap.String("name", first.Name))
	return &Located{Item: first, Via: "search"}, nil
}

// Open clicks a list item and waits for its message list.
func (e *Engine) Open(ctx context.Context, t Target, it Item) error {
	token := fmt.Sprintf("item-%d", it.Index)
	var marked bool
	if err := e.eval(ctx, t, &marked, markItemJS, e.catalog.ConversationItem, it.Index, targetAttr, token); err != nil {
		return err
	}
	if !marked {
		return apperr.New(apperr.KindNotFound, "extraction.open", fmt.Sprintf("conversation item %d is gone", it.Index))
	}
	selector := fmt.Sprintf(`[%s=%q]`, targetAttr, token)
	if err := t.Actor.IntelligentClick(ctx, selector); err != nil {
		return fmt.Errorf("failed to click conversation: %w", err)
	}
	if err := t.Actor.Wait(ctx, openSettle); err != nil {
		return err
	}
	_, err := e.waitFor(ctx, t, "extraction.open", e.catalog.MessageList, false, e.cfg.MessageWaitTimeout)
	return err
}

func (e *Engine) probeMessages(ctx context.Context, t Target) (messagesResult, error) {
	var res messagesResult
	err := e.eval(ctx, t, &res, messagesJS, e.catalog.MessageNode, e.catalog.Sender, e.catalog.Body, e.catalog.Time)
	return res, err
}

// ExtractMessages reads the open conversation. listName is the name its list
// item showed and is the first counterparty fallback.
func (e *Engine) ExtractMessages(ctx context.Context, t Target, listName string) (*Extraction, error) {
	list, err := e.match(ctx, t, e.catalog.MessageList, false)
	if err != nil {
		return nil, err
	}
	// Wheel events land under the pointer, so park it over the thread first.
	if list.Selector != "" {
		if err := t.Actor.MoveTo(ctx, list.Selector); err != nil {
			return nil, fmt.Errorf("failed to move over message list: %w", err)
		}
	}
	for i := 0; i < e.cfg.HistoryScrolls; i++ {
		if err := t.Actor.Scroll(ctx, humanoid.DirectionUp, t.Actor.Jitter(200, 500)); err != nil {
			return nil, err
		}
		if err := t.Actor.Wait(ctx, scrollSettle); err != nil {
			return nil, err
		}
	}
	if err := t.Actor.Read(ctx, list.Selector, t.Actor.ReadingBudget()); err != nil {
		return nil, err
	}

	res, err := e.probeMessages(ctx, t)
	if err != nil {
		return nil, err
	}
	for attempt := 0; len(res.Nodes) == 0 && attempt < e.cfg.MaxRetries; attempt++ {
		e.logger.Info("No messages rendered, retrying after a scroll.", zap.Int("attempt", attempt+1))
		if err := t.Actor.Scroll(ctx, humanoid.DirectionUp, t.Actor.Jitter(500, 800)); err != nil {
			return nil, err
		}
		if err := t.Actor.Wait(ctx, retrySettle); err != nil {
			return nil, err
		}
		if res, err = e.probeMessages(ctx, t); err != nil {
			return nil, err
		}
	}
	if len(res.Nodes) == 0 {
		e.logger.Warn("Selector cascade exhausted.", zap.String("field", e.catalog.MessageNode.Field))
		return nil, apperr.SelectorExhausted("extraction.messages", e.catalog.MessageNode.Field)
	}

	out := &Extraction{Strategies: map[string]string{e.catalog.MessageNode.Field: res.Strategy}}
	win := func(field, id string) {
		if id != "" && out.Strategies[field] == "" {
			out.Strategies[field] = id
		}
	}
	senders := make([]string, 0, len(res.Nodes))
	previous := ""
	for _, n := range res.Nodes {
		body := collapse(n.Body)
		if body == "" {
			continue
		}
		sender := normalizeSender(n.Sender, t.Self)
		switch {
		case sender != "":
			win(e.catalog.Sender.Field, n.SenderStrategy)
			previous = sender
		case previous != "":
			// Consecutive messages share the sender label of their group.
			sender = previous
		default:
			sender = Unknown
		}
		win(e.catalog.Body.Field, n.BodyStrategy)
		win(e.catalog.Time.Field, n.TimeStrategy)
		senders = append(senders, sender)
		out.Messages = append(out.Messages, Message{Sender: sender, Body: body, Time: collapse(n.Time)})
	}
	if len(out.Messages) == 0 {
		return nil, apperr.New(apperr.KindSelectorExhausted, "extraction.messages", "no message had a readable body")
	}
	for _, field := range []string{e.catalog.Sender.Field, e.catalog.Time.Field} {
		if out.Strategies[field] == "" {
			e.logger.Warn("Selector cascade exhausted.", zap.String("field", field))
		}
	}

	fallbacks := []string{listName}
	if inferCounterparty(senders) == "" {
		var tc threadContext
		if err := e.eval(ctx, t, &tc, threadContextJS, e.catalog.Header, e.catalog.SelectedItemName); err != nil {
			return nil, err
		}
		fallbacks = append(fallbacks, titleName(tc.Title), tc.Header, tc.Selected)
		win(e.catalog.Header.Field, tc.HeaderStrategy)
		win(e.catalog.SelectedItemName.Field, tc.SelectedStrategy)
	}
	out.Counterparty = inferCounterparty(senders, fallbacks...)
	if out.Counterparty == "" {
		return nil, apperr.New(apperr.KindSelectorExhausted, "extraction.messages", "could not determine the contact name")
	}
	for i := range out.Messages {
		out.Messages[i].Receiver = receiverFor(out.Messages[i].Sender, out.Counterparty)
	}

	fields := make([]zap.Field, 0, len(out.Strategies)+2)
	fields = append(fields, zap.String("counterparty", out.Counterparty), zap.Int("messages", len(out.Messages)))
	for field, id := range out.Strategies {
		fields = append(fields, zap.String("strategy."+strings.ReplaceAll(field, " ", "_"), id))
	}
	e.logger.Info("Extracted conversation.", fields...)
	return out, nil
}

// SendMessage clicks into the open conversation's composer, types text and
// sends it, pressing Enter when no send button is visible.
func (e *Engine) SendMessage(ctx context.Context, t Target, text string) error {
	if strings.TrimSpace(text) == "" {
		return apperr.New(apperr.KindValidation, "extraction.send", "message is required")
	}
	composer, err := e.waitFor(ctx, t, "extraction.send", e.catalog.Composer, true, e.cfg.MessageWaitTimeout)
	if err != nil {
		return err
	}
	if err := t.Actor.Type(ctx, composer.Selector, text); err != nil {
		return fmt.Errorf("failed to type message: %w", err)
	}
	if err := t.Actor.Wait(ctx, composeSettle); err != nil {
		return err
	}

	button, err := e.match(ctx, t, e.catalog.SendButton, true)
	if err != nil {
		return err
	}
	if button.Count > 0 {
		e.logger.Debug("Sending with button.", zap.String("strategy", button.Strategy))
		if err := t.Actor.IntelligentClick(ctx, button.Selector); err != nil {
			return fmt.Errorf("failed to click send: %w", err)
		}
	} else {
		e.logger.Debug("No send button visible, pressing Enter.")
		if err := t.Actor.PressKey(ctx, humanoid.EnterKey); err != nil {
			return fmt.Errorf("failed to press enter: %w", err)
		}
	}
	return t.Actor.Pause(ctx)
}
