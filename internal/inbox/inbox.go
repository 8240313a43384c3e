// Package inbox runs the governed flows that combine a live LinkedIn session,
// the extraction engine and the store: sending, scraping and syncing.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/linkedin-inbox/internal/apperr"
	"github.com/xkilldash9x/linkedin-inbox/internal/browser/humanoid"
	"github.com/xkilldash9x/linkedin-inbox/internal/browser/session"
	"github.com/xkilldash9x/linkedin-inbox/internal/config"
	"github.com/xkilldash9x/linkedin-inbox/internal/extraction"
	"github.com/xkilldash9x/linkedin-inbox/internal/governor"
	"github.com/xkilldash9x/linkedin-inbox/internal/store"
)

// Extractor is the slice of the extraction engine the flows drive.
type Extractor interface {
	OpenMessaging(ctx context.Context, t extraction.Target) error
	ScanConversations(ctx context.Context, t extraction.Target, limit int) ([]extraction.Item, error)
	LocateConversation(ctx context.Context, t extraction.Target, hint string) (*extraction.Located, error)
	Open(ctx context.Context, t extraction.Target, it extraction.Item) error
	ExtractMessages(ctx context.Context, t extraction.Target, listName string) (*extraction.Extraction, error)
	SendMessage(ctx context.Context, t extraction.Target, text string) error
}

// Persistence is the slice of the store the flows write through.
type Persistence interface {
	SaveScrape(ctx context.Context, account string, userID *int64, name string, msgs []store.NewMessage) (int64, error)
	SaveSync(ctx context.Context, conversationID int64, msgs []store.NewMessage) (int, error)
	SaveSent(ctx context.Context, account string, userID *int64, name string, m store.NewMessage) (int64, error)
	SyncCandidates(ctx context.Context, account string, limit int) ([]store.Conversation, error)
}

// Admission is the governor surface the flows consult. Reserve must check
// and record atomically per account.
type Admission interface {
	Reserve(account string, cat governor.Category) governor.Decision
}

// Runner executes fn with exclusive use of one account's authenticated browser.
type Runner interface {
	Run(ctx context.Context, key string, fn func(ctx context.Context, t extraction.Target) error) error
}

// SessionRunner adapts a session registry into a Runner.
type SessionRunner struct {
	Registry *session.Registry
}

// Run implements Runner.
func (r SessionRunner) Run(ctx context.Context, key string, fn func(ctx context.Context, t extraction.Target) error) error {
	return r.Registry.Get(key).Do(ctx, func(ctx context.Context, h *session.Handle) error {
		return fn(ctx, extraction.TargetFrom(h))
	})
}

// Owner identifies who a flow runs for. Key scopes the browser session and
// the governor budgets; Account scopes stored conversations.
type Owner struct {
	Key     string
	Account string
	UserID  *int64
}

// SessionKey is the registry and governor key of an application user.
func SessionKey(userID int64) string {
	return "user-" + strconv.FormatInt(userID, 10)
}

// OwnerOf derives the owner of a flow from an authenticated user.
func OwnerOf(u store.User) Owner {
	id := u.ID
	return Owner{Key: SessionKey(u.ID), Account: u.AccountID(), UserID: &id}
}

// Limits are the default batch sizes.
type Limits struct {
	Scrape int
	Sync   int
	// A sync limit at or above SyncAll covers every stored conversation.
	SyncAll int
}

// LimitsFrom reads batch defaults from configuration.
func LimitsFrom(cfg config.ExtractionConfig) Limits {
	l := Limits{Scrape: cfg.DefaultScrapeLimit, Sync: cfg.DefaultSyncLimit, SyncAll: cfg.SyncAllThreshold}
	if l.Scrape <= 0 {
		l.Scrape = 5
	}
	if l.Sync <= 0 {
		l.Sync = 5
	}
	if l.SyncAll <= 0 {
		l.SyncAll = 100
	}
	return l
}

// conversationGap spaces out consecutive conversations in a batch. Later
// conversations wait progressively longer.
func conversationGap(i int) humanoid.Range {
	step := time.Duration(i) * 500 * time.Millisecond
	return humanoid.Range{Min: 2*time.Second + step, Max: 4*time.Second + step}
}

// BatchResult summarizes a scrape or sync.
type BatchResult struct {
	Total         int      `json:"total"`
	Succeeded     int      `json:"succeeded"`
	NewMessages   int      `json:"newMessages"`
	Errors        []string `json:"errors"`
	Conversations []string `json:"conversations"`
}

func (b *BatchResult) fail(name string, err error) {
	b.Errors = append(b.Errors, fmt.Sprintf("Conversation %s: %s", name, apperr.ReasonOf(err)))
}

// SendRequest is a message to deliver.
type SendRequest struct {
	ContactName string `json:"contactName"`
	Message     string `json:"message"`
}

// SendResult describes a delivered message.
type SendResult struct {
	ConversationID int64  `json:"conversationId"`
	ContactName    string `json:"contactName"`
	MatchedName    string `json:"matchedName"`
	Via            string `json:"via"`
	SentAt         string `json:"sentAt"`
}

// Service runs the inbox flows.
type Service struct {
	runner    Runner
	extractor Extractor
	store     Persistence
	gov       Admission
	limits    Limits
	logger    *zap.Logger
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now for sent message timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a Service.
func New(runner Runner, extractor Extractor, st Persistence, gov Admission, limits Limits, logger *zap.Logger, opts ...Option) (*Service, error) {
	if runner == nil || extractor == nil || st == nil || gov == nil || logger == nil {
		return nil, fmt.Errorf("cannot initialize inbox service with nil dependencies")
	}
	s := &Service{
		runner:    runner,
		extractor: extractor,
		store:     st,
		gov:       gov,
		limits:    limits,
		logger:    logger.Named("inbox"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// admit reserves a slot of cat for the owner. The slot counts whether or not
// the flow succeeds.
func (s *Service) admit(o Owner, cat governor.Category) error {
	d := s.gov.Reserve(o.Key, cat)
	if !d.Allowed {
		s.logger.Info("Action denied by governor.",
			zap.String("account", o.Key),
			zap.String("category", string(cat)),
			zap.String("reason", d.Reason),
			zap.Duration("wait", d.WaitTime))
		return d.Err()
	}
	s.logger.Debug("Action admitted.",
		zap.String("account", o.Key),
		zap.String("category", string(cat)),
		zap.Float64("confidence", d.Confidence))
	return nil
}

func requireAccount(o Owner, op string) error {
	if o.Account == "" {
		return apperr.New(apperr.KindValidation, op, "linkedin profile not detected")
	}
	return nil
}

// fatal reports whether a per-conversation failure should end the batch.
func fatal(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, apperr.ErrBrowserFatal) || errors.Is(err, apperr.ErrSessionNotAuthenticated)
}

func toNew(msgs []extraction.Message) []store.NewMessage {
	out := make([]store.NewMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, store.NewMessage{Sender: m.Sender, Receiver: m.Receiver, Body: m.Body, Time: m.Time})
	}
	return out
}

// Send delivers a message to the named contact and records it in the
// contact's stored conversation.
func (s *Service) Send(ctx context.Context, o Owner, req SendRequest) (*SendResult, error) {
	if req.ContactName == "" || req.Message == "" {
		return nil, apperr.New(apperr.KindValidation, "inbox.send", "contact name and message are required")
	}
	if err := requireAccount(o, "inbox.send"); err != nil {
		return nil, err
	}
	if err := s.admit(o, governor.CategoryMessage); err != nil {
		return nil, err
	}

	var loc *extraction.Located
	err := s.runner.Run(ctx, o.Key, func(ctx context.Context, t extraction.Target) error {
		if err := s.extractor.OpenMessaging(ctx, t); err != nil {
			return err
		}
		var err error
		if loc, err = s.extractor.LocateConversation(ctx, t, req.ContactName); err != nil {
			return err
		}
		if loc == nil {
			return apperr.New(apperr.KindNotFound, "inbox.send",
				fmt.Sprintf("conversation with %s not found", req.ContactName))
		}
		if err := s.extractor.Open(ctx, t, loc.Item); err != nil {
			return err
		}
		return s.extractor.SendMessage(ctx, t, req.Message)
	})
	if err != nil {
		s.logger.Warn("Send failed.", zap.String("account", o.Key), zap.String("contact", req.ContactName), zap.Error(err))
		return nil, err
	}

	// The thread is stored under the name the inbox shows, which is also the
	// name a scrape stores it under.
	contact := loc.Name
	if contact == "" {
		contact = req.ContactName
	}
	sentAt := s.now().UTC().Format(time.RFC3339)
	id, err := s.store.SaveSent(ctx, o.Account, o.UserID, contact, store.NewMessage{
		Sender:   extraction.You,
		Receiver: contact,
		Body:     req.Message,
		Time:     sentAt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record sent message: %w", err)
	}
	s.logger.Info("Message sent.",
		zap.String("account", o.Key),
		zap.String("contact", req.ContactName),
		zap.String("matched", loc.Name),
		zap.String("via", loc.Via))
	return &SendResult{ConversationID: id, ContactName: req.ContactName, MatchedName: loc.Name, Via: loc.Via, SentAt: sentAt}, nil
}

// Scrape walks the first limit conversations of the inbox and replaces the
// stored messages of each one.
func (s *Service) Scrape(ctx context.Context, o Owner, limit int) (*BatchResult, error) {
	return s.scrape(ctx, o, limit, "scrape")
}

// Rescrape is Scrape under its own name for logging.
func (s *Service) Rescrape(ctx context.Context, o Owner, limit int) (*BatchResult, error) {
	return s.scrape(ctx, o, limit, "rescrape")
}

func (s *Service) scrape(ctx context.Context, o Owner, limit int, flow string) (*BatchResult, error) {
	if limit <= 0 {
		limit = s.limits.Scrape
	}
	if err := requireAccount(o, "inbox."+flow); err != nil {
		return nil, err
	}
	if err := s.admit(o, governor.CategoryConversation); err != nil {
		return nil, err
	}

	log := s.logger.With(zap.String("flow", flow), zap.String("account", o.Key))
	res := &BatchResult{Errors: []string{}, Conversations: []string{}}
	err := s.runner.Run(ctx, o.Key, func(ctx context.Context, t extraction.Target) error {
		if err := s.extractor.OpenMessaging(ctx, t); err != nil {
			return err
		}
		items, err := s.extractor.ScanConversations(ctx, t, limit)
		if err != nil {
			return err
		}
		res.Total = len(items)
		for i, it := range items {
			if i > 0 {
				if err := t.Actor.Wait(ctx, conversationGap(i)); err != nil {
					return err
				}
			}
			label := it.Name
			if label == "" {
				label = fmt.Sprintf("#%d", it.Index+1)
			}
			log.Info("Scraping conversation.", zap.Int("n", i+1), zap.Int("of", len(items)), zap.String("name", label))

			stored, err := s.scrapeOne(ctx, t, o, it)
			if err != nil {
				res.fail(label, err)
				log.Warn("Conversation failed.", zap.String("name", label), zap.Error(err))
				if fatal(ctx, err) {
					return err
				}
				continue
			}
			res.Succeeded++
			res.NewMessages += stored
			res.Conversations = append(res.Conversations, label)
		}
		return nil
	})
	if err != nil {
		return res, err
	}
	log.Info("Batch finished.", zap.Int("total", res.Total), zap.Int("succeeded", res.Succeeded),
		zap.Int("messages", res.NewMessages), zap.Int("errors", len(res.Errors)))
	return res, nil
}

func (s *Service) scrapeOne(ctx context.Context, t extraction.Target, o Owner, it extraction.Item) (int, error) {
	if err := s.extractor.Open(ctx, t, it); err != nil {
		return 0, err
	}
	ext, err := s.extractor.ExtractMessages(ctx, t, it.Name)
	if err != nil {
		return 0, err
	}
	if _, err := s.store.SaveScrape(ctx, o.Account, o.UserID, ext.Counterparty, toNew(ext.Messages)); err != nil {
		return 0, err
	}
	return len(ext.Messages), nil
}

// Sync revisits the most recently updated stored conversations and appends
// the messages newer than each one's watermark.
func (s *Service) Sync(ctx context.Context, o Owner, limit int) (*BatchResult, error) {
	if limit <= 0 {
		limit = s.limits.Sync
	}
	if limit >= s.limits.SyncAll {
		limit = 0
	}
	if err := requireAccount(o, "inbox.sync"); err != nil {
		return nil, err
	}
	if err := s.admit(o, governor.CategorySync); err != nil {
		return nil, err
	}

	log := s.logger.With(zap.String("flow", "sync"), zap.String("account", o.Key))
	res := &BatchResult{Errors: []string{}, Conversations: []string{}}
	candidates, err := s.store.SyncCandidates(ctx, o.Account, limit)
	if err != nil {
		return nil, err
	}
	res.Total = len(candidates)
	if len(candidates) == 0 {
		log.Info("No stored conversations to sync.")
		return res, nil
	}

	err = s.runner.Run(ctx, o.Key, func(ctx context.Context, t extraction.Target) error {
		if err := s.extractor.OpenMessaging(ctx, t); err != nil {
			return err
		}
		for i, c := range candidates {
			if i > 0 {
				if err := t.Actor.Wait(ctx, conversationGap(i)); err != nil {
					return err
				}
			}
			log.Info("Syncing conversation.", zap.Int("n", i+1), zap.Int("of", len(candidates)), zap.String("name", c.ContactName))

			added, err := s.syncOne(ctx, t, c)
			if err != nil {
				res.fail(c.ContactName, err)
				log.Warn("Conversation failed.", zap.String("name", c.ContactName), zap.Error(err))
				if fatal(ctx, err) {
					return err
				}
				continue
			}
			res.Succeeded++
			res.NewMessages += added
			res.Conversations = append(res.Conversations, c.ContactName)
		}
		return nil
	})
	if err != nil {
		return res, err
	}
	log.Info("Batch finished.", zap.Int("total", res.Total), zap.Int("succeeded", res.Succeeded),
		zap.Int("new_messages", res.NewMessages), zap.Int("errors", len(res.Errors)))
	return res, nil
}

func (s *Service) syncOne(ctx context.Context, t extraction.Target, c store.Conversation) (int, error) {
	loc, err := s.extractor.LocateConversation(ctx, t, c.ContactName)
	if err != nil {
		return 0, err
	}
	if loc == nil {
		return 0, apperr.New(apperr.KindNotFound, "inbox.sync", "not found in inbox")
	}
	if err := s.extractor.Open(ctx, t, loc.Item); err != nil {
		return 0, err
	}
	ext, err := s.extractor.ExtractMessages(ctx, t, loc.Name)
	if err != nil {
		return 0, err
	}
	return s.store.SaveSync(ctx, c.ID, toNew(ext.Messages))
}
