package inbox

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/linkedin-inbox/internal/apperr"
	"github.com/xkilldash9x/linkedin-inbox/internal/browser/humanoid"
	"github.com/xkilldash9x/linkedin-inbox/internal/config"
	"github.com/xkilldash9x/linkedin-inbox/internal/extraction"
	"github.com/xkilldash9x/linkedin-inbox/internal/governor"
	"github.com/xkilldash9x/linkedin-inbox/internal/mocks"
	"github.com/xkilldash9x/linkedin-inbox/internal/store"
)

// -- Mock Implementations for Testing --

type mockExtractor struct {
	mock.Mock
}

func (m *mockExtractor) OpenMessaging(ctx context.Context, t extraction.Target) error {
	return m.Called(t).Error(0)
}

func (m *mockExtractor) ScanConversations(ctx context.Context, t extraction.Target, limit int) ([]extraction.Item, error) {
	args := m.Called(t, limit)
	items, _ := args.Get(0).([]extraction.Item)
	return items, args.Error(1)
}

func (m *mockExtractor) LocateConversation(ctx context.Context, t extraction.Target, hint string) (*extraction.Located, error) {
	args := m.Called(t, hint)
	loc, _ := args.Get(0).(*extraction.Located)
	return loc, args.Error(1)
}

func (m *mockExtractor) Open(ctx context.Context, t extraction.Target, it extraction.Item) error {
	return m.Called(t, it).Error(0)
}

func (m *mockExtractor) ExtractMessages(ctx context.Context, t extraction.Target, listName string) (*extraction.Extraction, error) {
	args := m.Called(t, listName)
	ext, _ := args.Get(0).(*extraction.Extraction)
	return ext, args.Error(1)
}

func (m *mockExtractor) SendMessage(ctx context.Context, t extraction.Target, text string) error {
	return m.Called(t, text).Error(0)
}

type mockPersistence struct {
	mock.Mock
}

func (m *mockPersistence) SaveScrape(ctx context.Context, account string, userID *int64, name string, msgs []store.NewMessage) (int64, error) {
	args := m.Called(account, userID, name, msgs)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockPersistence) SaveSync(ctx context.Context, conversationID int64, msgs []store.NewMessage) (int, error) {
	args := m.Called(conversationID, msgs)
	return args.Int(0), args.Error(1)
}

func (m *mockPersistence) SaveSent(ctx context.Context, account string, userID *int64, name string, msg store.NewMessage) (int64, error) {
	args := m.Called(account, userID, name, msg)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockPersistence) SyncCandidates(ctx context.Context, account string, limit int) ([]store.Conversation, error) {
	args := m.Called(account, limit)
	convs, _ := args.Get(0).([]store.Conversation)
	return convs, args.Error(1)
}

// fakeRunner runs every flow against one target, or fails without running it.
type fakeRunner struct {
	target extraction.Target
	err    error
	runs   int
}

func (f *fakeRunner) Run(ctx context.Context, key string, fn func(ctx context.Context, t extraction.Target) error) error {
	if f.err != nil {
		return f.err
	}
	f.runs++
	return fn(ctx, f.target)
}

// blockingRunner holds every admitted flow until release is closed, then
// fails it without touching the browser.
type blockingRunner struct {
	release chan struct{}
	runs    atomic.Int32
}

func (b *blockingRunner) Run(ctx context.Context, key string, fn func(ctx context.Context, t extraction.Target) error) error {
	b.runs.Add(1)
	select {
	case <-b.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return apperr.New(apperr.KindNavigationTimeout, "test", "messaging did not load")
}

// -- Test Fixture Setup --

var fixedNow = time.Date(2025, 3, 11, 9, 30, 0, 0, time.UTC)

type inboxFixture struct {
	Service   *Service
	Extractor *mockExtractor
	Store     *mockPersistence
	Runner    *fakeRunner
	Exec      *mocks.Executor
	Governor  *governor.Governor
	Owner     Owner
}

func newInboxFixture(t *testing.T) *inboxFixture {
	t.Helper()
	exec := mocks.NewExecutor()
	f := &inboxFixture{
		Extractor: new(mockExtractor),
		Store:     new(mockPersistence),
		Runner:    &fakeRunner{target: extraction.Target{Actor: humanoid.NewTestHumanoid(exec, 3), Self: "Ada Lovelace"}},
		Exec:      exec,
		Governor:  governor.New(governor.DefaultLimits(), nil, zaptest.NewLogger(t), governor.WithClock(func() time.Time { return fixedNow })),
		Owner:     OwnerOf(store.User{ID: 4, Username: "ada", LinkedInProfileURL: strPtr("https://www.linkedin.com/in/ada")}),
	}
	svc, err := New(f.Runner, f.Extractor, f.Store, f.Governor, Limits{Scrape: 5, Sync: 5, SyncAll: 100},
		zaptest.NewLogger(t), WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	f.Service = svc
	t.Cleanup(func() {
		f.Extractor.AssertExpectations(t)
		f.Store.AssertExpectations(t)
	})
	return f
}

func strPtr(s string) *string { return &s }

func TestNew_NilDependencies(t *testing.T) {
	_, err := New(nil, new(mockExtractor), new(mockPersistence), governor.New(governor.DefaultLimits(), nil, zaptest.NewLogger(t)),
		Limits{}, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestOwnerOf(t *testing.T) {
	o := OwnerOf(store.User{ID: 12, Username: "grace", DisplayName: strPtr("Grace Hopper")})
	assert.Equal(t, "user-12", o.Key)
	assert.Equal(t, "Grace Hopper", o.Account)
	require.NotNil(t, o.UserID)
	assert.Equal(t, int64(12), *o.UserID)
}

func TestLimitsFrom_Defaults(t *testing.T) {
	l := LimitsFrom(config.ExtractionConfig{})
	assert.Equal(t, Limits{Scrape: 5, Sync: 5, SyncAll: 100}, l)
}

func TestSend(t *testing.T) {
	ctx := context.Background()

	t.Run("delivers and records the message", func(t *testing.T) {
		f := newInboxFixture(t)
		jane := extraction.Item{Index: 1, Name: "Jane Doe"}
		f.Extractor.On("OpenMessaging", mock.Anything).Return(nil).Once()
		f.Extractor.On("LocateConversation", mock.Anything, "Jane").
			Return(&extraction.Located{Item: jane, Via: "list"}, nil).Once()
		f.Extractor.On("Open", mock.Anything, jane).Return(nil).Once()
		f.Extractor.On("SendMessage", mock.Anything, "Hello there").Return(nil).Once()
		// Stored under the inbox name so it joins the scraped thread.
		f.Store.On("SaveSent", f.Owner.Account, f.Owner.UserID, "Jane Doe", store.NewMessage{
			Sender: "You", Receiver: "Jane Doe", Body: "Hello there", Time: "2025-03-11T09:30:00Z",
		}).Return(int64(9), nil).Once()

		res, err := f.Service.Send(ctx, f.Owner, SendRequest{ContactName: "Jane", Message: "Hello there"})
		require.NoError(t, err)
		assert.Equal(t, &SendResult{ConversationID: 9, ContactName: "Jane", MatchedName: "Jane Doe", Via: "list", SentAt: "2025-03-11T09:30:00Z"}, res)

		_, err = f.Service.Send(ctx, f.Owner, SendRequest{ContactName: "Jane", Message: "again"})
		assert.ErrorIs(t, err, apperr.ErrRateLimited)
		assert.Equal(t, "Too soon after last message", apperr.ReasonOf(err))
		assert.Equal(t, 1, f.Runner.runs, "a denied send must not touch the browser")
	})

	t.Run("records failed attempts", func(t *testing.T) {
		f := newInboxFixture(t)
		f.Extractor.On("OpenMessaging", mock.Anything).Return(nil).Once()
		f.Extractor.On("LocateConversation", mock.Anything, "Nobody").Return(nil, nil).Once()

		_, err := f.Service.Send(ctx, f.Owner, SendRequest{ContactName: "Nobody", Message: "hi"})
		assert.ErrorIs(t, err, apperr.ErrNotFound)

		d := f.Governor.CanPerform(f.Owner.Key, governor.CategoryMessage)
		assert.False(t, d.Allowed)
	})

	t.Run("concurrent sends share one budget", func(t *testing.T) {
		f := newInboxFixture(t)
		limits := governor.DefaultLimits()
		limits.Budgets[governor.CategoryMessage] = governor.Budget{Hourly: 1, Daily: 40, JitterMin: 1, JitterMax: 1}
		gov := governor.New(limits, nil, zaptest.NewLogger(t), governor.WithClock(func() time.Time { return fixedNow }))
		runner := &blockingRunner{release: make(chan struct{})}
		svc, err := New(runner, f.Extractor, f.Store, gov, Limits{Scrape: 5, Sync: 5, SyncAll: 100}, zaptest.NewLogger(t))
		require.NoError(t, err)

		errs := make(chan error, 3)
		for i := 0; i < 3; i++ {
			go func() {
				_, err := svc.Send(ctx, f.Owner, SendRequest{ContactName: "Jane", Message: "hi"})
				errs <- err
			}()
		}

		// Two are denied while the admitted one is still inside the browser.
		for i := 0; i < 2; i++ {
			select {
			case err := <-errs:
				assert.ErrorIs(t, err, apperr.ErrRateLimited)
			case <-time.After(5 * time.Second):
				t.Fatal("a send was admitted past the hourly ceiling")
			}
		}
		close(runner.release)
		assert.ErrorIs(t, <-errs, apperr.ErrNavigationTimeout)
		assert.Equal(t, int32(1), runner.runs.Load())
	})

	t.Run("validates input", func(t *testing.T) {
		f := newInboxFixture(t)
		_, err := f.Service.Send(ctx, f.Owner, SendRequest{ContactName: "Jane"})
		assert.ErrorIs(t, err, apperr.ErrValidation)
		_, err = f.Service.Send(ctx, Owner{Key: "user-1"}, SendRequest{ContactName: "Jane", Message: "hi"})
		assert.ErrorIs(t, err, apperr.ErrValidation)
		assert.Zero(t, f.Runner.runs)
	})

	t.Run("reports an unauthenticated session", func(t *testing.T) {
		f := newInboxFixture(t)
		f.Runner.err = apperr.New(apperr.KindSessionNotAuthenticated, "session", "session_not_authenticated")
		_, err := f.Service.Send(ctx, f.Owner, SendRequest{ContactName: "Jane", Message: "hi"})
		assert.ErrorIs(t, err, apperr.ErrSessionNotAuthenticated)
		assert.Equal(t, 401, apperr.HTTPStatus(err))
	})
}

func TestScrape(t *testing.T) {
	ctx := context.Background()
	jane := extraction.Item{Index: 0, Name: "Jane Doe"}
	bob := extraction.Item{Index: 1, Name: "Bob"}
	janeMsgs := []extraction.Message{
		{Sender: "Jane Doe", Receiver: "You", Body: "hi", Time: "Mar 10, 2025, 3:04 PM"},
		{Sender: "You", Receiver: "Jane Doe", Body: "hello", Time: "Mar 10, 2025, 3:05 PM"},
	}

	t.Run("collects per conversation errors", func(t *testing.T) {
		f := newInboxFixture(t)
		f.Extractor.On("OpenMessaging", mock.Anything).Return(nil).Once()
		f.Extractor.On("ScanConversations", mock.Anything, 5).Return([]extraction.Item{jane, bob}, nil).Once()
		f.Extractor.On("Open", mock.Anything, jane).Return(nil).Once()
		f.Extractor.On("ExtractMessages", mock.Anything, "Jane Doe").
			Return(&extraction.Extraction{Counterparty: "Jane Doe", Messages: janeMsgs}, nil).Once()
		f.Store.On("SaveScrape", f.Owner.Account, f.Owner.UserID, "Jane Doe", toNew(janeMsgs)).Return(int64(1), nil).Once()
		f.Extractor.On("Open", mock.Anything, bob).Return(nil).Once()
		f.Extractor.On("ExtractMessages", mock.Anything, "Bob").
			Return(nil, apperr.SelectorExhausted("extraction.messages", "message")).Once()

		res, err := f.Service.Scrape(ctx, f.Owner, 0)
		require.NoError(t, err)
		assert.Equal(t, 2, res.Total)
		assert.Equal(t, 1, res.Succeeded)
		assert.Equal(t, 2, res.NewMessages)
		assert.Equal(t, []string{"Conversation Bob: no strategy matched message"}, res.Errors)
		assert.Equal(t, []string{"Jane Doe"}, res.Conversations)

		require.NotEmpty(t, f.Exec.Sleeps)
		gap := f.Exec.Sleeps[len(f.Exec.Sleeps)-1]
		assert.GreaterOrEqual(t, gap, 2500*time.Millisecond)
		assert.LessOrEqual(t, gap, 4500*time.Millisecond)
	})

	t.Run("aborts on a browser failure", func(t *testing.T) {
		f := newInboxFixture(t)
		f.Extractor.On("OpenMessaging", mock.Anything).Return(nil).Once()
		f.Extractor.On("ScanConversations", mock.Anything, 2).Return([]extraction.Item{jane, bob}, nil).Once()
		f.Extractor.On("Open", mock.Anything, jane).
			Return(apperr.New(apperr.KindBrowserFatal, "session", "target crashed")).Once()

		res, err := f.Service.Rescrape(ctx, f.Owner, 2)
		assert.ErrorIs(t, err, apperr.ErrBrowserFatal)
		assert.Equal(t, []string{"Conversation Jane Doe: target crashed"}, res.Errors)
	})

	t.Run("is governed", func(t *testing.T) {
		f := newInboxFixture(t)
		f.Extractor.On("OpenMessaging", mock.Anything).Return(apperr.New(apperr.KindNavigationTimeout, "extraction.open", "messaging did not load")).Once()

		_, err := f.Service.Scrape(ctx, f.Owner, 1)
		assert.ErrorIs(t, err, apperr.ErrNavigationTimeout)

		_, err = f.Service.Scrape(ctx, f.Owner, 1)
		assert.ErrorIs(t, err, apperr.ErrRateLimited)
		assert.Equal(t, "Too soon after last conversation scrape", apperr.ReasonOf(err))
	})
}

func TestSync(t *testing.T) {
	ctx := context.Background()
	jane := store.Conversation{ID: 7, ContactName: "Jane Doe"}
	gone := store.Conversation{ID: 8, ContactName: "Old Friend"}
	msgs := []extraction.Message{{Sender: "Jane Doe", Receiver: "You", Body: "new", Time: "2025-03-10T14:00:00Z"}}

	t.Run("appends new messages", func(t *testing.T) {
		f := newInboxFixture(t)
		item := extraction.Item{Index: 0, Name: "Jane Doe"}
		f.Store.On("SyncCandidates", f.Owner.Account, 5).Return([]store.Conversation{jane, gone}, nil).Once()
		f.Extractor.On("OpenMessaging", mock.Anything).Return(nil).Once()
		f.Extractor.On("LocateConversation", mock.Anything, "Jane Doe").
			Return(&extraction.Located{Item: item, Via: "list"}, nil).Once()
		f.Extractor.On("Open", mock.Anything, item).Return(nil).Once()
		f.Extractor.On("ExtractMessages", mock.Anything, "Jane Doe").
			Return(&extraction.Extraction{Counterparty: "Jane Doe", Messages: msgs}, nil).Once()
		f.Store.On("SaveSync", int64(7), toNew(msgs)).Return(1, nil).Once()
		f.Extractor.On("LocateConversation", mock.Anything, "Old Friend").Return(nil, nil).Once()

		res, err := f.Service.Sync(ctx, f.Owner, 0)
		require.NoError(t, err)
		want := &BatchResult{
			Total:         2,
			Succeeded:     1,
			NewMessages:   1,
			Errors:        []string{"Conversation Old Friend: not found in inbox"},
			Conversations: []string{"Jane Doe"},
		}
		if diff := cmp.Diff(want, res); diff != "" {
			t.Errorf("Sync() mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("a large limit syncs everything", func(t *testing.T) {
		f := newInboxFixture(t)
		f.Store.On("SyncCandidates", f.Owner.Account, 0).Return([]store.Conversation{}, nil).Once()

		res, err := f.Service.Sync(ctx, f.Owner, 100)
		require.NoError(t, err)
		assert.Zero(t, res.Total)
		assert.Zero(t, f.Runner.runs, "nothing to sync must not touch the browser")
	})

	t.Run("is governed", func(t *testing.T) {
		f := newInboxFixture(t)
		f.Store.On("SyncCandidates", f.Owner.Account, 3).Return([]store.Conversation{}, nil).Once()
		_, err := f.Service.Sync(ctx, f.Owner, 3)
		require.NoError(t, err)

		_, err = f.Service.Sync(ctx, f.Owner, 3)
		assert.ErrorIs(t, err, apperr.ErrRateLimited)
		assert.Equal(t, "Too soon after last sync", apperr.ReasonOf(err))
	})
}
