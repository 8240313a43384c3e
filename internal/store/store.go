package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/linkedin-inbox/internal/apperr"
	"github.com/xkilldash9x/linkedin-inbox/internal/config"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store persists conversations, messages and users in PostgreSQL.
type Store struct {
	pool DBPool
	log  *zap.Logger
	now  func() time.Time
	loc  *time.Location
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for watermarks and logins.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLocation sets the zone rendered message times without an offset are
// read in. It must match the browser's timezone.
func WithLocation(loc *time.Location) Option {
	return func(s *Store) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger, opts ...Option) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{pool: pool, log: logger.Named("store"), now: time.Now, loc: time.UTC}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Connect opens a connection pool sized by cfg.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	poolConfig.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Tx is the unit of work handed to WithTx. Every write in one call commits
// or rolls back together.
type Tx struct {
	tx  pgx.Tx
	now time.Time
	loc *time.Location
}

// WithTx runs fn in a transaction, committing when it returns nil and
// rolling back otherwise.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		// Rollback after a successful commit reports ErrTxClosed.
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	if err := fn(&Tx{tx: tx, now: s.now().UTC(), loc: s.loc}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

const sqlUpsertConversation = `
        INSERT INTO conversations (contact_name, linkedin_account_id, user_id, last_updated)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (contact_name, linkedin_account_id) WHERE linkedin_account_id IS NOT NULL
        DO UPDATE SET user_id = COALESCE(EXCLUDED.user_id, conversations.user_id)
        RETURNING id, last_updated;
    `

// UpsertConversation returns the id and watermark of the conversation with
// name owned by account, creating it when absent.
func (t *Tx) UpsertConversation(ctx context.Context, name, account string, userID *int64) (int64, time.Time, error) {
	if name == "" || account == "" {
		return 0, time.Time{}, apperr.New(apperr.KindValidation, "store.upsert_conversation", "contact name and account are required")
	}
	var (
		id        int64
		watermark time.Time
	)
	if err := t.tx.QueryRow(ctx, sqlUpsertConversation, name, account, userID, t.now).Scan(&id, &watermark); err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to upsert conversation: %w", err)
	}
	return id, watermark, nil
}

func (t *Tx) insertMessages(ctx context.Context, conversationID int64, msgs []NewMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	rows := make([][]interface{}, len(msgs))
	for i, m := range msgs {
		rows[i] = []interface{}{conversationID, m.Sender, m.Receiver, m.Body, m.Time}
	}
	copyCount, err := t.tx.CopyFrom(
		ctx,
		pgx.Identifier{"messages"},
		[]string{"conversation_id", "sender", "receiver", "message", "time"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to copy messages: %w", err)
	}
	if int(copyCount) != len(msgs) {
		return fmt.Errorf("mismatch in copied messages count: expected %d, got %d", len(msgs), copyCount)
	}
	return nil
}

// ReplaceMessages swaps the stored messages of a conversation for msgs and
// touches its watermark.
func (t *Tx) ReplaceMessages(ctx context.Context, conversationID int64, msgs []NewMessage) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM messages WHERE conversation_id = $1`, conversationID); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	if err := t.insertMessages(ctx, conversationID, msgs); err != nil {
		return err
	}
	return t.touch(ctx, conversationID, t.now)
}

// AppendNewMessages inserts the messages whose parsed time is strictly after
// since and advances the watermark to the newest inserted time. It returns
// the number inserted.
func (t *Tx) AppendNewMessages(ctx context.Context, conversationID int64, msgs []NewMessage, since time.Time) (int, error) {
	var (
		fresh  []NewMessage
		newest time.Time
	)
	for _, m := range msgs {
		at, ok := ParseMessageTime(m.Time, t.loc)
		if !ok || !at.After(since) {
			continue
		}
		fresh = append(fresh, m)
		if at.After(newest) {
			newest = at
		}
	}
	if len(fresh) == 0 {
		return 0, nil
	}
	if err := t.insertMessages(ctx, conversationID, fresh); err != nil {
		return 0, err
	}
	if err := t.touch(ctx, conversationID, newest); err != nil {
		return 0, err
	}
	return len(fresh), nil
}

// AppendMessage stores a single message, e.g. one just sent, and touches
// the watermark.
func (t *Tx) AppendMessage(ctx context.Context, conversationID int64, m NewMessage) error {
	if err := t.insertMessages(ctx, conversationID, []NewMessage{m}); err != nil {
		return err
	}
	return t.touch(ctx, conversationID, t.now)
}

func (t *Tx) touch(ctx context.Context, conversationID int64, at time.Time) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE conversations SET last_updated = GREATEST(last_updated, $2) WHERE id = $1`,
		conversationID, at.UTC())
	if err != nil {
		return fmt.Errorf("failed to update watermark: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.KindNotFound, "store.touch", fmt.Sprintf("conversation %d not found", conversationID))
	}
	return nil
}

// DeleteConversation removes a conversation owned by account. Messages go
// with it through the foreign key cascade.
func (t *Tx) DeleteConversation(ctx context.Context, conversationID int64, account string) error {
	tag, err := t.tx.Exec(ctx,
		`DELETE FROM conversations WHERE id = $1 AND linkedin_account_id = $2`,
		conversationID, account)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.KindNotFound, "store.delete_conversation", "conversation not found")
	}
	return nil
}

// DeleteConversation removes a conversation and its messages atomically.
func (s *Store) DeleteConversation(ctx context.Context, conversationID int64, account string) error {
	return s.WithTx(ctx, func(tx *Tx) error {
		return tx.DeleteConversation(ctx, conversationID, account)
	})
}

// SaveScrape upserts the conversation and replaces its messages in one unit.
func (s *Store) SaveScrape(ctx context.Context, account string, userID *int64, name string, msgs []NewMessage) (int64, error) {
	var id int64
	err := s.WithTx(ctx, func(tx *Tx) error {
		var err error
		if id, _, err = tx.UpsertConversation(ctx, name, account, userID); err != nil {
			return err
		}
		return tx.ReplaceMessages(ctx, id, msgs)
	})
	return id, err
}

// SaveSync appends the messages newer than the conversation's watermark.
func (s *Store) SaveSync(ctx context.Context, conversationID int64, msgs []NewMessage) (int, error) {
	var inserted int
	err := s.WithTx(ctx, func(tx *Tx) error {
		var since time.Time
		err := tx.tx.QueryRow(ctx, `SELECT last_updated FROM conversations WHERE id = $1 FOR UPDATE`, conversationID).Scan(&since)
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.New(apperr.KindNotFound, "store.sync", fmt.Sprintf("conversation %d not found", conversationID))
		}
		if err != nil {
			return fmt.Errorf("failed to read watermark: %w", err)
		}
		inserted, err = tx.AppendNewMessages(ctx, conversationID, msgs, since)
		return err
	})
	return inserted, err
}

// SaveSent records a sent message, creating the conversation when needed.
func (s *Store) SaveSent(ctx context.Context, account string, userID *int64, name string, m NewMessage) (int64, error) {
	var id int64
	err := s.WithTx(ctx, func(tx *Tx) error {
		var err error
		if id, _, err = tx.UpsertConversation(ctx, name, account, userID); err != nil {
			return err
		}
		return tx.AppendMessage(ctx, id, m)
	})
	return id, err
}
