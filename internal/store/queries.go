package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/xkilldash9x/linkedin-inbox/internal/apperr"
)

const sqlConversationSummaries = `
        SELECT c.id, c.contact_name, c.linkedin_account_id, c.user_id, c.last_updated,
               COALESCE(lm.message, ''), COALESCE(lm.time, ''), COALESCE(lm.sender, ''),
               (SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id)
        FROM conversations c
        LEFT JOIN LATERAL (
            SELECT message, time, sender FROM messages m
            WHERE m.conversation_id = c.id
            ORDER BY m.id DESC LIMIT 1
        ) lm ON TRUE
        WHERE c.linkedin_account_id = $1
        ORDER BY c.last_updated DESC, c.id DESC;
    `

// Conversations lists the conversations owned by account, most recently
// updated first. Orphans never match.
func (s *Store) Conversations(ctx context.Context, account string) ([]Summary, error) {
	if account == "" {
		return []Summary{}, nil
	}
	rows, err := s.pool.Query(ctx, sqlConversationSummaries, account)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	out := []Summary{}
	for rows.Next() {
		var c Summary
		if err := rows.Scan(&c.ID, &c.ContactName, &c.AccountID, &c.UserID, &c.LastUpdated,
			&c.LastMessage, &c.LastMessageTime, &c.LastMessageSender, &c.MessageCount); err != nil {
			return nil, fmt.Errorf("failed to scan conversation row: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}

const sqlSelectConversation = `
        SELECT id, contact_name, linkedin_account_id, user_id, last_updated
        FROM conversations
    `

func scanConversations(rows pgx.Rows) ([]Conversation, error) {
	defer rows.Close()
	out := []Conversation{}
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.ContactName, &c.AccountID, &c.UserID, &c.LastUpdated); err != nil {
			return nil, fmt.Errorf("failed to scan conversation row: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}

// Conversation loads one conversation owned by account.
func (s *Store) Conversation(ctx context.Context, id int64, account string) (Conversation, error) {
	var c Conversation
	err := s.pool.QueryRow(ctx, sqlSelectConversation+` WHERE id = $1 AND linkedin_account_id = $2`, id, account).
		Scan(&c.ID, &c.ContactName, &c.AccountID, &c.UserID, &c.LastUpdated)
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, apperr.New(apperr.KindNotFound, "store.conversation", "conversation not found")
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("failed to get conversation: %w", err)
	}
	return c, nil
}

// SyncCandidates returns up to limit conversations of account, most recently
// updated first. A limit <= 0 returns all of them.
func (s *Store) SyncCandidates(ctx context.Context, account string, limit int) ([]Conversation, error) {
	query := sqlSelectConversation + ` WHERE linkedin_account_id = $1 ORDER BY last_updated DESC, id DESC`
	args := []interface{}{account}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync candidates: %w", err)
	}
	return scanConversations(rows)
}

// AllConversations lists every conversation including orphans, for debugging.
func (s *Store) AllConversations(ctx context.Context) ([]Conversation, error) {
	rows, err := s.pool.Query(ctx, sqlSelectConversation+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	return scanConversations(rows)
}

const sqlSelectMessages = `
        SELECT m.id, m.conversation_id, m.sender, m.receiver, m.message, m.time
        FROM messages m
    `

func scanMessages(rows pgx.Rows) ([]Message, error) {
	defer rows.Close()
	out := []Message{}
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Sender, &m.Receiver, &m.Body, &m.Time); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}

// Messages returns the messages of a conversation owned by account in
// insertion order.
func (s *Store) Messages(ctx context.Context, conversationID int64, account string) ([]Message, error) {
	if _, err := s.Conversation(ctx, conversationID, account); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, sqlSelectMessages+` WHERE m.conversation_id = $1 ORDER BY m.id`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	return scanMessages(rows)
}

// AllMessages returns the messages of any conversation, for debugging.
func (s *Store) AllMessages(ctx context.Context, conversationID int64) ([]Message, error) {
	rows, err := s.pool.Query(ctx, sqlSelectMessages+` WHERE m.conversation_id = $1 ORDER BY m.id`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	return scanMessages(rows)
}

// OrphanCount counts conversations that no account owns.
func (s *Store) OrphanCount(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM conversations WHERE linkedin_account_id IS NULL`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count orphaned conversations: %w", err)
	}
	return n, nil
}

// Clear deletes every conversation and message.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `TRUNCATE messages, conversations RESTART IDENTITY`); err != nil {
		return fmt.Errorf("failed to clear conversations: %w", err)
	}
	s.log.Warn("Cleared all conversations and messages.")
	return nil
}
