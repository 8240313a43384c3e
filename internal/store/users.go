package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/xkilldash9x/linkedin-inbox/internal/apperr"
)

// sessionTTL bounds how long a recorded LinkedIn login is trusted.
const sessionTTL = 24 * time.Hour

const sqlSelectUser = `
        SELECT id, username, linkedin_email, linkedin_profile_url, display_name,
               session_token, created_at, last_login, is_active
        FROM users
    `

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.LinkedInEmail, &u.LinkedInProfileURL, &u.DisplayName,
		&u.SessionToken, &u.CreatedAt, &u.LastLogin, &u.IsActive)
	return u, err
}

// newSessionToken joins two random UUIDs into a 64 character hex token.
func newSessionToken() string {
	a, b := uuid.New(), uuid.New()
	return strings.ReplaceAll(a.String()+b.String(), "-", "")
}

// CreateOrLoginUser issues a fresh session token for username, creating the
// user on first sight. It reports whether the user is new.
func (s *Store) CreateOrLoginUser(ctx context.Context, username string, email *string) (User, bool, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return User{}, false, apperr.New(apperr.KindValidation, "store.login", "username is required")
	}
	token := newSessionToken()
	now := s.now().UTC()

	var (
		u     User
		isNew bool
	)
	err := s.WithTx(ctx, func(tx *Tx) error {
		var err error
		u, err = scanUser(tx.tx.QueryRow(ctx, sqlSelectUser+` WHERE username = $1 FOR UPDATE`, username))
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			isNew = true
			u, err = scanUser(tx.tx.QueryRow(ctx, `
                INSERT INTO users (username, linkedin_email, display_name, session_token, last_login)
                VALUES ($1, $2, $1, $3, $4)
                RETURNING id, username, linkedin_email, linkedin_profile_url, display_name,
                          session_token, created_at, last_login, is_active
            `, username, email, token, now))
			if err != nil {
				return fmt.Errorf("failed to create user: %w", err)
			}
			return nil
		case err != nil:
			return fmt.Errorf("failed to look up user: %w", err)
		}
		if _, err := tx.tx.Exec(ctx, `UPDATE users SET session_token = $1, last_login = $2 WHERE id = $3`, token, now, u.ID); err != nil {
			return fmt.Errorf("failed to refresh session token: %w", err)
		}
		u.SessionToken, u.LastLogin = &token, &now
		return nil
	})
	if err != nil {
		return User{}, false, err
	}
	s.log.Info("User logged in.", zap.Int64("user_id", u.ID), zap.String("username", u.Username), zap.Bool("new_user", isNew))
	return u, isNew, nil
}

// UserByToken resolves an active user from a session token.
func (s *Store) UserByToken(ctx context.Context, token string) (User, error) {
	if token == "" {
		return User{}, apperr.New(apperr.KindUnauthorized, "store.user_by_token", "session token required")
	}
	u, err := scanUser(s.pool.QueryRow(ctx, sqlSelectUser+` WHERE session_token = $1 AND is_active`, token))
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, apperr.New(apperr.KindUnauthorized, "store.user_by_token", "invalid or expired session")
	}
	if err != nil {
		return User{}, fmt.Errorf("failed to validate session: %w", err)
	}
	return u, nil
}

// UserByID loads an active user.
func (s *Store) UserByID(ctx context.Context, id int64) (User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, sqlSelectUser+` WHERE id = $1 AND is_active`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, apperr.New(apperr.KindNotFound, "store.user_by_id", "user not found")
	}
	if err != nil {
		return User{}, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// Users lists every user, for debugging.
func (s *Store) Users(ctx context.Context) ([]User, error) {
	rows, err := s.pool.Query(ctx, sqlSelectUser+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()
	out := []User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user row: %w", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}

// UpdateProfile sets the given profile fields and returns the updated user.
func (s *Store) UpdateProfile(ctx context.Context, id int64, p ProfileUpdate) (User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, `
        UPDATE users SET
            linkedin_email = COALESCE($2, linkedin_email),
            linkedin_profile_url = COALESCE($3, linkedin_profile_url),
            display_name = COALESCE($4, display_name)
        WHERE id = $1 AND is_active
        RETURNING id, username, linkedin_email, linkedin_profile_url, display_name,
                  session_token, created_at, last_login, is_active
    `, id, p.LinkedInEmail, p.ProfileURL, p.DisplayName))
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, apperr.New(apperr.KindNotFound, "store.update_profile", "user not found")
	}
	if err != nil {
		return User{}, fmt.Errorf("failed to update profile: %w", err)
	}
	return u, nil
}

// Logout clears the user's session token.
func (s *Store) Logout(ctx context.Context, id int64) error {
	if _, err := s.pool.Exec(ctx, `UPDATE users SET session_token = NULL WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to clear session token: %w", err)
	}
	return nil
}

// SetLinkedInLoggedIn records the user's LinkedIn login state.
func (s *Store) SetLinkedInLoggedIn(ctx context.Context, userID int64, loggedIn bool) error {
	now := s.now().UTC()
	var expires *time.Time
	if loggedIn {
		e := now.Add(sessionTTL)
		expires = &e
	}
	_, err := s.pool.Exec(ctx, `
        INSERT INTO user_sessions (user_id, linkedin_logged_in, last_activity, expires_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (user_id) DO UPDATE SET
            linkedin_logged_in = EXCLUDED.linkedin_logged_in,
            last_activity = EXCLUDED.last_activity,
            expires_at = EXCLUDED.expires_at
    `, userID, loggedIn, now, expires)
	if err != nil {
		return fmt.Errorf("failed to record linkedin session: %w", err)
	}
	return nil
}

// LinkedInSession returns the recorded login state; a user never seen
// logging in reports LoggedIn false.
func (s *Store) LinkedInSession(ctx context.Context, userID int64) (LinkedInSession, error) {
	ls := LinkedInSession{UserID: userID}
	err := s.pool.QueryRow(ctx,
		`SELECT linkedin_logged_in, last_activity, expires_at FROM user_sessions WHERE user_id = $1`, userID).
		Scan(&ls.LoggedIn, &ls.LastActivity, &ls.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ls, nil
	}
	if err != nil {
		return ls, fmt.Errorf("failed to read linkedin session: %w", err)
	}
	if ls.ExpiresAt != nil && !s.now().Before(*ls.ExpiresAt) {
		ls.LoggedIn = false
	}
	return ls, nil
}
