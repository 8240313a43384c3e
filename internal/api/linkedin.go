package api

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/linkedin-inbox/internal/apperr"
	"github.com/xkilldash9x/linkedin-inbox/internal/browser/session"
	"github.com/xkilldash9x/linkedin-inbox/internal/inbox"
	"github.com/xkilldash9x/linkedin-inbox/internal/store"
)

// storedProfile is the identity remembered for u, if any.
func storedProfile(u store.User) session.Profile {
	var p session.Profile
	if u.LinkedInProfileURL != nil {
		p.ProfileURL = *u.LinkedInProfileURL
		if u.DisplayName != nil {
			p.DisplayName = *u.DisplayName
		}
	}
	return p
}

// ownerFor derives the flow owner and seeds a live session that has not
// detected its profile with the stored one, so own messages read as You.
func (s *Server) ownerFor(u store.User) inbox.Owner {
	o := inbox.OwnerOf(u)
	if c, ok := s.sessions.Lookup(o.Key); ok && c.Profile().Empty() {
		if p := storedProfile(u); !p.Empty() {
			c.SetProfile(p)
		}
	}
	return o
}

type linkedInStatus struct {
	Success          bool             `json:"success"`
	IsLoggedIn       bool             `json:"isLoggedIn"`
	HasActiveBrowser bool             `json:"hasActiveBrowser"`
	State            string           `json:"state"`
	LinkedInProfile  *session.Profile `json:"linkedInProfile"`
	LastActivity     *time.Time       `json:"lastActivity"`
	Recorded         bool             `json:"recordedLoggedIn"`
	User             userView         `json:"user"`
}

func (s *Server) handleLinkedInStatus(w http.ResponseWriter, r *http.Request) {
	u, _ := userFrom(r.Context())
	key := inbox.SessionKey(u.ID)
	st := linkedInStatus{Success: true, State: session.Uninitialized.String(), User: viewOf(u)}

	if c, ok := s.sessions.Lookup(key); ok {
		state := c.State()
		st.State = state.String()
		st.HasActiveBrowser = state != session.Uninitialized && state != session.Closed
		st.IsLoggedIn = state == session.Authenticated && c.IsValid(r.Context())
		if p := c.Profile(); !p.Empty() {
			st.LinkedInProfile = &p
		}
		if last := c.LastActivity(); !last.IsZero() {
			st.LastActivity = &last
		}
	}
	if rec, err := s.store.LinkedInSession(r.Context(), u.ID); err == nil {
		st.Recorded = rec.LoggedIn
	} else {
		s.logger.Warn("Failed to read recorded linkedin session.", zap.Int64("user_id", u.ID), zap.Error(err))
	}
	writeJSON(w, http.StatusOK, st)
}

// handleLinkedInLogin starts the browser and waits for the manual login in
// the background; the request returns as soon as the wait has begun.
func (s *Server) handleLinkedInLogin(w http.ResponseWriter, r *http.Request) {
	u, _ := userFrom(r.Context())
	key := inbox.SessionKey(u.ID)

	if c, ok := s.sessions.Lookup(key); ok && c.State() == session.Authenticated && c.IsValid(r.Context()) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"message": "Already logged in to LinkedIn.",
			"state":   c.State(),
		})
		return
	}

	s.goBackground(func(ctx context.Context) { s.awaitLogin(ctx, u) })
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"success":         true,
		"message":         "LinkedIn login page opened. Please login manually in the browser window.",
		"instructions":    "After logging in, the system will automatically detect your LinkedIn profile and associate it with your account.",
		"rateLimitStatus": s.gov.Status(key),
	})
}

func (s *Server) awaitLogin(ctx context.Context, u store.User) {
	key := inbox.SessionKey(u.ID)
	log := s.logger.With(zap.String("account", key))

	h, err := s.sessions.Login(ctx, key)
	if err != nil {
		log.Warn("LinkedIn login did not complete.", zap.Error(err))
		if err := s.store.SetLinkedInLoggedIn(ctx, u.ID, false); err != nil && ctx.Err() == nil {
			log.Error("Failed to record linkedin session.", zap.Error(err))
		}
		return
	}
	if err := s.store.SetLinkedInLoggedIn(ctx, u.ID, true); err != nil {
		log.Error("Failed to record linkedin session.", zap.Error(err))
	}
	log.Info("LinkedIn login confirmed.")

	if !h.Profile.Empty() {
		return
	}
	c, ok := s.sessions.Lookup(key)
	if !ok {
		return
	}
	p, err := c.DetectProfile(ctx)
	if err != nil {
		log.Warn("Automatic profile detection failed.", zap.Error(err))
		if sp := storedProfile(u); !sp.Empty() {
			c.SetProfile(sp)
		}
		return
	}
	if _, err := s.store.UpdateProfile(ctx, u.ID, profileUpdate(p)); err != nil {
		log.Error("Failed to store detected profile.", zap.Error(err))
	}
}

func profileUpdate(p session.Profile) store.ProfileUpdate {
	var up store.ProfileUpdate
	if p.DisplayName != "" {
		up.DisplayName = &p.DisplayName
	}
	if p.ProfileURL != "" {
		up.ProfileURL = &p.ProfileURL
	}
	return up
}

func (s *Server) handleDetectProfile(w http.ResponseWriter, r *http.Request) {
	u, _ := userFrom(r.Context())
	key := inbox.SessionKey(u.ID)
	c, ok := s.sessions.Lookup(key)
	if !ok {
		s.fail(w, r, key, apperr.New(apperr.KindValidation, "api.detect_profile",
			"No active LinkedIn session found. Please login to LinkedIn first."))
		return
	}
	p, err := c.DetectProfile(r.Context())
	if err != nil {
		s.fail(w, r, key, err)
		return
	}
	updated, err := s.store.UpdateProfile(r.Context(), u.ID, profileUpdate(p))
	if err != nil {
		s.fail(w, r, key, err)
		return
	}
	if err := s.store.SetLinkedInLoggedIn(r.Context(), u.ID, true); err != nil {
		s.fail(w, r, key, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "LinkedIn profile detected and linked successfully!",
		"profile": p,
		"user":    viewOf(updated),
	})
}

func (s *Server) handleLinkedInLogout(w http.ResponseWriter, r *http.Request) {
	u, _ := userFrom(r.Context())
	key := inbox.SessionKey(u.ID)
	if err := s.sessions.Close(r.Context(), key); err != nil {
		s.fail(w, r, key, err)
		return
	}
	if err := s.store.SetLinkedInLoggedIn(r.Context(), u.ID, false); err != nil {
		s.fail(w, r, key, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "Logged out of LinkedIn."})
}
