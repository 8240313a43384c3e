package api

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/linkedin-inbox/internal/apperr"
	"github.com/xkilldash9x/linkedin-inbox/internal/governor"
	"github.com/xkilldash9x/linkedin-inbox/internal/inbox"
	"github.com/xkilldash9x/linkedin-inbox/internal/store"
)

// -- Users --

type loginRequest struct {
	Username      string  `json:"username"`
	LinkedInEmail *string `json:"linkedinEmail"`
}

type userView struct {
	ID                 int64      `json:"id"`
	Username           string     `json:"username"`
	DisplayName        string     `json:"displayName"`
	LinkedInEmail      *string    `json:"linkedinEmail"`
	LinkedInProfileURL *string    `json:"linkedinProfileUrl"`
	LastLogin          *time.Time `json:"lastLogin"`
	IsNewUser          *bool      `json:"isNewUser,omitempty"`
}

func viewOf(u store.User) userView {
	return userView{
		ID:                 u.ID,
		Username:           u.Username,
		DisplayName:        u.Name(),
		LinkedInEmail:      u.LinkedInEmail,
		LinkedInProfileURL: u.LinkedInProfileURL,
		LastLogin:          u.LastLogin,
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, "", err)
		return
	}
	if strings.TrimSpace(req.Username) == "" {
		s.fail(w, r, "", apperr.New(apperr.KindValidation, "api.login", "username is required"))
		return
	}
	u, isNew, err := s.store.CreateOrLoginUser(r.Context(), req.Username, req.LinkedInEmail)
	if err != nil {
		s.fail(w, r, "", err)
		return
	}
	view := viewOf(u)
	view.IsNewUser = &isNew
	token := ""
	if u.SessionToken != nil {
		token = *u.SessionToken
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "user": view, "sessionToken": token})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	u, _ := userFrom(r.Context())
	writeJSON(w, http.StatusOK, viewOf(u))
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	u, _ := userFrom(r.Context())
	var p store.ProfileUpdate
	if err := decode(r, &p); err != nil {
		s.fail(w, r, "", err)
		return
	}
	updated, err := s.store.UpdateProfile(r.Context(), u.ID, p)
	if err != nil {
		s.fail(w, r, "", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "Profile updated successfully", "user": viewOf(updated)})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	u, _ := userFrom(r.Context())
	if err := s.store.Logout(r.Context(), u.ID); err != nil {
		s.fail(w, r, "", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "Logged out successfully"})
}

// -- Conversations --

type lastMessageView struct {
	Message string `json:"message"`
	Time    string `json:"time"`
	Sender  string `json:"sender"`
}

type conversationView struct {
	ID           int64           `json:"id"`
	ContactName  string          `json:"contactName"`
	LastMessage  lastMessageView `json:"lastMessage"`
	MessageCount int             `json:"messageCount"`
	LastUpdated  time.Time       `json:"lastUpdated"`
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	u, _ := userFrom(r.Context())
	summaries, err := s.store.Conversations(r.Context(), u.AccountID())
	if err != nil {
		s.fail(w, r, "", err)
		return
	}
	out := make([]conversationView, 0, len(summaries))
	for _, c := range summaries {
		last := lastMessageView{Message: c.LastMessage, Time: c.LastMessageTime, Sender: c.LastMessageSender}
		if c.MessageCount == 0 {
			last.Message = "No messages"
		}
		out = append(out, conversationView{
			ID:           c.ID,
			ContactName:  c.ContactName,
			LastMessage:  last,
			MessageCount: c.MessageCount,
			LastUpdated:  c.LastUpdated,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	u, _ := userFrom(r.Context())
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, "", err)
		return
	}
	conv, err := s.store.Conversation(r.Context(), id, u.AccountID())
	if err != nil {
		s.fail(w, r, "", err)
		return
	}
	msgs, err := s.store.Messages(r.Context(), id, u.AccountID())
	if err != nil {
		s.fail(w, r, "", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"id": conv.ID, "contactName": conv.ContactName, "messages": msgs})
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	u, _ := userFrom(r.Context())
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, "", err)
		return
	}
	if err := s.store.DeleteConversation(r.Context(), id, u.AccountID()); err != nil {
		s.fail(w, r, "", err)
		return
	}
	s.logger.Info("Conversation deleted.", zap.Int64("conversation_id", id), zap.Int64("user_id", u.ID))
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "Conversation deleted successfully"})
}

// -- Governed flows --

type batchRequest struct {
	Limit int `json:"limit"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	u, _ := userFrom(r.Context())
	o := s.ownerFor(u)
	var req inbox.SendRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, o.Key, err)
		return
	}
	res, err := s.inbox.Send(r.Context(), o, req)
	if err != nil {
		s.fail(w, r, o.Key, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":         true,
		"message":         "Message sent successfully",
		"data":            res,
		"rateLimitStatus": s.gov.Status(o.Key),
	})
}

type batchFlow func(s *Server, r *http.Request, o inbox.Owner, limit int) (*inbox.BatchResult, error)

func (s *Server) runBatch(w http.ResponseWriter, r *http.Request, flow batchFlow, done string) {
	u, _ := userFrom(r.Context())
	o := s.ownerFor(u)
	var req batchRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, o.Key, err)
		return
	}
	res, err := flow(s, r, o, req.Limit)
	if err != nil {
		s.fail(w, r, o.Key, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":         true,
		"message":         done,
		"data":            res,
		"rateLimitStatus": s.gov.Status(o.Key),
	})
}

func (s *Server) handleScrape(w http.ResponseWriter, r *http.Request) {
	s.runBatch(w, r, func(s *Server, r *http.Request, o inbox.Owner, limit int) (*inbox.BatchResult, error) {
		return s.inbox.Scrape(r.Context(), o, limit)
	}, "Conversations scraped")
}

func (s *Server) handleRescrape(w http.ResponseWriter, r *http.Request) {
	s.runBatch(w, r, func(s *Server, r *http.Request, o inbox.Owner, limit int) (*inbox.BatchResult, error) {
		return s.inbox.Rescrape(r.Context(), o, limit)
	}, "Messages rescraped successfully")
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	s.runBatch(w, r, func(s *Server, r *http.Request, o inbox.Owner, limit int) (*inbox.BatchResult, error) {
		return s.inbox.Sync(r.Context(), o, limit)
	}, "Conversations synced")
}

type decisionView struct {
	Allowed    bool    `json:"allowed"`
	Reason     string  `json:"reason,omitempty"`
	WaitTime   int64   `json:"waitTime"`
	Confidence float64 `json:"confidence"`
}

func viewDecision(d governor.Decision) decisionView {
	return decisionView{Allowed: d.Allowed, Reason: d.Reason, WaitTime: d.WaitTime.Milliseconds(), Confidence: d.Confidence}
}

type rateLimitView struct {
	governor.Status
	CurrentChecks map[string]decisionView `json:"currentChecks"`
	Timestamp     time.Time               `json:"timestamp"`
}

func (s *Server) handleRateLimitStatus(w http.ResponseWriter, r *http.Request) {
	u, _ := userFrom(r.Context())
	key := inbox.SessionKey(u.ID)
	writeJSON(w, http.StatusOK, rateLimitView{
		Status: s.gov.Status(key),
		CurrentChecks: map[string]decisionView{
			"canSendMessage":         viewDecision(s.gov.CanPerform(key, governor.CategoryMessage)),
			"canScrapeConversations": viewDecision(s.gov.CanPerform(key, governor.CategoryConversation)),
			"canSyncConversations":   viewDecision(s.gov.CanPerform(key, governor.CategorySync)),
		},
		Timestamp: time.Now().UTC(),
	})
}
