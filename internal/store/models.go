package store

import "time"

// Conversation is one stored thread with a counterparty.
type Conversation struct {
	ID          int64  `json:"id"`
	ContactName string `json:"contactName"`
	// AccountID is the owning LinkedIn identity; nil rows are orphaned.
	AccountID   *string   `json:"linkedinAccountId,omitempty"`
	UserID      *int64    `json:"userId,omitempty"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// Summary is a conversation with its latest message, as listed to users.
type Summary struct {
	Conversation
	LastMessage       string `json:"lastMessage"`
	LastMessageTime   string `json:"lastMessageTime"`
	LastMessageSender string `json:"lastMessageSender"`
	MessageCount      int    `json:"messageCount"`
}

// Message is a stored message. IDs follow insertion order.
type Message struct {
	ID             int64  `json:"id"`
	ConversationID int64  `json:"conversationId"`
	Sender         string `json:"sender"`
	Receiver       string `json:"receiver"`
	Body           string `json:"message"`
	Time           string `json:"time"`
}

// NewMessage is a message about to be inserted.
type NewMessage struct {
	Sender   string
	Receiver string
	Body     string
	Time     string
}

// User is an application user.
type User struct {
	ID                 int64      `json:"id"`
	Username           string     `json:"username"`
	LinkedInEmail      *string    `json:"linkedinEmail,omitempty"`
	LinkedInProfileURL *string    `json:"linkedinProfileUrl,omitempty"`
	DisplayName        *string    `json:"displayName,omitempty"`
	SessionToken       *string    `json:"-"`
	CreatedAt          time.Time  `json:"createdAt"`
	LastLogin          *time.Time `json:"lastLogin,omitempty"`
	IsActive           bool       `json:"isActive"`
}

// Name is the display name, falling back to the username.
func (u User) Name() string {
	if u.DisplayName != nil && *u.DisplayName != "" {
		return *u.DisplayName
	}
	return u.Username
}

// AccountID is the LinkedIn identity conversations are scoped by: the
// profile URL, else the display name.
func (u User) AccountID() string {
	if u.LinkedInProfileURL != nil && *u.LinkedInProfileURL != "" {
		return *u.LinkedInProfileURL
	}
	if u.DisplayName != nil && *u.DisplayName != "" {
		return *u.DisplayName
	}
	return ""
}

// ProfileUpdate carries optional profile fields; nil leaves a field unchanged.
type ProfileUpdate struct {
	LinkedInEmail *string `json:"linkedinEmail"`
	ProfileURL    *string `json:"profileUrl"`
	DisplayName   *string `json:"displayName"`
}

// LinkedInSession is the last observed LinkedIn login state of a user.
type LinkedInSession struct {
	UserID       int64      `json:"userId"`
	LoggedIn     bool       `json:"linkedinLoggedIn"`
	LastActivity time.Time  `json:"lastActivity"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
}
