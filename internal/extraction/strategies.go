// internal/extraction/strategies.go
package extraction

import "fmt"

// Strategy is one named way of finding a field in the messaging UI.
type Strategy struct {
	Name     string `json:"name"`
	Version  int    `json:"version"`
	Selector string `json:"selector"`
	// Attrs are read in order before falling back to the element text.
	Attrs []string `json:"attrs,omitempty"`
}

// ID is the stable label used in logs, e.g. "group-name@1".
func (s Strategy) ID() string {
	return fmt.Sprintf("%s@%d", s.Name, s.Version)
}

// Cascade is an ordered list of strategies for one logical field. The first
// strategy producing a non-empty result wins.
type Cascade struct {
	Field      string     `json:"field"`
	Strategies []Strategy `json:"strategies"`
}

// Selectors returns the CSS selectors in cascade order.
func (c Cascade) Selectors() []string {
	out := make([]string, len(c.Strategies))
	for i, s := range c.Strategies {
		out[i] = s.Selector
	}
	return out
}

// Lookup finds a strategy by its ID.
func (c Cascade) Lookup(id string) (Strategy, bool) {
	for _, s := range c.Strategies {
		if s.ID() == id {
			return s, true
		}
	}
	return Strategy{}, false
}

// Prepend returns a copy of the cascade with extra strategies tried first.
func (c Cascade) Prepend(extra ...Strategy) Cascade {
	out := Cascade{Field: c.Field, Strategies: make([]Strategy, 0, len(extra)+len(c.Strategies))}
	out.Strategies = append(out.Strategies, extra...)
	out.Strategies = append(out.Strategies, c.Strategies...)
	return out
}

// Catalog holds every cascade the engine uses.
type Catalog struct {
	ConversationList Cascade
	ConversationItem Cascade
	ItemName         Cascade
	SearchInput      Cascade
	MessageList      Cascade
	MessageNode      Cascade
	Sender           Cascade
	Body             Cascade
	Time             Cascade
	Header           Cascade
	SelectedItemName Cascade
	Composer         Cascade
	SendButton       Cascade
}

func s(name string, version int, selector string, attrs ...string) Strategy {
	return Strategy{Name: name, Version: version, Selector: selector, Attrs: attrs}
}

// DefaultCatalog returns the strategies known to work against the messaging UI,
// newest markup first.
func DefaultCatalog() Catalog {
	return Catalog{
		ConversationList: Cascade{Field: "conversation list", Strategies: []Strategy{
			s("conversations-list", 2, ".msg-conversations-container__conversations-list"),
			s("conversations-list", 1, ".msg-conversations-list"),
			s("generic-list", 1, ".conversations-list"),
			s("test-attr", 1, "[data-test-conversations-list]"),
			s("container-ul", 1, ".msg-conversations-container ul"),
			s("generic-container-ul", 1, ".conversations-container ul"),
		}},
		ConversationItem: Cascade{Field: "conversation item", Strategies: []Strategy{
			s("listitem", 2, ".msg-conversation-listitem"),
			s("list-li", 1, ".msg-conversations-list li"),
			s("generic-item", 1, ".conversation-list-item"),
			s("test-attr", 1, "[data-test-conversation-item]"),
			s("container-li", 1, ".msg-conversations-container__conversations-list li"),
			s("generic-li", 1, ".conversations-list li"),
		}},
		ItemName: Cascade{Field: "conversation name", Strategies: []Strategy{
			s("participant-names", 2, ".msg-conversation-listitem__participant-names"),
			s("participant-name", 1, ".msg-conversation-listitem__participant-name"),
			s("participant-name-text", 1, ".msg-conversation-listitem__participant-name-text"),
			s("listitem-name", 1, ".msg-conversation-listitem__name"),
			s("listitem-title", 1, ".msg-conversation-listitem__title"),
			s("test-attr", 1, "[data-test-conversation-name]"),
			s("conversation-name", 1, ".conversation-name"),
			s("participant-name-generic", 1, ".participant-name"),
			s("contact-name", 1, ".contact-name"),
			s("h3", 1, "h3"),
			s("h4", 1, "h4"),
			s("name", 1, ".name"),
			s("title", 1, ".title"),
		}},
		SearchInput: Cascade{Field: "search box", Strategies: []Strategy{
			s("search-input", 2, ".msg-conversations-container__search-input"),
			s("search-input-inner", 1, ".msg-conversations-container__search-input input"),
			s("search-aria", 1, `input[aria-label*="Search messages"]`),
		}},
		MessageList: Cascade{Field: "message list", Strategies: []Strategy{
			s("message-list", 2, ".msg-s-message-list"),
			s("conversation-messages", 1, ".msg-conversation-messages"),
			s("messages-list", 1, ".messages-list"),
			s("generic-messages", 1, ".conversation-messages"),
			s("test-attr", 1, "[data-test-message-list]"),
			s("message-list-container", 1, ".msg-s-message-list__container"),
		}},
		MessageNode: Cascade{Field: "message", Strategies: []Strategy{
			s("list-event", 2, ".msg-s-message-list__event"),
			s("list-message", 1, ".msg-s-message-list__message"),
			s("event-listitem", 1, ".msg-s-event-listitem"),
			s("message-group", 1, ".msg-s-message-group"),
			s("test-attr", 1, "[data-test-message]"),
			s("event-item", 1, ".msg-s-message-list__event-item"),
		}},
		Sender: Cascade{Field: "sender", Strategies: []Strategy{
			s("group-name", 2, ".msg-s-message-group__name"),
			s("message-sender", 1, ".msg-s-message-list__message-sender"),
			s("message-sender-name", 1, ".msg-s-message-list__message-sender-name"),
			s("group-name-text", 1, ".msg-s-message-group__name-text"),
			s("event-sender", 1, ".msg-s-event-listitem__sender"),
			s("test-attr", 1, "[data-test-message-sender]"),
			s("sender-span", 1, ".msg-s-message-list__message-sender span"),
			s("sender-link", 1, ".msg-s-message-list__message-sender a"),
			s("sender-name-text", 1, ".msg-s-message-list__message-sender-name-text"),
			s("sender-text", 1, ".msg-s-message-list__message-sender-text"),
			s("sender-aria", 1, ".msg-s-message-list__message-sender [aria-label]", "aria-label"),
		}},
		Body: Cascade{Field: "body", Strategies: []Strategy{
			s("event-body", 2, ".msg-s-event-listitem__body"),
			s("message-content", 1, ".msg-s-message-list__message-content"),
			s("group-message", 1, ".msg-s-message-group__message"),
			s("message-text", 1, ".msg-s-message-list__message-text"),
			s("event-content", 1, ".msg-s-event-listitem__content"),
			s("test-attr", 1, "[data-test-message-content]"),
			s("message-body", 1, ".msg-s-message-list__message-body"),
		}},
		Time: Cascade{Field: "time", Strategies: []Strategy{
			s("group-timestamp", 2, ".msg-s-message-group__timestamp", "title", "datetime"),
			s("message-time", 1, ".msg-s-message-list__message-time", "title", "datetime"),
			s("event-time", 1, ".msg-s-event-listitem__time", "title", "datetime"),
			s("time-element", 1, "time", "title", "datetime"),
			s("message-timestamp", 1, ".msg-s-message-list__message-timestamp", "title", "datetime"),
			s("test-attr", 1, "[data-test-message-time]", "title", "datetime"),
		}},
		Header: Cascade{Field: "conversation header", Strategies: []Strategy{
			s("header-title", 2, ".msg-conversation-header__title"),
			s("header-name", 1, ".msg-conversation-header__name"),
			s("header-h1", 1, ".msg-conversation-header h1"),
			s("header-title-text", 1, ".msg-conversation-header__title-text"),
			s("header-name-text", 1, ".msg-conversation-header__name-text"),
			s("header-participant", 1, ".msg-conversation-header__participant-name"),
			s("header-participant-text", 1, ".msg-conversation-header__participant-name-text"),
			s("thread-title", 1, ".msg-entity-lockup__entity-title"),
		}},
		SelectedItemName: Cascade{Field: "selected conversation name", Strategies: []Strategy{
			s("selected-participant-names", 2, ".msg-conversation-listitem--selected .msg-conversation-listitem__participant-names"),
			s("selected-participant-name", 1, ".msg-conversation-listitem--selected .msg-conversation-listitem__participant-name"),
			s("selected-participant-name-text", 1, ".msg-conversation-listitem--selected .msg-conversation-listitem__participant-name-text"),
			s("selected-name", 1, ".msg-conversation-listitem--selected .msg-conversation-listitem__name"),
			s("selected-title", 1, ".msg-conversation-listitem--selected .msg-conversation-listitem__title"),
			s("selected-test-attr", 1, ".msg-conversation-listitem--selected [data-test-conversation-name]"),
		}},
		Composer: Cascade{Field: "message composer", Strategies: []Strategy{
			s("form-contenteditable", 2, ".msg-form__contenteditable"),
			s("form-textarea", 1, ".msg-form__textarea"),
			s("test-id", 1, `[data-testid="message-input"]`),
			s("compose-contenteditable", 1, ".compose-form__contenteditable"),
			s("any-contenteditable", 1, `div[contenteditable="true"]`),
			s("placeholder-textarea", 1, `textarea[placeholder*="message"]`),
		}},
		SendButton: Cascade{Field: "send button", Strategies: []Strategy{
			s("aria-send", 2, `button[aria-label="Send"]`),
			s("control-send", 1, `button[data-control-name="send_message"]`),
			s("aria-send-message", 1, `button[aria-label="Send message"]`),
			s("form-send-button", 1, ".msg-form__send-button:not([disabled])"),
			s("submit", 1, `button[type="submit"]`),
		}},
	}
}
