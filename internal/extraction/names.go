// internal/extraction/names.go
package extraction

import (
	"strings"
	"unicode"
)

const (
	// You is the canonical sender for messages written by the account owner.
	You = "You"
	// Unknown marks a message whose sender could not be resolved.
	Unknown = "Unknown"
)

// collapse trims and folds internal whitespace.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// normalizeSender canonicalizes a rendered sender label. A leading "You" token
// is stripped and a bare one, like the owner's own display name, becomes You.
// Names that merely begin with the letters (e.g. "Youssef") are left alone.
func normalizeSender(raw, self string) string {
	name := collapse(raw)
	if name == "" {
		return ""
	}
	if rest, ok := cutYou(name); ok {
		if rest == "" || strings.EqualFold(rest, "sent") {
			return You
		}
		return rest
	}
	if isSelf(name, self) {
		return You
	}
	return name
}

// cutYou strips a leading "You" token followed by a boundary.
func cutYou(name string) (string, bool) {
	if len(name) < 3 || !strings.EqualFold(name[:3], "you") {
		return name, false
	}
	rest := name[3:]
	if rest == "" {
		return "", true
	}
	r := rune(rest[0])
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return name, false
	}
	return strings.TrimLeftFunc(rest, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	}), true
}

func isSelf(name, self string) bool {
	self = collapse(self)
	return self != "" && strings.EqualFold(name, self)
}

// validListName rejects placeholders the conversation list renders before it
// has loaded.
func validListName(name string) bool {
	n := strings.ToLower(collapse(name))
	return len([]rune(n)) > 1 && n != "messaging" && n != "unknown"
}

// matchName reports a case-insensitive two-way substring match.
func matchName(candidate, hint string) bool {
	c, h := strings.ToLower(collapse(candidate)), strings.ToLower(collapse(hint))
	if c == "" || h == "" {
		return false
	}
	return strings.Contains(c, h) || strings.Contains(h, c)
}

// titleName extracts the leading segment of a "Name | LinkedIn" page title.
func titleName(title string) string {
	head, _, _ := strings.Cut(title, "|")
	head = collapse(head)
	// Unread counts render as "(3) Jane Doe".
	if strings.HasPrefix(head, "(") {
		if _, after, ok := strings.Cut(head, ")"); ok {
			head = collapse(after)
		}
	}
	if !validListName(head) || strings.EqualFold(head, "linkedin") {
		return ""
	}
	return head
}

// inferCounterparty picks the other party's display name from the senders,
// falling back to the given candidates in order.
func inferCounterparty(senders []string, fallbacks ...string) string {
	seen := make(map[string]bool)
	var names []string
	for _, s := range senders {
		if s == "" || s == You || s == Unknown {
			continue
		}
		key := strings.ToLower(s)
		if seen[key] {
			continue
		}
		seen[key] = true
		names = append(names, s)
	}
	if len(names) > 0 {
		return strings.Join(names, ", ")
	}
	for _, f := range fallbacks {
		if f = collapse(f); validListName(f) {
			return f
		}
	}
	return ""
}

// receiverFor returns the complement of sender within the conversation.
func receiverFor(sender, counterparty string) string {
	if sender == You {
		if counterparty == "" {
			return Unknown
		}
		return counterparty
	}
	return You
}
