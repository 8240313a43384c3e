package store

import (
	"strings"
	"time"
)

// messageTimeLayouts are the absolute formats the messaging UI renders in
// its title and datetime attributes.
var messageTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"Monday, January 2, 2006 at 3:04 PM",
	"Monday, January 2, 2006 3:04 PM",
	"Mon, Jan 2, 2006, 3:04 PM",
	"January 2, 2006 at 3:04 PM",
	"January 2, 2006 3:04 PM",
	"Jan 2, 2006, 3:04 PM",
	"Jan 2, 2006 3:04 PM",
	"Jan 2, 2006",
	"1/2/2006, 3:04 PM",
	"1/2/2006 3:04 PM",
	"1/2/2006",
}

// ParseMessageTime parses a rendered message time. Values without an offset
// are read in loc, the zone the browser renders in; a nil loc means UTC.
// Relative or partial values ("3:04 PM", "Yesterday") report false; callers
// treat them as not newer than any watermark.
func ParseMessageTime(s string, loc *time.Location) (time.Time, bool) {
	if loc == nil {
		loc = time.UTC
	}
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range messageTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
