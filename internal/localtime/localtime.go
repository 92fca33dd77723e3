// Package localtime maps instants to the conversation's local calendar,
// DST-correct. The default zone is Europe/Stockholm.
package localtime

import (
	"fmt"
	"time"
)

// DefaultZone is the time zone used when a conversation has no override.
const DefaultZone = "Europe/Stockholm"

// Clock hands out the current instant. Injectable for tests.
type Clock interface {
	Now() time.Time
}

// SystemClock is the real clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Zone wraps a loaded location with the quiet-hours window.
type Zone struct {
	loc        *time.Location
	quietStart int // hour, inclusive
	quietEnd   int // hour, exclusive
}

// NewZone loads the named location. quietStart/quietEnd are local hours;
// the window may wrap midnight (22 → 7).
func NewZone(name string, quietStart, quietEnd int) (*Zone, error) {
	if name == "" {
		name = DefaultZone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("loading time zone %q: %w", name, err)
	}
	return &Zone{loc: loc, quietStart: quietStart, quietEnd: quietEnd}, nil
}

// LocalDate returns the calendar date of t in this zone, as YYYY-MM-DD.
func (z *Zone) LocalDate(t time.Time) string {
	return t.In(z.loc).Format("2006-01-02")
}

// IsQuietHours reports whether t falls inside the quiet window.
// With the default 22→7 window, 22:00 is quiet, 06:59 is quiet,
// 07:00 is not.
func (z *Zone) IsQuietHours(t time.Time) bool {
	h := t.In(z.loc).Hour()
	if z.quietStart == z.quietEnd {
		return false
	}
	if z.quietStart < z.quietEnd {
		return h >= z.quietStart && h < z.quietEnd
	}
	return h >= z.quietStart || h < z.quietEnd
}

// Location exposes the underlying location for callers that need to build
// local instants themselves.
func (z *Zone) Location() *time.Location { return z.loc }
