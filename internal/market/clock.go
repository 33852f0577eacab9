// Package market answers whether the exchange is open for trading.
package market

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Clock reports whether trading is allowed at t.
type Clock interface {
	IsOpen(ctx context.Context, t time.Time) (bool, error)
}

// Always is a Clock for venues that never close.
type Always struct{}

func (Always) IsOpen(context.Context, time.Time) (bool, error) { return true, nil }

// Session is a weekday trading window in a fixed location.
type Session struct {
	Location *time.Location
	Open     time.Duration // offset from local midnight
	Close    time.Duration
	Holidays map[string]bool // YYYY-MM-DD in Location
}

// NewYorkSession returns the regular NYSE session, 09:30-16:00 ET.
func NewYorkSession(tz string) (Session, error) {
	if strings.TrimSpace(tz) == "" {
		tz = "America/New_York"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return Session{}, fmt.Errorf("load timezone %s: %w", tz, err)
	}
	return Session{
		Location: loc,
		Open:     9*time.Hour + 30*time.Minute,
		Close:    16 * time.Hour,
	}, nil
}

// Local is a Clock evaluated from a Session without any network calls.
type Local struct {
	session Session
}

func NewLocal(s Session) *Local {
	if s.Location == nil {
		s.Location = time.UTC
	}
	return &Local{session: s}
}

func (l *Local) IsOpen(_ context.Context, t time.Time) (bool, error) {
	local := t.In(l.session.Location)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false, nil
	}
	if l.session.Holidays[local.Format("2006-01-02")] {
		return false, nil
	}
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, l.session.Location)
	since := local.Sub(midnight)
	return since >= l.session.Open && since < l.session.Close, nil
}
