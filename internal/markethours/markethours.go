// Package markethours is the US equity session clock. All wall-clock rules
// are evaluated in America/New_York.
package markethours

import (
	"fmt"
	"time"
	_ "time/tzdata" // container images often ship without zoneinfo
)

// NewYork is the exchange time zone.
var NewYork = mustLoad("America/New_York")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(fmt.Sprintf("markethours: load %s: %v", name, err))
	}
	return loc
}

// Mode is the session segment a timestamp falls into.
type Mode int

const (
	Closed Mode = iota
	Premarket
	Regular
)

func (m Mode) String() string {
	switch m {
	case Premarket:
		return "premarket"
	case Regular:
		return "regular"
	}
	return "closed"
}

// Clock is a wall-clock time of day.
type Clock struct {
	Hour   int
	Minute int
}

// ParseClock parses "HH:MM".
func ParseClock(s string) (Clock, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return Clock{}, fmt.Errorf("parse clock %q: %w", s, err)
	}
	return Clock{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func (c Clock) String() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }

func (c Clock) minutes() int { return c.Hour*60 + c.Minute }

// Session holds the configurable boundaries of one trading day.
type Session struct {
	PremarketOpen Clock
	Open          Clock
	FlattenAt     Clock
	Close         Clock
	Location      *time.Location
}

// DefaultSession is 04:00 premarket, 09:30 open, 15:25 flatten, 16:00 close.
func DefaultSession() Session {
	return Session{
		PremarketOpen: Clock{4, 0},
		Open:          Clock{9, 30},
		FlattenAt:     Clock{15, 25},
		Close:         Clock{16, 0},
		Location:      NewYork,
	}
}

func (s Session) loc() *time.Location {
	if s.Location == nil {
		return NewYork
	}
	return s.Location
}

func (s Session) local(t time.Time) (time.Time, int) {
	lt := t.In(s.loc())
	return lt, lt.Hour()*60 + lt.Minute()
}

// Mode reports the session segment for t. Weekends and exchange holidays
// are Closed all day.
func (s Session) Mode(t time.Time) Mode {
	lt, hm := s.local(t)
	if !IsTradingDay(lt) {
		return Closed
	}
	switch {
	case hm >= s.Open.minutes() && hm < s.Close.minutes():
		return Regular
	case hm >= s.PremarketOpen.minutes() && hm < s.Open.minutes():
		return Premarket
	}
	return Closed
}

// CanEnter reports whether new entries are allowed at t: premarket or
// regular hours, before the flatten time.
func (s Session) CanEnter(t time.Time) bool {
	if s.Mode(t) == Closed {
		return false
	}
	return !s.FlattenDue(t)
}

// FlattenDue reports whether t is at or after the flatten time of its day.
func (s Session) FlattenDue(t time.Time) bool {
	_, hm := s.local(t)
	return hm >= s.FlattenAt.minutes()
}

// Within reports whether t's wall-clock time is in [from, to).
func (s Session) Within(t time.Time, from, to Clock) bool {
	_, hm := s.local(t)
	return hm >= from.minutes() && hm < to.minutes()
}

// Day returns local midnight of t's trading date.
func (s Session) Day(t time.Time) time.Time {
	lt := t.In(s.loc())
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, s.loc())
}

// At returns the instant of clock c on t's local date.
func (s Session) At(t time.Time, c Clock) time.Time {
	lt := t.In(s.loc())
	return time.Date(lt.Year(), lt.Month(), lt.Day(), c.Hour, c.Minute, 0, 0, s.loc())
}

// NextOpen returns the next regular-session open at or after t.
func (s Session) NextOpen(t time.Time) time.Time {
	lt := t.In(s.loc())
	today := s.At(lt, s.Open)
	if lt.Before(today) && IsTradingDay(lt) {
		return today
	}
	d := lt.AddDate(0, 0, 1)
	for i := 0; i < 10; i++ {
		if IsTradingDay(d) {
			return s.At(d, s.Open)
		}
		d = d.AddDate(0, 0, 1)
	}
	return s.At(lt.AddDate(0, 0, 1), s.Open)
}

// StatusString returns a human-readable session status.
func (s Session) StatusString(t time.Time) string {
	switch s.Mode(t) {
	case Regular:
		d := s.At(t, s.Close).Sub(t)
		return fmt.Sprintf("Regular session, closes in %s", fmtDur(d))
	case Premarket:
		d := s.At(t, s.Open).Sub(t)
		return fmt.Sprintf("Pre-market, opens in %s", fmtDur(d))
	}
	next := s.NextOpen(t)
	lt := next.In(s.loc())
	return fmt.Sprintf("Market closed, opens %s %s (%s)",
		lt.Weekday().String()[:3], lt.Format("15:04"), fmtDur(next.Sub(t)))
}

// IsWeekday returns true if t is Mon-Fri in New York.
func IsWeekday(t time.Time) bool {
	wd := t.In(NewYork).Weekday()
	return wd >= time.Monday && wd <= time.Friday
}

// IsTradingDay returns true if t is a weekday and not an exchange holiday.
func IsTradingDay(t time.Time) bool {
	return IsWeekday(t) && !IsHoliday(t)
}

func fmtDur(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
