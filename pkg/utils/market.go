package utils

import (
	"fmt"
	"strings"
	"time"
)

// IndiaLocation is the timezone for Indian markets.
var IndiaLocation *time.Location

func init() {
	var err error
	IndiaLocation, err = time.LoadLocation("Asia/Kolkata")
	if err != nil {
		// Fallback to UTC+5:30
		IndiaLocation = time.FixedZone("IST", 5*60*60+30*60)
	}
}

// TradingSession describes the regular trading hours of a market.
// The zero value is a market that never closes.
type TradingSession struct {
	Location *time.Location
	Open     int // minutes after midnight
	Close    int // minutes after midnight, exclusive
	Days     []time.Weekday
}

// NSESession returns the NSE equity session: 9:15 - 15:30 IST, Monday to Friday.
func NSESession() TradingSession {
	return TradingSession{
		Location: IndiaLocation,
		Open:     555,
		Close:    930,
		Days:     []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
	}
}

// ParseSession builds a session from "HH:MM" bounds, a timezone name and
// weekday names. An empty open and close yields the always-open session.
func ParseSession(timezone, open, close string, days []string) (TradingSession, error) {
	if open == "" && close == "" {
		return TradingSession{}, nil
	}
	loc := time.UTC
	if timezone != "" {
		l, err := time.LoadLocation(timezone)
		if err != nil {
			return TradingSession{}, fmt.Errorf("load timezone %q: %w", timezone, err)
		}
		loc = l
	}
	o, err := parseClock(open)
	if err != nil {
		return TradingSession{}, err
	}
	c, err := parseClock(close)
	if err != nil {
		return TradingSession{}, err
	}
	if c <= o {
		return TradingSession{}, fmt.Errorf("session close %s must be after open %s", close, open)
	}

	s := TradingSession{Location: loc, Open: o, Close: c}
	for _, d := range days {
		wd, err := parseWeekday(d)
		if err != nil {
			return TradingSession{}, err
		}
		s.Days = append(s.Days, wd)
	}
	return s, nil
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

func parseWeekday(s string) (time.Weekday, error) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := d.String()
		if strings.EqualFold(s, name) || strings.EqualFold(s, name[:3]) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("invalid weekday %q", s)
}

// AlwaysOpen reports whether the session has no closing hours.
func (s TradingSession) AlwaysOpen() bool {
	return s.Location == nil && s.Open == 0 && s.Close == 0
}

// IsOpen reports whether t falls within the session.
func (s TradingSession) IsOpen(t time.Time) bool {
	if s.AlwaysOpen() {
		return true
	}
	loc := s.Location
	if loc == nil {
		loc = time.UTC
	}
	now := t.In(loc)
	if !s.tradingDay(now.Weekday()) {
		return false
	}
	minutes := now.Hour()*60 + now.Minute()
	return minutes >= s.Open && minutes < s.Close
}

// NextOpen returns the next session open at or after t.
func (s TradingSession) NextOpen(t time.Time) time.Time {
	if s.AlwaysOpen() || s.IsOpen(t) {
		return t
	}
	loc := s.Location
	if loc == nil {
		loc = time.UTC
	}
	now := t.In(loc)
	next := time.Date(now.Year(), now.Month(), now.Day(), s.Open/60, s.Open%60, 0, 0, loc)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	for i := 0; i < 7 && !s.tradingDay(next.Weekday()); i++ {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func (s TradingSession) tradingDay(d time.Weekday) bool {
	if len(s.Days) == 0 {
		return true
	}
	for _, wd := range s.Days {
		if wd == d {
			return true
		}
	}
	return false
}
