// Package calendar keys bars to trading days and parses timeframes.
//
// Crypto markets trade around the clock, so a "day" is simply the calendar
// date of the bar's open time in the configured location (UTC by default).
package calendar

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"
)

// DayLayout is the format of day keys.
const DayLayout = "2006-01-02"

// DayKey returns the YYYY-MM-DD date of t in loc. A nil loc means UTC.
func DayKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(DayLayout)
}

// LoadLocation resolves an IANA zone name; an empty name means UTC.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" || strings.EqualFold(name, "UTC") {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("calendar: load location %q: %w", name, err)
	}
	return loc, nil
}

// ParseTimeframe converts exchange interval strings such as "1m", "5m", "1h"
// or "1d" into a duration.
func ParseTimeframe(tf string) (time.Duration, error) {
	tf = strings.TrimSpace(tf)
	if len(tf) < 2 {
		return 0, fmt.Errorf("calendar: unsupported timeframe %q", tf)
	}
	n, err := strconv.Atoi(tf[:len(tf)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("calendar: unsupported timeframe %q", tf)
	}
	switch tf[len(tf)-1] {
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return 0, fmt.Errorf("calendar: unsupported timeframe %q", tf)
}

// BarOpen returns the open time of the tf-sized bucket containing t.
// Buckets are aligned to the Unix epoch, as exchange klines are.
func BarOpen(t time.Time, tf time.Duration) time.Time {
	return t.Truncate(tf)
}

// NextBarClose returns the first bar boundary strictly after t.
func NextBarClose(t time.Time, tf time.Duration) time.Time {
	return BarOpen(t, tf).Add(tf)
}
