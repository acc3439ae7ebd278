package timeutil

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const DateLayout = "2006-01-02"

// MinutesPerDay bounds the lossless range of ToMinutes/ToClock.
const MinutesPerDay = 24 * 60

// ParseError reports a date or clock label that matches none of the known shapes.
type ParseError struct {
	Input string
	What  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("cannot parse %s from %q", e.What, e.Input)
}

// ToMinutes converts "HH:MM" to minutes since midnight.
func ToMinutes(clock string) (int, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(clock), ":")
	if !ok {
		return 0, &ParseError{Input: clock, What: "clock"}
	}
	hour, err := strconv.Atoi(h)
	if err != nil || hour < 0 {
		return 0, &ParseError{Input: clock, What: "clock"}
	}
	minute, err := strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return 0, &ParseError{Input: clock, What: "clock"}
	}
	return hour*60 + minute, nil
}

// ToClock formats minutes since midnight as "HH:MM". Values past midnight keep
// counting hours (1500 -> "25:00") so an overflowing end time stays visible.
func ToClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// MinuteOfDay returns t's wall-clock minutes since midnight.
func MinuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// DateOf truncates t to midnight in its own location.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// At returns the instant on date's calendar day at the given minute of day.
func At(date time.Time, minutes int) time.Time {
	return DateOf(date).Add(time.Duration(minutes) * time.Minute)
}

// ParseDate parses a "YYYY-MM-DD" date in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation("2006-1-2", strings.TrimSpace(s), loc)
	if err != nil {
		return time.Time{}, &ParseError{Input: s, What: "date"}
	}
	return t, nil
}

// relative labels, checked in order. The site renders its own native words.
var relativeLabels = []struct {
	words  []string
	offset int
}{
	{words: []string{"tomorrow", "明天"}, offset: 1},
	{words: []string{"yesterday", "昨天"}, offset: -1},
	{words: []string{"today", "今天"}, offset: 0},
}

var (
	datePattern  = regexp.MustCompile(`(\d{4}-\d{1,2}-\d{1,2})`)
	rangePattern = regexp.MustCompile(`(\d{1,2}:\d{2})\s*-{1,2}\s*(\d{1,2}:\d{2})`)
)

// ResolveRelativeDate maps a history label to an absolute date. Relative words
// are resolved against today; otherwise the first YYYY-M-D substring is used.
func ResolveRelativeDate(label string, today time.Time) (time.Time, error) {
	lower := strings.ToLower(label)
	for _, rl := range relativeLabels {
		for _, w := range rl.words {
			if strings.Contains(lower, w) {
				return DateOf(today).AddDate(0, 0, rl.offset), nil
			}
		}
	}
	m := datePattern.FindString(label)
	if m == "" {
		return time.Time{}, &ParseError{Input: label, What: "date"}
	}
	return ParseDate(m, today.Location())
}

// ParseClockRange extracts the "H:MM -- H:MM" range of a history label.
func ParseClockRange(label string) (begin, end int, err error) {
	m := rangePattern.FindStringSubmatch(label)
	if m == nil {
		return 0, 0, &ParseError{Input: label, What: "time range"}
	}
	if begin, err = ToMinutes(m[1]); err != nil {
		return 0, 0, err
	}
	if end, err = ToMinutes(m[2]); err != nil {
		return 0, 0, err
	}
	return begin, end, nil
}
