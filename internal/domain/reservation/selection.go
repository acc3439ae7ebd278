package reservation

import (
	"strconv"
	"strings"
	"time"

	"github.com/example/seat-scheduler/internal/timeutil"
)

// NowMarker is the value the site uses for the "start right now" option.
const NowMarker = "now"

// SlotOption is one clock value the site currently offers, as scraped.
// Value is a decimal minute offset or NowMarker.
type SlotOption struct {
	Value string
	Label string
}

// Minutes resolves the option to minutes since midnight.
func (o SlotOption) Minutes(now time.Time) (int, bool) {
	v := strings.TrimSpace(o.Value)
	if v == NowMarker {
		return timeutil.MinuteOfDay(now), true
	}
	m, err := strconv.Atoi(v)
	if err != nil || m < 0 {
		return 0, false
	}
	return m, true
}

// Selection is the option chosen by SelectNearest.
type Selection struct {
	Option  SlotOption
	Minutes int
	// Diff is Minutes - target; negative means earlier than asked.
	Diff int
}

func (s Selection) Clock() string { return timeutil.ToClock(s.Minutes) }

// SelectNearest returns the offered option closest to target within maxDiff
// minutes (inclusive). On equal distance the incumbent is only replaced by a
// candidate on the preferred side (earlier when preferEarlier) when the
// incumbent is not already on it. It reports false when nothing qualifies.
func SelectNearest(target int, candidates []SlotOption, maxDiff int, preferEarlier bool, now time.Time) (Selection, bool) {
	var (
		best  Selection
		found bool
	)
	for _, c := range candidates {
		m, ok := c.Minutes(now)
		if !ok {
			continue
		}
		diff := m - target
		abs := absInt(diff)
		if abs > maxDiff {
			continue
		}
		if !found {
			best, found = Selection{Option: c, Minutes: m, Diff: diff}, true
			continue
		}
		bestAbs := absInt(best.Diff)
		switch {
		case abs < bestAbs:
			best = Selection{Option: c, Minutes: m, Diff: diff}
		case abs == bestAbs && onSide(diff, preferEarlier) && !onSide(best.Diff, preferEarlier):
			best = Selection{Option: c, Minutes: m, Diff: diff}
		}
	}
	return best, found
}

// Offered lists the resolvable options as clock strings, in offer order.
func Offered(candidates []SlotOption, now time.Time) []string {
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if m, ok := c.Minutes(now); ok {
			out = append(out, timeutil.ToClock(m))
		}
	}
	return out
}

func onSide(diff int, earlier bool) bool {
	if earlier {
		return diff < 0
	}
	return diff > 0
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
