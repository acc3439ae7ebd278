package timeutil

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClockRoundTrip(t *testing.T) {
	for m := 0; m < MinutesPerDay; m++ {
		got, err := ToMinutes(ToClock(m))
		require.NoError(t, err)
		require.Equal(t, m, got)
	}
}

func TestToMinutesRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "10", "aa:bb", "10:75", "-1:00"} {
		_, err := ToMinutes(in)
		var pe *ParseError
		assert.True(t, errors.As(err, &pe), "input %q", in)
	}
}

func TestToClockOverflow(t *testing.T) {
	assert.Equal(t, "25:00", ToClock(1500))
	assert.Equal(t, "07:05", ToClock(425))
}

func TestResolveRelativeDate(t *testing.T) {
	today := time.Date(2025, 6, 10, 15, 4, 0, 0, time.UTC)

	cases := map[string]string{
		"today 08:00 -- 12:00":    "2025-06-10",
		"Tomorrow 08:00 -- 12:00": "2025-06-11",
		"yesterday 09:00":         "2025-06-09",
		"明天 08:00 -- 12:00":       "2025-06-11",
		"今天 08:00 -- 12:00":       "2025-06-10",
		"昨天 08:00 -- 12:00":       "2025-06-09",
		"2025-06-01 08:00 -- 12:00": "2025-06-01",
		"on 2025-6-3 at 09:00":    "2025-06-03",
	}
	for label, want := range cases {
		got, err := ResolveRelativeDate(label, today)
		require.NoError(t, err, label)
		assert.Equal(t, want, got.Format(DateLayout), label)
	}
}

func TestResolveRelativeDateParseError(t *testing.T) {
	_, err := ResolveRelativeDate("next week, maybe", time.Now())
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "date", pe.What)
}

func TestParseClockRange(t *testing.T) {
	b, e, err := ParseClockRange("2025-06-09 8:00 -- 12:30")
	require.NoError(t, err)
	assert.Equal(t, 480, b)
	assert.Equal(t, 750, e)

	_, _, err = ParseClockRange("2025-06-09")
	assert.Error(t, err)
}

func TestAt(t *testing.T) {
	d := time.Date(2025, 6, 9, 17, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 6, 9, 14, 0, 0, 0, time.UTC), At(d, 840))
}
