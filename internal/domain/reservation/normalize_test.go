package reservation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strp(s string) *string      { return &s }
func intp(i int) *int            { return &i }
func boolp(b bool) *bool         { return &b }
func floatp(f float64) *float64 { return &f }

func baseInput() RequestInput {
	return RequestInput{Floor: "3", Room: "4", SeatID: "021"}
}

var morning = time.Date(2025, 6, 9, 9, 10, 0, 0, time.UTC)

func TestNormalizeDefaults(t *testing.T) {
	in := baseInput()
	req, notes, err := Normalize(in, morning)
	require.NoError(t, err)

	assert.Equal(t, "2025-06-09", req.Date.Format("2006-01-02"))
	assert.Equal(t, DefaultPlace, req.Place)
	assert.Equal(t, TimeWindowPreference{Time: "09:10", MaxDiff: 30, PreferEarly: true}, req.BeginTime)
	assert.Equal(t, TimeWindowPreference{Time: "13:10", MaxDiff: 30, PreferEarly: false}, req.EndTime)
	assert.Equal(t, 4.0, req.ExpectDuration)
	assert.True(t, req.SatisfyDuration)
	assert.NotEmpty(t, notes)
	assert.Equal(t, "Floor 3", req.FloorName())
	assert.Equal(t, "Floor 3 Outer Ring", req.RoomName())
}

func TestNormalizeFillsPartialWindows(t *testing.T) {
	in := baseInput()
	in.BeginTime = &WindowInput{Time: strp("08:00")}
	in.EndTime = &WindowInput{MaxDiff: intp(15)}
	in.ExpectDuration = floatp(2.5)

	req, _, err := Normalize(in, morning)
	require.NoError(t, err)
	assert.Equal(t, TimeWindowPreference{Time: "08:00", MaxDiff: 30, PreferEarly: true}, req.BeginTime)
	assert.Equal(t, TimeWindowPreference{Time: "10:30", MaxDiff: 15, PreferEarly: false}, req.EndTime)
}

func TestNormalizeKeepsExplicitFalse(t *testing.T) {
	in := baseInput()
	in.SatisfyDuration = boolp(false)
	req, _, err := Normalize(in, morning)
	require.NoError(t, err)
	assert.False(t, req.SatisfyDuration)
}

func TestNormalizeDoesNotMutateInput(t *testing.T) {
	in := baseInput()
	in.BeginTime = &WindowInput{Time: strp("10:00"), PreferEarly: boolp(true)}
	in.EndTime = &WindowInput{Time: strp("09:00"), PreferEarly: boolp(false)}
	_, _, err := Normalize(in, morning)
	require.NoError(t, err)
	assert.Equal(t, "10:00", *in.BeginTime.Time)
	assert.Nil(t, in.BeginTime.MaxDiff)
	assert.Nil(t, in.ExpectDuration)
}

func TestNormalizeSwapCarriesTieBreak(t *testing.T) {
	in := baseInput()
	in.BeginTime = &WindowInput{Time: strp("10:00"), PreferEarly: boolp(true)}
	in.EndTime = &WindowInput{Time: strp("09:00"), PreferEarly: boolp(false)}

	req, _, err := Normalize(in, morning)
	require.NoError(t, err)
	assert.Equal(t, "09:00", req.BeginTime.Time)
	assert.False(t, req.BeginTime.PreferEarly)
	assert.Equal(t, "10:00", req.EndTime.Time)
	assert.True(t, req.EndTime.PreferEarly)
}

func TestNormalizeClampsToClosingTime(t *testing.T) {
	in := baseInput()
	in.BeginTime = &WindowInput{Time: strp("19:00")}

	req, _, err := Normalize(in, morning)
	require.NoError(t, err)
	assert.Equal(t, "22:30", req.EndTime.Time, "19:00 + 4h = 23:00 is past closing")
}

func TestNormalizeCapsDuration(t *testing.T) {
	in := baseInput()
	in.BeginTime = &WindowInput{Time: strp("08:00")}
	in.EndTime = &WindowInput{Time: strp("18:00")}

	req, _, err := Normalize(in, morning)
	require.NoError(t, err)
	assert.Equal(t, "16:00", req.EndTime.Time)
}

func TestNormalizeRewritesPastDate(t *testing.T) {
	in := baseInput()
	in.Date = "2025-06-01"
	req, _, err := Normalize(in, morning)
	require.NoError(t, err)
	assert.Equal(t, "2025-06-09", req.Date.Format("2006-01-02"))

	in.Date = "2025-06-12"
	req, _, err = Normalize(in, morning)
	require.NoError(t, err)
	assert.Equal(t, "2025-06-12", req.Date.Format("2006-01-02"))
}

func TestNormalizeValidation(t *testing.T) {
	cases := map[string]func(*RequestInput){
		"floor":   func(in *RequestInput) { in.Floor = "" },
		"room":    func(in *RequestInput) { in.Room = "9" },
		"seat_id": func(in *RequestInput) { in.SeatID = "" },
		"date":    func(in *RequestInput) { in.Date = "June 9th" },
	}
	for field, mutate := range cases {
		in := baseInput()
		mutate(&in)
		_, _, err := Normalize(in, morning)
		var ve *ValidationError
		require.ErrorAs(t, err, &ve, field)
		assert.Equal(t, field, ve.Field)
		assert.True(t, IsValidation(err))
	}

	in := baseInput()
	in.Floor = "7"
	_, _, err := Normalize(in, morning)
	assert.ErrorContains(t, err, `unknown floor "7"`)
}

func TestNormalizeRejectsBeginPastClosing(t *testing.T) {
	late := time.Date(2025, 6, 9, 22, 50, 0, 0, time.UTC)
	_, _, err := Normalize(baseInput(), late)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "begin_time", ve.Field)
}

func TestWithinServiceHours(t *testing.T) {
	at := func(h, m int) time.Time { return time.Date(2025, 6, 9, h, m, 0, 0, time.UTC) }
	assert.False(t, WithinServiceHours(at(7, 30)))
	assert.True(t, WithinServiceHours(at(7, 31)))
	assert.True(t, WithinServiceHours(at(23, 29)))
	assert.False(t, WithinServiceHours(at(23, 30)))
	assert.False(t, WithinServiceHours(at(2, 0)))
}

func TestRenewDefaults(t *testing.T) {
	p := baseInput().Renew()
	assert.Equal(t, RenewPreference{MaxDiff: 30, PreferEarly: false, ExpectDuration: 2}, p)

	in := baseInput()
	in.RenewTime = &RenewInput{MaxDiff: intp(10), PreferEarly: boolp(true), ExpectDuration: floatp(1)}
	assert.Equal(t, RenewPreference{MaxDiff: 10, PreferEarly: true, ExpectDuration: 1}, in.Renew())
}
