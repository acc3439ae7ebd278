package reservation

import (
	"fmt"
	"time"

	"github.com/example/seat-scheduler/internal/timeutil"
)

// DefaultPlace is the only venue the site exposes.
const DefaultPlace = "library"

// Normalize validates a raw request and returns a fully-specified copy with
// defaults filled in and the time window clamped to the reading-room rules.
// The notes describe every default or correction applied, for tracing.
// in is never modified.
func Normalize(in RequestInput, now time.Time) (ReserveRequest, []string, error) {
	var notes []string
	note := func(format string, args ...any) { notes = append(notes, fmt.Sprintf(format, args...)) }

	if err := validateIdentifiers(in); err != nil {
		return ReserveRequest{}, nil, err
	}
	req := ReserveRequest{
		Place:  in.Place,
		Floor:  in.Floor,
		Room:   in.Room,
		SeatID: in.SeatID,
	}
	if req.Place == "" {
		req.Place = DefaultPlace
	}

	today := timeutil.DateOf(now)
	switch {
	case in.Date == "":
		req.Date = today
		note("date not given, using today %s", today.Format(timeutil.DateLayout))
	default:
		d, err := timeutil.ParseDate(in.Date, now.Location())
		if err != nil {
			return ReserveRequest{}, nil, &ValidationError{Field: "date", Reason: err.Error()}
		}
		if d.Before(today) {
			note("date %s is before today, using %s", in.Date, today.Format(timeutil.DateLayout))
			d = today
		}
		req.Date = d
	}

	nowClock := timeutil.ToClock(timeutil.MinuteOfDay(now))
	req.BeginTime = fillWindow("begin_time", in.BeginTime, TimeWindowPreference{
		Time: nowClock, MaxDiff: DefaultMaxDiff, PreferEarly: true,
	}, note)
	beginMins, err := windowMinutes("begin_time", req.BeginTime)
	if err != nil {
		return ReserveRequest{}, nil, err
	}

	req.ExpectDuration = DefaultExpectDuration
	if in.ExpectDuration != nil && *in.ExpectDuration > 0 {
		req.ExpectDuration = *in.ExpectDuration
	} else {
		note("expect_duration not given, using %gh", DefaultExpectDuration)
	}
	req.SatisfyDuration = true
	if in.SatisfyDuration != nil {
		req.SatisfyDuration = *in.SatisfyDuration
	} else {
		note("satisfy_duration not given, using true")
	}

	req.EndTime = fillWindow("end_time", in.EndTime, TimeWindowPreference{
		Time: timeutil.ToClock(beginMins + req.ExpectMinutes()), MaxDiff: DefaultMaxDiff, PreferEarly: false,
	}, note)
	endMins, err := windowMinutes("end_time", req.EndTime)
	if err != nil {
		return ReserveRequest{}, nil, err
	}

	// The tie-break direction travels with the clock value.
	if beginMins > endMins {
		req.BeginTime.Time, req.EndTime.Time = req.EndTime.Time, req.BeginTime.Time
		req.BeginTime.PreferEarly, req.EndTime.PreferEarly = req.EndTime.PreferEarly, req.BeginTime.PreferEarly
		beginMins, endMins = endMins, beginMins
		note("begin time later than end time, swapped to %s - %s", req.BeginTime.Time, req.EndTime.Time)
	}

	closing, _ := timeutil.ToMinutes(ClosingTime)
	if endMins > closing {
		req.EndTime.Time = ClosingTime
		endMins = closing
		note("end time past %s, clamped", ClosingTime)
	}

	maxMins := int(MaxDuration / time.Minute)
	if endMins-beginMins > maxMins {
		endMins = beginMins + maxMins
		req.EndTime.Time = timeutil.ToClock(endMins)
		note("duration longer than %s, end time set to %s", MaxDuration, req.EndTime.Time)
	}

	if beginMins > endMins {
		return ReserveRequest{}, nil, &ValidationError{
			Field:  "begin_time",
			Reason: fmt.Sprintf("%s is past closing time %s", req.BeginTime.Time, ClosingTime),
		}
	}
	return req, notes, nil
}

func validateIdentifiers(in RequestInput) error {
	switch {
	case in.Floor == "":
		return &ValidationError{Field: "floor", Reason: "not specified"}
	case Floors[in.Floor] == "":
		return &ValidationError{Field: "floor", Reason: fmt.Sprintf("unknown floor %q", in.Floor)}
	case in.Room == "":
		return &ValidationError{Field: "room", Reason: "not specified"}
	case Rooms[in.Room] == "":
		return &ValidationError{Field: "room", Reason: fmt.Sprintf("unknown room %q", in.Room)}
	case in.SeatID == "":
		return &ValidationError{Field: "seat_id", Reason: "not specified"}
	}
	return nil
}

func fillWindow(field string, in *WindowInput, def TimeWindowPreference, note func(string, ...any)) TimeWindowPreference {
	if in == nil {
		note("%s not given, using %s (max_diff %d, prefer_early %t)", field, def.Time, def.MaxDiff, def.PreferEarly)
		return def
	}
	out := def
	if in.Time != nil && *in.Time != "" {
		out.Time = *in.Time
	} else {
		note("%s.time not given, using %s", field, def.Time)
	}
	if in.MaxDiff != nil {
		out.MaxDiff = *in.MaxDiff
	} else {
		note("%s.max_diff not given, using %d", field, def.MaxDiff)
	}
	if in.PreferEarly != nil {
		out.PreferEarly = *in.PreferEarly
	} else {
		note("%s.prefer_early not given, using %t", field, def.PreferEarly)
	}
	return out
}

func windowMinutes(field string, w TimeWindowPreference) (int, error) {
	if w.MaxDiff < 0 {
		return 0, &ValidationError{Field: field, Reason: "max_diff must not be negative"}
	}
	m, err := timeutil.ToMinutes(w.Time)
	if err != nil {
		return 0, &ValidationError{Field: field, Reason: err.Error()}
	}
	return m, nil
}

// WithinServiceHours reports whether automated runs may talk to the site at now.
func WithinServiceHours(now time.Time) bool {
	open, _ := timeutil.ToMinutes(OpeningTime)
	end, _ := timeutil.ToMinutes(RunWindowEnd)
	m := timeutil.MinuteOfDay(now)
	return m > open && m < end
}
