package reservation

import (
	"time"
)

// Engine boundaries of the reading rooms. Not user-configurable.
const (
	OpeningTime  = "07:30"
	ClosingTime  = "22:30"
	RunWindowEnd = "23:30"

	MaxDuration           = 8 * time.Hour
	DefaultMaxDiff        = 30
	DefaultExpectDuration = 4.0
)

// Floors maps the site's floor codes to display names.
var Floors = map[string]string{
	"2": "Floor 2",
	"3": "Floor 3",
	"4": "Floor 4",
	"5": "Floor 5",
}

// Rooms maps the site's room codes to display names.
var Rooms = map[string]string{
	"1": "Floor 2 Inner Ring",
	"2": "Floor 2 Outer Ring",
	"3": "Floor 3 Inner Ring",
	"4": "Floor 3 Outer Ring",
	"5": "Floor 4 Inner Ring",
	"6": "Floor 4 Outer Ring",
	"7": "Floor 4 Periodicals",
	"8": "Floor 5 Exam Prep",
}

// TimeWindowPreference is a target clock value plus how far, and in which
// direction, the booking may drift from it.
type TimeWindowPreference struct {
	Time        string
	MaxDiff     int
	PreferEarly bool
}

// ReserveRequest is a fully-specified request produced by Normalize.
// Invariants: Begin <= End <= ClosingTime, End-Begin <= MaxDuration.
type ReserveRequest struct {
	Date   time.Time
	Place  string
	Floor  string
	Room   string
	SeatID string

	BeginTime TimeWindowPreference
	EndTime   TimeWindowPreference

	// hours
	ExpectDuration  float64
	SatisfyDuration bool
}

func (r ReserveRequest) FloorName() string { return Floors[r.Floor] }
func (r ReserveRequest) RoomName() string  { return Rooms[r.Room] }

// ExpectMinutes is ExpectDuration in whole minutes.
func (r ReserveRequest) ExpectMinutes() int {
	return int(r.ExpectDuration * 60)
}

// WindowInput is a possibly-partial TimeWindowPreference as read from the users file.
type WindowInput struct {
	Time        *string `mapstructure:"time" json:"time,omitempty"`
	MaxDiff     *int    `mapstructure:"max_diff" json:"max_diff,omitempty"`
	PreferEarly *bool   `mapstructure:"prefer_early" json:"prefer_early,omitempty"`
}

// RequestInput is the raw, possibly-partial reservation request. Nil pointers
// mean "not given".
type RequestInput struct {
	Date   string `mapstructure:"date" json:"date,omitempty"`
	Place  string `mapstructure:"place" json:"place,omitempty"`
	Floor  string `mapstructure:"floor" json:"floor,omitempty"`
	Room   string `mapstructure:"room" json:"room,omitempty"`
	SeatID string `mapstructure:"seat_id" json:"seat_id,omitempty"`

	BeginTime *WindowInput `mapstructure:"begin_time" json:"begin_time,omitempty"`
	EndTime   *WindowInput `mapstructure:"end_time" json:"end_time,omitempty"`

	ExpectDuration  *float64 `mapstructure:"expect_duration" json:"expect_duration,omitempty"`
	SatisfyDuration *bool    `mapstructure:"satisfy_duration" json:"satisfy_duration,omitempty"`

	RenewTime *RenewInput `mapstructure:"renew_time" json:"renew_time,omitempty"`
}

// RenewInput configures the renewal negotiation for an in-use seat.
type RenewInput struct {
	MaxDiff        *int     `mapstructure:"max_diff" json:"max_diff,omitempty"`
	PreferEarly    *bool    `mapstructure:"prefer_early" json:"prefer_early,omitempty"`
	ExpectDuration *float64 `mapstructure:"expect_duration" json:"expect_duration,omitempty"`
}

// RenewPreference is RenewInput with defaults applied.
type RenewPreference struct {
	MaxDiff        int
	PreferEarly    bool
	ExpectDuration float64
}

// Renew resolves the renewal preference, defaulting to a 2h extension picked
// within DefaultMaxDiff, later slots preferred.
func (in RequestInput) Renew() RenewPreference {
	p := RenewPreference{MaxDiff: DefaultMaxDiff, PreferEarly: false, ExpectDuration: 2}
	if in.RenewTime == nil {
		return p
	}
	if in.RenewTime.MaxDiff != nil {
		p.MaxDiff = *in.RenewTime.MaxDiff
	}
	if in.RenewTime.PreferEarly != nil {
		p.PreferEarly = *in.RenewTime.PreferEarly
	}
	if in.RenewTime.ExpectDuration != nil && *in.RenewTime.ExpectDuration > 0 {
		p.ExpectDuration = *in.RenewTime.ExpectDuration
	}
	return p
}
