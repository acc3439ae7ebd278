package usecases

import (
	"context"
	"errors"

	"github.com/example/seat-scheduler/internal/domain/history"
	"github.com/example/seat-scheduler/internal/domain/reservation"
)

type Credentials struct {
	Username string
	Password string
}

// Library is one automation session against the reservation site. A session
// is owned by a single run; users are processed through it one after another.
type Library interface {
	history.Source

	Login(ctx context.Context, c Credentials) error
	Logout(ctx context.Context) error

	// OpenSeat navigates to the seat named by req on req.Date.
	OpenSeat(ctx context.Context, req reservation.ReserveRequest) (SeatSession, error)
	// CheckIn confirms attendance of today's reservation.
	CheckIn(ctx context.Context) error
	// RenewOptions lists the end times the in-use reservation rec may be
	// extended to.
	RenewOptions(ctx context.Context, rec history.Record) ([]reservation.SlotOption, error)
	Renew(ctx context.Context, rec history.Record, end reservation.SlotOption) error
}

// SeatSession offers the live begin and end candidates for one seat.
type SeatSession interface {
	BeginOptions(ctx context.Context) ([]reservation.SlotOption, error)
	// EndOptions depends on the chosen begin.
	EndOptions(ctx context.Context, begin reservation.SlotOption) ([]reservation.SlotOption, error)
	Submit(ctx context.Context, begin, end reservation.SlotOption) error
}

// ErrExternalTimeout marks a site call that ran past its deadline. The run
// treats it like any other failure of that step.
var ErrExternalTimeout = errors.New("library site timed out")
