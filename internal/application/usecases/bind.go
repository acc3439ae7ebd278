package usecases

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/example/seat-scheduler/internal/domain/reservation"
	"github.com/example/seat-scheduler/internal/timeutil"
	"github.com/example/seat-scheduler/internal/trace"
)

const traceSource = "reserve"

// Binding is the pair of live slots chosen for a request.
type Binding struct {
	Begin reservation.Selection
	End   reservation.Selection
}

// NoMatchError names the phase that found nothing within tolerance.
type NoMatchError struct {
	Phase   string
	Target  int
	Offered []string
}

func (e *NoMatchError) Error() string {
	return fmt.Sprintf("no %s time near %s (offered: %s)", e.Phase, timeutil.ToClock(e.Target), strings.Join(e.Offered, ", "))
}

func (e *NoMatchError) Unwrap() error { return reservation.ErrNoMatch }

// BindTimes picks the begin slot, then the end slot offered for that begin.
// With SatisfyDuration the end target follows the begin actually chosen.
func BindTimes(ctx context.Context, req reservation.ReserveRequest, seat SeatSession, now time.Time, sink trace.Sink) (Binding, error) {
	beginTarget, err := timeutil.ToMinutes(req.BeginTime.Time)
	if err != nil {
		return Binding{}, err
	}
	begins, err := seat.BeginOptions(ctx)
	if err != nil {
		return Binding{}, fmt.Errorf("begin options: %w", err)
	}
	b, ok := reservation.SelectNearest(beginTarget, begins, req.BeginTime.MaxDiff, req.BeginTime.PreferEarly, now)
	if !ok {
		return Binding{}, &NoMatchError{Phase: "begin", Target: beginTarget, Offered: reservation.Offered(begins, now)}
	}
	trace.Tracef(sink, traceSource, "begin %s (%s)", b.Clock(), driftLabel(b.Diff))

	endTarget, err := timeutil.ToMinutes(req.EndTime.Time)
	if err != nil {
		return Binding{}, err
	}
	if req.SatisfyDuration {
		endTarget = b.Minutes + req.ExpectMinutes()
	}
	ends, err := seat.EndOptions(ctx, b.Option)
	if err != nil {
		return Binding{}, fmt.Errorf("end options: %w", err)
	}
	e, ok := reservation.SelectNearest(endTarget, ends, req.EndTime.MaxDiff, req.EndTime.PreferEarly, now)
	if !ok {
		return Binding{}, &NoMatchError{Phase: "end", Target: endTarget, Offered: reservation.Offered(ends, now)}
	}
	trace.Tracef(sink, traceSource, "end %s (%s)", e.Clock(), driftLabel(e.Diff))

	return Binding{Begin: b, End: e}, nil
}

func driftLabel(diff int) string {
	switch {
	case diff < 0:
		return fmt.Sprintf("%d min early", -diff)
	case diff > 0:
		return fmt.Sprintf("%d min late", diff)
	default:
		return "exact"
	}
}
