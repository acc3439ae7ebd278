package usecases

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/example/seat-scheduler/internal/config"
	"github.com/example/seat-scheduler/internal/domain/history"
	"github.com/example/seat-scheduler/internal/domain/reservation"
	"github.com/example/seat-scheduler/internal/metrics"
	"github.com/example/seat-scheduler/internal/timeutil"
	"github.com/example/seat-scheduler/internal/trace"
)

// ErrNothingDone is reported for a user whose enabled modes all had nothing
// to act on.
var ErrNothingDone = errors.New("nothing to do")

type Summary struct {
	Users   int `json:"users"`
	Success int `json:"success"`
	Failed  int `json:"failed"`
}

func (s Summary) String() string {
	return fmt.Sprintf("%d users, %d succeeded, %d failed", s.Users, s.Success, s.Failed)
}

// Runner drives the reserve, check-in and renew flows for each user through
// one Library session.
type Runner struct {
	Library Library
	Scanner *history.Scanner
	// Mode is a config.Mode* bitmask.
	Mode int

	Now     func() time.Time
	Trace   trace.Sink
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

func (r *Runner) now() time.Time {
	if r.Now == nil {
		return time.Now()
	}
	return r.Now()
}

func (r *Runner) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}

// RunGroups processes enabled groups, users in list order. A failing user
// never stops the ones after it.
func (r *Runner) RunGroups(ctx context.Context, groups []config.Group) Summary {
	var sum Summary
	total := 0
	for _, g := range groups {
		if g.Enabled {
			total += len(g.Users)
		}
	}
	for _, g := range groups {
		if !g.Enabled {
			trace.Tracef(r.Trace, traceSource, "group %s skipped", g.Name)
			continue
		}
		trace.Tracef(r.Trace, traceSource, "running group %s", g.Name)
		for _, u := range g.Users {
			if ctx.Err() != nil {
				trace.Tracef(r.Trace, traceSource, "run cancelled: %s", sum)
				return sum
			}
			sum.Users++
			trace.Tracef(r.Trace, traceSource, "user %d/%d: %s", sum.Users, total, u.Username)
			if r.RunUser(ctx, u) {
				sum.Success++
			} else {
				sum.Failed++
			}
		}
	}
	trace.Tracef(r.Trace, traceSource, "done: %s", sum)
	return sum
}

// RunUser runs every enabled mode for u and reports whether the user's run
// succeeded. Errors and panics end here as a trace message.
func (r *Runner) RunUser(ctx context.Context, u config.User) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger().Error("user run panicked", zap.String("user", u.Username), zap.Any("panic", rec))
			trace.Tracef(r.Trace, traceSource, "user %s aborted: %v", u.Username, rec)
			ok = false
		}
		r.Metrics.UserRun(ok)
	}()

	if err := r.runUser(ctx, u); err != nil {
		trace.Tracef(r.Trace, traceSource, "user %s failed: %v", u.Username, err)
		r.logger().Warn("user run failed", zap.String("user", u.Username), zap.Error(err))
		return false
	}
	trace.Tracef(r.Trace, traceSource, "user %s succeeded", u.Username)
	return true
}

func (r *Runner) runUser(ctx context.Context, u config.User) (err error) {
	if u.Err != nil {
		return u.Err
	}
	if err := r.Library.Login(ctx, Credentials{Username: u.Username, Password: u.Password}); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	defer func() {
		if lerr := r.Library.Logout(context.WithoutCancel(ctx)); lerr != nil {
			err = errors.Join(err, fmt.Errorf("logout: %w", lerr))
		}
	}()

	type step struct {
		mode int
		run  func(context.Context, config.User) (bool, error)
	}
	steps := []step{
		{config.ModeReserve, r.reserve},
		{config.ModeCheckIn, r.checkIn},
		{config.ModeRenew, r.renew},
	}

	acted := false
	var errs []error
	for _, s := range steps {
		if r.Mode&s.mode == 0 {
			continue
		}
		done, err := s.run(ctx, u)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		acted = acted || done
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	if !acted {
		return ErrNothingDone
	}
	return nil
}

func (r *Runner) reserve(ctx context.Context, u config.User) (bool, error) {
	now := r.now()
	req, notes, err := reservation.Normalize(u.ReserveInfo, now)
	if err != nil {
		return false, err
	}
	for _, n := range notes {
		trace.Tracef(r.Trace, traceSource, "%s", n)
	}

	free, err := r.Scanner.CanReserve(ctx, req.Date, r.Library)
	if err != nil {
		return false, fmt.Errorf("check history: %w", err)
	}
	if !free {
		trace.Tracef(r.Trace, traceSource, "%s already booked, not reserving", req.Date.Format(timeutil.DateLayout))
		return false, nil
	}

	seat, err := r.Library.OpenSeat(ctx, req)
	if err != nil {
		return false, fmt.Errorf("open seat %s/%s/%s: %w", req.FloorName(), req.RoomName(), req.SeatID, err)
	}
	b, err := BindTimes(ctx, req, seat, now, r.Trace)
	if err != nil {
		var nm *NoMatchError
		if errors.As(err, &nm) {
			if nm.Phase == "end" {
				r.Metrics.Selection("begin", true)
			}
			r.Metrics.Selection(nm.Phase, false)
		}
		return false, err
	}
	r.Metrics.Selection("begin", true)
	r.Metrics.Selection("end", true)

	if err := seat.Submit(ctx, b.Begin.Option, b.End.Option); err != nil {
		return false, fmt.Errorf("submit: %w", err)
	}
	trace.Tracef(r.Trace, traceSource, "reserved %s %s seat %s, %s-%s",
		req.Date.Format(timeutil.DateLayout), req.RoomName(), req.SeatID, b.Begin.Clock(), b.End.Clock())
	return true, nil
}

func (r *Runner) checkIn(ctx context.Context, _ config.User) (bool, error) {
	today := timeutil.DateOf(r.now())
	rec, ok, err := r.Scanner.CanCheckIn(ctx, today, r.Library)
	if err != nil {
		return false, fmt.Errorf("check history: %w", err)
	}
	if !ok {
		return false, nil
	}
	if err := r.Library.CheckIn(ctx); err != nil {
		return false, fmt.Errorf("check in: %w", err)
	}
	trace.Tracef(r.Trace, traceSource, "checked in for %s-%s", timeutil.ToClock(rec.Begin), timeutil.ToClock(rec.End))
	return true, nil
}

// renew extends today's in-use seat to the offered end nearest
// record.end + expect_duration.
func (r *Runner) renew(ctx context.Context, u config.User) (bool, error) {
	now := r.now()
	feed, err := r.Library.OpenHistory(ctx)
	if err != nil {
		return false, fmt.Errorf("open history: %w", err)
	}
	rec, found, err := r.Scanner.Find(ctx, timeutil.DateOf(now), history.StatusInUse, feed)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}

	pref := u.ReserveInfo.Renew()
	target := rec.End + int(pref.ExpectDuration*60)
	opts, err := r.Library.RenewOptions(ctx, rec)
	if err != nil {
		return false, fmt.Errorf("renew options: %w", err)
	}
	sel, ok := reservation.SelectNearest(target, opts, pref.MaxDiff, pref.PreferEarly, now)
	r.Metrics.Selection("renew", ok)
	if !ok {
		return false, &NoMatchError{Phase: "renew", Target: target, Offered: reservation.Offered(opts, now)}
	}
	if err := r.Library.Renew(ctx, rec, sel.Option); err != nil {
		return false, fmt.Errorf("renew: %w", err)
	}
	trace.Tracef(r.Trace, traceSource, "renewed until %s (%s)", sel.Clock(), driftLabel(sel.Diff))
	return true, nil
}
