package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/seat-scheduler/internal/timeutil"
	"github.com/example/seat-scheduler/internal/trace"
)

const (
	// ScanBudget bounds the page fetches of a single Find.
	ScanBudget = 3
	// CheckInWindow is the half-width of the check-in window around a
	// reservation's begin time.
	CheckInWindow = 30 * time.Minute
)

const traceSource = "history"

// Scanner looks for a record of a given date and status in a history feed.
type Scanner struct {
	Budget int
	Now    func() time.Time
	Trace  trace.Sink
}

func NewScanner(sink trace.Sink) *Scanner {
	return &Scanner{Budget: ScanBudget, Now: time.Now, Trace: sink}
}

func (s *Scanner) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func (s *Scanner) budget() int {
	if s.Budget <= 0 {
		return ScanBudget
	}
	return s.Budget
}

// Find walks feed newest-first for a record on target's date whose status is
// wanted. The walk stops early once records older than target appear.
//
// Running out of budget or pages reports not-found, the same answer as a
// genuine absence. Only a failure to fetch the first page is an error; a
// later fetch failure ends the walk like an exhausted feed.
func (s *Scanner) Find(ctx context.Context, target time.Time, wanted Status, feed Feed) (Record, bool, error) {
	today := s.now()
	want := dateKey(target)

	var entries []Entry
	cursor, fetches := 0, 0
	for {
		if cursor >= len(entries) {
			if fetches >= s.budget() {
				trace.Tracef(s.Trace, traceSource, "scan budget of %d pages spent after %d records, assuming no %s record", s.budget(), cursor, wanted)
				return Record{}, false, nil
			}
			if err := ctx.Err(); err != nil {
				return Record{}, false, err
			}
			page, err := feed.FetchPage(ctx)
			fetches++
			switch {
			case errors.Is(err, ErrFeedExhausted):
				trace.Tracef(s.Trace, traceSource, "history ends after %d records", cursor)
				return Record{}, false, nil
			case err != nil && fetches == 1:
				return Record{}, false, fmt.Errorf("fetch history: %w", err)
			case err != nil:
				trace.Tracef(s.Trace, traceSource, "loading more history failed: %v", err)
				return Record{}, false, nil
			}
			entries = append(entries, page...)
			continue
		}

		idx := cursor
		e := entries[cursor]
		cursor++

		date, err := timeutil.ResolveRelativeDate(e.Text, today)
		if err != nil {
			trace.Tracef(s.Trace, traceSource, "skipping record %d: %v", idx, err)
			continue
		}
		got := dateKey(date)
		if got > want {
			continue
		}
		if got < want {
			return Record{}, false, nil
		}
		if !wanted.Matches(e.Labels) {
			continue
		}
		begin, end, err := timeutil.ParseClockRange(e.Text)
		if err != nil {
			trace.Tracef(s.Trace, traceSource, "skipping record %d: %v", idx, err)
			continue
		}
		return Record{
			Index:  idx,
			Date:   timeutil.DateOf(date),
			Begin:  begin,
			End:    end,
			Status: wanted,
			Text:   e.Text,
		}, true, nil
	}
}

// CanReserve reports whether date carries neither a reserved nor an in-use
// record. A history that cannot be opened or read yields false.
func (s *Scanner) CanReserve(ctx context.Context, date time.Time, src Source) (bool, error) {
	for _, st := range []Status{StatusReserved, StatusInUse} {
		feed, err := src.OpenHistory(ctx)
		if err != nil {
			return false, fmt.Errorf("open history: %w", err)
		}
		rec, found, err := s.Find(ctx, date, st, feed)
		if err != nil {
			return false, err
		}
		if found {
			trace.Tracef(s.Trace, traceSource, "%s already has a %s seat %s", date.Format(timeutil.DateLayout), st, rangeLabel(rec))
			return false, nil
		}
	}
	return true, nil
}

// CanCheckIn finds date's reserved record and reports whether now lies in
// [begin-30m, begin+30m).
func (s *Scanner) CanCheckIn(ctx context.Context, date time.Time, src Source) (Record, bool, error) {
	feed, err := src.OpenHistory(ctx)
	if err != nil {
		return Record{}, false, fmt.Errorf("open history: %w", err)
	}
	rec, found, err := s.Find(ctx, date, StatusReserved, feed)
	if err != nil || !found {
		return Record{}, false, err
	}
	diff := s.now().Sub(rec.BeginAt())
	if diff < -CheckInWindow || diff >= CheckInWindow {
		trace.Tracef(s.Trace, traceSource, "reservation %s is outside the check-in window", rangeLabel(rec))
		return rec, false, nil
	}
	return rec, true, nil
}

func dateKey(t time.Time) int {
	y, m, d := t.Date()
	return y*10000 + int(m)*100 + d
}

func rangeLabel(r Record) string {
	return timeutil.ToClock(r.Begin) + "-" + timeutil.ToClock(r.End)
}
