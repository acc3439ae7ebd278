package usecases

import (
	"context"
	"errors"
	"strconv"

	"github.com/example/seat-scheduler/internal/domain/history"
	"github.com/example/seat-scheduler/internal/domain/reservation"
)

type fakeFeed struct {
	pages [][]history.Entry
	n     int
}

func (f *fakeFeed) FetchPage(context.Context) ([]history.Entry, error) {
	if f.n >= len(f.pages) {
		return nil, history.ErrFeedExhausted
	}
	p := f.pages[f.n]
	f.n++
	return p, nil
}

type fakeSeat struct {
	begins    []reservation.SlotOption
	ends      map[string][]reservation.SlotOption
	submitted [][2]string
	submitErr error
	endsFor   []string
}

func (s *fakeSeat) BeginOptions(context.Context) ([]reservation.SlotOption, error) {
	return s.begins, nil
}

func (s *fakeSeat) EndOptions(_ context.Context, begin reservation.SlotOption) ([]reservation.SlotOption, error) {
	s.endsFor = append(s.endsFor, begin.Value)
	if opts, ok := s.ends[begin.Value]; ok {
		return opts, nil
	}
	return s.ends["*"], nil
}

func (s *fakeSeat) Submit(_ context.Context, begin, end reservation.SlotOption) error {
	if s.submitErr != nil {
		return s.submitErr
	}
	s.submitted = append(s.submitted, [2]string{begin.Value, end.Value})
	return nil
}

type fakeLibrary struct {
	history   [][]history.Entry
	seat      *fakeSeat
	loginErr  map[string]error
	panicOn   string
	renewOpts []reservation.SlotOption

	current  string
	logins   []string
	logouts  int
	checkins int
	renewed  []string
	opened   []reservation.ReserveRequest
}

func (l *fakeLibrary) OpenHistory(context.Context) (history.Feed, error) {
	return &fakeFeed{pages: l.history}, nil
}

func (l *fakeLibrary) Login(_ context.Context, c Credentials) error {
	if err := l.loginErr[c.Username]; err != nil {
		return err
	}
	l.current = c.Username
	l.logins = append(l.logins, c.Username)
	return nil
}

func (l *fakeLibrary) Logout(context.Context) error {
	l.current = ""
	l.logouts++
	return nil
}

func (l *fakeLibrary) OpenSeat(_ context.Context, req reservation.ReserveRequest) (SeatSession, error) {
	if l.current == l.panicOn && l.panicOn != "" {
		panic("driver lost")
	}
	l.opened = append(l.opened, req)
	if l.seat == nil {
		return nil, errors.New("seat page missing")
	}
	return l.seat, nil
}

func (l *fakeLibrary) CheckIn(context.Context) error {
	l.checkins++
	return nil
}

func (l *fakeLibrary) RenewOptions(context.Context, history.Record) ([]reservation.SlotOption, error) {
	return l.renewOpts, nil
}

func (l *fakeLibrary) Renew(_ context.Context, _ history.Record, end reservation.SlotOption) error {
	l.renewed = append(l.renewed, end.Value)
	return nil
}

func opts(minutes ...int) []reservation.SlotOption {
	out := make([]reservation.SlotOption, len(minutes))
	for i, m := range minutes {
		out[i] = reservation.SlotOption{Value: strconv.Itoa(m)}
	}
	return out
}
