package usecases

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/seat-scheduler/internal/config"
	"github.com/example/seat-scheduler/internal/domain/history"
	"github.com/example/seat-scheduler/internal/domain/reservation"
	"github.com/example/seat-scheduler/internal/lock"
	"github.com/example/seat-scheduler/internal/tasks"
	"github.com/example/seat-scheduler/internal/trace"
)

func strp(s string) *string { return &s }

func user(name string) config.User {
	return config.User{
		Username: name,
		Password: "pw",
		ReserveInfo: reservation.RequestInput{
			Floor:     "3",
			Room:      "4",
			SeatID:    "021",
			BeginTime: &reservation.WindowInput{Time: strp("10:10")},
		},
	}
}

func bookableSeat() *fakeSeat {
	return &fakeSeat{
		begins: opts(600, 615),
		ends:   map[string][]reservation.SlotOption{"*": opts(840, 855)},
	}
}

func newRunner(lib *fakeLibrary, mode int) *Runner {
	now := func() time.Time { return morning }
	scanner := history.NewScanner(nil)
	scanner.Now = now
	return &Runner{Library: lib, Scanner: scanner, Mode: mode, Now: now}
}

func TestRunUserReserves(t *testing.T) {
	seat := bookableSeat()
	lib := &fakeLibrary{seat: seat}
	r := newRunner(lib, config.ModeReserve)

	assert.True(t, r.RunUser(context.Background(), user("alice")))
	require.Len(t, seat.submitted, 1)
	assert.Equal(t, [2]string{"615", "855"}, seat.submitted[0])
	require.Len(t, lib.opened, 1)
	assert.Equal(t, "021", lib.opened[0].SeatID)
	assert.Equal(t, 1, lib.logouts)
}

func TestRunUserSkipsBookedDate(t *testing.T) {
	lib := &fakeLibrary{
		seat:    bookableSeat(),
		history: [][]history.Entry{{{Text: "2025-06-10 08:00 -- 12:00", Labels: []string{"已预约"}}}},
	}
	r := newRunner(lib, config.ModeReserve)

	assert.False(t, r.RunUser(context.Background(), user("alice")))
	assert.Empty(t, lib.opened)
	assert.Equal(t, 1, lib.logouts)
}

func TestRunUserInvalidRequestFails(t *testing.T) {
	lib := &fakeLibrary{seat: bookableSeat()}
	r := newRunner(lib, config.ModeReserve)
	u := user("alice")
	u.ReserveInfo.Floor = "9"

	assert.False(t, r.RunUser(context.Background(), u))
	assert.Empty(t, lib.opened)
}

func TestRunUserCheckIn(t *testing.T) {
	lib := &fakeLibrary{
		history: [][]history.Entry{{{Text: "2025-06-10 08:00 -- 12:00", Labels: []string{"reserved"}}}},
	}
	r := newRunner(lib, config.ModeReserve|config.ModeCheckIn)

	// reserve is skipped (already booked), check-in acts: the user succeeds
	assert.True(t, r.RunUser(context.Background(), user("alice")))
	assert.Equal(t, 1, lib.checkins)
}

func TestRunUserRenew(t *testing.T) {
	lib := &fakeLibrary{
		history:   [][]history.Entry{{{Text: "today 08:00 -- 10:00", Labels: []string{"使用中"}}}},
		renewOpts: opts(690, 720, 750),
	}
	r := newRunner(lib, config.ModeRenew)

	assert.True(t, r.RunUser(context.Background(), user("alice")))
	assert.Equal(t, []string{"720"}, lib.renewed)
}

func TestRunUserRenewNoMatch(t *testing.T) {
	lib := &fakeLibrary{
		history:   [][]history.Entry{{{Text: "today 08:00 -- 10:00", Labels: []string{"使用中"}}}},
		renewOpts: opts(630),
	}
	r := newRunner(lib, config.ModeRenew)
	assert.False(t, r.RunUser(context.Background(), user("alice")))
	assert.Empty(t, lib.renewed)
}

func TestRunGroupsIsolatesFailures(t *testing.T) {
	sink := trace.NewHub(nil, 100)
	lib := &fakeLibrary{
		seat:     bookableSeat(),
		loginErr: map[string]error{"bob": errors.New("bad password")},
		panicOn:  "carol",
	}
	r := newRunner(lib, config.ModeReserve)
	r.Trace = sink

	groups := []config.Group{
		{Name: "weekday", Enabled: true, Users: []config.User{user("alice"), user("bob"), user("carol"), user("dave")}},
		{Name: "weekend", Enabled: false, Users: []config.User{user("erin")}},
	}
	sum := r.RunGroups(context.Background(), groups)

	assert.Equal(t, Summary{Users: 4, Success: 2, Failed: 2}, sum)
	assert.Equal(t, []string{"alice", "carol", "dave"}, lib.logins)
	assert.Equal(t, 3, lib.logouts)

	var messages []string
	for _, ev := range sink.Recent(0) {
		messages = append(messages, ev.Message)
	}
	assert.Contains(t, messages, "group weekend skipped")
	assert.Contains(t, messages, "done: 4 users, 2 succeeded, 2 failed")
}

func TestRunGroupsFailsInvalidEntryAlone(t *testing.T) {
	lib := &fakeLibrary{seat: bookableSeat()}
	r := newRunner(lib, config.ModeReserve)

	broken := config.User{Username: "bob", Err: errors.New("seat_id must be quoted")}
	sum := r.RunGroups(context.Background(), []config.Group{
		{Name: "g", Enabled: true, Users: []config.User{broken, user("alice")}},
	})

	assert.Equal(t, Summary{Users: 2, Success: 1, Failed: 1}, sum)
	assert.Equal(t, []string{"alice"}, lib.logins)
}

func TestRunGroupsStopsOnCancel(t *testing.T) {
	lib := &fakeLibrary{seat: bookableSeat()}
	r := newRunner(lib, config.ModeReserve)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sum := r.RunGroups(ctx, []config.Group{{Name: "g", Enabled: true, Users: []config.User{user("alice")}}})
	assert.Equal(t, Summary{}, sum)
	assert.Empty(t, lib.logins)
}

func executor(lib *fakeLibrary, now time.Time, users ...config.User) *TaskExecutor {
	r := newRunner(lib, config.ModeReserve)
	return &TaskExecutor{
		Runner: r,
		Users: func() (config.UsersFile, error) {
			return config.UsersFile{Groups: []config.Group{{Name: "g", Enabled: true, Users: users}}}, nil
		},
		Locker: lock.NewLocal(),
		Now:    func() time.Time { return now },
	}
}

func TestTaskExecutorSuccess(t *testing.T) {
	e := executor(&fakeLibrary{seat: bookableSeat()}, morning, user("alice"))
	out, err := e.Execute(context.Background(), tasks.New("t", morning, false, morning))
	require.NoError(t, err)
	assert.Equal(t, "1 users, 1 succeeded, 0 failed", out)
}

func TestTaskExecutorOutsideServiceHours(t *testing.T) {
	e := executor(&fakeLibrary{seat: bookableSeat()}, time.Date(2025, 6, 10, 23, 45, 0, 0, time.UTC), user("alice"))
	_, err := e.Execute(context.Background(), tasks.New("t", morning, false, morning))
	assert.ErrorIs(t, err, ErrOutsideServiceHours)
}

func TestTaskExecutorFailsWhenNobodySucceeds(t *testing.T) {
	lib := &fakeLibrary{loginErr: map[string]error{"alice": errors.New("locked")}}
	e := executor(lib, morning, user("alice"))
	out, err := e.Execute(context.Background(), tasks.New("t", morning, false, morning))
	require.Error(t, err)
	assert.Equal(t, "1 users, 0 succeeded, 1 failed", out)

	_, err = executor(lib, morning).RunOnce(context.Background())
	assert.ErrorIs(t, err, ErrNoUsers)
}

func TestTaskExecutorHonoursRunLock(t *testing.T) {
	e := executor(&fakeLibrary{seat: bookableSeat()}, morning, user("alice"))
	release, err := e.Locker.Acquire(context.Background(), runLockKey, time.Minute)
	require.NoError(t, err)
	defer release()

	_, err = e.RunOnce(context.Background())
	assert.ErrorIs(t, err, lock.ErrHeld)
}
