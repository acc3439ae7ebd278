package history

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/example/seat-scheduler/internal/timeutil"
)

// ErrFeedExhausted is returned by Feed.FetchPage when no further page exists.
var ErrFeedExhausted = errors.New("history feed exhausted")

// Status is the booking state shown next to a history record.
type Status string

const (
	StatusReserved Status = "reserved"
	StatusInUse    Status = "in-use"
)

// the site decorates its status labels, so matching is by substring.
var statusLabels = map[Status][]string{
	StatusReserved: {"reserved", "已预约"},
	StatusInUse:    {"in-use", "使用中"},
}

// Matches reports whether any of labels names s.
func (s Status) Matches(labels []string) bool {
	for _, l := range labels {
		l = strings.ToLower(l)
		for _, want := range statusLabels[s] {
			if strings.Contains(l, want) {
				return true
			}
		}
	}
	return false
}

// Entry is one raw item of the history feed: the date/time label as rendered
// and the status labels attached to it.
type Entry struct {
	Text   string
	Labels []string
}

// Record is an Entry resolved to an absolute date and a minute range.
type Record struct {
	Index  int
	Date   time.Time
	Begin  int
	End    int
	Status Status
	Text   string
}

func (r Record) BeginAt() time.Time { return timeutil.At(r.Date, r.Begin) }
func (r Record) EndAt() time.Time   { return timeutil.At(r.Date, r.End) }

// Feed is a lazily-paged, newest-first history listing.
type Feed interface {
	FetchPage(ctx context.Context) ([]Entry, error)
}

// Source opens a fresh Feed. Each scan starts from the first page.
type Source interface {
	OpenHistory(ctx context.Context) (Feed, error)
}
