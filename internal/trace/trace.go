package trace

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event is one human-readable status line emitted at a decision point.
type Event struct {
	Time    time.Time `json:"time"`
	Source  string    `json:"source"`
	Message string    `json:"message"`
}

// Sink receives trace events. Implementations must be safe for concurrent use
// and must not block the caller on slow consumers.
type Sink interface {
	Emit(source, message string)
}

// Tracef formats and emits on s; a nil sink drops the event.
func Tracef(s Sink, source, format string, args ...any) {
	if s == nil {
		return
	}
	s.Emit(source, fmt.Sprintf(format, args...))
}

// Publisher forwards events to an out-of-process consumer.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Hub fans events out to subscribers, keeps a bounded backlog, and mirrors
// everything to the logger.
type Hub struct {
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	backlog []Event
	limit   int
	subs    map[int]chan Event
	nextID  int

	// pub is nil until WithPublisher; closed by Close.
	pub    chan Event
	closed bool
	done   chan struct{}
}

// publishQueue bounds events waiting for the publisher; overflow is dropped.
const publishQueue = 256

func NewHub(logger *zap.Logger, backlog int) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if backlog <= 0 {
		backlog = 200
	}
	return &Hub{
		logger: logger,
		now:    time.Now,
		limit:  backlog,
		subs:   make(map[int]chan Event),
	}
}

// WithPublisher attaches an out-of-process publisher drained by its own
// goroutine, so a slow publisher never stalls Emit. Publish failures are
// logged and otherwise ignored. Call Close to stop it.
func (h *Hub) WithPublisher(p Publisher) *Hub {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pub != nil || h.closed {
		return h
	}
	h.pub = make(chan Event, publishQueue)
	h.done = make(chan struct{})
	go h.publish(p, h.pub, h.done)
	return h
}

func (h *Hub) publish(p Publisher, in <-chan Event, done chan<- struct{}) {
	defer close(done)
	for ev := range in {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		if err := p.Publish(ctx, ev); err != nil {
			h.logger.Warn("trace publish failed", zap.Error(err))
		}
		cancel()
	}
}

// Close stops the publisher after it drains queued events. Emit keeps
// feeding the backlog and subscribers afterwards.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	pub, done := h.pub, h.done
	h.pub = nil
	h.mu.Unlock()

	if pub != nil {
		close(pub)
		<-done
	}
}

func (h *Hub) Emit(source, message string) {
	ev := Event{Time: h.now(), Source: source, Message: message}
	h.logger.Info(message, zap.String("source", source))

	h.mu.Lock()
	defer h.mu.Unlock()
	h.backlog = append(h.backlog, ev)
	if len(h.backlog) > h.limit {
		h.backlog = h.backlog[len(h.backlog)-h.limit:]
	}
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			// slow subscriber, drop
		}
	}
	if h.pub != nil {
		select {
		case h.pub <- ev:
		default:
			h.logger.Warn("trace publish queue full, event dropped", zap.String("source", source))
		}
	}
}

// Subscribe returns a channel receiving every subsequent event and a cancel
// func that must be called to release it.
func (h *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	_, ch, cancel := h.subscribe(buffer, false)
	return ch, cancel
}

// SubscribeWithBacklog is Subscribe plus a copy of the backlog taken under the
// same lock, so no event is both replayed and delivered live, and none is lost
// between the two.
func (h *Hub) SubscribeWithBacklog(buffer int) ([]Event, <-chan Event, func()) {
	return h.subscribe(buffer, true)
}

func (h *Hub) subscribe(buffer int, withBacklog bool) ([]Event, <-chan Event, func()) {
	if buffer <= 0 {
		buffer = 32
	}
	ch := make(chan Event, buffer)
	var backlog []Event
	h.mu.Lock()
	if withBacklog {
		backlog = make([]Event, len(h.backlog))
		copy(backlog, h.backlog)
	}
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return backlog, ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Recent returns up to n of the latest events, oldest first.
func (h *Hub) Recent(n int) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n <= 0 || n > len(h.backlog) {
		n = len(h.backlog)
	}
	out := make([]Event, n)
	copy(out, h.backlog[len(h.backlog)-n:])
	return out
}
