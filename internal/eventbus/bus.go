package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the dispatcher.
const (
	TypeForwarded    = "forward.forwarded"
	TypeSpooled      = "forward.spooled"
	TypeDiscarded    = "forward.discarded"
	TypeFailed       = "forward.failed"
	TypeDeduplicated = "forward.deduplicated"
	TypeFlushed      = "spool.flushed"
)

// Event is a lightweight, in-memory signal used to decouple components.
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Subscribers MUST use buffered channels.
//   - Slow subscribers may drop events (bounded backpressure).
type Event struct {
	Type string    `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data,omitempty"`
}

// ForwardEvent is the Data of forward.* events.
type ForwardEvent struct {
	Runner  string `json:"runner"`
	ID      string `json:"id,omitempty"`
	Summary string `json:"summary,omitempty"`
	Error   string `json:"error,omitempty"`
}

// FlushEvent is the Data of spool.flushed events.
type FlushEvent struct {
	Runner    string `json:"runner"`
	Dropped   int    `json:"dropped"`
	Rescued   int    `json:"rescued"`
	Remaining int    `json:"remaining"`
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
	// Recent returns up to the last n published events, oldest first.
	Recent(n int) []Event
}

const defaultHistory = 256

// New returns an in-memory fanout bus keeping the last history events.
// It does not own any goroutines.
func New(history int) Bus {
	if history <= 0 {
		history = defaultHistory
	}
	return &memBus{subs: map[uint64]chan Event{}, ring: make([]Event, history)}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64

	hmu  sync.Mutex
	ring []Event
	next int
	full bool
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.remember(e)

	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// A concurrent unsubscribe may close ch.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
}

func (b *memBus) remember(e Event) {
	b.hmu.Lock()
	b.ring[b.next] = e
	b.next = (b.next + 1) % len(b.ring)
	if b.next == 0 {
		b.full = true
	}
	b.hmu.Unlock()
}

func (b *memBus) Recent(n int) []Event {
	b.hmu.Lock()
	defer b.hmu.Unlock()
	var all []Event
	if b.full {
		all = append(all, b.ring[b.next:]...)
	}
	all = append(all, b.ring[:b.next]...)
	if n > 0 && n < len(all) {
		all = all[len(all)-n:]
	}
	return all
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}
