// Package eventbus is an in-process fanout for small lifecycle signals
// (monitor ticks, schedule changes, notification outcomes, config reloads).
//
// Publish never blocks. Subscribers get a buffered channel and lose events
// when they fall behind.
package eventbus

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

const (
	MonitorStarted  = "monitor.started"
	MonitorStopped  = "monitor.stopped"
	MonitorTick     = "monitor.tick"
	MonitorFailed   = "monitor.tick_failed"
	ScheduleChanged = "schedule.changed"
	SlotUpcoming    = "schedule.upcoming"
	NotifyQueued    = "notify.queued"
	NotifySent      = "notify.sent"
	NotifyFailed    = "notify.failed"
	NotifyDeduped   = "notify.deduped"
	NotifyDropped   = "notify.dropped"
	ConfigReloaded  = "config.reloaded"
)

type Event struct {
	Type string
	Time time.Time
	// Key identifies the subject the event is about, when there is one.
	Key  string
	Data any
}

type Bus interface {
	Publish(e Event)
	// Subscribe returns events of the given types, or all events when no
	// type is given.
	Subscribe(buffer int, types ...string) (ch <-chan Event, unsubscribe func())
}

func New() Bus {
	return &memBus{subs: map[uint64]*sub{}}
}

// Nop discards everything.
type Nop struct{}

func (Nop) Publish(Event) {}
func (Nop) Subscribe(int, ...string) (<-chan Event, func()) {
	ch := make(chan Event)
	close(ch)
	return ch, func() {}
}

type sub struct {
	ch    chan Event
	types []string
}

func (s *sub) wants(t string) bool { return len(s.types) == 0 || slices.Contains(s.types, t) }

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]*sub
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	targets := make([]chan Event, 0, len(b.subs))
	for _, s := range b.subs {
		if s.wants(e.Type) {
			targets = append(targets, s.ch)
		}
	}
	b.mu.RUnlock()

	for _, ch := range targets {
		// The channel may be closed by a concurrent unsubscribe.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
}

func (b *memBus) Subscribe(buffer int, types ...string) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	s := &sub{ch: make(chan Event, buffer), types: slices.Clone(types)}
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(s.ch)
		})
	}
}
