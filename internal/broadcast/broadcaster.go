// Package broadcast holds the latest session snapshot and fans it out to
// subscribers as full replacements.
package broadcast

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"hexwatch/internal/index"
	"hexwatch/internal/logging"

	"github.com/google/uuid"
)

// ErrClosed is returned by Subscribe after Close.
var ErrClosed = errors.New("broadcaster closed")

// Subscriber receives every snapshot. Returning an error drops the
// subscriber. Subscribers must not block and must not call Subscribe from
// inside the callback; calling the unsubscribe handle is allowed.
type Subscriber func(snap *index.Snapshot) error

type Broadcaster struct {
	current atomic.Pointer[index.Snapshot]

	// sendMu orders deliveries so a subscriber never sees an older snapshot
	// after a newer one, including the replay on Subscribe.
	sendMu sync.Mutex

	mu     sync.Mutex
	subs   map[uuid.UUID]Subscriber
	closed bool

	log *logging.Logger
}

func New(log *logging.Logger) *Broadcaster {
	if log == nil {
		log = logging.Nop()
	}
	b := &Broadcaster{
		subs: make(map[uuid.UUID]Subscriber),
		log:  log,
	}
	b.current.Store(&index.Snapshot{Sessions: []index.SessionRecord{}, ScannedAt: time.Time{}})
	return b
}

// Current returns the held snapshot. It is never nil.
func (b *Broadcaster) Current() *index.Snapshot {
	return b.current.Load()
}

// Subscribe registers fn and immediately replays the held snapshot to it.
// The returned function unsubscribes and is safe to call more than once.
func (b *Broadcaster) Subscribe(fn Subscriber) (func(), error) {
	if fn == nil {
		return nil, errors.New("nil subscriber")
	}

	b.sendMu.Lock()
	defer b.sendMu.Unlock()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	id := uuid.New()
	b.subs[id] = fn
	b.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() { b.remove(id) })
	}

	if err := deliver(fn, b.current.Load()); err != nil {
		b.log.Debug("subscriber dropped on replay", "subscriber", id, "error", err)
		unsubscribe()
		return unsubscribe, nil
	}
	b.log.Debug("subscriber added", "subscriber", id)
	return unsubscribe, nil
}

// Publish swaps in snap and pushes it to every subscriber. A failing
// subscriber is dropped without affecting the others.
func (b *Broadcaster) Publish(snap *index.Snapshot) {
	if snap == nil {
		return
	}

	b.sendMu.Lock()
	defer b.sendMu.Unlock()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.current.Store(snap)
	targets := make(map[uuid.UUID]Subscriber, len(b.subs))
	for id, fn := range b.subs {
		targets[id] = fn
	}
	b.mu.Unlock()

	for id, fn := range targets {
		if !b.active(id) {
			continue
		}
		if err := deliver(fn, snap); err != nil {
			b.log.Debug("subscriber dropped", "subscriber", id, "error", err)
			b.remove(id)
		}
	}
}

// Len reports the number of live subscribers.
func (b *Broadcaster) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close drops all subscribers. Later publishes are ignored.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	clear(b.subs)
}

func (b *Broadcaster) active(id uuid.UUID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.subs[id]
	return ok
}

func (b *Broadcaster) remove(id uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

func deliver(fn Subscriber, snap *index.Snapshot) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panic: %v", r)
		}
	}()
	return fn(snap)
}
