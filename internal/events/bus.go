// Package events provides an in-process, job-keyed pub/sub bus. It stands in
// for the real message bus the control-plane client pulls from (spec.md §1
// treats the event bus as an external, blocking pull source — only its
// interface is modeled). The fan-out design is carried over from a
// dashboard event hub in the same codebase family, adapted so subscriptions
// are scoped to one job id at a time, matching "the source is exclusive: one
// aggregator per job" (spec.md §4.4).
package events

import (
	"sync"
	"time"

	"github.com/mattjoyce/saltctl/internal/wire"
)

// Raw is one message as it arrives off the bus: a job id plus the raw bytes
// to be decoded by wire.DecodeBusEvent.
type Raw struct {
	JID  string
	Data []byte
	At   time.Time
}

// Bus is an in-memory, job-keyed pub/sub. Messages are delivered only to
// subscribers registered at publish time; nothing is kept for replay, so a
// late subscriber does not see messages published before it subscribed.
type Bus struct {
	mu       sync.Mutex
	capacity int
	subs     map[string]map[int]chan Raw
	nextSub  int
}

// NewBus creates a Bus. capacity is the buffer size of each subscriber's
// channel (64 when capacity <= 0); new subscribers only see messages
// published after they subscribe.
func NewBus(capacity int) *Bus {
	if capacity <= 0 {
		capacity = 64
	}
	return &Bus{capacity: capacity, subs: make(map[string]map[int]chan Raw)}
}

// Publish fans a raw message out to every subscriber of its job id. Slow
// subscribers never block the producer — their channel is buffered and a
// full channel silently drops the message (the convergence controller's
// poll loop treats a timed-out wait as "nothing new yet", so a dropped
// message is recovered on the controller's next directory scan or the
// forwarder's next announcement).
func (b *Bus) Publish(jid string, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[jid]
	msg := Raw{JID: jid, Data: data, At: time.Now()}
	for _, ch := range subs {
		select {
		case ch <- msg:
		default:
		}
	}
}

// Subscribe opens a channel for jid. The returned cancel func must be called
// exactly once to release the subscription.
func (b *Bus) Subscribe(jid string) (<-chan Raw, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs[jid] == nil {
		b.subs[jid] = make(map[int]chan Raw)
	}
	id := b.nextSub
	b.nextSub++
	ch := make(chan Raw, b.capacity)
	b.subs[jid][id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if m, ok := b.subs[jid]; ok {
			if c, ok := m[id]; ok {
				delete(m, id)
				close(c)
			}
			if len(m) == 0 {
				delete(b.subs, jid)
			}
		}
	}

	return ch, cancel
}

// DecodeEvent is a convenience wrapper combining a Raw message with
// wire.DecodeBusEvent, used by the eventsource adapter.
func DecodeEvent(r Raw) (*wire.Event, error) {
	return wire.DecodeBusEvent(r.Data)
}
