// Package eventsource models the Event Source (C4): a blocking pull of one
// event keyed by job id, with timeout. It is exclusive per job — only one
// aggregator call should be reading for a given jid at a time.
package eventsource

import (
	"context"
	"time"

	"github.com/mattjoyce/saltctl/internal/events"
	"github.com/mattjoyce/saltctl/internal/wire"
)

// Source is the blocking pull interface the convergence controller drives.
// Next returns (nil, nil) if the wait elapsed without a message — never an
// error, so the controller's own clock can advance (spec.md §5: "The event
// source MUST return promptly on its own timeout").
type Source interface {
	Next(ctx context.Context, jid string, timeout time.Duration) (*wire.Event, error)
}

// BusSource adapts an in-process events.Bus into a Source, subscribing once
// per call and decoding each raw message with wire.DecodeBusEvent.
type BusSource struct {
	bus *events.Bus
	sub <-chan events.Raw
	jid string
}

// NewBusSource opens a subscription to bus for jid. The subscription is
// released by calling the returned cancel func; it is NOT closed by Next so a single
// aggregator call can make several Next calls against the same backlog.
func NewBusSource(bus *events.Bus, jid string) (*BusSource, func()) {
	ch, cancel := bus.Subscribe(jid)
	return &BusSource{bus: bus, sub: ch, jid: jid}, cancel
}

// Next blocks until a message arrives, timeout elapses, or ctx is done.
func (s *BusSource) Next(ctx context.Context, jid string, timeout time.Duration) (*wire.Event, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, nil
	case raw, ok := <-s.sub:
		if !ok {
			return nil, nil
		}
		return wire.DecodeBusEvent(raw.Data)
	}
}
