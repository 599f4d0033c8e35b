package converge

import (
	"context"
	"sync"
	"time"

	"github.com/mattjoyce/saltctl/internal/jobdir"
	"github.com/mattjoyce/saltctl/internal/wire"
)

// fakeDir is an in-memory DirSource double: scheduled observations become
// visible once the wall clock reaches their "at" time.
type fakeDir struct {
	mu      sync.Mutex
	exists  bool
	wtag    bool
	entries []fakeDirEntry
	yielded map[string]bool
}

type fakeDirEntry struct {
	at      time.Time
	agentID string
	reply   wire.AgentReply
}

func newFakeDir() *fakeDir {
	return &fakeDir{exists: true, yielded: make(map[string]bool)}
}

func (f *fakeDir) schedule(at time.Time, agentID string, reply wire.AgentReply) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, fakeDirEntry{at: at, agentID: agentID, reply: reply})
}

func (f *fakeDir) setWriteTag(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wtag = v
}

func (f *fakeDir) Exists() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exists
}

func (f *fakeDir) HasWriteTag() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.wtag
}

func (f *fakeDir) Scan(ctx context.Context) ([]jobdir.Observation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.exists {
		return nil, jobdir.ErrUnknownJob
	}
	now := time.Now()
	var out []jobdir.Observation
	for _, e := range f.entries {
		if f.yielded[e.agentID] {
			continue
		}
		if now.Before(e.at) {
			continue
		}
		f.yielded[e.agentID] = true
		out = append(out, jobdir.Observation{AgentID: e.agentID, Reply: e.reply})
	}
	return out, nil
}

// fakeEventSource is an in-memory eventsource.Source double that delivers
// scheduled events no earlier than their "at" time, blocking (via a short
// real sleep) up to timeout otherwise.
type fakeEventSource struct {
	mu      sync.Mutex
	events  []fakeEvent
	delivered int
}

type fakeEvent struct {
	at    time.Time
	event wire.Event
}

func newFakeEventSource() *fakeEventSource {
	return &fakeEventSource{}
}

func (f *fakeEventSource) schedule(at time.Time, ev wire.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, fakeEvent{at: at, event: ev})
}

func (f *fakeEventSource) Next(ctx context.Context, jid string, timeout time.Duration) (*wire.Event, error) {
	deadline := time.Now().Add(timeout)
	for {
		f.mu.Lock()
		now := time.Now()
		var idx = -1
		for i := f.delivered; i < len(f.events); i++ {
			if !now.Before(f.events[i].at) {
				idx = i
				break
			}
		}
		if idx >= 0 {
			ev := f.events[idx].event
			f.delivered = idx + 1
			f.mu.Unlock()
			return &ev, nil
		}
		f.mu.Unlock()

		if time.Now().After(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}
