package converge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/saltctl/internal/job"
	"github.com/mattjoyce/saltctl/internal/wire"
)

// Scenario timings are scaled down 100x from the literal spec figures (5s
// base -> 50ms, etc.) to keep the suite fast while preserving the ratios
// the scenarios depend on (e.g. "final time ~= 2x base"). The controller's
// 10-20ms poll wait is not scaled, so elapsed-time bounds leave room for it.

func TestScenario_HappyPath(t *testing.T) {
	dir := newFakeDir()
	dir.schedule(time.Now().Add(1*time.Millisecond), "a", wire.AgentReply{Ret: "ok-a"})
	evs := newFakeEventSource()
	evs.schedule(time.Now().Add(2*time.Millisecond), wire.Event{Reply: &wire.AgentReply{ID: "b", Ret: 7}})

	h := newHandle("jid-scenario-1", []string{"a", "b"}, 50*time.Millisecond)
	c := New(h, Sources{Dir: dir, Event: evs}, Policy{})

	start := time.Now()
	outcome, missing, got := drain(t, c)
	elapsed := time.Since(start)

	assert.Equal(t, Done, outcome)
	assert.Empty(t, missing)
	assert.Equal(t, "ok-a", got["a"].Ret)
	assert.InDelta(t, 7, got["b"].Ret, 0)
	// b arrives at 2ms; the pass that then scans a still waits one 10-20ms
	// event poll before converging, which stays well under the 50ms base.
	assert.Less(t, elapsed, 40*time.Millisecond)
}

func TestScenario_OneMissingNoLiveness(t *testing.T) {
	dir := newFakeDir()
	dir.schedule(time.Now().Add(1*time.Millisecond), "a", wire.AgentReply{Ret: "ok-a"})

	h := newHandle("jid-scenario-2", []string{"a", "b"}, 20*time.Millisecond)
	c := New(h, Sources{Dir: dir}, Policy{
		ExtendQuantum: 20 * time.Millisecond,
		ShouldExtend: func(missing []job.AgentID, elapsed time.Duration) bool {
			return false // prober reports {"b": false}
		},
	})

	start := time.Now()
	outcome, missing, got := drain(t, c)
	elapsed := time.Since(start)

	assert.Equal(t, Expired, outcome)
	assert.Equal(t, []string{"b"}, missing)
	assert.Equal(t, "ok-a", got["a"].Ret)
	assert.InDelta(t, 20*time.Millisecond, elapsed, float64(25*time.Millisecond))
}

func TestScenario_AdaptiveExtension(t *testing.T) {
	// Prober reports "still running" once, then "not running": total
	// elapsed should land around 2x the base timeout, with the prober
	// consulted exactly twice and b still reported missing.
	h := newHandle("jid-scenario-3", []string{"b"}, 20*time.Millisecond)
	calls := 0
	c := New(h, Sources{}, Policy{
		ExtendQuantum: 20 * time.Millisecond,
		ShouldExtend: func(missing []job.AgentID, elapsed time.Duration) bool {
			calls++
			return calls == 1
		},
	})

	start := time.Now()
	outcome, missing, _ := drain(t, c)
	elapsed := time.Since(start)

	assert.Equal(t, Expired, outcome)
	assert.Equal(t, []string{"b"}, missing)
	assert.Equal(t, 2, calls)
	assert.InDelta(t, 40*time.Millisecond, elapsed, float64(25*time.Millisecond))
}

func TestScenario_SyndicExpansion(t *testing.T) {
	evs := newFakeEventSource()
	evs.schedule(time.Now().Add(3*time.Millisecond), wire.Event{Syndic: &wire.SyndicAnnouncement{Syndic: []string{"c", "d"}}})
	dir := newFakeDir()
	dir.schedule(time.Now().Add(1*time.Millisecond), "a", wire.AgentReply{Ret: 1})
	dir.schedule(time.Now().Add(5*time.Millisecond), "c", wire.AgentReply{Ret: 1})

	h := newHandle("jid-scenario-4", []string{"a"}, 20*time.Millisecond)
	c := New(h, Sources{Dir: dir, Event: evs}, Policy{ExtendQuantum: 0, ShouldExtend: func(missing []job.AgentID, elapsed time.Duration) bool { return false }})

	outcome, missing, got := drain(t, c)
	assert.Equal(t, Expired, outcome)
	assert.ElementsMatch(t, []string{"d"}, missing)
	assert.Contains(t, got, "a")
	assert.Contains(t, got, "c")
}

func TestScenario_WriteTagHold(t *testing.T) {
	dir := newFakeDir()
	dir.setWriteTag(true)
	h := newHandle("jid-scenario-5", []string{"a"}, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
	defer cancel()

	c := New(h, Sources{Dir: dir}, Policy{})
	start := time.Now()
	outcome, _, err := c.Run(ctx, func(id job.AgentID, r wire.AgentReply) bool { return true })
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.NotEqual(t, Expired, outcome, "write tag must suppress Expired while present")
	assert.GreaterOrEqual(t, elapsed, 10*time.Millisecond)
}

func TestScenario_PublishFailure(t *testing.T) {
	h := newHandle(job.PublishFailedJID, []string{"a"}, time.Second)
	c := New(h, Sources{}, Policy{})

	outcome, missing, got := drain(t, c)
	assert.Equal(t, PublishFailed, outcome)
	assert.Empty(t, missing)
	assert.Empty(t, got)
}
