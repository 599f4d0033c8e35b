// Package converge implements the Convergence Controller (C5): the poll
// loop that reconciles the job directory and event bus against an expected
// agent set, extending its own deadline on liveness-prober evidence.
package converge

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/mattjoyce/saltctl/internal/eventsource"
	"github.com/mattjoyce/saltctl/internal/job"
	"github.com/mattjoyce/saltctl/internal/jobdir"
	"github.com/mattjoyce/saltctl/internal/wire"
)

// Outcome is the terminal state a Run call ends in.
type Outcome int

const (
	// Done means every expected agent (or, for streaming shapes with an
	// empty expected set, at least one agent) has been observed. It is also
	// returned at entry when expected is empty and EmptyExpectedMeansDone is
	// set, and when yield asks to stop early.
	Done Outcome = iota
	// Expired means the timeout budget was exhausted with no extension
	// warranted by the liveness prober. Missing ids are returned alongside.
	Expired
	// UnknownJob means the job directory did not exist at call entry.
	UnknownJob
	// PublishFailed means the handle represents a publish that never
	// reached the broker (jid == "0").
	PublishFailed
	// Cancelled means ctx was done before a terminal condition was
	// reached. Not part of the original state machine — an idiomatic Go
	// addition for context-based cancellation (spec.md §5's "external
	// interrupt of the poll loop").
	Cancelled
)

func (o Outcome) String() string {
	switch o {
	case Done:
		return "Done"
	case Expired:
		return "Expired"
	case UnknownJob:
		return "UnknownJob"
	case PublishFailed:
		return "PublishFailed"
	case Cancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// DirSource is the subset of *jobdir.Reader the controller depends on,
// extracted as an interface so tests can drive the state machine with an
// in-memory double instead of a real job directory on disk.
type DirSource interface {
	Scan(ctx context.Context) ([]jobdir.Observation, error)
	Exists() bool
	HasWriteTag() bool
}

// Sources bundles the two channels a call may drain from. Either may be nil
// if this aggregator shape doesn't use it.
type Sources struct {
	Dir   DirSource
	Event eventsource.Source
}

// Policy parameterizes the per-iteration state machine for one of the five
// aggregator shapes.
type Policy struct {
	// ShouldExtend is consulted at timeout with the still-missing agent
	// ids and elapsed time; it is the liveness prober's adapter in
	// production, nil/NoExtend for cmd_iter_no_block.
	ShouldExtend func(missing []job.AgentID, elapsed time.Duration) bool
	// ExtendQuantum is Δ, added to T on each extension.
	ExtendQuantum time.Duration
	// NoExtend forces immediate Expired at timeout regardless of
	// ShouldExtend (cmd_iter_no_block never extends).
	NoExtend bool
	// EmptyExpectedMeansDone resolves the empty-expected open question:
	// true for the blocking-all shapes (cmd, cmd_full_return), false for
	// the streaming shapes (wait for any single reply instead).
	EmptyExpectedMeansDone bool
	// TimeoutSinceFirstReply preserves the get_returns/get_full_returns
	// quirk: the deadline clock does not start until the first reply is
	// observed, instead of at publish time.
	TimeoutSinceFirstReply bool
}

// Controller drives one job's convergence loop.
type Controller struct {
	h   *job.Handle
	src Sources
	pol Policy
}

// New builds a Controller for handle h using src and pol.
func New(h *job.Handle, src Sources, pol Policy) *Controller {
	return &Controller{h: h, src: src, pol: pol}
}

const (
	backoffMin = 10 * time.Millisecond
	backoffMax = 20 * time.Millisecond
	wtagGrace  = 1 * time.Second
)

func jitteredBackoff() time.Duration {
	return backoffMin + time.Duration(rand.Int63n(int64(backoffMax-backoffMin)+1))
}

// Run drives the convergence loop until a terminal outcome is reached.
// yield is called once per newly-observed agent reply, in arrival order;
// returning false asks the controller to stop early, in which case Run
// returns Done with whatever is still missing.
func (c *Controller) Run(ctx context.Context, yield func(job.AgentID, wire.AgentReply) bool) (Outcome, []job.AgentID, error) {
	if c.h.PublishFailed() {
		return PublishFailed, nil, nil
	}
	if c.src.Dir != nil && !c.src.Dir.Exists() {
		return UnknownJob, nil, nil
	}

	found := job.NewAgentSet()
	T := c.h.BaseTimeout

	var t0 time.Time
	haveT0 := true
	if c.pol.TimeoutSinceFirstReply {
		haveT0 = false
	} else {
		t0 = c.h.StartedAt
	}

	if c.h.Expected.Len() == 0 && c.pol.EmptyExpectedMeansDone {
		return Done, nil, nil
	}

	markFirstReply := func() {
		if !haveT0 {
			t0 = time.Now()
			haveT0 = true
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return Cancelled, job.Missing(c.h.Expected, found), err
		}

		// Step 1: drain sources.
		stop := false

		if c.src.Dir != nil {
			obs, err := c.src.Dir.Scan(ctx)
			switch {
			case err == nil:
				for _, o := range obs {
					if found.CheckAndInsert(o.AgentID) {
						markFirstReply()
						if !yield(o.AgentID, o.Reply) {
							stop = true
						}
					}
				}
			case errors.Is(err, jobdir.ErrUnknownJob):
				return UnknownJob, job.Missing(c.h.Expected, found), nil
			default:
				// Transient scan error; retried next iteration.
			}
		}

		if !stop && c.src.Event != nil {
			wait := jitteredBackoff()
			ev, err := c.src.Event.Next(ctx, c.h.JID, wait)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return Cancelled, job.Missing(c.h.Expected, found), err
				}
				// Other transient errors: ignore and retry.
			} else if ev != nil {
				switch {
				case ev.Syndic != nil:
					c.h.Expected.AddAll(ev.Syndic.Syndic)
				case ev.Reply != nil:
					if found.CheckAndInsert(ev.Reply.ID) {
						markFirstReply()
						if !yield(ev.Reply.ID, *ev.Reply) {
							stop = true
						}
					}
				}
			}
		} else if !stop {
			// No event source this call: the backoff sleep stands alone.
			select {
			case <-time.After(jitteredBackoff()):
			case <-ctx.Done():
				return Cancelled, job.Missing(c.h.Expected, found), ctx.Err()
			}
		}

		if stop {
			return Done, job.Missing(c.h.Expected, found), nil
		}

		// Step 2: convergence check. expected is re-read fresh here (not the
		// value seen at Run entry) so a syndic expansion applied in Step 1
		// above always falls through to a genuine |found ∩ expected| ≥
		// |expected| check on this same pass, per spec.md §4.5 step 2 and
		// the tie-break note that expansions are never racy with
		// convergence because they're checked on the next step, not
		// bypassed by a stale empty-expected shortcut.
		if c.h.Expected.Len() == 0 {
			if found.Len() > 0 {
				return Done, nil, nil
			}
		} else if len(job.Missing(c.h.Expected, found)) == 0 {
			return Done, nil, nil
		}

		if !haveT0 {
			// Deadline clock hasn't started (no reply observed yet under
			// the since-first-reply quirk); nothing can time out.
			continue
		}

		now := time.Now()
		deadline := t0.Add(T)

		// Step 3: write-tag guard.
		if c.src.Dir != nil && c.src.Dir.HasWriteTag() && !now.After(deadline.Add(wtagGrace)) {
			continue
		}

		// Step 4: timeout check.
		if now.After(deadline) {
			missing := job.Missing(c.h.Expected, found)
			extend := false
			if !c.pol.NoExtend && c.pol.ShouldExtend != nil {
				extend = c.pol.ShouldExtend(missing, now.Sub(t0))
			}
			if extend {
				T += c.pol.ExtendQuantum
				continue
			}
			return Expired, missing, nil
		}

		// Step 5 (implicit): no extra sleep needed, the event-source wait
		// or explicit backoff above already paced this iteration.
	}
}
