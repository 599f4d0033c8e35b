// Package client implements the Result Aggregators (C7): the five public
// call shapes built over the convergence controller, plus the run_job/pub
// primitives and the job-info passthrough.
package client

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"time"

	"github.com/mattjoyce/saltctl/internal/auth"
	"github.com/mattjoyce/saltctl/internal/config"
	"github.com/mattjoyce/saltctl/internal/converge"
	"github.com/mattjoyce/saltctl/internal/events"
	"github.com/mattjoyce/saltctl/internal/eventsource"
	"github.com/mattjoyce/saltctl/internal/job"
	"github.com/mattjoyce/saltctl/internal/jobdir"
	"github.com/mattjoyce/saltctl/internal/liveness"
	"github.com/mattjoyce/saltctl/internal/log"
	"github.com/mattjoyce/saltctl/internal/publish"
	"github.com/mattjoyce/saltctl/internal/target"
	"github.com/mattjoyce/saltctl/internal/wire"
)

// CallOptions is the common parameter set every aggregator accepts, per
// spec.md §6.1.
type CallOptions struct {
	Tgt      string
	TgtType  target.Kind
	Fun      string
	Arg      []any
	Kwargs   map[string]any
	Ret      string
	Timeout  time.Duration // zero means "use the configured default"
	Verbose  bool
}

// Reply is one agent's surfaced result: the bare payload for cmd, or
// {Ret, Out} for the streaming/full-return shapes.
type Reply struct {
	Ret any
	Out any
}

// LocalClient is the single entry point exposing the five result-aggregator
// shapes plus their shared primitives.
type LocalClient struct {
	Transport publish.Publisher
	Prober    *liveness.Prober
	Bus       *events.Bus
	Cfg       *config.Config

	resolveOpts target.ResolveOptions
	keyUser     string
	authKey     string
}

// New builds a LocalClient wired from cfg. transport and bus are the
// external collaborators (spec.md §1 models them as interfaces only).
func New(cfg *config.Config, transport publish.Publisher, bus *events.Bus) *LocalClient {
	keyUser := auth.ResolveUser(cfg.DefaultUser)
	return &LocalClient{
		Transport: transport,
		Prober:    liveness.NewProber(transport, cfg.CacheDir, cfg.HashType),
		Bus:       bus,
		Cfg:       cfg,
		resolveOpts: target.ResolveOptions{
			Nodegroups: cfg.Nodegroups,
			ConfigPath: cfg.Path(),
		},
		keyUser: keyUser,
		authKey: auth.ReadKey(cfg.CacheDir, keyUser),
	}
}

func (c *LocalClient) timeoutOrDefault(t time.Duration) time.Duration {
	if t > 0 {
		return t
	}
	return c.Cfg.DefaultTimeout
}

// Pub publishes opts without waiting for any reply, returning the job
// handle. This is the "pub" primitive of spec.md §6.1; jid allocation is
// delegated to the Publisher (an empty jid here means "allocate one").
func (c *LocalClient) Pub(ctx context.Context, opts CallOptions) (*job.Handle, error) {
	resolved, err := target.Resolve(ctx, target.Expression{Expr: opts.Tgt, Kind: opts.TgtType}, c.resolveOpts)
	if err != nil {
		return nil, err
	}

	res, err := c.Transport.Publish(ctx, publish.PublishRequest{
		Tgt:     resolved.Expr,
		TgtType: string(resolved.Kind),
		Fun:     opts.Fun,
		Arg:     opts.Arg,
		Kwargs:  opts.Kwargs,
		Ret:     opts.Ret,
		Key:     c.authKey,
		User:    c.keyUser,
	})
	if err != nil {
		return nil, err
	}

	timeout := c.timeoutOrDefault(opts.Timeout)
	return job.NewHandle(res.JID, res.Minions, timeout, resolved), nil
}

// RunJob publishes opts and returns the handle immediately, matching the
// "run_job" primitive (fire-and-forget, caller gathers separately later via
// GetReturns/GetFullReturns/etc using the handle's jid).
func (c *LocalClient) RunJob(ctx context.Context, opts CallOptions) (*job.Handle, error) {
	return c.Pub(ctx, opts)
}

func (c *LocalClient) sourcesFor(h *job.Handle) converge.Sources {
	var src converge.Sources
	if h.JID != job.PublishFailedJID {
		if dir, err := wire.JobDirPath(c.Cfg.CacheDir, c.Cfg.HashType, h.JID); err == nil {
			src.Dir = jobdir.NewReader(dir)
		}
		if c.Bus != nil {
			bs, cancel := eventsource.NewBusSource(c.Bus, h.JID)
			_ = cancel // released when the caller's context ends; Run never needs mid-call release here
			src.Event = bs
		}
	}
	return src
}

// shouldExtend builds the policy's liveness hook, nil when extension is
// disabled.
func (c *LocalClient) shouldExtend(h *job.Handle, noExtend bool) func([]job.AgentID, time.Duration) bool {
	if noExtend {
		return nil
	}
	return liveness.AsShouldExtend(c.Prober, h.JID, h.Target)
}

func (c *LocalClient) runBlocking(ctx context.Context, opts CallOptions, emptyMeansDone, sinceFirstReply bool) (map[job.AgentID]Reply, []job.AgentID, converge.Outcome, error) {
	h, err := c.Pub(ctx, opts)
	if err != nil {
		return nil, nil, 0, err
	}

	ctrl := converge.New(h, c.sourcesFor(h), converge.Policy{
		ShouldExtend:           c.shouldExtend(h, false),
		ExtendQuantum:          c.Cfg.ExtensionQuantum,
		EmptyExpectedMeansDone: emptyMeansDone,
		TimeoutSinceFirstReply: sinceFirstReply,
	})

	result := map[job.AgentID]Reply{}
	outcome, missing, err := ctrl.Run(ctx, func(id job.AgentID, r wire.AgentReply) bool {
		result[id] = Reply{Ret: r.Ret, Out: r.Out}
		return true
	})
	if err != nil {
		return result, missing, outcome, err
	}
	return result, missing, outcome, nil
}

// Cmd is the blocking-all aggregator ("cmd"): returns AgentId -> bare ret,
// waiting for every expected agent (extending on liveness evidence).
func (c *LocalClient) Cmd(ctx context.Context, opts CallOptions) (map[job.AgentID]any, error) {
	replies, _, _, err := c.runBlocking(ctx, opts, true, false)
	if err != nil {
		return nil, err
	}
	out := make(map[job.AgentID]any, len(replies))
	for id, r := range replies {
		out[id] = r.Ret
	}
	return out, nil
}

// CmdFullReturn is "cmd_full_return": blocking-all, {ret, out} per agent,
// verbose CLI surfacing on Expired.
func (c *LocalClient) CmdFullReturn(ctx context.Context, opts CallOptions) (map[job.AgentID]Reply, error) {
	replies, missing, outcome, err := c.runBlocking(ctx, opts, true, true)
	if err != nil {
		return nil, err
	}
	if opts.Verbose && outcome == converge.Expired {
		printMissing(opts.TgtType, missing)
	}
	return replies, nil
}

// yieldEmptyOnPublishFailure reports whether h represents a publish that
// never reached the broker, and if so, yields one empty mapping (id "",
// zero-value Reply) before the caller returns — spec.md §4.7's "yields on
// empty/no-publish" column and §8 Scenario 6 ("cmd_iter yields {} once then
// stops") both apply to a failed publish, not just to no results ever
// arriving.
func yieldEmptyOnPublishFailure(h *job.Handle, yield func(job.AgentID, Reply) bool) bool {
	if !h.PublishFailed() {
		return false
	}
	yield("", Reply{})
	return true
}

// CmdIter is "cmd_iter": a lazy sequence of single-agent mappings, one per
// reply as it arrives, empty-expected semantics waiting for any reply.
func (c *LocalClient) CmdIter(ctx context.Context, opts CallOptions) iter.Seq2[job.AgentID, Reply] {
	return func(yield func(job.AgentID, Reply) bool) {
		h, err := c.Pub(ctx, opts)
		if err != nil {
			return
		}
		if yieldEmptyOnPublishFailure(h, yield) {
			return
		}
		ctrl := converge.New(h, c.sourcesFor(h), converge.Policy{
			ShouldExtend:  c.shouldExtend(h, false),
			ExtendQuantum: c.Cfg.ExtensionQuantum,
		})
		_, _, _ = ctrl.Run(ctx, func(id job.AgentID, r wire.AgentReply) bool {
			return yield(id, Reply{Ret: r.Ret, Out: r.Out})
		})
	}
}

// CmdIterNoBlock is "cmd_iter_no_block": like CmdIter but the timeout is
// fixed — never extended, no liveness probe ever invoked.
func (c *LocalClient) CmdIterNoBlock(ctx context.Context, opts CallOptions) iter.Seq2[job.AgentID, Reply] {
	return func(yield func(job.AgentID, Reply) bool) {
		h, err := c.Pub(ctx, opts)
		if err != nil {
			return
		}
		if yieldEmptyOnPublishFailure(h, yield) {
			return
		}
		ctrl := converge.New(h, c.sourcesFor(h), converge.Policy{NoExtend: true})
		_, _, _ = ctrl.Run(ctx, func(id job.AgentID, r wire.AgentReply) bool {
			return yield(id, Reply{Ret: r.Ret, Out: r.Out})
		})
	}
}

// CmdCli is "cmd_cli": streaming with verbose stdout banners, printing the
// still-missing glob/pcre targets on Expired. Per spec.md's REDESIGN FLAG,
// "did not return" is computed as len(found) < len(expected) at the moment
// the loop terminates, not the original's suspect superset check.
func (c *LocalClient) CmdCli(ctx context.Context, opts CallOptions) iter.Seq2[job.AgentID, Reply] {
	return func(yield func(job.AgentID, Reply) bool) {
		h, err := c.Pub(ctx, opts)
		if err != nil {
			return
		}
		if yieldEmptyOnPublishFailure(h, yield) {
			return
		}
		if opts.Verbose {
			fmt.Printf("Executing job with jid %s\n", h.JID)
		}

		ctrl := converge.New(h, c.sourcesFor(h), converge.Policy{
			ShouldExtend:  c.shouldExtend(h, false),
			ExtendQuantum: c.Cfg.ExtensionQuantum,
		})

		found := 0
		outcome, missing, _ := ctrl.Run(ctx, func(id job.AgentID, r wire.AgentReply) bool {
			found++
			return yield(id, Reply{Ret: r.Ret, Out: r.Out})
		})

		didNotReturn := found < h.Expected.Len()
		if opts.Verbose && outcome == converge.Expired && didNotReturn {
			printMissing(opts.TgtType, missing)
		}
	}
}

func printMissing(kind target.Kind, missing []job.AgentID) {
	if kind != target.KindGlob && kind != target.KindPCRE {
		return
	}
	if len(missing) == 0 {
		return
	}
	sorted := append([]job.AgentID(nil), missing...)
	sort.Strings(sorted)
	fmt.Print("\nThe following minions did not return:\n")
	for _, id := range sorted {
		fmt.Println(id)
	}
}

// GatherJobInfo exposes the liveness prober directly, per spec.md §6.1's
// "gather_job_info" operator-facing entry.
func (c *LocalClient) GatherJobInfo(ctx context.Context, jid string, tgt target.Expression) map[string]bool {
	return c.Prober.GatherJobInfo(ctx, jid, tgt)
}

// GetReturns re-enters the blocking-all loop for an already-published jid,
// preserving the timeout-since-first-reply quirk (spec.md §9). Used to
// gather results for a handle obtained via RunJob.
func (c *LocalClient) GetReturns(ctx context.Context, h *job.Handle) (map[job.AgentID]any, error) {
	replies, _, _, err := c.runBlockingFor(ctx, h, true, true)
	if err != nil {
		return nil, err
	}
	out := make(map[job.AgentID]any, len(replies))
	for id, r := range replies {
		out[id] = r.Ret
	}
	return out, nil
}

// GetFullReturns is GetReturns with the {ret, out} shape.
func (c *LocalClient) GetFullReturns(ctx context.Context, h *job.Handle) (map[job.AgentID]Reply, error) {
	replies, _, _, err := c.runBlockingFor(ctx, h, true, true)
	return replies, err
}

// GetIterReturns streams from an already-published handle.
func (c *LocalClient) GetIterReturns(ctx context.Context, h *job.Handle) iter.Seq2[job.AgentID, Reply] {
	return func(yield func(job.AgentID, Reply) bool) {
		ctrl := converge.New(h, c.sourcesFor(h), converge.Policy{
			ShouldExtend:  c.shouldExtend(h, false),
			ExtendQuantum: c.Cfg.ExtensionQuantum,
		})
		_, _, _ = ctrl.Run(ctx, func(id job.AgentID, r wire.AgentReply) bool {
			return yield(id, Reply{Ret: r.Ret, Out: r.Out})
		})
	}
}

// GetCliReturns, GetCliEventReturns and GetCliStaticEventReturns are the
// CLI-flavored variants over an already-published handle. GetCliReturns
// drains both the job directory and the event source; the two Event
// variants read only the event source, and the Static one also never
// extends its timeout.
func (c *LocalClient) GetCliReturns(ctx context.Context, h *job.Handle, verbose bool) iter.Seq2[job.AgentID, Reply] {
	return c.getCliVariant(ctx, h, verbose, converge.Sources{Dir: jobdirReaderOrNil(c, h), Event: busSourceOrNil(c, h)})
}

// GetCliEventReturns polls only the event source, never the job directory.
func (c *LocalClient) GetCliEventReturns(ctx context.Context, h *job.Handle, verbose bool) iter.Seq2[job.AgentID, Reply] {
	return c.getCliVariant(ctx, h, verbose, converge.Sources{Event: busSourceOrNil(c, h)})
}

// GetCliStaticEventReturns is a fixed-window event-only listen with
// extension disabled, grounded on cmd_iter_no_block's never-extend policy.
// Unlike GetCliEventReturns it takes no verbose flag and never prints the
// missing agents.
func (c *LocalClient) GetCliStaticEventReturns(ctx context.Context, h *job.Handle) iter.Seq2[job.AgentID, Reply] {
	return func(yield func(job.AgentID, Reply) bool) {
		ctrl := converge.New(h, converge.Sources{Event: busSourceOrNil(c, h)}, converge.Policy{NoExtend: true})
		_, _, _ = ctrl.Run(ctx, func(id job.AgentID, r wire.AgentReply) bool {
			return yield(id, Reply{Ret: r.Ret, Out: r.Out})
		})
	}
}

// GetEventIterReturns is the bare event-only streaming primitive with no
// CLI printing.
func (c *LocalClient) GetEventIterReturns(ctx context.Context, h *job.Handle) iter.Seq2[job.AgentID, Reply] {
	return func(yield func(job.AgentID, Reply) bool) {
		ctrl := converge.New(h, converge.Sources{Event: busSourceOrNil(c, h)}, converge.Policy{
			ShouldExtend:  c.shouldExtend(h, false),
			ExtendQuantum: c.Cfg.ExtensionQuantum,
		})
		_, _, _ = ctrl.Run(ctx, func(id job.AgentID, r wire.AgentReply) bool {
			return yield(id, Reply{Ret: r.Ret, Out: r.Out})
		})
	}
}

func (c *LocalClient) getCliVariant(ctx context.Context, h *job.Handle, verbose bool, src converge.Sources) iter.Seq2[job.AgentID, Reply] {
	return func(yield func(job.AgentID, Reply) bool) {
		ctrl := converge.New(h, src, converge.Policy{
			ShouldExtend:  c.shouldExtend(h, false),
			ExtendQuantum: c.Cfg.ExtensionQuantum,
		})
		found := 0
		outcome, missing, _ := ctrl.Run(ctx, func(id job.AgentID, r wire.AgentReply) bool {
			found++
			return yield(id, Reply{Ret: r.Ret, Out: r.Out})
		})
		didNotReturn := found < h.Expected.Len()
		if verbose && outcome == converge.Expired && didNotReturn {
			printMissing(h.Target.Kind, missing)
		}
	}
}

func (c *LocalClient) runBlockingFor(ctx context.Context, h *job.Handle, emptyMeansDone, sinceFirstReply bool) (map[job.AgentID]Reply, []job.AgentID, converge.Outcome, error) {
	ctrl := converge.New(h, c.sourcesFor(h), converge.Policy{
		ShouldExtend:           c.shouldExtend(h, false),
		ExtendQuantum:          c.Cfg.ExtensionQuantum,
		EmptyExpectedMeansDone: emptyMeansDone,
		TimeoutSinceFirstReply: sinceFirstReply,
	})
	result := map[job.AgentID]Reply{}
	outcome, missing, err := ctrl.Run(ctx, func(id job.AgentID, r wire.AgentReply) bool {
		result[id] = Reply{Ret: r.Ret, Out: r.Out}
		return true
	})
	return result, missing, outcome, err
}

func jobdirReaderOrNil(c *LocalClient, h *job.Handle) converge.DirSource {
	if h.JID == job.PublishFailedJID {
		return nil
	}
	dir, err := wire.JobDirPath(c.Cfg.CacheDir, c.Cfg.HashType, h.JID)
	if err != nil {
		log.WithComponent("client").Warn("job dir path failed", "jid", h.JID, "error", err)
		return nil
	}
	return jobdir.NewReader(dir)
}

func busSourceOrNil(c *LocalClient, h *job.Handle) eventsource.Source {
	if c.Bus == nil || h.JID == job.PublishFailedJID {
		return nil
	}
	bs, _ := eventsource.NewBusSource(c.Bus, h.JID)
	return bs
}
