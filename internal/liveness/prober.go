// Package liveness implements the Liveness Prober (C6): re-entering the
// publish path with saltutil.find_job to ask still-missing agents whether
// they are still executing the original job.
package liveness

import (
	"context"
	"time"

	"github.com/mattjoyce/saltctl/internal/job"
	"github.com/mattjoyce/saltctl/internal/jobdir"
	"github.com/mattjoyce/saltctl/internal/log"
	"github.com/mattjoyce/saltctl/internal/publish"
	"github.com/mattjoyce/saltctl/internal/target"
	"github.com/mattjoyce/saltctl/internal/wire"
)

// probeQuantum is the fixed timeout used for the find_job round trip,
// deliberately short and non-configurable per spec.md §4.6.
const probeQuantum = 2 * time.Second

const probePollInterval = 20 * time.Millisecond

// Prober asks still-missing agents whether a job is still running by
// publishing saltutil.find_job and polling its own job directory for
// truthy replies, all within a fixed quantum.
type Prober struct {
	pub      publish.Publisher
	cacheDir string
	hashType wire.HashType
}

// NewProber builds a Prober that re-enters pub for every probe, reading
// replies back from cacheDir using hashType to derive each probe's job
// directory path.
func NewProber(pub publish.Publisher, cacheDir string, hashType wire.HashType) *Prober {
	return &Prober{pub: pub, cacheDir: cacheDir, hashType: hashType}
}

// GatherJobInfo asks every agent in tgt whether jid is still executing.
// Probe failures (publish failure, decode errors, job-dir path errors) are
// swallowed into an empty mapping per spec.md §7 ("Transient... default to
// giving up"), never surfaced as a Go error.
func (p *Prober) GatherJobInfo(ctx context.Context, jid string, tgt target.Expression) map[string]bool {
	logger := log.WithComponent("liveness").With("jid", jid)

	probeCtx, cancel := context.WithTimeout(ctx, probeQuantum)
	defer cancel()

	res, err := p.pub.Publish(probeCtx, publish.PublishRequest{
		Tgt:     tgt.Expr,
		TgtType: string(tgt.Kind),
		Fun:     "saltutil.find_job",
		Arg:     []any{jid},
	})
	if err != nil || res.JID == job.PublishFailedJID {
		if err != nil {
			logger.Debug("find_job probe publish failed", "error", err)
		}
		return map[string]bool{}
	}

	dir, err := wire.JobDirPath(p.cacheDir, p.hashType, res.JID)
	if err != nil {
		logger.Debug("find_job job dir path failed", "error", err)
		return map[string]bool{}
	}

	reader := jobdir.NewReader(dir)
	running := make(map[string]bool)

	ticker := time.NewTicker(probePollInterval)
	defer ticker.Stop()

	for {
		obs, err := reader.Scan(probeCtx)
		if err == nil {
			for _, o := range obs {
				running[o.AgentID] = isTruthy(o.Reply.Ret)
			}
		}
		if len(running) >= len(res.Minions) {
			return running
		}
		select {
		case <-probeCtx.Done():
			return running
		case <-ticker.C:
		}
	}
}

func isTruthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case map[string]any:
		return len(x) > 0
	case []any:
		return len(x) > 0
	default:
		return true
	}
}

// AsShouldExtend adapts a Prober into the converge.Policy.ShouldExtend
// signature: true if at least one still-missing agent reports running.
func AsShouldExtend(p *Prober, jid string, tgt target.Expression) func(missing []job.AgentID, elapsed time.Duration) bool {
	return func(missing []job.AgentID, elapsed time.Duration) bool {
		if len(missing) == 0 {
			return false
		}
		running := p.GatherJobInfo(context.Background(), jid, tgt)
		for _, id := range missing {
			if running[id] {
				return true
			}
		}
		return false
	}
}
