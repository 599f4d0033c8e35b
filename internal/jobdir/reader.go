// Package jobdir implements the Job Directory Reader (C3): a poller over a
// per-job on-disk tree of per-agent return files.
package jobdir

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/mattjoyce/saltctl/internal/log"
	"github.com/mattjoyce/saltctl/internal/wire"
)

const (
	returnFileName = "return.p"
	outFileName    = "out.p"
)

// ErrUnknownJob is returned by Scan (and reported by HasWriteTag as false)
// when the job directory does not exist at call entry, per spec.md §4.3.
var ErrUnknownJob = errors.New("job directory does not exist")

// Observation is one decoded per-agent reply plus the subdirectory it came
// from, surfaced by a single Scan pass.
type Observation struct {
	AgentID string
	Reply   wire.AgentReply
}

// Reader polls one job's on-disk directory tree. It tracks which agent
// subdirectories have already been yielded so a caller driving repeated
// Scan calls never sees the same agent twice (spec.md invariant 2).
type Reader struct {
	dir  string
	seen map[string]bool
}

// NewReader builds a Reader rooted at dir (the job's directory, as produced
// by wire.JobDirPath).
func NewReader(dir string) *Reader {
	return &Reader{dir: dir, seen: make(map[string]bool)}
}

// Dir returns the job directory path this reader scans.
func (r *Reader) Dir() string { return r.dir }

// Exists reports whether the job directory exists on disk right now.
func (r *Reader) Exists() bool {
	info, err := os.Stat(r.dir)
	return err == nil && info.IsDir()
}

// Scan performs one non-blocking pass over the job directory, returning any
// newly-observed agent replies. It implements, verbatim, spec.md §4.3's
// rules: hidden subdirectories are skipped, each subdirectory yields at most
// once across the Reader's lifetime, and a return.p that decodes to JSON
// null is re-attempted once within the same pass before being skipped for
// this cycle (the next Scan call will retry it).
func (r *Reader) Scan(ctx context.Context) ([]Observation, error) {
	if !r.Exists() {
		return nil, ErrUnknownJob
	}

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, err
	}

	var out []Observation
	logger := log.WithComponent("jobdir")

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		name := entry.Name()
		if !entry.IsDir() || len(name) == 0 || name[0] == '.' {
			continue
		}
		if r.seen[name] {
			continue
		}

		reply, ok, err := r.readAgentDir(filepath.Join(r.dir, name))
		if err != nil {
			logger.Debug("read agent dir failed", "agent_id", name, "error", err)
			continue
		}
		if !ok {
			// Not committed yet (no return.p, or it decoded null twice).
			continue
		}

		reply.ID = name
		r.seen[name] = true
		out = append(out, Observation{AgentID: name, Reply: reply})
	}

	return out, nil
}

// readAgentDir decodes one agent's return.p (mandatory, commit marker) and
// out.p (optional, additive). Returns ok=false if return.p is absent or
// still decoding to null after one retry.
func (r *Reader) readAgentDir(dir string) (wire.AgentReply, bool, error) {
	returnPath := filepath.Join(dir, returnFileName)

	data, err := os.ReadFile(returnPath)
	if err != nil {
		if os.IsNotExist(err) {
			return wire.AgentReply{}, false, nil
		}
		return wire.AgentReply{}, false, err
	}

	value, isNull, err := wire.DecodeReturn(data)
	if err != nil {
		return wire.AgentReply{}, false, err
	}
	if isNull {
		// Transient read anomaly: the writer may be mid-rename. Re-attempt
		// once in the same pass before giving up on this cycle.
		data, err = os.ReadFile(returnPath)
		if err != nil {
			if os.IsNotExist(err) {
				return wire.AgentReply{}, false, nil
			}
			return wire.AgentReply{}, false, err
		}
		value, isNull, err = wire.DecodeReturn(data)
		if err != nil {
			return wire.AgentReply{}, false, err
		}
		if isNull {
			return wire.AgentReply{}, false, nil
		}
	}

	reply := wire.AgentReply{Ret: value}

	if outData, err := os.ReadFile(filepath.Join(dir, outFileName)); err == nil {
		if outValue, outIsNull, derr := wire.DecodeReturn(outData); derr == nil && !outIsNull {
			reply.Out = outValue
		}
	}

	return reply, true, nil
}

// HasWriteTag reports whether any wtag* path exists directly under the job
// directory — the forwarder-is-flushing marker of spec.md §4.5.
func (r *Reader) HasWriteTag() bool {
	matches, err := filepath.Glob(filepath.Join(r.dir, "wtag*"))
	if err != nil {
		return false
	}
	return len(matches) > 0
}
