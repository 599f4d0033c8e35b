// Package inspect renders a human- or machine-readable report of a job's
// on-disk state: which agents have replied, what they returned, and (when
// the expected agent set is known) who is still missing.
package inspect

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/mattjoyce/saltctl/internal/job"
	"github.com/mattjoyce/saltctl/internal/jobdir"
	"github.com/mattjoyce/saltctl/internal/wire"
)

// AgentEntry is one agent's reported state within a job.
type AgentEntry struct {
	AgentID string `json:"agent_id"`
	Ret     any    `json:"ret"`
	Out     any    `json:"out,omitempty"`
}

// Report is the structured form of a job inspection.
type Report struct {
	JID      string       `json:"jid"`
	Dir      string       `json:"dir"`
	Expected []string     `json:"expected,omitempty"`
	Found    []AgentEntry `json:"found"`
	Missing  []string     `json:"missing,omitempty"`
}

// BuildJob collects a Report by scanning jid's job directory. expected may be
// nil when the caller doesn't know the target's resolved membership; in that
// case Missing is always empty.
func BuildJob(ctx context.Context, cacheDir string, hashType wire.HashType, jid string, expected *job.AgentSet) (*Report, error) {
	dir, err := wire.JobDirPath(cacheDir, hashType, jid)
	if err != nil {
		return nil, fmt.Errorf("resolve job directory: %w", err)
	}
	reader := jobdir.NewReader(dir)
	if !reader.Exists() {
		return nil, fmt.Errorf("job %q has no directory under %s", jid, cacheDir)
	}

	obs, err := reader.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan job directory: %w", err)
	}

	report := &Report{JID: jid, Dir: reader.Dir()}
	for _, o := range obs {
		report.Found = append(report.Found, AgentEntry{AgentID: o.AgentID, Ret: o.Reply.Ret, Out: o.Reply.Out})
	}
	sort.Slice(report.Found, func(i, j int) bool { return report.Found[i].AgentID < report.Found[j].AgentID })

	if expected != nil {
		report.Expected = toStrings(expected.List())
		found := job.NewAgentSet()
		for _, e := range report.Found {
			found.Add(job.AgentID(e.AgentID))
		}
		for _, id := range job.Missing(expected, found) {
			report.Missing = append(report.Missing, string(id))
		}
		sort.Strings(report.Missing)
	}

	return report, nil
}

// Render formats r as a terminal-friendly text report.
func Render(r *Report) string {
	var out strings.Builder
	fmt.Fprintf(&out, "Job Report\n")
	fmt.Fprintf(&out, "JID        : %s\n", r.JID)
	fmt.Fprintf(&out, "Directory  : %s\n", r.Dir)
	if len(r.Expected) > 0 {
		fmt.Fprintf(&out, "Expected   : %d agent(s)\n", len(r.Expected))
	}
	fmt.Fprintf(&out, "Replied    : %d agent(s)\n", len(r.Found))
	if len(r.Missing) > 0 {
		fmt.Fprintf(&out, "Missing    : %s\n", strings.Join(r.Missing, ", "))
	}
	fmt.Fprintf(&out, "\n")

	for _, e := range r.Found {
		fmt.Fprintf(&out, "%s:\n", e.AgentID)
		fmt.Fprintf(&out, "    ret: %s\n", prettyJSON(e.Ret))
		if e.Out != nil {
			fmt.Fprintf(&out, "    out: %s\n", prettyJSON(e.Out))
		}
	}

	return strings.TrimRight(out.String(), "\n") + "\n"
}

// BuildReport is the text-rendered convenience wrapper around BuildJob.
func BuildReport(ctx context.Context, cacheDir string, hashType wire.HashType, jid string, expected *job.AgentSet) (string, error) {
	r, err := BuildJob(ctx, cacheDir, hashType, jid, expected)
	if err != nil {
		return "", err
	}
	return Render(r), nil
}

// BuildJSONReport is the JSON-rendered convenience wrapper around BuildJob.
func BuildJSONReport(ctx context.Context, cacheDir string, hashType wire.HashType, jid string, expected *job.AgentSet) (string, error) {
	r, err := BuildJob(ctx, cacheDir, hashType, jid, expected)
	if err != nil {
		return "", err
	}
	out, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func prettyJSON(v any) string {
	if v == nil {
		return "null"
	}
	out, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(out)
}

func toStrings(ids []job.AgentID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	sort.Strings(out)
	return out
}
