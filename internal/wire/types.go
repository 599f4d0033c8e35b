// Package wire defines the serialized shapes exchanged with the master and
// read back from the on-disk job directory, plus the encode/decode helpers
// for them. It is the Go-native stand-in for the system serializer spec.md
// treats as an external collaborator — pinned concretely to encoding/json
// here, since the wire-level transport's own codec choice is explicitly out
// of scope (spec.md §1).
package wire

import "time"

// PublishPayload is the top-level message sent to the master's return port,
// matching spec.md §6.2 field-for-field.
type PublishPayload struct {
	Cmd     string         `json:"cmd"`
	Tgt     string         `json:"tgt"`
	Fun     string         `json:"fun"`
	Arg     []any          `json:"arg"`
	Key     string         `json:"key"`
	TgtType string         `json:"tgt_type"`
	Ret     string         `json:"ret"`
	JID     string         `json:"jid"`
	Kwargs  map[string]any `json:"kwargs,omitempty"`
	User    string         `json:"user,omitempty"`
	To      *float64       `json:"to,omitempty"`
}

// PublishReply is what the master's return port sends back synchronously.
// Error is set only when the server rejected the publish outright (bad
// auth key, malformed payload) — distinct from a transport failure, which
// never produces a reply at all.
type PublishReply struct {
	JID     string   `json:"jid"`
	Minions []string `json:"minions"`
	Error   string   `json:"error,omitempty"`
}

// AgentReply is one agent's return, decoded from return.p (+ optional
// out.p), or carried verbatim over the event source.
type AgentReply struct {
	ID  string `json:"id"`
	Ret any    `json:"ret"`
	Out any    `json:"out,omitempty"`
}

// SyndicAnnouncement is the forwarder message that expands the expected set
// at runtime. Per spec.md §3, expected only ever grows from this.
type SyndicAnnouncement struct {
	Syndic []string `json:"syndic"`
}

// Event is the union of shapes the event source can hand back: either a
// syndic expansion or a terminal per-agent reply, never both.
type Event struct {
	Syndic *SyndicAnnouncement
	Reply  *AgentReply
	At     time.Time
}
