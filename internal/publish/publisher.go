// Package publish sends a command to the master's return port over the
// local Unix socket and reads back the synchronous accept/reject reply. It
// never talks to remote agents directly — that hop belongs to the master.
package publish

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/saltctl/internal/job"
	"github.com/mattjoyce/saltctl/internal/saltctlerr"
	"github.com/mattjoyce/saltctl/internal/wire"
)

// PublishRequest carries everything needed to build a PublishPayload, per
// spec.md §6.2.
type PublishRequest struct {
	Tgt     string
	Fun     string
	Arg     []any
	Kwargs  map[string]any
	TgtType string
	Key     string
	User    string
	Ret     string
	JID     string
	Timeout *time.Duration
}

// PublishResult is what a Publish call hands back to the caller.
type PublishResult struct {
	JID     string
	Minions []string
}

// Publisher sends one command to the master and waits for the synchronous
// accept reply carrying the resolved minion list.
type Publisher interface {
	Publish(ctx context.Context, req PublishRequest) (PublishResult, error)
}

// SocketPublisher talks to the master's return port over a Unix domain
// socket rooted at SockDir, grounded on the teacher dispatcher's
// spawn-then-frame request/reply pattern (here a socket round trip instead
// of a subprocess pipe).
type SocketPublisher struct {
	SockDir string
	Dial    func(network, address string) (net.Conn, error)
}

// NewSocketPublisher builds a SocketPublisher rooted at sockDir.
func NewSocketPublisher(sockDir string) *SocketPublisher {
	return &SocketPublisher{SockDir: sockDir, Dial: net.Dial}
}

func (p *SocketPublisher) socketPath() string {
	return filepath.Join(p.SockDir, "publish_pull.sock")
}

// Publish connects to the master's publish socket and performs one
// synchronous request/reply. Per spec.md §4.2, an absent socket or any
// transport failure yields PublishResult{JID: "0"} and a nil error — a
// failed publish is reflected in the result, never raised as a Go error
// (only InvocationError/AuthError ever are, per §7).
func (p *SocketPublisher) Publish(ctx context.Context, req PublishRequest) (PublishResult, error) {
	conn, err := p.Dial("unix", p.socketPath())
	if err != nil {
		return PublishResult{JID: job.PublishFailedJID}, nil
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	jid := req.JID
	if jid == "" {
		// Per the round-trip property in spec.md §8: an empty jid means
		// the publisher allocates one, and that allocated jid routes every
		// subsequent read back to the same job directory.
		jid = uuid.NewString()
	}

	payload := &wire.PublishPayload{
		Cmd:     "publish",
		Tgt:     req.Tgt,
		Fun:     req.Fun,
		Arg:     req.Arg,
		Key:     req.Key,
		TgtType: req.TgtType,
		Ret:     req.Ret,
		JID:     jid,
		Kwargs:  req.Kwargs,
		User:    req.User,
	}
	if req.Timeout != nil {
		secs := req.Timeout.Seconds()
		payload.To = &secs
	}

	if err := wire.EncodePublishPayload(conn, payload); err != nil {
		return PublishResult{JID: job.PublishFailedJID}, nil
	}

	reply, err := wire.DecodePublishReply(conn)
	if err != nil {
		return PublishResult{JID: job.PublishFailedJID}, nil
	}
	if reply.Error != "" {
		return PublishResult{}, saltctlerr.NewAuthError("%s", reply.Error)
	}

	resultJID := reply.JID
	if resultJID == "" {
		resultJID = jid
	}
	return PublishResult{JID: resultJID, Minions: reply.Minions}, nil
}

func flattenKwargsToken(k string, v any) string {
	return fmt.Sprintf("%s=%v", k, v)
}

// FlattenKwargs packs named args as "k=v" tokens appended to the positional
// arg list, per spec.md §6.1's kwarg-as-trailing-token convention.
func FlattenKwargs(args []any, kwargs map[string]any) []any {
	out := make([]any, 0, len(args)+len(kwargs))
	out = append(out, args...)
	for k, v := range kwargs {
		out = append(out, flattenKwargsToken(k, v))
	}
	return out
}

// SplitKwargToken reverses FlattenKwargs for one token, returning ok=false
// if the token is not of the "k=v" shape.
func SplitKwargToken(tok string) (key, value string, ok bool) {
	parts := strings.SplitN(tok, "=", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}
