// Package target implements the Target Resolver (C1): a pure function that
// turns a target expression and kind into the form the publisher sends on
// the wire, rewriting the two kinds that need server-side expansion before
// publish (spec.md §4.1).
package target

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mattjoyce/saltctl/internal/log"
	"github.com/mattjoyce/saltctl/internal/saltctlerr"
)

// Kind is the target expression's addressing scheme (spec.md §3).
type Kind string

const (
	KindGlob      Kind = "glob"
	KindPCRE      Kind = "pcre"
	KindList      Kind = "list"
	KindGrain     Kind = "grain"
	KindGrainPCRE Kind = "grain_pcre"
	KindPillar    Kind = "pillar"
	KindNodegroup Kind = "nodegroup"
	KindRange     Kind = "range"
	KindCompound  Kind = "compound"
)

// Expression is the (expr, kind) pair the publisher ultimately sends.
// expr is opaque to the core past this package — only the resolved
// expected-id set returned by the publisher matters for convergence.
type Expression struct {
	Expr string
	Kind Kind
}

// RangeExpander expands a range expression into a concrete list of agent
// ids. It is an external collaborator (spec.md §1: "target-expression
// resolvers... consumed as a pure function") — this client never embeds a
// range-server client of its own.
type RangeExpander interface {
	Expand(ctx context.Context, expr string) ([]string, error)
}

// ResolveOptions carries the configuration Resolve needs for the two kinds
// that require it: the nodegroup mapping and, for error messages, the
// config file path nodegroup lookups are reported against.
type ResolveOptions struct {
	Nodegroups map[string]string
	ConfigPath string
	Range      RangeExpander // nil disables range expansion (spec.md §4.1)
}

// Resolve rewrites expr per spec.md §4.1. Nodegroup and range are
// pre-normalized to compound and list respectively; every other kind
// passes through unchanged.
func Resolve(ctx context.Context, expr Expression, opts ResolveOptions) (Expression, error) {
	switch expr.Kind {
	case KindNodegroup:
		return resolveNodegroup(expr, opts)
	case KindRange:
		return resolveRange(ctx, expr, opts)
	default:
		return expr, nil
	}
}

func resolveNodegroup(expr Expression, opts ResolveOptions) (Expression, error) {
	composed, ok := opts.Nodegroups[expr.Expr]
	if !ok {
		confFile := opts.ConfigPath
		if confFile == "" {
			confFile = "the master config file"
		}
		return Expression{}, saltctlerr.NewInvocationError("Node group %s unavailable in %s", expr.Expr, confFile)
	}
	return Expression{Expr: composed, Kind: KindCompound}, nil
}

// resolveRange expands a range expression via opts.Range. A nil expander or
// a backend error both degrade to an empty list, per spec.md §4.1 ("on
// backend error return the empty list and log") rather than raising —
// range-server failures are explicitly Transient (spec.md §7).
func resolveRange(ctx context.Context, expr Expression, opts ResolveOptions) (Expression, error) {
	if opts.Range == nil {
		return Expression{Expr: "", Kind: KindList}, nil
	}
	ids, err := opts.Range.Expand(ctx, expr.Expr)
	if err != nil {
		log.WithComponent("target").Warn("range expansion failed", "expr", expr.Expr, "error", err)
		return Expression{Expr: "", Kind: KindList}, nil
	}
	return Expression{Expr: joinList(ids), Kind: KindList}, nil
}

// joinList renders an expanded range as the comma-joined list expression
// the publisher forwards verbatim as the list target string.
func joinList(ids []string) string {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

// String renders the expression for log lines and error messages.
func (e Expression) String() string {
	return fmt.Sprintf("%s:%s", e.Kind, e.Expr)
}

// NormalizeNodegroup exposes the nodegroup→compound rewrite on its own, so a
// verbose caller can show the operator what a nodegroup target actually
// expanded to before publish.
func NormalizeNodegroup(expr Expression, opts ResolveOptions) (Expression, error) {
	if expr.Kind != KindNodegroup {
		return expr, nil
	}
	return resolveNodegroup(expr, opts)
}

// NormalizeRange exposes the range→list rewrite on its own, for the same
// verbose-printing purpose as NormalizeNodegroup.
func NormalizeRange(ctx context.Context, expr Expression, opts ResolveOptions) (Expression, error) {
	if expr.Kind != KindRange {
		return expr, nil
	}
	return resolveRange(ctx, expr, opts)
}
