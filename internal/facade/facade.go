// Package facade exposes a single agent's function set as callable entries,
// discovered via sys.list_functions and invoked through the blocking-all
// aggregator (the Function Facade, C8).
package facade

import (
	"context"

	"github.com/mattjoyce/saltctl/internal/client"
	"github.com/mattjoyce/saltctl/internal/publish"
	"github.com/mattjoyce/saltctl/internal/saltctlerr"
	"github.com/mattjoyce/saltctl/internal/target"
)

// Facade exposes minionID's discovered functions as callable entries.
type Facade struct {
	cl       *client.LocalClient
	minionID string
	fns      map[string]struct{}
}

// New resolves minionID's function set by issuing sys.list_functions
// through the blocking-all aggregator.
func New(ctx context.Context, cl *client.LocalClient, minionID string) (*Facade, error) {
	result, err := cl.Cmd(ctx, client.CallOptions{
		Tgt:     minionID,
		TgtType: target.KindList,
		Fun:     "sys.list_functions",
	})
	if err != nil {
		return nil, err
	}

	fns := map[string]struct{}{}
	if raw, ok := result[minionID]; ok {
		if list, ok := raw.([]any); ok {
			for _, v := range list {
				if name, ok := v.(string); ok {
					fns[name] = struct{}{}
				}
			}
		}
	}

	return &Facade{cl: cl, minionID: minionID, fns: fns}, nil
}

// Has reports whether name is a known function on this agent.
func (f *Facade) Has(name string) bool {
	_, ok := f.fns[name]
	return ok
}

// Call invokes name on the facade's agent, packing kwargs as "k=v" tokens
// appended to args, and returns that agent's entry from the blocking-all
// result.
func (f *Facade) Call(ctx context.Context, name string, args []any, kwargs map[string]any) (any, error) {
	if !f.Has(name) {
		return nil, &saltctlerr.ErrFunctionNotFound{Name: name}
	}

	result, err := f.cl.Cmd(ctx, client.CallOptions{
		Tgt:     f.minionID,
		TgtType: target.KindList,
		Fun:     name,
		Arg:     publish.FlattenKwargs(args, kwargs),
	})
	if err != nil {
		return nil, err
	}
	return result[f.minionID], nil
}
