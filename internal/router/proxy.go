package router

import (
	"context"

	"github.com/koopa0/maestro/internal/capability"
)

// BoundProxy pins one remote capability to one connection at construction
// time, exposing it as a plain callable. Used when a capability is
// pre-selected for direct model exposure instead of going through the
// generic multiplexed dispatch.
type BoundProxy struct {
	router       *Router
	kind         capability.Kind
	connectionID string
	name         string
	uri          string
}

// Bind creates a proxy for one entry. The binding never changes.
func (r *Router) Bind(entry *capability.Entry) *BoundProxy {
	return &BoundProxy{
		router:       r,
		kind:         entry.Kind,
		connectionID: entry.ConnectionID,
		name:         entry.Name,
		uri:          entry.URI,
	}
}

// Name returns the pinned capability name.
func (p *BoundProxy) Name() string { return p.name }

// Call executes the pinned capability. Arguments are normalized the same
// way as generic dispatch; failures come back as payload text, not errors.
func (p *BoundProxy) Call(ctx context.Context, args map[string]any) (string, error) {
	return p.router.Dispatch(ctx, capability.Invocation{
		Kind:         p.kind,
		ConnectionID: p.connectionID,
		Name:         p.name,
		URI:          p.uri,
		Arguments:    NormalizeArguments(args),
	})
}
