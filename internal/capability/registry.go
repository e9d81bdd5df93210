package capability

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/koopa0/maestro/internal/remote"
	"github.com/koopa0/maestro/internal/turn"
)

// Discoverer supplies remote capability snapshots. *remote.Pool satisfies it.
type Discoverer interface {
	Capabilities(ctx context.Context, connectionID string) (*remote.ServerCapabilities, error)
}

// Registry merges locally registered capabilities with those discovered from
// the remote connections named on a conversation context.
//
// Local registration happens at wiring time; ResolveAll may then be called
// concurrently from many turns. Remote discovery tolerates partial failure:
// an unreachable connection is logged and omitted, never raised.
type Registry struct {
	discoverer Discoverer
	logger     *slog.Logger

	mu    sync.RWMutex
	local map[string]*Entry
	order []string // registration order of local entries
}

// NewRegistry creates a Registry. discoverer may be nil when no remote
// connections are configured.
func NewRegistry(discoverer Discoverer, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		discoverer: discoverer,
		logger:     logger,
		local:      make(map[string]*Entry),
	}
}

// RegisterLocal adds a local tool capability. The handler is constructed
// lazily via factory the first time the entry is bound. Registering a
// duplicate name is a wiring bug and returns an error.
func (r *Registry) RegisterLocal(name, description string, schema *jsonschema.Schema, factory HandlerFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.local[name]; exists {
		return fmt.Errorf("capability %q already registered", name)
	}
	r.local[name] = &Entry{
		Name:        name,
		Description: description,
		Kind:        KindTool,
		Schema:      schema,
		factory:     factory,
	}
	r.order = append(r.order, name)
	return nil
}

// ResolveAll returns the capability set for a turn: every registered local
// entry (filtered by conv.ToolNames when non-empty) plus the capabilities of
// every remote connection on the context. Remote discovery runs concurrently
// per connection; failures drop that connection's entries.
func (r *Registry) ResolveAll(ctx context.Context, conv *turn.ConversationContext) []*Entry {
	entries := r.localEntries(conv)

	if r.discoverer == nil || conv == nil || len(conv.RemoteConnectionIDs) == 0 {
		return entries
	}

	type discovery struct {
		caps *remote.ServerCapabilities
		err  error
		id   string
	}
	ch := make(chan discovery, len(conv.RemoteConnectionIDs))
	for _, id := range conv.RemoteConnectionIDs {
		go func() {
			caps, err := r.discoverer.Capabilities(ctx, id)
			ch <- discovery{caps: caps, err: err, id: id}
		}()
	}

	byID := make(map[string]*remote.ServerCapabilities, len(conv.RemoteConnectionIDs))
	for range conv.RemoteConnectionIDs {
		d := <-ch
		if d.err != nil {
			r.logger.Warn("remote capability discovery failed, omitting connection",
				"connection", d.id, "error", d.err)
			continue
		}
		byID[d.id] = d.caps
	}

	// Deterministic order: context order of connection IDs, listing order within.
	for _, id := range conv.RemoteConnectionIDs {
		caps, ok := byID[id]
		if !ok {
			continue
		}
		entries = append(entries, remoteEntries(caps)...)
	}
	return entries
}

// FindByName looks up an entry in a resolved snapshot. Pure lookup, no I/O.
func FindByName(entries []*Entry, name string) (*Entry, bool) {
	for _, e := range entries {
		if e.Name == name {
			return e, true
		}
	}
	return nil, false
}

// LocalNames returns the registered local capability names in registration order.
func (r *Registry) LocalNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

func (r *Registry) localEntries(conv *turn.ConversationContext) []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var allow map[string]struct{}
	if conv != nil && len(conv.ToolNames) > 0 {
		allow = make(map[string]struct{}, len(conv.ToolNames))
		for _, n := range conv.ToolNames {
			allow[n] = struct{}{}
		}
	}

	entries := make([]*Entry, 0, len(r.order))
	for _, name := range r.order {
		if allow != nil {
			if _, ok := allow[name]; !ok {
				continue
			}
		}
		entries = append(entries, r.local[name])
	}
	return entries
}

func remoteEntries(caps *remote.ServerCapabilities) []*Entry {
	entries := make([]*Entry, 0, len(caps.Tools)+len(caps.Prompts)+len(caps.Resources))
	for _, t := range caps.Tools {
		entries = append(entries, &Entry{
			Name:         t.Name,
			Description:  t.Description,
			Kind:         KindTool,
			ConnectionID: caps.ConnectionID,
		})
	}
	for _, p := range caps.Prompts {
		entries = append(entries, &Entry{
			Name:         p.Name,
			Description:  p.Description,
			Kind:         KindPrompt,
			ConnectionID: caps.ConnectionID,
		})
	}
	for _, res := range caps.Resources {
		entries = append(entries, &Entry{
			Name:         res.Name,
			Description:  res.Description,
			Kind:         KindResource,
			ConnectionID: caps.ConnectionID,
			URI:          res.URI,
		})
	}
	return entries
}

// SortedNames returns entry names sorted, for stable logging.
func SortedNames(entries []*Entry) []string {
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	sort.Strings(names)
	return names
}
