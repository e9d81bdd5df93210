// Package remote manages connections to remote capability servers speaking
// the Model Context Protocol.
//
// A Pool owns one client session per configured connection ID. Sessions are
// created lazily on first use, deduplicated with singleflight so concurrent
// first-use from multiple turns never opens two live connections to the same
// target, and reused across turns and sessions.
//
// Discovered capabilities (tools, prompts, resources) are cached per
// connection with a TTL. Refresh is copy-on-write: readers always get the
// last good snapshot and never block on a refresh in progress.
package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/singleflight"
)

// Sentinel errors for connection handling.
var (
	// ErrConnectionNotFound indicates the connection ID has no configuration.
	ErrConnectionNotFound = errors.New("connection not found")

	// ErrNoTransport indicates the connection config has neither a command
	// nor an endpoint.
	ErrNoTransport = errors.New("no transport configured")
)

// DefaultCapabilityTTL bounds how long a discovery snapshot is served
// before a refresh is attempted.
const DefaultCapabilityTTL = 5 * time.Minute

// ConnectionConfig describes one remote capability server.
type ConnectionConfig struct {
	ID          string
	DisplayName string

	// Command starts a local server process over stdio.
	Command string
	Args    []string
	Env     []string

	// Endpoint connects to a streamable HTTP server instead.
	Endpoint string
}

// Item is one discovered capability: a tool, prompt, or resource.
type Item struct {
	Name        string
	Description string
	URI         string // resources only
}

// ServerCapabilities is the immutable discovery snapshot for one connection.
// Callers must not mutate the slices.
type ServerCapabilities struct {
	ConnectionID string
	DisplayName  string
	Tools        []Item
	Prompts      []Item
	Resources    []Item
}

// Session is the subset of the MCP client session the router and registry
// consume. *mcp.ClientSession satisfies it.
type Session interface {
	ListTools(ctx context.Context, params *mcp.ListToolsParams) (*mcp.ListToolsResult, error)
	ListPrompts(ctx context.Context, params *mcp.ListPromptsParams) (*mcp.ListPromptsResult, error)
	ListResources(ctx context.Context, params *mcp.ListResourcesParams) (*mcp.ListResourcesResult, error)
	CallTool(ctx context.Context, params *mcp.CallToolParams) (*mcp.CallToolResult, error)
	GetPrompt(ctx context.Context, params *mcp.GetPromptParams) (*mcp.GetPromptResult, error)
	ReadResource(ctx context.Context, params *mcp.ReadResourceParams) (*mcp.ReadResourceResult, error)
	Close() error
}

// Dialer opens a session for a connection config. Overridable in tests via
// PoolConfig.Dialer; the default speaks stdio or streamable HTTP.
type Dialer func(ctx context.Context, cfg ConnectionConfig) (Session, error)

type cacheEntry struct {
	caps    *ServerCapabilities
	fetched time.Time
}

// Pool caches client sessions and discovery snapshots per connection ID.
// Safe for concurrent use.
type Pool struct {
	configs map[string]ConnectionConfig
	dial    Dialer
	ttl     time.Duration
	logger  *slog.Logger

	sf singleflight.Group

	mu       sync.RWMutex
	sessions map[string]Session
	cache    map[string]cacheEntry
}

// PoolConfig configures a Pool.
type PoolConfig struct {
	Connections []ConnectionConfig
	TTL         time.Duration // zero = DefaultCapabilityTTL
	Dialer      Dialer        // nil = default MCP dialer
	Logger      *slog.Logger  // nil = slog.Default()
}

// NewPool creates a connection pool. No connections are opened until first use.
func NewPool(cfg PoolConfig) *Pool {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultCapabilityTTL
	}
	dial := cfg.Dialer
	if dial == nil {
		dial = dialMCP
	}
	configs := make(map[string]ConnectionConfig, len(cfg.Connections))
	for _, c := range cfg.Connections {
		configs[c.ID] = c
	}
	return &Pool{
		configs:  configs,
		dial:     dial,
		ttl:      cfg.TTL,
		logger:   cfg.Logger,
		sessions: make(map[string]Session),
		cache:    make(map[string]cacheEntry),
	}
}

// Config returns the configuration for a connection ID.
func (p *Pool) Config(id string) (ConnectionConfig, error) {
	cfg, ok := p.configs[id]
	if !ok {
		return ConnectionConfig{}, fmt.Errorf("%w: %q", ErrConnectionNotFound, id)
	}
	return cfg, nil
}

// ConnectionIDs returns all configured connection IDs.
func (p *Pool) ConnectionIDs() []string {
	ids := make([]string, 0, len(p.configs))
	for id := range p.configs {
		ids = append(ids, id)
	}
	return ids
}

// Session returns the cached session for a connection, dialing on first use.
// Creation is idempotent under concurrency: singleflight guarantees a single
// dial per connection ID even when many turns hit a cold pool at once.
func (p *Pool) Session(ctx context.Context, id string) (Session, error) {
	cfg, ok := p.configs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrConnectionNotFound, id)
	}

	p.mu.RLock()
	sess, live := p.sessions[id]
	p.mu.RUnlock()
	if live {
		return sess, nil
	}

	v, err, _ := p.sf.Do(id, func() (any, error) {
		p.mu.RLock()
		existing, ok := p.sessions[id]
		p.mu.RUnlock()
		if ok {
			return existing, nil
		}
		created, err := p.dial(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("connecting to %q: %w", id, err)
		}
		p.mu.Lock()
		p.sessions[id] = created
		p.mu.Unlock()
		p.logger.Debug("remote session established", "connection", id)
		return created, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Session), nil
}

// refreshTimeout bounds a background snapshot refresh. The refresh runs on a
// detached context so it outlives the turn that noticed the snapshot was stale.
const refreshTimeout = 30 * time.Second

// Capabilities returns the discovery snapshot for a connection. A fresh
// snapshot is served as-is; an expired one is still served immediately while a
// single deduplicated refresh runs behind the readers. Only a cold cache makes
// the caller wait on discovery and see its error.
func (p *Pool) Capabilities(ctx context.Context, id string) (*ServerCapabilities, error) {
	p.mu.RLock()
	entry, ok := p.cache[id]
	p.mu.RUnlock()
	if ok {
		if time.Since(entry.fetched) >= p.ttl {
			p.refresh(id)
		}
		return entry.caps, nil
	}

	v, err, _ := p.sf.Do("caps:"+id, func() (any, error) {
		caps, err := p.discover(ctx, id)
		if err != nil {
			return nil, err
		}
		p.store(id, caps)
		return caps, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*ServerCapabilities), nil
}

// refresh re-discovers a connection's capabilities without blocking readers.
// Concurrent calls for the same connection collapse into one discovery; a
// failed refresh leaves the previous snapshot in place.
func (p *Pool) refresh(id string) {
	p.sf.DoChan("caps:"+id, func() (any, error) {
		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		defer cancel()
		caps, err := p.discover(ctx, id)
		if err != nil {
			p.logger.Warn("capability refresh failed, serving stale snapshot",
				"connection", id, "error", err)
			return nil, err
		}
		p.store(id, caps)
		return caps, nil
	})
}

func (p *Pool) store(id string, caps *ServerCapabilities) {
	p.mu.Lock()
	p.cache[id] = cacheEntry{caps: caps, fetched: time.Now()}
	p.mu.Unlock()
}

// Invalidate drops the cached snapshot for a connection.
func (p *Pool) Invalidate(id string) {
	p.mu.Lock()
	delete(p.cache, id)
	p.mu.Unlock()
}

// discover lists tools, prompts and resources from the live session and
// assembles a fresh immutable snapshot.
func (p *Pool) discover(ctx context.Context, id string) (*ServerCapabilities, error) {
	cfg, ok := p.configs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrConnectionNotFound, id)
	}
	sess, err := p.Session(ctx, id)
	if err != nil {
		return nil, err
	}

	caps := &ServerCapabilities{ConnectionID: id, DisplayName: cfg.DisplayName}

	tools, err := sess.ListTools(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("listing tools on %q: %w", id, err)
	}
	for _, t := range tools.Tools {
		caps.Tools = append(caps.Tools, Item{Name: t.Name, Description: t.Description})
	}

	// Prompt and resource listing are optional server features; a method-not
	// -found style failure only narrows the snapshot.
	if prompts, err := sess.ListPrompts(ctx, nil); err != nil {
		p.logger.Debug("prompt listing unavailable", "connection", id, "error", err)
	} else {
		for _, pr := range prompts.Prompts {
			caps.Prompts = append(caps.Prompts, Item{Name: pr.Name, Description: pr.Description})
		}
	}
	if resources, err := sess.ListResources(ctx, nil); err != nil {
		p.logger.Debug("resource listing unavailable", "connection", id, "error", err)
	} else {
		for _, r := range resources.Resources {
			caps.Resources = append(caps.Resources, Item{Name: r.Name, Description: r.Description, URI: r.URI})
		}
	}

	return caps, nil
}

// Close closes every live session. The pool is unusable afterwards.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	for id, sess := range p.sessions {
		if err := sess.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %q: %w", id, err))
		}
	}
	p.sessions = make(map[string]Session)
	return errors.Join(errs...)
}

// dialMCP is the production dialer: stdio for command connections,
// streamable HTTP for endpoint connections.
func dialMCP(ctx context.Context, cfg ConnectionConfig) (Session, error) {
	var transport mcp.Transport
	switch {
	case cfg.Command != "":
		cmd := exec.CommandContext(ctx, cfg.Command, cfg.Args...) // #nosec G204 -- command comes from operator config
		cmd.Env = append(cmd.Environ(), cfg.Env...)
		transport = &mcp.CommandTransport{Command: cmd}
	case cfg.Endpoint != "":
		transport = &mcp.StreamableClientTransport{Endpoint: cfg.Endpoint}
	default:
		return nil, fmt.Errorf("%w: %q", ErrNoTransport, cfg.ID)
	}

	client := mcp.NewClient(&mcp.Implementation{
		Name:    "maestro",
		Version: "1.0.0",
	}, nil)

	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, err
	}
	return session, nil
}
