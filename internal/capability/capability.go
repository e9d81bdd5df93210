// Package capability aggregates the callable capabilities a model may invoke
// during a turn: statically registered local functions and tools, prompts and
// resources discovered from remote capability servers.
package capability

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
)

// Kind is the closed set of capability kinds. Dispatch on Kind is always an
// exhaustive switch; an unknown value is a programmer error surfaced as a
// structured payload, never a panic.
type Kind int

const (
	KindTool Kind = iota
	KindPrompt
	KindResource
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case KindTool:
		return "tool"
	case KindPrompt:
		return "prompt"
	case KindResource:
		return "resource"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Handler executes a local capability.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// HandlerFactory builds a Handler. Local handlers are constructed lazily:
// materialization may itself need a live connection, so it happens only when
// the capability is actually selected for exposure.
type HandlerFactory func() (Handler, error)

// Entry is one immutable capability, keyed by unique name.
// Remote entries carry the connection that exposes them; local tool entries
// carry a lazily bound handler. Resource entries additionally carry the URI
// the remote server reads them by.
//
// The registry hands the same local entries to every turn, so Bind must be
// safe under concurrent turns; the lazy construction is guarded by a Once.
type Entry struct {
	Name        string
	Description string
	Kind        Kind
	Schema      *jsonschema.Schema

	// ConnectionID is set for remote entries, empty for local ones.
	ConnectionID string

	// URI is set for resource entries only.
	URI string

	factory HandlerFactory

	bindOnce sync.Once
	handler  Handler
	bindErr  error
}

// NewLocalEntry creates a pre-bound local tool entry. Used for capabilities
// whose handler closes over per-turn state and therefore never enters the
// shared registry.
func NewLocalEntry(name, description string, schema *jsonschema.Schema, h Handler) *Entry {
	return &Entry{
		Name:        name,
		Description: description,
		Kind:        KindTool,
		Schema:      schema,
		handler:     h,
	}
}

// Local reports whether the entry executes in-process.
func (e *Entry) Local() bool { return e.ConnectionID == "" }

// Bind materializes the local handler, constructing it exactly once even
// when parallel turns bind the same entry. A factory error is sticky: the
// entry stays broken rather than retrying, since a failing factory is a
// wiring bug. Remote entries have nothing to bind and return an error.
func (e *Entry) Bind() (Handler, error) {
	if !e.Local() {
		return nil, fmt.Errorf("capability %q is remote, nothing to bind", e.Name)
	}
	e.bindOnce.Do(func() {
		if e.handler != nil {
			return // pre-bound via NewLocalEntry
		}
		if e.factory == nil {
			e.bindErr = fmt.Errorf("capability %q has no handler factory", e.Name)
			return
		}
		h, err := e.factory()
		if err != nil {
			e.bindErr = fmt.Errorf("binding capability %q: %w", e.Name, err)
			return
		}
		e.handler = h
	})
	if e.bindErr != nil {
		return nil, e.bindErr
	}
	return e.handler, nil
}

// Invocation is a model-requested capability call, normalized for dispatch.
type Invocation struct {
	Kind         Kind
	ConnectionID string // empty for local
	Name         string
	URI          string // resource reads
	Arguments    map[string]any
}
