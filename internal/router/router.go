// Package router dispatches model-requested capability invocations to their
// executor and normalizes results and failures into text the model can read.
//
// Nothing in this package returns an error to the turn loop for a failed
// invocation: connection-not-found, connect failures and remote call errors
// all come back as a structured JSON payload so the model can decide to
// retry, ask the user, or give up. The router itself never retries.
package router

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/koopa0/maestro/internal/capability"
	"github.com/koopa0/maestro/internal/remote"
)

// Error codes carried in the structured payload. The model distinguishes
// them to pick its next action.
const (
	CodeConnectionNotFound = "connection_not_found"
	CodeConnectFailure     = "connect_failure"
	CodeInvocationError    = "invocation_error"
	CodeUnknownCapability  = "unknown_capability"
)

// SessionProvider opens or reuses a live session for a connection ID.
// *remote.Pool satisfies it.
type SessionProvider interface {
	Session(ctx context.Context, connectionID string) (remote.Session, error)
}

// errorPayload is the failure shape handed back to the model.
type errorPayload struct {
	Error struct {
		Code       string `json:"code"`
		Message    string `json:"message"`
		Connection string `json:"connection,omitempty"`
		Capability string `json:"capability,omitempty"`
	} `json:"error"`
}

// Router executes capability invocations. Safe for concurrent use; it holds
// no per-turn state and never mutates registry entries.
type Router struct {
	sessions SessionProvider
	logger   *slog.Logger
}

// New creates a router over a session provider.
func New(sessions SessionProvider, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{sessions: sessions, logger: logger}
}

// Dispatch executes one invocation and returns the normalized textual
// result. Failures are encoded into the returned string, never the error
// value; the error return is reserved for context cancellation, which must
// abort the turn rather than feed a payload back to the model.
func (r *Router) Dispatch(ctx context.Context, inv capability.Invocation) (string, error) {
	if inv.ConnectionID == "" {
		r.logger.Warn("invocation names no connection", "capability", inv.Name)
		return ErrorPayload(CodeUnknownCapability, inv.ConnectionID, inv.Name,
			fmt.Sprintf("capability %q is not bound to a remote connection", inv.Name)), nil
	}

	session, err := r.sessions.Session(ctx, inv.ConnectionID)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		code := CodeConnectFailure
		if errors.Is(err, remote.ErrConnectionNotFound) {
			code = CodeConnectionNotFound
		}
		r.logger.Warn("capability dispatch failed to connect",
			"connection", inv.ConnectionID, "capability", inv.Name, "error", err)
		return ErrorPayload(code, inv.ConnectionID, inv.Name, err.Error()), nil
	}

	var result string
	switch inv.Kind {
	case capability.KindTool:
		result, err = r.callTool(ctx, session, inv)
	case capability.KindPrompt:
		result, err = r.getPrompt(ctx, session, inv)
	case capability.KindResource:
		result, err = r.readResource(ctx, session, inv)
	default:
		return ErrorPayload(CodeInvocationError, inv.ConnectionID, inv.Name,
			fmt.Sprintf("unsupported capability kind %s", inv.Kind)), nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		r.logger.Warn("capability invocation failed",
			"connection", inv.ConnectionID, "capability", inv.Name,
			"kind", inv.Kind.String(), "error", err)
		return ErrorPayload(CodeInvocationError, inv.ConnectionID, inv.Name, err.Error()), nil
	}
	return result, nil
}

func (r *Router) callTool(ctx context.Context, s remote.Session, inv capability.Invocation) (string, error) {
	res, err := s.CallTool(ctx, &mcp.CallToolParams{
		Name:      inv.Name,
		Arguments: NormalizeArguments(inv.Arguments),
	})
	if err != nil {
		return "", err
	}
	text := renderContent(res.Content)
	if res.IsError {
		// Tool-level failure travels inside the result, not the transport
		// error. Same payload shape as any other invocation error.
		return ErrorPayload(CodeInvocationError, inv.ConnectionID, inv.Name, text), nil
	}
	return text, nil
}

func (r *Router) getPrompt(ctx context.Context, s remote.Session, inv capability.Invocation) (string, error) {
	args := make(map[string]string, len(inv.Arguments))
	for k, v := range inv.Arguments {
		args[k] = fmt.Sprint(v)
	}
	res, err := s.GetPrompt(ctx, &mcp.GetPromptParams{Name: inv.Name, Arguments: args})
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, m := range res.Messages {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s: %s", m.Role, renderContent([]mcp.Content{m.Content}))
	}
	return b.String(), nil
}

func (r *Router) readResource(ctx context.Context, s remote.Session, inv capability.Invocation) (string, error) {
	uri := inv.URI
	if uri == "" {
		uri = inv.Name
	}
	res, err := s.ReadResource(ctx, &mcp.ReadResourceParams{URI: uri})
	if err != nil {
		return "", err
	}
	var parts []string
	for _, c := range res.Contents {
		switch {
		case c.Text != "":
			parts = append(parts, c.Text)
		case len(c.Blob) > 0:
			parts = append(parts, fmt.Sprintf("binary resource %s (%s), base64: %s",
				c.URI, c.MIMEType, base64.StdEncoding.EncodeToString(c.Blob)))
		}
	}
	return strings.Join(parts, "\n"), nil
}

// renderContent flattens MCP content parts to text. Text parts pass through;
// anything else is serialized to JSON so no result is silently dropped.
func renderContent(content []mcp.Content) string {
	var parts []string
	for _, c := range content {
		if t, ok := c.(*mcp.TextContent); ok {
			parts = append(parts, t.Text)
			continue
		}
		b, err := json.Marshal(c)
		if err != nil {
			continue
		}
		parts = append(parts, string(b))
	}
	return strings.Join(parts, "\n")
}

// NormalizeArguments converts model-supplied argument values into plain
// scalars, maps and lists. Values that arrived as json.Number or typed
// wrappers are flattened so remote servers see ordinary JSON types.
func NormalizeArguments(args map[string]any) map[string]any {
	if args == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case json.RawMessage:
		var decoded any
		if err := json.Unmarshal(t, &decoded); err != nil {
			return string(t)
		}
		return normalizeValue(decoded)
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = normalizeValue(e)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = normalizeValue(e)
		}
		return s
	case fmt.Stringer:
		return t.String()
	default:
		return v
	}
}

// ErrorPayload encodes a structured failure for the model. Exposed so the
// turn loop can report failures (unknown capability, broken local handler)
// in the same shape remote dispatch uses.
func ErrorPayload(code, connection, name, message string) string {
	var p errorPayload
	p.Error.Code = code
	p.Error.Message = message
	p.Error.Connection = connection
	p.Error.Capability = name
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Sprintf(`{"error":{"code":%q,"message":"payload encoding failed"}}`, code)
	}
	return string(b)
}
