// Package turn defines the immutable per-turn conversation context shared by
// the intent pipeline, the capability registry, and the orchestrator.
package turn

import (
	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"
)

// ConversationContext is the read-only bundle describing one turn.
// It is created once per orchestrator invocation and passed by pointer to
// every pipeline stage; nothing mutates it mid-turn.
type ConversationContext struct {
	SessionID    uuid.UUID
	Provider     string // model provider name, e.g. "googleai"
	Connection   string // named backend connection
	DeploymentID string // provider deployment/model variant, may be empty

	SystemMessage string

	// ToolNames restricts which local capabilities the turn may expose.
	// Empty means all registered local capabilities.
	ToolNames []string

	// RemoteConnectionIDs lists the remote capability servers attached to
	// this conversation.
	RemoteConnectionIDs []string

	// DataSourceID names the attached knowledge source, empty when the
	// conversation has none.
	DataSourceID string

	History []*ai.Message
}

// HasDataSource reports whether a knowledge source is attached.
func (c *ConversationContext) HasDataSource() bool {
	return c != nil && c.DataSourceID != ""
}

// CloneHistory returns independent copies of the history messages.
// Genkit mutates message content in place during rendering, so handing the
// shared history to a model call would race with concurrent turns.
func (c *ConversationContext) CloneHistory() []*ai.Message {
	if c == nil || c.History == nil {
		return nil
	}
	out := make([]*ai.Message, len(c.History))
	for i, msg := range c.History {
		parts := make([]*ai.Part, len(msg.Content))
		for j, p := range msg.Content {
			parts[j] = clonePart(p)
		}
		out[i] = &ai.Message{Role: msg.Role, Content: parts, Metadata: cloneMap(msg.Metadata)}
	}
	return out
}

func clonePart(p *ai.Part) *ai.Part {
	if p == nil {
		return nil
	}
	cp := &ai.Part{
		Kind:        p.Kind,
		ContentType: p.ContentType,
		Text:        p.Text,
		Custom:      cloneMap(p.Custom),
		Metadata:    cloneMap(p.Metadata),
	}
	if p.ToolRequest != nil {
		cp.ToolRequest = &ai.ToolRequest{
			Name:  p.ToolRequest.Name,
			Ref:   p.ToolRequest.Ref,
			Input: p.ToolRequest.Input,
		}
	}
	if p.ToolResponse != nil {
		cp.ToolResponse = &ai.ToolResponse{
			Name:   p.ToolResponse.Name,
			Ref:    p.ToolResponse.Ref,
			Output: p.ToolResponse.Output,
		}
	}
	if p.Resource != nil {
		cp.Resource = &ai.ResourcePart{Uri: p.Resource.Uri}
	}
	return cp
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
