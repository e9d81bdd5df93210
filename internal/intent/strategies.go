package intent

import (
	"context"
	"strings"
)

// KeywordStrategy is a Phase 1 heuristic: when the prompt contains any of
// the configured trigger phrases, the turn likely needs an external
// capability and the matcher phase is requested.
type KeywordStrategy struct {
	keywords []string
}

// DefaultTriggerKeywords are action verbs that usually imply an external
// capability rather than plain conversation.
var DefaultTriggerKeywords = []string{
	"search", "look up", "lookup", "find", "fetch", "query",
	"create", "update", "delete", "list", "run", "execute",
}

// NewKeywordStrategy creates the heuristic. Empty keywords fall back to
// DefaultTriggerKeywords.
func NewKeywordStrategy(keywords []string) *KeywordStrategy {
	if len(keywords) == 0 {
		keywords = DefaultTriggerKeywords
	}
	lowered := make([]string, len(keywords))
	for i, k := range keywords {
		lowered[i] = strings.ToLower(k)
	}
	return &KeywordStrategy{keywords: lowered}
}

func (s *KeywordStrategy) Name() string { return "keyword" }

func (s *KeywordStrategy) Phase() Phase { return PhaseHeuristic }

func (s *KeywordStrategy) Process(_ context.Context, ic *Context, res *Result) error {
	prompt := strings.ToLower(ic.Prompt)
	for _, k := range s.keywords {
		if strings.Contains(prompt, k) {
			res.RequiresSecondPhase = true
			return nil
		}
	}
	return nil
}

// DataSourceStrategy is a Phase 1 check: a conversation with an attached
// knowledge source always exposes the knowledge-search capability.
type DataSourceStrategy struct {
	// SearchToolName is the local capability exposed when a source is attached.
	SearchToolName string
}

func (s *DataSourceStrategy) Name() string { return "data-source" }

func (s *DataSourceStrategy) Phase() Phase { return PhaseHeuristic }

func (s *DataSourceStrategy) Process(_ context.Context, ic *Context, res *Result) error {
	if ic.Conversation != nil && ic.Conversation.HasDataSource() {
		res.ExposeTool(s.SearchToolName)
	}
	return nil
}

// RemotePresenceStrategy is a Phase 1 check: any attached remote connection
// makes the matcher phase worthwhile, since only the matcher can decide
// which connections are relevant.
type RemotePresenceStrategy struct{}

func (RemotePresenceStrategy) Name() string { return "remote-presence" }

func (RemotePresenceStrategy) Phase() Phase { return PhaseHeuristic }

func (RemotePresenceStrategy) Process(_ context.Context, ic *Context, res *Result) error {
	if ic.Conversation != nil && len(ic.Conversation.RemoteConnectionIDs) > 0 {
		res.RequiresSecondPhase = true
	}
	return nil
}
