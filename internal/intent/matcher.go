package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/koopa0/maestro/internal/remote"
)

// Classifier issues the single Phase 2 model call. Implementations must run
// it history-free, at low temperature, with a tight token cap; the matcher
// only supplies the two prompts.
type Classifier interface {
	Classify(ctx context.Context, system, prompt string) (string, error)
}

// Discoverer supplies candidate capability snapshots. *remote.Pool satisfies it.
type Discoverer interface {
	Capabilities(ctx context.Context, connectionID string) (*remote.ServerCapabilities, error)
}

// DefaultClassifierTimeout bounds the matcher call separately from the main
// completion: it is a cheap gate and must not dominate turn latency.
const DefaultClassifierTimeout = 5 * time.Second

const matcherSystemPrompt = `You route user requests to external capability servers.
Below is the list of available connections with the capabilities each one exposes.
Reply with a strict JSON object of the form {"matches": ["<connectionId>", ...]}
naming only the connections relevant to the user's request. Reply with JSON only.`

// classifierReply is the strict shape expected from the model. Anything the
// decoder rejects is treated as "no usable signal".
type classifierReply struct {
	Matches []string `json:"matches"`
}

// RemoteMatcherStrategy is the Phase 2 capability matcher. It enumerates the
// candidate connections' capability names and descriptions (never schemas) in
// a classification prompt and exposes only the matched connections' tools.
//
// Safety over precision: a malformed reply, an empty match list, a timeout or
// a failed call all fall back to exposing every candidate. A broken
// classifier must never hide legitimately relevant capabilities.
type RemoteMatcherStrategy struct {
	classifier Classifier
	discoverer Discoverer
	timeout    time.Duration
	logger     *slog.Logger
}

// NewRemoteMatcher creates the matcher. timeout <= 0 uses
// DefaultClassifierTimeout.
func NewRemoteMatcher(classifier Classifier, discoverer Discoverer, timeout time.Duration, logger *slog.Logger) *RemoteMatcherStrategy {
	if timeout <= 0 {
		timeout = DefaultClassifierTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RemoteMatcherStrategy{
		classifier: classifier,
		discoverer: discoverer,
		timeout:    timeout,
		logger:     logger,
	}
}

func (s *RemoteMatcherStrategy) Name() string { return "remote-matcher" }

func (s *RemoteMatcherStrategy) Phase() Phase { return PhaseMatcher }

func (s *RemoteMatcherStrategy) Process(ctx context.Context, ic *Context, res *Result) error {
	if ic.Conversation == nil || len(ic.Conversation.RemoteConnectionIDs) == 0 {
		return nil
	}

	candidates := s.collectCandidates(ctx, ic.Conversation.RemoteConnectionIDs)
	if len(candidates) == 0 {
		return nil
	}

	matched := s.classify(ctx, ic.Prompt, candidates)
	for _, caps := range matched {
		exposeConnection(res, caps)
	}
	return nil
}

// collectCandidates fetches the snapshot for each attached connection.
// Unreachable connections are skipped; they cannot be candidates.
func (s *RemoteMatcherStrategy) collectCandidates(ctx context.Context, ids []string) []*remote.ServerCapabilities {
	candidates := make([]*remote.ServerCapabilities, 0, len(ids))
	for _, id := range ids {
		caps, err := s.discoverer.Capabilities(ctx, id)
		if err != nil {
			s.logger.Warn("skipping unreachable candidate connection", "connection", id, "error", err)
			continue
		}
		candidates = append(candidates, caps)
	}
	return candidates
}

// classify runs the gate call and maps its reply onto the candidate set.
// Every failure path returns the full candidate set.
func (s *RemoteMatcherStrategy) classify(ctx context.Context, prompt string, candidates []*remote.ServerCapabilities) []*remote.ServerCapabilities {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	reply, err := s.classifier.Classify(callCtx, buildMatcherSystem(candidates), prompt)
	if err != nil {
		s.logger.Warn("capability classifier call failed, exposing all candidates", "error", err)
		return candidates
	}

	var parsed classifierReply
	if err := json.Unmarshal([]byte(extractJSON(reply)), &parsed); err != nil {
		s.logger.Warn("capability classifier returned malformed JSON, exposing all candidates",
			"error", err, "reply_length", len(reply))
		return candidates
	}
	if len(parsed.Matches) == 0 {
		s.logger.Debug("capability classifier matched nothing, exposing all candidates")
		return candidates
	}

	byID := make(map[string]*remote.ServerCapabilities, len(candidates))
	for _, c := range candidates {
		byID[c.ConnectionID] = c
	}

	matched := make([]*remote.ServerCapabilities, 0, len(parsed.Matches))
	for _, id := range parsed.Matches {
		caps, ok := byID[id]
		if !ok {
			s.logger.Debug("classifier returned unknown connection id, ignoring", "connection", id)
			continue
		}
		matched = append(matched, caps)
	}
	if len(matched) == 0 {
		// Everything the model named was bogus; same safety net applies.
		return candidates
	}
	return matched
}

// buildMatcherSystem enumerates candidate connections with capability names
// and one-line descriptions. Schemas are deliberately excluded.
func buildMatcherSystem(candidates []*remote.ServerCapabilities) string {
	var b strings.Builder
	b.WriteString(matcherSystemPrompt)
	b.WriteString("\n\nConnections:\n")
	for _, c := range candidates {
		fmt.Fprintf(&b, "- %s (%s)\n", c.ConnectionID, c.DisplayName)
		for _, t := range c.Tools {
			fmt.Fprintf(&b, "    tool %s: %s\n", t.Name, t.Description)
		}
		for _, p := range c.Prompts {
			fmt.Fprintf(&b, "    prompt %s: %s\n", p.Name, p.Description)
		}
		for _, r := range c.Resources {
			fmt.Fprintf(&b, "    resource %s: %s\n", r.Name, r.Description)
		}
	}
	return b.String()
}

// exposeConnection marks every capability of a matched connection and
// appends a short description block for prompt context.
func exposeConnection(res *Result, caps *remote.ServerCapabilities) {
	var b strings.Builder
	fmt.Fprintf(&b, "Available capabilities from %s:", caps.DisplayName)
	for _, t := range caps.Tools {
		res.ExposeTool(t.Name)
		fmt.Fprintf(&b, "\n- %s: %s", t.Name, t.Description)
	}
	for _, p := range caps.Prompts {
		res.ExposeTool(p.Name)
	}
	for _, r := range caps.Resources {
		res.ExposeTool(r.Name)
	}
	res.AppendContext(b.String())
}

// extractJSON tolerates models that wrap the object in a code fence or
// leading prose by slicing from the first '{' to the last '}'.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return s
	}
	return s[start : end+1]
}
