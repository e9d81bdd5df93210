package retrieval

import (
	"sort"
	"strings"
)

// Citation is one cited source with its stable ordinal marker.
type Citation struct {
	Text       string
	Title      string
	Ordinal    int
	SourceID   string
	SourceType string
}

// Scope is the per-turn citation bookkeeping structure. It is created at
// turn start, passed explicitly to everything that cites sources, and
// discarded at turn end; it is not safe for concurrent use and is never
// shared across turns.
//
// The monotonically increasing counter is the sole source of ordinals, so
// numbering is gapless and strictly first-seen within the turn.
type Scope struct {
	id      string
	counter int
	refs    map[string]*Citation
}

// NewScope creates an empty scope for one turn.
func NewScope(id string) *Scope {
	return &Scope{id: id, refs: make(map[string]*Citation)}
}

// ID returns the scope identifier (typically the session or turn ID).
func (s *Scope) ID() string { return s.id }

// Cite returns the ordinal for a source, assigning the next one on first
// sight and reusing the existing one on repeat hits.
func (s *Scope) Cite(sourceID, sourceType, title, text string) int {
	key := normalizeSourceID(sourceID)
	if ref, ok := s.refs[key]; ok {
		return ref.Ordinal
	}
	s.counter++
	s.refs[key] = &Citation{
		Text:       text,
		Title:      title,
		Ordinal:    s.counter,
		SourceID:   sourceID,
		SourceType: sourceType,
	}
	return s.counter
}

// Citations returns every reference registered in this scope, ordered by
// ordinal. The result length always equals the number of distinct ordinals.
func (s *Scope) Citations() []Citation {
	out := make([]Citation, 0, len(s.refs))
	for _, ref := range s.refs {
		out = append(out, *ref)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ordinal < out[j].Ordinal })
	return out
}

// Len returns the number of distinct cited sources.
func (s *Scope) Len() int { return len(s.refs) }

// normalizeSourceID makes dedup keys insensitive to case and stray spacing.
func normalizeSourceID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
