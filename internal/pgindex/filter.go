package pgindex

import (
	"encoding/json"
	"fmt"

	"github.com/koopa0/maestro/internal/retrieval"
)

// Translator converts a generic field/value filter into the JSONB
// containment object the search query binds. It satisfies
// retrieval.FilterTranslator for the pgvector provider.
type Translator struct{}

// Translate produces a JSON object for the metadata @> containment check.
// json.Marshal handles escaping; the output is always bound as a query
// parameter.
func (Translator) Translate(f retrieval.Filter) (string, error) {
	if f.Field == "" {
		return "", fmt.Errorf("filter has no field")
	}
	b, err := json.Marshal(map[string]string{f.Field: f.Value})
	if err != nil {
		return "", fmt.Errorf("encoding filter on %q: %w", f.Field, err)
	}
	return string(b), nil
}
