package graph

import (
	"fmt"
	"sort"
	"strings"
)

// SearchResult is one ranked search hit with its score breakdown.
type SearchResult struct {
	Entity    *Entity            `json:"entity"`
	Score     float64            `json:"score"`
	Breakdown map[string]float64 `json:"breakdown"`
}

const (
	scoreNameMatch    = 1.0
	scoreNameExact    = 2.0
	scoreContentMatch = 1.0
)

// Search ranks latest entities by substring match against the query: one
// point for a name hit, one per matching content field, and a bonus for an
// exact name match. Results are ordered by score, ties broken on id.
func (ix *Index) Search(query string, types []EntityType, limit int) []SearchResult {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}
	if limit <= 0 {
		limit = 20
	}

	typeSet := make(map[EntityType]bool, len(types))
	for _, t := range types {
		typeSet[t] = true
	}

	var results []SearchResult
	for _, e := range ix.AllLatest() {
		if len(typeSet) > 0 && !typeSet[e.EntityType] {
			continue
		}

		breakdown := make(map[string]float64)
		if containsFold(e.Name, query) {
			breakdown["name"] = scoreNameMatch
			if strings.EqualFold(e.Name, query) {
				breakdown["name_exact"] = scoreNameExact
			}
		}

		content := 0.0
		for _, v := range e.Content {
			if containsFold(StringifyValue(v), query) {
				content += scoreContentMatch
			}
		}
		if content > 0 {
			breakdown["content"] = content
		}

		total := 0.0
		for _, s := range breakdown {
			total += s
		}
		if total > 0 {
			results = append(results, SearchResult{Entity: e, Score: total, Breakdown: breakdown})
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Entity.ID < results[j].Entity.ID
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

// StringifyValue flattens a content value for substring matching and value
// equality. Nested maps and lists stringify their elements recursively.
func StringifyValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + "=" + StringifyValue(t[k])
		}
		return strings.Join(parts, " ")
	case []any:
		parts := make([]string, len(t))
		for i, e := range t {
			parts[i] = StringifyValue(e)
		}
		return strings.Join(parts, " ")
	default:
		return fmt.Sprintf("%v", t)
	}
}
