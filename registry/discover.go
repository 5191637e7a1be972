package registry

import (
	"sort"
	"strings"
)

// Query is DiscoverTools's input: Text matches against name/description,
// Category is an exact match, Tags are a partial-credit match.
type Query struct {
	Text     string
	Category string
	Tags     []string
}

// Match is one scored discovery result (§6's agent-facing discovery
// surface plus the score used to rank results).
type Match struct {
	ID          string
	Name        string
	Description string
	Category    string
	Tags        []string
	Score       float64
}

// DiscoverTools scores every registered adapter against query using the
// exact additive formula from §4.11: +10 name substring, +5 description
// substring, +15 category equality, +3 per matching tag, plus a
// 5*successRate bonus so a reliably-succeeding adapter ranks above an
// otherwise-identical flaky one. Results are sorted by descending score.
func (f *Framework) DiscoverTools(query Query) []Match {
	f.mu.RLock()
	defer f.mu.RUnlock()

	text := strings.ToLower(query.Text)
	matches := make([]Match, 0, len(f.adapters))
	for id, entry := range f.adapters {
		d := entry.Descriptor
		score := 0.0
		if text != "" && strings.Contains(strings.ToLower(d.Name), text) {
			score += 10
		}
		if text != "" && strings.Contains(strings.ToLower(d.Description), text) {
			score += 5
		}
		if query.Category != "" && strings.EqualFold(d.Category, query.Category) {
			score += 15
		}
		score += 3 * float64(countMatchingTags(d.Tags, query.Tags))
		score += 5 * entry.Stats.SuccessRate()

		matches = append(matches, Match{
			ID: id, Name: d.Name, Description: d.Description,
			Category: d.Category, Tags: d.Tags, Score: score,
		})
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	return matches
}

func countMatchingTags(have, want []string) int {
	if len(want) == 0 {
		return 0
	}
	set := make(map[string]bool, len(have))
	for _, t := range have {
		set[strings.ToLower(t)] = true
	}
	n := 0
	for _, t := range want {
		if set[strings.ToLower(t)] {
			n++
		}
	}
	return n
}

