package catalog

import (
	"regexp"
	"sort"
	"strings"
)

const (
	// DefaultThreshold is the minimum score a tool needs to be selected.
	DefaultThreshold = 0.3
	// DefaultTopK bounds how many tools discovery returns.
	DefaultTopK = 5

	wordOverlapCap = 0.9
)

var tokenPattern = regexp.MustCompile(`[a-z0-9_]+`)

func tokenize(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

// scored carries the contributions needed for deterministic tie-breaking.
type scored struct {
	match     Match
	nameExact float64
}

// Score rates how well a descriptor matches a free-text intent, in [0,1].
// Contributions are additive and clamped: whole-word name match 1.0, substring
// name match 0.8, description phrase containment 0.5, 0.3 per unique word
// overlap (capped at 0.9), category mention 0.2.
func Score(intent string, d Descriptor) float64 {
	score, _ := scoreParts(intent, d)
	return score
}

func scoreParts(intent string, d Descriptor) (total, nameExact float64) {
	lowerIntent := strings.ToLower(intent)
	lowerName := strings.ToLower(d.Name)
	intentTokens := tokenize(intent)
	intentSet := make(map[string]bool, len(intentTokens))
	for _, tok := range intentTokens {
		intentSet[tok] = true
	}

	if containsWholeWord(lowerIntent, lowerName) {
		total += 1.0
		nameExact = 1.0
	} else if lowerName != "" && strings.Contains(lowerIntent, lowerName) {
		total += 0.8
	}

	for _, phrase := range descriptionPhrases(d.Description) {
		if strings.Contains(lowerIntent, phrase) {
			total += 0.5
			break
		}
	}

	var overlap float64
	seen := map[string]bool{}
	for _, tok := range tokenize(d.Name + " " + d.Description + " " + strings.Join(d.Keywords, " ")) {
		if seen[tok] || !intentSet[tok] {
			continue
		}
		seen[tok] = true
		overlap += 0.3
	}
	if overlap > wordOverlapCap {
		overlap = wordOverlapCap
	}
	total += overlap

	if d.Category != "" && strings.Contains(lowerIntent, strings.ToLower(d.Category)) {
		total += 0.2
	}

	if total > 1.0 {
		total = 1.0
	}
	return total, nameExact
}

// containsWholeWord reports whether name occurs in intent delimited by
// non-token characters. Tool names routinely contain underscores, so plain
// \b word boundaries are not enough.
func containsWholeWord(intent, name string) bool {
	if name == "" {
		return false
	}
	for start := 0; ; {
		i := strings.Index(intent[start:], name)
		if i < 0 {
			return false
		}
		i += start
		before := i == 0 || !isTokenChar(intent[i-1])
		afterIdx := i + len(name)
		after := afterIdx == len(intent) || !isTokenChar(intent[afterIdx])
		if before && after {
			return true
		}
		start = i + 1
	}
}

func isTokenChar(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')
}

// descriptionPhrases splits a description into sentence and comma segments
// of at least two words, lowercased.
func descriptionPhrases(description string) []string {
	var phrases []string
	for _, segment := range strings.FieldsFunc(description, func(r rune) bool {
		return r == '.' || r == ',' || r == ';' || r == ':'
	}) {
		phrase := strings.ToLower(strings.TrimSpace(segment))
		if strings.Count(phrase, " ") >= 1 {
			phrases = append(phrases, phrase)
		}
	}
	return phrases
}

// Discover ranks every indexed descriptor against the intent and returns the
// top k matches scoring at or above threshold. Ordering is deterministic:
// score descending, then exact-name contribution, then (server, name).
func (ix *Index) Discover(intent string, k int, threshold float64) []Match {
	if k <= 0 {
		k = DefaultTopK
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	var ranked []scored
	for _, d := range ix.All() {
		total, nameExact := scoreParts(intent, d)
		if total < threshold {
			continue
		}
		ranked = append(ranked, scored{match: Match{Descriptor: d, Score: total}, nameExact: nameExact})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].match.Score != ranked[j].match.Score {
			return ranked[i].match.Score > ranked[j].match.Score
		}
		if ranked[i].nameExact != ranked[j].nameExact {
			return ranked[i].nameExact > ranked[j].nameExact
		}
		di, dj := ranked[i].match.Descriptor, ranked[j].match.Descriptor
		if di.Server != dj.Server {
			return di.Server < dj.Server
		}
		return di.Name < dj.Name
	})
	if len(ranked) > k {
		ranked = ranked[:k]
	}
	out := make([]Match, len(ranked))
	for i, r := range ranked {
		out[i] = r.match
	}
	return out
}
