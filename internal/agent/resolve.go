package agent

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// Similarity thresholds for lenient resolution. A phonetic candidate needs
// a lower string similarity than a raw fuzzy candidate, since the phonetic
// code overlap is already evidence of a match.
const (
	phoneticThreshold = 0.70
	fuzzyThreshold    = 0.85
)

// closestName picks the registered name most similar to target. target must
// already be normalized. Candidates whose Double Metaphone codes overlap the
// target's are ranked by Jaro-Winkler similarity against phoneticThreshold;
// when no phonetic candidate qualifies, a pure Jaro-Winkler pass applies the
// stricter fuzzyThreshold. Returns false when nothing qualifies or when two
// names tie for the top score (an ambiguous target is not a match).
func closestName(target string, names []string) (string, bool) {
	if target == "" {
		return "", false
	}
	targetTokens := strings.Fields(target)
	targetCodes := codesFor(targetTokens)

	type candidate struct {
		name  string
		score float64
	}
	var phonetic, fuzzy []candidate

	for _, name := range names {
		nameLower := normalize(name)
		nameTokens := strings.Fields(nameLower)
		score := similarity(target, nameLower, targetTokens, nameTokens)

		if overlap(targetCodes, codesFor(nameTokens)) {
			if score >= phoneticThreshold {
				phonetic = append(phonetic, candidate{name, score})
			}
		} else if score >= fuzzyThreshold {
			fuzzy = append(fuzzy, candidate{name, score})
		}
	}

	pool := phonetic
	if len(pool) == 0 {
		pool = fuzzy
	}

	var (
		best string
		top  float64
		tied bool
	)
	for _, c := range pool {
		switch {
		case c.score > top:
			best, top, tied = c.name, c.score, false
		case c.score == top && best != "":
			tied = true
		}
	}
	if best == "" || tied {
		return "", false
	}
	return best, true
}

// codesFor returns the union of all Double Metaphone codes for the given
// tokens. Empty codes are excluded.
func codesFor(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

// overlap reports whether the two code sets share at least one code.
func overlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// similarity is the Jaro-Winkler score between target and name, taking the
// higher of the full-string comparison and the aligned token comparison.
// The token pass covers multi-word agent names where only one word was
// mangled; averaging keeps a single shared token ("tech") from matching
// every "tech ..." name outright.
func similarity(targetFull, nameFull string, targetTokens, nameTokens []string) float64 {
	score := matchr.JaroWinkler(targetFull, nameFull, false)
	if len(targetTokens) > 1 || len(nameTokens) > 1 {
		if s := alignedTokenScore(targetTokens, nameTokens); s > score {
			score = s
		}
	}
	return score
}

// alignedTokenScore averages, over the target's tokens, the best
// Jaro-Winkler score each achieves against any name token.
func alignedTokenScore(targetTokens, nameTokens []string) float64 {
	var sum float64
	for _, tt := range targetTokens {
		var best float64
		for _, nt := range nameTokens {
			if s := matchr.JaroWinkler(tt, nt, false); s > best {
				best = s
			}
		}
		sum += best
	}
	return sum / float64(len(targetTokens))
}
