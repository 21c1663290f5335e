package searcher

import (
	"strings"
	"unicode"
)

// Lexical score components
const (
	phraseBonus  = 0.2
	densityScale = 0.1
)

// stopWords are dropped from queries before lexical matching
var stopWords = map[string]struct{}{
	"a": {}, "about": {}, "above": {}, "after": {}, "again": {}, "all": {}, "am": {}, "an": {},
	"and": {}, "any": {}, "are": {}, "as": {}, "at": {}, "be": {}, "because": {}, "been": {},
	"before": {}, "being": {}, "below": {}, "between": {}, "both": {}, "but": {}, "by": {},
	"can": {}, "could": {}, "did": {}, "do": {}, "does": {}, "doing": {}, "down": {},
	"during": {}, "each": {}, "few": {}, "for": {}, "from": {}, "further": {}, "had": {},
	"has": {}, "have": {}, "having": {}, "he": {}, "her": {}, "here": {}, "hers": {}, "him": {},
	"his": {}, "how": {}, "i": {}, "if": {}, "in": {}, "into": {}, "is": {}, "it": {}, "its": {},
	"itself": {}, "just": {}, "me": {}, "more": {}, "most": {}, "my": {}, "myself": {}, "no": {},
	"nor": {}, "not": {}, "now": {}, "of": {}, "off": {}, "on": {}, "once": {}, "only": {},
	"or": {}, "other": {}, "our": {}, "ours": {}, "out": {}, "over": {}, "own": {}, "same": {},
	"she": {}, "should": {}, "so": {}, "some": {}, "such": {}, "than": {}, "that": {}, "the": {},
	"their": {}, "them": {}, "then": {}, "there": {}, "these": {}, "they": {}, "this": {},
	"those": {}, "through": {}, "to": {}, "too": {}, "under": {}, "until": {}, "up": {},
	"very": {}, "was": {}, "we": {}, "were": {}, "what": {}, "when": {}, "where": {},
	"which": {}, "while": {}, "who": {}, "whom": {}, "why": {}, "will": {}, "with": {},
	"would": {}, "you": {}, "your": {}, "yours": {},
}

// IsStopWord reports whether w is ignored in queries. w must be lowercase.
func IsStopWord(w string) bool {
	_, ok := stopWords[w]
	return ok
}

// Words lowercases text and splits it on anything that is not a letter or digit.
// Order and duplicates are kept.
func Words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Tokenize returns the distinct non-stop-words of a query in first-seen order
func Tokenize(query string) []string {
	words := Words(query)
	seen := make(map[string]struct{}, len(words))
	out := make([]string, 0, len(words))
	for _, w := range words {
		if IsStopWord(w) {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return out
}

// WordMatchScore scores how well words match text, in [0, 1].
//
// A search word counts only when it equals a whole word of text, so "is" does
// not match inside "island". The score is the fraction of distinct search
// words found, plus phraseBonus when every search word is found and they
// appear in text as one contiguous run in query order, plus densityScale
// times the matched share of text's words.
func WordMatchScore(words []string, text string) float64 {
	var search []string
	for _, w := range words {
		search = append(search, Words(w)...)
	}
	docWords := Words(text)
	if len(search) == 0 || len(docWords) == 0 {
		return 0
	}

	doc := make(map[string]struct{}, len(docWords))
	for _, w := range docWords {
		doc[w] = struct{}{}
	}

	seen := make(map[string]struct{}, len(search))
	var phrase []string
	matched := 0
	for _, w := range search {
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		phrase = append(phrase, w)
		if _, ok := doc[w]; ok {
			matched++
		}
	}
	if matched == 0 {
		return 0
	}

	score := float64(matched) / float64(len(phrase))
	if matched == len(phrase) && containsRun(docWords, phrase) {
		score += phraseBonus
	}
	score += densityScale * float64(matched) / float64(len(docWords))

	if score > 1 {
		score = 1
	}
	return score
}

// containsRun reports whether needle occurs as a contiguous run in haystack
func containsRun(haystack, needle []string) bool {
	if len(needle) > len(haystack) {
		return false
	}
outer:
	for i := 0; i+len(needle) <= len(haystack); i++ {
		for j, w := range needle {
			if haystack[i+j] != w {
				continue outer
			}
		}
		return true
	}
	return false
}
