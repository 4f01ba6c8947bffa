// Package phonetic finds the vocabulary term a misheard word most likely
// stands for.
//
// Speech recognisers regularly mangle short command words ("stap", "goodby",
// "hallo"). The [Matcher] compares an input against a small vocabulary in
// two passes:
//
//  1. Terms whose Double Metaphone codes overlap the input's are accepted
//     when their Jaro-Winkler similarity reaches the phonetic threshold.
//  2. Without a phonetic candidate, a term is accepted on Jaro-Winkler
//     similarity alone, against the stricter fuzzy threshold.
//
// Multi-word inputs and terms are compared on the full string, on the
// space-stripped string and word by word; the best score counts.
package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.80
	defaultFuzzyThreshold    = 0.90
)

// Option configures a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a term that
// sounds like the input. Default: 0.80.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) { m.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for a term that
// does not sound like the input. Default: 0.90.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) { m.fuzzyThreshold = threshold }
}

// Match is the outcome of a successful lookup.
type Match struct {
	// Term is the vocabulary entry, as given.
	Term string

	// Score is the Jaro-Winkler similarity in [0, 1].
	Score float64

	// Phonetic reports whether the term also shares a metaphone code.
	Phonetic bool
}

// Matcher is read-only after construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a matcher with the supplied options applied.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Closest returns the vocabulary term closest to input. Phonetic candidates
// always beat purely fuzzy ones. ok is false when nothing clears its
// threshold.
func (m *Matcher) Closest(input string, vocabulary []string) (best Match, ok bool) {
	in := strings.ToLower(strings.TrimSpace(input))
	if in == "" || len(vocabulary) == 0 {
		return Match{}, false
	}
	inTokens := strings.Fields(in)
	inCodes := codes(inTokens)

	for _, term := range vocabulary {
		t := strings.ToLower(strings.TrimSpace(term))
		if t == "" {
			continue
		}
		tTokens := strings.Fields(t)
		score := similarity(inTokens, tTokens, in, t)

		if overlaps(inCodes, codes(tTokens)) {
			if score >= m.phoneticThreshold && (!best.Phonetic || score > best.Score) {
				best, ok = Match{Term: term, Score: score, Phonetic: true}, true
			}
			continue
		}
		if !best.Phonetic && score >= m.fuzzyThreshold && score > best.Score {
			best, ok = Match{Term: term, Score: score}, true
		}
	}
	return best, ok
}

// codes returns the Double Metaphone codes of tokens. Tokens without
// consonants produce no code.
func codes(tokens []string) map[string]struct{} {
	out := make(map[string]struct{}, len(tokens)*2)
	for _, tok := range tokens {
		primary, secondary := matchr.DoubleMetaphone(tok)
		if primary != "" {
			out[primary] = struct{}{}
		}
		if secondary != "" {
			out[secondary] = struct{}{}
		}
	}
	return out
}

func overlaps(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for c := range a {
		if _, ok := b[c]; ok {
			return true
		}
	}
	return false
}

// similarity is the best Jaro-Winkler score over the full strings, the
// space-stripped strings and every token pair.
func similarity(aTokens, bTokens []string, a, b string) float64 {
	score := matchr.JaroWinkler(a, b, false)
	if len(aTokens) > 1 || len(bTokens) > 1 {
		score = max(score, matchr.JaroWinkler(strings.Join(aTokens, ""), strings.Join(bTokens, ""), false))
	}
	for _, at := range aTokens {
		for _, bt := range bTokens {
			score = max(score, matchr.JaroWinkler(at, bt, false))
		}
	}
	return score
}
