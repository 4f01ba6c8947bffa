package turn

import (
	"fmt"
	"regexp"
	"slices"
)

// CueClass labels what a matching transcript signals.
type CueClass string

const (
	// CueNone is returned when no rule matches.
	CueNone CueClass = ""

	// CueEndOfTurn marks text that yields the floor, such as a question.
	CueEndOfTurn CueClass = "end_of_turn"

	// CueContinuation marks text that suggests the speaker is not done.
	CueContinuation CueClass = "continuation"

	// CueGreeting marks a bare greeting.
	CueGreeting CueClass = "greeting"

	// CueFarewell marks a request to end the conversation.
	CueFarewell CueClass = "farewell"

	// CueStop marks a request to stop talking.
	CueStop CueClass = "stop"
)

// Valid reports whether c is a known class.
func (c CueClass) Valid() bool {
	switch c {
	case CueEndOfTurn, CueContinuation, CueGreeting, CueFarewell, CueStop:
		return true
	}
	return false
}

// CueRule is one (pattern, class) pair. Patterns are Go regular expressions
// matched case-insensitively against the trimmed transcript.
type CueRule struct {
	Pattern string   `yaml:"pattern"`
	Class   CueClass `yaml:"class"`
}

type compiledRule struct {
	re    *regexp.Regexp
	class CueClass
}

// CueTable classifies transcripts with an ordered rule list. When several
// rules match, the first one wins.
type CueTable struct {
	rules []CueRule
	re    []compiledRule
}

// NewCueTable compiles rules.
func NewCueTable(rules []CueRule) (*CueTable, error) {
	t := &CueTable{rules: slices.Clone(rules)}
	for i, r := range rules {
		if !r.Class.Valid() {
			return nil, fmt.Errorf("turn: cue %d: unknown class %q", i, r.Class)
		}
		re, err := regexp.Compile("(?i)" + r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("turn: cue %d: %w", i, err)
		}
		t.re = append(t.re, compiledRule{re: re, class: r.Class})
	}
	return t, nil
}

// DefaultCueTable returns the compiled [DefaultCues].
func DefaultCueTable() *CueTable {
	t, err := NewCueTable(DefaultCues())
	if err != nil {
		panic("turn: default cues do not compile: " + err.Error())
	}
	return t
}

// DefaultCues returns the built-in rule set. Trailing connectors outrank the
// end-of-turn cues, which outrank leading conjunctions, so "So, what's the
// time?" ends the turn while "I was going to ask, so" does not.
func DefaultCues() []CueRule {
	return []CueRule{
		// Trailing connectors and fillers.
		{Pattern: `\b(and|but|or|because|however|um+|uh+|er+|hmm+)[\s.,…]*$`, Class: CueContinuation},
		{Pattern: `\b(so|also)\s*(,|\.\.\.|…)?\s*$`, Class: CueContinuation},
		{Pattern: `(\.\.\.|…|,|-)\s*$`, Class: CueContinuation},

		// Explicit floor yielding.
		{Pattern: `\?\s*$`, Class: CueEndOfTurn},
		{Pattern: `\b(over|go ahead|your turn|what do you think|that's it|that is it|thanks|thank you)[\s.!]*$`, Class: CueEndOfTurn},

		// Leading conjunctions.
		{Pattern: `^\s*(and|but|so|however|also|plus)\b`, Class: CueContinuation},

		// Local commands; matched against the whole utterance.
		{Pattern: `^\s*(stop|be quiet|quiet|cancel( that)?|shut up|silence|enough|never ?mind)[\s,.!]*(jarvis)?[\s.!]*$`, Class: CueStop},
		{Pattern: `^\s*(good ?bye|bye( bye)?|see you( later| soon)?|good night|farewell|end (the )?conversation)[\s,.!]*(jarvis)?[\s.!]*$`, Class: CueFarewell},
		{Pattern: `^\s*(hi|hello|hey|hiya|good (morning|afternoon|evening)|greetings)[\s,.!]*(there|jarvis)?[\s.!]*$`, Class: CueGreeting},
	}
}

// Rules returns a copy of the rule list.
func (t *CueTable) Rules() []CueRule {
	return slices.Clone(t.rules)
}

// Classify returns the class of the first rule matching text, or [CueNone].
func (t *CueTable) Classify(text string) CueClass {
	return t.FirstOf(text)
}

// FirstOf returns the class of the first rule that matches text and belongs
// to one of classes. With no classes every rule is considered.
func (t *CueTable) FirstOf(text string, classes ...CueClass) CueClass {
	if t == nil {
		return CueNone
	}
	for _, r := range t.re {
		if len(classes) > 0 && !slices.Contains(classes, r.class) {
			continue
		}
		if r.re.MatchString(text) {
			return r.class
		}
	}
	return CueNone
}
