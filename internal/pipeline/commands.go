package pipeline

import (
	"slices"
	"strings"
	"sync/atomic"
	"unicode"

	"github.com/MrWong99/jarvis/internal/pipeline/phonetic"
	"github.com/MrWong99/jarvis/internal/turn"
)

// Command is a local control command recognised without any provider.
type Command string

const (
	CommandNone     Command = ""
	CommandStop     Command = "stop"
	CommandGreeting Command = "greeting"
	CommandFarewell Command = "farewell"
)

// commandClasses maps cue classes to commands, in priority order.
var commandClasses = []struct {
	class turn.CueClass
	cmd   Command
}{
	{turn.CueStop, CommandStop},
	{turn.CueFarewell, CommandFarewell},
	{turn.CueGreeting, CommandGreeting},
}

// defaultVocabulary lists short utterances that are commands on their own.
// They back the phonetic pass for misrecognised one- or two-word commands.
var defaultVocabulary = map[string]Command{
	"stop":         CommandStop,
	"cancel":       CommandStop,
	"quiet":        CommandStop,
	"be quiet":     CommandStop,
	"shut up":      CommandStop,
	"silence":      CommandStop,
	"goodbye":      CommandFarewell,
	"bye":          CommandFarewell,
	"good night":   CommandFarewell,
	"hello":        CommandGreeting,
	"hi":           CommandGreeting,
	"hey":          CommandGreeting,
	"good morning": CommandGreeting,
}

// CommandMatcher recognises local control commands. The cue table decides
// first; utterances of at most two words that no cue matched are then
// compared phonetically against a small command vocabulary.
type CommandMatcher struct {
	cues       atomic.Pointer[turn.CueTable]
	phonetic   *phonetic.Matcher
	vocabulary map[string]Command
	terms      []string
}

// NewCommandMatcher creates a matcher over cues. A nil phonetic matcher
// disables the fuzzy pass.
func NewCommandMatcher(cues *turn.CueTable, pm *phonetic.Matcher) *CommandMatcher {
	c := &CommandMatcher{phonetic: pm, vocabulary: defaultVocabulary}
	c.cues.Store(cues)
	for term := range c.vocabulary {
		c.terms = append(c.terms, term)
	}
	slices.Sort(c.terms)
	return c
}

// SetCues swaps the cue table. It is safe to call while Match runs.
func (c *CommandMatcher) SetCues(cues *turn.CueTable) { c.cues.Store(cues) }

// Match returns the command expressed by text, or [CommandNone].
func (c *CommandMatcher) Match(text string) Command {
	text = strings.TrimSpace(text)
	if text == "" {
		return CommandNone
	}
	cues := c.cues.Load()
	for _, cc := range commandClasses {
		if cues.FirstOf(text, cc.class) == cc.class {
			return cc.cmd
		}
	}
	if c.phonetic == nil {
		return CommandNone
	}
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})
	// The assistant's name is often added and carries no meaning here.
	words = slices.DeleteFunc(words, func(w string) bool { return w == "jarvis" })
	if len(words) == 0 || len(words) > 2 {
		return CommandNone
	}
	m, ok := c.phonetic.Closest(strings.Join(words, " "), c.terms)
	if !ok {
		return CommandNone
	}
	return c.vocabulary[m.Term]
}
