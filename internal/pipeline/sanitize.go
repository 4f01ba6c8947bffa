package pipeline

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// DefaultMaxResponseChars caps spoken replies.
const DefaultMaxResponseChars = 600

var (
	codeFence   = regexp.MustCompile("(?s)```[a-zA-Z0-9]*\\n?(.*?)```")
	inlineCode  = regexp.MustCompile("`([^`]*)`")
	mdLink      = regexp.MustCompile(`!?\[([^\]]*)\]\([^)]*\)`)
	bareURL     = regexp.MustCompile(`(?i)\b(https?://|www\.)\S+`)
	htmlTag     = regexp.MustCompile(`</?[a-zA-Z][^>]*>`)
	heading     = regexp.MustCompile(`(?m)^\s{0,3}#{1,6}\s*`)
	listMarker  = regexp.MustCompile(`(?m)^\s*([-*+•]|\d+[.)])\s+`)
	emphasis    = regexp.MustCompile(`(\*\*|__|\*|_|~~)([^*_~\n]+)(\*\*|__|\*|_|~~)`)
	leftoverMD  = regexp.MustCompile("[*#`~|>]+")
	emoji       = regexp.MustCompile(`[\x{1F000}-\x{1FAFF}\x{2600}-\x{27BF}\x{FE0F}]`)
	currency    = regexp.MustCompile(`([$€£])\s?(\d[\d,]*(?:\.\d+)?)(\s?(?:million|billion|thousand|k))?`)
	degrees     = regexp.MustCompile(`(-?\d+(?:\.\d+)?)\s?°\s?([CF])\b`)
	percent     = regexp.MustCompile(`(\d)\s?%`)
	spaces      = regexp.MustCompile(`[ \t]+`)
	lineBreaks  = regexp.MustCompile(`\s*\n+\s*`)
	spaceBefore = regexp.MustCompile(`\s+([,.!?;:])`)
)

var currencyNames = map[string]string{"$": "dollars", "€": "euros", "£": "pounds"}

// abbreviations are expanded on word boundaries, case-sensitively.
var abbreviations = []struct {
	re   *regexp.Regexp
	with string
}{
	{regexp.MustCompile(`\be\.g\.`), "for example"},
	{regexp.MustCompile(`\bi\.e\.`), "that is"},
	{regexp.MustCompile(`\betc\.`), "et cetera"},
	{regexp.MustCompile(`\bvs\.?\s`), "versus "},
	{regexp.MustCompile(`\bapprox\.`), "approximately"},
	{regexp.MustCompile(`\bDr\.\s`), "Doctor "},
	{regexp.MustCompile(`\bMr\.\s`), "Mister "},
	{regexp.MustCompile(`\bMrs\.\s`), "Missus "},
	{regexp.MustCompile(`\bkm/h\b`), "kilometers per hour"},
	{regexp.MustCompile(`\bmph\b`), "miles per hour"},
	{regexp.MustCompile(`(\d)\s?km\b`), "$1 kilometers"},
	{regexp.MustCompile(`(\d)\s?kg\b`), "$1 kilograms"},
	{regexp.MustCompile(`(\d)\s?(hrs|hr)\b`), "$1 hours"},
	{regexp.MustCompile(`(\d)\s?mins?\b`), "$1 minutes"},
}

// symbols are replaced after abbreviations.
var symbols = strings.NewReplacer(
	" & ", " and ",
	"&", " and ",
	" + ", " plus ",
	" = ", " equals ",
	"@", " at ",
	"°", " degrees",
	"→", " to ",
	"…", "...",
)

// Sanitize turns model output into text a synthesiser can read: markup is
// stripped, symbols and common abbreviations are spelled out, whitespace
// is collapsed and the result is cut to maxChars at a sentence boundary.
// maxChars <= 0 uses [DefaultMaxResponseChars].
func Sanitize(text string, maxChars int) string {
	if maxChars <= 0 {
		maxChars = DefaultMaxResponseChars
	}
	s := codeFence.ReplaceAllString(text, "$1")
	s = inlineCode.ReplaceAllString(s, "$1")
	s = mdLink.ReplaceAllString(s, "$1")
	s = bareURL.ReplaceAllString(s, "")
	s = htmlTag.ReplaceAllString(s, "")
	s = heading.ReplaceAllString(s, "")
	s = listMarker.ReplaceAllString(s, "")
	s = emphasis.ReplaceAllString(s, "$2")
	s = leftoverMD.ReplaceAllString(s, "")
	s = emoji.ReplaceAllString(s, "")

	s = currency.ReplaceAllStringFunc(s, func(m string) string {
		g := currency.FindStringSubmatch(m)
		amount := strings.ReplaceAll(g[2], ",", "")
		scale := strings.TrimSpace(g[3])
		if scale == "k" {
			scale = "thousand"
		}
		if scale != "" {
			amount += " " + scale
		}
		return amount + " " + currencyNames[g[1]]
	})
	s = degrees.ReplaceAllStringFunc(s, func(m string) string {
		g := degrees.FindStringSubmatch(m)
		unit := "Celsius"
		if g[2] == "F" {
			unit = "Fahrenheit"
		}
		return g[1] + " degrees " + unit
	})
	s = percent.ReplaceAllString(s, "$1 percent")
	for _, a := range abbreviations {
		s = a.re.ReplaceAllString(s, a.with)
	}
	s = symbols.Replace(s)

	s = lineBreaks.ReplaceAllStringFunc(s, func(string) string { return "\n" })
	s = joinLines(s)
	s = spaces.ReplaceAllString(s, " ")
	s = spaceBefore.ReplaceAllString(s, "$1")
	s = strings.TrimSpace(s)
	return truncateAtSentence(s, maxChars)
}

// joinLines turns line breaks into sentence breaks, so former list items
// are read as separate sentences.
func joinLines(s string) string {
	lines := strings.Split(s, "\n")
	var sb strings.Builder
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		if sb.Len() > 0 {
			prev := sb.String()
			if !strings.ContainsRune(".!?:;,", rune(prev[len(prev)-1])) {
				sb.WriteByte('.')
			}
			sb.WriteByte(' ')
		}
		sb.WriteString(l)
	}
	return sb.String()
}

// truncateAtSentence cuts s to at most limit bytes, ending on the last
// complete sentence. Without a sentence end it cuts at the last space and
// closes with a period.
func truncateAtSentence(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := s[:limit]
	for !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	for i := len(cut) - 1; i >= limit/3; i-- {
		// A period inside "72.5" is not a sentence end.
		if strings.IndexByte(".!?", cut[i]) >= 0 && (i+1 == len(s) || s[i+1] == ' ') {
			return strings.TrimSpace(cut[:i+1])
		}
	}
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " ,;:-") + "."
}
