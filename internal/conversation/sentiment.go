package conversation

import (
	"strings"

	"github.com/dshills/triage-mcp/internal/textprep"
)

var positiveWords = map[string]struct{}{
	"thanks": {}, "thank": {}, "great": {}, "perfect": {}, "helpful": {}, "resolved": {},
	"appreciate": {}, "excellent": {}, "good": {}, "works": {}, "fixed": {}, "happy": {},
	"brilliant": {}, "awesome": {}, "clear": {}, "sorted": {}, "cheers": {},
}

var negativeWords = map[string]struct{}{
	"angry": {}, "unacceptable": {}, "useless": {}, "terrible": {}, "frustrated": {},
	"frustrating": {}, "ridiculous": {}, "disappointed": {}, "wrong": {}, "still": {},
	"again": {}, "worse": {}, "awful": {}, "complaint": {}, "ignored": {}, "unhelpful": {},
	"waiting": {}, "broken": {}, "annoyed": {}, "furious": {},
}

var negators = map[string]struct{}{
	"not": {}, "no": {}, "never": {}, "don": {}, "isn": {}, "didn": {}, "doesn": {}, "nothing": {},
}

// DefaultEscalationPhrases trigger escalation regardless of trend
var DefaultEscalationPhrases = []string{
	"speak to a person",
	"speak to someone",
	"talk to a human",
	"real person",
	"manager",
	"lawyer",
	"tribunal",
	"ncat",
	"formal complaint",
}

// Score rates text on [-1, 1] from lexicon hits. A negator flips the
// polarity of the word that follows it; contractions tokenize as "don" "t"
// so single letters are skipped.
func Score(text string) float64 {
	tokens := textprep.Tokenize(text)
	var pos, neg int
	flip := false
	for _, tok := range tokens {
		if len(tok) < 2 {
			continue
		}
		if _, ok := negators[tok]; ok {
			flip = true
			continue
		}
		_, p := positiveWords[tok]
		_, n := negativeWords[tok]
		if flip {
			p, n = n, p
			flip = false
		}
		if p {
			pos++
		}
		if n {
			neg++
		}
	}
	if pos+neg == 0 {
		return 0
	}
	return float64(pos-neg) / float64(pos+neg)
}

// containsPhrase reports whether text mentions any of phrases
func containsPhrase(text string, phrases []string) bool {
	lower := " " + strings.Join(textprep.Tokenize(text), " ") + " "
	for _, p := range phrases {
		needle := " " + strings.Join(textprep.Tokenize(p), " ") + " "
		if strings.TrimSpace(needle) != "" && strings.Contains(lower, needle) {
			return true
		}
	}
	return false
}
