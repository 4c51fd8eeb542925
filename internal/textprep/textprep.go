package textprep

import (
	"crypto/sha256"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/dshills/triage-mcp/pkg/types"
)

const (
	// MaxKeywords bounds the keyword set extracted per item
	MaxKeywords = 12

	// MaxTokensPerDocument is the embedding input budget for a single item
	MaxTokensPerDocument = 2000

	// TokensPerChar is the heuristic for estimating tokens (chars/4)
	TokensPerChar = 4

	// maxTitleLen bounds titles derived from free text
	maxTitleLen = 80
)

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "but": {},
	"by": {}, "can": {}, "do": {}, "does": {}, "for": {}, "from": {}, "has": {}, "have": {},
	"how": {}, "i": {}, "if": {}, "in": {}, "is": {}, "it": {}, "its": {}, "me": {},
	"my": {}, "not": {}, "of": {}, "on": {}, "or": {}, "our": {}, "so": {}, "that": {},
	"the": {}, "their": {}, "there": {}, "this": {}, "to": {}, "was": {}, "we": {},
	"what": {}, "when": {}, "where": {}, "which": {}, "who": {}, "will": {}, "with": {},
	"would": {}, "you": {}, "your": {}, "please": {}, "hi": {}, "hello": {}, "thanks": {},
}

// Preparer derives searchable fields for knowledge items
type Preparer struct {
	maxKeywords int
}

// New creates a Preparer with the default keyword budget
func New() *Preparer {
	return &Preparer{maxKeywords: MaxKeywords}
}

// Prepare trims the item's text, fills missing keywords and recomputes the
// content hash. Title and body must be non-empty after trimming.
func (p *Preparer) Prepare(item *types.KnowledgeItem) error {
	item.Title = CollapseWhitespace(item.Title)
	item.Body = strings.TrimSpace(item.Body)
	item.Category = strings.ToLower(strings.TrimSpace(item.Category))
	item.Subcategory = strings.ToLower(strings.TrimSpace(item.Subcategory))
	if item.Title == "" {
		return types.ErrEmptyTitle
	}
	if item.Body == "" {
		return types.ErrEmptyBody
	}
	if len(item.Keywords) == 0 {
		item.Keywords = Keywords(item.Title+" "+item.Body, p.maxKeywords)
	} else {
		item.Keywords = dedupeLower(item.Keywords)
	}
	item.ContentHash = item.ComputeContentHash()
	return nil
}

// EmbeddingInput returns the text sent to the embedder for an item,
// truncated to the document token budget.
func (p *Preparer) EmbeddingInput(item *types.KnowledgeItem) string {
	return Truncate(item.SearchText(), MaxTokensPerDocument)
}

// SearchDocument returns the text keyword search matches against
func SearchDocument(item *types.KnowledgeItem) string {
	return item.Title + " " + strings.Join(item.Keywords, " ") + " " + item.Body
}

// Tokenize splits text into lowercase word tokens
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Keywords extracts up to max distinct non-stopword tokens ordered by
// frequency, ties broken by first appearance.
func Keywords(text string, max int) []string {
	tokens := Tokenize(text)
	counts := make(map[string]int)
	first := make(map[string]int)
	for i, tok := range tokens {
		if len(tok) < 3 {
			continue
		}
		if _, stop := stopwords[tok]; stop {
			continue
		}
		if _, seen := first[tok]; !seen {
			first[tok] = i
		}
		counts[tok]++
	}

	words := make([]string, 0, len(counts))
	for w := range counts {
		words = append(words, w)
	}
	sort.Slice(words, func(i, j int) bool {
		if counts[words[i]] != counts[words[j]] {
			return counts[words[i]] > counts[words[j]]
		}
		return first[words[i]] < first[words[j]]
	})
	if max > 0 && len(words) > max {
		words = words[:max]
	}
	return words
}

// DeriveTitle builds a title from free text: the first sentence, cut at a
// word boundary when longer than the title limit.
func DeriveTitle(text string) string {
	text = CollapseWhitespace(text)
	if i := strings.IndexAny(text, ".?!\n"); i > 0 {
		text = text[:i]
	}
	if len(text) <= maxTitleLen {
		return text
	}
	cut := text[:maxTitleLen]
	if i := strings.LastIndex(cut, " "); i > maxTitleLen/2 {
		cut = cut[:i]
	}
	return cut + "..."
}

// CollapseWhitespace trims and reduces runs of whitespace to single spaces
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Truncate cuts text to roughly maxTokens tokens
func Truncate(text string, maxTokens int) string {
	limit := maxTokens * TokensPerChar
	if maxTokens <= 0 || len(text) <= limit {
		return text
	}
	cut := text[:limit]
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut
}

// ComputeHash computes the SHA-256 hash of text
func ComputeHash(content string) [32]byte {
	return sha256.Sum256([]byte(content))
}

// EstimateTokenCount estimates the number of tokens in a string
func EstimateTokenCount(text string) int {
	return len(text) / TokensPerChar
}

func dedupeLower(words []string) []string {
	seen := make(map[string]struct{}, len(words))
	out := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" {
			continue
		}
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return out
}
