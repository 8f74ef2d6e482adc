// Package chunker splits a manuscript into model-sized chunks.
//
// Splitting preserves document order and page boundaries: paragraphs
// are packed into chunks up to the token budget, never across pages,
// and each chunk text is prefixed with its page label so the model can
// preserve page numbers in the translation. A paragraph that alone
// exceeds the budget is split on sentence boundaries (Arabic and Latin
// terminators); a single oversized sentence goes through whole.
package chunker

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"github.com/kitab-tools/kitab/bookfile"
)

// DefaultBudget is the default per-chunk input token budget,
// conservative enough for small-context models.
const DefaultBudget = 2000

// ---------------------------------------------------------------------------
// Token counting
// ---------------------------------------------------------------------------

// Counter counts model tokens in a text.
type Counter interface {
	Count(text string) int
}

// tiktokenCounter counts with the model's real BPE encoding.
type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

func (c *tiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// Estimator approximates token counts without an encoding: roughly one
// token per 3 runes, floored at the word count. Arabic script tokenizes
// denser than English, so the estimate errs on the high side.
type Estimator struct{}

// Count implements Counter.
func (Estimator) Count(text string) int {
	runes := utf8.RuneCountInString(text)
	words := len(strings.Fields(text))
	est := (runes + 2) / 3
	if words > est {
		return words
	}
	return est
}

// CounterForModel returns a token counter for the given model: the
// model's tiktoken encoding when known, otherwise the heuristic
// Estimator. The bool reports whether a real encoding was found.
func CounterForModel(model string) (Counter, bool) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil || enc == nil {
		return Estimator{}, false
	}
	return &tiktokenCounter{enc: enc}, true
}

// ---------------------------------------------------------------------------
// Chunk model
// ---------------------------------------------------------------------------

// Chunk is one translation unit submitted to the model.
type Chunk struct {
	// Page is the page number the chunk belongs to (0 = unnumbered).
	Page int
	// Text is the chunk content, prefixed with the page label when present.
	Text string
	// Tokens is the counted token size of Text.
	Tokens int
}

// ---------------------------------------------------------------------------
// Splitting
// ---------------------------------------------------------------------------

// sentenceEnd matches sentence terminators followed by whitespace.
// Covers Latin punctuation plus the Arabic question mark (؟),
// Arabic full stop (۔) and ellipsis.
var sentenceEnd = regexp.MustCompile(`([.!?؟۔…])\s+`)

// Split divides a document into token-bounded chunks. A budget <= 0
// falls back to DefaultBudget.
func Split(doc *bookfile.Document, budget int, counter Counter) []Chunk {
	if budget <= 0 {
		budget = DefaultBudget
	}
	if counter == nil {
		counter = Estimator{}
	}

	var chunks []Chunk
	for _, page := range doc.Pages {
		chunks = append(chunks, splitPage(&page, budget, counter)...)
	}
	return chunks
}

// splitPage packs one page's paragraphs into chunks within the budget.
func splitPage(page *bookfile.Page, budget int, counter Counter) []Chunk {
	label := page.Label()

	var chunks []Chunk
	var parts []string
	tokens := 0
	if label != "" {
		parts = append(parts, label)
		tokens = counter.Count(label)
	}
	baseLen := len(parts)
	baseTokens := tokens

	flush := func() {
		if len(parts) == baseLen {
			return
		}
		text := strings.Join(parts, "\n\n")
		chunks = append(chunks, Chunk{Page: page.Number, Text: text, Tokens: counter.Count(text)})
		parts = parts[:baseLen:baseLen]
		tokens = baseTokens
	}

	add := func(piece string, pieceTokens int) {
		if len(parts) > baseLen && tokens+pieceTokens > budget {
			flush()
		}
		parts = append(parts, piece)
		tokens += pieceTokens
	}

	for _, para := range page.Paragraphs {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}

		paraTokens := counter.Count(para)
		if baseTokens+paraTokens > budget {
			// Oversized paragraph: split on sentence boundaries.
			for _, sentence := range splitSentences(para) {
				add(sentence, counter.Count(sentence))
			}
			continue
		}
		add(para, paraTokens)
	}
	flush()

	return chunks
}

// splitSentences splits a paragraph after sentence terminators,
// keeping the terminator attached to its sentence.
func splitSentences(text string) []string {
	locs := sentenceEnd.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return []string{text}
	}

	var sentences []string
	prev := 0
	for _, loc := range locs {
		// loc[1] includes the trailing whitespace; TrimSpace drops it.
		s := strings.TrimSpace(text[prev:loc[1]])
		if s != "" {
			sentences = append(sentences, s)
		}
		prev = loc[1]
	}
	if rest := strings.TrimSpace(text[prev:]); rest != "" {
		sentences = append(sentences, rest)
	}
	return sentences
}
