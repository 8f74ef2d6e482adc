// Package chunker tests. All tests use the heuristic Estimator (or a
// fixed fake counter) so they run without the model's BPE data.
package chunker

import (
	"strings"
	"testing"

	"github.com/kitab-tools/kitab/bookfile"
)

// wordCounter counts whitespace-separated words as tokens, which makes
// budgets in tests easy to reason about.
type wordCounter struct{}

func (wordCounter) Count(text string) int { return len(strings.Fields(text)) }

// ---------------------------------------------------------------------------
// Estimator
// ---------------------------------------------------------------------------

func TestEstimator_NeverBelowWordCount(t *testing.T) {
	e := Estimator{}
	text := "a b c d e f g h"
	if got := e.Count(text); got < 8 {
		t.Errorf("Count(%q) = %d, want >= 8", text, got)
	}
}

func TestEstimator_Empty(t *testing.T) {
	if got := (Estimator{}).Count(""); got != 0 {
		t.Errorf("Count(\"\") = %d, want 0", got)
	}
}

func TestEstimator_ArabicText(t *testing.T) {
	// 12 runes → roughly 4 tokens; must be > 0 and >= word count (2).
	got := (Estimator{}).Count("النحو والصرف")
	if got < 2 {
		t.Errorf("Count(arabic) = %d, want >= 2", got)
	}
}

func TestCounterForModel_UnknownFallsBack(t *testing.T) {
	c, exact := CounterForModel("definitely-not-a-model")
	if exact {
		t.Error("unknown model should not report an exact encoding")
	}
	if _, ok := c.(Estimator); !ok {
		t.Errorf("fallback counter = %T, want Estimator", c)
	}
}

// ---------------------------------------------------------------------------
// Split
// ---------------------------------------------------------------------------

func TestSplit_EmptyDocument(t *testing.T) {
	chunks := Split(&bookfile.Document{}, 100, wordCounter{})
	if len(chunks) != 0 {
		t.Errorf("expected 0 chunks, got %d", len(chunks))
	}
}

func TestSplit_PageLabelPrefixed(t *testing.T) {
	doc := &bookfile.Document{Pages: []bookfile.Page{
		{Number: 5, Paragraphs: []string{"Some text here."}},
	}}
	chunks := Split(doc, 100, wordCounter{})
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if !strings.HasPrefix(chunks[0].Text, "Page 5\n\n") {
		t.Errorf("chunk should start with page label, got %q", chunks[0].Text)
	}
	if chunks[0].Page != 5 {
		t.Errorf("chunk.Page = %d, want 5", chunks[0].Page)
	}
}

func TestSplit_UnnumberedNoLabel(t *testing.T) {
	doc := &bookfile.Document{Pages: []bookfile.Page{
		{Paragraphs: []string{"Plain text."}},
	}}
	chunks := Split(doc, 100, wordCounter{})
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if strings.HasPrefix(chunks[0].Text, "Page") {
		t.Errorf("unnumbered chunk should have no label: %q", chunks[0].Text)
	}
}

func TestSplit_PacksParagraphsUpToBudget(t *testing.T) {
	doc := &bookfile.Document{Pages: []bookfile.Page{
		{Paragraphs: []string{
			"one two three",  // 3 tokens
			"four five",      // 2 tokens
			"six seven eight", // 3 tokens
		}},
	}}
	// Budget 5: first chunk holds paragraphs 1+2 (5 tokens), second holds 3.
	chunks := Split(doc, 5, wordCounter{})
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d: %+v", len(chunks), chunks)
	}
	if !strings.Contains(chunks[0].Text, "four five") {
		t.Errorf("first chunk should pack two paragraphs: %q", chunks[0].Text)
	}
	if !strings.Contains(chunks[1].Text, "six seven eight") {
		t.Errorf("second chunk wrong: %q", chunks[1].Text)
	}
}

func TestSplit_NeverPacksAcrossPages(t *testing.T) {
	doc := &bookfile.Document{Pages: []bookfile.Page{
		{Number: 1, Paragraphs: []string{"tiny"}},
		{Number: 2, Paragraphs: []string{"also tiny"}},
	}}
	chunks := Split(doc, 1000, wordCounter{})
	if len(chunks) != 2 {
		t.Fatalf("pages must not share chunks: got %d chunks", len(chunks))
	}
	if chunks[0].Page != 1 || chunks[1].Page != 2 {
		t.Errorf("chunk pages = %d, %d, want 1, 2", chunks[0].Page, chunks[1].Page)
	}
}

func TestSplit_OversizedParagraphSplitOnSentences(t *testing.T) {
	para := "First sentence here. Second sentence here. Third sentence here."
	doc := &bookfile.Document{Pages: []bookfile.Page{
		{Paragraphs: []string{para}},
	}}
	// 9 words total; budget 4 forces a sentence split.
	chunks := Split(doc, 4, wordCounter{})
	if len(chunks) < 2 {
		t.Fatalf("expected oversized paragraph to split, got %d chunks", len(chunks))
	}
	joined := strings.Join([]string{chunks[0].Text, chunks[1].Text}, " ")
	if !strings.Contains(joined, "First sentence here.") {
		t.Errorf("sentences lost in split: %q", joined)
	}
}

func TestSplit_OrderPreserved(t *testing.T) {
	doc := &bookfile.Document{Pages: []bookfile.Page{
		{Number: 1, Paragraphs: []string{"alpha", "beta"}},
		{Number: 2, Paragraphs: []string{"gamma"}},
	}}
	chunks := Split(doc, 1, wordCounter{})
	var order []string
	for _, c := range chunks {
		order = append(order, c.Text)
	}
	joined := strings.Join(order, "|")
	if strings.Index(joined, "alpha") > strings.Index(joined, "beta") ||
		strings.Index(joined, "beta") > strings.Index(joined, "gamma") {
		t.Errorf("chunk order broken: %v", order)
	}
}

func TestSplit_DefaultsApplied(t *testing.T) {
	doc := &bookfile.Document{Pages: []bookfile.Page{
		{Paragraphs: []string{"Some text."}},
	}}
	// Zero budget and nil counter must not panic.
	chunks := Split(doc, 0, nil)
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Tokens <= 0 {
		t.Errorf("chunk token count = %d, want > 0", chunks[0].Tokens)
	}
}

// ---------------------------------------------------------------------------
// Sentence splitting
// ---------------------------------------------------------------------------

func TestSplitSentences_Latin(t *testing.T) {
	got := splitSentences("One. Two! Three?")
	if len(got) != 3 {
		t.Fatalf("expected 3 sentences, got %d: %v", len(got), got)
	}
	if got[0] != "One." || got[1] != "Two!" {
		t.Errorf("sentences = %v", got)
	}
}

func TestSplitSentences_ArabicQuestionMark(t *testing.T) {
	got := splitSentences("ما النحو؟ النحو علم.")
	if len(got) != 2 {
		t.Fatalf("expected 2 sentences, got %d: %v", len(got), got)
	}
	if !strings.HasSuffix(got[0], "؟") {
		t.Errorf("terminator lost: %q", got[0])
	}
}

func TestSplitSentences_NoTerminator(t *testing.T) {
	got := splitSentences("no terminator at all")
	if len(got) != 1 || got[0] != "no terminator at all" {
		t.Errorf("splitSentences = %v, want the input unchanged", got)
	}
}
