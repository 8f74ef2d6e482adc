// Package bookfile implements reading and writing of the paginated
// manuscript text format.
//
// A manuscript file looks like this:
//
//	================================================================================
//	<title>
//	Source: <origin>
//	================================================================================
//
//	Page 3
//	----------------------------------------
//
//	First paragraph of page 3.
//
//	Second paragraph of page 3.
//
//	========================================
//
//	Page 4
//	----------------------------------------
//	...
//
//	================================================================================
//	End of Document
//	================================================================================
//
// The header block (two lines between 80-char `=` rules) and the
// `End of Document` trailer are optional. Files without `Page N`
// markers parse into a single unnumbered page. The round-trip
// serialization reconstructs the original structure.
package bookfile

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Rule widths used by the serialized format.
const (
	headerRuleWidth = 80
	pageRuleWidth   = 40
)

// endMarker terminates a manuscript file.
const endMarker = "End of Document"

// ---------------------------------------------------------------------------
// Document model
// ---------------------------------------------------------------------------

// Page is a single manuscript page.
type Page struct {
	// Number is the page number from the `Page N` marker (0 = unnumbered).
	Number int
	// Paragraphs holds the page text split on blank lines, in order.
	Paragraphs []string
}

// Label returns the page marker text ("Page N"), or "" for unnumbered pages.
func (p *Page) Label() string {
	if p.Number == 0 {
		return ""
	}
	return fmt.Sprintf("Page %d", p.Number)
}

// Document is a parsed manuscript.
type Document struct {
	// Title is the first header line (may be empty if no header block).
	Title string
	// Source is the origin noted in the header ("Source: ..." line).
	Source string
	// Pages holds the manuscript pages in document order.
	Pages []Page
}

// HasHeader reports whether the document carries a header block.
func (d *Document) HasHeader() bool {
	return d.Title != "" || d.Source != ""
}

// HeaderBlock returns the serialized header block without surrounding
// blank lines, or "" if the document has no header.
func (d *Document) HeaderBlock() string {
	if !d.HasHeader() {
		return ""
	}
	rule := strings.Repeat("=", headerRuleWidth)
	var b strings.Builder
	b.WriteString(rule + "\n")
	b.WriteString(d.Title + "\n")
	b.WriteString("Source: " + d.Source + "\n")
	b.WriteString(rule)
	return b.String()
}

// Stats returns (pages, paragraphs, words) for the document body.
func (d *Document) Stats() (pages, paragraphs, words int) {
	pages = len(d.Pages)
	for _, p := range d.Pages {
		paragraphs += len(p.Paragraphs)
		for _, para := range p.Paragraphs {
			words += len(strings.Fields(para))
		}
	}
	return
}

// ---------------------------------------------------------------------------
// Parsing
// ---------------------------------------------------------------------------

// headerBlock matches the two header lines between 80-char `=` rules at
// the start of the file.
var headerBlock = regexp.MustCompile(`(?s)^={40,}\r?\n(.*?)\r?\n(.*?)\r?\n={40,}\r?\n?`)

// separatorLine matches an all-equals separator line between pages.
var separatorLine = regexp.MustCompile(`(?m)^=+\s*$`)

// pageMarker matches a `Page N` marker line, optionally followed by a
// dashed rule on the next line.
var pageMarker = regexp.MustCompile(`(?m)^Page (\d+)\s*$`)

// dashRule matches the dashed rule under a page marker.
var dashRule = regexp.MustCompile(`(?m)^-{3,}\s*$`)

// sourcePrefix strips the "Source: " label from the second header line.
var sourcePrefix = regexp.MustCompile(`^Source:\s*`)

// ParseFile reads and parses a manuscript file.
func ParseFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return Parse(data)
}

// Parse parses manuscript data into a Document.
func Parse(data []byte) (*Document, error) {
	text := string(data)
	doc := &Document{}

	// --- Extract header block ---
	if m := headerBlock.FindStringSubmatchIndex(text); m != nil {
		doc.Title = strings.TrimSpace(text[m[2]:m[3]])
		source := strings.TrimSpace(text[m[4]:m[5]])
		doc.Source = sourcePrefix.ReplaceAllString(source, "")
		text = text[m[1]:]
	}

	// --- Split body into page blocks on all-equals separator lines ---
	blocks := separatorLine.Split(text, -1)
	for _, block := range blocks {
		block = strings.TrimSpace(block)
		if block == "" || block == endMarker {
			continue
		}
		parsePageBlock(doc, block)
	}

	return doc, nil
}

// parsePageBlock parses one separator-delimited block. A block may hold
// several `Page N` sections when the source omits separators between them.
func parsePageBlock(doc *Document, block string) {
	markers := pageMarker.FindAllStringSubmatchIndex(block, -1)

	if len(markers) == 0 {
		// No page markers — unnumbered content.
		appendParagraphs(doc, 0, block)
		return
	}

	// Content before the first marker belongs to the previous page
	// (or an unnumbered one).
	if pre := strings.TrimSpace(block[:markers[0][0]]); pre != "" {
		appendParagraphs(doc, 0, pre)
	}

	for i, m := range markers {
		num, _ := strconv.Atoi(block[m[2]:m[3]])
		end := len(block)
		if i+1 < len(markers) {
			end = markers[i+1][0]
		}
		body := block[m[1]:end]
		// Drop the dashed rule directly under the marker.
		body = dashRule.ReplaceAllString(body, "")
		doc.Pages = append(doc.Pages, Page{Number: num})
		appendParagraphs(doc, num, body)
	}
}

// appendParagraphs splits text on blank lines and appends the paragraphs
// to the page with the given number (creating it if needed). Unnumbered
// text (num == 0) continues the current page when one exists.
func appendParagraphs(doc *Document, num int, text string) {
	var page *Page
	if n := len(doc.Pages); n > 0 && (doc.Pages[n-1].Number == num || num == 0) {
		page = &doc.Pages[n-1]
	} else {
		doc.Pages = append(doc.Pages, Page{Number: num})
		page = &doc.Pages[len(doc.Pages)-1]
	}

	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		page.Paragraphs = append(page.Paragraphs, para)
	}

	// Drop the page again if it ended up empty (e.g. marker-only block).
	if len(page.Paragraphs) == 0 && page.Number == 0 {
		doc.Pages = doc.Pages[:len(doc.Pages)-1]
	}
}

// ---------------------------------------------------------------------------
// Marshaling
// ---------------------------------------------------------------------------

// Marshal serializes the document back to the manuscript format.
func (d *Document) Marshal() []byte {
	var b strings.Builder
	headerRule := strings.Repeat("=", headerRuleWidth)
	pageRule := strings.Repeat("=", pageRuleWidth)
	dashedRule := strings.Repeat("-", pageRuleWidth)

	if d.HasHeader() {
		b.WriteString(headerRule + "\n")
		b.WriteString(d.Title + "\n")
		b.WriteString("Source: " + d.Source + "\n")
		b.WriteString(headerRule + "\n\n")
	}

	for i, page := range d.Pages {
		if i > 0 {
			b.WriteString("\n" + pageRule + "\n")
		}
		if page.Number != 0 {
			b.WriteString("\n" + page.Label() + "\n")
			b.WriteString(dashedRule + "\n\n")
		}
		for _, para := range page.Paragraphs {
			b.WriteString(para + "\n\n")
		}
	}

	b.WriteString("\n" + headerRule + "\n")
	b.WriteString(endMarker + "\n")
	b.WriteString(headerRule + "\n")

	return []byte(b.String())
}

// WriteFile serializes the document and writes it to the given path.
func (d *Document) WriteFile(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating directory for %s: %w", path, err)
		}
	}
	if err := os.WriteFile(path, d.Marshal(), 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
