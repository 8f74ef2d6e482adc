// Package merge builds a bilingual study file from a source manuscript
// and its translation. Pages are aligned by page number and their
// paragraphs are interleaved pairwise, each pair labeled with the
// language markers.
package merge

import (
	"fmt"
	"os"
	"strings"

	"github.com/kitab-tools/kitab/bookfile"
)

// Rule widths in the merged output.
const (
	headerRuleWidth = 80
	pageRuleWidth   = 40
)

// Options controls the merged output.
type Options struct {
	// Title is the merged document heading.
	// Default: "Arabic-English Translation".
	Title string
	// SourceLabel marks source paragraphs. Default: "[Arabic]".
	SourceLabel string
	// TargetLabel marks translated paragraphs. Default: "[English]".
	TargetLabel string
}

func (o *Options) title() string {
	if o.Title != "" {
		return o.Title
	}
	return "Arabic-English Translation"
}

func (o *Options) sourceLabel() string {
	if o.SourceLabel != "" {
		return o.SourceLabel
	}
	return "[Arabic]"
}

func (o *Options) targetLabel() string {
	if o.TargetLabel != "" {
		return o.TargetLabel
	}
	return "[English]"
}

// Merge interleaves a source document with its translation. Pages are
// matched by page number; unnumbered documents are matched by position.
// Within a page, paragraphs pair up in order, and a page with uneven
// paragraph counts emits the leftovers under their own label.
func Merge(source, translation *bookfile.Document, opts Options) string {
	var b strings.Builder
	headerRule := strings.Repeat("=", headerRuleWidth)
	pageRule := strings.Repeat("=", pageRuleWidth)
	dashedRule := strings.Repeat("-", pageRuleWidth)

	b.WriteString(headerRule + "\n")
	b.WriteString(opts.title() + "\n")
	b.WriteString(headerRule + "\n\n")

	byNumber := make(map[int]*bookfile.Page)
	for i := range translation.Pages {
		p := &translation.Pages[i]
		if p.Number != 0 {
			byNumber[p.Number] = p
		}
	}

	for i := range source.Pages {
		src := &source.Pages[i]

		var tr *bookfile.Page
		if src.Number != 0 {
			tr = byNumber[src.Number]
		} else if i < len(translation.Pages) {
			tr = &translation.Pages[i]
		}

		if src.Number != 0 {
			if i > 0 {
				b.WriteString("\n" + pageRule + "\n")
			}
			b.WriteString(src.Label() + "\n")
			b.WriteString(dashedRule + "\n\n")
		}

		writePage(&b, src, tr, &opts, dashedRule)
	}

	return b.String()
}

// writePage emits the interleaved paragraph pairs of one page.
func writePage(b *strings.Builder, src, tr *bookfile.Page, opts *Options, dashedRule string) {
	var trParas []string
	if tr != nil {
		trParas = tr.Paragraphs
	}

	n := len(src.Paragraphs)
	if len(trParas) > n {
		n = len(trParas)
	}

	for j := 0; j < n; j++ {
		if j < len(src.Paragraphs) {
			b.WriteString(opts.sourceLabel() + "\n")
			b.WriteString(src.Paragraphs[j] + "\n\n")
		}
		if j < len(trParas) {
			b.WriteString(opts.targetLabel() + "\n")
			b.WriteString(trParas[j] + "\n")
			b.WriteString(dashedRule + "\n\n")
		}
	}
}

// MergeFiles parses both manuscripts and writes the merged output.
func MergeFiles(sourcePath, translationPath, outputPath string, opts Options) error {
	source, err := bookfile.ParseFile(sourcePath)
	if err != nil {
		return err
	}
	translation, err := bookfile.ParseFile(translationPath)
	if err != nil {
		return err
	}

	merged := Merge(source, translation, opts)
	if err := os.WriteFile(outputPath, []byte(merged), 0644); err != nil {
		return fmt.Errorf("writing %s: %w", outputPath, err)
	}
	return nil
}
