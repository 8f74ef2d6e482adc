// Package excelfile converts Excel manuscripts into the paginated text
// format. Scanned manuscripts typically arrive as a spreadsheet with one
// row per passage: the passage text in one column and its page number in
// another. The converter walks the rows in order and groups consecutive
// rows sharing a page number into one page.
package excelfile

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/kitab-tools/kitab/bookfile"
)

// Default 1-based column positions in the manuscript spreadsheets.
const (
	DefaultTextColumn = 5
	DefaultPageColumn = 6
)

// Options controls the conversion.
type Options struct {
	// Sheet is the worksheet name. Empty selects the first sheet.
	Sheet string
	// TextColumn is the 1-based column holding the passage text.
	// Default: 5.
	TextColumn int
	// PageColumn is the 1-based column holding the page number.
	// Default: 6.
	PageColumn int
	// Title becomes the document title in the output header. Empty
	// falls back to the input file name without extension.
	Title string
}

func (o *Options) textCol() int {
	if o.TextColumn > 0 {
		return o.TextColumn
	}
	return DefaultTextColumn
}

func (o *Options) pageCol() int {
	if o.PageColumn > 0 {
		return o.PageColumn
	}
	return DefaultPageColumn
}

// Convert reads an Excel manuscript and returns it as a Document. The
// header records the options title and the input file name as source.
func Convert(path string, opts Options) (*bookfile.Document, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	sheet := opts.Sheet
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("%s contains no worksheets", path)
		}
		sheet = sheets[0]
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("reading sheet %q: %w", sheet, err)
	}

	title := opts.Title
	if title == "" {
		base := filepath.Base(path)
		title = strings.TrimSuffix(base, filepath.Ext(base))
	}

	doc := &bookfile.Document{
		Title:  title,
		Source: filepath.Base(path),
	}

	textIdx := opts.textCol() - 1
	pageIdx := opts.pageCol() - 1

	currentPage := 0
	for _, row := range rows {
		text := strings.TrimSpace(cell(row, textIdx))

		// A new page number opens a new page; rows without one
		// continue the current page.
		if num, ok := pageNumber(cell(row, pageIdx)); ok && num != currentPage {
			doc.Pages = append(doc.Pages, bookfile.Page{Number: num})
			currentPage = num
		}

		if text == "" {
			continue
		}
		if len(doc.Pages) == 0 {
			doc.Pages = append(doc.Pages, bookfile.Page{})
		}
		page := &doc.Pages[len(doc.Pages)-1]
		page.Paragraphs = append(page.Paragraphs, text)
	}

	// Drop trailing pages that collected no text.
	for len(doc.Pages) > 0 && len(doc.Pages[len(doc.Pages)-1].Paragraphs) == 0 {
		doc.Pages = doc.Pages[:len(doc.Pages)-1]
	}

	return doc, nil
}

// ConvertFile converts an Excel manuscript and writes the text format
// to outputPath.
func ConvertFile(inputPath, outputPath string, opts Options) (*bookfile.Document, error) {
	doc, err := Convert(inputPath, opts)
	if err != nil {
		return nil, err
	}
	if err := doc.WriteFile(outputPath); err != nil {
		return nil, err
	}
	return doc, nil
}

// cell returns row[idx] or "" when the row is shorter. GetRows trims
// trailing empty cells, so short rows are common.
func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}

// pageNumber parses a page-number cell. Spreadsheets deliver numbers as
// "12" or "12.0" depending on cell formatting.
func pageNumber(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n, true
	}
	if fl, err := strconv.ParseFloat(s, 64); err == nil && fl > 0 {
		return int(fl), true
	}
	return 0, false
}
