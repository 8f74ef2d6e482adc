package translate

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/kitab-tools/kitab/bookfile"
	"github.com/kitab-tools/kitab/checkpoint"
	"github.com/kitab-tools/kitab/chunker"
)

// section is one unit of work in a document run: the header block or a
// chunk. Sections are indexed in document order; the index doubles as
// the checkpoint key.
type section struct {
	index  int
	source string
}

// TranslateDocument translates a chunked manuscript and returns the
// reassembled output text. The header block (when present) is section 0
// and is translated first; chunk sections follow in document order and
// the output joins them with blank lines regardless of the submission
// mode. Completed sections are recorded in cp after every call so an
// interrupted run resumes where it stopped; cp may be nil to disable
// checkpointing.
func (t *Translator) TranslateDocument(ctx context.Context, doc *bookfile.Document, chunks []chunker.Chunk, cp *checkpoint.File) (string, error) {
	var sections []section
	if header := doc.HeaderBlock(); header != "" {
		sections = append(sections, section{index: 0, source: header})
	}
	for i, chunk := range chunks {
		sections = append(sections, section{index: i + 1, source: chunk.Text})
	}

	if len(sections) == 0 {
		return "", nil
	}

	results := make([]string, len(sections))
	total := len(sections)
	done := 0

	// Resume from the checkpoint.
	var pending []int
	for i, sec := range sections {
		if cp != nil {
			if text, ok := cp.Get(sec.index, checkpoint.Hash(sec.source)); ok {
				results[i] = text
				done++
				continue
			}
		}
		pending = append(pending, i)
	}
	if done > 0 {
		t.opts.log("Resuming: %d/%d sections already translated", done, total)
	}
	if t.opts.OnProgress != nil && done > 0 {
		t.opts.OnProgress(done, total)
	}

	var err error
	if t.opts.Parallel {
		err = t.runParallel(ctx, sections, pending, results, cp, &done, total)
	} else {
		err = t.runSequential(ctx, sections, pending, results, cp, &done, total)
	}
	if err != nil {
		return "", err
	}

	return assemble(results), nil
}

// runSequential processes pending sections one at a time with the
// configured delay between consecutive API calls.
func (t *Translator) runSequential(ctx context.Context, sections []section, pending []int, results []string, cp *checkpoint.File, done *int, total int) error {
	for n, i := range pending {
		sec := sections[i]

		if t.opts.Verbose {
			t.opts.log("  Section %d/%d (%d chars)", sec.index+1, total, len(sec.source))
		}

		text, err := t.TranslateText(ctx, sec.source)
		if err != nil {
			return fmt.Errorf("translating section %d/%d: %w", sec.index+1, total, err)
		}
		results[i] = text
		t.record(cp, sec, text)

		*done++
		if t.opts.OnProgress != nil {
			t.opts.OnProgress(*done, total)
		}

		// Fixed delay between calls to stay under provider quota.
		if n < len(pending)-1 && t.opts.RequestDelay > 0 {
			if err := sleepCtx(ctx, t.opts.RequestDelay); err != nil {
				return err
			}
		}
	}
	return nil
}

// runParallel submits pending sections concurrently, bounded by
// MaxConcurrent, staggering launches by the request delay. Results land
// in their section slot so document order is preserved.
func (t *Translator) runParallel(ctx context.Context, sections []section, pending []int, results []string, cp *checkpoint.File, done *int, total int) error {
	sem := semaphore.NewWeighted(int64(t.opts.effectiveMaxConcurrent()))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)

	for n, i := range pending {
		if ctx.Err() != nil {
			break
		}

		// Stagger launches to avoid a request burst.
		if n > 0 && t.opts.RequestDelay > 0 {
			if err := sleepCtx(ctx, t.opts.RequestDelay); err != nil {
				break
			}
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)

		go func(i int) {
			defer func() {
				sem.Release(1)
				wg.Done()
			}()

			sec := sections[i]
			text, err := t.TranslateText(ctx, sec.source)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("translating section %d/%d: %w", sec.index+1, total, err)
				}
				return
			}
			results[i] = text
			t.record(cp, sec, text)
			*done++
			if t.opts.OnProgress != nil {
				t.opts.OnProgress(*done, total)
			}
		}(i)
	}

	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}

// record stores a completed section in the checkpoint and saves it, so
// a crash right after loses nothing.
func (t *Translator) record(cp *checkpoint.File, sec section, text string) {
	if cp == nil {
		return
	}
	cp.Set(sec.index, checkpoint.Hash(sec.source), text)
	if err := cp.Save(); err != nil {
		t.opts.logError("Warning: saving checkpoint: %v", err)
	}
}

// assemble joins translated sections with blank lines, skipping any
// empty ones, and terminates the document with a newline.
func assemble(results []string) string {
	var nonEmpty []string
	for _, r := range results {
		r = strings.TrimSpace(r)
		if r != "" {
			nonEmpty = append(nonEmpty, r)
		}
	}
	if len(nonEmpty) == 0 {
		return ""
	}
	return strings.Join(nonEmpty, "\n\n") + "\n"
}
