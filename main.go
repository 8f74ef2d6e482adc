// kitab — AI-powered translator for long-form Arabic manuscripts.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kitab-tools/kitab/bookfile"
	"github.com/kitab-tools/kitab/checkpoint"
	"github.com/kitab-tools/kitab/chunker"
	"github.com/kitab-tools/kitab/config"
	"github.com/kitab-tools/kitab/excelfile"
	"github.com/kitab-tools/kitab/merge"
	"github.com/kitab-tools/kitab/translate"
)

// Version information (set via -ldflags during build)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// ANSI colors
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[0;31m"
	colorGreen  = "\033[0;32m"
	colorYellow = "\033[1;33m"
	colorBlue   = "\033[0;34m"
)

func logInfo(format string, args ...any) {
	fmt.Fprintf(os.Stderr, colorBlue+"[INFO]"+colorReset+" "+format+"\n", args...)
}

func logSuccess(format string, args ...any) {
	fmt.Fprintf(os.Stderr, colorGreen+"[OK]"+colorReset+" "+format+"\n", args...)
}

func logWarning(format string, args ...any) {
	fmt.Fprintf(os.Stderr, colorYellow+"[WARN]"+colorReset+" "+format+"\n", args...)
}

func logError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, colorRed+"[ERROR]"+colorReset+" "+format+"\n", args...)
}

// ---------------------------------------------------------------------------
// Root command
// ---------------------------------------------------------------------------

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "kitab",
		Short: "AI-powered Arabic manuscript translator",
		Long: `kitab — AI-powered translator for long-form Arabic manuscripts.

Reads a paginated manuscript text file, splits it into token-bounded
chunks, translates each chunk through an LLM chat-completions API and
reassembles the translated document. Interrupted runs resume from a
checkpoint next to the output file.

Commands:
  status      Show manuscript info and chunking/checkpoint statistics
  convert     Convert an Excel manuscript to the text format
  translate   Translate a manuscript file
  merge       Build a bilingual study file from source + translation

AI Providers:
  openai         OpenAI — API key
  google         Google AI (Gemini) — API key
  groq           Groq — API key
  ollama         Ollama local server (no key)
  custom-openai  Custom OpenAI-compatible endpoint`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newStatusCmd(),
		newConvertCmd(),
		newTranslateCmd(),
		newMergeCmd(),
		newVersionCmd(),
	)

	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logError("%v", err)
		os.Exit(1)
	}
}

// ---------------------------------------------------------------------------
// version (display version information)
// ---------------------------------------------------------------------------

func newVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  `Display version, commit hash, and build date.`,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("kitab version %s\n", version)
			fmt.Printf("  commit:    %s\n", commit)
			fmt.Printf("  built:     %s\n", date)
		},
	}

	return cmd
}

// ---------------------------------------------------------------------------
// status (read-only: manuscript info + chunk/checkpoint stats)
// ---------------------------------------------------------------------------

func newStatusCmd() *cobra.Command {
	var maxTokens int
	var model string

	cmd := &cobra.Command{
		Use:   "status <manuscript.txt>",
		Short: "Show manuscript info and chunking statistics",
		Long: `Show manuscript structure and what a translation run would do.

Displays pages, paragraphs and word count, the chunk count for the
configured token budget, and resume progress if a checkpoint exists
next to the default output file. Does not modify any files.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(args[0], maxTokens, model)
		},
	}

	cmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "Chunk token budget (default from config)")
	cmd.Flags().StringVar(&model, "model", "", "Model for token counting (default from config)")

	return cmd
}

func runStatus(path string, maxTokens int, model string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if maxTokens == 0 {
		maxTokens = cfg.MaxTokens()
	}
	if model == "" {
		model = cfg.Provider.Model
	}

	doc, err := bookfile.ParseFile(path)
	if err != nil {
		return err
	}

	pages, paragraphs, words := doc.Stats()

	fmt.Fprintf(os.Stderr, "\n%sManuscript%s\n", colorBlue, colorReset)
	fmt.Fprintln(os.Stderr, strings.Repeat("─", 60))
	if doc.Title != "" {
		fmt.Fprintf(os.Stderr, "  Title:      %s\n", doc.Title)
	}
	if doc.Source != "" {
		fmt.Fprintf(os.Stderr, "  Source:     %s\n", doc.Source)
	}
	fmt.Fprintf(os.Stderr, "  Pages:      %d\n", pages)
	fmt.Fprintf(os.Stderr, "  Paragraphs: %d\n", paragraphs)
	fmt.Fprintf(os.Stderr, "  Words:      %d\n", words)

	counter, exact := chunker.CounterForModel(model)
	chunks := chunker.Split(doc, maxTokens, counter)
	totalTokens := 0
	for _, c := range chunks {
		totalTokens += c.Tokens
	}

	fmt.Fprintf(os.Stderr, "\n%sChunking%s (budget %d tokens/chunk)\n", colorBlue, colorReset, maxTokens)
	fmt.Fprintln(os.Stderr, strings.Repeat("─", 60))
	fmt.Fprintf(os.Stderr, "  Chunks:     %d\n", len(chunks))
	if exact {
		fmt.Fprintf(os.Stderr, "  Tokens:     %d (tokenizer: %s)\n", totalTokens, model)
	} else {
		fmt.Fprintf(os.Stderr, "  Tokens:     ~%d (estimated)\n", totalTokens)
	}

	// Resume progress for the default output next to the input.
	outPath := defaultOutputPath(path, cfg.Translation.TargetLang)
	cpPath := checkpoint.PathFor(outPath)
	if fileExists(cpPath) {
		cp, err := checkpoint.Load(cpPath, model)
		if err != nil {
			logWarning("Unreadable checkpoint %s: %v", cpPath, err)
		} else {
			total := len(chunks)
			if doc.HasHeader() {
				total++
			}
			fmt.Fprintf(os.Stderr, "\n%sCheckpoint%s\n", colorBlue, colorReset)
			fmt.Fprintln(os.Stderr, strings.Repeat("─", 60))
			fmt.Fprintf(os.Stderr, "  File:       %s\n", cpPath)
			fmt.Fprintf(os.Stderr, "  Completed:  %d/%d sections\n", cp.Len(), total)
		}
	}

	fmt.Fprintln(os.Stderr)
	return nil
}

// defaultOutputPath derives "<input>_<lang>.txt" from the input path.
func defaultOutputPath(input, targetLang string) string {
	ext := filepath.Ext(input)
	lang := strings.ToLower(targetLang)
	if lang == "" {
		lang = "translated"
	}
	return strings.TrimSuffix(input, ext) + "_" + lang + ext
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// ---------------------------------------------------------------------------
// convert (Excel manuscript → text format)
// ---------------------------------------------------------------------------

func newConvertCmd() *cobra.Command {
	var opts excelfile.Options

	cmd := &cobra.Command{
		Use:   "convert <input.xlsx> <output.txt>",
		Short: "Convert an Excel manuscript to the text format",
		Long: `Convert an Excel manuscript transcription to the paginated text format.

Reads the passage text and page-number columns row by row, grouping
consecutive rows of the same page, and writes the text format with the
document header, Page N markers and page separators.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConvert(args[0], args[1], opts)
		},
	}

	cmd.Flags().StringVar(&opts.Sheet, "sheet", "", "Worksheet name (default: first sheet)")
	cmd.Flags().IntVar(&opts.TextColumn, "text-col", excelfile.DefaultTextColumn, "1-based column holding the passage text")
	cmd.Flags().IntVar(&opts.PageColumn, "page-col", excelfile.DefaultPageColumn, "1-based column holding the page number")
	cmd.Flags().StringVar(&opts.Title, "title", "", "Document title (default: input file name)")

	return cmd
}

func runConvert(input, output string, opts excelfile.Options) error {
	doc, err := excelfile.ConvertFile(input, output, opts)
	if err != nil {
		return err
	}

	pages, paragraphs, words := doc.Stats()
	logSuccess("Converted %s → %s (%d pages, %d paragraphs, %d words)",
		input, output, pages, paragraphs, words)
	return nil
}

// ---------------------------------------------------------------------------
// merge (bilingual study file)
// ---------------------------------------------------------------------------

func newMergeCmd() *cobra.Command {
	var title, sourceLabel, targetLabel string

	cmd := &cobra.Command{
		Use:   "merge <source.txt> <translated.txt> <output.txt>",
		Short: "Build a bilingual study file from source + translation",
		Long: `Interleave a source manuscript with its translation.

Pages are aligned by page number and each source paragraph is followed
by its translation, labeled with the language markers.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := merge.Options{
				Title:       title,
				SourceLabel: sourceLabel,
				TargetLabel: targetLabel,
			}
			if err := merge.MergeFiles(args[0], args[1], args[2], opts); err != nil {
				return err
			}
			logSuccess("Merged %s + %s → %s", args[0], args[1], args[2])
			return nil
		},
	}

	cmd.Flags().StringVar(&title, "title", "", `Merged document heading (default "Arabic-English Translation")`)
	cmd.Flags().StringVar(&sourceLabel, "source-label", "", `Source paragraph marker (default "[Arabic]")`)
	cmd.Flags().StringVar(&targetLabel, "target-label", "", `Translation paragraph marker (default "[English]")`)

	return cmd
}

// ---------------------------------------------------------------------------
// translate (the core pipeline)
// ---------------------------------------------------------------------------

type translateFlags struct {
	provider      string
	model         string
	apiKey        string
	baseURL       string
	sourceLang    string
	targetLang    string
	prompt        string
	maxTokens     int
	requestDelay  time.Duration
	maxRetries    int
	timeout       time.Duration
	parallel      bool
	maxConcurrent int
	noResume      bool
	dryRun        bool
	verbose       bool
}

func newTranslateCmd() *cobra.Command {
	var f translateFlags

	cmd := &cobra.Command{
		Use:   "translate <input.txt> [output.txt]",
		Short: "Translate a manuscript file",
		Long: `Translate a manuscript file chunk by chunk.

The manuscript is split into token-bounded chunks along page and
paragraph boundaries, each chunk is sent to the configured AI provider
with the translation prompt, and the translated chunks are reassembled
in order. Completed chunks are checkpointed next to the output file, so
an interrupted run picks up where it stopped.

When no output path is given, the translation is written next to the
input as <input>_<target-lang>.txt.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			input := args[0]
			output := ""
			if len(args) == 2 {
				output = args[1]
			}
			return runTranslate(input, output, f)
		},
	}

	cmd.Flags().StringVar(&f.provider, "provider", "", "AI provider (openai, google, groq, ollama, custom-openai)")
	cmd.Flags().StringVar(&f.model, "model", "", "Model identifier")
	cmd.Flags().StringVar(&f.apiKey, "api-key", "", "API key (overrides config and environment)")
	cmd.Flags().StringVar(&f.baseURL, "base-url", "", "API base URL override")
	cmd.Flags().StringVar(&f.sourceLang, "source-lang", "", `Source language name (default "Arabic")`)
	cmd.Flags().StringVar(&f.targetLang, "target-lang", "", `Target language name (default "English")`)
	cmd.Flags().StringVar(&f.prompt, "prompt", "", "Custom system prompt ({{sourceLang}}/{{targetLang}} placeholders)")
	cmd.Flags().IntVar(&f.maxTokens, "max-tokens", 0, "Chunk token budget (default from config)")
	cmd.Flags().DurationVar(&f.requestDelay, "request-delay", 0, "Delay between API calls (default from config)")
	cmd.Flags().IntVar(&f.maxRetries, "max-retries", 0, "Retries per chunk (default 3)")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "Per-request timeout")
	cmd.Flags().BoolVar(&f.parallel, "parallel", false, "Submit chunks concurrently")
	cmd.Flags().IntVar(&f.maxConcurrent, "max-concurrent", 0, "Concurrency bound for --parallel (default 3)")
	cmd.Flags().BoolVar(&f.noResume, "no-resume", false, "Ignore an existing checkpoint and retranslate everything")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "Chunk the manuscript and report, without calling the API")
	cmd.Flags().BoolVar(&f.verbose, "verbose", false, "Detailed progress logging")

	return cmd
}

func runTranslate(input, output string, f translateFlags) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Flags > environment > config file > defaults.
	providerID := firstNonEmpty(f.provider, cfg.Provider.Name)
	prov := translate.LookupProvider(providerID)
	if f.model != "" {
		prov.Model = f.model
	} else if cfg.Provider.Model != "" {
		prov.Model = cfg.Provider.Model
	}
	if f.apiKey != "" {
		prov.APIKey = f.apiKey
	} else if cfg.Provider.APIKey != "" {
		prov.APIKey = cfg.Provider.APIKey
	}
	if f.baseURL != "" {
		prov.BaseURL = f.baseURL
	} else if cfg.Provider.BaseURL != "" {
		prov.BaseURL = cfg.Provider.BaseURL
	}

	if prov.Model == "" {
		return fmt.Errorf("no model configured: set --model, KITAB_MODEL or the config file")
	}
	if prov.APIKey == "" && prov.ID != translate.ProviderOllama && prov.ID != translate.ProviderCustomOpenAI {
		return fmt.Errorf("no API key for %s: set --api-key, KITAB_API_KEY or the config file", prov.Name)
	}

	sourceLang := firstNonEmpty(f.sourceLang, cfg.Translation.SourceLang)
	targetLang := firstNonEmpty(f.targetLang, cfg.Translation.TargetLang)

	if output == "" {
		output = defaultOutputPath(input, targetLang)
	}

	maxTokens := f.maxTokens
	if maxTokens == 0 {
		maxTokens = cfg.MaxTokens()
	}
	requestDelay := f.requestDelay
	if requestDelay == 0 {
		requestDelay = cfg.RequestDelay()
	}
	maxRetries := f.maxRetries
	if maxRetries == 0 {
		maxRetries = cfg.Translation.MaxRetries
	}
	parallel := f.parallel || cfg.Translation.Parallel
	maxConcurrent := f.maxConcurrent
	if maxConcurrent == 0 {
		maxConcurrent = cfg.Translation.MaxConcurrent
	}

	// --- Read and chunk the manuscript ---
	doc, err := bookfile.ParseFile(input)
	if err != nil {
		return err
	}

	counter, exact := chunker.CounterForModel(prov.Model)
	if !exact {
		logWarning("No tokenizer for model %q, using a heuristic token estimate", prov.Model)
	}
	chunks := chunker.Split(doc, maxTokens, counter)

	pages, paragraphs, words := doc.Stats()
	logInfo("Manuscript: %d pages, %d paragraphs, %d words", pages, paragraphs, words)
	logInfo("Chunks: %d (budget %d tokens), provider %s, model %s",
		len(chunks), maxTokens, prov.Name, prov.Model)

	total := len(chunks)
	if doc.HasHeader() {
		total++
	}

	if f.dryRun {
		for i, c := range chunks {
			label := ""
			if c.Page != 0 {
				label = fmt.Sprintf(" (page %d)", c.Page)
			}
			logInfo("  chunk %d/%d: %d tokens%s", i+1, len(chunks), c.Tokens, label)
		}
		logSuccess("Dry run: %d sections would be translated to %s", total, output)
		return nil
	}

	if total == 0 {
		logWarning("Manuscript is empty, nothing to translate")
		return os.WriteFile(output, nil, 0644)
	}

	// --- Checkpoint ---
	var cp *checkpoint.File
	cpPath := checkpoint.PathFor(output)
	if f.noResume {
		if fileExists(cpPath) {
			logWarning("Ignoring existing checkpoint %s (--no-resume)", cpPath)
			if err := os.Remove(cpPath); err != nil {
				return fmt.Errorf("removing checkpoint: %w", err)
			}
		}
	}
	cp, err = checkpoint.Load(cpPath, prov.Model)
	if err != nil {
		return err
	}

	// --- Translate ---
	// Setup signal handling for graceful cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		logWarning("Interrupted, saving progress...")
		cancel()
	}()

	bar := progressbar.NewOptions(total,
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription(fmt.Sprintf("[cyan]%s[reset]", filepath.Base(input))),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}))

	opts := translate.Options{
		Provider:      prov,
		SourceLang:    sourceLang,
		TargetLang:    targetLang,
		SystemPrompt:  firstNonEmpty(f.prompt, cfg.Translation.SystemPrompt),
		RequestDelay:  requestDelay,
		MaxRetries:    maxRetries,
		Timeout:       f.timeout,
		Parallel:      parallel,
		MaxConcurrent: maxConcurrent,
		Verbose:       f.verbose,
		OnProgress: func(done, total int) {
			_ = bar.Set(done)
		},
		OnLog:   logInfo,
		OnError: logWarning,
	}

	start := time.Now()
	result, err := translate.New(opts).TranslateDocument(ctx, doc, chunks, cp)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		logWarning("Progress saved to %s, re-run to resume", cpPath)
		return err
	}

	if err := os.WriteFile(output, []byte(result), 0644); err != nil {
		return fmt.Errorf("writing %s: %w", output, err)
	}

	// The run completed, the checkpoint has served its purpose.
	if err := cp.Remove(); err != nil {
		logWarning("%v", err)
	}

	logSuccess("Translated %d sections in %s → %s", total, time.Since(start).Round(time.Second), output)
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
