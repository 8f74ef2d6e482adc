// Package translate implements AI-powered translation of manuscript
// chunks through HTTP API-based providers: OpenAI, Groq, Ollama and
// custom OpenAI-compatible endpoints via the official OpenAI SDK, plus
// Google AI (Gemini) through its native generateContent API.
package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// ---------------------------------------------------------------------------
// Provider IDs
// ---------------------------------------------------------------------------

const (
	ProviderOpenAI       = "openai"
	ProviderGoogle       = "google"
	ProviderGroq         = "groq"
	ProviderOllama       = "ollama"
	ProviderCustomOpenAI = "custom-openai"
)

// ---------------------------------------------------------------------------
// Provider configuration
// ---------------------------------------------------------------------------

// Provider holds the configuration for an AI translation service.
type Provider struct {
	// ID is the provider identifier (openai, google, groq, ...).
	ID string
	// Name is the display name.
	Name string
	// BaseURL is the API base URL.
	BaseURL string
	// APIKey is the authentication key (empty for local services).
	APIKey string
	// Model is the model identifier.
	Model string
	// Timeout is the request timeout.
	Timeout time.Duration
}

// DefaultProviders returns the pre-configured provider definitions.
func DefaultProviders() map[string]Provider {
	return map[string]Provider{
		ProviderOpenAI: {
			ID:      ProviderOpenAI,
			Name:    "OpenAI",
			BaseURL: "https://api.openai.com/v1",
			Timeout: 120 * time.Second,
		},
		ProviderGoogle: {
			ID:      ProviderGoogle,
			Name:    "Google AI (Gemini)",
			BaseURL: "https://generativelanguage.googleapis.com",
			Timeout: 120 * time.Second,
		},
		ProviderGroq: {
			ID:      ProviderGroq,
			Name:    "Groq",
			BaseURL: "https://api.groq.com/openai/v1",
			Timeout: 60 * time.Second,
		},
		ProviderOllama: {
			ID:      ProviderOllama,
			Name:    "Ollama",
			BaseURL: "http://localhost:11434/v1",
			Timeout: 120 * time.Second,
		},
		ProviderCustomOpenAI: {
			ID:      ProviderCustomOpenAI,
			Name:    "Custom OpenAI",
			Timeout: 60 * time.Second,
		},
	}
}

// LookupProvider returns the default definition for a provider ID.
// Unknown IDs fall back to a custom OpenAI-compatible provider.
func LookupProvider(id string) Provider {
	if p, ok := DefaultProviders()[id]; ok {
		return p
	}
	p := DefaultProviders()[ProviderCustomOpenAI]
	p.ID = id
	p.Name = id
	return p
}

// ---------------------------------------------------------------------------
// Default system prompt
// ---------------------------------------------------------------------------

// DefaultSystemPrompt is the system prompt used when the user supplies
// none. {{sourceLang}} and {{targetLang}} are replaced with the
// configured language names.
const DefaultSystemPrompt = `You are a professional translator specializing in {{sourceLang}} to {{targetLang}} translation of classical texts and books.
Translate the following {{sourceLang}} text to {{targetLang}}, maintaining the original meaning and style.
If the text contains a page number marker (e.g. "Page 12"), preserve it unchanged at the same position in the translation.
Focus on accuracy and clarity. Return ONLY the translation, no explanations or commentary.`

// ---------------------------------------------------------------------------
// Translation options
// ---------------------------------------------------------------------------

// Options controls the translation behavior.
type Options struct {
	// Provider is the AI provider configuration.
	Provider Provider
	// SourceLang is the human-readable source language name (e.g. "Arabic").
	SourceLang string
	// TargetLang is the human-readable target language name (e.g. "English").
	TargetLang string
	// SystemPrompt overrides the default system prompt
	// ({{sourceLang}}/{{targetLang}} placeholders are supported).
	SystemPrompt string
	// RequestDelay is the pause between consecutive API calls, keeping
	// the run under provider quota.
	RequestDelay time.Duration
	// MaxRetries is the maximum number of retries per chunk. Default: 3.
	MaxRetries int
	// Timeout is the per-request timeout (overrides provider timeout if set).
	Timeout time.Duration
	// Parallel submits chunks concurrently instead of sequentially.
	Parallel bool
	// MaxConcurrent is the concurrency bound for parallel mode. Default: 3.
	MaxConcurrent int
	// OnProgress is called after each section completes (or resumes
	// from the checkpoint).
	OnProgress func(done, total int)
	// OnLog emits log messages during translation.
	OnLog func(format string, args ...any)
	// OnError emits error messages during translation.
	OnError func(format string, args ...any)
	// Verbose enables detailed logging.
	Verbose bool
}

func (o *Options) log(format string, args ...any) {
	if o.OnLog != nil {
		o.OnLog(format, args...)
	}
}

func (o *Options) logError(format string, args ...any) {
	if o.OnError != nil {
		o.OnError(format, args...)
	} else if o.OnLog != nil {
		o.OnLog(format, args...)
	}
}

func (o *Options) effectiveTimeout() time.Duration {
	if o.Timeout > 0 {
		return o.Timeout
	}
	if o.Provider.Timeout > 0 {
		return o.Provider.Timeout
	}
	return 120 * time.Second
}

func (o *Options) effectiveMaxRetries() int {
	if o.MaxRetries > 0 {
		return o.MaxRetries
	}
	return 3
}

func (o *Options) effectiveMaxConcurrent() int {
	if o.MaxConcurrent > 0 {
		return o.MaxConcurrent
	}
	return 3
}

func (o *Options) sourceLangName() string {
	if o.SourceLang != "" {
		return o.SourceLang
	}
	return "Arabic"
}

func (o *Options) targetLangName() string {
	if o.TargetLang != "" {
		return o.TargetLang
	}
	return "English"
}

// resolvedPrompt returns the system prompt with language placeholders
// replaced.
func (o *Options) resolvedPrompt() string {
	prompt := o.SystemPrompt
	if prompt == "" {
		prompt = DefaultSystemPrompt
	}
	prompt = strings.ReplaceAll(prompt, "{{sourceLang}}", o.sourceLangName())
	return strings.ReplaceAll(prompt, "{{targetLang}}", o.targetLangName())
}

// ---------------------------------------------------------------------------
// Rate limit state (global pause for parallel workers)
// ---------------------------------------------------------------------------

type rateLimitState struct {
	mu       sync.Mutex
	paused   int32 // atomic: 1 = paused
	pauseEnd time.Time
}

func (r *rateLimitState) isPaused() bool {
	return atomic.LoadInt32(&r.paused) == 1
}

func (r *rateLimitState) pause(duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pauseEnd = time.Now().Add(duration)
	atomic.StoreInt32(&r.paused, 1)
}

func (r *rateLimitState) unpause() {
	atomic.StoreInt32(&r.paused, 0)
}

// waitIfPaused blocks until the rate limit pause is over.
func (r *rateLimitState) waitIfPaused(ctx context.Context) error {
	for r.isPaused() {
		r.mu.Lock()
		remaining := time.Until(r.pauseEnd)
		r.mu.Unlock()
		if remaining <= 0 {
			r.unpause()
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(min(remaining, 100*time.Millisecond)):
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Rate limit: parse 429 response for retry delay
// ---------------------------------------------------------------------------

// parseRetryDelay extracts the retry delay from a 429 response body.
// Looks for Google's RetryInfo detail with retryDelay field.
// Returns the delay to wait, defaulting to 60s + 5s buffer.
func parseRetryDelay(body []byte) time.Duration {
	const defaultDelay = 65 * time.Second // 60s + 5s buffer

	var errResp struct {
		Error struct {
			Details []struct {
				Type       string `json:"@type"`
				RetryDelay string `json:"retryDelay"`
			} `json:"details"`
		} `json:"error"`
	}

	if err := json.Unmarshal(body, &errResp); err != nil {
		return defaultDelay
	}

	for _, detail := range errResp.Error.Details {
		if strings.Contains(detail.Type, "RetryInfo") && detail.RetryDelay != "" {
			// Parse duration like "30s", "45.123s"
			d := strings.TrimSuffix(detail.RetryDelay, "s")
			if secs, err := strconv.ParseFloat(d, 64); err == nil {
				return time.Duration(secs*1000)*time.Millisecond + 5*time.Second
			}
		}
	}

	return defaultDelay
}

// ---------------------------------------------------------------------------
// Reply cleanup
// ---------------------------------------------------------------------------

var markdownCodeBlock = regexp.MustCompile("(?s)^```(?:[a-zA-Z]*)\\s*(.*?)\\s*```$")

// cleanReply trims the model reply and strips a wrapping markdown code
// fence if the model added one despite instructions.
func cleanReply(content string) string {
	content = strings.TrimSpace(content)
	if m := markdownCodeBlock.FindStringSubmatch(content); len(m) > 1 {
		content = strings.TrimSpace(m[1])
	}
	return content
}

// truncate shortens a string for error messages.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// ---------------------------------------------------------------------------
// Translator
// ---------------------------------------------------------------------------

// Translator translates texts through a single provider, reusing one
// underlying client and sharing rate-limit state across calls.
type Translator struct {
	opts   Options
	prompt string
	rl     *rateLimitState
	client openai.Client
	http   *http.Client
}

// New creates a Translator for the given options.
func New(opts Options) *Translator {
	t := &Translator{
		opts:   opts,
		prompt: opts.resolvedPrompt(),
		rl:     &rateLimitState{},
		http:   &http.Client{Timeout: opts.effectiveTimeout()},
	}

	if opts.Provider.ID != ProviderGoogle {
		clientOpts := []option.RequestOption{
			option.WithAPIKey(opts.Provider.APIKey),
			option.WithRequestTimeout(opts.effectiveTimeout()),
			// Retries are handled here, with rate-limit coordination.
			option.WithMaxRetries(0),
		}
		if opts.Provider.BaseURL != "" {
			clientOpts = append(clientOpts, option.WithBaseURL(opts.Provider.BaseURL))
		}
		t.client = openai.NewClient(clientOpts...)
	}

	return t
}

// TranslateText sends one text to the provider and returns the cleaned
// translation, retrying with backoff on transient failures.
func (t *Translator) TranslateText(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}

	switch t.opts.Provider.ID {
	case ProviderGoogle:
		return t.callGemini(ctx, text)
	default:
		return t.callOpenAI(ctx, text)
	}
}

// ---------------------------------------------------------------------------
// OpenAI-compatible providers (OpenAI, Groq, Ollama, custom)
// ---------------------------------------------------------------------------

func (t *Translator) callOpenAI(ctx context.Context, text string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(t.prompt),
			openai.UserMessage(t.userPrompt(text)),
		},
		Model:       t.opts.Provider.Model,
		Temperature: openai.Float(0.3),
	}

	maxRetries := t.opts.effectiveMaxRetries()
	prov := t.opts.Provider

	for attempt := 0; attempt <= maxRetries; attempt++ {
		// Wait if globally paused (rate limit from another worker)
		if err := t.rl.waitIfPaused(ctx); err != nil {
			return "", err
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		if t.opts.Verbose {
			log.Printf("[DEBUG] %s attempt %d: model %s", prov.Name, attempt+1, prov.Model)
		}

		resp, err := t.client.Chat.Completions.New(ctx, params)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}

			var apierr *openai.Error
			if errors.As(err, &apierr) {
				switch {
				case apierr.StatusCode == http.StatusTooManyRequests:
					retryDelay := parseRetryDelay([]byte(apierr.RawJSON()))
					if t.opts.Verbose {
						log.Printf("[WARN] %s 429 rate limited, waiting %v (attempt %d/%d)", prov.Name, retryDelay, attempt+1, maxRetries)
					}
					t.rl.pause(retryDelay)
					if attempt < maxRetries {
						if err := sleepCtx(ctx, retryDelay); err != nil {
							return "", err
						}
						t.rl.unpause()
						continue
					}
					return "", fmt.Errorf("rate limited after %d retries: %w", maxRetries, err)

				case apierr.StatusCode >= 500 && attempt < maxRetries:
					if err := sleepCtx(ctx, backoff(attempt)); err != nil {
						return "", err
					}
					continue

				default:
					return "", fmt.Errorf("%s API returned status %d: %w", prov.Name, apierr.StatusCode, err)
				}
			}

			// Transport-level failure
			if attempt < maxRetries {
				if err := sleepCtx(ctx, backoff(attempt)); err != nil {
					return "", err
				}
				continue
			}
			return "", fmt.Errorf("API request failed: %w", err)
		}

		if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
			return "", fmt.Errorf("%s returned an empty translation", prov.Name)
		}
		return cleanReply(resp.Choices[0].Message.Content), nil
	}

	return "", fmt.Errorf("exhausted all %d retries", maxRetries)
}

// userPrompt wraps the chunk text in the translation instruction.
func (t *Translator) userPrompt(text string) string {
	return fmt.Sprintf("Translate this text from %s to %s:\n\n%s",
		t.opts.sourceLangName(), t.opts.targetLangName(), text)
}

// backoff returns the exponential backoff delay for a retry attempt.
func backoff(attempt int) time.Duration {
	return time.Duration(math.Pow(2, float64(attempt))) * time.Second
}

// sleepCtx waits for d or until the context is canceled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// ---------------------------------------------------------------------------
// Google AI (Gemini) provider — native generateContent API
// ---------------------------------------------------------------------------

func buildGeminiRequest(systemPrompt, userPrompt string, temperature float64) ([]byte, error) {
	type part struct {
		Text string `json:"text"`
	}
	type content struct {
		Role  string `json:"role,omitempty"`
		Parts []part `json:"parts"`
	}
	type genConfig struct {
		Temperature float64 `json:"temperature"`
	}
	req := struct {
		Contents          []content `json:"contents"`
		GenerationConfig  genConfig `json:"generationConfig"`
		SystemInstruction *content  `json:"systemInstruction,omitempty"`
	}{
		Contents: []content{
			{Role: "user", Parts: []part{{Text: userPrompt}}},
		},
		GenerationConfig: genConfig{Temperature: temperature},
	}
	if systemPrompt != "" {
		req.SystemInstruction = &content{Parts: []part{{Text: systemPrompt}}}
	}
	return json.Marshal(req)
}

// extractGeminiText pulls the reply text out of a generateContent
// response: candidates[0].content.parts[0].text.
func extractGeminiText(body []byte) (string, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return "", fmt.Errorf("invalid JSON response: %w", err)
	}

	if errObj, ok := raw["error"]; ok {
		if errMap, ok := errObj.(map[string]any); ok {
			if msg, ok := errMap["message"].(string); ok {
				return "", fmt.Errorf("API error: %s", msg)
			}
		}
		return "", fmt.Errorf("API error: %v", errObj)
	}

	if candidates, ok := raw["candidates"].([]any); ok && len(candidates) > 0 {
		if candidate, ok := candidates[0].(map[string]any); ok {
			if content, ok := candidate["content"].(map[string]any); ok {
				if parts, ok := content["parts"].([]any); ok && len(parts) > 0 {
					if part, ok := parts[0].(map[string]any); ok {
						if text, ok := part["text"].(string); ok {
							return text, nil
						}
					}
				}
			}
		}
	}

	return "", fmt.Errorf("could not extract text from response: %s", truncate(string(body), 500))
}

func (t *Translator) callGemini(ctx context.Context, text string) (string, error) {
	prov := t.opts.Provider
	maxRetries := t.opts.effectiveMaxRetries()

	body, err := buildGeminiRequest(t.prompt, t.userPrompt(text), 0.3)
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent",
		strings.TrimRight(prov.BaseURL, "/"), prov.Model)

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := t.rl.waitIfPaused(ctx); err != nil {
			return "", err
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(body))
		if err != nil {
			return "", fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if prov.APIKey != "" {
			req.Header.Set("x-goog-api-key", prov.APIKey)
		}

		if t.opts.Verbose {
			log.Printf("[DEBUG] %s attempt %d: POST %s", prov.Name, attempt+1, endpoint)
		}

		resp, err := t.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			if attempt < maxRetries {
				if err := sleepCtx(ctx, backoff(attempt)); err != nil {
					return "", err
				}
				continue
			}
			return "", fmt.Errorf("API request failed: %w", err)
		}

		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			retryDelay := parseRetryDelay(respBody)
			if t.opts.Verbose {
				log.Printf("[WARN] %s 429 rate limited, waiting %v (attempt %d/%d)", prov.Name, retryDelay, attempt+1, maxRetries)
			}
			t.rl.pause(retryDelay)
			if attempt < maxRetries {
				if err := sleepCtx(ctx, retryDelay); err != nil {
					return "", err
				}
				t.rl.unpause()
				continue
			}
			return "", fmt.Errorf("rate limited after %d retries: %s", maxRetries, truncate(string(respBody), 300))
		}

		if resp.StatusCode != http.StatusOK {
			if attempt < maxRetries && resp.StatusCode >= 500 {
				if err := sleepCtx(ctx, backoff(attempt)); err != nil {
					return "", err
				}
				continue
			}
			return "", fmt.Errorf("%s API returned status %d: %s", prov.Name, resp.StatusCode, truncate(string(respBody), 500))
		}

		reply, err := extractGeminiText(respBody)
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(reply) == "" {
			return "", fmt.Errorf("%s returned an empty translation", prov.Name)
		}
		return cleanReply(reply), nil
	}

	return "", fmt.Errorf("exhausted all %d retries", maxRetries)
}
