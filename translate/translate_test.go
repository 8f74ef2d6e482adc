// Package translate tests. Network behavior is tested against local
// httptest servers; no real provider is contacted.
package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// Options
// ---------------------------------------------------------------------------

func TestOptions_Defaults(t *testing.T) {
	o := Options{}
	if got := o.effectiveMaxRetries(); got != 3 {
		t.Errorf("effectiveMaxRetries() = %d, want 3", got)
	}
	if got := o.effectiveMaxConcurrent(); got != 3 {
		t.Errorf("effectiveMaxConcurrent() = %d, want 3", got)
	}
	if got := o.effectiveTimeout(); got != 120*time.Second {
		t.Errorf("effectiveTimeout() = %v, want 120s", got)
	}
	if o.sourceLangName() != "Arabic" || o.targetLangName() != "English" {
		t.Errorf("default languages = %q → %q, want Arabic → English",
			o.sourceLangName(), o.targetLangName())
	}
}

func TestOptions_ProviderTimeoutUsed(t *testing.T) {
	o := Options{Provider: Provider{Timeout: 7 * time.Second}}
	if got := o.effectiveTimeout(); got != 7*time.Second {
		t.Errorf("effectiveTimeout() = %v, want provider timeout", got)
	}
	o.Timeout = 3 * time.Second
	if got := o.effectiveTimeout(); got != 3*time.Second {
		t.Errorf("explicit timeout should win, got %v", got)
	}
}

func TestResolvedPrompt_Placeholders(t *testing.T) {
	o := Options{SourceLang: "Arabic", TargetLang: "French"}
	p := o.resolvedPrompt()
	if strings.Contains(p, "{{sourceLang}}") || strings.Contains(p, "{{targetLang}}") {
		t.Errorf("placeholders not replaced: %q", p)
	}
	if !strings.Contains(p, "Arabic") || !strings.Contains(p, "French") {
		t.Errorf("languages missing from prompt: %q", p)
	}
}

func TestResolvedPrompt_CustomPrompt(t *testing.T) {
	o := Options{SystemPrompt: "Translate to {{targetLang}} only.", TargetLang: "English"}
	if got := o.resolvedPrompt(); got != "Translate to English only." {
		t.Errorf("resolvedPrompt() = %q", got)
	}
}

// ---------------------------------------------------------------------------
// Providers
// ---------------------------------------------------------------------------

func TestLookupProvider_Known(t *testing.T) {
	p := LookupProvider(ProviderGroq)
	if p.ID != ProviderGroq || p.BaseURL == "" {
		t.Errorf("LookupProvider(groq) = %+v", p)
	}
}

func TestLookupProvider_UnknownFallsBack(t *testing.T) {
	p := LookupProvider("something-else")
	if p.ID != "something-else" {
		t.Errorf("unknown provider should keep its ID, got %q", p.ID)
	}
	if p.BaseURL != "" {
		t.Errorf("unknown provider should have no base URL, got %q", p.BaseURL)
	}
}

// ---------------------------------------------------------------------------
// parseRetryDelay
// ---------------------------------------------------------------------------

func TestParseRetryDelay_RetryInfo(t *testing.T) {
	body := []byte(`{"error":{"details":[{"@type":"type.googleapis.com/google.rpc.RetryInfo","retryDelay":"30s"}]}}`)
	if got := parseRetryDelay(body); got != 35*time.Second {
		t.Errorf("parseRetryDelay = %v, want 35s (30s + 5s buffer)", got)
	}
}

func TestParseRetryDelay_Default(t *testing.T) {
	if got := parseRetryDelay([]byte(`not json`)); got != 65*time.Second {
		t.Errorf("parseRetryDelay = %v, want 65s default", got)
	}
	if got := parseRetryDelay([]byte(`{"error":{}}`)); got != 65*time.Second {
		t.Errorf("parseRetryDelay = %v, want 65s default", got)
	}
}

// ---------------------------------------------------------------------------
// cleanReply
// ---------------------------------------------------------------------------

func TestCleanReply(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"  Hello world  \n", "Hello world"},
		{"```\nHello world\n```", "Hello world"},
		{"```text\nHello world\n```", "Hello world"},
		{"plain text, no fence", "plain text, no fence"},
	}
	for _, tc := range tests {
		if got := cleanReply(tc.in); got != tc.want {
			t.Errorf("cleanReply(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

// ---------------------------------------------------------------------------
// extractGeminiText
// ---------------------------------------------------------------------------

func TestExtractGeminiText_Candidate(t *testing.T) {
	body := []byte(`{"candidates":[{"content":{"parts":[{"text":"Translated."}]}}]}`)
	got, err := extractGeminiText(body)
	if err != nil {
		t.Fatalf("extractGeminiText: %v", err)
	}
	if got != "Translated." {
		t.Errorf("got %q", got)
	}
}

func TestExtractGeminiText_APIError(t *testing.T) {
	body := []byte(`{"error":{"message":"quota exceeded"}}`)
	_, err := extractGeminiText(body)
	if err == nil || !strings.Contains(err.Error(), "quota exceeded") {
		t.Errorf("expected API error, got %v", err)
	}
}

func TestExtractGeminiText_Garbage(t *testing.T) {
	if _, err := extractGeminiText([]byte(`{"unexpected":true}`)); err == nil {
		t.Error("expected extraction error")
	}
}

// ---------------------------------------------------------------------------
// TranslateText — OpenAI-compatible path
// ---------------------------------------------------------------------------

// chatCompletionReply builds a minimal chat-completions response body.
func chatCompletionReply(content string) string {
	resp := map[string]any{
		"id":     "chatcmpl-test",
		"object": "chat.completion",
		"model":  "test-model",
		"choices": []map[string]any{
			{"index": 0, "message": map[string]any{"role": "assistant", "content": content}},
		},
	}
	data, _ := json.Marshal(resp)
	return string(data)
}

// userContent extracts the user message content from a chat request body.
func userContent(t *testing.T, r *http.Request) string {
	t.Helper()
	var req struct {
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		t.Fatalf("decoding request: %v", err)
	}
	for _, m := range req.Messages {
		if m.Role == "user" {
			return m.Content
		}
	}
	return ""
}

func testOptions(srvURL, providerID string) Options {
	prov := LookupProvider(providerID)
	prov.BaseURL = srvURL
	prov.Model = "test-model"
	prov.APIKey = "test-key"
	return Options{Provider: prov, MaxRetries: 1}
}

func TestTranslateText_OpenAI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := userContent(t, r); !strings.Contains(got, "النص") {
			t.Errorf("user message should carry the source text, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, chatCompletionReply("The text."))
	}))
	defer srv.Close()

	tr := New(testOptions(srv.URL, ProviderCustomOpenAI))
	got, err := tr.TranslateText(context.Background(), "النص")
	if err != nil {
		t.Fatalf("TranslateText: %v", err)
	}
	if got != "The text." {
		t.Errorf("got %q", got)
	}
}

func TestTranslateText_EmptyInputSkipsAPI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("empty input must not reach the API")
	}))
	defer srv.Close()

	tr := New(testOptions(srv.URL, ProviderCustomOpenAI))
	got, err := tr.TranslateText(context.Background(), "   \n")
	if err != nil || got != "" {
		t.Errorf("TranslateText(blank) = %q, %v, want empty, nil", got, err)
	}
}

func TestTranslateText_ClientErrorFailsFast(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, `{"error":{"message":"bad request"}}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	tr := New(testOptions(srv.URL, ProviderCustomOpenAI))
	_, err := tr.TranslateText(context.Background(), "text")
	if err == nil {
		t.Fatal("expected error on 400")
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("4xx should not be retried, got %d calls", n)
	}
}

func TestTranslateText_ServerErrorRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, `{"error":{"message":"boom"}}`, http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, chatCompletionReply("Recovered."))
	}))
	defer srv.Close()

	tr := New(testOptions(srv.URL, ProviderCustomOpenAI))
	got, err := tr.TranslateText(context.Background(), "text")
	if err != nil {
		t.Fatalf("TranslateText after retry: %v", err)
	}
	if got != "Recovered." {
		t.Errorf("got %q", got)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Errorf("expected 2 calls (1 failure + 1 retry), got %d", n)
	}
}

func TestTranslateText_EmptyReplyIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, chatCompletionReply(""))
	}))
	defer srv.Close()

	tr := New(testOptions(srv.URL, ProviderCustomOpenAI))
	if _, err := tr.TranslateText(context.Background(), "text"); err == nil {
		t.Fatal("expected error for empty translation")
	}
}

func TestTranslateText_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, chatCompletionReply("late"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tr := New(testOptions(srv.URL, ProviderCustomOpenAI))
	if _, err := tr.TranslateText(ctx, "text"); err == nil {
		t.Fatal("expected context error")
	}
}

// ---------------------------------------------------------------------------
// TranslateText — Gemini path
// ---------------------------------------------------------------------------

func TestTranslateText_Gemini(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, ":generateContent") {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if r.Header.Get("x-goog-api-key") != "test-key" {
			t.Errorf("missing API key header")
		}
		fmt.Fprint(w, `{"candidates":[{"content":{"parts":[{"text":"Gemini says hi."}]}}]}`)
	}))
	defer srv.Close()

	tr := New(testOptions(srv.URL, ProviderGoogle))
	got, err := tr.TranslateText(context.Background(), "مرحبا")
	if err != nil {
		t.Fatalf("TranslateText: %v", err)
	}
	if got != "Gemini says hi." {
		t.Errorf("got %q", got)
	}
}

func TestTranslateText_GeminiServerErrorRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"candidates":[{"content":{"parts":[{"text":"ok"}]}}]}`)
	}))
	defer srv.Close()

	tr := New(testOptions(srv.URL, ProviderGoogle))
	got, err := tr.TranslateText(context.Background(), "text")
	if err != nil {
		t.Fatalf("TranslateText after retry: %v", err)
	}
	if got != "ok" || atomic.LoadInt32(&calls) != 2 {
		t.Errorf("got %q after %d calls", got, atomic.LoadInt32(&calls))
	}
}
