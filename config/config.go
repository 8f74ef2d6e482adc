// Package config loads the application configuration: a TOML file in
// the user config directory, overlaid with environment variables. A
// .env file in the working directory is honored so API keys can live
// next to the manuscript instead of the shell profile.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
)

const (
	configFileName = "config.toml"
	appDirName     = "kitab"
)

// Defaults.
const (
	DefaultProvider     = "openai"
	DefaultModel        = "gpt-4o-mini"
	DefaultSourceLang   = "Arabic"
	DefaultTargetLang   = "English"
	DefaultRequestDelay = "2s"
	DefaultMaxTokens    = 2000
	DefaultMaxRetries   = 3
)

// ProviderConfig holds the AI provider settings.
type ProviderConfig struct {
	// Name is the provider ID (openai, google, groq, ollama, custom-openai).
	Name string `toml:"name"`
	// Model is the model identifier.
	Model string `toml:"model"`
	// APIKey authenticates requests. Prefer the environment over the
	// config file for this one.
	APIKey string `toml:"api_key"`
	// BaseURL overrides the provider's default endpoint.
	BaseURL string `toml:"base_url"`
}

// TranslationConfig holds the translation run settings.
type TranslationConfig struct {
	// SourceLang and TargetLang are human-readable language names.
	SourceLang string `toml:"source_lang"`
	TargetLang string `toml:"target_lang"`
	// SystemPrompt overrides the built-in translation prompt.
	SystemPrompt string `toml:"system_prompt"`
	// RequestDelay is the pause between API calls, as a duration
	// string ("2s", "500ms").
	RequestDelay string `toml:"request_delay"`
	// MaxTokens is the per-chunk token budget.
	MaxTokens int `toml:"max_tokens"`
	// MaxRetries is the retry limit per chunk.
	MaxRetries int `toml:"max_retries"`
	// Parallel submits chunks concurrently.
	Parallel bool `toml:"parallel"`
	// MaxConcurrent bounds parallel submissions.
	MaxConcurrent int `toml:"max_concurrent"`
}

// Config is the full application configuration.
type Config struct {
	Provider    ProviderConfig    `toml:"provider"`
	Translation TranslationConfig `toml:"translation"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Provider: ProviderConfig{
			Name:  DefaultProvider,
			Model: DefaultModel,
		},
		Translation: TranslationConfig{
			SourceLang:   DefaultSourceLang,
			TargetLang:   DefaultTargetLang,
			RequestDelay: DefaultRequestDelay,
			MaxTokens:    DefaultMaxTokens,
			MaxRetries:   DefaultMaxRetries,
		},
	}
}

// Dir returns the application config directory, creating it if needed.
func Dir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locating user config directory: %w", err)
	}
	dir := filepath.Join(base, appDirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating %s: %w", dir, err)
	}
	return dir, nil
}

// Path returns the config file path.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFileName), nil
}

// Load reads the configuration. A missing config file is created with
// the defaults, so the user has something to edit. Environment
// variables (including a .env file in the working directory) override
// file values.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}
	cfg, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	cfg.applyEnv()
	return cfg, nil
}

// LoadFile reads the configuration from an explicit path, creating the
// file with defaults when it doesn't exist. Environment overrides are
// NOT applied; callers wanting them use Load or applyEnv.
func LoadFile(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		if err := cfg.Save(path); err != nil {
			return nil, fmt.Errorf("writing default config: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the configuration to path.
func (c *Config) Save(path string) error {
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// applyEnv overlays environment variables onto the configuration. A
// .env file in the working directory is loaded first; a missing one is
// fine.
func (c *Config) applyEnv() {
	_ = godotenv.Load()

	if v := os.Getenv("KITAB_PROVIDER"); v != "" {
		c.Provider.Name = v
	}
	if v := os.Getenv("KITAB_MODEL"); v != "" {
		c.Provider.Model = v
	}
	if v := os.Getenv("KITAB_BASE_URL"); v != "" {
		c.Provider.BaseURL = v
	}
	if v := apiKeyFromEnv(c.Provider.Name); v != "" {
		c.Provider.APIKey = v
	}
}

// apiKeyFromEnv resolves the API key: KITAB_API_KEY wins, then the
// provider's conventional variable.
func apiKeyFromEnv(provider string) string {
	if v := os.Getenv("KITAB_API_KEY"); v != "" {
		return v
	}
	switch provider {
	case "openai", "custom-openai":
		return os.Getenv("OPENAI_API_KEY")
	case "google":
		return os.Getenv("GEMINI_API_KEY")
	case "groq":
		return os.Getenv("GROQ_API_KEY")
	}
	return ""
}

// RequestDelay parses the configured inter-request delay, falling back
// to the default on empty or malformed values.
func (c *Config) RequestDelay() time.Duration {
	d, err := time.ParseDuration(c.Translation.RequestDelay)
	if err != nil || d < 0 {
		d, _ = time.ParseDuration(DefaultRequestDelay)
	}
	return d
}

// MaxTokens returns the chunk token budget.
func (c *Config) MaxTokens() int {
	if c.Translation.MaxTokens > 0 {
		return c.Translation.MaxTokens
	}
	return DefaultMaxTokens
}
