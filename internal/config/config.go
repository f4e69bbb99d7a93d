// Package config loads the proxy settings.
//
// Settings are resolved once at startup, in this order: built-in defaults,
// the config file (YAML, or JSON since JSON is valid YAML), the .env file,
// PROXY_* environment variables, then provider API key variables. The
// result is an immutable value that is copied into every request.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/rcliao/persona-proxy/internal/rules"
	"github.com/rcliao/persona-proxy/internal/textproc"
)

// Provider names.
const (
	ProviderGemini   = "gemini"
	ProviderCerebras = "cerebras"
)

// ValidProviders lists the supported upstream providers.
var ValidProviders = []string{ProviderGemini, ProviderCerebras}

const defaultForbiddenWords = "possessive,possessiveness,damn,mind body and soul,pang,pangs,butterflies in stomach,butterflies,knot"

// Settings is the complete proxy configuration.
type Settings struct {
	Server    ServerConfig    `yaml:"server" json:"server"`
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
	Provider  ProviderConfig  `yaml:"provider" json:"provider"`
	Content   ContentConfig   `yaml:"content" json:"content"`
	Lorebook  LorebookConfig  `yaml:"lorebook" json:"lorebook"`
}

// ServerConfig configures the HTTP listener and logging.
type ServerConfig struct {
	Host       string `yaml:"host" json:"host"`
	Port       int    `yaml:"port" json:"port"`
	LogLevel   string `yaml:"log_level" json:"log_level"`
	LogFormat  string `yaml:"log_format" json:"log_format"` // json or console
	AdminToken string `yaml:"admin_token" json:"admin_token,omitempty"`
	// AllowedOrigins lists the CORS origins; "*" allows any.
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RateLimitConfig configures the per-client token bucket. RPS <= 0 disables
// limiting.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps" json:"rps"`
	Burst int     `yaml:"burst" json:"burst"`
}

// ProviderConfig selects and tunes the upstream model provider.
type ProviderConfig struct {
	Name            string   `yaml:"name" json:"name"`
	APIKey          string   `yaml:"api_key" json:"api_key,omitempty"`
	BaseURL         string   `yaml:"base_url" json:"base_url,omitempty"`
	Model           string   `yaml:"model" json:"model"`
	Models          []string `yaml:"models" json:"models,omitempty"` // overrides the provider allow-list
	Temperature     float64  `yaml:"temperature" json:"temperature"`
	TopP            float64  `yaml:"top_p" json:"top_p"`
	TopK            int      `yaml:"top_k" json:"top_k"`
	MaxOutputTokens int      `yaml:"max_output_tokens" json:"max_output_tokens"`
	SafetyThreshold string   `yaml:"safety_threshold" json:"safety_threshold,omitempty"`
	Timeout         string   `yaml:"timeout" json:"timeout"`
}

// RequestTimeout returns Timeout as a duration, defaulting to two minutes.
func (p ProviderConfig) RequestTimeout() time.Duration {
	d, err := time.ParseDuration(p.Timeout)
	if err != nil || d <= 0 {
		return 120 * time.Second
	}
	return d
}

// ContentConfig holds the content-shaping toggles applied by the pipeline.
type ContentConfig struct {
	EnableJailbreak      bool     `yaml:"enable_jailbreak" json:"enable_jailbreak"`
	BypassLevel          string   `yaml:"bypass_level" json:"bypass_level"`
	EnableOOCInjection   bool     `yaml:"enable_ooc_injection" json:"enable_ooc_injection"`
	CustomOOCText        string   `yaml:"custom_ooc_text" json:"custom_ooc_text"`
	EnableMedievalMode   bool     `yaml:"enable_medieval_mode" json:"enable_medieval_mode"`
	EnableForceThinking  bool     `yaml:"enable_force_thinking" json:"enable_force_thinking"`
	EnableForbiddenWords bool     `yaml:"enable_forbidden_words" json:"enable_forbidden_words"`
	ForbiddenWords       []string `yaml:"forbidden_words" json:"forbidden_words"`
	EnableMarkdownCheck  bool     `yaml:"enable_markdown_check" json:"enable_markdown_check"`
	CustomPrefillText    string   `yaml:"custom_prefill_text" json:"custom_prefill_text"`
	EnableAutoplot       bool     `yaml:"enable_autoplot" json:"enable_autoplot"`
	AutoplotChance       int      `yaml:"autoplot_chance" json:"autoplot_chance"`
	EnableBetterSpice    bool     `yaml:"enable_better_spice" json:"enable_better_spice"`
	SpiceChance          int      `yaml:"spice_chance" json:"spice_chance"`
}

// LorebookConfig configures the lorebook sources.
type LorebookConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Content string `yaml:"content" json:"-"`
	Path    string `yaml:"path" json:"path,omitempty"`
	DBPath  string `yaml:"db_path" json:"db_path,omitempty"`
	Watch   bool   `yaml:"watch" json:"watch"`
}

// Defaults returns the built-in settings.
func Defaults() Settings {
	return Settings{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           5000,
			LogLevel:       "info",
			LogFormat:      "json",
			AllowedOrigins: []string{"*"},
		},
		RateLimit: RateLimitConfig{RPS: 5, Burst: 10},
		Provider: ProviderConfig{
			Name:            ProviderGemini,
			Temperature:     0.7,
			TopP:            0.9,
			TopK:            45,
			MaxOutputTokens: 20000,
			Timeout:         "120s",
		},
		Content: ContentConfig{
			EnableJailbreak:      true,
			BypassLevel:          rules.LevelStrong,
			EnableOOCInjection:   true,
			EnableForbiddenWords: true,
			ForbiddenWords:       textproc.ParseWordList(defaultForbiddenWords),
			EnableMarkdownCheck:  true,
			AutoplotChance:       15,
			SpiceChance:          20,
		},
	}
}

// Load resolves the settings. path and envFile may be empty; a missing
// envFile is ignored while a missing config file is an error.
func Load(path, envFile string) (Settings, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Settings{}, fmt.Errorf("load env file: %w", err)
		}
	}

	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Settings{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Settings{}, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return Settings{}, err
	}
	cfg.fillProviderDefaults()
	if err := cfg.Validate(); err != nil {
		return Settings{}, err
	}
	return cfg, nil
}

// applyEnvOverrides applies PROXY_* and API key environment variables.
func (c *Settings) applyEnvOverrides() error {
	e := envReader{}

	e.strVar("PROXY_HOST", &c.Server.Host)
	e.intVar("PROXY_PORT", &c.Server.Port)
	e.strVar("PROXY_LOG_LEVEL", &c.Server.LogLevel)
	e.strVar("PROXY_LOG_FORMAT", &c.Server.LogFormat)
	e.strVar("PROXY_ADMIN_TOKEN", &c.Server.AdminToken)
	if v, ok := os.LookupEnv("PROXY_ALLOWED_ORIGINS"); ok {
		c.Server.AllowedOrigins = textproc.ParseWordList(v)
	}
	e.floatVar("PROXY_RATE_LIMIT_RPS", &c.RateLimit.RPS)
	e.intVar("PROXY_RATE_LIMIT_BURST", &c.RateLimit.Burst)

	e.strVar("PROXY_PROVIDER", &c.Provider.Name)
	e.strVar("PROXY_BASE_URL", &c.Provider.BaseURL)
	e.strVar("PROXY_MODEL", &c.Provider.Model)
	e.floatVar("PROXY_TEMPERATURE", &c.Provider.Temperature)
	e.floatVar("PROXY_TOP_P", &c.Provider.TopP)
	e.intVar("PROXY_TOP_K", &c.Provider.TopK)
	e.intVar("PROXY_MAX_OUTPUT_TOKENS", &c.Provider.MaxOutputTokens)
	e.strVar("PROXY_SAFETY_THRESHOLD", &c.Provider.SafetyThreshold)

	e.boolVar("PROXY_ENABLE_JAILBREAK", &c.Content.EnableJailbreak)
	e.strVar("PROXY_BYPASS_LEVEL", &c.Content.BypassLevel)
	e.boolVar("PROXY_ENABLE_OOC_INJECTION", &c.Content.EnableOOCInjection)
	e.strVar("PROXY_CUSTOM_OOC_TEXT", &c.Content.CustomOOCText)
	e.boolVar("PROXY_ENABLE_MEDIEVAL_MODE", &c.Content.EnableMedievalMode)
	e.boolVar("PROXY_ENABLE_FORCE_THINKING", &c.Content.EnableForceThinking)
	e.boolVar("PROXY_ENABLE_FORBIDDEN_WORDS", &c.Content.EnableForbiddenWords)
	if v, ok := os.LookupEnv("PROXY_FORBIDDEN_WORDS"); ok {
		c.Content.ForbiddenWords = textproc.ParseWordList(v)
	}
	e.boolVar("PROXY_ENABLE_MARKDOWN_CHECK", &c.Content.EnableMarkdownCheck)
	e.strVar("PROXY_CUSTOM_PREFILL_TEXT", &c.Content.CustomPrefillText)
	e.boolVar("PROXY_ENABLE_AUTOPLOT", &c.Content.EnableAutoplot)
	e.intVar("PROXY_AUTOPLOT_CHANCE", &c.Content.AutoplotChance)
	e.boolVar("PROXY_ENABLE_BETTER_SPICE", &c.Content.EnableBetterSpice)
	e.intVar("PROXY_SPICE_CHANCE", &c.Content.SpiceChance)

	e.boolVar("PROXY_ENABLE_LOREBOOK", &c.Lorebook.Enabled)
	e.strVar("PROXY_LOREBOOK_JSON_CONTENT", &c.Lorebook.Content)
	e.strVar("PROXY_LOREBOOK_PATH", &c.Lorebook.Path)
	e.strVar("PROXY_LOREBOOK_DB", &c.Lorebook.DBPath)
	e.boolVar("PROXY_LOREBOOK_WATCH", &c.Lorebook.Watch)

	// API keys follow the selected provider.
	switch c.Provider.Name {
	case ProviderGemini:
		if key := os.Getenv("GOOGLE_AI_API_KEY"); key != "" {
			c.Provider.APIKey = key
		}
	case ProviderCerebras:
		if key := os.Getenv("CEREBRAS_API_KEY"); key != "" {
			c.Provider.APIKey = key
		}
	}
	e.strVar("PROXY_API_KEY", &c.Provider.APIKey)

	return errors.Join(e.errs...)
}

func (c *Settings) fillProviderDefaults() {
	if c.Provider.Model != "" {
		return
	}
	switch c.Provider.Name {
	case ProviderGemini:
		c.Provider.Model = "gemini-2.5-flash"
	case ProviderCerebras:
		c.Provider.Model = "llama3-8b"
	}
}

// Validate checks the settings for values the proxy cannot run with.
func (c Settings) Validate() error {
	if !slices.Contains(ValidProviders, c.Provider.Name) {
		return fmt.Errorf("invalid provider: %q (valid: %v)", c.Provider.Name, ValidProviders)
	}
	if !rules.ValidLevel(c.Content.BypassLevel) {
		return fmt.Errorf("invalid bypass level: %q (valid: %v)", c.Content.BypassLevel, rules.Levels())
	}
	if c.Content.AutoplotChance < 0 || c.Content.AutoplotChance > 100 {
		return fmt.Errorf("autoplot chance must be within 0-100, got %d", c.Content.AutoplotChance)
	}
	if c.Content.SpiceChance < 0 || c.Content.SpiceChance > 100 {
		return fmt.Errorf("spice chance must be within 0-100, got %d", c.Content.SpiceChance)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Provider.MaxOutputTokens <= 0 {
		return fmt.Errorf("max output tokens must be positive, got %d", c.Provider.MaxOutputTokens)
	}
	return nil
}

// ForbiddenWordList returns a copy of the forbidden terms.
func (c Settings) ForbiddenWordList() []string {
	return slices.Clone(c.Content.ForbiddenWords)
}

// ModelList returns a copy of the configured model allow-list.
func (c Settings) ModelList() []string {
	return slices.Clone(c.Provider.Models)
}

// Public returns the settings with secrets and the inline lorebook removed,
// suitable for the /config endpoint.
func (c Settings) Public() Settings {
	c.Provider.APIKey = ""
	c.Server.AdminToken = ""
	c.Lorebook.Content = ""
	c.Content.ForbiddenWords = c.ForbiddenWordList()
	c.Provider.Models = c.ModelList()
	c.Server.AllowedOrigins = slices.Clone(c.Server.AllowedOrigins)
	return c
}

// envReader collects parse errors so every bad variable is reported at once.
type envReader struct {
	errs []error
}

func (e *envReader) strVar(name string, dst *string) {
	if v, ok := os.LookupEnv(name); ok {
		*dst = v
	}
}

func (e *envReader) boolVar(name string, dst *bool) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes", "on":
		*dst = true
	case "false", "0", "no", "off", "":
		*dst = false
	default:
		e.errs = append(e.errs, fmt.Errorf("%s: invalid boolean %q", name, v))
	}
}

func (e *envReader) intVar(name string, dst *int) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", name, err))
		return
	}
	*dst = n
}

func (e *envReader) floatVar(name string, dst *float64) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", name, err))
		return
	}
	*dst = f
}
