package internal

import (
	"fmt"
	"log/slog"
	"regexp"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/oliverjessner/Billy/internal/credential"
	"github.com/oliverjessner/Billy/internal/extract"
	"github.com/oliverjessner/Billy/internal/ingest"
	"github.com/oliverjessner/Billy/internal/llm"
	"github.com/oliverjessner/Billy/internal/models"
	"github.com/oliverjessner/Billy/internal/watcher"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App         ApplicationConfig `yaml:"app"`
	SQLite      SQLiteConfig      `yaml:"sqlite"`
	Auth        AuthConfig        `yaml:"auth"`
	Watch       WatchConfig       `yaml:"watch"`
	Ingest      IngestConfig      `yaml:"ingest"`
	Extract     extract.Config    `yaml:"extract"`
	LLM         LLMConfig         `yaml:"llm"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Folders     FoldersConfig     `yaml:"folders"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	if err := c.Watch.Validate(); err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	if err := c.Ingest.Validate(); err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	if err := c.LLM.Validate(); err != nil {
		return fmt.Errorf("llm: %w", err)
	}
	return nil
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local use.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// WatchConfig tunes the debounce filter applied to watcher events.
type WatchConfig struct {
	DebounceInterval time.Duration `yaml:"debounce_interval"`
	DebounceSamples  int           `yaml:"debounce_samples"`
}

// Validate validates the watch configuration.
func (c *WatchConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.DebounceInterval, validation.Required, validation.Min(10*time.Millisecond)),
		validation.Field(&c.DebounceSamples, validation.Required, validation.Min(2)),
	)
}

// IngestConfig controls processing task concurrency.
type IngestConfig struct {
	MaxConcurrent   int    `yaml:"max_concurrent"`
	SkipInFlight    bool   `yaml:"skip_in_flight"`
	DefaultCurrency string `yaml:"default_currency"`
}

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// Validate validates the ingest configuration.
func (c *IngestConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.MaxConcurrent, validation.Required, validation.Min(1), validation.Max(64)),
		validation.Field(&c.DefaultCurrency, validation.Required, validation.Match(currencyPattern)),
	)
}

// LLMConfig configures the structured extraction client.
type LLMConfig struct {
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

var urlPattern = regexp.MustCompile(`^https?://`)

// Validate validates the LLM configuration.
func (c *LLMConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.BaseURL, validation.Required, validation.Match(urlPattern)),
		validation.Field(&c.Model, validation.Required),
		validation.Field(&c.Temperature, validation.Min(0.0), validation.Max(2.0)),
	)
}

// CredentialsConfig holds the secret used to encrypt stored API keys.
type CredentialsConfig struct {
	Secret string `yaml:"secret"`
}

// FoldersConfig seeds settings that were never saved through the API.
type FoldersConfig struct {
	Revenue       string `yaml:"revenue"`
	Payable       string `yaml:"payable"`
	CredentialRef string `yaml:"credential_ref"`
	OCRLanguage   string `yaml:"ocr_language"`
}

// Settings converts the bootstrap folders into a settings snapshot.
func (c FoldersConfig) Settings() models.Settings {
	lang := c.OCRLanguage
	if lang == "" {
		lang = models.DefaultOCRLanguage
	}
	return models.Settings{
		RevenueFolder: c.Revenue,
		PayableFolder: c.Payable,
		CredentialRef: c.CredentialRef,
		OCRLanguage:   lang,
	}
}

func (c *Config) ingestConfig() ingest.Config {
	return ingest.Config{
		DebounceInterval: c.Watch.DebounceInterval,
		DebounceSamples:  c.Watch.DebounceSamples,
		MaxConcurrent:    c.Ingest.MaxConcurrent,
		SkipInFlight:     c.Ingest.SkipInFlight,
	}
}

func (c *Config) llmConfig() llm.Config {
	return llm.Config{
		BaseURL:     c.LLM.BaseURL,
		Model:       c.LLM.Model,
		Temperature: c.LLM.Temperature,
		Timeout:     c.LLM.Timeout,
	}
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		SQLite: SQLiteConfig{
			Path: "./billy.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Watch: WatchConfig{
			DebounceInterval: watcher.DefaultInterval,
			DebounceSamples:  watcher.DefaultSamples,
		},
		Ingest: IngestConfig{
			MaxConcurrent:   4,
			DefaultCurrency: models.DefaultCurrency,
		},
		Extract: extract.Config{
			Pdftotext: "pdftotext",
			Pdftoppm:  "pdftoppm",
			Tesseract: "tesseract",
			DPI:       300,
		},
		LLM: LLMConfig{
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-4o-mini",
			Temperature: 0.1,
			Timeout:     60 * time.Second,
		},
		Credentials: CredentialsConfig{
			Secret: credential.DefaultSecret,
		},
		Folders: FoldersConfig{
			OCRLanguage: models.DefaultOCRLanguage,
		},
	}
}
