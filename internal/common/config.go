package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Config represents the application configuration
type Config struct {
	Environment string            `toml:"environment"`
	Bot         BotConfig         `toml:"bot"`
	LLM         LLMConfig         `toml:"llm"`
	Gemini      GeminiConfig      `toml:"gemini"`
	Claude      ClaudeConfig      `toml:"claude"`
	Retry       RetryConfig       `toml:"retry"`
	OCR         OCRConfig         `toml:"ocr"`
	PDF         PDFConfig         `toml:"pdf"`
	Storage     StorageConfig     `toml:"storage"`
	Feedback    FeedbackConfig    `toml:"feedback"`
	Prompts     PromptsConfig     `toml:"prompts"`
	Diagnostics DiagnosticsConfig `toml:"diagnostics"`
	Logging     LoggingConfig     `toml:"logging"`
}

// BotConfig contains Telegram bot settings and document intake limits
type BotConfig struct {
	Token         string `toml:"token"`
	PollTimeout   int    `toml:"poll_timeout" validate:"gte=0"` // Long-poll timeout in seconds
	MaxFileMB     int    `toml:"max_file_mb" validate:"gt=0"`   // Reject documents above this size before download
	MaxPages      int    `toml:"max_pages" validate:"gt=0"`     // Reject documents with more pages
	PreviewDPI    int    `toml:"preview_dpi" validate:"gt=0"`   // DPI for the confirmation preview photo
	OCRDPI        int    `toml:"ocr_dpi" validate:"gt=0"`       // DPI for the page sent to OCR
	Debug         bool   `toml:"debug"`
	ReportPrefix  string `toml:"report_prefix"` // File name prefix for delivered reports
	SessionMaxAge string `toml:"session_max_age"`
}

// LLMProvider represents the AI provider type
type LLMProvider string

const (
	// LLMProviderGemini uses the Gemini API with an API key
	LLMProviderGemini LLMProvider = "gemini"
	// LLMProviderVertex uses Gemini through Vertex AI
	LLMProviderVertex LLMProvider = "vertex"
	// LLMProviderClaude uses Anthropic Claude API
	LLMProviderClaude LLMProvider = "claude"
)

// LLMConfig selects the provider and the models used per pipeline stage
type LLMConfig struct {
	Provider     LLMProvider `toml:"provider" validate:"oneof=gemini vertex claude"`
	FindModel    string      `toml:"find_model" validate:"required"`    // Page location model
	ExtractModel string      `toml:"extract_model" validate:"required"` // Structuring model
}

// GeminiConfig contains Google Gemini configuration (API key or Vertex AI)
type GeminiConfig struct {
	APIKey           string  `toml:"api_key"`
	Project          string  `toml:"project"`           // Vertex AI project
	Location         string  `toml:"location"`          // Vertex AI location
	Timeout          string  `toml:"timeout"`           // Per-attempt timeout (default: "120s")
	RateLimit        string  `toml:"rate_limit"`        // Minimum time between requests (default: "1s")
	Temperature      float32 `toml:"temperature"`       // Generation temperature (default: 0.1)
	FileReadyTimeout string  `toml:"file_ready_timeout"` // Max wait for an uploaded file to become active
	FilePollInterval string  `toml:"file_poll_interval"` // Delay between file state polls
}

// ClaudeConfig contains Anthropic Claude API configuration
type ClaudeConfig struct {
	APIKey      string  `toml:"api_key"`
	MaxTokens   int     `toml:"max_tokens"`
	Timeout     string  `toml:"timeout"`
	RateLimit   string  `toml:"rate_limit"`
	Temperature float32 `toml:"temperature"`
}

// RetryConfig controls the model invocation retry policy
type RetryConfig struct {
	MaxAttempts int    `toml:"max_attempts" validate:"gte=1,lte=10"`
	BaseBackoff string `toml:"base_backoff"` // Backoff before retry k is base * 2^(k-1)
}

// OCRProvider selects the table OCR backend
type OCRProvider string

const (
	OCRProviderAzure      OCRProvider = "azure"
	OCRProviderDocumentAI OCRProvider = "documentai"
)

// OCRConfig contains table OCR settings
type OCRConfig struct {
	Provider     OCRProvider      `toml:"provider" validate:"oneof=azure documentai"`
	Azure        AzureOCRConfig   `toml:"azure"`
	DocumentAI   DocumentAIConfig `toml:"documentai"`
	MaxImageMB   int              `toml:"max_image_mb" validate:"gt=0"` // Downscale page images above this size
	MaxImageSide int              `toml:"max_image_side" validate:"gt=0"`
}

// AzureOCRConfig contains Azure Document Intelligence settings
type AzureOCRConfig struct {
	Endpoint     string `toml:"endpoint"`
	Key          string `toml:"key"`
	Model        string `toml:"model"`
	APIVersion   string `toml:"api_version"`
	PollInterval string `toml:"poll_interval"`
	Timeout      string `toml:"timeout"`
}

// DocumentAIConfig contains Google Document AI settings
type DocumentAIConfig struct {
	Project     string `toml:"project"`
	Location    string `toml:"location"`
	ProcessorID string `toml:"processor_id"`
}

// PDFConfig contains rasterization settings
type PDFConfig struct {
	Pdftoppm string `toml:"pdftoppm"` // Path to the pdftoppm binary
	TempDir  string `toml:"temp_dir"`
}

// StorageConfig selects and configures the archive blob store
type StorageConfig struct {
	Type   string       `toml:"type" validate:"oneof=yandex gcs badger none"`
	Prefix string       `toml:"prefix"` // Key prefix for all archived runs
	Yandex YandexConfig `toml:"yandex"`
	GCS    GCSConfig    `toml:"gcs"`
	Badger BadgerConfig `toml:"badger"`
}

// YandexConfig contains Yandex Object Storage (S3 compatible) settings
type YandexConfig struct {
	Endpoint  string `toml:"endpoint"`
	Region    string `toml:"region"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	Bucket    string `toml:"bucket"`
	UseSSL    bool   `toml:"use_ssl"`
}

// GCSConfig contains Google Cloud Storage settings
type GCSConfig struct {
	Bucket          string `toml:"bucket"`
	CredentialsFile string `toml:"credentials_file"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`
	ResetOnStartup bool   `toml:"reset_on_startup"`
}

// FeedbackConfig controls the feedback window and the orphan sweep
type FeedbackConfig struct {
	Window        string `toml:"window"`         // How long to wait for user feedback (default: "30m")
	SweepSchedule string `toml:"sweep_schedule"` // Cron schedule for timing out orphaned pending records
}

// PromptsConfig points to an optional prompt override directory
type PromptsConfig struct {
	Dir string `toml:"dir"`
}

// DiagnosticsConfig points to the directory for unparseable model output dumps
type DiagnosticsConfig struct {
	Dir string `toml:"dir"`
}

type LoggingConfig struct {
	Level  string   `toml:"level" validate:"oneof=debug info warn error"`
	Output []string `toml:"output"` // "stdout", "file"
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Bot: BotConfig{
			PollTimeout:   60,
			MaxFileMB:     20,
			MaxPages:      100,
			PreviewDPI:    200,
			OCRDPI:        300,
			ReportPrefix:  "specification",
			SessionMaxAge: "2h",
		},
		LLM: LLMConfig{
			Provider:     LLMProviderGemini,
			FindModel:    "gemini-2.5-flash-lite",
			ExtractModel: "gemini-2.5-pro",
		},
		Gemini: GeminiConfig{
			Location:         "us-central1",
			Timeout:          "120s",
			RateLimit:        "1s",
			Temperature:      0.1,
			FileReadyTimeout: "60s",
			FilePollInterval: "2s",
		},
		Claude: ClaudeConfig{
			MaxTokens:   16384,
			Timeout:     "120s",
			RateLimit:   "1s",
			Temperature: 0.1,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseBackoff: "5s",
		},
		OCR: OCRConfig{
			Provider: OCRProviderAzure,
			Azure: AzureOCRConfig{
				Model:        "prebuilt-layout",
				APIVersion:   "2024-11-30",
				PollInterval: "1s",
				Timeout:      "3m",
			},
			DocumentAI: DocumentAIConfig{
				Location: "us",
			},
			MaxImageMB:   4,
			MaxImageSide: 10000,
		},
		PDF: PDFConfig{
			Pdftoppm: "pdftoppm",
		},
		Storage: StorageConfig{
			Type:   "none",
			Prefix: "runs",
			Yandex: YandexConfig{
				Endpoint: "storage.yandexcloud.net",
				Region:   "ru-central1",
				UseSSL:   true,
			},
			Badger: BadgerConfig{
				Path: "./data/archive",
			},
		},
		Feedback: FeedbackConfig{
			Window:        "30m",
			SweepSchedule: "@every 10m",
		},
		Diagnostics: DiagnosticsConfig{
			Dir: "./data/diagnostics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout"},
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority:
// defaults -> file1 -> file2 -> ... -> environment variables.
// Later files override earlier ones.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		// Unmarshal into config (merges with existing values, later values override)
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyLegacyEnv(config)
	applyEnvOverrides(config)

	return config, nil
}

// applyLegacyEnv maps the environment names the bot was historically deployed with
func applyLegacyEnv(config *Config) {
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		config.Bot.Token = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		config.Gemini.APIKey = v
	}
	if v := os.Getenv("GEMINI_MODEL_NAME"); v != "" {
		config.LLM.ExtractModel = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		config.Claude.APIKey = v
	}
	if v := os.Getenv("AZURE_DOCUMENT_INTELLIGENCE_ENDPOINT"); v != "" {
		config.OCR.Azure.Endpoint = v
	}
	if v := os.Getenv("AZURE_DOCUMENT_INTELLIGENCE_KEY"); v != "" {
		config.OCR.Azure.Key = v
	}
	if v := os.Getenv("YANDEX_ACCESS_KEY"); v != "" {
		config.Storage.Yandex.AccessKey = v
	}
	if v := os.Getenv("YANDEX_SECRET_KEY"); v != "" {
		config.Storage.Yandex.SecretKey = v
	}
	if v := os.Getenv("YANDEX_BUCKET"); v != "" {
		config.Storage.Yandex.Bucket = v
	}
	if v := os.Getenv("YANDEX_REGION"); v != "" {
		config.Storage.Yandex.Region = v
	}
	if v := os.Getenv("GCS_BUCKET"); v != "" {
		config.Storage.GCS.Bucket = v
	}
}

// applyEnvOverrides applies SMETA_* environment variables (highest priority)
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("SMETA_ENV"); env != "" {
		config.Environment = env
	}

	// Bot configuration
	if token := os.Getenv("SMETA_BOT_TOKEN"); token != "" {
		config.Bot.Token = token
	}
	if maxFile := os.Getenv("SMETA_BOT_MAX_FILE_MB"); maxFile != "" {
		if v, err := strconv.Atoi(maxFile); err == nil {
			config.Bot.MaxFileMB = v
		}
	}
	if maxPages := os.Getenv("SMETA_BOT_MAX_PAGES"); maxPages != "" {
		if v, err := strconv.Atoi(maxPages); err == nil {
			config.Bot.MaxPages = v
		}
	}

	// LLM configuration
	if provider := os.Getenv("SMETA_LLM_PROVIDER"); provider != "" {
		config.LLM.Provider = LLMProvider(strings.ToLower(provider))
	}
	if model := os.Getenv("SMETA_LLM_FIND_MODEL"); model != "" {
		config.LLM.FindModel = model
	}
	if model := os.Getenv("SMETA_LLM_EXTRACT_MODEL"); model != "" {
		config.LLM.ExtractModel = model
	}
	if apiKey := os.Getenv("SMETA_GEMINI_API_KEY"); apiKey != "" {
		config.Gemini.APIKey = apiKey
	}
	if project := os.Getenv("SMETA_GEMINI_PROJECT"); project != "" {
		config.Gemini.Project = project
	}
	if timeout := os.Getenv("SMETA_GEMINI_TIMEOUT"); timeout != "" {
		config.Gemini.Timeout = timeout
	}
	if apiKey := os.Getenv("SMETA_CLAUDE_API_KEY"); apiKey != "" {
		config.Claude.APIKey = apiKey
	}

	// Retry configuration
	if attempts := os.Getenv("SMETA_RETRY_MAX_ATTEMPTS"); attempts != "" {
		if v, err := strconv.Atoi(attempts); err == nil {
			config.Retry.MaxAttempts = v
		}
	}
	if base := os.Getenv("SMETA_RETRY_BASE_BACKOFF"); base != "" {
		config.Retry.BaseBackoff = base
	}

	// OCR configuration
	if provider := os.Getenv("SMETA_OCR_PROVIDER"); provider != "" {
		config.OCR.Provider = OCRProvider(strings.ToLower(provider))
	}
	if processor := os.Getenv("SMETA_DOCUMENTAI_PROCESSOR_ID"); processor != "" {
		config.OCR.DocumentAI.ProcessorID = processor
	}
	if project := os.Getenv("SMETA_DOCUMENTAI_PROJECT"); project != "" {
		config.OCR.DocumentAI.Project = project
	}

	// Storage configuration
	if storageType := os.Getenv("SMETA_STORAGE_TYPE"); storageType != "" {
		config.Storage.Type = strings.ToLower(storageType)
	}
	if prefix := os.Getenv("SMETA_STORAGE_PREFIX"); prefix != "" {
		config.Storage.Prefix = prefix
	}
	if badgerPath := os.Getenv("SMETA_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	// Feedback configuration
	if window := os.Getenv("SMETA_FEEDBACK_WINDOW"); window != "" {
		config.Feedback.Window = window
	}

	if dir := os.Getenv("SMETA_PROMPTS_DIR"); dir != "" {
		config.Prompts.Dir = dir
	}

	// Logging configuration
	if level := os.Getenv("SMETA_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("SMETA_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}
}

// Validate checks struct constraints, duration strings and the cron schedule
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	durations := map[string]string{
		"gemini.timeout":            c.Gemini.Timeout,
		"gemini.rate_limit":         c.Gemini.RateLimit,
		"gemini.file_ready_timeout": c.Gemini.FileReadyTimeout,
		"gemini.file_poll_interval": c.Gemini.FilePollInterval,
		"claude.timeout":            c.Claude.Timeout,
		"retry.base_backoff":        c.Retry.BaseBackoff,
		"ocr.azure.poll_interval":   c.OCR.Azure.PollInterval,
		"ocr.azure.timeout":         c.OCR.Azure.Timeout,
		"feedback.window":           c.Feedback.Window,
		"bot.session_max_age":       c.Bot.SessionMaxAge,
	}
	for name, value := range durations {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid duration for %s: %q", name, value)
		}
	}

	if c.Feedback.SweepSchedule != "" {
		parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
		if _, err := parser.Parse(c.Feedback.SweepSchedule); err != nil {
			return fmt.Errorf("invalid feedback.sweep_schedule %q: %w", c.Feedback.SweepSchedule, err)
		}
	}

	return nil
}

// ParseDurationOr parses a duration string, returning fallback when empty or invalid
func ParseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	env := strings.ToLower(c.Environment)
	return env == "production" || env == "prod"
}
