package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/ulule/limiter/v3"

	"github.com/MoonWIRaja/Discord-Bot-Panel-sub000/internal/biz/usecase"
)

// Config represents application configuration
type Config struct {
	Database DatabaseConfig
	Gateway  GatewayConfig
	Redis    RedisConfig
	HTTP     HTTPConfig
	Log      LogConfig
	Monitor  MonitorConfig
	Purge    PurgeConfig
	Tools    ToolsConfig
	Ledger   LedgerConfig
	Dedupe   DedupeConfig

	// Prompts and provider catalog (loaded from YAML)
	Prompts *PromptsConfig

	// Debug mode
	Debug bool
}

// DatabaseConfig contains storage configuration
type DatabaseConfig struct {
	Path string
}

// GatewayConfig contains the messaging platform endpoints
type GatewayConfig struct {
	BaseURL string // Open platform API base, e.g. https://open.feishu.cn
}

// RedisConfig contains the optional Redis connection used for event dedupe
type RedisConfig struct {
	URL string // Empty selects the in-memory driver
}

// HTTPConfig contains the ops API configuration
type HTTPConfig struct {
	Addr string
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level  string
	Format string // text or json
}

// MonitorConfig contains status monitor timings
type MonitorConfig struct {
	InitialDelay time.Duration
	MinInterval  time.Duration
	MaxInterval  time.Duration
	Headless     bool // Allow headless browser probes
}

// PurgeConfig contains history purge pacing
type PurgeConfig struct {
	DeleteDelay time.Duration
}

// ToolsConfig contains tool registry configuration
type ToolsConfig struct {
	Rate        string // ulule/limiter formatted rate per tenant, e.g. "30-M"
	SearchURL   string
	WeatherURL  string
	GeocodeURL  string
	CurrencyURL string
	Timeout     time.Duration
}

// LedgerConfig contains usage accounting options
type LedgerConfig struct {
	// CountUnreportedTokens is charged when a provider reports no usage; 0 skips
	CountUnreportedTokens int64
	ResetInterval         time.Duration
	ProviderTimeout       time.Duration
}

// DedupeConfig contains event dedupe options
type DedupeConfig struct {
	TTL time.Duration
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() *Config {
	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		homeDir, _ := os.UserHomeDir()
		dbPath = filepath.Join(homeDir, ".botpanel", "botpanel.db")
	}

	httpAddr := os.Getenv("HTTP_ADDR")
	if httpAddr == "" {
		httpAddr = "127.0.0.1:9876"
	}

	toolRate := os.Getenv("TOOL_RATE")
	if toolRate == "" {
		toolRate = "30-M"
	}

	promptsConfig, err := LoadPromptsConfig(os.Getenv("PROMPTS_CONFIG_PATH"))
	if err != nil {
		fmt.Printf("[Config] %v, using defaults\n", err)
		promptsConfig = DefaultPromptsConfig()
	}
	promptsConfig.resolveAPIKeys(os.Getenv)

	return &Config{
		Database: DatabaseConfig{Path: dbPath},
		Gateway:  GatewayConfig{BaseURL: envString("FEISHU_BASE_URL", "https://open.feishu.cn")},
		Redis:    RedisConfig{URL: os.Getenv("REDIS_URL")},
		HTTP:     HTTPConfig{Addr: httpAddr},
		Log: LogConfig{
			Level:  envString("LOG_LEVEL", "info"),
			Format: envString("LOG_FORMAT", "text"),
		},
		Monitor: MonitorConfig{
			InitialDelay: envDuration("MONITOR_INITIAL_DELAY", 10*time.Second),
			MinInterval:  envDuration("MONITOR_MIN_INTERVAL", 60*time.Second),
			MaxInterval:  envDuration("MONITOR_MAX_INTERVAL", 120*time.Second),
			Headless:     os.Getenv("MONITOR_HEADLESS") != "false",
		},
		Purge: PurgeConfig{
			DeleteDelay: envDuration("PURGE_DELETE_DELAY", time.Second),
		},
		Tools: ToolsConfig{
			Rate:        toolRate,
			SearchURL:   envString("TOOL_SEARCH_URL", "https://html.duckduckgo.com/html/"),
			WeatherURL:  envString("TOOL_WEATHER_URL", "https://api.open-meteo.com/v1/forecast"),
			GeocodeURL:  envString("TOOL_GEOCODE_URL", "https://geocoding-api.open-meteo.com/v1/search"),
			CurrencyURL: envString("TOOL_CURRENCY_URL", "https://open.er-api.com/v6/latest/"),
			Timeout:     envDuration("TOOL_TIMEOUT", 15*time.Second),
		},
		Ledger: LedgerConfig{
			CountUnreportedTokens: int64(envInt("COUNT_UNREPORTED_TOKENS", 0)),
			ResetInterval:         envDuration("LIMIT_RESET_INTERVAL", 5*time.Minute),
			ProviderTimeout:       envDuration("PROVIDER_TIMEOUT", 2*time.Minute),
		},
		Dedupe: DedupeConfig{
			TTL: envDuration("DEDUPE_TTL", 5*time.Minute),
		},
		Prompts: promptsConfig,
		Debug:   os.Getenv("DEBUG") == "true",
	}
}

func envString(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func envInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return def
}

// ToPromptConfig converts to the usecase prompt configuration
func (c *Config) ToPromptConfig() usecase.PromptConfig {
	if c.Prompts == nil {
		return usecase.DefaultPromptConfig
	}
	p := c.Prompts
	return usecase.PromptConfig{
		SystemPrompt:       p.Assistant.SystemPrompt,
		HistoryMarker:      p.Assistant.HistoryMarker,
		ParticipantsHeader: p.Assistant.ParticipantsHeader,
		KnowledgeHeader:    p.Assistant.KnowledgeHeader,
		ExamplesHeader:     p.Assistant.ExamplesHeader,
		ChannelMessages:    p.History.ChannelMessages,
		TrainingExamples:   p.History.TrainingExamples,
		KnowledgeEntries:   p.History.KnowledgeEntries,
	}
}

// ToReplyConfig converts to the usecase user-facing messages
func (c *Config) ToReplyConfig() usecase.ReplyConfig {
	if c.Prompts == nil {
		return usecase.DefaultReplyConfig
	}
	m := c.Prompts.Messages
	return usecase.ReplyConfig{
		HistoryReset:     m.HistoryReset,
		QuotaExceeded:    m.QuotaExceeded,
		PolicyRejected:   m.PolicyRejected,
		ProviderError:    m.ProviderError,
		VideoUnsupported: m.VideoUnsupported,
		MusicUnsupported: m.MusicUnsupported,
		ImageRewrite:     c.Prompts.Assistant.ImageRewritePrompt,
		VisionDescribe:   c.Prompts.Assistant.VisionPrompt,
		Extraction:       c.Prompts.Assistant.ExtractionPrompt,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return &ConfigError{Field: "DB_PATH", Message: "required"}
	}
	if c.Monitor.MinInterval <= 0 || c.Monitor.MaxInterval <= c.Monitor.MinInterval {
		return &ConfigError{Field: "MONITOR_MIN_INTERVAL/MONITOR_MAX_INTERVAL", Message: "max must be greater than min"}
	}
	if _, err := limiter.NewRateFromFormatted(c.Tools.Rate); err != nil {
		return &ConfigError{Field: "TOOL_RATE", Message: err.Error()}
	}
	if c.Prompts != nil {
		seen := make(map[string]bool)
		for _, p := range c.Prompts.Providers {
			if p.ID == "" {
				return &ConfigError{Field: "providers", Message: "provider id is required"}
			}
			if seen[p.ID] {
				return &ConfigError{Field: "providers", Message: "duplicate provider " + p.ID}
			}
			seen[p.ID] = true
		}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}
