package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/inboxhunter/signup-agent/internal/models"
	"github.com/inboxhunter/signup-agent/internal/utils"
)

// Config holds all configuration for the agent
type Config struct {
	Credentials CredentialsConfig `json:"credentials"`
	APIKeys     APIKeysConfig     `json:"api_keys"`
	Settings    SettingsConfig    `json:"settings"`
	Browser     BrowserConfig     `json:"browser"`
	Store       StoreConfig       `json:"store"`
	Redis       RedisConfig       `json:"redis"`
	Server      ServerConfig      `json:"server"`
	Log         LogConfig         `json:"log"`
}

// CredentialsConfig holds the identity used on signup forms
type CredentialsConfig struct {
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Email       string `json:"email"`
	CountryCode string `json:"country_code"`
	Phone       string `json:"phone"`
}

// APIKeysConfig holds external service credentials
type APIKeysConfig struct {
	OpenAI  string `json:"openai"`
	Captcha string `json:"captcha"`
}

// SettingsConfig holds run behaviour settings
type SettingsConfig struct {
	DataSource    string   `json:"data_source"`
	CSVPath       string   `json:"csv_path"`
	MetaKeywords  []string `json:"meta_keywords"`
	AdLimit       int      `json:"ad_limit"`
	MaxSignups    int      `json:"max_signups"`
	Headless      bool     `json:"headless"`
	Debug         bool     `json:"debug"`
	DetailedLogs  bool     `json:"detailed_logs"`
	MinDelay      int      `json:"min_delay"`
	MaxDelay      int      `json:"max_delay"`
	LLMModel      string   `json:"llm_model"`
	BatchPlanning bool     `json:"batch_planning"`
}

// BrowserConfig holds browser automation configuration
type BrowserConfig struct {
	NavigationTimeout time.Duration `json:"navigation_timeout"`
	SelectorTimeout   time.Duration `json:"selector_timeout"`
	WindowWidth       int           `json:"window_width"`
	WindowHeight      int           `json:"window_height"`
	UserAgent         string        `json:"user_agent"`
	ScreenshotDir     string        `json:"screenshot_dir"`
}

// StoreConfig holds persistence configuration
type StoreConfig struct {
	Path string `json:"path"`
}

// RedisConfig holds optional Redis cache configuration
type RedisConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	Password     string        `json:"password"`
	DB           int           `json:"db"`
	PoolSize     int           `json:"pool_size"`
	DialTimeout  time.Duration `json:"dial_timeout"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	CacheTTL     time.Duration `json:"cache_ttl"`
	Enabled      bool          `json:"enabled"`
}

// ServerConfig holds the local status server configuration
type ServerConfig struct {
	Enabled      bool `json:"enabled"`
	Port         int  `json:"port"`
	ReadTimeout  int  `json:"read_timeout"`
	WriteTimeout int  `json:"write_timeout"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// FileConfig mirrors the JSON configuration document accepted via --config
type FileConfig struct {
	Credentials *CredentialsConfig `json:"credentials,omitempty"`
	APIKeys     *APIKeysConfig     `json:"api_keys,omitempty"`
	Settings    *FileSettings      `json:"settings,omitempty"`
}

// FileSettings uses pointers so absent keys do not clobber env defaults
type FileSettings struct {
	DataSource    *string  `json:"data_source,omitempty"`
	CSVPath       *string  `json:"csv_path,omitempty"`
	MetaKeywords  []string `json:"meta_keywords,omitempty"`
	AdLimit       *int     `json:"ad_limit,omitempty"`
	MaxSignups    *int     `json:"max_signups,omitempty"`
	Headless      *bool    `json:"headless,omitempty"`
	Debug         *bool    `json:"debug,omitempty"`
	DetailedLogs  *bool    `json:"detailed_logs,omitempty"`
	MinDelay      *int     `json:"min_delay,omitempty"`
	MaxDelay      *int     `json:"max_delay,omitempty"`
	LLMModel      *string  `json:"llm_model,omitempty"`
	BatchPlanning *bool    `json:"batch_planning,omitempty"`
}

// Overrides carries CLI flag values that take precedence over file and env
type Overrides struct {
	CredentialsJSON string
	Source          string
	MaxSignups      int
	Headless        bool
	HeadlessSet     bool
	Debug           bool
}

// Load builds configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Credentials: CredentialsConfig{
			FirstName:   getEnv("CREDENTIALS_FIRST_NAME", ""),
			LastName:    getEnv("CREDENTIALS_LAST_NAME", ""),
			Email:       getEnv("CREDENTIALS_EMAIL", ""),
			CountryCode: getEnv("CREDENTIALS_COUNTRY_CODE", "1"),
			Phone:       getEnv("CREDENTIALS_PHONE", ""),
		},
		APIKeys: APIKeysConfig{
			OpenAI:  getEnv("OPENAI_API_KEY", ""),
			Captcha: getEnv("CAPTCHA_API_KEY", ""),
		},
		Settings: SettingsConfig{
			DataSource:    getEnv("DATA_SOURCE", "csv"),
			CSVPath:       getEnv("CSV_PATH", ""),
			MetaKeywords:  splitList(getEnv("META_KEYWORDS", "")),
			AdLimit:       getEnvAsInt("AD_LIMIT", 20),
			MaxSignups:    getEnvAsInt("MAX_SIGNUPS", 30),
			Headless:      getEnvAsBool("HEADLESS", true),
			Debug:         getEnvAsBool("DEBUG", false),
			DetailedLogs:  getEnvAsBool("DETAILED_LOGS", false),
			MinDelay:      getEnvAsInt("MIN_DELAY", 5),
			MaxDelay:      getEnvAsInt("MAX_DELAY", 15),
			LLMModel:      getEnv("LLM_MODEL", "gpt-4o-mini"),
			BatchPlanning: getEnvAsBool("BATCH_PLANNING", true),
		},
		Browser: BrowserConfig{
			NavigationTimeout: time.Duration(getEnvAsInt("NAVIGATION_TIMEOUT", 45)) * time.Second,
			SelectorTimeout:   time.Duration(getEnvAsInt("SELECTOR_TIMEOUT", 5)) * time.Second,
			WindowWidth:       getEnvAsInt("BROWSER_WIDTH", 1280),
			WindowHeight:      getEnvAsInt("BROWSER_HEIGHT", 900),
			UserAgent:         getEnv("BROWSER_USER_AGENT", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/139.0.0.0 Safari/537.36"),
			ScreenshotDir:     getEnv("SCREENSHOT_DIR", ""),
		},
		Store: StoreConfig{
			Path: getEnv("DB_PATH", ""),
		},
		Redis: RedisConfig{
			Host:         getEnv("REDIS_HOST", "localhost"),
			Port:         getEnvAsInt("REDIS_PORT", 6379),
			Password:     getEnv("REDIS_PASSWORD", ""),
			DB:           getEnvAsInt("REDIS_DB", 0),
			PoolSize:     getEnvAsInt("REDIS_POOL_SIZE", 10),
			DialTimeout:  time.Duration(getEnvAsInt("REDIS_DIAL_TIMEOUT", 5)) * time.Second,
			ReadTimeout:  time.Duration(getEnvAsInt("REDIS_READ_TIMEOUT", 3)) * time.Second,
			WriteTimeout: time.Duration(getEnvAsInt("REDIS_WRITE_TIMEOUT", 3)) * time.Second,
			CacheTTL:     time.Duration(getEnvAsInt("CACHE_TTL", 3600)) * time.Second,
			Enabled:      getEnvAsBool("REDIS_ENABLED", false),
		},
		Server: ServerConfig{
			Enabled:      getEnvAsBool("STATUS_SERVER_ENABLED", false),
			Port:         getEnvAsInt("STATUS_SERVER_PORT", 8321),
			ReadTimeout:  getEnvAsInt("STATUS_SERVER_READ_TIMEOUT", 10),
			WriteTimeout: getEnvAsInt("STATUS_SERVER_WRITE_TIMEOUT", 10),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
	}

	if cfg.Store.Path == "" {
		dataDir, err := utils.AppDataDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve app data directory: %w", err)
		}
		cfg.Store.Path = filepath.Join(dataDir, "signups.db")
	}

	return cfg, nil
}

// LoadFile reads the JSON configuration document from disk
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var fc FileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &fc, nil
}

// ApplyFile overlays a parsed configuration document onto the config
func (c *Config) ApplyFile(fc *FileConfig) {
	if fc == nil {
		return
	}
	if fc.Credentials != nil {
		c.Credentials = *fc.Credentials
		if c.Credentials.CountryCode == "" {
			c.Credentials.CountryCode = "1"
		}
	}
	if fc.APIKeys != nil {
		if fc.APIKeys.OpenAI != "" {
			c.APIKeys.OpenAI = fc.APIKeys.OpenAI
		}
		if fc.APIKeys.Captcha != "" {
			c.APIKeys.Captcha = fc.APIKeys.Captcha
		}
	}
	if fc.Settings != nil {
		s := fc.Settings
		if s.DataSource != nil {
			c.Settings.DataSource = *s.DataSource
		}
		if s.CSVPath != nil {
			c.Settings.CSVPath = *s.CSVPath
		}
		if len(s.MetaKeywords) > 0 {
			c.Settings.MetaKeywords = s.MetaKeywords
		}
		if s.AdLimit != nil {
			c.Settings.AdLimit = *s.AdLimit
		}
		if s.MaxSignups != nil {
			c.Settings.MaxSignups = *s.MaxSignups
		}
		if s.Headless != nil {
			c.Settings.Headless = *s.Headless
		}
		if s.Debug != nil {
			c.Settings.Debug = *s.Debug
		}
		if s.DetailedLogs != nil {
			c.Settings.DetailedLogs = *s.DetailedLogs
		}
		if s.MinDelay != nil {
			c.Settings.MinDelay = *s.MinDelay
		}
		if s.MaxDelay != nil {
			c.Settings.MaxDelay = *s.MaxDelay
		}
		if s.LLMModel != nil {
			c.Settings.LLMModel = *s.LLMModel
		}
		if s.BatchPlanning != nil {
			c.Settings.BatchPlanning = *s.BatchPlanning
		}
	}
}

// ApplyOverrides overlays CLI flag values onto the config
func (c *Config) ApplyOverrides(o Overrides) error {
	if o.CredentialsJSON != "" {
		var creds CredentialsConfig
		if err := json.Unmarshal([]byte(o.CredentialsJSON), &creds); err != nil {
			return fmt.Errorf("failed to parse credentials JSON: %w", err)
		}
		c.Credentials = creds
		if c.Credentials.CountryCode == "" {
			c.Credentials.CountryCode = "1"
		}
	}
	if o.Source != "" {
		c.Settings.DataSource = o.Source
	}
	if o.MaxSignups > 0 {
		c.Settings.MaxSignups = o.MaxSignups
	}
	if o.HeadlessSet {
		c.Settings.Headless = o.Headless
	}
	if o.Debug {
		c.Settings.Debug = true
		c.Log.Level = "debug"
	}
	return nil
}

// Validate clamps out-of-range settings and checks required fields
func (c *Config) Validate() error {
	c.Settings.AdLimit = clampInt(c.Settings.AdLimit, 5, 100, 20)
	c.Settings.MaxSignups = clampInt(c.Settings.MaxSignups, 1, 100, 30)
	c.Settings.MinDelay = clampInt(c.Settings.MinDelay, 5, 60, 5)
	c.Settings.MaxDelay = clampInt(c.Settings.MaxDelay, 10, 120, 15)
	if c.Settings.MaxDelay < c.Settings.MinDelay {
		c.Settings.MaxDelay = c.Settings.MinDelay
	}
	if c.Settings.LLMModel == "" {
		c.Settings.LLMModel = "gpt-4o-mini"
	}

	switch c.Settings.DataSource {
	case "csv", "meta", "database":
	default:
		return fmt.Errorf("invalid data source %q (expected csv, meta or database)", c.Settings.DataSource)
	}

	if c.APIKeys.OpenAI == "" {
		return fmt.Errorf("OPENAI_API_KEY is required")
	}
	if c.Credentials.Email == "" {
		return fmt.Errorf("credentials email is required")
	}
	if c.Credentials.FirstName == "" {
		return fmt.Errorf("credentials first name is required")
	}
	return nil
}

// ToCredentials converts the configured identity into the run credentials
func (c *Config) ToCredentials() models.Credentials {
	full := strings.TrimSpace(c.Credentials.FirstName + " " + c.Credentials.LastName)
	return models.Credentials{
		Email:       c.Credentials.Email,
		FirstName:   c.Credentials.FirstName,
		LastName:    c.Credentials.LastName,
		FullName:    full,
		Phone:       c.Credentials.Phone,
		CountryCode: c.Credentials.CountryCode,
	}
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func clampInt(v, min, max, fallback int) int {
	if v == 0 {
		return fallback
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
