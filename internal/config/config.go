// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	LLM     LLMConfig     `mapstructure:"llm" yaml:"llm"`
	Bridge  BridgeConfig  `mapstructure:"bridge" yaml:"bridge"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Scanner ScannerConfig `mapstructure:"scanner" yaml:"scanner"`
	Venue   VenueConfig   `mapstructure:"venue" yaml:"venue"`
	Agent   AgentConfig   `mapstructure:"agent" yaml:"agent"`
	Memory  MemoryConfig  `mapstructure:"memory" yaml:"memory"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// LLMConfig configures the chat-completion backend. The chat model drives the
// conversation planner; the vision model answers the narrowly scoped
// coordinate-resolution prompts used by the fallback click path.
type LLMConfig struct {
	APIKey      string        `mapstructure:"api_key" yaml:"-"`
	BaseURL     string        `mapstructure:"base_url" yaml:"base_url"`
	ChatModel   string        `mapstructure:"chat_model" yaml:"chat_model"`
	VisionModel string        `mapstructure:"vision_model" yaml:"vision_model"`
	Temperature float64       `mapstructure:"temperature" yaml:"temperature"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	MaxElapsed  time.Duration `mapstructure:"max_elapsed" yaml:"max_elapsed"`
}

// BridgeConfig tunes the message bridge between the host and the embedded page.
type BridgeConfig struct {
	ListenAddr     string        `mapstructure:"listen_addr" yaml:"listen_addr"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout" yaml:"default_timeout"`
}

// BrowserConfig holds settings for the action primitives and the local
// chromedp-backed page used for development runs.
type BrowserConfig struct {
	SettleDelay     time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	NavigateDelay   time.Duration `mapstructure:"navigate_delay" yaml:"navigate_delay"`
	SnapshotMax     int           `mapstructure:"snapshot_max" yaml:"snapshot_max"`
	ElementsMax     int           `mapstructure:"elements_max" yaml:"elements_max"`
	PageTextMax     int           `mapstructure:"page_text_max" yaml:"page_text_max"`
	Headless        bool          `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
}

// ScannerConfig exposes the grid-scoring weights and thresholds. These were
// tuned against one venue's markup and must stay configurable rather than
// hard-coded.
type ScannerConfig struct {
	ManyRowsWeight    int `mapstructure:"many_rows_weight" yaml:"many_rows_weight"`
	ManyColsWeight    int `mapstructure:"many_cols_weight" yaml:"many_cols_weight"`
	AvailableWeight   int `mapstructure:"available_weight" yaml:"available_weight"`
	ReservedWeight    int `mapstructure:"reserved_weight" yaml:"reserved_weight"`
	TimePatternWeight int `mapstructure:"time_pattern_weight" yaml:"time_pattern_weight"`
	RoomVocabWeight   int `mapstructure:"room_vocab_weight" yaml:"room_vocab_weight"`
	CalendarPenalty   int `mapstructure:"calendar_penalty" yaml:"calendar_penalty"`
	WeekdayPenalty    int `mapstructure:"weekday_penalty" yaml:"weekday_penalty"`
	AcceptThreshold   int `mapstructure:"accept_threshold" yaml:"accept_threshold"`
	FloorThreshold    int `mapstructure:"floor_threshold" yaml:"floor_threshold"`
}

// VenueConfig describes the booking site the agent drives.
type VenueConfig struct {
	Timezone     string            `mapstructure:"timezone" yaml:"timezone"`
	BookingURLs  map[string]string `mapstructure:"booking_urls" yaml:"booking_urls"`
	DefaultURL   string            `mapstructure:"default_url" yaml:"default_url"`
	RoomIDs      map[string]string `mapstructure:"room_ids" yaml:"room_ids"`
	CookieDomain string            `mapstructure:"cookie_domain" yaml:"cookie_domain"`
	IframeMarker string            `mapstructure:"iframe_marker" yaml:"iframe_marker"`
}

// AgentConfig bounds the orchestrator's polling loops and the planner's
// defaults. Intervals are explicit so tests can run without real delays.
type AgentConfig struct {
	MaxSteps            int           `mapstructure:"max_steps" yaml:"max_steps"`
	LoginPollInterval   time.Duration `mapstructure:"login_poll_interval" yaml:"login_poll_interval"`
	LoginPollMax        int           `mapstructure:"login_poll_max" yaml:"login_poll_max"`
	ScanAttempts        int           `mapstructure:"scan_attempts" yaml:"scan_attempts"`
	ScanRetryWait       time.Duration `mapstructure:"scan_retry_wait" yaml:"scan_retry_wait"`
	FormPollInterval    time.Duration `mapstructure:"form_poll_interval" yaml:"form_poll_interval"`
	FormPollMax         int           `mapstructure:"form_poll_max" yaml:"form_poll_max"`
	ConfirmPollInterval time.Duration `mapstructure:"confirm_poll_interval" yaml:"confirm_poll_interval"`
	ConfirmPollMax      int           `mapstructure:"confirm_poll_max" yaml:"confirm_poll_max"`
	DefaultDuration     string        `mapstructure:"default_duration" yaml:"default_duration"`
	DefaultNumUsers     string        `mapstructure:"default_num_users" yaml:"default_num_users"`
	QuickReplyMax       int           `mapstructure:"quick_reply_max" yaml:"quick_reply_max"`
}

// MemoryConfig selects the backing store for user facts and session cookies.
type MemoryConfig struct {
	Backend  string `mapstructure:"backend" yaml:"backend"` // "redis" or "memory"
	RedisURL string `mapstructure:"redis_url" yaml:"redis_url"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "bookingagent")
	v.SetDefault("logger.log_file", "bookingagent.log")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)

	// -- LLM --
	v.SetDefault("llm.base_url", "https://api.deepseek.com/v1")
	v.SetDefault("llm.chat_model", "deepseek-chat")
	v.SetDefault("llm.vision_model", "deepseek-chat")
	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("llm.api_timeout", "60s")
	v.SetDefault("llm.max_elapsed", "2m")

	// -- Bridge --
	v.SetDefault("bridge.listen_addr", "127.0.0.1:8974")
	v.SetDefault("bridge.default_timeout", "8s")

	// -- Browser --
	v.SetDefault("browser.settle_delay", "1500ms")
	v.SetDefault("browser.navigate_delay", "3s")
	v.SetDefault("browser.snapshot_max", 20)
	v.SetDefault("browser.elements_max", 50)
	v.SetDefault("browser.page_text_max", 3000)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", false)

	// -- Scanner --
	v.SetDefault("scanner.many_rows_weight", 15)
	v.SetDefault("scanner.many_cols_weight", 5)
	v.SetDefault("scanner.available_weight", 15)
	v.SetDefault("scanner.reserved_weight", 5)
	v.SetDefault("scanner.time_pattern_weight", 20)
	v.SetDefault("scanner.room_vocab_weight", 15)
	v.SetDefault("scanner.calendar_penalty", -40)
	v.SetDefault("scanner.weekday_penalty", -30)
	v.SetDefault("scanner.accept_threshold", 15)
	v.SetDefault("scanner.floor_threshold", 10)

	// -- Venue --
	v.SetDefault("venue.timezone", "Asia/Hong_Kong")
	v.SetDefault("venue.default_url", "https://sys01.lib.hkbu.edu.hk/room_bookings/1/")
	v.SetDefault("venue.booking_urls", map[string]string{
		"Group Study Rooms":        "https://sys01.lib.hkbu.edu.hk/room_bookings/1/",
		"Multipurpose Rooms":       "https://sys01.lib.hkbu.edu.hk/room_bookings/2/",
		"Individual Study Rooms":   "https://sys01.lib.hkbu.edu.hk/room_bookings/3/",
		"Postgraduate Study Rooms": "https://sys01.lib.hkbu.edu.hk/room_bookings/4/",
	})
	v.SetDefault("venue.room_ids", map[string]string{
		"Group Study Room 1":      "6",
		"Group Study Room 2":      "5",
		"Group Study Room 3":      "4",
		"Group Study Room 4":      "3",
		"Group Study Room 5":      "2",
		"Group Study Room 6":      "1",
		"GSR 1":                   "6",
		"GSR 2":                   "5",
		"GSR 3":                   "4",
		"GSR 4":                   "3",
		"GSR 5":                   "2",
		"GSR 6":                   "1",
		"Individual Study Room 1": "18",
		"Individual Study Room 2": "19",
		"Individual Study Room 3": "20",
		"Individual Study Room 4": "21",
		"Individual Study Room 5": "22",
		"Individual Study Room 6": "23",
		"Individual Study Room 7": "24",
		"Individual Study Room 8": "25",
		"ISR 1":                   "18",
		"ISR 2":                   "19",
		"ISR 3":                   "20",
		"ISR 4":                   "21",
		"ISR 5":                   "22",
		"ISR 6":                   "23",
		"ISR 7":                   "24",
		"ISR 8":                   "25",
	})
	v.SetDefault("venue.cookie_domain", ".hkbu.edu.hk")
	v.SetDefault("venue.iframe_marker", "room_bookings")

	// -- Agent --
	v.SetDefault("agent.max_steps", 5)
	v.SetDefault("agent.login_poll_interval", "1500ms")
	v.SetDefault("agent.login_poll_max", 200)
	v.SetDefault("agent.scan_attempts", 3)
	v.SetDefault("agent.scan_retry_wait", "2s")
	v.SetDefault("agent.form_poll_interval", "1500ms")
	v.SetDefault("agent.form_poll_max", 5)
	v.SetDefault("agent.confirm_poll_interval", "2s")
	v.SetDefault("agent.confirm_poll_max", 15)
	v.SetDefault("agent.default_duration", "2 Hours")
	v.SetDefault("agent.default_num_users", "2")
	v.SetDefault("agent.quick_reply_max", 8)

	// -- Memory --
	v.SetDefault("memory.backend", "memory")
	v.SetDefault("memory.redis_url", "redis://localhost:6379/0")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data.
	v.BindEnv("llm.api_key", "BOOKINGAGENT_LLM_API_KEY")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Agent.MaxSteps <= 0 {
		return fmt.Errorf("agent.max_steps must be a positive integer")
	}
	if c.Agent.ScanAttempts <= 0 {
		return fmt.Errorf("agent.scan_attempts must be a positive integer")
	}
	if c.Scanner.FloorThreshold > c.Scanner.AcceptThreshold {
		return fmt.Errorf("scanner.floor_threshold must not exceed scanner.accept_threshold")
	}
	if c.Venue.DefaultURL == "" {
		return fmt.Errorf("venue.default_url is a required configuration field")
	}
	if _, err := time.LoadLocation(c.Venue.Timezone); err != nil {
		return fmt.Errorf("venue.timezone is not a valid IANA timezone: %w", err)
	}
	switch c.Memory.Backend {
	case "redis", "memory":
	default:
		return fmt.Errorf("memory.backend must be one of [redis, memory], got %q", c.Memory.Backend)
	}
	return nil
}

// Location resolves the venue timezone. Validate guarantees it parses.
func (v VenueConfig) Location() *time.Location {
	loc, err := time.LoadLocation(v.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
