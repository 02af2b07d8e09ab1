package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	// PersonaManaged relies on the persona configured on the remote assistant.
	PersonaManaged = "managed-persona"
	// PersonaInjected sends Persona.Text as run instructions on every run.
	PersonaInjected = "injected-system-message"

	StoreDriverFile   = "file"
	StoreDriverSQLite = "sqlite"
)

// Config represents the main Joe configuration
type Config struct {
	// OpenAI
	OpenAI OpenAIConfig `json:"openai" mapstructure:"openai"`

	// Persona integration mode
	Persona PersonaConfig `json:"persona" mapstructure:"persona"`

	// Run polling
	Polling PollingConfig `json:"polling" mapstructure:"polling"`

	// Client-local session store
	Store StoreConfig `json:"store" mapstructure:"store"`

	// HTTP surface
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Streaming avatar token proxy
	Avatar AvatarConfig `json:"avatar" mapstructure:"avatar"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// OpenAIConfig holds the remote assistant service settings
type OpenAIConfig struct {
	APIKey                string `json:"api_key" mapstructure:"api_key"`
	BaseURL               string `json:"base_url" mapstructure:"base_url"`
	AssistantID           string `json:"assistant_id" mapstructure:"assistant_id"`
	Model                 string `json:"model" mapstructure:"model"`
	MaxRetries            int    `json:"max_retries" mapstructure:"max_retries"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds" mapstructure:"request_timeout_seconds"`
}

// PersonaConfig selects how the persona reaches the model
type PersonaConfig struct {
	Mode string `json:"mode" mapstructure:"mode"` // managed-persona, injected-system-message
	Text string `json:"text" mapstructure:"text"`
}

// PollingConfig bounds the run status poll loop
type PollingConfig struct {
	IntervalMs     int `json:"interval_ms" mapstructure:"interval_ms"`
	MaxAttempts    int `json:"max_attempts" mapstructure:"max_attempts"`
	TimeoutSeconds int `json:"timeout_seconds" mapstructure:"timeout_seconds"`
}

// StoreConfig holds session store settings
type StoreConfig struct {
	Driver          string `json:"driver" mapstructure:"driver"` // file, sqlite
	Path            string `json:"path" mapstructure:"path"`
	Profile         string `json:"profile" mapstructure:"profile"`
	CleanupSchedule string `json:"cleanup_schedule" mapstructure:"cleanup_schedule"`
	MaxAgeHours     int    `json:"max_age_hours" mapstructure:"max_age_hours"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host          string   `json:"host" mapstructure:"host"`
	Port          int      `json:"port" mapstructure:"port"`
	LoginPassword string   `json:"login_password" mapstructure:"login_password"`
	CookieSecret  string   `json:"cookie_secret" mapstructure:"cookie_secret"`
	AllowPaths    []string `json:"allow_paths" mapstructure:"allow_paths"`
}

// AvatarConfig holds the streaming avatar token exchange settings
type AvatarConfig struct {
	APIKey   string `json:"api_key" mapstructure:"api_key"`
	TokenURL string `json:"token_url" mapstructure:"token_url"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// DefaultPersonaText is the steel-industry persona used in injected mode when no text is configured.
const DefaultPersonaText = `You are Joseph Malchar, a seasoned expert in the steel industry. Your primary function is to provide accurate, concise, and helpful technical information related to steel grades, specifications, calculations, and industry standards. Respond in a knowledgeable, professional, and approachable manner, just as Joe would on the floor. Do not provide information outside of your expertise in the steel industry unless absolutely necessary for context. Keep responses focused and relevant to steel-related queries.`

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		OpenAI: OpenAIConfig{
			Model:                 "",
			MaxRetries:            0,
			RequestTimeoutSeconds: 60,
		},
		Persona: PersonaConfig{
			Mode: PersonaManaged,
		},
		Polling: PollingConfig{
			IntervalMs:     1000,
			MaxAttempts:    120,
			TimeoutSeconds: 180,
		},
		Store: StoreConfig{
			Driver:          StoreDriverFile,
			Profile:         "default",
			CleanupSchedule: "0 3 * * *",
			MaxAgeHours:     24 * 30,
		},
		Server: ServerConfig{
			Host:       "127.0.0.1",
			Port:       8080,
			AllowPaths: []string{"/login", "/health", "/metrics"},
		},
		Avatar: AvatarConfig{
			TokenURL: "https://api.heygen.com/v1/streaming.create_token",
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		DataDir: "",
	}
}

// PollInterval returns the poll interval as a duration
func (p PollingConfig) PollInterval() time.Duration {
	return time.Duration(p.IntervalMs) * time.Millisecond
}

// Timeout returns the wall-clock bound of one poll loop
func (p PollingConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// MaxAge returns the idle age after which a profile is cleaned up
func (s StoreConfig) MaxAge() time.Duration {
	return time.Duration(s.MaxAgeHours) * time.Hour
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks the settings required to talk to the remote service
func (c *Config) Validate() error {
	if c.OpenAI.APIKey == "" {
		return fmt.Errorf("openai api_key is required")
	}
	if c.OpenAI.AssistantID == "" {
		return fmt.Errorf("openai assistant_id is required")
	}

	switch c.Persona.Mode {
	case PersonaManaged:
	case PersonaInjected:
		if strings.TrimSpace(c.Persona.Text) == "" {
			return fmt.Errorf("persona text is required in %s mode", PersonaInjected)
		}
	default:
		return fmt.Errorf("invalid persona mode %q (must be: %s, %s)", c.Persona.Mode, PersonaManaged, PersonaInjected)
	}

	if c.Polling.IntervalMs <= 0 {
		return fmt.Errorf("polling interval_ms must be positive")
	}
	if c.Polling.MaxAttempts <= 0 && c.Polling.TimeoutSeconds <= 0 {
		return fmt.Errorf("polling requires max_attempts or timeout_seconds")
	}

	if c.Store.Driver != StoreDriverFile && c.Store.Driver != StoreDriverSQLite {
		return fmt.Errorf("invalid store driver %q (must be: %s, %s)", c.Store.Driver, StoreDriverFile, StoreDriverSQLite)
	}

	return nil
}
