package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	// EnvPrefix is prepended to every bound environment variable
	EnvPrefix = "JOE"

	defaultDirName  = ".joe"
	defaultFileName = "joe.json"
)

// envKeys lists the config keys that can be overridden from the environment
// as JOE_<SECTION>_<KEY>.
var envKeys = []string{
	"openai.api_key",
	"openai.base_url",
	"openai.assistant_id",
	"openai.model",
	"openai.max_retries",
	"openai.request_timeout_seconds",
	"persona.mode",
	"persona.text",
	"polling.interval_ms",
	"polling.max_attempts",
	"polling.timeout_seconds",
	"store.driver",
	"store.path",
	"store.profile",
	"store.cleanup_schedule",
	"store.max_age_hours",
	"server.host",
	"server.port",
	"server.login_password",
	"server.cookie_secret",
	"avatar.api_key",
	"avatar.token_url",
	"logging.level",
	"logging.file",
	"data_dir",
}

// wellKnownEnv maps config keys to the unprefixed variables other tooling already exports.
var wellKnownEnv = map[string]string{
	"openai.api_key":      "OPENAI_API_KEY",
	"openai.assistant_id": "OPENAI_ASSISTANT_ID",
	"avatar.api_key":      "HEYGEN_API_KEY",
}

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load loads the configuration from file and environment
func (l *Loader) Load() (*Config, error) {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return nil, fmt.Errorf("failed to resolve config path")
	}

	v := l.newViper(configPath)

	// A missing file is not an error; env vars and defaults still apply
	if _, err := os.Stat(configPath); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Set data directory if not specified
	if cfg.DataDir == "" {
		cfg.DataDir = filepath.Dir(configPath)
	}

	// Set logging file path if not specified
	if cfg.Logging.File == "" {
		cfg.Logging.File = filepath.Join(cfg.DataDir, "joe.log")
	}

	if cfg.Store.Path == "" {
		switch cfg.Store.Driver {
		case StoreDriverSQLite:
			cfg.Store.Path = filepath.Join(cfg.DataDir, "sessions.db")
		default:
			cfg.Store.Path = filepath.Join(cfg.DataDir, "sessions")
		}
	}

	return cfg, nil
}

// Viper returns a viper instance bound to the loader's file and environment.
// Used by callers that want to watch the file for changes.
func (l *Loader) Viper() *viper.Viper {
	return l.newViper(l.GetConfigPath())
}

func (l *Loader) newViper(configPath string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, key := range envKeys {
		names := []string{key, EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}
		if alias, ok := wellKnownEnv[key]; ok {
			names = append(names, alias)
		}
		_ = v.BindEnv(names...)
	}

	return v
}

// Save saves the configuration to file
func (l *Loader) Save(cfg *Config) error {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return fmt.Errorf("failed to resolve config path")
	}

	// Ensure directory exists
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	v.Set("openai", cfg.OpenAI)
	v.Set("persona", cfg.Persona)
	v.Set("polling", cfg.Polling)
	v.Set("store", cfg.Store)
	v.Set("server", cfg.Server)
	v.Set("avatar", cfg.Avatar)
	v.Set("logging", cfg.Logging)
	v.Set("data_dir", cfg.DataDir)

	if err := v.WriteConfig(); err != nil {
		// If file doesn't exist, create it
		if os.IsNotExist(err) {
			if err := v.SafeWriteConfig(); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}
		} else {
			return fmt.Errorf("failed to write config file: %w", err)
		}
	}

	// The file carries API keys
	if err := os.Chmod(configPath, 0600); err != nil {
		return fmt.Errorf("failed to restrict config file permissions: %w", err)
	}

	return nil
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, defaultDirName, defaultFileName)
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	loader := NewLoader(configPath)
	return loader.Load()
}
