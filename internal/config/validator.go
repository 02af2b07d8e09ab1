package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validator validates configuration values
type Validator struct {
	cronParser cron.Parser
}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{
		cronParser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// ValidateAPIKey validates an OpenAI API key format
func (v *Validator) ValidateAPIKey(key string) error {
	if key == "" {
		return fmt.Errorf("openai API key cannot be empty")
	}
	if !strings.HasPrefix(key, "sk-") {
		return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
	}
	return nil
}

// ValidateAssistantID validates a remote assistant identifier
func (v *Validator) ValidateAssistantID(id string) error {
	if id == "" {
		return fmt.Errorf("assistant ID cannot be empty")
	}
	if !strings.HasPrefix(id, "asst_") {
		return fmt.Errorf("invalid assistant ID format (should start with asst_)")
	}
	return nil
}

// ValidatePersona validates the persona mode and its text
func (v *Validator) ValidatePersona(p PersonaConfig) error {
	switch p.Mode {
	case PersonaManaged:
		return nil
	case PersonaInjected:
		if strings.TrimSpace(p.Text) == "" {
			return fmt.Errorf("persona text is required in %s mode", PersonaInjected)
		}
		return nil
	default:
		return fmt.Errorf("invalid persona mode: %s (must be one of: %s, %s)", p.Mode, PersonaManaged, PersonaInjected)
	}
}

// ValidatePolling validates the poll loop bounds
func (v *Validator) ValidatePolling(p PollingConfig) []error {
	var errors []error
	if p.IntervalMs <= 0 {
		errors = append(errors, fmt.Errorf("polling interval_ms must be positive, got %d", p.IntervalMs))
	}
	if p.MaxAttempts < 0 {
		errors = append(errors, fmt.Errorf("polling max_attempts must be >= 0, got %d", p.MaxAttempts))
	}
	if p.TimeoutSeconds < 0 {
		errors = append(errors, fmt.Errorf("polling timeout_seconds must be >= 0, got %d", p.TimeoutSeconds))
	}
	if p.MaxAttempts == 0 && p.TimeoutSeconds == 0 {
		errors = append(errors, fmt.Errorf("polling needs max_attempts or timeout_seconds, otherwise runs are polled forever"))
	}
	return errors
}

// ValidateCronSchedule validates a five-field cron expression
func (v *Validator) ValidateCronSchedule(expr string) error {
	if expr == "" {
		return nil // Cleanup disabled
	}
	if _, err := v.cronParser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cleanup schedule %q: %w", expr, err)
	}
	return nil
}

// ValidateStoreDriver validates the session store driver
func (v *Validator) ValidateStoreDriver(driver string) error {
	validDrivers := []string{StoreDriverFile, StoreDriverSQLite}
	for _, valid := range validDrivers {
		if driver == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid store driver: %s (must be one of: %s)", driver, strings.Join(validDrivers, ", "))
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateURL validates an absolute http(s) URL
func (v *Validator) ValidateURL(field, raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%s must be an absolute http(s) URL, got %q", field, raw)
	}
	return nil
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	// Validate OpenAI
	if err := v.ValidateAPIKey(cfg.OpenAI.APIKey); err != nil {
		errors = append(errors, err)
	}
	// Runs are always started against an assistant, whatever the persona mode
	if err := v.ValidateAssistantID(cfg.OpenAI.AssistantID); err != nil {
		errors = append(errors, err)
	}
	if cfg.OpenAI.MaxRetries < 0 {
		errors = append(errors, fmt.Errorf("openai max_retries must be >= 0"))
	}
	if cfg.OpenAI.RequestTimeoutSeconds < 0 {
		errors = append(errors, fmt.Errorf("openai request_timeout_seconds must be >= 0"))
	}
	if err := v.ValidateURL("openai base_url", cfg.OpenAI.BaseURL); err != nil {
		errors = append(errors, err)
	}

	// Validate persona
	if err := v.ValidatePersona(cfg.Persona); err != nil {
		errors = append(errors, err)
	}

	// Validate polling
	errors = append(errors, v.ValidatePolling(cfg.Polling)...)

	// Validate store
	if err := v.ValidateStoreDriver(cfg.Store.Driver); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidateCronSchedule(cfg.Store.CleanupSchedule); err != nil {
		errors = append(errors, err)
	}
	if cfg.Store.MaxAgeHours < 0 {
		errors = append(errors, fmt.Errorf("store max_age_hours must be >= 0"))
	}

	// Validate server
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errors = append(errors, fmt.Errorf("server port out of range: %d", cfg.Server.Port))
	}
	if cfg.Server.LoginPassword != "" && len(cfg.Server.CookieSecret) < 16 {
		errors = append(errors, fmt.Errorf("server cookie_secret must be at least 16 characters when login is enabled"))
	}

	// Validate avatar
	if err := v.ValidateURL("avatar token_url", cfg.Avatar.TokenURL); err != nil {
		errors = append(errors, err)
	}

	// Validate logging
	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}

	return errors
}
