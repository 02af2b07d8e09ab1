package cli

import (
	"fmt"

	"github.com/harun/joe/internal/config"
	"github.com/harun/joe/internal/logger"
	"github.com/harun/joe/pkg/chat"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

var (
	cfgFile  string
	logLevel string
	profile  string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "joe",
	Short: "Joe - steel industry assistant",
	Long: `Joe answers steel industry questions through an OpenAI assistant.
Chat in the terminal, ask one-shot questions, or serve the web chat
with a login gate and a streaming avatar token endpoint.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.joe/joe.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error); overrides the config file")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "session profile (default is store.profile from the config)")

	// Version template
	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)
}

// GetRootCmd returns the root command for testing
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// GetVersion returns the current version
func GetVersion() string {
	return version
}

// loadConfig loads the config named by --config. Commands that reach the
// remote service ask for validation.
func loadConfig(validate bool) (*config.Config, *config.Loader, error) {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if !validate {
		return cfg, loader, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration (run 'joe configure'): %w", err)
	}
	return cfg, loader, nil
}

// newLogger creates the process logger. Terminal commands log to the file
// only so log lines never interleave with the conversation.
func newLogger(cfg *config.Config, console bool) (*logger.Logger, error) {
	secrets := []string{
		cfg.OpenAI.APIKey,
		cfg.Server.LoginPassword,
		cfg.Server.CookieSecret,
		cfg.Avatar.APIKey,
	}
	log, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   console,
		Pretty:    console,
		Redaction: cfg.Logging.Redaction,
		MaxSize:   cfg.Logging.MaxSize,
		MaxAge:    cfg.Logging.MaxAge,
		Compress:  cfg.Logging.Compress,
		Secrets:   secrets,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return log, nil
}

// resolveProfile returns the --profile flag, else the configured profile
func resolveProfile(cfg *config.Config) string {
	if profile != "" {
		return profile
	}
	if cfg.Store.Profile != "" {
		return cfg.Store.Profile
	}
	return chat.DefaultProfile
}
