package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// Wizard provides an interactive configuration wizard
type Wizard struct {
	reader *bufio.Reader
	out    io.Writer
	base   *Config
}

// NewWizard creates a new configuration wizard on stdin/stdout
func NewWizard() *Wizard {
	return NewWizardWithIO(os.Stdin, os.Stdout, nil)
}

// NewWizardWithIO creates a wizard reading answers from in. Existing values in
// base are offered as defaults; a nil base starts from DefaultConfig.
func NewWizardWithIO(in io.Reader, out io.Writer, base *Config) *Wizard {
	if base == nil {
		base = DefaultConfig()
	}
	return &Wizard{
		reader: bufio.NewReader(in),
		out:    out,
		base:   base,
	}
}

// Run runs the interactive configuration wizard
func (w *Wizard) Run() (*Config, error) {
	w.println("=== Joe Configuration Wizard ===")
	w.println()

	cfg := *w.base
	validator := NewValidator()

	// OpenAI API Key
	for {
		key, err := w.ask("OpenAI API Key", mask(cfg.OpenAI.APIKey))
		if err != nil {
			return nil, err
		}
		if key == mask(cfg.OpenAI.APIKey) && cfg.OpenAI.APIKey != "" {
			break
		}
		if err := validator.ValidateAPIKey(key); err != nil {
			w.printf("Error: %v\n", err)
			continue
		}
		cfg.OpenAI.APIKey = key
		break
	}

	// Assistant
	for {
		id, err := w.ask("Assistant ID", cfg.OpenAI.AssistantID)
		if err != nil {
			return nil, err
		}
		if err := validator.ValidateAssistantID(id); err != nil {
			w.printf("Error: %v\n", err)
			continue
		}
		cfg.OpenAI.AssistantID = id
		break
	}

	w.println()

	// Persona
	w.println("Persona options:")
	w.printf("  %-24s - Persona lives on the remote assistant (default)\n", PersonaManaged)
	w.printf("  %-24s - Persona text is sent with every run\n", PersonaInjected)
	mode, err := w.ask("Persona mode", cfg.Persona.Mode)
	if err != nil {
		return nil, err
	}
	if err := validator.ValidatePersona(PersonaConfig{Mode: mode, Text: "x"}); err != nil {
		w.printf("Warning: %v, using default (%s)\n", err, PersonaManaged)
		mode = PersonaManaged
	}
	cfg.Persona.Mode = mode
	if mode == PersonaInjected && strings.TrimSpace(cfg.Persona.Text) == "" {
		cfg.Persona.Text = DefaultPersonaText
	}

	w.println()

	// Store
	driver, err := w.ask("Session store (file/sqlite)", cfg.Store.Driver)
	if err != nil {
		return nil, err
	}
	if err := validator.ValidateStoreDriver(driver); err != nil {
		w.printf("Warning: %v, using default (%s)\n", err, StoreDriverFile)
		driver = StoreDriverFile
	}
	if driver != cfg.Store.Driver {
		// Let Load derive the path for the new driver
		cfg.Store.Path = ""
	}
	cfg.Store.Driver = driver

	// Log Level
	level, err := w.ask("Log level (debug/info/warn/error)", cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	if err := validator.ValidateLogLevel(level); err != nil {
		w.printf("Warning: %v, using default (info)\n", err)
		level = "info"
	}
	cfg.Logging.Level = level

	w.println()
	w.println("Configuration complete!")

	return &cfg, nil
}

// ask prints a prompt and returns the answer, or def on an empty line
func (w *Wizard) ask(prompt, def string) (string, error) {
	if def != "" {
		w.printf("%s [%s]: ", prompt, def)
	} else {
		w.printf("%s: ", prompt)
	}
	line, err := w.readLine()
	if err != nil {
		return "", err
	}
	if line == "" {
		return def, nil
	}
	return line, nil
}

func (w *Wizard) readLine() (string, error) {
	line, err := w.reader.ReadString('\n')
	if err != nil {
		if err == io.EOF && line != "" {
			return strings.TrimSpace(line), nil
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (w *Wizard) println(a ...any) {
	fmt.Fprintln(w.out, a...)
}

func (w *Wizard) printf(format string, a ...any) {
	fmt.Fprintf(w.out, format, a...)
}

func mask(secret string) string {
	if len(secret) <= 8 {
		return strings.Repeat("*", len(secret))
	}
	return secret[:3] + "..." + secret[len(secret)-4:]
}
