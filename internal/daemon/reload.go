package daemon

import (
	"context"
	"fmt"
	"os"

	"github.com/fsnotify/fsnotify"
	"github.com/harun/joe/internal/config"
	"github.com/harun/joe/internal/observability"
)

// WatchConfig reloads the persona whenever the config file changes.
// Other settings need a restart.
func (d *Daemon) WatchConfig(loader *config.Loader) error {
	path := loader.GetConfigPath()
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("failed to watch config file: %w", err)
	}

	v := loader.Viper()
	v.OnConfigChange(func(e fsnotify.Event) {
		d.handleConfigEvent(loader, e)
	})
	v.WatchConfig()

	d.logger.Info().Str("path", path).Msg("Watching config for persona changes")
	return nil
}

func (d *Daemon) handleConfigEvent(loader *config.Loader, e fsnotify.Event) {
	if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
		return
	}

	logger := d.logger.With().Str("path", e.Name).Str("op", e.Op.String()).Logger()

	cfg, err := loader.Load()
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to reload config, keeping current persona")
		return
	}
	if err := cfg.Validate(); err != nil {
		logger.Warn().Err(err).Msg("Rejected invalid config, keeping current persona")
		return
	}

	changed, err := d.applyPersona(cfg.Persona)
	if err != nil {
		logger.Warn().Err(err).Msg("Rejected persona change")
		return
	}
	if changed {
		logger.Info().Str("persona", cfg.Persona.Mode).Msg("Persona reloaded")
		observability.RecordConfigAudit(context.Background(), "persona_reloaded", e.Name, map[string]any{
			"mode": cfg.Persona.Mode,
		})
	}
}

// applyPersona swaps the generator persona when it differs from the current one
func (d *Daemon) applyPersona(p config.PersonaConfig) (bool, error) {
	next := PersonaFromConfig(p)
	if next == d.generator.Persona() {
		return false, nil
	}
	if err := d.generator.SetPersona(next); err != nil {
		return false, err
	}
	return true, nil
}
