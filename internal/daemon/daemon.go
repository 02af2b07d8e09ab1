package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/harun/joe/internal/config"
	"github.com/harun/joe/internal/logger"
	"github.com/harun/joe/internal/metrics"
	"github.com/harun/joe/internal/observability"
	"github.com/harun/joe/internal/tracing"
	"github.com/harun/joe/pkg/commandqueue"
	"github.com/harun/joe/pkg/responder"
	"github.com/harun/joe/pkg/server"
	"github.com/harun/joe/pkg/session"
)

const (
	serviceName = "joe"

	// queueWarnAfter logs requests that wait this long behind a thread
	queueWarnAfter = 30 * time.Second

	stopTimeout = 30 * time.Second
)

// Daemon is the long-running serve process
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	metrics   *metrics.Metrics
	generator *responder.Generator
	queue     *commandqueue.Queue
	store     session.Store
	cleanup   *session.Cleanup
	server    *server.Server
	lifecycle *LifecycleManager

	startTime time.Time
	running   bool
	mu        sync.RWMutex

	tracingEnabled bool
}

// New creates a new daemon instance
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if log == nil {
		return nil, fmt.Errorf("logger is required")
	}

	d := &Daemon{
		config: cfg,
		logger: log,
	}

	if err := tracing.InitOpenTelemetry(serviceName); err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
	} else {
		d.tracingEnabled = true
		log.Info().Msg("Tracing initialized successfully")
	}

	auditPath := filepath.Join(cfg.DataDir, "audit.log")
	rotation := logger.Rotation{
		MaxSizeMB:  cfg.Logging.MaxSize,
		MaxAgeDays: cfg.Logging.MaxAge,
		Compress:   cfg.Logging.Compress,
	}
	if err := observability.InitAuditLogger(auditPath, rotation); err != nil {
		log.Warn().Err(err).Msg("Failed to initialize audit logger, audit events are discarded")
	} else {
		log.Info().Str("path", auditPath).Msg("Audit logger initialized")
	}

	if err := d.initializeCoreModules(); err != nil {
		d.shutdownTracing(context.Background())
		return nil, fmt.Errorf("failed to initialize core modules: %w", err)
	}

	if err := d.initializeServices(); err != nil {
		d.store.Close()
		d.shutdownTracing(context.Background())
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	d.lifecycle = NewLifecycleManager(cfg.DataDir, log.GetZerolog())
	return d, nil
}

// initializeCoreModules builds the generator, queue and store
func (d *Daemon) initializeCoreModules() error {
	zl := d.logger.GetZerolog()

	d.metrics = metrics.NewMetrics()

	generator, err := NewGenerator(d.config, zl, d.metrics)
	if err != nil {
		return err
	}
	d.generator = generator
	d.logger.Info().
		Str("assistant_id", d.config.OpenAI.AssistantID).
		Str("persona", d.config.Persona.Mode).
		Msg("Response generator initialized")

	d.queue = commandqueue.New(commandqueue.Config{
		WarnAfter: queueWarnAfter,
		Logger:    zl,
		Metrics:   d.metrics,
	})
	d.logger.Info().Msg("Command queue initialized")

	store, err := OpenStore(d.config)
	if err != nil {
		return err
	}
	d.store = store
	d.logger.Info().Str("driver", d.config.Store.Driver).Msg("Session store initialized")

	return nil
}

// initializeServices builds the cleanup schedule and the HTTP server
func (d *Daemon) initializeServices() error {
	cleanup, err := session.NewCleanup(d.store, d.config.Store.MaxAge(), d.config.Store.CleanupSchedule)
	if err != nil {
		return fmt.Errorf("failed to create session cleanup: %w", err)
	}
	d.cleanup = cleanup

	srv, err := server.NewServer(server.Options{
		Addr:           d.config.Server.Addr(),
		LoginPassword:  d.config.Server.LoginPassword,
		CookieSecret:   d.config.Server.CookieSecret,
		AllowPaths:     d.config.Server.AllowPaths,
		AvatarAPIKey:   d.config.Avatar.APIKey,
		AvatarTokenURL: d.config.Avatar.TokenURL,
		Logger:         d.logger.GetZerolog(),
	}, server.Deps{
		Generator: d.generator,
		Queue:     d.queue,
		Metrics:   d.metrics,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	d.server = srv
	return nil
}

// Start starts the daemon
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	logger := d.logger.GetZerolog().With().Str("trace_id", tracing.NewTraceID()).Logger()
	logger.Info().Msg("Starting joe")

	if err := d.lifecycle.Start(); err != nil {
		d.setStopped()
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}

	if err := d.server.Start(); err != nil {
		_ = d.lifecycle.Stop()
		d.setStopped()
		return fmt.Errorf("failed to start server: %w", err)
	}
	logger.Info().Str("addr", d.server.Addr()).Msg("Server started")

	// Cleanup is housekeeping; serving continues without it
	if err := d.cleanup.Start(); err != nil {
		logger.Warn().Err(err).Msg("Failed to start session cleanup")
	} else {
		logger.Info().Str("schedule", d.config.Store.CleanupSchedule).Msg("Session cleanup started")
	}

	logger.Info().Msg("joe started successfully")
	return nil
}

func (d *Daemon) setStopped() {
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
}

// Stop stops the daemon
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	logger := d.logger.GetZerolog().With().Str("trace_id", tracing.NewTraceID()).Logger()
	logger.Info().Msg("Stopping joe")

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	// Closing sockets cancels in-flight runs before the queue drains
	if err := d.server.Stop(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to stop server")
	}

	if d.cleanup.IsRunning() {
		if err := d.cleanup.Stop(); err != nil {
			logger.Error().Err(err).Msg("Failed to stop session cleanup")
		}
	}

	if err := d.queue.Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close command queue")
	}
	logger.Info().Msg("Command queue stopped")

	if err := d.store.Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close session store")
	}

	if err := d.lifecycle.Stop(); err != nil {
		logger.Error().Err(err).Msg("Failed to stop lifecycle manager")
	}

	d.shutdownTracing(ctx)

	if err := observability.GetAuditLogger().Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close audit logger")
	}

	logger.Info().Msg("joe stopped successfully")
	return nil
}

func (d *Daemon) shutdownTracing(ctx context.Context) {
	if !d.tracingEnabled {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := tracing.ShutdownOpenTelemetry(shutdownCtx); err != nil {
		d.logger.Error().Err(err).Msg("Failed to shutdown tracing")
	}
	d.tracingEnabled = false
}

// Status represents daemon status
type Status struct {
	Running   bool
	Uptime    time.Duration
	StartTime time.Time
	Addr      string
}

// Status returns the daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{
		Running: d.running,
		Addr:    d.server.Addr(),
	}
	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.StartTime = d.startTime
	}
	return status
}

// Wait blocks until SIGINT or SIGTERM, then stops the daemon
func (d *Daemon) Wait() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	sig := <-sigChan
	d.logger.Info().Str("signal", sig.String()).Msg("Received signal")

	if err := d.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to stop daemon")
	}
}

// GetConfig returns the daemon configuration
func (d *Daemon) GetConfig() *config.Config {
	return d.config
}

// GetGenerator returns the response generator
func (d *Daemon) GetGenerator() *responder.Generator {
	return d.generator
}

// GetServer returns the HTTP server
func (d *Daemon) GetServer() *server.Server {
	return d.server
}

// GetStore returns the session store
func (d *Daemon) GetStore() session.Store {
	return d.store
}

// GetMetrics returns the metrics registry
func (d *Daemon) GetMetrics() *metrics.Metrics {
	return d.metrics
}
