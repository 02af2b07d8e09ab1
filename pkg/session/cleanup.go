package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

const (
	DefaultCleanupAge      = 30 * 24 * time.Hour // 30 days
	DefaultCleanupSchedule = "0 3 * * *"

	cleanupTimeout = 5 * time.Minute
)

// Cleanup deletes profiles that have been idle longer than the cleanup age,
// on a cron schedule.
type Cleanup struct {
	store      Store
	cleanupAge time.Duration
	schedule   string
	now        func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewCleanup creates a new cleanup job. An empty schedule uses the default.
func NewCleanup(store Store, cleanupAge time.Duration, schedule string) (*Cleanup, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cleanupAge <= 0 {
		cleanupAge = DefaultCleanupAge
	}
	if schedule == "" {
		schedule = DefaultCleanupSchedule
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(schedule); err != nil {
		return nil, fmt.Errorf("invalid cleanup schedule: %w", err)
	}

	return &Cleanup{
		store:      store,
		cleanupAge: cleanupAge,
		schedule:   schedule,
		now:        time.Now,
		cron:       cron.New(cron.WithParser(parser)),
	}, nil
}

// Start schedules the cleanup job
func (c *Cleanup) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return fmt.Errorf("cleanup is already running")
	}

	if _, err := c.cron.AddFunc(c.schedule, c.runScheduled); err != nil {
		return fmt.Errorf("failed to schedule cleanup: %w", err)
	}
	c.cron.Start()
	c.running = true

	log.Info().
		Str("schedule", c.schedule).
		Dur("cleanup_age", c.cleanupAge).
		Msg("Session cleanup started")

	return nil
}

// Stop stops the schedule and waits for a running job to finish
func (c *Cleanup) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return fmt.Errorf("cleanup is not running")
	}

	<-c.cron.Stop().Done()
	for _, entry := range c.cron.Entries() {
		c.cron.Remove(entry.ID)
	}
	c.running = false

	log.Info().Msg("Session cleanup stopped")
	return nil
}

// IsRunning returns whether the cleanup is scheduled
func (c *Cleanup) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// NextRun returns the next scheduled run, or zero when not running
func (c *Cleanup) NextRun() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return time.Time{}
	}
	entries := c.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

func (c *Cleanup) runScheduled() {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	if _, err := c.CleanupNow(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to cleanup idle profiles")
	}
}

// CleanupNow deletes idle profiles immediately and returns how many were removed
func (c *Cleanup) CleanupNow(ctx context.Context) (int, error) {
	profiles, err := c.store.ListProfiles(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list profiles: %w", err)
	}

	now := c.now()
	deleted := 0

	for _, profile := range profiles {
		last, err := c.store.LastActivity(ctx, profile)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			log.Warn().
				Str("profile", profile).
				Err(err).
				Msg("Failed to get profile activity")
			continue
		}

		age := now.Sub(last)
		if age < c.cleanupAge {
			continue
		}

		if err := c.store.DeleteProfile(ctx, profile); err != nil {
			log.Error().
				Str("profile", profile).
				Err(err).
				Msg("Failed to delete profile")
			continue
		}
		deleted++

		log.Debug().
			Str("profile", profile).
			Dur("age", age).
			Msg("Profile deleted")
	}

	if deleted > 0 {
		log.Info().
			Int("deleted", deleted).
			Msg("Cleaned up idle profiles")
	}

	return deleted, nil
}
