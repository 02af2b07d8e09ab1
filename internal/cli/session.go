package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/harun/joe/internal/config"
	"github.com/harun/joe/internal/daemon"
	"github.com/harun/joe/pkg/session"
	"github.com/spf13/cobra"
)

var showTranscript bool

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect and reset stored conversations",
}

var sessionShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the stored session of a profile",
	Args:  cobra.NoArgs,
	RunE:  runSessionShow,
}

var sessionResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Forget the stored session of a profile",
	Args:  cobra.NoArgs,
	RunE:  runSessionReset,
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored profiles",
	Args:  cobra.NoArgs,
	RunE:  runSessionList,
}

var sessionPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete profiles idle longer than store.max_age_hours",
	Args:  cobra.NoArgs,
	RunE:  runSessionPrune,
}

func init() {
	sessionShowCmd.Flags().BoolVar(&showTranscript, "transcript", false, "print the stored transcript")

	sessionCmd.AddCommand(sessionShowCmd)
	sessionCmd.AddCommand(sessionResetCmd)
	sessionCmd.AddCommand(sessionListCmd)
	sessionCmd.AddCommand(sessionPruneCmd)
	rootCmd.AddCommand(sessionCmd)
}

// openStore opens the configured store without requiring API credentials.
// The returned func closes the store and the log file.
func openStore() (*config.Config, session.Store, func(), error) {
	cfg, _, err := loadConfig(false)
	if err != nil {
		return nil, nil, nil, err
	}
	log, err := newLogger(cfg, false)
	if err != nil {
		return nil, nil, nil, err
	}
	store, err := daemon.OpenStore(cfg)
	if err != nil {
		log.Close()
		return nil, nil, nil, err
	}
	return cfg, store, func() {
		store.Close()
		log.Close()
	}, nil
}

func runSessionShow(cmd *cobra.Command, args []string) error {
	cfg, store, done, err := openStore()
	if err != nil {
		return err
	}
	defer done()

	ctx := cmd.Context()
	p := resolveProfile(cfg)
	out := cmd.OutOrStdout()

	handle, err := store.LoadHandle(ctx, p)
	if err != nil {
		return err
	}
	transcript, err := store.LoadTranscript(ctx, p)
	if err != nil {
		return err
	}

	if handle == "" {
		handle = "(none)"
	}
	fmt.Fprintf(out, "Profile: %s\n", p)
	fmt.Fprintf(out, "Session: %s\n", handle)
	fmt.Fprintf(out, "Messages: %d\n", len(transcript))

	if last, err := store.LastActivity(ctx, p); err == nil {
		fmt.Fprintf(out, "Last activity: %s\n", last.Format(time.RFC3339))
	} else if !errors.Is(err, session.ErrNotFound) {
		return err
	}

	if showTranscript {
		for _, msg := range transcript {
			printMessage(cmd, msg)
		}
	}
	return nil
}

func runSessionReset(cmd *cobra.Command, args []string) error {
	cfg, store, done, err := openStore()
	if err != nil {
		return err
	}
	defer done()

	p := resolveProfile(cfg)
	if err := store.DeleteProfile(cmd.Context(), p); err != nil {
		return fmt.Errorf("failed to reset profile %s: %w", p, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Session for profile %q reset.\n", p)
	return nil
}

func runSessionList(cmd *cobra.Command, args []string) error {
	_, store, done, err := openStore()
	if err != nil {
		return err
	}
	defer done()

	ctx := cmd.Context()
	profiles, err := store.ListProfiles(ctx)
	if err != nil {
		return err
	}
	if len(profiles) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No stored sessions.")
		return nil
	}
	for _, p := range profiles {
		last, err := store.LastActivity(ctx, p)
		if err != nil {
			fmt.Fprintln(cmd.OutOrStdout(), p)
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s ago\n", p, formatDuration(time.Since(last)))
	}
	return nil
}

func runSessionPrune(cmd *cobra.Command, args []string) error {
	cfg, store, done, err := openStore()
	if err != nil {
		return err
	}
	defer done()

	cleanup, err := session.NewCleanup(store, cfg.Store.MaxAge(), cfg.Store.CleanupSchedule)
	if err != nil {
		return err
	}
	deleted, err := cleanup.CleanupNow(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d idle profiles.\n", deleted)
	return nil
}
