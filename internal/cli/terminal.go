package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/harun/joe/internal/config"
	"github.com/harun/joe/internal/daemon"
	"github.com/harun/joe/internal/logger"
	"github.com/harun/joe/pkg/chat"
	"github.com/harun/joe/pkg/conversation"
	"github.com/harun/joe/pkg/session"
	"github.com/rs/zerolog"
)

// newGenerator builds the generator behind terminal sessions. Replaced in tests.
var newGenerator = func(cfg *config.Config, logger zerolog.Logger) (chat.Generator, error) {
	gen, err := daemon.NewGenerator(cfg, logger, nil)
	if err != nil {
		return nil, err
	}
	return gen, nil
}

// terminalSession is a chat client bound to the configured store
type terminalSession struct {
	client  *chat.Client
	store   session.Store
	log     *logger.Logger
	profile string
}

// openSession restores the profile's conversation. onMessage receives every
// message appended after the restore.
func openSession(ctx context.Context, errOut io.Writer, onMessage func(conversation.Message)) (*terminalSession, error) {
	cfg, _, err := loadConfig(true)
	if err != nil {
		return nil, err
	}

	log, err := newLogger(cfg, false)
	if err != nil {
		return nil, err
	}

	gen, err := newGenerator(cfg, log.GetZerolog())
	if err != nil {
		log.Close()
		return nil, err
	}

	store, err := daemon.OpenStore(cfg)
	if err != nil {
		log.Close()
		return nil, err
	}

	s := &terminalSession{
		store:   store,
		log:     log,
		profile: resolveProfile(cfg),
	}

	client, err := chat.New(chat.Config{
		Generator: gen,
		Store:     store,
		Profile:   s.profile,
		Logger:    log.GetZerolog(),
		Notifier:  printNotifier(errOut),
		OnMessage: onMessage,
	})
	if err != nil {
		s.Close()
		return nil, err
	}
	if err := client.Restore(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to restore session: %w", err)
	}
	s.client = client
	return s, nil
}

// Close releases the store and the log file
func (s *terminalSession) Close() {
	if err := s.store.Close(); err != nil {
		s.log.Warn().Err(err).Msg("Failed to close session store")
	}
	s.log.Close()
}

// printNotifier writes notifications as single lines
func printNotifier(w io.Writer) chat.Notifier {
	return chat.NotifierFunc(func(n chat.Notification) {
		fmt.Fprintf(w, "[%s] %s: %s\n", n.Severity, n.Title, n.Description)
	})
}
