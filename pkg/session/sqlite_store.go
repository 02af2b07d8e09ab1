package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/harun/joe/internal/tracing"
	"github.com/harun/joe/pkg/conversation"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

// SQLiteStore keeps profiles and transcripts in one SQLite database
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("database path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=1&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		// Each pooled connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.Info().Str("path", path).Msg("SQLite session store initialized")
	return s, nil
}

// initSchema creates database tables
func (s *SQLiteStore) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS profiles (
			profile TEXT PRIMARY KEY,
			handle TEXT NOT NULL DEFAULT '',
			updated_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			profile TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			FOREIGN KEY (profile) REFERENCES profiles(profile) ON DELETE CASCADE
		);
		CREATE INDEX IF NOT EXISTS idx_messages_profile ON messages(profile, seq);
	`
	_, err := s.db.Exec(schema)
	return err
}

// touch upserts the profile row and bumps its activity time
func touch(ctx context.Context, tx *sql.Tx, profile string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO profiles (profile, updated_at) VALUES (?, ?)
		ON CONFLICT(profile) DO UPDATE SET updated_at = excluded.updated_at`,
		profile, time.Now().UnixNano(),
	)
	return err
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// LoadHandle reads the stored handle
func (s *SQLiteStore) LoadHandle(ctx context.Context, profile string) (string, error) {
	if err := ValidateProfile(profile); err != nil {
		return "", err
	}

	var handle string
	err := s.db.QueryRowContext(ctx, `SELECT handle FROM profiles WHERE profile = ?`, profile).Scan(&handle)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load handle: %w", err)
	}
	return handle, nil
}

// SaveHandle replaces the stored handle
func (s *SQLiteStore) SaveHandle(ctx context.Context, profile, handle string) error {
	ctx, span := tracing.StartSpan(ctx, tracerName, "session.save_handle",
		attribute.String("profile", profile),
		attribute.String("driver", "sqlite"),
	)
	defer span.End()

	if err := ValidateProfile(profile); err != nil {
		return tracing.Fail(span, err)
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := touch(ctx, tx, profile); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `UPDATE profiles SET handle = ? WHERE profile = ?`, handle, profile)
		return err
	})
	if err != nil {
		return tracing.Fail(span, fmt.Errorf("failed to save handle: %w", err))
	}
	return nil
}

// ClearHandle removes the stored handle
func (s *SQLiteStore) ClearHandle(ctx context.Context, profile string) error {
	if err := ValidateProfile(profile); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE profiles SET handle = '' WHERE profile = ?`, profile); err != nil {
		return fmt.Errorf("failed to clear handle: %w", err)
	}
	return nil
}

// AppendMessage appends a message to the profile's transcript
func (s *SQLiteStore) AppendMessage(ctx context.Context, profile string, msg conversation.Message) error {
	ctx, span := tracing.StartSpan(ctx, tracerName, "session.append_message",
		attribute.String("profile", profile),
		attribute.String("role", string(msg.Role)),
		attribute.String("driver", "sqlite"),
	)
	defer span.End()

	if err := ValidateProfile(profile); err != nil {
		return tracing.Fail(span, err)
	}
	if err := validateMessage(msg); err != nil {
		return tracing.Fail(span, err)
	}
	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := touch(ctx, tx, profile); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO messages (id, profile, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
			msg.ID, profile, string(msg.Role), msg.Content, createdAt.UnixNano(),
		)
		return err
	})
	if err != nil {
		return tracing.Fail(span, fmt.Errorf("failed to append message: %w", err))
	}
	return nil
}

// LoadTranscript loads all messages of a profile in append order
func (s *SQLiteStore) LoadTranscript(ctx context.Context, profile string) ([]conversation.Message, error) {
	if err := ValidateProfile(profile); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, content, created_at FROM messages WHERE profile = ? ORDER BY seq`, profile)
	if err != nil {
		return nil, fmt.Errorf("failed to load transcript: %w", err)
	}
	defer rows.Close()

	messages := []conversation.Message{}
	for rows.Next() {
		var (
			msg       conversation.Message
			role      string
			createdAt int64
		)
		if err := rows.Scan(&msg.ID, &role, &msg.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Role = conversation.Role(role)
		msg.CreatedAt = time.Unix(0, createdAt).UTC()
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read transcript: %w", err)
	}
	return messages, nil
}

// ClearTranscript removes the profile's transcript
func (s *SQLiteStore) ClearTranscript(ctx context.Context, profile string) error {
	if err := ValidateProfile(profile); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE profile = ?`, profile); err != nil {
		return fmt.Errorf("failed to clear transcript: %w", err)
	}
	return nil
}

// ListProfiles lists every known profile
func (s *SQLiteStore) ListProfiles(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT profile FROM profiles ORDER BY profile`)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	defer rows.Close()

	profiles := []string{}
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

// LastActivity returns the time of the last write for a profile
func (s *SQLiteStore) LastActivity(ctx context.Context, profile string) (time.Time, error) {
	if err := ValidateProfile(profile); err != nil {
		return time.Time{}, err
	}

	var updatedAt int64
	err := s.db.QueryRowContext(ctx, `SELECT updated_at FROM profiles WHERE profile = ?`, profile).Scan(&updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, ErrNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to load activity: %w", err)
	}
	return time.Unix(0, updatedAt), nil
}

// DeleteProfile removes everything stored for a profile
func (s *SQLiteStore) DeleteProfile(ctx context.Context, profile string) error {
	if err := ValidateProfile(profile); err != nil {
		return err
	}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE profile = ?`, profile); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM profiles WHERE profile = ?`, profile)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to delete profile: %w", err)
	}
	log.Info().Str("profile", profile).Msg("Profile deleted")
	return nil
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
