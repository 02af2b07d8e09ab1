package session

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/harun/joe/internal/tracing"
	"github.com/harun/joe/pkg/conversation"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

const (
	tracerName = "joe.session"

	handleExt     = ".handle"
	transcriptExt = ".jsonl"
)

// transcriptEntry is one JSONL line
type transcriptEntry struct {
	Profile string               `json:"profile"`
	Message conversation.Message `json:"message"`
}

// FileStore keeps one handle file and one JSONL transcript per profile
type FileStore struct {
	dir        string
	writeLocks map[string]*sync.Mutex
	locksMu    sync.Mutex
}

// NewFileStore creates a FileStore rooted at dir
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(homeDir, ".joe", "sessions")
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}

	log.Info().Str("dir", dir).Msg("File session store initialized")

	return &FileStore{
		dir:        dir,
		writeLocks: make(map[string]*sync.Mutex),
	}, nil
}

func (s *FileStore) handlePath(profile string) string {
	return filepath.Join(s.dir, profile+handleExt)
}

func (s *FileStore) transcriptPath(profile string) string {
	return filepath.Join(s.dir, profile+transcriptExt)
}

// getWriteLock gets or creates a write lock for a profile
func (s *FileStore) getWriteLock(profile string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	if lock, exists := s.writeLocks[profile]; exists {
		return lock
	}

	lock := &sync.Mutex{}
	s.writeLocks[profile] = lock
	return lock
}

// LoadHandle reads the stored handle
func (s *FileStore) LoadHandle(ctx context.Context, profile string) (string, error) {
	if err := ValidateProfile(profile); err != nil {
		return "", err
	}

	data, err := os.ReadFile(s.handlePath(profile))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read handle file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// SaveHandle replaces the stored handle
func (s *FileStore) SaveHandle(ctx context.Context, profile, handle string) error {
	ctx, span := tracing.StartSpan(ctx, tracerName, "session.save_handle",
		attribute.String("profile", profile),
	)
	defer span.End()

	if err := ValidateProfile(profile); err != nil {
		return tracing.Fail(span, err)
	}
	if handle == "" {
		return s.ClearHandle(ctx, profile)
	}

	lock := s.getWriteLock(profile)
	lock.Lock()
	defer lock.Unlock()

	// Write to a temp file and rename so a crash never leaves half a handle
	tmp, err := os.CreateTemp(s.dir, profile+".handle-*")
	if err != nil {
		return tracing.Fail(span, fmt.Errorf("failed to create temp handle file: %w", err))
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.WriteString(handle + "\n"); err != nil {
		tmp.Close()
		return tracing.Fail(span, fmt.Errorf("failed to write handle: %w", err))
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return tracing.Fail(span, fmt.Errorf("failed to sync handle: %w", err))
	}
	if err := tmp.Close(); err != nil {
		return tracing.Fail(span, fmt.Errorf("failed to close handle file: %w", err))
	}
	if err := os.Rename(tmpPath, s.handlePath(profile)); err != nil {
		return tracing.Fail(span, fmt.Errorf("failed to replace handle file: %w", err))
	}

	logger := tracing.LoggerFromContext(ctx, log.Logger)
	logger.Debug().
		Str("profile", profile).
		Msg("Handle saved")
	return nil
}

// ClearHandle removes the stored handle
func (s *FileStore) ClearHandle(ctx context.Context, profile string) error {
	if err := ValidateProfile(profile); err != nil {
		return err
	}

	lock := s.getWriteLock(profile)
	lock.Lock()
	defer lock.Unlock()

	if err := os.Remove(s.handlePath(profile)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove handle file: %w", err)
	}
	return nil
}

// AppendMessage appends a message to the profile's transcript
func (s *FileStore) AppendMessage(ctx context.Context, profile string, msg conversation.Message) error {
	ctx, span := tracing.StartSpan(ctx, tracerName, "session.append_message",
		attribute.String("profile", profile),
		attribute.String("role", string(msg.Role)),
	)
	defer span.End()

	if err := ValidateProfile(profile); err != nil {
		return tracing.Fail(span, err)
	}
	if err := validateMessage(msg); err != nil {
		return tracing.Fail(span, err)
	}

	lock := s.getWriteLock(profile)
	lock.Lock()
	defer lock.Unlock()

	file, err := os.OpenFile(s.transcriptPath(profile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return tracing.Fail(span, fmt.Errorf("failed to open transcript file: %w", err))
	}
	defer file.Close()

	data, err := json.Marshal(transcriptEntry{Profile: profile, Message: msg})
	if err != nil {
		return tracing.Fail(span, fmt.Errorf("failed to marshal message: %w", err))
	}

	if _, err := file.Write(append(data, '\n')); err != nil {
		return tracing.Fail(span, fmt.Errorf("failed to write message: %w", err))
	}

	// Sync to disk
	if err := file.Sync(); err != nil {
		return tracing.Fail(span, fmt.Errorf("failed to sync file: %w", err))
	}

	logger := tracing.LoggerFromContext(ctx, log.Logger)
	logger.Debug().
		Str("profile", profile).
		Str("role", string(msg.Role)).
		Msg("Message appended")

	return nil
}

// LoadTranscript loads all messages of a profile, skipping unreadable lines
func (s *FileStore) LoadTranscript(ctx context.Context, profile string) ([]conversation.Message, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "session.load_transcript",
		attribute.String("profile", profile),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, log.Logger).With().Str("profile", profile).Logger()

	if err := ValidateProfile(profile); err != nil {
		return nil, tracing.Fail(span, err)
	}

	file, err := os.Open(s.transcriptPath(profile))
	if os.IsNotExist(err) {
		return []conversation.Message{}, nil
	}
	if err != nil {
		return nil, tracing.Fail(span, fmt.Errorf("failed to open transcript file: %w", err))
	}
	defer file.Close()

	messages := []conversation.Message{}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var entry transcriptEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			logger.Warn().Int("line", lineNum).Err(err).Msg("Failed to parse line, skipping")
			continue
		}
		if err := validateMessage(entry.Message); err != nil {
			logger.Warn().Int("line", lineNum).Err(err).Msg("Invalid entry, skipping")
			continue
		}

		messages = append(messages, entry.Message)
	}

	if err := scanner.Err(); err != nil {
		return nil, tracing.Fail(span, fmt.Errorf("failed to read transcript file: %w", err))
	}

	logger.Debug().Int("messages", len(messages)).Msg("Transcript loaded")
	return messages, nil
}

// ClearTranscript removes the profile's transcript
func (s *FileStore) ClearTranscript(ctx context.Context, profile string) error {
	if err := ValidateProfile(profile); err != nil {
		return err
	}

	lock := s.getWriteLock(profile)
	lock.Lock()
	defer lock.Unlock()

	if err := os.Remove(s.transcriptPath(profile)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove transcript file: %w", err)
	}
	return nil
}

// ListProfiles lists profiles that have a handle or a transcript
func (s *FileStore) ListProfiles(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read sessions directory: %w", err)
	}

	seen := make(map[string]bool)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		for _, ext := range []string{handleExt, transcriptExt} {
			if strings.HasSuffix(name, ext) {
				seen[strings.TrimSuffix(name, ext)] = true
			}
		}
	}

	profiles := make([]string, 0, len(seen))
	for p := range seen {
		profiles = append(profiles, p)
	}
	sort.Strings(profiles)
	return profiles, nil
}

// LastActivity returns the newest modification time of the profile's files
func (s *FileStore) LastActivity(ctx context.Context, profile string) (time.Time, error) {
	if err := ValidateProfile(profile); err != nil {
		return time.Time{}, err
	}

	var latest time.Time
	found := false
	for _, path := range []string{s.handlePath(profile), s.transcriptPath(profile)} {
		info, err := os.Stat(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return time.Time{}, fmt.Errorf("failed to stat %s: %w", filepath.Base(path), err)
		}
		found = true
		if info.ModTime().After(latest) {
			latest = info.ModTime()
		}
	}
	if !found {
		return time.Time{}, ErrNotFound
	}
	return latest, nil
}

// DeleteProfile removes everything stored for a profile
func (s *FileStore) DeleteProfile(ctx context.Context, profile string) error {
	if err := ValidateProfile(profile); err != nil {
		return err
	}

	// Wait for any in-progress writes
	lock := s.getWriteLock(profile)
	lock.Lock()
	defer lock.Unlock()

	for _, path := range []string{s.handlePath(profile), s.transcriptPath(profile)} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete %s: %w", filepath.Base(path), err)
		}
	}

	s.locksMu.Lock()
	delete(s.writeLocks, profile)
	s.locksMu.Unlock()

	log.Info().Str("profile", profile).Msg("Profile deleted")
	return nil
}

// Close is a no-op; every operation opens and closes its own files
func (s *FileStore) Close() error {
	return nil
}
