package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/harun/joe/pkg/conversation"
)

type memoryProfile struct {
	handle     string
	transcript []conversation.Message
	updatedAt  time.Time
}

// MemoryStore keeps state in process memory. Used for per-connection
// clients whose state ends with the connection.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]*memoryProfile
	now      func() time.Time
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		profiles: make(map[string]*memoryProfile),
		now:      time.Now,
	}
}

// touch returns the entry for p, creating it and bumping activity. Caller holds mu.
func (s *MemoryStore) touch(p string) *memoryProfile {
	entry, ok := s.profiles[p]
	if !ok {
		entry = &memoryProfile{}
		s.profiles[p] = entry
	}
	entry.updatedAt = s.now()
	return entry
}

func (s *MemoryStore) LoadHandle(ctx context.Context, profile string) (string, error) {
	if err := ValidateProfile(profile); err != nil {
		return "", err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if entry, ok := s.profiles[profile]; ok {
		return entry.handle, nil
	}
	return "", nil
}

func (s *MemoryStore) SaveHandle(ctx context.Context, profile, handle string) error {
	if err := ValidateProfile(profile); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch(profile).handle = handle
	return nil
}

func (s *MemoryStore) ClearHandle(ctx context.Context, profile string) error {
	if err := ValidateProfile(profile); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.profiles[profile]; ok {
		entry.handle = ""
	}
	return nil
}

func (s *MemoryStore) AppendMessage(ctx context.Context, profile string, msg conversation.Message) error {
	if err := ValidateProfile(profile); err != nil {
		return err
	}
	if err := validateMessage(msg); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.touch(profile)
	entry.transcript = append(entry.transcript, msg)
	return nil
}

func (s *MemoryStore) LoadTranscript(ctx context.Context, profile string) ([]conversation.Message, error) {
	if err := ValidateProfile(profile); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []conversation.Message{}
	if entry, ok := s.profiles[profile]; ok {
		out = append(out, entry.transcript...)
	}
	return out, nil
}

func (s *MemoryStore) ClearTranscript(ctx context.Context, profile string) error {
	if err := ValidateProfile(profile); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.profiles[profile]; ok {
		entry.transcript = nil
	}
	return nil
}

func (s *MemoryStore) ListProfiles(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	profiles := make([]string, 0, len(s.profiles))
	for p := range s.profiles {
		profiles = append(profiles, p)
	}
	sort.Strings(profiles)
	return profiles, nil
}

func (s *MemoryStore) LastActivity(ctx context.Context, profile string) (time.Time, error) {
	if err := ValidateProfile(profile); err != nil {
		return time.Time{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.profiles[profile]
	if !ok {
		return time.Time{}, ErrNotFound
	}
	return entry.updatedAt, nil
}

func (s *MemoryStore) DeleteProfile(ctx context.Context, profile string) error {
	if err := ValidateProfile(profile); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.profiles, profile)
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
