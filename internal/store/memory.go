package store

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MemoryStore keeps everything in process memory. State is lost on
// restart, which is fine for development and for deployments that
// treat the log as purely diagnostic.
type MemoryStore struct {
	mu      sync.Mutex
	config  ConfigRecord
	entries []LogEntry
	logger  *zap.Logger
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	return &MemoryStore{logger: logger}
}

func (s *MemoryStore) GetConfig(ctx context.Context) (ConfigRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config, nil
}

func (s *MemoryStore) SetConfig(ctx context.Context, update ConfigUpdate) (ConfigRecord, error) {
	url, urlSet, credential, credentialSet, err := update.Fields()
	if err != nil {
		return ConfigRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if urlSet {
		s.config.TargetAPIURL = &url
	}
	if credentialSet {
		s.config.AdminCredential = &credential
	}
	now := time.Now().UTC()
	s.config.UpdatedAt = &now
	return s.config, nil
}

func (s *MemoryStore) AppendLog(ctx context.Context, entry LogEntry) (LogEntry, error) {
	if err := entry.Validate(); err != nil {
		return LogEntry{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	entry.ID = newLogID(now)
	entry.Timestamp = now
	s.entries = append(s.entries, entry)
	s.pruneLocked()
	return entry, nil
}

// pruneLocked evicts the oldest entries beyond MaxLogEntries. Caller
// holds mu.
func (s *MemoryStore) pruneLocked() {
	if over := len(s.entries) - MaxLogEntries; over > 0 {
		s.entries = append(s.entries[:0], s.entries[over:]...)
	}
}

func (s *MemoryStore) GetLogs(ctx context.Context, limit int) ([]LogEntry, error) {
	if limit <= 0 {
		limit = DefaultLogLimit
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if limit > len(s.entries) {
		limit = len(s.entries)
	}
	out := make([]LogEntry, limit)
	copy(out, s.entries[len(s.entries)-limit:])
	return out, nil
}

func (s *MemoryStore) ClearLogs(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
	return nil
}

func (s *MemoryStore) GetStats(ctx context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deriveStats(s.entries, s.config), nil
}

func (s *MemoryStore) Close() error { return nil }
