package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisStore keeps the config in a hash and the log in a list, trimmed
// to MaxLogEntries on every append. Redis executes commands serially,
// so the pipelined append-then-trim needs no extra coordination.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	logger    *zap.Logger
}

// NewRedisStore connects to addr and verifies the connection before
// returning.
func NewRedisStore(addr string, db int, keyPrefix string, logger *zap.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("redis store ready", zap.String("addr", addr), zap.Int("db", db))
	return &RedisStore{client: client, keyPrefix: keyPrefix, logger: logger}, nil
}

func (s *RedisStore) configKey() string { return s.keyPrefix + "config" }
func (s *RedisStore) logsKey() string   { return s.keyPrefix + "logs" }

func (s *RedisStore) GetConfig(ctx context.Context) (ConfigRecord, error) {
	values, err := s.client.HGetAll(ctx, s.configKey()).Result()
	if err != nil {
		return ConfigRecord{}, fmt.Errorf("failed to read config: %w", err)
	}
	var record ConfigRecord
	if v, ok := values["target_api_url"]; ok {
		record.TargetAPIURL = &v
	}
	if v, ok := values["admin_credential"]; ok {
		record.AdminCredential = &v
	}
	if v, ok := values["updated_at"]; ok {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			t = t.UTC()
			record.UpdatedAt = &t
		}
	}
	return record, nil
}

func (s *RedisStore) SetConfig(ctx context.Context, update ConfigUpdate) (ConfigRecord, error) {
	url, urlSet, credential, credentialSet, err := update.Fields()
	if err != nil {
		return ConfigRecord{}, err
	}

	fields := map[string]any{
		"updated_at": time.Now().UTC().Format(time.RFC3339Nano),
	}
	if urlSet {
		fields["target_api_url"] = url
	}
	if credentialSet {
		fields["admin_credential"] = credential
	}
	if err := s.client.HSet(ctx, s.configKey(), fields).Err(); err != nil {
		return ConfigRecord{}, fmt.Errorf("failed to write config: %w", err)
	}
	return s.GetConfig(ctx)
}

func (s *RedisStore) AppendLog(ctx context.Context, entry LogEntry) (LogEntry, error) {
	if err := entry.Validate(); err != nil {
		return LogEntry{}, err
	}

	now := time.Now().UTC()
	entry.ID = newLogID(now)
	entry.Timestamp = now
	payload, err := json.Marshal(entry)
	if err != nil {
		return LogEntry{}, fmt.Errorf("failed to encode log entry: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, s.logsKey(), payload)
	pipe.LTrim(ctx, s.logsKey(), -int64(MaxLogEntries), -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return LogEntry{}, fmt.Errorf("failed to append log: %w", err)
	}
	return entry, nil
}

func (s *RedisStore) GetLogs(ctx context.Context, limit int) ([]LogEntry, error) {
	if limit <= 0 {
		limit = DefaultLogLimit
	}

	raw, err := s.client.LRange(ctx, s.logsKey(), -int64(limit), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read logs: %w", err)
	}

	// LRANGE already yields the window in insertion order.
	entries := make([]LogEntry, 0, len(raw))
	for _, item := range raw {
		var e LogEntry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			s.logger.Warn("skipping undecodable log entry", zap.Error(err))
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (s *RedisStore) ClearLogs(ctx context.Context) error {
	if err := s.client.Del(ctx, s.logsKey()).Err(); err != nil {
		return fmt.Errorf("failed to clear logs: %w", err)
	}
	return nil
}

func (s *RedisStore) GetStats(ctx context.Context) (Stats, error) {
	entries, err := s.GetLogs(ctx, MaxLogEntries)
	if err != nil {
		return Stats{}, err
	}
	record, err := s.GetConfig(ctx)
	if err != nil {
		return Stats{}, err
	}
	return deriveStats(entries, record), nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
