package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

const (
	driverSQLite   = "sqlite3"
	driverPostgres = "postgres"

	sqlBusyTimeout = 5 * time.Second
)

// SQLStore is the durable backend, running on either SQLite or
// PostgreSQL. All writes funnel through a single owner goroutine so the
// append-then-truncate sequence and the read-merge-write of the config
// row are serialized without table locks.
type SQLStore struct {
	db        *sql.DB
	driver    string
	ops       chan sqlOp
	done      chan struct{}
	closeOnce sync.Once
	logger    *zap.Logger
}

type sqlOp struct {
	fn    func() error
	reply chan error
}

// NewSQLiteStore opens (creating if needed) the database file at path.
func NewSQLiteStore(path string, logger *zap.Logger) (*SQLStore, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_journal=WAL&_busy_timeout=%d&_foreign_keys=on&_loc=UTC",
		path, sqlBusyTimeout.Milliseconds())
	db, err := sql.Open(driverSQLite, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// The write path is single-owner anyway; one connection avoids
	// SQLITE_BUSY between the pool's handles.
	db.SetMaxOpenConns(1)

	return newSQLStore(db, driverSQLite, logger)
}

// NewPostgresStore connects using a standard postgres URL or DSN.
func NewPostgresStore(databaseURL string, logger *zap.Logger) (*SQLStore, error) {
	db, err := sql.Open(driverPostgres, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	return newSQLStore(db, driverPostgres, logger)
}

func newSQLStore(db *sql.DB, driver string, logger *zap.Logger) (*SQLStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &SQLStore{
		db:     db,
		driver: driver,
		ops:    make(chan sqlOp),
		done:   make(chan struct{}),
		logger: logger,
	}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	go s.writeLoop()
	s.logger.Info("sql store ready", zap.String("driver", driver))
	return s, nil
}

func (s *SQLStore) initSchema(ctx context.Context) error {
	seqType := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if s.driver == driverPostgres {
		seqType = "BIGSERIAL PRIMARY KEY"
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS relay_config (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			target_api_url TEXT,
			admin_credential TEXT,
			updated_at TIMESTAMP
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS request_logs (
			seq %s,
			log_id TEXT NOT NULL,
			endpoint TEXT NOT NULL,
			target_api TEXT NOT NULL DEFAULT '',
			status INTEGER NOT NULL DEFAULT 0,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			ts TIMESTAMP NOT NULL
		)`, seqType),
		`CREATE INDEX IF NOT EXISTS idx_request_logs_ts ON request_logs(ts)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}

// writeLoop is the single owner of all mutations.
func (s *SQLStore) writeLoop() {
	for {
		select {
		case op := <-s.ops:
			op.reply <- op.fn()
		case <-s.done:
			return
		}
	}
}

// write runs fn on the owner goroutine and waits for its result.
func (s *SQLStore) write(ctx context.Context, fn func() error) error {
	op := sqlOp{fn: fn, reply: make(chan error, 1)}
	select {
	case s.ops <- op:
	case <-s.done:
		return fmt.Errorf("store is closed")
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-op.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.driver != driverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) GetConfig(ctx context.Context) (ConfigRecord, error) {
	return s.readConfig(ctx)
}

func (s *SQLStore) readConfig(ctx context.Context) (ConfigRecord, error) {
	var record ConfigRecord
	row := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT target_api_url, admin_credential, updated_at FROM relay_config WHERE id = ?`), 1)
	err := row.Scan(&record.TargetAPIURL, &record.AdminCredential, &record.UpdatedAt)
	if err == sql.ErrNoRows {
		return ConfigRecord{}, nil
	}
	if err != nil {
		return ConfigRecord{}, fmt.Errorf("failed to read config: %w", err)
	}
	return record, nil
}

func (s *SQLStore) SetConfig(ctx context.Context, update ConfigUpdate) (ConfigRecord, error) {
	url, urlSet, credential, credentialSet, err := update.Fields()
	if err != nil {
		return ConfigRecord{}, err
	}

	var merged ConfigRecord
	err = s.write(ctx, func() error {
		current, err := s.readConfig(ctx)
		if err != nil {
			return err
		}
		if urlSet {
			current.TargetAPIURL = &url
		}
		if credentialSet {
			current.AdminCredential = &credential
		}
		now := time.Now().UTC()
		current.UpdatedAt = &now

		var upsert string
		if s.driver == driverPostgres {
			upsert = `INSERT INTO relay_config (id, target_api_url, admin_credential, updated_at)
				VALUES (1, ?, ?, ?)
				ON CONFLICT (id) DO UPDATE SET
					target_api_url = EXCLUDED.target_api_url,
					admin_credential = EXCLUDED.admin_credential,
					updated_at = EXCLUDED.updated_at`
		} else {
			upsert = `INSERT INTO relay_config (id, target_api_url, admin_credential, updated_at)
				VALUES (1, ?, ?, ?)
				ON CONFLICT (id) DO UPDATE SET
					target_api_url = excluded.target_api_url,
					admin_credential = excluded.admin_credential,
					updated_at = excluded.updated_at`
		}
		if _, err := s.db.ExecContext(ctx, s.rebind(upsert),
			current.TargetAPIURL, current.AdminCredential, current.UpdatedAt); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
		merged = current
		return nil
	})
	if err != nil {
		return ConfigRecord{}, err
	}
	return merged, nil
}

func (s *SQLStore) AppendLog(ctx context.Context, entry LogEntry) (LogEntry, error) {
	if err := entry.Validate(); err != nil {
		return LogEntry{}, err
	}

	err := s.write(ctx, func() error {
		now := time.Now().UTC()
		entry.ID = newLogID(now)
		entry.Timestamp = now

		insert := `INSERT INTO request_logs (log_id, endpoint, target_api, status, duration_ms, error, ts)
			VALUES (?, ?, ?, ?, ?, ?, ?)`
		if _, err := s.db.ExecContext(ctx, s.rebind(insert),
			entry.ID, entry.Endpoint, entry.TargetAPI, entry.Status,
			entry.DurationMs, entry.Error, entry.Timestamp); err != nil {
			return fmt.Errorf("failed to append log: %w", err)
		}

		truncate := fmt.Sprintf(`DELETE FROM request_logs WHERE seq NOT IN (
			SELECT seq FROM request_logs ORDER BY seq DESC LIMIT %d)`, MaxLogEntries)
		if _, err := s.db.ExecContext(ctx, truncate); err != nil {
			return fmt.Errorf("failed to truncate logs: %w", err)
		}
		return nil
	})
	if err != nil {
		return LogEntry{}, err
	}
	return entry, nil
}

func (s *SQLStore) GetLogs(ctx context.Context, limit int) ([]LogEntry, error) {
	if limit <= 0 {
		limit = DefaultLogLimit
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT log_id, endpoint, target_api, status, duration_ms, error, ts
		 FROM request_logs ORDER BY seq DESC LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read logs: %w", err)
	}
	defer rows.Close()

	entries, err := scanLogRows(rows)
	if err != nil {
		return nil, err
	}
	// The query walks newest first for the LIMIT; callers get the
	// window in insertion order.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

func scanLogRows(rows *sql.Rows) ([]LogEntry, error) {
	entries := make([]LogEntry, 0, DefaultLogLimit)
	for rows.Next() {
		var e LogEntry
		if err := rows.Scan(&e.ID, &e.Endpoint, &e.TargetAPI, &e.Status,
			&e.DurationMs, &e.Error, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan log row: %w", err)
		}
		e.Timestamp = e.Timestamp.UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read logs: %w", err)
	}
	return entries, nil
}

func (s *SQLStore) ClearLogs(ctx context.Context) error {
	return s.write(ctx, func() error {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM request_logs`); err != nil {
			return fmt.Errorf("failed to clear logs: %w", err)
		}
		return nil
	})
}

func (s *SQLStore) GetStats(ctx context.Context) (Stats, error) {
	entries, err := s.GetLogs(ctx, MaxLogEntries)
	if err != nil {
		return Stats{}, err
	}
	record, err := s.readConfig(ctx)
	if err != nil {
		return Stats{}, err
	}
	return deriveStats(entries, record), nil
}

func (s *SQLStore) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return s.db.Close()
}
