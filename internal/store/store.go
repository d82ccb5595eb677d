// Package store provides the operational state backing the relay: the
// runtime target configuration, a bounded log of recent forwarded
// requests, and aggregate statistics derived from that log. Several
// backends implement the same contract so deployments can trade
// durability for simplicity.
package store

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MaxLogEntries bounds the retained request log. Appends beyond this
// evict the oldest entries first.
const MaxLogEntries = 1000

// DefaultLogLimit is used by readers that do not specify a limit.
const DefaultLogLimit = 50

// Store is the contract shared by all backends. Implementations must
// serialize writes so the append-then-truncate sequence never
// interleaves between concurrent callers.
type Store interface {
	// GetConfig returns the current stored record. A store with no
	// stored values returns a zero ConfigRecord, not an error.
	GetConfig(ctx context.Context) (ConfigRecord, error)

	// SetConfig merges the update into the stored record: fields absent
	// from the update keep their previous value, present fields replace
	// it. Present-but-empty strings clear the field. Returns the record
	// after the merge.
	SetConfig(ctx context.Context, update ConfigUpdate) (ConfigRecord, error)

	// AppendLog records one forwarded request and evicts the oldest
	// entries beyond MaxLogEntries. The store assigns the entry ID and
	// stamps the insertion time; the returned entry carries both.
	AppendLog(ctx context.Context, entry LogEntry) (LogEntry, error)

	// GetLogs returns the last limit entries in insertion order, oldest
	// of the window first. A non-positive limit means DefaultLogLimit.
	GetLogs(ctx context.Context, limit int) ([]LogEntry, error)

	// ClearLogs removes all retained entries. Clearing an empty log is
	// not an error.
	ClearLogs(ctx context.Context) error

	// GetStats derives aggregates over the currently retained entries.
	GetStats(ctx context.Context) (Stats, error)

	Close() error
}

// ConfigRecord is the stored runtime configuration: the upstream
// override and the admin credential. Nil pointers mean the field was
// never set; empty strings mean it was explicitly cleared. Either way
// the consumer falls through to its static default.
type ConfigRecord struct {
	TargetAPIURL    *string    `json:"targetApiUrl"`
	AdminCredential *string    `json:"adminCredential"`
	UpdatedAt       *time.Time `json:"updatedAt,omitempty"`
}

// URL returns the stored upstream URL and whether one is usable (set
// and non-empty).
func (r ConfigRecord) URL() (string, bool) {
	if r.TargetAPIURL == nil || *r.TargetAPIURL == "" {
		return "", false
	}
	return *r.TargetAPIURL, true
}

// Credential returns the stored admin credential and whether one is
// usable.
func (r ConfigRecord) Credential() (string, bool) {
	if r.AdminCredential == nil || *r.AdminCredential == "" {
		return "", false
	}
	return *r.AdminCredential, true
}

// ConfigUpdate is the partial-merge payload accepted by SetConfig.
// Fields are decoded as any so a wrong JSON type surfaces as a
// ValidationError instead of being silently coerced.
type ConfigUpdate struct {
	TargetAPIURL    any `json:"targetApiUrl"`
	AdminCredential any `json:"adminCredential"`
}

// Fields validates the update and returns each field as (value,
// present). A present field with a non-string JSON value is rejected.
func (u ConfigUpdate) Fields() (url string, urlSet bool, credential string, credentialSet bool, err error) {
	if u.TargetAPIURL != nil {
		s, ok := u.TargetAPIURL.(string)
		if !ok {
			return "", false, "", false, &ValidationError{Field: "targetApiUrl", Reason: "must be a string"}
		}
		url, urlSet = NormalizeBaseURL(s), true
	}
	if u.AdminCredential != nil {
		s, ok := u.AdminCredential.(string)
		if !ok {
			return "", false, "", false, &ValidationError{Field: "adminCredential", Reason: "must be a string"}
		}
		credential, credentialSet = s, true
	}
	return url, urlSet, credential, credentialSet, nil
}

// LogEntry is one forwarded request as recorded after completion.
type LogEntry struct {
	ID         string    `json:"id"`
	Endpoint   string    `json:"endpoint"`
	TargetAPI  string    `json:"targetApi"`
	Status     int       `json:"status"`
	DurationMs int64     `json:"durationMs"`
	Timestamp  time.Time `json:"timestamp"`
	Error      string    `json:"error,omitempty"`
}

// Validate rejects entries the forwarding path could never produce.
func (e LogEntry) Validate() error {
	if e.Endpoint == "" {
		return &ValidationError{Field: "endpoint", Reason: "must not be empty"}
	}
	if e.Timestamp.IsZero() {
		return &ValidationError{Field: "timestamp", Reason: "must be set"}
	}
	return nil
}

// Stats are aggregates derived from the retained log and the config
// record on each read; nothing is stored.
type Stats struct {
	TotalRequests   int        `json:"totalRequests"`
	SuccessRate     float64    `json:"successRate"`
	AvgResponseTime int64      `json:"avgResponseTime"`
	CurrentTarget   string     `json:"currentTarget"`
	LastUpdated     *time.Time `json:"lastUpdated,omitempty"`
}

// ValidationError reports a rejected write with the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NormalizeBaseURL strips exactly one trailing slash so stored URLs
// join cleanly with request paths. "http://x//" keeps one slash.
func NormalizeBaseURL(u string) string {
	return strings.TrimSuffix(u, "/")
}

// newLogID builds an identifier that sorts roughly by time and stays
// readable in log output.
func newLogID(now time.Time) string {
	return fmt.Sprintf("req_%d_%s", now.UnixMilli(), uuid.NewString()[:8])
}

// deriveStats computes the aggregate view shared by every backend.
// Entries with status in [200,300) count as successes; the average
// duration is rounded to the nearest millisecond.
func deriveStats(entries []LogEntry, record ConfigRecord) Stats {
	stats := Stats{LastUpdated: record.UpdatedAt}
	stats.CurrentTarget, _ = record.URL()
	if len(entries) == 0 {
		return stats
	}
	var successes int
	var totalMs int64
	for _, e := range entries {
		if e.Status >= 200 && e.Status < 300 {
			successes++
		}
		totalMs += e.DurationMs
	}
	stats.TotalRequests = len(entries)
	stats.SuccessRate = float64(successes) / float64(len(entries))
	stats.AvgResponseTime = int64(math.Round(float64(totalMs) / float64(len(entries))))
	return stats
}
