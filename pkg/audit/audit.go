// Package audit implements the tamper-evident audit log: every authorized
// operation is appended as a hash-chained record, with sensitive fields
// redacted before the record is ever persisted.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	ierrors "github.com/ironseal/ironseal/internal/errors"
)

// Status is the outcome of the audited operation.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusDenied  Status = "denied"
)

// sensitiveFields is the case-insensitive key set redacted from old/new
// value snapshots before a record is persisted.
var sensitiveFields = map[string]struct{}{
	"password":        {},
	"secret":          {},
	"token":           {},
	"api_key":         {},
	"apikey":          {},
	"private_key":     {},
	"credential":      {},
	"cvv":             {},
	"pin":             {},
	"ssn":             {},
	"credit_card":     {},
	"social_security": {},
}

const redactedPlaceholder = "[REDACTED]"

// Record is one persisted audit entry. CurrentHash/PreviousHash form the
// tamper-evident chain: each record's CurrentHash covers every other field
// plus the prior record's CurrentHash.
type Record struct {
	ID            string
	ActorID       string
	Action        string
	ResourceType  string
	ResourceID    string
	OldValue      string // redacted JSON, or "" if not applicable
	NewValue      string // redacted JSON, or "" if not applicable
	SourceAddress string
	UserAgent     string
	Status        Status
	Error         string
	CorrelationID string
	CreatedAt     time.Time
	PreviousHash  string
	CurrentHash   string
	Shard         int
}

// AppendInput is the caller-supplied content of one audit entry. OldValue
// and NewValue are arbitrary JSON-serializable values; they are redacted
// recursively before any canonical form is computed.
type AppendInput struct {
	ActorID       string
	Action        string
	ResourceType  string
	ResourceID    string
	OldValue      any
	NewValue      any
	SourceAddress string
	UserAgent     string
	Status        Status
	Error         string
	CorrelationID string // generated if empty
}

// Repository persists Records and supplies the chain tail for the next
// append. A concrete implementation lives in internal/storage.
type Repository interface {
	// LastHash returns the CurrentHash of the most recently appended record
	// in shard, or "" if the shard is empty.
	LastHash(ctx context.Context, shard int) (string, error)
	Append(ctx context.Context, rec *Record) error
	// ListRange returns records in a shard in creation order within [from, to].
	ListRange(ctx context.Context, shard int, from, to time.Time) ([]*Record, error)
	// DeleteOlderThan removes records created before cutoff, across all
	// shards, for retention enforcement.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// defaultRetention is ~7 years (2555 days).
const defaultRetention = 2555 * 24 * time.Hour

// defaultShardCount is the number of append locks/chains the Logger
// maintains; one means a single global chain. With more, a correlation
// id's hash picks the shard so load spreads across chains.
const defaultShardCount = 1

// Logger implements the Audit Log's append and verification operations.
type Logger struct {
	repo      Repository
	retention time.Duration
	shards    int
	locks     []sync.Mutex
}

// Option configures a Logger at construction.
type Option func(*Logger)

// WithRetention overrides the default ~7-year retention window.
func WithRetention(d time.Duration) Option {
	return func(l *Logger) { l.retention = d }
}

// WithShardCount splits append serialization across N independent hash
// chains, each ordered only internally; across shards ordering is by
// timestamp alone.
func WithShardCount(n int) Option {
	return func(l *Logger) {
		if n > 0 {
			l.shards = n
		}
	}
}

// New wires a Logger against its Repository.
func New(repo Repository, opts ...Option) *Logger {
	l := &Logger{repo: repo, retention: defaultRetention, shards: defaultShardCount}
	for _, opt := range opts {
		opt(l)
	}
	l.locks = make([]sync.Mutex, l.shards)
	return l
}

func (l *Logger) shardFor(correlationID string) int {
	if l.shards <= 1 {
		return 0
	}
	sum := sha256.Sum256([]byte(correlationID))
	return int(sum[0]) % l.shards
}

// Append redacts old/new values, computes the next hash in the chain, and
// persists the record. Chain hashing is serialized per shard so no two
// appends in the same shard race on PreviousHash.
func (l *Logger) Append(ctx context.Context, in AppendInput) (*Record, error) {
	correlationID := in.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	shard := l.shardFor(correlationID)

	l.locks[shard].Lock()
	defer l.locks[shard].Unlock()

	oldJSON, err := redactedJSON(in.OldValue)
	if err != nil {
		return nil, ierrors.Wrap(ierrors.InvalidArgument, "Append", err)
	}
	newJSON, err := redactedJSON(in.NewValue)
	if err != nil {
		return nil, ierrors.Wrap(ierrors.InvalidArgument, "Append", err)
	}

	previousHash, err := l.repo.LastHash(ctx, shard)
	if err != nil {
		return nil, ierrors.Wrap(ierrors.Internal, "Append", err)
	}

	rec := &Record{
		ID:            uuid.NewString(),
		ActorID:       in.ActorID,
		Action:        in.Action,
		ResourceType:  in.ResourceType,
		ResourceID:    in.ResourceID,
		OldValue:      oldJSON,
		NewValue:      newJSON,
		SourceAddress: in.SourceAddress,
		UserAgent:     in.UserAgent,
		Status:        in.Status,
		Error:         in.Error,
		CorrelationID: correlationID,
		CreatedAt:     time.Now().UTC(),
		PreviousHash:  previousHash,
		Shard:         shard,
	}
	rec.CurrentHash = canonicalHash(rec)

	if err := l.repo.Append(ctx, rec); err != nil {
		return nil, ierrors.Wrap(ierrors.Internal, "Append", err)
	}
	return rec, nil
}

// RecordRead satisfies pkg/kv.AuditRecorder by duck typing: kv never
// imports this package directly, keeping the engine-to-audit dependency
// one-directional.
func (l *Logger) RecordRead(ctx context.Context, path string, version int) error {
	_, err := l.Append(ctx, AppendInput{
		Action:       "read",
		ResourceType: "secret",
		ResourceID:   path,
		NewValue:     map[string]any{"version": version},
		Status:       StatusSuccess,
	})
	return err
}

// RecordWrite satisfies pkg/kv.AuditRecorder.
func (l *Logger) RecordWrite(ctx context.Context, path string, oldVersion *int, newVersion int, plaintextSHA256 string) error {
	var old any
	if oldVersion != nil {
		old = map[string]any{"version": *oldVersion}
	}
	_, err := l.Append(ctx, AppendInput{
		Action:       "write",
		ResourceType: "secret",
		ResourceID:   path,
		OldValue:     old,
		NewValue:     map[string]any{"version": newVersion, "sha256": plaintextSHA256},
		Status:       StatusSuccess,
	})
	return err
}

// RecordKeyEvent satisfies pkg/transit.AuditRecorder by duck typing:
// transit never imports this package directly either.
func (l *Logger) RecordKeyEvent(ctx context.Context, action, keyName string, version int) error {
	_, err := l.Append(ctx, AppendInput{
		Action:       action,
		ResourceType: "transit_key",
		ResourceID:   keyName,
		NewValue:     map[string]any{"version": version},
		Status:       StatusSuccess,
	})
	return err
}

// RecordLeaseEvent satisfies pkg/dbcreds.AuditRecorder.
func (l *Logger) RecordLeaseEvent(ctx context.Context, action, leaseID, database, role string) error {
	_, err := l.Append(ctx, AppendInput{
		Action:       action,
		ResourceType: "dynamic_credential_lease",
		ResourceID:   leaseID,
		NewValue:     map[string]any{"database": database, "role": role},
		Status:       StatusSuccess,
	})
	return err
}

// RecordDatabaseEvent satisfies pkg/dbcreds.AuditRecorder for operations
// scoped to a database config rather than a single lease (root-credential
// rotation).
func (l *Logger) RecordDatabaseEvent(ctx context.Context, action, database string) error {
	_, err := l.Append(ctx, AppendInput{
		Action:       action,
		ResourceType: "database_config",
		ResourceID:   database,
		Status:       StatusSuccess,
	})
	return err
}

// VerificationError describes the first chain break found by Verify.
type VerificationError struct {
	RecordID string
	Reason   string
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("audit chain broken at record %s: %s", e.RecordID, e.Reason)
}

// ListRange returns a shard's records within [from, to], for operator
// inspection; it does not verify the chain (see Verify).
func (l *Logger) ListRange(ctx context.Context, shard int, from, to time.Time) ([]*Record, error) {
	records, err := l.repo.ListRange(ctx, shard, from, to)
	if err != nil {
		return nil, ierrors.Wrap(ierrors.Internal, "ListRange", err)
	}
	return records, nil
}

// Verify recomputes each record's hash in [from, to] within shard and
// compares it against the stored CurrentHash, also checking the
// previous-hash linkage between consecutive records. It aborts and reports
// the offending record at the first mismatch.
func (l *Logger) Verify(ctx context.Context, shard int, from, to time.Time) error {
	records, err := l.repo.ListRange(ctx, shard, from, to)
	if err != nil {
		return ierrors.Wrap(ierrors.Internal, "Verify", err)
	}

	var prevHash string
	for i, rec := range records {
		if i > 0 && rec.PreviousHash != prevHash {
			return ierrors.Wrap(ierrors.Internal, "Verify", &VerificationError{RecordID: rec.ID, Reason: "previous_hash does not match prior record's current_hash"})
		}
		if canonicalHash(rec) != rec.CurrentHash {
			return ierrors.Wrap(ierrors.Internal, "Verify", &VerificationError{RecordID: rec.ID, Reason: "current_hash does not match recomputed hash"})
		}
		prevHash = rec.CurrentHash
	}
	return nil
}

// Cleanup removes records older than the configured retention window. The
// chain is deliberately broken at the oldest retained record; verification
// callers must parameterize their earliest-considered record accordingly.
func (l *Logger) Cleanup(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-l.retention)
	n, err := l.repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, ierrors.Wrap(ierrors.Internal, "Cleanup", err)
	}
	return n, nil
}

// canonicalHash computes the canonical pipe-separated form over a record's
// fields (every field but CurrentHash itself, ending with PreviousHash)
// and returns its SHA-256, base64-encoded.
func canonicalHash(rec *Record) string {
	fields := []string{
		rec.ID,
		rec.ActorID,
		rec.Action,
		rec.ResourceType,
		rec.ResourceID,
		rec.OldValue,
		rec.NewValue,
		rec.SourceAddress,
		rec.UserAgent,
		string(rec.Status),
		rec.Error,
		rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		rec.CorrelationID,
		rec.PreviousHash,
	}
	canonical := strings.Join(fields, "|")
	sum := sha256.Sum256([]byte(canonical))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// redactedJSON marshals v to JSON after recursively replacing any object
// key in sensitiveFields with redactedPlaceholder. A nil v serializes to
// the empty string rather than the literal "null", matching the
// not-applicable case (e.g. Read operations have no OldValue).
func redactedJSON(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return "", err
	}
	redacted := redactValue(generic)
	out, err := json.Marshal(redacted)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func redactValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if isSensitiveKey(k) {
				out[k] = redactedPlaceholder
				continue
			}
			out[k] = redactValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = redactValue(val)
		}
		return out
	default:
		return v
	}
}

func isSensitiveKey(key string) bool {
	_, ok := sensitiveFields[strings.ToLower(key)]
	return ok
}

// ParseShard is a small helper for CLI/transport callers that accept a
// shard id as a string flag.
func ParseShard(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}
