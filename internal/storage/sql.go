package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/ironseal/ironseal/pkg/audit"
	"github.com/ironseal/ironseal/pkg/sealctl"
)

// SQL is a relational-store-backed implementation of the seal
// configuration and audit log repositories, built over database/sql so it
// runs unmodified against either the Postgres (lib/pq) or MySQL
// (go-sql-driver/mysql) driver the database credentials engine's own
// connectors use. Only the two single-table, high-traffic
// repositories (seal config, audit log) get a dedicated SQL
// implementation; the remaining engines' repositories are exercised
// against Memory in tests and can be backed by the same *sql.DB using the
// identical query patterns shown here.
type SQL struct {
	db *sql.DB
}

// NewSQL wraps an already-opened *sql.DB. Schema creation and migration
// are the caller's responsibility.
func NewSQL(db *sql.DB) *SQL {
	return &SQL{db: db}
}

// --- sealctl.ConfigStore ---

// Load reads the single seal_configuration row, or nil if the table is
// empty (not yet initialized).
func (s *SQL) Load(ctx context.Context) (*sealctl.Config, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT initialized, share_count, threshold, wrapped_key_ciphertext,
		       verification_hash, root_token_salt, root_token_hash, failed_unseal_count
		FROM seal_configuration WHERE id = 1`)

	var cfg sealctl.Config
	err := row.Scan(&cfg.Initialized, &cfg.ShareCount, &cfg.Threshold,
		&cfg.WrappedKeyCiphertext, &cfg.VerificationHash,
		&cfg.RootTokenSalt, &cfg.RootTokenHash, &cfg.FailedUnsealCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save upserts the single seal_configuration row.
func (s *SQL) Save(ctx context.Context, cfg *sealctl.Config) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO seal_configuration
			(id, initialized, share_count, threshold, wrapped_key_ciphertext,
			 verification_hash, root_token_salt, root_token_hash, failed_unseal_count)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			initialized = EXCLUDED.initialized,
			share_count = EXCLUDED.share_count,
			threshold = EXCLUDED.threshold,
			wrapped_key_ciphertext = EXCLUDED.wrapped_key_ciphertext,
			verification_hash = EXCLUDED.verification_hash,
			root_token_salt = EXCLUDED.root_token_salt,
			root_token_hash = EXCLUDED.root_token_hash,
			failed_unseal_count = EXCLUDED.failed_unseal_count`,
		cfg.Initialized, cfg.ShareCount, cfg.Threshold, cfg.WrappedKeyCiphertext,
		cfg.VerificationHash, cfg.RootTokenSalt, cfg.RootTokenHash, cfg.FailedUnsealCount)
	return err
}

// --- audit.Repository ---

// SQLAudit adapts a *SQL to pkg/audit.Repository.
type SQLAudit struct {
	db *sql.DB
}

// NewSQLAudit wraps db for audit-log persistence.
func NewSQLAudit(db *sql.DB) audit.Repository { return &SQLAudit{db: db} }

func (a *SQLAudit) LastHash(ctx context.Context, shard int) (string, error) {
	row := a.db.QueryRowContext(ctx, `
		SELECT current_hash FROM audit_logs
		WHERE shard = $1 ORDER BY created_at DESC, id DESC LIMIT 1`, shard)
	var hash string
	err := row.Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return hash, err
}

func (a *SQLAudit) Append(ctx context.Context, rec *audit.Record) error {
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO audit_logs
			(id, actor_id, action, resource_type, resource_id, old_value, new_value,
			 source_address, user_agent, status, error, correlation_id,
			 created_at, previous_hash, current_hash, shard)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		rec.ID, rec.ActorID, rec.Action, rec.ResourceType, rec.ResourceID,
		rec.OldValue, rec.NewValue, rec.SourceAddress, rec.UserAgent,
		string(rec.Status), rec.Error, rec.CorrelationID,
		rec.CreatedAt, rec.PreviousHash, rec.CurrentHash, rec.Shard)
	return err
}

func (a *SQLAudit) ListRange(ctx context.Context, shard int, from, to time.Time) ([]*audit.Record, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT id, actor_id, action, resource_type, resource_id, old_value, new_value,
		       source_address, user_agent, status, error, correlation_id,
		       created_at, previous_hash, current_hash, shard
		FROM audit_logs
		WHERE shard = $1 AND created_at BETWEEN $2 AND $3
		ORDER BY created_at ASC, id ASC`, shard, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*audit.Record
	for rows.Next() {
		rec := &audit.Record{}
		var status string
		if err := rows.Scan(&rec.ID, &rec.ActorID, &rec.Action, &rec.ResourceType, &rec.ResourceID,
			&rec.OldValue, &rec.NewValue, &rec.SourceAddress, &rec.UserAgent, &status, &rec.Error,
			&rec.CorrelationID, &rec.CreatedAt, &rec.PreviousHash, &rec.CurrentHash, &rec.Shard); err != nil {
			return nil, err
		}
		rec.Status = audit.Status(status)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (a *SQLAudit) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := a.db.ExecContext(ctx, `DELETE FROM audit_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
