// Package db provides database connectivity and the persisted scan record
// model for scanwatch. The scans table is the durable side of the session
// lifecycle: created before the subprocess spawns, finalized when it exits.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/scanwatch/scanwatch/internal/errors"
	"github.com/scanwatch/scanwatch/internal/logging"
)

const (
	// Default database configuration values.
	defaultPostgresPort    = 5432
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 5 * time.Minute
)

// sanitizeDBError converts raw database errors into safe, sanitized errors
// that don't expose SQL details or credentials to API clients. The original
// error is preserved in the Cause field for server-side logging.
func sanitizeDBError(operation string, err error) error {
	if err == nil {
		return nil
	}

	if err == sql.ErrNoRows {
		return errors.NewDatabaseError(errors.CodeNotFound, "resource not found").
			WithOperation(operation)
	}

	if pqErr, ok := err.(*pq.Error); ok {
		var dbErr *errors.DatabaseError
		switch pqErr.Code {
		case "23505": // unique_violation
			dbErr = errors.NewDatabaseError(errors.CodeConflict, "resource already exists")
		case "57014": // query_canceled
			dbErr = errors.NewDatabaseError(errors.CodeCanceled, "database operation was canceled")
		case "08000", "08003", "08006": // connection errors
			dbErr = errors.NewDatabaseError(errors.CodeDatabaseConnection, "database connection error")
		default:
			dbErr = errors.NewDatabaseError(errors.CodeDatabaseQuery,
				fmt.Sprintf("database operation failed: %s", operation))
		}
		dbErr.Operation = operation
		dbErr.Cause = err
		return dbErr
	}

	dbErr := errors.NewDatabaseError(errors.CodeDatabaseQuery,
		fmt.Sprintf("database operation failed: %s", operation))
	dbErr.Operation = operation
	dbErr.Cause = err
	return dbErr
}

// DB wraps sqlx.DB with additional functionality.
type DB struct {
	*sqlx.DB
}

// Config holds database configuration.
type Config struct {
	Host            string        `yaml:"host" json:"host"`
	Port            int           `yaml:"port" json:"port"`
	Database        string        `yaml:"database" json:"database"`
	Username        string        `yaml:"username" json:"username"`
	Password        string        `yaml:"password" json:"password"`
	SSLMode         string        `yaml:"ssl_mode" json:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
}

// DefaultConfig returns the default database configuration. Database name,
// username, and password must be explicitly configured.
func DefaultConfig() Config {
	return Config{
		Host:            "localhost",
		Port:            defaultPostgresPort,
		SSLMode:         "disable",
		MaxOpenConns:    defaultMaxOpenConns,
		MaxIdleConns:    defaultMaxIdleConns,
		ConnMaxLifetime: defaultConnMaxLifetime,
	}
}

// Connect establishes a connection to PostgreSQL. Returns sanitized errors
// that don't leak credentials or DSN details.
func Connect(ctx context.Context, config *Config) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		config.Host, config.Port, config.Database,
		config.Username, config.Password, config.SSLMode,
	)

	sqlxDB, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, errors.WrapDatabaseError(errors.CodeDatabaseConnection,
			"failed to connect to database", err)
	}

	sqlxDB.SetMaxOpenConns(config.MaxOpenConns)
	sqlxDB.SetMaxIdleConns(config.MaxIdleConns)
	sqlxDB.SetConnMaxLifetime(config.ConnMaxLifetime)

	if err := sqlxDB.PingContext(ctx); err != nil {
		_ = sqlxDB.Close()
		return nil, errors.WrapDatabaseError(errors.CodeDatabaseConnection,
			"failed to verify database connection", err)
	}

	logging.InfoDatabase("Connected to database",
		"host", config.Host, "port", config.Port, "database", config.Database)
	return &DB{DB: sqlxDB}, nil
}

// schema is the scans table definition, applied idempotently at startup.
const schema = `
CREATE TABLE IF NOT EXISTS scans (
	id            UUID PRIMARY KEY,
	owner_id      TEXT NOT NULL,
	target        TEXT NOT NULL,
	profile       TEXT NOT NULL,
	status        TEXT NOT NULL,
	summary       JSONB,
	hosts         JSONB,
	error_message TEXT,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at    TIMESTAMPTZ,
	completed_at  TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_scans_owner_created ON scans (owner_id, created_at DESC);
`

// Migrate applies the schema.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return sanitizeDBError("migrate", err)
	}
	return nil
}

// Ping verifies the connection is alive.
func (db *DB) Ping(ctx context.Context) error {
	return db.PingContext(ctx)
}

// ScanRecordRepository handles persisted scan record operations.
type ScanRecordRepository struct {
	db *DB
}

// NewScanRecordRepository creates a new scan record repository.
func NewScanRecordRepository(db *DB) *ScanRecordRepository {
	return &ScanRecordRepository{db: db}
}

// Create inserts a new scan record.
func (r *ScanRecordRepository) Create(ctx context.Context, record *ScanRecord) error {
	query := `
		INSERT INTO scans (id, owner_id, target, profile, status, created_at)
		VALUES (:id, :owner_id, :target, :profile, :status, :created_at)`

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	if _, err := r.db.NamedExecContext(ctx, query, record); err != nil {
		return sanitizeDBError("create scan record", err)
	}
	return nil
}

// UpdateStatus sets the record's status; used when the subprocess starts.
func (r *ScanRecordRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	query := `UPDATE scans SET status = $1, started_at = COALESCE(started_at, now()) WHERE id = $2`
	if _, err := r.db.ExecContext(ctx, query, status, id); err != nil {
		return sanitizeDBError("update scan status", err)
	}
	return nil
}

// Complete stores the parsed outcome and marks the record done.
func (r *ScanRecordRepository) Complete(ctx context.Context, id uuid.UUID, summary, hosts JSONB) error {
	query := `
		UPDATE scans
		SET status = $1, summary = $2, hosts = $3, error_message = NULL, completed_at = now()
		WHERE id = $4`
	if _, err := r.db.ExecContext(ctx, query, ScanStatusDone, summary, hosts, id); err != nil {
		return sanitizeDBError("complete scan record", err)
	}
	return nil
}

// Fail marks the record as errored with a message.
func (r *ScanRecordRepository) Fail(ctx context.Context, id uuid.UUID, message string) error {
	query := `
		UPDATE scans
		SET status = $1, error_message = $2, completed_at = now()
		WHERE id = $3`
	if _, err := r.db.ExecContext(ctx, query, ScanStatusError, message, id); err != nil {
		return sanitizeDBError("fail scan record", err)
	}
	return nil
}

// GetByID retrieves one scan record.
func (r *ScanRecordRepository) GetByID(ctx context.Context, id uuid.UUID) (*ScanRecord, error) {
	var record ScanRecord
	query := `SELECT * FROM scans WHERE id = $1`
	if err := r.db.GetContext(ctx, &record, query, id); err != nil {
		return nil, sanitizeDBError("get scan record", err)
	}
	return &record, nil
}

// ListByOwner returns an owner's scan records, newest first.
func (r *ScanRecordRepository) ListByOwner(ctx context.Context, ownerID string,
	offset, limit int) ([]*ScanRecord, error) {
	var records []*ScanRecord
	query := `
		SELECT * FROM scans
		WHERE owner_id = $1
		ORDER BY created_at DESC
		OFFSET $2 LIMIT $3`
	if err := r.db.SelectContext(ctx, &records, query, ownerID, offset, limit); err != nil {
		return nil, sanitizeDBError("list scan records", err)
	}
	return records, nil
}

// CountByOwner returns the number of records an owner has.
func (r *ScanRecordRepository) CountByOwner(ctx context.Context, ownerID string) (int64, error) {
	var count int64
	query := `SELECT COUNT(*) FROM scans WHERE owner_id = $1`
	if err := r.db.GetContext(ctx, &count, query, ownerID); err != nil {
		return 0, sanitizeDBError("count scan records", err)
	}
	return count, nil
}

// Delete removes a scan record.
func (r *ScanRecordRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM scans WHERE id = $1`, id)
	if err != nil {
		return sanitizeDBError("delete scan record", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return errors.NewDatabaseError(errors.CodeNotFound, "scan record not found").
			WithOperation("delete scan record")
	}
	return nil
}
