package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"atd/signal-comms/internal/domain"
)

// Store keeps published records and the spool of batches that failed to
// persist elsewhere.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at dbPath.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one writer; also keeps ":memory:" databases on a single connection
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

func (s *Store) migrate() error {
	schema := `
	PRAGMA busy_timeout = 5000;

	CREATE TABLE IF NOT EXISTS comm_status (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		device_type TEXT NOT NULL,
		device_id TEXT NOT NULL,
		status_code INTEGER NOT NULL,
		data JSON NOT NULL,
		persisted_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS pending_batches (
		run_id TEXT PRIMARY KEY,
		device_type TEXT NOT NULL,
		run_at DATETIME NOT NULL,
		data JSON NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 1,
		last_error TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_comm_status_run ON comm_status(run_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) Name() string {
	return "sqlite"
}

// Persist upserts every record by id inside one transaction.
func (s *Store) Persist(ctx context.Context, batch domain.PublishBatch) (domain.Ack, error) {
	if err := s.upsertRecords(ctx, batch.Records); err != nil {
		return domain.Ack{}, &domain.SinkError{Sink: s.Name(), RunID: batch.RunID, Err: err}
	}

	return domain.Ack{Sink: s.Name(), Destination: "comm_status", Records: len(batch.Records)}, nil
}

func (s *Store) upsertRecords(ctx context.Context, records []domain.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO comm_status (id, run_id, device_type, device_id, status_code, data)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			run_id = excluded.run_id,
			device_type = excluded.device_type,
			device_id = excluded.device_id,
			status_code = excluded.status_code,
			data = excluded.data,
			persisted_at = CURRENT_TIMESTAMP
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to marshal record %s: %w", r.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, r.ID, r.RunID, r.DeviceType, r.DeviceID, r.StatusCode, data); err != nil {
			return fmt.Errorf("failed to upsert record %s: %w", r.ID, err)
		}
	}

	return tx.Commit()
}

// RecordsForRun returns the stored records of one run ordered by id.
func (s *Store) RecordsForRun(ctx context.Context, runID string) ([]domain.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM comm_status WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var records []domain.Record
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		var r domain.Record
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("failed to unmarshal record: %w", err)
		}
		records = append(records, r)
	}

	return records, rows.Err()
}

func (s *Store) CountRecords(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM comm_status`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}

// SavePending spools a batch for a later retry. Spooling the same run again
// replaces the stored batch and bumps its attempt count.
func (s *Store) SavePending(ctx context.Context, batch domain.PublishBatch, cause error) error {
	data, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("failed to marshal batch %s: %w", batch.RunID, err)
	}

	var lastErr sql.NullString
	if cause != nil {
		lastErr = sql.NullString{String: cause.Error(), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pending_batches (run_id, device_type, run_at, data, last_error)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			data = excluded.data,
			last_error = excluded.last_error,
			attempts = pending_batches.attempts + 1
	`, batch.RunID, string(batch.DeviceType), batch.RunAt.UTC().Format(time.RFC3339Nano), data, lastErr)
	if err != nil {
		return fmt.Errorf("failed to spool batch %s: %w", batch.RunID, err)
	}
	return nil
}

// PendingBatches returns spooled batches of one device type, oldest first.
func (s *Store) PendingBatches(ctx context.Context, deviceType domain.DeviceType) ([]domain.PublishBatch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT data FROM pending_batches
		WHERE device_type = ?
		ORDER BY run_at
	`, string(deviceType))
	if err != nil {
		return nil, fmt.Errorf("failed to query pending batches: %w", err)
	}
	defer rows.Close()

	var batches []domain.PublishBatch
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan pending batch: %w", err)
		}
		var b domain.PublishBatch
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, fmt.Errorf("failed to unmarshal pending batch: %w", err)
		}
		batches = append(batches, b)
	}

	return batches, rows.Err()
}

func (s *Store) DeletePending(ctx context.Context, runID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pending_batches WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("failed to delete pending batch %s: %w", runID, err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
