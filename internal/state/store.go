// Package state persists the run journal: one row per generation or
// analysis pass, with the change records it produced. The journal is an
// operational log for auditing what the tool changed and when; generation
// itself never reads from it.
package state

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mscottsewell/DataverseToPowerBI-sub003/internal/analyzer"
)

// RunStatus is the lifecycle state of a journal run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Run is one journaled pass.
type Run struct {
	ID             int64
	StartedAt      time.Time
	FinishedAt     *time.Time
	ConnectionMode string
	StorageMode    string
	TableCount     int
	FullRebuild    bool
	Status         RunStatus
	Error          string
}

// Store is the SQLite-backed run journal.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the journal at path and applies pending
// migrations. Use ":memory:" for an in-memory journal.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	dsn := path + "?_pragma=foreign_keys(1)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping journal: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the journal.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// BeginRun records the start of a pass and returns its ID.
func (s *Store) BeginRun(connection, storage string, tableCount int, fullRebuild bool) (int64, error) {
	if s.db == nil {
		return 0, fmt.Errorf("journal not opened")
	}

	res, err := s.db.Exec(
		`INSERT INTO runs (started_at, connection_mode, storage_mode, table_count, full_rebuild, status)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		time.Now().UTC(), connection, storage, tableCount, fullRebuild, RunStatusRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to begin run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to begin run: %w", err)
	}
	s.logger.Debug("journal run started", "run_id", id)
	return id, nil
}

// FinishRun marks a run completed or failed.
func (s *Store) FinishRun(id int64, status RunStatus, errMsg string) error {
	if s.db == nil {
		return fmt.Errorf("journal not opened")
	}

	var errPtr *string
	if errMsg != "" {
		errPtr = &errMsg
	}
	_, err := s.db.Exec(
		`UPDATE runs SET finished_at = ?, status = ?, error = ? WHERE id = ?`,
		time.Now().UTC(), status, errPtr, id,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return nil
}

// AddChangeRecords stores the change report for a run.
func (s *Store) AddChangeRecords(runID int64, records []analyzer.Record) error {
	if s.db == nil {
		return fmt.Errorf("journal not opened")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to add change records: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO run_changes (run_id, kind, object, name, parent, impact, summary)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to add change records: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.Exec(runID, r.Kind, r.Object, r.Name, r.Parent, r.Impact, r.Summary); err != nil {
			return fmt.Errorf("failed to add change records: %w", err)
		}
	}
	return tx.Commit()
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(limit int) ([]Run, error) {
	if s.db == nil {
		return nil, fmt.Errorf("journal not opened")
	}

	rows, err := s.db.Query(
		`SELECT id, started_at, finished_at, connection_mode, storage_mode, table_count, full_rebuild, status, error
		 FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var finished sql.NullTime
		var errMsg sql.NullString
		if err := rows.Scan(&r.ID, &r.StartedAt, &finished, &r.ConnectionMode, &r.StorageMode,
			&r.TableCount, &r.FullRebuild, &r.Status, &errMsg); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if finished.Valid {
			t := finished.Time
			r.FinishedAt = &t
		}
		r.Error = errMsg.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListChangeRecords returns the change report recorded for a run.
func (s *Store) ListChangeRecords(runID int64) ([]analyzer.Record, error) {
	if s.db == nil {
		return nil, fmt.Errorf("journal not opened")
	}

	rows, err := s.db.Query(
		`SELECT kind, object, name, parent, impact, summary FROM run_changes WHERE run_id = ? ORDER BY id`,
		runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list change records: %w", err)
	}
	defer rows.Close()

	var out []analyzer.Record
	for rows.Next() {
		var r analyzer.Record
		var parent sql.NullString
		if err := rows.Scan(&r.Kind, &r.Object, &r.Name, &parent, &r.Impact, &r.Summary); err != nil {
			return nil, fmt.Errorf("failed to scan change record: %w", err)
		}
		r.Parent = parent.String
		out = append(out, r)
	}
	return out, rows.Err()
}
