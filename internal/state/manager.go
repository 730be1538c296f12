package state

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Ning0612/pkgsync/internal/domain"
)

// DBFileName is the history database inside the state directory
const DBFileName = "pkgsync.db"

// Status is the outcome of one execution
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Manager handles execution history and the snapshot catalogue
type Manager struct {
	db *sql.DB
}

// ExecutionRecord represents one synchronizer or indexer run on a target
type ExecutionRecord struct {
	ID        int64
	Target    string
	Operation domain.Operation
	StartTime time.Time
	EndTime   time.Time
	Status    Status

	Skipped       int
	Downloaded    int
	Uploaded      int
	DeletedLocal  int
	DeletedRemote int

	Error string
}

// Changed returns how many paths the run mutated
func (r ExecutionRecord) Changed() int {
	return r.Downloaded + r.Uploaded + r.DeletedLocal + r.DeletedRemote
}

// SnapshotRecord is a remote snapshot taken before a push
type SnapshotRecord struct {
	ID         int64
	Target     string
	Key        string
	SnapshotID string
	CreatedAt  time.Time
}

// NewManager creates a new state manager
func NewManager(dataDir string) (*Manager, error) {
	if dataDir == "" {
		return nil, fmt.Errorf("data directory cannot be empty")
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, DBFileName)
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Limit connection pool to prevent "database is locked" errors
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// Enable WAL mode for better concurrency and set busy timeout
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode and busy timeout: %w", err)
	}

	manager := &Manager{db: db}

	if err := manager.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return manager, nil
}

// initSchema creates the database schema
func (m *Manager) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS executions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		target TEXT NOT NULL,
		operation TEXT NOT NULL,
		start_time TIMESTAMP NOT NULL,
		end_time TIMESTAMP NOT NULL,
		status TEXT NOT NULL,
		skipped INTEGER DEFAULT 0,
		downloaded INTEGER DEFAULT 0,
		uploaded INTEGER DEFAULT 0,
		deleted_local INTEGER DEFAULT 0,
		deleted_remote INTEGER DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_executions_target_time ON executions(target, start_time DESC);
	CREATE INDEX IF NOT EXISTS idx_executions_status ON executions(status);

	CREATE TABLE IF NOT EXISTS snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		target TEXT NOT NULL,
		key TEXT NOT NULL,
		snapshot_id TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_snapshots_target_time ON snapshots(target, created_at DESC);
	`

	_, err := m.db.Exec(schema)
	return err
}

// SaveExecution records an execution and returns its ID
func (m *Manager) SaveExecution(record ExecutionRecord) (int64, error) {
	if record.Status != StatusSuccess && record.Status != StatusFailed {
		return 0, fmt.Errorf("invalid status: %s (must be 'success' or 'failed')", record.Status)
	}
	if record.Target == "" {
		return 0, fmt.Errorf("execution target cannot be empty")
	}

	query := `
		INSERT INTO executions (target, operation, start_time, end_time, status,
			skipped, downloaded, uploaded, deleted_local, deleted_remote, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	res, err := m.db.Exec(query,
		record.Target,
		string(record.Operation),
		record.StartTime.UTC(),
		record.EndTime.UTC(),
		string(record.Status),
		record.Skipped,
		record.Downloaded,
		record.Uploaded,
		record.DeletedLocal,
		record.DeletedRemote,
		record.Error,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to save execution record: %w", err)
	}

	return res.LastInsertId()
}

const selectExecution = `
	SELECT id, target, operation, start_time, end_time, status,
		skipped, downloaded, uploaded, deleted_local, deleted_remote, error
	FROM executions
`

type scanner interface {
	Scan(dest ...any) error
}

func scanExecution(row scanner) (ExecutionRecord, error) {
	var (
		record    ExecutionRecord
		operation string
		status    string
	)
	err := row.Scan(
		&record.ID,
		&record.Target,
		&operation,
		&record.StartTime,
		&record.EndTime,
		&status,
		&record.Skipped,
		&record.Downloaded,
		&record.Uploaded,
		&record.DeletedLocal,
		&record.DeletedRemote,
		&record.Error,
	)
	record.Operation = domain.Operation(operation)
	record.Status = Status(status)
	return record, err
}

// GetHistory retrieves execution history, newest first.
// An empty target returns every target.
func (m *Manager) GetHistory(target string, limit int) ([]ExecutionRecord, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}

	var (
		rows *sql.Rows
		err  error
	)
	if target == "" {
		rows, err = m.db.Query(selectExecution+` ORDER BY start_time DESC, id DESC LIMIT ?`, limit)
	} else {
		rows, err = m.db.Query(selectExecution+` WHERE target = ? ORDER BY start_time DESC, id DESC LIMIT ?`, target, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var records []ExecutionRecord
	for rows.Next() {
		record, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}

	return records, nil
}

// GetLastExecution retrieves the newest execution of operation on target.
// Returns nil, nil when there is none.
func (m *Manager) GetLastExecution(target string, operation domain.Operation) (*ExecutionRecord, error) {
	row := m.db.QueryRow(selectExecution+`
		WHERE target = ? AND operation = ?
		ORDER BY start_time DESC, id DESC
		LIMIT 1
	`, target, string(operation))

	record, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query last execution: %w", err)
	}

	return &record, nil
}

// SaveSnapshots records the snapshots of one CreateSnapshotOfRemote call
// in a single transaction
func (m *Manager) SaveSnapshots(target string, snapshots []domain.Snapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO snapshots (target, key, snapshot_id, created_at) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare snapshot insert: %w", err)
	}
	defer stmt.Close()

	for _, s := range snapshots {
		if _, err := stmt.Exec(target, s.Key, s.ID, s.CreatedAt.UTC()); err != nil {
			return fmt.Errorf("failed to save snapshot %s: %w", s.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshots: %w", err)
	}
	return nil
}

// ListSnapshots returns the newest snapshots of target
func (m *Manager) ListSnapshots(target string, limit int) ([]SnapshotRecord, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}

	rows, err := m.db.Query(`
		SELECT id, target, key, snapshot_id, created_at
		FROM snapshots
		WHERE target = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, target, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var records []SnapshotRecord
	for rows.Next() {
		var r SnapshotRecord
		if err := rows.Scan(&r.ID, &r.Target, &r.Key, &r.SnapshotID, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshots: %w", err)
	}

	return records, nil
}

// CleanupOldRecords deletes executions and snapshot records that started
// before cutoff. The remote snapshots themselves are left alone.
func (m *Manager) CleanupOldRecords(cutoff time.Time) (int64, error) {
	// Stored as UTC text, so compare in UTC
	cutoff = cutoff.UTC()

	res, err := m.db.Exec(`DELETE FROM executions WHERE start_time < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up executions: %w", err)
	}
	executions, _ := res.RowsAffected()

	res, err = m.db.Exec(`DELETE FROM snapshots WHERE created_at < ?`, cutoff)
	if err != nil {
		return executions, fmt.Errorf("failed to clean up snapshots: %w", err)
	}
	snapshots, _ := res.RowsAffected()

	return executions + snapshots, nil
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
