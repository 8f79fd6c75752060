package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/seantiz/foundry/internal/model"

	_ "modernc.org/sqlite"
)

const createBatchesTable = `
CREATE TABLE IF NOT EXISTS batches (
    id          TEXT PRIMARY KEY,
    project_id  TEXT NOT NULL,
    mode        TEXT NOT NULL,
    status      TEXT NOT NULL,
    task_count  INTEGER NOT NULL,
    failed      INTEGER NOT NULL DEFAULT 0,
    error       TEXT NOT NULL DEFAULT '',
    created_at  DATETIME NOT NULL,
    started_at  DATETIME,
    finished_at DATETIME
)`

const createTaskResultsTable = `
CREATE TABLE IF NOT EXISTS task_results (
    batch_id       TEXT NOT NULL REFERENCES batches(id),
    seq            INTEGER NOT NULL,
    task_id        TEXT NOT NULL,
    description    TEXT NOT NULL,
    task_type      TEXT NOT NULL DEFAULT '',
    criteria       TEXT NOT NULL DEFAULT '[]',
    backend        TEXT NOT NULL DEFAULT '',
    exit_code      INTEGER NOT NULL,
    stdout         TEXT NOT NULL DEFAULT '',
    stderr         TEXT NOT NULL DEFAULT '',
    error          TEXT NOT NULL DEFAULT '',
    artifacts_path TEXT NOT NULL DEFAULT '',
    duration_ms    INTEGER NOT NULL,
    created_at     DATETIME NOT NULL,
    PRIMARY KEY (batch_id, seq)
)`

const batchColumns = `id, project_id, mode, status, task_count, failed, error,
	created_at, started_at, finished_at`

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Every connection to ":memory:" is a separate database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec(createBatchesTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create batches table: %w", err)
	}

	if _, err := db.Exec(createTaskResultsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create task_results table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateBatch inserts a new batch record.
func (s *SQLiteStore) CreateBatch(ctx context.Context, b *model.Batch) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO batches (`+batchColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.ProjectID, b.Mode, b.Status, b.TaskCount, b.Failed, b.Error,
		b.CreatedAt, b.StartedAt, b.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBatch(row rowScanner) (*model.Batch, error) {
	b := &model.Batch{}
	err := row.Scan(
		&b.ID, &b.ProjectID, &b.Mode, &b.Status, &b.TaskCount, &b.Failed, &b.Error,
		&b.CreatedAt, &b.StartedAt, &b.FinishedAt,
	)
	return b, err
}

// GetBatch retrieves a batch by ID.
func (s *SQLiteStore) GetBatch(ctx context.Context, id string) (*model.Batch, error) {
	b, err := scanBatch(s.db.QueryRowContext(ctx,
		`SELECT `+batchColumns+` FROM batches WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get batch: %w", err)
	}
	return b, nil
}

// ListBatches returns a paginated list of batches ordered by created_at DESC,
// along with the total count of all batches.
func (s *SQLiteStore) ListBatches(ctx context.Context, limit, offset int) ([]*model.Batch, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM batches").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count batches: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT `+batchColumns+` FROM batches ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	var batches []*model.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan batch: %w", err)
		}
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate batches: %w", err)
	}

	return batches, total, nil
}

// UpdateBatchStatus moves a batch to status. Moving to running sets
// started_at; moving to a terminal status sets finished_at. Transitions not
// allowed by model.ValidTransition fail with ErrInvalidTransition.
func (s *SQLiteStore) UpdateBatchStatus(ctx context.Context, id, status string) error {
	return s.transition(ctx, id, status, func(tx *sql.Tx, now time.Time) (sql.Result, error) {
		switch {
		case status == model.BatchRunning:
			return tx.ExecContext(ctx,
				"UPDATE batches SET status = ?, started_at = ? WHERE id = ?", status, now, id)
		case model.IsTerminal(status):
			return tx.ExecContext(ctx,
				"UPDATE batches SET status = ?, finished_at = ? WHERE id = ?", status, now, id)
		default:
			return tx.ExecContext(ctx,
				"UPDATE batches SET status = ? WHERE id = ?", status, id)
		}
	})
}

// FinishBatch moves a batch to a terminal status and records its failure
// count and error message.
func (s *SQLiteStore) FinishBatch(ctx context.Context, id, status string, failed int, errMsg string) error {
	if !model.IsTerminal(status) {
		return fmt.Errorf("%w: %q is not a terminal status", ErrInvalidTransition, status)
	}
	return s.transition(ctx, id, status, func(tx *sql.Tx, now time.Time) (sql.Result, error) {
		return tx.ExecContext(ctx,
			"UPDATE batches SET status = ?, failed = ?, error = ?, finished_at = ? WHERE id = ?",
			status, failed, errMsg, now, id,
		)
	})
}

// transition checks the current status and applies update in one transaction.
func (s *SQLiteStore) transition(ctx context.Context, id, status string, update func(*sql.Tx, time.Time) (sql.Result, error)) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, "SELECT status FROM batches WHERE id = ?", id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get batch status: %w", err)
	}
	if !model.ValidTransition(current, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, status)
	}

	if _, err := update(tx, time.Now().UTC()); err != nil {
		return fmt.Errorf("update batch status: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch status: %w", err)
	}
	return nil
}

// InsertTaskResult records the result at position seq of a batch.
func (s *SQLiteStore) InsertTaskResult(ctx context.Context, batchID string, seq int, res model.TaskResult) error {
	criteria, err := json.Marshal(res.Task.AcceptanceCriteria)
	if err != nil {
		return fmt.Errorf("encode acceptance criteria: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO task_results (
			batch_id, seq, task_id, description, task_type, criteria, backend,
			exit_code, stdout, stderr, error, artifacts_path, duration_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		batchID, seq, res.Task.ID, res.Task.Description, res.Task.Type, string(criteria), res.Backend,
		res.ExitCode, res.Stdout, res.Stderr, res.Error, res.ArtifactsPath,
		res.Duration.Milliseconds(), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert task result: %w", err)
	}
	return nil
}

// GetTaskResults returns all results for a batch ordered by seq.
func (s *SQLiteStore) GetTaskResults(ctx context.Context, batchID string) ([]model.StoredResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, task_id, description, task_type, criteria, backend,
			exit_code, stdout, stderr, error, artifacts_path, duration_ms, created_at
		FROM task_results WHERE batch_id = ? ORDER BY seq ASC`, batchID,
	)
	if err != nil {
		return nil, fmt.Errorf("get task results: %w", err)
	}
	defer rows.Close()

	results := []model.StoredResult{}
	for rows.Next() {
		sr := model.StoredResult{BatchID: batchID}
		var criteria string
		var durationMS int64
		if err := rows.Scan(
			&sr.Seq, &sr.Result.Task.ID, &sr.Result.Task.Description, &sr.Result.Task.Type, &criteria,
			&sr.Result.Backend, &sr.Result.ExitCode, &sr.Result.Stdout, &sr.Result.Stderr,
			&sr.Result.Error, &sr.Result.ArtifactsPath, &durationMS, &sr.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan task result: %w", err)
		}
		if err := json.Unmarshal([]byte(criteria), &sr.Result.Task.AcceptanceCriteria); err != nil {
			return nil, fmt.Errorf("decode acceptance criteria: %w", err)
		}
		sr.Result.Duration = time.Duration(durationMS) * time.Millisecond
		results = append(results, sr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task results: %w", err)
	}
	return results, nil
}

// GetStats computes aggregate statistics over all batches and results.
func (s *SQLiteStore) GetStats(ctx context.Context) (*Stats, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	stats := &Stats{
		BatchesByStatus: make(map[string]int),
		BatchesByMode:   make(map[string]int),
		TasksByBackend:  make(map[string]int),
	}

	if err := groupCount(ctx, tx, "SELECT status, COUNT(*) FROM batches GROUP BY status", stats.BatchesByStatus); err != nil {
		return nil, fmt.Errorf("count batches by status: %w", err)
	}
	if err := groupCount(ctx, tx, "SELECT mode, COUNT(*) FROM batches GROUP BY mode", stats.BatchesByMode); err != nil {
		return nil, fmt.Errorf("count batches by mode: %w", err)
	}
	if err := groupCount(ctx, tx, "SELECT backend, COUNT(*) FROM task_results GROUP BY backend", stats.TasksByBackend); err != nil {
		return nil, fmt.Errorf("count tasks by backend: %w", err)
	}
	for _, n := range stats.BatchesByStatus {
		stats.TotalBatches += n
	}

	var avg sql.NullFloat64
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN exit_code != 0 THEN 1 ELSE 0 END), 0), AVG(duration_ms)
		FROM task_results`,
	).Scan(&stats.TotalTasks, &stats.FailedTasks, &avg); err != nil {
		return nil, fmt.Errorf("aggregate task results: %w", err)
	}
	if avg.Valid {
		stats.AvgTaskDurationMS = avg.Float64
	}

	return stats, nil
}

func groupCount(ctx context.Context, tx *sql.Tx, query string, into map[string]int) error {
	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		into[key] = n
	}
	return rows.Err()
}
