// Package journal persists a history of restore invocations so operators
// can inspect how often and how hard the engine had to correct the runtime.
package journal

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"baseline/internal/reconcile"
	"baseline/pkg/logging"
)

// Journal records restore lifecycle events in a local sqlite database. It
// implements reconcile.Recorder; recording failures are logged, never
// propagated, so a broken journal cannot fail a restore.
type Journal struct {
	db *sql.DB
	mu sync.Mutex
}

var _ reconcile.Recorder = (*Journal)(nil)

// Invocation is one recorded restore run.
type Invocation struct {
	ID         string
	Profile    string
	Overlay    bool
	Attempts   int
	Outcome    string
	Error      string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// Attempt is one recorded restore attempt.
type Attempt struct {
	Attempt  int
	Executed int
	Failed   int
}

// Open opens or creates the journal database at path.
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal database: %w", err)
	}

	// WAL mode keeps readers (the history command) from blocking a restore
	// that is writing.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	j := &Journal{db: db}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate journal database: %w", err)
	}
	return j, nil
}

func (j *Journal) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS restore_invocations (
		id TEXT PRIMARY KEY,
		profile TEXT NOT NULL,
		overlay BOOLEAN NOT NULL DEFAULT 0,
		started_at TEXT NOT NULL,
		finished_at TEXT,
		attempts INTEGER NOT NULL DEFAULT 0,
		outcome TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS restore_attempts (
		invocation_id TEXT NOT NULL,
		attempt INTEGER NOT NULL,
		executed INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (invocation_id, attempt),
		FOREIGN KEY (invocation_id) REFERENCES restore_invocations(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_invocations_started ON restore_invocations(started_at);
	`
	_, err := j.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// RestoreStarted records the beginning of a restore invocation.
func (j *Journal) RestoreStarted(invocationID, profileName string, overlay bool, startedAt time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.Exec(`
		INSERT INTO restore_invocations (id, profile, overlay, started_at)
		VALUES (?, ?, ?, ?)
	`, invocationID, profileName, overlay, startedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		logging.Warn("Journal", "Failed to record restore start %s: %v", invocationID, err)
	}
}

// AttemptCompleted records one finished restore attempt.
func (j *Journal) AttemptCompleted(invocationID string, attempt, executed, failed int) {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.Exec(`
		INSERT INTO restore_attempts (invocation_id, attempt, executed, failed)
		VALUES (?, ?, ?, ?)
	`, invocationID, attempt, executed, failed)
	if err != nil {
		logging.Warn("Journal", "Failed to record attempt %d of restore %s: %v", attempt, invocationID, err)
	}
}

// RestoreFinished records the outcome of a restore invocation.
func (j *Journal) RestoreFinished(invocationID string, attempts int, outcome string, restoreErr error, finishedAt time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()

	errText := ""
	if restoreErr != nil {
		errText = restoreErr.Error()
	}

	_, err := j.db.Exec(`
		UPDATE restore_invocations
		SET finished_at = ?, attempts = ?, outcome = ?, error = ?
		WHERE id = ?
	`, finishedAt.UTC().Format(time.RFC3339Nano), attempts, outcome, errText, invocationID)
	if err != nil {
		logging.Warn("Journal", "Failed to record restore finish %s: %v", invocationID, err)
	}
}

// Invocations returns the most recent restore invocations, newest first.
// A limit of 0 or less returns everything.
func (j *Journal) Invocations(limit int) ([]Invocation, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if limit <= 0 {
		limit = -1
	}

	rows, err := j.db.Query(`
		SELECT id, profile, overlay, started_at, finished_at, attempts, outcome, error
		FROM restore_invocations
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Invocation
	for rows.Next() {
		var inv Invocation
		var started string
		var finished sql.NullString

		if err := rows.Scan(&inv.ID, &inv.Profile, &inv.Overlay, &started,
			&finished, &inv.Attempts, &inv.Outcome, &inv.Error); err != nil {
			return nil, err
		}

		inv.StartedAt, err = time.Parse(time.RFC3339Nano, started)
		if err != nil {
			return nil, fmt.Errorf("parse started_at of %s: %w", inv.ID, err)
		}
		if finished.Valid {
			t, err := time.Parse(time.RFC3339Nano, finished.String)
			if err != nil {
				return nil, fmt.Errorf("parse finished_at of %s: %w", inv.ID, err)
			}
			inv.FinishedAt = &t
		}

		out = append(out, inv)
	}
	return out, rows.Err()
}

// Attempts returns the recorded attempts of one invocation in order.
func (j *Journal) Attempts(invocationID string) ([]Attempt, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.Query(`
		SELECT attempt, executed, failed
		FROM restore_attempts
		WHERE invocation_id = ?
		ORDER BY attempt ASC
	`, invocationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		var a Attempt
		if err := rows.Scan(&a.Attempt, &a.Executed, &a.Failed); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Invocation returns one recorded invocation by id.
func (j *Journal) Invocation(invocationID string) (*Invocation, error) {
	all, err := j.Invocations(0)
	if err != nil {
		return nil, err
	}
	for i := range all {
		if all[i].ID == invocationID {
			return &all[i], nil
		}
	}
	return nil, fmt.Errorf("restore invocation %s not found", invocationID)
}

// Prune removes finished invocations older than the retention period.
func (j *Journal) Prune(retention time.Duration) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	cutoff := time.Now().Add(-retention).UTC().Format(time.RFC3339Nano)

	tx, err := j.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		DELETE FROM restore_attempts WHERE invocation_id IN (
			SELECT id FROM restore_invocations
			WHERE finished_at IS NOT NULL AND started_at < ?
		)
	`, cutoff); err != nil {
		return err
	}
	if _, err := tx.Exec(`
		DELETE FROM restore_invocations
		WHERE finished_at IS NOT NULL AND started_at < ?
	`, cutoff); err != nil {
		return err
	}
	return tx.Commit()
}
