// Package persistence provides the SQLite run archive.
package persistence

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/evolab/internal/engine"
	"github.com/talgya/evolab/internal/lab"
)

// ErrRunNotFound is returned when a run ID has no stored run.
var ErrRunNotFound = errors.New("run not found")

const schemaVersion = "1"

// DB wraps a SQLite connection for the run archive.
type DB struct {
	conn *sqlx.DB
}

// Run is the stored summary of one simulation run. Snapshots and events
// are loaded separately.
type Run struct {
	ID          string          `json:"id"`
	Model       string          `json:"model"`
	Seed        int64           `json:"seed"`
	Rule        string          `json:"rule,omitempty"`
	Generations int             `json:"generations"`
	Halted      bool            `json:"halted"`
	EntryCount  int             `json:"entry_count"`
	Elapsed     time.Duration   `json:"elapsed_ns"`
	CreatedAt   time.Time       `json:"created_at"`
	Extra       json.RawMessage `json:"extra,omitempty"`
}

type runRow struct {
	ID          string `db:"id"`
	Model       string `db:"model"`
	Seed        int64  `db:"seed"`
	Rule        string `db:"rule"`
	Generations int    `db:"generations"`
	Halted      bool   `db:"halted"`
	EntryCount  int    `db:"entry_count"`
	ElapsedNS   int64  `db:"elapsed_ns"`
	CreatedAt   int64  `db:"created_at"` // Unix milliseconds
	ExtraJSON   string `db:"extra_json"`
}

func (r runRow) run() Run {
	return Run{
		ID:          r.ID,
		Model:       r.Model,
		Seed:        r.Seed,
		Rule:        r.Rule,
		Generations: r.Generations,
		Halted:      r.Halted,
		EntryCount:  r.EntryCount,
		Elapsed:     time.Duration(r.ElapsedNS),
		CreatedAt:   time.UnixMilli(r.CreatedAt).UTC(),
		Extra:       json.RawMessage(r.ExtraJSON),
	}
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		model TEXT NOT NULL,
		seed INTEGER NOT NULL,
		rule TEXT NOT NULL DEFAULT '',
		generations INTEGER NOT NULL,
		halted INTEGER NOT NULL,
		entry_count INTEGER NOT NULL,
		elapsed_ns INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		extra_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS generations (
		run_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		snapshot_json TEXT NOT NULL,
		PRIMARY KEY (run_id, seq)
	);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		generation INTEGER NOT NULL,
		description TEXT NOT NULL,
		category TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);
	CREATE INDEX IF NOT EXISTS idx_runs_model ON runs(model);
	CREATE INDEX IF NOT EXISTS idx_events_run ON events(run_id);
	`
	if _, err := db.conn.Exec(schema); err != nil {
		return err
	}
	return db.SaveMeta("schema_version", schemaVersion)
}

// SaveReport stores a completed run with all of its snapshots and events,
// returning the new run ID.
func (db *DB) SaveReport(rep *lab.Report) (string, error) {
	id := uuid.NewString()

	extraJSON, err := json.Marshal(rep.Extra)
	if err != nil {
		return "", fmt.Errorf("encode extra: %w", err)
	}

	tx, err := db.conn.Beginx()
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	halted := 0
	if rep.Halted {
		halted = 1
	}
	_, err = tx.Exec(`INSERT INTO runs
		(id, model, seed, rule, generations, halted, entry_count, elapsed_ns, created_at, extra_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, rep.Model, rep.Seed, rep.Rule, rep.Generations, halted,
		len(rep.Entries), int64(rep.Elapsed), time.Now().UnixMilli(), string(extraJSON),
	)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}

	stmt, err := tx.Preparex("INSERT INTO generations (run_id, seq, snapshot_json) VALUES (?, ?, ?)")
	if err != nil {
		return "", err
	}
	defer stmt.Close()

	for i, e := range rep.Entries {
		snapJSON, err := json.Marshal(e)
		if err != nil {
			return "", fmt.Errorf("encode snapshot %d: %w", i, err)
		}
		if _, err := stmt.Exec(id, i, string(snapJSON)); err != nil {
			return "", fmt.Errorf("insert snapshot %d: %w", i, err)
		}
	}

	for _, e := range rep.Events {
		_, err := tx.Exec(
			"INSERT INTO events (run_id, generation, description, category) VALUES (?, ?, ?, ?)",
			id, e.Generation, e.Description, e.Category,
		)
		if err != nil {
			return "", fmt.Errorf("insert event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	slog.Info("run saved", "id", id, "model", rep.Model, "entries", len(rep.Entries), "events", len(rep.Events))
	return id, nil
}

// ListRuns returns the most recent runs, newest first. An empty model lists
// every model.
func (db *DB) ListRuns(model string, limit int) ([]Run, error) {
	var rows []runRow
	var err error
	if model == "" {
		err = db.conn.Select(&rows,
			"SELECT * FROM runs ORDER BY created_at DESC, rowid DESC LIMIT ?", limit)
	} else {
		err = db.conn.Select(&rows,
			"SELECT * FROM runs WHERE model = ? ORDER BY created_at DESC, rowid DESC LIMIT ?", model, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	runs := make([]Run, len(rows))
	for i, r := range rows {
		runs[i] = r.run()
	}
	return runs, nil
}

// GetRun returns the summary of one run.
func (db *DB) GetRun(id string) (*Run, error) {
	var row runRow
	err := db.conn.Get(&row, "SELECT * FROM runs WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	run := row.run()
	return &run, nil
}

// LoadEntries returns a run's snapshots in recorded order.
func (db *DB) LoadEntries(id string) ([]json.RawMessage, error) {
	var rows []string
	err := db.conn.Select(&rows,
		"SELECT snapshot_json FROM generations WHERE run_id = ? ORDER BY seq", id)
	if err != nil {
		return nil, fmt.Errorf("load entries: %w", err)
	}
	entries := make([]json.RawMessage, len(rows))
	for i, r := range rows {
		entries[i] = json.RawMessage(r)
	}
	return entries, nil
}

// LoadEvents returns a run's events in recorded order.
func (db *DB) LoadEvents(id string) ([]engine.Event, error) {
	events := []engine.Event{}
	err := db.conn.Select(&events,
		"SELECT generation, description, category FROM events WHERE run_id = ? ORDER BY id", id)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	return events, nil
}

// DeleteRun removes a run and everything recorded for it.
func (db *DB) DeleteRun(id string) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec("DELETE FROM runs WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if _, err := tx.Exec("DELETE FROM generations WHERE run_id = ?", id); err != nil {
		return fmt.Errorf("delete snapshots: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM events WHERE run_id = ?", id); err != nil {
		return fmt.Errorf("delete events: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	slog.Info("run deleted", "id", id)
	return nil
}

// SaveMeta stores a key-value pair in archive metadata.
func (db *DB) SaveMeta(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM meta WHERE key = ?", key)
	return value, err
}
