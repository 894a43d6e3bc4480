// Package trace persists per-collection GC statistics to SQLite so
// collection behavior can be examined across runs.
package trace

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/chazu/pebble/vm"
)

// ErrRunNotFound indicates the requested run has no recorded collections.
var ErrRunNotFound = errors.New("run not found")

// Recorder handles SQLite storage for collection records.
type Recorder struct {
	db     *sql.DB
	dbPath string
	mu     sync.Mutex
}

// Collection is one recorded garbage collection.
type Collection struct {
	RunID     string
	Seq       int // collection number within the run, starting at 1
	Reclaimed int
	Remaining int
	Threshold int
	Duration  time.Duration
	Timestamp time.Time
}

// NewRunID returns a fresh identifier for one VM session's collections.
func NewRunID() string {
	return uuid.NewString()
}

// Open creates a recorder backed by the SQLite database at dbPath,
// creating the schema if needed.
func Open(dbPath string) (*Recorder, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening trace database: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS collections (
		run_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		reclaimed INTEGER NOT NULL,
		remaining INTEGER NOT NULL,
		threshold INTEGER NOT NULL,
		duration_ns INTEGER NOT NULL,
		timestamp TEXT NOT NULL,
		PRIMARY KEY (run_id, seq)
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating collections table: %w", err)
	}

	return &Recorder{db: db, dbPath: dbPath}, nil
}

// Close closes the database connection.
func (r *Recorder) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Record persists one collection's statistics under the given run.
func (r *Recorder) Record(runID string, stats *vm.CollectStats) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var seq int
	err := r.db.QueryRow(
		"SELECT COALESCE(MAX(seq), 0) + 1 FROM collections WHERE run_id = ?", runID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("assigning collection sequence: %w", err)
	}

	_, err = r.db.Exec(
		`INSERT INTO collections
		 (run_id, seq, reclaimed, remaining, threshold, duration_ns, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, seq, stats.Reclaimed, stats.Remaining, stats.Threshold,
		stats.Duration.Nanoseconds(), stats.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("recording collection: %w", err)
	}
	return nil
}

// Collections returns every recorded collection for a run, in order.
func (r *Recorder) Collections(runID string) ([]Collection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.db.Query(
		`SELECT seq, reclaimed, remaining, threshold, duration_ns, timestamp
		 FROM collections WHERE run_id = ? ORDER BY seq`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying collections: %w", err)
	}
	defer rows.Close()

	var result []Collection
	for rows.Next() {
		c := Collection{RunID: runID}
		var durationNs int64
		var ts string
		if err := rows.Scan(&c.Seq, &c.Reclaimed, &c.Remaining, &c.Threshold, &durationNs, &ts); err != nil {
			return nil, fmt.Errorf("scanning collection row: %w", err)
		}
		c.Duration = time.Duration(durationNs)
		c.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parsing collection timestamp: %w", err)
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading collections: %w", err)
	}
	if len(result) == 0 {
		return nil, ErrRunNotFound
	}
	return result, nil
}

// Runs returns the distinct run IDs present in the database, most recent
// first by each run's first collection.
func (r *Recorder) Runs() ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.db.Query(
		`SELECT run_id FROM collections GROUP BY run_id ORDER BY MIN(timestamp) DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning run row: %w", err)
		}
		runs = append(runs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading runs: %w", err)
	}
	return runs, nil
}
