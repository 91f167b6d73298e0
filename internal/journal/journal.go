// Package journal keeps a local SQLite log of findings reported during a run.
// The remote store owns the findings; the journal is an operator-side audit
// trail and survives process restarts.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	_ "github.com/mattn/go-sqlite3"
)

const initSchemaSQL = `
CREATE TABLE IF NOT EXISTS findings (
    id            TEXT PRIMARY KEY,
    emergency_id  TEXT NOT NULL,
    assignment_id TEXT NOT NULL,
    doc_name      TEXT NOT NULL,
    latitude      REAL NOT NULL,
    longitude     REAL NOT NULL,
    trigger_kind  TEXT NOT NULL,
    created_at    TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_findings_emergency ON findings (emergency_id, created_at);
`

const insertEntrySQL = `
INSERT INTO findings (id, emergency_id, assignment_id, doc_name, latitude, longitude, trigger_kind, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

const selectEntriesSQL = `
SELECT id, emergency_id, assignment_id, doc_name, latitude, longitude, trigger_kind, created_at
FROM findings ORDER BY created_at`

// Entry is one journaled finding.
type Entry struct {
	ID           string
	EmergencyID  string
	AssignmentID string
	DocName      string
	Latitude     float64
	Longitude    float64
	Trigger      string
	CreatedAt    time.Time
}

// Journal handles journal database operations.
type Journal struct {
	dbPath string

	db     *sql.DB
	dbOnce sync.Once
	dbErr  error

	closeOnce sync.Once
	closeErr  error
}

// Open creates a Journal backed by the SQLite file at dbPath. The database is
// opened lazily on first use.
func Open(dbPath string) *Journal {
	return &Journal{dbPath: dbPath}
}

func (j *Journal) getDB() (*sql.DB, error) {
	j.dbOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL", j.dbPath))
		if err != nil {
			j.dbErr = fmt.Errorf("opening journal: %w", err)
			return
		}
		if _, err = db.Exec(initSchemaSQL); err != nil {
			_ = db.Close()
			j.dbErr = fmt.Errorf("initializing journal schema: %w", err)
			return
		}
		j.db = db
	})
	return j.db, j.dbErr
}

// Record appends one entry. A zero ID or CreatedAt is filled in.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	db, err := j.getDB()
	if err != nil {
		return err
	}
	if e.ID == "" {
		id, err := uuid.NewV4()
		if err != nil {
			return fmt.Errorf("generating entry id: %w", err)
		}
		e.ID = id.String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if _, err := db.ExecContext(ctx, insertEntrySQL,
		e.ID, e.EmergencyID, e.AssignmentID, e.DocName,
		e.Latitude, e.Longitude, e.Trigger, e.CreatedAt,
	); err != nil {
		return fmt.Errorf("inserting journal entry: %w", err)
	}
	return nil
}

// Entries returns all journaled findings in creation order.
func (j *Journal) Entries(ctx context.Context) (entries []Entry, err error) {
	db, err := j.getDB()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, selectEntriesSQL)
	if err != nil {
		return nil, fmt.Errorf("querying journal: %w", err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	for rows.Next() {
		var e Entry
		if err = rows.Scan(&e.ID, &e.EmergencyID, &e.AssignmentID, &e.DocName,
			&e.Latitude, &e.Longitude, &e.Trigger, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning journal entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating journal: %w", err)
	}
	return entries, nil
}

// Close releases the database handle.
func (j *Journal) Close() error {
	j.closeOnce.Do(func() {
		if j.db != nil {
			j.closeErr = j.db.Close()
			j.db = nil
		}
	})
	return j.closeErr
}
