// Package index is a SQLite query layer over the cached check results and
// attempt records. It is rebuilt from the store on demand and is never the
// source of truth.
package index

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/matsen/promise/internal/export"
	"github.com/matsen/promise/internal/promise"
	_ "modernc.org/sqlite"
)

// Status of an ISBN within a check result.
const (
	StatusHit        = "hit"
	StatusMiss       = "miss"
	StatusUnresolved = "unresolved"
)

// DB wraps a SQLite database connection.
type DB struct {
	db *sql.DB
}

// Summary holds per-item counts for the list command.
type Summary struct {
	ItemID         string    `json:"item"`
	ISBNs          int       `json:"isbns"`
	Hits           int       `json:"hits"`
	Misses         int       `json:"misses"`
	Unresolved     int       `json:"unresolved"`
	OriginalMisses int       `json:"original_misses"`
	Succeeded      int       `json:"added"`
	Failed         int       `json:"add_failures"`
	Stale          bool      `json:"stale"`
	CheckedAt      time.Time `json:"checked_at"`
}

// OpenDB opens or creates a SQLite database at the given path.
func OpenDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &DB{db: db}, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

func createSchema(db *sql.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS items (
			id TEXT PRIMARY KEY,
			stale INTEGER NOT NULL DEFAULT 0,
			checked_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS item_isbns (
			item_id TEXT NOT NULL,
			isbn TEXT NOT NULL,
			position INTEGER NOT NULL,
			status TEXT NOT NULL,
			original_miss INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (item_id, isbn)
		);

		CREATE INDEX IF NOT EXISTS idx_item_isbns_original ON item_isbns(original_miss);

		CREATE TABLE IF NOT EXISTS attempts (
			item_id TEXT NOT NULL,
			isbn TEXT NOT NULL,
			outcome TEXT NOT NULL,
			attempts INTEGER NOT NULL,
			last_error TEXT,
			attempted_at TEXT,
			run_id TEXT,
			PRIMARY KEY (item_id, isbn)
		);
	`
	_, err := db.Exec(schema)
	return err
}

// Rebuild replaces the index contents with the given results and attempts.
func (d *DB) Rebuild(results []promise.CheckResult, attempts []promise.AttemptRecord) error {
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning rebuild: %w", err)
	}
	defer tx.Rollback() // no-op after commit

	for _, table := range []string{"items", "item_isbns", "attempts"} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("clearing %s table: %w", table, err)
		}
	}

	itemStmt, err := tx.Prepare(`INSERT INTO items (id, stale, checked_at) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing items insert: %w", err)
	}
	defer itemStmt.Close()

	isbnStmt, err := tx.Prepare(`
		INSERT INTO item_isbns (item_id, isbn, position, status, original_miss)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing item_isbns insert: %w", err)
	}
	defer isbnStmt.Close()

	attemptStmt, err := tx.Prepare(`
		INSERT INTO attempts (item_id, isbn, outcome, attempts, last_error, attempted_at, run_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing attempts insert: %w", err)
	}
	defer attemptStmt.Close()

	for _, r := range results {
		if _, err := itemStmt.Exec(r.ItemID(), boolToInt(r.Stale), formatTime(r.CheckedAt)); err != nil {
			return fmt.Errorf("inserting item %s: %w", r.ItemID(), err)
		}

		status := make(map[string]string, len(r.Item.ISBNs))
		for _, isbn := range r.Hits {
			status[isbn] = StatusHit
		}
		for _, isbn := range r.Misses {
			status[isbn] = StatusMiss
		}
		original := make(map[string]bool, len(r.OriginalMisses))
		for _, isbn := range r.OriginalMisses {
			original[isbn] = true
		}

		for pos, isbn := range r.Item.ISBNs {
			s, ok := status[isbn]
			if !ok {
				s = StatusUnresolved
			}
			if _, err := isbnStmt.Exec(r.ItemID(), isbn, pos, s, boolToInt(original[isbn])); err != nil {
				return fmt.Errorf("inserting isbn %s of %s: %w", isbn, r.ItemID(), err)
			}
		}
	}

	for _, a := range attempts {
		_, err := attemptStmt.Exec(
			a.ItemID, a.ISBN, string(a.Outcome), a.Attempts,
			nullableString(a.LastError), formatTime(a.AttemptedAt), nullableString(a.RunID),
		)
		if err != nil {
			return fmt.Errorf("inserting attempt %s/%s: %w", a.ItemID, a.ISBN, err)
		}
	}

	return tx.Commit()
}

// Summaries returns per-item counts ordered by item ID.
func (d *DB) Summaries() ([]Summary, error) {
	rows, err := d.db.Query(`
		SELECT
			i.id, i.stale, i.checked_at,
			COUNT(ii.isbn),
			COALESCE(SUM(ii.status = 'hit'), 0),
			COALESCE(SUM(ii.status = 'miss'), 0),
			COALESCE(SUM(ii.status = 'unresolved'), 0),
			COALESCE(SUM(ii.original_miss), 0),
			(SELECT COUNT(*) FROM attempts a WHERE a.item_id = i.id AND a.outcome = 'success'),
			(SELECT COUNT(*) FROM attempts a WHERE a.item_id = i.id AND a.outcome = 'failure')
		FROM items i
		LEFT JOIN item_isbns ii ON ii.item_id = i.id
		GROUP BY i.id
		ORDER BY i.id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying summaries: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var s Summary
		var checkedAt string
		var stale int
		if err := rows.Scan(
			&s.ItemID, &stale, &checkedAt,
			&s.ISBNs, &s.Hits, &s.Misses, &s.Unresolved, &s.OriginalMisses,
			&s.Succeeded, &s.Failed,
		); err != nil {
			return nil, fmt.Errorf("scanning summary: %w", err)
		}
		s.Stale = stale != 0
		s.CheckedAt = parseTime(checkedAt)
		out = append(out, s)
	}
	return out, rows.Err()
}

// OriginalMisses returns every original miss across items with the outcome
// of its latest add attempt, ordered by item then manifest position.
func (d *DB) OriginalMisses() ([]export.MissRow, error) {
	rows, err := d.db.Query(`
		SELECT i.checked_at, ii.item_id, ii.isbn,
			COALESCE(a.outcome, ?), COALESCE(a.attempts, 0)
		FROM item_isbns ii
		JOIN items i ON i.id = ii.item_id
		LEFT JOIN attempts a ON a.item_id = ii.item_id AND a.isbn = ii.isbn
		WHERE ii.original_miss = 1
		ORDER BY ii.item_id, ii.position
	`, string(promise.OutcomeNotAttempted))
	if err != nil {
		return nil, fmt.Errorf("querying original misses: %w", err)
	}
	defer rows.Close()

	var out []export.MissRow
	for rows.Next() {
		var r export.MissRow
		var checkedAt, outcome string
		if err := rows.Scan(&checkedAt, &r.ItemID, &r.ISBN, &outcome, &r.Attempts); err != nil {
			return nil, fmt.Errorf("scanning original miss: %w", err)
		}
		r.CheckedAt = parseTime(checkedAt)
		r.Outcome = promise.Outcome(outcome)
		out = append(out, r)
	}
	return out, rows.Err()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
