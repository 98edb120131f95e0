package library

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"
)

// sqliteSchema holds the fixture-pack table. Same row contract as the
// Postgres source.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS fhir_resources (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	resource TEXT NOT NULL
);`

// OpenSQLite opens a SQLite fixture pack, creating the schema when absent.
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite library: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}
	return db, nil
}

// SQLiteSource loads a library from a SQLite fixture pack.
type SQLiteSource struct {
	db *sql.DB
}

// NewSQLiteSource creates a source over an open database.
func NewSQLiteSource(db *sql.DB) *SQLiteSource {
	return &SQLiteSource{db: db}
}

// Load implements Source with the same warning semantics as the other
// sources.
func (s *SQLiteSource) Load(ctx context.Context) (*Index, []Warning, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, resource FROM fhir_resources ORDER BY id`)
	if err != nil {
		return nil, nil, fmt.Errorf("query fhir_resources: %w", err)
	}
	defer rows.Close()

	ix := NewIndex()
	var warnings []Warning
	for rows.Next() {
		var (
			rowID int64
			raw   []byte
		)
		if err := rows.Scan(&rowID, &raw); err != nil {
			return nil, nil, fmt.Errorf("scan fhir_resources row: %w", err)
		}
		warnings = append(warnings, indexDocument(ix, fmt.Sprintf("fhir_resources row %d", rowID), raw)...)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate fhir_resources: %w", err)
	}
	return ix, warnings, nil
}

// Pack replaces the pack's contents with every resource in the index, one row
// per resource, in index order. Returns the number of rows written.
func Pack(ctx context.Context, db *sql.DB, ix *Index) (int, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin pack transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM fhir_resources`); err != nil {
		return 0, fmt.Errorf("clear fhir_resources: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO fhir_resources (resource) VALUES (?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare pack insert: %w", err)
	}
	defer stmt.Close()

	written := 0
	for _, key := range ix.AllKeys() {
		body, _ := ix.Get(key)
		raw, err := json.Marshal(body)
		if err != nil {
			return written, fmt.Errorf("marshal %s: %w", key, err)
		}
		if _, err := stmt.ExecContext(ctx, string(raw)); err != nil {
			return written, fmt.Errorf("insert %s: %w", key, err)
		}
		written++
	}

	if err := tx.Commit(); err != nil {
		return written, fmt.Errorf("commit pack: %w", err)
	}
	return written, nil
}
