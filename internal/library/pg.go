package library

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGSource loads a library from a Postgres table. The contract is one JSON
// document per row in fhir_resources(id, resource); each document follows the
// same bundle-or-single rules as the directory loader.
type PGSource struct {
	pool *pgxpool.Pool
}

// NewPGSource creates a source over an existing pool.
func NewPGSource(pool *pgxpool.Pool) *PGSource {
	return &PGSource{pool: pool}
}

// Connect opens a pgx pool against databaseURL and verifies it with a ping.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// Load implements Source. Unparsable rows become warnings; query and scan
// failures are errors.
func (s *PGSource) Load(ctx context.Context) (*Index, []Warning, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, resource FROM fhir_resources ORDER BY id`)
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
