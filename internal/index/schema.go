package index

import (
	"context"
	"database/sql"
	"fmt"
)

const coreSchemaSQL = `
CREATE TABLE IF NOT EXISTS pages (
	slug          TEXT PRIMARY KEY,
	title         TEXT NOT NULL DEFAULT '',
	category_id   TEXT NOT NULL DEFAULT '',
	category_name TEXT NOT NULL DEFAULT '',
	visibility    TEXT NOT NULL DEFAULT 'all',
	allowed_users TEXT NOT NULL DEFAULT '[]',
	encrypted     INTEGER NOT NULL DEFAULT 0,
	tags          TEXT NOT NULL DEFAULT '[]',
	excerpt       TEXT NOT NULL DEFAULT '',
	updated_at    TEXT NOT NULL DEFAULT '',
	updated_ms    INTEGER NOT NULL DEFAULT 0,
	searchable    TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS index_meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// column is an additive schema change applied to images created by older
// versions.
type column struct {
	table, name, decl string
}

var addedColumns = []column{
	{"pages", "allowed_groups", "TEXT NOT NULL DEFAULT '[]'"},
}

const indexSQL = `
CREATE INDEX IF NOT EXISTS idx_pages_updated_ms ON pages(updated_ms DESC);
CREATE INDEX IF NOT EXISTS idx_pages_category ON pages(category_id);
`

// migrate brings db to the current schema. Every step is idempotent and none
// drops data.
func migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, coreSchemaSQL); err != nil {
		return fmt.Errorf("index: apply core schema: %w", err)
	}
	for _, c := range addedColumns {
		ok, err := hasColumn(ctx, db, c.table, c.name)
		if err != nil {
			return err
		}
		if ok {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", c.table, c.name, c.decl)
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("index: add column %s.%s: %w", c.table, c.name, err)
		}
	}
	if _, err := db.ExecContext(ctx, indexSQL); err != nil {
		return fmt.Errorf("index: apply indexes: %w", err)
	}
	return nil
}

func hasColumn(ctx context.Context, db *sql.DB, table, name string) (bool, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, fmt.Errorf("index: table info %s: %w", table, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			cid     int
			col     string
			typ     string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &col, &typ, &notNull, &dflt, &pk); err != nil {
			return false, err
		}
		if col == name {
			return true, nil
		}
	}
	return false, rows.Err()
}
