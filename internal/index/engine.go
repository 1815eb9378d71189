package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/starford/pagestore/internal/apperr"
	"github.com/starford/pagestore/internal/models"
)

const (
	metaSchemaVersion = "schemaVersion"
	metaGeneratedAt   = "generatedAt"
	metaTotalPages    = "totalPages"
)

const entryColumns = `slug, title, category_id, category_name, visibility, allowed_users,
	allowed_groups, encrypted, tags, excerpt, updated_at, updated_ms, searchable`

// Engine is a Backend on an in-memory SQLite image that is loaded from and
// written back to a single file. All operations are serialized by one mutex.
type Engine struct {
	path   string
	logger *slog.Logger

	mu sync.Mutex
	db *sql.DB
}

// OpenEngine loads the image at path into memory. An image that cannot be
// loaded or fails its integrity check is renamed to
// "<path>.corrupt-<unixms>" and replaced with an empty index.
func OpenEngine(ctx context.Context, path string, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("index: engine: mkdir: %w", err)
	}

	db, err := openMemory()
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(path); statErr == nil {
		if err := loadImage(ctx, db, path); err != nil {
			db.Close()
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if db, err = quarantine(path, err, logger); err != nil {
				return nil, err
			}
		}
	}
	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &Engine{path: path, logger: logger, db: db}, nil
}

func openMemory() (*sql.DB, error) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("index: open memory db: %w", err)
	}
	// Every connection to ":memory:" is a separate database.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	return db, nil
}

func quarantine(path string, cause error, logger *slog.Logger) (*sql.DB, error) {
	aside := path + ".corrupt-" + strconv.FormatInt(time.Now().UnixMilli(), 10)
	if err := os.Rename(path, aside); err != nil {
		return nil, fmt.Errorf("index: quarantine %s: %w", path, err)
	}
	logger.Warn("index: engine image quarantined",
		slog.String("path", path),
		slog.String("moved_to", aside),
		slog.String("error", fmt.Errorf("%w: %v", apperr.ErrStorageCorruption, cause).Error()))
	return openMemory()
}

// loadImage copies the on-disk image into dst with the online backup API and
// verifies the result.
func loadImage(ctx context.Context, dst *sql.DB, path string) error {
	src, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return err
	}
	defer src.Close()

	srcConn, err := src.Conn(ctx)
	if err != nil {
		return err
	}
	defer srcConn.Close()

	dstConn, err := dst.Conn(ctx)
	if err != nil {
		return err
	}
	err = dstConn.Raw(func(dc any) error {
		return srcConn.Raw(func(sc any) error {
			d, ok := dc.(*sqlite3.SQLiteConn)
			if !ok {
				return fmt.Errorf("unexpected driver conn %T", dc)
			}
			s, ok := sc.(*sqlite3.SQLiteConn)
			if !ok {
				return fmt.Errorf("unexpected driver conn %T", sc)
			}
			b, err := d.Backup("main", s, "main")
			if err != nil {
				return err
			}
			if _, err := b.Step(-1); err != nil {
				_ = b.Finish()
				return err
			}
			return b.Finish()
		})
	})
	dstConn.Close()
	if err != nil {
		return fmt.Errorf("backup: %w", err)
	}

	var verdict string
	if err := dst.QueryRowContext(ctx, "PRAGMA quick_check").Scan(&verdict); err != nil {
		return fmt.Errorf("quick_check: %w", err)
	}
	if verdict != "ok" {
		return fmt.Errorf("quick_check: %s", verdict)
	}
	return nil
}

// persist exports the in-memory image to a temp file and renames it over the
// image path. Callers hold e.mu.
func (e *Engine) persist(ctx context.Context) error {
	tmp := e.path + "." + uuid.NewString() + ".tmp"
	if _, err := e.db.ExecContext(ctx, "VACUUM INTO ?", tmp); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("index: engine: export: %w", err)
	}
	if err := syncFile(tmp); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("index: engine: fsync: %w", err)
	}
	if err := os.Rename(tmp, e.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("index: engine: rename: %w", err)
	}
	return nil
}

func syncFile(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Name implements Backend.
func (e *Engine) Name() string { return BackendSQLite }

// Path returns the image file path.
func (e *Engine) Path() string { return e.path }

// Meta implements Backend.
func (e *Engine) Meta(ctx context.Context) (models.IndexMeta, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rows, err := e.db.QueryContext(ctx, `SELECT key, value FROM index_meta`)
	if err != nil {
		return models.IndexMeta{}, false, fmt.Errorf("index: engine: meta: %w", err)
	}
	defer rows.Close()
	kv := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return models.IndexMeta{}, false, err
		}
		kv[k] = v
	}
	if err := rows.Err(); err != nil {
		return models.IndexMeta{}, false, err
	}

	gen, ok := kv[metaGeneratedAt]
	if !ok {
		return models.IndexMeta{}, false, nil
	}
	ms, ok := parseMetaTime(gen)
	if !ok {
		return models.IndexMeta{}, false, nil
	}
	version, _ := strconv.Atoi(kv[metaSchemaVersion])
	total, _ := strconv.Atoi(kv[metaTotalPages])
	return models.IndexMeta{Version: version, GeneratedAt: gen, GeneratedMs: ms, TotalPages: total}, true, nil
}

// ReplaceAll implements Backend.
func (e *Engine) ReplaceAll(ctx context.Context, entries []models.IndexEntry, generatedAt time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	iso, _ := metaTime(generatedAt)
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM pages`); err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx, upsertSQL)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, en := range entries {
			if _, err := stmt.ExecContext(ctx, entryArgs(en)...); err != nil {
				return fmt.Errorf("insert %s: %w", en.Slug, err)
			}
		}
		return setMeta(ctx, tx, map[string]string{
			metaSchemaVersion: strconv.Itoa(SchemaVersion),
			metaGeneratedAt:   iso,
			metaTotalPages:    strconv.Itoa(len(entries)),
		})
	})
	if err != nil {
		return fmt.Errorf("index: engine: replace all: %w", err)
	}
	return e.persist(ctx)
}

// UpsertOne implements Backend. An existing generation time advances to at
// so a mutation applied to a fresh index does not count as staleness.
func (e *Engine) UpsertOne(ctx context.Context, en models.IndexEntry, at time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, upsertSQL, entryArgs(en)...); err != nil {
			return err
		}
		return touchMeta(ctx, tx, at)
	})
	if err != nil {
		return fmt.Errorf("index: engine: upsert %s: %w", en.Slug, err)
	}
	return e.persist(ctx)
}

// RemoveOne implements Backend.
func (e *Engine) RemoveOne(ctx context.Context, slug string, at time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM pages WHERE slug = ?`, slug); err != nil {
			return err
		}
		return touchMeta(ctx, tx, at)
	})
	if err != nil {
		return fmt.Errorf("index: engine: remove %s: %w", slug, err)
	}
	return e.persist(ctx)
}

// Entries implements Backend.
func (e *Engine) Entries(ctx context.Context) ([]models.IndexEntry, error) {
	return e.Candidates(ctx, Filter{})
}

// Candidates implements Backend. Term and tag filtering happens in SQL.
func (e *Engine) Candidates(ctx context.Context, f Filter) ([]models.IndexEntry, error) {
	var (
		where []string
		args  []any
	)
	for _, t := range f.Terms {
		where = append(where, "instr(searchable, ?) > 0")
		args = append(args, t)
	}
	for _, t := range f.Exclude {
		where = append(where, "instr(searchable, ?) = 0")
		args = append(args, t)
	}
	for _, t := range f.Tags {
		where = append(where, "EXISTS (SELECT 1 FROM json_each(pages.tags) WHERE json_each.value = ?)")
		args = append(args, t)
	}
	q := "SELECT " + entryColumns + " FROM pages"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY updated_ms DESC, slug ASC"

	e.mu.Lock()
	defer e.mu.Unlock()

	rows, err := e.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("index: engine: query: %w", err)
	}
	defer rows.Close()

	out := []models.IndexEntry{}
	for rows.Next() {
		en, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("index: engine: scan: %w", err)
		}
		out = append(out, en)
	}
	return out, rows.Err()
}

// Close releases the in-memory image. The file on disk is already current.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.db.Close()
}

func (e *Engine) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			e.logger.Warn("index: engine: rollback failed", slog.String("error", rbErr.Error()))
		}
		return err
	}
	return tx.Commit()
}

const upsertSQL = `
	INSERT INTO pages (` + entryColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(slug) DO UPDATE SET
		title          = excluded.title,
		category_id    = excluded.category_id,
		category_name  = excluded.category_name,
		visibility     = excluded.visibility,
		allowed_users  = excluded.allowed_users,
		allowed_groups = excluded.allowed_groups,
		encrypted      = excluded.encrypted,
		tags           = excluded.tags,
		excerpt        = excluded.excerpt,
		updated_at     = excluded.updated_at,
		updated_ms     = excluded.updated_ms,
		searchable     = excluded.searchable
`

func entryArgs(en models.IndexEntry) []any {
	return []any{
		en.Slug, en.Title, en.CategoryID, en.CategoryName, en.Visibility,
		jsonList(en.AllowedUsers), jsonList(en.AllowedGroups), en.Encrypted,
		jsonList(en.Tags), en.Excerpt, en.UpdatedAt, en.UpdatedMs, en.Searchable,
	}
}

func jsonList(v []string) string {
	if v == nil {
		v = []string{}
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func scanEntry(rows *sql.Rows) (models.IndexEntry, error) {
	var en models.IndexEntry
	var users, groups, tags string
	err := rows.Scan(&en.Slug, &en.Title, &en.CategoryID, &en.CategoryName, &en.Visibility,
		&users, &groups, &en.Encrypted, &tags, &en.Excerpt, &en.UpdatedAt, &en.UpdatedMs, &en.Searchable)
	if err != nil {
		return en, err
	}
	for _, p := range []struct {
		raw string
		dst *[]string
	}{{users, &en.AllowedUsers}, {groups, &en.AllowedGroups}, {tags, &en.Tags}} {
		if err := json.Unmarshal([]byte(p.raw), p.dst); err != nil {
			return en, err
		}
		if *p.dst == nil {
			*p.dst = []string{}
		}
	}
	return en, nil
}

func setMeta(ctx context.Context, tx *sql.Tx, kv map[string]string) error {
	for k, v := range kv {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO index_meta (key, value) VALUES (?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, k, v)
		if err != nil {
			return fmt.Errorf("set meta %s: %w", k, err)
		}
	}
	return nil
}

// touchMeta refreshes totalPages and advances generatedAt to at when an
// index generation already exists. A zero at leaves generatedAt alone.
func touchMeta(ctx context.Context, tx *sql.Tx, at time.Time) error {
	var total int
	if err := tx.QueryRowContext(ctx, `SELECT count(*) FROM pages`).Scan(&total); err != nil {
		return err
	}
	kv := map[string]string{metaTotalPages: strconv.Itoa(total)}

	var gen string
	err := tx.QueryRowContext(ctx, `SELECT value FROM index_meta WHERE key = ?`, metaGeneratedAt).Scan(&gen)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return err
	default:
		if ms, ok := parseMetaTime(gen); ok && !at.IsZero() && at.UnixMilli() > ms {
			kv[metaGeneratedAt], _ = metaTime(at)
		}
	}
	return setMeta(ctx, tx, kv)
}
