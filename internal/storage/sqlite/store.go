package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"reviews_app/internal/domain"
)

// Store is the on-device Local Store backed by a SQLite file.
type Store struct {
	db   *sql.DB
	path string
}

var _ domain.LocalStore = (*Store)(nil)

// Open opens (creating if needed) the store at path and migrates it to
// SchemaVersion. path may be ":memory:".
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("store path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	// One connection serializes writers and keeps ":memory:" a single database.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping store: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	v, err := migrate(ctx, db, SchemaVersion)
	if err != nil {
		db.Close()
		return nil, err
	}
	log.Debug().Str("path", path).Int("schema_version", v).Msg("local store open")
	return &Store{db: db, path: path}, nil
}

// OpenOrDegrade opens the store, or returns Unavailable when storage is
// disabled or cannot be opened. The returned close func is never nil.
func OpenOrDegrade(ctx context.Context, path string, disabled bool) (domain.LocalStore, func() error) {
	if disabled || strings.TrimSpace(path) == "" {
		log.Warn().Msg("local store disabled; running without offline data")
		return Unavailable{}, func() error { return nil }
	}
	s, err := Open(ctx, path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("local store unavailable; running without offline data")
		return Unavailable{}, func() error { return nil }
	}
	return s, s.Close
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Available() bool { return true }

// SchemaVersion reports the version recorded in the store.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	return schemaVersion(ctx, s.db)
}

func (s *Store) Put(ctx context.Context, c domain.Collection, v any, key ...any) error {
	return s.Update(ctx, func(tx domain.StoreTx) error { return tx.Put(c, v, key...) })
}

func (s *Store) Add(ctx context.Context, c domain.Collection, v any) (int64, error) {
	var id int64
	err := s.Update(ctx, func(t domain.StoreTx) error {
		var err error
		id, err = t.(*storeTx).add(c, v)
		return err
	})
	return id, err
}

func (s *Store) Delete(ctx context.Context, c domain.Collection, key any) error {
	return s.Update(ctx, func(tx domain.StoreTx) error { return tx.Delete(c, key) })
}

// Update runs fn inside one transaction; any error rolls everything back.
func (s *Store) Update(ctx context.Context, fn func(tx domain.StoreTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&storeTx{ctx: ctx, tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, c domain.Collection, key any, dst any) (bool, error) {
	spec, err := specFor(c)
	if err != nil {
		return false, err
	}
	var raw string
	err = s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT value FROM %s WHERE key = ?`, spec.table), normalizeKey(key)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s: %w", c, err)
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return false, fmt.Errorf("decode %s record: %w", c, err)
	}
	return true, nil
}

func (s *Store) GetAll(ctx context.Context, c domain.Collection, dst any) error {
	spec, err := specFor(c)
	if err != nil {
		return err
	}
	return s.queryInto(ctx, dst, fmt.Sprintf(`SELECT value FROM %s ORDER BY key`, spec.table))
}

func (s *Store) GetAllByIndex(ctx context.Context, c domain.Collection, index string, value any, dst any) error {
	spec, err := specFor(c)
	if err != nil {
		return err
	}
	idx, ok := spec.indexes[index]
	if !ok {
		return fmt.Errorf("collection %q has no index %q", c, index)
	}
	return s.queryInto(ctx, dst,
		fmt.Sprintf(`SELECT value FROM %s WHERE %s = ? ORDER BY key`, spec.table, idx.column),
		normalizeKey(value))
}

// queryInto decodes every value row into dst as one JSON array, so an
// empty result still yields an empty (non-nil) slice.
func (s *Store) queryInto(ctx context.Context, dst any, query string, args ...any) error {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var buf bytes.Buffer
	buf.WriteByte('[')
	n := 0
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		if n > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(raw)
		n++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate: %w", err)
	}
	buf.WriteByte(']')
	if err := json.Unmarshal(buf.Bytes(), dst); err != nil {
		return fmt.Errorf("decode records: %w", err)
	}
	return nil
}

type storeTx struct {
	ctx context.Context
	tx  *sql.Tx
}

func (t *storeTx) Put(c domain.Collection, v any, key ...any) error {
	spec, err := specFor(c)
	if err != nil {
		return err
	}
	doc, raw, err := encode(v)
	if err != nil {
		return fmt.Errorf("encode %s record: %w", c, err)
	}

	var k any
	switch {
	case len(key) > 0:
		if spec.keyPath != "" {
			return fmt.Errorf("collection %q uses key path %q; explicit key not allowed", c, spec.keyPath)
		}
		k = normalizeKey(key[0])
	case spec.keyPath == "":
		return fmt.Errorf("collection %q requires an explicit key", c)
	default:
		k = normalizeKey(lookupPath(doc, spec.keyPath))
		if isZeroKey(k) {
			if !spec.autoIncrement {
				return fmt.Errorf("%s record has no %q", c, spec.keyPath)
			}
			_, err := t.add(c, v)
			return err
		}
	}

	cols, args := indexColumns(spec, doc)
	cols = append([]string{"key", "value"}, cols...)
	args = append([]any{k, raw}, args...)
	q := fmt.Sprintf(`INSERT OR REPLACE INTO %s (%s) VALUES (%s)`,
		spec.table, strings.Join(cols, ", "), placeholders(len(cols)))
	if _, err := t.tx.ExecContext(t.ctx, q, args...); err != nil {
		return fmt.Errorf("put %s: %w", c, err)
	}
	return nil
}

// add inserts without a key, then writes the assigned key back into the
// record's key path.
func (t *storeTx) add(c domain.Collection, v any) (int64, error) {
	spec, err := specFor(c)
	if err != nil {
		return 0, err
	}
	if !spec.autoIncrement {
		return 0, fmt.Errorf("collection %q is not auto-increment", c)
	}
	doc, raw, err := encode(v)
	if err != nil {
		return 0, fmt.Errorf("encode %s record: %w", c, err)
	}
	if doc == nil {
		return 0, fmt.Errorf("add %s: %w", c, errNoObject)
	}

	cols, args := indexColumns(spec, doc)
	cols = append([]string{"value"}, cols...)
	args = append([]any{raw}, args...)
	res, err := t.tx.ExecContext(t.ctx, fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`,
		spec.table, strings.Join(cols, ", "), placeholders(len(cols))), args...)
	if err != nil {
		return 0, fmt.Errorf("add %s: %w", c, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("add %s: %w", c, err)
	}

	doc[spec.keyPath] = id
	withKey, err := json.Marshal(doc)
	if err != nil {
		return 0, fmt.Errorf("encode %s record: %w", c, err)
	}
	if _, err := t.tx.ExecContext(t.ctx,
		fmt.Sprintf(`UPDATE %s SET value = ? WHERE key = ?`, spec.table), string(withKey), id); err != nil {
		return 0, fmt.Errorf("add %s: %w", c, err)
	}
	return id, nil
}

func (t *storeTx) Delete(c domain.Collection, key any) error {
	spec, err := specFor(c)
	if err != nil {
		return err
	}
	if _, err := t.tx.ExecContext(t.ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE key = ?`, spec.table), normalizeKey(key)); err != nil {
		return fmt.Errorf("delete %s: %w", c, err)
	}
	return nil
}

func indexColumns(spec collectionSpec, doc map[string]any) ([]string, []any) {
	var cols []string
	var args []any
	for _, idx := range spec.indexes {
		cols = append(cols, idx.column)
		args = append(args, normalizeKey(lookupPath(doc, idx.keyPath)))
	}
	return cols, args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
