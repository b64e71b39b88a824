package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"reviews_app/internal/domain"
)

// SchemaVersion is the version Open migrates to.
const SchemaVersion = 1

const schemaInfoDDL = `
CREATE TABLE IF NOT EXISTS schema_info (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

// Collections are tables with the record kept as JSON in value and
// index columns copied out of it on every write.
const schemaV1 = `
CREATE TABLE restaurants (
    key              INTEGER PRIMARY KEY,
    value            TEXT NOT NULL,
    idx_cuisine      TEXT,
    idx_neighborhood TEXT
);
CREATE INDEX idx_restaurants_cuisine ON restaurants(idx_cuisine, key);
CREATE INDEX idx_restaurants_neighborhood ON restaurants(idx_neighborhood, key);

CREATE TABLE cuisines (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE neighborhoods (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE reviews (
    key               INTEGER PRIMARY KEY,
    value             TEXT NOT NULL,
    idx_restaurant_id INTEGER
);
CREATE INDEX idx_reviews_restaurant ON reviews(idx_restaurant_id, key);

CREATE TABLE reviews_outbox (
    key               INTEGER PRIMARY KEY AUTOINCREMENT,
    value             TEXT NOT NULL,
    idx_restaurant_id INTEGER
);
CREATE INDEX idx_outbox_restaurant ON reviews_outbox(idx_restaurant_id, key);
`

type indexSpec struct {
	keyPath string
	column  string
}

type collectionSpec struct {
	table         string
	keyPath       string // empty: value-as-key, explicit key required
	autoIncrement bool
	indexes       map[string]indexSpec
}

var collections = map[domain.Collection]collectionSpec{
	domain.Listings: {
		table:   "restaurants",
		keyPath: "id",
		indexes: map[string]indexSpec{
			domain.IndexByCategory: {keyPath: "cuisine_type", column: "idx_cuisine"},
			domain.IndexByArea:     {keyPath: "neighborhood", column: "idx_neighborhood"},
		},
	},
	domain.Categories: {table: "cuisines"},
	domain.Areas:      {table: "neighborhoods"},
	domain.Reviews: {
		table:   "reviews",
		keyPath: "id",
		indexes: map[string]indexSpec{
			domain.IndexByListing: {keyPath: "restaurant_id", column: "idx_restaurant_id"},
		},
	},
	domain.PendingReviews: {
		table:         "reviews_outbox",
		keyPath:       "id",
		autoIncrement: true,
		indexes: map[string]indexSpec{
			domain.IndexByListing: {keyPath: "restaurant_id", column: "idx_restaurant_id"},
		},
	},
}

func specFor(c domain.Collection) (collectionSpec, error) {
	spec, ok := collections[c]
	if !ok {
		return collectionSpec{}, fmt.Errorf("unknown collection %q", c)
	}
	return spec, nil
}

// migrations[i] upgrades from version i to i+1. Upgrades are additive only.
var migrations = []func(ctx context.Context, tx *sql.Tx) error{
	func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, schemaV1)
		return err
	},
}

func schemaVersion(ctx context.Context, q interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}) (int, error) {
	var v string
	err := q.QueryRowContext(ctx, `SELECT value FROM schema_info WHERE key = 'version'`).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse schema version %q: %w", v, err)
	}
	return n, nil
}

// migrate brings the store up to target. Running it against a store that is
// already at target is a no-op.
func migrate(ctx context.Context, db *sql.DB, target int) (int, error) {
	if _, err := db.ExecContext(ctx, schemaInfoDDL); err != nil {
		return 0, fmt.Errorf("create schema_info: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin migration: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := schemaVersion(ctx, tx)
	if err != nil {
		return 0, err
	}
	if current > len(migrations) {
		return current, fmt.Errorf("store is at schema version %d, newer than this build (%d)", current, len(migrations))
	}
	applied := 0
	for v := current; v < target; v++ {
		if err := migrations[v](ctx, tx); err != nil {
			return current, fmt.Errorf("migrate to version %d: %w", v+1, err)
		}
		applied++
	}
	if applied == 0 {
		return current, nil
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO schema_info (key, value) VALUES ('version', ?)`, strconv.Itoa(target)); err != nil {
		return current, fmt.Errorf("set schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return current, fmt.Errorf("commit migration: %w", err)
	}
	return target, nil
}
