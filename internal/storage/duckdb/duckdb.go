// Package duckdb is the DuckDB warehouse backend: a local columnar database
// file, useful for development runs and for tests that want a real
// warehouse without a server. A namespace is a DuckDB schema.
package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/marcboeker/go-duckdb"

	"csvload/internal/ddl"
	"csvload/internal/storage"
	"csvload/internal/storage/sqlstore"
)

func init() {
	storage.Register("duckdb", func(ctx context.Context, cfg storage.Config) (storage.Warehouse, error) {
		db, err := Open(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return sqlstore.New(db, Flavor, cfg.BatchSize, cfg.Log), nil
	})
}

// Open opens the database file at path. An empty path or ":memory:" opens
// an in-memory database.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("duckdb: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("duckdb: ping: %w", err)
	}
	return db, nil
}

// Flavor is the DuckDB dialect for sqlstore.
var Flavor = sqlstore.Flavor{
	Dialect: ddl.DuckDB,
	EnsureNamespace: func(ctx context.Context, q sqlstore.Querier, namespace string) error {
		_, err := q.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+ddl.DuckDB.Quote(namespace))
		return err
	},
	Columns: columns,
	Rename: func(namespace, from, to string) string {
		return fmt.Sprintf("ALTER TABLE %s RENAME TO %s", ddl.DuckDB.QualifiedName(namespace, from), ddl.DuckDB.Quote(to))
	},
	Transient: transient,
}

func columns(ctx context.Context, q sqlstore.Querier, namespace, table string) ([]sqlstore.Column, error) {
	if namespace == "" {
		namespace = "main"
	}
	rows, err := q.QueryContext(ctx, `
		SELECT column_name, data_type, is_nullable
		FROM information_schema.columns
		WHERE table_schema = ? AND table_name = ?
		ORDER BY ordinal_position`, namespace, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []sqlstore.Column
	for rows.Next() {
		var (
			c        sqlstore.Column
			nullable string
		)
		if err := rows.Scan(&c.Name, &c.Type, &nullable); err != nil {
			return nil, err
		}
		c.Nullable = nullable == "YES"
		out = append(out, c)
	}
	return out, rows.Err()
}

// transient reports transaction conflicts with another writer.
func transient(err error) bool {
	var de *duckdb.Error
	return errors.As(err, &de) && de.Type == duckdb.ErrorTypeTransaction
}
