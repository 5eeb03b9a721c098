// Package sqlite is the SQLite warehouse backend, on database/sql with the
// pure-Go modernc driver. A namespace is an attached database file next to
// the main one (or another in-memory database when the main one is), so
// "customer_data.customers" lands in customer_data.db.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"csvload/internal/ddl"
	"csvload/internal/storage"
	"csvload/internal/storage/sqlstore"
)

func init() {
	storage.Register("sqlite", func(ctx context.Context, cfg storage.Config) (storage.Warehouse, error) {
		db, err := Open(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return sqlstore.New(db, Flavor(cfg.DSN), cfg.BatchSize, cfg.Log), nil
	})
}

// Open opens dsn ("file:warehouse.db?cache=shared", "warehouse.db" or ":memory:") on a
// single connection, so attached databases and in-memory state are shared
// by every statement.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("sqlite: DSN must not be empty")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	_, _ = db.ExecContext(ctx, "PRAGMA foreign_keys = ON;")
	return db, nil
}

// Flavor returns the SQLite flavor for a database opened from dsn.
func Flavor(dsn string) sqlstore.Flavor {
	return sqlstore.Flavor{
		Dialect: ddl.SQLite,
		EnsureNamespace: func(ctx context.Context, q sqlstore.Querier, namespace string) error {
			ok, err := attached(ctx, q, namespace)
			if err != nil || ok {
				return err
			}
			_, err = q.ExecContext(ctx, "ATTACH DATABASE ? AS "+ddl.SQLite.Quote(namespace), attachPath(dsn, namespace))
			return err
		},
		Columns:   columns,
		Rename:    rename,
		Transient: transient,
	}
}

func attached(ctx context.Context, q sqlstore.Querier, namespace string) (bool, error) {
	if namespace == "" || strings.EqualFold(namespace, "main") {
		return true, nil
	}
	var n int
	err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM pragma_database_list WHERE name = ?", namespace).Scan(&n)
	return n > 0, err
}

// attachPath puts the namespace database beside the main file. In-memory
// databases attach another in-memory database.
func attachPath(dsn, namespace string) string {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == ":memory:" || strings.Contains(dsn, "mode=memory") {
		return ":memory:"
	}
	return filepath.Join(filepath.Dir(path), namespace+".db")
}

func columns(ctx context.Context, q sqlstore.Querier, namespace, table string) ([]sqlstore.Column, error) {
	ok, err := attached(ctx, q, namespace)
	if err != nil || !ok {
		return nil, err
	}
	if namespace == "" {
		namespace = "main"
	}
	rows, err := q.QueryContext(ctx, `SELECT name, type, "notnull" FROM pragma_table_info(?, ?) ORDER BY cid`, table, namespace)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []sqlstore.Column
	for rows.Next() {
		var (
			c       sqlstore.Column
			notNull int
		)
		if err := rows.Scan(&c.Name, &c.Type, &notNull); err != nil {
			return nil, err
		}
		c.Nullable = notNull == 0
		out = append(out, c)
	}
	return out, rows.Err()
}

func rename(namespace, from, to string) string {
	return fmt.Sprintf("ALTER TABLE %s RENAME TO %s", ddl.SQLite.QualifiedName(namespace, from), ddl.SQLite.Quote(to))
}

// transient reports lock contention, which clears on its own.
func transient(err error) bool {
	var se *msqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}
