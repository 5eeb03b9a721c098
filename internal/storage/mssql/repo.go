// Package mssql is the Microsoft SQL Server warehouse backend. Rows go in
// through the go-mssqldb bulk copy API inside the write transaction; the
// replace swap uses sp_rename. A namespace is a SQL Server schema.
package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	mssql "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/msdsn"

	"csvload/internal/ddl"
	"csvload/internal/storage"
	"csvload/internal/storage/sqlstore"
)

// DefaultSchema is used when a destination has no namespace.
const DefaultSchema = "dbo"

func init() {
	storage.Register("mssql", func(ctx context.Context, cfg storage.Config) (storage.Warehouse, error) {
		db, err := Open(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return sqlstore.New(db, Flavor, cfg.BatchSize, cfg.Log), nil
	})
}

// Open validates dsn, connects and pings.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	if _, err := msdsn.Parse(dsn); err != nil {
		return nil, fmt.Errorf("mssql dsn: %w", err)
	}
	db, err := sql.Open("sqlserver", dsn)
	if err != nil {
		return nil, fmt.Errorf("mssql: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("mssql: ping: %w", err)
	}
	return db, nil
}

// Flavor is the SQL Server dialect for sqlstore.
var Flavor = sqlstore.Flavor{
	Dialect: ddl.MSSQL,
	Bind:    func(i int) string { return fmt.Sprintf("@p%d", i) },
	EnsureNamespace: func(ctx context.Context, q sqlstore.Querier, namespace string) error {
		_, err := q.ExecContext(ctx, "IF SCHEMA_ID(@p1) IS NULL EXEC('CREATE SCHEMA ' + QUOTENAME(@p1))", namespace)
		return err
	},
	Columns:   columns,
	Rename:    rename,
	Copy:      bulkCopy,
	Transient: transient,
}

func columns(ctx context.Context, q sqlstore.Querier, namespace, table string) ([]sqlstore.Column, error) {
	if namespace == "" {
		namespace = DefaultSchema
	}
	rows, err := q.QueryContext(ctx, `
		SELECT COLUMN_NAME, DATA_TYPE, IS_NULLABLE
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = @p1 AND TABLE_NAME = @p2
		ORDER BY ORDINAL_POSITION`, namespace, table)
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

// rename renders sp_rename. The old name is qualified, the new one is not.
func rename(namespace, from, to string) string {
	if namespace == "" {
		namespace = DefaultSchema
	}
	return fmt.Sprintf("EXEC sp_rename %s, %s", nLiteral(ddl.MSSQL.QualifiedName(namespace, from)), nLiteral(to))
}

func nLiteral(s string) string { return "N'" + strings.ReplaceAll(s, "'", "''") + "'" }

// bulkCopy sends one batch through mssql.CopyIn on the write transaction.
func bulkCopy(ctx context.Context, tx *sql.Tx, namespace, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if namespace == "" {
		namespace = DefaultSchema
	}
	stmt, err := tx.PrepareContext(ctx, mssql.CopyIn(ddl.MSSQL.QualifiedName(namespace, table), mssql.BulkOptions{}, columns...))
	if err != nil {
		return 0, fmt.Errorf("prepare bulk: %w", err)
	}
	for i := range rows {
		if _, err := stmt.ExecContext(ctx, rows[i]...); err != nil {
			_ = stmt.Close()
			return 0, fmt.Errorf("bulk row %d: %w", i, err)
		}
	}
	res, err := stmt.ExecContext(ctx)
	if cerr := stmt.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("bulk finalize: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// transientNumbers are SQL Server error numbers for deadlocks, timeouts,
// throttling and Azure SQL failovers.
var transientNumbers = map[int32]bool{
	-2: true, 233: true, 1205: true, 4060: true, 10053: true, 10054: true, 10060: true,
	40197: true, 40501: true, 40613: true, 49918: true, 49919: true, 49920: true,
}

func transient(err error) bool {
	var me mssql.Error
	if errors.As(err, &me) {
		return transientNumbers[me.Number]
	}
	var pme *mssql.Error
	return errors.As(err, &pme) && transientNumbers[pme.Number]
}
