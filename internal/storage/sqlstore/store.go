// Package sqlstore implements storage.Warehouse on database/sql. The SQL
// backends (sqlite, mssql, duckdb) differ only in a Flavor: placeholders,
// catalog queries, namespace creation, the rename used for the replace swap
// and which driver errors are transient.
//
// Every write runs in one transaction. Replace loads a staging table,
// drops the target and renames the staging table into place, so readers see
// either the old rows or the new ones.
package sqlstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"go.uber.org/zap"

	"csvload/internal/apperrors"
	"csvload/internal/ddl"
	"csvload/internal/schema"
	"csvload/internal/storage"
)

// StagingSuffix is appended to the table name for the replace staging table.
const StagingSuffix = "__csvload_staging"

// Column is one row of a catalog listing.
type Column struct {
	Name     string
	Type     string
	Nullable bool
}

// Querier is satisfied by *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Flavor is the dialect-specific part of a Store.
type Flavor struct {
	Dialect ddl.Dialect
	// Bind renders the i-th (1-based) placeholder.
	Bind func(i int) string
	// EnsureNamespace creates namespace when missing.
	EnsureNamespace func(ctx context.Context, q Querier, namespace string) error
	// Columns lists the columns of a table in order. An empty list means
	// the table does not exist.
	Columns func(ctx context.Context, q Querier, namespace, table string) ([]Column, error)
	// Rename renders the statement renaming from to to inside namespace.
	Rename func(namespace, from, to string) string
	// Copy replaces the default prepared-statement insert when set.
	Copy func(ctx context.Context, tx *sql.Tx, namespace, table string, columns []string, rows [][]any) (int64, error)
	// Transient reports driver errors worth retrying.
	Transient func(error) bool
}

// Store is a storage.Warehouse over a *sql.DB.
type Store struct {
	db    *sql.DB
	f     Flavor
	batch int
	log   *zap.Logger
}

var _ storage.Warehouse = (*Store)(nil)

// New wraps db. batchSize bounds the rows sent per insert batch.
func New(db *sql.DB, f Flavor, batchSize int, log *zap.Logger) *Store {
	if batchSize <= 0 {
		batchSize = storage.DefaultBatchSize
	}
	if log == nil {
		log = zap.NewNop()
	}
	if f.Bind == nil {
		f.Bind = func(int) string { return "?" }
	}
	return &Store{db: db, f: f, batch: batchSize, log: log.Named(f.Dialect.Name)}
}

// DB exposes the underlying pool.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) EnsureNamespace(ctx context.Context, dest storage.Destination) error {
	if dest.Namespace == "" || s.f.EnsureNamespace == nil {
		return nil
	}
	if err := s.f.EnsureNamespace(ctx, s.db, dest.Namespace); err != nil {
		return s.classify(fmt.Errorf("%s: ensure namespace %s: %w", s.f.Dialect.Name, dest.Namespace, err))
	}
	return nil
}

func (s *Store) Describe(ctx context.Context, dest storage.Destination) (storage.TableInfo, error) {
	cols, err := s.f.Columns(ctx, s.db, dest.Namespace, dest.Table)
	if err != nil {
		return storage.TableInfo{}, s.classify(fmt.Errorf("%s: describe %s: %w", s.f.Dialect.Name, dest, err))
	}
	if len(cols) == 0 {
		return storage.TableInfo{}, nil
	}
	info := storage.TableInfo{Exists: true}
	if info.Schema, err = s.schemaOf(cols); err != nil {
		return storage.TableInfo{}, err
	}
	if info.Rows, err = s.count(ctx, s.db, dest.Namespace, dest.Table); err != nil {
		return storage.TableInfo{}, s.classify(fmt.Errorf("%s: count %s: %w", s.f.Dialect.Name, dest, err))
	}
	return info, nil
}

func (s *Store) schemaOf(cols []Column) (schema.Schema, error) {
	out := schema.Schema{Fields: make([]schema.Field, len(cols))}
	for i, c := range cols {
		w, err := s.f.Dialect.WarehouseType(c.Type)
		if err != nil {
			return schema.Schema{}, err
		}
		out.Fields[i] = schema.Field{Name: c.Name, Type: w, Nullable: c.Nullable}
	}
	return out, nil
}

func (s *Store) count(ctx context.Context, q Querier, namespace, table string) (int64, error) {
	var n int64
	err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+s.f.Dialect.QualifiedName(namespace, table)).Scan(&n)
	return n, err
}

// Write stores rows in one transaction. See the package doc for replace.
func (s *Store) Write(ctx context.Context, dest storage.Destination, sch schema.Schema, rows [][]any, mode storage.WriteMode) (n int64, err error) {
	name := s.f.Dialect.Name
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, s.classify(fmt.Errorf("%s: begin tx: %w", name, err))
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	ns, table := dest.Namespace, dest.Table
	switch mode {
	case storage.Replace:
		stage := table + StagingSuffix
		if err = s.exec(ctx, tx, "DROP TABLE IF EXISTS "+s.f.Dialect.QualifiedName(ns, stage)); err != nil {
			return 0, err
		}
		if err = s.create(ctx, tx, ns, stage, sch); err != nil {
			return 0, err
		}
		if n, err = s.copy(ctx, tx, ns, stage, sch.Names(), rows); err != nil {
			return 0, err
		}
		if err = s.exec(ctx, tx, "DROP TABLE IF EXISTS "+s.f.Dialect.QualifiedName(ns, table)); err != nil {
			return 0, err
		}
		if err = s.exec(ctx, tx, s.f.Rename(ns, stage, table)); err != nil {
			return 0, err
		}
	case storage.Append, storage.FailIfPresent:
		var cols []Column
		if cols, err = s.f.Columns(ctx, tx, ns, table); err != nil {
			return 0, s.classify(fmt.Errorf("%s: describe %s: %w", name, dest, err))
		}
		if len(cols) == 0 {
			if err = s.create(ctx, tx, ns, table, sch); err != nil {
				return 0, err
			}
		} else if mode == storage.FailIfPresent {
			var existing int64
			if existing, err = s.count(ctx, tx, ns, table); err != nil {
				return 0, s.classify(fmt.Errorf("%s: count %s: %w", name, dest, err))
			}
			if existing > 0 {
				err = apperrors.Conflict("%s already holds %d rows", dest, existing)
				return 0, err
			}
		}
		if n, err = s.copy(ctx, tx, ns, table, sch.Names(), rows); err != nil {
			return 0, err
		}
	default:
		err = fmt.Errorf("%s: unknown write mode %q", name, mode)
		return 0, err
	}

	if err = tx.Commit(); err != nil {
		return 0, s.classifyCommit(fmt.Errorf("%s: commit: %w", name, err))
	}
	s.log.Debug("write committed", zap.Stringer("destination", dest), zap.String("mode", string(mode)), zap.Int64("rows", n))
	return n, nil
}

func (s *Store) create(ctx context.Context, tx *sql.Tx, namespace, table string, sch schema.Schema) error {
	def, err := ddl.FromSchema(s.f.Dialect, namespace, table, sch)
	if err != nil {
		return err
	}
	stmt, err := ddl.BuildCreateTableSQL(def)
	if err != nil {
		return err
	}
	return s.exec(ctx, tx, stmt)
}

func (s *Store) exec(ctx context.Context, q Querier, stmt string) error {
	if _, err := q.ExecContext(ctx, stmt); err != nil {
		return s.classify(fmt.Errorf("%s: exec %q: %w", s.f.Dialect.Name, firstLine(stmt), err))
	}
	return nil
}

func (s *Store) copy(ctx context.Context, tx *sql.Tx, namespace, table string, columns []string, rows [][]any) (int64, error) {
	var fn storage.CopyFn
	if s.f.Copy != nil {
		fn = func(ctx context.Context, batch [][]any) (int64, error) {
			return s.f.Copy(ctx, tx, namespace, table, columns, batch)
		}
	} else {
		stmt, err := tx.PrepareContext(ctx, s.insertSQL(namespace, table, columns))
		if err != nil {
			return 0, s.classify(fmt.Errorf("%s: prepare insert: %w", s.f.Dialect.Name, err))
		}
		defer stmt.Close()
		fn = func(ctx context.Context, batch [][]any) (int64, error) {
			var n int64
			for _, row := range batch {
				if _, err := stmt.ExecContext(ctx, row...); err != nil {
					return n, err
				}
				n++
			}
			return n, nil
		}
	}
	n, err := storage.Batches(ctx, rows, s.batch, fn, s.log)
	if err != nil {
		return n, s.classify(fmt.Errorf("%s: insert into %s: %w", s.f.Dialect.Name, table, err))
	}
	return n, nil
}

func (s *Store) insertSQL(namespace, table string, columns []string) string {
	quoted := make([]string, len(columns))
	binds := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = s.f.Dialect.Quote(c)
		binds[i] = s.f.Bind(i + 1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		s.f.Dialect.QualifiedName(namespace, table), strings.Join(quoted, ", "), strings.Join(binds, ", "))
}

// classify marks err transient when the flavor or the connection layer
// says it is worth retrying.
func (s *Store) classify(err error) error {
	if err == nil {
		return nil
	}
	if Transient(err) || (s.f.Transient != nil && s.f.Transient(err)) {
		return apperrors.Unavailable(err)
	}
	return err
}

// classifyCommit is classify for a failed commit. A connection lost during
// the commit leaves its outcome unknown, so it is never retried.
func (s *Store) classifyCommit(err error) error {
	if Transient(err) {
		return apperrors.CommitUnknown(err)
	}
	return s.classify(err)
}

// Transient reports connection-level failures common to every driver.
func Transient(err error) bool {
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
