// Package postgres is the Postgres warehouse backend on pgx v5. Rows are
// loaded with COPY inside the write transaction; replace copies into a
// staging table and renames it over the target before commit, so readers
// never see a half-loaded table. A namespace is a Postgres schema.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"csvload/internal/apperrors"
	"csvload/internal/ddl"
	"csvload/internal/logging"
	"csvload/internal/schema"
	"csvload/internal/storage"
	"csvload/internal/storage/sqlstore"
)

// DefaultSchema is used when a destination has no namespace.
const DefaultSchema = "public"

func init() {
	storage.Register("postgres", func(ctx context.Context, cfg storage.Config) (storage.Warehouse, error) {
		return New(ctx, cfg.DSN, cfg.BatchSize, cfg.Log)
	})
}

// querier is the part of pgxpool.Pool and pgx.Tx used for catalog reads.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Warehouse writes to Postgres through a pgx pool.
type Warehouse struct {
	pool  *pgxpool.Pool
	batch int
	log   *zap.Logger
}

var _ storage.Warehouse = (*Warehouse)(nil)

// New connects a pool to dsn and pings it.
func New(ctx context.Context, dsn string, batchSize int, log *zap.Logger) (*Warehouse, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if batchSize <= 0 {
		batchSize = storage.DefaultBatchSize
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, classify(fmt.Errorf("postgres: ping %s: %w", logging.SanitizeDSN(dsn), err))
	}
	return &Warehouse{pool: pool, batch: batchSize, log: log.Named("postgres")}, nil
}

func (w *Warehouse) Close() error {
	w.pool.Close()
	return nil
}

func (w *Warehouse) EnsureNamespace(ctx context.Context, dest storage.Destination) error {
	if _, err := w.pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+pgIdent(namespace(dest))); err != nil {
		return classify(fmt.Errorf("postgres: create schema %s: %w", namespace(dest), err))
	}
	return nil
}

func (w *Warehouse) Describe(ctx context.Context, dest storage.Destination) (storage.TableInfo, error) {
	fields, err := columns(ctx, w.pool, namespace(dest), dest.Table)
	if err != nil {
		return storage.TableInfo{}, classify(fmt.Errorf("postgres: describe %s: %w", dest, err))
	}
	if len(fields) == 0 {
		return storage.TableInfo{}, nil
	}
	info := storage.TableInfo{Exists: true, Schema: schema.Schema{Fields: fields}}
	if err := w.pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+fqn(namespace(dest), dest.Table)).Scan(&info.Rows); err != nil {
		return storage.TableInfo{}, classify(fmt.Errorf("postgres: count %s: %w", dest, err))
	}
	return info, nil
}

// Write runs the whole load in one transaction.
func (w *Warehouse) Write(ctx context.Context, dest storage.Destination, s schema.Schema, rows [][]any, mode storage.WriteMode) (int64, error) {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return 0, classify(fmt.Errorf("postgres: begin: %w", err))
	}
	// Rollback after Commit is a no-op.
	defer func() { _ = tx.Rollback(ctx) }()

	ns, table := namespace(dest), dest.Table
	var n int64
	switch mode {
	case storage.Replace:
		stage := table + sqlstore.StagingSuffix
		if err := exec(ctx, tx, "DROP TABLE IF EXISTS "+fqn(ns, stage)); err != nil {
			return 0, err
		}
		if err := create(ctx, tx, ns, stage, s); err != nil {
			return 0, err
		}
		if n, err = w.copy(ctx, tx, ns, stage, s.Names(), rows); err != nil {
			return 0, err
		}
		if err := exec(ctx, tx, "DROP TABLE IF EXISTS "+fqn(ns, table)); err != nil {
			return 0, err
		}
		if err := exec(ctx, tx, renameSQL(ns, stage, table)); err != nil {
			return 0, err
		}
	case storage.Append, storage.FailIfPresent:
		existing, err := columns(ctx, tx, ns, table)
		if err != nil {
			return 0, classify(fmt.Errorf("postgres: describe %s: %w", dest, err))
		}
		if len(existing) == 0 {
			if err := create(ctx, tx, ns, table, s); err != nil {
				return 0, err
			}
		} else if mode == storage.FailIfPresent {
			if err := exec(ctx, tx, "LOCK TABLE "+fqn(ns, table)+" IN SHARE ROW EXCLUSIVE MODE"); err != nil {
				return 0, err
			}
			var present bool
			if err := tx.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM "+fqn(ns, table)+")").Scan(&present); err != nil {
				return 0, classify(fmt.Errorf("postgres: check %s: %w", dest, err))
			}
			if present {
				return 0, apperrors.Conflict("%s is not empty", dest)
			}
		}
		if n, err = w.copy(ctx, tx, ns, table, s.Names(), rows); err != nil {
			return 0, err
		}
	default:
		return 0, fmt.Errorf("postgres: unknown write mode %q", mode)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, classifyCommit(fmt.Errorf("postgres: commit: %w", err))
	}
	w.log.Debug("write committed", zap.Stringer("destination", dest), zap.Int64("rows", n))
	return n, nil
}

func (w *Warehouse) copy(ctx context.Context, tx pgx.Tx, ns, table string, cols []string, rows [][]any) (int64, error) {
	n, err := storage.Batches(ctx, rows, w.batch, func(ctx context.Context, batch [][]any) (int64, error) {
		return tx.CopyFrom(ctx, pgx.Identifier{ns, table}, cols, pgx.CopyFromRows(batch))
	}, w.log)
	if err != nil {
		return n, classify(fmt.Errorf("postgres: copy into %s: %w", table, err))
	}
	return n, nil
}

func create(ctx context.Context, tx pgx.Tx, ns, table string, s schema.Schema) error {
	def, err := ddl.FromSchema(ddl.Postgres, ns, table, s)
	if err != nil {
		return err
	}
	stmt, err := ddl.BuildCreateTableSQL(def)
	if err != nil {
		return err
	}
	return exec(ctx, tx, stmt)
}

func exec(ctx context.Context, tx pgx.Tx, stmt string) error {
	if _, err := tx.Exec(ctx, stmt); err != nil {
		return classify(fmt.Errorf("postgres: exec %q: %w", strings.SplitN(stmt, "\n", 2)[0], err))
	}
	return nil
}

func columns(ctx context.Context, q querier, ns, table string) ([]schema.Field, error) {
	rows, err := q.Query(ctx, `
		SELECT column_name, data_type, is_nullable
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position`, ns, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []schema.Field
	for rows.Next() {
		var name, typ, nullable string
		if err := rows.Scan(&name, &typ, &nullable); err != nil {
			return nil, err
		}
		wt, err := ddl.Postgres.WarehouseType(typ)
		if err != nil {
			return nil, err
		}
		out = append(out, schema.Field{Name: name, Type: wt, Nullable: nullable == "YES"})
	}
	return out, rows.Err()
}

func namespace(d storage.Destination) string {
	if d.Namespace == "" {
		return DefaultSchema
	}
	return d.Namespace
}

// pgIdent safely quotes an identifier for Postgres.
func pgIdent(id string) string { return ddl.Postgres.Quote(id) }

func fqn(ns, table string) string { return ddl.Postgres.QualifiedName(ns, table) }

func renameSQL(ns, from, to string) string {
	return fmt.Sprintf("ALTER TABLE %s RENAME TO %s", fqn(ns, from), pgIdent(to))
}

// classify marks connection failures, serialization failures, deadlocks,
// lock timeouts, admin shutdowns and resource exhaustion as transient.
func classify(err error) error {
	if err != nil && transient(err) {
		return apperrors.Unavailable(err)
	}
	return err
}

// classifyCommit retries a commit the server rejected (the transaction
// rolled back) or one that never left the client. Any other connection
// failure leaves the outcome unknown.
func classifyCommit(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && !strings.HasPrefix(pgErr.Code, "08") {
		return classify(err)
	}
	if pgconn.SafeToRetry(err) {
		return classify(err)
	}
	if transient(err) {
		return apperrors.CommitUnknown(err)
	}
	return err
}

func transient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03", "57P01", "57P02", "57P03":
			return true
		}
		return strings.HasPrefix(pgErr.Code, "08") || strings.HasPrefix(pgErr.Code, "53")
	}
	return pgconn.SafeToRetry(err) || pgconn.Timeout(err) || sqlstore.Transient(err)
}
