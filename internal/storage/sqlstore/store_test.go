package sqlstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"csvload/internal/apperrors"
	"csvload/internal/ddl"
	"csvload/internal/schema"
	"csvload/internal/storage"
	"csvload/pkg/records"
)

var dest = storage.Destination{Namespace: "d", Table: "t"}

var sch = schema.Schema{Fields: []schema.Field{
	{Name: "id", Type: schema.Integer},
	{Name: "name", Type: schema.String, Nullable: true},
}}

// mockFlavor answers catalog lookups from cols without touching the mock.
func mockFlavor(cols []Column) Flavor {
	return Flavor{
		Dialect: ddl.SQLite,
		Columns: func(context.Context, Querier, string, string) ([]Column, error) {
			return cols, nil
		},
		Rename: func(ns, from, to string) string {
			return "ALTER TABLE " + ddl.SQLite.QualifiedName(ns, from) + " RENAME TO " + ddl.SQLite.Quote(to)
		},
	}
}

func newMock(t *testing.T, f Flavor) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db, f, 2, zaptest.NewLogger(t)), mock
}

func q(s string) string { return regexp.QuoteMeta(s) }

func TestWriteReplaceSwapsStagingTable(t *testing.T) {
	s, mock := newMock(t, mockFlavor(nil))

	mock.ExpectBegin()
	mock.ExpectExec(q(`DROP TABLE IF EXISTS "d"."t__csvload_staging"`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(q(`CREATE TABLE "d"."t__csvload_staging"`)).WillReturnResult(sqlmock.NewResult(0, 0))
	prep := mock.ExpectPrepare(q(`INSERT INTO "d"."t__csvload_staging" ("id", "name") VALUES (?, ?)`))
	prep.ExpectExec().WithArgs(int64(1), "a").WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WithArgs(int64(2), nil).WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WithArgs(int64(3), "c").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q(`DROP TABLE IF EXISTS "d"."t"`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(q(`ALTER TABLE "d"."t__csvload_staging" RENAME TO "t"`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	n, err := s.Write(context.Background(), dest, sch, [][]any{{int64(1), "a"}, {int64(2), nil}, {int64(3), "c"}}, storage.Replace)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteFailIfPresentRollsBack(t *testing.T) {
	s, mock := newMock(t, mockFlavor([]Column{{Name: "id", Type: "INTEGER"}}))

	mock.ExpectBegin()
	mock.ExpectQuery(q(`SELECT COUNT(*) FROM "d"."t"`)).WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(1))
	mock.ExpectRollback()

	_, err := s.Write(context.Background(), dest, sch, [][]any{{int64(1), "a"}}, storage.FailIfPresent)
	require.ErrorIs(t, err, apperrors.ErrDestinationConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteAppendCreatesMissingTable(t *testing.T) {
	s, mock := newMock(t, mockFlavor(nil))

	mock.ExpectBegin()
	mock.ExpectExec(q(`CREATE TABLE "d"."t"`)).WillReturnResult(sqlmock.NewResult(0, 0))
	prep := mock.ExpectPrepare(q(`INSERT INTO "d"."t"`))
	prep.ExpectExec().WithArgs(int64(1), "a").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	n, err := s.Write(context.Background(), dest, sch, [][]any{{int64(1), "a"}}, storage.Append)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteInsertFailureRollsBack(t *testing.T) {
	s, mock := newMock(t, mockFlavor([]Column{{Name: "id", Type: "INTEGER"}}))

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(q(`INSERT INTO "d"."t"`))
	prep.ExpectExec().WithArgs(int64(1), "a").WillReturnError(errors.New("constraint failed"))
	mock.ExpectRollback()

	_, err := s.Write(context.Background(), dest, sch, [][]any{{int64(1), "a"}}, storage.Append)
	require.Error(t, err)
	assert.False(t, apperrors.IsTransient(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNetworkErrorIsTransient(t *testing.T) {
	s, mock := newMock(t, mockFlavor(nil))
	mock.ExpectBegin().WillReturnError(&net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")})

	_, err := s.Write(context.Background(), dest, sch, nil, storage.Append)
	require.Error(t, err)
	assert.True(t, apperrors.IsTransient(err))
}

func TestCommitConnectionLossIsNotRetried(t *testing.T) {
	s, mock := newMock(t, mockFlavor(nil))

	mock.ExpectBegin()
	mock.ExpectExec(q(`CREATE TABLE "d"."t"`)).WillReturnResult(sqlmock.NewResult(0, 0))
	prep := mock.ExpectPrepare(q(`INSERT INTO "d"."t"`))
	prep.ExpectExec().WithArgs(int64(1), "a").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit().WillReturnError(&net.OpError{Op: "read", Net: "tcp", Err: errors.New("connection reset by peer")})

	tbl := records.NewTable(records.Column{Name: "id", Type: records.Integer}, records.Column{Name: "name", Type: records.Text})
	tbl.Append(records.Record{"id": int64(1), "name": "a"})
	retry := storage.RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, Multiplier: 1, AttemptTimeout: time.Second}

	res, err := storage.NewCoordinator(s, retry, zaptest.NewLogger(t)).Load(context.Background(), tbl, sch, dest, storage.Append)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrCommitUnknown)
	assert.False(t, apperrors.IsTransient(err))
	assert.Equal(t, 1, res.Attempts, "a write that may have committed must not be repeated")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitRejectedByFlavorIsRetried(t *testing.T) {
	busy := errors.New("database is locked")
	f := mockFlavor(nil)
	f.Transient = func(err error) bool { return errors.Is(err, busy) }
	s, mock := newMock(t, f)

	mock.ExpectBegin()
	mock.ExpectExec(q(`CREATE TABLE "d"."t"`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectPrepare(q(`INSERT INTO "d"."t"`))
	mock.ExpectCommit().WillReturnError(busy)

	_, err := s.Write(context.Background(), dest, sch, nil, storage.Append)
	require.Error(t, err)
	assert.True(t, apperrors.IsTransient(err))
	assert.NotErrorIs(t, err, apperrors.ErrCommitUnknown)
}

func TestFlavorTransient(t *testing.T) {
	busy := errors.New("database is locked")
	f := mockFlavor(nil)
	f.Transient = func(err error) bool { return errors.Is(err, busy) }
	s, mock := newMock(t, f)
	mock.ExpectBegin().WillReturnError(busy)

	_, err := s.Write(context.Background(), dest, sch, nil, storage.Append)
	assert.True(t, apperrors.IsTransient(err))
}

func TestDescribe(t *testing.T) {
	s, mock := newMock(t, mockFlavor([]Column{
		{Name: "id", Type: "INTEGER"},
		{Name: "at", Type: "TIMESTAMP", Nullable: true},
	}))
	mock.ExpectQuery(q(`SELECT COUNT(*) FROM "d"."t"`)).WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(16))

	info, err := s.Describe(context.Background(), dest)
	require.NoError(t, err)
	assert.True(t, info.Exists)
	assert.Equal(t, int64(16), info.Rows)
	assert.Equal(t, []schema.Field{
		{Name: "id", Type: schema.Integer},
		{Name: "at", Type: schema.Timestamp, Nullable: true},
	}, info.Schema.Fields)

	s, _ = newMock(t, mockFlavor(nil))
	info, err = s.Describe(context.Background(), dest)
	require.NoError(t, err)
	assert.False(t, info.Exists)
}

func TestEnsureNamespaceSkipsEmpty(t *testing.T) {
	called := false
	f := mockFlavor(nil)
	f.EnsureNamespace = func(context.Context, Querier, string) error {
		called = true
		return nil
	}
	s, _ := newMock(t, f)
	require.NoError(t, s.EnsureNamespace(context.Background(), storage.Destination{Table: "t"}))
	assert.False(t, called)
	require.NoError(t, s.EnsureNamespace(context.Background(), dest))
	assert.True(t, called)
}

var _ Querier = (*sql.Tx)(nil)

func TestTransient(t *testing.T) {
	assert.True(t, Transient(fmt.Errorf("begin: %w", driver.ErrBadConn)))
	assert.False(t, Transient(errors.New("syntax error")))
}
