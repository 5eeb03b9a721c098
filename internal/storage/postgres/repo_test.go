package postgres

import (
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"csvload/internal/apperrors"
	"csvload/internal/storage"
)

func TestTransient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"serialization failure", &pgconn.PgError{Code: "40001"}, true},
		{"deadlock", fmt.Errorf("commit: %w", &pgconn.PgError{Code: "40P01"}), true},
		{"connection failure", &pgconn.PgError{Code: "08006"}, true},
		{"too many connections", &pgconn.PgError{Code: "53300"}, true},
		{"admin shutdown", &pgconn.PgError{Code: "57P01"}, true},
		{"undefined column", &pgconn.PgError{Code: "42703"}, false},
		{"not null violation", &pgconn.PgError{Code: "23502"}, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, transient(tc.err))
			assert.Equal(t, tc.want, apperrors.IsTransient(classify(tc.err)))
		})
	}
	assert.NoError(t, classify(nil))
}

func TestClassifyCommit(t *testing.T) {
	t.Parallel()

	reset := &net.OpError{Op: "read", Net: "tcp", Err: errors.New("connection reset by peer")}
	tests := []struct {
		name      string
		err       error
		transient bool
		unknown   bool
	}{
		{"serialization failure rolled back", &pgconn.PgError{Code: "40001"}, true, false},
		{"constraint at commit", &pgconn.PgError{Code: "23505"}, false, false},
		{"connection failure", &pgconn.PgError{Code: "08006"}, false, true},
		{"connection reset", fmt.Errorf("commit: %w", reset), false, true},
		{"plain", errors.New("boom"), false, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := classifyCommit(tc.err)
			assert.Equal(t, tc.transient, apperrors.IsTransient(err))
			assert.Equal(t, tc.unknown, errors.Is(err, apperrors.ErrCommitUnknown))
		})
	}
}

func TestSQLHelpers(t *testing.T) {
	t.Parallel()

	assert.Equal(t, `"public"."customers"`, fqn(namespace(storage.Destination{Table: "customers"}), "customers"))
	assert.Equal(t, `ALTER TABLE "cd"."t__csvload_staging" RENAME TO "t"`, renameSQL("cd", "t__csvload_staging", "t"))
	assert.Equal(t, `"we""ird"`, pgIdent(`we"ird`))
}
