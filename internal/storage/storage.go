// Package storage writes a finished table to a warehouse.
//
// Backends (bigquery, postgres, mssql, sqlite, duckdb) implement Warehouse
// and register a Factory at init time; importing storage/all enables all of
// them. The Coordinator owns the write-mode preconditions and the retry
// policy, so a backend only has to make a single Write atomic:
//
//   - replace: stage the rows in a side table, then swap it in;
//   - append: one transaction or one load job;
//   - fail-if-present: re-check emptiness inside the write transaction.
package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"csvload/internal/schema"
	"csvload/pkg/records"
)

// Destination names a warehouse table. Namespace is a BigQuery dataset or a
// SQL schema; Project is only used by BigQuery.
type Destination struct {
	Project   string
	Namespace string
	Table     string
}

func (d Destination) String() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{d.Project, d.Namespace, d.Table} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ".")
}

// WriteMode controls what happens to existing destination rows.
type WriteMode string

const (
	Replace       WriteMode = "replace"
	Append        WriteMode = "append"
	FailIfPresent WriteMode = "fail-if-present"
)

// ParseWriteMode accepts the canonical names plus the BigQuery dispositions
// and a few common spellings. Matching ignores case.
func ParseWriteMode(s string) (WriteMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "replace", "write_truncate", "truncate", "overwrite":
		return Replace, nil
	case "append", "write_append":
		return Append, nil
	case "fail-if-present", "fail_if_present", "write_empty", "empty", "create-if-absent":
		return FailIfPresent, nil
	}
	return "", fmt.Errorf("storage: unknown write mode %q", s)
}

// TableInfo is what a warehouse reports about a destination. Bytes,
// Created, Modified and Description are filled by backends that track them.
type TableInfo struct {
	Exists bool
	Schema schema.Schema
	Rows   int64

	Bytes       int64
	Created     time.Time
	Modified    time.Time
	Description string
}

// Warehouse is implemented by every backend. Errors that are worth retrying
// must carry apperrors.ErrDestinationUnavailable in their chain.
type Warehouse interface {
	// EnsureNamespace creates the dataset or schema when it is missing.
	EnsureNamespace(ctx context.Context, dest Destination) error
	// Describe reports whether the table exists, its schema and row count.
	Describe(ctx context.Context, dest Destination) (TableInfo, error)
	// Write stores rows, ordered like s.Fields, and returns the number of
	// rows written. A missing table is created from s.
	Write(ctx context.Context, dest Destination, s schema.Schema, rows [][]any, mode WriteMode) (int64, error)
	Close() error
}

// Rows flattens t into positional rows ordered like s.Fields. Columns the
// table lacks come out as nil.
func Rows(t *records.Table, s schema.Schema) [][]any {
	out := make([][]any, t.Len())
	for i, rec := range t.Rows {
		row := make([]any, len(s.Fields))
		for j, f := range s.Fields {
			row[j] = rec[f.Name]
		}
		out[i] = row
	}
	return out
}
