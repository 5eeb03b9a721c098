// Package all registers every built-in warehouse backend with the storage
// factory. It exists for its side effects:
//
//	import _ "csvload/internal/storage/all"
//
// after which storage.Open accepts "bigquery", "postgres", "mssql",
// "sqlite" and "duckdb". A binary that needs fewer backends imports the
// backend packages it wants instead.
package all

import (
	_ "csvload/internal/storage/bigquery"
	_ "csvload/internal/storage/duckdb"
	_ "csvload/internal/storage/mssql"
	_ "csvload/internal/storage/postgres"
	_ "csvload/internal/storage/sqlite"
)
