package ddl

// ColumnDef describes a single column in a table definition. Name is emitted
// as given, so callers quote it first (FromSchema does).
type ColumnDef struct {
	Name       string
	SQLType    string
	Nullable   bool
	PrimaryKey bool
	Default    string
}

// TableDef holds the table name as it should appear in SQL (already
// qualified and quoted) and an ordered list of columns.
type TableDef struct {
	FQN     string
	Columns []ColumnDef
}
