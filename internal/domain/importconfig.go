package domain

import "github.com/google/uuid"

// ExcelConfig describes one spreadsheet import source and its target table.
type ExcelConfig struct {
	ID          uuid.UUID
	Name        string
	FilePath    string
	SheetName   string
	TargetTable string

	HeaderRow     int
	SkipEmptyRows bool
	// SplitMergedCells propagates a merged region's top-left value into
	// every covered row instead of leaving the cells sparse.
	SplitMergedCells bool
	ClearBeforeLoad  bool

	Mappings []FieldMapping
}

// FieldMapping maps one source column to one target field.
type FieldMapping struct {
	SourceColumn string
	TargetField  string
	TargetType   string // text, integer, numeric, boolean, timestamp
	Required     bool
	OrderIndex   int
}

// SQLConfig references an executable SQL statement and its data source.
type SQLConfig struct {
	ID             uuid.UUID
	Name           string
	SQLText        string
	DataSourceName string
}
