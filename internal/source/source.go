// Package source defines the row-producing capability consumed by the
// import pipeline: a lazy, finite, non-restartable cursor over tabular
// data. Cursors are read sequentially; sources are not seekable without
// corrupting row order and merged-region resolution.
package source

import "errors"

// ErrEndOfSource is returned by Next when the source is exhausted.
var ErrEndOfSource = errors.New("end of source")

// Row maps source column identifiers to raw cell values.
type Row map[string]string

// Cursor produces rows one at a time. Next returns ErrEndOfSource once
// the source is exhausted; Close releases the underlying reader.
type Cursor interface {
	Next() (Row, error)
	Close() error
}

// Options controls row production.
type Options struct {
	// HeaderRow is the 1-based row holding the column names. 0 and 1
	// both mean the first row.
	HeaderRow int
	// SkipEmptyRows drops rows whose cells are all blank.
	SkipEmptyRows bool
	// FillMerged propagates the last non-empty value seen in a column
	// into subsequent blank cells, so rows covered by a merged region
	// come out fully populated instead of sparse.
	FillMerged bool
}
