package source

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/djlord-it/easy-batch/internal/domain"
)

// FileOpener opens the row cursor behind an import configuration based
// on the file extension. Only CSV sources are currently supported; the
// Cursor interface leaves room for spreadsheet-backed cursors.
type FileOpener struct{}

// Open returns a cursor over the configured file plus its data row
// count, which drives batch sizing and percent-done reporting. The
// count is best-effort: 0 means unknown.
func (FileOpener) Open(cfg domain.ExcelConfig) (Cursor, int, error) {
	ext := strings.ToLower(filepath.Ext(cfg.FilePath))
	switch ext {
	case ".csv":
		opts := Options{
			HeaderRow:     cfg.HeaderRow,
			SkipEmptyRows: cfg.SkipEmptyRows,
			FillMerged:    cfg.SplitMergedCells,
		}
		total, err := countCSVRows(cfg.FilePath, opts)
		if err != nil {
			total = 0
		}
		cursor, err := OpenCSV(cfg.FilePath, opts)
		if err != nil {
			return nil, 0, err
		}
		return cursor, total, nil
	default:
		return nil, 0, fmt.Errorf("unsupported source file type %q", ext)
	}
}

// countCSVRows counts the data records in one extra pass over the file,
// applying the same header offset and blank-line policy the cursor will.
func countCSVRows(path string, opts Options) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	skip := opts.HeaderRow
	if skip < 1 {
		skip = 1
	}

	count := 0
	for {
		record, err := r.Read()
		if err == io.EOF {
			return count, nil
		}
		if err != nil {
			return 0, err
		}
		if skip > 0 {
			skip--
			continue
		}
		if opts.SkipEmptyRows && recordEmpty(record) {
			continue
		}
		count++
	}
}
