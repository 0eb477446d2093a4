package source

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
)

// CSVCursor reads rows from a CSV file, keyed by header column names.
type CSVCursor struct {
	file    *os.File
	reader  *csv.Reader
	headers []string
	opts    Options

	// lastSeen holds the most recent non-empty value per column for
	// merged-region fill.
	lastSeen map[string]string
}

// OpenCSV opens path and consumes its first record as the header row.
func OpenCSV(path string, opts Options) (*CSVCursor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	for skip := opts.HeaderRow - 1; skip > 0; skip-- {
		if _, err := r.Read(); err != nil {
			f.Close()
			if err == io.EOF {
				return nil, fmt.Errorf("open source: %w", ErrEndOfSource)
			}
			return nil, fmt.Errorf("skip to header row: %w", err)
		}
	}

	headers, err := r.Read()
	if err != nil {
		f.Close()
		if err == io.EOF {
			return nil, fmt.Errorf("open source: %w", ErrEndOfSource)
		}
		return nil, fmt.Errorf("read header: %w", err)
	}

	return &CSVCursor{
		file:     f,
		reader:   r,
		headers:  headers,
		opts:     opts,
		lastSeen: make(map[string]string),
	}, nil
}

// Headers returns the source column identifiers in file order.
func (c *CSVCursor) Headers() []string {
	return c.headers
}

func (c *CSVCursor) Next() (Row, error) {
	for {
		record, err := c.reader.Read()
		if err == io.EOF {
			return nil, ErrEndOfSource
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}

		// Blank lines are judged on the raw record, before merge fill.
		// Filling first would fabricate a duplicate of the previous row.
		if c.opts.SkipEmptyRows && recordEmpty(record) {
			continue
		}

		row := make(Row, len(c.headers))
		for i, h := range c.headers {
			var v string
			if i < len(record) {
				v = record[i]
			}
			if v == "" && c.opts.FillMerged {
				v = c.lastSeen[h]
			} else if v != "" {
				c.lastSeen[h] = v
			}
			row[h] = v
		}
		return row, nil
	}
}

func recordEmpty(record []string) bool {
	for _, v := range record {
		if v != "" {
			return false
		}
	}
	return true
}

func (c *CSVCursor) Close() error {
	return c.file.Close()
}

var _ Cursor = (*CSVCursor)(nil)
