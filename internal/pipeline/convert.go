package pipeline

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/djlord-it/easy-batch/internal/domain"
	"github.com/djlord-it/easy-batch/internal/source"
)

// timestampLayouts are tried in order when converting timestamp cells.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006",
}

// ConvertRow maps a raw source row onto target fields, converting each
// cell to the mapping's target type. A missing required cell or an
// unparsable value fails the whole row.
func ConvertRow(row source.Row, mappings []domain.FieldMapping) (MappedRow, error) {
	mapped := make(MappedRow, len(mappings))

	for _, m := range mappings {
		raw, ok := row[m.SourceColumn]
		raw = strings.TrimSpace(raw)

		if raw == "" {
			if m.Required {
				if !ok {
					return nil, fmt.Errorf("column %q: not present in source", m.SourceColumn)
				}
				return nil, fmt.Errorf("column %q: required value is empty", m.SourceColumn)
			}
			mapped[m.TargetField] = nil
			continue
		}

		value, err := convertValue(raw, m.TargetType)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", m.SourceColumn, err)
		}
		mapped[m.TargetField] = value
	}

	return mapped, nil
}

func convertValue(raw, targetType string) (any, error) {
	switch targetType {
	case "", "text":
		return raw, nil
	case "integer":
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse integer %q: %w", raw, err)
		}
		return n, nil
	case "numeric":
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("parse numeric %q: %w", raw, err)
		}
		return f, nil
	case "boolean":
		b, err := strconv.ParseBool(strings.ToLower(raw))
		if err != nil {
			return nil, fmt.Errorf("parse boolean %q: %w", raw, err)
		}
		return b, nil
	case "timestamp":
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, raw); err == nil {
				return t.UTC(), nil
			}
		}
		return nil, fmt.Errorf("parse timestamp %q: no known layout matched", raw)
	default:
		return nil, fmt.Errorf("unknown target type %q", targetType)
	}
}
