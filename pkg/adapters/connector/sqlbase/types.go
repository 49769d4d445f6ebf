package sqlbase

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/healthsync/connector-engine/pkg/apperrors"
	"github.com/healthsync/connector-engine/pkg/models"
)

// NormalizeType maps a native column type from any supported database to one
// of the shared value types.
func NormalizeType(native string) string {
	t := strings.ToLower(strings.TrimSpace(native))
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}

	switch {
	case t == "bool" || t == "boolean" || t == "bit":
		return models.ValueBoolean
	case strings.Contains(t, "timestamp") || strings.Contains(t, "datetime"):
		return models.ValueDateTime
	case t == "date":
		return models.ValueDate
	case strings.Contains(t, "int") && !strings.Contains(t, "interval") && !strings.Contains(t, "point"):
		return models.ValueInteger
	case strings.Contains(t, "numeric"), strings.Contains(t, "decimal"), strings.Contains(t, "float"),
		strings.Contains(t, "double"), strings.Contains(t, "real"), strings.Contains(t, "money"),
		t == "number", strings.HasPrefix(t, "binary_"):
		return models.ValueNumber
	}
	return models.ValueText
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ConvertValue turns a submitted value into a driver argument for a column of
// the given field type. Unparseable numbers, booleans and dates are rejected.
func ConvertValue(column string, v any, ft models.FieldType, boolAsInt bool) (any, error) {
	if v == nil {
		return nil, nil
	}
	if s, ok := v.(string); ok && strings.TrimSpace(s) == "" && ft != models.FieldText && ft != models.FieldTextarea {
		return nil, nil
	}

	switch ft {
	case models.FieldNumber:
		switch n := v.(type) {
		case float64:
			return n, nil
		case float32:
			return float64(n), nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
			if err != nil {
				return nil, apperrors.Validation(fmt.Sprintf("value for column %q is not a number", column))
			}
			return f, nil
		}
		return nil, apperrors.Validation(fmt.Sprintf("value for column %q is not a number", column))

	case models.FieldBoolean:
		var b bool
		switch x := v.(type) {
		case bool:
			b = x
		case string:
			parsed, err := strconv.ParseBool(strings.TrimSpace(x))
			if err != nil {
				return nil, apperrors.Validation(fmt.Sprintf("value for column %q is not a boolean", column))
			}
			b = parsed
		case float64:
			b = x != 0
		default:
			return nil, apperrors.Validation(fmt.Sprintf("value for column %q is not a boolean", column))
		}
		if boolAsInt {
			if b {
				return 1, nil
			}
			return 0, nil
		}
		return b, nil

	case models.FieldDate, models.FieldDateTime:
		switch x := v.(type) {
		case time.Time:
			return x, nil
		case string:
			s := strings.TrimSpace(x)
			for _, layout := range dateLayouts {
				if t, err := time.Parse(layout, s); err == nil {
					return t, nil
				}
			}
			return nil, apperrors.Validation(fmt.Sprintf("value for column %q is not a valid date", column))
		}
		return nil, apperrors.Validation(fmt.Sprintf("value for column %q is not a valid date", column))
	}

	return stringify(v), nil
}

// stringify renders values for text columns. Multi-select answers are joined.
func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []any:
		parts := make([]string, 0, len(x))
		for _, item := range x {
			parts = append(parts, stringify(item))
		}
		return strings.Join(parts, ", ")
	case []string:
		return strings.Join(x, ", ")
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}
