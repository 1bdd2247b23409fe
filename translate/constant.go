package translate

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// formatConstant renders a literal: strings single-quoted, nil as NULL,
// sequences as a bare comma-separated list, other scalars in their textual
// form.
func formatConstant(v any) string {
	switch c := v.(type) {
	case nil:
		return "NULL"
	case string:
		return quote(c)
	case bool:
		return strconv.FormatBool(c)
	case int:
		return strconv.Itoa(c)
	case int8, int16, int32, int64:
		return fmt.Sprintf("%d", c)
	case uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", c)
	case float32:
		return strconv.FormatFloat(float64(c), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(c, 'f', -1, 64)
	case fmt.Stringer:
		return c.String()
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		parts := make([]string, rv.Len())
		for i := range parts {
			parts[i] = formatConstant(rv.Index(i).Interface())
		}
		return strings.Join(parts, ", ")
	}
	return fmt.Sprint(v)
}

// formatLiteral renders a constant passed through as engine syntax: strings
// are emitted verbatim instead of quoted.
func formatLiteral(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return formatConstant(v)
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
