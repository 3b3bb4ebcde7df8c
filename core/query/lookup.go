package query

import (
	"fmt"
	"strings"
)

// ParseLookup reads a lookup expression of the form field__op=value,
// for example "name__icontains=an" or "id__in=a,b,c". Without an
// operator suffix the lookup is an equality test. Values stay strings;
// Bind coerces them to the field's kind.
func ParseLookup(expr string) (Predicate, error) {
	key, value, ok := strings.Cut(expr, "=")
	if !ok {
		return nil, fmt.Errorf("lookup %q: expected field=value", expr)
	}
	key = strings.TrimSpace(key)

	field, op := key, OpEq
	if i := strings.LastIndex(key, "__"); i > 0 {
		if candidate := Op(key[i+2:]); candidate.Valid() {
			field, op = key[:i], candidate
		}
	}
	if field == "" {
		return nil, fmt.Errorf("lookup %q: missing field name", expr)
	}

	if op == OpIn {
		parts := strings.Split(value, ",")
		values := make([]any, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				values = append(values, p)
			}
		}
		return In(field, values...), nil
	}
	return compare(field, op, value), nil
}
