// Package stores provides persistent policy providers for the permission
// cache: a SQL table through squealx and Redis sets through go-redis.
package stores

import (
	"fmt"
	"time"

	"github.com/oarkflow/date"

	"github.com/oarkflow/jacc"
)

func parseFlexibleTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	return date.Parse(s)
}

// timeFromColumn accepts whatever the driver hands back for a time column.
func timeFromColumn(raw any) (time.Time, bool, error) {
	switch v := raw.(type) {
	case nil:
		return time.Time{}, false, nil
	case time.Time:
		return v, true, nil
	case string:
		if v == "" {
			return time.Time{}, false, nil
		}
		t, err := parseFlexibleTime(v)
		return t, err == nil, err
	case []byte:
		if len(v) == 0 {
			return time.Time{}, false, nil
		}
		t, err := parseFlexibleTime(string(v))
		return t, err == nil, err
	case int64:
		return time.Unix(v, 0), true, nil
	default:
		return time.Time{}, false, fmt.Errorf("unsupported time column type %T", raw)
	}
}

func formatTimeOrNil(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func codeSourceKey(cs *jacc.CodeSource) string {
	if cs == nil {
		return jacc.UnsignedCodeSource.Key()
	}
	return cs.Key()
}
