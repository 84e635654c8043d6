package domain

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// stringValue renders a native scalar as a trimmed string. Nil, empty and
// non-scalar values are reported as absent.
func stringValue(v any) (string, bool) {
	var s string
	switch val := v.(type) {
	case nil:
		return "", false
	case string:
		s = val
	case json.Number:
		s = val.String()
	case float64:
		s = strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		s = strconv.Itoa(val)
	case int64:
		s = strconv.FormatInt(val, 10)
	case bool:
		s = strconv.FormatBool(val)
	default:
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

// Field returns the native field of a raw record as a string.
func (r RawRecord) Field(name string) (string, bool) {
	return stringValue(r[name])
}

func parseFloat(s string) (float64, bool) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", "."))
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// ParseDate parses the YYYY-MM-DD prefix of an ISO-8601 date or timestamp.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if len(s) < len(dateLayout) {
		return time.Time{}, false
	}
	t, err := time.Parse(dateLayout, s[:len(dateLayout)])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// FormatDate formats a date bound the way the services expect it.
func FormatDate(t time.Time) string {
	return t.Format(dateLayout)
}

// deriveYear returns the first four characters of a sampling date, or "" when
// the date is shorter than four characters.
func deriveYear(date string) string {
	if len(date) < 4 {
		return ""
	}
	return date[:4]
}
