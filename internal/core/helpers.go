package core

import (
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// backendTimeLayouts are the timestamp shapes the backend emits for creation/modified.
var backendTimeLayouts = []string{
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
}

// truthy interprets the backend's loose booleans: 1, "1", true, "true".
func truthy(r gjson.Result) bool {
	switch r.Type {
	case gjson.True:
		return true
	case gjson.Number:
		return r.Int() != 0
	case gjson.String:
		s := strings.TrimSpace(strings.ToLower(r.Str))
		return s == "1" || s == "true" || s == "yes"
	}
	return false
}

// intOf reads an integer that may arrive as a number or a numeric string.
// Anything else, including negatives, yields 0.
func intOf(r gjson.Result) int {
	var n int64
	switch r.Type {
	case gjson.Number:
		n = r.Int()
	case gjson.String:
		v, err := strconv.ParseFloat(strings.TrimSpace(r.Str), 64)
		if err != nil {
			return 0
		}
		n = int64(v)
	}
	if n < 0 {
		return 0
	}
	return int(n)
}

func parseBackendTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range backendTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// scalarText renders a JSON value as display text. Strings are returned
// unquoted; everything else keeps its raw JSON form.
func scalarText(r gjson.Result) string {
	if r.Type == gjson.String {
		return r.Str
	}
	return r.Raw
}
