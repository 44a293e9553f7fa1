package sqlgen

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var placeholderPattern = regexp.MustCompile(`\$(\d+)`)

// Literal renders a bound value as SQL text. Only used for logs.
func Literal(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case bool:
		if val {
			return "TRUE"
		}
		return "FALSE"
	case string:
		return "'" + strings.ReplaceAll(val, "'", "''") + "'"
	default:
		return Literal(fmt.Sprint(val))
	}
}

// Interpolate returns the statement with its arguments inlined. The result is
// for logs and previews, never for execution.
func (s *Statement) Interpolate() string {
	return placeholderPattern.ReplaceAllStringFunc(s.SQL, func(m string) string {
		n, err := strconv.Atoi(m[1:])
		if err != nil || n < 1 || n > len(s.Args) {
			return m
		}
		return Literal(s.Args[n-1])
	})
}
