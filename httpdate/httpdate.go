// Package httpdate parses and formats the RFC 1123 dates used by the
// Date, Expires, and Last-Modified headers consulted during freshness and
// age computation.
package httpdate

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Parse parses an HTTP-date value (RFC 1123, RFC 850, or ANSI C asctime,
// per net/http.ParseTime) and returns it as epoch seconds. It reports
// whether parsing succeeded; a malformed or empty value is treated as
// absent rather than an error, matching spec §7's "malformed headers are
// treated as if the header were absent".
func Parse(value string) (epoch int64, ok bool) {
	if strings.TrimSpace(value) == "" {
		return 0, false
	}
	t, err := http.ParseTime(value)
	if err != nil {
		return 0, false
	}
	return t.Unix(), true
}

// Format renders epoch seconds as an RFC 1123 (GMT) HTTP-date.
func Format(epoch int64) string {
	return time.Unix(epoch, 0).UTC().Format(http.TimeFormat)
}

// ParseAge parses the integer-seconds value of an Age header. A negative
// or non-numeric value is treated as absent.
func ParseAge(value string) (seconds int64, ok bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
