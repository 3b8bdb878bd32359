package logging

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// Queue operations land within milliseconds of each other, so console
// timestamps keep the fraction.
const consoleTimeLayout = "2006-01-02 15:04:05.000"

func formatTimestamp(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.In(time.Local).Format(consoleTimeLayout)
}

// renderValue formats v for console output. With quote set, values that
// would break a "key: value" line are quoted.
func renderValue(v slog.Value, quote bool) string {
	v = v.Resolve()
	var s string
	switch v.Kind() {
	case slog.KindBool:
		return strconv.FormatBool(v.Bool())
	case slog.KindInt64:
		return strconv.FormatInt(v.Int64(), 10)
	case slog.KindUint64:
		return strconv.FormatUint(v.Uint64(), 10)
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'f', -1, 64)
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return formatTimestamp(v.Time())
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			s = err.Error()
		} else {
			s = fmt.Sprint(v.Any())
		}
	default:
		s = v.String()
	}
	if quote && needsQuotes(s) {
		return strconv.Quote(s)
	}
	return s
}

func needsQuotes(s string) bool {
	if s == "" {
		return true
	}
	return strings.ContainsFunc(s, func(r rune) bool {
		return r <= ' ' || r == '=' || r == '"'
	})
}

// consoleSubject names what a line is about: "Entry #7 (dispatch)",
// "Worker #3", or just the operation.
func consoleSubject(entryID, workerID, op string) string {
	var subject string
	if entryID != "" && entryID != "0" {
		subject = "Entry #" + entryID
	} else if workerID != "" && workerID != "0" {
		subject = "Worker #" + workerID
	}
	switch {
	case subject == "":
		return op
	case op == "":
		return subject
	default:
		return subject + " (" + op + ")"
	}
}
