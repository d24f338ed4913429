// Package parser reads the loosely typed values of query parameters.
package parser

import (
	"errors"
	"strconv"
	"strings"
)

var ErrUnknownTimeUnits = errors.New("unknown time units")

var unitSeconds = map[string]int{
	"s": 1, "sec": 1, "secs": 1, "second": 1, "seconds": 1,
	"m": 60, "min": 60, "mins": 60, "minute": 60, "minutes": 60,
	"h": 3600, "hour": 3600, "hours": 3600,
	"d": 86400, "day": 86400, "days": 86400,
	"w": 7 * 86400, "week": 7 * 86400, "weeks": 7 * 86400,
	"mon": 30 * 86400, "month": 30 * 86400, "months": 30 * 86400,
	"y": 365 * 86400, "year": 365 * 86400, "years": 365 * 86400,
}

// IntervalString converts a relative time like "7d13h45min" to seconds.
// A leading sign overrides defaultSign.
func IntervalString(s string, defaultSign int) (int32, error) {
	sign := defaultSign
	if len(s) > 0 {
		switch s[0] {
		case '-':
			sign = -1
			s = s[1:]
		case '+':
			sign = 1
			s = s[1:]
		}
	}
	if len(s) == 0 {
		return 0, ErrUnknownTimeUnits
	}

	var total int32
	for len(s) > 0 {
		j := 0
		for j < len(s) && '0' <= s[j] && s[j] <= '9' {
			j++
		}
		var offsetStr string
		offsetStr, s = s[:j], s[j:]

		j = 0
		for j < len(s) && (s[j] < '0' || '9' < s[j]) {
			j++
		}
		var unitStr string
		unitStr, s = s[:j], s[j:]

		units, ok := unitSeconds[unitStr]
		if !ok {
			return 0, ErrUnknownTimeUnits
		}

		offset, err := strconv.ParseInt(offsetStr, 10, 32)
		if err != nil {
			return 0, err
		}

		total += int32(sign * int(offset) * units)
	}

	return total, nil
}

// TruthyBool reads the usual spellings of true. Anything else is false.
func TruthyBool(s string) bool {
	switch strings.ToLower(s) {
	case "1", "true", "yes", "on":
		return true
	}

	return false
}
