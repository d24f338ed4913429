// Package date parses the from and until query parameters.
package date

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/bookingcom/inputkit/pkg/parser"
)

var (
	errBadTime         = errors.New("time has incorrect format")
	errBadRelativeTime = errors.New("invalid relative timestamp")
	errTsPartsCount    = errors.New("timestamp has too many parts")
	errDateFormat      = errors.New("invalid date format")
)

var timeNow = time.Now

// parseTime parses a time of day and returns hours and minutes.
func parseTime(s string) (hour, minute int, err error) {
	switch s {
	case "midnight":
		return 0, 0, nil
	case "noon":
		return 12, 0, nil
	case "teatime":
		return 16, 0, nil
	}

	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, errBadTime
	}

	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, errBadTime
	}

	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, errBadTime
	}

	return hour, minute, nil
}

var TimeFormats = []string{"20060102", "01/02/06"}

// ParamToTime turns a from or until parameter into a time.
//
// Accepted are epoch milliseconds, "now", a relative time such as "-2d", and
// a date ("20060102", "01/02/06", "today", "yesterday", "tomorrow") optionally
// preceded by a time of day ("17:04", "midnight", "noon", "teatime"). Dates
// are read in qtz when it names a location, otherwise in loc. An empty s
// yields def.
func ParamToTime(s string, qtz string, def time.Time, loc *time.Location) (time.Time, error) {
	if s == "" {
		return def, nil
	}

	tz := loc
	if qtz != "" {
		if z, err := time.LoadLocation(qtz); err == nil {
			tz = z
		}
	}

	if s[0] == '-' {
		offset, err := parser.IntervalString(s, -1)
		if err != nil {
			return time.Time{}, errBadRelativeTime
		}

		return timeNow().Add(time.Duration(offset) * time.Second).In(tz), nil
	}

	switch s {
	case "now":
		return timeNow().In(tz), nil
	case "midnight", "noon", "teatime":
		yy, mm, dd := timeNow().In(tz).Date()
		hh, min, _ := parseTime(s)
		return time.Date(yy, mm, dd, hh, min, 0, 0, tz), nil
	}

	// More than 8 digits cannot be a YYYYMMDD date.
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil && len(s) > 8 {
		return time.UnixMilli(ms).In(tz), nil
	}

	s = strings.Replace(s, "_", " ", 1)

	var ts, ds string
	split := strings.Fields(s)
	switch {
	case len(split) == 1:
		ds = s
	case len(split) == 2:
		ts, ds = split[0], split[1]
	default:
		return time.Time{}, errTsPartsCount
	}

	var t time.Time
dateStringSwitch:
	switch ds {
	case "today":
		t = timeNow().In(tz)
	case "yesterday":
		t = timeNow().In(tz).AddDate(0, 0, -1)
	case "tomorrow":
		t = timeNow().In(tz).AddDate(0, 0, 1)
	default:
		for _, format := range TimeFormats {
			var err error
			if t, err = time.ParseInLocation(format, ds, tz); err == nil {
				break dateStringSwitch
			}
		}

		return time.Time{}, errDateFormat
	}

	var hour, minute int
	if ts != "" {
		var err error
		if hour, minute, err = parseTime(ts); err != nil {
			return time.Time{}, err
		}
	}

	yy, mm, dd := t.Date()
	return time.Date(yy, mm, dd, hour, minute, 0, 0, tz), nil
}
