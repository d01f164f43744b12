package validate

import (
	"strings"
	"time"

	"github.com/spf13/cast"
)

// ISODate is the canonical date layout written by suggested fixes.
const ISODate = "2006-01-02"

const (
	excelSerialMin = 10000
	excelSerialMax = 80000
)

var excelEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

var dateLayouts = []string{"2006-1-2", "2006/1/2", "2006.1.2"}

// ParseDate reads the date forms seen in uploaded rosters. serial is true
// when the value was an Excel day number.
func ParseDate(raw string) (t time.Time, serial bool, ok bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, false, false
	}
	// drop a trailing time of day ("2020-01-01 00:00:00", "2020-01-01T...")
	if i := strings.IndexAny(s, " T"); i >= 8 {
		s = s[:i]
	}
	s = strings.TrimSuffix(s, ".")

	if allDigits(s) {
		switch len(s) {
		case 8:
			t, err := time.Parse("20060102", s)
			return t, false, err == nil
		case 6:
			return parseShortDate(s)
		}
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, false, true
		}
	}

	if n, err := cast.ToFloat64E(s); err == nil && n >= excelSerialMin && n <= excelSerialMax {
		return excelEpoch.AddDate(0, 0, int(n)), true, true
	}
	return time.Time{}, false, false
}

// parseShortDate reads YYMMDD; years up to 49 are 20xx, the rest 19xx.
func parseShortDate(s string) (time.Time, bool, bool) {
	yy := cast.ToInt(strings.TrimLeft(s[:2], "0"))
	century := 1900
	if yy <= 49 {
		century = 2000
	}
	full := cast.ToString(century+yy) + s[2:]
	t, err := time.Parse("20060102", full)
	return t, false, err == nil
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// yearsBetween returns whole years from a to b (negative when b precedes a).
func yearsBetween(a, b time.Time) int {
	if b.Before(a) {
		return -yearsBetween(b, a)
	}
	years := b.Year() - a.Year()
	if b.Month() < a.Month() || (b.Month() == a.Month() && b.Day() < a.Day()) {
		years--
	}
	return years
}
