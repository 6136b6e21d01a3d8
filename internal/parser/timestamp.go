package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// CanonicalLayout is the layout every normalizer produces
const CanonicalLayout = "2006-01-02T15:04:05-0700"

var (
	apachePattern = regexp.MustCompile(`\[(\d+)/([a-zA-Z]+)/(\d+):(\d+):(\d+):(\d+)\s([+-]?\d+)\]`)
	syslogPattern = regexp.MustCompile(`([A-Za-z]+)\s+(\d+)\s+(\d+):(\d+):(\d+)`)
)

var months = map[string]time.Month{
	"jan": time.January,
	"feb": time.February,
	"mar": time.March,
	"apr": time.April,
	"may": time.May,
	"jun": time.June,
	"jul": time.July,
	"aug": time.August,
	"sep": time.September,
	"oct": time.October,
	"nov": time.November,
	"dec": time.December,
}

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999-0700",
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseApacheTimestamp normalizes "[23/Sep/2021:18:19:33 +0200]"
func ParseApacheTimestamp(raw string) (string, error) {
	m := apachePattern.FindStringSubmatch(raw)
	if m == nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidTimestamp, raw)
	}

	month, err := lookupMonth(m[2])
	if err != nil {
		return "", err
	}

	nums, err := atois(m[1], m[3], m[4], m[5], m[6], m[7])
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidTimestamp, raw)
	}
	day, year, hour, minute, sec, offset := nums[0], nums[1], nums[2], nums[3], nums[4], nums[5]

	zone := time.FixedZone("", (offset/100)*3600+(offset%100)*60)
	return build(raw, year, month, day, hour, minute, sec, zone)
}

// ParseSyslogTimestamp normalizes "Sep  3 18:19:33" using the current year
// and the local offset.
func ParseSyslogTimestamp(raw string) (string, error) {
	return ParseSyslogTimestampAt(raw, time.Now())
}

// ParseSyslogTimestampAt is ParseSyslogTimestamp with the year and zone
// taken from now.
func ParseSyslogTimestampAt(raw string, now time.Time) (string, error) {
	m := syslogPattern.FindStringSubmatch(raw)
	if m == nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidTimestamp, raw)
	}

	month, err := lookupMonth(m[1])
	if err != nil {
		return "", err
	}

	nums, err := atois(m[2], m[3], m[4], m[5])
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidTimestamp, raw)
	}

	return build(raw, now.Year(), month, nums[0], nums[1], nums[2], nums[3], now.Location())
}

// ValidateISO8601 checks that raw is an ISO-8601 timestamp and returns it
// unchanged.
func ValidateISO8601(raw string) (string, error) {
	if _, err := ParseISO8601(raw); err != nil {
		return "", err
	}
	return raw, nil
}

// ParseISO8601 parses the ISO-8601 forms found in logs and in normalized
// timestamps.
func ParseISO8601(raw string) (time.Time, error) {
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, raw)
}

func lookupMonth(name string) (time.Month, error) {
	month, ok := months[strings.ToLower(name)]
	if !ok {
		return 0, fmt.Errorf("%w: unknown month %q", ErrInvalidTimestamp, name)
	}
	return month, nil
}

func atois(parts ...string) ([]int, error) {
	out := make([]int, len(parts))
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// build rejects out-of-range components instead of letting time.Date
// normalize them.
func build(raw string, year int, month time.Month, day, hour, minute, sec int, loc *time.Location) (string, error) {
	t := time.Date(year, month, day, hour, minute, sec, 0, loc)
	if t.Day() != day || t.Month() != month || t.Hour() != hour || t.Minute() != minute || t.Second() != sec {
		return "", fmt.Errorf("%w: %q out of range", ErrInvalidTimestamp, raw)
	}
	return t.Format(CanonicalLayout), nil
}
