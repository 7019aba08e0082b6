// Package timezone provides the user-local calendar helpers used for daily
// quotas and weekday checks.
package timezone

import (
	"fmt"
	"time"
)

// DateKeyLayout is the layout of per-day counter keys.
const DateKeyLayout = "2006-01-02"

// TimezoneUTC is the UTC timezone identifier
const TimezoneUTC = "UTC"

// UTC is the coordinated universal time timezone
var UTC = time.UTC

// ParseTimezone parses an IANA timezone identifier (e.g., "Asia/Shanghai").
// If the timezone is invalid, returns UTC and an error.
func ParseTimezone(tz string) (*time.Location, error) {
	if tz == "" || tz == TimezoneUTC {
		return UTC, nil
	}

	loc, err := time.LoadLocation(tz)
	if err != nil {
		return UTC, fmt.Errorf("invalid timezone %q: %w", tz, err)
	}

	return loc, nil
}

// MustParseTimezone parses a timezone or panics if invalid.
func MustParseTimezone(tz string) *time.Location {
	loc, err := ParseTimezone(tz)
	if err != nil {
		panic(err)
	}
	return loc
}

// IsValidTimezone checks if a timezone identifier is valid.
func IsValidTimezone(tz string) bool {
	_, err := ParseTimezone(tz)
	return err == nil
}

// Resolve returns the location named by requested, or fallback when
// requested is empty. A nil fallback means UTC.
func Resolve(requested string, fallback *time.Location) (*time.Location, error) {
	if requested == "" {
		if fallback == nil {
			return UTC, nil
		}
		return fallback, nil
	}
	return ParseTimezone(requested)
}

// DateKey returns the calendar date of t in tz, formatted as YYYY-MM-DD.
func DateKey(t time.Time, tz *time.Location) string {
	if tz == nil {
		tz = UTC
	}
	return t.In(tz).Format(DateKeyLayout)
}

// StartOfDay returns the start of the day (00:00:00) in the given timezone.
func StartOfDay(t time.Time, tz *time.Location) time.Time {
	if tz == nil {
		tz = UTC
	}
	local := t.In(tz)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, tz)
}

// Weekday returns the day of the week of t in tz.
func Weekday(t time.Time, tz *time.Location) time.Weekday {
	if tz == nil {
		tz = UTC
	}
	return t.In(tz).Weekday()
}
