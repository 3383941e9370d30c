// Package clock supplies the current UTC calendar date for rotation and
// eligibility decisions. Components take a Clock so date boundaries can be
// driven deterministically in tests.
package clock

import "time"

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// System is the real clock. Times are normalized to UTC.
type System struct{}

// Now returns the current UTC time.
func (System) Now() time.Time { return time.Now().UTC() }

// DateLayout is the calendar date format embedded in output filenames.
const DateLayout = "2006-01-02"

// UTCDate returns the UTC calendar date of t in YYYY-MM-DD form.
func UTCDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// ParseDate parses a YYYY-MM-DD date token. Returns an error if the token
// is not a valid calendar date.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}
