package log

import "time"

// DurationFormat converts a time.Duration field into a loggable value.
// Returning nil leaves the field untouched.
type DurationFormat func(time.Duration) interface{}

// DurationFormatSeconds renders a duration as fractional seconds, which is
// easier to scan and aggregate in log tooling than the default Go string.
func DurationFormatSeconds(d time.Duration) interface{} {
	return d.Seconds()
}
