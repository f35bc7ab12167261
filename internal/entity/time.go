package entity

import "time"

// TimestampLayout matches the millisecond ISO-8601 form the roster has always
// persisted. Fixed width, so lexical order is chronological order.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// Timestamp formats t in UTC using TimestampLayout.
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}
