// Package clustertime wraps the document store's cluster timestamp, the
// (seconds, ordinal) pair stamped on every committed operation and used as
// the resume token for both the oplog and the change stream.
package clustertime

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// T is a cluster timestamp. Ordering is lexicographic on (Seconds, Ordinal),
// matching the document store's own comparison rule.
type T struct {
	Seconds uint32
	Ordinal uint32
}

// Zero reports whether t is the unset timestamp (seconds and ordinal both 0).
func (t T) Zero() bool {
	return t.Seconds == 0 && t.Ordinal == 0
}

// Next returns t with its ordinal incremented by one. This is the
// resume-arithmetic rule applied when handing a persisted checkpoint to the
// change stream: it avoids re-emitting the last-applied event while leaving
// the stored checkpoint itself untouched.
func (t T) Next() T {
	return T{Seconds: t.Seconds, Ordinal: t.Ordinal + 1}
}

// Before reports whether t sorts strictly before other.
func (t T) Before(other T) bool {
	if t.Seconds != other.Seconds {
		return t.Seconds < other.Seconds
	}
	return t.Ordinal < other.Ordinal
}

// After reports whether t sorts strictly after other.
func (t T) After(other T) bool {
	return other.Before(t)
}

// WallClock interprets Seconds as a Unix epoch offset, for logging only.
func (t T) WallClock() time.Time {
	return time.Unix(int64(t.Seconds), 0).UTC()
}

// String renders t as "seconds.ordinal" for log lines.
func (t T) String() string {
	return fmt.Sprintf("%d.%d", t.Seconds, t.Ordinal)
}

// FromPrimitive converts a driver timestamp into T.
func FromPrimitive(ts primitive.Timestamp) T {
	return T{Seconds: ts.T, Ordinal: ts.I}
}

// ToPrimitive converts T into the driver's timestamp representation.
func (t T) ToPrimitive() primitive.Timestamp {
	return primitive.Timestamp{T: t.Seconds, I: t.Ordinal}
}
