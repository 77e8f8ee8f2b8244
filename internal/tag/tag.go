// Package tag defines the logical-time tag that orders every event in the
// scheduler. A tag is a pair (time, microstep): a nanosecond instant on the
// logical timeline plus a counter that orders logically-simultaneous events.
//
// Tags are totally ordered lexicographically: first by time, then by
// microstep. Two events are simultaneous iff both components are equal.
// The microstep exists so that a chain of zero-delay scheduled events can
// preserve causal order without advancing logical time.
package tag

import (
	"fmt"
	"math"
	"time"
)

// Tag is a point on the logical timeline.
//
// Time is measured in nanoseconds elapsed since the program's logical start
// (the tag of the startup trigger is the zero Tag).
type Tag struct {
	Time      int64
	Microstep uint32
}

// Start is the first tag of every execution: startup reactions run here.
var Start = Tag{}

// Forever is greater than every tag a running program can reach.
// Used as the "no stop scheduled" sentinel.
var Forever = Tag{Time: math.MaxInt64, Microstep: math.MaxUint32}

// Compare returns -1, 0, or 1 as t orders before, equal to, or after u.
func (t Tag) Compare(u Tag) int {
	switch {
	case t.Time < u.Time:
		return -1
	case t.Time > u.Time:
		return 1
	case t.Microstep < u.Microstep:
		return -1
	case t.Microstep > u.Microstep:
		return 1
	default:
		return 0
	}
}

// Before reports whether t orders strictly before u.
func (t Tag) Before(u Tag) bool { return t.Compare(u) < 0 }

// After reports whether t orders strictly after u.
func (t Tag) After(u Tag) bool { return t.Compare(u) > 0 }

// Delay returns the tag at which an event scheduled from t with the given
// non-negative delay becomes current:
//
//	d > 0:  (t.Time + d, 0)   time advances, microstep resets
//	d == 0: (t.Time, m + 1)   time holds, microstep increments
//
// The d == 0 case is what keeps a chain of zero-delay events causally
// ordered without advancing logical time.
func (t Tag) Delay(d time.Duration) Tag {
	if d > 0 {
		return Tag{Time: t.Time + int64(d), Microstep: 0}
	}
	return Tag{Time: t.Time, Microstep: t.Microstep + 1}
}

// Next returns the tag one microstep after t. Identical to Delay(0); named
// separately because the stop/shutdown path uses it for its own reasons.
func (t Tag) Next() Tag {
	return Tag{Time: t.Time, Microstep: t.Microstep + 1}
}

// Elapsed returns the time component as a duration since logical start.
func (t Tag) Elapsed() time.Duration { return time.Duration(t.Time) }

// String formats a tag as "(12ms, 3)".
func (t Tag) String() string {
	return fmt.Sprintf("(%s, %d)", time.Duration(t.Time), t.Microstep)
}
