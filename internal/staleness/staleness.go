// Package staleness derives how old a cached feed is and whether it should be
// fetched again.
package staleness

import (
	"fmt"
	"time"
)

// Class buckets an age for display.
type Class int

const (
	Never Class = iota
	Seconds
	Minutes
	Hours
)

func (c Class) String() string {
	switch c {
	case Never:
		return "never"
	case Seconds:
		return "seconds"
	case Minutes:
		return "minutes"
	case Hours:
		return "hours"
	}
	return fmt.Sprintf("Class(%d)", int(c))
}

// NeverLabel is shown for a feed that has no successful fetch.
const NeverLabel = "never fetched"

// Age is the elapsed time since a feed was fetched.
type Age struct {
	Class      Class
	AgeSeconds int64
}

// Compute classifies fetchedAt relative to now. Ages are whole seconds;
// a fetchedAt in the future counts as zero.
func Compute(fetchedAt *time.Time, now time.Time) Age {
	if fetchedAt == nil {
		return Age{Class: Never}
	}
	secs := now.Unix() - fetchedAt.Unix()
	if secs < 0 {
		secs = 0
	}
	switch {
	case secs < 60:
		return Age{Class: Seconds, AgeSeconds: secs}
	case secs < 3600:
		return Age{Class: Minutes, AgeSeconds: secs}
	default:
		return Age{Class: Hours, AgeSeconds: secs}
	}
}

// Fetched reports whether the feed has ever been fetched.
func (a Age) Fetched() bool { return a.Class != Never }

// Elapsed returns the age as a duration. Zero when never fetched.
func (a Age) Elapsed() time.Duration {
	return time.Duration(a.AgeSeconds) * time.Second
}

// Label renders the age as "42s ago", "3m ago" or "1h ago".
func (a Age) Label() string {
	switch a.Class {
	case Seconds:
		return fmt.Sprintf("%ds ago", a.AgeSeconds)
	case Minutes:
		return fmt.Sprintf("%dm ago", a.AgeSeconds/60)
	case Hours:
		return fmt.Sprintf("%dh ago", a.AgeSeconds/3600)
	}
	return NeverLabel
}

func (a Age) String() string { return a.Label() }

// ShouldRefetch reports whether a feed fetched at fetchedAt has outlived ttl.
// A feed that was never fetched always should be.
func ShouldRefetch(fetchedAt *time.Time, now time.Time, ttl time.Duration) bool {
	age := Compute(fetchedAt, now)
	if !age.Fetched() {
		return true
	}
	return age.AgeSeconds > int64(ttl/time.Second)
}

// Relative formats the post time of a story or comment: minutes below an
// hour, hours below a day, days beyond.
func Relative(t, now time.Time) string {
	if t.IsZero() {
		return "?"
	}
	d := now.Sub(t)
	if d < 0 {
		d = 0
	}
	switch {
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d/time.Minute))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d/time.Hour))
	default:
		return fmt.Sprintf("%dd ago", int(d/(24*time.Hour)))
	}
}
