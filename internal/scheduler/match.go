package scheduler

import (
	"errors"

	"github.com/purpose168/xyops/internal/core"
)

var errBadInterval = errors.New("interval trigger has non-positive duration")

// Matches decides whether one schedule trigger matches one calendar
// breakdown. Every populated whitelist must contain the corresponding
// breakdown value; an empty whitelist is a wildcard, so a trigger with no
// populated fields matches every minute. Days match on either the forward
// day-of-month or the reverse day-of-month (rday).
func Matches(b Breakdown, t *core.Trigger) bool {
	if len(t.Years) > 0 && !containsInt(t.Years, b.Year) {
		return false
	}
	if len(t.Months) > 0 && !containsInt(t.Months, b.Month) {
		return false
	}
	if len(t.Days) > 0 && !containsInt(t.Days, b.Day) && !containsInt(t.Days, b.RDay) {
		return false
	}
	if len(t.Weekdays) > 0 && !containsInt(t.Weekdays, b.Weekday) {
		return false
	}
	if len(t.Hours) > 0 && !containsInt(t.Hours, b.Hour) {
		return false
	}
	if len(t.Minutes) > 0 && !containsInt(t.Minutes, b.Minute) {
		return false
	}
	return true
}

// IntervalHits computes the second offsets (relative to the minute
// starting at epoch) at which an interval trigger fires within
// [epoch, epoch+60). The first candidate is the smallest multiple of
// duration, anchored at start, that is >= epoch.
func IntervalHits(start, duration, epoch int64) ([]int64, error) {
	if duration <= 0 {
		return nil, errBadInterval
	}
	first := ceilDiv(epoch-start, duration)*duration + start
	var hits []int64
	for t := first; t < epoch+60; t += duration {
		if off := t - epoch; off >= 0 {
			hits = append(hits, off)
		}
	}
	return hits, nil
}

// ceilDiv rounds the quotient toward positive infinity; b must be > 0.
func ceilDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && a > 0 {
		q++
	}
	return q
}

// InRange applies a range or blackout filter to an already-matched minute.
// Both bounds are inclusive. Returns false when the filter unmatches the
// minute.
func InRange(epoch int64, t *core.Trigger) bool {
	switch t.Type {
	case core.TriggerRange:
		if t.Start != 0 && epoch < t.Start {
			return false
		}
		if t.End != 0 && epoch > t.End {
			return false
		}
	case core.TriggerBlackout:
		if epoch >= t.Start && epoch <= t.End {
			return false
		}
	}
	return true
}

func containsInt(list []int, v int) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
