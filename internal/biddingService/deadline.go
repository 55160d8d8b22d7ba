package bidding

import "time"

// extendDeadline applies the anti-snipe rule. When a bid lands with less than
// threshold remaining, the deadline is reset to now+extension. The deadline
// never moves backwards.
func extendDeadline(endTime, now time.Time, threshold, extension time.Duration) (time.Time, bool) {
	remaining := endTime.Sub(now)
	if remaining <= 0 || remaining >= threshold {
		return endTime, false
	}
	extended := now.Add(extension)
	if !extended.After(endTime) {
		return endTime, false
	}
	return extended, true
}
