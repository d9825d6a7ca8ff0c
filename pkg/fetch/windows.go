package fetch

import (
	"time"

	"github.com/elonfeng/symptomradar/pkg/source"
)

// SplitWindows divides the span ending at end into n contiguous windows,
// newest first. It returns nil when windowing is disabled (n <= 0 or a
// non-positive span), meaning one unbounded query.
func SplitWindows(end time.Time, span time.Duration, n int) []source.Window {
	if n <= 0 || span <= 0 {
		return nil
	}

	step := span / time.Duration(n)
	if step <= 0 {
		step = span
		n = 1
	}

	windows := make([]source.Window, 0, n)
	hi := end
	for i := 0; i < n; i++ {
		lo := hi.Add(-step)
		if i == n-1 {
			// Absorb the integer-division remainder in the oldest window.
			lo = end.Add(-span)
		}
		windows = append(windows, source.Window{Start: lo, End: hi})
		hi = lo
	}
	return windows
}
