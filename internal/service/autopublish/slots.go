package autopublish

import (
	"math"
	"sort"
	"time"
)

const MaxTimesPerDay = 8

// Slots returns the local hours at which scheduled runs happen: the
// midpoint of [start, end] for a single run, otherwise n hours evenly
// spread over the window including both ends. Hours are rounded half to
// even and deduplicated.
func Slots(timesPerDay, start, end int) []int {
	n := min(max(timesPerDay, 1), MaxTimesPerDay)
	start = min(max(start, 0), 23)
	end = min(max(end, 0), 23)
	if end < start {
		start, end = end, start
	}
	if n == 1 {
		return []int{int(math.RoundToEven(float64(start+end) / 2))}
	}

	step := float64(end-start) / float64(n-1)
	seen := make(map[int]bool, n)
	out := make([]int, 0, n)
	for i := 0; i < n; i++ {
		h := int(math.RoundToEven(float64(start) + float64(i)*step))
		h = min(max(h, 0), 23)
		if !seen[h] {
			seen[h] = true
			out = append(out, h)
		}
	}
	sort.Ints(out)
	return out
}

// SlotKey identifies the calendar hour of t in its own location.
func SlotKey(t time.Time) string {
	return t.Format("2006-01-02-15")
}

// InSlot reports whether local time t falls in the first ten minutes of
// one of slots.
func InSlot(t time.Time, slots []int) bool {
	if t.Minute() >= 10 {
		return false
	}
	for _, h := range slots {
		if t.Hour() == h {
			return true
		}
	}
	return false
}
