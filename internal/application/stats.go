package application

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// isoWeekStart returns the Monday (midnight UTC) of t's ISO week.
func isoWeekStart(t time.Time) time.Time {
	d := truncateDay(t.UTC())
	offset := (int(d.Weekday()) + 6) % 7
	return d.AddDate(0, 0, -offset)
}

// isoWeekLabel formats t's ISO week as "2026-W02".
func isoWeekLabel(t time.Time) string {
	year, week := t.UTC().ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}

// nextMonday returns today when today is a Monday, otherwise the following Monday.
func nextMonday(today time.Time) time.Time {
	d := truncateDay(today)
	offset := (int(d.Weekday()) + 6) % 7
	if offset == 0 {
		return d
	}
	return d.AddDate(0, 0, 7-offset)
}

// quantile returns the q-quantile of values using linear interpolation
// between closest ranks. values need not be sorted. It returns NaN for an
// empty slice.
func quantile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// meanStd returns the mean and population standard deviation of the
// non-NaN values, and how many there were.
func meanStd(values []float64) (mean, std float64, n int) {
	var sum float64
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return math.NaN(), math.NaN(), 0
	}
	mean = sum / float64(n)

	var sq float64
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		sq += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(sq / float64(n)), n
}
