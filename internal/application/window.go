package application

import (
	"time"

	"github.com/ericfisherdev/prinsights/internal/domain/port/driven"
)

// WindowInputs are the values that determine a project's extraction window.
type WindowInputs struct {
	ExplicitStart *time.Time
	ExplicitEnd   *time.Time
	BackfillDays  *int
	Watermark     *time.Time
	Today         time.Time
}

// truncateDay returns midnight UTC of t's calendar date.
func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ResolveEnd returns the explicit end when given, otherwise yesterday. The
// current day is never included since the remote system may still be
// changing same-day records.
func ResolveEnd(explicitEnd *time.Time, today time.Time) time.Time {
	if explicitEnd != nil {
		return truncateDay(*explicitEnd)
	}
	return truncateDay(today).AddDate(0, 0, -1)
}

// ResolveStart picks the first day to extract. Priority: explicit start,
// then backfill (today minus N days, inclusive), then the day after the
// watermark, then January 1 of the current year.
func ResolveStart(explicitStart *time.Time, backfillDays *int, watermark *time.Time, today time.Time) time.Time {
	today = truncateDay(today)

	switch {
	case explicitStart != nil:
		return truncateDay(*explicitStart)
	case backfillDays != nil:
		return today.AddDate(0, 0, -*backfillDays)
	case watermark != nil:
		return truncateDay(*watermark).AddDate(0, 0, 1)
	default:
		return time.Date(today.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	}
}

// ResolveWindow combines ResolveStart and ResolveEnd. The result may be
// empty; callers must check Window.Empty before issuing API calls.
func ResolveWindow(in WindowInputs) driven.Window {
	return driven.Window{
		Start: ResolveStart(in.ExplicitStart, in.BackfillDays, in.Watermark, in.Today),
		End:   ResolveEnd(in.ExplicitEnd, in.Today),
	}
}
