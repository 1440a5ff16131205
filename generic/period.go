package generic

import "time"

// =============================================================================
// PERIOD - time boundary for balance calculation
// =============================================================================

// Period is an inclusive range of days. Leave entitlements live in calendar
// years; short leave is additionally capped per calendar month.
type Period struct {
	Start TimePoint
	End   TimePoint
}

func NewPeriod(start, end TimePoint) (Period, error) {
	if end.Before(start) {
		return Period{}, ErrInvalidPeriod
	}
	return Period{Start: start, End: end}, nil
}

// Contains returns true if the time point is within [Start, End].
func (p Period) Contains(t TimePoint) bool {
	return t.AfterOrEqual(p.Start) && t.BeforeOrEqual(p.End)
}

// Days returns the number of days in the period, both ends included.
func (p Period) Days() int {
	return InclusiveDays(p.Start, p.End)
}

func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

// YearPeriod returns Jan 1 - Dec 31 of year.
func YearPeriod(year int) Period {
	return Period{Start: StartOfYear(year), End: EndOfYear(year)}
}

// MonthPeriod returns the calendar month.
func MonthPeriod(year int, month time.Month) Period {
	return Period{Start: StartOfMonth(year, month), End: EndOfMonth(year, month)}
}

// MonthPeriodFor returns the calendar month containing t.
func MonthPeriodFor(t TimePoint) Period {
	return MonthPeriod(t.Year(), t.Month())
}

// Months returns the twelve month periods of year in calendar order.
func Months(year int) []Period {
	out := make([]Period, 0, 12)
	for m := time.January; m <= time.December; m++ {
		out = append(out, MonthPeriod(year, m))
	}
	return out
}
