package aggregation

import (
	"fmt"
	"time"

	"creatorledger/pkg/errutil"
)

// MonthRange returns [start, end) of the calendar month in loc.
func MonthRange(year, month int, loc *time.Location) (time.Time, time.Time, error) {
	if err := ValidatePeriod(year, month); err != nil {
		return time.Time{}, time.Time{}, err
	}
	if loc == nil {
		loc = time.UTC
	}
	start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 1, 0), nil
}

func ValidatePeriod(year, month int) error {
	if year < 2000 || year > 9999 {
		return errutil.ValidationFailed(fmt.Sprintf("year %d out of range", year), nil,
			errutil.WithDetails(errutil.Detail{Field: "year", Message: "must be within [2000, 9999]"}))
	}
	if month < 1 || month > 12 {
		return errutil.ValidationFailed(fmt.Sprintf("month %d out of range", month), nil,
			errutil.WithDetails(errutil.Detail{Field: "month", Message: "must be within [1, 12]"}))
	}
	return nil
}

// PreviousMonth returns the calendar month before t, in t's location.
func PreviousMonth(t time.Time) (int, int) {
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	prev := first.AddDate(0, -1, 0)
	return prev.Year(), int(prev.Month())
}
