package billing

import (
	"fmt"
	"time"
)

// DateLayout is the ISO-8601 calendar day format used across the cost model
const DateLayout = "2006-01-02"

// DateRange is an inclusive range of calendar days in YYYY-MM-DD form
type DateRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// NewDateRange builds a validated range
func NewDateRange(start, end string) (DateRange, error) {
	r := DateRange{Start: start, End: end}
	if err := r.Validate(); err != nil {
		return DateRange{}, err
	}
	return r, nil
}

// Validate reports a ConfigError for malformed bounds or an end before the start
func (r DateRange) Validate() error {
	start, err := time.Parse(DateLayout, r.Start)
	if err != nil {
		return &ConfigError{Field: "start", Reason: fmt.Sprintf("invalid date %q", r.Start)}
	}
	end, err := time.Parse(DateLayout, r.End)
	if err != nil {
		return &ConfigError{Field: "end", Reason: fmt.Sprintf("invalid date %q", r.End)}
	}
	if end.Before(start) {
		return &ConfigError{Field: "end", Reason: fmt.Sprintf("end date %s is before start date %s", r.End, r.Start)}
	}
	return nil
}

// Contains reports whether date falls inside the range.
// Both sides are YYYY-MM-DD so lexical order is date order.
func (r DateRange) Contains(date string) bool {
	return date >= r.Start && date <= r.End
}

// Days lists every calendar day of a valid range in ascending order
func (r DateRange) Days() []string {
	start, err := time.Parse(DateLayout, r.Start)
	if err != nil {
		return nil
	}
	end, err := time.Parse(DateLayout, r.End)
	if err != nil {
		return nil
	}
	var days []string
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		days = append(days, d.Format(DateLayout))
	}
	return days
}

// ExclusiveEnd returns the day after End, for APIs whose end bound is exclusive
func (r DateRange) ExclusiveEnd() string {
	end, err := time.Parse(DateLayout, r.End)
	if err != nil {
		return r.End
	}
	return end.AddDate(0, 0, 1).Format(DateLayout)
}

func (r DateRange) String() string {
	return r.Start + ".." + r.End
}

// CurrentMonth runs from the first of now's month to now's day
func CurrentMonth(now time.Time) DateRange {
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	return DateRange{Start: first.Format(DateLayout), End: now.Format(DateLayout)}
}

// PreviousMonth covers the whole calendar month before now's month
func PreviousMonth(now time.Time) DateRange {
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	lastDay := first.AddDate(0, 0, -1)
	prevFirst := time.Date(lastDay.Year(), lastDay.Month(), 1, 0, 0, 0, 0, now.Location())
	return DateRange{Start: prevFirst.Format(DateLayout), End: lastDay.Format(DateLayout)}
}

// LastNDays covers the n days ending with now's day
func LastNDays(now time.Time, n int) DateRange {
	return DateRange{
		Start: now.AddDate(0, 0, -(n - 1)).Format(DateLayout),
		End:   now.Format(DateLayout),
	}
}
