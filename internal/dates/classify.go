package dates

import (
	"fmt"
	"strings"
	"time"
)

// Bucket is the expiry-proximity class of an item.
type Bucket string

const (
	BucketCritical Bucket = "CRITICAL"
	BucketWarning  Bucket = "WARNING"
	BucketGood     Bucket = "GOOD"
)

const (
	// CriticalWithinDays covers expired items and anything due within a month.
	CriticalWithinDays = 30
	WarningWithinDays  = 60
)

// Status is the classification of one expiry date.
type Status struct {
	Bucket   Bucket `json:"bucket"`
	Label    string `json:"label"`
	DaysLeft int    `json:"daysLeft"`
}

var parseLayouts = []string{
	ISOLayout,
	time.RFC3339,
	"2006-01-02T15:04:05",
}

// ParseDate parses a stored date string. Only the calendar day matters to
// callers; any time-of-day component is kept but ignored by Classify.
func ParseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	var isoErr error
	for i, layout := range parseLayouts {
		t, err := time.Parse(layout, value)
		if err == nil {
			return t, nil
		}
		// the calendar date layout gives the most useful message
		if i == 0 {
			isoErr = err
		}
	}
	return time.Time{}, &InvalidDateError{Input: value, Err: fmt.Errorf("parsing date: %w", isoErr)}
}

// Classify buckets expiryDate by the number of whole calendar days between
// now and the expiry.
func Classify(expiryDate string, now time.Time) (Status, error) {
	expiry, err := ParseDate(expiryDate)
	if err != nil {
		return Status{}, err
	}

	days := DaysBetween(now, expiry)
	switch {
	case days <= CriticalWithinDays:
		return Status{Bucket: BucketCritical, Label: "Expired / Critical", DaysLeft: days}, nil
	case days <= WarningWithinDays:
		return Status{Bucket: BucketWarning, Label: "Warning", DaysLeft: days}, nil
	default:
		return Status{Bucket: BucketGood, Label: "Good", DaysLeft: days}, nil
	}
}

// DaysBetween counts calendar days from a to b, ignoring time of day and
// daylight saving shifts. The result is negative when b is before a.
func DaysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	from := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	to := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(to.Sub(from).Hours() / 24)
}
