// Package dates turns spoken or scanned text into calendar dates and buckets
// expiry dates by how close they are.
package dates

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ISOLayout is the calendar date layout used for every stored date.
const ISOLayout = "2006-01-02"

var (
	yearPattern = regexp.MustCompile(`\b(20\d{2})\b`)

	// numericPattern is a typed or printed year-month-day such as 2024-12-25.
	numericPattern = regexp.MustCompile(`\b(20\d{2})[-/.](\d{1,2})[-/.](\d{1,2})\b`)

	// Longest names first so leftmost-first alternation never stops at an
	// abbreviation of a longer name.
	monthPattern = regexp.MustCompile(`\b(january|february|september|november|december|october|august|march|april|june|july|sept|jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)\b`)

	// A day is a standalone one or two digit number; digits inside a year
	// never qualify because both ends need a word boundary.
	dayPattern = regexp.MustCompile(`\b(\d{1,2})(?:st|nd|rd|th)?\b`)
)

var monthNames = map[string]time.Month{
	"january":   time.January,
	"jan":       time.January,
	"february":  time.February,
	"feb":       time.February,
	"march":     time.March,
	"mar":       time.March,
	"april":     time.April,
	"apr":       time.April,
	"may":       time.May,
	"june":      time.June,
	"jun":       time.June,
	"july":      time.July,
	"jul":       time.July,
	"august":    time.August,
	"aug":       time.August,
	"september": time.September,
	"sept":      time.September,
	"sep":       time.September,
	"october":   time.October,
	"oct":       time.October,
	"november":  time.November,
	"nov":       time.November,
	"december":  time.December,
	"dec":       time.December,
}

// Resolve converts free text such as "december 25th", "tomorrow" or
// "next month" into a YYYY-MM-DD date relative to now.
//
// When no year is spoken and the resolved date has already passed, the next
// occurrence (one year later) is returned. Text with no date signal at all
// yields an *InvalidDateError wrapping ErrNoDateSignal.
func Resolve(text string, now time.Time) (string, error) {
	text = strings.ToLower(strings.TrimSpace(text))

	if m := numericPattern.FindStringSubmatch(text); m != nil {
		y, _ := strconv.Atoi(m[1])
		mo, _ := strconv.Atoi(m[2])
		d, _ := strconv.Atoi(m[3])
		if mo >= 1 && mo <= 12 && d >= 1 && d <= 31 {
			return time.Date(y, time.Month(mo), d, 0, 0, 0, 0, now.Location()).Format(ISOLayout), nil
		}
	}

	year, month, day := now.Date()
	found := false

	yearMatch := yearPattern.FindStringSubmatch(text)
	explicitYear := yearMatch != nil
	if explicitYear {
		year, _ = strconv.Atoi(yearMatch[1])
		found = true
	}

	monthFound := false
	if m := monthPattern.FindStringSubmatch(text); m != nil {
		month = monthNames[m[1]]
		monthFound = true
		found = true
	}

	saysToday := strings.Contains(text, "today")
	if m := dayPattern.FindStringSubmatch(text); m != nil {
		day, _ = strconv.Atoi(m[1])
		found = true
	} else if saysToday {
		day = now.Day()
		found = true
	} else if strings.Contains(text, "tomorrow") {
		year, month, day = now.AddDate(0, 0, 1).Date()
		found = true
	}

	if !monthFound && !explicitYear {
		switch {
		case strings.Contains(text, "next week"):
			year, month, day = now.AddDate(0, 0, 7).Date()
			found = true
		case strings.Contains(text, "next month"):
			next := time.Date(now.Year(), now.Month()+1, 1, 0, 0, 0, 0, now.Location())
			year, month = next.Year(), next.Month()
			day = now.Day()
			found = true
		case strings.Contains(text, "next year"):
			year = now.Year() + 1
			found = true
		}
	}

	if !found {
		return "", &InvalidDateError{Input: text, Err: ErrNoDateSignal}
	}

	// time.Date normalizes overflow, so "february 31" lands in march.
	resolved := time.Date(year, month, day, 0, 0, 0, 0, now.Location())
	if !explicitYear && resolved.Before(now) && !saysToday {
		resolved = resolved.AddDate(1, 0, 0)
	}

	return resolved.Format(ISOLayout), nil
}
