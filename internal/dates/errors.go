package dates

import (
	"errors"
	"fmt"
)

// ErrNoDateSignal is wrapped by InvalidDateError when free text names no
// day, month, year or relative term.
var ErrNoDateSignal = errors.New("no date found in text")

// InvalidDateError reports input that cannot be turned into a calendar date.
type InvalidDateError struct {
	Input string
	Err   error
}

func (e *InvalidDateError) Error() string {
	return fmt.Sprintf("invalid date %q: %v", e.Input, e.Err)
}

func (e *InvalidDateError) Unwrap() error {
	return e.Err
}
