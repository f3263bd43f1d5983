package krs

import (
	"fmt"

	"github.com/pkg/errors"
)

// StatusError is an HTTP-level platform failure. Retriable distinguishes
// transient conditions (5xx, 429) from hard client errors.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("krs http %d: %s", e.Code, e.Body)
}

func (e *StatusError) Retriable() bool {
	return e.Code == 429 || e.Code >= 500
}

// IsRetriable reports whether a ListShipments failure is worth retrying.
// Anything that is not a definite 4xx (network errors included) is retriable.
func IsRetriable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retriable()
	}
	return true
}
