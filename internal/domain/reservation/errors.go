package reservation

import (
	"errors"
	"fmt"
)

// ErrNoMatch reports that no offered slot lies within the requested tolerance.
var ErrNoMatch = errors.New("no slot within tolerance")

// ValidationError is fatal to a single request; other requests in a batch proceed.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid reservation %s: %s", e.Field, e.Reason)
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
