package engine

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig is the only error a simulation can produce. It is returned
// before the first generation runs.
var ErrInvalidConfig = errors.New("invalid configuration")

// Invalidf returns an error wrapping ErrInvalidConfig with a formatted reason.
func Invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}
