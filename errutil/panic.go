package errutil

import (
	"fmt"
)

func UnknownError(err error) string {
	return fmt.Sprintf("unknown error of type %T received: %v", err, err)
}

// Recovered converts a value obtained from recover into an error.
func Recovered(v any) error {
	if err, ok := v.(error); ok {
		return fmt.Errorf("recovered panic: %w", err)
	}
	return fmt.Errorf("recovered panic: %v", v)
}
