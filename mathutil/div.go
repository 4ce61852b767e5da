package mathutil

import (
	"golang.org/x/exp/constraints"
)

// TruncDiv divides a by b truncating toward zero, returning zero for a zero
// divisor instead of panicking.
func TruncDiv[T constraints.Integer](a, b T) T {
	if b == 0 {
		return 0
	}
	return a / b
}
