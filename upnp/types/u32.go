package types

import (
	"fmt"
	"math"
	"strconv"
)

// UnsignedIntegerFourBytes wraps a value in [0, 2^32-1] with checked
// arithmetic. It backs ui4 state variables, LastChange instance ids and
// GENA event keys.
type UnsignedIntegerFourBytes struct {
	value uint64
}

// NewUnsignedIntegerFourBytes returns the wrapped value or an error if it
// is outside [0, 2^32-1].
func NewUnsignedIntegerFourBytes(v int64) (UnsignedIntegerFourBytes, error) {
	if v < 0 || v > math.MaxUint32 {
		return UnsignedIntegerFourBytes{}, fmt.Errorf("value %d out of range for ui4", v)
	}
	return UnsignedIntegerFourBytes{value: uint64(v)}, nil
}

// ParseUnsignedIntegerFourBytes parses the decimal wire form.
func ParseUnsignedIntegerFourBytes(s string) (UnsignedIntegerFourBytes, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return UnsignedIntegerFourBytes{}, fmt.Errorf("invalid ui4 %q: %v", s, err)
	}
	return UnsignedIntegerFourBytes{value: v}, nil
}

// Value returns the wrapped value.
func (u UnsignedIntegerFourBytes) Value() uint64 { return u.value }

// String returns the decimal wire form.
func (u UnsignedIntegerFourBytes) String() string {
	return strconv.FormatUint(u.value, 10)
}

// Increment returns the next value. With wrap enabled the successor of
// 2^32-1 is 1, never 0: zero is reserved for the initial GENA event.
// Without wrap, incrementing past the maximum is an error.
func (u UnsignedIntegerFourBytes) Increment(wrap bool) (UnsignedIntegerFourBytes, error) {
	if u.value == math.MaxUint32 {
		if wrap {
			return UnsignedIntegerFourBytes{value: 1}, nil
		}
		return u, fmt.Errorf("ui4 overflow incrementing %d", u.value)
	}
	return UnsignedIntegerFourBytes{value: u.value + 1}, nil
}
