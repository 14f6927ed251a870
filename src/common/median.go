package common

import (
	"sort"
)

// Unsigned is the set of index types Median accepts.
type Unsigned interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64
}

// Median returns the lower median of input, or zero if input is empty. The
// lower median of an even-length slice is always one of its values, which
// keeps the result a valid milestone index.
func Median[T Unsigned](input []T) T {
	if len(input) == 0 {
		return 0
	}

	// sort a copy of the slice
	s := make([]T, len(input))
	copy(s, input)
	sort.Slice(s, func(i, j int) bool { return s[i] < s[j] })

	return s[(len(s)-1)/2]
}
