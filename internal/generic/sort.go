package generic

import (
	"sort"

	"golang.org/x/exp/constraints"
)

// SortSlice sorts the slice in ascending order.
func SortSlice[T constraints.Ordered](s []T) {
	sort.Slice(s, func(i, j int) bool {
		return s[i] < s[j]
	})
}

// SortSliceBy sorts the slice using the given ordering key.
func SortSliceBy[T any, K constraints.Ordered](s []T, key func(T) K) {
	sort.Slice(s, func(i, j int) bool {
		return key(s[i]) < key(s[j])
	})
}
