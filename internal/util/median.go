package util

import "sort"

// MajorityInt64 returns the value at the majority index (N/2, integer
// division) of a sorted copy of vs, used for quorum advancement over a set
// of per-peer durable timestamps.
func MajorityInt64(vs []int64) int64 {
	sorted := make([]int64, len(vs))
	copy(sorted, vs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted[len(sorted)/2]
}
