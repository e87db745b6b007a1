package session

import "math"

// Jitter is the sample standard deviation (n-1 denominator) of the one-way
// delay offsets, truncated toward zero. The unknown clock offset between
// sender and receiver is constant within a burst and cancels out. Offsets
// built from garbage sender timestamps saturate at math.MaxInt64.
func Jitter(samples []int64) int64 {
	n := len(samples)
	if n < 2 {
		return 0
	}

	var sum float64
	for _, s := range samples {
		sum += float64(s)
	}
	mean := sum / float64(n)

	var sq float64
	for _, s := range samples {
		d := float64(s) - mean
		sq += d * d
	}

	sd := math.Trunc(math.Sqrt(sq / float64(n-1)))
	if sd >= math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(sd)
}

// InversionCount returns the number of pairs (i, j), i < j, with
// nums[i] > nums[j]. It is the exact reordering measure; the running-max
// counter kept per arrival is an approximation of it.
func InversionCount(nums []int32) int64 {
	if len(nums) < 2 {
		return 0
	}
	work := make([]int32, len(nums))
	copy(work, nums)
	buf := make([]int32, len(nums))
	return mergeCount(work, buf)
}

func mergeCount(a, buf []int32) int64 {
	if len(a) < 2 {
		return 0
	}
	mid := len(a) / 2
	count := mergeCount(a[:mid], buf[:mid]) + mergeCount(a[mid:], buf[mid:])

	i, j, k := 0, mid, 0
	for i < mid && j < len(a) {
		if a[i] <= a[j] {
			buf[k] = a[i]
			i++
		} else {
			buf[k] = a[j]
			count += int64(mid - i)
			j++
		}
		k++
	}
	k += copy(buf[k:], a[i:mid])
	copy(buf[k:], a[j:])
	copy(a, buf[:len(a)])
	return count
}
