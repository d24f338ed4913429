package util

import "time"

// StepSize is the upper bound of the first latency bucket.
const StepSize = 50 * time.Millisecond

// Bucket returns which of buckets log2 sized latency buckets d falls into.
// Bucket i holds [StepSize*2^(i-1), StepSize*2^i); the last one is open ended.
func Bucket(d time.Duration, buckets int) int {
	var bucket int

	for bucket = 0; bucket < buckets; bucket++ {
		if StepSize<<uint(bucket) > d {
			break
		}
	}

	return bucket
}

// Bounds returns the lower and upper bounds of bucket number bucket.
func Bounds(bucket int) (lower, upper time.Duration) {
	if bucket > 0 {
		lower = StepSize << (uint(bucket) - 1)
	}

	return lower, StepSize << uint(bucket)
}
