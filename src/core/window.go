package main

import (
	"math"
	"time"
)

// WindowedCounter counts events in fixed wall-clock buckets kept in a ring.
// Bucket i covers [i*width, (i+1)*width) since the Unix epoch.
type WindowedCounter struct {
	width   time.Duration
	counts  []int64
	indexes []int64 // absolute bucket index held by each slot, emptySlot when unused

	firstBucket int64
	started     bool

	total     int64
	maxBucket int64
}

const emptySlot = math.MinInt64

// NewWindowedCounter creates a counter of size buckets, each width long
func NewWindowedCounter(width time.Duration, size int) *WindowedCounter {
	if size < 2 {
		size = 2
	}
	c := &WindowedCounter{
		width:   width,
		counts:  make([]int64, size),
		indexes: make([]int64, size),
	}
	for i := range c.indexes {
		c.indexes[i] = emptySlot
	}
	return c
}

// bucketOf floors, so instants before the epoch land in negative buckets
func (c *WindowedCounter) bucketOf(now time.Time) int64 {
	ns, w := now.UnixNano(), int64(c.width)
	b := ns / w
	if ns%w < 0 {
		b--
	}
	return b
}

func (c *WindowedCounter) slot(bucket int64) int {
	n := int64(len(c.counts))
	return int((bucket%n + n) % n)
}

// valueAt returns the count held for an absolute bucket, zero if it was overwritten or never written
func (c *WindowedCounter) valueAt(bucket int64) int64 {
	s := c.slot(bucket)
	if c.indexes[s] != bucket {
		return 0
	}
	return c.counts[s]
}

// Add records n events at now
func (c *WindowedCounter) Add(now time.Time, n int64) {
	b := c.bucketOf(now)
	if !c.started {
		c.started = true
		c.firstBucket = b
	}

	s := c.slot(b)
	if c.indexes[s] != b {
		c.indexes[s] = b
		c.counts[s] = 0
	}
	c.counts[s] += n
	c.total += n
	if c.counts[s] > c.maxBucket {
		c.maxBucket = c.counts[s]
	}
}

// Current returns the count of the bucket containing now
func (c *WindowedCounter) Current(now time.Time) int64 {
	return c.valueAt(c.bucketOf(now))
}

// Count sums the buckets overlapping the trailing window ending at now
func (c *WindowedCounter) Count(now time.Time, window time.Duration) int64 {
	cur := c.bucketOf(now)
	n := int64(window / c.width)
	if n < 1 {
		n = 1
	}
	if n > int64(len(c.counts)) {
		n = int64(len(c.counts))
	}
	var sum int64
	for b := cur - n + 1; b <= cur; b++ {
		sum += c.valueAt(b)
	}
	return sum
}

// Baseline returns the mean and population standard deviation of the
// completed buckets preceding now. Only buckets since the first recorded
// event count as samples; quiet buckets in that range count as zero.
func (c *WindowedCounter) Baseline(now time.Time) (mean, stddev float64, samples int) {
	if !c.started {
		return 0, 0, 0
	}
	cur := c.bucketOf(now)
	from := cur - int64(len(c.counts)) + 1
	if from < c.firstBucket {
		from = c.firstBucket
	}
	if from >= cur {
		return 0, 0, 0
	}

	var sum, sumSq float64
	for b := from; b < cur; b++ {
		v := float64(c.valueAt(b))
		sum += v
		sumSq += v * v
		samples++
	}
	mean = sum / float64(samples)
	variance := sumSq/float64(samples) - mean*mean
	if variance < 0 {
		variance = 0
	}
	return mean, math.Sqrt(variance), samples
}

// RatePerSecond converts a bucket count into events per second
func (c *WindowedCounter) RatePerSecond(count int64) float64 {
	return float64(count) / c.width.Seconds()
}

// AverageRate is the mean events per second since the first event
func (c *WindowedCounter) AverageRate(now time.Time) float64 {
	if !c.started {
		return 0
	}
	buckets := c.bucketOf(now) - c.firstBucket + 1
	return float64(c.total) / (float64(buckets) * c.width.Seconds())
}

// MaxRate is the highest single-bucket rate observed
func (c *WindowedCounter) MaxRate() float64 {
	return c.RatePerSecond(c.maxBucket)
}

// Total returns the number of events ever recorded
func (c *WindowedCounter) Total() int64 {
	return c.total
}
