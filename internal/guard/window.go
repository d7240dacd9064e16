package guard

import (
	"time"

	"github.com/kubellm/kubellm/internal/key"
)

// slidingWindow accumulates values over a rolling time period using
// fixed granularity buckets. Buckets older than the window are pruned on
// every access. Callers hold the owning shard's lock.
type slidingWindow struct {
	window     time.Duration
	bucketSize time.Duration
	buckets    map[int64]float64
}

func newSlidingWindow(window time.Duration) *slidingWindow {
	bucketSize := window / 60
	if bucketSize < time.Second {
		bucketSize = time.Second
	}

	return &slidingWindow{
		window:     window,
		bucketSize: bucketSize,
		buckets:    map[int64]float64{},
	}
}

func (w *slidingWindow) add(now time.Time, value float64) {
	w.prune(now)
	w.buckets[now.Truncate(w.bucketSize).UnixNano()] += value
}

func (w *slidingWindow) sum(now time.Time) float64 {
	w.prune(now)

	var total float64
	for _, v := range w.buckets {
		total += v
	}

	return total
}

func (w *slidingWindow) prune(now time.Time) {
	oldest := now.Add(-w.window).Truncate(w.bucketSize).UnixNano()
	for ts := range w.buckets {
		if ts < oldest {
			delete(w.buckets, ts)
		}
	}
}

func unitDuration(unit key.TimeUnit) time.Duration {
	switch unit {
	case key.SecondTimeUnit:
		return time.Second
	case key.MinuteTimeUnit:
		return time.Minute
	case key.HourTimeUnit:
		return time.Hour
	case key.DayTimeUnit:
		return 24 * time.Hour
	case key.MonthTimeUnit:
		return 30 * 24 * time.Hour
	}

	return time.Minute
}
