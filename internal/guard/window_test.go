package guard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSlidingWindow_ExpiresOldBuckets(t *testing.T) {
	w := newSlidingWindow(time.Minute)

	now := time.Now()
	w.add(now, 1)
	w.add(now.Add(30*time.Second), 2)

	assert.Equal(t, 3.0, w.sum(now.Add(30*time.Second)))

	// first value falls out of the window, second survives
	assert.Equal(t, 2.0, w.sum(now.Add(75*time.Second)))

	assert.Equal(t, 0.0, w.sum(now.Add(3*time.Minute)))
}

func TestSlidingWindow_MinimumBucketSize(t *testing.T) {
	w := newSlidingWindow(time.Second)

	assert.Equal(t, time.Second, w.bucketSize)
}
