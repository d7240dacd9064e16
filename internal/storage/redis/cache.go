package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/kubellm/kubellm/internal/key"
	"github.com/redis/go-redis/v9"
)

// Cache keeps windowed counters bucketed by time unit. Buckets expire at
// the end of their window so a counter read always reflects the current
// window only.
type Cache struct {
	client *redis.Client
	wt     time.Duration
	rt     time.Duration
}

func NewCache(c *redis.Client, wt time.Duration, rt time.Duration) *Cache {
	return &Cache{
		client: c,
		wt:     wt,
		rt:     rt,
	}
}

func (c *Cache) IncrementCounter(prefix string, keyId string, timeUnit key.TimeUnit, incr int64) error {
	redisKey := prefix + "-" + keyId

	ctxTimeout, cancel := context.WithTimeout(context.Background(), c.wt)
	defer cancel()

	ts, err := getCounterTimeStamp(timeUnit)
	if err != nil {
		return err
	}

	err = c.client.HIncrBy(ctxTimeout, redisKey, strconv.FormatInt(ts, 10), incr).Err()
	if err != nil {
		return err
	}

	ctxTimeout, cancel = context.WithTimeout(context.Background(), c.rt)
	defer cancel()
	dur := c.client.TTL(ctxTimeout, redisKey)
	err = dur.Err()
	if err != nil {
		return err
	}

	if dur.Val() < 0 {
		ttl, err := getCounterTtl(timeUnit)
		if err != nil {
			return err
		}

		ctxTimeout, cancel = context.WithTimeout(context.Background(), c.wt)
		defer cancel()
		err = c.client.ExpireAt(ctxTimeout, redisKey, ttl).Err()
		if err != nil {
			return err
		}
	}

	return nil
}

func (c *Cache) GetCounter(prefix string, keyId string, timeUnit key.TimeUnit) (int64, error) {
	redisKey := prefix + "-" + keyId

	ctxTimeout, cancel := context.WithTimeout(context.Background(), c.rt)
	defer cancel()

	strSlices := c.client.HVals(ctxTimeout, redisKey)
	err := strSlices.Err()
	if err != nil && err != redis.Nil {
		return 0, err
	}

	var counter int64 = 0
	for _, strVal := range strSlices.Val() {
		intVal, err := strconv.ParseInt(strVal, 10, 64)
		if err != nil {
			return 0, nil
		}

		counter += intVal
	}

	return counter, nil
}

func getCounterTtl(timeUnit key.TimeUnit) (time.Time, error) {
	now := time.Now().UTC()
	switch timeUnit {
	case key.SecondTimeUnit:
		return now.Truncate(time.Second).Add(time.Second).Add(-time.Millisecond), nil
	case key.MinuteTimeUnit:
		return now.Truncate(60 * time.Second).Add(time.Second * 60).Add(-time.Millisecond), nil
	case key.HourTimeUnit:
		return now.Truncate(60 * time.Minute).Add(time.Minute * 60).Add(-time.Millisecond), nil
	case key.DayTimeUnit:
		return now.Truncate(24 * time.Hour).Add(time.Hour * 24).Add(-time.Millisecond), nil
	case key.MonthTimeUnit:
		firstDayOfNextMonth := time.Date(now.Year(), now.Month()+1, 1, 0, 0, 0, 0, time.UTC)
		return firstDayOfNextMonth.Add(-time.Millisecond), nil
	}

	return time.Time{}, fmt.Errorf("cannot recognize time unit %v", timeUnit)
}

func getCounterTimeStamp(timeUnit key.TimeUnit) (int64, error) {
	now := time.Now().UTC()
	switch timeUnit {
	case key.SecondTimeUnit:
		return now.UnixMilli() * 10, nil
	case key.MinuteTimeUnit:
		return now.Unix(), nil
	case key.HourTimeUnit:
		return int64(now.Minute()), nil
	case key.DayTimeUnit:
		return int64(now.Hour()), nil
	case key.MonthTimeUnit:
		return int64(now.Day()), nil
	}

	return 0, fmt.Errorf("cannot recognize time unit %v", timeUnit)
}
