package ledger

import (
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/kubellm/kubellm/internal/event"
	"github.com/kubellm/kubellm/internal/key"
	redisStorage "github.com/kubellm/kubellm/internal/storage/redis"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubUsageStore struct {
	mu      sync.Mutex
	records []*event.UsageRecord

	aggregatedSpend float64
	rangeSpend      float64
}

func (s *stubUsageStore) InsertUsageRecord(r *event.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = append(s.records, r)
	return nil
}

func (s *stubUsageStore) GetAggregatedSpend(keyId string) (float64, error) {
	return s.aggregatedSpend, nil
}

func (s *stubUsageStore) GetSpendOverRange(keyId string, start, end int64) (float64, error) {
	return s.rangeSpend, nil
}

func (s *stubUsageStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.records)
}

type ledgerFixture struct {
	store  *stubUsageStore
	cache  *redisStorage.Cache
	counts *redisStorage.Store
	ledger *Ledger
}

func newTestLedger(t *testing.T) *ledgerFixture {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	f := &ledgerFixture{
		store:  &stubUsageStore{},
		cache:  redisStorage.NewCache(client, time.Second, time.Second),
		counts: redisStorage.NewStore(client, time.Second, time.Second),
	}

	f.ledger = NewLedger(f.store, f.cache, f.counts, zap.NewNop(), 16)
	f.ledger.Listen()
	t.Cleanup(f.ledger.Stop)

	return f
}

func record(status string, costInUsd float64) *event.UsageRecord {
	return &event.UsageRecord{
		Id:                   "evt-1",
		RequestId:            "req-1",
		CreatedAt:            time.Now().Unix(),
		KeyId:                "k1",
		Provider:             "openai",
		Model:                "gpt-4o",
		PromptTokenCount:     9,
		CompletionTokenCount: 3,
		TotalTokenCount:      12,
		CostInUsd:            costInUsd,
		Status:               status,
	}
}

func TestRecord_PersistsAndMirrorsCounters(t *testing.T) {
	f := newTestLedger(t)

	f.ledger.Record(record(event.StatusSuccess, 0.25), key.HourTimeUnit)

	require.Eventually(t, func() bool {
		return f.store.count() == 1
	}, time.Second, 10*time.Millisecond)

	// counters mirror cost in microdollars
	assert.Eventually(t, func() bool {
		total, err := f.counts.GetCounter("kubellm-total-cost", "k1")
		return err == nil && total == 250000
	}, time.Second, 10*time.Millisecond)

	windowed, err := f.cache.GetCounter("kubellm-cost", "k1", key.HourTimeUnit)
	require.NoError(t, err)
	assert.Equal(t, int64(250000), windowed)
}

func TestRecord_FailedStatusSkipsCounters(t *testing.T) {
	f := newTestLedger(t)

	f.ledger.Record(record(event.StatusFailed, 0.25), key.HourTimeUnit)

	require.Eventually(t, func() bool {
		return f.store.count() == 1
	}, time.Second, 10*time.Millisecond)

	total, err := f.counts.GetCounter("kubellm-total-cost", "k1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)
}

func TestRecord_CancelledStatusStillCharges(t *testing.T) {
	f := newTestLedger(t)

	f.ledger.Record(record(event.StatusCancelled, 0.10), key.HourTimeUnit)

	require.Eventually(t, func() bool {
		total, err := f.counts.GetCounter("kubellm-total-cost", "k1")
		return err == nil && total == 100000
	}, time.Second, 10*time.Millisecond)
}

func TestRecord_FullBufferDropsInsteadOfBlocking(t *testing.T) {
	// no Listen, so nothing drains the buffer
	l := NewLedger(&stubUsageStore{}, nil, nil, zap.NewNop(), 1)

	done := make(chan struct{})
	go func() {
		l.Record(record(event.StatusSuccess, 0.01), key.HourTimeUnit)
		l.Record(record(event.StatusSuccess, 0.01), key.HourTimeUnit)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Record blocked on a full buffer")
	}

	assert.Len(t, l.entries, 1)
}

func TestGetAggregatedSpend_DelegatesToStore(t *testing.T) {
	f := newTestLedger(t)
	f.store.aggregatedSpend = 1.25

	spend, err := f.ledger.GetAggregatedSpend("k1")
	require.NoError(t, err)
	assert.InDelta(t, 1.25, spend, 1e-9)
}
