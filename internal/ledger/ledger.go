// Package ledger records what every completed request consumed. Appends
// are asynchronous: losing a usage record must never degrade the caller
// facing service, so persistence failures are surfaced through telemetry
// and logs instead of the response path.
package ledger

import (
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/kubellm/kubellm/internal/event"
	"github.com/kubellm/kubellm/internal/key"
	"github.com/kubellm/kubellm/internal/telemetry"
	"go.uber.org/zap"
)

const (
	costPrefix      string = "kubellm-cost"
	totalCostPrefix string = "kubellm-total-cost"
)

type Store interface {
	InsertUsageRecord(r *event.UsageRecord) error
	GetAggregatedSpend(keyId string) (float64, error)
	GetSpendOverRange(keyId string, start, end int64) (float64, error)
}

type counterCache interface {
	IncrementCounter(prefix string, keyId string, timeUnit key.TimeUnit, incr int64) error
}

type counterStore interface {
	IncrementCounter(prefix string, keyId string, incr int64) error
}

type entry struct {
	record        *event.UsageRecord
	costLimitUnit key.TimeUnit
}

type Ledger struct {
	store   Store
	cc      counterCache
	cs      counterStore
	log     *zap.Logger
	entries chan entry
	done    chan bool
}

func NewLedger(store Store, cc counterCache, cs counterStore, log *zap.Logger, bufferSize int) *Ledger {
	return &Ledger{
		store:   store,
		cc:      cc,
		cs:      cs,
		log:     log,
		entries: make(chan entry, bufferSize),
		done:    make(chan bool),
	}
}

// Record queues a usage record for durable append. It never blocks the
// caller; if the buffer is full the record is dropped and counted.
func (l *Ledger) Record(r *event.UsageRecord, costLimitUnit key.TimeUnit) {
	select {
	case l.entries <- entry{record: r, costLimitUnit: costLimitUnit}:
	default:
		telemetry.Incr("kubellm.ledger.record.dropped", nil, 1)
		l.log.Sugar().Errorf("ledger buffer full, dropped usage record %s", r.Id)
	}
}

func (l *Ledger) Listen() {
	l.log.Info("ledger started listening for usage records")

	go func() {
		for {
			select {
			case <-l.done:
				l.log.Info("ledger stopped")
				return
			case e := <-l.entries:
				l.append(e)
			}
		}
	}()
}

func (l *Ledger) append(e entry) {
	op := func() error {
		return l.store.InsertUsageRecord(e.record)
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 10 * time.Second

	if err := backoff.Retry(op, bo); err != nil {
		telemetry.Incr("kubellm.ledger.append.persistence_error", nil, 1)
		l.log.Sugar().Errorf("ledger failed to persist usage record %s: %v", e.record.Id, err)
		return
	}

	telemetry.Incr("kubellm.ledger.append.success", []string{
		"provider:" + e.record.Provider,
		"model:" + e.record.Model,
	}, 1)

	l.mirrorCounters(e)
}

// mirrorCounters keeps windowed redis counters in sync for reporting.
// Best effort only; the durable row is the source of truth.
func (l *Ledger) mirrorCounters(e entry) {
	if e.record.Status == event.StatusFailed {
		return
	}

	micros := int64(e.record.CostInUsd * 1000000)

	if l.cs != nil {
		if err := l.cs.IncrementCounter(totalCostPrefix, e.record.KeyId, micros); err != nil {
			telemetry.Incr("kubellm.ledger.append.counter_error", nil, 1)
			l.log.Sugar().Debugf("ledger failed to increment total cost counter: %v", err)
		}
	}

	if l.cc != nil && len(e.costLimitUnit) != 0 {
		if err := l.cc.IncrementCounter(costPrefix, e.record.KeyId, e.costLimitUnit, micros); err != nil {
			telemetry.Incr("kubellm.ledger.append.counter_error", nil, 1)
			l.log.Sugar().Debugf("ledger failed to increment windowed cost counter: %v", err)
		}
	}
}

// GetAggregatedSpend reads the durable lifetime spend for a key. The
// guard uses it to prime its running totals.
func (l *Ledger) GetAggregatedSpend(keyId string) (float64, error) {
	return l.store.GetAggregatedSpend(keyId)
}

func (l *Ledger) GetSpendOverRange(keyId string, start, end int64) (float64, error) {
	return l.store.GetSpendOverRange(keyId, start, end)
}

func (l *Ledger) Stop() {
	l.log.Info("shutting down ledger...")

	l.done <- true
}
