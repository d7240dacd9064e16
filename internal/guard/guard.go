// Package guard admits requests against a key's quota policy and tracks
// the money they may spend. Check-and-reserve happens under one per-key
// critical section so two concurrent requests can never both claim the
// last of a budget.
package guard

import (
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	internal_errors "github.com/kubellm/kubellm/internal/errors"
	"github.com/kubellm/kubellm/internal/key"
	"github.com/kubellm/kubellm/internal/telemetry"
	"go.uber.org/zap"
)

const numShards = 64

// SpendStore supplies the durable lifetime spend for a key. It is read
// once per key, the first time the key is seen, to prime the in-memory
// running total.
type SpendStore interface {
	GetAggregatedSpend(keyId string) (float64, error)
}

type keyState struct {
	requests      *slidingWindow
	spendOverTime *slidingWindow
	lifetimeSpend float64
	reserved      float64
	primed        bool
}

type shard struct {
	mu           sync.Mutex
	keys         map[string]*keyState
	reservations map[string]*Reservation
}

type Guard struct {
	shards   []*shard
	ss       SpendStore
	maxAge   time.Duration
	interval time.Duration
	log      *zap.Logger
	done     chan bool
}

func NewGuard(ss SpendStore, log *zap.Logger, maxAge time.Duration, sweepInterval time.Duration) *Guard {
	shards := make([]*shard, numShards)
	for i := range shards {
		shards[i] = &shard{
			keys:         map[string]*keyState{},
			reservations: map[string]*Reservation{},
		}
	}

	return &Guard{
		shards:   shards,
		ss:       ss,
		maxAge:   maxAge,
		interval: sweepInterval,
		log:      log,
		done:     make(chan bool),
	}
}

func (g *Guard) shardFor(keyId string) *shard {
	h := fnv.New32a()
	h.Write([]byte(keyId))
	return g.shards[h.Sum32()%numShards]
}

// Reserve admits a request under the key's rate and spend limits and
// holds estimatedCostInUsd against its budget. A zero limit means the
// limit is not enforced. The first reservation for a key pays one read
// against the durable spend aggregate; everything after that is
// in-memory arithmetic.
func (g *Guard) Reserve(k *key.VirtualKey, requestId string, estimatedCostInUsd float64) (*Reservation, error) {
	s := g.shardFor(k.KeyId)

	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.keys[k.KeyId]
	if !ok {
		st = &keyState{
			requests:      newSlidingWindow(unitDuration(k.RateLimitUnit)),
			spendOverTime: newSlidingWindow(unitDuration(k.CostLimitInUsdUnit)),
		}
		s.keys[k.KeyId] = st
	}

	if !st.primed {
		if g.ss != nil {
			total, err := g.ss.GetAggregatedSpend(k.KeyId)
			if err != nil {
				return nil, err
			}

			st.lifetimeSpend = total
		}

		st.primed = true
	}

	now := time.Now()

	if k.RateLimitOverTime > 0 {
		if st.requests.sum(now)+1 > float64(k.RateLimitOverTime) {
			return nil, internal_errors.NewRateLimitError(fmt.Sprintf("key exceeded rate limit %d requests per %s", k.RateLimitOverTime, k.RateLimitUnit))
		}
	}

	if k.CostLimitInUsdOverTime > 0 {
		if st.spendOverTime.sum(now)+st.reserved+estimatedCostInUsd > k.CostLimitInUsdOverTime {
			return nil, internal_errors.NewCostLimitError(fmt.Sprintf("cost limit %f per %s exceeded", k.CostLimitInUsdOverTime, k.CostLimitInUsdUnit))
		}
	}

	if k.CostLimitInUsd > 0 {
		if st.lifetimeSpend+st.reserved+estimatedCostInUsd > k.CostLimitInUsd {
			return nil, internal_errors.NewCostLimitError(fmt.Sprintf("total cost limit %f exceeded", k.CostLimitInUsd))
		}
	}

	if k.RateLimitOverTime > 0 {
		st.requests.add(now, 1)
	}

	st.reserved += estimatedCostInUsd

	r := &Reservation{
		RequestId: requestId,
		KeyId:     k.KeyId,
		CostInUsd: estimatedCostInUsd,
		CreatedAt: now,
		state:     StateHeld,
	}

	s.reservations[requestId] = r

	return r, nil
}

// Commit finalizes a reservation with the cost the provider actually
// billed. The delta between estimate and actual is refunded.
func (g *Guard) Commit(r *Reservation, actualCostInUsd float64) error {
	s := g.shardFor(r.KeyId)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.finalize(r); err != nil {
		return err
	}

	st := s.keys[r.KeyId]
	st.lifetimeSpend += actualCostInUsd
	st.spendOverTime.add(time.Now(), actualCostInUsd)

	r.setState(StateCommitted)

	return nil
}

// Release discards a reservation without charging the key.
func (g *Guard) Release(r *Reservation) error {
	s := g.shardFor(r.KeyId)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.finalize(r); err != nil {
		return err
	}

	r.setState(StateReleased)

	return nil
}

// finalize removes a held reservation from the arena and returns its
// hold. Caller owns the shard lock.
func (s *shard) finalize(r *Reservation) error {
	stored, ok := s.reservations[r.RequestId]
	if !ok || stored != r {
		return internal_errors.NewValidationError("reservation is not held")
	}

	if r.state != StateHeld {
		return internal_errors.NewValidationError("reservation is already finalized")
	}

	delete(s.reservations, r.RequestId)

	st := s.keys[r.KeyId]
	if st != nil {
		st.reserved -= r.CostInUsd
		if st.reserved < 0 {
			st.reserved = 0
		}
	}

	return nil
}

// Spend returns the in-memory lifetime spend tracked for a key.
func (g *Guard) Spend(keyId string) float64 {
	s := g.shardFor(keyId)

	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.keys[keyId]
	if !ok {
		return 0
	}

	return st.lifetimeSpend
}

// Listen starts the background sweep that force-releases reservations
// held past the maximum request timeout. A leaked hold caps a key's
// budget forever; treating it as a provider failure bounds the damage.
func (g *Guard) Listen() {
	ticker := time.NewTicker(g.interval)
	g.log.Info("guard started sweeping stale reservations")

	go func() {
		for {
			select {
			case <-g.done:
				g.log.Info("guard sweeper stopped")
				return
			case <-ticker.C:
				g.sweep()
			}
		}
	}()
}

func (g *Guard) sweep() {
	cutoff := time.Now().Add(-g.maxAge)

	for _, s := range g.shards {
		s.mu.Lock()

		for _, r := range s.reservations {
			if r.CreatedAt.Before(cutoff) {
				if err := s.finalize(r); err != nil {
					continue
				}

				r.setState(StateReleased)

				telemetry.Incr("kubellm.guard.sweep.force_released", nil, 1)
				g.log.Sugar().Warnf("force released stale reservation %s for key %s", r.RequestId, r.KeyId)
			}
		}

		s.mu.Unlock()
	}
}

func (g *Guard) Stop() {
	g.log.Info("shutting down guard...")

	g.done <- true
}
