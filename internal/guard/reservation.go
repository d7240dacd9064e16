package guard

import (
	"sync"
	"time"
)

type ReservationState string

const (
	StateHeld      ReservationState = "held"
	StateCommitted ReservationState = "committed"
	StateReleased  ReservationState = "released"
)

// Reservation is the ephemeral hold a request places on a key's budget
// between admission and completion. It transitions out of Held exactly
// once.
type Reservation struct {
	RequestId string
	KeyId     string
	CostInUsd float64
	CreatedAt time.Time

	// mu guards state against the background sweeper; every writer also
	// holds the owning shard's lock.
	mu    sync.Mutex
	state ReservationState
}

func (r *Reservation) State() ReservationState {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.state
}

func (r *Reservation) setState(s ReservationState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.state = s
}
