package lifecycle

import (
	"context"
	"errors"
	"sync"
)

// VenueConnector is the narrow interface to venue connectivity. Route
// and Cancel report on the request only; the authoritative outcome
// arrives later as an ExecutionReport.
type VenueConnector interface {
	Route(ctx context.Context, o *Order) error
	Cancel(ctx context.Context, orderID uint64) error
}

var errVenueReject = errors.New("venue rejected request")

// FakeVenue is the deterministic in-process connector used by tests and
// demo wiring. Behavior is explicit, never randomized: ids added to the
// reject sets fail, everything else succeeds.
type FakeVenue struct {
	mu            sync.Mutex
	routed        []uint64
	cancelled     []uint64
	RejectRoute   map[uint64]bool
	RejectCancel  map[uint64]bool
	RejectAllFrom uint64 // reject every route with id >= this when non-zero
}

func NewFakeVenue() *FakeVenue {
	return &FakeVenue{
		RejectRoute:  make(map[uint64]bool),
		RejectCancel: make(map[uint64]bool),
	}
}

func (v *FakeVenue) Route(_ context.Context, o *Order) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.RejectRoute[o.ID] || (v.RejectAllFrom != 0 && o.ID >= v.RejectAllFrom) {
		return errVenueReject
	}
	v.routed = append(v.routed, o.ID)
	return nil
}

func (v *FakeVenue) Cancel(_ context.Context, orderID uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.RejectCancel[orderID] {
		return errVenueReject
	}
	v.cancelled = append(v.cancelled, orderID)
	return nil
}

// Routed returns ids routed so far, in order.
func (v *FakeVenue) Routed() []uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]uint64(nil), v.routed...)
}

// Cancelled returns ids whose cancel requests were accepted.
func (v *FakeVenue) Cancelled() []uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]uint64(nil), v.cancelled...)
}
