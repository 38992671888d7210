package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/domain/book"
	"tradecore/infra/sequence"
)

type fakePersister struct {
	mu      sync.Mutex
	records []OrderStateRecord
}

func (p *fakePersister) PutState(rec OrderStateRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.records = append(p.records, rec)
	return nil
}

type fakeSink struct {
	mu      sync.Mutex
	records []ExecutionRecord
}

func (s *fakeSink) RecordExecution(rec ExecutionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func newTestManager(t *testing.T) (*Manager, *FakeVenue, *fakeSink) {
	t.Helper()
	venue := NewFakeVenue()
	sink := &fakeSink{}
	mgr := NewManager(Config{
		MaxOrderNotional: 2_000_000,
		DayOrderTimeout:  time.Hour,
	}, sequence.New(0), venue, &fakePersister{}, sink, nil)
	return mgr, venue, sink
}

func TestSubmitOrderValidation(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	ctx := context.Background()

	_, err := mgr.SubmitOrder(ctx, Signal{Symbol: 1, Quantity: 0, PriceTicks: 100, Urgency: 0.1})
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = mgr.SubmitOrder(ctx, Signal{Symbol: 1, Quantity: 10, PriceTicks: 0, Urgency: 0.1})
	assert.ErrorIs(t, err, ErrInvalidPrice)

	_, err = mgr.SubmitOrder(ctx, Signal{Symbol: 1, Quantity: 1000, PriceTicks: 10_000, Urgency: 0.1})
	assert.ErrorIs(t, err, ErrNotionalLimit)

	// Nothing reached the venue and no order exists.
	assert.Zero(t, mgr.Stats().Submitted)
	assert.Zero(t, mgr.Stats().ActiveOrders)
}

func TestUrgencyDerivesTypeAndTIF(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	ctx := context.Background()

	idFast, err := mgr.SubmitOrder(ctx, Signal{Symbol: 1, Strength: 1, Quantity: 10, PriceTicks: 100, Urgency: 0.9})
	require.NoError(t, err)
	idSlow, err := mgr.SubmitOrder(ctx, Signal{Symbol: 1, Strength: -1, Quantity: 10, PriceTicks: 100, Urgency: 0.2})
	require.NoError(t, err)

	orders := map[uint64]Order{}
	for _, o := range mgr.ActiveOrders(1) {
		orders[o.ID] = o
	}
	require.Len(t, orders, 2)

	assert.Equal(t, book.Market, orders[idFast].Type)
	assert.Equal(t, book.IOC, orders[idFast].TIF)
	assert.Equal(t, book.Bid, orders[idFast].Side)

	assert.Equal(t, book.Limit, orders[idSlow].Type)
	assert.Equal(t, book.DAY, orders[idSlow].TIF)
	assert.Equal(t, book.Ask, orders[idSlow].Side)
}

func TestRoutingRejectBecomesRejectedState(t *testing.T) {
	mgr, venue, _ := newTestManager(t)
	venue.RejectAllFrom = 1

	id, err := mgr.SubmitOrder(context.Background(), Signal{Symbol: 1, Quantity: 10, PriceTicks: 100, Urgency: 0.1})
	require.NoError(t, err, "routing rejects are outcomes, not errors")

	state, ok := mgr.OrderState(id)
	require.True(t, ok)
	assert.Equal(t, Rejected, state)
	assert.Equal(t, uint64(1), mgr.Stats().Rejected)
	assert.Zero(t, mgr.Stats().ActiveOrders)
}

func TestFillTransitionsAndArchivesExactlyOnce(t *testing.T) {
	mgr, _, sink := newTestManager(t)
	ctx := context.Background()

	id, err := mgr.SubmitOrder(ctx, Signal{Symbol: 1, Strength: 1, Quantity: 100, PriceTicks: 10_000, Urgency: 0.1})
	require.NoError(t, err)

	mgr.ProcessExecutionReport(ExecutionReport{OrderID: id, ExecutedQty: 60, RemainingQty: 40, ExecutionPrice: 10_000})
	state, _ := mgr.OrderState(id)
	assert.Equal(t, PartialFill, state)

	mgr.ProcessExecutionReport(ExecutionReport{OrderID: id, ExecutedQty: 40, RemainingQty: 0, ExecutionPrice: 10_000})
	state, _ = mgr.OrderState(id)
	assert.Equal(t, Filled, state)
	assert.Equal(t, uint64(1), mgr.Stats().Filled)
	assert.Zero(t, mgr.Stats().ActiveOrders)

	// One execution record, one notification per processed report.
	assert.Equal(t, 1, sink.count())
	assert.Equal(t, 2, mgr.Notifications().Len())

	// A late report for the now-terminal order is dropped as an anomaly.
	mgr.ProcessExecutionReport(ExecutionReport{OrderID: id, ExecutedQty: 10, ExecutionPrice: 10_000})
	assert.Equal(t, uint64(1), mgr.Stats().Anomalies)
	assert.Equal(t, uint64(1), mgr.Stats().Filled)
	assert.Equal(t, 1, sink.count())
}

func TestConcurrentReportStreamsNotifyAll(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	ctx := context.Background()

	const n = 400
	ids := make([]uint64, n)
	for i := range ids {
		id, err := mgr.SubmitOrder(ctx, Signal{Symbol: 1, Quantity: 10, PriceTicks: 100, Urgency: 0.1})
		require.NoError(t, err)
		ids[i] = id
	}

	// Two report streams, as with a fill feed beside a cancel-ack feed.
	var wg sync.WaitGroup
	for part := 0; part < 2; part++ {
		wg.Add(1)
		go func(part int) {
			defer wg.Done()
			for i := part; i < n; i += 2 {
				mgr.ProcessExecutionReport(ExecutionReport{OrderID: ids[i], ExecutedQty: 10, ExecutionPrice: 100})
			}
		}(part)
	}
	wg.Wait()

	assert.Equal(t, n, mgr.Notifications().Len(), "every report notifies exactly once")
	assert.Equal(t, uint64(n), mgr.Stats().Filled)
	assert.Zero(t, mgr.Stats().Anomalies)
}

func TestLatencyEMAWeighting(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	ctx := context.Background()

	now := time.Unix(1_700_000_000, 0)
	mgr.SetClock(func() time.Time { return now })

	id1, err := mgr.SubmitOrder(ctx, Signal{Symbol: 1, Quantity: 10, PriceTicks: 100, Urgency: 0.1})
	require.NoError(t, err)
	now = now.Add(16 * time.Millisecond)
	mgr.ProcessExecutionReport(ExecutionReport{OrderID: id1, ExecutedQty: 10, ExecutionPrice: 100})

	// First sample seeds the EMA directly.
	require.Equal(t, 16*time.Millisecond, mgr.Stats().FillLatency)

	id2, err := mgr.SubmitOrder(ctx, Signal{Symbol: 1, Quantity: 10, PriceTicks: 100, Urgency: 0.1})
	require.NoError(t, err)
	now = now.Add(32 * time.Millisecond)
	mgr.ProcessExecutionReport(ExecutionReport{OrderID: id2, ExecutedQty: 10, ExecutionPrice: 100})

	// (15*16ms + 32ms) / 16 = 17ms
	assert.Equal(t, 17*time.Millisecond, mgr.Stats().FillLatency)
}

func TestCancelOrder(t *testing.T) {
	mgr, venue, _ := newTestManager(t)
	ctx := context.Background()

	id, err := mgr.SubmitOrder(ctx, Signal{Symbol: 1, Quantity: 10, PriceTicks: 100, Urgency: 0.1})
	require.NoError(t, err)

	assert.False(t, mgr.CancelOrder(ctx, 999), "unknown order")

	venue.RejectCancel[id] = true
	assert.False(t, mgr.CancelOrder(ctx, id), "venue reject leaves order live")
	state, _ := mgr.OrderState(id)
	assert.Equal(t, Submitted, state)

	delete(venue.RejectCancel, id)
	assert.True(t, mgr.CancelOrder(ctx, id))
	state, _ = mgr.OrderState(id)
	assert.Equal(t, Cancelled, state)

	assert.False(t, mgr.CancelOrder(ctx, id), "terminal order cannot be cancelled again")
}

func TestCancelAllOrdersScopedToSymbol(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := mgr.SubmitOrder(ctx, Signal{Symbol: 1, Quantity: 10, PriceTicks: 100, Urgency: 0.1})
		require.NoError(t, err)
	}
	_, err := mgr.SubmitOrder(ctx, Signal{Symbol: 2, Quantity: 10, PriceTicks: 100, Urgency: 0.1})
	require.NoError(t, err)

	assert.Equal(t, 3, mgr.CancelAllOrders(ctx, 1))
	assert.Empty(t, mgr.ActiveOrders(1))
	assert.Len(t, mgr.ActiveOrders(2), 1)
}

func TestExpirySweep(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	ctx := context.Background()

	now := time.Unix(1_700_000_000, 0)
	mgr.SetClock(func() time.Time { return now })

	dayID, err := mgr.SubmitOrder(ctx, Signal{Symbol: 1, Quantity: 10, PriceTicks: 100, Urgency: 0.1})
	require.NoError(t, err)
	iocID, err := mgr.SubmitOrder(ctx, Signal{Symbol: 1, Quantity: 10, PriceTicks: 100, Urgency: 0.9})
	require.NoError(t, err)

	assert.Zero(t, mgr.ExpireStaleOrders(), "fresh orders are not swept")

	now = now.Add(2 * time.Hour)
	assert.Equal(t, 1, mgr.ExpireStaleOrders())

	state, _ := mgr.OrderState(dayID)
	assert.Equal(t, Expired, state)
	state, _ = mgr.OrderState(iocID)
	assert.Equal(t, Submitted, state, "only DAY orders expire")
}
