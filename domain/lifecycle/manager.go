package lifecycle

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"tradecore/domain/book"
	"tradecore/infra/ring"
	"tradecore/infra/sequence"
)

var (
	ErrInvalidQuantity = errors.New("lifecycle: quantity must be positive")
	ErrInvalidPrice    = errors.New("lifecycle: non-market order needs a positive price")
	ErrNotionalLimit   = errors.New("lifecycle: order notional over configured maximum")
)

// Config bounds order admission and expiry.
type Config struct {
	MaxOrderNotional int64
	DayOrderTimeout  time.Duration
	UrgencyThreshold float64 // at or above: market/IOC, below: limit/DAY
	NotifyRingSize   uint64
}

// Stats is a point-in-time copy of the manager's counters.
type Stats struct {
	Submitted    uint64
	Filled       uint64
	Cancelled    uint64
	Rejected     uint64
	Expired      uint64
	Anomalies    uint64
	AckLatency   time.Duration // EMA, weight 1/16
	FillLatency  time.Duration // EMA, weight 1/16
	ActiveOrders int
}

// Manager owns the canonical order state machine. One mutex guards the
// active and completed maps: submissions, cancels and report processing
// are low-frequency next to book updates, and none of them block on I/O.
type Manager struct {
	cfg     Config
	seq     *sequence.Sequencer
	venue   VenueConnector
	persist Persister
	records RecordSink
	notify  *ring.Ring[ExecutionReport]
	log     *zap.Logger
	clock   func() time.Time

	mu        sync.Mutex
	active    map[uint64]*Order
	completed map[uint64]*Order

	submitted  uint64
	filled     uint64
	cancelled  uint64
	rejected   uint64
	expired    uint64
	anomalies  uint64
	ackEMA     float64 // nanos
	fillEMA    float64 // nanos
	ackSeeded  bool
	fillSeeded bool
}

func NewManager(
	cfg Config,
	seq *sequence.Sequencer,
	venue VenueConnector,
	persist Persister,
	records RecordSink,
	log *zap.Logger,
) *Manager {
	if cfg.UrgencyThreshold == 0 {
		cfg.UrgencyThreshold = 0.7
	}
	if cfg.NotifyRingSize == 0 {
		cfg.NotifyRingSize = 1 << 14
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		cfg:       cfg,
		seq:       seq,
		venue:     venue,
		persist:   persist,
		records:   records,
		notify:    ring.New[ExecutionReport](cfg.NotifyRingSize),
		log:       log.Named("lifecycle"),
		clock:     time.Now,
		active:    make(map[uint64]*Order, 256),
		completed: make(map[uint64]*Order, 1024),
	}
}

// SetClock injects a deterministic clock. Tests only.
func (m *Manager) SetClock(now func() time.Time) {
	m.clock = now
}

// SubmitOrder validates a signal, derives order type and time-in-force
// from its urgency, and routes it. Validation failures return id 0 and
// an error with no order created. Routing rejects are an expected
// outcome, not an error: the order is archived as Rejected and its id
// returned.
func (m *Manager) SubmitOrder(ctx context.Context, sig Signal) (uint64, error) {
	if sig.Quantity <= 0 {
		return 0, ErrInvalidQuantity
	}
	otype, tif := book.Market, book.IOC
	if sig.Urgency < m.cfg.UrgencyThreshold {
		otype, tif = book.Limit, book.DAY
	}
	if otype != book.Market && sig.PriceTicks <= 0 {
		return 0, ErrInvalidPrice
	}
	if sig.PriceTicks > 0 && m.cfg.MaxOrderNotional > 0 &&
		sig.PriceTicks*sig.Quantity > m.cfg.MaxOrderNotional {
		return 0, ErrNotionalLimit
	}

	now := m.clock()
	o := &Order{
		ID:                 m.seq.Next(),
		Symbol:             sig.Symbol,
		Side:               sig.Side(),
		Type:               otype,
		TIF:                tif,
		Price:              sig.PriceTicks,
		Qty:                sig.Quantity,
		State:              Pending,
		StrategyID:         sig.StrategyID,
		BenchmarkPrice:     sig.PriceTicks,
		PredictedImpactBps: sig.PredictedImpactBps,
		SubmittedAt:        now,
		UpdatedAt:          now,
	}

	if err := m.venue.Route(ctx, o); err != nil {
		o.State = Rejected
		m.mu.Lock()
		m.completed[o.ID] = o
		m.rejected++
		m.mu.Unlock()
		m.log.Warn("order rejected at routing",
			zap.Uint64("order_id", o.ID),
			zap.Uint32("symbol", o.Symbol),
			zap.Error(err))
		m.persistState(o)
		return o.ID, nil
	}

	o.State = Submitted
	m.mu.Lock()
	m.active[o.ID] = o
	m.submitted++
	m.mu.Unlock()
	m.persistState(o)
	return o.ID, nil
}

// CancelOrder sends a cancel request for a non-terminal order. The
// return value reports the fate of the request only; the order stays
// live until a terminal report arrives, so callers must keep treating
// it as fillable on a false return.
func (m *Manager) CancelOrder(ctx context.Context, orderID uint64) bool {
	m.mu.Lock()
	o, ok := m.active[orderID]
	m.mu.Unlock()
	if !ok {
		return false
	}

	if err := m.venue.Cancel(ctx, orderID); err != nil {
		m.log.Debug("cancel request rejected",
			zap.Uint64("order_id", orderID), zap.Error(err))
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok = m.active[orderID]
	if !ok {
		// Filled while the cancel was in flight.
		return false
	}
	o.State = Cancelled
	o.UpdatedAt = m.clock()
	m.archiveLocked(o)
	m.cancelled++
	m.persistState(o)
	return true
}

// CancelAllOrders cancels every active order for a symbol. The id set
// is snapshotted up front so submissions racing the sweep are not
// pulled in.
func (m *Manager) CancelAllOrders(ctx context.Context, symbol uint32) int {
	m.mu.Lock()
	ids := make([]uint64, 0, len(m.active))
	for id, o := range m.active {
		if o.Symbol == symbol {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()

	n := 0
	for _, id := range ids {
		if m.CancelOrder(ctx, id) {
			n++
		}
	}
	return n
}

// ProcessExecutionReport applies one venue report. Late or duplicate
// reports referencing a terminal or unknown order are dropped and
// counted, never applied.
func (m *Manager) ProcessExecutionReport(rep ExecutionReport) {
	now := m.clock()

	m.mu.Lock()
	o, ok := m.active[rep.OrderID]
	if !ok {
		m.anomalies++
		_, wasCompleted := m.completed[rep.OrderID]
		m.mu.Unlock()
		m.log.Warn("dropping report for non-active order",
			zap.Uint64("order_id", rep.OrderID),
			zap.Bool("terminal", wasCompleted),
			zap.String("state", rep.State.String()))
		return
	}

	if rep.ExecutedQty > 0 {
		fill := rep.ExecutedQty
		if o.Filled+fill > o.Qty {
			fill = o.Qty - o.Filled
			m.anomalies++
			m.log.Warn("overfill clamped",
				zap.Uint64("order_id", o.ID),
				zap.Int64("reported", rep.ExecutedQty))
		}
		o.Filled += fill
		o.fillNotional += fill * rep.ExecutionPrice
		o.fillCount++
		m.observeFillLatencyLocked(now.Sub(o.SubmittedAt))
	}
	if rep.VenueRef != "" {
		o.VenueRef = rep.VenueRef
	}
	if o.AckedAt.IsZero() && (rep.State == Acknowledged || rep.ExecutedQty > 0) {
		o.AckedAt = now
		m.observeAckLatencyLocked(now.Sub(o.SubmittedAt))
	}
	o.UpdatedAt = now

	switch {
	case o.Filled >= o.Qty:
		o.State = Filled
	case rep.State.Terminal():
		o.State = rep.State
	case rep.ExecutedQty > 0:
		o.State = PartialFill
	case rep.State == Acknowledged:
		o.State = Acknowledged
	}

	var rec *ExecutionRecord
	if o.State.Terminal() {
		m.archiveLocked(o)
		switch o.State {
		case Filled:
			m.filled++
		case Cancelled:
			m.cancelled++
		case Rejected:
			m.rejected++
		case Expired:
			m.expired++
		}
		if o.Filled > 0 {
			r := m.buildRecordLocked(o, now)
			rec = &r
		}
	}
	// Enqueue under the mutex: the ring expects one producer at a time,
	// and concurrent report streams are allowed.
	queued := m.notify.Enqueue(rep)
	m.mu.Unlock()

	if !queued {
		m.log.Warn("completion queue full, notification dropped",
			zap.Uint64("order_id", rep.OrderID))
	}
	m.persistState(o)
	if rec != nil && m.records != nil {
		m.records.RecordExecution(*rec)
	}
}

// ExpireStaleOrders transitions DAY orders older than the configured
// timeout to Expired and returns how many were swept.
func (m *Manager) ExpireStaleOrders() int {
	now := m.clock()
	var swept []*Order

	m.mu.Lock()
	for _, o := range m.active {
		if o.TIF == book.DAY && now.Sub(o.SubmittedAt) > m.cfg.DayOrderTimeout {
			o.State = Expired
			o.UpdatedAt = now
			m.archiveLocked(o)
			m.expired++
			swept = append(swept, o)
		}
	}
	m.mu.Unlock()

	for _, o := range swept {
		m.log.Info("order expired",
			zap.Uint64("order_id", o.ID),
			zap.Uint32("symbol", o.Symbol))
		m.persistState(o)
	}
	return len(swept)
}

// Run drives the periodic expiry sweep until ctx is cancelled.
func (m *Manager) Run(ctx context.Context, sweepEvery time.Duration) {
	ticker := time.NewTicker(sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.ExpireStaleOrders()
		}
	}
}

// Notifications exposes the completion queue for downstream consumers
// to drain. Single consumer.
func (m *Manager) Notifications() *ring.Ring[ExecutionReport] {
	return m.notify
}

// OrderState looks up the current state of an order.
func (m *Manager) OrderState(orderID uint64) (OrderState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.active[orderID]; ok {
		return o.State, true
	}
	if o, ok := m.completed[orderID]; ok {
		return o.State, true
	}
	return 0, false
}

// ActiveOrders returns a copy of the active orders for a symbol.
func (m *Manager) ActiveOrders(symbol uint32) []Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Order, 0, len(m.active))
	for _, o := range m.active {
		if o.Symbol == symbol {
			out = append(out, *o)
		}
	}
	return out
}

// Stats returns a snapshot of the manager counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Submitted:    m.submitted,
		Filled:       m.filled,
		Cancelled:    m.cancelled,
		Rejected:     m.rejected,
		Expired:      m.expired,
		Anomalies:    m.anomalies,
		AckLatency:   time.Duration(m.ackEMA),
		FillLatency:  time.Duration(m.fillEMA),
		ActiveOrders: len(m.active),
	}
}

/******************** internals ********************/

func (m *Manager) archiveLocked(o *Order) {
	delete(m.active, o.ID)
	m.completed[o.ID] = o
}

// EMA with weight 1/16: smooths latency outliers while staying
// responsive. First sample seeds the average directly.
func (m *Manager) observeAckLatencyLocked(d time.Duration) {
	if !m.ackSeeded {
		m.ackEMA = float64(d)
		m.ackSeeded = true
		return
	}
	m.ackEMA = (15*m.ackEMA + float64(d)) / 16
}

func (m *Manager) observeFillLatencyLocked(d time.Duration) {
	if !m.fillSeeded {
		m.fillEMA = float64(d)
		m.fillSeeded = true
		return
	}
	m.fillEMA = (15*m.fillEMA + float64(d)) / 16
}

func (m *Manager) buildRecordLocked(o *Order, now time.Time) ExecutionRecord {
	avg := o.AvgFillPrice()
	slippage := 0.0
	if o.BenchmarkPrice > 0 && avg > 0 {
		slippage = (avg - float64(o.BenchmarkPrice)) / float64(o.BenchmarkPrice) * 10_000
		if o.Side == book.Ask {
			slippage = -slippage
		}
	}
	return ExecutionRecord{
		OrderID:            o.ID,
		Symbol:             o.Symbol,
		Side:               o.Side,
		Quantity:           o.Filled,
		BenchmarkPrice:     o.BenchmarkPrice,
		AvgFillPrice:       avg,
		SlippageBps:        slippage,
		PredictedImpactBps: o.PredictedImpactBps,
		ActualImpactBps:    slippage,
		FillCount:          o.fillCount,
		TimeToComplete:     now.Sub(o.SubmittedAt),
		Aggressive:         o.Type == book.Market || o.TIF == book.IOC,
		CompletedAt:        now,
	}
}

func (m *Manager) persistState(o *Order) {
	if m.persist == nil {
		return
	}
	m.mu.Lock()
	rec := OrderStateRecord{
		OrderID:   o.ID,
		Symbol:    o.Symbol,
		State:     o.State,
		Price:     o.Price,
		Qty:       o.Qty,
		Filled:    o.Filled,
		VenueRef:  o.VenueRef,
		UpdatedAt: o.UpdatedAt,
	}
	m.mu.Unlock()
	if err := m.persist.PutState(rec); err != nil {
		m.log.Warn("persist failed", zap.Uint64("order_id", rec.OrderID), zap.Error(err))
	}
}
