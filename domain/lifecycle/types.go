package lifecycle

import (
	"time"

	"tradecore/domain/book"
)

// OrderState is the canonical lifecycle state machine:
//
//	Pending -> Submitted -> {Acknowledged -> PartialFill* -> Filled}
//	                      | Cancelled | Rejected | Expired
//
// Pending and Submitted are transient; Filled, Cancelled, Rejected and
// Expired are terminal and accept no further transition.
type OrderState int

const (
	Pending OrderState = iota
	Submitted
	Acknowledged
	PartialFill
	Filled
	Cancelled
	Rejected
	Expired
)

func (s OrderState) String() string {
	switch s {
	case Pending:
		return "pending"
	case Submitted:
		return "submitted"
	case Acknowledged:
		return "acknowledged"
	case PartialFill:
		return "partial_fill"
	case Filled:
		return "filled"
	case Cancelled:
		return "cancelled"
	case Rejected:
		return "rejected"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is accepted.
func (s OrderState) Terminal() bool {
	switch s {
	case Filled, Cancelled, Rejected, Expired:
		return true
	}
	return false
}

// Signal is the sizing decision handed to SubmitOrder. Side comes from
// the sign of Strength; Urgency in [0,1] picks order type and
// time-in-force.
type Signal struct {
	Symbol             uint32
	Strength           float64 // >0 buy, <0 sell
	Quantity           int64
	PriceTicks         int64
	Urgency            float64
	StrategyID         uint32
	PredictedImpactBps float64 // attached by the caller from the impact engine
}

// Side derives the order side from signal strength.
func (s Signal) Side() book.Side {
	if s.Strength >= 0 {
		return book.Bid
	}
	return book.Ask
}

// ExecutionReport is one venue-originated fill/ack/cancel/reject event.
// Produced by the venue-connectivity collaborator, consumed exactly
// once by ProcessExecutionReport.
type ExecutionReport struct {
	OrderID        uint64
	ExecutedQty    int64
	RemainingQty   int64
	ExecutionPrice int64
	State          OrderState
	VenueRef       string
	Commission     int64
	RejectReason   string
	Timestamp      int64 // unix nanos at the venue
}

// Order is the lifecycle manager's record of an order the engine has
// submitted. It is distinct from a resident book.Order: this one exists
// from submission until archival regardless of where it rests.
type Order struct {
	ID         uint64
	Symbol     uint32
	Side       book.Side
	Type       book.OrderType
	TIF        book.TimeInForce
	Price      int64
	Qty        int64
	Filled     int64
	State      OrderState
	StrategyID uint32
	VenueRef   string

	BenchmarkPrice     int64 // suggested price at submission
	PredictedImpactBps float64

	SubmittedAt time.Time
	AckedAt     time.Time
	UpdatedAt   time.Time

	fillNotional int64 // sum of price*qty over fills
	fillCount    int
}

// AvgFillPrice is the volume-weighted average of received fills.
func (o *Order) AvgFillPrice() float64 {
	if o.Filled == 0 {
		return 0
	}
	return float64(o.fillNotional) / float64(o.Filled)
}

// ExecutionRecord is written once an order reaches a terminal state
// with fills. It is the calibration feedback for the impact engine.
type ExecutionRecord struct {
	OrderID            uint64
	Symbol             uint32
	Side               book.Side
	Quantity           int64
	BenchmarkPrice     int64
	AvgFillPrice       float64
	SlippageBps        float64
	PredictedImpactBps float64
	ActualImpactBps    float64
	FillCount          int
	TimeToComplete     time.Duration
	Aggressive         bool // submitted as a market/IOC order
	CompletedAt        time.Time
}

// OrderStateRecord is the fire-and-forget persistence payload emitted
// on every state change.
type OrderStateRecord struct {
	OrderID   uint64
	Symbol    uint32
	State     OrderState
	Price     int64
	Qty       int64
	Filled    int64
	VenueRef  string
	UpdatedAt time.Time
}

// RecordSink consumes completed ExecutionRecords. Implemented by the
// impact engine.
type RecordSink interface {
	RecordExecution(rec ExecutionRecord)
}

// Persister receives order-state records asynchronously. Implementations
// must return quickly; durability is their problem, not the core's.
type Persister interface {
	PutState(rec OrderStateRecord) error
}
