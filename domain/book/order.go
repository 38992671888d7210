package book

// Side of the book an order rests on.
type Side int

const (
	Bid Side = iota
	Ask
)

func (s Side) String() string {
	if s == Bid {
		return "bid"
	}
	return "ask"
}

// Opposite returns the side an aggressor order trades against.
func (s Side) Opposite() Side {
	if s == Bid {
		return Ask
	}
	return Bid
}

// OrderType covers every order flavor the venue accepts.
type OrderType int

const (
	Market OrderType = iota
	Limit
	Stop
	StopLimit
	Iceberg
)

// TimeInForce controls how long an order stays working.
type TimeInForce int

const (
	IOC TimeInForce = iota // immediate-or-cancel
	FOK                    // fill-or-kill
	GTC                    // good-till-cancel
	DAY
	GTD // good-till-date
)

// Order is a resident entry in the book. Price is fixed-point ticks.
// next/prev link it into its price level's FIFO; level points back so
// removal by id is O(1).
type Order struct {
	ID         uint64
	Symbol     uint32
	Price      int64
	Qty        int64
	Filled     int64
	Side       Side
	Type       OrderType
	TIF        TimeInForce
	StrategyID uint32
	CreatedAt  int64 // unix nanos
	UpdatedAt  int64

	next  *Order
	prev  *Order
	level *PriceLevel
}

// Remaining is the unfilled residual.
func (o *Order) Remaining() int64 {
	return o.Qty - o.Filled
}

// Next exposes FIFO traversal to read-only walkers.
func (o *Order) Next() *Order {
	return o.next
}

func (o *Order) reset() {
	*o = Order{}
}
