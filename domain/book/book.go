package book

import (
	"errors"
	"sync/atomic"
	"time"

	"tradecore/infra/memory"
)

var (
	ErrInvalidPrice     = errors.New("book: price outside configured tick range")
	ErrInvalidQuantity  = errors.New("book: quantity must be positive")
	ErrDuplicateOrderID = errors.New("book: order id already resident")
	ErrUnknownOrder     = errors.New("book: order id not resident")
)

// Config bounds what the book will accept. Prices are fixed-point ticks.
type Config struct {
	MinPrice    int64
	MaxPrice    int64
	DepthLevels int
}

// BBO is the current top of book. Zero price with zero quantity means
// that side is empty.
type BBO struct {
	BidPrice int64
	BidQty   int64
	AskPrice int64
	AskQty   int64
}

// DepthLevel is one row of a depth snapshot.
type DepthLevel struct {
	Price  int64
	Qty    int64
	Orders int
}

// MarketDepth is an immutable point-in-time view of the top N levels.
// Consumers key off Seq; the slices are never mutated after publication.
type MarketDepth struct {
	Seq       uint64
	Timestamp int64
	Bids      []DepthLevel
	Asks      []DepthLevel
}

// Fill is one (counter order, quantity) pair produced by MatchOrder.
type Fill struct {
	OrderID uint64
	Qty     int64
	Price   int64
}

// Book is the authoritative resident-order state for one symbol.
//
// One goroutine owns all mutation (single writer per symbol); BBO and
// Depth reads may come from other goroutines and go through atomics
// only, never a lock.
type Book struct {
	Symbol uint32

	cfg  Config
	bids *rbTree
	asks *rbTree

	orders   map[uint64]*Order // id -> resident order, O(1) removal
	pool     *memory.Pool[Order]
	bidTotal int64
	askTotal int64

	depth atomic.Pointer[MarketDepth]
	seq   atomic.Uint64
}

func New(symbol uint32, cfg Config) *Book {
	if cfg.DepthLevels <= 0 {
		cfg.DepthLevels = 10
	}
	b := &Book{
		Symbol: symbol,
		cfg:    cfg,
		bids:   newRBTree(),
		asks:   newRBTree(),
		orders: make(map[uint64]*Order, 1024),
		pool:   memory.NewPool(func() *Order { return &Order{} }),
	}
	b.depth.Store(&MarketDepth{Timestamp: time.Now().UnixNano()})
	return b
}

func (b *Book) tree(s Side) *rbTree {
	if s == Bid {
		return b.bids
	}
	return b.asks
}

// AddOrder inserts a resident order. Validation runs before any
// structural change; a rejected call leaves the book untouched.
func (b *Book) AddOrder(id uint64, price, qty int64, side Side, otype OrderType) error {
	if price < b.cfg.MinPrice || price > b.cfg.MaxPrice {
		return ErrInvalidPrice
	}
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	if _, dup := b.orders[id]; dup {
		return ErrDuplicateOrderID
	}

	prev := b.bbo()

	now := time.Now().UnixNano()
	o := b.pool.Get()
	*o = Order{
		ID:        id,
		Symbol:    b.Symbol,
		Price:     price,
		Qty:       qty,
		Side:      side,
		Type:      otype,
		CreatedAt: now,
		UpdatedAt: now,
	}

	b.tree(side).UpsertLevel(price).enqueue(o)
	b.orders[id] = o
	b.addSideTotal(side, qty)

	b.refreshDepthIfChanged(prev)
	return nil
}

// RemoveOrder deletes a resident order by id. A missing id returns
// false rather than an error: cancels racing fills are steady state.
func (b *Book) RemoveOrder(id uint64) bool {
	o, ok := b.orders[id]
	if !ok {
		return false
	}
	prev := b.bbo()
	b.unlinkResident(o)
	b.refreshDepthIfChanged(prev)
	return true
}

func (b *Book) unlinkResident(o *Order) {
	lvl := o.level
	side := o.Side
	remaining := o.Remaining()

	lvl.unlink(o)
	if lvl.empty() {
		b.tree(side).DeleteLevel(lvl.Price)
	}
	delete(b.orders, o.ID)
	b.addSideTotal(side, -remaining)

	o.reset()
	b.pool.Put(o)
}

// ModifyOrder changes price and/or quantity. A price change (or a
// quantity increase, which gains size) is a replace and loses time
// priority, matching venue semantics; a pure quantity decrease keeps
// the order's place in its FIFO. Fills already received stay attached
// either way.
func (b *Book) ModifyOrder(id uint64, newPrice, newQty int64) error {
	o, ok := b.orders[id]
	if !ok {
		return ErrUnknownOrder
	}
	if newPrice < b.cfg.MinPrice || newPrice > b.cfg.MaxPrice {
		return ErrInvalidPrice
	}
	if newQty <= 0 || newQty <= o.Filled {
		return ErrInvalidQuantity
	}

	if newPrice == o.Price && newQty < o.Qty {
		prev := b.bbo()
		delta := o.Qty - newQty
		o.Qty = newQty
		o.UpdatedAt = time.Now().UnixNano()
		o.level.reduce(delta)
		b.addSideTotal(o.Side, -delta)
		b.refreshDepthIfChanged(prev)
		return nil
	}
	if newPrice == o.Price && newQty == o.Qty {
		return nil
	}

	prev := b.bbo()
	filled := o.Filled
	side, otype := o.Side, o.Type
	b.unlinkResident(o)

	now := time.Now().UnixNano()
	n := b.pool.Get()
	*n = Order{
		ID:        id,
		Symbol:    b.Symbol,
		Price:     newPrice,
		Qty:       newQty,
		Filled:    filled,
		Side:      side,
		Type:      otype,
		CreatedAt: now,
		UpdatedAt: now,
	}
	b.tree(side).UpsertLevel(newPrice).enqueue(n)
	b.orders[id] = n
	b.addSideTotal(side, n.Remaining())
	b.refreshDepthIfChanged(prev)
	return nil
}

// MatchOrder walks the opposite side while price is marketable,
// consuming resident quantity oldest first within each level (strict
// price-then-time priority). It mutates the book but emits no
// execution reports; fills become authoritative only once the venue
// confirms them through the lifecycle manager.
func (b *Book) MatchOrder(price, qty int64, side Side) []Fill {
	if qty <= 0 {
		return nil
	}
	prev := b.bbo()
	var fills []Fill
	contra := b.tree(side.Opposite())

	remaining := qty
	for remaining > 0 {
		var best *PriceLevel
		if side == Bid {
			best = contra.MinLevel()
			if best == nil || best.Price > price {
				break
			}
		} else {
			best = contra.MaxLevel()
			if best == nil || best.Price < price {
				break
			}
		}

		head := best.Head()
		trade := min64(remaining, head.Remaining())
		remaining -= trade
		head.Filled += trade
		head.UpdatedAt = time.Now().UnixNano()
		fills = append(fills, Fill{OrderID: head.ID, Qty: trade, Price: best.Price})

		best.reduce(trade)
		b.addSideTotal(side.Opposite(), -trade)
		if head.Remaining() == 0 {
			b.unlinkResident(head)
		}
	}

	b.refreshDepthIfChanged(prev)
	return fills
}

/******************** queries ********************/

// BestBidOffer derives the top of book from the current depth snapshot,
// so any goroutine may call it concurrently with the owner's mutation.
// Snapshots republish on every top-of-book change, so the answer always
// matches the live tree.
func (b *Book) BestBidOffer() BBO {
	d := b.depth.Load()
	var out BBO
	if len(d.Bids) > 0 {
		out.BidPrice, out.BidQty = d.Bids[0].Price, d.Bids[0].Qty
	}
	if len(d.Asks) > 0 {
		out.AskPrice, out.AskQty = d.Asks[0].Price, d.Asks[0].Qty
	}
	return out
}

func (b *Book) bbo() BBO {
	var out BBO
	if lvl := b.bids.MaxLevel(); lvl != nil {
		out.BidPrice, out.BidQty = lvl.Price, lvl.TotalQty
	}
	if lvl := b.asks.MinLevel(); lvl != nil {
		out.AskPrice, out.AskQty = lvl.Price, lvl.TotalQty
	}
	return out
}

// Depth returns the current sequence-numbered snapshot. Safe from any
// goroutine; the returned value is immutable.
func (b *Book) Depth() *MarketDepth {
	return b.depth.Load()
}

// TotalQuantity is the aggregate resident quantity on one side.
func (b *Book) TotalQuantity(side Side) int64 {
	if side == Bid {
		return b.bidTotal
	}
	return b.askTotal
}

// Imbalance returns (bidVol-askVol)/(bidVol+askVol+1) over the top
// `levels` levels. The +1 keeps an empty book at exactly 0 instead of
// dividing by zero, at the cost of a slight bias toward zero.
func (b *Book) Imbalance(levels int) float64 {
	bidVol := b.volumeTopN(Bid, levels)
	askVol := b.volumeTopN(Ask, levels)
	return float64(bidVol-askVol) / float64(bidVol+askVol+1)
}

// VWAP over the top `levels` levels of one side; 0 when empty.
func (b *Book) VWAP(side Side, levels int) float64 {
	var notional, volume int64
	b.walkTopN(side, levels, func(lvl *PriceLevel) {
		notional += lvl.Price * lvl.TotalQty
		volume += lvl.TotalQty
	})
	if volume == 0 {
		return 0
	}
	return float64(notional) / float64(volume)
}

// LevelCount reports distinct resident price levels on one side.
func (b *Book) LevelCount(side Side) int {
	return b.tree(side).Size()
}

// OrderCount reports resident orders across both sides.
func (b *Book) OrderCount() int {
	return len(b.orders)
}

// Resident reports whether id is currently in the book.
func (b *Book) Resident(id uint64) bool {
	_, ok := b.orders[id]
	return ok
}

func (b *Book) volumeTopN(side Side, levels int) int64 {
	var vol int64
	b.walkTopN(side, levels, func(lvl *PriceLevel) {
		vol += lvl.TotalQty
	})
	return vol
}

func (b *Book) walkTopN(side Side, levels int, fn func(*PriceLevel)) {
	if levels <= 0 {
		return
	}
	n := 0
	visit := func(lvl *PriceLevel) bool {
		fn(lvl)
		n++
		return n < levels
	}
	if side == Bid {
		b.bids.ForEachDescending(visit)
	} else {
		b.asks.ForEachAscending(visit)
	}
}

/******************** depth publication ********************/

func (b *Book) refreshDepthIfChanged(prev BBO) {
	if b.bbo() == prev {
		return
	}
	b.publishDepth()
}

func (b *Book) publishDepth() {
	d := &MarketDepth{
		Seq:       b.seq.Add(1),
		Timestamp: time.Now().UnixNano(),
		Bids:      make([]DepthLevel, 0, b.cfg.DepthLevels),
		Asks:      make([]DepthLevel, 0, b.cfg.DepthLevels),
	}
	b.walkTopN(Bid, b.cfg.DepthLevels, func(lvl *PriceLevel) {
		d.Bids = append(d.Bids, DepthLevel{Price: lvl.Price, Qty: lvl.TotalQty, Orders: lvl.OrderCount})
	})
	b.walkTopN(Ask, b.cfg.DepthLevels, func(lvl *PriceLevel) {
		d.Asks = append(d.Asks, DepthLevel{Price: lvl.Price, Qty: lvl.TotalQty, Orders: lvl.OrderCount})
	})
	b.depth.Store(d)
}

func (b *Book) addSideTotal(side Side, delta int64) {
	if side == Bid {
		b.bidTotal += delta
	} else {
		b.askTotal += delta
	}
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
