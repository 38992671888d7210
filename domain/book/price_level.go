package book

// PriceLevel is a FIFO queue of resident orders sharing one price.
// TotalQty always equals the sum of Remaining over the queue; the level
// is deleted from its tree the moment OrderCount reaches zero.
type PriceLevel struct {
	Price int64

	head *Order
	tail *Order

	TotalQty   int64
	OrderCount int
}

func (p *PriceLevel) enqueue(o *Order) {
	if p.head == nil {
		p.head = o
		p.tail = o
	} else {
		p.tail.next = o
		o.prev = p.tail
		p.tail = o
	}
	o.level = p
	p.TotalQty += o.Remaining()
	p.OrderCount++
}

func (p *PriceLevel) unlink(o *Order) {
	if o.prev != nil {
		o.prev.next = o.next
	} else {
		p.head = o.next
	}
	if o.next != nil {
		o.next.prev = o.prev
	} else {
		p.tail = o.prev
	}
	o.next = nil
	o.prev = nil
	o.level = nil

	p.TotalQty -= o.Remaining()
	p.OrderCount--
	if p.TotalQty < 0 {
		p.TotalQty = 0
	}
}

// reduce shrinks the aggregate after an in-place quantity decrease or a
// partial fill of a resident order.
func (p *PriceLevel) reduce(delta int64) {
	p.TotalQty -= delta
	if p.TotalQty < 0 {
		p.TotalQty = 0
	}
}

// Head returns the oldest resident order (time priority front).
func (p *PriceLevel) Head() *Order {
	return p.head
}

func (p *PriceLevel) empty() bool {
	return p.head == nil
}
