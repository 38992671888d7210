package strategy

import (
	"math"

	"tradecore/domain/impact"
	"tradecore/domain/lifecycle"
)

// Strategy is the capability interface the core interacts through. The
// engine never knows which concrete variant is behind it; it feeds
// market data in and pulls signals out.
type Strategy interface {
	OnMarketData(u impact.MarketUpdate)
	GenerateSignal(symbol uint32) (lifecycle.Signal, bool)
}

// Momentum is the reference implementation: a short/long EMA crossover
// that sizes with the strength of the divergence.
type Momentum struct {
	ID        uint32
	ShortSpan float64
	LongSpan  float64
	BaseQty   int64
	MinEdge   float64 // minimum |short-long|/long before signaling

	state map[uint32]*momentumState
}

type momentumState struct {
	shortEMA  float64
	longEMA   float64
	lastPrice int64
	seeded    bool
}

func NewMomentum(id uint32, baseQty int64) *Momentum {
	return &Momentum{
		ID:        id,
		ShortSpan: 20,
		LongSpan:  100,
		BaseQty:   baseQty,
		MinEdge:   0.0005,
		state:     make(map[uint32]*momentumState),
	}
}

func (m *Momentum) OnMarketData(u impact.MarketUpdate) {
	if u.Kind != impact.Trade || u.Price <= 0 {
		return
	}
	s, ok := m.state[u.Symbol]
	if !ok {
		s = &momentumState{}
		m.state[u.Symbol] = s
	}
	p := float64(u.Price)
	if !s.seeded {
		s.shortEMA, s.longEMA = p, p
		s.seeded = true
	} else {
		s.shortEMA += (p - s.shortEMA) * 2 / (m.ShortSpan + 1)
		s.longEMA += (p - s.longEMA) * 2 / (m.LongSpan + 1)
	}
	s.lastPrice = u.Price
}

func (m *Momentum) GenerateSignal(symbol uint32) (lifecycle.Signal, bool) {
	s, ok := m.state[symbol]
	if !ok || !s.seeded || s.longEMA == 0 {
		return lifecycle.Signal{}, false
	}
	edge := (s.shortEMA - s.longEMA) / s.longEMA
	if math.Abs(edge) < m.MinEdge {
		return lifecycle.Signal{}, false
	}

	strength := edge / m.MinEdge
	if strength > 1 {
		strength = 1
	} else if strength < -1 {
		strength = -1
	}
	urgency := math.Abs(strength)

	return lifecycle.Signal{
		Symbol:     symbol,
		Strength:   strength,
		Quantity:   m.BaseQty,
		PriceTicks: s.lastPrice,
		Urgency:    urgency,
		StrategyID: m.ID,
	}, true
}
