package impact

import (
	"math"
	"time"

	"tradecore/domain/book"
)

// UpdateKind discriminates parsed market events. Wire decoding happens
// upstream; the core only ever sees these.
type UpdateKind int

const (
	Trade UpdateKind = iota
	Quote
)

// MarketUpdate is one parsed trade or quote event for a symbol.
type MarketUpdate struct {
	Symbol    uint32
	Kind      UpdateKind
	Timestamp time.Time
	Price     int64 // trade price, ticks
	Size      int64
	Side      book.Side // aggressor side for trades
	BidPrice  int64     // quotes
	AskPrice  int64
	BidSize   int64
	AskSize   int64
}

// Microstructure is the per-symbol rolling aggregate snapshot read by
// the cost models. Only the update path writes it.
type Microstructure struct {
	MidPrice        float64 // ticks
	Spread          float64 // ticks
	EffectiveSpread float64 // ticks, from trade prints vs mid
	Volume1m        int64
	Volume5m        int64
	Volume15m       int64
	RealizedVol     float64 // stdev of per-trade log returns
	ImpactPer1k     float64 // bps moved per 1k shares
	ImpactPer10k    float64
	Lambda          float64
	Imbalance       float64
	TrendStrength   float64 // [-1,1], signed fraction of up-ticks
	LastUpdate      time.Time
}

type tradeObs struct {
	at    time.Time
	price int64
	size  int64
	side  book.Side
}

// microState accumulates per-symbol market updates. It is owned by the
// engine's write path; reads go through a copied Microstructure value.
type microState struct {
	snap Microstructure

	trades    []tradeObs // 15m rolling, oldest first
	lastPrice int64
	returns   []float64 // bounded log returns for realized vol
	upTicks   int
	downTicks int
}

const (
	returnWindow = 256
	trendWindow  = 64
)

func (m *microState) applyQuote(u MarketUpdate) {
	if u.BidPrice > 0 && u.AskPrice > u.BidPrice {
		m.snap.MidPrice = float64(u.BidPrice+u.AskPrice) / 2
		m.snap.Spread = float64(u.AskPrice - u.BidPrice)
	}
	if u.BidSize+u.AskSize > 0 {
		m.snap.Imbalance = float64(u.BidSize-u.AskSize) / float64(u.BidSize+u.AskSize+1)
	}
	m.snap.LastUpdate = u.Timestamp
}

func (m *microState) applyTrade(u MarketUpdate, k *kyleEstimator) {
	if u.Price <= 0 || u.Size <= 0 {
		return
	}
	m.trades = append(m.trades, tradeObs{at: u.Timestamp, price: u.Price, size: u.Size, side: u.Side})
	m.evictBefore(u.Timestamp.Add(-15 * time.Minute))

	if m.lastPrice > 0 {
		change := float64(u.Price - m.lastPrice)
		signed := float64(u.Size)
		if u.Side == book.Ask {
			signed = -signed
		}
		k.observe(signed, change)

		if r := math.Log(float64(u.Price) / float64(m.lastPrice)); !math.IsNaN(r) && !math.IsInf(r, 0) {
			if len(m.returns) == returnWindow {
				copy(m.returns, m.returns[1:])
				m.returns = m.returns[:returnWindow-1]
			}
			m.returns = append(m.returns, r)
		}
		switch {
		case u.Price > m.lastPrice:
			m.upTicks++
		case u.Price < m.lastPrice:
			m.downTicks++
		}
		if m.upTicks+m.downTicks > trendWindow {
			// Decay rather than reset so trend strength stays smooth.
			m.upTicks /= 2
			m.downTicks /= 2
		}
	}
	m.lastPrice = u.Price

	if m.snap.MidPrice > 0 {
		eff := 2 * math.Abs(float64(u.Price)-m.snap.MidPrice)
		// EMA keeps the effective spread stable across odd prints.
		if m.snap.EffectiveSpread == 0 {
			m.snap.EffectiveSpread = eff
		} else {
			m.snap.EffectiveSpread = (15*m.snap.EffectiveSpread + eff) / 16
		}
	}

	m.refreshAggregates(u.Timestamp, k)
}

func (m *microState) evictBefore(cutoff time.Time) {
	i := 0
	for i < len(m.trades) && m.trades[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		m.trades = append(m.trades[:0], m.trades[i:]...)
	}
}

func (m *microState) refreshAggregates(now time.Time, k *kyleEstimator) {
	var v1, v5, v15 int64
	c1 := now.Add(-time.Minute)
	c5 := now.Add(-5 * time.Minute)
	for _, t := range m.trades {
		v15 += t.size
		if !t.at.Before(c5) {
			v5 += t.size
		}
		if !t.at.Before(c1) {
			v1 += t.size
		}
	}
	m.snap.Volume1m, m.snap.Volume5m, m.snap.Volume15m = v1, v5, v15
	m.snap.RealizedVol = stdev(m.returns)

	lambda := k.lambda(now)
	m.snap.Lambda = lambda
	if m.snap.MidPrice > 0 {
		// lambda is ticks per share; scale to bps per 1k/10k shares.
		m.snap.ImpactPer1k = lambda * 1_000 / m.snap.MidPrice * 10_000
		m.snap.ImpactPer10k = lambda * 10_000 / m.snap.MidPrice * 10_000
	}

	if total := m.upTicks + m.downTicks; total > 0 {
		m.snap.TrendStrength = float64(m.upTicks-m.downTicks) / float64(total)
	} else {
		m.snap.TrendStrength = 0
	}
	m.snap.LastUpdate = now
}

func stdev(xs []float64) float64 {
	n := len(xs)
	if n < 2 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(n)
	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	v := ss / float64(n-1)
	if v <= 0 {
		return 0
	}
	return math.Sqrt(v)
}
