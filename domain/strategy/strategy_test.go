package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/domain/book"
	"tradecore/domain/impact"
)

func feedTrades(m *Momentum, sym uint32, prices []int64) {
	at := time.Unix(1_700_000_000, 0)
	for _, p := range prices {
		m.OnMarketData(impact.MarketUpdate{
			Symbol: sym, Kind: impact.Trade, Timestamp: at,
			Price: p, Size: 10, Side: book.Bid,
		})
		at = at.Add(time.Second)
	}
}

func TestMomentumQuietUntilSeeded(t *testing.T) {
	m := NewMomentum(1, 100)

	_, ok := m.GenerateSignal(7)
	assert.False(t, ok, "no data, no signal")

	// Flat tape: the EMAs track each other, edge stays under MinEdge.
	prices := make([]int64, 50)
	for i := range prices {
		prices[i] = 10_000
	}
	feedTrades(m, 7, prices)
	_, ok = m.GenerateSignal(7)
	assert.False(t, ok, "flat tape stays quiet")
}

func TestMomentumSignalsOnTrend(t *testing.T) {
	m := NewMomentum(3, 100)

	prices := make([]int64, 60)
	for i := range prices {
		prices[i] = 10_000 + int64(i)*10
	}
	feedTrades(m, 7, prices)

	sig, ok := m.GenerateSignal(7)
	require.True(t, ok)
	assert.Positive(t, sig.Strength)
	assert.Equal(t, book.Bid, sig.Side())
	assert.Equal(t, int64(100), sig.Quantity)
	assert.Equal(t, prices[len(prices)-1], sig.PriceTicks)
	assert.Equal(t, uint32(3), sig.StrategyID)
	assert.InDelta(t, sig.Urgency, sig.Strength, 1e-12)

	// Symbols are independent.
	_, ok = m.GenerateSignal(8)
	assert.False(t, ok)
}

func TestMomentumSignalsShortOnDowntrend(t *testing.T) {
	m := NewMomentum(3, 50)

	prices := make([]int64, 60)
	for i := range prices {
		prices[i] = 10_000 - int64(i)*10
	}
	feedTrades(m, 2, prices)

	sig, ok := m.GenerateSignal(2)
	require.True(t, ok)
	assert.Negative(t, sig.Strength)
	assert.Equal(t, book.Ask, sig.Side())
	assert.GreaterOrEqual(t, sig.Strength, -1.0, "strength is clamped")
}

func TestMomentumIgnoresQuotes(t *testing.T) {
	m := NewMomentum(1, 100)
	m.OnMarketData(impact.MarketUpdate{
		Symbol: 5, Kind: impact.Quote,
		BidPrice: 9_999, AskPrice: 10_001,
	})
	_, ok := m.GenerateSignal(5)
	assert.False(t, ok)
}
