package impact

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/domain/book"
	"tradecore/domain/lifecycle"
)

func quote(sym uint32, at time.Time, bid, ask int64) MarketUpdate {
	return MarketUpdate{
		Symbol: sym, Kind: Quote, Timestamp: at,
		BidPrice: bid, AskPrice: ask, BidSize: 100, AskSize: 100,
	}
}

func trade(sym uint32, at time.Time, price, size int64, side book.Side) MarketUpdate {
	return MarketUpdate{
		Symbol: sym, Kind: Trade, Timestamp: at,
		Price: price, Size: size, Side: side,
	}
}

func TestEngineMicrostructure(t *testing.T) {
	e := NewEngine(Config{}, nil)
	base := time.Unix(1_700_000_000, 0)

	_, ok := e.Microstructure(1)
	assert.False(t, ok, "unknown symbol has no snapshot")

	e.OnMarketUpdate(quote(1, base, 9_998, 10_002))
	e.OnMarketUpdate(trade(1, base.Add(time.Second), 10_000, 50, book.Bid))
	e.OnMarketUpdate(trade(1, base.Add(2*time.Second), 10_004, 30, book.Bid))

	m, ok := e.Microstructure(1)
	require.True(t, ok)
	assert.InDelta(t, 10_000, m.MidPrice, 1e-9)
	assert.InDelta(t, 4, m.Spread, 1e-9)
	assert.Equal(t, int64(80), m.Volume1m)
	assert.Equal(t, int64(80), m.Volume15m)
}

func TestEngineLambdaFromTrades(t *testing.T) {
	e := NewEngine(Config{}, nil)
	base := time.Unix(1_700_000_000, 0)

	assert.Zero(t, e.Lambda(1))

	// Construct trades whose price change is exactly 2x signed volume.
	price := int64(10_000)
	at := base
	e.OnMarketUpdate(trade(1, at, price, 10, book.Bid))
	for i := 1; i <= 100; i++ {
		size := int64(i%13 + 1)
		side := book.Bid
		delta := 2 * size
		if i%2 == 0 {
			side = book.Ask
			delta = -delta
		}
		price += delta
		at = at.Add(time.Second)
		e.OnMarketUpdate(trade(1, at, price, size, side))
	}
	assert.InDelta(t, 2.0, e.Lambda(1), 1e-9)
}

func TestEngineRecordExecutionAndSlippageMean(t *testing.T) {
	e := NewEngine(Config{}, nil)

	e.RecordExecution(lifecycle.ExecutionRecord{Symbol: 3, SlippageBps: 4, Quantity: 10})
	e.RecordExecution(lifecycle.ExecutionRecord{Symbol: 3, SlippageBps: 8, Quantity: 10})
	assert.InDelta(t, 6.0, e.AvgSlippage(3), 1e-9)
	assert.Zero(t, e.AvgSlippage(4))
}

func TestEnginePredictImpactClamp(t *testing.T) {
	e := NewEngine(Config{}, nil)
	base := time.Unix(1_700_000_000, 0)

	// Unknown symbol: neutral 0.
	assert.Zero(t, e.PredictImpact(9, 1000, book.Bid, true))

	e.OnMarketUpdate(quote(9, base, 9_999, 10_001))
	// High vol, tiny book: the square-root leg alone would explode, so
	// the clamp at 5x spread must bind.
	price := int64(10_000)
	for i := 0; i < 60; i++ {
		price += int64((i%5 - 2) * 40)
		e.OnMarketUpdate(trade(9, base.Add(time.Duration(i)*time.Second), price, 1, book.Bid))
	}

	pred := e.PredictImpact(9, 1e9, book.Bid, true)
	m, _ := e.Microstructure(9)
	ceiling := m.Spread / m.MidPrice * 10_000 * 5
	assert.LessOrEqual(t, pred, ceiling+1e-9)
	assert.GreaterOrEqual(t, pred, 0.0)
}

func TestEngineCalibrateAndTrajectory(t *testing.T) {
	e := NewEngine(Config{RiskAversion: 1e-5}, nil)
	base := time.Unix(1_700_000_000, 0)

	// Uncalibrated: uniform fallback.
	schedule := e.OptimalTrajectory(5, 1000, 100*time.Second, 4)
	require.Len(t, schedule, 4)
	for _, s := range schedule {
		assert.InDelta(t, 250.0, s, 1e-12)
	}

	price := int64(10_000)
	for i := 0; i < 120; i++ {
		if i%2 == 0 {
			price += 25
		} else {
			price -= 15
		}
		e.RecordExecution(lifecycle.ExecutionRecord{
			Symbol:         5,
			Side:           book.Bid,
			Quantity:       int64(100 + i),
			BenchmarkPrice: price,
			SlippageBps:    0.02 * float64(100+i) / 30,
			Aggressive:     true,
			TimeToComplete: 30 * time.Second,
			CompletedAt:    base.Add(time.Duration(i) * time.Minute),
		})
	}
	e.CalibrateSymbol(5)

	schedule = e.OptimalTrajectory(5, 1000, 100*time.Second, 4)
	var sum float64
	for _, s := range schedule {
		sum += s
	}
	assert.InDelta(t, 1000, sum, 1e-9)

	cost := e.ExpectedCost(5, 1000, 0)
	assert.Positive(t, cost.TotalBps)
}

func TestEngineExpectedCostUnknownSymbol(t *testing.T) {
	e := NewEngine(Config{}, nil)
	assert.Zero(t, e.ExpectedCost(42, 1000, time.Minute).TotalBps)
}
