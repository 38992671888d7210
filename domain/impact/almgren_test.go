package impact

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/domain/book"
	"tradecore/domain/lifecycle"
)

func calibrated() acParams {
	return acParams{sigma: 0.3, eta: 0.05, epsilon: 0.005, gamma: 1e-4}
}

func TestTrajectoryConservesShares(t *testing.T) {
	for _, tc := range []struct {
		name      string
		params    acParams
		shares    float64
		horizon   time.Duration
		intervals int
	}{
		{"calibrated", calibrated(), 10_000, 5 * time.Minute, 10},
		{"uncalibrated", acParams{}, 10_000, 5 * time.Minute, 10},
		{"one interval", calibrated(), 500, time.Minute, 1},
		{"many intervals", calibrated(), 123_457, time.Hour, 97},
	} {
		t.Run(tc.name, func(t *testing.T) {
			schedule := tc.params.trajectory(tc.shares, tc.horizon, tc.intervals)
			require.Len(t, schedule, tc.intervals)
			var sum float64
			for _, s := range schedule {
				sum += s
			}
			assert.InDelta(t, tc.shares, sum, 1e-9, "conservation of size")
		})
	}
}

func TestTrajectoryFrontLoadsUnderRisk(t *testing.T) {
	p := calibrated()
	p.gamma = 1e-5 // risk averse enough to bend the schedule
	schedule := p.trajectory(10_000, 10*time.Minute, 10)
	require.Len(t, schedule, 10)
	assert.Greater(t, schedule[0], schedule[9],
		"risk aversion trades faster early to shed timing risk")
	for i := 1; i < len(schedule); i++ {
		assert.LessOrEqual(t, schedule[i], schedule[i-1], "monotone decreasing rate")
	}
}

func TestTrajectoryUniformAsGammaVanishes(t *testing.T) {
	p := calibrated()
	p.gamma = 1e-18
	schedule := p.trajectory(1000, 5*time.Minute, 10)
	for _, s := range schedule {
		assert.InDelta(t, 100, s, 1e-3)
	}

	p.gamma = 0
	for _, s := range p.trajectory(1000, 5*time.Minute, 10) {
		assert.InDelta(t, 100.0, s, 1e-12, "gamma=0 is exactly uniform")
	}
}

func TestTrajectoryDegenerateInputs(t *testing.T) {
	p := calibrated()
	assert.Nil(t, p.trajectory(0, time.Minute, 10))
	assert.Nil(t, p.trajectory(100, time.Minute, 0))
	assert.Nil(t, p.trajectory(-5, time.Minute, 10))
}

func TestExpectedCostBreakdown(t *testing.T) {
	p := calibrated()
	micro := Microstructure{
		MidPrice:    10_000,
		Spread:      2,
		RealizedVol: 0.001,
	}

	c := p.expectedCost(1000, 5*time.Minute, micro)
	// Half spread: 1/10000 * 1e4 = 1 bp.
	assert.InDelta(t, 1.0, c.HalfSpreadBps, 1e-9)
	assert.Positive(t, c.TemporaryBps)
	assert.Positive(t, c.PermanentBps)
	assert.Positive(t, c.TimingRiskBps)
	assert.InDelta(t,
		c.HalfSpreadBps+c.TemporaryBps+c.PermanentBps+c.TimingRiskBps+c.OpportunityBps,
		c.TotalBps, 1e-9)

	// Larger size costs more than proportionally (quadratic temporary).
	c2 := p.expectedCost(2000, 5*time.Minute, micro)
	assert.Greater(t, c2.TemporaryBps, 2*c.TemporaryBps)
}

func TestExpectedCostGuards(t *testing.T) {
	var c CostBreakdown

	c = acParams{}.expectedCost(1000, 5*time.Minute, Microstructure{})
	assert.Zero(t, c.TotalBps, "no calibration, no microstructure: zero, never NaN")

	c = calibrated().expectedCost(0, 5*time.Minute, Microstructure{MidPrice: 100})
	assert.Zero(t, c.TotalBps)

	c = calibrated().expectedCost(1000, 0, Microstructure{MidPrice: 100})
	assert.Zero(t, c.TotalBps)

	for _, v := range []float64{c.HalfSpreadBps, c.TemporaryBps, c.PermanentBps, c.TimingRiskBps, c.OpportunityBps, c.TotalBps} {
		assert.False(t, math.IsNaN(v) || math.IsInf(v, 0))
	}
}

func TestCalibrateACFromRecords(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	var records []lifecycle.ExecutionRecord

	price := int64(10_000)
	for i := 0; i < 50; i++ {
		if i%2 == 0 {
			price += 20
		} else {
			price -= 10
		}
		qty := int64(100 + 10*i)
		records = append(records, lifecycle.ExecutionRecord{
			Symbol:         1,
			Side:           book.Bid,
			Quantity:       qty,
			BenchmarkPrice: price,
			SlippageBps:    0.05 * float64(qty) / 30, // linear in trade rate
			Aggressive:     true,
			TimeToComplete: 30 * time.Second,
			CompletedAt:    base.Add(time.Duration(i) * time.Minute),
		})
	}

	p := calibrateAC(records, 1e-4, 0.1, base.Add(time.Hour))
	require.True(t, p.calibrated())
	assert.Positive(t, p.sigma)
	// slippage = 0.05 * (qty/30) = 0.05 * rate => eta = 0.05
	assert.InDelta(t, 0.05, p.eta, 1e-6)
	assert.InDelta(t, 0.005, p.epsilon, 1e-6)
}

func TestCalibrateACInsufficientData(t *testing.T) {
	p := calibrateAC(nil, 1e-4, 0.1, time.Now())
	assert.False(t, p.calibrated())

	// Identical benchmark prices: zero variance, sigma stays 0.
	recs := []lifecycle.ExecutionRecord{
		{BenchmarkPrice: 100, CompletedAt: time.Unix(0, 0)},
		{BenchmarkPrice: 100, CompletedAt: time.Unix(60, 0)},
	}
	p = calibrateAC(recs, 1e-4, 0.1, time.Now())
	assert.Zero(t, p.sigma)
}
