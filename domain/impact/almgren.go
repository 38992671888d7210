package impact

import (
	"math"
	"time"

	"tradecore/domain/lifecycle"
)

// acParams are the calibrated Almgren-Chriss coefficients for one
// symbol. Zero-valued params mean "not yet calibrated"; every consumer
// falls back to a neutral answer in that case.
type acParams struct {
	sigma        float64 // annualized volatility of benchmark returns
	eta          float64 // temporary impact coefficient
	epsilon      float64 // permanent impact, fixed ratio of eta
	gamma        float64 // risk aversion, exogenous
	calibratedAt time.Time
}

func (p acParams) calibrated() bool {
	return p.sigma > 0 && p.eta > 0
}

const secondsPerYear = 252 * 6.5 * 3600 // trading seconds

// calibrateAC estimates sigma from benchmark-price returns across the
// record history and eta by regressing aggressive-order slippage
// against realized trade rate. epsilon is pinned to permanentRatio*eta:
// the ratio is a configurable heuristic, not an empirically validated
// constant.
func calibrateAC(records []lifecycle.ExecutionRecord, gamma, permanentRatio float64, now time.Time) acParams {
	p := acParams{gamma: gamma, calibratedAt: now}
	if len(records) < 2 {
		return p
	}

	// sigma: annualized stdev of log returns between consecutive
	// benchmark prices.
	returns := make([]float64, 0, len(records)-1)
	var dtSum float64
	for i := 1; i < len(records); i++ {
		a, b := records[i-1].BenchmarkPrice, records[i].BenchmarkPrice
		if a <= 0 || b <= 0 {
			continue
		}
		r := math.Log(float64(b) / float64(a))
		if math.IsNaN(r) || math.IsInf(r, 0) {
			continue
		}
		returns = append(returns, r)
		dtSum += records[i].CompletedAt.Sub(records[i-1].CompletedAt).Seconds()
	}
	if sd := stdev(returns); sd > 0 && dtSum > 0 {
		avgDt := dtSum / float64(len(returns))
		if avgDt > 0 {
			p.sigma = sd * math.Sqrt(secondsPerYear/avgDt)
		}
	}

	// eta: slope of |slippage| vs trade rate over aggressive records,
	// regression through the origin. Zero denominator leaves eta at 0.
	var sumXY, sumXX float64
	for _, rec := range records {
		if !rec.Aggressive || rec.TimeToComplete <= 0 || rec.Quantity <= 0 {
			continue
		}
		rate := float64(rec.Quantity) / rec.TimeToComplete.Seconds()
		slip := math.Abs(rec.SlippageBps)
		sumXY += rate * slip
		sumXX += rate * rate
	}
	if sumXX != 0 {
		if eta := sumXY / sumXX; eta > 0 {
			p.eta = eta
			p.epsilon = permanentRatio * eta
		}
	}
	return p
}

// trajectory returns per-interval shares for the closed-form
// Almgren-Chriss schedule: the trade rate is proportional to
// sinh(kappa*(T-t))/sinh(kappa*T) with kappa = sqrt(gamma*sigma^2/eta).
// Without calibration, or as gamma approaches 0, the schedule is
// uniform. The returned shares always sum to totalShares.
func (p acParams) trajectory(totalShares float64, horizon time.Duration, intervals int) []float64 {
	if intervals <= 0 || totalShares <= 0 {
		return nil
	}
	out := make([]float64, intervals)

	uniform := func() []float64 {
		per := totalShares / float64(intervals)
		for i := range out {
			out[i] = per
		}
		return out
	}

	if !p.calibrated() || p.gamma <= 0 || horizon <= 0 {
		return uniform()
	}

	T := horizon.Seconds()
	kappa := math.Sqrt(p.gamma * p.sigma * p.sigma / p.eta)
	if kappa*T < 1e-8 || math.IsNaN(kappa) || math.IsInf(kappa, 0) {
		return uniform()
	}

	sinhKT := math.Sinh(kappa * T)
	if sinhKT == 0 || math.IsInf(sinhKT, 0) {
		return uniform()
	}

	// Holdings x(t) = X*sinh(kappa*(T-t))/sinh(kappa*T); shares traded
	// in interval j are x(t_j) - x(t_{j+1}).
	dt := T / float64(intervals)
	prevHolding := totalShares
	var scheduled float64
	for i := 0; i < intervals; i++ {
		t := float64(i+1) * dt
		holding := totalShares * math.Sinh(kappa*(T-t)) / sinhKT
		out[i] = prevHolding - holding
		scheduled += out[i]
		prevHolding = holding
	}
	// Absorb residual float error into the last slice so conservation
	// of size holds exactly.
	out[intervals-1] += totalShares - scheduled
	return out
}

// CostBreakdown itemizes an expected execution cost estimate, all in
// basis points of notional.
type CostBreakdown struct {
	HalfSpreadBps  float64
	TemporaryBps   float64
	PermanentBps   float64
	TimingRiskBps  float64
	OpportunityBps float64
	TotalBps       float64
}

// expectedCost sums the five Almgren-Chriss cost components for trading
// `shares` over `horizon` against the given microstructure snapshot.
// Every division is guarded; missing data degrades a component to 0
// rather than poisoning the total.
func (p acParams) expectedCost(shares float64, horizon time.Duration, micro Microstructure) CostBreakdown {
	var c CostBreakdown
	if shares <= 0 || horizon <= 0 {
		return c
	}
	T := horizon.Seconds()
	mid := micro.MidPrice

	if mid > 0 {
		c.HalfSpreadBps = micro.Spread / 2 / mid * 10_000
	}

	if p.calibrated() {
		// Temporary impact: quadratic in size, inversely related to
		// the time taken.
		c.TemporaryBps = p.eta * shares * (shares / T)
		c.PermanentBps = p.epsilon * shares

		// Timing risk: variance cost of holding the residual, scaled
		// by risk aversion.
		sigmaT := p.sigma * math.Sqrt(T/secondsPerYear)
		c.TimingRiskBps = 0.5 * p.gamma * sigmaT * sigmaT * shares * shares * 10_000
	}

	// Opportunity cost from drift: trending markets penalize waiting.
	c.OpportunityBps = math.Abs(micro.TrendStrength) * micro.RealizedVol * math.Sqrt(T) * 10_000

	for _, v := range []*float64{&c.TemporaryBps, &c.PermanentBps, &c.TimingRiskBps, &c.OpportunityBps} {
		if math.IsNaN(*v) || math.IsInf(*v, 0) {
			*v = 0
		}
	}
	c.TotalBps = c.HalfSpreadBps + c.TemporaryBps + c.PermanentBps + c.TimingRiskBps + c.OpportunityBps
	return c
}
