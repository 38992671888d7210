package impact

import (
	"math"
	"time"

	"tradecore/domain/book"
	"tradecore/domain/lifecycle"
)

const featureCount = 15

// ensembleModel predicts the market impact of a prospective order in
// basis points. It blends three estimators at fixed weights:
//
//	model  - linear model over microstructure/order/time features,
//	         retrained from execution history
//	lambda - Kyle's-lambda implied impact
//	sqrt   - square-root-law baseline
//
// The weights and the aggressive multiplier are carried-over defaults
// with no derivation behind them, which is why they are configuration
// rather than constants.
type ensembleModel struct {
	weights   [featureCount]float64
	trained   bool
	trainedAt time.Time

	blend       [3]float64
	aggressive  float64
	clampSpread float64 // ceiling as a multiple of current spread
}

func newEnsembleModel(blend [3]float64, aggressive, clampSpread float64) *ensembleModel {
	return &ensembleModel{
		blend:       blend,
		aggressive:  aggressive,
		clampSpread: clampSpread,
	}
}

// features builds the model input vector for one prospective order.
func features(m Microstructure, shares float64, side book.Side, aggressive bool, at time.Time) [featureCount]float64 {
	var f [featureCount]float64
	f[0] = 1 // bias
	if m.MidPrice > 0 {
		f[1] = m.Spread / m.MidPrice * 10_000
		f[2] = m.EffectiveSpread / m.MidPrice * 10_000
	}
	f[3] = m.Imbalance
	f[4] = m.TrendStrength
	f[5] = m.RealizedVol * 100
	f[6] = math.Log1p(float64(m.Volume1m))
	f[7] = math.Log1p(float64(m.Volume5m))
	f[8] = math.Log1p(float64(m.Volume15m))
	f[9] = m.ImpactPer1k
	f[10] = math.Log1p(shares)
	if m.Volume5m > 0 {
		f[11] = shares / float64(m.Volume5m)
	}
	if aggressive {
		f[12] = 1
	}
	if side == book.Ask {
		f[13] = -1
	} else {
		f[13] = 1
	}
	secs := float64(at.Hour()*3600 + at.Minute()*60 + at.Second())
	f[14] = math.Sin(2 * math.Pi * secs / 86_400)
	return f
}

// trainWeights refits the linear weights against realized impact with a
// few passes of stochastic gradient descent, starting from the current
// weights. Pure function over its inputs so the caller can run it
// without holding any lock; ok is false when there is nothing to fit or
// the fit diverged, and callers keep the old weights then.
func trainWeights(start [featureCount]float64, samples []trainingSample) (weights [featureCount]float64, ok bool) {
	if len(samples) == 0 {
		return start, false
	}
	const (
		epochs = 5
		lr     = 1e-3
	)
	w := start
	for ep := 0; ep < epochs; ep++ {
		for _, s := range samples {
			var pred float64
			for i := range w {
				pred += w[i] * s.features[i]
			}
			err := pred - s.targetBps
			if math.IsNaN(err) || math.IsInf(err, 0) {
				continue
			}
			for i := range w {
				w[i] -= lr * err * s.features[i]
			}
		}
	}
	for i := range w {
		if math.IsNaN(w[i]) || math.IsInf(w[i], 0) {
			return start, false
		}
	}
	return w, true
}

type trainingSample struct {
	features  [featureCount]float64
	targetBps float64
}

func sampleFromRecord(rec lifecycle.ExecutionRecord, m Microstructure) trainingSample {
	return trainingSample{
		features:  features(m, float64(rec.Quantity), rec.Side, rec.Aggressive, rec.CompletedAt),
		targetBps: math.Abs(rec.ActualImpactBps),
	}
}

// predict returns the blended impact estimate in bps, clamped to
// clampSpread times the current spread to stop runaway extrapolation.
func (e *ensembleModel) predict(m Microstructure, shares float64, side book.Side, aggressive bool, lambda float64, at time.Time) float64 {
	if shares <= 0 {
		return 0
	}

	var modelBps float64
	if e.trained {
		f := features(m, shares, side, aggressive, at)
		for i := range e.weights {
			modelBps += e.weights[i] * f[i]
		}
		if modelBps < 0 {
			modelBps = 0
		}
	}

	var lambdaBps float64
	if m.MidPrice > 0 {
		lambdaBps = math.Abs(lambda) * shares / m.MidPrice * 10_000
	}

	var sqrtBps float64
	if m.Volume15m > 0 {
		sqrtBps = m.RealizedVol * math.Sqrt(shares/float64(m.Volume15m)) * 10_000
	}

	pred := e.blend[0]*modelBps + e.blend[1]*lambdaBps + e.blend[2]*sqrtBps
	if aggressive {
		pred *= e.aggressive
	}

	if m.MidPrice > 0 && m.Spread > 0 {
		ceiling := m.Spread / m.MidPrice * 10_000 * e.clampSpread
		if pred > ceiling {
			pred = ceiling
		}
	}
	if math.IsNaN(pred) || math.IsInf(pred, 0) || pred < 0 {
		return 0
	}
	return pred
}
