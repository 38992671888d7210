package impact

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"tradecore/domain/book"
	"tradecore/domain/lifecycle"
)

func TestTrainWeightsConvergesOnBiasTarget(t *testing.T) {
	// Only the bias feature is set, so the fit reduces to w0 -> target.
	samples := make([]trainingSample, 2000)
	for i := range samples {
		samples[i] = trainingSample{
			features:  [featureCount]float64{0: 1},
			targetBps: 10,
		}
	}

	var start [featureCount]float64
	w, ok := trainWeights(start, samples)
	assert.True(t, ok)
	assert.InDelta(t, 10.0, w[0], 0.05)
}

func TestTrainWeightsKeepsStartOnBadInput(t *testing.T) {
	start := [featureCount]float64{0: 3}

	w, ok := trainWeights(start, nil)
	assert.False(t, ok)
	assert.Equal(t, start, w, "nothing to fit keeps the old weights")

	// A huge feature value overflows the very first SGD update; the
	// diverged fit must be discarded.
	diverging := []trainingSample{
		{features: [featureCount]float64{0: 1e160}, targetBps: 0},
		{features: [featureCount]float64{0: 1e160}, targetBps: 0},
	}
	w, ok = trainWeights(start, diverging)
	assert.False(t, ok)
	assert.Equal(t, start, w)
}

// Recalibration must never block the query path: calibrate in a loop on
// one goroutine while reads proceed on another.
func TestCalibrateConcurrentWithQueries(t *testing.T) {
	e := NewEngine(Config{}, nil)
	base := time.Unix(1_700_000_000, 0)

	price := int64(10_000)
	for i := 0; i < 200; i++ {
		if i%2 == 0 {
			price += 20
		} else {
			price -= 10
		}
		e.RecordExecution(lifecycle.ExecutionRecord{
			Symbol:          1,
			Side:            book.Bid,
			Quantity:        int64(100 + i),
			BenchmarkPrice:  price,
			SlippageBps:     0.02 * float64(100+i) / 30,
			ActualImpactBps: 2,
			Aggressive:      true,
			TimeToComplete:  30 * time.Second,
			CompletedAt:     base.Add(time.Duration(i) * time.Minute),
		})
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 20; i++ {
			e.CalibrateSymbol(1)
		}
	}()

	for calibrating := true; calibrating; {
		select {
		case <-done:
			calibrating = false
		default:
			_ = e.PredictImpact(1, 100, book.Bid, true)
			_ = e.ExpectedCost(1, 100, time.Minute)
			_ = e.Lambda(1)
		}
	}

	cost := e.ExpectedCost(1, 1000, time.Minute)
	assert.Positive(t, cost.TotalBps, "calibration landed")
}
