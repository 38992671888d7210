package impact

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"tradecore/domain/book"
	"tradecore/domain/lifecycle"
)

// Config carries the model knobs. Defaults live in the top-level config
// package; zero values here are filled with safe equivalents.
type Config struct {
	LambdaWindow       int
	LambdaMinSamples   int
	LambdaCacheTTL     time.Duration
	ExecutionRetention int
	RecalibrateEvery   time.Duration
	RetrainMinRecords  int
	DefaultHorizon     time.Duration
	RiskAversion       float64
	PermanentRatio     float64
	EnsembleWeights    [3]float64
	AggressiveFactor   float64
	SpreadClampFactor  float64
}

func (c *Config) fillDefaults() {
	if c.LambdaWindow == 0 {
		c.LambdaWindow = 1000
	}
	if c.LambdaMinSamples == 0 {
		c.LambdaMinSamples = 50
	}
	if c.ExecutionRetention == 0 {
		c.ExecutionRetention = 10_000
	}
	if c.RecalibrateEvery == 0 {
		c.RecalibrateEvery = time.Hour
	}
	if c.RetrainMinRecords == 0 {
		c.RetrainMinRecords = 100
	}
	if c.DefaultHorizon == 0 {
		c.DefaultHorizon = 300 * time.Second
	}
	if c.PermanentRatio == 0 {
		c.PermanentRatio = 0.1
	}
	if c.EnsembleWeights == [3]float64{} {
		c.EnsembleWeights = [3]float64{0.5, 0.3, 0.2}
	}
	if c.AggressiveFactor == 0 {
		c.AggressiveFactor = 1.5
	}
	if c.SpreadClampFactor == 0 {
		c.SpreadClampFactor = 5.0
	}
}

type symbolState struct {
	micro   microState
	kyle    *kyleEstimator
	ac      acParams
	model   *ensembleModel
	records []lifecycle.ExecutionRecord
	samples []trainingSample

	slipMean  float64
	slipCount int

	lastCalibration time.Time
	retraining      atomic.Bool
}

// Engine estimates the cost of trading and recalibrates itself from
// realized executions.
//
// The read path (cost queries, impact predictions, microstructure
// snapshots) takes the read lock only; market updates take the write
// lock briefly; model retraining runs in a rate-limited background
// goroutine so a query is never stuck behind a training pass.
type Engine struct {
	cfg   Config
	log   *zap.Logger
	clock func() time.Time

	mu      sync.RWMutex
	symbols map[uint32]*symbolState
}

func NewEngine(cfg Config, log *zap.Logger) *Engine {
	cfg.fillDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		cfg:     cfg,
		log:     log.Named("impact"),
		clock:   time.Now,
		symbols: make(map[uint32]*symbolState),
	}
}

// SetClock injects a deterministic clock. Tests only.
func (e *Engine) SetClock(now func() time.Time) {
	e.clock = now
}

func (e *Engine) stateLocked(symbol uint32) *symbolState {
	s, ok := e.symbols[symbol]
	if !ok {
		s = &symbolState{
			kyle:  newKyleEstimator(e.cfg.LambdaWindow, e.cfg.LambdaMinSamples, e.cfg.LambdaCacheTTL),
			model: newEnsembleModel(e.cfg.EnsembleWeights, e.cfg.AggressiveFactor, e.cfg.SpreadClampFactor),
			ac:    acParams{gamma: e.cfg.RiskAversion},
		}
		e.symbols[symbol] = s
	}
	return s
}

// OnMarketUpdate folds one parsed trade or quote into the symbol's
// microstructure state.
func (e *Engine) OnMarketUpdate(u MarketUpdate) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.stateLocked(u.Symbol)
	switch u.Kind {
	case Quote:
		s.micro.applyQuote(u)
	case Trade:
		s.micro.applyTrade(u, s.kyle)
	}
}

// RecordExecution appends a completed execution to bounded history,
// updates the running slippage mean, and schedules recalibration when
// the per-symbol rate limit allows it.
func (e *Engine) RecordExecution(rec lifecycle.ExecutionRecord) {
	now := e.clock()

	e.mu.Lock()
	s := e.stateLocked(rec.Symbol)
	if len(s.records) == e.cfg.ExecutionRetention {
		copy(s.records, s.records[1:])
		s.records = s.records[:len(s.records)-1]
		copy(s.samples, s.samples[1:])
		s.samples = s.samples[:len(s.samples)-1]
	}
	s.records = append(s.records, rec)
	s.samples = append(s.samples, sampleFromRecord(rec, s.micro.snap))

	s.slipCount++
	s.slipMean += (rec.SlippageBps - s.slipMean) / float64(s.slipCount)

	due := len(s.records) >= e.cfg.RetrainMinRecords &&
		now.Sub(s.lastCalibration) >= e.cfg.RecalibrateEvery
	var records []lifecycle.ExecutionRecord
	var samples []trainingSample
	if due && s.retraining.CompareAndSwap(false, true) {
		s.lastCalibration = now
		records = append(records, s.records...)
		samples = append(samples, s.samples...)
	}
	e.mu.Unlock()

	if records != nil {
		go e.recalibrate(rec.Symbol, records, samples, now)
	}
}

// CalibrateSymbol runs a calibration pass synchronously. Exposed for
// warm starts and tests; production feedback goes through
// RecordExecution's background path.
func (e *Engine) CalibrateSymbol(symbol uint32) {
	e.mu.Lock()
	s := e.stateLocked(symbol)
	records := append([]lifecycle.ExecutionRecord(nil), s.records...)
	samples := append([]trainingSample(nil), s.samples...)
	e.mu.Unlock()
	e.recalibrate(symbol, records, samples, e.clock())
}

func (e *Engine) recalibrate(symbol uint32, records []lifecycle.ExecutionRecord, samples []trainingSample, now time.Time) {
	// Both fits run off-lock over the copied history; the write lock is
	// held only to install results, so queries never wait on a training
	// pass.
	params := calibrateAC(records, e.cfg.RiskAversion, e.cfg.PermanentRatio, now)

	var start [featureCount]float64
	e.mu.RLock()
	if s, ok := e.symbols[symbol]; ok {
		start = s.model.weights
	}
	e.mu.RUnlock()
	weights, trained := trainWeights(start, samples)

	e.mu.Lock()
	s := e.stateLocked(symbol)
	if params.calibrated() {
		s.ac = params
	}
	if trained {
		s.model.weights = weights
		s.model.trained = true
		s.model.trainedAt = now
	}
	s.retraining.Store(false)
	e.mu.Unlock()

	e.log.Debug("recalibrated",
		zap.Uint32("symbol", symbol),
		zap.Int("records", len(records)),
		zap.Float64("sigma", params.sigma),
		zap.Float64("eta", params.eta))
}

/******************** queries (read path) ********************/

// Lambda returns the current Kyle's-lambda estimate, 0 under
// insufficient data.
func (e *Engine) Lambda(symbol uint32) float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if s, ok := e.symbols[symbol]; ok {
		return s.micro.snap.Lambda
	}
	return 0
}

// Microstructure returns the rolling aggregate snapshot for a symbol.
func (e *Engine) Microstructure(symbol uint32) (Microstructure, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if s, ok := e.symbols[symbol]; ok {
		return s.micro.snap, true
	}
	return Microstructure{}, false
}

// ExpectedCost estimates the all-in cost of trading `shares` over
// `horizon` (the configured default when horizon <= 0).
func (e *Engine) ExpectedCost(symbol uint32, shares float64, horizon time.Duration) CostBreakdown {
	if horizon <= 0 {
		horizon = e.cfg.DefaultHorizon
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.symbols[symbol]
	if !ok {
		return CostBreakdown{}
	}
	return s.ac.expectedCost(shares, horizon, s.micro.snap)
}

// OptimalTrajectory returns per-interval shares for executing
// totalShares over horizon. Uncalibrated symbols get a uniform
// schedule.
func (e *Engine) OptimalTrajectory(symbol uint32, totalShares float64, horizon time.Duration, intervals int) []float64 {
	if horizon <= 0 {
		horizon = e.cfg.DefaultHorizon
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.symbols[symbol]
	if !ok {
		return acParams{}.trajectory(totalShares, horizon, intervals)
	}
	return s.ac.trajectory(totalShares, horizon, intervals)
}

// PredictImpact returns the ensemble impact estimate in bps for a
// prospective order.
func (e *Engine) PredictImpact(symbol uint32, shares float64, side book.Side, aggressive bool) float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.symbols[symbol]
	if !ok {
		return 0
	}
	return s.model.predict(s.micro.snap, shares, side, aggressive, s.micro.snap.Lambda, e.clock())
}

// AvgSlippage is the running mean realized slippage for a symbol.
func (e *Engine) AvgSlippage(symbol uint32) float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if s, ok := e.symbols[symbol]; ok {
		return s.slipMean
	}
	return 0
}
