package service

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"tradecore/domain/book"
	"tradecore/domain/impact"
	"tradecore/domain/lifecycle"
	"tradecore/domain/strategy"
)

// Config sizes the service's sharding and the books it creates.
// UrgencyThreshold must match the lifecycle manager's: signals at or
// above it are tagged aggressive for impact prediction.
type Config struct {
	Shards           int
	QueueDepth       int
	UrgencyThreshold float64
	BookConfig       book.Config
}

// Service composes the three core components around the per-symbol
// single-writer model: every symbol hashes to exactly one shard
// goroutine, and that goroutine owns all mutation of the symbol's book.
// Cross-shard callers only touch versioned depth snapshots and the
// impact engine's read path.
type Service struct {
	cfg    Config
	log    *zap.Logger
	mgr    *lifecycle.Manager
	engine *impact.Engine
	strats []strategy.Strategy

	mu    sync.RWMutex
	books map[uint32]*book.Book

	shards []*shard
}

type shard struct {
	updates  chan impact.MarketUpdate
	commands chan func()
}

func New(cfg Config, mgr *lifecycle.Manager, engine *impact.Engine, strats []strategy.Strategy, log *zap.Logger) *Service {
	if cfg.Shards <= 0 {
		cfg.Shards = 4
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 4096
	}
	if cfg.UrgencyThreshold == 0 {
		cfg.UrgencyThreshold = 0.7
	}
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		cfg:    cfg,
		log:    log.Named("service"),
		mgr:    mgr,
		engine: engine,
		strats: strats,
		books:  make(map[uint32]*book.Book),
		shards: make([]*shard, cfg.Shards),
	}
	for i := range s.shards {
		s.shards[i] = &shard{
			updates:  make(chan impact.MarketUpdate, cfg.QueueDepth),
			commands: make(chan func(), cfg.QueueDepth),
		}
	}
	return s
}

// Run starts the shard loops and blocks until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, sh := range s.shards {
		wg.Add(1)
		go func(sh *shard) {
			defer wg.Done()
			s.loop(ctx, sh)
		}(sh)
	}
	wg.Wait()
}

func (s *Service) loop(ctx context.Context, sh *shard) {
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-sh.updates:
			s.process(ctx, u)
		case fn := <-sh.commands:
			fn()
		}
	}
}

func (s *Service) process(ctx context.Context, u impact.MarketUpdate) {
	s.engine.OnMarketUpdate(u)
	for _, st := range s.strats {
		st.OnMarketData(u)
		sig, ok := st.GenerateSignal(u.Symbol)
		if !ok {
			continue
		}
		s.submit(ctx, sig)
	}
}

func (s *Service) submit(ctx context.Context, sig lifecycle.Signal) {
	aggressive := sig.Urgency >= s.cfg.UrgencyThreshold
	sig.PredictedImpactBps = s.engine.PredictImpact(sig.Symbol, float64(sig.Quantity), sig.Side(), aggressive)

	id, err := s.mgr.SubmitOrder(ctx, sig)
	if err != nil {
		s.log.Debug("signal rejected",
			zap.Uint32("symbol", sig.Symbol), zap.Error(err))
		return
	}
	s.log.Info("order submitted",
		zap.Uint64("order_id", id),
		zap.Uint32("symbol", sig.Symbol),
		zap.Int64("qty", sig.Quantity),
		zap.Float64("urgency", sig.Urgency),
		zap.Float64("predicted_impact_bps", sig.PredictedImpactBps))
}

func (s *Service) shardFor(symbol uint32) *shard {
	return s.shards[int(symbol)%len(s.shards)]
}

// OnMarketUpdate hands a parsed event to its symbol's shard. Dropping
// on a full queue is deliberate: stale market data is worse than
// missing market data.
func (s *Service) OnMarketUpdate(u impact.MarketUpdate) {
	select {
	case s.shardFor(u.Symbol).updates <- u:
	default:
		s.log.Warn("shard queue full, update dropped",
			zap.Uint32("symbol", u.Symbol))
	}
}

// WithBook schedules fn on the symbol's owning shard; fn is the only
// place the book may be mutated. The call does not wait for execution.
func (s *Service) WithBook(symbol uint32, fn func(*book.Book)) {
	b := s.book(symbol)
	select {
	case s.shardFor(symbol).commands <- func() { fn(b) }:
	default:
		s.log.Warn("shard queue full, book command dropped",
			zap.Uint32("symbol", symbol))
	}
}

func (s *Service) book(symbol uint32) *book.Book {
	s.mu.RLock()
	b, ok := s.books[symbol]
	s.mu.RUnlock()
	if ok {
		return b
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok = s.books[symbol]; !ok {
		b = book.New(symbol, s.cfg.BookConfig)
		s.books[symbol] = b
	}
	return b
}

/******************** cross-shard read path ********************/

// Depth returns the symbol's current versioned depth snapshot.
func (s *Service) Depth(symbol uint32) *book.MarketDepth {
	return s.book(symbol).Depth()
}

// BestBidOffer returns the symbol's top of book. The book derives it
// from the versioned depth snapshot, so cross-shard callers are safe.
func (s *Service) BestBidOffer(symbol uint32) book.BBO {
	return s.book(symbol).BestBidOffer()
}

// Lifecycle exposes the order lifecycle manager.
func (s *Service) Lifecycle() *lifecycle.Manager {
	return s.mgr
}

// Impact exposes the cost engine's query surface.
func (s *Service) Impact() *impact.Engine {
	return s.engine
}
