package feed

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"tradecore/domain/book"
	"tradecore/domain/impact"
)

// event is the parsed market-data envelope the upstream feed handler
// publishes. Wire-protocol decoding of the venue feed happens there;
// this consumer only maps envelopes to core MarketUpdates.
type event struct {
	Symbol   uint32 `json:"symbol"`
	Kind     string `json:"kind"` // "trade" | "quote"
	TsNanos  int64  `json:"ts"`
	Price    int64  `json:"price"`
	Size     int64  `json:"size"`
	Side     string `json:"side"` // aggressor, "buy" | "sell"
	BidPrice int64  `json:"bid_price"`
	AskPrice int64  `json:"ask_price"`
	BidSize  int64  `json:"bid_size"`
	AskSize  int64  `json:"ask_size"`
}

// Consumer reads parsed market updates off Kafka and hands them to the
// engine's per-symbol processing loop.
type Consumer struct {
	reader *kafka.Reader
	sink   func(impact.MarketUpdate)
	log    *zap.Logger
}

func NewConsumer(brokers []string, topic, group string, sink func(impact.MarketUpdate), log *zap.Logger) *Consumer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  group,
			MinBytes: 1,
			MaxBytes: 10 << 20,
			MaxWait:  50 * time.Millisecond,
		}),
		sink: sink,
		log:  log.Named("feed"),
	}
}

// Run consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		var ev event
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			c.log.Warn("malformed feed event dropped",
				zap.Int64("offset", msg.Offset), zap.Error(err))
			continue
		}
		c.sink(toUpdate(ev))
	}
}

func toUpdate(ev event) impact.MarketUpdate {
	u := impact.MarketUpdate{
		Symbol:    ev.Symbol,
		Timestamp: time.Unix(0, ev.TsNanos),
		Price:     ev.Price,
		Size:      ev.Size,
		BidPrice:  ev.BidPrice,
		AskPrice:  ev.AskPrice,
		BidSize:   ev.BidSize,
		AskSize:   ev.AskSize,
	}
	if ev.Kind == "quote" {
		u.Kind = impact.Quote
	} else {
		u.Kind = impact.Trade
	}
	if ev.Side == "sell" {
		u.Side = book.Ask
	} else {
		u.Side = book.Bid
	}
	return u
}
