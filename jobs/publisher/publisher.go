package publisher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"tradecore/infra/outbox"
)

// Publisher drains the outbox to Kafka. At-least-once: events are
// marked SENT before the produce and ACKED after the broker confirms,
// so a crash between the two replays the event on restart.
type Publisher struct {
	box      *outbox.Outbox
	producer sarama.SyncProducer
	topic    string
	interval time.Duration
	log      *zap.Logger
}

func New(box *outbox.Outbox, brokers []string, topic string, interval time.Duration, log *zap.Logger) (*Publisher, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{
		box:      box,
		producer: producer,
		topic:    topic,
		interval: interval,
		log:      log.Named("publisher"),
	}, nil
}

// Run drains pending events on a fixed cadence until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.drainOnce()
		}
	}
}

func (p *Publisher) drainOnce() {
	err := p.box.ScanPending(func(ev outbox.Event) error {
		if err := p.box.MarkSent(ev.Seq); err != nil {
			return nil
		}

		body, err := json.Marshal(ev)
		if err != nil {
			_ = p.box.MarkFailed(ev.Seq)
			return nil
		}
		msg := &sarama.ProducerMessage{
			Topic: p.topic,
			Key:   sarama.StringEncoder(ev.EventID),
			Value: sarama.ByteEncoder(body),
		}
		if _, _, err := p.producer.SendMessage(msg); err != nil {
			// Left in SENT: the next pass retries it.
			p.log.Warn("publish failed",
				zap.Uint64("seq", ev.Seq), zap.Error(err))
			return nil
		}

		return p.box.MarkAcked(ev.Seq)
	})
	if err != nil {
		p.log.Warn("outbox scan failed", zap.Error(err))
	}
}

func (p *Publisher) Close() error {
	return p.producer.Close()
}
