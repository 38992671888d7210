package outbox

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"

	"tradecore/domain/lifecycle"
)

// State tracks an event through the outbox:
// NEW -> SENT -> ACKED. FAILED marks events the publisher gave up on.
type State uint8

const (
	StateNew State = iota
	StateSent
	StateAcked
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateSent:
		return "SENT"
	case StateAcked:
		return "ACKED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Event is one persisted order-state change plus its outbox envelope.
type Event struct {
	Seq     uint64
	State   State
	Retries uint32
	EventID string
	Record  lifecycle.OrderStateRecord
}

// Outbox is the durable persistence collaborator: the lifecycle manager
// writes order-state records here fire-and-forget, and the publisher
// drains them to downstream consumers. The core never waits on either.
type Outbox struct {
	db  *pebble.DB
	seq atomic.Uint64
}

func Open(dir string) (*Outbox, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	o := &Outbox{db: db}

	// Resume the event sequence past anything already on disk.
	iter, err := db.NewIter(nil)
	if err != nil {
		db.Close()
		return nil, err
	}
	if iter.Last() {
		o.seq.Store(seqFromKey(iter.Key()))
	}
	if err := iter.Close(); err != nil {
		db.Close()
		return nil, err
	}
	return o, nil
}

func (o *Outbox) Close() error {
	return o.db.Close()
}

// PutState implements lifecycle.Persister. Each call appends one NEW
// event; durability is pebble's WAL, not the caller's problem.
func (o *Outbox) PutState(rec lifecycle.OrderStateRecord) error {
	seq := o.seq.Add(1)
	ev := Event{
		Seq:     seq,
		State:   StateNew,
		EventID: uuid.NewString(),
		Record:  rec,
	}
	val, err := encode(ev)
	if err != nil {
		return err
	}
	return o.db.Set(keyFor(seq), val, pebble.NoSync)
}

// ScanPending visits every event still awaiting publication (NEW or
// SENT), in sequence order. ACKED and FAILED are terminal and skipped;
// a failed event stays on disk for inspection but never re-enters the
// drain.
func (o *Outbox) ScanPending(visit func(ev Event) error) error {
	iter, err := o.db.NewIter(nil)
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		ev, err := decode(seqFromKey(iter.Key()), iter.Value())
		if err != nil {
			continue // skip corrupt entries rather than wedging the drain
		}
		if ev.State == StateAcked || ev.State == StateFailed {
			continue
		}
		if err := visit(ev); err != nil {
			return err
		}
	}
	return iter.Error()
}

// MarkSent moves an event to SENT before publication; re-marking is
// idempotent so a crashed publisher can replay.
func (o *Outbox) MarkSent(seq uint64) error {
	return o.transition(seq, StateSent)
}

// MarkAcked finalizes an event after the downstream broker accepted it.
func (o *Outbox) MarkAcked(seq uint64) error {
	return o.transition(seq, StateAcked)
}

// MarkFailed records a permanently failed publish attempt.
func (o *Outbox) MarkFailed(seq uint64) error {
	return o.transition(seq, StateFailed)
}

// PruneAcked deletes finalized events older than the retention cutoff.
func (o *Outbox) PruneAcked(before time.Time) (int, error) {
	iter, err := o.db.NewIter(nil)
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	n := 0
	for iter.First(); iter.Valid(); iter.Next() {
		ev, err := decode(seqFromKey(iter.Key()), iter.Value())
		if err != nil {
			continue
		}
		if ev.State == StateAcked && ev.Record.UpdatedAt.Before(before) {
			if err := o.db.Delete(keyFor(ev.Seq), pebble.NoSync); err != nil {
				return n, err
			}
			n++
		}
	}
	return n, iter.Error()
}

func (o *Outbox) transition(seq uint64, to State) error {
	key := keyFor(seq)
	val, closer, err := o.db.Get(key)
	if err != nil {
		return err
	}
	ev, err := decode(seq, val)
	closer.Close()
	if err != nil {
		return err
	}
	ev.State = to
	if to == StateSent {
		ev.Retries++
	}
	out, err := encode(ev)
	if err != nil {
		return err
	}
	return o.db.Set(key, out, pebble.NoSync)
}

/******************** encoding ********************/

// value layout: [state:1][retries:4] + JSON(EventID, Record)
type payload struct {
	EventID string                     `json:"event_id"`
	Record  lifecycle.OrderStateRecord `json:"record"`
}

func encode(ev Event) ([]byte, error) {
	body, err := json.Marshal(payload{EventID: ev.EventID, Record: ev.Record})
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 5+len(body))
	buf[0] = byte(ev.State)
	binary.BigEndian.PutUint32(buf[1:5], ev.Retries)
	copy(buf[5:], body)
	return buf, nil
}

func decode(seq uint64, b []byte) (Event, error) {
	if len(b) < 5 {
		return Event{}, errors.New("outbox: short value")
	}
	var p payload
	if err := json.Unmarshal(b[5:], &p); err != nil {
		return Event{}, err
	}
	return Event{
		Seq:     seq,
		State:   State(b[0]),
		Retries: binary.BigEndian.Uint32(b[1:5]),
		EventID: p.EventID,
		Record:  p.Record,
	}, nil
}

func keyFor(seq uint64) []byte {
	key := make([]byte, 12)
	copy(key, "evt/")
	binary.BigEndian.PutUint64(key[4:], seq)
	return key
}

func seqFromKey(key []byte) uint64 {
	if len(key) != 12 {
		return 0
	}
	return binary.BigEndian.Uint64(key[4:])
}
