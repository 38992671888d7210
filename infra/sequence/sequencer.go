package sequence

import "sync/atomic"

// Sequencer generates strictly monotonic ids. Each OrderLifecycleManager
// owns one instance; nothing in the engine reaches for a process global,
// so parallel managers (and tests) never collide.
type Sequencer struct {
	next atomic.Uint64
}

// New creates a sequencer that will hand out ids greater than start.
func New(start uint64) *Sequencer {
	s := &Sequencer{}
	s.next.Store(start)
	return s
}

// Next returns the next id.
func (s *Sequencer) Next() uint64 {
	return s.next.Add(1)
}

// Current returns the last issued id.
func (s *Sequencer) Current() uint64 {
	return s.next.Load()
}
