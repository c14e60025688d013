package snapshot

import "sync/atomic"

// Published is the single slot holding the current Snapshot.
//
// Publish is called only from the watch engine's control loop. Current may be
// called from any number of goroutines; it never blocks and always returns a
// whole Snapshot, either the one before a concurrent Publish or the one after.
type Published struct {
	current atomic.Pointer[Snapshot]
}

// NewPublished returns a slot already holding initial.
func NewPublished(initial *Snapshot) *Published {
	p := &Published{}
	p.current.Store(initial)
	return p
}

// Current returns the most recently published snapshot, or nil before the
// first Publish. Callers must treat the result as read-only.
func (p *Published) Current() *Snapshot {
	return p.current.Load()
}

// Publish swaps s in as the current snapshot.
func (p *Published) Publish(s *Snapshot) {
	p.current.Store(s)
}
