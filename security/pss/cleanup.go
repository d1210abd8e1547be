package pss

import (
	"sync"
	"sync/atomic"

	"github.com/sage-x-project/ddsec/security/handle"
)

// CleanupRecord is the deferred-garbage record for a participant crypto
// handle: created alongside the participant, it lets any in-flight encode
// already using the handle (tracked via Acquire/Release) register itself
// before deregistration ever runs, so a quarantine armed while a use is
// in flight waits for that use's Release instead of tearing the handle
// down underneath it.
type CleanupRecord struct {
	Handle handle.Handle

	inflight int32
	mu       sync.Mutex
	armed    bool
	fired    bool
	onDrain  func(handle.Handle)
}

func newCleanupRecord(h handle.Handle) *CleanupRecord {
	return &CleanupRecord{Handle: h}
}

// Acquire marks one more in-flight use of the handle. Safe to call before
// the record is ever armed; it just holds the eventual drain off until
// Release balances it out.
func (c *CleanupRecord) Acquire() {
	atomic.AddInt32(&c.inflight, 1)
}

// Release marks one in-flight use complete. If the record is armed and
// this was the last use, the drain callback fires synchronously on this
// goroutine.
func (c *CleanupRecord) Release() {
	if atomic.AddInt32(&c.inflight, -1) != 0 {
		return
	}
	c.fireIfArmed()
}

// Arm schedules onDrain to run once every acquired use has been
// released. If nothing is in flight right now, it runs immediately.
func (c *CleanupRecord) Arm(onDrain func(handle.Handle)) {
	c.mu.Lock()
	c.armed = true
	c.onDrain = onDrain
	c.mu.Unlock()
	c.fireIfArmed()
}

// fireIfArmed runs onDrain exactly once, the first time it observes the
// record armed with nothing in flight. Re-checking inflight under the
// lock guards the window between Release's atomic decrement and this
// call, and between Arm setting the record armed and this call.
func (c *CleanupRecord) fireIfArmed() {
	c.mu.Lock()
	if !c.armed || c.fired || atomic.LoadInt32(&c.inflight) != 0 {
		c.mu.Unlock()
		return
	}
	c.fired = true
	cb := c.onDrain
	c.mu.Unlock()
	cb(c.Handle)
}

// cleanupSet is the per-State registry of CleanupRecords, guarding §5's
// leaf-level garbage lock.
type cleanupSet struct {
	mu      sync.Mutex
	records map[handle.Handle]*CleanupRecord
}

func newCleanupSet() *cleanupSet {
	return &cleanupSet{records: make(map[handle.Handle]*CleanupRecord)}
}

// register adds rec to the set, indexed by its handle. Called when a
// participant is created, so an encode/decode path has a record to
// Acquire against long before any deregistration happens.
func (s *cleanupSet) register(rec *CleanupRecord) {
	s.mu.Lock()
	s.records[rec.Handle] = rec
	s.mu.Unlock()
}

// quarantine arms rec for deferred cleanup, wrapping onDrain so the
// record is removed from the set the moment it fires.
func (s *cleanupSet) quarantine(rec *CleanupRecord, onDrain func(handle.Handle)) {
	rec.Arm(func(hh handle.Handle) {
		s.mu.Lock()
		delete(s.records, hh)
		s.mu.Unlock()
		onDrain(hh)
	})
}

// recordFor returns the in-flight tracker for h, if any is registered.
// State.AcquireParticipantCryptoUse uses it so that callers outside pss
// that only hold a bare handle (not a *Local) can Acquire/Release around
// a use that might race a concurrent deregistration.
func (s *cleanupSet) recordFor(h handle.Handle) (*CleanupRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[h]
	return r, ok
}
