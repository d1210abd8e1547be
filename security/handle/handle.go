// Package handle implements the opaque plugin handle value used throughout
// the security core. A Handle is issued by one of the three injected
// plugins (authentication, access control, crypto) and must be returned to
// its origin exactly once before the record holding it is released.
package handle

import "fmt"

// Handle is an opaque 64-bit identifier issued by a plugin. The zero value
// is reserved and means "nil" everywhere it appears.
type Handle int64

// Nil is the reserved empty handle.
const Nil Handle = 0

// IsNil reports whether h is the nil handle.
func (h Handle) IsNil() bool {
	return h == Nil
}

func (h Handle) String() string {
	if h.IsNil() {
		return "<nil-handle>"
	}
	return fmt.Sprintf("0x%x", int64(h))
}

// Set is a small owned collection of handles pending release, used by
// rollback paths (participant-creation failure) and by deregistration
// sweeps that must return every handle exactly once. It is not
// synchronized: callers own the set for the duration of a single
// operation under a component lock.
type Set struct {
	items []Handle
}

// Add records h for later release, ignoring the nil handle.
func (s *Set) Add(h Handle) {
	if h.IsNil() {
		return
	}
	s.items = append(s.items, h)
}

// Drain returns the recorded handles in reverse acquisition order (the
// order §4.3 requires for participant-creation rollback) and empties the set.
func (s *Set) Drain() []Handle {
	out := make([]Handle, len(s.items))
	for i, h := range s.items {
		out[len(s.items)-1-i] = h
	}
	s.items = nil
	return out
}

// Len reports how many handles are currently tracked.
func (s *Set) Len() int {
	return len(s.items)
}
