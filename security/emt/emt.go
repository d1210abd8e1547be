// Package emt implements the Entity Match Table: the registry of
// (source, destination) GUID pairs for which a crypto relationship has
// been, or is being, established. It is the join point between the
// participant-level state (security/pss) and the endpoint-level state
// (security/ser): both register and look up entries here keyed by
// guid.Pair, ordered lexicographically per rtps/guid's canonical key
// order.
//
// Concurrency follows §5's lock-ordering discipline: the table lock
// guards map structure (insert/remove), taken and released quickly;
// each entry then has its own lock guarding its mutable fields, taken
// only after the table lock that found it has already been released.
package emt

import (
	"sort"
	"sync"

	"github.com/sage-x-project/ddsec/internal/metrics"
	"github.com/sage-x-project/ddsec/rtps/guid"
	"github.com/sage-x-project/ddsec/security/handle"
	"github.com/sage-x-project/ddsec/security/plugin"
)

// Entry is one entity-match record: the crypto handles each side has
// registered for the match, plus any crypto tokens that arrived before
// the local endpoint finished registering and so are queued for
// application once it does.
type Entry struct {
	Pair guid.Pair

	mu            sync.Mutex
	localCrypto   handle.Handle
	remoteCrypto  handle.Handle
	pendingTokens []plugin.Token
}

// SetLocalCrypto records the local endpoint's crypto handle for this match.
func (e *Entry) SetLocalCrypto(h handle.Handle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.localCrypto = h
}

// SetRemoteCrypto records the matched remote (proxy) crypto handle.
func (e *Entry) SetRemoteCrypto(h handle.Handle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.remoteCrypto = h
}

// Handles returns the (local, remote) crypto handle pair currently
// recorded, either of which may be handle.Nil if not yet registered.
func (e *Entry) Handles() (local, remote handle.Handle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.localCrypto, e.remoteCrypto
}

// QueueToken appends a crypto token to the pending sequence, for the
// case where a remote's crypto tokens arrive over discovery before the
// matching local endpoint has finished RegisterLocal{Datawriter,Datareader}.
// Ownership of the slice transfers to the entry; callers must not retain
// or mutate tok after calling this.
func (e *Entry) QueueToken(tok plugin.Token) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pendingTokens = append(e.pendingTokens, tok)
	metrics.EMTTokensQueued.Inc()
}

// DrainTokens returns every queued token and clears the queue, so the
// caller (SER, once the local endpoint is ready) applies each exactly
// once. Ownership of the returned slice transfers to the caller.
func (e *Entry) DrainTokens() []plugin.Token {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.pendingTokens
	e.pendingTokens = nil
	return out
}

// Table is the Entity Match Table.
type Table struct {
	mu      sync.Mutex
	entries map[guid.Pair]*Entry
}

// New returns an empty table.
func New() *Table {
	return &Table{entries: make(map[guid.Pair]*Entry)}
}

// FindOrCreate returns the entry for pair, creating it if absent.
// created reports whether this call created it.
func (t *Table) FindOrCreate(pair guid.Pair) (entry *Entry, created bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[pair]; ok {
		return e, false
	}
	e := &Entry{Pair: pair}
	t.entries[pair] = e
	metrics.EMTEntriesCreated.Inc()
	metrics.EMTEntriesActive.Set(float64(len(t.entries)))
	return e, true
}

// Find returns the entry for pair, if any.
func (t *Table) Find(pair guid.Pair) (*Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[pair]
	return e, ok
}

// Remove deletes and returns the entry for pair, if any, so the caller
// can unregister whatever crypto handles it held.
func (t *Table) Remove(pair guid.Pair) (*Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[pair]
	if ok {
		delete(t.entries, pair)
		metrics.EMTEntriesActive.Set(float64(len(t.entries)))
	}
	return e, ok
}

// DestroyAll removes and returns every entry, ordered by guid.Pair, so a
// participant teardown can unregister every crypto handle in a
// deterministic order instead of iterating map order.
func (t *Table) DestroyAll() []*Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e)
	}
	for k := range t.entries {
		delete(t.entries, k)
	}
	metrics.EMTEntriesActive.Set(0)
	sort.Slice(out, func(i, j int) bool { return out[i].Pair.Compare(out[j].Pair) < 0 })
	return out
}

// Len reports the number of entries currently tracked.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
