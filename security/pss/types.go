// Package pss implements the Participant Security State: per-local
// participant identity/permissions/crypto bookkeeping and the
// cross-referenced ParticipantMatch/ProxyBack record sets that track
// which remote participants a local one has completed a handshake with.
package pss

import (
	"sync"

	"github.com/sage-x-project/ddsec/rtps/guid"
	"github.com/sage-x-project/ddsec/security/handle"
	"github.com/sage-x-project/ddsec/security/plugin"
)

// Local is the per-local-participant security record. ProxyBack maps a
// matched remote's GUID to its participant crypto handle; it is the
// "per-local" lock of §5's ordering (level 1), acquired before any
// Proxy's lock (level 2).
type Local struct {
	GUID guid.GUID

	IdentityHandle          handle.Handle
	PermissionsHandle       handle.Handle
	ParticipantCryptoHandle handle.Handle
	Attrs                   plugin.SecurityAttributes

	mu        sync.RWMutex
	proxyBack map[guid.GUID]handle.Handle

	cleanup *CleanupRecord
}

func newLocal(g guid.GUID) *Local {
	return &Local{
		GUID:      g,
		proxyBack: make(map[guid.GUID]handle.Handle),
		cleanup:   newCleanupRecord(handle.Nil),
	}
}

// AcquireCryptoUse marks one in-flight use of the participant crypto
// handle, delaying a concurrent DeregisterParticipant's teardown until
// the returned release runs (§8 scenario 4: a send racing a
// deregistration must still complete against a live handle). Safe to
// call even after teardown has already fired; release is then a no-op
// beyond decrementing a counter nothing is waiting on anymore.
func (l *Local) AcquireCryptoUse() (release func()) {
	l.cleanup.Acquire()
	return l.cleanup.Release
}

func (l *Local) setProxyBack(remote guid.GUID, remoteCrypto handle.Handle) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.proxyBack[remote] = remoteCrypto
}

func (l *Local) deleteProxyBack(remote guid.GUID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.proxyBack, remote)
}

// ProxyBackSnapshot returns a copy of the remote-GUID -> remote-crypto-handle
// map, taken under the local lock, for deregistration's teardown walk.
func (l *Local) ProxyBackSnapshot() map[guid.GUID]handle.Handle {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[guid.GUID]handle.Handle, len(l.proxyBack))
	for k, v := range l.proxyBack {
		out[k] = v
	}
	return out
}

// Match is a ParticipantMatch record: what a remote (proxy) participant
// knows about one local participant it has matched with.
type Match struct {
	RemoteIdentityHandle          handle.Handle
	RemoteParticipantCryptoHandle handle.Handle
	RemotePermissionsHandle       handle.Handle
	SharedSecretHandle            handle.Handle
}

// Proxy is the per-remote-participant security record: the set of locals
// it has matched with, kept in a map keyed by the local's participant
// crypto handle, so the set has no defined order. Its lock is §5's level-2 lock, always acquired after the
// relevant Local's lock.
type Proxy struct {
	GUID guid.GUID

	mu      sync.RWMutex
	matches map[handle.Handle]*Match
}

func newProxy(g guid.GUID) *Proxy {
	return &Proxy{GUID: g, matches: make(map[handle.Handle]*Match)}
}

// Authenticated reports whether at least one ParticipantMatch exists,
// which §3 defines as the remote's authenticated state.
func (p *Proxy) Authenticated() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.matches) > 0
}

func (p *Proxy) setMatch(localCrypto handle.Handle, m *Match) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.matches[localCrypto] = m
}

func (p *Proxy) deleteMatch(localCrypto handle.Handle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.matches, localCrypto)
}

func (p *Proxy) match(localCrypto handle.Handle) (*Match, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	m, ok := p.matches[localCrypto]
	return m, ok
}

// Match is the exported counterpart of match, for packages outside pss
// (security/ser) that need the ParticipantMatch record for a local
// participant this proxy has authenticated against.
func (p *Proxy) Match(localCrypto handle.Handle) (*Match, bool) {
	return p.match(localCrypto)
}
