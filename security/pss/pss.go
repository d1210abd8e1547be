package pss

import (
	"sort"
	"sync"

	"github.com/sage-x-project/ddsec/internal/metrics"
	"github.com/sage-x-project/ddsec/rtps/guid"
	"github.com/sage-x-project/ddsec/security/emt"
	"github.com/sage-x-project/ddsec/security/errs"
	"github.com/sage-x-project/ddsec/security/handle"
	"github.com/sage-x-project/ddsec/security/plugin"
)

// State is the Participant Security State manager. It owns the local and
// proxy record sets, the Entity Match Table they hand tokens through,
// and the cleanup-record registry participant deregistration quarantines
// handles in.
//
// Lock ordering: acquiring a specific Local's or Proxy's lock is always
// done after State.mu, which only guards the top-level locals/proxies
// maps (creation/lookup/removal), never field mutation — matching §5's
// "per-local, per-proxy, table, per-endpoint, garbage" ordering with
// State.mu folded into whichever level is being looked up.
type State struct {
	caps *plugin.Capabilities
	emt  *emt.Table

	mu      sync.RWMutex
	locals  map[guid.GUID]*Local
	proxies map[guid.GUID]*Proxy

	cleanup *cleanupSet
}

// New returns a PSS bound to caps (the loaded plugin set) and table (the
// shared Entity Match Table SER also uses).
func New(caps *plugin.Capabilities, table *emt.Table) *State {
	return &State{
		caps:    caps,
		emt:     table,
		locals:  make(map[guid.GUID]*Local),
		proxies: make(map[guid.GUID]*Proxy),
		cleanup: newCleanupSet(),
	}
}

// CreateParticipantConfig is the per-call input to CheckCreateParticipant:
// the candidate GUID prefix and the file paths the plugins consume.
type CreateParticipantConfig struct {
	CandidatePrefix  guid.Prefix
	DomainID         uint32
	IdentityCertPath string
	PrivateKeyPath   string
	PermissionsPath  string
	GovernancePath   string
}

// CheckCreateParticipant runs the six-step §4.3 admission sequence,
// rolling back every handle obtained so far (in reverse acquisition
// order) if any step after the first fails.
func (s *State) CheckCreateParticipant(cfg CreateParticipantConfig) (*Local, error) {
	local, err := s.checkCreateParticipant(cfg)
	if err != nil {
		metrics.PSSParticipantsCreated.WithLabelValues("rejected").Inc()
		return nil, err
	}
	metrics.PSSParticipantsCreated.WithLabelValues("accepted").Inc()
	metrics.PSSLocalParticipants.Inc()
	return local, nil
}

func (s *State) checkCreateParticipant(cfg CreateParticipantConfig) (*Local, error) {
	if !s.caps.Ready() {
		return nil, errs.NotConfigured
	}
	auth, access, crypto := s.caps.Auth(), s.caps.Access(), s.caps.CryptoPlugin()

	// Each acquired handle's release closure is pushed as it's obtained,
	// so rollback runs them in reverse acquisition order without having
	// to guess which plugin a bare handle value belongs to.
	var releasers []func()
	rollback := func() {
		for i := len(releasers) - 1; i >= 0; i-- {
			releasers[i]()
		}
	}

	// 1. Validate local identity; plugin may adjust the GUID prefix.
	identityHandle, adjustedPrefix, err := auth.ValidateLocalIdentity(cfg.CandidatePrefix, cfg.IdentityCertPath, cfg.PrivateKeyPath)
	if err != nil {
		return nil, errs.New(errs.KindIdentityRejected, "validate local identity", err)
	}
	releasers = append(releasers, func() { _ = auth.ReturnIdentityHandle(identityHandle) })
	localGUID := guid.ParticipantGUID(adjustedPrefix)

	// 2. Obtain identity token (attached to the discovery record by the
	// caller, outside PSS's scope; PSS just requires the call to succeed).
	if _, err := auth.GetIdentityToken(identityHandle); err != nil {
		rollback()
		return nil, errs.New(errs.KindIdentityRejected, "get identity token", err)
	}

	// 3. Validate local permissions; obtain permissions and credential tokens.
	permissionsHandle, err := access.ValidateLocalPermissions(identityHandle, cfg.DomainID, cfg.PermissionsPath, cfg.GovernancePath)
	if err != nil {
		rollback()
		return nil, errs.New(errs.KindPermissionsRejected, "validate local permissions", err)
	}
	releasers = append(releasers, func() { _ = access.ReturnPermissionsHandle(permissionsHandle) })

	permToken, err := access.GetPermissionsToken(permissionsHandle)
	if err != nil {
		rollback()
		return nil, errs.New(errs.KindPermissionsRejected, "get permissions token", err)
	}
	credToken, err := access.GetPermissionsCredentialToken(permissionsHandle)
	if err != nil {
		rollback()
		return nil, errs.New(errs.KindPermissionsRejected, "get permissions credential token", err)
	}

	// 4. Install credential/permissions on the authentication context.
	if err := auth.SetPermissionsCredentialAndToken(identityHandle, credToken, permToken); err != nil {
		rollback()
		return nil, errs.New(errs.KindPermissionsRejected, "install permissions on authentication context", err)
	}

	// 5. Fetch participant security attributes.
	attrs, err := access.GetParticipantSecAttributes(permissionsHandle)
	if err != nil {
		rollback()
		return nil, errs.New(errs.KindPermissionsRejected, "get participant security attributes", err)
	}

	// 6. Register the participant with the crypto key factory.
	participantCryptoHandle, err := crypto.RegisterLocalParticipant(identityHandle, permissionsHandle, attrs)
	if err != nil {
		rollback()
		return nil, errs.New(errs.KindCryptoRegistrationFailed, "register local participant", err)
	}

	local := newLocal(localGUID)
	local.IdentityHandle = identityHandle
	local.PermissionsHandle = permissionsHandle
	local.ParticipantCryptoHandle = participantCryptoHandle
	local.Attrs = attrs
	local.cleanup.Handle = participantCryptoHandle
	s.cleanup.register(local.cleanup)

	s.mu.Lock()
	s.locals[localGUID] = local
	s.mu.Unlock()

	return local, nil
}

// proxyFor returns the Proxy record for remote, creating it on first
// discovery as §3's lifecycle requires.
func (s *State) proxyFor(remote guid.GUID) *Proxy {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.proxies[remote]
	if !ok {
		p = newProxy(remote)
		s.proxies[remote] = p
		metrics.PSSRemoteParticipants.Set(float64(len(s.proxies)))
	}
	return p
}

// RegisterRemoteParticipant runs the five-step (a-e) §4.3 admission for a
// remote participant that has completed a handshake with local.
// handshakeHandle identifies the completed handshake exchange (used to
// recover the peer's credential token); sharedSecretHandle is the secret
// handle GetSharedSecret derived from it.
func (s *State) RegisterRemoteParticipant(local *Local, remote guid.GUID, remoteIdentityHandle, handshakeHandle, sharedSecretHandle handle.Handle) error {
	if !s.caps.Ready() {
		return errs.NotConfigured
	}
	auth, access, crypto := s.caps.Auth(), s.caps.Access(), s.caps.CryptoPlugin()

	// (a) validate remote permissions, passing the peer credential token
	// authentication obtained during the handshake.
	credToken, err := auth.GetAuthenticatedPeerCredentialToken(handshakeHandle)
	if err != nil && local.Attrs.Security&plugin.AttrIsDiscoveryProtected != 0 {
		return errs.New(errs.KindPermissionsRejected, "get authenticated peer credential token", err)
	}
	// The remote's permissions token and credential token both come from
	// the same authenticated-peer-credential call in this plugin
	// vocabulary; a richer Authentication plugin could expose them
	// separately, but none in this pack does.
	remotePermissionsHandle, err := access.ValidateRemotePermissions(local.IdentityHandle, remoteIdentityHandle, credToken, credToken)
	if err != nil {
		if local.Attrs.Security&plugin.AttrIsDiscoveryProtected == 0 {
			// Not access-protected: a plugin failure here is a warning,
			// not fatal — proceed without a permissions handle.
			remotePermissionsHandle = handle.Nil
		} else {
			return errs.New(errs.KindPermissionsRejected, "validate remote permissions", err)
		}
	}

	// (b) optionally check the remote participant data, only when the
	// local participant's own discovery is access-protected.
	if local.Attrs.Security&plugin.AttrIsDiscoveryProtected != 0 && remotePermissionsHandle != handle.Nil {
		ok, err := access.CheckRemoteParticipant(remotePermissionsHandle, 0)
		if err != nil {
			return errs.New(errs.KindPermissionsRejected, "check remote participant", err)
		}
		if !ok {
			return errs.PermissionsRejected
		}
	}

	// (c) register the matched remote with the crypto key factory.
	remoteParticipantCryptoHandle, err := crypto.RegisterMatchedRemoteParticipant(local.ParticipantCryptoHandle, remoteIdentityHandle, remotePermissionsHandle, sharedSecretHandle)
	if err != nil {
		return errs.New(errs.KindCryptoRegistrationFailed, "register matched remote participant", err)
	}

	// (d) create the ParticipantMatch and mirrored ProxyBack. Lock order
	// here follows §5's stated level ordering (local before proxy),
	// rather than the narrative order in which the two records are
	// introduced — see DESIGN.md for this reading of the spec.
	proxy := s.proxyFor(remote)
	local.setProxyBack(remote, remoteParticipantCryptoHandle)
	proxy.setMatch(local.ParticipantCryptoHandle, &Match{
		RemoteIdentityHandle:          remoteIdentityHandle,
		RemoteParticipantCryptoHandle: remoteParticipantCryptoHandle,
		RemotePermissionsHandle:       remotePermissionsHandle,
		SharedSecretHandle:            sharedSecretHandle,
	})

	// (e) install any crypto tokens that arrived before this match existed.
	pair := guid.Pair{Src: remote, Dst: local.GUID}
	if entry, ok := s.emt.Find(pair); ok {
		tokens := entry.DrainTokens()
		if len(tokens) > 0 {
			if err := crypto.SetRemoteParticipantCryptoTokens(local.ParticipantCryptoHandle, remoteParticipantCryptoHandle, tokens); err != nil {
				return errs.New(errs.KindTokenApplyFailed, "install pending participant crypto tokens", err)
			}
		}
		entry.SetLocalCrypto(local.ParticipantCryptoHandle)
		entry.SetRemoteCrypto(remoteParticipantCryptoHandle)
	}

	return nil
}

// SetParticipantCryptoTokens implements `set_participant_crypto_tokens`:
// tokens arrive keyed by (src=remote, dst=local). If the match doesn't
// exist yet they're stashed in the EMT entry for RegisterRemoteParticipant
// to pick up later; otherwise they're installed immediately.
func (s *State) SetParticipantCryptoTokens(local *Local, remote guid.GUID, tokens []plugin.Token) error {
	metrics.PSSCryptoTokensSet.Inc()
	pair := guid.Pair{Src: remote, Dst: local.GUID}
	entry, _ := s.emt.FindOrCreate(pair)

	proxy := s.proxyFor(remote)
	match, ok := proxy.match(local.ParticipantCryptoHandle)
	if !ok {
		for _, t := range tokens {
			entry.QueueToken(t)
		}
		return nil
	}

	crypto := s.caps.CryptoPlugin()
	if crypto == nil {
		return errs.NotConfigured
	}
	if err := crypto.SetRemoteParticipantCryptoTokens(local.ParticipantCryptoHandle, match.RemoteParticipantCryptoHandle, tokens); err != nil {
		return errs.New(errs.KindTokenApplyFailed, "install participant crypto tokens", err)
	}
	entry.SetLocalCrypto(local.ParticipantCryptoHandle)
	entry.SetRemoteCrypto(match.RemoteParticipantCryptoHandle)
	return nil
}

// DeregisterParticipant arms local's CleanupRecord (registered back when
// the participant was created) with the teardown callback: unlink every
// matched proxy symmetrically, remove the corresponding EMT entries,
// then return every handle to its plugin. If nothing is in flight right
// now the teardown runs before this call returns; otherwise it waits for
// every AcquireCryptoUse caller still in flight to release first (§8
// scenario 4).
func (s *State) DeregisterParticipant(local *Local) {
	metrics.PSSParticipantsDeregistered.Inc()
	metrics.PSSLocalParticipants.Dec()
	s.cleanup.quarantine(local.cleanup, func(handle.Handle) {
		s.teardownParticipant(local)
	})
}

func (s *State) teardownParticipant(local *Local) {
	auth, access, crypto := s.caps.Auth(), s.caps.Access(), s.caps.CryptoPlugin()

	for remoteGUID, remoteCrypto := range local.ProxyBackSnapshot() {
		proxy := s.proxyFor(remoteGUID)
		if match, ok := proxy.match(local.ParticipantCryptoHandle); ok {
			proxy.deleteMatch(local.ParticipantCryptoHandle)
			if auth != nil && match.RemoteIdentityHandle != handle.Nil {
				_ = auth.ReturnIdentityHandle(match.RemoteIdentityHandle)
			}
			if access != nil && match.RemotePermissionsHandle != handle.Nil {
				_ = access.ReturnPermissionsHandle(match.RemotePermissionsHandle)
			}
			if auth != nil && match.SharedSecretHandle != handle.Nil {
				_ = auth.ReturnSharedSecretHandle(match.SharedSecretHandle)
			}
		}
		local.deleteProxyBack(remoteGUID)

		if crypto != nil && remoteCrypto != handle.Nil {
			_ = crypto.UnregisterParticipant(remoteCrypto)
		}
		s.emt.Remove(guid.Pair{Src: local.GUID, Dst: remoteGUID})
		s.emt.Remove(guid.Pair{Src: remoteGUID, Dst: local.GUID})
	}

	if crypto != nil {
		_ = crypto.UnregisterParticipant(local.ParticipantCryptoHandle)
	}
	if access != nil && local.PermissionsHandle != handle.Nil {
		_ = access.ReturnPermissionsHandle(local.PermissionsHandle)
	}
	if auth != nil && local.IdentityHandle != handle.Nil {
		_ = auth.ReturnIdentityHandle(local.IdentityHandle)
	}

	s.mu.Lock()
	delete(s.locals, local.GUID)
	s.mu.Unlock()
}

// IsSimilarParticipantSecurityInfo implements `is_similar_participant_security_info`:
// true iff the two attribute sets are compatible; when compatible and the
// remote's validity bit is clear, remote is mutated in place to adopt
// local's values (the documented workaround for peers that omit the
// field entirely).
func IsSimilarParticipantSecurityInfo(local plugin.SecurityAttributes, remote *plugin.SecurityAttributes) bool {
	if !local.Compatible(*remote) {
		return false
	}
	if remote.Security&plugin.AttrValid == 0 {
		*remote = local
	}
	return true
}

// Local looks up the local participant record for g.
func (s *State) Local(g guid.GUID) (*Local, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.locals[g]
	return l, ok
}

// Proxy looks up the proxy (remote) participant record for g, if one has
// been created by discovery or remote registration.
func (s *State) Proxy(g guid.GUID) (*Proxy, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.proxies[g]
	return p, ok
}

// AllLocals returns a snapshot of every tracked local participant, taken
// under the state read lock. STP's multi-candidate RTPS-message decode
// uses this to find every local participant a given remote might
// address, since one remote can match several locals.
func (s *State) AllLocals() []*Local {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Local, 0, len(s.locals))
	for _, l := range s.locals {
		out = append(out, l)
	}
	return out
}

// AllRemoteParticipants returns a snapshot of every tracked proxy
// participant, taken under the state read lock (DQ-3): callers get a
// point-in-time copy rather than a view requiring the lock held open.
func (s *State) AllRemoteParticipants() []*Proxy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Proxy, 0, len(s.proxies))
	for _, p := range s.proxies {
		out = append(out, p)
	}
	return out
}

// AcquireParticipantCryptoUse marks one in-flight use of a participant
// crypto handle for a caller that only has the bare handle, not a
// *Local (STP's submessage decode path, which learns the local's
// participant crypto handle from the inbound prefix rather than being
// handed a *Local). ok is false if no participant is currently
// registered under h, in which case release is a no-op: there is
// nothing left to race a deregistration against.
func (s *State) AcquireParticipantCryptoUse(h handle.Handle) (release func(), ok bool) {
	rec, ok := s.cleanup.recordFor(h)
	if !ok {
		return func() {}, false
	}
	rec.Acquire()
	return rec.Release, true
}

// RemoteParticipantCryptoHandles enumerates the participant crypto handle
// of every remote participant local has completed a handshake with,
// sorted by remote GUID for a stable iterate-on-index receiver order.
// This is STP's "implicitly, all known remote participants" destination
// enumeration for EncodeRTPSMessage, captured under the same read-lock
// snapshot AllRemoteParticipants uses.
func (s *State) RemoteParticipantCryptoHandles(local *Local) []handle.Handle {
	proxies := s.AllRemoteParticipants()
	sort.Slice(proxies, func(i, j int) bool { return proxies[i].GUID.Compare(proxies[j].GUID) < 0 })
	out := make([]handle.Handle, 0, len(proxies))
	for _, p := range proxies {
		if m, ok := p.Match(local.ParticipantCryptoHandle); ok {
			out = append(out, m.RemoteParticipantCryptoHandle)
		}
	}
	return out
}
