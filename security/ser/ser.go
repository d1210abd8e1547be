// Package ser implements the Secure Endpoint Registry: per-writer/reader
// security attributes and crypto handle bookkeeping, and the admission
// logic that matches a local endpoint against a discovered remote one
// once the owning participants have completed a handshake (security/pss).
package ser

import (
	"sort"
	"sync"

	"github.com/sage-x-project/ddsec/internal/metrics"
	"github.com/sage-x-project/ddsec/rtps/guid"
	"github.com/sage-x-project/ddsec/security/emt"
	"github.com/sage-x-project/ddsec/security/errs"
	"github.com/sage-x-project/ddsec/security/handle"
	"github.com/sage-x-project/ddsec/security/plugin"
	"github.com/sage-x-project/ddsec/security/pss"
)

func endpointKindLabel(kind plugin.EndpointKind) string {
	if kind == plugin.Writer {
		return "writer"
	}
	return "reader"
}

// Endpoint is the per-writer/reader security record §4.4 describes.
type Endpoint struct {
	GUID       guid.GUID
	Kind       plugin.EndpointKind
	Topic      string
	Partitions []string
	Attrs      plugin.SecurityAttributes

	ParticipantCryptoHandle handle.Handle
	CryptoHandle            handle.Handle // nil if neither payload- nor submessage-protected
	KeyProtected            bool          // forces key-hash inclusion in sample inline-qos

	mu           sync.Mutex
	matchedPeers map[guid.GUID]handle.Handle // remote endpoint GUID -> remote crypto handle
}

func newEndpoint(g guid.GUID, kind plugin.EndpointKind, topic string, partitions []string, participantCrypto handle.Handle, attrs plugin.SecurityAttributes) *Endpoint {
	return &Endpoint{
		GUID:                    g,
		Kind:                    kind,
		Topic:                   topic,
		Partitions:              partitions,
		Attrs:                   attrs,
		ParticipantCryptoHandle: participantCrypto,
		matchedPeers:            make(map[guid.GUID]handle.Handle),
	}
}

func isProtected(attrs plugin.SecurityAttributes) bool {
	return attrs.Security&(plugin.AttrIsPayloadProtected|plugin.AttrIsSubmessageProtected) != 0
}

func (e *Endpoint) setMatch(remote guid.GUID, remoteCrypto handle.Handle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.matchedPeers[remote] = remoteCrypto
}

func (e *Endpoint) matchedPeer(remote guid.GUID) (handle.Handle, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	h, ok := e.matchedPeers[remote]
	return h, ok
}

// peersSnapshot returns a copy of the matched-peer map for deregistration.
func (e *Endpoint) peersSnapshot() map[guid.GUID]handle.Handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[guid.GUID]handle.Handle, len(e.matchedPeers))
	for k, v := range e.matchedPeers {
		out[k] = v
	}
	return out
}

// MatchedCryptoHandles returns the crypto handles of every matched remote
// peer, optionally restricted to those whose GUID prefix equals
// destPrefix, sorted by remote GUID so the iterate-on-index encode
// protocol sees a stable receiver order across calls.
func (e *Endpoint) MatchedCryptoHandles(destPrefix *guid.Prefix) []handle.Handle {
	e.mu.Lock()
	remotes := make([]guid.GUID, 0, len(e.matchedPeers))
	for g := range e.matchedPeers {
		if destPrefix != nil && g.Prefix != *destPrefix {
			continue
		}
		remotes = append(remotes, g)
	}
	sort.Slice(remotes, func(i, j int) bool { return remotes[i].Compare(remotes[j]) < 0 })
	out := make([]handle.Handle, len(remotes))
	for i, g := range remotes {
		out[i] = e.matchedPeers[g]
	}
	e.mu.Unlock()
	return out
}

// RemoteEndpointInfo is what discovery supplies about a candidate remote
// writer or reader: its identity, its owning participant, and its
// advertised security attributes.
type RemoteEndpointInfo struct {
	GUID            guid.GUID
	ParticipantGUID guid.GUID
	Attrs           plugin.SecurityAttributes
}

// MatchOptions carries the per-match exceptions §4.4 step 7 names.
type MatchOptions struct {
	// BuiltinVolatileSecure skips token exchange and marks the pair
	// matched directly, because the builtin volatile-secure endpoint
	// pair derives its key material from the handshake itself.
	BuiltinVolatileSecure bool
}

// Registry is the Secure Endpoint Registry.
type Registry struct {
	caps *plugin.Capabilities
	emt  *emt.Table
	pss  *pss.State

	mu             sync.RWMutex
	endpoints      map[guid.GUID]*Endpoint
	byRemoteCrypto map[handle.Handle]*emt.Entry // security/stp's decode-path index
}

// New returns a Registry sharing table and state with the rest of the
// security core.
func New(caps *plugin.Capabilities, table *emt.Table, state *pss.State) *Registry {
	return &Registry{
		caps:           caps,
		emt:            table,
		pss:            state,
		endpoints:      make(map[guid.GUID]*Endpoint),
		byRemoteCrypto: make(map[handle.Handle]*emt.Entry),
	}
}

// EntryForRemoteCrypto resolves a decoded remote crypto handle (as
// returned by Crypto.PreprocessSecureSubmsg) to the EMT entry holding
// both sides of the match, for security/stp's decode dispatch.
func (r *Registry) EntryForRemoteCrypto(h handle.Handle) (*emt.Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byRemoteCrypto[h]
	return e, ok
}

// RegisterWriter implements `register_writer`.
func (r *Registry) RegisterWriter(local *pss.Local, g guid.GUID, topic string, partitions []string) (*Endpoint, error) {
	return r.register(local, g, plugin.Writer, topic, partitions)
}

// RegisterReader implements `register_reader`.
func (r *Registry) RegisterReader(local *pss.Local, g guid.GUID, topic string, partitions []string) (*Endpoint, error) {
	return r.register(local, g, plugin.Reader, topic, partitions)
}

func (r *Registry) register(local *pss.Local, g guid.GUID, kind plugin.EndpointKind, topic string, partitions []string) (*Endpoint, error) {
	ep, err := r.registerImpl(local, g, kind, topic, partitions)
	if err != nil {
		return nil, err
	}
	kindLabel := endpointKindLabel(kind)
	metrics.SEREndpointsRegistered.WithLabelValues(kindLabel).Inc()
	metrics.SEREndpointsActive.WithLabelValues(kindLabel).Inc()
	return ep, nil
}

func (r *Registry) registerImpl(local *pss.Local, g guid.GUID, kind plugin.EndpointKind, topic string, partitions []string) (*Endpoint, error) {
	if !r.caps.Ready() {
		return nil, errs.NotConfigured
	}
	access, crypto := r.caps.Access(), r.caps.CryptoPlugin()

	attrs, err := access.GetEndpointSecAttributes(local.PermissionsHandle, kind, topic, partitions)
	if err != nil {
		return nil, errs.New(errs.KindPermissionsRejected, "get endpoint security attributes", err)
	}

	ep := newEndpoint(g, kind, topic, partitions, local.ParticipantCryptoHandle, attrs)

	if isProtected(attrs) {
		var cryptoHandle handle.Handle
		var regErr error
		switch kind {
		case plugin.Writer:
			cryptoHandle, regErr = crypto.RegisterLocalDatawriter(local.ParticipantCryptoHandle, attrs)
		case plugin.Reader:
			cryptoHandle, regErr = crypto.RegisterLocalDatareader(local.ParticipantCryptoHandle, attrs)
		}
		if regErr != nil {
			return nil, errs.New(errs.KindCryptoRegistrationFailed, "register local endpoint", regErr)
		}
		ep.CryptoHandle = cryptoHandle
	}
	if attrs.Security&plugin.AttrIsKeyProtected != 0 {
		ep.KeyProtected = true
	}

	r.mu.Lock()
	r.endpoints[g] = ep
	r.mu.Unlock()
	return ep, nil
}

// MatchRemoteWriterEnabled implements `match_remote_writer_enabled`: the
// eight-step admission of a discovered remote writer against a local
// reader. outboundTokens is non-nil exactly when step 8 applies and the
// caller (the discovery/handshake layer) must publish them to the remote
// writer.
func (r *Registry) MatchRemoteWriterEnabled(reader *Endpoint, remoteWriter RemoteEndpointInfo, opts MatchOptions) (matched bool, outboundTokens []plugin.Token, err error) {
	return r.matchRemote(reader, remoteWriter, opts, matchWriterSide)
}

// MatchRemoteReaderEnabled implements `match_remote_reader_enabled`, the
// writer-side symmetric counterpart.
func (r *Registry) MatchRemoteReaderEnabled(writer *Endpoint, remoteReader RemoteEndpointInfo, opts MatchOptions) (matched bool, outboundTokens []plugin.Token, err error) {
	return r.matchRemote(writer, remoteReader, opts, matchReaderSide)
}

type matchSide int

const (
	matchWriterSide matchSide = iota // local is a reader, remote is a writer
	matchReaderSide                  // local is a writer, remote is a reader
)

func (r *Registry) matchRemote(local *Endpoint, remote RemoteEndpointInfo, opts MatchOptions, side matchSide) (bool, []plugin.Token, error) {
	matched, tokens, err := r.matchRemoteImpl(local, remote, opts, side)
	outcome := "rejected"
	if err != nil {
		outcome = "error"
	} else if matched {
		outcome = "matched"
	}
	metrics.SERMatchAttempts.WithLabelValues(endpointKindLabel(local.Kind), outcome).Inc()
	return matched, tokens, err
}

func (r *Registry) matchRemoteImpl(local *Endpoint, remote RemoteEndpointInfo, opts MatchOptions, side matchSide) (bool, []plugin.Token, error) {
	// 1. Unsecured local endpoint accepts unconditionally.
	if !isProtected(local.Attrs) {
		return true, nil, nil
	}

	// 2. Reject incompatible security info.
	if !local.Attrs.Compatible(remote.Attrs) {
		return false, nil, nil
	}

	// 3. Neither side requires payload/submessage protection: accept
	// without any crypto registration (covered by step 1's check on the
	// local side combined with this check on the remote side).
	if !isProtected(remote.Attrs) {
		return true, nil, nil
	}

	// 4. Remote participant must be authenticated if the local endpoint
	// is protected.
	proxy, ok := r.pss.Proxy(remote.ParticipantGUID)
	if !ok || !proxy.Authenticated() {
		return false, nil, nil
	}

	pair := guid.Pair{Src: remote.GUID, Dst: local.GUID}

	// 5. Already matched: nothing more to do.
	if _, ok := local.matchedPeer(remote.GUID); ok {
		return true, nil, nil
	}

	crypto := r.caps.CryptoPlugin()
	match, ok := proxy.Match(local.ParticipantCryptoHandle)
	if !ok {
		return false, nil, errs.New(errs.KindInternal, "remote participant authenticated but no ParticipantMatch for local participant", nil)
	}

	// 6. Register the matched remote endpoint.
	var remoteCryptoHandle handle.Handle
	var regErr error
	if side == matchWriterSide {
		remoteCryptoHandle, regErr = crypto.RegisterMatchedRemoteDatawriter(local.CryptoHandle, match.RemoteParticipantCryptoHandle, match.SharedSecretHandle)
	} else {
		remoteCryptoHandle, regErr = crypto.RegisterMatchedRemoteDatareader(local.CryptoHandle, match.RemoteParticipantCryptoHandle, match.SharedSecretHandle, false)
	}
	if regErr != nil {
		return false, nil, errs.New(errs.KindCryptoRegistrationFailed, "register matched remote endpoint", regErr)
	}
	local.setMatch(remote.GUID, remoteCryptoHandle)

	entry, _ := r.emt.FindOrCreate(pair)
	entry.SetLocalCrypto(local.CryptoHandle)
	entry.SetRemoteCrypto(remoteCryptoHandle)

	r.mu.Lock()
	r.byRemoteCrypto[remoteCryptoHandle] = entry
	r.mu.Unlock()

	// 7. Builtin volatile-secure pair: skip token exchange entirely.
	if opts.BuiltinVolatileSecure {
		return true, nil, nil
	}

	// 7 (continued). Install any tokens that arrived before this match existed.
	if pending := entry.DrainTokens(); len(pending) > 0 {
		if err := r.installTokens(side, local, remoteCryptoHandle, pending); err != nil {
			return false, nil, err
		}
		return true, nil, nil
	}

	// 8. Otherwise, the caller must send this endpoint's local tokens to
	// the remote.
	tokens, err := r.createTokens(side, local, remoteCryptoHandle)
	if err != nil {
		return false, nil, err
	}
	return true, tokens, nil
}

func (r *Registry) installTokens(side matchSide, local *Endpoint, remoteCryptoHandle handle.Handle, tokens []plugin.Token) error {
	crypto := r.caps.CryptoPlugin()
	var err error
	if side == matchWriterSide {
		err = crypto.SetRemoteDatawriterCryptoTokens(local.CryptoHandle, remoteCryptoHandle, tokens)
	} else {
		err = crypto.SetRemoteDatareaderCryptoTokens(local.CryptoHandle, remoteCryptoHandle, tokens)
	}
	if err != nil {
		return errs.New(errs.KindTokenApplyFailed, "install endpoint crypto tokens", err)
	}
	return nil
}

func (r *Registry) createTokens(side matchSide, local *Endpoint, remoteCryptoHandle handle.Handle) ([]plugin.Token, error) {
	crypto := r.caps.CryptoPlugin()
	var tokens []plugin.Token
	var err error
	if side == matchWriterSide {
		tokens, err = crypto.CreateLocalDatareaderCryptoTokens(local.CryptoHandle, remoteCryptoHandle)
	} else {
		tokens, err = crypto.CreateLocalDatawriterCryptoTokens(local.CryptoHandle, remoteCryptoHandle)
	}
	if err != nil {
		return nil, errs.New(errs.KindTokenApplyFailed, "create local endpoint crypto tokens", err)
	}
	return tokens, nil
}

// Deregister unregisters ep's own crypto handle and every per-match
// handle under its EMT entries. A plugin failure to unregister is
// logged by the caller (via the returned error list) and does not abort
// the sweep — §4.4 prefers a partial plugin-side leak over blocking
// entity destruction.
func (r *Registry) Deregister(ep *Endpoint) []error {
	var errsOut []error
	crypto := r.caps.CryptoPlugin()

	for remoteGUID, remoteCrypto := range ep.peersSnapshot() {
		if crypto != nil && !remoteCrypto.IsNil() {
			var unregErr error
			if ep.Kind == plugin.Writer {
				unregErr = crypto.UnregisterDatareader(remoteCrypto)
			} else {
				unregErr = crypto.UnregisterDatawriter(remoteCrypto)
			}
			if unregErr != nil {
				errsOut = append(errsOut, unregErr)
			}
		}
		r.emt.Remove(guid.Pair{Src: ep.GUID, Dst: remoteGUID})
		r.emt.Remove(guid.Pair{Src: remoteGUID, Dst: ep.GUID})

		r.mu.Lock()
		delete(r.byRemoteCrypto, remoteCrypto)
		r.mu.Unlock()
	}

	if crypto != nil && !ep.CryptoHandle.IsNil() {
		var unregErr error
		if ep.Kind == plugin.Writer {
			unregErr = crypto.UnregisterDatawriter(ep.CryptoHandle)
		} else {
			unregErr = crypto.UnregisterDatareader(ep.CryptoHandle)
		}
		if unregErr != nil {
			errsOut = append(errsOut, unregErr)
		}
	}

	r.mu.Lock()
	delete(r.endpoints, ep.GUID)
	r.mu.Unlock()

	metrics.SEREndpointsDeregistered.Inc()
	metrics.SEREndpointsActive.WithLabelValues(endpointKindLabel(ep.Kind)).Dec()
	return errsOut
}

// Endpoint looks up a registered local endpoint by GUID.
func (r *Registry) Endpoint(g guid.GUID) (*Endpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.endpoints[g]
	return e, ok
}
