// Package fakeauth is an in-process Authentication plugin used by the
// bundled demo harness and by package tests that need a real (if
// deployment-grade-insufficient) handshake rather than a mock. It runs a
// one-round-trip ephemeral X25519 exchange; each identity has an ed25519
// key whose public half rides in the identity token, and no message is
// signed. It follows the same "ephemeral DH + HKDF session
// derivation" shape as the teacher's core/handshake package but addressed
// by opaque handles instead of session IDs.
package fakeauth

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/crypto/curve25519"

	"github.com/sage-x-project/ddsec/rtps/guid"
	"github.com/sage-x-project/ddsec/security/errs"
	"github.com/sage-x-project/ddsec/security/handle"
	"github.com/sage-x-project/ddsec/security/plugin"
)

type identityRecord struct {
	prefix    guid.Prefix
	pub       ed25519.PublicKey
	priv      ed25519.PrivateKey
	credToken plugin.Token
	permToken plugin.Token
}

type handshakeRecord struct {
	localIdentity handle.Handle
	selfPriv      [32]byte
	selfPub       [32]byte
	peerCredTok   plugin.Token
	secret        []byte
	done          bool
}

// Plugin implements plugin.Authentication and also exposes Secret, the
// narrow lookup the matching fakecrypto plugin needs to turn a shared
// secret handle into key material without the two plugins otherwise
// sharing any state.
type Plugin struct {
	mu         sync.Mutex
	next       int64
	identities map[handle.Handle]*identityRecord
	handshakes map[handle.Handle]*handshakeRecord
	secrets    map[handle.Handle][]byte
}

// New returns an empty plugin instance.
func New() *Plugin {
	return &Plugin{
		identities: make(map[handle.Handle]*identityRecord),
		handshakes: make(map[handle.Handle]*handshakeRecord),
		secrets:    make(map[handle.Handle][]byte),
	}
}

func (p *Plugin) alloc() handle.Handle {
	return handle.Handle(atomic.AddInt64(&p.next, 1))
}

// ValidateLocalIdentity issues a fresh ed25519 identity for prefix. The
// real PKI-DH plugin this stands in for would instead load
// identityCertPath/privateKeyPath; this test double ignores both and
// manufactures a key so tests need no fixture files on disk.
func (p *Plugin) ValidateLocalIdentity(prefix guid.Prefix, identityCertPath, privateKeyPath string) (handle.Handle, guid.Prefix, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return handle.Nil, prefix, errs.New(errs.KindIdentityRejected, "generate identity key", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	h := p.alloc()
	p.identities[h] = &identityRecord{prefix: prefix, pub: pub, priv: priv}
	return h, prefix, nil
}

func (p *Plugin) GetIdentityToken(localIdentityHandle handle.Handle) (plugin.Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.identities[localIdentityHandle]
	if !ok {
		return plugin.Token{}, errs.New(errs.KindIdentityRejected, "unknown identity handle", nil)
	}
	return plugin.Token{
		Class:            "DDS:Auth:Fake-DH:1.0",
		BinaryProperties: map[string][]byte{"identity.pub": append([]byte(nil), rec.pub...)},
	}, nil
}

func (p *Plugin) SetPermissionsCredentialAndToken(localIdentityHandle handle.Handle, credential, permissions plugin.Token) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.identities[localIdentityHandle]
	if !ok {
		return errs.New(errs.KindIdentityRejected, "unknown identity handle", nil)
	}
	rec.credToken, rec.permToken = credential, permissions
	return nil
}

// BeginHandshakeRequest generates this side's ephemeral X25519 keypair and
// sends its public share. An installed credential token only adds a
// "+cred" suffix to the token class; the credential token is not sent.
func (p *Plugin) BeginHandshakeRequest(localIdentityHandle handle.Handle, remoteIdentityToken plugin.Token) (handle.Handle, plugin.Token, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.identities[localIdentityHandle]
	if !ok {
		return handle.Nil, plugin.Token{}, false, errs.New(errs.KindIdentityRejected, "unknown identity handle", nil)
	}
	if rec.pub == nil || len(remoteIdentityToken.GetBinary("identity.pub")) == 0 {
		return handle.Nil, plugin.Token{}, false, errs.New(errs.KindHandshakeFailed, "remote identity token missing public key", nil)
	}

	var priv, pub [32]byte
	if _, err := rand.Read(priv[:]); err != nil {
		return handle.Nil, plugin.Token{}, false, errs.New(errs.KindHandshakeFailed, "generate ephemeral key", err)
	}
	curve25519.ScalarBaseMult(&pub, &priv)

	h := p.alloc()
	p.handshakes[h] = &handshakeRecord{localIdentity: localIdentityHandle, selfPriv: priv, selfPub: pub}

	out := plugin.Token{
		Class:            "DDS:Auth:Fake-DH:1.0:Request",
		BinaryProperties: map[string][]byte{"dh.pub": append([]byte(nil), pub[:]...)},
	}
	if rec.credToken.Class != "" {
		out.Class += "+cred"
	}
	return h, out, false, nil
}

// BeginHandshakeReply completes the exchange in one step: it generates its
// own ephemeral share, computes the ECDH secret immediately, and is done
// as soon as the reply is produced.
func (p *Plugin) BeginHandshakeReply(localIdentityHandle handle.Handle, inbound plugin.Token) (handle.Handle, plugin.Token, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.identities[localIdentityHandle]; !ok {
		return handle.Nil, plugin.Token{}, false, errs.New(errs.KindIdentityRejected, "unknown identity handle", nil)
	}
	peerPub := inbound.GetBinary("dh.pub")
	if len(peerPub) != 32 {
		return handle.Nil, plugin.Token{}, false, errs.New(errs.KindHandshakeFailed, "malformed request token", nil)
	}

	var priv, pub [32]byte
	if _, err := rand.Read(priv[:]); err != nil {
		return handle.Nil, plugin.Token{}, false, errs.New(errs.KindHandshakeFailed, "generate ephemeral key", err)
	}
	curve25519.ScalarBaseMult(&pub, &priv)

	secret, err := curve25519.X25519(priv[:], peerPub)
	if err != nil {
		return handle.Nil, plugin.Token{}, false, errs.New(errs.KindHandshakeFailed, "compute shared secret", err)
	}

	h := p.alloc()
	p.handshakes[h] = &handshakeRecord{
		localIdentity: localIdentityHandle,
		selfPriv:      priv,
		selfPub:       pub,
		peerCredTok:   inbound,
		secret:        secret,
		done:          true,
	}

	out := plugin.Token{
		Class:            "DDS:Auth:Fake-DH:1.0:Reply",
		BinaryProperties: map[string][]byte{"dh.pub": append([]byte(nil), pub[:]...)},
	}
	return h, out, true, nil
}

// ProcessHandshake is only ever called on the requesting side, with the
// reply token, since BeginHandshakeReply already finished its side.
func (p *Plugin) ProcessHandshake(handshakeHandle handle.Handle, inbound plugin.Token) (*plugin.Token, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.handshakes[handshakeHandle]
	if !ok {
		return nil, false, errs.New(errs.KindHandshakeFailed, "unknown handshake handle", nil)
	}
	if rec.done {
		return nil, true, nil
	}
	peerPub := inbound.GetBinary("dh.pub")
	if len(peerPub) != 32 {
		return nil, false, errs.New(errs.KindHandshakeFailed, "malformed reply token", nil)
	}
	secret, err := curve25519.X25519(rec.selfPriv[:], peerPub)
	if err != nil {
		return nil, false, errs.New(errs.KindHandshakeFailed, "compute shared secret", err)
	}
	rec.secret = secret
	rec.peerCredTok = inbound
	rec.done = true
	return nil, true, nil
}

func (p *Plugin) GetSharedSecret(handshakeHandle handle.Handle) (handle.Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.handshakes[handshakeHandle]
	if !ok || !rec.done {
		return handle.Nil, errs.New(errs.KindHandshakeFailed, "handshake not complete", nil)
	}
	h := p.alloc()
	p.secrets[h] = rec.secret
	return h, nil
}

func (p *Plugin) GetAuthenticatedPeerCredentialToken(handshakeHandle handle.Handle) (plugin.Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.handshakes[handshakeHandle]
	if !ok {
		return plugin.Token{}, errs.New(errs.KindHandshakeFailed, "unknown handshake handle", nil)
	}
	return rec.peerCredTok, nil
}

// Secret is the narrow extension fakecrypto uses to derive session keys
// from a shared-secret handle it did not itself issue.
func (p *Plugin) Secret(h handle.Handle) ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.secrets[h]
	return s, ok
}

func (p *Plugin) ReturnIdentityHandle(h handle.Handle) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.identities, h)
	return nil
}

func (p *Plugin) ReturnHandshakeHandle(h handle.Handle) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.handshakes, h)
	return nil
}

func (p *Plugin) ReturnSharedSecretHandle(h handle.Handle) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.secrets, h)
	return nil
}

var _ plugin.Authentication = (*Plugin)(nil)

func init() {
	// Guard against a change to guid.PrefixSize, which this plugin
	// assumes is 12 bytes.
	if guid.PrefixSize != 12 {
		panic(fmt.Sprintf("fakeauth assumes a 12-byte GUID prefix, got %d", guid.PrefixSize))
	}
}
