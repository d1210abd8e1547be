// Package fakecrypto is an in-process Crypto plugin pairing with
// fakeauth: it derives ChaCha20-Poly1305 session keys from the ephemeral
// shared secret fakeauth's handshake produces, via the same
// HKDF-over-SHA256 key-separation idiom the teacher's core/session
// package uses for its own AEAD traffic keys. It implements every
// transform/key-factory operation plugin.Crypto declares, simplified
// where the real DDS Security spec allows a conforming implementation
// latitude (see the encode-iteration note below).
package fakecrypto

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/sage-x-project/ddsec/security/errs"
	"github.com/sage-x-project/ddsec/security/handle"
	"github.com/sage-x-project/ddsec/security/plugin"
)

// SecretSource resolves a shared-secret handle (issued by an
// Authentication plugin's GetSharedSecret) to the raw secret bytes.
// fakeauth.Plugin satisfies this by its Secret method.
type SecretSource interface {
	Secret(h handle.Handle) ([]byte, bool)
}

const (
	tagPayload byte = 0 // no header: EncodeSerializedPayload output is nonce||ciphertext
	tagWriter  byte = 'W'
	tagReader  byte = 'R'
	tagMessage byte = 'M'
)

type entry struct {
	aead  cipher.AEAD
	peer  handle.Handle // the matched counterpart crypto handle, for bookkeeping only
	keyed bool
}

// Plugin implements plugin.Crypto.
type Plugin struct {
	mu      sync.Mutex
	next    int64
	secrets SecretSource
	entries map[handle.Handle]*entry
}

// New returns a plugin that resolves shared secrets through secrets.
func New(secrets SecretSource) *Plugin {
	return &Plugin{secrets: secrets, entries: make(map[handle.Handle]*entry)}
}

func (p *Plugin) alloc() handle.Handle {
	return handle.Handle(atomic.AddInt64(&p.next, 1))
}

func deriveKey(secret []byte, info string) ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, secret, nil, []byte(info))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, err
	}
	return key, nil
}

func newAEAD(secret []byte, info string) (cipher.AEAD, error) {
	key, err := deriveKey(secret, info)
	if err != nil {
		return nil, err
	}
	return chacha20poly1305.New(key)
}

func (p *Plugin) put(e *entry) handle.Handle {
	h := p.alloc()
	p.entries[h] = e
	return h
}

func (p *Plugin) RegisterLocalParticipant(localIdentityHandle, localPermissionsHandle handle.Handle, attrs plugin.SecurityAttributes) (handle.Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.put(&entry{}), nil
}

func (p *Plugin) RegisterMatchedRemoteParticipant(localCryptoHandle, remoteIdentityHandle, remotePermissionsHandle, sharedSecretHandle handle.Handle) (handle.Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	secret, ok := p.secrets.Secret(sharedSecretHandle)
	if !ok {
		return handle.Nil, errs.New(errs.KindCryptoRegistrationFailed, "unknown shared secret handle", nil)
	}
	aead, err := newAEAD(secret, "ddsec/participant")
	if err != nil {
		return handle.Nil, errs.New(errs.KindCryptoRegistrationFailed, "derive participant key", err)
	}
	remote := channelHandle(secret, "ddsec/participant")
	if local, ok := p.entries[localCryptoHandle]; ok {
		local.aead, local.keyed, local.peer = aead, true, remote
	}
	p.entries[remote] = &entry{aead: aead, keyed: true, peer: localCryptoHandle}
	return remote, nil
}

// channelHandle derives a handle deterministically from the shared secret
// and a context string, so both sides of a match — each calling Register
// independently from its own GUID's point of view — arrive at the same
// handle value for the channel they just agreed on. A real plugin carries
// this correlation through the key-establishment tokens; this test double
// shortcuts it since both sides already hold the identical secret.
func channelHandle(secret []byte, info string) handle.Handle {
	sum := sha256.Sum256(append(append([]byte{}, secret...), []byte(info)...))
	v := int64(binary.BigEndian.Uint64(sum[:8]) &^ (1 << 63))
	if v == 0 {
		v = 1
	}
	return handle.Handle(v)
}

func (p *Plugin) RegisterLocalDatawriter(participantCryptoHandle handle.Handle, attrs plugin.SecurityAttributes) (handle.Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.put(&entry{peer: participantCryptoHandle}), nil
}

func (p *Plugin) RegisterLocalDatareader(participantCryptoHandle handle.Handle, attrs plugin.SecurityAttributes) (handle.Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.put(&entry{peer: participantCryptoHandle}), nil
}

func (p *Plugin) RegisterMatchedRemoteDatareader(localWriterCryptoHandle, remoteParticipantCryptoHandle, sharedSecretHandle handle.Handle, relayOnly bool) (handle.Handle, error) {
	return p.registerMatchedEndpoint(localWriterCryptoHandle, sharedSecretHandle)
}

func (p *Plugin) RegisterMatchedRemoteDatawriter(localReaderCryptoHandle, remoteParticipantCryptoHandle, sharedSecretHandle handle.Handle) (handle.Handle, error) {
	return p.registerMatchedEndpoint(localReaderCryptoHandle, sharedSecretHandle)
}

// registerMatchedEndpoint keys the local endpoint handle and the new
// remote-proxy handle with the same channel key; writer-side and
// reader-side calls both use info "ddsec/endpoint" so they derive an
// identical key from the shared secret regardless of which end called in.
func (p *Plugin) registerMatchedEndpoint(localHandle, sharedSecretHandle handle.Handle) (handle.Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	secret, ok := p.secrets.Secret(sharedSecretHandle)
	if !ok {
		return handle.Nil, errs.New(errs.KindCryptoRegistrationFailed, "unknown shared secret handle", nil)
	}
	aead, err := newAEAD(secret, "ddsec/endpoint")
	if err != nil {
		return handle.Nil, errs.New(errs.KindCryptoRegistrationFailed, "derive endpoint key", err)
	}
	remote := channelHandle(secret, "ddsec/endpoint")
	if local, ok := p.entries[localHandle]; ok {
		local.aead, local.keyed, local.peer = aead, true, remote
	}
	p.entries[remote] = &entry{aead: aead, keyed: true, peer: localHandle}
	return remote, nil
}

func (p *Plugin) CreateLocalParticipantCryptoTokens(localCryptoHandle, remoteCryptoHandle handle.Handle) ([]plugin.Token, error) {
	return []plugin.Token{{Class: "DDS:Crypto:Fake-AEAD:1.0:participant"}}, nil
}

func (p *Plugin) SetRemoteParticipantCryptoTokens(localCryptoHandle, remoteCryptoHandle handle.Handle, tokens []plugin.Token) error {
	return p.requireKeyed(localCryptoHandle)
}

func (p *Plugin) CreateLocalDatawriterCryptoTokens(localWriterCryptoHandle, remoteReaderCryptoHandle handle.Handle) ([]plugin.Token, error) {
	return []plugin.Token{{Class: "DDS:Crypto:Fake-AEAD:1.0:writer"}}, nil
}

func (p *Plugin) SetRemoteDatawriterCryptoTokens(localReaderCryptoHandle, remoteWriterCryptoHandle handle.Handle, tokens []plugin.Token) error {
	return p.requireKeyed(localReaderCryptoHandle)
}

func (p *Plugin) CreateLocalDatareaderCryptoTokens(localReaderCryptoHandle, remoteWriterCryptoHandle handle.Handle) ([]plugin.Token, error) {
	return []plugin.Token{{Class: "DDS:Crypto:Fake-AEAD:1.0:reader"}}, nil
}

func (p *Plugin) SetRemoteDatareaderCryptoTokens(localWriterCryptoHandle, remoteReaderCryptoHandle handle.Handle, tokens []plugin.Token) error {
	return p.requireKeyed(localWriterCryptoHandle)
}

func (p *Plugin) requireKeyed(h handle.Handle) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[h]
	if !ok || !e.keyed {
		return errs.New(errs.KindTokenApplyFailed, "crypto handle not yet keyed by a matched-remote registration", nil)
	}
	return nil
}

func (p *Plugin) aeadFor(h handle.Handle) (cipher.AEAD, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[h]
	if !ok || !e.keyed {
		return nil, errs.New(errs.KindSubmessageProtectionViolation, "no key for crypto handle", nil)
	}
	return e.aead, nil
}

func seal(aead cipher.AEAD, header []byte, plain []byte) ([]byte, error) {
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(header)+len(nonce)+len(plain)+aead.Overhead())
	out = append(out, header...)
	out = append(out, nonce...)
	out = aead.Seal(out, nonce, plain, header)
	return out, nil
}

func open(aead cipher.AEAD, header []byte, sealed []byte) ([]byte, error) {
	ns := aead.NonceSize()
	if len(sealed) < ns {
		return nil, errs.New(errs.KindSubmessageProtectionViolation, "ciphertext shorter than nonce", nil)
	}
	nonce, ct := sealed[:ns], sealed[ns:]
	plain, err := aead.Open(nil, nonce, ct, header)
	if err != nil {
		return nil, errs.New(errs.KindSubmessageProtectionViolation, "AEAD authentication failed", err)
	}
	return plain, nil
}

func (p *Plugin) EncodeSerializedPayload(writerCryptoHandle handle.Handle, plain []byte) ([]byte, error) {
	aead, err := p.aeadFor(writerCryptoHandle)
	if err != nil {
		return nil, err
	}
	return seal(aead, nil, plain)
}

func (p *Plugin) DecodeSerializedPayload(readerCryptoHandle, writerCryptoHandle handle.Handle, cipher []byte) ([]byte, error) {
	aead, err := p.aeadFor(readerCryptoHandle)
	if err != nil {
		aead, err = p.aeadFor(writerCryptoHandle)
		if err != nil {
			return nil, err
		}
	}
	return open(aead, nil, cipher)
}

func handleHeader(tag byte, sender handle.Handle) []byte {
	h := make([]byte, 9)
	h[0] = tag
	binary.BigEndian.PutUint64(h[1:], uint64(sender))
	return h
}

// channelID returns the channel handle a matched registration bound to h
// (the value decoders recognize via their own EMT), falling back to h
// itself for an unmatched handle.
func (p *Plugin) channelID(h handle.Handle) handle.Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[h]; ok && e.peer != handle.Nil {
		return e.peer
	}
	return h
}

// EncodeDatawriterSubmessage and its reader counterpart follow the
// iterate-on-index protocol in shape, but this test double keys every
// matched endpoint identically (derived from the same shared secret), so
// one pass always covers every receiver: usedIndex is always
// len(receivers)-1 and a caller never needs a second call.
func (p *Plugin) EncodeDatawriterSubmessage(localWriterCryptoHandle handle.Handle, receivers []handle.Handle, startIndex int, plain []byte) ([]byte, int, error) {
	aead, err := p.aeadFor(localWriterCryptoHandle)
	if err != nil {
		return nil, startIndex, err
	}
	out, err := seal(aead, handleHeader(tagWriter, p.channelID(localWriterCryptoHandle)), plain)
	if err != nil {
		return nil, startIndex, err
	}
	return out, len(receivers) - 1, nil
}

func (p *Plugin) EncodeDatareaderSubmessage(localReaderCryptoHandle handle.Handle, receivers []handle.Handle, startIndex int, plain []byte) ([]byte, int, error) {
	aead, err := p.aeadFor(localReaderCryptoHandle)
	if err != nil {
		return nil, startIndex, err
	}
	out, err := seal(aead, handleHeader(tagReader, p.channelID(localReaderCryptoHandle)), plain)
	if err != nil {
		return nil, startIndex, err
	}
	return out, len(receivers) - 1, nil
}

func (p *Plugin) DecodeDatawriterSubmessage(localReaderCryptoHandle, remoteWriterCryptoHandle handle.Handle, cipher []byte) ([]byte, error) {
	return p.decodeTagged(localReaderCryptoHandle, remoteWriterCryptoHandle, tagWriter, cipher)
}

func (p *Plugin) DecodeDatareaderSubmessage(localWriterCryptoHandle, remoteReaderCryptoHandle handle.Handle, cipher []byte) ([]byte, error) {
	return p.decodeTagged(localWriterCryptoHandle, remoteReaderCryptoHandle, tagReader, cipher)
}

func (p *Plugin) decodeTagged(local, remote handle.Handle, wantTag byte, sealed []byte) ([]byte, error) {
	if len(sealed) < 9 || sealed[0] != wantTag {
		return nil, errs.New(errs.KindSubmessageProtectionViolation, "secure submessage tag mismatch", nil)
	}
	header, body := sealed[:9], sealed[9:]
	aead, err := p.aeadFor(local)
	if err != nil {
		aead, err = p.aeadFor(remote)
		if err != nil {
			return nil, err
		}
	}
	return open(aead, header, body)
}

func (p *Plugin) EncodeRTPSMessage(localParticipantCryptoHandle handle.Handle, receivers []handle.Handle, startIndex int, plain []byte) ([]byte, int, error) {
	aead, err := p.aeadFor(localParticipantCryptoHandle)
	if err != nil {
		return nil, startIndex, err
	}
	out, err := seal(aead, handleHeader(tagMessage, localParticipantCryptoHandle), plain)
	if err != nil {
		return nil, startIndex, err
	}
	return out, len(receivers) - 1, nil
}

func (p *Plugin) DecodeRTPSMessage(localParticipantCryptoHandle, remoteParticipantCryptoHandle handle.Handle, cipher []byte) ([]byte, error) {
	return p.decodeTagged(localParticipantCryptoHandle, remoteParticipantCryptoHandle, tagMessage, cipher)
}

func (p *Plugin) PreprocessSecureSubmsg(localParticipantCryptoHandle handle.Handle, secPrefix []byte) (plugin.SubmessageCategory, handle.Handle, error) {
	if len(secPrefix) < 9 {
		return plugin.CategoryUnknown, handle.Nil, errs.New(errs.KindSubmessageProtectionViolation, "secure prefix too short", nil)
	}
	sender := handle.Handle(binary.BigEndian.Uint64(secPrefix[1:9]))
	switch secPrefix[0] {
	case tagWriter:
		return plugin.CategoryDatawriterSubmessage, sender, nil
	case tagReader:
		return plugin.CategoryDatareaderSubmessage, sender, nil
	case tagMessage:
		return plugin.CategoryInfoSubmessage, sender, nil
	default:
		return plugin.CategoryUnknown, handle.Nil, errs.New(errs.KindSubmessageProtectionViolation, "unrecognized secure prefix tag", nil)
	}
}

func (p *Plugin) UnregisterParticipant(h handle.Handle) error { return p.unregister(h) }
func (p *Plugin) UnregisterDatawriter(h handle.Handle) error  { return p.unregister(h) }
func (p *Plugin) UnregisterDatareader(h handle.Handle) error  { return p.unregister(h) }

func (p *Plugin) unregister(h handle.Handle) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.entries[h]; !ok {
		return errs.New(errs.KindInternal, fmt.Sprintf("unregister unknown crypto handle %s", h), nil)
	}
	delete(p.entries, h)
	return nil
}

var _ plugin.Crypto = (*Plugin)(nil)
