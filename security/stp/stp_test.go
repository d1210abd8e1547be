package stp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sage-x-project/ddsec/rtps/guid"
	"github.com/sage-x-project/ddsec/security/emt"
	"github.com/sage-x-project/ddsec/security/plugin"
	"github.com/sage-x-project/ddsec/security/plugin/fakeaccess"
	"github.com/sage-x-project/ddsec/security/plugin/fakeauth"
	"github.com/sage-x-project/ddsec/security/plugin/fakecrypto"
	"github.com/sage-x-project/ddsec/security/pss"
	"github.com/sage-x-project/ddsec/security/ser"
)

var protectedAttrs = plugin.SecurityAttributes{
	Plugin:   plugin.AttrValid | plugin.AttrIsPayloadProtected,
	Security: plugin.AttrValid | plugin.AttrIsPayloadProtected | plugin.AttrIsSubmessageProtected,
}

type testRig struct {
	state *pss.State
	ser   *ser.Registry
	stp   *Pipeline
	auth  *fakeauth.Plugin
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	auth := fakeauth.New()
	access := fakeaccess.New(
		plugin.SecurityAttributes{Security: plugin.AttrValid},
		protectedAttrs,
		nil,
	)
	crypto := fakecrypto.New(auth)

	var caps plugin.Capabilities
	require.NoError(t, caps.Load(plugin.Config{Authentication: auth, AccessControl: access, Crypto: crypto}))

	table := emt.New()
	state := pss.New(&caps, table)
	registry := ser.New(&caps, table, state)
	return &testRig{state: state, ser: registry, stp: New(&caps, registry), auth: auth}
}

func createLocal(t *testing.T, r *testRig, prefixByte byte) *pss.Local {
	t.Helper()
	local, err := r.state.CheckCreateParticipant(pss.CreateParticipantConfig{CandidatePrefix: guid.Prefix{prefixByte}})
	require.NoError(t, err)
	return local
}

// admit runs one handshake exchange between a and b and registers each as
// the other's remote participant. Both sides' GetSharedSecret calls
// derive from the same ECDH exchange and so return byte-identical secret
// material, even though each holds a distinct shared-secret handle — a
// matching writer and a matching reader each need the ParticipantMatch
// recorded from their own owning local's point of view, so both
// directions are registered here rather than leaving half the pair
// implicit.
func admit(t *testing.T, r *testRig, a, b *pss.Local) {
	t.Helper()
	bIdentityToken, err := r.auth.GetIdentityToken(b.IdentityHandle)
	require.NoError(t, err)

	aHandshake, msg1, done, err := r.auth.BeginHandshakeRequest(a.IdentityHandle, bIdentityToken)
	require.NoError(t, err)
	require.False(t, done)

	bHandshake, msg2, done, err := r.auth.BeginHandshakeReply(b.IdentityHandle, msg1)
	require.NoError(t, err)
	require.True(t, done)

	_, done, err = r.auth.ProcessHandshake(aHandshake, msg2)
	require.NoError(t, err)
	require.True(t, done)

	aSecret, err := r.auth.GetSharedSecret(aHandshake)
	require.NoError(t, err)
	bSecret, err := r.auth.GetSharedSecret(bHandshake)
	require.NoError(t, err)

	require.NoError(t, r.state.RegisterRemoteParticipant(a, b.GUID, b.IdentityHandle, aHandshake, aSecret))
	require.NoError(t, r.state.RegisterRemoteParticipant(b, a.GUID, a.IdentityHandle, bHandshake, bSecret))
}

// matchReaderAgainstWriter admits each endpoint's view of the other:
// MatchRemoteWriterEnabled keys the reader's own crypto handle so it can
// decode from the writer, and the symmetric MatchRemoteReaderEnabled
// keys the writer's crypto handle so it can encode to the reader.
func matchReaderAgainstWriter(t *testing.T, r *testRig, a, b *pss.Local, reader, writer *ser.Endpoint) {
	t.Helper()
	matched, _, err := r.ser.MatchRemoteWriterEnabled(reader, ser.RemoteEndpointInfo{
		GUID:            writer.GUID,
		ParticipantGUID: b.GUID,
		Attrs:           protectedAttrs,
	}, ser.MatchOptions{})
	require.NoError(t, err)
	require.True(t, matched)

	matched, _, err = r.ser.MatchRemoteReaderEnabled(writer, ser.RemoteEndpointInfo{
		GUID:            reader.GUID,
		ParticipantGUID: a.GUID,
		Attrs:           protectedAttrs,
	}, ser.MatchOptions{})
	require.NoError(t, err)
	require.True(t, matched)
}

func TestEncodeSerializedPayloadPassthroughWhenUnprotected(t *testing.T) {
	r := newTestRig(t)
	// unprotected endpoint: zero-value Endpoint (no crypto handle, no
	// protection bits) exercises the no-op path without any plugin call.
	ep := &ser.Endpoint{}
	out, err := r.stp.EncodeSerializedPayload(ep, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), out)
}

func TestEncodeDecodeSerializedPayloadRoundTrip(t *testing.T) {
	r := newTestRig(t)
	a := createLocal(t, r, 0x01)
	b := createLocal(t, r, 0x02)
	admit(t, r, a, b)

	writer, err := r.ser.RegisterWriter(b, guid.New(b.GUID.Prefix, guid.EntityID{0, 0, 0, 1}), "topic", nil)
	require.NoError(t, err)
	reader, err := r.ser.RegisterReader(a, guid.New(a.GUID.Prefix, guid.EntityID{0, 0, 0, 1}), "topic", nil)
	require.NoError(t, err)

	matchReaderAgainstWriter(t, r, a, b, reader, writer)
	writerRemoteHandle := reader.MatchedCryptoHandles(nil)
	require.Len(t, writerRemoteHandle, 1)

	cipher, err := r.stp.EncodeSerializedPayload(writer, []byte("payload"))
	require.NoError(t, err)
	assert.NotEqual(t, []byte("payload"), cipher)

	plain, err := r.stp.DecodeSerializedPayload(reader, writerRemoteHandle[0], cipher)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), plain)
}

func TestEncodeReaderSubmessageAbortsWithNoMatchedWriters(t *testing.T) {
	r := newTestRig(t)
	a := createLocal(t, r, 0x01)
	reader, err := r.ser.RegisterReader(a, guid.New(a.GUID.Prefix, guid.EntityID{0, 0, 0, 1}), "topic", nil)
	require.NoError(t, err)

	_, err = r.stp.EncodeReaderSubmessage(reader, nil, []byte("x"))
	assert.Error(t, err)
}

func TestEncodeReaderSubmessageAndDecodeTripletRoundTrip(t *testing.T) {
	r := newTestRig(t)
	a := createLocal(t, r, 0x01)
	b := createLocal(t, r, 0x02)
	admit(t, r, a, b)

	writer, err := r.ser.RegisterWriter(b, guid.New(b.GUID.Prefix, guid.EntityID{0, 0, 0, 1}), "topic", nil)
	require.NoError(t, err)
	reader, err := r.ser.RegisterReader(a, guid.New(a.GUID.Prefix, guid.EntityID{0, 0, 0, 1}), "topic", nil)
	require.NoError(t, err)
	matchReaderAgainstWriter(t, r, a, b, reader, writer)

	segments, err := r.stp.EncodeReaderSubmessage(reader, nil, []byte("submessage-body"))
	require.NoError(t, err)
	require.Len(t, segments, 1)

	cipher := segments[0].Cipher
	triplet := Triplet{
		Prefix:  Submessage{Kind: KindSecPrefix, Payload: cipher[:9]},
		Body:    Submessage{Kind: KindSecBody, Payload: cipher},
		Postfix: Submessage{Kind: KindSecPostfix},
	}

	// writer's participant crypto handle (b's) is the "local participant"
	// handle from the decoding writer's point of view, since
	// PreprocessSecureSubmsg is called with the receiver's own participant
	// crypto handle.
	decoded, err := r.stp.DecodeProtectedSubmessage(r.state, writer.ParticipantCryptoHandle, triplet)
	require.NoError(t, err)
	assert.Equal(t, KindPlain, decoded.Kind)
	assert.Equal(t, []byte("submessage-body"), decoded.Payload)
}

func TestDecodeProtectedSubmessagePadsOnTamperedCiphertext(t *testing.T) {
	r := newTestRig(t)
	a := createLocal(t, r, 0x01)
	b := createLocal(t, r, 0x02)
	admit(t, r, a, b)

	writer, err := r.ser.RegisterWriter(b, guid.New(b.GUID.Prefix, guid.EntityID{0, 0, 0, 1}), "topic", nil)
	require.NoError(t, err)
	reader, err := r.ser.RegisterReader(a, guid.New(a.GUID.Prefix, guid.EntityID{0, 0, 0, 1}), "topic", nil)
	require.NoError(t, err)
	matchReaderAgainstWriter(t, r, a, b, reader, writer)

	segments, err := r.stp.EncodeReaderSubmessage(reader, nil, []byte("submessage-body"))
	require.NoError(t, err)
	cipher := append([]byte(nil), segments[0].Cipher...)
	cipher[len(cipher)-1] ^= 0xFF // tamper with the last ciphertext byte

	triplet := Triplet{
		Prefix:  Submessage{Kind: KindSecPrefix, Payload: cipher[:9]},
		Body:    Submessage{Kind: KindSecBody, Payload: cipher},
		Postfix: Submessage{Kind: KindSecPostfix},
	}

	decoded, err := r.stp.DecodeProtectedSubmessage(r.state, writer.ParticipantCryptoHandle, triplet)
	assert.Error(t, err)
	assert.Equal(t, KindPad, decoded.Kind)
	assert.Len(t, decoded.Payload, triplet.totalLen())
}

func TestValidateMsgDecodingRejectsMissingSecPrefix(t *testing.T) {
	assert.NoError(t, ValidateMsgDecoding(false, KindPlain))
	assert.NoError(t, ValidateMsgDecoding(true, KindSecPrefix))
	assert.Error(t, ValidateMsgDecoding(true, KindPlain))
}

func TestValidateRTPSMessageDecodingRejectsPlaintextIngress(t *testing.T) {
	assert.NoError(t, ValidateRTPSMessageDecoding(false, false))
	assert.NoError(t, ValidateRTPSMessageDecoding(true, true))
	assert.Error(t, ValidateRTPSMessageDecoding(true, false))
}

func TestEncodeDecodeRTPSMessageForRemote(t *testing.T) {
	r := newTestRig(t)
	a := createLocal(t, r, 0x01)
	b := createLocal(t, r, 0x02)
	admit(t, r, a, b)

	segments, err := r.stp.EncodeRTPSMessage(a, r.state, nil, []byte("rtps-body"))
	require.NoError(t, err)
	require.Len(t, segments, 1)

	// a registered its match against remote b, so the proxy tracked under
	// b.GUID is the one carrying a's ParticipantMatch record.
	plain, local, err := r.stp.DecodeRTPSMessageForRemote(r.state, b.GUID, segments[0].Cipher)
	require.NoError(t, err)
	assert.Equal(t, a.GUID, local.GUID)
	assert.Equal(t, []byte("rtps-body"), plain)
}

// TestEncodeRTPSMessageSurvivesConcurrentDeregistration reproduces the
// "send during deregistration" race: a's participant crypto handle is held
// in flight (simulating an xmit thread already inside EncodeRTPSMessage)
// when DeregisterParticipant runs on another goroutine. The handle must
// stay live and a racing encode must still succeed; teardown only runs
// once the in-flight use releases.
func TestEncodeRTPSMessageSurvivesConcurrentDeregistration(t *testing.T) {
	r := newTestRig(t)
	a := createLocal(t, r, 0x01)
	b := createLocal(t, r, 0x02)
	admit(t, r, a, b)

	release := a.AcquireCryptoUse()

	deregDone := make(chan struct{})
	go func() {
		r.state.DeregisterParticipant(a)
		close(deregDone)
	}()

	select {
	case <-deregDone:
	case <-time.After(time.Second):
		t.Fatal("DeregisterParticipant did not return")
	}

	// DeregisterParticipant has returned, but the in-flight use above has
	// not released yet, so a's crypto handle must still be live: a
	// concurrent encode against it must succeed rather than hit an
	// already-unregistered handle.
	segments, err := r.stp.EncodeRTPSMessage(a, r.state, nil, []byte("in-flight"))
	require.NoError(t, err)
	require.Len(t, segments, 1)

	_, ok := r.state.Local(a.GUID)
	assert.True(t, ok, "teardown must not run while the original use is still in flight")

	release()

	_, ok = r.state.Local(a.GUID)
	assert.False(t, ok, "teardown must run once the in-flight use releases")
}
