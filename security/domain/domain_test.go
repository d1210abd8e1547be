package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sage-x-project/ddsec/rtps/guid"
	"github.com/sage-x-project/ddsec/security/handshake"
	"github.com/sage-x-project/ddsec/security/plugin"
	"github.com/sage-x-project/ddsec/security/plugin/fakeaccess"
	"github.com/sage-x-project/ddsec/security/plugin/fakeauth"
	"github.com/sage-x-project/ddsec/security/plugin/fakecrypto"
	"github.com/sage-x-project/ddsec/security/pss"
	"github.com/sage-x-project/ddsec/security/ser"
	"github.com/sage-x-project/ddsec/security/stp"
)

var protectedAttrs = plugin.SecurityAttributes{
	Plugin:   plugin.AttrValid | plugin.AttrIsPayloadProtected,
	Security: plugin.AttrValid | plugin.AttrIsPayloadProtected | plugin.AttrIsSubmessageProtected,
}

// loopbackTransport delivers every outbound handshake message straight
// back into the same Domain's coordinator, modeling two participants
// sharing one security context the way every other package's test rig
// does (see security/handshake's DESIGN.md scope note).
type loopbackTransport struct {
	d *Domain
}

func (lt *loopbackTransport) Send(msg handshake.Message) error {
	return lt.d.DeliverHandshakeMessage(msg)
}

func newTestDomain(t *testing.T) *Domain {
	t.Helper()
	auth := fakeauth.New()
	access := fakeaccess.New(
		plugin.SecurityAttributes{Security: plugin.AttrValid},
		protectedAttrs,
		nil,
	)
	crypto := fakecrypto.New(auth)

	transport := &loopbackTransport{}
	d, err := New(Config{
		DomainID:     7,
		Plugins:      plugin.Config{Authentication: auth, AccessControl: access, Crypto: crypto},
		HandshakeTTL: time.Minute,
	}, transport)
	require.NoError(t, err)
	transport.d = d
	return d
}

func admitPair(t *testing.T, d *Domain, a, b *pss.Local) {
	t.Helper()
	require.NoError(t, d.BeginHandshake(a, b))
	require.NoError(t, d.BeginHandshake(b, a))

	proxyOfB, ok := d.Proxy(b.GUID)
	require.True(t, ok)
	assert.True(t, proxyOfB.Authenticated())

	proxyOfA, ok := d.Proxy(a.GUID)
	require.True(t, ok)
	assert.True(t, proxyOfA.Authenticated())
}

func matchReaderAgainstWriter(t *testing.T, d *Domain, a, b *pss.Local, reader, writer *ser.Endpoint) {
	t.Helper()
	matched, _, err := d.MatchRemoteWriterEnabled(reader, ser.RemoteEndpointInfo{
		GUID:            writer.GUID,
		ParticipantGUID: b.GUID,
		Attrs:           protectedAttrs,
	}, ser.MatchOptions{})
	require.NoError(t, err)
	require.True(t, matched)

	matched, _, err = d.MatchRemoteReaderEnabled(writer, ser.RemoteEndpointInfo{
		GUID:            reader.GUID,
		ParticipantGUID: a.GUID,
		Attrs:           protectedAttrs,
	}, ser.MatchOptions{})
	require.NoError(t, err)
	require.True(t, matched)
}

func TestDomainEndToEndHandshakeAndPayloadRoundTrip(t *testing.T) {
	d := newTestDomain(t)

	a, err := d.CheckCreateParticipant(pss.CreateParticipantConfig{CandidatePrefix: guid.Prefix{0x01}})
	require.NoError(t, err)
	b, err := d.CheckCreateParticipant(pss.CreateParticipantConfig{CandidatePrefix: guid.Prefix{0x02}})
	require.NoError(t, err)

	admitPair(t, d, a, b)

	writer, err := d.RegisterWriter(b, guid.New(b.GUID.Prefix, guid.EntityID{0, 0, 0, 1}), "topic", nil)
	require.NoError(t, err)
	reader, err := d.RegisterReader(a, guid.New(a.GUID.Prefix, guid.EntityID{0, 0, 0, 1}), "topic", nil)
	require.NoError(t, err)
	matchReaderAgainstWriter(t, d, a, b, reader, writer)

	writerRemoteHandles := reader.MatchedCryptoHandles(nil)
	require.Len(t, writerRemoteHandles, 1)

	cipher, err := d.EncodeSerializedPayload(writer, []byte("payload"))
	require.NoError(t, err)
	assert.NotEqual(t, []byte("payload"), cipher)

	plain, err := d.DecodeSerializedPayload(reader, writerRemoteHandles[0], cipher)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), plain)

	segments, err := d.EncodeReaderSubmessage(reader, nil, []byte("submessage-body"))
	require.NoError(t, err)
	require.Len(t, segments, 1)

	body := segments[0].Cipher
	triplet := stp.Triplet{
		Prefix:  stp.Submessage{Kind: stp.KindSecPrefix, Payload: body[:9]},
		Body:    stp.Submessage{Kind: stp.KindSecBody, Payload: body},
		Postfix: stp.Submessage{Kind: stp.KindSecPostfix},
	}
	decoded, err := d.DecodeProtectedSubmessage(writer.ParticipantCryptoHandle, triplet)
	require.NoError(t, err)
	assert.Equal(t, stp.KindPlain, decoded.Kind)
	assert.Equal(t, []byte("submessage-body"), decoded.Payload)

	d.DeregisterEndpoint(writer)
	d.DeregisterEndpoint(reader)
	d.DeregisterParticipant(a)
	d.DeregisterParticipant(b)
	require.NoError(t, d.Close())
}

func TestCheckCreateParticipantDefaultsDomainID(t *testing.T) {
	d := newTestDomain(t)
	local, err := d.CheckCreateParticipant(pss.CreateParticipantConfig{CandidatePrefix: guid.Prefix{0x03}})
	require.NoError(t, err)
	assert.NotNil(t, local)
}

func TestValidateMsgDecodingRejectsMissingSecPrefix(t *testing.T) {
	assert.Error(t, ValidateMsgDecoding(true, stp.KindPlain))
	assert.NoError(t, ValidateMsgDecoding(true, stp.KindSecPrefix))
}

func TestValidateRTPSMessageDecodingRejectsPlaintextIngress(t *testing.T) {
	assert.Error(t, ValidateRTPSMessageDecoding(true, false))
	assert.NoError(t, ValidateRTPSMessageDecoding(false, false))
}
