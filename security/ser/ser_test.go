package ser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sage-x-project/ddsec/rtps/guid"
	"github.com/sage-x-project/ddsec/security/emt"
	"github.com/sage-x-project/ddsec/security/plugin"
	"github.com/sage-x-project/ddsec/security/plugin/fakeaccess"
	"github.com/sage-x-project/ddsec/security/plugin/fakeauth"
	"github.com/sage-x-project/ddsec/security/plugin/fakecrypto"
	"github.com/sage-x-project/ddsec/security/pss"
)

var protectedAttrs = plugin.SecurityAttributes{
	Plugin:   plugin.AttrValid | plugin.AttrIsPayloadProtected,
	Security: plugin.AttrValid | plugin.AttrIsPayloadProtected | plugin.AttrIsSubmessageProtected,
}

var unprotectedAttrs = plugin.SecurityAttributes{Security: plugin.AttrValid}

// testRig wires a pss.State and ser.Registry against the same three fake
// plugins, the same wiring pss_test.go uses, so a handshake admitted at
// the participant level is visible to endpoint matching.
type testRig struct {
	caps *plugin.Capabilities
	pss  *pss.State
	ser  *Registry
	auth *fakeauth.Plugin
}

func newTestRig(t *testing.T, endpointAttrs plugin.SecurityAttributes) *testRig {
	t.Helper()
	auth := fakeauth.New()
	access := fakeaccess.New(
		plugin.SecurityAttributes{Security: plugin.AttrValid},
		endpointAttrs,
		nil,
	)
	crypto := fakecrypto.New(auth)

	var caps plugin.Capabilities
	require.NoError(t, caps.Load(plugin.Config{Authentication: auth, AccessControl: access, Crypto: crypto}))

	table := emt.New()
	state := pss.New(&caps, table)
	return &testRig{caps: &caps, pss: state, ser: New(&caps, table, state), auth: auth}
}

func createLocal(t *testing.T, r *testRig, prefixByte byte) *pss.Local {
	t.Helper()
	local, err := r.pss.CheckCreateParticipant(pss.CreateParticipantConfig{CandidatePrefix: guid.Prefix{prefixByte}})
	require.NoError(t, err)
	return local
}

func admit(t *testing.T, r *testRig, a, b *pss.Local) {
	t.Helper()
	bIdentityToken, err := r.auth.GetIdentityToken(b.IdentityHandle)
	require.NoError(t, err)

	aHandshake, msg1, done, err := r.auth.BeginHandshakeRequest(a.IdentityHandle, bIdentityToken)
	require.NoError(t, err)
	require.False(t, done)

	_, msg2, done, err := r.auth.BeginHandshakeReply(b.IdentityHandle, msg1)
	require.NoError(t, err)
	require.True(t, done)

	_, done, err = r.auth.ProcessHandshake(aHandshake, msg2)
	require.NoError(t, err)
	require.True(t, done)

	aSecret, err := r.auth.GetSharedSecret(aHandshake)
	require.NoError(t, err)

	require.NoError(t, r.pss.RegisterRemoteParticipant(a, b.GUID, b.IdentityHandle, aHandshake, aSecret))
}

func TestRegisterWriterSetsCryptoHandleWhenProtected(t *testing.T) {
	r := newTestRig(t, protectedAttrs)
	local := createLocal(t, r, 0x01)

	ep, err := r.ser.RegisterWriter(local, guid.New(local.GUID.Prefix, guid.EntityID{0x00, 0x00, 0x00, 0x01}), "topic", nil)
	require.NoError(t, err)
	assert.False(t, ep.CryptoHandle.IsNil())
}

func TestRegisterWriterSkipsCryptoWhenUnprotected(t *testing.T) {
	r := newTestRig(t, unprotectedAttrs)
	local := createLocal(t, r, 0x01)

	ep, err := r.ser.RegisterWriter(local, guid.New(local.GUID.Prefix, guid.EntityID{0x00, 0x00, 0x00, 0x01}), "topic", nil)
	require.NoError(t, err)
	assert.True(t, ep.CryptoHandle.IsNil())
}

func TestMatchRemoteWriterEnabledAcceptsUnprotectedReader(t *testing.T) {
	r := newTestRig(t, unprotectedAttrs)
	local := createLocal(t, r, 0x01)
	reader, err := r.ser.RegisterReader(local, guid.New(local.GUID.Prefix, guid.EntityID{0x00, 0x00, 0x00, 0x01}), "topic", nil)
	require.NoError(t, err)

	matched, tokens, err := r.ser.MatchRemoteWriterEnabled(reader, RemoteEndpointInfo{
		GUID:            guid.New(guid.Prefix{0x09}, guid.EntityID{0x00, 0x00, 0x00, 0x01}),
		ParticipantGUID: guid.ParticipantGUID(guid.Prefix{0x09}),
		Attrs:           unprotectedAttrs,
	}, MatchOptions{})
	require.NoError(t, err)
	assert.True(t, matched)
	assert.Nil(t, tokens)
}

func TestMatchRemoteWriterEnabledRejectsUnauthenticatedRemote(t *testing.T) {
	r := newTestRig(t, protectedAttrs)
	local := createLocal(t, r, 0x01)
	reader, err := r.ser.RegisterReader(local, guid.New(local.GUID.Prefix, guid.EntityID{0x00, 0x00, 0x00, 0x01}), "topic", nil)
	require.NoError(t, err)

	matched, tokens, err := r.ser.MatchRemoteWriterEnabled(reader, RemoteEndpointInfo{
		GUID:            guid.New(guid.Prefix{0x09}, guid.EntityID{0x00, 0x00, 0x00, 0x01}),
		ParticipantGUID: guid.ParticipantGUID(guid.Prefix{0x09}),
		Attrs:           protectedAttrs,
	}, MatchOptions{})
	require.NoError(t, err)
	assert.False(t, matched)
	assert.Nil(t, tokens)
}

func TestMatchRemoteWriterEnabledFullAdmission(t *testing.T) {
	r := newTestRig(t, protectedAttrs)
	a := createLocal(t, r, 0x01)
	b := createLocal(t, r, 0x02)
	admit(t, r, a, b)

	reader, err := r.ser.RegisterReader(a, guid.New(a.GUID.Prefix, guid.EntityID{0x00, 0x00, 0x00, 0x01}), "topic", nil)
	require.NoError(t, err)
	remoteWriterGUID := guid.New(b.GUID.Prefix, guid.EntityID{0x00, 0x00, 0x00, 0x02})

	matched, tokens, err := r.ser.MatchRemoteWriterEnabled(reader, RemoteEndpointInfo{
		GUID:            remoteWriterGUID,
		ParticipantGUID: b.GUID,
		Attrs:           protectedAttrs,
	}, MatchOptions{})
	require.NoError(t, err)
	assert.True(t, matched)
	assert.NotEmpty(t, tokens)

	cached, ok := reader.matchedPeer(remoteWriterGUID)
	require.True(t, ok)
	assert.False(t, cached.IsNil())

	// Re-matching the same pair hits the cache and produces no further
	// outbound tokens.
	matched2, tokens2, err := r.ser.MatchRemoteWriterEnabled(reader, RemoteEndpointInfo{
		GUID:            remoteWriterGUID,
		ParticipantGUID: b.GUID,
		Attrs:           protectedAttrs,
	}, MatchOptions{})
	require.NoError(t, err)
	assert.True(t, matched2)
	assert.Nil(t, tokens2)
}

func TestMatchRemoteWriterEnabledInstallsPendingTokens(t *testing.T) {
	r := newTestRig(t, protectedAttrs)
	a := createLocal(t, r, 0x01)
	b := createLocal(t, r, 0x02)
	admit(t, r, a, b)

	reader, err := r.ser.RegisterReader(a, guid.New(a.GUID.Prefix, guid.EntityID{0x00, 0x00, 0x00, 0x01}), "topic", nil)
	require.NoError(t, err)
	remoteWriterGUID := guid.New(b.GUID.Prefix, guid.EntityID{0x00, 0x00, 0x00, 0x02})

	pair := guid.Pair{Src: remoteWriterGUID, Dst: reader.GUID}
	entry, _ := r.ser.emt.FindOrCreate(pair)
	entry.QueueToken(plugin.Token{Class: "writer-tok"})

	matched, tokens, err := r.ser.MatchRemoteWriterEnabled(reader, RemoteEndpointInfo{
		GUID:            remoteWriterGUID,
		ParticipantGUID: b.GUID,
		Attrs:           protectedAttrs,
	}, MatchOptions{})
	require.NoError(t, err)
	assert.True(t, matched)
	assert.Nil(t, tokens)
}

func TestDeregisterUnregistersEndpointAndMatches(t *testing.T) {
	r := newTestRig(t, protectedAttrs)
	a := createLocal(t, r, 0x01)
	b := createLocal(t, r, 0x02)
	admit(t, r, a, b)

	reader, err := r.ser.RegisterReader(a, guid.New(a.GUID.Prefix, guid.EntityID{0x00, 0x00, 0x00, 0x01}), "topic", nil)
	require.NoError(t, err)
	remoteWriterGUID := guid.New(b.GUID.Prefix, guid.EntityID{0x00, 0x00, 0x00, 0x02})

	_, _, err = r.ser.MatchRemoteWriterEnabled(reader, RemoteEndpointInfo{
		GUID:            remoteWriterGUID,
		ParticipantGUID: b.GUID,
		Attrs:           protectedAttrs,
	}, MatchOptions{})
	require.NoError(t, err)

	errsOut := r.ser.Deregister(reader)
	assert.Empty(t, errsOut)

	_, ok := r.ser.Endpoint(reader.GUID)
	assert.False(t, ok)
}
