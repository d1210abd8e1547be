package fakecrypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sage-x-project/ddsec/rtps/guid"
	"github.com/sage-x-project/ddsec/security/handle"
	"github.com/sage-x-project/ddsec/security/plugin"
	"github.com/sage-x-project/ddsec/security/plugin/fakeauth"
)

// runHandshake drives a full fakeauth two-message exchange between a
// requester and a replier and returns each side's shared-secret handle.
func runHandshake(t *testing.T, requester, replier *fakeauth.Plugin, reqIdentity, repIdentity handle.Handle) (handle.Handle, handle.Handle) {
	t.Helper()

	repIdentityToken, err := replier.GetIdentityToken(repIdentity)
	require.NoError(t, err)

	reqHandshake, reqMsg1, done, err := requester.BeginHandshakeRequest(reqIdentity, repIdentityToken)
	require.NoError(t, err)
	require.False(t, done)

	repHandshake, repMsg1, done, err := replier.BeginHandshakeReply(repIdentity, reqMsg1)
	require.NoError(t, err)
	require.True(t, done)

	_, done, err = requester.ProcessHandshake(reqHandshake, repMsg1)
	require.NoError(t, err)
	require.True(t, done)

	reqSecret, err := requester.GetSharedSecret(reqHandshake)
	require.NoError(t, err)
	repSecret, err := replier.GetSharedSecret(repHandshake)
	require.NoError(t, err)
	return reqSecret, repSecret
}

func TestParticipantAndPayloadRoundTrip(t *testing.T) {
	reqAuth, repAuth := fakeauth.New(), fakeauth.New()
	reqIdentity, _, err := reqAuth.ValidateLocalIdentity(guid.Prefix{0x01}, "", "")
	require.NoError(t, err)
	repIdentity, _, err := repAuth.ValidateLocalIdentity(guid.Prefix{0x02}, "", "")
	require.NoError(t, err)

	reqSecret, repSecret := runHandshake(t, reqAuth, repAuth, reqIdentity, repIdentity)

	reqCrypto := New(reqAuth)
	repCrypto := New(repAuth)

	reqLocal, err := reqCrypto.RegisterLocalParticipant(reqIdentity, handle.Handle(1), plugin.SecurityAttributes{})
	require.NoError(t, err)
	repLocal, err := repCrypto.RegisterLocalParticipant(repIdentity, handle.Handle(1), plugin.SecurityAttributes{})
	require.NoError(t, err)

	reqRemote, err := reqCrypto.RegisterMatchedRemoteParticipant(reqLocal, repIdentity, handle.Handle(1), reqSecret)
	require.NoError(t, err)
	repRemote, err := repCrypto.RegisterMatchedRemoteParticipant(repLocal, reqIdentity, handle.Handle(1), repSecret)
	require.NoError(t, err)

	cipher, err := reqCrypto.EncodeSerializedPayload(reqLocal, []byte("hello, proxy"))
	require.NoError(t, err)

	plain, err := repCrypto.DecodeSerializedPayload(repRemote, repLocal, cipher)
	require.NoError(t, err)
	assert.Equal(t, "hello, proxy", string(plain))

	// RTPS whole-message framing uses the same participant-level key.
	msgCipher, used, err := reqCrypto.EncodeRTPSMessage(reqLocal, []handle.Handle{repRemote}, 0, []byte("rtps payload"))
	require.NoError(t, err)
	assert.Equal(t, 0, used)

	category, sender, err := repCrypto.PreprocessSecureSubmsg(repLocal, msgCipher)
	require.NoError(t, err)
	assert.Equal(t, plugin.CategoryInfoSubmessage, category)
	assert.Equal(t, reqLocal, sender)

	decoded, err := repCrypto.DecodeRTPSMessage(repLocal, repRemote, msgCipher)
	require.NoError(t, err)
	assert.Equal(t, "rtps payload", string(decoded))
}

func TestDecodeFailsOnTamperedCiphertext(t *testing.T) {
	reqAuth, repAuth := fakeauth.New(), fakeauth.New()
	reqIdentity, _, _ := reqAuth.ValidateLocalIdentity(guid.Prefix{0x01}, "", "")
	repIdentity, _, _ := repAuth.ValidateLocalIdentity(guid.Prefix{0x02}, "", "")
	reqSecret, repSecret := runHandshake(t, reqAuth, repAuth, reqIdentity, repIdentity)

	reqCrypto, repCrypto := New(reqAuth), New(repAuth)
	reqLocal, _ := reqCrypto.RegisterLocalParticipant(reqIdentity, handle.Handle(1), plugin.SecurityAttributes{})
	repLocal, _ := repCrypto.RegisterLocalParticipant(repIdentity, handle.Handle(1), plugin.SecurityAttributes{})
	_, err := reqCrypto.RegisterMatchedRemoteParticipant(reqLocal, repIdentity, handle.Handle(1), reqSecret)
	require.NoError(t, err)
	repRemote, err := repCrypto.RegisterMatchedRemoteParticipant(repLocal, reqIdentity, handle.Handle(1), repSecret)
	require.NoError(t, err)

	cipher, err := reqCrypto.EncodeSerializedPayload(reqLocal, []byte("hello"))
	require.NoError(t, err)
	cipher[len(cipher)-1] ^= 0xff

	_, err = repCrypto.DecodeSerializedPayload(repRemote, repLocal, cipher)
	assert.Error(t, err)
}

func TestEncodeBeforeMatchFails(t *testing.T) {
	auth := fakeauth.New()
	crypto := New(auth)
	h, err := crypto.RegisterLocalParticipant(handle.Handle(1), handle.Handle(1), plugin.SecurityAttributes{})
	require.NoError(t, err)

	_, err = crypto.EncodeSerializedPayload(h, []byte("x"))
	assert.Error(t, err)
}
