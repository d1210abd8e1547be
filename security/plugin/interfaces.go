package plugin

import (
	"github.com/sage-x-project/ddsec/rtps/guid"
	"github.com/sage-x-project/ddsec/security/handle"
)

// Authentication validates that a remote participant is who it claims to
// be and drives the two-way handshake token exchange. A call that fails
// returns an error; the in-repo fake plugins return *errs.Error values,
// not *Exception.
type Authentication interface {
	// ValidateLocalIdentity issues an identity handle for the local
	// participant, possibly adjusting its GUID prefix (some identity
	// plugins derive the prefix from the certificate).
	ValidateLocalIdentity(candidatePrefix guid.Prefix, identityCertPath, privateKeyPath string) (handle.Handle, guid.Prefix, error)

	// GetIdentityToken returns the token the local participant advertises
	// in discovery data for the given identity handle.
	GetIdentityToken(localIdentityHandle handle.Handle) (Token, error)

	// SetPermissionsCredentialAndToken attaches the access-control
	// plugin's credential/permissions tokens to an already-validated
	// local identity, so the handshake can carry them.
	SetPermissionsCredentialAndToken(localIdentityHandle handle.Handle, credential, permissions Token) error

	// BeginHandshakeRequest starts a handshake as the lower-GUID side,
	// producing the first message token to send to the remote.
	BeginHandshakeRequest(localIdentityHandle handle.Handle, remoteIdentityToken Token) (handshakeHandle handle.Handle, out Token, done bool, err error)

	// BeginHandshakeReply responds to an inbound request token,
	// producing the reply message token.
	BeginHandshakeReply(localIdentityHandle handle.Handle, inbound Token) (handshakeHandle handle.Handle, out Token, done bool, err error)

	// ProcessHandshake advances an in-progress handshake with the next
	// inbound message token. done reports whether the handshake
	// completed; out is nil once done.
	ProcessHandshake(handshakeHandle handle.Handle, inbound Token) (out *Token, done bool, err error)

	// GetSharedSecret returns the shared-secret handle a completed
	// handshake produced.
	GetSharedSecret(handshakeHandle handle.Handle) (handle.Handle, error)

	// GetAuthenticatedPeerCredentialToken returns the credential token
	// the remote side presented during the handshake, consumed by
	// access-control's ValidateRemotePermissions.
	GetAuthenticatedPeerCredentialToken(handshakeHandle handle.Handle) (Token, error)

	ReturnIdentityHandle(h handle.Handle) error
	ReturnHandshakeHandle(h handle.Handle) error
	ReturnSharedSecretHandle(h handle.Handle) error
}

// EndpointKind distinguishes writer from reader for the attribute and
// registration calls that differ between the two.
type EndpointKind int

const (
	Writer EndpointKind = iota
	Reader
)

// AccessControl decides whether a validated identity may create a
// participant, publish or subscribe on a given topic, and what protection
// level that participant or endpoint is obligated to use.
type AccessControl interface {
	// ValidateLocalPermissions checks the local participant's own
	// governance/permissions documents and issues a permissions handle.
	ValidateLocalPermissions(localIdentityHandle handle.Handle, domainID uint32, permissionsPath, governancePath string) (handle.Handle, error)

	GetPermissionsToken(localPermissionsHandle handle.Handle) (Token, error)
	GetPermissionsCredentialToken(localPermissionsHandle handle.Handle) (Token, error)

	// ValidateRemotePermissions checks a remote's permissions/credential
	// tokens against the local governance document and issues a
	// permissions handle for that remote participant.
	ValidateRemotePermissions(localIdentityHandle, remoteIdentityHandle handle.Handle, remotePermissions, remoteCredential Token) (handle.Handle, error)

	// CheckCreateParticipant reports whether a local identity is
	// permitted to create a participant in the given domain at all.
	CheckCreateParticipant(localIdentityHandle handle.Handle, domainID uint32) (bool, error)

	// CheckRemoteParticipant reports whether a remote participant, having
	// already passed identity and permissions validation, is allowed to
	// match at all (governance can still reject by domain rule).
	CheckRemoteParticipant(remotePermissionsHandle handle.Handle, domainID uint32) (bool, error)

	// CheckCreateEndpoint reports whether the local participant may
	// create a writer/reader on topicName at all.
	CheckCreateEndpoint(localPermissionsHandle handle.Handle, kind EndpointKind, topicName string, partitions []string) (bool, error)

	// CheckRemoteEndpoint mirrors CheckCreateEndpoint for a proxy
	// (discovered remote) endpoint.
	CheckRemoteEndpoint(remotePermissionsHandle handle.Handle, kind EndpointKind, topicName string, partitions []string) (bool, error)

	GetParticipantSecAttributes(localPermissionsHandle handle.Handle) (SecurityAttributes, error)
	GetEndpointSecAttributes(localPermissionsHandle handle.Handle, kind EndpointKind, topicName string, partitions []string) (SecurityAttributes, error)

	ReturnPermissionsHandle(h handle.Handle) error
}

// CryptoHandleSet is the (participant, endpoint) pair of crypto handles a
// registration call returns; endpoint registrations populate Endpoint and
// leave Participant at Nil since the participant handle is already known.
type CryptoHandleSet struct {
	Participant handle.Handle
	Endpoint    handle.Handle
}

// Crypto is the combined key-factory / transform / key-exchange plugin.
// The real DDS Security spec splits this into three cooperating plugins;
// the core here treats it as one capability because every teacher plugin
// in this pack bundles key management and AEAD transform together.
type Crypto interface {
	// RegisterLocalParticipant derives the local participant's crypto
	// material from its validated identity and permissions.
	RegisterLocalParticipant(localIdentityHandle, localPermissionsHandle handle.Handle, attrs SecurityAttributes) (handle.Handle, error)

	// RegisterMatchedRemoteParticipant derives a remote participant's
	// crypto material once its handshake has produced a shared secret.
	RegisterMatchedRemoteParticipant(localCryptoHandle, remoteIdentityHandle, remotePermissionsHandle, sharedSecretHandle handle.Handle) (handle.Handle, error)

	RegisterLocalDatawriter(participantCryptoHandle handle.Handle, attrs SecurityAttributes) (handle.Handle, error)
	RegisterLocalDatareader(participantCryptoHandle handle.Handle, attrs SecurityAttributes) (handle.Handle, error)

	RegisterMatchedRemoteDatareader(localWriterCryptoHandle, remoteParticipantCryptoHandle, sharedSecretHandle handle.Handle, relayOnly bool) (handle.Handle, error)
	RegisterMatchedRemoteDatawriter(localReaderCryptoHandle, remoteParticipantCryptoHandle, sharedSecretHandle handle.Handle) (handle.Handle, error)

	CreateLocalParticipantCryptoTokens(localCryptoHandle, remoteCryptoHandle handle.Handle) ([]Token, error)
	SetRemoteParticipantCryptoTokens(localCryptoHandle, remoteCryptoHandle handle.Handle, tokens []Token) error

	CreateLocalDatawriterCryptoTokens(localWriterCryptoHandle, remoteReaderCryptoHandle handle.Handle) ([]Token, error)
	SetRemoteDatawriterCryptoTokens(localReaderCryptoHandle, remoteWriterCryptoHandle handle.Handle, tokens []Token) error

	CreateLocalDatareaderCryptoTokens(localReaderCryptoHandle, remoteWriterCryptoHandle handle.Handle) ([]Token, error)
	SetRemoteDatareaderCryptoTokens(localWriterCryptoHandle, remoteReaderCryptoHandle handle.Handle, tokens []Token) error

	EncodeSerializedPayload(writerCryptoHandle handle.Handle, plain []byte) (cipher []byte, error error)
	DecodeSerializedPayload(readerCryptoHandle, writerCryptoHandle handle.Handle, cipher []byte) (plain []byte, error error)

	// EncodeDatawriterSubmessage/EncodeDatareaderSubmessage follow the
	// iterate-on-index protocol: a call with usedIndex < len(receivers)-1
	// must be repeated with the returned index to cover every receiver
	// key (a single rekey event can desynchronize one receiver without
	// invalidating the rest).
	EncodeDatawriterSubmessage(localWriterCryptoHandle handle.Handle, receivers []handle.Handle, startIndex int, plain []byte) (cipher []byte, usedIndex int, err error)
	EncodeDatareaderSubmessage(localReaderCryptoHandle handle.Handle, receivers []handle.Handle, startIndex int, plain []byte) (cipher []byte, usedIndex int, err error)

	DecodeDatawriterSubmessage(localReaderCryptoHandle, remoteWriterCryptoHandle handle.Handle, cipher []byte) (plain []byte, err error)
	DecodeDatareaderSubmessage(localWriterCryptoHandle, remoteReaderCryptoHandle handle.Handle, cipher []byte) (plain []byte, err error)

	EncodeRTPSMessage(localParticipantCryptoHandle handle.Handle, receivers []handle.Handle, startIndex int, plain []byte) (cipher []byte, usedIndex int, err error)
	DecodeRTPSMessage(localParticipantCryptoHandle, remoteParticipantCryptoHandle handle.Handle, cipher []byte) (plain []byte, err error)

	// PreprocessSecureSubmsg inspects a decoded SEC_PREFIX to identify
	// which receiver crypto handle a SEC_BODY belongs to, without fully
	// decoding it.
	PreprocessSecureSubmsg(localParticipantCryptoHandle handle.Handle, secPrefix []byte) (category SubmessageCategory, remoteHandle handle.Handle, err error)

	UnregisterParticipant(h handle.Handle) error
	UnregisterDatawriter(h handle.Handle) error
	UnregisterDatareader(h handle.Handle) error
}

// SubmessageCategory is what PreprocessSecureSubmsg determines a secured
// submessage actually is before the full decode.
type SubmessageCategory int

const (
	CategoryUnknown SubmessageCategory = iota
	CategoryDatawriterSubmessage
	CategoryDatareaderSubmessage
	CategoryInfoSubmessage
)
