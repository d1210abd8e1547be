// Package domain is the per-domain security context: the single facade
// that wires the Plugin Capability Layer, the Entity Match Table, the
// Participant Security State, the Secure Endpoint Registry, the Secure
// Transform Pipeline and the handshake coordinator together and exposes
// the whole §4 operation vocabulary as one API, the way a DDS
// DomainParticipantFactory wires one security context per domain.
package domain

import (
	"time"

	"github.com/sage-x-project/ddsec/internal/metrics"
	"github.com/sage-x-project/ddsec/rtps/guid"
	"github.com/sage-x-project/ddsec/security/emt"
	"github.com/sage-x-project/ddsec/security/handle"
	"github.com/sage-x-project/ddsec/security/handshake"
	"github.com/sage-x-project/ddsec/security/plugin"
	"github.com/sage-x-project/ddsec/security/pss"
	"github.com/sage-x-project/ddsec/security/ser"
	"github.com/sage-x-project/ddsec/security/stp"
)

// Config is the per-domain construction input: which domain id this
// context serves, the plugin set to load, and how long a handshake may
// sit unanswered before the coordinator's cleanup loop reclaims it.
type Config struct {
	DomainID     uint32
	Plugins      plugin.Config
	HandshakeTTL time.Duration
}

// Domain owns one loaded Capabilities set and the four components built
// on top of it. Every exported method is a thin delegation to the owning
// sub-component — Domain adds no logic of its own beyond wiring and the
// DomainID default CheckCreateParticipant callers would otherwise have
// to repeat.
type Domain struct {
	id uint32

	caps *plugin.Capabilities
	emt  *emt.Table
	pss  *pss.State
	ser  *ser.Registry
	stp  *stp.Pipeline
	hs   *handshake.Coordinator
}

// New loads cfg.Plugins and wires a full Domain on top of it. The
// returned Domain's handshake coordinator sends outbound messages
// through transport; callers feed inbound ones to DeliverHandshakeMessage.
func New(cfg Config, transport handshake.Transport) (*Domain, error) {
	var caps plugin.Capabilities
	if err := caps.Load(cfg.Plugins); err != nil {
		return nil, err
	}

	table := emt.New()
	state := pss.New(&caps, table)
	registry := ser.New(&caps, table, state)
	pipeline := stp.New(&caps, registry)
	coord := handshake.New(&caps, state, transport, cfg.HandshakeTTL)

	metrics.DomainsActive.Inc()

	return &Domain{
		id:   cfg.DomainID,
		caps: &caps,
		emt:  table,
		pss:  state,
		ser:  registry,
		stp:  pipeline,
		hs:   coord,
	}, nil
}

// Close stops the handshake coordinator's cleanup loop and unloads the
// plugin set. Every participant and endpoint must already have been
// deregistered; Close does not walk them for the caller.
func (d *Domain) Close() error {
	d.hs.Close()
	metrics.DomainsActive.Dec()
	metrics.DomainsClosed.Inc()
	return d.caps.Unload()
}

// CheckCreateParticipant runs the §4.3 local-participant admission,
// defaulting cfg.DomainID to the Domain's own id when the caller left it
// zero.
func (d *Domain) CheckCreateParticipant(cfg pss.CreateParticipantConfig) (*pss.Local, error) {
	if cfg.DomainID == 0 {
		cfg.DomainID = d.id
	}
	return d.pss.CheckCreateParticipant(cfg)
}

// DeregisterParticipant runs the §4.3 local-participant teardown.
func (d *Domain) DeregisterParticipant(local *pss.Local) {
	d.pss.DeregisterParticipant(local)
}

// RegisterRemoteParticipant runs the §4.3 remote-admission sequence
// directly; most callers instead drive admission through BeginHandshake
// and DeliverHandshakeMessage, which call this once their exchange
// completes.
func (d *Domain) RegisterRemoteParticipant(local *pss.Local, remote guid.GUID, remoteIdentityHandle, handshakeHandle, sharedSecretHandle handle.Handle) error {
	return d.pss.RegisterRemoteParticipant(local, remote, remoteIdentityHandle, handshakeHandle, sharedSecretHandle)
}

// SetParticipantCryptoTokens installs or queues participant-level crypto
// tokens for (remote, local), per §4.3.
func (d *Domain) SetParticipantCryptoTokens(local *pss.Local, remote guid.GUID, tokens []plugin.Token) error {
	return d.pss.SetParticipantCryptoTokens(local, remote, tokens)
}

// Local looks up a local participant's security record by GUID.
func (d *Domain) Local(g guid.GUID) (*pss.Local, bool) {
	return d.pss.Local(g)
}

// Proxy looks up a remote participant's security record by GUID.
func (d *Domain) Proxy(g guid.GUID) (*pss.Proxy, bool) {
	return d.pss.Proxy(g)
}

// BeginHandshake starts discovery-driven admission between local and
// remote, per §4.6. Only the higher-GUID side actually sends a message;
// calling it from both directions on mutual discovery is expected.
func (d *Domain) BeginHandshake(local, remote *pss.Local) error {
	return d.hs.Begin(local, remote)
}

// DeliverHandshakeMessage feeds an inbound handshake message (received
// over the builtin participant stateless-message endpoint) to the
// coordinator.
func (d *Domain) DeliverHandshakeMessage(msg handshake.Message) error {
	return d.hs.Deliver(msg)
}

// RegisterWriter and RegisterReader create endpoint security records for
// a newly enabled local writer or reader, per §4.4.
func (d *Domain) RegisterWriter(local *pss.Local, g guid.GUID, topic string, partitions []string) (*ser.Endpoint, error) {
	return d.ser.RegisterWriter(local, g, topic, partitions)
}

func (d *Domain) RegisterReader(local *pss.Local, g guid.GUID, topic string, partitions []string) (*ser.Endpoint, error) {
	return d.ser.RegisterReader(local, g, topic, partitions)
}

// MatchRemoteWriterEnabled and MatchRemoteReaderEnabled run the §4.4
// 8-step endpoint-match admission.
func (d *Domain) MatchRemoteWriterEnabled(reader *ser.Endpoint, remoteWriter ser.RemoteEndpointInfo, opts ser.MatchOptions) (bool, []plugin.Token, error) {
	return d.ser.MatchRemoteWriterEnabled(reader, remoteWriter, opts)
}

func (d *Domain) MatchRemoteReaderEnabled(writer *ser.Endpoint, remoteReader ser.RemoteEndpointInfo, opts ser.MatchOptions) (bool, []plugin.Token, error) {
	return d.ser.MatchRemoteReaderEnabled(writer, remoteReader, opts)
}

// DeregisterEndpoint tears down an endpoint's security record.
func (d *Domain) DeregisterEndpoint(ep *ser.Endpoint) []error {
	return d.ser.Deregister(ep)
}

// Endpoint looks up a registered endpoint's security record by GUID.
func (d *Domain) Endpoint(g guid.GUID) (*ser.Endpoint, bool) {
	return d.ser.Endpoint(g)
}

// EncodeSerializedPayload and DecodeSerializedPayload are the §4.5
// payload-protection transform.
func (d *Domain) EncodeSerializedPayload(writer *ser.Endpoint, plain []byte) ([]byte, error) {
	return d.stp.EncodeSerializedPayload(writer, plain)
}

func (d *Domain) DecodeSerializedPayload(reader *ser.Endpoint, writerCryptoHandle handle.Handle, cipher []byte) ([]byte, error) {
	return d.stp.DecodeSerializedPayload(reader, writerCryptoHandle, cipher)
}

// EncodeReaderSubmessage and EncodeWriterSubmessage are the §4.5
// submessage-protection transform, iterating on the crypto plugin's
// requested index.
func (d *Domain) EncodeReaderSubmessage(reader *ser.Endpoint, destPrefix *guid.Prefix, plain []byte) ([]stp.Segment, error) {
	return d.stp.EncodeReaderSubmessage(reader, destPrefix, plain)
}

func (d *Domain) EncodeWriterSubmessage(writer *ser.Endpoint, destPrefix *guid.Prefix, plain []byte) ([]stp.Segment, error) {
	return d.stp.EncodeWriterSubmessage(writer, destPrefix, plain)
}

// EncodeRTPSMessage is the §4.5 whole-message transform.
func (d *Domain) EncodeRTPSMessage(local *pss.Local, dest *handle.Handle, plain []byte) ([]stp.Segment, error) {
	return d.stp.EncodeRTPSMessage(local, d.pss, dest, plain)
}

// DecodeRTPSMessage and DecodeRTPSMessageForRemote reverse
// EncodeRTPSMessage for a known or enumerated remote.
func (d *Domain) DecodeRTPSMessage(local *pss.Local, remoteParticipantCryptoHandle handle.Handle, cipher []byte) ([]byte, error) {
	return d.stp.DecodeRTPSMessage(local, remoteParticipantCryptoHandle, cipher)
}

func (d *Domain) DecodeRTPSMessageForRemote(remote guid.GUID, cipher []byte) ([]byte, *pss.Local, error) {
	return d.stp.DecodeRTPSMessageForRemote(d.pss, remote, cipher)
}

// DecodeProtectedSubmessage reverses EncodeReaderSubmessage /
// EncodeWriterSubmessage for one SEC_PREFIX/SEC_BODY/SEC_POSTFIX triplet.
func (d *Domain) DecodeProtectedSubmessage(localParticipantCryptoHandle handle.Handle, t stp.Triplet) (stp.Submessage, error) {
	return d.stp.DecodeProtectedSubmessage(d.pss, localParticipantCryptoHandle, t)
}

// ValidateMsgDecoding and ValidateRTPSMessageDecoding expose the §4.5
// validate_msg_decoding clauses; they take no Domain state since the
// underlying check is pure.
func ValidateMsgDecoding(requiresProtection bool, preceding stp.Kind) error {
	return stp.ValidateMsgDecoding(requiresProtection, preceding)
}

func ValidateRTPSMessageDecoding(remoteRTPSProtected, decodedAtIngress bool) error {
	return stp.ValidateRTPSMessageDecoding(remoteRTPSProtected, decodedAtIngress)
}
