package stp

import (
	"sort"
	"time"

	"github.com/sage-x-project/ddsec/internal/metrics"
	"github.com/sage-x-project/ddsec/rtps/guid"
	"github.com/sage-x-project/ddsec/security/errs"
	"github.com/sage-x-project/ddsec/security/handle"
	"github.com/sage-x-project/ddsec/security/plugin"
	"github.com/sage-x-project/ddsec/security/pss"
	"github.com/sage-x-project/ddsec/security/ser"
)

// observeOp records an operation's outcome and duration under op.
func observeOp(op string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.STPOperations.WithLabelValues(op, outcome).Inc()
	metrics.STPOperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// Pipeline is the Secure Transform Pipeline. It holds no state of its
// own beyond the plugin capabilities and the endpoint registry it needs
// to resolve crypto handles; every encode/decode call is independent and
// safe to call concurrently for unrelated entities, matching §4.5's
// concurrency note.
type Pipeline struct {
	caps *plugin.Capabilities
	ser  *ser.Registry
}

// New returns a Pipeline bound to caps and the Secure Endpoint Registry
// it resolves matched crypto handles through.
func New(caps *plugin.Capabilities, registry *ser.Registry) *Pipeline {
	return &Pipeline{caps: caps, ser: registry}
}

// EncodeSerializedPayload encodes plain under writer's crypto handle. A
// writer that isn't payload-protected passes plain through unchanged:
// this operation is a no-op for such writers, not an error.
func (p *Pipeline) EncodeSerializedPayload(writer *ser.Endpoint, plain []byte) (cipher []byte, err error) {
	start := time.Now()
	metrics.STPPayloadSize.WithLabelValues("encode").Observe(float64(len(plain)))
	defer func() { observeOp("encode_payload", start, err) }()

	if writer.Attrs.Security&plugin.AttrIsPayloadProtected == 0 {
		return plain, nil
	}
	if writer.CryptoHandle.IsNil() {
		err = errs.New(errs.KindInternal, "payload-protected writer has no crypto handle", nil)
		return nil, err
	}
	cipher, err = p.caps.CryptoPlugin().EncodeSerializedPayload(writer.CryptoHandle, plain)
	if err != nil {
		err = errs.New(errs.KindSubmessageProtectionViolation, "encode serialized payload", err)
		return nil, err
	}
	return cipher, nil
}

// DecodeSerializedPayload reverses EncodeSerializedPayload. writerCryptoHandle
// is the matched remote writer's crypto handle from the EMT entry.
func (p *Pipeline) DecodeSerializedPayload(reader *ser.Endpoint, writerCryptoHandle handle.Handle, cipher []byte) (plain []byte, err error) {
	start := time.Now()
	defer func() { observeOp("decode_payload", start, err) }()

	if reader.Attrs.Security&plugin.AttrIsPayloadProtected == 0 {
		return cipher, nil
	}
	plain, err = p.caps.CryptoPlugin().DecodeSerializedPayload(reader.CryptoHandle, writerCryptoHandle, cipher)
	if err != nil {
		err = errs.New(errs.KindSubmessageProtectionViolation, "decode serialized payload", err)
		return nil, err
	}
	metrics.STPPayloadSize.WithLabelValues("decode").Observe(float64(len(plain)))
	return plain, nil
}

// encodeCall is one crypto-plugin encode invocation in the
// iterate-on-index protocol: encode plain (nil after the first call)
// against receivers starting at startIndex, returning the last index the
// call covered.
type encodeCall func(startIndex int, plain []byte) (cipher []byte, usedIndex int, err error)

// iterateEncode drives the iterate-on-index protocol §4.5 describes: a
// call covering receivers[start:usedIndex+1] is followed by another
// starting at usedIndex+1 with a nil plaintext, until every receiver is
// covered. An empty receiver list aborts the encode outright.
func iterateEncode(receivers []handle.Handle, plain []byte, call encodeCall) ([]Segment, error) {
	if len(receivers) == 0 {
		return nil, errs.New(errs.KindSubmessageProtectionViolation, "encode aborted: empty receiver list", nil)
	}
	var segments []Segment
	start := 0
	chunk := plain
	for start < len(receivers) {
		cipher, used, err := call(start, chunk)
		if err != nil {
			return nil, errs.New(errs.KindSubmessageProtectionViolation, "encode submessage", err)
		}
		if used < start || used >= len(receivers) {
			return nil, errs.New(errs.KindInternal, "crypto plugin returned an out-of-range encode index", nil)
		}
		group := append([]handle.Handle(nil), receivers[start:used+1]...)
		segments = append(segments, Segment{Cipher: cipher, Receivers: group})
		start = used + 1
		chunk = nil
	}
	return segments, nil
}

// EncodeReaderSubmessage snapshots reader's matched writer crypto
// handles (optionally restricted to one remote GUID prefix), flattens
// plain (the submessage plus its trailing payload) and encodes it for
// every matched writer, iterating as the crypto plugin requests.
func (p *Pipeline) EncodeReaderSubmessage(reader *ser.Endpoint, destPrefix *guid.Prefix, plain []byte) (segs []Segment, err error) {
	start := time.Now()
	defer func() { observeOp("encode_submessage", start, err) }()
	receivers := reader.MatchedCryptoHandles(destPrefix)
	crypto := p.caps.CryptoPlugin()
	segs, err = iterateEncode(receivers, plain, func(startIdx int, chunk []byte) ([]byte, int, error) {
		return crypto.EncodeDatareaderSubmessage(reader.CryptoHandle, receivers, startIdx, chunk)
	})
	return segs, err
}

// EncodeWriterSubmessage is EncodeReaderSubmessage's symmetric
// counterpart over a writer's matched readers.
func (p *Pipeline) EncodeWriterSubmessage(writer *ser.Endpoint, destPrefix *guid.Prefix, plain []byte) (segs []Segment, err error) {
	start := time.Now()
	defer func() { observeOp("encode_submessage", start, err) }()
	receivers := writer.MatchedCryptoHandles(destPrefix)
	crypto := p.caps.CryptoPlugin()
	segs, err = iterateEncode(receivers, plain, func(startIdx int, chunk []byte) ([]byte, int, error) {
		return crypto.EncodeDatawriterSubmessage(writer.CryptoHandle, receivers, startIdx, chunk)
	})
	return segs, err
}

// EncodeRTPSMessage encodes plain for dest, or for every remote
// participant local has authenticated with when dest is nil — an
// enumeration captured under pss.State's read lock (DQ-3). The whole
// call brackets local's participant crypto handle with
// Local.AcquireCryptoUse, so a DeregisterParticipant racing this call
// waits for it to finish instead of tearing the handle down underneath
// it (§8 scenario 4).
func (p *Pipeline) EncodeRTPSMessage(local *pss.Local, state *pss.State, dest *handle.Handle, plain []byte) (segs []Segment, err error) {
	opStart := time.Now()
	defer func() { observeOp("encode_rtps", opStart, err) }()

	release := local.AcquireCryptoUse()
	defer release()

	var receivers []handle.Handle
	if dest != nil {
		receivers = []handle.Handle{*dest}
	} else {
		receivers = state.RemoteParticipantCryptoHandles(local)
	}
	crypto := p.caps.CryptoPlugin()
	segs, err = iterateEncode(receivers, plain, func(startIdx int, chunk []byte) ([]byte, int, error) {
		return crypto.EncodeRTPSMessage(local.ParticipantCryptoHandle, receivers, startIdx, chunk)
	})
	return segs, err
}

// DecodeRTPSMessage reverses EncodeRTPSMessage for a known remote, under
// the same Local.AcquireCryptoUse bracket as the encode side.
func (p *Pipeline) DecodeRTPSMessage(local *pss.Local, remoteParticipantCryptoHandle handle.Handle, cipher []byte) (plain []byte, err error) {
	start := time.Now()
	defer func() { observeOp("decode_rtps", start, err) }()

	release := local.AcquireCryptoUse()
	defer release()

	plain, err = p.caps.CryptoPlugin().DecodeRTPSMessage(local.ParticipantCryptoHandle, remoteParticipantCryptoHandle, cipher)
	if err != nil {
		err = errs.New(errs.KindSubmessageProtectionViolation, "decode rtps message", err)
		return nil, err
	}
	return plain, nil
}

// DecodeRTPSMessageForRemote tries every local participant that has
// authenticated with remote, stopping at the first successful decode.
// A single remote participant can map to several locals (distinct
// domains or configurations sharing a process), so a decode failure
// against one candidate is not conclusive; only once every candidate has
// failed is the message dropped.
func (p *Pipeline) DecodeRTPSMessageForRemote(state *pss.State, remote guid.GUID, cipher []byte) ([]byte, *pss.Local, error) {
	proxy, ok := state.Proxy(remote)
	if !ok || !proxy.Authenticated() {
		return nil, nil, errs.New(errs.KindSubmessageProtectionViolation, "rtps message from unknown or unauthenticated remote", nil)
	}

	locals := state.AllLocals()
	sort.Slice(locals, func(i, j int) bool { return locals[i].GUID.Compare(locals[j].GUID) < 0 })

	var lastErr error
	for _, local := range locals {
		match, ok := proxy.Match(local.ParticipantCryptoHandle)
		if !ok {
			continue
		}
		plain, err := p.DecodeRTPSMessage(local, match.RemoteParticipantCryptoHandle, cipher)
		if err == nil {
			return plain, local, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errs.New(errs.KindSubmessageProtectionViolation, "remote has no matching local participant", nil)
	}
	return nil, nil, lastErr
}

// padSubmessage replaces a triplet with a single PAD submessage sized to
// its total wire length, so a submessage-unaware iterator resumes at the
// next boundary.
func padSubmessage(t Triplet) Submessage {
	metrics.STPSubmessagesPadded.Inc()
	return Submessage{Kind: KindPad, Payload: make([]byte, t.totalLen())}
}

// DecodeProtectedSubmessage decodes one SEC_PREFIX/SEC_BODY/SEC_POSTFIX
// triplet: it preprocesses the prefix to discover the submessage
// category and the remote's crypto handle, resolves the matched
// (local, remote) crypto handle pair through the endpoint registry, and
// dispatches to the category-appropriate decode. On any failure the
// triplet is replaced with a single PAD submessage — a signature-failed
// or otherwise undecodable plaintext is never delivered — and the
// error is returned so the caller can log it. Brackets
// localParticipantCryptoHandle with state.AcquireParticipantCryptoUse,
// since the caller only has the bare handle this early, not a *pss.Local.
func (p *Pipeline) DecodeProtectedSubmessage(state *pss.State, localParticipantCryptoHandle handle.Handle, t Triplet) (sub Submessage, err error) {
	start := time.Now()
	defer func() { observeOp("decode_submessage", start, err) }()

	release, _ := state.AcquireParticipantCryptoUse(localParticipantCryptoHandle)
	defer release()

	crypto := p.caps.CryptoPlugin()

	category, remoteHandle, err := crypto.PreprocessSecureSubmsg(localParticipantCryptoHandle, t.Prefix.Payload)
	if err != nil {
		err = errs.New(errs.KindSubmessageProtectionViolation, "preprocess secure submessage", err)
		return padSubmessage(t), err
	}

	entry, ok := p.ser.EntryForRemoteCrypto(remoteHandle)
	if !ok {
		err = errs.New(errs.KindSubmessageProtectionViolation, "secure prefix names an unregistered remote crypto handle", nil)
		return padSubmessage(t), err
	}
	localCrypto, remoteCrypto := entry.Handles()

	var plain []byte
	switch category {
	case plugin.CategoryDatawriterSubmessage:
		plain, err = crypto.DecodeDatawriterSubmessage(localCrypto, remoteCrypto, t.Body.Payload)
	case plugin.CategoryDatareaderSubmessage:
		plain, err = crypto.DecodeDatareaderSubmessage(localCrypto, remoteCrypto, t.Body.Payload)
	default:
		err = errs.New(errs.KindSubmessageProtectionViolation, "unexpected category inside a submessage triplet", nil)
		return padSubmessage(t), err
	}
	if err != nil {
		err = errs.New(errs.KindSubmessageProtectionViolation, "decode secure submessage body", err)
		return padSubmessage(t), err
	}
	return Submessage{Kind: KindPlain, Payload: plain}, nil
}

// ValidateMsgDecoding implements `validate_msg_decoding`'s submessage
// clause: if requiresProtection (the local endpoint's security info
// demands submessage protection), the immediately preceding submessage
// in the receive stream must have been SEC_PREFIX. Receiving the
// protected submessage directly, without the triplet framing, is an
// authentication failure rather than silently accepted plaintext.
func ValidateMsgDecoding(requiresProtection bool, preceding Kind) error {
	if requiresProtection && preceding != KindSecPrefix {
		return errs.New(errs.KindSubmessageProtectionViolation, "protected submessage received without a preceding SEC_PREFIX", nil)
	}
	return nil
}

// ValidateRTPSMessageDecoding implements `validate_msg_decoding`'s
// whole-message clause: if the remote is RTPS-protected, the message
// must already have been decoded at ingress (SRTPS_PREFIX handling); a
// plaintext ingress from such a remote is dropped rather than processed.
func ValidateRTPSMessageDecoding(remoteRTPSProtected, decodedAtIngress bool) error {
	if remoteRTPSProtected && !decodedAtIngress {
		return errs.New(errs.KindSubmessageProtectionViolation, "rtps-protected remote sent an undecoded message", nil)
	}
	return nil
}
