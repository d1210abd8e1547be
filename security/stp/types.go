// Package stp implements the Secure Transform Pipeline: the
// encode/decode operations that turn a plaintext payload, submessage or
// whole RTPS message into its protected wire form and back, using the
// crypto handles security/ser and security/pss have already matched.
package stp

import "github.com/sage-x-project/ddsec/security/handle"

// Kind distinguishes a submessage in the receive stream. Real RTPS
// submessage IDs are a single octet in the wire header; these stand in
// for the subset the pipeline needs to reason about, since the
// byte-level submessage walker (wire/opcode) is a separate concern.
type Kind byte

const (
	KindPlain Kind = iota
	KindSecPrefix
	KindSecBody
	KindSecPostfix
	KindPad
	KindSRTPSPrefix
	KindSRTPSPostfix
)

// Submessage is one element of the receive-stream iterator STP walks.
// Payload is the submessage's own body, excluding its header.
type Submessage struct {
	Kind    Kind
	Payload []byte
}

// Triplet is the three-submessage framing §4.5 describes for a
// protected submessage on the wire: metadata, then either ciphertext or
// a plaintext signed-only body, then a MAC/signature trailer.
type Triplet struct {
	Prefix  Submessage // KindSecPrefix
	Body    Submessage // KindSecBody, or the plaintext target submessage if signed-only
	Postfix Submessage // KindSecPostfix
}

// totalLen is the combined wire length of the triplet's three payloads,
// used to size the single PAD submessage a failed decode replaces it
// with.
func (t Triplet) totalLen() int {
	return len(t.Prefix.Payload) + len(t.Body.Payload) + len(t.Postfix.Payload)
}

// Segment is one ciphertext produced by a single iterate-on-index encode
// call, addressed to the subgroup of receivers that call covered
// (receivers[start:usedIndex+1]).
type Segment struct {
	Cipher    []byte
	Receivers []handle.Handle
}
