// Package handshake drives the discovery-triggered exchange that promotes
// a newly discovered remote participant to authenticated, per §4.6's
// discovered -> identified -> authenticated path: the higher-GUID side
// announces itself with an Invitation carrying its identity token, the
// lower-GUID side then owns begin_handshake_request (matching the
// Authentication plugin's own convention), the higher side replies, and
// whichever side finishes its half of the exchange registers the match
// through security/pss on its own. Each in-flight exchange is tracked
// under a generated context id the way the teacher tracks a session id,
// and a cleanup loop reclaims any exchange whose peer goes quiet before
// completion, returning the acquired handshake handle to its plugin
// rather than leaving it admitted nowhere (§8 scenario 3).
package handshake

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sage-x-project/ddsec/internal/metrics"
	"github.com/sage-x-project/ddsec/rtps/guid"
	"github.com/sage-x-project/ddsec/security/errs"
	"github.com/sage-x-project/ddsec/security/handle"
	"github.com/sage-x-project/ddsec/security/plugin"
	"github.com/sage-x-project/ddsec/security/pss"
)

// recordFailure reports a handshake-stage failure to HandshakesFailed,
// labeled by err's taxonomy Kind when it carries one.
func recordFailure(err error) {
	errType := "unknown"
	if e, ok := err.(*errs.Error); ok {
		errType = string(e.Kind)
	}
	metrics.HandshakesFailed.WithLabelValues(errType).Inc()
}

// Phase identifies which leg of the exchange a Message carries.
type Phase int

const (
	PhaseInvitation Phase = iota + 1
	PhaseRequest
	PhaseResponse
)

func (p Phase) String() string {
	switch p {
	case PhaseInvitation:
		return "invitation"
	case PhaseRequest:
		return "request"
	case PhaseResponse:
		return "response"
	default:
		return "unknown"
	}
}

// Message is the wire envelope this package sends over the builtin
// participant stateless-message endpoints. ContextID correlates the
// Request/Response pair of one exchange attempt; From/To address it by
// participant GUID, the same vocabulary every other RTPS builtin endpoint
// uses.
type Message struct {
	Phase          Phase
	ContextID      string
	From, To       guid.GUID
	IdentityToken  plugin.Token
	HandshakeToken plugin.Token
}

// Transport delivers a Message to the participant it names in To. A real
// deployment implements this over the builtin ParticipantStatelessMessage
// writer; test and demo harnesses wire two Coordinators to each other's
// Deliver method directly.
type Transport interface {
	Send(Message) error
}

// pendingHandshake is the requester's in-flight state between the
// Request it sent and the Response that completes it, analogous to the
// teacher's pendingState entry.
type pendingHandshake struct {
	local           *pss.Local
	remote          guid.GUID
	remoteIdentity  handle.Handle
	handshakeHandle handle.Handle
	expires         time.Time
}

// Coordinator drives handshake exchanges for participants registered
// against a shared security/pss State and plugin.Capabilities set. A
// Coordinator has no notion of which Locals are "its own": in line with
// how every other package in this tree exercises the fake plugins, one
// State is shared by every participant in the test or demo process, and
// Coordinator only needs each side's GUID to resolve the right Local at
// each step. A deployment where each participant genuinely lives in its
// own process additionally needs the Authentication plugin to mint a
// local handle for a foreign identity token (DDS-Security's
// validate_remote_identity); this plugin pack exposes no such call, so
// that step is out of scope here rather than faked.
type Coordinator struct {
	state     *pss.State
	caps      *plugin.Capabilities
	transport Transport
	ttl       time.Duration

	mu      sync.Mutex
	pending map[string]pendingHandshake

	stop chan struct{}
}

// New returns a Coordinator bound to state and caps, sending outbound
// messages through transport. ttl bounds how long a sent Request waits
// for its Response before the cleanup loop discards it; ttl <= 0 uses a
// 30-second default.
func New(caps *plugin.Capabilities, state *pss.State, transport Transport, ttl time.Duration) *Coordinator {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	c := &Coordinator{
		state:     state,
		caps:      caps,
		transport: transport,
		ttl:       ttl,
		pending:   make(map[string]pendingHandshake),
		stop:      make(chan struct{}),
	}
	go c.cleanupLoop(ttl)
	return c
}

// Close stops the cleanup loop. It does not touch any handshake already
// admitted; in-flight ones are abandoned as if their peer had vanished.
func (c *Coordinator) Close() {
	close(c.stop)
}

// Begin starts discovery-driven admission between local and remote, both
// already known to the shared State. Only the higher-GUID side actually
// sends anything: the lower-GUID side has nothing to hand
// BeginHandshakeRequest until it receives the higher side's identity
// token, so calling Begin symmetrically from both directions is safe and
// expected — exactly one call does work.
func (c *Coordinator) Begin(local, remote *pss.Local) error {
	if local.GUID.Compare(remote.GUID) <= 0 {
		return nil
	}
	start := time.Now()
	token, err := c.caps.Auth().GetIdentityToken(local.IdentityHandle)
	if err != nil {
		err = errs.New(errs.KindIdentityRejected, "get identity token for invitation", err)
		recordFailure(err)
		return err
	}
	metrics.HandshakesInitiated.WithLabelValues("initiator").Inc()
	err = c.transport.Send(Message{
		Phase:         PhaseInvitation,
		ContextID:     uuid.NewString(),
		From:          local.GUID,
		To:            remote.GUID,
		IdentityToken: token,
	})
	metrics.HandshakeDuration.WithLabelValues("invitation").Observe(time.Since(start).Seconds())
	if err != nil {
		recordFailure(err)
	}
	return err
}

// Deliver handles an inbound Message, dispatching on its phase the way
// the teacher's SendMessage does.
func (c *Coordinator) Deliver(msg Message) error {
	switch msg.Phase {
	case PhaseInvitation:
		return c.onInvitation(msg)
	case PhaseRequest:
		return c.onRequest(msg)
	case PhaseResponse:
		return c.onResponse(msg)
	default:
		return errs.New(errs.KindInternal, "unknown handshake phase", nil)
	}
}

func (c *Coordinator) resolve(from, to guid.GUID) (*pss.Local, *pss.Local, error) {
	toLocal, ok := c.state.Local(to)
	if !ok {
		return nil, nil, errs.New(errs.KindInternal, "handshake message addressed to unknown local participant", nil)
	}
	fromLocal, ok := c.state.Local(from)
	if !ok {
		return nil, nil, errs.New(errs.KindInternal, "handshake message from a participant this coordinator cannot resolve", nil)
	}
	return toLocal, fromLocal, nil
}

// onInvitation receives the higher-GUID side's identity token and, as
// the lower-GUID side, begins the handshake request.
func (c *Coordinator) onInvitation(msg Message) error {
	start := time.Now()
	defer func() { metrics.HandshakeDuration.WithLabelValues("request").Observe(time.Since(start).Seconds()) }()

	to, from, err := c.resolve(msg.From, msg.To)
	if err != nil {
		recordFailure(err)
		return err
	}

	handshakeHandle, reqToken, done, err := c.caps.Auth().BeginHandshakeRequest(to.IdentityHandle, msg.IdentityToken)
	if err != nil {
		err = errs.New(errs.KindHandshakeFailed, "begin handshake request", err)
		recordFailure(err)
		return err
	}
	if done {
		err = errs.New(errs.KindInternal, "begin handshake request completed without a reply round trip", nil)
		recordFailure(err)
		return err
	}
	metrics.HandshakesInitiated.WithLabelValues("responder").Inc()

	ctxID := uuid.NewString()
	c.mu.Lock()
	c.pending[ctxID] = pendingHandshake{
		local:           to,
		remote:          from.GUID,
		remoteIdentity:  from.IdentityHandle,
		handshakeHandle: handshakeHandle,
		expires:         time.Now().Add(c.ttl),
	}
	c.mu.Unlock()

	return c.transport.Send(Message{
		Phase:          PhaseRequest,
		ContextID:      ctxID,
		From:           to.GUID,
		To:             from.GUID,
		HandshakeToken: reqToken,
	})
}

// onRequest receives the lower-GUID side's request token, replies, and
// — since BeginHandshakeReply always completes in one round trip for
// this plugin vocabulary — admits the remote immediately rather than
// waiting on anything further.
func (c *Coordinator) onRequest(msg Message) error {
	start := time.Now()
	defer func() { metrics.HandshakeDuration.WithLabelValues("response").Observe(time.Since(start).Seconds()) }()

	to, from, err := c.resolve(msg.From, msg.To)
	if err != nil {
		recordFailure(err)
		return err
	}

	handshakeHandle, replyToken, done, err := c.caps.Auth().BeginHandshakeReply(to.IdentityHandle, msg.HandshakeToken)
	if err != nil {
		err = errs.New(errs.KindHandshakeFailed, "begin handshake reply", err)
		recordFailure(err)
		return err
	}
	if !done {
		err = errs.New(errs.KindInternal, "begin handshake reply did not complete in one round trip", nil)
		recordFailure(err)
		return err
	}

	if err := c.admit(to, from, handshakeHandle); err != nil {
		return err
	}

	if err := c.transport.Send(Message{
		Phase:          PhaseResponse,
		ContextID:      msg.ContextID,
		From:           to.GUID,
		To:             from.GUID,
		HandshakeToken: replyToken,
	}); err != nil {
		recordFailure(err)
		return err
	}
	return nil
}

// onResponse completes the requester's side: it takes the pending
// handshake that matches msg.ContextID, finishes the handshake exchange,
// and admits the remote.
func (c *Coordinator) onResponse(msg Message) error {
	start := time.Now()
	defer func() { metrics.HandshakeDuration.WithLabelValues("finalize").Observe(time.Since(start).Seconds()) }()

	c.mu.Lock()
	pending, ok := c.pending[msg.ContextID]
	if ok {
		delete(c.pending, msg.ContextID)
	}
	c.mu.Unlock()
	if !ok {
		err := errs.New(errs.KindHandshakeFailed, "response for an unknown or expired handshake context", nil)
		recordFailure(err)
		return err
	}

	_, done, err := c.caps.Auth().ProcessHandshake(pending.handshakeHandle, msg.HandshakeToken)
	if err != nil {
		err = errs.New(errs.KindHandshakeFailed, "process handshake response", err)
		recordFailure(err)
		return err
	}
	if !done {
		err := errs.New(errs.KindInternal, "process handshake response did not complete", nil)
		recordFailure(err)
		return err
	}

	remote, ok := c.state.Local(pending.remote)
	if !ok {
		err := errs.New(errs.KindInternal, "handshake remote vanished before admission", nil)
		recordFailure(err)
		return err
	}
	return c.admit(pending.local, remote, pending.handshakeHandle)
}

// admit derives the shared secret from a completed handshake and runs
// the §4.3 RegisterRemoteParticipant admission for local's view of
// remote.
func (c *Coordinator) admit(local, remote *pss.Local, handshakeHandle handle.Handle) error {
	secretHandle, err := c.caps.Auth().GetSharedSecret(handshakeHandle)
	if err != nil {
		err = errs.New(errs.KindHandshakeFailed, "get shared secret", err)
		recordFailure(err)
		metrics.HandshakesCompleted.WithLabelValues("failure").Inc()
		return err
	}
	if err := c.state.RegisterRemoteParticipant(local, remote.GUID, remote.IdentityHandle, handshakeHandle, secretHandle); err != nil {
		recordFailure(err)
		metrics.HandshakesCompleted.WithLabelValues("failure").Inc()
		return err
	}
	metrics.HandshakesCompleted.WithLabelValues("success").Inc()
	return nil
}

// cleanupLoop sweeps pending handshakes past their expiry every d,
// returning each abandoned handshake handle to its plugin so a peer that
// vanished mid-exchange (§8 scenario 3) leaves no live handle behind.
func (c *Coordinator) cleanupLoop(d time.Duration) {
	t := time.NewTicker(d)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			c.sweep()
		case <-c.stop:
			return
		}
	}
}

func (c *Coordinator) sweep() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, p := range c.pending {
		if now.After(p.expires) {
			delete(c.pending, id)
			_ = c.caps.Auth().ReturnHandshakeHandle(p.handshakeHandle)
			metrics.HandshakesFailed.WithLabelValues("timeout").Inc()
		}
	}
}
