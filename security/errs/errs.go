// Package errs implements the §7 error taxonomy for the security core. It
// is deliberately small and sentinel-based (rather than the teacher's single
// catch-all SageError struct) so call sites can errors.Is/errors.As against
// a specific admission-path failure instead of string-matching a code.
package errs

import "fmt"

// Kind distinguishes the taxonomy buckets of §7.
type Kind string

const (
	// KindNotConfigured means a required plugin is absent; the operation
	// silently permits the insecure path only when config allows it.
	KindNotConfigured Kind = "NotConfigured"
	// KindIdentityRejected is an authentication-path failure validating a
	// remote identity.
	KindIdentityRejected Kind = "IdentityRejected"
	// KindPermissionsRejected is an authentication-path failure validating
	// remote permissions.
	KindPermissionsRejected Kind = "PermissionsRejected"
	// KindHandshakeFailed covers a failed handshake exchange.
	KindHandshakeFailed Kind = "HandshakeFailed"
	// KindCryptoRegistrationFailed covers a failed crypto-factory call.
	KindCryptoRegistrationFailed Kind = "CryptoRegistrationFailed"
	// KindTokenApplyFailed covers a failed token-install call.
	KindTokenApplyFailed Kind = "TokenApplyFailed"
	// KindSubmessageProtectionViolation is a receive-time structural
	// failure; the surrounding RTPS message is discarded.
	KindSubmessageProtectionViolation Kind = "SubmessageProtectionViolation"
	// KindPluginException wraps a plugin (code, message) pair.
	KindPluginException Kind = "PluginException"
	// KindInternal is an invariant broken in the core.
	KindInternal Kind = "Internal"
)

// Error is a taxonomy-tagged error. Use errors.Is against the Kind
// sentinels below, or errors.As to recover the Kind/Cause.
type Error struct {
	Kind   Kind
	Msg    string
	Cause  error
	Plugin *PluginFault // set only by FromPlugin, whatever the Kind
}

// PluginFault carries a plugin's own (code, message) exception payload.
type PluginFault struct {
	Code    int32
	Message string
}

func (e *Error) Error() string {
	if e.Plugin != nil {
		return fmt.Sprintf("%s: %s (plugin code=%d msg=%q)", e.Kind, e.Msg, e.Plugin.Code, e.Plugin.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is implements errors.Is against the sentinel Kind values exposed below:
// errors.Is(err, errs.IdentityRejected) reports whether err's Kind matches.
func (e *Error) Is(target error) bool {
	sentinel, ok := target.(*Error)
	if !ok {
		return false
	}
	return sentinel.Msg == "" && sentinel.Cause == nil && sentinel.Plugin == nil && e.Kind == sentinel.Kind
}

func sentinel(k Kind) *Error { return &Error{Kind: k} }

// Sentinels for errors.Is comparisons; construct specific errors with the
// New* helpers below instead of returning these directly.
var (
	NotConfigured                = sentinel(KindNotConfigured)
	IdentityRejected              = sentinel(KindIdentityRejected)
	PermissionsRejected           = sentinel(KindPermissionsRejected)
	HandshakeFailed               = sentinel(KindHandshakeFailed)
	CryptoRegistrationFailed      = sentinel(KindCryptoRegistrationFailed)
	TokenApplyFailed              = sentinel(KindTokenApplyFailed)
	SubmessageProtectionViolation = sentinel(KindSubmessageProtectionViolation)
	Internal                      = sentinel(KindInternal)
)

// New builds a Kind-tagged error with a message and optional cause.
func New(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

// FromPlugin wraps a plugin exception, mapping it to the taxonomy kind the
// call site determines (required vs. best-effort operations map to
// different kinds per §7).
func FromPlugin(kind Kind, msg string, code int32, pluginMsg string) *Error {
	return &Error{Kind: kind, Msg: msg, Plugin: &PluginFault{Code: code, Message: pluginMsg}}
}
