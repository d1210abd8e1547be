// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.

// Package plugin defines the capability vocabulary injected into the
// security core: Authentication, AccessControl and Crypto. The core never
// constructs key material or makes a trust decision itself — every such
// call crosses one of these three interfaces, and the core's only job is
// to sequence the calls correctly and hold the handles they return.
package plugin

import "fmt"

// Token is a generic (class, properties) data holder, the shape every
// identity/permissions/crypto token takes when it crosses a plugin
// boundary or the wire. It mirrors the teacher's property-bag session
// metadata rather than inventing per-token struct types.
type Token struct {
	Class            string
	Properties       map[string]string
	BinaryProperties map[string][]byte
}

// Get returns a string property, or "" if absent.
func (t Token) Get(key string) string {
	if t.Properties == nil {
		return ""
	}
	return t.Properties[key]
}

// GetBinary returns a binary property, or nil if absent.
func (t Token) GetBinary(key string) []byte {
	if t.BinaryProperties == nil {
		return nil
	}
	return t.BinaryProperties[key]
}

// Attr bits composing a SecurityAttributes mask. Bit 0 is always the
// validity flag; the remaining bits are protection-kind flags whose
// meaning depends on whether the mask describes a participant or an
// endpoint (§3).
type Attr uint32

const (
	// AttrValid marks the remaining bits as meaningful. A mask with this
	// bit clear is "unknown/don't care" and is compatible with anything.
	AttrValid Attr = 1 << iota
	AttrIsRTPSProtected
	AttrIsDiscoveryProtected
	AttrIsLivelinessProtected
	AttrIsSubmessageProtected
	AttrIsPayloadProtected
	AttrIsKeyProtected
	AttrIsOriginAuthenticated
)

// SecurityAttributes is the (plugin-mask, security-mask) pair §3
// attaches to every participant and endpoint: which protections the
// plugin is *capable* of, and which the deployment actually *requires*.
type SecurityAttributes struct {
	Plugin   Attr
	Security Attr
}

// Compatible implements the §3 compatibility rule: two attribute sets
// are compatible when they're equal, or when at least one side has its
// validity bit clear (meaning "no opinion").
func (a SecurityAttributes) Compatible(other SecurityAttributes) bool {
	if a.Security&AttrValid == 0 || other.Security&AttrValid == 0 {
		return true
	}
	return a == other
}

func (a Attr) String() string {
	return fmt.Sprintf("0x%x", uint32(a))
}

// Exception is a plugin's (code, message) failure pair, the same pair
// errs.FromPlugin takes. No code in this repository constructs one.
type Exception struct {
	Code    int32
	Message string
}

func (e *Exception) Error() string {
	return fmt.Sprintf("plugin exception %d: %s", e.Code, e.Message)
}
