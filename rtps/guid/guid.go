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

// Package guid implements the RTPS GUID: a 12-byte participant prefix plus a
// 4-byte entity id, with bitwise equality and lexicographic ordering used as
// the canonical key order across the security core's maps.
package guid

import (
	"bytes"
	"encoding/hex"
	"fmt"
)

// PrefixSize is the length in bytes of the participant-unique prefix.
const PrefixSize = 12

// EntityIDSize is the length in bytes of the entity id within a participant.
const EntityIDSize = 4

// Size is the total GUID length.
const Size = PrefixSize + EntityIDSize

// ParticipantEntityID is the reserved entity-id identifying a participant
// itself rather than one of its endpoints.
var ParticipantEntityID = [EntityIDSize]byte{0x00, 0x00, 0x01, 0xc1}

// Prefix identifies a participant; every GUID issued by that participant
// shares the same prefix.
type Prefix [PrefixSize]byte

// EntityID identifies an entity (participant or endpoint) within a participant.
type EntityID [EntityIDSize]byte

// GUID is the 16-byte identifier of a participant or one of its endpoints.
type GUID struct {
	Prefix   Prefix
	EntityID EntityID
}

// Unknown is the all-zero GUID, never issued to a real entity.
var Unknown GUID

// New builds a GUID from a prefix and entity id.
func New(prefix Prefix, entityID EntityID) GUID {
	return GUID{Prefix: prefix, EntityID: entityID}
}

// ParticipantGUID builds the GUID a participant uses to identify itself.
func ParticipantGUID(prefix Prefix) GUID {
	return GUID{Prefix: prefix, EntityID: EntityID(ParticipantEntityID)}
}

// IsParticipant reports whether g names a participant rather than an endpoint.
func (g GUID) IsParticipant() bool {
	return g.EntityID == EntityID(ParticipantEntityID)
}

// IsUnknown reports whether g is the zero value.
func (g GUID) IsUnknown() bool {
	return g == Unknown
}

// Bytes returns the 16-byte wire representation, prefix first.
func (g GUID) Bytes() [Size]byte {
	var out [Size]byte
	copy(out[:PrefixSize], g.Prefix[:])
	copy(out[PrefixSize:], g.EntityID[:])
	return out
}

// Compare returns -1, 0 or 1 comparing g and other lexicographically over
// the concatenated prefix+entity-id bytes. This is the canonical key
// ordering used by every map keyed on a GUID or GUID pair in the core.
func (g GUID) Compare(other GUID) int {
	a, b := g.Bytes(), other.Bytes()
	return bytes.Compare(a[:], b[:])
}

// Equal reports bitwise equality.
func (g GUID) Equal(other GUID) bool {
	return g == other
}

// String renders the GUID as hex prefix:entity-id, e.g. "aabbcc...:000001c1".
func (g GUID) String() string {
	return fmt.Sprintf("%s:%s", hex.EncodeToString(g.Prefix[:]), hex.EncodeToString(g.EntityID[:]))
}

// Pair is a directed (source, destination) GUID pair, the canonical key of
// the Entity Match Table and of per-match crypto handle lookups.
type Pair struct {
	Src GUID
	Dst GUID
}

// Compare orders pairs by source first, then destination, matching the
// "ordered by concatenated GUID pair" requirement of the Entity Match Table.
func (p Pair) Compare(other Pair) int {
	if c := p.Src.Compare(other.Src); c != 0 {
		return c
	}
	return p.Dst.Compare(other.Dst)
}

// Key returns a value suitable for use as a Go map key (GUID already is
// comparable, but Pair embeds arrays of arrays which are also comparable;
// Key exists so call sites don't need to know that incidental fact).
func (p Pair) Key() Pair {
	return p
}

func (p Pair) String() string {
	return fmt.Sprintf("%s->%s", p.Src, p.Dst)
}
