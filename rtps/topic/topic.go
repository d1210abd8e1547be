// Package topic carries the topic descriptor flags idlc attaches to a
// generated type: cheap precomputed facts about a type's key and CDR
// encoding that let SER and STP skip work a full opcode walk would
// otherwise require on every sample.
package topic

import "fmt"

// Flags is the topic descriptor flag bitmask (DDS_TOPIC_* in the original
// opcode header).
type Flags uint32

const (
	// FlagNoOptimize disables the fast fixed-layout paths below even when
	// the type would otherwise qualify, e.g. because it carries XTypes
	// metadata the fast path does not account for.
	FlagNoOptimize Flags = 1 << 0

	// FlagFixedKey is set when the type's XCDR1-serialized key is
	// guaranteed to fit in 16 bytes.
	FlagFixedKey Flags = 1 << 1

	// FlagContainsUnion is set when the type, or any type it contains,
	// has a union member.
	FlagContainsUnion Flags = 1 << 2

	// bit 3 is unused; it used to be DDS_TOPIC_DISABLE_TYPECHECK.

	// FlagFixedSize is set when every instance of the type serializes to
	// the same number of bytes.
	FlagFixedSize Flags = 1 << 4

	// FlagFixedKeyXCDR2 is set when the type's XCDR2-serialized key is
	// guaranteed to fit in 16 bytes.
	FlagFixedKeyXCDR2 Flags = 1 << 5

	// FlagXTypesMetadata is set when XTypes metadata is present for this
	// type.
	FlagXTypesMetadata Flags = 1 << 6
)

// MaxFixedKeySize is the largest a key may be and still set FlagFixedKey or
// FlagFixedKeyXCDR2.
const MaxFixedKeySize = 16

// Has reports whether every bit in want is set in f.
func (f Flags) Has(want Flags) bool { return f&want == want }

// NoOptimize reports whether the descriptor opts out of the fast paths
// below regardless of what else it qualifies for.
func (f Flags) NoOptimize() bool { return f.Has(FlagNoOptimize) }

// FixedKeyFits16BXCDR1 reports whether the type's XCDR1 key is guaranteed
// to fit in MaxFixedKeySize bytes, letting the key-hash inline-qos be
// built by copying a fixed-offset span instead of walking KOF offsets.
func (f Flags) FixedKeyFits16BXCDR1() bool { return !f.NoOptimize() && f.Has(FlagFixedKey) }

// FixedKeyFits16BXCDR2 is FixedKeyFits16BXCDR1's XCDR2 counterpart.
func (f Flags) FixedKeyFits16BXCDR2() bool { return !f.NoOptimize() && f.Has(FlagFixedKeyXCDR2) }

// ContainsUnion reports whether the type or a nested type has a union
// member, which rules out several fixed-size assumptions even when
// FixedSize would otherwise be set.
func (f Flags) ContainsUnion() bool { return f.Has(FlagContainsUnion) }

// FixedSize reports whether every instance of the type serializes to the
// same byte length, letting a writer preallocate the serialized buffer.
func (f Flags) FixedSize() bool { return !f.NoOptimize() && f.Has(FlagFixedSize) }

// HasXTypesMetadata reports whether XTypes metadata accompanies the type,
// which forces the slow opcode-walking path regardless of the other
// flags.
func (f Flags) HasXTypesMetadata() bool { return f.Has(FlagXTypesMetadata) }

// FastKeyHashEligible reports whether SER may build a key-protected
// writer's key-hash inline-qos by copying a fixed span rather than walking
// the type's KOF offset list: the descriptor must advertise a fixed key
// under the CDR version in use and carry no XTypes metadata.
func (f Flags) FastKeyHashEligible(xcdr2 bool) bool {
	if f.HasXTypesMetadata() {
		return false
	}
	if xcdr2 {
		return f.FixedKeyFits16BXCDR2()
	}
	return f.FixedKeyFits16BXCDR1()
}

func (f Flags) String() string {
	if f == 0 {
		return "none"
	}
	names := []struct {
		bit  Flags
		name string
	}{
		{FlagNoOptimize, "NoOptimize"},
		{FlagFixedKey, "FixedKey"},
		{FlagContainsUnion, "ContainsUnion"},
		{FlagFixedSize, "FixedSize"},
		{FlagFixedKeyXCDR2, "FixedKeyXCDR2"},
		{FlagXTypesMetadata, "XTypesMetadata"},
	}
	s := ""
	rest := f
	for _, n := range names {
		if rest.Has(n.bit) {
			if s != "" {
				s += "|"
			}
			s += n.name
			rest &^= n.bit
		}
	}
	if rest != 0 {
		if s != "" {
			s += "|"
		}
		s += fmt.Sprintf("%#x", uint32(rest))
	}
	return s
}
