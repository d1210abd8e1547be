// Package opcode decodes the topic-descriptor instruction stream §6 of the
// wire surface describes: the compiled form idlc emits for a type's
// (de)serialization program. This package only reads that stream — it does
// not compile IDL or drive (de)serialization itself — which is what SER and
// STP need to locate key-member offsets and to validate a descriptor before
// trusting it.
package opcode

import "fmt"

// Instruction is one 32-bit word of a Program.
type Instruction uint32

// Op identifies the instruction's top-level kind, the DDS_OP_MASK byte
// (bits 31..24).
type Op uint32

const (
	OpRTS  Op = 0x00 << 24
	OpADR  Op = 0x01 << 24
	OpJSR  Op = 0x02 << 24
	OpJEQ  Op = 0x03 << 24
	OpDLC  Op = 0x04 << 24
	OpPLC  Op = 0x05 << 24
	OpPLM  Op = 0x06 << 24
	OpKOF  Op = 0x07 << 24
	OpJEQ4 Op = 0x08 << 24
)

func (o Op) String() string {
	switch o {
	case OpRTS:
		return "RTS"
	case OpADR:
		return "ADR"
	case OpJSR:
		return "JSR"
	case OpJEQ:
		return "JEQ"
	case OpDLC:
		return "DLC"
	case OpPLC:
		return "PLC"
	case OpPLM:
		return "PLM"
	case OpKOF:
		return "KOF"
	case OpJEQ4:
		return "JEQ4"
	default:
		return fmt.Sprintf("Op(%#x)", uint32(o))
	}
}

// Type identifies a field's primary or subtype typecode.
type Type uint32

const (
	Type1BY Type = 0x01
	Type2BY Type = 0x02
	Type4BY Type = 0x03
	Type8BY Type = 0x04
	TypeSTR Type = 0x05
	TypeBST Type = 0x06
	TypeSEQ Type = 0x07
	TypeARR Type = 0x08
	TypeUNI Type = 0x09
	TypeSTU Type = 0x0a
	TypeBSQ Type = 0x0b
	TypeENU Type = 0x0c
	TypeEXT Type = 0x0d
)

// Masks and shifts, per dds_opcodes.h.
const (
	maskOp             = 0xff000000
	maskTypeFlags      = 0x00800000
	maskType           = 0x007f0000
	maskSubtype        = 0x0000ff00
	maskJmp            = 0x0000ffff
	maskFlags          = 0x000000ff
	shiftType          = 16
	shiftSubtype       = 8
	flagKey            = 1 << 0
	flagDef            = 1 << 1
	flagFloatingPoint  = 1 << 1
	flagSigned         = 1 << 2
	flagMustUnderstand = 1 << 3
	flagBase           = 1 << 4
	flagOptional       = 1 << 5
	flagSizeShift      = 6
	flagSizeMask       = 3 << flagSizeShift
)

// Op returns the instruction's top-level opcode.
func (i Instruction) Op() Op { return Op(uint32(i) & maskOp) }

// Type returns the ADR/JEQ primary typecode.
func (i Instruction) Type() Type { return Type((uint32(i) & maskType) >> shiftType) }

// Subtype returns the SEQ/ARR/BSQ/UNI element or discriminant typecode.
func (i Instruction) Subtype() Type { return Type((uint32(i) & maskSubtype) >> shiftSubtype) }

// Flags returns the low 8 flag bits (key, default/floating-point, signed,
// must-understand, base, optional, enum/bitmask storage size).
func (i Instruction) Flags() uint8 { return uint8(uint32(i) & maskFlags) }

// External reports whether the type-flags bit (DDS_OP_FLAG_EXT) is set,
// meaning the field is stored as a pointer rather than inline.
func (i Instruction) External() bool { return uint32(i)&maskTypeFlags != 0 }

// Key reports whether DDS_OP_FLAG_KEY is set on this instruction's flags.
func (i Instruction) Key() bool { return i.Flags()&flagKey != 0 }

// MustUnderstand reports whether DDS_OP_FLAG_MU is set.
func (i Instruction) MustUnderstand() bool { return i.Flags()&flagMustUnderstand != 0 }

// Optional reports whether DDS_OP_FLAG_OPT is set.
func (i Instruction) Optional() bool { return i.Flags()&flagOptional != 0 }

// Base reports whether DDS_OP_FLAG_BASE is set (PLM base-type jump, or the
// TYPE_EXT parent member in final/appendable types).
func (i Instruction) Base() bool { return i.Flags()&flagBase != 0 }

// HasDefault reports whether DDS_OP_FLAG_DEF is set on a UNI instruction.
func (i Instruction) HasDefault() bool { return i.Flags()&flagDef != 0 }

// FloatingPoint reports whether DDS_OP_FLAG_FP is set, applicable to 4BY/8BY
// fields (and arrays/sequences of them). It shares bit 1 with DDS_OP_FLAG_DEF;
// which meaning applies depends on the instruction's Type/Op, same as the C
// layout this mirrors.
func (i Instruction) FloatingPoint() bool { return i.Flags()&flagFloatingPoint != 0 }

// Signed reports whether DDS_OP_FLAG_SGN is set, applicable to
// 1BY/2BY/4BY/8BY fields (and arrays/sequences of them).
func (i Instruction) Signed() bool { return i.Flags()&flagSigned != 0 }

// StorageSize returns the 2-bit DDS_OP_FLAG_SZ_MASK field used on ENU/BSQ
// instructions to record the enum or bitmask's underlying storage size:
// 0 = 1 byte, 1 = 2 bytes, 2 = 4 bytes, 3 = 8 bytes (bitmask only).
func (i Instruction) StorageSize() uint8 { return (i.Flags() & flagSizeMask) >> flagSizeShift }

// Jump returns the signed 16-bit jump/length/offset field the JSR, KOF
// offset count and ADR/JEQ next-instruction words all share one encoding
// for.
func (i Instruction) Jump() int16 { return int16(uint32(i) & maskJmp) }

// Length returns the unsigned reading of the same low 16 bits, used where
// the field is a count or length rather than a signed jump (array length,
// string bound, KOF offset).
func (i Instruction) Length() uint16 { return uint16(uint32(i) & maskJmp) }

// Program is a decoded topic descriptor instruction stream: one []uint32
// exactly as idlc emits it, indexed by instruction offset.
type Program []Instruction

// At returns the instruction at offset, or (0, false) if offset is out of
// range.
func (p Program) At(offset int) (Instruction, bool) {
	if offset < 0 || offset >= len(p) {
		return 0, false
	}
	return p[offset], true
}

// Validate walks the program from instruction 0 and rejects the
// unsupported shapes dds_opcodes.h documents: EXT as the element type of a
// SEQ, ARR, UNI or BSQ field ("*** not supported" in the C comments), and
// any JSR/jump target landing outside the program.
func (p Program) Validate() error {
	for i, instr := range p {
		switch instr.Op() {
		case OpADR:
			if t := instr.Type(); t == TypeSEQ || t == TypeARR || t == TypeUNI || t == TypeBSQ {
				if instr.Subtype() == TypeEXT {
					return fmt.Errorf("opcode: instruction %d: EXT is not a supported %s element type", i, t)
				}
			}
		case OpJSR:
			target := i + int(instr.Jump())
			if target < 0 || target >= len(p) {
				return fmt.Errorf("opcode: instruction %d: JSR target %d out of range", i, target)
			}
		}
	}
	return nil
}

func (t Type) String() string {
	switch t {
	case Type1BY:
		return "1BY"
	case Type2BY:
		return "2BY"
	case Type4BY:
		return "4BY"
	case Type8BY:
		return "8BY"
	case TypeSTR:
		return "STR"
	case TypeBST:
		return "BST"
	case TypeSEQ:
		return "SEQ"
	case TypeARR:
		return "ARR"
	case TypeUNI:
		return "UNI"
	case TypeSTU:
		return "STU"
	case TypeBSQ:
		return "BSQ"
	case TypeENU:
		return "ENU"
	case TypeEXT:
		return "EXT"
	default:
		return fmt.Sprintf("Type(%#x)", uint32(t))
	}
}

// KeyOffset is one entry of a decoded KOF (key offset list) instruction:
// the offset of a key field relative to the previous offset in the list,
// letting a key nested inside a struct chain through several offsets.
type KeyOffset struct {
	Offset int16
}

// KeyOffsets decodes the KOF instruction at offset into its offset list.
// offset must name an instruction whose Op is OpKOF; the list's length n is
// the instruction's Length(), followed immediately by n Jump-encoded
// offset words.
func (p Program) KeyOffsets(offset int) ([]KeyOffset, error) {
	instr, ok := p.At(offset)
	if !ok {
		return nil, fmt.Errorf("opcode: KOF offset %d out of range", offset)
	}
	if instr.Op() != OpKOF {
		return nil, fmt.Errorf("opcode: instruction %d is %s, not KOF", offset, instr.Op())
	}
	n := int(instr.Length())
	out := make([]KeyOffset, 0, n)
	for i := 0; i < n; i++ {
		word, ok := p.At(offset + 1 + i)
		if !ok {
			return nil, fmt.Errorf("opcode: KOF at %d declares %d offsets but the stream ends early", offset, n)
		}
		out = append(out, KeyOffset{Offset: word.Jump()})
	}
	return out, nil
}

// Walk calls visit once for every instruction reachable by linear scan
// starting at entry, advancing one instruction at a time and jumping to JSR
// targets, stopping at RTS. visit returning false stops the walk early. Walk does
// not protect against cyclic JSR chains beyond the single pass JSR
// recursion bound idlc itself enforces; Validate should be called first on
// any program obtained from an untrusted source.
func (p Program) Walk(entry int, visit func(offset int, instr Instruction) bool) {
	offset := entry
	for {
		instr, ok := p.At(offset)
		if !ok {
			return
		}
		if !visit(offset, instr) {
			return
		}
		switch instr.Op() {
		case OpRTS:
			return
		case OpJSR:
			offset += int(instr.Jump())
			continue
		default:
			offset++
		}
	}
}
