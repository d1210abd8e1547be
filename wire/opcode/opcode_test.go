package opcode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstructionAccessors(t *testing.T) {
	// [ADR, SEQ, 4BY, KEY] offset=0
	instr := Instruction(uint32(OpADR) | uint32(TypeSEQ)<<shiftType | uint32(Type4BY)<<shiftSubtype | flagKey)
	assert.Equal(t, OpADR, instr.Op())
	assert.Equal(t, TypeSEQ, instr.Type())
	assert.Equal(t, Type4BY, instr.Subtype())
	assert.True(t, instr.Key())
	assert.False(t, instr.Optional())
	assert.False(t, instr.External())
}

func TestInstructionFloatingPointSignedAndStorageSize(t *testing.T) {
	// DEF and FP share bit 1; on a union instruction this is HasDefault,
	// on a floating-point 8BY field it's FloatingPoint. The accessor just
	// reads the bit, same as the C flag it mirrors.
	fp := Instruction(uint32(OpADR) | uint32(Type8BY)<<shiftType | flagFloatingPoint)
	assert.True(t, fp.FloatingPoint())
	assert.True(t, fp.HasDefault())
	assert.False(t, fp.Signed())

	signed := Instruction(uint32(OpADR) | uint32(Type4BY)<<shiftType | flagSigned)
	assert.True(t, signed.Signed())
	assert.False(t, signed.FloatingPoint())

	for size := uint8(0); size < 4; size++ {
		instr := Instruction(uint32(OpADR) | uint32(TypeENU)<<shiftType | uint32(size)<<flagSizeShift)
		assert.Equal(t, size, instr.StorageSize())
	}
}

func TestInstructionExternalFlag(t *testing.T) {
	instr := Instruction(uint32(OpADR) | uint32(TypeEXT)<<shiftType | 1<<23)
	assert.True(t, instr.External())
	assert.Equal(t, TypeEXT, instr.Type())
}

func TestJumpIsSignedLengthIsUnsigned(t *testing.T) {
	instr := Instruction(0xfffe) // low 16 bits = -2 signed, 65534 unsigned
	assert.Equal(t, int16(-2), instr.Jump())
	assert.Equal(t, uint16(65534), instr.Length())
}

func TestValidateRejectsExternalSequenceElement(t *testing.T) {
	prog := Program{
		Instruction(uint32(OpADR) | uint32(TypeSEQ)<<shiftType | uint32(TypeEXT)<<shiftSubtype),
		Instruction(uint32(OpRTS)),
	}
	err := prog.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "EXT")
}

func TestValidateAcceptsPlainSequenceElement(t *testing.T) {
	prog := Program{
		Instruction(uint32(OpADR) | uint32(TypeSEQ)<<shiftType | uint32(Type4BY)<<shiftSubtype),
		Instruction(uint32(OpRTS)),
	}
	assert.NoError(t, prog.Validate())
}

func TestValidateRejectsOutOfRangeJSR(t *testing.T) {
	prog := Program{
		Instruction(uint32(OpJSR) | uint32(int16(100))&maskJmp),
		Instruction(uint32(OpRTS)),
	}
	err := prog.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JSR")
}

func TestKeyOffsetsDecodesFollowingWords(t *testing.T) {
	prog := Program{
		Instruction(uint32(OpKOF) | 2), // n = 2
		Instruction(4),
		Instruction(8),
		Instruction(uint32(OpRTS)),
	}
	offsets, err := prog.KeyOffsets(0)
	require.NoError(t, err)
	require.Len(t, offsets, 2)
	assert.Equal(t, int16(4), offsets[0].Offset)
	assert.Equal(t, int16(8), offsets[1].Offset)
}

func TestKeyOffsetsRejectsNonKOFInstruction(t *testing.T) {
	prog := Program{Instruction(uint32(OpRTS))}
	_, err := prog.KeyOffsets(0)
	assert.Error(t, err)
}

func TestKeyOffsetsRejectsTruncatedStream(t *testing.T) {
	prog := Program{Instruction(uint32(OpKOF) | 3), Instruction(1)}
	_, err := prog.KeyOffsets(0)
	assert.Error(t, err)
}

func TestWalkFollowsJSRAndStopsAtRTS(t *testing.T) {
	prog := Program{
		Instruction(uint32(OpADR)),     // 0
		Instruction(uint32(OpJSR) | 3), // 1: jump +3 -> offset 4
		Instruction(uint32(OpADR)),     // 2 (skipped)
		Instruction(uint32(OpADR)),     // 3 (skipped)
		Instruction(uint32(OpRTS)),     // 4
	}
	var visited []int
	prog.Walk(0, func(offset int, instr Instruction) bool {
		visited = append(visited, offset)
		return true
	})
	assert.Equal(t, []int{0, 1, 4}, visited)
}

func TestWalkCanStopEarly(t *testing.T) {
	prog := Program{
		Instruction(uint32(OpADR)),
		Instruction(uint32(OpADR)),
		Instruction(uint32(OpRTS)),
	}
	var visited []int
	prog.Walk(0, func(offset int, instr Instruction) bool {
		visited = append(visited, offset)
		return offset < 1
	})
	assert.Equal(t, []int{0, 1}, visited)
}

func TestOpAndTypeStringers(t *testing.T) {
	assert.Equal(t, "ADR", OpADR.String())
	assert.Equal(t, "SEQ", TypeSEQ.String())
	assert.Contains(t, Op(0xff<<24).String(), "Op(")
}
