package javaclass

import (
	"fmt"

	"github.com/pkg/errors"
)

// Opcode constants, named per the JVM spec mnemonics. Only the ones this
// decoder needs to special-case are named individually; the no-operand
// majority is handled by a case-list switch in DecodeInstructions.
const (
	opBipush         = 0x10
	opSipush         = 0x11
	opLdc            = 0x12
	opLdcW           = 0x13
	opLdc2W          = 0x14
	opIload          = 0x15
	opLload          = 0x16
	opFload          = 0x17
	opDload          = 0x18
	opAload          = 0x19
	opIstore         = 0x36
	opLstore         = 0x37
	opFstore         = 0x38
	opDstore         = 0x39
	opAstore         = 0x3a
	opIinc           = 0x84
	opIfeq           = 0x99
	opIfne           = 0x9a
	opIflt           = 0x9b
	opIfge           = 0x9c
	opIfgt           = 0x9d
	opIfle           = 0x9e
	opIfIcmpeq       = 0x9f
	opIfIcmpne       = 0xa0
	opIfIcmplt       = 0xa1
	opIfIcmpge       = 0xa2
	opIfIcmpgt       = 0xa3
	opIfIcmple       = 0xa4
	opIfAcmpeq       = 0xa5
	opIfAcmpne       = 0xa6
	opGoto           = 0xa7
	opJsr            = 0xa8
	opRet            = 0xa9
	opTableswitch    = 0xaa
	opLookupswitch   = 0xab
	opGetstatic      = 0xb2
	opPutstatic      = 0xb3
	opGetfield       = 0xb4
	opPutfield       = 0xb5
	opInvokevirtual  = 0xb6
	opInvokespecial  = 0xb7
	opInvokestatic   = 0xb8
	opInvokeinterface = 0xb9
	opInvokedynamic  = 0xba
	opNew            = 0xbb
	opNewarray       = 0xbc
	opAnewarray      = 0xbd
	opCheckcast      = 0xc0
	opInstanceof     = 0xc1
	opWide           = 0xc4
	opMultianewarray = 0xc5
	opIfnull         = 0xc6
	opIfnonnull      = 0xc7
	opGotoW          = 0xc8
	opJsrW           = 0xc9
)

// SwitchPair is one (match, target) entry of a tableswitch/lookupswitch
// jump table. For tableswitch, Match is the synthesized low+i value;
// for lookupswitch it is the explicit stored match value. Target is the
// raw i32 offset as stored (relative to the switch instruction's own
// offset, per the JVM spec) — not yet resolved to an absolute address.
type SwitchPair struct {
	Match  int32
	Target int32
}

// Instruction is one decoded JVM bytecode instruction.
type Instruction struct {
	Opcode byte
	Offset int

	Op1 int32
	Op2 int32

	Pairs []SwitchPair

	// Wide is set when this instruction was read following a wide
	// prefix; Opcode is then the widened opcode, not 0xC4.
	Wide bool
}

// An Instruction does not record its own size: the bytes it occupies are
// the distance from its Offset to the next instruction's Offset (or to
// the end of the code blob for the last one).

// DecodeInstructions decodes a Code attribute's raw bytes into an
// ordered instruction sequence. Per §7's boundary policy: if any read
// would exceed the code blob, the partial list is discarded and a
// single error is returned citing position and blob length.
func DecodeInstructions(code []byte) ([]Instruction, error) {
	r := newReader(code)
	var out []Instruction

	for r.position() < len(code) {
		insn, err := decodeOne(r, len(code))
		if err != nil {
			return nil, err
		}
		out = append(out, insn)
	}

	return out, nil
}

func decodeOne(r *reader, codeLen int) (Instruction, error) {
	offset := r.position()
	opcode, err := r.readU8()
	if err != nil {
		return Instruction{}, newErr(UnexpectedEOF, fmt.Sprintf("code offset %d: truncated opcode", offset), err)
	}

	insn := Instruction{Opcode: opcode, Offset: offset}

	switch opcode {
	case opWide:
		return decodeWide(r, offset)

	case opTableswitch:
		return decodeTableswitch(r, offset)

	case opLookupswitch:
		return decodeLookupswitch(r, offset)

	case opBipush:
		v, err := r.readI8()
		if err != nil {
			return Instruction{}, eofAt(offset, "bipush operand", err)
		}
		insn.Op1 = int32(v)

	case opSipush:
		v, err := r.readI16()
		if err != nil {
			return Instruction{}, eofAt(offset, "sipush operand", err)
		}
		insn.Op1 = int32(v)

	case opLdc:
		v, err := r.readU8()
		if err != nil {
			return Instruction{}, eofAt(offset, "ldc index", err)
		}
		insn.Op1 = int32(v)

	case opLdcW, opLdc2W, opGetstatic, opPutstatic, opGetfield, opPutfield,
		opInvokevirtual, opInvokespecial, opInvokestatic,
		opNew, opAnewarray, opCheckcast, opInstanceof:
		v, err := r.readU16()
		if err != nil {
			return Instruction{}, eofAt(offset, "u16 operand", err)
		}
		insn.Op1 = int32(v)

	case opIload, opLload, opFload, opDload, opAload,
		opIstore, opLstore, opFstore, opDstore, opAstore, opRet:
		v, err := r.readU8()
		if err != nil {
			return Instruction{}, eofAt(offset, "local index", err)
		}
		insn.Op1 = int32(v)

	case opIinc:
		idx, err := r.readU8()
		if err != nil {
			return Instruction{}, eofAt(offset, "iinc index", err)
		}
		delta, err := r.readI8()
		if err != nil {
			return Instruction{}, eofAt(offset, "iinc increment", err)
		}
		insn.Op1 = int32(idx)
		insn.Op2 = int32(delta)

	case opIfeq, opIfne, opIflt, opIfge, opIfgt, opIfle,
		opIfIcmpeq, opIfIcmpne, opIfIcmplt, opIfIcmpge, opIfIcmpgt, opIfIcmple,
		opIfAcmpeq, opIfAcmpne, opGoto, opJsr, opIfnull, opIfnonnull:
		v, err := r.readI16()
		if err != nil {
			return Instruction{}, eofAt(offset, "branch operand", err)
		}
		insn.Op1 = int32(v)

	case opGotoW, opJsrW:
		v, err := r.readI32()
		if err != nil {
			return Instruction{}, eofAt(offset, "wide branch operand", err)
		}
		insn.Op1 = v

	case opInvokeinterface:
		methodRef, err := r.readU16()
		if err != nil {
			return Instruction{}, eofAt(offset, "invokeinterface method ref", err)
		}
		count, err := r.readU8()
		if err != nil {
			return Instruction{}, eofAt(offset, "invokeinterface count", err)
		}
		if _, err := r.readU8(); err != nil { // trailing zero byte
			return Instruction{}, eofAt(offset, "invokeinterface trailing byte", err)
		}
		insn.Op1 = int32(methodRef)
		insn.Op2 = int32(count)

	case opInvokedynamic:
		idx, err := r.readU16()
		if err != nil {
			return Instruction{}, eofAt(offset, "invokedynamic index", err)
		}
		if _, err := r.readU16(); err != nil { // 2 trailing zero bytes
			return Instruction{}, eofAt(offset, "invokedynamic trailing bytes", err)
		}
		insn.Op1 = int32(idx)

	case opNewarray:
		code, err := r.readU8()
		if err != nil {
			return Instruction{}, eofAt(offset, "newarray type", err)
		}
		switch code {
		case 4, 5, 6, 7, 8, 9, 10, 11:
			insn.Op1 = int32(code)
		default:
			return Instruction{}, newErr(UnknownTag, fmt.Sprintf("code offset %d: newarray", offset), errors.Errorf("unknown array type code %d", code))
		}

	case opMultianewarray:
		typeIdx, err := r.readU16()
		if err != nil {
			return Instruction{}, eofAt(offset, "multianewarray type index", err)
		}
		dims, err := r.readU8()
		if err != nil {
			return Instruction{}, eofAt(offset, "multianewarray dimensions", err)
		}
		insn.Op1 = int32(typeIdx)
		insn.Op2 = int32(dims)

	default:
		// No-operand instruction: every remaining documented opcode in
		// the 0x00-0xc3 range plus the reserved 0xca/0xfe/0xff slots.
		// The undefined bytes 0xcb-0xfd are rejected.
		if opcode >= 0xcb && opcode <= 0xfd {
			return Instruction{}, newErr(UnknownTag, fmt.Sprintf("code offset %d: opcode", offset), errors.Errorf("undefined opcode 0x%02x", opcode))
		}
	}

	return insn, nil
}

func eofAt(offset int, what string, cause error) error {
	return newErr(UnexpectedEOF, fmt.Sprintf("code offset %d: truncated %s", offset, what), cause)
}

// decodeWide handles the wide-prefixed instruction family: iload/fload/
// aload/lload/dload/istore/fstore/astore/lstore/dstore/ret take a u16
// index; iinc additionally takes an i16 increment. Any other follow-up
// opcode is a hard error per §4.5.
func decodeWide(r *reader, offset int) (Instruction, error) {
	sub, err := r.readU8()
	if err != nil {
		return Instruction{}, eofAt(offset, "wide sub-opcode", err)
	}

	switch sub {
	case opIload, opLload, opFload, opDload, opAload,
		opIstore, opLstore, opFstore, opDstore, opAstore, opRet:
		idx, err := r.readU16()
		if err != nil {
			return Instruction{}, eofAt(offset, "wide local index", err)
		}
		return Instruction{Opcode: sub, Offset: offset, Op1: int32(idx), Wide: true}, nil

	case opIinc:
		idx, err := r.readU16()
		if err != nil {
			return Instruction{}, eofAt(offset, "wide iinc index", err)
		}
		delta, err := r.readI16()
		if err != nil {
			return Instruction{}, eofAt(offset, "wide iinc increment", err)
		}
		return Instruction{Opcode: sub, Offset: offset, Op1: int32(idx), Op2: int32(delta), Wide: true}, nil

	default:
		return Instruction{}, newErr(StructuralInvariant, fmt.Sprintf("code offset %d: wide", offset), errors.Errorf("opcode 0x%02x cannot follow wide", sub))
	}
}

// switchPadTarget returns the position the first operand must start at;
// the caller derives the alignment padding from it. Per §8: the first
// operand begins at the smallest multiple of 4 strictly greater than
// the switch instruction's own offset.
func switchPadTarget(offset int) int {
	return (offset/4 + 1) * 4
}

func decodeTableswitch(r *reader, offset int) (Instruction, error) {
	target := switchPadTarget(offset)
	pad := target - r.position()
	if pad < 0 || pad > 3 {
		return Instruction{}, newErr(StructuralInvariant, fmt.Sprintf("code offset %d: tableswitch padding", offset), errors.Errorf("computed padding %d out of range", pad))
	}
	if _, err := r.readExact(pad); err != nil {
		return Instruction{}, eofAt(offset, "tableswitch padding", err)
	}

	def, err := r.readI32()
	if err != nil {
		return Instruction{}, eofAt(offset, "tableswitch default", err)
	}
	low, err := r.readI32()
	if err != nil {
		return Instruction{}, eofAt(offset, "tableswitch low", err)
	}
	high, err := r.readI32()
	if err != nil {
		return Instruction{}, eofAt(offset, "tableswitch high", err)
	}
	if high < low {
		return Instruction{}, newErr(StructuralInvariant, fmt.Sprintf("code offset %d: tableswitch", offset), errors.Errorf("high %d < low %d", high, low))
	}

	count := int(high-low) + 1
	pairs := make([]SwitchPair, 0, count)
	for i := 0; i < count; i++ {
		t, err := r.readI32()
		if err != nil {
			return Instruction{}, eofAt(offset, "tableswitch jump offset", err)
		}
		pairs = append(pairs, SwitchPair{Match: low + int32(i), Target: t})
	}

	return Instruction{Opcode: opTableswitch, Offset: offset, Op1: def, Op2: low, Pairs: pairs}, nil
}

func decodeLookupswitch(r *reader, offset int) (Instruction, error) {
	target := switchPadTarget(offset)
	pad := target - r.position()
	if pad < 0 || pad > 3 {
		return Instruction{}, newErr(StructuralInvariant, fmt.Sprintf("code offset %d: lookupswitch padding", offset), errors.Errorf("computed padding %d out of range", pad))
	}
	if _, err := r.readExact(pad); err != nil {
		return Instruction{}, eofAt(offset, "lookupswitch padding", err)
	}

	def, err := r.readI32()
	if err != nil {
		return Instruction{}, eofAt(offset, "lookupswitch default", err)
	}
	npairs, err := r.readI32()
	if err != nil {
		return Instruction{}, eofAt(offset, "lookupswitch npairs", err)
	}
	if npairs < 0 {
		return Instruction{}, newErr(StructuralInvariant, fmt.Sprintf("code offset %d: lookupswitch", offset), errors.Errorf("negative npairs %d", npairs))
	}

	pairs := make([]SwitchPair, 0, npairs)
	for i := int32(0); i < npairs; i++ {
		match, err := r.readI32()
		if err != nil {
			return Instruction{}, eofAt(offset, "lookupswitch match", err)
		}
		t, err := r.readI32()
		if err != nil {
			return Instruction{}, eofAt(offset, "lookupswitch target", err)
		}
		pairs = append(pairs, SwitchPair{Match: match, Target: t})
	}

	return Instruction{Opcode: opLookupswitch, Offset: offset, Op1: def, Pairs: pairs}, nil
}
