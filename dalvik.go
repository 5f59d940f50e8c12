package apkparser

import "fmt"

// DalvikInsn is one decoded instruction unit: its opcode, the name from
// the documented Dalvik set (or a generic fallback), and the code-unit
// offset and length it occupies in a code_item's insns array.
type DalvikInsn struct {
	Offset int // in 16-bit code units from the start of insns
	Opcode byte
	Name   string
	Units  int // instruction length in 16-bit code units
}

// dalvikOpcodes names the opcode byte values documented in §4.9. Opcodes
// not listed here (reserved bytes, unused slots) fall back to a generic
// "op_0xNN" label, matching the §4.10 disassembler's approach for
// unnamed JVM opcodes.
var dalvikOpcodes = map[byte]string{
	0x00: "nop",
	0x01: "move", 0x02: "move/from16", 0x03: "move/16",
	0x04: "move-wide", 0x05: "move-wide/from16", 0x06: "move-wide/16",
	0x07: "move-object", 0x08: "move-object/from16", 0x09: "move-object/16",
	0x0a: "move-result", 0x0b: "move-result-wide", 0x0c: "move-result-object",
	0x0d: "move-exception",
	0x0e: "return-void", 0x0f: "return", 0x10: "return-wide", 0x11: "return-object",
	0x12: "const/4", 0x13: "const/16", 0x14: "const",
	0x15: "const/high16", 0x16: "const-wide/16", 0x17: "const-wide/32",
	0x18: "const-wide", 0x19: "const-wide/high16",
	0x1a: "const-string", 0x1b: "const-string/jumbo", 0x1c: "const-class",
	0x1d: "monitor-enter", 0x1e: "monitor-exit",
	0x1f: "check-cast", 0x20: "instance-of", 0x21: "array-length",
	0x22: "new-instance", 0x23: "new-array", 0x24: "filled-new-array",
	0x25: "filled-new-array/range", 0x26: "fill-array-data",
	0x27: "throw",
	0x28: "goto", 0x29: "goto/16", 0x2a: "goto/32",
	0x2b: "packed-switch", 0x2c: "sparse-switch",
	0x2d: "cmpl-float", 0x2e: "cmpg-float", 0x2f: "cmpl-double",
	0x30: "cmpg-double", 0x31: "cmp-long",
	0x32: "if-eq", 0x33: "if-ne", 0x34: "if-lt", 0x35: "if-ge", 0x36: "if-gt", 0x37: "if-le",
	0x38: "if-eqz", 0x39: "if-nez", 0x3a: "if-ltz", 0x3b: "if-gez", 0x3c: "if-gtz", 0x3d: "if-lez",
	0x44: "aget", 0x45: "aget-wide", 0x46: "aget-object", 0x47: "aget-boolean",
	0x48: "aget-byte", 0x49: "aget-char", 0x4a: "aget-short",
	0x4b: "aput", 0x4c: "aput-wide", 0x4d: "aput-object", 0x4e: "aput-boolean",
	0x4f: "aput-byte", 0x50: "aput-char", 0x51: "aput-short",
	0x52: "iget", 0x53: "iget-wide", 0x54: "iget-object", 0x55: "iget-boolean",
	0x56: "iget-byte", 0x57: "iget-char", 0x58: "iget-short",
	0x59: "iput", 0x5a: "iput-wide", 0x5b: "iput-object", 0x5c: "iput-boolean",
	0x5d: "iput-byte", 0x5e: "iput-char", 0x5f: "iput-short",
	0x60: "sget", 0x61: "sget-wide", 0x62: "sget-object", 0x63: "sget-boolean",
	0x64: "sget-byte", 0x65: "sget-char", 0x66: "sget-short",
	0x67: "sput", 0x68: "sput-wide", 0x69: "sput-object", 0x6a: "sput-boolean",
	0x6b: "sput-byte", 0x6c: "sput-char", 0x6d: "sput-short",
	0x6e: "invoke-virtual", 0x6f: "invoke-super", 0x70: "invoke-direct",
	0x71: "invoke-static", 0x72: "invoke-interface",
	0x74: "invoke-virtual/range", 0x75: "invoke-super/range", 0x76: "invoke-direct/range",
	0x77: "invoke-static/range", 0x78: "invoke-interface/range",
	0x7b: "neg-int", 0x7c: "not-int", 0x7d: "neg-long", 0x7e: "not-long",
	0x7f: "neg-float", 0x80: "neg-double",
	0x81: "int-to-long", 0x82: "int-to-float", 0x83: "int-to-double",
	0x84: "long-to-int", 0x85: "long-to-float", 0x86: "long-to-double",
	0x87: "float-to-int", 0x88: "float-to-long", 0x89: "float-to-double",
	0x8a: "double-to-int", 0x8b: "double-to-long", 0x8c: "double-to-float",
	0x8d: "int-to-byte", 0x8e: "int-to-char", 0x8f: "int-to-short",
	0x90: "add-int", 0x91: "sub-int", 0x92: "mul-int", 0x93: "div-int", 0x94: "rem-int",
	0x95: "and-int", 0x96: "or-int", 0x97: "xor-int", 0x98: "shl-int", 0x99: "shr-int", 0x9a: "ushr-int",
	0x9b: "add-long", 0x9c: "sub-long", 0x9d: "mul-long", 0x9e: "div-long", 0x9f: "rem-long",
	0xa0: "and-long", 0xa1: "or-long", 0xa2: "xor-long", 0xa3: "shl-long", 0xa4: "shr-long", 0xa5: "ushr-long",
	0xa6: "add-float", 0xa7: "sub-float", 0xa8: "mul-float", 0xa9: "div-float", 0xaa: "rem-float",
	0xab: "add-double", 0xac: "sub-double", 0xad: "mul-double", 0xae: "div-double", 0xaf: "rem-double",
}

// dalvikUnits returns the instruction-unit length (number of 16-bit code
// units, including the opcode unit itself) for a given opcode, per the
// Dalvik executable format's documented instruction formats. The
// variable-length packed-switch/sparse-switch/fill-array-data payload
// pseudo-instructions are not opcodes and are not sized here;
// ScanDalvikCode does not recognize them either, so a payload embedded in
// insns is scanned as if it were ordinary instructions.
func dalvikUnits(op byte) int {
	switch {
	case op == 0x00 || op == 0x01 || op == 0x04 || op == 0x07 || (op >= 0x0a && op <= 0x11) ||
		op == 0x12 || op == 0x1d || op == 0x1e || op == 0x21 || op == 0x27 ||
		op == 0x28 ||
		(op >= 0x7b && op <= 0x8f) || (op >= 0xb0 && op <= 0xcf):
		return 1

	case op == 0x02 || op == 0x05 || op == 0x08 || op == 0x13 || op == 0x15 || op == 0x16 || op == 0x19 ||
		op == 0x1a || op == 0x1c || op == 0x1f || op == 0x20 ||
		op == 0x22 || op == 0x23 ||
		op == 0x29 ||
		(op >= 0x2d && op <= 0x3d) || (op >= 0x44 && op <= 0x6d) || (op >= 0x90 && op <= 0xaf) ||
		(op >= 0xd0 && op <= 0xe2):
		return 2

	case op == 0x03 || op == 0x06 || op == 0x09 || op == 0x14 || op == 0x17 || op == 0x1b || (op >= 0x24 && op <= 0x26) ||
		op == 0x2a || op == 0x2b || op == 0x2c:
		return 3

	case op == 0x18:
		return 5

	case (op >= 0x6e && op <= 0x72) || (op >= 0x74 && op <= 0x78):
		return 3

	default:
		return 1
	}
}

// ScanDalvikCode walks a code_item's instruction stream unit by unit,
// classifying each opcode's length and advancing past it without
// decoding operands, per the §4.9 scan policy.
func ScanDalvikCode(insns []uint16) ([]DalvikInsn, error) {
	var out []DalvikInsn
	i := 0
	for i < len(insns) {
		op := byte(insns[i] & 0xff)
		units := dalvikUnits(op)
		if units <= 0 {
			return nil, fmt.Errorf("invalid instruction unit length for opcode 0x%02x at offset %d", op, i)
		}

		name, ok := dalvikOpcodes[op]
		if !ok {
			name = fmt.Sprintf("op_0x%02x", op)
		}

		out = append(out, DalvikInsn{Offset: i, Opcode: op, Name: name, Units: units})

		if i+units > len(insns) {
			return nil, fmt.Errorf("instruction at offset %d (%s, %d units) overruns code (%d units total)", i, name, units, len(insns))
		}
		i += units
	}
	return out, nil
}
