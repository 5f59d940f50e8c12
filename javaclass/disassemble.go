package javaclass

import (
	"fmt"
	"io"
	"strings"
)

// mnemonic names the opcodes the disassembler needs to label explicitly;
// everything else falls back to a generic "op_0xNN" label, which keeps
// the renderer usable even for reserved/obscure opcodes without a full
// 200-entry name table duplicated from the decoder.
var mnemonics = map[byte]string{
	0x00: "nop", 0x01: "aconst_null", 0x02: "iconst_m1", 0x03: "iconst_0",
	0x04: "iconst_1", 0x05: "iconst_2", 0x06: "iconst_3", 0x07: "iconst_4", 0x08: "iconst_5",
	0x09: "lconst_0", 0x0a: "lconst_1", 0x0b: "fconst_0", 0x0c: "fconst_1", 0x0d: "fconst_2",
	0x0e: "dconst_0", 0x0f: "dconst_1",
	opBipush: "bipush", opSipush: "sipush", opLdc: "ldc", opLdcW: "ldc_w", opLdc2W: "ldc2_w",
	opIload: "iload", opLload: "lload", opFload: "fload", opDload: "dload", opAload: "aload",
	opIstore: "istore", opLstore: "lstore", opFstore: "fstore", opDstore: "dstore", opAstore: "astore",
	0x57: "pop", 0x58: "pop2", 0x59: "dup", 0x5a: "dup_x1", 0x5b: "dup_x2",
	0x5c: "dup2", 0x5d: "dup2_x1", 0x5e: "dup2_x2", 0x5f: "swap",
	opIinc: "iinc",
	opIfeq: "ifeq", opIfne: "ifne", opIflt: "iflt", opIfge: "ifge", opIfgt: "ifgt", opIfle: "ifle",
	opIfIcmpeq: "if_icmpeq", opIfIcmpne: "if_icmpne", opIfIcmplt: "if_icmplt",
	opIfIcmpge: "if_icmpge", opIfIcmpgt: "if_icmpgt", opIfIcmple: "if_icmple",
	opIfAcmpeq: "if_acmpeq", opIfAcmpne: "if_acmpne",
	opGoto: "goto", opJsr: "jsr", opRet: "ret",
	opTableswitch: "tableswitch", opLookupswitch: "lookupswitch",
	0xac: "ireturn", 0xad: "lreturn", 0xae: "freturn", 0xaf: "dreturn", 0xb0: "areturn", 0xb1: "return",
	opGetstatic: "getstatic", opPutstatic: "putstatic", opGetfield: "getfield", opPutfield: "putfield",
	opInvokevirtual: "invokevirtual", opInvokespecial: "invokespecial", opInvokestatic: "invokestatic",
	opInvokeinterface: "invokeinterface", opInvokedynamic: "invokedynamic",
	opNew: "new", opNewarray: "newarray", opAnewarray: "anewarray",
	0xbe: "arraylength", 0xbf: "athrow",
	opCheckcast: "checkcast", opInstanceof: "instanceof",
	0xc2: "monitorenter", 0xc3: "monitorexit",
	opWide: "wide", opMultianewarray: "multianewarray",
	opIfnull: "ifnull", opIfnonnull: "ifnonnull", opGotoW: "goto_w", opJsrW: "jsr_w",
}

func mnemonicFor(op byte) string {
	if m, ok := mnemonics[op]; ok {
		return m
	}
	return fmt.Sprintf("op_0x%02x", op)
}

// Disassemble renders a decoded ClassFile as text: header, numbered
// constant pool with cross-resolved references, access flags, this/super,
// interfaces, fields, methods (with their instruction stream), and
// class-level attributes. This is the primary sanity-check path named by
// §4.10 — every decoder above is exercised by walking its output here.
func Disassemble(w io.Writer, cf *ClassFile) error {
	fmt.Fprintf(w, "magic: 0x%08X\n", cf.Magic)
	fmt.Fprintf(w, "version: %d.%d\n", cf.MajorVersion, cf.MinorVersion)

	fmt.Fprintf(w, "\nconstant pool (%d entries):\n", cf.ConstantPool.Count())
	for i := 1; i < cf.ConstantPool.Count(); i++ {
		line := renderCPEntry(cf.ConstantPool, uint16(i))
		if line != "" {
			fmt.Fprintf(w, "  #%d = %s\n", i, line)
		}
	}

	thisName, _ := cf.ConstantPool.GetClassName(cf.ThisClass)
	superName, _ := cf.ConstantPool.GetClassName(cf.SuperClass)
	fmt.Fprintf(w, "\naccess_flags: 0x%04X\n", cf.AccessFlags)
	fmt.Fprintf(w, "this_class: #%d // %s\n", cf.ThisClass, thisName)
	fmt.Fprintf(w, "super_class: #%d // %s\n", cf.SuperClass, superName)

	if len(cf.Interfaces) > 0 {
		fmt.Fprintln(w, "interfaces:")
		for _, idx := range cf.Interfaces {
			name, _ := cf.ConstantPool.GetClassName(idx)
			fmt.Fprintf(w, "  #%d // %s\n", idx, name)
		}
	}

	fmt.Fprintf(w, "\nfields (%d):\n", len(cf.Fields))
	for _, f := range cf.Fields {
		fmt.Fprintf(w, "  0x%04X %s %s\n", f.AccessFlags, f.Name, f.Descriptor)
	}

	fmt.Fprintf(w, "\nmethods (%d):\n", len(cf.Methods))
	for _, m := range cf.Methods {
		fmt.Fprintf(w, "  0x%04X %s %s\n", m.AccessFlags, m.Name, m.Descriptor)
		if m.Code != nil {
			renderCode(w, cf.ConstantPool, m.Code)
		}
	}

	if len(cf.Attributes) > 0 {
		fmt.Fprintf(w, "\nclass attributes (%d):\n", len(cf.Attributes))
		for _, a := range cf.Attributes {
			fmt.Fprintf(w, "  %s\n", a.Name)
		}
	}

	return nil
}

func renderCPEntry(cp *ConstantPool, i uint16) string {
	switch e, ok := cp.get(i); {
	case !ok:
		return ""
	case e.Tag == tagUtf8:
		return fmt.Sprintf("Utf8[%s]", e.Utf8Value)
	case e.Tag == tagInteger:
		return fmt.Sprintf("Integer[%d]", e.IntValue)
	case e.Tag == tagFloat:
		return fmt.Sprintf("Float[%g]", e.FloatValue)
	case e.Tag == tagLong:
		return fmt.Sprintf("Long[%d]", e.LongValue)
	case e.Tag == tagDouble:
		return fmt.Sprintf("Double[%g]", e.DoubleValue)
	case e.Tag == tagClass:
		name, _ := cp.GetUtf8(e.Index1)
		return fmt.Sprintf("Class[#%d = %s]", e.Index1, name)
	case e.Tag == tagString:
		s, _ := cp.GetUtf8(e.Index1)
		return fmt.Sprintf("String[#%d = %s]", e.Index1, s)
	case e.Tag == tagFieldRef, e.Tag == tagMethodRef, e.Tag == tagInterfaceMethodRef:
		kind := map[byte]string{tagFieldRef: "Fieldref", tagMethodRef: "Methodref", tagInterfaceMethodRef: "InterfaceMethodref"}[e.Tag]
		className, _ := cp.GetClassName(e.Index1)
		nameIdx, descIdx, _ := cp.GetNameAndType(e.Index2)
		name, _ := cp.GetUtf8(nameIdx)
		desc, _ := cp.GetUtf8(descIdx)
		return fmt.Sprintf("%s[%s.%s:%s]", kind, className, name, desc)
	case e.Tag == tagNameAndType:
		name, _ := cp.GetUtf8(e.Index1)
		desc, _ := cp.GetUtf8(e.Index2)
		return fmt.Sprintf("NameAndType[%s:%s]", name, desc)
	case e.Tag == tagMethodHandle:
		return fmt.Sprintf("MethodHandle[kind=%d, #%d]", e.RefKind, e.Index1)
	case e.Tag == tagMethodType:
		desc, _ := cp.GetUtf8(e.Index1)
		return fmt.Sprintf("MethodType[%s]", desc)
	case e.Tag == tagInvokeDynamic:
		return fmt.Sprintf("InvokeDynamic[bootstrap=#%d, nt=#%d]", e.Index1, e.Index2)
	case e.Tag == tagDynamic:
		return fmt.Sprintf("Dynamic[bootstrap=#%d, nt=#%d]", e.Index1, e.Index2)
	case e.Tag == tagModule:
		name, _ := cp.GetUtf8(e.Index1)
		return fmt.Sprintf("Module[%s]", name)
	case e.Tag == tagPackage:
		name, _ := cp.GetUtf8(e.Index1)
		return fmt.Sprintf("Package[%s]", name)
	default:
		return ""
	}
}

func renderCode(w io.Writer, cp *ConstantPool, code *CodeAttribute) {
	fmt.Fprintf(w, "    max_stack=%d max_locals=%d\n", code.MaxStack, code.MaxLocals)
	for _, insn := range code.Instructions {
		fmt.Fprintf(w, "    %4d: %s\n", insn.Offset, renderInstruction(cp, insn))
	}
	for _, h := range code.ExceptionTable {
		catch := "any"
		if h.CatchType != 0 {
			catch, _ = cp.GetClassName(h.CatchType)
		}
		fmt.Fprintf(w, "    catch [%d,%d) -> %d : %s\n", h.StartPC, h.EndPC, h.HandlerPC, catch)
	}
}

func renderInstruction(cp *ConstantPool, insn Instruction) string {
	name := mnemonicFor(insn.Opcode)
	var sb strings.Builder
	sb.WriteString(name)

	switch insn.Opcode {
	case opGetstatic, opPutstatic, opGetfield, opPutfield:
		cIdx, ntIdx, _ := cp.GetFieldRef(uint16(insn.Op1))
		className, _ := cp.GetClassName(cIdx)
		nameIdx, descIdx, _ := cp.GetNameAndType(ntIdx)
		name, _ := cp.GetUtf8(nameIdx)
		desc, _ := cp.GetUtf8(descIdx)
		fmt.Fprintf(&sb, " #%d // %s.%s:%s", insn.Op1, className, name, desc)
	case opInvokevirtual, opInvokespecial, opInvokestatic:
		cIdx, ntIdx, _ := cp.GetMethodRef(uint16(insn.Op1))
		className, _ := cp.GetClassName(cIdx)
		nameIdx, descIdx, _ := cp.GetNameAndType(ntIdx)
		name, _ := cp.GetUtf8(nameIdx)
		desc, _ := cp.GetUtf8(descIdx)
		fmt.Fprintf(&sb, " #%d // %s.%s:%s", insn.Op1, className, name, desc)
	case opInvokeinterface:
		cIdx, ntIdx, _ := cp.GetInterfaceMethodRef(uint16(insn.Op1))
		className, _ := cp.GetClassName(cIdx)
		nameIdx, descIdx, _ := cp.GetNameAndType(ntIdx)
		name, _ := cp.GetUtf8(nameIdx)
		desc, _ := cp.GetUtf8(descIdx)
		fmt.Fprintf(&sb, " #%d // %s.%s:%s", insn.Op1, className, name, desc)
	case opNew, opAnewarray, opCheckcast, opInstanceof:
		name, _ := cp.GetClassName(uint16(insn.Op1))
		fmt.Fprintf(&sb, " #%d // %s", insn.Op1, name)
	case opLdc, opLdcW, opLdc2W:
		line := renderCPEntry(cp, uint16(insn.Op1))
		fmt.Fprintf(&sb, " #%d // %s", insn.Op1, line)
	case opTableswitch, opLookupswitch:
		fmt.Fprintf(&sb, " default=%d", insn.Op1)
		for _, p := range insn.Pairs {
			fmt.Fprintf(&sb, " %d:%d", p.Match, p.Target)
		}
	default:
		if insn.Op1 != 0 || insn.Op2 != 0 {
			fmt.Fprintf(&sb, " %d", insn.Op1)
			if insn.Op2 != 0 {
				fmt.Fprintf(&sb, ", %d", insn.Op2)
			}
		}
	}

	return sb.String()
}
