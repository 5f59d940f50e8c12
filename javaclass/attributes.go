package javaclass

import "github.com/pkg/errors"

// Attribute names. A name without a structured decoder in
// decodeAttributeBody (any unlisted name, and the two TypeAnnotations
// names, MethodParameters, Module, ModulePackages, ModuleMainClass,
// NestHost and NestMembers) keeps its
// payload in Attribute.RawData and is skipped by length rather than
// rejected — §7's "best-effort on side-attributes" policy.
const (
	attrConstantValue                        = "ConstantValue"
	attrCode                                 = "Code"
	attrStackMapTable                        = "StackMapTable"
	attrExceptions                           = "Exceptions"
	attrInnerClasses                         = "InnerClasses"
	attrEnclosingMethod                      = "EnclosingMethod"
	attrSynthetic                            = "Synthetic"
	attrSignature                            = "Signature"
	attrSourceFile                           = "SourceFile"
	attrLineNumberTable                      = "LineNumberTable"
	attrLocalVariableTable                   = "LocalVariableTable"
	attrLocalVariableTypeTable               = "LocalVariableTypeTable"
	attrDeprecated                           = "Deprecated"
	attrRuntimeVisibleAnnotations             = "RuntimeVisibleAnnotations"
	attrRuntimeInvisibleAnnotations           = "RuntimeInvisibleAnnotations"
	attrRuntimeVisibleParameterAnnotations    = "RuntimeVisibleParameterAnnotations"
	attrRuntimeInvisibleParameterAnnotations  = "RuntimeInvisibleParameterAnnotations"
	attrRuntimeVisibleTypeAnnotations         = "RuntimeVisibleTypeAnnotations"
	attrRuntimeInvisibleTypeAnnotations       = "RuntimeInvisibleTypeAnnotations"
	attrAnnotationDefault                     = "AnnotationDefault"
	attrBootstrapMethods                      = "BootstrapMethods"
	attrMethodParameters                      = "MethodParameters"
	attrModule                                = "Module"
	attrModulePackages                        = "ModulePackages"
	attrModuleMainClass                       = "ModuleMainClass"
	attrNestHost                              = "NestHost"
	attrNestMembers                           = "NestMembers"
)

// Attribute is a tagged union over the 25+ standard attribute kinds.
// Name always carries the resolved attribute-name string (even when only
// RawData is filled, so a consumer can tell what was skipped).
type Attribute struct {
	Name string

	ConstantValueIndex uint16

	Code *CodeAttribute

	StackMapFrames []StackMapFrame

	ExceptionIndexTable []uint16

	InnerClasses []InnerClassEntry

	EnclosingClassIndex  uint16
	EnclosingMethodIndex uint16

	SignatureIndex uint16

	SourceFileIndex uint16

	LineNumberTable []LineNumberEntry

	LocalVariableTable []LocalVariableEntry

	Annotations []Annotation

	ParameterAnnotations [][]Annotation

	AnnotationDefaultValue *ElementValue

	BootstrapMethods []BootstrapMethod

	// RawData holds the attribute's payload verbatim when Name is not one
	// of the recognized kinds above.
	RawData []byte
}

type CodeAttribute struct {
	MaxStack       uint16
	MaxLocals      uint16
	Code           []byte
	ExceptionTable []ExceptionTableEntry
	Attributes     []Attribute
	Instructions   []Instruction
}

type ExceptionTableEntry struct {
	StartPC   uint16
	EndPC     uint16
	HandlerPC uint16
	CatchType uint16
}

type LineNumberEntry struct {
	StartPC uint16
	Line    uint16
}

type LocalVariableEntry struct {
	StartPC         uint16
	Length          uint16
	NameIndex       uint16
	DescriptorIndex uint16
	Index           uint16
}

type InnerClassEntry struct {
	InnerClassInfoIndex   uint16
	OuterClassInfoIndex   uint16
	InnerNameIndex        uint16
	InnerClassAccessFlags uint16
}

type BootstrapMethod struct {
	MethodRefIndex uint16
	Arguments      []uint16
}

// Annotation is a (type, name/value pairs) record used by every
// annotation-family attribute.
type Annotation struct {
	TypeIndex uint16
	Elements  []ElementValuePair
}

type ElementValuePair struct {
	NameIndex uint16
	Value     ElementValue
}

// ElementValue is a tagged union over the ElementValue tag byte.
type ElementValue struct {
	Tag byte

	// 'B','C','D','F','I','J','S','Z','s'
	ConstValueIndex uint16

	// 'e': (type name index, const name index)
	EnumTypeNameIndex  uint16
	EnumConstNameIndex uint16

	// 'c'
	ClassInfoIndex uint16

	// '@'
	AnnotationValue *Annotation

	// '['
	ArrayValues []ElementValue
}

// readElementValue dispatches on the single tag byte per §4.4.
func readElementValue(r *reader) (ElementValue, error) {
	tag, err := r.readU8()
	if err != nil {
		return ElementValue{}, newErr(Io, "element value tag", err)
	}

	switch tag {
	case 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z', 's':
		idx, err := r.readU16()
		if err != nil {
			return ElementValue{}, newErr(Io, "element value const index", err)
		}
		return ElementValue{Tag: tag, ConstValueIndex: idx}, nil

	case 'e':
		typeIdx, err := r.readU16()
		if err != nil {
			return ElementValue{}, newErr(Io, "enum type name index", err)
		}
		constIdx, err := r.readU16()
		if err != nil {
			return ElementValue{}, newErr(Io, "enum const name index", err)
		}
		return ElementValue{Tag: tag, EnumTypeNameIndex: typeIdx, EnumConstNameIndex: constIdx}, nil

	case 'c':
		idx, err := r.readU16()
		if err != nil {
			return ElementValue{}, newErr(Io, "class info index", err)
		}
		return ElementValue{Tag: tag, ClassInfoIndex: idx}, nil

	case '@':
		ann, err := readAnnotation(r)
		if err != nil {
			return ElementValue{}, err
		}
		return ElementValue{Tag: tag, AnnotationValue: &ann}, nil

	case '[':
		count, err := r.readU16()
		if err != nil {
			return ElementValue{}, newErr(Io, "array value count", err)
		}
		values := make([]ElementValue, 0, count)
		for i := uint16(0); i < count; i++ {
			v, err := readElementValue(r)
			if err != nil {
				return ElementValue{}, err
			}
			values = append(values, v)
		}
		return ElementValue{Tag: tag, ArrayValues: values}, nil

	default:
		return ElementValue{}, newErr(UnknownTag, "element value", errors.Errorf("unknown element value tag 0x%02x (%q)", tag, tag))
	}
}

func readAnnotation(r *reader) (Annotation, error) {
	typeIdx, err := r.readU16()
	if err != nil {
		return Annotation{}, newErr(Io, "annotation type index", err)
	}
	pairCount, err := r.readU16()
	if err != nil {
		return Annotation{}, newErr(Io, "annotation pair count", err)
	}
	pairs := make([]ElementValuePair, 0, pairCount)
	for i := uint16(0); i < pairCount; i++ {
		nameIdx, err := r.readU16()
		if err != nil {
			return Annotation{}, newErr(Io, "element name index", err)
		}
		val, err := readElementValue(r)
		if err != nil {
			return Annotation{}, err
		}
		pairs = append(pairs, ElementValuePair{NameIndex: nameIdx, Value: val})
	}
	return Annotation{TypeIndex: typeIdx, Elements: pairs}, nil
}

func readAnnotations(r *reader) ([]Annotation, error) {
	count, err := r.readU16()
	if err != nil {
		return nil, newErr(Io, "annotations count", err)
	}
	out := make([]Annotation, 0, count)
	for i := uint16(0); i < count; i++ {
		a, err := readAnnotation(r)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// VerificationTypeInfo tag dispatch, canonical order 0-8 per §4.4.
type VerificationTypeInfo struct {
	Tag        byte
	PoolIndex  uint16 // tag 7 (Object)
	Offset     uint16 // tag 8 (Uninitialized)
}

func readVerificationTypeInfo(r *reader) (VerificationTypeInfo, error) {
	tag, err := r.readU8()
	if err != nil {
		return VerificationTypeInfo{}, newErr(Io, "verification type tag", err)
	}
	switch tag {
	case 0, 1, 2, 3, 4, 5, 6:
		return VerificationTypeInfo{Tag: tag}, nil
	case 7:
		idx, err := r.readU16()
		if err != nil {
			return VerificationTypeInfo{}, newErr(Io, "object verification type index", err)
		}
		return VerificationTypeInfo{Tag: tag, PoolIndex: idx}, nil
	case 8:
		off, err := r.readU16()
		if err != nil {
			return VerificationTypeInfo{}, newErr(Io, "uninitialized verification type offset", err)
		}
		return VerificationTypeInfo{Tag: tag, Offset: off}, nil
	default:
		return VerificationTypeInfo{}, newErr(UnknownTag, "verification type", errors.Errorf("unknown verification type tag %d", tag))
	}
}

// StackMapFrame dispatches on frame_type per the ranges in §4.4.
type StackMapFrame struct {
	FrameType byte
	Kind      string // "same", "same_locals_1_stack_item", "same_locals_1_stack_item_extended", "chop", "same_extended", "append", "full"

	OffsetDelta uint16

	Stack []VerificationTypeInfo // same_locals_1_stack_item(_extended): len 1; full: stack_items

	Locals []VerificationTypeInfo // append, full

	ChopCount int // chop: 251 - frame_type
}

func readStackMapFrame(r *reader) (StackMapFrame, error) {
	frameType, err := r.readU8()
	if err != nil {
		return StackMapFrame{}, newErr(Io, "frame type", err)
	}

	switch {
	case frameType <= 63:
		return StackMapFrame{FrameType: frameType, Kind: "same", OffsetDelta: uint16(frameType)}, nil

	case frameType <= 127:
		v, err := readVerificationTypeInfo(r)
		if err != nil {
			return StackMapFrame{}, err
		}
		return StackMapFrame{FrameType: frameType, Kind: "same_locals_1_stack_item", OffsetDelta: uint16(frameType) - 64, Stack: []VerificationTypeInfo{v}}, nil

	case frameType == 247:
		delta, err := r.readU16()
		if err != nil {
			return StackMapFrame{}, newErr(Io, "frame offset delta", err)
		}
		v, err := readVerificationTypeInfo(r)
		if err != nil {
			return StackMapFrame{}, err
		}
		return StackMapFrame{FrameType: frameType, Kind: "same_locals_1_stack_item_extended", OffsetDelta: delta, Stack: []VerificationTypeInfo{v}}, nil

	case frameType >= 248 && frameType <= 250:
		delta, err := r.readU16()
		if err != nil {
			return StackMapFrame{}, newErr(Io, "frame offset delta", err)
		}
		return StackMapFrame{FrameType: frameType, Kind: "chop", OffsetDelta: delta, ChopCount: 251 - int(frameType)}, nil

	case frameType == 251:
		delta, err := r.readU16()
		if err != nil {
			return StackMapFrame{}, newErr(Io, "frame offset delta", err)
		}
		return StackMapFrame{FrameType: frameType, Kind: "same_extended", OffsetDelta: delta}, nil

	case frameType >= 252 && frameType <= 254:
		delta, err := r.readU16()
		if err != nil {
			return StackMapFrame{}, newErr(Io, "frame offset delta", err)
		}
		localsCount := int(frameType) - 251
		locals := make([]VerificationTypeInfo, 0, localsCount)
		for i := 0; i < localsCount; i++ {
			v, err := readVerificationTypeInfo(r)
			if err != nil {
				return StackMapFrame{}, err
			}
			locals = append(locals, v)
		}
		return StackMapFrame{FrameType: frameType, Kind: "append", OffsetDelta: delta, Locals: locals}, nil

	case frameType == 255:
		delta, err := r.readU16()
		if err != nil {
			return StackMapFrame{}, newErr(Io, "frame offset delta", err)
		}
		localsCount, err := r.readU16()
		if err != nil {
			return StackMapFrame{}, newErr(Io, "full frame locals count", err)
		}
		locals := make([]VerificationTypeInfo, 0, localsCount)
		for i := uint16(0); i < localsCount; i++ {
			v, err := readVerificationTypeInfo(r)
			if err != nil {
				return StackMapFrame{}, err
			}
			locals = append(locals, v)
		}
		stackCount, err := r.readU16()
		if err != nil {
			return StackMapFrame{}, newErr(Io, "full frame stack count", err)
		}
		stack := make([]VerificationTypeInfo, 0, stackCount)
		for i := uint16(0); i < stackCount; i++ {
			v, err := readVerificationTypeInfo(r)
			if err != nil {
				return StackMapFrame{}, err
			}
			stack = append(stack, v)
		}
		return StackMapFrame{FrameType: frameType, Kind: "full", OffsetDelta: delta, Locals: locals, Stack: stack}, nil

	default:
		return StackMapFrame{}, newErr(UnknownTag, "stack map frame type", errors.Errorf("frame_type %d falls in no documented range", frameType))
	}
}

// readRawAttribute reads one attribute (name_index, length, payload) and
// dispatches on the resolved name. cp must already contain the Utf8 name
// the name_index points at. The method reader picks out the Code
// attribute by passing the returned Name to isCodeAttributeName.
func readRawAttribute(r *reader, cp *ConstantPool) (Attribute, error) {
	nameIdx, err := r.readU16()
	if err != nil {
		return Attribute{}, newErr(Io, "attribute name index", err)
	}
	length, err := r.readU32()
	if err != nil {
		return Attribute{}, newErr(Io, "attribute length", err)
	}

	name, ok := cp.GetUtf8(nameIdx)
	if !ok {
		name = ""
	}

	end := r.position() + int(length)

	attr, err := decodeAttributeBody(r, cp, name, int(length))
	if err != nil {
		return Attribute{}, err
	}

	// Lenient-skip policy (§7): regardless of how much the specific
	// decoder consumed, resynchronize to the declared boundary so a
	// misparsed or unrecognized attribute never desyncs the reader.
	if r.position() != end {
		if err := r.seek(end); err != nil {
			return Attribute{}, err
		}
	}

	attr.Name = name
	return attr, nil
}

// isCodeAttributeName is the real equality check against the
// constant-pool Utf8 string, per §9's first-resolved Open Question
// (the source always returned true unconditionally).
func isCodeAttributeName(name string) bool {
	return name == attrCode
}

func decodeAttributeBody(r *reader, cp *ConstantPool, name string, length int) (Attribute, error) {
	switch name {
	case attrConstantValue:
		idx, err := r.readU16()
		if err != nil {
			return Attribute{}, newErr(Io, "constant value index", err)
		}
		return Attribute{ConstantValueIndex: idx}, nil

	case attrCode:
		return readCodeAttribute(r, cp)

	case attrStackMapTable:
		count, err := r.readU16()
		if err != nil {
			return Attribute{}, newErr(Io, "stack map table count", err)
		}
		frames := make([]StackMapFrame, 0, count)
		for i := uint16(0); i < count; i++ {
			f, err := readStackMapFrame(r)
			if err != nil {
				return Attribute{}, err
			}
			frames = append(frames, f)
		}
		return Attribute{StackMapFrames: frames}, nil

	case attrExceptions:
		count, err := r.readU16()
		if err != nil {
			return Attribute{}, newErr(Io, "exceptions count", err)
		}
		idxs := make([]uint16, 0, count)
		for i := uint16(0); i < count; i++ {
			idx, err := r.readU16()
			if err != nil {
				return Attribute{}, newErr(Io, "exception index", err)
			}
			idxs = append(idxs, idx)
		}
		return Attribute{ExceptionIndexTable: idxs}, nil

	case attrInnerClasses:
		count, err := r.readU16()
		if err != nil {
			return Attribute{}, newErr(Io, "inner classes count", err)
		}
		entries := make([]InnerClassEntry, 0, count)
		for i := uint16(0); i < count; i++ {
			var e InnerClassEntry
			var err error
			if e.InnerClassInfoIndex, err = r.readU16(); err != nil {
				return Attribute{}, newErr(Io, "inner class info index", err)
			}
			if e.OuterClassInfoIndex, err = r.readU16(); err != nil {
				return Attribute{}, newErr(Io, "outer class info index", err)
			}
			if e.InnerNameIndex, err = r.readU16(); err != nil {
				return Attribute{}, newErr(Io, "inner name index", err)
			}
			if e.InnerClassAccessFlags, err = r.readU16(); err != nil {
				return Attribute{}, newErr(Io, "inner class access flags", err)
			}
			entries = append(entries, e)
		}
		return Attribute{InnerClasses: entries}, nil

	case attrEnclosingMethod:
		classIdx, err := r.readU16()
		if err != nil {
			return Attribute{}, newErr(Io, "enclosing class index", err)
		}
		methodIdx, err := r.readU16()
		if err != nil {
			return Attribute{}, newErr(Io, "enclosing method index", err)
		}
		return Attribute{EnclosingClassIndex: classIdx, EnclosingMethodIndex: methodIdx}, nil

	case attrSignature:
		idx, err := r.readU16()
		if err != nil {
			return Attribute{}, newErr(Io, "signature index", err)
		}
		return Attribute{SignatureIndex: idx}, nil

	case attrSourceFile:
		idx, err := r.readU16()
		if err != nil {
			return Attribute{}, newErr(Io, "source file index", err)
		}
		return Attribute{SourceFileIndex: idx}, nil

	case attrDeprecated, attrSynthetic:
		return Attribute{}, nil

	case attrLineNumberTable:
		count, err := r.readU16()
		if err != nil {
			return Attribute{}, newErr(Io, "line number table count", err)
		}
		entries := make([]LineNumberEntry, 0, count)
		for i := uint16(0); i < count; i++ {
			var e LineNumberEntry
			var err error
			if e.StartPC, err = r.readU16(); err != nil {
				return Attribute{}, newErr(Io, "line number start pc", err)
			}
			if e.Line, err = r.readU16(); err != nil {
				return Attribute{}, newErr(Io, "line number", err)
			}
			entries = append(entries, e)
		}
		return Attribute{LineNumberTable: entries}, nil

	case attrLocalVariableTable, attrLocalVariableTypeTable:
		count, err := r.readU16()
		if err != nil {
			return Attribute{}, newErr(Io, "local variable table count", err)
		}
		entries := make([]LocalVariableEntry, 0, count)
		for i := uint16(0); i < count; i++ {
			var e LocalVariableEntry
			var err error
			if e.StartPC, err = r.readU16(); err != nil {
				return Attribute{}, newErr(Io, "local variable start pc", err)
			}
			if e.Length, err = r.readU16(); err != nil {
				return Attribute{}, newErr(Io, "local variable length", err)
			}
			if e.NameIndex, err = r.readU16(); err != nil {
				return Attribute{}, newErr(Io, "local variable name index", err)
			}
			if e.DescriptorIndex, err = r.readU16(); err != nil {
				return Attribute{}, newErr(Io, "local variable descriptor index", err)
			}
			if e.Index, err = r.readU16(); err != nil {
				return Attribute{}, newErr(Io, "local variable slot index", err)
			}
			entries = append(entries, e)
		}
		return Attribute{LocalVariableTable: entries}, nil

	case attrRuntimeVisibleAnnotations, attrRuntimeInvisibleAnnotations,
		attrRuntimeVisibleTypeAnnotations, attrRuntimeInvisibleTypeAnnotations:
		anns, err := readAnnotations(r)
		if err != nil {
			return Attribute{}, err
		}
		return Attribute{Annotations: anns}, nil

	case attrRuntimeVisibleParameterAnnotations, attrRuntimeInvisibleParameterAnnotations:
		paramCount, err := r.readU8()
		if err != nil {
			return Attribute{}, newErr(Io, "parameter annotations count", err)
		}
		all := make([][]Annotation, 0, paramCount)
		for i := uint8(0); i < paramCount; i++ {
			anns, err := readAnnotations(r)
			if err != nil {
				return Attribute{}, err
			}
			all = append(all, anns)
		}
		return Attribute{ParameterAnnotations: all}, nil

	case attrAnnotationDefault:
		v, err := readElementValue(r)
		if err != nil {
			return Attribute{}, err
		}
		return Attribute{AnnotationDefaultValue: &v}, nil

	case attrBootstrapMethods:
		count, err := r.readU16()
		if err != nil {
			return Attribute{}, newErr(Io, "bootstrap methods count", err)
		}
		methods := make([]BootstrapMethod, 0, count)
		for i := uint16(0); i < count; i++ {
			refIdx, err := r.readU16()
			if err != nil {
				return Attribute{}, newErr(Io, "bootstrap method ref index", err)
			}
			argCount, err := r.readU16()
			if err != nil {
				return Attribute{}, newErr(Io, "bootstrap method arg count", err)
			}
			args := make([]uint16, 0, argCount)
			for j := uint16(0); j < argCount; j++ {
				idx, err := r.readU16()
				if err != nil {
					return Attribute{}, newErr(Io, "bootstrap method arg", err)
				}
				args = append(args, idx)
			}
			methods = append(methods, BootstrapMethod{MethodRefIndex: refIdx, Arguments: args})
		}
		return Attribute{BootstrapMethods: methods}, nil

	default:
		raw, err := r.readExact(length)
		if err != nil {
			return Attribute{}, err
		}
		cp := make([]byte, len(raw))
		copy(cp, raw)
		return Attribute{RawData: cp}, nil
	}
}

func readCodeAttribute(r *reader, cp *ConstantPool) (Attribute, error) {
	maxStack, err := r.readU16()
	if err != nil {
		return Attribute{}, newErr(Io, "code max_stack", err)
	}
	maxLocals, err := r.readU16()
	if err != nil {
		return Attribute{}, newErr(Io, "code max_locals", err)
	}
	codeLen, err := r.readU32()
	if err != nil {
		return Attribute{}, newErr(Io, "code_length", err)
	}
	code, err := r.readExact(int(codeLen))
	if err != nil {
		return Attribute{}, err
	}
	codeCopy := make([]byte, len(code))
	copy(codeCopy, code)

	handlerCount, err := r.readU16()
	if err != nil {
		return Attribute{}, newErr(Io, "exception table length", err)
	}
	handlers := make([]ExceptionTableEntry, 0, handlerCount)
	for i := uint16(0); i < handlerCount; i++ {
		var e ExceptionTableEntry
		var err error
		if e.StartPC, err = r.readU16(); err != nil {
			return Attribute{}, newErr(Io, "exception table start pc", err)
		}
		if e.EndPC, err = r.readU16(); err != nil {
			return Attribute{}, newErr(Io, "exception table end pc", err)
		}
		if e.HandlerPC, err = r.readU16(); err != nil {
			return Attribute{}, newErr(Io, "exception table handler pc", err)
		}
		if e.CatchType, err = r.readU16(); err != nil {
			return Attribute{}, newErr(Io, "exception table catch type", err)
		}
		handlers = append(handlers, e)
	}

	attrCount, err := r.readU16()
	if err != nil {
		return Attribute{}, newErr(Io, "code attributes count", err)
	}
	attrs := make([]Attribute, 0, attrCount)
	for i := uint16(0); i < attrCount; i++ {
		a, err := readRawAttribute(r, cp)
		if err != nil {
			return Attribute{}, err
		}
		attrs = append(attrs, a)
	}

	insns, err := DecodeInstructions(codeCopy)
	if err != nil {
		return Attribute{}, err
	}

	return Attribute{Code: &CodeAttribute{
		MaxStack:       maxStack,
		MaxLocals:      maxLocals,
		Code:           codeCopy,
		ExceptionTable: handlers,
		Attributes:     attrs,
		Instructions:   insns,
	}}, nil
}
