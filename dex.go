package apkparser

import (
	"fmt"
	"unicode/utf16"
)

const dexHeaderSize = 112

var dexMagics = [][8]byte{
	{'d', 'e', 'x', '\n', '0', '3', '5', 0},
	{'d', 'e', 'x', '\n', '0', '3', '6', 0},
	{'d', 'e', 'x', '\n', '0', '3', '7', 0},
}

const dexNoIndex = 0xFFFFFFFF

// DexHeader is the fixed 112-byte DEX file header.
type DexHeader struct {
	Magic        [8]byte
	Checksum     uint32
	Signature    [20]byte
	FileSize     uint32
	HeaderSize   uint32
	EndianTag    uint32
	LinkSize     uint32
	LinkOff      uint32
	MapOff       uint32
	StringIDsize uint32
	StringIDoff  uint32
	TypeIDsize   uint32
	TypeIDoff    uint32
	ProtoIDsize  uint32
	ProtoIDoff   uint32
	FieldIDsize  uint32
	FieldIDoff   uint32
	MethodIDsize uint32
	MethodIDoff  uint32
	ClassDefSize uint32
	ClassDefOff  uint32
	DataSize     uint32
	DataOff      uint32
}

type DexProto struct {
	ShortyIdx     uint32
	ReturnTypeIdx uint32
	Parameters    []uint16
}

type DexFieldID struct {
	ClassIdx uint16
	TypeIdx  uint16
	NameIdx  uint32
}

type DexMethodID struct {
	ClassIdx uint16
	ProtoIdx uint16
	NameIdx  uint32
}

type DexClassDef struct {
	ClassIdx      uint32
	AccessFlags   uint32
	SuperclassIdx uint32
	Interfaces    []uint16
	SourceFileIdx uint32
	Annotations   []DexAnnotation
	ClassData     *DexClassData
}

// DexClassData holds the decoded class_data_item: the field/method lists
// with their diff-encoded indices already resolved to absolute indices.
type DexClassData struct {
	StaticFields   []DexEncodedField
	InstanceFields []DexEncodedField
	DirectMethods  []DexEncodedMethod
	VirtualMethods []DexEncodedMethod
}

type DexEncodedField struct {
	FieldIdx    uint32
	AccessFlags uint32
}

type DexEncodedMethod struct {
	MethodIdx   uint32
	AccessFlags uint32
	Code        *DexCode
}

type DexCode struct {
	RegistersSize uint16
	InsSize       uint16
	OutsSize      uint16
	DebugInfoOff  uint32
	Insns         []uint16
	Tries         []DexTryItem
	Handlers      []DexCatchHandler
}

type DexTryItem struct {
	StartAddr uint32
	InsnCount uint16
	HandlerOff uint16
}

type DexCatchHandler struct {
	Handlers    []DexTypeAddrPair
	CatchAllAddr uint32
	HasCatchAll bool
}

type DexTypeAddrPair struct {
	TypeIdx uint32
	Addr    uint32
}

// DexAnnotation is a minimal decode of annotation_item/encoded_annotation:
// enough to enumerate the type and the name/value pairs without building
// a full encoded_value type hierarchy. Each Values element keeps the raw,
// unparsed encoded_value bytes (header byte onward) of the pair whose
// name is at the same position in Names.
type DexAnnotation struct {
	Visibility uint8
	TypeIdx    uint32
	Names      []uint32
	Values     []DexEncodedValue
}

type DexEncodedValue struct {
	ValueType byte
	Raw       []byte
}

// DexFile is the fully decoded representation of a single classesN.dex.
type DexFile struct {
	Header  DexHeader
	Strings []string
	Types   []uint32 // descriptor_idx into Strings
	Protos  []DexProto
	Fields  []DexFieldID
	Methods []DexMethodID
	Classes []DexClassDef

	data []byte
}

// TypeName resolves a type_ids entry all the way to its descriptor string.
func (d *DexFile) TypeName(typeIdx uint32) (string, error) {
	if int(typeIdx) >= len(d.Types) {
		return "", newErr(OutOfRangeIndex, "type_ids", fmt.Errorf("index %d, have %d", typeIdx, len(d.Types)))
	}
	return d.String(d.Types[typeIdx])
}

// SuperclassName resolves a class_def's superclass, returning "" for
// java.lang.Object's own class_def (superclass_idx == NO_INDEX).
func (d *DexFile) SuperclassName(cd *DexClassDef) (string, error) {
	if cd.SuperclassIdx == dexNoIndex {
		return "", nil
	}
	return d.TypeName(cd.SuperclassIdx)
}

// SourceFile resolves a class_def's source_file_idx, returning "" when
// absent (source_file_idx == NO_INDEX).
func (d *DexFile) SourceFile(cd *DexClassDef) (string, error) {
	if cd.SourceFileIdx == dexNoIndex {
		return "", nil
	}
	return d.String(cd.SourceFileIdx)
}

func (d *DexFile) String(stringIdx uint32) (string, error) {
	if int(stringIdx) >= len(d.Strings) {
		return "", newErr(OutOfRangeIndex, "string_ids", fmt.Errorf("index %d, have %d", stringIdx, len(d.Strings)))
	}
	return d.Strings[stringIdx], nil
}

// ParseDex decodes a complete classes.dex buffer: header, the six ID
// tables in declared-offset order, then class_data/code_item bodies for
// every class_def that has a class_data_off.
func ParseDex(data []byte) (*DexFile, error) {
	if len(data) < dexHeaderSize {
		return nil, newErr(UnexpectedEOF, "dex header", fmt.Errorf("file too short: %d bytes", len(data)))
	}

	var magic [8]byte
	copy(magic[:], data[:8])

	known := false
	for _, m := range dexMagics {
		if m == magic {
			known = true
			break
		}
	}
	if !known {
		return nil, newErr(BadMagic, "dex header", fmt.Errorf("magic %q not recognized", magic))
	}

	h := DexHeader{Magic: magic}
	r := newByteReader(data)
	r.seek(8)
	if err := r.readU32(&h.Checksum); err != nil {
		return nil, err
	}
	if err := r.readBytes(h.Signature[:]); err != nil {
		return nil, err
	}
	for _, f := range []*uint32{
		&h.FileSize, &h.HeaderSize, &h.EndianTag,
		&h.LinkSize, &h.LinkOff, &h.MapOff,
		&h.StringIDsize, &h.StringIDoff,
		&h.TypeIDsize, &h.TypeIDoff,
		&h.ProtoIDsize, &h.ProtoIDoff,
		&h.FieldIDsize, &h.FieldIDoff,
		&h.MethodIDsize, &h.MethodIDoff,
		&h.ClassDefSize, &h.ClassDefOff,
		&h.DataSize, &h.DataOff,
	} {
		if err := r.readU32(f); err != nil {
			return nil, fmt.Errorf("dex header: %s", err.Error())
		}
	}

	d := &DexFile{Header: h, data: data}

	var err error
	if d.Strings, err = readDexStrings(data, h.StringIDoff, h.StringIDsize); err != nil {
		return nil, fmt.Errorf("string_ids: %s", err.Error())
	}
	if d.Types, err = readDexTypeIDs(data, h.TypeIDoff, h.TypeIDsize); err != nil {
		return nil, fmt.Errorf("type_ids: %s", err.Error())
	}
	if d.Protos, err = readDexProtoIDs(data, h.ProtoIDoff, h.ProtoIDsize); err != nil {
		return nil, fmt.Errorf("proto_ids: %s", err.Error())
	}
	if d.Fields, err = readDexFieldIDs(data, h.FieldIDoff, h.FieldIDsize); err != nil {
		return nil, fmt.Errorf("field_ids: %s", err.Error())
	}
	if d.Methods, err = readDexMethodIDs(data, h.MethodIDoff, h.MethodIDsize); err != nil {
		return nil, fmt.Errorf("method_ids: %s", err.Error())
	}
	if d.Classes, err = readDexClassDefs(data, h.ClassDefOff, h.ClassDefSize, uint32(len(d.Types))); err != nil {
		return nil, fmt.Errorf("class_defs: %s", err.Error())
	}

	return d, nil
}

func readDexStrings(data []byte, off, count uint32) ([]string, error) {
	out := make([]string, 0, count)
	r := newByteReader(data)
	r.seek(int(off))
	for i := uint32(0); i < count; i++ {
		var dataOff uint32
		if err := r.readU32(&dataOff); err != nil {
			return nil, err
		}
		s, err := readMUTF8StringAt(data, int(dataOff))
		if err != nil {
			return nil, fmt.Errorf("string %d: %s", i, err.Error())
		}
		out = append(out, s)
	}
	return out, nil
}

// readMUTF8StringAt reads the uleb128-prefixed utf16_length followed by
// the null-terminated modified-UTF-8 payload found at string_data_off.
func readMUTF8StringAt(data []byte, off int) (string, error) {
	_, pos, err := readULEB128(data, off)
	if err != nil {
		return "", err
	}

	var buf []byte
	for pos < len(data) && data[pos] != 0 {
		buf = append(buf, data[pos])
		pos++
	}
	return decodeDexMUTF8(buf)
}

func readDexTypeIDs(data []byte, off, count uint32) ([]uint32, error) {
	out := make([]uint32, count)
	r := newByteReader(data)
	r.seek(int(off))
	for i := range out {
		if err := r.readU32(&out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func readDexProtoIDs(data []byte, off, count uint32) ([]DexProto, error) {
	out := make([]DexProto, count)
	r := newByteReader(data)
	r.seek(int(off))
	for i := range out {
		var shortyIdx, returnTypeIdx, paramsOff uint32
		if err := r.readU32(&shortyIdx); err != nil {
			return nil, err
		}
		if err := r.readU32(&returnTypeIdx); err != nil {
			return nil, err
		}
		if err := r.readU32(&paramsOff); err != nil {
			return nil, err
		}
		out[i] = DexProto{ShortyIdx: shortyIdx, ReturnTypeIdx: returnTypeIdx}

		if paramsOff != 0 {
			pr := newByteReader(data)
			pr.seek(int(paramsOff))
			var size uint32
			if err := pr.readU32(&size); err != nil {
				return nil, err
			}
			params := make([]uint16, size)
			for j := range params {
				if err := pr.readU16(&params[j]); err != nil {
					return nil, err
				}
			}
			out[i].Parameters = params
		}
	}
	return out, nil
}

func readDexFieldIDs(data []byte, off, count uint32) ([]DexFieldID, error) {
	out := make([]DexFieldID, count)
	r := newByteReader(data)
	r.seek(int(off))
	for i := range out {
		if err := r.readU16(&out[i].ClassIdx); err != nil {
			return nil, err
		}
		if err := r.readU16(&out[i].TypeIdx); err != nil {
			return nil, err
		}
		if err := r.readU32(&out[i].NameIdx); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func readDexMethodIDs(data []byte, off, count uint32) ([]DexMethodID, error) {
	out := make([]DexMethodID, count)
	r := newByteReader(data)
	r.seek(int(off))
	for i := range out {
		if err := r.readU16(&out[i].ClassIdx); err != nil {
			return nil, err
		}
		if err := r.readU16(&out[i].ProtoIdx); err != nil {
			return nil, err
		}
		if err := r.readU32(&out[i].NameIdx); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func readDexClassDefs(data []byte, off, count, typeCount uint32) ([]DexClassDef, error) {
	out := make([]DexClassDef, count)
	r := newByteReader(data)
	r.seek(int(off))
	for i := range out {
		cd := &out[i]
		var interfacesOff, annotationsOff, classDataOff, staticValuesOff uint32
		if err := r.readU32(&cd.ClassIdx); err != nil {
			return nil, err
		}
		if err := r.readU32(&cd.AccessFlags); err != nil {
			return nil, err
		}
		if err := r.readU32(&cd.SuperclassIdx); err != nil {
			return nil, err
		}
		if err := r.readU32(&interfacesOff); err != nil {
			return nil, err
		}
		if err := r.readU32(&cd.SourceFileIdx); err != nil {
			return nil, err
		}
		if err := r.readU32(&annotationsOff); err != nil {
			return nil, err
		}
		if err := r.readU32(&classDataOff); err != nil {
			return nil, err
		}
		if err := r.readU32(&staticValuesOff); err != nil {
			return nil, err
		}

		if cd.ClassIdx >= typeCount {
			return nil, newErr(OutOfRangeIndex, fmt.Sprintf("class_def %d", i), fmt.Errorf("class_idx %d, have %d types", cd.ClassIdx, typeCount))
		}

		if interfacesOff != 0 {
			ir := newByteReader(data)
			ir.seek(int(interfacesOff))
			var size uint32
			if err := ir.readU32(&size); err != nil {
				return nil, err
			}
			cd.Interfaces = make([]uint16, size)
			for j := range cd.Interfaces {
				if err := ir.readU16(&cd.Interfaces[j]); err != nil {
					return nil, err
				}
			}
		}

		if classDataOff != 0 {
			data, err := readDexClassData(data, int(classDataOff))
			if err != nil {
				return nil, fmt.Errorf("class_def %d: class_data: %s", i, err.Error())
			}
			cd.ClassData = data
		}

		if annotationsOff != 0 {
			anns, err := readDexAnnotationsDirectory(data, int(annotationsOff))
			if err != nil {
				return nil, fmt.Errorf("class_def %d: annotations: %s", i, err.Error())
			}
			cd.Annotations = anns
		}
	}
	return out, nil
}

func readDexClassData(data []byte, off int) (*DexClassData, error) {
	var staticCount, instanceCount, directCount, virtualCount uint32
	var err error

	staticCount, off, err = readULEB128(data, off)
	if err != nil {
		return nil, err
	}
	instanceCount, off, err = readULEB128(data, off)
	if err != nil {
		return nil, err
	}
	directCount, off, err = readULEB128(data, off)
	if err != nil {
		return nil, err
	}
	virtualCount, off, err = readULEB128(data, off)
	if err != nil {
		return nil, err
	}

	cd := &DexClassData{}

	cd.StaticFields, off, err = readEncodedFields(data, off, staticCount)
	if err != nil {
		return nil, err
	}
	cd.InstanceFields, off, err = readEncodedFields(data, off, instanceCount)
	if err != nil {
		return nil, err
	}
	cd.DirectMethods, off, err = readEncodedMethods(data, off, directCount)
	if err != nil {
		return nil, err
	}
	cd.VirtualMethods, _, err = readEncodedMethods(data, off, virtualCount)
	if err != nil {
		return nil, err
	}

	return cd, nil
}

func readEncodedFields(data []byte, off int, count uint32) ([]DexEncodedField, int, error) {
	out := make([]DexEncodedField, count)
	var fieldIdx uint32
	for i := range out {
		var diff, flags uint32
		var err error
		diff, off, err = readULEB128(data, off)
		if err != nil {
			return nil, off, err
		}
		flags, off, err = readULEB128(data, off)
		if err != nil {
			return nil, off, err
		}
		fieldIdx += diff
		out[i] = DexEncodedField{FieldIdx: fieldIdx, AccessFlags: flags}
	}
	return out, off, nil
}

func readEncodedMethods(data []byte, off int, count uint32) ([]DexEncodedMethod, int, error) {
	out := make([]DexEncodedMethod, count)
	var methodIdx uint32
	for i := range out {
		var diff, flags, codeOff uint32
		var err error
		diff, off, err = readULEB128(data, off)
		if err != nil {
			return nil, off, err
		}
		flags, off, err = readULEB128(data, off)
		if err != nil {
			return nil, off, err
		}
		codeOff, off, err = readULEB128(data, off)
		if err != nil {
			return nil, off, err
		}
		methodIdx += diff
		out[i] = DexEncodedMethod{MethodIdx: methodIdx, AccessFlags: flags}
		if codeOff != 0 {
			code, err := readDexCode(data, int(codeOff))
			if err != nil {
				return nil, off, fmt.Errorf("method %d code_item: %s", methodIdx, err.Error())
			}
			out[i].Code = code
		}
	}
	return out, off, nil
}

func readDexCode(data []byte, off int) (*DexCode, error) {
	r := newByteReader(data)
	r.seek(off)

	c := &DexCode{}
	var triesSize uint32
	var insnsSize uint32
	if err := r.readU16(&c.RegistersSize); err != nil {
		return nil, err
	}
	if err := r.readU16(&c.InsSize); err != nil {
		return nil, err
	}
	if err := r.readU16(&c.OutsSize); err != nil {
		return nil, err
	}
	var triesSize16 uint16
	if err := r.readU16(&triesSize16); err != nil {
		return nil, err
	}
	triesSize = uint32(triesSize16)
	if err := r.readU32(&c.DebugInfoOff); err != nil {
		return nil, err
	}
	if err := r.readU32(&insnsSize); err != nil {
		return nil, err
	}

	c.Insns = make([]uint16, insnsSize)
	for i := range c.Insns {
		if err := r.readU16(&c.Insns[i]); err != nil {
			return nil, err
		}
	}

	if triesSize != 0 {
		if insnsSize%2 != 0 {
			var pad uint16
			r.readU16(&pad)
		}

		tries := make([]DexTryItem, triesSize)
		for i := range tries {
			if err := r.readU32(&tries[i].StartAddr); err != nil {
				return nil, err
			}
			if err := r.readU16(&tries[i].InsnCount); err != nil {
				return nil, err
			}
			if err := r.readU16(&tries[i].HandlerOff); err != nil {
				return nil, err
			}
		}
		c.Tries = tries

		var handlerListSize uint32
		var err error
		handlerListSize, r.pos, err = readULEB128(data, r.pos)
		if err != nil {
			return nil, err
		}

		c.Handlers = make([]DexCatchHandler, handlerListSize)
		for i := range c.Handlers {
			var size int32
			size, r.pos, err = readSLEB128(data, r.pos)
			if err != nil {
				return nil, err
			}

			count := size
			if count < 0 {
				count = -count
			}

			h := DexCatchHandler{}
			for j := int32(0); j < count; j++ {
				var typeIdx, addr uint32
				typeIdx, r.pos, err = readULEB128(data, r.pos)
				if err != nil {
					return nil, err
				}
				addr, r.pos, err = readULEB128(data, r.pos)
				if err != nil {
					return nil, err
				}
				h.Handlers = append(h.Handlers, DexTypeAddrPair{TypeIdx: typeIdx, Addr: addr})
			}

			if size <= 0 {
				h.HasCatchAll = true
				h.CatchAllAddr, r.pos, err = readULEB128(data, r.pos)
				if err != nil {
					return nil, err
				}
			}

			c.Handlers[i] = h
		}
	}

	return c, nil
}

// readDexAnnotationsDirectory reads only the class_annotations_off field
// of an annotations_directory_item and the annotation_set_item it points
// to, since class-level annotations are the only ones this decoder's
// DexClassDef surface exposes.
func readDexAnnotationsDirectory(data []byte, off int) ([]DexAnnotation, error) {
	r := newByteReader(data)
	r.seek(off)

	var classAnnotationsOff uint32
	if err := r.readU32(&classAnnotationsOff); err != nil {
		return nil, err
	}
	if classAnnotationsOff == 0 {
		return nil, nil
	}

	sr := newByteReader(data)
	sr.seek(int(classAnnotationsOff))
	var size uint32
	if err := sr.readU32(&size); err != nil {
		return nil, err
	}

	anns := make([]DexAnnotation, 0, size)
	for i := uint32(0); i < size; i++ {
		var itemOff uint32
		if err := sr.readU32(&itemOff); err != nil {
			return nil, err
		}
		a, err := readAnnotationItem(data, int(itemOff))
		if err != nil {
			return nil, fmt.Errorf("annotation %d: %s", i, err.Error())
		}
		anns = append(anns, a)
	}
	return anns, nil
}

func readAnnotationItem(data []byte, off int) (DexAnnotation, error) {
	if off < 0 || off >= len(data) {
		return DexAnnotation{}, fmt.Errorf("annotation offset 0x%x out of range", off)
	}
	visibility := data[off]
	pos := off + 1

	a := DexAnnotation{Visibility: visibility}

	var typeIdx, size uint32
	var err error
	typeIdx, pos, err = readULEB128(data, pos)
	if err != nil {
		return a, err
	}
	a.TypeIdx = typeIdx

	size, pos, err = readULEB128(data, pos)
	if err != nil {
		return a, err
	}

	for i := uint32(0); i < size; i++ {
		var nameIdx uint32
		nameIdx, pos, err = readULEB128(data, pos)
		if err != nil {
			return a, err
		}

		start := pos
		end, err := skipEncodedValue(data, pos)
		if err != nil {
			return a, err
		}

		valueType := data[start] & 0x1f
		a.Names = append(a.Names, nameIdx)
		a.Values = append(a.Values, DexEncodedValue{ValueType: valueType, Raw: data[start:end]})
		pos = end
	}

	return a, nil
}

const (
	dexValueByte       = 0x00
	dexValueShort      = 0x02
	dexValueChar       = 0x03
	dexValueInt        = 0x04
	dexValueLong       = 0x06
	dexValueFloat      = 0x10
	dexValueDouble     = 0x11
	dexValueMethodType = 0x15
	dexValueMethodHandle = 0x16
	dexValueString     = 0x17
	dexValueType       = 0x18
	dexValueField      = 0x19
	dexValueMethod     = 0x1a
	dexValueEnum       = 0x1b
	dexValueArray      = 0x1c
	dexValueAnnotation = 0x1d
	dexValueNull       = 0x1e
	dexValueBoolean    = 0x1f
)

// skipEncodedValue returns the offset just past one encoded_value
// starting at pos, recursing into VALUE_ARRAY/VALUE_ANNOTATION without
// otherwise interpreting the payload.
func skipEncodedValue(data []byte, pos int) (int, error) {
	if pos >= len(data) {
		return 0, fmt.Errorf("unexpected end of data reading encoded_value header")
	}
	header := data[pos]
	pos++
	valueArg := int(header >> 5)
	valueType := header & 0x1f

	switch valueType {
	case dexValueByte, dexValueShort, dexValueChar, dexValueInt, dexValueLong,
		dexValueFloat, dexValueDouble, dexValueMethodType, dexValueMethodHandle,
		dexValueString, dexValueType, dexValueField, dexValueMethod, dexValueEnum:
		n := valueArg + 1
		if pos+n > len(data) {
			return 0, fmt.Errorf("encoded_value payload out of range")
		}
		return pos + n, nil

	case dexValueNull, dexValueBoolean:
		return pos, nil

	case dexValueArray:
		var size uint32
		var err error
		size, pos, err = readULEB128(data, pos)
		if err != nil {
			return 0, err
		}
		for i := uint32(0); i < size; i++ {
			pos, err = skipEncodedValue(data, pos)
			if err != nil {
				return 0, err
			}
		}
		return pos, nil

	case dexValueAnnotation:
		var size uint32
		var err error
		_, pos, err = readULEB128(data, pos) // type_idx
		if err != nil {
			return 0, err
		}
		size, pos, err = readULEB128(data, pos)
		if err != nil {
			return 0, err
		}
		for i := uint32(0); i < size; i++ {
			_, pos, err = readULEB128(data, pos) // name_idx
			if err != nil {
				return 0, err
			}
			pos, err = skipEncodedValue(data, pos)
			if err != nil {
				return 0, err
			}
		}
		return pos, nil

	default:
		return 0, fmt.Errorf("unknown encoded_value type 0x%02x", valueType)
	}
}

// readULEB128 decodes an unsigned LEB128 integer starting at pos,
// returning the value and the offset just past it.
func readULEB128(data []byte, pos int) (uint32, int, error) {
	var result uint32
	var shift uint
	for {
		if pos >= len(data) {
			return 0, 0, fmt.Errorf("unexpected end of data reading uleb128")
		}
		b := data[pos]
		pos++
		result |= uint32(b&0x7f) << shift
		if b&0x80 == 0 {
			break
		}
		shift += 7
		if shift > 35 {
			return 0, 0, fmt.Errorf("uleb128 value too long")
		}
	}
	return result, pos, nil
}

// readSLEB128 decodes a signed LEB128 integer starting at pos.
func readSLEB128(data []byte, pos int) (int32, int, error) {
	var result int32
	var shift uint
	var b byte
	for {
		if pos >= len(data) {
			return 0, 0, fmt.Errorf("unexpected end of data reading sleb128")
		}
		b = data[pos]
		pos++
		result |= int32(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
		if shift > 35 {
			return 0, 0, fmt.Errorf("sleb128 value too long")
		}
	}
	if shift < 32 && (b&0x40) != 0 {
		result |= -1 << shift
	}
	return result, pos, nil
}

// decodeDexMUTF8 decodes a NUL-terminated modified-UTF-8 byte sequence,
// including DEX's supplementary-plane surrogate pairs.
func decodeDexMUTF8(b []byte) (string, error) {
	var out []uint16
	i := 0
	for i < len(b) {
		c0 := b[i]
		switch {
		case c0&0x80 == 0:
			out = append(out, uint16(c0))
			i++
		case c0&0xE0 == 0xC0:
			if i+1 >= len(b) {
				return "", fmt.Errorf("truncated 2-byte mutf8 sequence")
			}
			c1 := b[i+1]
			r := (uint16(c0&0x1F) << 6) | uint16(c1&0x3F)
			out = append(out, r)
			i += 2
		case c0&0xF0 == 0xE0:
			if i+2 >= len(b) {
				return "", fmt.Errorf("truncated 3-byte mutf8 sequence")
			}
			c1, c2 := b[i+1], b[i+2]
			r := (uint16(c0&0x0F) << 12) | (uint16(c1&0x3F) << 6) | uint16(c2&0x3F)
			out = append(out, r)
			i += 3
		default:
			return "", fmt.Errorf("invalid mutf8 lead byte 0x%02x", c0)
		}
	}
	return string(utf16.Decode(out)), nil
}
