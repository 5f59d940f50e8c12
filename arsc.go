package apkparser

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"math"
	"strconv"
	"unicode/utf16"
)

// ErrEndParsing can be returned from ManifestEncoder.EncodeToken to stop
// ParseXml early without it being reported as a failure.
var ErrEndParsing = errors.New("parsing ended by encoder")

// Config picks which configuration's entry GetResourceEntryEx returns when
// a resource id has more than one (locale/density/etc. variant). This
// table does not evaluate device configuration qualifiers; it only
// distinguishes "first chunk that defines it" from "last chunk that
// defines it", which is enough to approximate a default vs. a
// higher-density icon variant.
type Config uint8

const (
	ConfigFirst Config = iota
	ConfigLast
)

// resDataType is the ResTable_entry value's data_type byte. Unlike the
// binary-XML attribute values decoded in binxml.go, ARSC assigns its own
// meanings to these byte codes; resTypeBoolean (0x11) and
// resTypeColorStateList (0x1D) in particular collide numerically with the
// unrelated AttrTypeIntHex and AttrTypeIntColorRgb8 codes, so this table
// must not be folded together with AttrType.
type resDataType uint8

const (
	resTypeNull           resDataType = 0x00
	resTypeReference      resDataType = 0x01
	resTypeAttribute      resDataType = 0x02
	resTypeString         resDataType = 0x03
	resTypeFloat          resDataType = 0x04
	resTypeDimension      resDataType = 0x05
	resTypeFraction       resDataType = 0x06
	resTypeInteger        resDataType = 0x10
	resTypeBoolean        resDataType = 0x11
	resTypeColor          resDataType = 0x1C
	resTypeColorStateList resDataType = 0x1D
)

// resValue is a decoded ResTable_entry value: a type tag plus 32 bits of
// type-specific payload, with the string-type payload already resolved
// against the global string pool.
type resValue struct {
	dataType resDataType
	data     uint32
	str      string
}

func (v resValue) String() string {
	switch v.dataType {
	case resTypeNull:
		return ""
	case resTypeString:
		return v.str
	case resTypeReference, resTypeAttribute:
		return fmt.Sprintf("@%x", v.data)
	case resTypeFloat:
		return fmt.Sprintf("%g", math.Float32frombits(v.data))
	case resTypeDimension, resTypeFraction:
		return fmt.Sprintf("0x%x", v.data)
	case resTypeInteger:
		return strconv.FormatInt(int64(int32(v.data)), 10)
	case resTypeBoolean:
		return strconv.FormatBool(v.data != 0)
	case resTypeColor, resTypeColorStateList:
		return fmt.Sprintf("#%08x", v.data)
	default:
		return "Unknown"
	}
}

// ComplexValuePair is one name/value pair of a bag (complex) resource
// entry. The pairs are kept in on-disk order rather than folded into a
// map, since a style's entries may legitimately repeat a referenced
// attribute id and the on-disk ordering carries meaning for override
// resolution.
type ComplexValuePair struct {
	NameRef uint32
	Value   resValue
}

// ResourceEntry is one resolved (type, config, entry-index) slot of the
// resource table: a key name plus either a single value or, for a bag
// entry, an ordered list of name/value pairs.
type ResourceEntry struct {
	keyIndex uint32
	key      string
	value    resValue

	Complex bool
	Parent  uint32
	Values  []ComplexValuePair
}

func (e *ResourceEntry) Key() string   { return e.key }
func (e *ResourceEntry) Value() string { return e.value.String() }

type resTypeChunk struct {
	typeID      uint8
	entriesByID map[uint16]*ResourceEntry
}

type resPackage struct {
	id          uint32
	name        string
	typeStrings stringTable
	keyStrings  stringTable
	types       map[uint8][]*resTypeChunk
}

// ResourceTable is the fully decoded contents of resources.arsc: the
// global string pool shared by every package's string-typed values, and
// the packages themselves keyed by their 8-bit package id.
type ResourceTable struct {
	strings  stringTable
	packages []*resPackage
}

// PackageCount returns the number of package chunks decoded from the
// resource table.
func (t *ResourceTable) PackageCount() int { return len(t.packages) }

// ParseResourceTable decodes a resources.arsc stream in full. Random
// access is needed for the per-package type-strings/key-strings pools
// and the per-type entry offsets, so the whole chunk is buffered first.
func ParseResourceTable(r io.Reader) (*ResourceTable, error) {
	data, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read resources.arsc: %s", err.Error())
	}

	br := newByteReader(data)

	id, headerLen, totalLen, err := br.chunkHeader()
	if err != nil {
		return nil, err
	}
	if id != chunkTable {
		return nil, newErr(BadMagic, "resources.arsc header", fmt.Errorf("chunk id 0x%04x, expected 0x%04x", id, chunkTable))
	}

	end := int(totalLen)
	if end > len(data) {
		end = len(data)
	}

	// package_count immediately follows the base chunk_header; the chunk
	// stream of packages/global string pool begins at header_size.
	var packageCount uint32
	if err := br.readU32(&packageCount); err != nil {
		return nil, fmt.Errorf("failed to read package_count: %s", err.Error())
	}
	br.seek(int(headerLen))

	table := &ResourceTable{}

	for br.pos < end {
		chunkStart := br.pos
		cid, cheaderLen, clen, err := br.chunkHeader()
		if err != nil {
			return nil, fmt.Errorf("failed to read chunk header at 0x%x: %s", chunkStart, err.Error())
		}
		if clen == 0 {
			return nil, fmt.Errorf("zero-length chunk at 0x%x", chunkStart)
		}
		chunkEnd := chunkStart + int(clen)
		if chunkEnd > end {
			chunkEnd = end
		}

		switch cid {
		case chunkStringTable:
			br.seek(chunkStart)
			lr := &io.LimitedReader{R: io.NewSectionReader(&byteReaderSource{data}, int64(chunkStart), int64(chunkEnd-chunkStart)), N: int64(chunkEnd - chunkStart)}
			table.strings, err = parseStringTableWithChunk(lr)
			if err != nil {
				return nil, fmt.Errorf("failed to parse global string pool: %s", err.Error())
			}

		case chunkTablePackage:
			pkg, err := parseResourcePackage(data, chunkStart, int(cheaderLen), chunkEnd)
			if err != nil {
				return nil, fmt.Errorf("failed to parse package at 0x%x: %s", chunkStart, err.Error())
			}
			table.packages = append(table.packages, pkg)

		default:
			// chunkTableLibrary and anything unrecognized at this level is
			// skipped; it carries no data this table needs to resolve values.
		}

		br.seek(chunkEnd)
	}

	return table, nil
}

func parseResourcePackage(data []byte, chunkStart, headerLen, chunkEnd int) (*resPackage, error) {
	br := newByteReader(data)
	br.seek(chunkStart + chunkHeaderSize)

	pkg := &resPackage{types: make(map[uint8][]*resTypeChunk)}

	var id, typeStringsOff, lastPublicType, keyStringsOff, lastPublicKey, typeIDOffset uint32
	if err := br.readU32(&id); err != nil {
		return nil, err
	}
	pkg.id = id

	nameBytes := make([]byte, 256)
	if err := br.readBytes(nameBytes); err != nil {
		return nil, err
	}
	pkg.name = decodePackageName(nameBytes)

	if err := br.readU32(&typeStringsOff); err != nil {
		return nil, err
	}
	if err := br.readU32(&lastPublicType); err != nil {
		return nil, err
	}
	if err := br.readU32(&keyStringsOff); err != nil {
		return nil, err
	}
	if err := br.readU32(&lastPublicKey); err != nil {
		return nil, err
	}
	_ = lastPublicType
	_ = lastPublicKey

	// type_id_offset is present on newer AAPT2-produced tables only; absent
	// when the package header ends right after last_public_key.
	if chunkStart+headerLen-br.pos >= 4 {
		br.readU32(&typeIDOffset)
	}
	_ = typeIDOffset

	if typeStringsOff != 0 {
		sub := &io.LimitedReader{R: io.NewSectionReader(&byteReaderSource{data}, int64(chunkStart)+int64(typeStringsOff), int64(chunkEnd-chunkStart)-int64(typeStringsOff)), N: int64(chunkEnd-chunkStart) - int64(typeStringsOff)}
		var err error
		pkg.typeStrings, err = parseStringTableWithChunk(sub)
		if err != nil {
			return nil, fmt.Errorf("failed to parse type strings: %s", err.Error())
		}
	}

	if keyStringsOff != 0 {
		sub := &io.LimitedReader{R: io.NewSectionReader(&byteReaderSource{data}, int64(chunkStart)+int64(keyStringsOff), int64(chunkEnd-chunkStart)-int64(keyStringsOff)), N: int64(chunkEnd-chunkStart) - int64(keyStringsOff)}
		var err error
		pkg.keyStrings, err = parseStringTableWithChunk(sub)
		if err != nil {
			return nil, fmt.Errorf("failed to parse key strings: %s", err.Error())
		}
	}

	// Walk the remaining type-spec/type/library chunk stream that follows
	// the two string pools, up to chunkEnd.
	br.seek(chunkStart + headerLen)
	// Skip past whichever pool ends last to find the first type-spec/type chunk.
	scanStart := chunkStart + headerLen
	if typeStringsOff != 0 || keyStringsOff != 0 {
		scanStart = chunkStart + int(maxU32(typeStringsOff, keyStringsOff))
		// advance past that pool's own declared length
		if poolLen, ok := chunkTotalLenAt(data, scanStart); ok {
			scanStart += poolLen
		}
	}

	pos := scanStart
	for pos < chunkEnd {
		cid, _, clen, ok := peekChunkHeader(data, pos)
		if !ok || clen == 0 {
			break
		}
		entryEnd := pos + int(clen)
		if entryEnd > chunkEnd {
			entryEnd = chunkEnd
		}

		switch cid {
		case chunkTableTypeSpec:
			tc, err := parseTypeSpecAndSibling(data, pos, entryEnd, pkg, &pos)
			if err != nil {
				return nil, err
			}
			if tc != nil {
				pkg.types[tc.typeID] = append(pkg.types[tc.typeID], tc)
			}
			continue
		case chunkTableType:
			tc, err := parseTypeChunk(data, pos, entryEnd)
			if err != nil {
				return nil, err
			}
			pkg.types[tc.typeID] = append(pkg.types[tc.typeID], tc)
		case chunkTableLibrary:
			// no resource values here; nothing to record.
		}

		pos = entryEnd
	}

	return pkg, nil
}

// parseTypeSpecAndSibling reads a type-spec chunk (flags only, no
// values) and, per the format's own rule for this chunk id, recurses
// into the type chunk that immediately follows it to obtain the actual
// entries. nextPos is advanced past both chunks.
func parseTypeSpecAndSibling(data []byte, specStart, specEnd int, pkg *resPackage, nextPos *int) (*resTypeChunk, error) {
	br := newByteReader(data)
	br.seek(specStart + chunkHeaderSize)

	var typeID, res0 uint8
	var res1 uint16
	var entryCount uint32
	if err := br.readU8(&typeID); err != nil {
		return nil, err
	}
	if err := br.readU8(&res0); err != nil {
		return nil, err
	}
	if err := br.readU16(&res1); err != nil {
		return nil, err
	}
	if err := br.readU32(&entryCount); err != nil {
		return nil, err
	}
	// entry_count u32 spec flags are not needed to resolve values.
	br.seek(br.pos + 4*int(entryCount))

	siblingStart := specEnd
	cid, _, clen, ok := peekChunkHeader(data, siblingStart)
	if !ok || cid != chunkTableType {
		// No sibling type chunk; this config's values are simply absent.
		*nextPos = specEnd
		return nil, nil
	}

	siblingEnd := siblingStart + int(clen)
	tc, err := parseTypeChunk(data, siblingStart, siblingEnd)
	if err != nil {
		return nil, err
	}
	if tc.typeID != typeID {
		return nil, fmt.Errorf("type-spec/type sibling mismatch: %d != %d", typeID, tc.typeID)
	}

	*nextPos = siblingEnd
	return tc, nil
}

// parseTypeChunk decodes a type chunk in place, per the format's rule for
// when 0x0202 is encountered directly rather than via its type-spec
// sibling: it is read without any surrounding rewind.
func parseTypeChunk(data []byte, start, end int) (*resTypeChunk, error) {
	br := newByteReader(data)
	br.seek(start + chunkHeaderSize)

	var typeID, res0 uint8
	var res1 uint16
	var entryCount, entriesStart, configSize uint32
	if err := br.readU8(&typeID); err != nil {
		return nil, err
	}
	if err := br.readU8(&res0); err != nil {
		return nil, err
	}
	if err := br.readU16(&res1); err != nil {
		return nil, err
	}
	if err := br.readU32(&entryCount); err != nil {
		return nil, err
	}
	if err := br.readU32(&entriesStart); err != nil {
		return nil, err
	}
	if err := br.readU32(&configSize); err != nil {
		return nil, err
	}
	if configSize < 4 {
		return nil, newErr(StructuralInvariant, "type chunk", fmt.Errorf("config_size %d < 4", configSize))
	}
	br.seek(br.pos + int(configSize) - 4)

	tc := &resTypeChunk{typeID: typeID, entriesByID: make(map[uint16]*ResourceEntry, entryCount)}

	offsets := make([]uint32, entryCount)
	for i := range offsets {
		if err := br.readU32(&offsets[i]); err != nil {
			return nil, err
		}
	}

	entriesBase := start + int(entriesStart)
	for i, off := range offsets {
		if off == 0xFFFFFFFF {
			continue
		}
		entry, err := parseResourceEntry(data, entriesBase+int(off), end)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %s", i, err.Error())
		}
		tc.entriesByID[uint16(i)] = entry
	}

	return tc, nil
}

const (
	resEntryFlagComplex = 0x0001
)

func parseResourceEntry(data []byte, off, end int) (*ResourceEntry, error) {
	br := newByteReader(data)
	br.seek(off)

	var size, flags uint16
	var keyIndex uint32
	if err := br.readU16(&size); err != nil {
		return nil, err
	}
	if err := br.readU16(&flags); err != nil {
		return nil, err
	}
	if err := br.readU32(&keyIndex); err != nil {
		return nil, err
	}

	e := &ResourceEntry{keyIndex: keyIndex}
	e.Complex = flags&resEntryFlagComplex != 0

	if !e.Complex {
		v, err := readResValue(br)
		if err != nil {
			return nil, err
		}
		e.value = v
		return e, nil
	}

	var parentRef, valueCount uint32
	if err := br.readU32(&parentRef); err != nil {
		return nil, err
	}
	if err := br.readU32(&valueCount); err != nil {
		return nil, err
	}
	e.Parent = parentRef

	for i := uint32(0); i < valueCount; i++ {
		var nameRef uint32
		if err := br.readU32(&nameRef); err != nil {
			return nil, err
		}
		v, err := readResValue(br)
		if err != nil {
			return nil, err
		}
		e.Values = append(e.Values, ComplexValuePair{NameRef: nameRef, Value: v})
	}

	return e, nil
}

func readResValue(br *byteReader) (resValue, error) {
	var size uint16
	var res0 uint8
	var dataType uint8
	var data uint32
	if err := br.readU16(&size); err != nil {
		return resValue{}, err
	}
	if err := br.readU8(&res0); err != nil {
		return resValue{}, err
	}
	if err := br.readU8(&dataType); err != nil {
		return resValue{}, err
	}
	if err := br.readU32(&data); err != nil {
		return resValue{}, err
	}
	return resValue{dataType: resDataType(dataType), data: data}, nil
}

// GetResourceEntry resolves id against the first config chunk that
// defines it.
func (t *ResourceTable) GetResourceEntry(id uint32) (*ResourceEntry, error) {
	return t.GetResourceEntryEx(id, ConfigFirst)
}

// GetIconPng resolves id preferring the last (typically higher-density)
// config chunk that defines it.
func (t *ResourceTable) GetIconPng(id uint32) (*ResourceEntry, error) {
	return t.GetResourceEntryEx(id, ConfigLast)
}

// GetResourceEntryEx resolves a 0xPPTTEEEE resource id: package id in
// the high byte, 1-based type id in the next byte, entry index in the
// low 16 bits.
func (t *ResourceTable) GetResourceEntryEx(id uint32, cfg Config) (*ResourceEntry, error) {
	pkgID := id >> 24
	typeID := uint8((id >> 16) & 0xFF)
	entryIdx := uint16(id & 0xFFFF)

	var pkg *resPackage
	for _, p := range t.packages {
		if p.id == pkgID {
			pkg = p
			break
		}
	}
	if pkg == nil {
		return nil, newErr(OutOfRangeIndex, "resource lookup", fmt.Errorf("no package for resource id 0x%08x", id))
	}

	chunks := pkg.types[typeID]
	if len(chunks) == 0 {
		return nil, fmt.Errorf("no type %d in package %s for resource id 0x%08x", typeID, pkg.name, id)
	}

	var found *ResourceEntry
	if cfg == ConfigLast {
		for i := len(chunks) - 1; i >= 0; i-- {
			if e, ok := chunks[i].entriesByID[entryIdx]; ok {
				found = e
				break
			}
		}
	} else {
		for _, c := range chunks {
			if e, ok := c.entriesByID[entryIdx]; ok {
				found = e
				break
			}
		}
	}

	if found == nil {
		return nil, fmt.Errorf("entry %d not found for type %d in package %s", entryIdx, typeID, pkg.name)
	}

	resolved := *found
	if name, err := pkg.keyStrings.get(found.keyIndex); err == nil {
		resolved.key = name
	}
	if resolved.value.dataType == resTypeString {
		resolved.value.str, _ = t.strings.get(resolved.value.data)
	}
	for i := range resolved.Values {
		if resolved.Values[i].Value.dataType == resTypeString {
			resolved.Values[i].Value.str, _ = t.strings.get(resolved.Values[i].Value.data)
		}
	}

	return &resolved, nil
}

func decodePackageName(raw []byte) string {
	units := make([]uint16, len(raw)/2)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(raw[2*i : 2*i+2])
	}
	decoded := utf16.Decode(units)
	for i, r := range decoded {
		if r == 0 {
			decoded = decoded[:i]
			break
		}
	}
	return string(decoded)
}

func maxU32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}
