package apkparser_test

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/avast/bytecodescan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Chunk ids from frameworks/base/libs/androidfw/include/androidfw/ResourceTypes.h.
// Hardcoded here (rather than imported) since this is an external test package
// and the constants are unexported.
const (
	testChunkStringTable   = 0x0001
	testChunkTable         = 0x0002
	testChunkTablePackage  = 0x0200
	testChunkTableTypeSpec = 0x0201
	testChunkTableType     = 0x0202

	testStringFlagUtf8 = 0x00000100
)

func putU16(buf []byte, off int, v uint16) { binary.LittleEndian.PutUint16(buf[off:], v) }
func putU32At(buf []byte, off int, v uint32) { binary.LittleEndian.PutUint32(buf[off:], v) }

// buildUtf8StringPool assembles a minimal ResStringPool chunk holding strs,
// UTF-8 encoded, with no style block, matching the layout parseStringTable
// expects: chunk_header, stringCnt/styleCnt/flags/stringOffset/styleOffset,
// the stringCnt*4 offsets array, then the raw string data.
func buildUtf8StringPool(strs []string) []byte {
	var data []byte
	offsets := make([]uint32, len(strs))
	for i, s := range strs {
		offsets[i] = uint32(len(data))
		b := []byte(s)
		data = append(data, byte(len(b))) // utf16 length (ASCII-only test strings: same as byte length)
		data = append(data, byte(len(b))) // utf8 length
		data = append(data, b...)
		data = append(data, 0) // NUL terminator, as real aapt output carries
	}

	const headerLen = 28 // chunk_header(8) + 5 u32 fields
	stringCnt := uint32(len(strs))
	stringOffset := uint32(headerLen) + 4*stringCnt
	totalLen := stringOffset + uint32(len(data))

	buf := make([]byte, totalLen)
	putU16(buf, 0, testChunkStringTable)
	putU16(buf, 2, headerLen)
	putU32At(buf, 4, totalLen)
	putU32At(buf, 8, stringCnt)
	putU32At(buf, 12, 0) // styleCnt
	putU32At(buf, 16, testStringFlagUtf8)
	putU32At(buf, 20, stringOffset)
	putU32At(buf, 24, 0) // styleOffset
	for i, off := range offsets {
		putU32At(buf, 28+4*i, off)
	}
	copy(buf[stringOffset:], data)
	return buf
}

// buildMinimalResourcesArsc assembles a resources.arsc with one package
// ("0x7f"), one type ("string", typeID 1) holding a single non-complex
// string-valued entry ("my_string" -> the global pool's "hello"), spread
// across a type-spec chunk and its sibling type chunk per the format's
// own pairing rule.
func buildMinimalResourcesArsc() []byte {
	globalStrings := buildUtf8StringPool([]string{"hello"})
	typeStrings := buildUtf8StringPool([]string{"string"})
	keyStrings := buildUtf8StringPool([]string{"my_string"})

	const pkgHeaderLen = 4 + 256 + 4*4 // id + name[256] + 4 offset/lastPublic u32 fields
	typeStringsOff := uint32(8 + pkgHeaderLen)
	keyStringsOff := typeStringsOff + uint32(len(typeStrings))

	// type-spec chunk: chunk_header(8) + typeID/res0/res1/entryCount(8) + 1 flags u32
	const specHeaderLen = 16
	specTotalLen := uint32(specHeaderLen + 4)
	spec := make([]byte, specTotalLen)
	putU16(spec, 0, testChunkTableTypeSpec)
	putU16(spec, 2, specHeaderLen)
	putU32At(spec, 4, specTotalLen)
	spec[8] = 1 // typeID
	spec[9] = 0 // res0
	putU16(spec, 10, 0) // res1
	putU32At(spec, 12, 1) // entryCount
	putU32At(spec, 16, 0) // one flags word, unused

	// type chunk: chunk_header(8) + typeID/res0/res1/entryCount/entriesStart/configSize(16) +
	// 1 offset (4) + 1 non-complex entry (16)
	const typeFieldsLen = 1 + 1 + 2 + 4 + 4 + 4
	const entriesStart = uint32(8 + typeFieldsLen + 4) // chunk_header + fields + the single offset word
	const entryLen = 2 + 2 + 4 + 2 + 1 + 1 + 4
	typeTotalLen := uint32(8 + typeFieldsLen + 4 + entryLen)
	typ := make([]byte, typeTotalLen)
	putU16(typ, 0, testChunkTableType)
	putU16(typ, 2, 8+typeFieldsLen)
	putU32At(typ, 4, typeTotalLen)
	typ[8] = 1 // typeID
	typ[9] = 0
	putU16(typ, 10, 0)
	putU32At(typ, 12, 1)            // entryCount
	putU32At(typ, 16, entriesStart) // entriesStart
	putU32At(typ, 20, 4)            // configSize: just the size field itself
	putU32At(typ, 24, 0)            // offsets[0]: entry 0 is at entriesBase+0

	entryOff := 8 + typeFieldsLen + 4
	putU16(typ, entryOff, 8)   // entry size
	putU16(typ, entryOff+2, 0) // flags: not complex
	putU32At(typ, entryOff+4, 0) // keyIndex: "my_string"
	putU16(typ, entryOff+8, 8)  // value size
	typ[entryOff+10] = 0        // res0
	typ[entryOff+11] = 0x03     // dataType: AttrTypeString
	putU32At(typ, entryOff+12, 0) // data: global string pool index 0 ("hello")

	pkgTotalLen := uint32(8+pkgHeaderLen) + uint32(len(typeStrings)) + uint32(len(keyStrings)) + specTotalLen + typeTotalLen
	pkg := make([]byte, pkgTotalLen)
	putU16(pkg, 0, testChunkTablePackage)
	putU16(pkg, 2, 8+pkgHeaderLen)
	putU32At(pkg, 4, pkgTotalLen)
	putU32At(pkg, 8, 0x7f) // package id
	// name left zeroed: decodes to ""
	putU32At(pkg, 8+4+256, typeStringsOff)
	putU32At(pkg, 8+4+256+4, 0) // lastPublicType
	putU32At(pkg, 8+4+256+8, keyStringsOff)
	putU32At(pkg, 8+4+256+12, 0) // lastPublicKey

	off := int(typeStringsOff)
	copy(pkg[off:], typeStrings)
	off = int(keyStringsOff)
	copy(pkg[off:], keyStrings)
	off += len(keyStrings)
	copy(pkg[off:], spec)
	off += len(spec)
	copy(pkg[off:], typ)

	const tableHeaderLen = 12 // chunk_header(8) + package_count(4)
	totalLen := uint32(tableHeaderLen) + uint32(len(globalStrings)) + uint32(len(pkg))
	buf := make([]byte, totalLen)
	putU16(buf, 0, testChunkTable)
	putU16(buf, 2, tableHeaderLen)
	putU32At(buf, 4, totalLen)
	putU32At(buf, 8, 1) // package_count
	copy(buf[tableHeaderLen:], globalStrings)
	copy(buf[tableHeaderLen+len(globalStrings):], pkg)

	return buf
}

func TestParseResourceTableMinimal(t *testing.T) {
	table, err := apkparser.ParseResourceTable(bytes.NewReader(buildMinimalResourcesArsc()))
	require.NoError(t, err)
	assert.Equal(t, 1, table.PackageCount())

	entry, err := table.GetResourceEntry(0x7f010000)
	require.NoError(t, err)
	assert.Equal(t, "my_string", entry.Key())
	assert.Equal(t, "hello", entry.Value())
	assert.False(t, entry.Complex)
}

func TestParseResourceTableBadMagic(t *testing.T) {
	data := buildMinimalResourcesArsc()
	putU16(data, 0, 0x0003) // chunkAxmlFile, not chunkTable

	_, err := apkparser.ParseResourceTable(bytes.NewReader(data))
	require.Error(t, err)

	derr, ok := err.(*apkparser.Error)
	require.True(t, ok, "expected *apkparser.Error, got %T", err)
	assert.Equal(t, apkparser.BadMagic, derr.Kind)
}

func TestParseResourceTableUnknownId(t *testing.T) {
	table, err := apkparser.ParseResourceTable(bytes.NewReader(buildMinimalResourcesArsc()))
	require.NoError(t, err)

	_, err = table.GetResourceEntry(0x7f020000) // no type 2 in this package
	require.Error(t, err)
}
