package apkparser_test

import (
	"encoding/binary"
	"testing"

	"github.com/avast/bytecodescan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func putU32(buf []byte, off int, v uint32) {
	binary.LittleEndian.PutUint32(buf[off:], v)
}

// buildMinimalDex assembles a single-class, single-string DEX buffer by
// hand: one string ("Ltest/Foo;"), one type pointing at it, and one
// class_def with no superclass and no source file, laid out after a
// fixed 112-byte header.
func buildMinimalDex() []byte {
	const (
		headerSize    = 112
		stringIDsOff  = headerSize
		stringIDsSize = 4
		typeIDsOff    = stringIDsOff + stringIDsSize
		typeIDsSize   = 4
		classDefsOff  = typeIDsOff + typeIDsSize
		classDefsSize = 32
		stringDataOff = classDefsOff + classDefsSize
	)

	str := "Ltest/Foo;"
	stringData := append([]byte{byte(len(str))}, append([]byte(str), 0)...)

	total := stringDataOff + len(stringData)
	buf := make([]byte, total)

	copy(buf[0:8], []byte("dex\n035\000"))
	putU32(buf, 32, uint32(total)) // file_size
	putU32(buf, 36, headerSize)    // header_size
	putU32(buf, 56, 1)             // string_ids_size
	putU32(buf, 60, stringIDsOff)  // string_ids_off
	putU32(buf, 64, 1)             // type_ids_size
	putU32(buf, 68, typeIDsOff)    // type_ids_off
	putU32(buf, 96, 1)             // class_defs_size
	putU32(buf, 100, classDefsOff) // class_defs_off

	putU32(buf, stringIDsOff, stringDataOff)
	putU32(buf, typeIDsOff, 0)

	cd := classDefsOff
	putU32(buf, cd+0, 0)          // class_idx
	putU32(buf, cd+4, 0)          // access_flags
	putU32(buf, cd+8, 0xFFFFFFFF) // superclass_idx: none
	putU32(buf, cd+12, 0)         // interfaces_off
	putU32(buf, cd+16, 0xFFFFFFFF) // source_file_idx: none
	putU32(buf, cd+20, 0)         // annotations_off
	putU32(buf, cd+24, 0)         // class_data_off
	putU32(buf, cd+28, 0)         // static_values_off

	copy(buf[stringDataOff:], stringData)

	return buf
}

func TestParseDexMinimal(t *testing.T) {
	dex, err := apkparser.ParseDex(buildMinimalDex())
	require.NoError(t, err)

	require.Len(t, dex.Strings, 1)
	assert.Equal(t, "Ltest/Foo;", dex.Strings[0])

	require.Len(t, dex.Types, 1)
	name, err := dex.TypeName(0)
	require.NoError(t, err)
	assert.Equal(t, "Ltest/Foo;", name)

	require.Len(t, dex.Classes, 1)
	super, err := dex.SuperclassName(&dex.Classes[0])
	require.NoError(t, err)
	assert.Equal(t, "", super)

	src, err := dex.SourceFile(&dex.Classes[0])
	require.NoError(t, err)
	assert.Equal(t, "", src)
}

func TestParseDexBadMagic(t *testing.T) {
	data := buildMinimalDex()
	copy(data[0:8], []byte("dex\n099\000"))

	_, err := apkparser.ParseDex(data)
	require.Error(t, err)

	derr, ok := err.(*apkparser.Error)
	require.True(t, ok, "expected *apkparser.Error, got %T", err)
	assert.Equal(t, apkparser.BadMagic, derr.Kind)
}

func TestParseDexTooShort(t *testing.T) {
	_, err := apkparser.ParseDex([]byte("dex\n035\000"))
	require.Error(t, err)
}

func TestScanDalvikCode(t *testing.T) {
	// return-void (1 unit), const/16 (2 units), goto/32 (3 units)
	insns := []uint16{0x000e, 0x0013, 0x0000, 0x002a, 0x0000, 0x0000}
	decoded, err := apkparser.ScanDalvikCode(insns)
	require.NoError(t, err)
	require.Len(t, decoded, 3)

	assert.Equal(t, "return-void", decoded[0].Name)
	assert.Equal(t, 1, decoded[0].Units)
	assert.Equal(t, 0, decoded[0].Offset)

	assert.Equal(t, "const/16", decoded[1].Name)
	assert.Equal(t, 2, decoded[1].Units)
	assert.Equal(t, 1, decoded[1].Offset)

	assert.Equal(t, "goto/32", decoded[2].Name)
	assert.Equal(t, 3, decoded[2].Units)
	assert.Equal(t, 3, decoded[2].Offset)
}
