package javaclass_test

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/avast/bytecodescan/javaclass"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func u16(v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return b
}

func u32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func utf8Entry(s string) []byte {
	var buf bytes.Buffer
	buf.WriteByte(1) // tagUtf8
	buf.Write(u16(uint16(len(s))))
	buf.WriteString(s)
	return buf.Bytes()
}

// buildMinimalClassFile assembles a single-method class file by hand: a
// constant pool with just the Utf8 entries needed to name the method and
// its Code attribute, and a Code attribute whose body is a single
// `return` instruction.
func buildMinimalClassFile() []byte {
	var buf bytes.Buffer
	buf.Write(u32(0xCAFEBABE))
	buf.Write(u16(0))  // minor
	buf.Write(u16(52)) // major: Java 8

	buf.Write(u16(4)) // constant_pool_count = entries+1
	buf.Write(utf8Entry("Code"))
	buf.Write(utf8Entry("m"))
	buf.Write(utf8Entry("()V"))

	buf.Write(u16(0x0021)) // access_flags
	buf.Write(u16(0))      // this_class
	buf.Write(u16(0))      // super_class
	buf.Write(u16(0))      // interfaces_count
	buf.Write(u16(0))      // fields_count

	buf.Write(u16(1)) // methods_count
	buf.Write(u16(0x0001)) // method access_flags: public
	buf.Write(u16(2))      // name_index: "m"
	buf.Write(u16(3))      // descriptor_index: "()V"
	buf.Write(u16(1))      // method attributes_count

	var code bytes.Buffer
	code.Write(u16(1))          // max_stack
	code.Write(u16(1))          // max_locals
	code.Write(u32(1))          // code_length
	code.WriteByte(0xb1)        // return
	code.Write(u16(0))          // exception_table_length
	code.Write(u16(0))          // code attributes_count

	buf.Write(u16(1)) // attribute_name_index: "Code"
	buf.Write(u32(uint32(code.Len())))
	buf.Write(code.Bytes())

	buf.Write(u16(0)) // class attributes_count

	return buf.Bytes()
}

func TestParseClassFileMinimal(t *testing.T) {
	cf, err := javaclass.ParseClassFile(buildMinimalClassFile())
	require.NoError(t, err)

	assert.Equal(t, uint32(0xCAFEBABE), cf.Magic)
	assert.EqualValues(t, 52, cf.MajorVersion)
	require.Len(t, cf.Methods, 1)

	m := cf.Methods[0]
	assert.Equal(t, "m", m.Name)
	assert.Equal(t, "()V", m.Descriptor)
	require.NotNil(t, m.Code)
	assert.EqualValues(t, 1, m.Code.MaxStack)
	assert.EqualValues(t, 1, m.Code.MaxLocals)
	require.Len(t, m.Code.Instructions, 1)
	assert.Equal(t, []byte{0xb1}, m.Code.Code)
}

func TestParseClassFileBadMagic(t *testing.T) {
	data := buildMinimalClassFile()
	data[0] = 0x00

	_, err := javaclass.ParseClassFile(data)
	require.Error(t, err)

	derr, ok := err.(*javaclass.Error)
	require.True(t, ok, "expected *javaclass.Error, got %T", err)
	assert.Equal(t, javaclass.BadMagic, derr.Kind)
}

func TestDisassembleMinimal(t *testing.T) {
	cf, err := javaclass.ParseClassFile(buildMinimalClassFile())
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, javaclass.Disassemble(&out, cf))
	assert.Contains(t, out.String(), "return")
}
