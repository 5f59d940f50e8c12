package javaclass

import "github.com/pkg/errors"

const magicNumber = 0xCAFEBABE

// ClassFile is the fully decoded representation of a single JVM .class
// file, populated in one pass and immutable afterward.
type ClassFile struct {
	Magic        uint32
	MinorVersion uint16
	MajorVersion uint16

	ConstantPool *ConstantPool

	AccessFlags uint16
	ThisClass   uint16
	SuperClass  uint16

	Interfaces []uint16

	Fields  []Field
	Methods []Method

	Attributes []Attribute
}

type Field struct {
	AccessFlags     uint16
	NameIndex       uint16
	DescriptorIndex uint16
	Attributes      []Attribute

	Name       string
	Descriptor string
}

type Method struct {
	AccessFlags     uint16
	NameIndex       uint16
	DescriptorIndex uint16
	Attributes      []Attribute

	Name       string
	Descriptor string

	// Code is populated whenever one of Attributes is the Code
	// attribute; nil for abstract/native methods.
	Code *CodeAttribute
}

// ParseClassFile decodes a complete .class file buffer per the ordered
// protocol of §4.3: magic -> version -> constant pool -> access ->
// this/super -> interfaces -> fields -> methods -> attributes.
func ParseClassFile(data []byte) (*ClassFile, error) {
	r := newReader(data)
	cf := &ClassFile{}

	magic, err := r.readU32()
	if err != nil {
		return nil, newErr(Io, "magic", err)
	}
	if magic != magicNumber {
		return nil, newErr(BadMagic, "magic", errors.Errorf("expected 0xCAFEBABE, got 0x%08X", magic))
	}
	cf.Magic = magic

	if cf.MinorVersion, err = r.readU16(); err != nil {
		return nil, newErr(Io, "minor version", err)
	}
	if cf.MajorVersion, err = r.readU16(); err != nil {
		return nil, newErr(Io, "major version", err)
	}

	cp, err := readConstantPool(r)
	if err != nil {
		return nil, err
	}
	cf.ConstantPool = cp

	if cf.AccessFlags, err = r.readU16(); err != nil {
		return nil, newErr(Io, "access flags", err)
	}
	if cf.ThisClass, err = r.readU16(); err != nil {
		return nil, newErr(Io, "this_class", err)
	}
	if cf.SuperClass, err = r.readU16(); err != nil {
		return nil, newErr(Io, "super_class", err)
	}

	ifaceCount, err := r.readU16()
	if err != nil {
		return nil, newErr(Io, "interfaces count", err)
	}
	cf.Interfaces = make([]uint16, 0, ifaceCount)
	for i := uint16(0); i < ifaceCount; i++ {
		idx, err := r.readU16()
		if err != nil {
			return nil, newErr(Io, "interface index", err)
		}
		cf.Interfaces = append(cf.Interfaces, idx)
	}

	fieldCount, err := r.readU16()
	if err != nil {
		return nil, newErr(Io, "fields count", err)
	}
	cf.Fields = make([]Field, 0, fieldCount)
	for i := uint16(0); i < fieldCount; i++ {
		f, err := readField(r, cp)
		if err != nil {
			return nil, err
		}
		cf.Fields = append(cf.Fields, f)
	}

	methodCount, err := r.readU16()
	if err != nil {
		return nil, newErr(Io, "methods count", err)
	}
	cf.Methods = make([]Method, 0, methodCount)
	for i := uint16(0); i < methodCount; i++ {
		m, err := readMethod(r, cp)
		if err != nil {
			return nil, err
		}
		cf.Methods = append(cf.Methods, m)
	}

	attrCount, err := r.readU16()
	if err != nil {
		return nil, newErr(Io, "class attributes count", err)
	}
	cf.Attributes = make([]Attribute, 0, attrCount)
	for i := uint16(0); i < attrCount; i++ {
		a, err := readRawAttribute(r, cp)
		if err != nil {
			return nil, err
		}
		cf.Attributes = append(cf.Attributes, a)
	}

	return cf, nil
}

func readField(r *reader, cp *ConstantPool) (Field, error) {
	var f Field
	var err error
	if f.AccessFlags, err = r.readU16(); err != nil {
		return Field{}, newErr(Io, "field access flags", err)
	}
	if f.NameIndex, err = r.readU16(); err != nil {
		return Field{}, newErr(Io, "field name index", err)
	}
	if f.DescriptorIndex, err = r.readU16(); err != nil {
		return Field{}, newErr(Io, "field descriptor index", err)
	}
	attrCount, err := r.readU16()
	if err != nil {
		return Field{}, newErr(Io, "field attributes count", err)
	}
	f.Attributes = make([]Attribute, 0, attrCount)
	for i := uint16(0); i < attrCount; i++ {
		a, err := readRawAttribute(r, cp)
		if err != nil {
			return Field{}, err
		}
		f.Attributes = append(f.Attributes, a)
	}

	f.Name, _ = cp.GetUtf8(f.NameIndex)
	f.Descriptor, _ = cp.GetUtf8(f.DescriptorIndex)
	return f, nil
}

func readMethod(r *reader, cp *ConstantPool) (Method, error) {
	var m Method
	var err error
	if m.AccessFlags, err = r.readU16(); err != nil {
		return Method{}, newErr(Io, "method access flags", err)
	}
	if m.NameIndex, err = r.readU16(); err != nil {
		return Method{}, newErr(Io, "method name index", err)
	}
	if m.DescriptorIndex, err = r.readU16(); err != nil {
		return Method{}, newErr(Io, "method descriptor index", err)
	}
	attrCount, err := r.readU16()
	if err != nil {
		return Method{}, newErr(Io, "method attributes count", err)
	}
	m.Attributes = make([]Attribute, 0, attrCount)
	for i := uint16(0); i < attrCount; i++ {
		a, err := readRawAttribute(r, cp)
		if err != nil {
			return Method{}, err
		}
		m.Attributes = append(m.Attributes, a)
		if isCodeAttributeName(a.Name) && a.Code != nil {
			m.Code = a.Code
		}
	}

	m.Name, _ = cp.GetUtf8(m.NameIndex)
	m.Descriptor, _ = cp.GetUtf8(m.DescriptorIndex)
	return m, nil
}
