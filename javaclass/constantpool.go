package javaclass

import "github.com/pkg/errors"

// Constant-pool tags, fixed per the JVM spec.
const (
	tagUtf8               = 1
	tagInteger            = 3
	tagFloat              = 4
	tagLong               = 5
	tagDouble             = 6
	tagClass              = 7
	tagString             = 8
	tagFieldRef           = 9
	tagMethodRef          = 10
	tagInterfaceMethodRef = 11
	tagNameAndType        = 12
	tagMethodHandle       = 15
	tagMethodType         = 16
	tagDynamic            = 17
	tagInvokeDynamic      = 18
	tagModule             = 19
	tagPackage            = 20
)

// CPEntry is a tagged-union constant-pool entry. Exactly one of the
// typed fields is meaningful, selected by Tag; this mirrors the
// exhaustive byte->variant table the format requires instead of a raw
// integer discriminator.
type CPEntry struct {
	Tag uint8

	Utf8Value   string
	IntValue    int32
	FloatValue  float32
	LongValue   int64
	DoubleValue float64

	// ClassRef, StringRef, MethodType, Module, Package
	Index1 uint16
	// FieldRef, MethodRef, InterfaceMethodRef, NameAndType, Dynamic, InvokeDynamic: (Index1, Index2)
	Index2 uint16

	// MethodHandle
	RefKind uint8

	// placeholder is true for the reserved slot following a Long/Double.
	placeholder bool
}

// ConstantPool is the ordered, 1-based table of constant-pool entries.
// Index 0 is unused; a Long/Double at index i reserves index i+1 as an
// unindexable placeholder.
type ConstantPool struct {
	entries []CPEntry // entries[0] is the unused zero slot
}

func (cp *ConstantPool) Count() int { return len(cp.entries) }

func (cp *ConstantPool) get(i uint16) (CPEntry, bool) {
	if int(i) <= 0 || int(i) >= len(cp.entries) {
		return CPEntry{}, false
	}
	e := cp.entries[i]
	if e.placeholder {
		return CPEntry{}, false
	}
	return e, true
}

func (cp *ConstantPool) GetUtf8(i uint16) (string, bool) {
	e, ok := cp.get(i)
	if !ok || e.Tag != tagUtf8 {
		return "", false
	}
	return e.Utf8Value, true
}

func (cp *ConstantPool) GetInteger(i uint16) (int32, bool) {
	e, ok := cp.get(i)
	if !ok || e.Tag != tagInteger {
		return 0, false
	}
	return e.IntValue, true
}

func (cp *ConstantPool) GetFloat(i uint16) (float32, bool) {
	e, ok := cp.get(i)
	if !ok || e.Tag != tagFloat {
		return 0, false
	}
	return e.FloatValue, true
}

func (cp *ConstantPool) GetLong(i uint16) (int64, bool) {
	e, ok := cp.get(i)
	if !ok || e.Tag != tagLong {
		return 0, false
	}
	return e.LongValue, true
}

func (cp *ConstantPool) GetDouble(i uint16) (float64, bool) {
	e, ok := cp.get(i)
	if !ok || e.Tag != tagDouble {
		return 0, false
	}
	return e.DoubleValue, true
}

func (cp *ConstantPool) GetClassRef(i uint16) (uint16, bool) {
	e, ok := cp.get(i)
	if !ok || e.Tag != tagClass {
		return 0, false
	}
	return e.Index1, true
}

// GetClassName resolves a ClassRef's name_index all the way to the
// backing Utf8 string — the common case rendering and field/method
// resolution both need.
func (cp *ConstantPool) GetClassName(i uint16) (string, bool) {
	nameIdx, ok := cp.GetClassRef(i)
	if !ok {
		return "", false
	}
	return cp.GetUtf8(nameIdx)
}

func (cp *ConstantPool) GetStringRef(i uint16) (uint16, bool) {
	e, ok := cp.get(i)
	if !ok || e.Tag != tagString {
		return 0, false
	}
	return e.Index1, true
}

func (cp *ConstantPool) GetNameAndType(i uint16) (uint16, uint16, bool) {
	e, ok := cp.get(i)
	if !ok || e.Tag != tagNameAndType {
		return 0, 0, false
	}
	return e.Index1, e.Index2, true
}

func (cp *ConstantPool) GetFieldRef(i uint16) (uint16, uint16, bool) {
	e, ok := cp.get(i)
	if !ok || e.Tag != tagFieldRef {
		return 0, 0, false
	}
	return e.Index1, e.Index2, true
}

func (cp *ConstantPool) GetMethodRef(i uint16) (uint16, uint16, bool) {
	e, ok := cp.get(i)
	if !ok || e.Tag != tagMethodRef {
		return 0, 0, false
	}
	return e.Index1, e.Index2, true
}

func (cp *ConstantPool) GetInterfaceMethodRef(i uint16) (uint16, uint16, bool) {
	e, ok := cp.get(i)
	if !ok || e.Tag != tagInterfaceMethodRef {
		return 0, 0, false
	}
	return e.Index1, e.Index2, true
}

func (cp *ConstantPool) GetMethodHandle(i uint16) (uint8, uint16, bool) {
	e, ok := cp.get(i)
	if !ok || e.Tag != tagMethodHandle {
		return 0, 0, false
	}
	return e.RefKind, e.Index1, true
}

func (cp *ConstantPool) GetMethodType(i uint16) (uint16, bool) {
	e, ok := cp.get(i)
	if !ok || e.Tag != tagMethodType {
		return 0, false
	}
	return e.Index1, true
}

func (cp *ConstantPool) GetInvokeDynamic(i uint16) (uint16, uint16, bool) {
	e, ok := cp.get(i)
	if !ok || e.Tag != tagInvokeDynamic {
		return 0, 0, false
	}
	return e.Index1, e.Index2, true
}

func (cp *ConstantPool) GetDynamic(i uint16) (uint16, uint16, bool) {
	e, ok := cp.get(i)
	if !ok || e.Tag != tagDynamic {
		return 0, 0, false
	}
	return e.Index1, e.Index2, true
}

func (cp *ConstantPool) GetModule(i uint16) (uint16, bool) {
	e, ok := cp.get(i)
	if !ok || e.Tag != tagModule {
		return 0, false
	}
	return e.Index1, true
}

func (cp *ConstantPool) GetPackage(i uint16) (uint16, bool) {
	e, ok := cp.get(i)
	if !ok || e.Tag != tagPackage {
		return 0, false
	}
	return e.Index1, true
}

// readConstantPool reads the pool starting at the count field and
// returns the populated table. i iterates from 1 while i < count, per
// the JVM spec's off-by-one count convention.
func readConstantPool(r *reader) (*ConstantPool, error) {
	count, err := r.readU16()
	if err != nil {
		return nil, newErr(Io, "constant pool count", err)
	}

	cp := &ConstantPool{entries: make([]CPEntry, count)}

	for i := uint16(1); i < count; i++ {
		entry, extraSlot, err := readCPEntry(r)
		if err != nil {
			kind := Io
			if perr, ok := err.(*Error); ok {
				kind = perr.Kind
			}
			return nil, newErr(kind, errors.Wrapf(err, "constant pool entry #%d", i).Error(), nil)
		}
		cp.entries[i] = entry
		if extraSlot {
			i++
			if i < count {
				cp.entries[i] = CPEntry{placeholder: true}
			}
		}
	}

	return cp, nil
}

// readCPEntry reads one tagged entry. extraSlot is true for Long/Double,
// signalling the caller to reserve the following index.
func readCPEntry(r *reader) (CPEntry, bool, error) {
	tag, err := r.readU8()
	if err != nil {
		return CPEntry{}, false, newErr(Io, "tag", err)
	}

	switch tag {
	case tagUtf8:
		length, err := r.readU16()
		if err != nil {
			return CPEntry{}, false, newErr(Io, "utf8 length", err)
		}
		raw, err := r.readExact(int(length))
		if err != nil {
			return CPEntry{}, false, err
		}
		s, decErr := readMUTF8(raw)
		if decErr != nil {
			return CPEntry{}, false, newErr(InvalidEncoding, "utf8 bytes", decErr)
		}
		return CPEntry{Tag: tag, Utf8Value: s}, false, nil

	case tagInteger:
		v, err := r.readI32()
		if err != nil {
			return CPEntry{}, false, newErr(Io, "integer", err)
		}
		return CPEntry{Tag: tag, IntValue: v}, false, nil

	case tagFloat:
		v, err := r.readF32()
		if err != nil {
			return CPEntry{}, false, newErr(Io, "float", err)
		}
		return CPEntry{Tag: tag, FloatValue: v}, false, nil

	case tagLong:
		v, err := r.readI64()
		if err != nil {
			return CPEntry{}, false, newErr(Io, "long", err)
		}
		return CPEntry{Tag: tag, LongValue: v}, true, nil

	case tagDouble:
		v, err := r.readF64()
		if err != nil {
			return CPEntry{}, false, newErr(Io, "double", err)
		}
		return CPEntry{Tag: tag, DoubleValue: v}, true, nil

	case tagClass, tagString, tagMethodType, tagModule, tagPackage:
		idx, err := r.readU16()
		if err != nil {
			return CPEntry{}, false, newErr(Io, "index", err)
		}
		return CPEntry{Tag: tag, Index1: idx}, false, nil

	case tagFieldRef, tagMethodRef, tagInterfaceMethodRef, tagNameAndType, tagDynamic, tagInvokeDynamic:
		a, err := r.readU16()
		if err != nil {
			return CPEntry{}, false, newErr(Io, "index1", err)
		}
		b, err := r.readU16()
		if err != nil {
			return CPEntry{}, false, newErr(Io, "index2", err)
		}
		return CPEntry{Tag: tag, Index1: a, Index2: b}, false, nil

	case tagMethodHandle:
		kind, err := r.readU8()
		if err != nil {
			return CPEntry{}, false, newErr(Io, "reference kind", err)
		}
		idx, err := r.readU16()
		if err != nil {
			return CPEntry{}, false, newErr(Io, "reference index", err)
		}
		return CPEntry{Tag: tag, RefKind: kind, Index1: idx}, false, nil

	default:
		return CPEntry{}, false, newErr(UnknownTag, "tag", errors.Errorf("unknown constant pool tag 0x%02x", tag))
	}
}
