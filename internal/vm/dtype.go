package vm

import "math/bits"

// Dtype identifies the primitive element type of a typed read or a declared
// output buffer. The declaration order matches the typed-read codes.
type Dtype int

const (
	DtypeBool Dtype = iota
	DtypeInt8
	DtypeInt16
	DtypeInt32
	DtypeInt64
	DtypeIntp // pointer-width signed
	DtypeUint8
	DtypeUint16
	DtypeUint32
	DtypeUint64
	DtypeUintp // pointer-width unsigned
	DtypeFloat32
	DtypeFloat64
)

// wordSize is the pointer width in bytes, the element size of intp/uintp.
const wordSize = bits.UintSize / 8

var dtypeNames = map[Dtype]string{
	DtypeBool:    "bool",
	DtypeInt8:    "int8",
	DtypeInt16:   "int16",
	DtypeInt32:   "int32",
	DtypeInt64:   "int64",
	DtypeIntp:    "intp",
	DtypeUint8:   "uint8",
	DtypeUint16:  "uint16",
	DtypeUint32:  "uint32",
	DtypeUint64:  "uint64",
	DtypeUintp:   "uintp",
	DtypeFloat32: "float32",
	DtypeFloat64: "float64",
}

func (d Dtype) String() string {
	if name, ok := dtypeNames[d]; ok {
		return name
	}
	return "unknown"
}

// Size returns the element size in bytes.
func (d Dtype) Size() int64 {
	switch d {
	case DtypeBool, DtypeInt8, DtypeUint8:
		return 1
	case DtypeInt16, DtypeUint16:
		return 2
	case DtypeInt32, DtypeUint32, DtypeFloat32:
		return 4
	case DtypeInt64, DtypeUint64, DtypeFloat64:
		return 8
	case DtypeIntp, DtypeUintp:
		return wordSize
	}
	return 0
}
