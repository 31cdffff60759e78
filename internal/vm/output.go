package vm

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Number is the set of element types a numeric output buffer can hold.
// int and uint are the pointer-width dtypes (intp, uintp).
type Number interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~int |
		~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uint |
		~float32 | ~float64
}

// OutputBuffer is a growable typed column. The Write<T> methods decode n
// elements of source type T from raw input bytes with the given byte order
// and append them, converting to the buffer's own dtype; WriteCell appends
// one value taken from the data stack. Rewind drops the last n values.
type OutputBuffer interface {
	Dtype() Dtype
	Len() int64
	Rewind(n int64) error
	WriteCell(v int64)

	WriteBool(n int64, raw []byte)
	WriteInt8(n int64, raw []byte)
	WriteUint8(n int64, raw []byte)
	WriteInt16(n int64, raw []byte, bo binary.ByteOrder)
	WriteUint16(n int64, raw []byte, bo binary.ByteOrder)
	WriteInt32(n int64, raw []byte, bo binary.ByteOrder)
	WriteUint32(n int64, raw []byte, bo binary.ByteOrder)
	WriteInt64(n int64, raw []byte, bo binary.ByteOrder)
	WriteUint64(n int64, raw []byte, bo binary.ByteOrder)
	WriteIntp(n int64, raw []byte, bo binary.ByteOrder)
	WriteUintp(n int64, raw []byte, bo binary.ByteOrder)
	WriteFloat32(n int64, raw []byte, bo binary.ByteOrder)
	WriteFloat64(n int64, raw []byte, bo binary.ByteOrder)

	fmt.Stringer
}

func newOutputBuffer(d Dtype, initial int64, factor float64) OutputBuffer {
	switch d {
	case DtypeBool:
		return &BoolOutput{vals: make([]bool, 0, initial), factor: factor}
	case DtypeInt8:
		return newNumericOutput[int8](d, initial, factor)
	case DtypeInt16:
		return newNumericOutput[int16](d, initial, factor)
	case DtypeInt32:
		return newNumericOutput[int32](d, initial, factor)
	case DtypeInt64:
		return newNumericOutput[int64](d, initial, factor)
	case DtypeIntp:
		return newNumericOutput[int](d, initial, factor)
	case DtypeUint8:
		return newNumericOutput[uint8](d, initial, factor)
	case DtypeUint16:
		return newNumericOutput[uint16](d, initial, factor)
	case DtypeUint32:
		return newNumericOutput[uint32](d, initial, factor)
	case DtypeUint64:
		return newNumericOutput[uint64](d, initial, factor)
	case DtypeUintp:
		return newNumericOutput[uint](d, initial, factor)
	case DtypeFloat32:
		return newNumericOutput[float32](d, initial, factor)
	case DtypeFloat64:
		return newNumericOutput[float64](d, initial, factor)
	}
	return nil
}

// intpRaw decodes the i-th pointer-width signed element.
func intpRaw(raw []byte, i int64, bo binary.ByteOrder) int64 {
	if wordSize == 8 {
		return int64(bo.Uint64(raw[8*i:]))
	}
	return int64(int32(bo.Uint32(raw[4*i:])))
}

// uintpRaw decodes the i-th pointer-width unsigned element.
func uintpRaw(raw []byte, i int64, bo binary.ByteOrder) uint64 {
	if wordSize == 8 {
		return bo.Uint64(raw[8*i:])
	}
	return uint64(bo.Uint32(raw[4*i:]))
}

// NumericOutput is the OutputBuffer implementation for every numeric dtype.
type NumericOutput[V Number] struct {
	dtype  Dtype
	vals   []V
	factor float64
}

func newNumericOutput[V Number](d Dtype, initial int64, factor float64) *NumericOutput[V] {
	return &NumericOutput[V]{dtype: d, vals: make([]V, 0, initial), factor: factor}
}

// Values returns the written values. The slice aliases the buffer; it is
// valid until the next write or rewind.
func (o *NumericOutput[V]) Values() []V {
	return o.vals
}

func (o *NumericOutput[V]) Dtype() Dtype {
	return o.dtype
}

func (o *NumericOutput[V]) Len() int64 {
	return int64(len(o.vals))
}

func (o *NumericOutput[V]) Rewind(n int64) error {
	if n > int64(len(o.vals)) {
		return ErrRewindBeyond
	}
	if n > 0 {
		o.vals = o.vals[:int64(len(o.vals))-n]
	}
	return nil
}

func (o *NumericOutput[V]) reserve(n int64) {
	need := int64(len(o.vals)) + n
	if need <= int64(cap(o.vals)) {
		return
	}
	c := int64(cap(o.vals))
	if c == 0 {
		c = 1
	}
	for c < need {
		c = int64(float64(c)*o.factor) + 1
	}
	vals := make([]V, len(o.vals), c)
	copy(vals, o.vals)
	o.vals = vals
}

func (o *NumericOutput[V]) WriteCell(v int64) {
	o.reserve(1)
	o.vals = append(o.vals, V(v))
}

func (o *NumericOutput[V]) WriteBool(n int64, raw []byte) {
	o.reserve(n)
	for i := int64(0); i < n; i++ {
		var v V
		if raw[i] != 0 {
			v = 1
		}
		o.vals = append(o.vals, v)
	}
}

func (o *NumericOutput[V]) WriteInt8(n int64, raw []byte) {
	o.reserve(n)
	for i := int64(0); i < n; i++ {
		o.vals = append(o.vals, V(int8(raw[i])))
	}
}

func (o *NumericOutput[V]) WriteUint8(n int64, raw []byte) {
	o.reserve(n)
	for i := int64(0); i < n; i++ {
		o.vals = append(o.vals, V(raw[i]))
	}
}

func (o *NumericOutput[V]) WriteInt16(n int64, raw []byte, bo binary.ByteOrder) {
	o.reserve(n)
	for i := int64(0); i < n; i++ {
		o.vals = append(o.vals, V(int16(bo.Uint16(raw[2*i:]))))
	}
}

func (o *NumericOutput[V]) WriteUint16(n int64, raw []byte, bo binary.ByteOrder) {
	o.reserve(n)
	for i := int64(0); i < n; i++ {
		o.vals = append(o.vals, V(bo.Uint16(raw[2*i:])))
	}
}

func (o *NumericOutput[V]) WriteInt32(n int64, raw []byte, bo binary.ByteOrder) {
	o.reserve(n)
	for i := int64(0); i < n; i++ {
		o.vals = append(o.vals, V(int32(bo.Uint32(raw[4*i:]))))
	}
}

func (o *NumericOutput[V]) WriteUint32(n int64, raw []byte, bo binary.ByteOrder) {
	o.reserve(n)
	for i := int64(0); i < n; i++ {
		o.vals = append(o.vals, V(bo.Uint32(raw[4*i:])))
	}
}

func (o *NumericOutput[V]) WriteInt64(n int64, raw []byte, bo binary.ByteOrder) {
	o.reserve(n)
	for i := int64(0); i < n; i++ {
		o.vals = append(o.vals, V(int64(bo.Uint64(raw[8*i:]))))
	}
}

func (o *NumericOutput[V]) WriteUint64(n int64, raw []byte, bo binary.ByteOrder) {
	o.reserve(n)
	for i := int64(0); i < n; i++ {
		o.vals = append(o.vals, V(bo.Uint64(raw[8*i:])))
	}
}

func (o *NumericOutput[V]) WriteIntp(n int64, raw []byte, bo binary.ByteOrder) {
	o.reserve(n)
	for i := int64(0); i < n; i++ {
		o.vals = append(o.vals, V(intpRaw(raw, i, bo)))
	}
}

func (o *NumericOutput[V]) WriteUintp(n int64, raw []byte, bo binary.ByteOrder) {
	o.reserve(n)
	for i := int64(0); i < n; i++ {
		o.vals = append(o.vals, V(uintpRaw(raw, i, bo)))
	}
}

func (o *NumericOutput[V]) WriteFloat32(n int64, raw []byte, bo binary.ByteOrder) {
	o.reserve(n)
	for i := int64(0); i < n; i++ {
		o.vals = append(o.vals, V(math.Float32frombits(bo.Uint32(raw[4*i:]))))
	}
}

func (o *NumericOutput[V]) WriteFloat64(n int64, raw []byte, bo binary.ByteOrder) {
	o.reserve(n)
	for i := int64(0); i < n; i++ {
		o.vals = append(o.vals, V(math.Float64frombits(bo.Uint64(raw[8*i:]))))
	}
}

func (o *NumericOutput[V]) String() string {
	return fmt.Sprintf("%v", o.vals)
}

// BoolOutput is the OutputBuffer for dtype bool; numeric sources are stored
// as value != 0.
type BoolOutput struct {
	vals   []bool
	factor float64
}

// Values returns the written values; valid until the next write or rewind.
func (o *BoolOutput) Values() []bool {
	return o.vals
}

func (o *BoolOutput) Dtype() Dtype {
	return DtypeBool
}

func (o *BoolOutput) Len() int64 {
	return int64(len(o.vals))
}

func (o *BoolOutput) Rewind(n int64) error {
	if n > int64(len(o.vals)) {
		return ErrRewindBeyond
	}
	if n > 0 {
		o.vals = o.vals[:int64(len(o.vals))-n]
	}
	return nil
}

func (o *BoolOutput) reserve(n int64) {
	need := int64(len(o.vals)) + n
	if need <= int64(cap(o.vals)) {
		return
	}
	c := int64(cap(o.vals))
	if c == 0 {
		c = 1
	}
	for c < need {
		c = int64(float64(c)*o.factor) + 1
	}
	vals := make([]bool, len(o.vals), c)
	copy(vals, o.vals)
	o.vals = vals
}

func (o *BoolOutput) WriteCell(v int64) {
	o.reserve(1)
	o.vals = append(o.vals, v != 0)
}

func (o *BoolOutput) WriteBool(n int64, raw []byte) {
	o.reserve(n)
	for i := int64(0); i < n; i++ {
		o.vals = append(o.vals, raw[i] != 0)
	}
}

func (o *BoolOutput) WriteInt8(n int64, raw []byte) {
	o.WriteBool(n, raw)
}

func (o *BoolOutput) WriteUint8(n int64, raw []byte) {
	o.WriteBool(n, raw)
}

func (o *BoolOutput) WriteInt16(n int64, raw []byte, bo binary.ByteOrder) {
	o.reserve(n)
	for i := int64(0); i < n; i++ {
		o.vals = append(o.vals, bo.Uint16(raw[2*i:]) != 0)
	}
}

func (o *BoolOutput) WriteUint16(n int64, raw []byte, bo binary.ByteOrder) {
	o.WriteInt16(n, raw, bo)
}

func (o *BoolOutput) WriteInt32(n int64, raw []byte, bo binary.ByteOrder) {
	o.reserve(n)
	for i := int64(0); i < n; i++ {
		o.vals = append(o.vals, bo.Uint32(raw[4*i:]) != 0)
	}
}

func (o *BoolOutput) WriteUint32(n int64, raw []byte, bo binary.ByteOrder) {
	o.WriteInt32(n, raw, bo)
}

func (o *BoolOutput) WriteInt64(n int64, raw []byte, bo binary.ByteOrder) {
	o.reserve(n)
	for i := int64(0); i < n; i++ {
		o.vals = append(o.vals, bo.Uint64(raw[8*i:]) != 0)
	}
}

func (o *BoolOutput) WriteUint64(n int64, raw []byte, bo binary.ByteOrder) {
	o.WriteInt64(n, raw, bo)
}

func (o *BoolOutput) WriteIntp(n int64, raw []byte, bo binary.ByteOrder) {
	o.reserve(n)
	for i := int64(0); i < n; i++ {
		o.vals = append(o.vals, intpRaw(raw, i, bo) != 0)
	}
}

func (o *BoolOutput) WriteUintp(n int64, raw []byte, bo binary.ByteOrder) {
	o.reserve(n)
	for i := int64(0); i < n; i++ {
		o.vals = append(o.vals, uintpRaw(raw, i, bo) != 0)
	}
}

func (o *BoolOutput) WriteFloat32(n int64, raw []byte, bo binary.ByteOrder) {
	o.reserve(n)
	for i := int64(0); i < n; i++ {
		o.vals = append(o.vals, math.Float32frombits(bo.Uint32(raw[4*i:])) != 0)
	}
}

func (o *BoolOutput) WriteFloat64(n int64, raw []byte, bo binary.ByteOrder) {
	o.reserve(n)
	for i := int64(0); i < n; i++ {
		o.vals = append(o.vals, math.Float64frombits(bo.Uint64(raw[8*i:])) != 0)
	}
}

func (o *BoolOutput) String() string {
	return fmt.Sprintf("%v", o.vals)
}
