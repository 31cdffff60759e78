package vm

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/funvibe/funbit/pkg/funbit"
)

func runWithInput(t *testing.T, source string, data []byte) *Machine64 {
	t.Helper()
	m := newMachine64(t, source)
	if err := m.Run(map[string]InputBuffer{"a": NewInput(data)}); err != nil {
		t.Fatalf("runtime error: %s", err)
	}
	return m
}

func leInt32s(vals ...int32) []byte {
	out := make([]byte, 0, 4*len(vals))
	for _, v := range vals {
		out = binary.LittleEndian.AppendUint32(out, uint32(v))
	}
	return out
}

// beInt32s builds a big-endian fixture with funbit's bitstring builder.
func beInt32s(t *testing.T, vals ...int) []byte {
	t.Helper()
	b := funbit.NewBuilder()
	for _, v := range vals {
		funbit.AddInteger(b, v, funbit.WithSize(32), funbit.WithEndianness("big"))
	}
	bits, err := b.Build()
	if err != nil {
		t.Fatalf("funbit build failed: %v", err)
	}
	return bits.ToBytes()
}

func TestReadLittleEndianToStack(t *testing.T) {
	m := runWithInput(t, "input a a i-> stack a i-> stack", leInt32s(1, 2))
	checkStack(t, m, 1, 2)
	if m.CountReads() != 2 {
		t.Errorf("read count wrong. got=%d, want=2", m.CountReads())
	}
}

func TestReadBigEndianToStack(t *testing.T) {
	m := runWithInput(t, "input a a !i-> stack a !i-> stack", beInt32s(t, 258, -7))
	checkStack(t, m, 258, -7)
}

func TestEndiannessAgreement(t *testing.T) {
	// Reading a big-endian value with '!' equals reading the same number's
	// little-endian bytes without it.
	big := runWithInput(t, "input a a !i-> stack", beInt32s(t, 0x01020304))
	little := runWithInput(t, "input a a i-> stack", leInt32s(0x01020304))
	checkStack(t, big, little.Stack()...)
}

func TestReadRepeated(t *testing.T) {
	m := runWithInput(t, "input a 3 a #i-> stack", leInt32s(10, 20, 30))
	checkStack(t, m, 10, 20, 30)
	// One repeated read counts once.
	if m.CountReads() != 1 {
		t.Errorf("read count wrong. got=%d, want=1", m.CountReads())
	}
}

func TestReadBytes(t *testing.T) {
	m := runWithInput(t, "input a a b-> stack a B-> stack a ?-> stack a ?-> stack",
		[]byte{0xff, 0xff, 2, 0})
	checkStack(t, m, -1, 255, 1, 0)
}

func TestReadInt16Int64(t *testing.T) {
	data := binary.LittleEndian.AppendUint16(nil, 0x8001)
	data = binary.LittleEndian.AppendUint64(data, uint64(1)<<40)
	m := runWithInput(t, "input a a h-> stack a q-> stack", data)
	checkStack(t, m, -32767, 1<<40)
}

func TestReadUnsigned(t *testing.T) {
	data := binary.LittleEndian.AppendUint16(nil, 0xffff)
	data = binary.LittleEndian.AppendUint32(data, 0xffffffff)
	m := runWithInput(t, "input a a H-> stack a I-> stack", data)
	checkStack(t, m, 65535, 4294967295)
}

func TestReadPointerWidth(t *testing.T) {
	var data []byte
	if wordSize == 8 {
		data = binary.LittleEndian.AppendUint64(nil, uint64(12345))
	} else {
		data = binary.LittleEndian.AppendUint32(nil, uint32(12345))
	}
	m := runWithInput(t, "input a a n-> stack", data)
	checkStack(t, m, 12345)
}

func TestReadFloatTruncates(t *testing.T) {
	data := binary.LittleEndian.AppendUint32(nil, math.Float32bits(2.75))
	data = binary.LittleEndian.AppendUint64(data, math.Float64bits(-3.5))
	m := runWithInput(t, "input a a f-> stack a d-> stack", data)
	checkStack(t, m, 2, -3)
}

func TestReadDirectToOutput(t *testing.T) {
	// Ten little-endian int32 values into an int32 column.
	data := leInt32s(0, 1, 2, 3, 4, 5, 6, 7, 8, 9)
	m := runWithInput(t, "input a output o int32 0 10 do a i-> o loop", data)
	checkStack(t, m)

	buf, err := m.OutputAt("o")
	if err != nil {
		t.Fatalf("output lookup failed: %v", err)
	}
	if buf.Len() != 10 {
		t.Fatalf("output length wrong. got=%d, want=10", buf.Len())
	}
	vals := buf.(*NumericOutput[int32]).Values()
	for i, v := range vals {
		if v != int32(i) {
			t.Fatalf("output values wrong. got=%v", vals)
		}
	}
	if pos, _ := m.InputPositionAt("a"); pos != 40 {
		t.Errorf("input position wrong. got=%d, want=40", pos)
	}
	if m.CountWrites() != 10 {
		t.Errorf("write count wrong. got=%d, want=10", m.CountWrites())
	}
}

func TestReadDirectConverts(t *testing.T) {
	// int32 source into a float64 column: elementwise conversion.
	m := runWithInput(t, "input a output o float64 2 a #i-> o", leInt32s(3, -4))
	buf, _ := m.OutputAt("o")
	vals := buf.(*NumericOutput[float64]).Values()
	if len(vals) != 2 || vals[0] != 3.0 || vals[1] != -4.0 {
		t.Errorf("converted values wrong. got=%v", vals)
	}
}

func TestReadDirectBigEndianRepeated(t *testing.T) {
	m := runWithInput(t, "input a output o int64 3 a #!i-> o", beInt32s(t, 5, 6, 7))
	buf, _ := m.OutputAt("o")
	vals := buf.(*NumericOutput[int64]).Values()
	if len(vals) != 3 || vals[0] != 5 || vals[1] != 6 || vals[2] != 7 {
		t.Errorf("values wrong. got=%v", vals)
	}
}

func TestReadBoolOutput(t *testing.T) {
	m := runWithInput(t, "input a output o bool 4 a #?-> o", []byte{1, 0, 9, 0})
	bools, err := m.OutputAt("o")
	if err != nil {
		t.Fatalf("output lookup failed: %v", err)
	}
	vals := bools.(*BoolOutput).Values()
	want := []bool{true, false, true, false}
	for i := range want {
		if vals[i] != want[i] {
			t.Fatalf("bool values wrong. got=%v, want=%v", vals, want)
		}
	}
}

func TestReadBeyond(t *testing.T) {
	m := newMachine64(t, "input a a i-> stack")
	err := m.Run(map[string]InputBuffer{"a": NewInput([]byte{1, 2})})
	if !errors.Is(err, ErrReadBeyond) {
		t.Fatalf("expected read beyond. got=%v", err)
	}
}

func TestInputPositioning(t *testing.T) {
	m := runWithInput(t, "input a a len 2 a seek a pos 1 a skip a pos a end", make([]byte, 4))
	checkStack(t, m, 4, 2, 3, 0)

	m = runWithInput(t, "input a 4 a seek a end", make([]byte, 4))
	checkStack(t, m, -1)
}

func TestInputPositioningErrors(t *testing.T) {
	m := newMachine64(t, "input a 5 a seek")
	if err := m.Run(map[string]InputBuffer{"a": NewInput(make([]byte, 4))}); !errors.Is(err, ErrSeekBeyond) {
		t.Fatalf("expected seek beyond. got=%v", err)
	}
	m = newMachine64(t, "input a -1 a skip")
	if err := m.Run(map[string]InputBuffer{"a": NewInput(make([]byte, 4))}); !errors.Is(err, ErrSkipBeyond) {
		t.Fatalf("expected skip beyond. got=%v", err)
	}
}

func TestWriteFromStack(t *testing.T) {
	m := run64(t, "output o int32 5 o <- stack o len 7 o <- stack 1 o rewind o len")
	checkStack(t, m, 1, 1)
	buf, _ := m.OutputAt("o")
	vals := buf.(*NumericOutput[int32]).Values()
	if len(vals) != 1 || vals[0] != 5 {
		t.Errorf("output wrong after rewind. got=%v", vals)
	}
	if m.CountWrites() != 2 {
		t.Errorf("write count wrong. got=%d, want=2", m.CountWrites())
	}
}

func TestOutputGrowth(t *testing.T) {
	m, err := NewMachine64("output o int32 0 100 do i o <- stack loop", Config{
		StackDepth:         8,
		RecursionDepth:     8,
		OutputInitialSize:  2,
		OutputResizeFactor: 1.5,
	})
	if err != nil {
		t.Fatalf("compilation error: %s", err)
	}
	if err := m.Run(nil); err != nil {
		t.Fatalf("runtime error: %s", err)
	}
	buf, _ := m.OutputAt("o")
	if buf.Len() != 100 {
		t.Fatalf("output length wrong. got=%d, want=100", buf.Len())
	}
	vals := buf.(*NumericOutput[int32]).Values()
	for i, v := range vals {
		if v != int32(i) {
			t.Fatalf("output values wrong at %d. got=%d", i, v)
		}
	}
}

func TestOutputLengthMonotonicExceptRewind(t *testing.T) {
	m := newMachine64(t, "output o int32 0 10 do i o <- stack pause loop")
	if err := m.Run(nil); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	last := int64(0)
	for !m.IsDone() {
		buf, _ := m.OutputAt("o")
		if buf.Len() < last {
			t.Fatalf("output length decreased without rewind: %d -> %d", last, buf.Len())
		}
		last = buf.Len()
		if err := m.Resume(); err != nil {
			t.Fatalf("resume failed: %v", err)
		}
	}
}
