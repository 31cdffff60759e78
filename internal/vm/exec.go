package vm

import (
	"encoding/binary"
	"math"
)

// fetch returns the instruction word at the current program counter.
func (m *Machine[T]) fetch() int32 {
	f := m.callDepth - 1
	return m.prog.Bytecodes[m.prog.Offsets[m.which[f]]+m.where[f]]
}

func (m *Machine[T]) advance(delta int64) {
	m.where[m.callDepth-1] += delta
}

func (m *Machine[T]) segmentDone() bool {
	f := m.callDepth - 1
	return m.where[f] >= m.prog.SegmentLength(m.which[f])
}

// finishSegment pops the completed (or exited) frame and, when the innermost
// do-loop belongs to the frame returned to, advances its index: by one for
// 'do ... loop', by a value popped from the stack for 'do ... +loop'.
func (m *Machine[T]) finishSegment() {
	m.callDepth--
	if m.doDepth != 0 && m.doStack[m.doDepth-1].depth == m.callDepth {
		rec := &m.doStack[m.doDepth-1]
		if rec.isStep {
			if m.stackDepth < 1 {
				m.err = ErrStackUnderflow
				return
			}
			m.stackDepth--
			rec.i += int64(m.stack[m.stackDepth])
		} else {
			rec.i++
		}
	}
}

// retire pops every frame that has run to its end, stopping at the target
// depth. Used at step/pause boundaries so that the machine is always left in
// the same state a full run would pass through.
func (m *Machine[T]) retire(targetDepth int64) {
	for m.err == nil && m.callDepth != targetDepth && m.segmentDone() {
		m.finishSegment()
	}
}

// internalRun is the dispatch loop. It executes bytecodes of the topmost
// frame until the call stack unwinds to targetDepth, a fault occurs, or the
// program pauses. With singleStep set it returns after one instruction;
// plain segment-reference dispatch and 'again' back-edges are pure control
// transfers and do not end a step.
func (m *Machine[T]) internalRun(singleStep bool, targetDepth int64) {
	for m.callDepth != targetDepth {
		if m.segmentDone() {
			m.finishSegment()
			if m.err != nil {
				return
			}
			continue
		}

		bytecode := m.fetch()

		// A frame that owns the innermost do-loop sits on the loop body
		// reference: the reference is re-dispatched each pass without
		// advancing, and skipped once the loop index reaches its stop.
		if m.doDepth == 0 || m.doStack[m.doDepth-1].depth != m.callDepth {
			m.advance(1)
		} else if m.doStack[m.doDepth-1].i >= m.doStack[m.doDepth-1].stop {
			m.doDepth--
			m.advance(1)
			continue
		}

		stepBoundary := true

		switch {
		case bytecode < 0:
			if !m.execRead(bytecode) {
				return
			}

		case bytecode >= int32(OP_DICT_BASE):
			if m.callDepth == m.cfg.RecursionDepth {
				m.err = ErrRecursionDepthExceeded
				return
			}
			m.pushFrame(int64(bytecode) - int64(OP_DICT_BASE))
			stepBoundary = false

		default:
			switch Opcode(bytecode) {
			case OP_LITERAL:
				num := m.fetch()
				m.advance(1)
				if m.stackDepth == m.cfg.StackDepth {
					m.err = ErrStackOverflow
					return
				}
				m.stack[m.stackDepth] = T(num)
				m.stackDepth++

			case OP_HALT:
				m.ready = false
				m.callDepth = 0
				m.targets = m.targets[:1]
				m.doDepth = 0
				m.err = ErrUserHalt
				m.countInstructions++
				return

			case OP_PAUSE:
				m.countInstructions++
				m.retire(targetDepth)
				return

			case OP_IF:
				if m.stackDepth < 1 {
					m.err = ErrStackUnderflow
					return
				}
				m.stackDepth--
				if m.stack[m.stackDepth] == 0 {
					// Predicate is false: skip over the consequent segment.
					m.advance(1)
				}

			case OP_IF_ELSE:
				if m.stackDepth < 1 {
					m.err = ErrStackUnderflow
					return
				}
				m.stackDepth--
				if m.stack[m.stackDepth] == 0 {
					// Skip the consequent; the alternate runs as a plain
					// segment reference.
					m.advance(1)
				} else {
					consequent := m.fetch()
					m.advance(2)
					if m.callDepth == m.cfg.RecursionDepth {
						m.err = ErrRecursionDepthExceeded
						return
					}
					m.pushFrame(int64(consequent) - int64(OP_DICT_BASE))
					m.countInstructions++
				}

			case OP_DO, OP_DO_STEP:
				if m.stackDepth < 2 {
					m.err = ErrStackUnderflow
					return
				}
				stopVal := int64(m.stack[m.stackDepth-1])
				startVal := int64(m.stack[m.stackDepth-2])
				m.stackDepth -= 2
				if m.doDepth == m.cfg.RecursionDepth {
					m.err = ErrRecursionDepthExceeded
					return
				}
				m.doStack[m.doDepth] = doRecord{
					isStep: Opcode(bytecode) == OP_DO_STEP,
					depth:  m.callDepth,
					i:      startVal,
					stop:   stopVal,
				}
				m.doDepth++

			case OP_AGAIN:
				m.advance(-2)
				stepBoundary = false

			case OP_UNTIL:
				if m.stackDepth < 1 {
					m.err = ErrStackUnderflow
					return
				}
				m.stackDepth--
				if m.stack[m.stackDepth] == 0 {
					m.advance(-2)
				}

			case OP_WHILE:
				if m.stackDepth < 1 {
					m.err = ErrStackUnderflow
					return
				}
				m.stackDepth--
				if m.stack[m.stackDepth] == 0 {
					// Leave the loop: skip over the postcondition segment.
					m.advance(1)
				} else {
					posttest := m.fetch()
					m.advance(-2)
					if m.callDepth == m.cfg.RecursionDepth {
						m.err = ErrRecursionDepthExceeded
						return
					}
					m.pushFrame(int64(posttest) - int64(OP_DICT_BASE))
					m.countInstructions++
				}

			case OP_EXIT:
				depth := int64(m.fetch())
				m.advance(1)
				m.callDepth -= depth
				// Loops owned by the abandoned frames are over.
				for m.doDepth != 0 && m.doStack[m.doDepth-1].depth >= m.callDepth {
					m.doDepth--
				}
				m.countInstructions++
				m.finishSegment()
				if m.err != nil {
					return
				}
				if singleStep {
					m.retire(targetDepth)
					return
				}
				continue

			case OP_PUT:
				num := m.fetch()
				m.advance(1)
				if m.stackDepth < 1 {
					m.err = ErrStackUnderflow
					return
				}
				m.stackDepth--
				m.variables[num] = m.stack[m.stackDepth]

			case OP_INC:
				num := m.fetch()
				m.advance(1)
				if m.stackDepth < 1 {
					m.err = ErrStackUnderflow
					return
				}
				m.stackDepth--
				m.variables[num] += m.stack[m.stackDepth]

			case OP_GET:
				num := m.fetch()
				m.advance(1)
				if m.stackDepth == m.cfg.StackDepth {
					m.err = ErrStackOverflow
					return
				}
				m.stack[m.stackDepth] = m.variables[num]
				m.stackDepth++

			case OP_LEN_INPUT:
				num := m.fetch()
				m.advance(1)
				if m.stackDepth == m.cfg.StackDepth {
					m.err = ErrStackOverflow
					return
				}
				m.stack[m.stackDepth] = T(m.inputs[num].Len())
				m.stackDepth++

			case OP_POS:
				num := m.fetch()
				m.advance(1)
				if m.stackDepth == m.cfg.StackDepth {
					m.err = ErrStackOverflow
					return
				}
				m.stack[m.stackDepth] = T(m.inputs[num].Pos())
				m.stackDepth++

			case OP_END:
				num := m.fetch()
				m.advance(1)
				if m.stackDepth == m.cfg.StackDepth {
					m.err = ErrStackOverflow
					return
				}
				if m.inputs[num].End() {
					m.stack[m.stackDepth] = -1
				} else {
					m.stack[m.stackDepth] = 0
				}
				m.stackDepth++

			case OP_SEEK:
				num := m.fetch()
				m.advance(1)
				if m.stackDepth < 1 {
					m.err = ErrStackUnderflow
					return
				}
				m.stackDepth--
				if err := m.inputs[num].Seek(int64(m.stack[m.stackDepth])); err != nil {
					m.err = err
					return
				}

			case OP_SKIP:
				num := m.fetch()
				m.advance(1)
				if m.stackDepth < 1 {
					m.err = ErrStackUnderflow
					return
				}
				m.stackDepth--
				if err := m.inputs[num].Skip(int64(m.stack[m.stackDepth])); err != nil {
					m.err = err
					return
				}

			case OP_WRITE:
				num := m.fetch()
				m.advance(1)
				if m.stackDepth < 1 {
					m.err = ErrStackUnderflow
					return
				}
				m.stackDepth--
				m.outputs[num].WriteCell(int64(m.stack[m.stackDepth]))
				m.countWrites++

			case OP_LEN_OUTPUT:
				num := m.fetch()
				m.advance(1)
				if m.stackDepth == m.cfg.StackDepth {
					m.err = ErrStackOverflow
					return
				}
				m.stack[m.stackDepth] = T(m.outputs[num].Len())
				m.stackDepth++

			case OP_REWIND:
				num := m.fetch()
				m.advance(1)
				if m.stackDepth < 1 {
					m.err = ErrStackUnderflow
					return
				}
				m.stackDepth--
				if err := m.outputs[num].Rewind(int64(m.stack[m.stackDepth])); err != nil {
					m.err = err
					return
				}

			case OP_I:
				if m.stackDepth == m.cfg.StackDepth {
					m.err = ErrStackOverflow
					return
				}
				m.stack[m.stackDepth] = T(m.doStack[m.doDepth-1].i)
				m.stackDepth++

			case OP_J:
				if m.stackDepth == m.cfg.StackDepth {
					m.err = ErrStackOverflow
					return
				}
				m.stack[m.stackDepth] = T(m.doStack[m.doDepth-2].i)
				m.stackDepth++

			case OP_K:
				if m.stackDepth == m.cfg.StackDepth {
					m.err = ErrStackOverflow
					return
				}
				m.stack[m.stackDepth] = T(m.doStack[m.doDepth-3].i)
				m.stackDepth++

			case OP_DUP:
				if m.stackDepth < 1 {
					m.err = ErrStackUnderflow
					return
				}
				if m.stackDepth == m.cfg.StackDepth {
					m.err = ErrStackOverflow
					return
				}
				m.stack[m.stackDepth] = m.stack[m.stackDepth-1]
				m.stackDepth++

			case OP_DROP:
				if m.stackDepth < 1 {
					m.err = ErrStackUnderflow
					return
				}
				m.stackDepth--

			case OP_SWAP:
				if m.stackDepth < 2 {
					m.err = ErrStackUnderflow
					return
				}
				m.stack[m.stackDepth-2], m.stack[m.stackDepth-1] =
					m.stack[m.stackDepth-1], m.stack[m.stackDepth-2]

			case OP_OVER:
				if m.stackDepth < 2 {
					m.err = ErrStackUnderflow
					return
				}
				if m.stackDepth == m.cfg.StackDepth {
					m.err = ErrStackOverflow
					return
				}
				m.stack[m.stackDepth] = m.stack[m.stackDepth-2]
				m.stackDepth++

			case OP_ROT:
				if m.stackDepth < 3 {
					m.err = ErrStackUnderflow
					return
				}
				first := m.stack[m.stackDepth-3]
				m.stack[m.stackDepth-3] = m.stack[m.stackDepth-2]
				m.stack[m.stackDepth-2] = m.stack[m.stackDepth-1]
				m.stack[m.stackDepth-1] = first

			case OP_NIP:
				if m.stackDepth < 2 {
					m.err = ErrStackUnderflow
					return
				}
				m.stack[m.stackDepth-2] = m.stack[m.stackDepth-1]
				m.stackDepth--

			case OP_TUCK:
				if m.stackDepth < 2 {
					m.err = ErrStackUnderflow
					return
				}
				if m.stackDepth == m.cfg.StackDepth {
					m.err = ErrStackOverflow
					return
				}
				top := m.stack[m.stackDepth-1]
				m.stack[m.stackDepth-1] = m.stack[m.stackDepth-2]
				m.stack[m.stackDepth-2] = top
				m.stack[m.stackDepth] = top
				m.stackDepth++

			case OP_ADD:
				if m.stackDepth < 2 {
					m.err = ErrStackUnderflow
					return
				}
				m.stack[m.stackDepth-2] += m.stack[m.stackDepth-1]
				m.stackDepth--

			case OP_SUB:
				if m.stackDepth < 2 {
					m.err = ErrStackUnderflow
					return
				}
				m.stack[m.stackDepth-2] -= m.stack[m.stackDepth-1]
				m.stackDepth--

			case OP_MUL:
				if m.stackDepth < 2 {
					m.err = ErrStackUnderflow
					return
				}
				m.stack[m.stackDepth-2] *= m.stack[m.stackDepth-1]
				m.stackDepth--

			case OP_DIV:
				if m.stackDepth < 2 {
					m.err = ErrStackUnderflow
					return
				}
				a, b := m.stack[m.stackDepth-2], m.stack[m.stackDepth-1]
				if b == 0 {
					m.err = ErrDivisionByZero
					return
				}
				m.stack[m.stackDepth-2] = floorDiv(a, b)
				m.stackDepth--

			case OP_MOD:
				if m.stackDepth < 2 {
					m.err = ErrStackUnderflow
					return
				}
				a, b := m.stack[m.stackDepth-2], m.stack[m.stackDepth-1]
				if b == 0 {
					m.err = ErrDivisionByZero
					return
				}
				m.stack[m.stackDepth-2] = floorMod(a, b)
				m.stackDepth--

			case OP_DIVMOD:
				if m.stackDepth < 2 {
					m.err = ErrStackUnderflow
					return
				}
				a, b := m.stack[m.stackDepth-2], m.stack[m.stackDepth-1]
				if b == 0 {
					m.err = ErrDivisionByZero
					return
				}
				m.stack[m.stackDepth-2] = floorMod(a, b)
				m.stack[m.stackDepth-1] = floorDiv(a, b)

			case OP_NEGATE:
				if m.stackDepth < 1 {
					m.err = ErrStackUnderflow
					return
				}
				m.stack[m.stackDepth-1] = -m.stack[m.stackDepth-1]

			case OP_ADD1:
				if m.stackDepth < 1 {
					m.err = ErrStackUnderflow
					return
				}
				m.stack[m.stackDepth-1]++

			case OP_SUB1:
				if m.stackDepth < 1 {
					m.err = ErrStackUnderflow
					return
				}
				m.stack[m.stackDepth-1]--

			case OP_ABS:
				if m.stackDepth < 1 {
					m.err = ErrStackUnderflow
					return
				}
				if m.stack[m.stackDepth-1] < 0 {
					m.stack[m.stackDepth-1] = -m.stack[m.stackDepth-1]
				}

			case OP_MIN:
				if m.stackDepth < 2 {
					m.err = ErrStackUnderflow
					return
				}
				if m.stack[m.stackDepth-1] < m.stack[m.stackDepth-2] {
					m.stack[m.stackDepth-2] = m.stack[m.stackDepth-1]
				}
				m.stackDepth--

			case OP_MAX:
				if m.stackDepth < 2 {
					m.err = ErrStackUnderflow
					return
				}
				if m.stack[m.stackDepth-1] > m.stack[m.stackDepth-2] {
					m.stack[m.stackDepth-2] = m.stack[m.stackDepth-1]
				}
				m.stackDepth--

			case OP_EQ:
				if !m.compare(func(a, b T) bool { return a == b }) {
					return
				}

			case OP_NE:
				if !m.compare(func(a, b T) bool { return a != b }) {
					return
				}

			case OP_GT:
				if !m.compare(func(a, b T) bool { return a > b }) {
					return
				}

			case OP_GE:
				if !m.compare(func(a, b T) bool { return a >= b }) {
					return
				}

			case OP_LT:
				if !m.compare(func(a, b T) bool { return a < b }) {
					return
				}

			case OP_LE:
				if !m.compare(func(a, b T) bool { return a <= b }) {
					return
				}

			case OP_EQ0:
				if m.stackDepth < 1 {
					m.err = ErrStackUnderflow
					return
				}
				if m.stack[m.stackDepth-1] == 0 {
					m.stack[m.stackDepth-1] = -1
				} else {
					m.stack[m.stackDepth-1] = 0
				}

			case OP_INVERT:
				if m.stackDepth < 1 {
					m.err = ErrStackUnderflow
					return
				}
				m.stack[m.stackDepth-1] = ^m.stack[m.stackDepth-1]

			case OP_AND:
				if m.stackDepth < 2 {
					m.err = ErrStackUnderflow
					return
				}
				m.stack[m.stackDepth-2] &= m.stack[m.stackDepth-1]
				m.stackDepth--

			case OP_OR:
				if m.stackDepth < 2 {
					m.err = ErrStackUnderflow
					return
				}
				m.stack[m.stackDepth-2] |= m.stack[m.stackDepth-1]
				m.stackDepth--

			case OP_XOR:
				if m.stackDepth < 2 {
					m.err = ErrStackUnderflow
					return
				}
				m.stack[m.stackDepth-2] ^= m.stack[m.stackDepth-1]
				m.stackDepth--

			case OP_LSHIFT:
				if m.stackDepth < 2 {
					m.err = ErrStackUnderflow
					return
				}
				m.stack[m.stackDepth-2] <<= uint64(m.stack[m.stackDepth-1])
				m.stackDepth--

			case OP_RSHIFT:
				if m.stackDepth < 2 {
					m.err = ErrStackUnderflow
					return
				}
				m.stack[m.stackDepth-2] >>= uint64(m.stack[m.stackDepth-1])
				m.stackDepth--

			case OP_FALSE:
				if m.stackDepth == m.cfg.StackDepth {
					m.err = ErrStackOverflow
					return
				}
				m.stack[m.stackDepth] = 0
				m.stackDepth++

			case OP_TRUE:
				if m.stackDepth == m.cfg.StackDepth {
					m.err = ErrStackOverflow
					return
				}
				m.stack[m.stackDepth] = -1
				m.stackDepth++
			}
		}

		m.countInstructions++

		if singleStep && stepBoundary {
			m.retire(targetDepth)
			return
		}
	}
}

// compare pops two cells and pushes -1 (true) or 0 (false).
func (m *Machine[T]) compare(pred func(a, b T) bool) bool {
	if m.stackDepth < 2 {
		m.err = ErrStackUnderflow
		return false
	}
	if pred(m.stack[m.stackDepth-2], m.stack[m.stackDepth-1]) {
		m.stack[m.stackDepth-2] = -1
	} else {
		m.stack[m.stackDepth-2] = 0
	}
	m.stackDepth--
	return true
}

// floorDiv is Forth division: the quotient is rounded toward negative
// infinity, not toward zero.
func floorDiv[T Cell](a, b T) T {
	q := a / b
	if q*b != a && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// floorMod is true modulo: the result takes the sign of the divisor.
func floorMod[T Cell](a, b T) T {
	return (b + a%b) % b
}

// execRead executes a packed typed-read instruction. It returns false when a
// fault was recorded.
func (m *Machine[T]) execRead(bytecode int32) bool {
	flags := unpackRead(bytecode)
	dtype := dtypeOfReadCode(flags & readMask)

	var bo binary.ByteOrder = binary.LittleEndian
	if flags&readBigendian != 0 {
		bo = binary.BigEndian
	}

	inNum := m.fetch()
	m.advance(1)

	numItems := int64(1)
	if flags&readRepeated != 0 {
		if m.stackDepth < 1 {
			m.err = ErrStackUnderflow
			return false
		}
		m.stackDepth--
		numItems = int64(m.stack[m.stackDepth])
	}

	raw, err := m.inputs[inNum].Read(numItems * dtype.Size())
	if err != nil {
		m.err = err
		return false
	}

	if flags&readDirect != 0 {
		outNum := m.fetch()
		m.advance(1)
		writeRaw(m.outputs[outNum], dtype, numItems, raw, bo)
		m.countWrites++
	} else {
		if !m.pushDecoded(dtype, numItems, raw, bo) {
			return false
		}
	}

	m.countReads++
	return true
}

// pushDecoded decodes numItems elements of dtype from raw and pushes each
// onto the data stack, converted to the cell type.
func (m *Machine[T]) pushDecoded(dtype Dtype, numItems int64, raw []byte, bo binary.ByteOrder) bool {
	for i := int64(0); i < numItems; i++ {
		var value T
		switch dtype {
		case DtypeBool:
			if raw[i] != 0 {
				value = 1
			}
		case DtypeInt8:
			value = T(int8(raw[i]))
		case DtypeUint8:
			value = T(raw[i])
		case DtypeInt16:
			value = T(int16(bo.Uint16(raw[2*i:])))
		case DtypeUint16:
			value = T(bo.Uint16(raw[2*i:]))
		case DtypeInt32:
			value = T(int32(bo.Uint32(raw[4*i:])))
		case DtypeUint32:
			value = T(bo.Uint32(raw[4*i:]))
		case DtypeInt64:
			value = T(int64(bo.Uint64(raw[8*i:])))
		case DtypeUint64:
			value = T(bo.Uint64(raw[8*i:]))
		case DtypeIntp:
			value = T(intpRaw(raw, i, bo))
		case DtypeUintp:
			value = T(uintpRaw(raw, i, bo))
		case DtypeFloat32:
			value = T(math.Float32frombits(bo.Uint32(raw[4*i:])))
		case DtypeFloat64:
			value = T(math.Float64frombits(bo.Uint64(raw[8*i:])))
		}
		if m.stackDepth == m.cfg.StackDepth {
			m.err = ErrStackOverflow
			return false
		}
		m.stack[m.stackDepth] = value
		m.stackDepth++
	}
	return true
}

// writeRaw forwards raw elements of the read dtype to an output buffer,
// which converts them to its own dtype.
func writeRaw(out OutputBuffer, dtype Dtype, n int64, raw []byte, bo binary.ByteOrder) {
	switch dtype {
	case DtypeBool:
		out.WriteBool(n, raw)
	case DtypeInt8:
		out.WriteInt8(n, raw)
	case DtypeUint8:
		out.WriteUint8(n, raw)
	case DtypeInt16:
		out.WriteInt16(n, raw, bo)
	case DtypeUint16:
		out.WriteUint16(n, raw, bo)
	case DtypeInt32:
		out.WriteInt32(n, raw, bo)
	case DtypeUint32:
		out.WriteUint32(n, raw, bo)
	case DtypeInt64:
		out.WriteInt64(n, raw, bo)
	case DtypeUint64:
		out.WriteUint64(n, raw, bo)
	case DtypeIntp:
		out.WriteIntp(n, raw, bo)
	case DtypeUintp:
		out.WriteUintp(n, raw, bo)
	case DtypeFloat32:
		out.WriteFloat32(n, raw, bo)
	case DtypeFloat64:
		out.WriteFloat64(n, raw, bo)
	}
}
