package vm

// Program is the compiled, immutable image of a source text: a flat
// instruction vector partitioned into segments by Offsets, plus the side
// tables accumulated during compilation. Segment 0 is the top-level program;
// segments >= 1 are the bodies of user-defined words, control-block bodies,
// and conditional branches, referenced by opcode OP_DICT_BASE + id.
type Program struct {
	Bytecodes []int32
	Offsets   []int64 // len = number of segments + 1

	// User-defined words in declaration order; DictionaryRefs holds the
	// segment-reference opcode of each.
	DictionaryNames []string
	DictionaryRefs  []int32

	VariableNames []string
	InputNames    []string
	OutputNames   []string
	OutputDtypes  []Dtype
}

// NumSegments returns the number of bytecode segments.
func (p *Program) NumSegments() int64 {
	return int64(len(p.Offsets)) - 1
}

// Segment returns the instruction words of segment s.
func (p *Program) Segment(s int64) []int32 {
	return p.Bytecodes[p.Offsets[s]:p.Offsets[s+1]]
}

// SegmentLength returns the number of instruction words in segment s.
func (p *Program) SegmentLength(s int64) int64 {
	return p.Offsets[s+1] - p.Offsets[s]
}

func (p *Program) segmentNonempty(s int64) bool {
	return p.Offsets[s] != p.Offsets[s+1]
}

// InstructionLength returns the number of instruction words occupied by the
// instruction at the absolute bytecode position, including its operands.
// Instructions are 1-3 words; AGAIN/UNTIL/WHILE are recognized by the
// operand-first shape (segment reference immediately followed by the loop
// opcode).
func (p *Program) InstructionLength(pos int64) int64 {
	bytecode := p.Bytecodes[pos]
	var next int32
	if pos+1 < int64(len(p.Bytecodes)) {
		next = p.Bytecodes[pos+1]
	}

	if bytecode < 0 {
		if unpackRead(bytecode)&readDirect != 0 {
			return 3
		}
		return 2
	}
	if bytecode >= int32(OP_DICT_BASE) {
		if next == int32(OP_AGAIN) || next == int32(OP_UNTIL) {
			return 2
		}
		if next == int32(OP_WHILE) {
			return 3
		}
		return 1
	}
	switch Opcode(bytecode) {
	case OP_IF_ELSE:
		return 3
	case OP_LITERAL, OP_IF, OP_DO, OP_DO_STEP, OP_EXIT,
		OP_PUT, OP_INC, OP_GET,
		OP_LEN_INPUT, OP_POS, OP_END, OP_SEEK, OP_SKIP,
		OP_WRITE, OP_LEN_OUTPUT, OP_REWIND:
		return 2
	default:
		return 1
	}
}

func (p *Program) variableIndex(name string) (int32, bool) {
	for i, n := range p.VariableNames {
		if n == name {
			return int32(i), true
		}
	}
	return 0, false
}

func (p *Program) inputIndex(name string) (int32, bool) {
	for i, n := range p.InputNames {
		if n == name {
			return int32(i), true
		}
	}
	return 0, false
}

func (p *Program) outputIndex(name string) (int32, bool) {
	for i, n := range p.OutputNames {
		if n == name {
			return int32(i), true
		}
	}
	return 0, false
}

func (p *Program) dictionaryIndex(name string) (int, bool) {
	for i, n := range p.DictionaryNames {
		if n == name {
			return i, true
		}
	}
	return 0, false
}
