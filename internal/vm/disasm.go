package vm

import (
	"fmt"
	"strings"
)

// builtinWordByOpcode inverts genericBuiltinWords for the decompiler.
var builtinWordByOpcode = func() map[Opcode]string {
	out := make(map[Opcode]string, len(genericBuiltinWords))
	for word, opcode := range genericBuiltinWords {
		out[opcode] = word
	}
	return out
}()

// readLetter is the parser-spec letter for a read dtype.
func readLetter(d Dtype) string {
	switch d {
	case DtypeBool:
		return "?"
	case DtypeInt8:
		return "b"
	case DtypeInt16:
		return "h"
	case DtypeInt32:
		return "i"
	case DtypeInt64:
		return "q"
	case DtypeIntp:
		return "n"
	case DtypeUint8:
		return "B"
	case DtypeUint16:
		return "H"
	case DtypeUint32:
		return "I"
	case DtypeUint64:
		return "Q"
	case DtypeUintp:
		return "N"
	case DtypeFloat32:
		return "f"
	case DtypeFloat64:
		return "d"
	}
	return "?"
}

// Decompiled renders the whole program back to source form: declarations
// first, then dictionary definitions, then the top-level program. When every
// word definition stands at the top level ahead of the first top-level
// control block, the result recompiles to the same bytecode table. Other
// definitions (nested in a definition or block, or placed after a top-level
// control block) are still rendered ahead of the top-level program, so such a
// program does not recompile to the same table.
func (p *Program) Decompiled() string {
	var sb strings.Builder
	first := true

	for _, name := range p.VariableNames {
		first = false
		fmt.Fprintf(&sb, "variable %s\n", name)
	}
	for _, name := range p.InputNames {
		first = false
		fmt.Fprintf(&sb, "input %s\n", name)
	}
	for i, name := range p.OutputNames {
		first = false
		fmt.Fprintf(&sb, "output %s %s\n", name, p.OutputDtypes[i])
	}

	for i, name := range p.DictionaryNames {
		if !first {
			sb.WriteString("\n")
		}
		first = false
		segment := int64(p.DictionaryRefs[i]) - int64(OP_DICT_BASE)
		body, _ := p.DecompiledSegment(segment, "  ")
		sb.WriteString(": " + name + "\n")
		if p.segmentNonempty(segment) {
			sb.WriteString("  ")
		}
		sb.WriteString(body)
		sb.WriteString(";\n")
	}

	if !first && p.Offsets[1] != 0 {
		sb.WriteString("\n")
	}
	top, _ := p.DecompiledSegment(0, "")
	sb.WriteString(top)
	return sb.String()
}

// DecompiledSegment renders one segment, one instruction per line, with
// nested segments indented two further spaces.
func (p *Program) DecompiledSegment(segment int64, indent string) (string, error) {
	if segment < 0 || segment+1 >= int64(len(p.Offsets)) {
		return "", fmt.Errorf("segment %d does not exist in the bytecode", segment)
	}
	var sb strings.Builder
	pos := p.Offsets[segment]
	for pos < p.Offsets[segment+1] {
		if pos != p.Offsets[segment] {
			sb.WriteString(indent)
		}
		line, err := p.DecompiledAt(pos, indent)
		if err != nil {
			return "", err
		}
		sb.WriteString(line)
		sb.WriteString("\n")
		pos += p.InstructionLength(pos)
	}
	return sb.String(), nil
}

// blockBody renders a nested block segment with its opening indentation.
func (p *Program) blockBody(segment int64, indent string) string {
	body, _ := p.DecompiledSegment(segment, indent+"  ")
	if p.segmentNonempty(segment) {
		return indent + "  " + body
	}
	return body
}

// DecompiledAt renders the single instruction at an absolute bytecode
// position.
func (p *Program) DecompiledAt(pos int64, indent string) (string, error) {
	if pos < 0 || pos >= int64(len(p.Bytecodes)) {
		return "", fmt.Errorf("absolute position %d does not exist in the bytecode", pos)
	}

	bytecode := p.Bytecodes[pos]
	var next int32
	if pos+1 < int64(len(p.Bytecodes)) {
		next = p.Bytecodes[pos+1]
	}

	if bytecode < 0 {
		flags := unpackRead(bytecode)
		inName := p.InputNames[p.Bytecodes[pos+1]]

		rep := ""
		if flags&readRepeated != 0 {
			rep = "#"
		}
		big := ""
		if flags&readBigendian != 0 {
			big = "!"
		}
		arrow := rep + big + readLetter(dtypeOfReadCode(flags&readMask)) + "->"

		outName := "stack"
		if flags&readDirect != 0 {
			outName = p.OutputNames[p.Bytecodes[pos+2]]
		}
		return inName + " " + arrow + " " + outName, nil
	}

	// The operand-first loop shapes only ever follow a segment reference;
	// without the bound check a literal 7, 8, or 9 would be mistaken for a
	// loop opcode.
	if bytecode >= int32(OP_DICT_BASE) {
		if next == int32(OP_AGAIN) {
			body := int64(bytecode) - int64(OP_DICT_BASE)
			return "begin\n" + p.blockBody(body, indent) + indent + "again", nil
		}
		if next == int32(OP_UNTIL) {
			body := int64(bytecode) - int64(OP_DICT_BASE)
			return "begin\n" + p.blockBody(body, indent) + indent + "until", nil
		}
		if next == int32(OP_WHILE) {
			precondition := int64(bytecode) - int64(OP_DICT_BASE)
			postcondition := int64(p.Bytecodes[pos+2]) - int64(OP_DICT_BASE)
			return "begin\n" + p.blockBody(precondition, indent) +
				indent + "while\n" + p.blockBody(postcondition, indent) +
				indent + "repeat", nil
		}
		for i, ref := range p.DictionaryRefs {
			if ref == bytecode {
				return p.DictionaryNames[i], nil
			}
		}
		return fmt.Sprintf("( anonymous segment at %d )", int64(bytecode)-int64(OP_DICT_BASE)), nil
	}

	switch Opcode(bytecode) {
	case OP_LITERAL:
		return fmt.Sprintf("%d", p.Bytecodes[pos+1]), nil
	case OP_HALT:
		return "halt", nil
	case OP_PAUSE:
		return "pause", nil
	case OP_IF:
		consequent := int64(p.Bytecodes[pos+1]) - int64(OP_DICT_BASE)
		return "if\n" + p.blockBody(consequent, indent) + indent + "then", nil
	case OP_IF_ELSE:
		consequent := int64(p.Bytecodes[pos+1]) - int64(OP_DICT_BASE)
		alternate := int64(p.Bytecodes[pos+2]) - int64(OP_DICT_BASE)
		return "if\n" + p.blockBody(consequent, indent) +
			indent + "else\n" + p.blockBody(alternate, indent) +
			indent + "then", nil
	case OP_DO:
		body := int64(p.Bytecodes[pos+1]) - int64(OP_DICT_BASE)
		return "do\n" + p.blockBody(body, indent) + indent + "loop", nil
	case OP_DO_STEP:
		body := int64(p.Bytecodes[pos+1]) - int64(OP_DICT_BASE)
		return "do\n" + p.blockBody(body, indent) + indent + "+loop", nil
	case OP_EXIT:
		return "exit", nil
	case OP_PUT:
		return p.VariableNames[p.Bytecodes[pos+1]] + " !", nil
	case OP_INC:
		return p.VariableNames[p.Bytecodes[pos+1]] + " +!", nil
	case OP_GET:
		return p.VariableNames[p.Bytecodes[pos+1]] + " @", nil
	case OP_LEN_INPUT:
		return p.InputNames[p.Bytecodes[pos+1]] + " len", nil
	case OP_POS:
		return p.InputNames[p.Bytecodes[pos+1]] + " pos", nil
	case OP_END:
		return p.InputNames[p.Bytecodes[pos+1]] + " end", nil
	case OP_SEEK:
		return p.InputNames[p.Bytecodes[pos+1]] + " seek", nil
	case OP_SKIP:
		return p.InputNames[p.Bytecodes[pos+1]] + " skip", nil
	case OP_WRITE:
		return p.OutputNames[p.Bytecodes[pos+1]] + " <- stack", nil
	case OP_LEN_OUTPUT:
		return p.OutputNames[p.Bytecodes[pos+1]] + " len", nil
	case OP_REWIND:
		return p.OutputNames[p.Bytecodes[pos+1]] + " rewind", nil
	}

	if word, ok := builtinWordByOpcode[Opcode(bytecode)]; ok {
		return word, nil
	}
	return fmt.Sprintf("( unrecognized bytecode %d )", bytecode), nil
}

// Disassemble returns a flat numeric listing of every segment, one
// instruction per line with its operands. For debugging; Decompiled is the
// round-trippable rendering.
func Disassemble(p *Program) string {
	var sb strings.Builder
	for s := int64(0); s < p.NumSegments(); s++ {
		fmt.Fprintf(&sb, "== segment %d ==\n", s)
		pos := p.Offsets[s]
		for pos < p.Offsets[s+1] {
			sb.WriteString(disassembleInstruction(p, pos))
			pos += p.InstructionLength(pos)
		}
	}
	return sb.String()
}

func disassembleInstruction(p *Program, pos int64) string {
	bytecode := p.Bytecodes[pos]
	length := p.InstructionLength(pos)

	var name string
	switch {
	case bytecode < 0:
		flags := unpackRead(bytecode)
		name = "READ_" + strings.ToUpper(dtypeOfReadCode(flags&readMask).String())
		if flags&readRepeated != 0 {
			name += " #"
		}
		if flags&readBigendian != 0 {
			name += " !"
		}
	case bytecode >= int32(OP_DICT_BASE):
		name = fmt.Sprintf("SEG_%d", int64(bytecode)-int64(OP_DICT_BASE))
	default:
		name = OpcodeNames[Opcode(bytecode)]
	}

	if length == 1 {
		return fmt.Sprintf("%04d %s\n", pos, name)
	}
	operands := make([]string, 0, length-1)
	for _, w := range p.Bytecodes[pos+1 : pos+length] {
		operands = append(operands, fmt.Sprintf("%d", w))
	}
	return fmt.Sprintf("%04d %-16s %s\n", pos, name, strings.Join(operands, " "))
}
