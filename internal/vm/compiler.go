package vm

import (
	"strconv"
	"strings"

	"github.com/funvibe/funforth/internal/lexer"
)

// reservedWords are structural words that can never name a variable, input,
// output, or definition.
var reservedWords = map[string]bool{
	// comments
	"(": true, ")": true, "\\": true, "\n": true, "": true,
	// defining words
	":": true, ";": true, "recurse": true,
	// declaring globals
	"variable": true, "input": true, "output": true,
	// manipulate control flow externally
	"halt": true, "pause": true,
	// conditionals
	"if": true, "then": true, "else": true,
	// loops
	"do": true, "loop": true, "+loop": true,
	"begin": true, "again": true, "until": true, "while": true, "repeat": true,
	// nonlocal exits
	"exit": true,
	// variable access
	"!": true, "+!": true, "@": true,
	// input actions
	"len": true, "pos": true, "end": true, "seek": true, "skip": true,
	// output actions
	"<-": true, "stack": true, "rewind": true,
}

// outputDtypeWords are the dtype keywords accepted in output declarations.
var outputDtypeWords = map[string]Dtype{
	"bool":    DtypeBool,
	"int8":    DtypeInt8,
	"int16":   DtypeInt16,
	"int32":   DtypeInt32,
	"int64":   DtypeInt64,
	"intp":    DtypeIntp,
	"uint8":   DtypeUint8,
	"uint16":  DtypeUint16,
	"uint32":  DtypeUint32,
	"uint64":  DtypeUint64,
	"uintp":   DtypeUintp,
	"float32": DtypeFloat32,
	"float64": DtypeFloat64,
}

// genericBuiltinWords compile to single-word opcodes.
var genericBuiltinWords = map[string]Opcode{
	// loop variables
	"i": OP_I,
	"j": OP_J,
	"k": OP_K,
	// stack operations
	"dup":  OP_DUP,
	"drop": OP_DROP,
	"swap": OP_SWAP,
	"over": OP_OVER,
	"rot":  OP_ROT,
	"nip":  OP_NIP,
	"tuck": OP_TUCK,
	// basic mathematical functions
	"+":      OP_ADD,
	"-":      OP_SUB,
	"*":      OP_MUL,
	"/":      OP_DIV,
	"mod":    OP_MOD,
	"/mod":   OP_DIVMOD,
	"negate": OP_NEGATE,
	"1+":     OP_ADD1,
	"1-":     OP_SUB1,
	"abs":    OP_ABS,
	"min":    OP_MIN,
	"max":    OP_MAX,
	// comparisons
	"=":  OP_EQ,
	"<>": OP_NE,
	">":  OP_GT,
	">=": OP_GE,
	"<":  OP_LT,
	"<=": OP_LE,
	"0=": OP_EQ0,
	// bitwise operations
	"invert": OP_INVERT,
	"and":    OP_AND,
	"or":     OP_OR,
	"xor":    OP_XOR,
	"lshift": OP_LSHIFT,
	"rshift": OP_RSHIFT,
	// constants
	"false": OP_FALSE,
	"true":  OP_TRUE,
}

// parserDtypeChars map a parser-spec dtype letter to its dtype.
var parserDtypeChars = map[byte]Dtype{
	'?': DtypeBool,
	'b': DtypeInt8,
	'h': DtypeInt16,
	'i': DtypeInt32,
	'q': DtypeInt64,
	'n': DtypeIntp,
	'B': DtypeUint8,
	'H': DtypeUint16,
	'I': DtypeUint32,
	'Q': DtypeUint64,
	'N': DtypeUintp,
	'f': DtypeFloat32,
	'd': DtypeFloat64,
}

// isParserWord reports whether word has the shape of an input parser spec:
// optional '#' (repeated), optional '!' (big-endian), a dtype letter, "->".
func isParserWord(word string) bool {
	w := word
	if strings.HasPrefix(w, "#") {
		w = w[1:]
	}
	if strings.HasPrefix(w, "!") {
		w = w[1:]
	}
	if len(w) == 0 {
		return false
	}
	if _, ok := parserDtypeChars[w[0]]; !ok {
		return false
	}
	return w[1:] == "->"
}

// isInteger parses a decimal or 0x-prefixed hexadecimal literal.
func isInteger(word string) (int64, bool) {
	if strings.HasPrefix(word, "0x") && len(word) > 2 {
		v, err := strconv.ParseUint(word[2:], 16, 64)
		if err != nil {
			return 0, false
		}
		return int64(v), true
	}
	v, err := strconv.ParseInt(word, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

type compiler struct {
	source   string
	tokens   []lexer.Token
	prog     *Program
	segments [][]int32
}

// Compile translates source text into a segmented bytecode Program.
func Compile(source string) (*Program, error) {
	c := &compiler{
		source: source,
		tokens: lexer.Tokenize(source),
		prog:   &Program{},
	}

	// Segment 0 is the top-level program; nested blocks and definitions
	// allocate fresh segments as they are encountered.
	c.segments = append(c.segments, nil)
	if err := c.parseRange("", 0, len(c.tokens), 0, 0, 0); err != nil {
		return nil, err
	}

	offsets := make([]int64, 1, len(c.segments)+1)
	for _, segment := range c.segments {
		c.prog.Bytecodes = append(c.prog.Bytecodes, segment...)
		offsets = append(offsets, int64(len(c.prog.Bytecodes)))
	}
	c.prog.Offsets = offsets
	return c.prog, nil
}

func (c *compiler) emit(seg int, words ...int32) {
	c.segments[seg] = append(c.segments[seg], words...)
}

// newSegment allocates a fresh segment and returns its index and the
// segment-reference opcode that runs it.
func (c *compiler) newSegment() (int, int32) {
	idx := len(c.segments)
	c.segments = append(c.segments, nil)
	return idx, int32(OP_DICT_BASE) + int32(idx)
}

func (c *compiler) errAt(pos, stop int, msg string) error {
	if pos >= len(c.tokens) {
		pos = len(c.tokens) - 1
	}
	tok := c.tokens[pos]
	end := len(c.source)
	if stop < len(c.tokens) {
		end = c.tokens[stop].Offset
	}
	return &CompileError{
		Line:    tok.Line,
		Col:     tok.Col,
		Excerpt: strings.TrimSpace(c.source[tok.Offset:end]),
		Msg:     msg,
	}
}

func (c *compiler) nameInUse(name string) bool {
	if _, ok := c.prog.variableIndex(name); ok {
		return true
	}
	if _, ok := c.prog.inputIndex(name); ok {
		return true
	}
	if _, ok := c.prog.outputIndex(name); ok {
		return true
	}
	if _, ok := c.prog.dictionaryIndex(name); ok {
		return true
	}
	if reservedWords[name] || isParserWord(name) {
		return true
	}
	if _, ok := outputDtypeWords[name]; ok {
		return true
	}
	if _, ok := genericBuiltinWords[name]; ok {
		return true
	}
	if _, ok := isInteger(name); ok {
		return true
	}
	return false
}

const uniqueNamesMsg = "input names, output names, variable names, and user-defined words must all be unique and not reserved words or integers"

// parseRange compiles tokens[start:stop] into segment seg. defn is the name
// of the enclosing word definition ("" at top level), exitdepth the number
// of block segments between seg and the definition body, dodepth the number
// of enclosing counted loops.
func (c *compiler) parseRange(defn string, start, stop, seg, exitdepth, dodepth int) error {
	pos := start
	for pos < stop {
		word := c.tokens[pos].Word

		switch {
		case word == "(":
			// Parenthesized comment; parentheses inside must balance.
			substop := pos
			nesting := 1
			for nesting > 0 {
				substop++
				if substop >= stop {
					return c.errAt(pos, substop, "'(' is missing its closing ')'")
				}
				switch c.tokens[substop].Word {
				case "(":
					nesting++
				case ")":
					nesting--
				}
			}
			pos = substop + 1

		case word == "\\":
			// Comment to end of line.
			substop := pos
			for substop < stop && c.tokens[substop].Word != "\n" {
				substop++
			}
			pos = substop + 1

		case word == "\n":
			// Newlines only delimit line comments.
			pos++

		case word == ":":
			if pos+1 >= stop || c.tokens[pos+1].Word == ";" {
				return c.errAt(pos, pos+2, "missing name in word definition")
			}
			name := c.tokens[pos+1].Word
			if c.nameInUse(name) {
				return c.errAt(pos, pos+2, uniqueNamesMsg)
			}

			substart := pos + 2
			substop := pos + 1
			nesting := 1
			for nesting > 0 {
				substop++
				if substop >= stop {
					return c.errAt(pos, stop, "definition is missing its closing ';'")
				}
				switch c.tokens[substop].Word {
				case ":":
					nesting++
				case ";":
					nesting--
				}
			}

			// Enter the word into the dictionary before compiling its body
			// so that 'recurse' can refer to it.
			body, ref := c.newSegment()
			c.prog.DictionaryNames = append(c.prog.DictionaryNames, name)
			c.prog.DictionaryRefs = append(c.prog.DictionaryRefs, ref)

			if err := c.parseRange(name, substart, substop, body, 0, 0); err != nil {
				return err
			}
			pos = substop + 1

		case word == "recurse":
			if defn == "" {
				return c.errAt(pos, pos+1, "only allowed in a ': name ... ;' definition")
			}
			if i, ok := c.prog.dictionaryIndex(defn); ok {
				c.emit(seg, c.prog.DictionaryRefs[i])
			}
			pos++

		case word == "variable":
			if pos+1 >= stop {
				return c.errAt(pos, pos+2, "missing name in variable declaration")
			}
			name := c.tokens[pos+1].Word
			if c.nameInUse(name) {
				return c.errAt(pos, pos+2, uniqueNamesMsg)
			}
			c.prog.VariableNames = append(c.prog.VariableNames, name)
			pos += 2

		case word == "input":
			if pos+1 >= stop {
				return c.errAt(pos, pos+2, "missing name in input declaration")
			}
			name := c.tokens[pos+1].Word
			if c.nameInUse(name) {
				return c.errAt(pos, pos+2, uniqueNamesMsg)
			}
			c.prog.InputNames = append(c.prog.InputNames, name)
			pos += 2

		case word == "output":
			if pos+2 >= stop {
				return c.errAt(pos, pos+3, "missing name or dtype in output declaration")
			}
			name := c.tokens[pos+1].Word
			if c.nameInUse(name) {
				return c.errAt(pos, pos+2, uniqueNamesMsg)
			}
			dtype, ok := outputDtypeWords[c.tokens[pos+2].Word]
			if !ok {
				return c.errAt(pos, pos+3, "output dtype not recognized")
			}
			c.prog.OutputNames = append(c.prog.OutputNames, name)
			c.prog.OutputDtypes = append(c.prog.OutputDtypes, dtype)
			pos += 3

		case word == "halt":
			c.emit(seg, int32(OP_HALT))
			pos++

		case word == "pause":
			c.emit(seg, int32(OP_PAUSE))
			pos++

		case word == "if":
			substart := pos + 1
			subelse := -1
			substop := pos
			nesting := 1
			for nesting > 0 {
				substop++
				if substop >= stop {
					return c.errAt(pos, stop, "'if' is missing its closing 'then'")
				}
				switch c.tokens[substop].Word {
				case "if":
					nesting++
				case "then":
					nesting--
				case "else":
					if nesting == 1 {
						subelse = substop
					}
				}
			}

			if subelse == -1 {
				// The consequent gets its own segment so that no special
				// instruction-pointer manipulation is needed at runtime.
				body, ref := c.newSegment()
				if err := c.parseRange(defn, substart, substop, body, exitdepth+1, dodepth); err != nil {
					return err
				}
				c.emit(seg, int32(OP_IF), ref)
			} else {
				consequent, ref1 := c.newSegment()
				if err := c.parseRange(defn, substart, subelse, consequent, exitdepth+1, dodepth); err != nil {
					return err
				}
				alternate, ref2 := c.newSegment()
				if err := c.parseRange(defn, subelse+1, substop, alternate, exitdepth+1, dodepth); err != nil {
					return err
				}
				c.emit(seg, int32(OP_IF_ELSE), ref1, ref2)
			}
			pos = substop + 1

		case word == "do":
			substart := pos + 1
			substop := pos
			isStep := false
			nesting := 1
			for nesting > 0 {
				substop++
				if substop >= stop {
					return c.errAt(pos, stop, "'do' is missing its closing 'loop'")
				}
				switch c.tokens[substop].Word {
				case "do":
					nesting++
				case "loop":
					nesting--
				case "+loop":
					if nesting == 1 {
						isStep = true
					}
					nesting--
				}
			}

			body, ref := c.newSegment()
			if err := c.parseRange(defn, substart, substop, body, exitdepth+1, dodepth+1); err != nil {
				return err
			}
			if isStep {
				c.emit(seg, int32(OP_DO_STEP), ref)
			} else {
				c.emit(seg, int32(OP_DO), ref)
			}
			pos = substop + 1

		case word == "begin":
			substart := pos + 1
			substop := pos
			isAgain := false
			subwhile := -1
			nesting := 1
			for nesting > 0 {
				substop++
				if substop >= stop {
					return c.errAt(pos, stop, "'begin' is missing its closing 'until' or 'while ... repeat'")
				}
				switch c.tokens[substop].Word {
				case "begin":
					nesting++
				case "until":
					nesting--
				case "again":
					if nesting == 1 {
						isAgain = true
					}
					nesting--
				case "while":
					if nesting == 1 {
						subwhile = substop
					}
					nesting--
					subnesting := 1
					for subnesting > 0 {
						substop++
						if substop >= stop {
							return c.errAt(pos, stop, "'while' is missing its closing 'repeat'")
						}
						switch c.tokens[substop].Word {
						case "while":
							subnesting++
						case "repeat":
							subnesting--
						}
					}
				}
			}

			switch {
			case isAgain:
				body, ref := c.newSegment()
				if err := c.parseRange(defn, substart, substop, body, exitdepth+1, dodepth); err != nil {
					return err
				}
				c.emit(seg, ref, int32(OP_AGAIN))
			case subwhile == -1:
				body, ref := c.newSegment()
				if err := c.parseRange(defn, substart, substop, body, exitdepth+1, dodepth); err != nil {
					return err
				}
				c.emit(seg, ref, int32(OP_UNTIL))
			default:
				precondition, ref1 := c.newSegment()
				if err := c.parseRange(defn, substart, subwhile, precondition, exitdepth+1, dodepth); err != nil {
					return err
				}
				postcondition, ref2 := c.newSegment()
				if err := c.parseRange(defn, subwhile+1, substop, postcondition, exitdepth+1, dodepth); err != nil {
					return err
				}
				c.emit(seg, ref1, int32(OP_WHILE), ref2)
			}
			pos = substop + 1

		case word == "exit":
			c.emit(seg, int32(OP_EXIT), int32(exitdepth))
			pos++

		default:
			if idx, ok := c.prog.variableIndex(word); ok {
				if pos+1 >= stop {
					return c.errAt(pos, pos+2, "missing '!', '+!', or '@' after variable name")
				}
				switch c.tokens[pos+1].Word {
				case "!":
					c.emit(seg, int32(OP_PUT), idx)
				case "+!":
					c.emit(seg, int32(OP_INC), idx)
				case "@":
					c.emit(seg, int32(OP_GET), idx)
				default:
					return c.errAt(pos, pos+2, "missing '!', '+!', or '@' after variable name")
				}
				pos += 2
				break
			}

			if idx, ok := c.prog.inputIndex(word); ok {
				next, err := c.parseInputAction(seg, pos, stop, idx)
				if err != nil {
					return err
				}
				pos = next
				break
			}

			if idx, ok := c.prog.outputIndex(word); ok {
				if pos+1 < stop && c.tokens[pos+1].Word == "<-" {
					if pos+2 >= stop || c.tokens[pos+2].Word != "stack" {
						return c.errAt(pos, pos+3, "missing 'stack' after '<-'")
					}
					c.emit(seg, int32(OP_WRITE), idx)
					pos += 3
					break
				}
				if pos+1 < stop && c.tokens[pos+1].Word == "len" {
					c.emit(seg, int32(OP_LEN_OUTPUT), idx)
					pos += 2
					break
				}
				if pos+1 < stop && c.tokens[pos+1].Word == "rewind" {
					c.emit(seg, int32(OP_REWIND), idx)
					pos += 2
					break
				}
				return c.errAt(pos, pos+2, "missing '<- stack', 'len', or 'rewind' after output name")
			}

			if opcode, ok := genericBuiltinWords[word]; ok {
				if word == "i" && dodepth < 1 {
					return c.errAt(pos, pos+1, "only allowed in a 'do' loop")
				}
				if word == "j" && dodepth < 2 {
					return c.errAt(pos, pos+1, "only allowed in a nested 'do' loop")
				}
				if word == "k" && dodepth < 3 {
					return c.errAt(pos, pos+1, "only allowed in a doubly nested 'do' loop")
				}
				c.emit(seg, int32(opcode))
				pos++
				break
			}

			if i, ok := c.prog.dictionaryIndex(word); ok {
				c.emit(seg, c.prog.DictionaryRefs[i])
				pos++
				break
			}

			if num, ok := isInteger(word); ok {
				c.emit(seg, int32(OP_LITERAL), int32(num))
				pos++
				break
			}

			return c.errAt(pos, pos+1, "unrecognized word or wrong context for word")
		}
	}
	return nil
}

// parseInputAction compiles the word(s) following an input name: one of the
// position words (len/pos/end/seek/skip) or a typed-read parser spec.
func (c *compiler) parseInputAction(seg, pos, stop int, inputIdx int32) (int, error) {
	if pos+1 < stop {
		switch c.tokens[pos+1].Word {
		case "len":
			c.emit(seg, int32(OP_LEN_INPUT), inputIdx)
			return pos + 2, nil
		case "pos":
			c.emit(seg, int32(OP_POS), inputIdx)
			return pos + 2, nil
		case "end":
			c.emit(seg, int32(OP_END), inputIdx)
			return pos + 2, nil
		case "seek":
			c.emit(seg, int32(OP_SEEK), inputIdx)
			return pos + 2, nil
		case "skip":
			c.emit(seg, int32(OP_SKIP), inputIdx)
			return pos + 2, nil
		}
	}
	if pos+1 >= stop {
		return 0, c.errAt(pos, pos+3, "missing '*-> stack/output', 'seek', 'skip', 'end', 'pos', or 'len' after input name")
	}

	var flags int32
	parser := c.tokens[pos+1].Word
	if strings.HasPrefix(parser, "#") {
		flags |= readRepeated
		parser = parser[1:]
	}
	if strings.HasPrefix(parser, "!") {
		flags |= readBigendian
		parser = parser[1:]
	}

	var dtype Dtype
	good := false
	if len(parser) != 0 {
		if d, ok := parserDtypeChars[parser[0]]; ok {
			dtype = d
			good = true
			parser = parser[1:]
		}
	}
	if !good || parser != "->" {
		return 0, c.errAt(pos, pos+3, "missing '*-> stack/output', 'seek', 'skip', 'end', 'pos', or 'len' after input name")
	}

	if pos+2 >= stop {
		return 0, c.errAt(pos, pos+3, "missing 'stack' or output name after '*->'")
	}
	target := c.tokens[pos+2].Word
	var outputIdx int32
	direct := false
	if target != "stack" {
		idx, ok := c.prog.outputIndex(target)
		if !ok {
			return 0, c.errAt(pos, pos+3, "missing 'stack' or output name after '*->'")
		}
		outputIdx = idx
		direct = true
		flags |= readDirect
	}

	// Parser instructions are bit-flipped so the sign bit identifies them.
	c.emit(seg, packRead(flags, dtype), inputIdx)
	if direct {
		c.emit(seg, outputIdx)
	}
	return pos + 3, nil
}
