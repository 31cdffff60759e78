// Package vm implements the funforth bytecode compiler and virtual machine:
// a small Forth dialect for decoding structured binary inputs into typed
// columnar outputs.
package vm

// Opcode is a single VM instruction word. Opcodes 0..58 are built-ins;
// values >= OP_DICT_BASE reference a bytecode segment (user-defined words
// and the bodies of control blocks); negative values are packed typed-read
// instructions (see packRead).
type Opcode int32

const (
	OP_LITERAL Opcode = iota // Push the next instruction word as a value

	// Externally driven control flow
	OP_HALT  // Stop with a user-halt error
	OP_PAUSE // Cooperative yield; resumable

	// Conditionals
	OP_IF      // <then-seg>: pop p, run then-seg unless p == 0
	OP_IF_ELSE // <then-seg> <else-seg>

	// Loops
	OP_DO      // <body-seg>: pop (stop, i), counted loop
	OP_DO_STEP // <body-seg>: like DO but the increment is popped per pass
	OP_AGAIN   // operand-first: <body-seg> AGAIN, unconditional repeat
	OP_UNTIL   // operand-first: <body-seg> UNTIL, repeat while popped p == 0
	OP_WHILE   // operand-first: <pre-seg> WHILE <post-seg>

	// Nonlocal exit
	OP_EXIT // <lexical-depth>: return from the enclosing definition

	// Variable access
	OP_PUT // <var>: pop and store
	OP_INC // <var>: pop and add
	OP_GET // <var>: push

	// Input actions
	OP_LEN_INPUT // <in>: push input length
	OP_POS       // <in>: push input position
	OP_END       // <in>: push true (-1) if input is exhausted
	OP_SEEK      // <in>: pop absolute position
	OP_SKIP      // <in>: pop relative offset

	// Output actions
	OP_WRITE      // <out>: pop one cell and append it to the output
	OP_LEN_OUTPUT // <out>: push output length
	OP_REWIND     // <out>: pop n and drop the last n written values

	// Loop index registers
	OP_I
	OP_J
	OP_K

	// Stack operations
	OP_DUP
	OP_DROP
	OP_SWAP
	OP_OVER
	OP_ROT
	OP_NIP
	OP_TUCK

	// Arithmetic (division and modulo are floored, as in Forth)
	OP_ADD
	OP_SUB
	OP_MUL
	OP_DIV
	OP_MOD
	OP_DIVMOD
	OP_NEGATE
	OP_ADD1
	OP_SUB1
	OP_ABS
	OP_MIN
	OP_MAX

	// Comparisons (true is -1, false is 0)
	OP_EQ
	OP_NE
	OP_GT
	OP_GE
	OP_LT
	OP_LE
	OP_EQ0

	// Bitwise operations
	OP_INVERT
	OP_AND
	OP_OR
	OP_XOR
	OP_LSHIFT
	OP_RSHIFT

	// Constants
	OP_FALSE
	OP_TRUE

	// OP_DICT_BASE is the first segment-reference opcode: opcode
	// OP_DICT_BASE+n runs segment n. Keeping built-ins below this bound and
	// typed reads negative lets every instruction live in one signed word.
	OP_DICT_BASE
)

// Typed-read flag bits, OR'd with a dtype code and bit-inverted so the
// packed instruction is negative.
const (
	readDirect    int32 = 1 // forward to an output instead of the stack
	readRepeated  int32 = 2 // pop the element count from the stack
	readBigendian int32 = 4 // input bytes are big-endian
	readMask      int32 = 0x78
)

// readCode returns the dtype code carried in a packed read instruction
// (multiples of 8, so the code and the flag bits never overlap).
func readCode(d Dtype) int32 {
	return 8 * (int32(d) + 1)
}

func dtypeOfReadCode(code int32) Dtype {
	return Dtype(code/8 - 1)
}

// packRead builds a packed typed-read instruction word.
func packRead(flags int32, d Dtype) int32 {
	return ^(flags | readCode(d))
}

// unpackRead recovers the flags+code word; valid only when bytecode < 0.
func unpackRead(bytecode int32) int32 {
	return ^bytecode
}

// OpcodeNames maps opcodes to their string names (for debugging)
var OpcodeNames = map[Opcode]string{
	OP_LITERAL: "LITERAL",
	OP_HALT:    "HALT",
	OP_PAUSE:   "PAUSE",
	OP_IF:      "IF",
	OP_IF_ELSE: "IF_ELSE",
	OP_DO:      "DO",
	OP_DO_STEP: "DO_STEP",
	OP_AGAIN:   "AGAIN",
	OP_UNTIL:   "UNTIL",
	OP_WHILE:   "WHILE",
	OP_EXIT:    "EXIT",

	OP_PUT: "PUT",
	OP_INC: "INC",
	OP_GET: "GET",

	OP_LEN_INPUT: "LEN_INPUT",
	OP_POS:       "POS",
	OP_END:       "END",
	OP_SEEK:      "SEEK",
	OP_SKIP:      "SKIP",

	OP_WRITE:      "WRITE",
	OP_LEN_OUTPUT: "LEN_OUTPUT",
	OP_REWIND:     "REWIND",

	OP_I: "I",
	OP_J: "J",
	OP_K: "K",

	OP_DUP:  "DUP",
	OP_DROP: "DROP",
	OP_SWAP: "SWAP",
	OP_OVER: "OVER",
	OP_ROT:  "ROT",
	OP_NIP:  "NIP",
	OP_TUCK: "TUCK",

	OP_ADD:    "ADD",
	OP_SUB:    "SUB",
	OP_MUL:    "MUL",
	OP_DIV:    "DIV",
	OP_MOD:    "MOD",
	OP_DIVMOD: "DIVMOD",
	OP_NEGATE: "NEGATE",
	OP_ADD1:   "ADD1",
	OP_SUB1:   "SUB1",
	OP_ABS:    "ABS",
	OP_MIN:    "MIN",
	OP_MAX:    "MAX",

	OP_EQ:  "EQ",
	OP_NE:  "NE",
	OP_GT:  "GT",
	OP_GE:  "GE",
	OP_LT:  "LT",
	OP_LE:  "LE",
	OP_EQ0: "EQ0",

	OP_INVERT: "INVERT",
	OP_AND:    "AND",
	OP_OR:     "OR",
	OP_XOR:    "XOR",
	OP_LSHIFT: "LSHIFT",
	OP_RSHIFT: "RSHIFT",

	OP_FALSE: "FALSE",
	OP_TRUE:  "TRUE",
}
