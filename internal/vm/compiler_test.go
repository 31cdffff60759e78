package vm

import (
	"strings"
	"testing"
)

func compileProgram(t *testing.T, source string) *Program {
	t.Helper()
	prog, err := Compile(source)
	if err != nil {
		t.Fatalf("compilation error: %s", err)
	}
	return prog
}

func compileExpectError(t *testing.T, source, wantSubstr string) {
	t.Helper()
	_, err := Compile(source)
	if err == nil {
		t.Fatalf("expected compile error for %q, got none", source)
	}
	if !strings.Contains(err.Error(), wantSubstr) {
		t.Errorf("error %q should contain %q", err.Error(), wantSubstr)
	}
	var compileErr *CompileError
	if ce, ok := err.(*CompileError); ok {
		compileErr = ce
	} else {
		t.Fatalf("error is not *CompileError. got=%T", err)
	}
	if compileErr.Line < 1 || compileErr.Col < 1 {
		t.Errorf("error position not set: line=%d col=%d", compileErr.Line, compileErr.Col)
	}
}

func wordsEqual(t *testing.T, got []int32, want []int32) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("bytecode length wrong. got=%v, want=%v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("bytecode wrong at %d. got=%v, want=%v", i, got, want)
		}
	}
}

func TestCompileLiterals(t *testing.T) {
	prog := compileProgram(t, "10 3 /mod")
	wordsEqual(t, prog.Segment(0), []int32{
		int32(OP_LITERAL), 10,
		int32(OP_LITERAL), 3,
		int32(OP_DIVMOD),
	})
}

func TestCompileHexLiteral(t *testing.T) {
	prog := compileProgram(t, "0x10 -5")
	wordsEqual(t, prog.Segment(0), []int32{
		int32(OP_LITERAL), 16,
		int32(OP_LITERAL), -5,
	})
}

func TestCompileDefinition(t *testing.T) {
	prog := compileProgram(t, ": sq dup * ; 7 sq")
	if len(prog.DictionaryNames) != 1 || prog.DictionaryNames[0] != "sq" {
		t.Fatalf("dictionary wrong. got=%v", prog.DictionaryNames)
	}
	ref := prog.DictionaryRefs[0]
	if ref != int32(OP_DICT_BASE)+1 {
		t.Fatalf("dictionary ref wrong. got=%d, want=%d", ref, int32(OP_DICT_BASE)+1)
	}
	wordsEqual(t, prog.Segment(1), []int32{int32(OP_DUP), int32(OP_MUL)})
	wordsEqual(t, prog.Segment(0), []int32{int32(OP_LITERAL), 7, ref})
}

func TestCompileRecurse(t *testing.T) {
	prog := compileProgram(t, ": down dup 0 > if 1- recurse then ;")
	// The if body (segment 2) ends with a reference back to 'down' (segment 1).
	body := prog.Segment(2)
	if body[len(body)-1] != prog.DictionaryRefs[0] {
		t.Errorf("recurse should compile to the word's own reference. got=%v", body)
	}
}

func TestCompileIfShapes(t *testing.T) {
	prog := compileProgram(t, "1 if 2 then")
	wordsEqual(t, prog.Segment(0), []int32{
		int32(OP_LITERAL), 1,
		int32(OP_IF), int32(OP_DICT_BASE) + 1,
	})

	prog = compileProgram(t, "1 if 2 else 3 then")
	wordsEqual(t, prog.Segment(0), []int32{
		int32(OP_LITERAL), 1,
		int32(OP_IF_ELSE), int32(OP_DICT_BASE) + 1, int32(OP_DICT_BASE) + 2,
	})
}

func TestCompileLoopShapes(t *testing.T) {
	prog := compileProgram(t, "0 10 do i loop")
	wordsEqual(t, prog.Segment(0), []int32{
		int32(OP_LITERAL), 0,
		int32(OP_LITERAL), 10,
		int32(OP_DO), int32(OP_DICT_BASE) + 1,
	})
	wordsEqual(t, prog.Segment(1), []int32{int32(OP_I)})

	prog = compileProgram(t, "0 10 do 2 +loop")
	if prog.Segment(0)[4] != int32(OP_DO_STEP) {
		t.Errorf("+loop should compile to DO_STEP. got=%v", prog.Segment(0))
	}
}

func TestCompileBeginShapes(t *testing.T) {
	// Operand-first encodings: the segment reference precedes the opcode.
	prog := compileProgram(t, "begin 1 again")
	wordsEqual(t, prog.Segment(0), []int32{int32(OP_DICT_BASE) + 1, int32(OP_AGAIN)})

	prog = compileProgram(t, "begin 1 until")
	wordsEqual(t, prog.Segment(0), []int32{int32(OP_DICT_BASE) + 1, int32(OP_UNTIL)})

	prog = compileProgram(t, "begin 1 while 2 repeat")
	wordsEqual(t, prog.Segment(0), []int32{
		int32(OP_DICT_BASE) + 1, int32(OP_WHILE), int32(OP_DICT_BASE) + 2,
	})
}

func TestCompileExitDepth(t *testing.T) {
	prog := compileProgram(t, ": w 0 10 do exit loop ;")
	// Word body is segment 1, loop body segment 2; exit is one block deep.
	wordsEqual(t, prog.Segment(2), []int32{int32(OP_EXIT), 1})
}

func TestCompileVariableAccess(t *testing.T) {
	prog := compileProgram(t, "variable x variable y 1 x ! 2 y +! x @")
	if len(prog.VariableNames) != 2 {
		t.Fatalf("variable table wrong. got=%v", prog.VariableNames)
	}
	wordsEqual(t, prog.Segment(0), []int32{
		int32(OP_LITERAL), 1,
		int32(OP_PUT), 0,
		int32(OP_LITERAL), 2,
		int32(OP_INC), 1,
		int32(OP_GET), 0,
	})
}

func TestCompileInputActions(t *testing.T) {
	prog := compileProgram(t, "input a a len a pos a end 0 a seek 1 a skip")
	wordsEqual(t, prog.Segment(0), []int32{
		int32(OP_LEN_INPUT), 0,
		int32(OP_POS), 0,
		int32(OP_END), 0,
		int32(OP_LITERAL), 0,
		int32(OP_SEEK), 0,
		int32(OP_LITERAL), 1,
		int32(OP_SKIP), 0,
	})
}

func TestCompileOutputActions(t *testing.T) {
	prog := compileProgram(t, "output o int32 5 o <- stack o len 1 o rewind")
	if prog.OutputDtypes[0] != DtypeInt32 {
		t.Fatalf("output dtype wrong. got=%s", prog.OutputDtypes[0])
	}
	wordsEqual(t, prog.Segment(0), []int32{
		int32(OP_LITERAL), 5,
		int32(OP_WRITE), 0,
		int32(OP_LEN_OUTPUT), 0,
		int32(OP_LITERAL), 1,
		int32(OP_REWIND), 0,
	})
}

func TestCompileTypedReadEncoding(t *testing.T) {
	prog := compileProgram(t, "input a output o int64 a i-> stack a #!h-> o")
	want := []int32{
		packRead(0, DtypeInt32), 0,
		packRead(readRepeated|readBigendian|readDirect, DtypeInt16), 0, 0,
	}
	wordsEqual(t, prog.Segment(0), want)

	// The packed words are negative and recover their flags by inversion.
	if want[0] >= 0 || want[2] >= 0 {
		t.Fatalf("typed reads must be negative. got=%v", want)
	}
	flags := unpackRead(want[2])
	if flags&readRepeated == 0 || flags&readBigendian == 0 || flags&readDirect == 0 {
		t.Errorf("flags not preserved. got=%#x", flags)
	}
	if dtypeOfReadCode(flags&readMask) != DtypeInt16 {
		t.Errorf("dtype not preserved. got=%s", dtypeOfReadCode(flags&readMask))
	}
}

func TestCompileCommentForms(t *testing.T) {
	prog := compileProgram(t, "( a ( nested ) comment ) 1 \\ to end of line\n2")
	wordsEqual(t, prog.Segment(0), []int32{
		int32(OP_LITERAL), 1,
		int32(OP_LITERAL), 2,
	})
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   string
	}{
		{"unclosed paren", "( comment", "missing its closing ')'"},
		{"missing def name", ": ;", "missing name in word definition"},
		{"unclosed def", ": foo 1", "missing its closing ';'"},
		{"unclosed if", "1 if 2", "missing its closing 'then'"},
		{"unclosed do", "0 1 do i", "missing its closing 'loop'"},
		{"unclosed begin", "begin 1", "missing its closing 'until'"},
		{"unclosed while", "begin 1 while 2", "missing its closing 'repeat'"},
		{"recurse outside def", "recurse", "only allowed in a ': name ... ;' definition"},
		{"i outside do", "i", "only allowed in a 'do' loop"},
		{"j in single do", "0 1 do j loop", "only allowed in a nested 'do' loop"},
		{"k in double do", "0 1 do 0 1 do k loop loop", "only allowed in a doubly nested 'do' loop"},
		{"missing variable name", "variable", "missing name in variable declaration"},
		{"missing input name", "input", "missing name in input declaration"},
		{"missing output dtype", "output o", "missing name or dtype in output declaration"},
		{"bad output dtype", "output o int7 1", "output dtype not recognized"},
		{"duplicate name", "variable x input x", "must all be unique"},
		{"reserved name", "variable do", "must all be unique"},
		{"builtin name", "variable dup", "must all be unique"},
		{"integer name", "variable 42", "must all be unique"},
		{"dangling variable", "variable x x", "missing '!', '+!', or '@' after variable name"},
		{"variable bad follower", "variable x x dup", "missing '!', '+!', or '@' after variable name"},
		{"dangling input", "input a a", "after input name"},
		{"input bad parser", "input a a x-> stack", "after input name"},
		{"read missing target", "input a a i-> nowhere", "missing 'stack' or output name after '*->'"},
		{"output bad follower", "output o int32 o dup", "missing '<- stack', 'len', or 'rewind' after output name"},
		{"write missing stack", "output o int32 o <- 1", "missing 'stack' after '<-'"},
		{"unknown word", "qwerty", "unrecognized word"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			compileExpectError(t, tt.source, tt.want)
		})
	}
}

func TestCompileErrorReportsPosition(t *testing.T) {
	_, err := Compile("1 2 +\nqwerty")
	if err == nil {
		t.Fatal("expected compile error")
	}
	ce, ok := err.(*CompileError)
	if !ok {
		t.Fatalf("error is not *CompileError. got=%T", err)
	}
	if ce.Line != 2 || ce.Col != 1 {
		t.Errorf("position wrong. got=%d:%d, want=2:1", ce.Line, ce.Col)
	}
	if !strings.Contains(ce.Excerpt, "qwerty") {
		t.Errorf("excerpt %q should contain the offending word", ce.Excerpt)
	}
}

func TestSegmentOffsets(t *testing.T) {
	prog := compileProgram(t, ": sq dup * ; 7 sq")
	if prog.NumSegments() != 2 {
		t.Fatalf("segment count wrong. got=%d, want=2", prog.NumSegments())
	}
	// Segment 0 is laid out first in the flat vector.
	if prog.Offsets[0] != 0 || prog.Offsets[1] != 3 || prog.Offsets[2] != 5 {
		t.Errorf("offsets wrong. got=%v", prog.Offsets)
	}
}

func TestInstructionLength(t *testing.T) {
	prog := compileProgram(t, "input a output o int32 1 a i-> o begin dup until")
	// LITERAL 1 at 0, read at 2 (3 words), begin-until pair at 5.
	if got := prog.InstructionLength(0); got != 2 {
		t.Errorf("LITERAL length wrong. got=%d, want=2", got)
	}
	if got := prog.InstructionLength(2); got != 3 {
		t.Errorf("direct read length wrong. got=%d, want=3", got)
	}
	if got := prog.InstructionLength(5); got != 2 {
		t.Errorf("operand-first UNTIL length wrong. got=%d, want=2", got)
	}
}
