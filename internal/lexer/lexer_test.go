package lexer

import "testing"

func TestTokenizeWords(t *testing.T) {
	tokens := Tokenize("1 2 +")
	want := []string{"1", "2", "+"}
	if len(tokens) != len(want) {
		t.Fatalf("token count wrong. got=%d, want=%d", len(tokens), len(want))
	}
	for i, w := range want {
		if tokens[i].Word != w {
			t.Errorf("token %d wrong. got=%q, want=%q", i, tokens[i].Word, w)
		}
	}
}

func TestTokenizeNewlinesAreTokens(t *testing.T) {
	tokens := Tokenize("\\ comment\n7")
	want := []string{"\\", "comment", "\n", "7"}
	if len(tokens) != len(want) {
		t.Fatalf("token count wrong. got=%d, want=%d", len(tokens), len(want))
	}
	for i, w := range want {
		if tokens[i].Word != w {
			t.Errorf("token %d wrong. got=%q, want=%q", i, tokens[i].Word, w)
		}
	}
}

func TestTokenizeAllSeparators(t *testing.T) {
	tokens := Tokenize("a\tb\rc\vd\fe f")
	want := []string{"a", "b", "c", "d", "e", "f"}
	if len(tokens) != len(want) {
		t.Fatalf("token count wrong. got=%d, want=%d", len(tokens), len(want))
	}
	for i, w := range want {
		if tokens[i].Word != w {
			t.Errorf("token %d wrong. got=%q, want=%q", i, tokens[i].Word, w)
		}
	}
}

func TestTokenizeLineColumn(t *testing.T) {
	tokens := Tokenize("dup *\n  swap")
	type pos struct {
		word      string
		line, col int
	}
	want := []pos{
		{"dup", 1, 1},
		{"*", 1, 5},
		{"\n", 1, 6},
		{"swap", 2, 3},
	}
	if len(tokens) != len(want) {
		t.Fatalf("token count wrong. got=%d, want=%d", len(tokens), len(want))
	}
	for i, w := range want {
		tok := tokens[i]
		if tok.Word != w.word || tok.Line != w.line || tok.Col != w.col {
			t.Errorf("token %d wrong. got=%q@%d:%d, want=%q@%d:%d",
				i, tok.Word, tok.Line, tok.Col, w.word, w.line, w.col)
		}
	}
}

func TestTokenizeTrailingWord(t *testing.T) {
	tokens := Tokenize("  42")
	if len(tokens) != 1 {
		t.Fatalf("token count wrong. got=%d, want=1", len(tokens))
	}
	if tokens[0].Word != "42" || tokens[0].Offset != 2 {
		t.Errorf("token wrong. got=%q offset=%d, want=%q offset=2", tokens[0].Word, tokens[0].Offset, "42")
	}
}

func TestTokenizeEmpty(t *testing.T) {
	if tokens := Tokenize(""); len(tokens) != 0 {
		t.Errorf("expected no tokens, got=%d", len(tokens))
	}
	if tokens := Tokenize("   \t "); len(tokens) != 0 {
		t.Errorf("expected no tokens, got=%d", len(tokens))
	}
}
