package lang

import "testing"

func kinds(toks []Token) []TokenKind {
	out := make([]TokenKind, len(toks))
	for i, t := range toks {
		out[i] = t.Kind
	}
	return out
}

func TestTokenizeSimpleAssignment(t *testing.T) {
	toks, err := tokenize("result = value * 2\n")
	if err != nil {
		t.Fatalf("tokenize() error: %v", err)
	}

	want := []TokenKind{NAME, OP, NAME, OP, NUMBER, NEWLINE, EOF}
	got := kinds(toks)
	if len(got) != len(want) {
		t.Fatalf("token count = %d, want %d (%v)", len(got), len(want), toks)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("token %d kind = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestTokenizeIndentDedent(t *testing.T) {
	src := "if x:\n    y = 1\n    z = 2\nw = 3\n"
	toks, err := tokenize(src)
	if err != nil {
		t.Fatalf("tokenize() error: %v", err)
	}

	var indents, dedents int
	for _, tok := range toks {
		switch tok.Kind {
		case INDENT:
			indents++
		case DEDENT:
			dedents++
		}
	}
	if indents != 1 || dedents != 1 {
		t.Errorf("indents = %d, dedents = %d, want 1 and 1", indents, dedents)
	}
}

func TestTokenizeDedentAtEOF(t *testing.T) {
	toks, err := tokenize("if x:\n    y = 1")
	if err != nil {
		t.Fatalf("tokenize() error: %v", err)
	}
	last := toks[len(toks)-1]
	if last.Kind != EOF {
		t.Fatalf("last token = %v, want EOF", last.Kind)
	}
	if toks[len(toks)-2].Kind != DEDENT {
		t.Errorf("second to last token = %v, want DEDENT", toks[len(toks)-2].Kind)
	}
}

func TestTokenizeBlankAndCommentLines(t *testing.T) {
	src := "a = 1\n\n# comment\n   # indented comment\nb = 2\n"
	toks, err := tokenize(src)
	if err != nil {
		t.Fatalf("tokenize() error: %v", err)
	}
	for _, tok := range toks {
		if tok.Kind == INDENT || tok.Kind == DEDENT {
			t.Errorf("comment/blank lines must not affect indentation, got %v", tok.Kind)
		}
	}
}

func TestTokenizeNewlineSuppressedInBrackets(t *testing.T) {
	src := "x = [1,\n     2,\n     3]\n"
	toks, err := tokenize(src)
	if err != nil {
		t.Fatalf("tokenize() error: %v", err)
	}
	var newlines int
	for _, tok := range toks {
		if tok.Kind == NEWLINE {
			newlines++
		}
	}
	if newlines != 1 {
		t.Errorf("newlines = %d, want 1", newlines)
	}
}

func TestTokenizeStringEscapes(t *testing.T) {
	toks, err := tokenize(`s = 'a\nb'` + "\n")
	if err != nil {
		t.Fatalf("tokenize() error: %v", err)
	}
	var str *Token
	for i := range toks {
		if toks[i].Kind == STRING {
			str = &toks[i]
		}
	}
	if str == nil {
		t.Fatal("no STRING token found")
	}
	_, val := splitStringToken(str.Lit)
	if val != "a\nb" {
		t.Errorf("string value = %q, want %q", val, "a\nb")
	}
}

func TestTokenizeRawStringKeepsBackslash(t *testing.T) {
	toks, err := tokenize(`s = r'a\nb'` + "\n")
	if err != nil {
		t.Fatalf("tokenize() error: %v", err)
	}
	for _, tok := range toks {
		if tok.Kind == STRING {
			prefix, val := splitStringToken(tok.Lit)
			if prefix != "r" {
				t.Errorf("prefix = %q, want r", prefix)
			}
			if val != `a\nb` {
				t.Errorf("raw string value = %q, want %q", val, `a\nb`)
			}
			return
		}
	}
	t.Fatal("no STRING token found")
}

func TestTokenizeTripleQuoted(t *testing.T) {
	toks, err := tokenize("s = '''line1\nline2'''\n")
	if err != nil {
		t.Fatalf("tokenize() error: %v", err)
	}
	for _, tok := range toks {
		if tok.Kind == STRING {
			_, val := splitStringToken(tok.Lit)
			if val != "line1\nline2" {
				t.Errorf("triple string value = %q", val)
			}
			return
		}
	}
	t.Fatal("no STRING token found")
}

func TestTokenizeUnterminatedString(t *testing.T) {
	if _, err := tokenize("s = 'oops\n"); err == nil {
		t.Error("expected error for unterminated string")
	}
}

func TestTokenizeInconsistentIndent(t *testing.T) {
	if _, err := tokenize("if x:\n        a = 1\n    b = 2\n"); err == nil {
		t.Error("expected error for inconsistent dedent")
	}
}

func TestTokenizeUnexpectedCharacter(t *testing.T) {
	if _, err := tokenize("a = 1 $ 2\n"); err == nil {
		t.Error("expected error for unexpected character")
	}
}

func TestTokenizeKeywordsVsNames(t *testing.T) {
	toks, err := tokenize("for item in items:\n    pass\n")
	if err != nil {
		t.Fatalf("tokenize() error: %v", err)
	}
	if toks[0].Kind != KEYWORD || toks[0].Lit != "for" {
		t.Errorf("token 0 = %v %q, want KEYWORD for", toks[0].Kind, toks[0].Lit)
	}
	if toks[1].Kind != NAME || toks[1].Lit != "item" {
		t.Errorf("token 1 = %v %q, want NAME item", toks[1].Kind, toks[1].Lit)
	}
}

func TestTokenizeLineContinuation(t *testing.T) {
	toks, err := tokenize("x = 1 + \\\n    2\n")
	if err != nil {
		t.Fatalf("tokenize() error: %v", err)
	}
	var newlines int
	for _, tok := range toks {
		if tok.Kind == NEWLINE {
			newlines++
		}
	}
	if newlines != 1 {
		t.Errorf("newlines = %d, want 1", newlines)
	}
}
