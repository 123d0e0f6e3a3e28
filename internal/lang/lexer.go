package lang

import (
	"strings"
)

// tokenize turns candidate source into a token stream with synthetic
// NEWLINE/INDENT/DEDENT tokens. Any input it cannot lex is a *ParseError;
// the validator treats that as a rejection, never as something to guess at.
func tokenize(source string) ([]Token, error) {
	lx := &lexer{
		src:     []rune(strings.ReplaceAll(source, "\r\n", "\n")),
		line:    1,
		col:     1,
		indents: []int{0},
		atStart: true,
	}
	if err := lx.run(); err != nil {
		return nil, err
	}
	return lx.toks, nil
}

type lexer struct {
	src     []rune
	i       int
	line    int
	col     int
	indents []int
	paren   int
	atStart bool
	content bool // current logical line emitted at least one token
	toks    []Token
}

func (lx *lexer) pos() Position { return Position{Line: lx.line, Col: lx.col} }

func (lx *lexer) peek() rune {
	if lx.i >= len(lx.src) {
		return 0
	}
	return lx.src[lx.i]
}

func (lx *lexer) peekAt(off int) rune {
	if lx.i+off >= len(lx.src) {
		return 0
	}
	return lx.src[lx.i+off]
}

func (lx *lexer) advance() rune {
	r := lx.src[lx.i]
	lx.i++
	if r == '\n' {
		lx.line++
		lx.col = 1
	} else if r == '\t' {
		lx.col += 8 - ((lx.col - 1) % 8)
	} else {
		lx.col++
	}
	return r
}

func (lx *lexer) emit(kind TokenKind, lit string, pos Position) {
	lx.toks = append(lx.toks, Token{Kind: kind, Lit: lit, Pos: pos})
	if kind != NEWLINE && kind != INDENT && kind != DEDENT {
		lx.content = true
	}
}

func (lx *lexer) run() error {
	for lx.i < len(lx.src) {
		if lx.atStart && lx.paren == 0 {
			if err := lx.handleIndent(); err != nil {
				return err
			}
			continue
		}

		r := lx.peek()
		switch {
		case r == ' ' || r == '\t':
			lx.advance()
		case r == '#':
			for lx.i < len(lx.src) && lx.peek() != '\n' {
				lx.advance()
			}
		case r == '\\' && lx.peekAt(1) == '\n':
			lx.advance()
			lx.advance()
		case r == '\n':
			lx.advance()
			if lx.paren == 0 {
				if lx.content {
					lx.emit(NEWLINE, "\n", Position{Line: lx.line - 1, Col: lx.col})
					lx.content = false
				}
				lx.atStart = true
			}
		case isNameStart(r):
			if err := lx.lexNameOrString(); err != nil {
				return err
			}
		case r >= '0' && r <= '9', r == '.' && isDigit(lx.peekAt(1)):
			lx.lexNumber()
		case r == '\'' || r == '"':
			if err := lx.lexString(""); err != nil {
				return err
			}
		default:
			if err := lx.lexOperator(); err != nil {
				return err
			}
		}
	}

	if lx.content {
		lx.emit(NEWLINE, "\n", lx.pos())
	}
	for len(lx.indents) > 1 {
		lx.indents = lx.indents[:len(lx.indents)-1]
		lx.emit(DEDENT, "", lx.pos())
	}
	lx.emit(EOF, "", lx.pos())
	return nil
}

// handleIndent measures leading whitespace on a fresh logical line and emits
// INDENT/DEDENT tokens. Blank and comment-only lines produce nothing.
func (lx *lexer) handleIndent() error {
	width := 0
	j := lx.i
	for j < len(lx.src) {
		switch lx.src[j] {
		case ' ':
			width++
			j++
			continue
		case '\t':
			width += 8 - (width % 8)
			j++
			continue
		}
		break
	}

	// Skip blank or comment-only lines entirely.
	if j >= len(lx.src) || lx.src[j] == '\n' || lx.src[j] == '#' {
		for lx.i < len(lx.src) && lx.peek() != '\n' {
			lx.advance()
		}
		if lx.i < len(lx.src) {
			lx.advance()
		}
		return nil
	}

	for lx.i < j {
		lx.advance()
	}
	lx.atStart = false

	top := lx.indents[len(lx.indents)-1]
	switch {
	case width > top:
		lx.indents = append(lx.indents, width)
		lx.emit(INDENT, "", lx.pos())
	case width < top:
		for len(lx.indents) > 1 && lx.indents[len(lx.indents)-1] > width {
			lx.indents = lx.indents[:len(lx.indents)-1]
			lx.emit(DEDENT, "", lx.pos())
		}
		if lx.indents[len(lx.indents)-1] != width {
			return syntaxErr(lx.pos(), "inconsistent indentation")
		}
	}
	return nil
}

func (lx *lexer) lexNameOrString() error {
	pos := lx.pos()
	start := lx.i
	for lx.i < len(lx.src) && isNameCont(lx.peek()) {
		lx.advance()
	}
	word := string(lx.src[start:lx.i])

	// String prefix like r'...', f"...", rb'...'.
	if len(word) <= 2 && isStringPrefix(word) && (lx.peek() == '\'' || lx.peek() == '"') {
		return lx.lexString(word)
	}

	if keywords[word] {
		lx.emit(KEYWORD, word, pos)
	} else {
		lx.emit(NAME, word, pos)
	}
	return nil
}

func isStringPrefix(s string) bool {
	for _, r := range strings.ToLower(s) {
		switch r {
		case 'r', 'b', 'f', 'u':
		default:
			return false
		}
	}
	return len(s) > 0
}

func (lx *lexer) lexNumber() {
	pos := lx.pos()
	start := lx.i

	if lx.peek() == '0' && (lx.peekAt(1) == 'x' || lx.peekAt(1) == 'X' ||
		lx.peekAt(1) == 'o' || lx.peekAt(1) == 'O' ||
		lx.peekAt(1) == 'b' || lx.peekAt(1) == 'B') {
		lx.advance()
		lx.advance()
		for lx.i < len(lx.src) && (isHexDigit(lx.peek()) || lx.peek() == '_') {
			lx.advance()
		}
		lx.emit(NUMBER, string(lx.src[start:lx.i]), pos)
		return
	}

	for lx.i < len(lx.src) && (isDigit(lx.peek()) || lx.peek() == '_') {
		lx.advance()
	}
	if lx.peek() == '.' && !isNameStart(lx.peekAt(1)) {
		lx.advance()
		for lx.i < len(lx.src) && (isDigit(lx.peek()) || lx.peek() == '_') {
			lx.advance()
		}
	}
	if lx.peek() == 'e' || lx.peek() == 'E' {
		if isDigit(lx.peekAt(1)) || ((lx.peekAt(1) == '+' || lx.peekAt(1) == '-') && isDigit(lx.peekAt(2))) {
			lx.advance()
			if lx.peek() == '+' || lx.peek() == '-' {
				lx.advance()
			}
			for lx.i < len(lx.src) && isDigit(lx.peek()) {
				lx.advance()
			}
		}
	}

	lx.emit(NUMBER, string(lx.src[start:lx.i]), pos)
}

func (lx *lexer) lexString(prefix string) error {
	pos := lx.pos()
	quote := lx.advance()
	raw := strings.ContainsAny(strings.ToLower(prefix), "r")

	triple := false
	if lx.peek() == quote && lx.peekAt(1) == quote {
		lx.advance()
		lx.advance()
		triple = true
	}

	var sb strings.Builder
	sb.WriteString(prefix)
	sb.WriteByte(0) // separates prefix from decoded value

	for {
		if lx.i >= len(lx.src) {
			return syntaxErr(pos, "unterminated string literal")
		}
		r := lx.peek()

		if r == quote {
			if !triple {
				lx.advance()
				break
			}
			if lx.peekAt(1) == quote && lx.peekAt(2) == quote {
				lx.advance()
				lx.advance()
				lx.advance()
				break
			}
			lx.advance()
			sb.WriteRune(r)
			continue
		}

		if r == '\n' && !triple {
			return syntaxErr(pos, "unterminated string literal")
		}

		if r == '\\' && !raw {
			lx.advance()
			if lx.i >= len(lx.src) {
				return syntaxErr(pos, "unterminated string literal")
			}
			esc := lx.advance()
			switch esc {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case 'r':
				sb.WriteByte('\r')
			case '\\', '\'', '"':
				sb.WriteRune(esc)
			case '0':
				sb.WriteByte(0)
			case '\n':
				// Escaped newline continues the string.
			default:
				sb.WriteByte('\\')
				sb.WriteRune(esc)
			}
			continue
		}

		lx.advance()
		sb.WriteRune(r)
	}

	lx.emit(STRING, sb.String(), pos)
	return nil
}

var operators3 = []string{"**=", "//=", ">>=", "<<="}
var operators2 = []string{
	"**", "//", "==", "!=", "<=", ">=", "->",
	"+=", "-=", "*=", "/=", "%=", "&=", "|=", "^=", ">>", "<<", ":=",
}

const operators1 = "+-*/%@&|^~<>()[]{},:.;="

func (lx *lexer) lexOperator() error {
	pos := lx.pos()

	if lx.i+3 <= len(lx.src) {
		three := string(lx.src[lx.i : lx.i+3])
		for _, op := range operators3 {
			if three == op {
				lx.advance()
				lx.advance()
				lx.advance()
				lx.emit(OP, op, pos)
				return nil
			}
		}
	}
	if lx.i+2 <= len(lx.src) {
		two := string(lx.src[lx.i : lx.i+2])
		for _, op := range operators2 {
			if two == op {
				lx.advance()
				lx.advance()
				lx.emit(OP, op, pos)
				return nil
			}
		}
	}

	r := lx.peek()
	if strings.ContainsRune(operators1, r) {
		switch r {
		case '(', '[', '{':
			lx.paren++
		case ')', ']', '}':
			if lx.paren > 0 {
				lx.paren--
			}
		}
		lx.advance()
		lx.emit(OP, string(r), pos)
		return nil
	}

	return syntaxErr(pos, "unexpected character %q", string(r))
}

func isNameStart(r rune) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || r > 127
}

func isNameCont(r rune) bool {
	return isNameStart(r) || isDigit(r)
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }

func isHexDigit(r rune) bool {
	return isDigit(r) || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}
