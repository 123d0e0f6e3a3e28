package lang

import "strings"

// Parse turns candidate source into a syntax tree. The grammar covers the
// statement and expression forms the generator actually emits; anything
// outside it (lambda, class, with, decorators, star-args, walrus) is a parse
// error, which downstream components treat as a rejection.
func Parse(source string) (*Module, error) {
	toks, err := tokenize(source)
	if err != nil {
		return nil, err
	}

	p := &parser{toks: toks}
	mod := &Module{}
	for {
		p.skipNewlines()
		if p.at(EOF) {
			break
		}
		stmts, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		mod.Body = append(mod.Body, stmts...)
	}
	return mod, nil
}

type parser struct {
	toks []Token
	i    int
}

func (p *parser) cur() Token { return p.toks[p.i] }

func (p *parser) peek() Token {
	if p.i+1 < len(p.toks) {
		return p.toks[p.i+1]
	}
	return p.toks[len(p.toks)-1]
}

func (p *parser) next() Token {
	t := p.toks[p.i]
	if p.i < len(p.toks)-1 {
		p.i++
	}
	return t
}

func (p *parser) at(kind TokenKind) bool { return p.cur().Kind == kind }

func (p *parser) atOp(lit string) bool {
	return p.cur().Kind == OP && p.cur().Lit == lit
}

func (p *parser) atKw(lit string) bool {
	return p.cur().Kind == KEYWORD && p.cur().Lit == lit
}

func (p *parser) acceptOp(lit string) bool {
	if p.atOp(lit) {
		p.next()
		return true
	}
	return false
}

func (p *parser) acceptKw(lit string) bool {
	if p.atKw(lit) {
		p.next()
		return true
	}
	return false
}

func (p *parser) expectOp(lit string) error {
	if !p.acceptOp(lit) {
		return syntaxErr(p.cur().Pos, "expected %q, found %q", lit, p.cur().Lit)
	}
	return nil
}

func (p *parser) expectName() (Token, error) {
	if !p.at(NAME) {
		return Token{}, syntaxErr(p.cur().Pos, "expected identifier, found %q", p.cur().Lit)
	}
	return p.next(), nil
}

func (p *parser) expectNewline() error {
	if p.at(NEWLINE) {
		p.next()
		return nil
	}
	if p.at(EOF) || p.at(DEDENT) {
		return nil
	}
	return syntaxErr(p.cur().Pos, "unexpected %q after statement", p.cur().Lit)
}

func (p *parser) skipNewlines() {
	for p.at(NEWLINE) {
		p.next()
	}
}

// Statements.

func (p *parser) parseStatement() ([]Stmt, error) {
	if p.at(KEYWORD) {
		switch p.cur().Lit {
		case "if":
			s, err := p.parseIf()
			return wrap(s, err)
		case "while":
			s, err := p.parseWhile()
			return wrap(s, err)
		case "for":
			s, err := p.parseFor()
			return wrap(s, err)
		case "def":
			s, err := p.parseFuncDef()
			return wrap(s, err)
		case "try":
			s, err := p.parseTry()
			return wrap(s, err)
		}
	}
	return p.parseSimpleLine()
}

func wrap(s Stmt, err error) ([]Stmt, error) {
	if err != nil {
		return nil, err
	}
	return []Stmt{s}, nil
}

// parseSimpleLine parses one or more ';'-separated simple statements followed
// by a NEWLINE.
func (p *parser) parseSimpleLine() ([]Stmt, error) {
	var stmts []Stmt
	for {
		s, err := p.parseSimpleStmt()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, s)
		if !p.acceptOp(";") {
			break
		}
		if p.at(NEWLINE) || p.at(EOF) {
			break
		}
	}
	if err := p.expectNewline(); err != nil {
		return nil, err
	}
	return stmts, nil
}

func (p *parser) parseSimpleStmt() (Stmt, error) {
	pos := p.cur().Pos

	if p.at(KEYWORD) {
		switch p.cur().Lit {
		case "return":
			p.next()
			var val Expr
			if !p.at(NEWLINE) && !p.at(EOF) && !p.atOp(";") {
				v, err := p.parseTestlist()
				if err != nil {
					return nil, err
				}
				val = v
			}
			return &Return{Value: val, P: pos}, nil
		case "pass":
			p.next()
			return &Pass{P: pos}, nil
		case "break":
			p.next()
			return &Break{P: pos}, nil
		case "continue":
			p.next()
			return &Continue{P: pos}, nil
		case "raise":
			p.next()
			var exc Expr
			if !p.at(NEWLINE) && !p.at(EOF) && !p.atOp(";") {
				e, err := p.parseTest()
				if err != nil {
					return nil, err
				}
				exc = e
				if p.acceptKw("from") {
					if _, err := p.parseTest(); err != nil {
						return nil, err
					}
				}
			}
			return &Raise{Exc: exc, P: pos}, nil
		case "import":
			return p.parseImport()
		case "from":
			return p.parseFromImport()
		case "del", "assert", "global", "nonlocal", "with", "class", "yield", "async", "await", "lambda":
			return nil, syntaxErr(pos, "%q statements are not supported", p.cur().Lit)
		}
	}

	return p.parseExprOrAssign()
}

func (p *parser) parseExprOrAssign() (Stmt, error) {
	pos := p.cur().Pos

	first, err := p.parseTestlist()
	if err != nil {
		return nil, err
	}

	// Augmented assignment.
	if p.at(OP) && strings.HasSuffix(p.cur().Lit, "=") && isAugOp(p.cur().Lit) {
		op := strings.TrimSuffix(p.next().Lit, "=")
		if err := checkAssignable(first); err != nil {
			return nil, err
		}
		val, err := p.parseTestlist()
		if err != nil {
			return nil, err
		}
		return &AugAssign{Target: first, Op: op, Value: val, P: pos}, nil
	}

	// Plain (possibly chained) assignment.
	if p.atOp("=") {
		exprs := []Expr{first}
		for p.acceptOp("=") {
			e, err := p.parseTestlist()
			if err != nil {
				return nil, err
			}
			exprs = append(exprs, e)
		}
		targets := exprs[:len(exprs)-1]
		for _, t := range targets {
			if err := checkAssignable(t); err != nil {
				return nil, err
			}
		}
		return &Assign{Targets: targets, Value: exprs[len(exprs)-1], P: pos}, nil
	}

	// Annotated assignment "name: type = value"; the annotation is discarded.
	if p.atOp(":") {
		if _, ok := first.(*Name); ok {
			p.next()
			if _, err := p.parseTest(); err != nil {
				return nil, err
			}
			if p.acceptOp("=") {
				val, err := p.parseTestlist()
				if err != nil {
					return nil, err
				}
				return &Assign{Targets: []Expr{first}, Value: val, P: pos}, nil
			}
			return &ExprStmt{X: first, P: pos}, nil
		}
	}

	return &ExprStmt{X: first, P: pos}, nil
}

var augOps = map[string]bool{
	"+=": true, "-=": true, "*=": true, "/=": true, "%=": true,
	"//=": true, "**=": true, "&=": true, "|=": true, "^=": true,
	">>=": true, "<<=": true,
}

func isAugOp(lit string) bool { return augOps[lit] }

func checkAssignable(e Expr) error {
	switch t := e.(type) {
	case *Name, *Attr, *Index, *SliceExpr:
		return nil
	case *TupleExpr:
		for _, el := range t.Elts {
			if err := checkAssignable(el); err != nil {
				return err
			}
		}
		return nil
	case *ListExpr:
		for _, el := range t.Elts {
			if err := checkAssignable(el); err != nil {
				return err
			}
		}
		return nil
	default:
		return syntaxErr(e.Pos(), "cannot assign to this expression")
	}
}

func (p *parser) parseImport() (Stmt, error) {
	pos := p.next().Pos // "import"
	var names []Alias
	for {
		a, err := p.parseDottedAlias()
		if err != nil {
			return nil, err
		}
		names = append(names, a)
		if !p.acceptOp(",") {
			break
		}
	}
	return &Import{Names: names, P: pos}, nil
}

func (p *parser) parseFromImport() (Stmt, error) {
	pos := p.next().Pos // "from"
	module, err := p.parseDottedName()
	if err != nil {
		return nil, err
	}
	if !p.acceptKw("import") {
		return nil, syntaxErr(p.cur().Pos, "expected \"import\" in from-import")
	}

	var names []Alias
	if p.atOp("*") {
		star := p.next()
		names = append(names, Alias{Name: "*", P: star.Pos})
		return &FromImport{Module: module, Names: names, P: pos}, nil
	}

	paren := p.acceptOp("(")
	for {
		if paren {
			p.skipNewlines()
		}
		tok, err := p.expectName()
		if err != nil {
			return nil, err
		}
		a := Alias{Name: tok.Lit, P: tok.Pos}
		if p.acceptKw("as") {
			as, err := p.expectName()
			if err != nil {
				return nil, err
			}
			a.AsName = as.Lit
		}
		names = append(names, a)
		if paren {
			p.skipNewlines()
		}
		if !p.acceptOp(",") {
			break
		}
		if paren {
			p.skipNewlines()
			if p.atOp(")") {
				break
			}
		}
	}
	if paren {
		if err := p.expectOp(")"); err != nil {
			return nil, err
		}
	}
	return &FromImport{Module: module, Names: names, P: pos}, nil
}

func (p *parser) parseDottedAlias() (Alias, error) {
	start := p.cur().Pos
	name, err := p.parseDottedName()
	if err != nil {
		return Alias{}, err
	}
	a := Alias{Name: name, P: start}
	if p.acceptKw("as") {
		as, err := p.expectName()
		if err != nil {
			return Alias{}, err
		}
		a.AsName = as.Lit
	}
	return a, nil
}

func (p *parser) parseDottedName() (string, error) {
	tok, err := p.expectName()
	if err != nil {
		return "", err
	}
	name := tok.Lit
	for p.atOp(".") {
		p.next()
		part, err := p.expectName()
		if err != nil {
			return "", err
		}
		name += "." + part.Lit
	}
	return name, nil
}

func (p *parser) parseIf() (Stmt, error) {
	pos := p.next().Pos // "if" or "elif"
	cond, err := p.parseTest()
	if err != nil {
		return nil, err
	}
	body, err := p.parseSuite()
	if err != nil {
		return nil, err
	}

	var elseBody []Stmt
	if p.atKw("elif") {
		nested, err := p.parseIf()
		if err != nil {
			return nil, err
		}
		elseBody = []Stmt{nested}
	} else if p.acceptKw("else") {
		elseBody, err = p.parseSuite()
		if err != nil {
			return nil, err
		}
	}
	return &If{Cond: cond, Body: body, Else: elseBody, P: pos}, nil
}

func (p *parser) parseWhile() (Stmt, error) {
	pos := p.next().Pos
	cond, err := p.parseTest()
	if err != nil {
		return nil, err
	}
	body, err := p.parseSuite()
	if err != nil {
		return nil, err
	}
	var elseBody []Stmt
	if p.acceptKw("else") {
		elseBody, err = p.parseSuite()
		if err != nil {
			return nil, err
		}
	}
	return &While{Cond: cond, Body: body, Else: elseBody, P: pos}, nil
}

func (p *parser) parseFor() (Stmt, error) {
	pos := p.next().Pos
	target, err := p.parseTargetList()
	if err != nil {
		return nil, err
	}
	if !p.acceptKw("in") {
		return nil, syntaxErr(p.cur().Pos, "expected \"in\" in for statement")
	}
	iter, err := p.parseTestlist()
	if err != nil {
		return nil, err
	}
	body, err := p.parseSuite()
	if err != nil {
		return nil, err
	}
	var elseBody []Stmt
	if p.acceptKw("else") {
		elseBody, err = p.parseSuite()
		if err != nil {
			return nil, err
		}
	}
	return &For{Target: target, Iter: iter, Body: body, Else: elseBody, P: pos}, nil
}

// parseTargetList parses a loop target: a name or tuple of names/attrs/indexes.
func (p *parser) parseTargetList() (Expr, error) {
	first, err := p.parseAtomTrailers()
	if err != nil {
		return nil, err
	}
	if !p.atOp(",") {
		if err := checkAssignable(first); err != nil {
			return nil, err
		}
		return first, nil
	}
	elts := []Expr{first}
	for p.acceptOp(",") {
		if p.atKw("in") {
			break
		}
		e, err := p.parseAtomTrailers()
		if err != nil {
			return nil, err
		}
		elts = append(elts, e)
	}
	tup := &TupleExpr{Elts: elts, P: first.Pos()}
	if err := checkAssignable(tup); err != nil {
		return nil, err
	}
	return tup, nil
}

func (p *parser) parseFuncDef() (Stmt, error) {
	pos := p.next().Pos // "def"
	name, err := p.expectName()
	if err != nil {
		return nil, err
	}
	if err := p.expectOp("("); err != nil {
		return nil, err
	}

	var params []Param
	for !p.atOp(")") {
		if p.atOp("*") || p.atOp("**") {
			return nil, syntaxErr(p.cur().Pos, "star parameters are not supported")
		}
		tok, err := p.expectName()
		if err != nil {
			return nil, err
		}
		prm := Param{Name: tok.Lit, P: tok.Pos}
		if p.acceptOp(":") { // annotation, discarded
			if _, err := p.parseTest(); err != nil {
				return nil, err
			}
		}
		if p.acceptOp("=") {
			def, err := p.parseTest()
			if err != nil {
				return nil, err
			}
			prm.Default = def
		}
		params = append(params, prm)
		if !p.acceptOp(",") {
			break
		}
	}
	if err := p.expectOp(")"); err != nil {
		return nil, err
	}
	if p.acceptOp("->") { // return annotation, discarded
		if _, err := p.parseTest(); err != nil {
			return nil, err
		}
	}

	body, err := p.parseSuite()
	if err != nil {
		return nil, err
	}
	return &FuncDef{Name: name.Lit, Params: params, Body: body, P: pos}, nil
}

func (p *parser) parseTry() (Stmt, error) {
	pos := p.next().Pos // "try"
	body, err := p.parseSuite()
	if err != nil {
		return nil, err
	}

	t := &Try{Body: body, P: pos}
	for p.atKw("except") {
		hpos := p.next().Pos
		h := ExceptHandler{P: hpos}
		if !p.atOp(":") {
			typ, err := p.parseTest()
			if err != nil {
				return nil, err
			}
			h.Type = typ
			if p.acceptKw("as") {
				nm, err := p.expectName()
				if err != nil {
					return nil, err
				}
				h.Name = nm.Lit
			}
		}
		hbody, err := p.parseSuite()
		if err != nil {
			return nil, err
		}
		h.Body = hbody
		t.Handlers = append(t.Handlers, h)
	}
	if p.acceptKw("else") {
		t.Else, err = p.parseSuite()
		if err != nil {
			return nil, err
		}
	}
	if p.acceptKw("finally") {
		t.Final, err = p.parseSuite()
		if err != nil {
			return nil, err
		}
	}
	if len(t.Handlers) == 0 && len(t.Final) == 0 {
		return nil, syntaxErr(pos, "try statement needs an except or finally clause")
	}
	return t, nil
}

// parseSuite parses ':' followed by either an indented block or inline
// statements on the same line.
func (p *parser) parseSuite() ([]Stmt, error) {
	if err := p.expectOp(":"); err != nil {
		return nil, err
	}

	if !p.at(NEWLINE) {
		return p.parseSimpleLine()
	}
	p.next() // NEWLINE
	p.skipNewlines()
	if !p.at(INDENT) {
		return nil, syntaxErr(p.cur().Pos, "expected an indented block")
	}
	p.next()

	var body []Stmt
	for {
		p.skipNewlines()
		if p.at(DEDENT) {
			p.next()
			break
		}
		if p.at(EOF) {
			break
		}
		stmts, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		body = append(body, stmts...)
	}
	return body, nil
}

// Expressions, lowest precedence first.

// parseTestlist parses a comma-separated expression list, producing a tuple
// when more than one element is present.
func (p *parser) parseTestlist() (Expr, error) {
	first, err := p.parseTest()
	if err != nil {
		return nil, err
	}
	if !p.atOp(",") {
		return first, nil
	}
	elts := []Expr{first}
	for p.acceptOp(",") {
		if !p.startsExpr() {
			break // trailing comma
		}
		e, err := p.parseTest()
		if err != nil {
			return nil, err
		}
		elts = append(elts, e)
	}
	return &TupleExpr{Elts: elts, P: first.Pos()}, nil
}

func (p *parser) startsExpr() bool {
	switch p.cur().Kind {
	case NAME, NUMBER, STRING:
		return true
	case KEYWORD:
		switch p.cur().Lit {
		case "True", "False", "None", "not":
			return true
		}
		return false
	case OP:
		switch p.cur().Lit {
		case "(", "[", "{", "-", "+", "~":
			return true
		}
		return false
	default:
		return false
	}
}

func (p *parser) parseTest() (Expr, error) {
	expr, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.atKw("if") {
		pos := p.next().Pos
		test, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if !p.acceptKw("else") {
			return nil, syntaxErr(p.cur().Pos, "conditional expression missing \"else\"")
		}
		els, err := p.parseTest()
		if err != nil {
			return nil, err
		}
		return &Cond{Then: expr, Test: test, Else: els, P: pos}, nil
	}
	return expr, nil
}

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	if !p.atKw("or") {
		return left, nil
	}
	vals := []Expr{left}
	for p.acceptKw("or") {
		r, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		vals = append(vals, r)
	}
	return &BoolExpr{Op: "or", Vals: vals, P: left.Pos()}, nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	if !p.atKw("and") {
		return left, nil
	}
	vals := []Expr{left}
	for p.acceptKw("and") {
		r, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		vals = append(vals, r)
	}
	return &BoolExpr{Op: "and", Vals: vals, P: left.Pos()}, nil
}

func (p *parser) parseNot() (Expr, error) {
	if p.atKw("not") {
		pos := p.next().Pos
		x, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &Unary{Op: "not", X: x, P: pos}, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (Expr, error) {
	left, err := p.parseBitOr()
	if err != nil {
		return nil, err
	}

	var ops []string
	var rs []Expr
	for {
		op, ok := p.compareOp()
		if !ok {
			break
		}
		r, err := p.parseBitOr()
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
		rs = append(rs, r)
	}
	if len(ops) == 0 {
		return left, nil
	}
	return &Compare{L: left, Ops: ops, Rs: rs, P: left.Pos()}, nil
}

// compareOp consumes a comparison operator if present, including the
// two-keyword forms "not in" and "is not".
func (p *parser) compareOp() (string, bool) {
	if p.at(OP) {
		switch p.cur().Lit {
		case "==", "!=", "<", "<=", ">", ">=":
			return p.next().Lit, true
		}
		return "", false
	}
	if p.atKw("in") {
		p.next()
		return "in", true
	}
	if p.atKw("is") {
		p.next()
		if p.acceptKw("not") {
			return "is not", true
		}
		return "is", true
	}
	if p.atKw("not") && p.peek().Kind == KEYWORD && p.peek().Lit == "in" {
		p.next()
		p.next()
		return "not in", true
	}
	return "", false
}

func (p *parser) parseBitOr() (Expr, error)  { return p.parseBinaryLevel(p.parseBitXor, "|") }
func (p *parser) parseBitXor() (Expr, error) { return p.parseBinaryLevel(p.parseBitAnd, "^") }
func (p *parser) parseBitAnd() (Expr, error) { return p.parseBinaryLevel(p.parseShift, "&") }
func (p *parser) parseShift() (Expr, error)  { return p.parseBinaryLevel(p.parseArith, "<<", ">>") }
func (p *parser) parseArith() (Expr, error)  { return p.parseBinaryLevel(p.parseTerm, "+", "-") }
func (p *parser) parseTerm() (Expr, error) {
	return p.parseBinaryLevel(p.parseFactor, "*", "/", "//", "%", "@")
}

func (p *parser) parseBinaryLevel(sub func() (Expr, error), ops ...string) (Expr, error) {
	left, err := sub()
	if err != nil {
		return nil, err
	}
	for {
		matched := ""
		for _, op := range ops {
			if p.atOp(op) {
				matched = op
				break
			}
		}
		if matched == "" {
			return left, nil
		}
		pos := p.next().Pos
		right, err := sub()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: matched, L: left, R: right, P: pos}
	}
}

func (p *parser) parseFactor() (Expr, error) {
	if p.atOp("-") || p.atOp("+") || p.atOp("~") {
		tok := p.next()
		x, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		return &Unary{Op: tok.Lit, X: x, P: tok.Pos}, nil
	}
	return p.parsePower()
}

func (p *parser) parsePower() (Expr, error) {
	base, err := p.parseAtomTrailers()
	if err != nil {
		return nil, err
	}
	if p.atOp("**") {
		pos := p.next().Pos
		exp, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		return &Binary{Op: "**", L: base, R: exp, P: pos}, nil
	}
	return base, nil
}

func (p *parser) parseAtomTrailers() (Expr, error) {
	expr, err := p.parseAtom()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.atOp("("):
			expr, err = p.parseCall(expr)
		case p.atOp("["):
			expr, err = p.parseSubscript(expr)
		case p.atOp("."):
			pos := p.next().Pos
			nm, nerr := p.expectName()
			if nerr != nil {
				return nil, nerr
			}
			expr = &Attr{Value: expr, Name: nm.Lit, P: pos}
		default:
			return expr, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

func (p *parser) parseCall(fn Expr) (Expr, error) {
	pos := p.next().Pos // "("
	call := &Call{Fn: fn, P: pos}

	for !p.atOp(")") {
		if p.atOp("*") || p.atOp("**") {
			return nil, syntaxErr(p.cur().Pos, "star arguments are not supported")
		}
		if p.at(NAME) && p.peek().Kind == OP && p.peek().Lit == "=" {
			nm := p.next()
			p.next() // "="
			val, err := p.parseTest()
			if err != nil {
				return nil, err
			}
			call.Kwargs = append(call.Kwargs, Kwarg{Name: nm.Lit, Value: val, P: nm.Pos})
		} else {
			arg, err := p.parseTest()
			if err != nil {
				return nil, err
			}
			// A bare generator argument: f(x for x in xs).
			if p.atKw("for") {
				comp, err := p.parseCompRest("generator", arg, nil, arg.Pos())
				if err != nil {
					return nil, err
				}
				arg = comp
			}
			call.Args = append(call.Args, arg)
		}
		if !p.acceptOp(",") {
			break
		}
	}
	if err := p.expectOp(")"); err != nil {
		return nil, err
	}
	return call, nil
}

func (p *parser) parseSubscript(value Expr) (Expr, error) {
	pos := p.next().Pos // "["

	var lo, hi, step Expr
	var err error
	isSlice := false

	if !p.atOp(":") {
		lo, err = p.parseTest()
		if err != nil {
			return nil, err
		}
	}
	if p.acceptOp(":") {
		isSlice = true
		if !p.atOp(":") && !p.atOp("]") {
			hi, err = p.parseTest()
			if err != nil {
				return nil, err
			}
		}
		if p.acceptOp(":") {
			if !p.atOp("]") {
				step, err = p.parseTest()
				if err != nil {
					return nil, err
				}
			}
		}
	}
	if err := p.expectOp("]"); err != nil {
		return nil, err
	}

	if isSlice {
		return &SliceExpr{Value: value, Lo: lo, Hi: hi, Step: step, P: pos}, nil
	}
	return &Index{Value: value, Sub: lo, P: pos}, nil
}

func (p *parser) parseAtom() (Expr, error) {
	tok := p.cur()

	switch tok.Kind {
	case NAME:
		p.next()
		return &Name{ID: tok.Lit, P: tok.Pos}, nil

	case NUMBER:
		p.next()
		return &Num{Raw: tok.Lit, IsFloat: numIsFloat(tok.Lit), P: tok.Pos}, nil

	case STRING:
		return p.parseString()

	case KEYWORD:
		switch tok.Lit {
		case "True":
			p.next()
			return &BoolConst{Value: true, P: tok.Pos}, nil
		case "False":
			p.next()
			return &BoolConst{Value: false, P: tok.Pos}, nil
		case "None":
			p.next()
			return &NoneConst{P: tok.Pos}, nil
		case "lambda":
			return nil, syntaxErr(tok.Pos, "lambda expressions are not supported")
		}
		return nil, syntaxErr(tok.Pos, "unexpected keyword %q", tok.Lit)

	case OP:
		switch tok.Lit {
		case "(":
			return p.parseParenAtom()
		case "[":
			return p.parseListAtom()
		case "{":
			return p.parseDictOrSetAtom()
		}
	}
	return nil, syntaxErr(tok.Pos, "unexpected %q", tok.Lit)
}

// parseString handles implicit adjacent-literal concatenation. The lexer
// encodes each token as prefix NUL value.
func (p *parser) parseString() (Expr, error) {
	tok := p.next()
	prefix, value := splitStringToken(tok.Lit)
	for p.at(STRING) {
		_, more := splitStringToken(p.next().Lit)
		value += more
	}
	return &Str{Value: value, Prefix: prefix, P: tok.Pos}, nil
}

func splitStringToken(lit string) (prefix, value string) {
	idx := strings.IndexByte(lit, 0)
	if idx < 0 {
		return "", lit
	}
	return lit[:idx], lit[idx+1:]
}

func numIsFloat(raw string) bool {
	lower := strings.ToLower(raw)
	if strings.HasPrefix(lower, "0x") || strings.HasPrefix(lower, "0o") || strings.HasPrefix(lower, "0b") {
		return false
	}
	return strings.ContainsAny(raw, ".eE")
}

func (p *parser) parseParenAtom() (Expr, error) {
	pos := p.next().Pos // "("
	if p.atOp(")") {
		p.next()
		return &TupleExpr{P: pos}, nil
	}

	first, err := p.parseTest()
	if err != nil {
		return nil, err
	}

	if p.atKw("for") {
		comp, err := p.parseCompRest("generator", first, nil, pos)
		if err != nil {
			return nil, err
		}
		if err := p.expectOp(")"); err != nil {
			return nil, err
		}
		return comp, nil
	}

	if p.atOp(",") {
		elts := []Expr{first}
		for p.acceptOp(",") {
			if p.atOp(")") {
				break
			}
			e, err := p.parseTest()
			if err != nil {
				return nil, err
			}
			elts = append(elts, e)
		}
		if err := p.expectOp(")"); err != nil {
			return nil, err
		}
		return &TupleExpr{Elts: elts, P: pos}, nil
	}

	if err := p.expectOp(")"); err != nil {
		return nil, err
	}
	return first, nil
}

func (p *parser) parseListAtom() (Expr, error) {
	pos := p.next().Pos // "["
	if p.atOp("]") {
		p.next()
		return &ListExpr{P: pos}, nil
	}

	first, err := p.parseTest()
	if err != nil {
		return nil, err
	}

	if p.atKw("for") {
		comp, err := p.parseCompRest("list", first, nil, pos)
		if err != nil {
			return nil, err
		}
		if err := p.expectOp("]"); err != nil {
			return nil, err
		}
		return comp, nil
	}

	elts := []Expr{first}
	for p.acceptOp(",") {
		if p.atOp("]") {
			break
		}
		e, err := p.parseTest()
		if err != nil {
			return nil, err
		}
		elts = append(elts, e)
	}
	if err := p.expectOp("]"); err != nil {
		return nil, err
	}
	return &ListExpr{Elts: elts, P: pos}, nil
}

func (p *parser) parseDictOrSetAtom() (Expr, error) {
	pos := p.next().Pos // "{"
	if p.atOp("}") {
		p.next()
		return &DictExpr{P: pos}, nil
	}
	if p.atOp("**") {
		return nil, syntaxErr(p.cur().Pos, "dict unpacking is not supported")
	}

	first, err := p.parseTest()
	if err != nil {
		return nil, err
	}

	// Dict: first entry followed by ':'.
	if p.acceptOp(":") {
		val, err := p.parseTest()
		if err != nil {
			return nil, err
		}
		if p.atKw("for") {
			comp, err := p.parseCompRest("dict", first, val, pos)
			if err != nil {
				return nil, err
			}
			if err := p.expectOp("}"); err != nil {
				return nil, err
			}
			return comp, nil
		}

		d := &DictExpr{Keys: []Expr{first}, Vals: []Expr{val}, P: pos}
		for p.acceptOp(",") {
			if p.atOp("}") {
				break
			}
			k, err := p.parseTest()
			if err != nil {
				return nil, err
			}
			if err := p.expectOp(":"); err != nil {
				return nil, err
			}
			v, err := p.parseTest()
			if err != nil {
				return nil, err
			}
			d.Keys = append(d.Keys, k)
			d.Vals = append(d.Vals, v)
		}
		if err := p.expectOp("}"); err != nil {
			return nil, err
		}
		return d, nil
	}

	// Set literal or set comprehension.
	if p.atKw("for") {
		comp, err := p.parseCompRest("set", first, nil, pos)
		if err != nil {
			return nil, err
		}
		if err := p.expectOp("}"); err != nil {
			return nil, err
		}
		return comp, nil
	}

	elts := []Expr{first}
	for p.acceptOp(",") {
		if p.atOp("}") {
			break
		}
		e, err := p.parseTest()
		if err != nil {
			return nil, err
		}
		elts = append(elts, e)
	}
	if err := p.expectOp("}"); err != nil {
		return nil, err
	}
	return &SetExpr{Elts: elts, P: pos}, nil
}

// parseCompRest parses the "for ... in ... [if ...]" clauses of a
// comprehension whose element expression(s) have already been consumed.
func (p *parser) parseCompRest(kind string, elt, val Expr, pos Position) (Expr, error) {
	comp := &Comp{Kind: kind, Elt: elt, Val: val, P: pos}
	for p.atKw("for") {
		cpos := p.next().Pos
		target, err := p.parseTargetList()
		if err != nil {
			return nil, err
		}
		if !p.acceptKw("in") {
			return nil, syntaxErr(p.cur().Pos, "expected \"in\" in comprehension")
		}
		iter, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		clause := CompClause{Target: target, Iter: iter, P: cpos}
		for p.atKw("if") {
			p.next()
			cond, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			clause.Ifs = append(clause.Ifs, cond)
		}
		comp.Clauses = append(comp.Clauses, clause)
	}
	return comp, nil
}
