package lang

// The syntax tree is an explicit tagged union: Stmt and Expr are sealed
// interfaces and every variant is a concrete struct in this file. Consumers
// walk the tree through Visitor, which dispatches exhaustively in walk.go.

// Node is the common interface of every syntax-tree node.
type Node interface {
	Pos() Position
}

// Stmt is a statement node.
type Stmt interface {
	Node
	stmt()
}

// Expr is an expression node.
type Expr interface {
	Node
	expr()
}

// Module is the root of a parsed candidate.
type Module struct {
	Body []Stmt
}

func (m *Module) Pos() Position {
	if len(m.Body) > 0 {
		return m.Body[0].Pos()
	}
	return Position{Line: 1, Col: 1}
}

// Alias is one name in an import statement, with its optional rebinding.
type Alias struct {
	Name   string
	AsName string
	P      Position
}

// Bound returns the name the import binds in the namespace.
func (a Alias) Bound() string {
	if a.AsName != "" {
		return a.AsName
	}
	return a.Name
}

// Param is a function parameter with an optional default.
type Param struct {
	Name    string
	Default Expr
	P       Position
}

// ExceptHandler is one except clause of a try statement.
type ExceptHandler struct {
	Type Expr // nil for a bare except
	Name string
	Body []Stmt
	P    Position
}

// Kwarg is a keyword argument in a call.
type Kwarg struct {
	Name  string
	Value Expr
	P     Position
}

// Statements.

type Assign struct {
	Targets []Expr // chained targets: a = b = value
	Value   Expr
	P       Position
}

type AugAssign struct {
	Target Expr
	Op     string // "+", "-", "*", ...
	Value  Expr
	P      Position
}

type ExprStmt struct {
	X Expr
	P Position
}

type If struct {
	Cond Expr
	Body []Stmt
	Else []Stmt // empty, a single nested If (elif), or the else suite
	P    Position
}

type For struct {
	Target Expr
	Iter   Expr
	Body   []Stmt
	Else   []Stmt
	P      Position
}

type While struct {
	Cond Expr
	Body []Stmt
	Else []Stmt
	P    Position
}

type FuncDef struct {
	Name   string
	Params []Param
	Body   []Stmt
	P      Position
}

type Return struct {
	Value Expr // nil for a bare return
	P     Position
}

type Import struct {
	Names []Alias
	P     Position
}

type FromImport struct {
	Module string
	Names  []Alias
	P      Position
}

type Try struct {
	Body     []Stmt
	Handlers []ExceptHandler
	Else     []Stmt
	Final    []Stmt
	P        Position
}

type Raise struct {
	Exc Expr // nil for a bare raise
	P   Position
}

type Pass struct{ P Position }
type Break struct{ P Position }
type Continue struct{ P Position }

func (s *Assign) Pos() Position     { return s.P }
func (s *AugAssign) Pos() Position  { return s.P }
func (s *ExprStmt) Pos() Position   { return s.P }
func (s *If) Pos() Position         { return s.P }
func (s *For) Pos() Position        { return s.P }
func (s *While) Pos() Position      { return s.P }
func (s *FuncDef) Pos() Position    { return s.P }
func (s *Return) Pos() Position     { return s.P }
func (s *Import) Pos() Position     { return s.P }
func (s *FromImport) Pos() Position { return s.P }
func (s *Try) Pos() Position        { return s.P }
func (s *Raise) Pos() Position      { return s.P }
func (s *Pass) Pos() Position       { return s.P }
func (s *Break) Pos() Position      { return s.P }
func (s *Continue) Pos() Position   { return s.P }

func (*Assign) stmt()     {}
func (*AugAssign) stmt()  {}
func (*ExprStmt) stmt()   {}
func (*If) stmt()         {}
func (*For) stmt()        {}
func (*While) stmt()      {}
func (*FuncDef) stmt()    {}
func (*Return) stmt()     {}
func (*Import) stmt()     {}
func (*FromImport) stmt() {}
func (*Try) stmt()        {}
func (*Raise) stmt()      {}
func (*Pass) stmt()       {}
func (*Break) stmt()      {}
func (*Continue) stmt()   {}

// Expressions.

type Name struct {
	ID string
	P  Position
}

type Num struct {
	Raw     string
	IsFloat bool
	P       Position
}

type Str struct {
	Value  string
	Prefix string // "f", "r", "b", ... as written
	P      Position
}

type BoolConst struct {
	Value bool
	P     Position
}

type NoneConst struct{ P Position }

type Attr struct {
	Value Expr
	Name  string
	P     Position
}

type Index struct {
	Value Expr
	Sub   Expr
	P     Position
}

type SliceExpr struct {
	Value Expr
	Lo    Expr // any of these may be nil
	Hi    Expr
	Step  Expr
	P     Position
}

type Call struct {
	Fn     Expr
	Args   []Expr
	Kwargs []Kwarg
	P      Position
}

type Unary struct {
	Op string // "-", "+", "~", "not"
	X  Expr
	P  Position
}

type Binary struct {
	Op string // "+", "-", "*", "/", "//", "%", "**", "&", "|", "^", "<<", ">>"
	L  Expr
	R  Expr
	P  Position
}

type Compare struct {
	L   Expr
	Ops []string // "==", "!=", "<", "<=", ">", ">=", "in", "not in", "is", "is not"
	Rs  []Expr
	P   Position
}

type BoolExpr struct {
	Op   string // "and" or "or"
	Vals []Expr
	P    Position
}

type ListExpr struct {
	Elts []Expr
	P    Position
}

type TupleExpr struct {
	Elts []Expr
	P    Position
}

type DictExpr struct {
	Keys []Expr
	Vals []Expr
	P    Position
}

type SetExpr struct {
	Elts []Expr
	P    Position
}

// Cond is a conditional expression: Then if Test else Else.
type Cond struct {
	Then Expr
	Test Expr
	Else Expr
	P    Position
}

// CompClause is one "for target in iter [if cond]*" clause of a comprehension.
type CompClause struct {
	Target Expr
	Iter   Expr
	Ifs    []Expr
	P      Position
}

// Comp is a list/set/dict comprehension or a generator expression.
type Comp struct {
	Kind    string // "list", "set", "dict", "generator"
	Elt     Expr
	Val     Expr // value expression for dict comprehensions, else nil
	Clauses []CompClause
	P       Position
}

func (e *Name) Pos() Position      { return e.P }
func (e *Num) Pos() Position       { return e.P }
func (e *Str) Pos() Position       { return e.P }
func (e *BoolConst) Pos() Position { return e.P }
func (e *NoneConst) Pos() Position { return e.P }
func (e *Attr) Pos() Position      { return e.P }
func (e *Index) Pos() Position     { return e.P }
func (e *SliceExpr) Pos() Position { return e.P }
func (e *Call) Pos() Position      { return e.P }
func (e *Unary) Pos() Position     { return e.P }
func (e *Binary) Pos() Position    { return e.P }
func (e *Compare) Pos() Position   { return e.P }
func (e *BoolExpr) Pos() Position  { return e.P }
func (e *ListExpr) Pos() Position  { return e.P }
func (e *TupleExpr) Pos() Position { return e.P }
func (e *DictExpr) Pos() Position  { return e.P }
func (e *SetExpr) Pos() Position   { return e.P }
func (e *Cond) Pos() Position      { return e.P }
func (e *Comp) Pos() Position      { return e.P }

func (*Name) expr()      {}
func (*Num) expr()       {}
func (*Str) expr()       {}
func (*BoolConst) expr() {}
func (*NoneConst) expr() {}
func (*Attr) expr()      {}
func (*Index) expr()     {}
func (*SliceExpr) expr() {}
func (*Call) expr()      {}
func (*Unary) expr()     {}
func (*Binary) expr()    {}
func (*Compare) expr()   {}
func (*BoolExpr) expr()  {}
func (*ListExpr) expr()  {}
func (*TupleExpr) expr() {}
func (*DictExpr) expr()  {}
func (*SetExpr) expr()   {}
func (*Cond) expr()      {}
func (*Comp) expr()      {}
