package lang

// Visitor visits syntax-tree nodes. Visit returns false to skip the node's
// children.
type Visitor interface {
	Visit(n Node) bool
}

// Walk performs a depth-first traversal of the tree rooted at n. The type
// switch below enumerates every node variant; adding a node type without
// extending it will leave the new type unvisited, so keep them in sync.
func Walk(v Visitor, n Node) {
	if n == nil {
		return
	}
	if !v.Visit(n) {
		return
	}

	switch t := n.(type) {
	case *Module:
		walkStmts(v, t.Body)

	case *Assign:
		for _, tgt := range t.Targets {
			Walk(v, tgt)
		}
		Walk(v, t.Value)
	case *AugAssign:
		Walk(v, t.Target)
		Walk(v, t.Value)
	case *ExprStmt:
		Walk(v, t.X)
	case *If:
		Walk(v, t.Cond)
		walkStmts(v, t.Body)
		walkStmts(v, t.Else)
	case *For:
		Walk(v, t.Target)
		Walk(v, t.Iter)
		walkStmts(v, t.Body)
		walkStmts(v, t.Else)
	case *While:
		Walk(v, t.Cond)
		walkStmts(v, t.Body)
		walkStmts(v, t.Else)
	case *FuncDef:
		for _, p := range t.Params {
			if p.Default != nil {
				Walk(v, p.Default)
			}
		}
		walkStmts(v, t.Body)
	case *Return:
		if t.Value != nil {
			Walk(v, t.Value)
		}
	case *Import, *FromImport, *Pass, *Break, *Continue:
		// Leaves.
	case *Try:
		walkStmts(v, t.Body)
		for _, h := range t.Handlers {
			if h.Type != nil {
				Walk(v, h.Type)
			}
			walkStmts(v, h.Body)
		}
		walkStmts(v, t.Else)
		walkStmts(v, t.Final)
	case *Raise:
		if t.Exc != nil {
			Walk(v, t.Exc)
		}

	case *Name, *Num, *Str, *BoolConst, *NoneConst:
		// Leaves.
	case *Attr:
		Walk(v, t.Value)
	case *Index:
		Walk(v, t.Value)
		Walk(v, t.Sub)
	case *SliceExpr:
		Walk(v, t.Value)
		if t.Lo != nil {
			Walk(v, t.Lo)
		}
		if t.Hi != nil {
			Walk(v, t.Hi)
		}
		if t.Step != nil {
			Walk(v, t.Step)
		}
	case *Call:
		Walk(v, t.Fn)
		for _, a := range t.Args {
			Walk(v, a)
		}
		for _, k := range t.Kwargs {
			Walk(v, k.Value)
		}
	case *Unary:
		Walk(v, t.X)
	case *Binary:
		Walk(v, t.L)
		Walk(v, t.R)
	case *Compare:
		Walk(v, t.L)
		for _, r := range t.Rs {
			Walk(v, r)
		}
	case *BoolExpr:
		for _, e := range t.Vals {
			Walk(v, e)
		}
	case *ListExpr:
		for _, e := range t.Elts {
			Walk(v, e)
		}
	case *TupleExpr:
		for _, e := range t.Elts {
			Walk(v, e)
		}
	case *DictExpr:
		for i := range t.Keys {
			Walk(v, t.Keys[i])
			Walk(v, t.Vals[i])
		}
	case *SetExpr:
		for _, e := range t.Elts {
			Walk(v, e)
		}
	case *Cond:
		Walk(v, t.Then)
		Walk(v, t.Test)
		Walk(v, t.Else)
	case *Comp:
		Walk(v, t.Elt)
		if t.Val != nil {
			Walk(v, t.Val)
		}
		for _, c := range t.Clauses {
			Walk(v, c.Target)
			Walk(v, c.Iter)
			for _, cond := range c.Ifs {
				Walk(v, cond)
			}
		}
	}
}

func walkStmts(v Visitor, body []Stmt) {
	for _, s := range body {
		Walk(v, s)
	}
}

// visitorFunc adapts a function to the Visitor interface.
type visitorFunc func(Node) bool

func (f visitorFunc) Visit(n Node) bool { return f(n) }

// Inspect walks the tree calling f on every node; f returning false skips
// that node's children.
func Inspect(n Node, f func(Node) bool) {
	Walk(visitorFunc(f), n)
}
