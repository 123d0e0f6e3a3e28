package lang

import "testing"

func mustParse(t *testing.T, src string) *Module {
	t.Helper()
	mod, err := Parse(src)
	if err != nil {
		t.Fatalf("Parse(%q) error: %v", src, err)
	}
	return mod
}

func TestParseSubscriptChain(t *testing.T) {
	mod := mustParse(t, "result = items[0]['json']['value'] * 2\n")
	if len(mod.Body) != 1 {
		t.Fatalf("body len = %d, want 1", len(mod.Body))
	}
	assign, ok := mod.Body[0].(*Assign)
	if !ok {
		t.Fatalf("stmt is %T, want *Assign", mod.Body[0])
	}
	if name, ok := assign.Targets[0].(*Name); !ok || name.ID != "result" {
		t.Errorf("target = %#v, want Name result", assign.Targets[0])
	}
	bin, ok := assign.Value.(*Binary)
	if !ok || bin.Op != "*" {
		t.Fatalf("value is %T, want *Binary with op *", assign.Value)
	}
	idx, ok := bin.L.(*Index)
	if !ok {
		t.Fatalf("left operand is %T, want *Index", bin.L)
	}
	if str, ok := idx.Sub.(*Str); !ok || str.Value != "value" {
		t.Errorf("innermost subscript = %#v, want 'value'", idx.Sub)
	}
}

func TestParseImports(t *testing.T) {
	mod := mustParse(t, "import os\nimport json as j\nfrom os.path import join, exists\n")
	imp, ok := mod.Body[0].(*Import)
	if !ok || imp.Names[0].Name != "os" {
		t.Fatalf("stmt 0 = %#v, want import os", mod.Body[0])
	}
	imp2 := mod.Body[1].(*Import)
	if imp2.Names[0].Name != "json" || imp2.Names[0].AsName != "j" {
		t.Errorf("import as parsed wrong: %#v", imp2.Names[0])
	}
	from, ok := mod.Body[2].(*FromImport)
	if !ok || from.Module != "os.path" || len(from.Names) != 2 {
		t.Fatalf("stmt 2 = %#v, want from os.path import join, exists", mod.Body[2])
	}
}

func TestParseFromImportStar(t *testing.T) {
	mod := mustParse(t, "from os import *\n")
	from := mod.Body[0].(*FromImport)
	if from.Names[0].Name != "*" {
		t.Errorf("star import parsed as %q", from.Names[0].Name)
	}
}

func TestParseIfElifElse(t *testing.T) {
	src := "if a:\n    x = 1\nelif b:\n    x = 2\nelse:\n    x = 3\n"
	mod := mustParse(t, src)
	ifStmt := mod.Body[0].(*If)
	if len(ifStmt.Body) != 1 {
		t.Errorf("if body len = %d, want 1", len(ifStmt.Body))
	}
	nested, ok := ifStmt.Else[0].(*If)
	if !ok {
		t.Fatalf("elif did not nest: %T", ifStmt.Else[0])
	}
	if len(nested.Else) != 1 {
		t.Errorf("else body len = %d, want 1", len(nested.Else))
	}
}

func TestParseForLoopAndAugAssign(t *testing.T) {
	src := "total = 0\nfor item in items:\n    total += item['value']\n"
	mod := mustParse(t, src)
	loop := mod.Body[1].(*For)
	if name, ok := loop.Target.(*Name); !ok || name.ID != "item" {
		t.Errorf("loop target = %#v", loop.Target)
	}
	aug, ok := loop.Body[0].(*AugAssign)
	if !ok || aug.Op != "+" {
		t.Fatalf("loop body stmt = %#v, want AugAssign +", loop.Body[0])
	}
}

func TestParseFuncDef(t *testing.T) {
	src := "def add(a, b=1):\n    return a + b\n"
	mod := mustParse(t, src)
	fn := mod.Body[0].(*FuncDef)
	if fn.Name != "add" || len(fn.Params) != 2 {
		t.Fatalf("func = %q params = %d", fn.Name, len(fn.Params))
	}
	if fn.Params[1].Default == nil {
		t.Error("param b default not parsed")
	}
	if _, ok := fn.Body[0].(*Return); !ok {
		t.Errorf("func body stmt = %T, want *Return", fn.Body[0])
	}
}

func TestParseTryExceptFinally(t *testing.T) {
	src := "try:\n    x = 1\nexcept ValueError as e:\n    x = 2\nfinally:\n    x = 3\n"
	mod := mustParse(t, src)
	try := mod.Body[0].(*Try)
	if len(try.Handlers) != 1 || try.Handlers[0].Name != "e" {
		t.Fatalf("handlers = %#v", try.Handlers)
	}
	if len(try.Final) != 1 {
		t.Errorf("finally len = %d, want 1", len(try.Final))
	}
}

func TestParseListComprehension(t *testing.T) {
	mod := mustParse(t, "result = [x * 2 for x in items if x > 0]\n")
	assign := mod.Body[0].(*Assign)
	comp, ok := assign.Value.(*Comp)
	if !ok || comp.Kind != "list" {
		t.Fatalf("value = %#v, want list comprehension", assign.Value)
	}
	if len(comp.Clauses) != 1 || len(comp.Clauses[0].Ifs) != 1 {
		t.Errorf("clauses = %#v", comp.Clauses)
	}
}

func TestParseDictComprehension(t *testing.T) {
	mod := mustParse(t, "result = {k: v for k, v in pairs}\n")
	comp := mod.Body[0].(*Assign).Value.(*Comp)
	if comp.Kind != "dict" || comp.Val == nil {
		t.Fatalf("comp = %#v", comp)
	}
	if _, ok := comp.Clauses[0].Target.(*TupleExpr); !ok {
		t.Errorf("target = %#v, want tuple", comp.Clauses[0].Target)
	}
}

func TestParseConditionalExpression(t *testing.T) {
	mod := mustParse(t, "result = a if cond else b\n")
	cond, ok := mod.Body[0].(*Assign).Value.(*Cond)
	if !ok {
		t.Fatalf("value = %T, want *Cond", mod.Body[0].(*Assign).Value)
	}
	if _, ok := cond.Test.(*Name); !ok {
		t.Errorf("test = %#v", cond.Test)
	}
}

func TestParseChainedComparison(t *testing.T) {
	mod := mustParse(t, "ok = 0 <= x < 10\n")
	cmp := mod.Body[0].(*Assign).Value.(*Compare)
	if len(cmp.Ops) != 2 || cmp.Ops[0] != "<=" || cmp.Ops[1] != "<" {
		t.Errorf("ops = %v", cmp.Ops)
	}
}

func TestParseNotInAndIsNot(t *testing.T) {
	mod := mustParse(t, "a = x not in xs\nb = y is not None\n")
	cmpA := mod.Body[0].(*Assign).Value.(*Compare)
	if cmpA.Ops[0] != "not in" {
		t.Errorf("op a = %q, want \"not in\"", cmpA.Ops[0])
	}
	cmpB := mod.Body[1].(*Assign).Value.(*Compare)
	if cmpB.Ops[0] != "is not" {
		t.Errorf("op b = %q, want \"is not\"", cmpB.Ops[0])
	}
}

func TestParseCallWithKwargs(t *testing.T) {
	mod := mustParse(t, "x = sorted(items, key=len, reverse=True)\n")
	call := mod.Body[0].(*Assign).Value.(*Call)
	if len(call.Args) != 1 || len(call.Kwargs) != 2 {
		t.Fatalf("args = %d, kwargs = %d", len(call.Args), len(call.Kwargs))
	}
	if call.Kwargs[1].Name != "reverse" {
		t.Errorf("kwarg 1 = %q", call.Kwargs[1].Name)
	}
}

func TestParseSlice(t *testing.T) {
	mod := mustParse(t, "x = items[1:10:2]\ny = items[:5]\nz = items[::-1]\n")
	sl := mod.Body[0].(*Assign).Value.(*SliceExpr)
	if sl.Lo == nil || sl.Hi == nil || sl.Step == nil {
		t.Errorf("full slice missing parts: %#v", sl)
	}
	sl2 := mod.Body[1].(*Assign).Value.(*SliceExpr)
	if sl2.Lo != nil || sl2.Hi == nil {
		t.Errorf("open slice parsed wrong: %#v", sl2)
	}
	sl3 := mod.Body[2].(*Assign).Value.(*SliceExpr)
	if sl3.Step == nil {
		t.Errorf("step slice parsed wrong: %#v", sl3)
	}
}

func TestParseTupleAssignment(t *testing.T) {
	mod := mustParse(t, "a, b = 1, 2\n")
	assign := mod.Body[0].(*Assign)
	if _, ok := assign.Targets[0].(*TupleExpr); !ok {
		t.Errorf("target = %T, want *TupleExpr", assign.Targets[0])
	}
	if _, ok := assign.Value.(*TupleExpr); !ok {
		t.Errorf("value = %T, want *TupleExpr", assign.Value)
	}
}

func TestParseChainedAssignment(t *testing.T) {
	mod := mustParse(t, "a = b = 0\n")
	assign := mod.Body[0].(*Assign)
	if len(assign.Targets) != 2 {
		t.Errorf("targets = %d, want 2", len(assign.Targets))
	}
}

func TestParseInlineSuite(t *testing.T) {
	mod := mustParse(t, "if x: y = 1\n")
	ifStmt := mod.Body[0].(*If)
	if len(ifStmt.Body) != 1 {
		t.Errorf("inline suite len = %d, want 1", len(ifStmt.Body))
	}
}

func TestParseRejectsUnsupported(t *testing.T) {
	bad := []string{
		"x = lambda a: a + 1\n",
		"class Foo:\n    pass\n",
		"with open('f') as f:\n    pass\n",
		"def f(*args):\n    pass\n",
		"x = f(*items)\n",
		"del x\n",
		"result = \n",
		"if x\n    y = 1\n",
		"1 = x\n",
	}
	for _, src := range bad {
		if _, err := Parse(src); err == nil {
			t.Errorf("Parse(%q) succeeded, want error", src)
		}
	}
}

func TestParseErrorHasPosition(t *testing.T) {
	_, err := Parse("x = 1\ny = (\n")
	if err == nil {
		t.Fatal("expected parse error")
	}
	perr, ok := err.(*ParseError)
	if !ok {
		t.Fatalf("error is %T, want *ParseError", err)
	}
	if perr.Pos.Line < 2 {
		t.Errorf("error line = %d, want >= 2", perr.Pos.Line)
	}
}

func TestWalkVisitsAllNodes(t *testing.T) {
	mod := mustParse(t, "def f(a):\n    if a > 0:\n        return a * 2\n    return 0\nresult = f(items[0]['value'])\n")
	var names []string
	Inspect(mod, func(n Node) bool {
		if nm, ok := n.(*Name); ok {
			names = append(names, nm.ID)
		}
		return true
	})
	want := map[string]bool{"a": false, "f": false, "items": false, "result": false}
	for _, nm := range names {
		if _, ok := want[nm]; ok {
			want[nm] = true
		}
	}
	for nm, seen := range want {
		if !seen {
			t.Errorf("Walk never visited name %q", nm)
		}
	}
}
