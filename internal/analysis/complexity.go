package analysis

import (
	"fmt"
	"strings"

	"codegen-pipeline/internal/lang"
)

// Rating buckets for the aggregate score.
const (
	RatingLow    = "low"
	RatingMedium = "medium"
	RatingHigh   = "high"
)

// Score thresholds between rating buckets.
const (
	mediumThreshold = 20.0
	highThreshold   = 50.0
)

// OptimizationSuggestion flags a recognized anti-pattern in the candidate.
type OptimizationSuggestion struct {
	Type    string `json:"type"`
	Line    int    `json:"line"`
	Col     int    `json:"col"`
	Message string `json:"message"`
}

// Report is the static complexity profile of one candidate. It is a pure
// function of the syntax tree: the candidate is never executed.
type Report struct {
	Score       float64                  `json:"score"`
	Rating      string                   `json:"rating"`
	Metrics     map[string]int           `json:"metrics"`
	Suggestions []OptimizationSuggestion `json:"suggestions,omitempty"`
}

// Analyze computes the metric set, aggregate score and suggestions for a
// parsed candidate. The source text is only used for raw line counting.
func Analyze(source string, mod *lang.Module) Report {
	m := newMetrics()
	m.countLines(source)
	m.walkStmts(mod.Body, 0)

	sugs := suggest(mod, m)

	score := m.score()
	return Report{
		Score:       score,
		Rating:      rating(score),
		Metrics:     m.values,
		Suggestions: sugs,
	}
}

func rating(score float64) string {
	switch {
	case score < mediumThreshold:
		return RatingLow
	case score < highThreshold:
		return RatingMedium
	default:
		return RatingHigh
	}
}

type metrics struct {
	values     map[string]int
	maxNesting int
}

func newMetrics() *metrics {
	return &metrics{values: map[string]int{
		"lines":       0,
		"code_lines":  0,
		"statements":  0,
		"expressions": 0,
		"functions":   0,
		"branches":    0,
		"loops":       0,
		"max_nesting": 0,
		"cyclomatic":  1,
		"calls":       0,
		"imports":     0,
		"assignments": 0,
		"comparisons": 0,
		"boolean_ops": 0,
		"returns":     0,
		"literals":    0,
	}}
}

func (m *metrics) inc(key string, n int) { m.values[key] += n }

func (m *metrics) countLines(source string) {
	lines := strings.Split(source, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	m.values["lines"] = len(lines)
	for _, ln := range lines {
		t := strings.TrimSpace(ln)
		if t != "" && !strings.HasPrefix(t, "#") {
			m.inc("code_lines", 1)
		}
	}
}

// walkStmts counts statement-shaped metrics and tracks nesting. Suite-bearing
// statements (if, loops, try, def) raise the nesting depth for their bodies.
func (m *metrics) walkStmts(body []lang.Stmt, depth int) {
	if depth > m.maxNesting {
		m.maxNesting = depth
		m.values["max_nesting"] = depth
	}
	for _, s := range body {
		m.inc("statements", 1)
		switch t := s.(type) {
		case *lang.Assign:
			m.inc("assignments", 1)
			for _, tgt := range t.Targets {
				m.countExpr(tgt)
			}
			m.countExpr(t.Value)
		case *lang.AugAssign:
			m.inc("assignments", 1)
			m.countExpr(t.Target)
			m.countExpr(t.Value)
		case *lang.ExprStmt:
			m.countExpr(t.X)
		case *lang.If:
			m.inc("branches", 1)
			m.inc("cyclomatic", 1)
			m.countExpr(t.Cond)
			m.walkStmts(t.Body, depth+1)
			m.walkStmts(t.Else, depth+1)
		case *lang.For:
			m.inc("loops", 1)
			m.inc("cyclomatic", 1)
			m.countExpr(t.Iter)
			m.walkStmts(t.Body, depth+1)
			m.walkStmts(t.Else, depth+1)
		case *lang.While:
			m.inc("loops", 1)
			m.inc("cyclomatic", 1)
			m.countExpr(t.Cond)
			m.walkStmts(t.Body, depth+1)
			m.walkStmts(t.Else, depth+1)
		case *lang.FuncDef:
			m.inc("functions", 1)
			for _, p := range t.Params {
				if p.Default != nil {
					m.countExpr(p.Default)
				}
			}
			m.walkStmts(t.Body, depth+1)
		case *lang.Return:
			m.inc("returns", 1)
			if t.Value != nil {
				m.countExpr(t.Value)
			}
		case *lang.Import:
			m.inc("imports", 1)
		case *lang.FromImport:
			m.inc("imports", 1)
		case *lang.Try:
			m.walkStmts(t.Body, depth+1)
			for _, h := range t.Handlers {
				m.inc("branches", 1)
				m.inc("cyclomatic", 1)
				if h.Type != nil {
					m.countExpr(h.Type)
				}
				m.walkStmts(h.Body, depth+1)
			}
			m.walkStmts(t.Else, depth+1)
			m.walkStmts(t.Final, depth+1)
		case *lang.Raise:
			if t.Exc != nil {
				m.countExpr(t.Exc)
			}
		}
	}
}

// countExpr counts expression-shaped metrics under one expression tree.
func (m *metrics) countExpr(e lang.Expr) {
	lang.Inspect(e, func(n lang.Node) bool {
		if _, isExpr := n.(lang.Expr); isExpr {
			m.inc("expressions", 1)
		}
		switch t := n.(type) {
		case *lang.Call:
			m.inc("calls", 1)
		case *lang.Compare:
			m.inc("comparisons", len(t.Ops))
			m.inc("cyclomatic", len(t.Ops)-1)
		case *lang.BoolExpr:
			m.inc("boolean_ops", len(t.Vals)-1)
			m.inc("cyclomatic", len(t.Vals)-1)
		case *lang.Cond:
			m.inc("branches", 1)
			m.inc("cyclomatic", 1)
		case *lang.Comp:
			m.inc("loops", len(t.Clauses))
			m.inc("cyclomatic", len(t.Clauses))
			for _, c := range t.Clauses {
				m.inc("cyclomatic", len(c.Ifs))
			}
		case *lang.Num, *lang.Str, *lang.BoolConst, *lang.NoneConst:
			m.inc("literals", 1)
		}
		return true
	})
}

// score folds the metric map into one number. Control flow weighs more than
// volume so a long straight-line script stays cheaper than a short deeply
// branched one.
func (m *metrics) score() float64 {
	v := m.values
	return float64(v["cyclomatic"])*2 +
		float64(v["max_nesting"])*3 +
		float64(v["loops"])*2 +
		float64(v["functions"]) +
		float64(v["statements"])*0.5 +
		float64(v["calls"])*0.5
}

const (
	deepNestingLimit  = 4
	longFunctionLimit = 50
)

func suggest(mod *lang.Module, m *metrics) []OptimizationSuggestion {
	var out []OptimizationSuggestion

	out = append(out, findStringConcatInLoops(mod)...)
	out = append(out, findUnusedBindings(mod)...)

	if m.maxNesting > deepNestingLimit {
		out = append(out, OptimizationSuggestion{
			Type: "deep-nesting",
			Message: fmt.Sprintf("nesting depth %d exceeds %d; consider extracting helper functions",
				m.maxNesting, deepNestingLimit),
		})
	}

	for _, s := range mod.Body {
		fn, ok := s.(*lang.FuncDef)
		if !ok {
			continue
		}
		if n := stmtCount(fn.Body); n > longFunctionLimit {
			out = append(out, OptimizationSuggestion{
				Type: "long-function",
				Line: fn.P.Line,
				Col:  fn.P.Col,
				Message: fmt.Sprintf("function %q has %d statements; consider splitting it",
					fn.Name, n),
			})
		}
	}
	return out
}

func stmtCount(body []lang.Stmt) int {
	n := 0
	for _, s := range body {
		n++
		switch t := s.(type) {
		case *lang.If:
			n += stmtCount(t.Body) + stmtCount(t.Else)
		case *lang.For:
			n += stmtCount(t.Body) + stmtCount(t.Else)
		case *lang.While:
			n += stmtCount(t.Body) + stmtCount(t.Else)
		case *lang.FuncDef:
			n += stmtCount(t.Body)
		case *lang.Try:
			n += stmtCount(t.Body) + stmtCount(t.Else) + stmtCount(t.Final)
			for _, h := range t.Handlers {
				n += stmtCount(h.Body)
			}
		}
	}
	return n
}

// findStringConcatInLoops flags `name += expr` inside a loop when name was
// bound to a string literal, the classic quadratic-append pattern.
func findStringConcatInLoops(mod *lang.Module) []OptimizationSuggestion {
	stringNames := map[string]bool{}
	lang.Inspect(mod, func(n lang.Node) bool {
		a, ok := n.(*lang.Assign)
		if !ok {
			return true
		}
		if _, isStr := a.Value.(*lang.Str); !isStr {
			return true
		}
		for _, tgt := range a.Targets {
			if name, ok := tgt.(*lang.Name); ok {
				stringNames[name.ID] = true
			}
		}
		return true
	})
	if len(stringNames) == 0 {
		return nil
	}

	var out []OptimizationSuggestion
	var inLoop func(body []lang.Stmt, loop bool)
	inLoop = func(body []lang.Stmt, loop bool) {
		for _, s := range body {
			switch t := s.(type) {
			case *lang.AugAssign:
				name, ok := t.Target.(*lang.Name)
				if loop && ok && t.Op == "+" && stringNames[name.ID] {
					out = append(out, OptimizationSuggestion{
						Type: "string-concat-in-loop",
						Line: name.P.Line,
						Col:  name.P.Col,
						Message: fmt.Sprintf("string %q is concatenated inside a loop; build a list and join it",
							name.ID),
					})
				}
			case *lang.If:
				inLoop(t.Body, loop)
				inLoop(t.Else, loop)
			case *lang.For:
				inLoop(t.Body, true)
				inLoop(t.Else, loop)
			case *lang.While:
				inLoop(t.Body, true)
				inLoop(t.Else, loop)
			case *lang.FuncDef:
				inLoop(t.Body, false)
			case *lang.Try:
				inLoop(t.Body, loop)
				for _, h := range t.Handlers {
					inLoop(h.Body, loop)
				}
				inLoop(t.Else, loop)
				inLoop(t.Final, loop)
			}
		}
	}
	inLoop(mod.Body, false)
	return out
}

// findUnusedBindings flags names that are assigned but never read. The
// conventional output binding and underscore-prefixed names are exempt.
func findUnusedBindings(mod *lang.Module) []OptimizationSuggestion {
	type binding struct {
		pos lang.Position
	}
	assigned := map[string]binding{}
	loaded := map[string]bool{}

	lang.Inspect(mod, func(n lang.Node) bool {
		switch t := n.(type) {
		case *lang.Assign:
			for _, tgt := range t.Targets {
				if name, ok := tgt.(*lang.Name); ok {
					if _, seen := assigned[name.ID]; !seen {
						assigned[name.ID] = binding{pos: name.P}
					}
				} else {
					lang.Inspect(tgt, func(sub lang.Node) bool {
						if nm, ok := sub.(*lang.Name); ok && nm != tgt {
							loaded[nm.ID] = true
						}
						return true
					})
				}
			}
			markLoads(t.Value, loaded)
			return false
		case *lang.AugAssign:
			// Augmented assignment both reads and writes.
			markLoads(t.Target, loaded)
			markLoads(t.Value, loaded)
			return false
		case *lang.Name:
			loaded[t.ID] = true
		}
		return true
	})

	var out []OptimizationSuggestion
	for name, b := range assigned {
		if name == "result" || strings.HasPrefix(name, "_") || loaded[name] {
			continue
		}
		out = append(out, OptimizationSuggestion{
			Type:    "unused-binding",
			Line:    b.pos.Line,
			Col:     b.pos.Col,
			Message: fmt.Sprintf("%q is assigned but never used", name),
		})
	}
	// Map iteration order is random; keep output stable by line.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Line < out[j-1].Line; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func markLoads(e lang.Expr, loaded map[string]bool) {
	lang.Inspect(e, func(n lang.Node) bool {
		if nm, ok := n.(*lang.Name); ok {
			loaded[nm.ID] = true
		}
		return true
	})
}
