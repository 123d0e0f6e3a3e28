package analysis

import (
	"strings"
	"testing"

	"codegen-pipeline/internal/lang"
)

func analyze(t *testing.T, src string) Report {
	t.Helper()
	mod, err := lang.Parse(src)
	if err != nil {
		t.Fatalf("Parse(%q) error: %v", src, err)
	}
	return Analyze(src, mod)
}

func TestAnalyzeSimpleExpression(t *testing.T) {
	rep := analyze(t, "result = items[0]['json']['value'] * 2\n")
	if rep.Rating != RatingLow {
		t.Errorf("rating = %q, want low", rep.Rating)
	}
	if rep.Metrics["statements"] != 1 || rep.Metrics["assignments"] != 1 {
		t.Errorf("metrics = %v", rep.Metrics)
	}
	if rep.Metrics["lines"] != 1 || rep.Metrics["code_lines"] != 1 {
		t.Errorf("line counts = %d/%d, want 1/1", rep.Metrics["lines"], rep.Metrics["code_lines"])
	}
}

func TestAnalyzeMetricSetIsComplete(t *testing.T) {
	rep := analyze(t, "result = 1\n")
	want := []string{
		"lines", "code_lines", "statements", "expressions", "functions",
		"branches", "loops", "max_nesting", "cyclomatic", "calls", "imports",
		"assignments", "comparisons", "boolean_ops", "returns", "literals",
	}
	if len(rep.Metrics) < 15 {
		t.Errorf("metric count = %d, want >= 15", len(rep.Metrics))
	}
	for _, key := range want {
		if _, ok := rep.Metrics[key]; !ok {
			t.Errorf("metric %q missing", key)
		}
	}
}

func TestAnalyzeCountsControlFlow(t *testing.T) {
	src := `import json
def process(items):
    total = 0
    for item in items:
        if item['value'] > 0 and item['ok']:
            total += item['value']
        else:
            total -= 1
    return total
result = process(items)
`
	rep := analyze(t, src)
	m := rep.Metrics
	if m["functions"] != 1 {
		t.Errorf("functions = %d, want 1", m["functions"])
	}
	if m["loops"] != 1 {
		t.Errorf("loops = %d, want 1", m["loops"])
	}
	if m["branches"] != 1 {
		t.Errorf("branches = %d, want 1", m["branches"])
	}
	if m["imports"] != 1 {
		t.Errorf("imports = %d, want 1", m["imports"])
	}
	if m["returns"] != 1 {
		t.Errorf("returns = %d, want 1", m["returns"])
	}
	if m["comparisons"] != 1 {
		t.Errorf("comparisons = %d, want 1", m["comparisons"])
	}
	if m["boolean_ops"] != 1 {
		t.Errorf("boolean_ops = %d, want 1", m["boolean_ops"])
	}
	if m["max_nesting"] != 3 {
		t.Errorf("max_nesting = %d, want 3", m["max_nesting"])
	}
	if m["cyclomatic"] != 4 {
		t.Errorf("cyclomatic = %d, want 4", m["cyclomatic"])
	}
}

func TestAnalyzeDeterministic(t *testing.T) {
	src := "x = 1\ny = x + 2\nresult = y\n"
	a := analyze(t, src)
	b := analyze(t, src)
	if a.Score != b.Score || a.Rating != b.Rating {
		t.Errorf("non-deterministic: %v vs %v", a, b)
	}
	for k, v := range a.Metrics {
		if b.Metrics[k] != v {
			t.Errorf("metric %q differs: %d vs %d", k, v, b.Metrics[k])
		}
	}
}

func TestAnalyzeRatingBuckets(t *testing.T) {
	low := analyze(t, "result = 1\n")
	if low.Rating != RatingLow {
		t.Errorf("trivial code rated %q, want low (score %v)", low.Rating, low.Score)
	}

	var b strings.Builder
	b.WriteString("def f(x):\n")
	for i := 0; i < 12; i++ {
		b.WriteString("    if x > 0:\n        x = x - 1\n")
	}
	b.WriteString("    return x\nresult = f(v)\n")
	high := analyze(t, b.String())
	if high.Rating == RatingLow {
		t.Errorf("branch-heavy code rated low (score %v)", high.Score)
	}
	if high.Score <= low.Score {
		t.Errorf("score ordering wrong: %v <= %v", high.Score, low.Score)
	}
}

func TestSuggestStringConcatInLoop(t *testing.T) {
	src := "out = ''\nfor item in items:\n    out += item['name']\nresult = out\n"
	rep := analyze(t, src)
	found := false
	for _, s := range rep.Suggestions {
		if s.Type == "string-concat-in-loop" {
			found = true
			if s.Line != 3 {
				t.Errorf("suggestion line = %d, want 3", s.Line)
			}
		}
	}
	if !found {
		t.Errorf("no string-concat-in-loop suggestion: %v", rep.Suggestions)
	}
}

func TestSuggestStringConcatOutsideLoopNotFlagged(t *testing.T) {
	rep := analyze(t, "out = ''\nout += 'suffix'\nresult = out\n")
	for _, s := range rep.Suggestions {
		if s.Type == "string-concat-in-loop" {
			t.Errorf("concat outside loop flagged: %v", s)
		}
	}
}

func TestSuggestUnusedBinding(t *testing.T) {
	rep := analyze(t, "unused = 42\nresult = 1\n")
	found := false
	for _, s := range rep.Suggestions {
		if s.Type == "unused-binding" && strings.Contains(s.Message, "unused") {
			found = true
		}
	}
	if !found {
		t.Errorf("no unused-binding suggestion: %v", rep.Suggestions)
	}
}

func TestSuggestUnusedBindingExemptions(t *testing.T) {
	rep := analyze(t, "result = 42\n_ignored = 1\n")
	for _, s := range rep.Suggestions {
		if s.Type == "unused-binding" {
			t.Errorf("exempt binding flagged: %v", s)
		}
	}
}

func TestSuggestDeepNesting(t *testing.T) {
	src := `if a:
    if b:
        if c:
            if d:
                if e:
                    result = 1
`
	rep := analyze(t, src)
	found := false
	for _, s := range rep.Suggestions {
		if s.Type == "deep-nesting" {
			found = true
		}
	}
	if !found {
		t.Errorf("no deep-nesting suggestion at depth %d", rep.Metrics["max_nesting"])
	}
}

func TestSuggestLongFunction(t *testing.T) {
	var b strings.Builder
	b.WriteString("def f(x):\n")
	for i := 0; i < 55; i++ {
		b.WriteString("    x = x + 1\n")
	}
	b.WriteString("    return x\n")
	rep := analyze(t, b.String())
	found := false
	for _, s := range rep.Suggestions {
		if s.Type == "long-function" {
			found = true
		}
	}
	if !found {
		t.Error("no long-function suggestion for 56-statement function")
	}
}

func TestAnalyzeComprehensionCountsAsLoop(t *testing.T) {
	rep := analyze(t, "result = [x * 2 for x in items if x > 0]\n")
	if rep.Metrics["loops"] != 1 {
		t.Errorf("loops = %d, want 1", rep.Metrics["loops"])
	}
}
