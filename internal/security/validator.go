package security

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"codegen-pipeline/internal/lang"
)

// Severity levels for deny-list violations.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Violation is one deny-list hit with its location.
type Violation struct {
	RuleID   string `json:"rule_id"`
	Message  string `json:"message"`
	Line     int    `json:"line"`
	Col      int    `json:"col"`
	Severity string `json:"severity"`
}

// Verdict is the immutable outcome of validating one candidate. Allowed is
// false if a single violation was found; all violations are reported, not
// just the first.
type Verdict struct {
	Allowed    bool        `json:"allowed"`
	Violations []Violation `json:"violations,omitempty"`
}

// Summary renders the violations as generator feedback.
func (v Verdict) Summary() string {
	if v.Allowed {
		return ""
	}
	parts := make([]string, 0, len(v.Violations))
	for _, viol := range v.Violations {
		parts = append(parts, fmt.Sprintf("line %d: %s (%s)", viol.Line, viol.Message, viol.RuleID))
	}
	return strings.Join(parts, "; ")
}

// Validator checks candidate syntax trees against a configured deny-list.
// It is a pure function of (tree, deny-list): no side effects, and it never
// executes the candidate. Anything it cannot statically resolve is treated
// as a violation.
type Validator struct {
	modules map[string]bool
	calls   map[string]bool
	attrs   map[string]bool
}

// DenyList enumerates the constructs a candidate may not use. Empty fields
// fall back to the defaults.
type DenyList struct {
	Modules    []string `yaml:"modules"`
	Calls      []string `yaml:"calls"`
	Attributes []string `yaml:"attributes"`
}

// DefaultDenyList blocks process, filesystem, network and reflection escape
// hatches.
func DefaultDenyList() DenyList {
	return DenyList{
		Modules: []string{
			"os", "sys", "subprocess", "shutil", "socket", "ctypes",
			"importlib", "multiprocessing", "threading", "signal",
			"pickle", "marshal", "builtins", "pty", "fcntl", "resource",
			"http", "urllib", "requests", "ftplib", "smtplib", "webbrowser",
		},
		Calls: []string{
			"eval", "exec", "compile", "__import__", "open", "input",
			"breakpoint", "globals", "locals", "vars", "getattr", "setattr",
			"delattr", "exit", "quit", "help", "memoryview",
		},
		Attributes: []string{
			"__class__", "__bases__", "__subclasses__", "__globals__",
			"__code__", "__closure__", "__dict__", "__builtins__",
			"__import__", "__loader__", "__spec__", "__mro__", "mro",
			"f_globals", "f_locals",
		},
	}
}

// NewValidator builds a validator from the deny-list. Empty list sections
// use the defaults.
func NewValidator(dl DenyList) *Validator {
	def := DefaultDenyList()
	if len(dl.Modules) == 0 {
		dl.Modules = def.Modules
	}
	if len(dl.Calls) == 0 {
		dl.Calls = def.Calls
	}
	if len(dl.Attributes) == 0 {
		dl.Attributes = def.Attributes
	}
	return &Validator{
		modules: toSet(dl.Modules),
		calls:   toSet(dl.Calls),
		attrs:   toSet(dl.Attributes),
	}
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, it := range items {
		set[it] = true
	}
	return set
}

// ValidateSource parses and checks a candidate in one step. A parse failure
// is returned as the error; no security walk happens on unparseable input.
func (v *Validator) ValidateSource(source string) (Verdict, *lang.Module, error) {
	mod, err := lang.Parse(source)
	if err != nil {
		return Verdict{}, nil, err
	}
	return v.Check(mod), mod, nil
}

// Check walks the tree and returns every violation found.
func (v *Validator) Check(mod *lang.Module) Verdict {
	w := &walker{v: v}
	lang.Walk(w, mod)

	verdict := Verdict{Allowed: len(w.violations) == 0, Violations: w.violations}
	if !verdict.Allowed {
		log.Debug().
			Int("violations", len(w.violations)).
			Str("first_rule", w.violations[0].RuleID).
			Msg("candidate rejected by security validator")
	}
	return verdict
}

type walker struct {
	v          *Validator
	violations []Violation

	// Names already reported as call targets, so the bare-reference rule
	// does not double-report them.
	reported map[*lang.Name]bool
}

func (w *walker) add(ruleID string, pos lang.Position, sev Severity, format string, args ...any) {
	w.violations = append(w.violations, Violation{
		RuleID:   ruleID,
		Message:  fmt.Sprintf(format, args...),
		Line:     pos.Line,
		Col:      pos.Col,
		Severity: sev.String(),
	})
}

func (w *walker) Visit(n lang.Node) bool {
	switch t := n.(type) {
	case *lang.Import:
		for _, alias := range t.Names {
			if w.v.moduleDenied(alias.Name) {
				w.add("forbidden-import", alias.P, SeverityCritical,
					"import of forbidden module %q", alias.Name)
			}
		}

	case *lang.FromImport:
		if w.v.moduleDenied(t.Module) {
			w.add("forbidden-import", t.P, SeverityCritical,
				"import from forbidden module %q", t.Module)
		}

	case *lang.Call:
		w.checkCall(t)
		// Children still need walking for nested calls in arguments.
		return true

	case *lang.Attr:
		if w.v.attrs[t.Name] {
			w.add("forbidden-attribute", t.P, SeverityHigh,
				"access to forbidden attribute %q", t.Name)
		}

	case *lang.Name:
		// A bare reference to a denied builtin can be rebound and called
		// later under a different name, so the reference itself fails.
		if w.v.calls[t.ID] && !w.reported[t] {
			w.add("forbidden-reference", t.P, SeverityHigh,
				"reference to forbidden builtin %q", t.ID)
		}
	}
	return true
}

func (w *walker) checkCall(c *lang.Call) {
	switch fn := c.Fn.(type) {
	case *lang.Name:
		if w.v.calls[fn.ID] {
			w.add("forbidden-call", fn.P, SeverityCritical,
				"call to forbidden builtin %q", fn.ID)
			if w.reported == nil {
				w.reported = make(map[*lang.Name]bool)
			}
			w.reported[fn] = true
		}
	case *lang.Attr:
		if path, ok := dottedPath(fn); ok {
			if w.v.calls[path] {
				w.add("forbidden-call", fn.P, SeverityCritical,
					"call to forbidden function %q", path)
			}
			if root := strings.SplitN(path, ".", 2)[0]; w.v.modules[root] {
				w.add("forbidden-call", fn.P, SeverityCritical,
					"call into forbidden module %q", root)
			}
		}
		// Method calls on computed receivers are allowed as long as the
		// attribute name itself is clean; the Attr case above already
		// checked it.
	default:
		// Calling the result of a subscript, call, or other computed
		// expression cannot be resolved statically. Fail closed.
		w.add("dynamic-call", c.Pos(), SeverityHigh,
			"call target cannot be statically resolved")
	}
}

// moduleDenied reports whether name or any of its dotted ancestors is on the
// module deny-list (denying "os" also denies "os.path").
func (v *Validator) moduleDenied(name string) bool {
	if v.modules[name] {
		return true
	}
	for i := len(name) - 1; i > 0; i-- {
		if name[i] == '.' && v.modules[name[:i]] {
			return true
		}
	}
	return false
}

// dottedPath flattens an attribute chain rooted at a plain name, e.g.
// os.path.join. It fails (ok=false) when the chain is rooted at anything
// other than a name.
func dottedPath(a *lang.Attr) (string, bool) {
	var parts []string
	var cur lang.Expr = a
	for {
		switch t := cur.(type) {
		case *lang.Attr:
			parts = append([]string{t.Name}, parts...)
			cur = t.Value
		case *lang.Name:
			parts = append([]string{t.ID}, parts...)
			return strings.Join(parts, "."), true
		default:
			return "", false
		}
	}
}
