// Package kexpr evaluates scenario check expressions using JavaScript
// (goja). It supports single expressions, $(...) references embedded in
// strings, and ${ ... } code blocks.
package kexpr

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dop251/goja"
)

// Evaluator evaluates check expressions against a simulation snapshot.
type Evaluator struct {
	// lib contains JavaScript helper code loaded before every
	// evaluation, from the scenario's expression_lib section.
	lib []string
}

// NewEvaluator creates an evaluator with the given helper library.
func NewEvaluator(lib []string) *Evaluator {
	return &Evaluator{lib: lib}
}

// setupVM creates a JavaScript VM seeded with the helper library and
// the snapshot globals.
func (e *Evaluator) setupVM(ctx *Context) (*goja.Runtime, error) {
	vm := goja.New()

	for i, lib := range e.lib {
		if _, err := vm.RunString(lib); err != nil {
			return nil, fmt.Errorf("expression_lib[%d]: %w", i, err)
		}
	}

	globals := map[string]any{
		"tick":       ctx.Tick,
		"current":    ctx.Current,
		"threads":    ctx.Threads,
		"locks":      ctx.Locks,
		"semaphores": ctx.Semaphores,
		"stats":      ctx.Stats,
	}
	for name, val := range globals {
		if err := vm.Set(name, val); err != nil {
			return nil, fmt.Errorf("set %s: %w", name, err)
		}
	}

	return vm, nil
}

// Evaluate evaluates an expression string with the given context.
// Three forms are supported:
//   - Bare expressions: threads.main.priority == 40
//   - Reference form: $(threads.main.state)
//   - Code blocks: ${ return threads.main.priority > 31; }
//
// Strings mixing literal text and $(...) references interpolate each
// reference and return the combined string.
func (e *Evaluator) Evaluate(expr string, ctx *Context) (any, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, fmt.Errorf("empty expression")
	}

	vm, err := e.setupVM(ctx)
	if err != nil {
		return nil, err
	}

	trimmed := strings.TrimSpace(expr)
	if strings.HasPrefix(trimmed, "${") {
		if idx := findMatchingBrace(trimmed); idx == len(trimmed)-1 {
			return e.evaluateCodeBlock(vm, trimmed)
		}
	}

	matches := findReferences(expr)
	if len(matches) == 0 {
		// Bare JavaScript expression.
		val, err := vm.RunString(trimmed)
		if err != nil {
			return nil, fmt.Errorf("expression error in %q: %w", trimmed, err)
		}
		return exportChecked(val, trimmed)
	}

	// A sole $(...) reference returns the typed value directly.
	if len(matches) == 1 && matches[0].start == 0 && matches[0].end == len(expr) {
		val, err := vm.RunString(matches[0].expr)
		if err != nil {
			return nil, fmt.Errorf("expression error in $(%s): %w", matches[0].expr, err)
		}
		return exportChecked(val, matches[0].expr)
	}

	// Mixed literal and references: interpolate into a string.
	var out strings.Builder
	lastEnd := 0
	for _, m := range matches {
		out.WriteString(expr[lastEnd:m.start])
		val, err := vm.RunString(m.expr)
		if err != nil {
			return nil, fmt.Errorf("expression error in $(%s): %w", m.expr, err)
		}
		exported, err := exportChecked(val, m.expr)
		if err != nil {
			return nil, err
		}
		out.WriteString(toString(exported))
		lastEnd = m.end
	}
	out.WriteString(expr[lastEnd:])
	return out.String(), nil
}

// evaluateCodeBlock evaluates a ${ ... } block by wrapping its body in
// a function so "return" works.
func (e *Evaluator) evaluateCodeBlock(vm *goja.Runtime, expr string) (any, error) {
	code := strings.TrimPrefix(expr, "${")
	code = strings.TrimSuffix(code, "}")
	code = strings.TrimSpace(code)

	wrapped := fmt.Sprintf("(function() { %s })()", code)
	val, err := vm.RunString(wrapped)
	if err != nil {
		return nil, fmt.Errorf("JavaScript error: %w", err)
	}
	return val.Export(), nil
}

// EvaluateBool evaluates an expression that must yield a boolean.
func (e *Evaluator) EvaluateBool(expr string, ctx *Context) (bool, error) {
	val, err := e.Evaluate(expr, ctx)
	if err != nil {
		return false, err
	}
	switch v := val.(type) {
	case bool:
		return v, nil
	default:
		return false, fmt.Errorf("expression %q did not return boolean: %T", expr, val)
	}
}

// EvaluateInt evaluates an expression that must yield an integer.
func (e *Evaluator) EvaluateInt(expr string, ctx *Context) (int64, error) {
	val, err := e.Evaluate(expr, ctx)
	if err != nil {
		return 0, err
	}
	switch v := val.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		return int64(v), nil
	default:
		return 0, fmt.Errorf("expression %q did not return integer: %T", expr, val)
	}
}

// EvaluateString evaluates an expression and renders the result as a
// string.
func (e *Evaluator) EvaluateString(expr string, ctx *Context) (string, error) {
	val, err := e.Evaluate(expr, ctx)
	if err != nil {
		return "", err
	}
	return toString(val), nil
}

// exportChecked exports a goja value, turning undefined into an error.
// Undefined almost always means a typo'd thread or lock name, and a
// silent false would hide the mistake.
func exportChecked(val goja.Value, expr string) (any, error) {
	if val == goja.Undefined() {
		return nil, fmt.Errorf("expression %q returned undefined (unknown name?)", expr)
	}
	return val.Export(), nil
}

// refMatch is one $(expr) occurrence in a string.
type refMatch struct {
	start int    // index of "$(" in the string
	end   int    // index after the closing ")"
	expr  string // content without $( and )
}

// findReferences finds all $(expr) patterns, handling nested parens.
func findReferences(s string) []refMatch {
	var matches []refMatch
	i := 0
	for i < len(s)-1 {
		if s[i] == '$' && s[i+1] == '(' && (i == 0 || s[i-1] != '\\') {
			depth := 1
			j := i + 2
			for j < len(s) && depth > 0 {
				switch s[j] {
				case '(':
					depth++
				case ')':
					depth--
				}
				j++
			}
			if depth == 0 {
				matches = append(matches, refMatch{start: i, end: j, expr: s[i+2 : j-1]})
				i = j
				continue
			}
		}
		i++
	}
	return matches
}

// findMatchingBrace finds the closing brace of a leading ${ block.
// Returns -1 when unbalanced.
func findMatchingBrace(s string) int {
	if !strings.HasPrefix(s, "${") {
		return -1
	}
	depth := 0
	for i, c := range s {
		switch c {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// toString renders an evaluated value for interpolation and messages.
func toString(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", val)
	}
}
