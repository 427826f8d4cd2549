// Package expreval evaluates the arithmetic and boolean expressions that
// appear in QSL source: qubit index expressions, rotation angles, LET
// bindings, and conditional guards. Expressions are ECMAScript, extended
// with the word operators and/or/not and the constants pi and tau.
package expreval

import (
	"fmt"
	"math"
	"regexp"

	"github.com/dop251/goja"
)

// Env maps variable names to numeric values injected into every evaluation.
type Env map[string]float64

var (
	andRe = regexp.MustCompile(`\band\b`)
	orRe  = regexp.MustCompile(`\bor\b`)
	notRe = regexp.MustCompile(`\bnot\b`)
)

// normalize rewrites word boolean operators into their ECMAScript forms.
func normalize(expr string) string {
	s := andRe.ReplaceAllString(expr, "&&")
	s = orRe.ReplaceAllString(s, "||")
	s = notRe.ReplaceAllString(s, "!")
	return s
}

func eval(expr string, env Env) (goja.Value, error) {
	vm := goja.New()
	if err := vm.Set("pi", math.Pi); err != nil {
		return nil, err
	}
	if err := vm.Set("tau", 2*math.Pi); err != nil {
		return nil, err
	}
	for name, val := range env {
		if err := vm.Set(name, val); err != nil {
			return nil, err
		}
	}
	v, err := vm.RunString(normalize(expr))
	if err != nil {
		return nil, fmt.Errorf("evaluating %q: %w", expr, err)
	}
	return v, nil
}

// Number evaluates expr to a float64.
func Number(expr string, env Env) (float64, error) {
	v, err := eval(expr, env)
	if err != nil {
		return 0, err
	}
	f := v.ToFloat()
	if math.IsNaN(f) {
		return 0, fmt.Errorf("expression %q is not numeric", expr)
	}
	return f, nil
}

// Bool evaluates expr to a boolean.
func Bool(expr string, env Env) (bool, error) {
	v, err := eval(expr, env)
	if err != nil {
		return false, err
	}
	return v.ToBoolean(), nil
}

// Index evaluates expr to a qubit index, rounding to the nearest integer
// and range-checking against register size n.
func Index(expr string, env Env, n int) (int, error) {
	f, err := Number(expr, env)
	if err != nil {
		return 0, err
	}
	idx := int(math.Round(f))
	if idx < 0 || idx >= n {
		return 0, fmt.Errorf("qubit index %d out of range [0, %d)", idx, n)
	}
	return idx, nil
}

// Int evaluates expr to a rounded integer with no range check.
func Int(expr string, env Env) (int, error) {
	f, err := Number(expr, env)
	if err != nil {
		return 0, err
	}
	return int(math.Round(f)), nil
}
