// Package permission decides whether a granted permission node covers a
// requested one.
//
// Nodes are dot-separated and case-insensitive. A "*" segment on either side
// matches any single segment, and a trailing "*" on the granted node also
// covers every deeper node: "example.*" grants "example.test" and
// "example.test.permission" but not "example". A leading "-" is ignored when
// matching.
package permission

import "strings"

// Calculator decides whether base grants toCheck.
type Calculator interface {
	Has(base, toCheck string) bool
}

// CalculatorFunc adapts a function to Calculator.
type CalculatorFunc func(base, toCheck string) bool

func (f CalculatorFunc) Has(base, toCheck string) bool { return f(base, toCheck) }

// Default is the wildcard matcher described in the package documentation.
var Default Calculator = CalculatorFunc(Match)

// Holder is anything that owns a set of granted permission nodes.
type Holder interface {
	Permissions() []string
}

// Match reports whether the granted node base covers toCheck.
func Match(base, toCheck string) bool {
	if toCheck == "" || strings.EqualFold(base, toCheck) {
		return true
	}

	baseParts := strings.Split(strings.TrimLeft(base, "-"), ".")
	checkParts := strings.Split(strings.TrimLeft(toCheck, "-"), ".")

	n := min(len(baseParts), len(checkParts))
	for i := 0; i < n; i++ {
		b, c := baseParts[i], checkParts[i]
		if b == "*" || c == "*" || strings.EqualFold(b, c) {
			continue
		}
		return false
	}

	if len(baseParts) == len(checkParts) {
		return true
	}
	return len(baseParts) < len(checkParts) && baseParts[len(baseParts)-1] == "*"
}

// Check reports whether any permission held by h grants perm under calc. A
// nil calc uses Default.
func Check(calc Calculator, h Holder, perm string) bool {
	if calc == nil {
		calc = Default
	}
	if perm == "" {
		return true
	}
	if h == nil {
		return false
	}
	for _, granted := range h.Permissions() {
		if calc.Has(granted, perm) {
			return true
		}
	}
	return false
}

// WithFallback wraps a custom calculator so that a panic inside it falls back
// to Default for that decision.
func WithFallback(custom Calculator) Calculator {
	if custom == nil {
		return Default
	}
	return CalculatorFunc(func(base, toCheck string) (granted bool) {
		defer func() {
			if r := recover(); r != nil {
				granted = Default.Has(base, toCheck)
			}
		}()
		return custom.Has(base, toCheck)
	})
}

// Set is a static Holder.
type Set []string

func (s Set) Permissions() []string { return s }
