// Package nls declares systems of nonlinear algebraic equations over named
// variables and provides solvers for them: a damped projected Newton method
// for square feasibility systems and a Gauss-Newton method for weighted
// least-squares objectives subject to the same equation set.
//
// The package stores the assignment as a flat []float64 indexed by variable
// position; equations are residual closures over that vector, each declaring
// the variable indices it reads so Jacobians stay cheap to form.
package nls

import (
	"fmt"
	"math"
)

// Variable is one unknown (or pinned value) in a system.
type Variable struct {
	Name  string
	Init  float64
	Fixed bool // pinned to Init; excluded from the unknown set
	Lo    float64
	Hi    float64
}

// Unbounded returns the open bounds used for variables without box
// constraints.
func Unbounded() (float64, float64) {
	return math.Inf(-1), math.Inf(1)
}

// Equation is one residual term. Residual must evaluate to zero at a
// solution. Vars lists every variable index the residual reads; indices
// outside Vars are never perturbed when differentiating.
type Equation struct {
	Name     string
	Vars     []int
	Residual func(x []float64) float64
}

// System is a declared set of variables and residual equations.
type System struct {
	vars      []Variable
	equations []Equation
	index     map[string]int
}

// NewSystem creates an empty system.
func NewSystem() *System {
	return &System{index: make(map[string]int)}
}

// AddVariable declares an unbounded free variable and returns its index.
func (s *System) AddVariable(name string, init float64) int {
	lo, hi := Unbounded()
	return s.AddBoundedVariable(name, init, lo, hi)
}

// AddBoundedVariable declares a free variable with box bounds.
func (s *System) AddBoundedVariable(name string, init, lo, hi float64) int {
	idx := len(s.vars)
	s.vars = append(s.vars, Variable{Name: name, Init: init, Lo: lo, Hi: hi})
	s.index[name] = idx
	return idx
}

// AddEquation appends a residual equation.
func (s *System) AddEquation(name string, vars []int, residual func(x []float64) float64) {
	s.equations = append(s.equations, Equation{Name: name, Vars: vars, Residual: residual})
}

// Fix pins a variable to the given value. Pinned variables do not count as
// unknowns and keep their value through the solve.
func (s *System) Fix(idx int, value float64) {
	s.vars[idx].Init = value
	s.vars[idx].Fixed = true
}

// Unfix releases a previously pinned variable.
func (s *System) Unfix(idx int) {
	s.vars[idx].Fixed = false
}

// SetInit overrides a variable's initial value without pinning it.
func (s *System) SetInit(idx int, value float64) {
	s.vars[idx].Init = value
}

// SetBounds replaces a variable's box bounds.
func (s *System) SetBounds(idx int, lo, hi float64) {
	s.vars[idx].Lo = lo
	s.vars[idx].Hi = hi
}

// Index returns a variable's position by name.
func (s *System) Index(name string) (int, bool) {
	idx, ok := s.index[name]
	return idx, ok
}

// Var returns the declaration at the given index.
func (s *System) Var(idx int) Variable {
	return s.vars[idx]
}

// NumVariables reports the total variable count, pinned included.
func (s *System) NumVariables() int { return len(s.vars) }

// NumEquations reports the residual equation count.
func (s *System) NumEquations() int { return len(s.equations) }

// NumFree reports the unknown count.
func (s *System) NumFree() int {
	n := 0
	for _, v := range s.vars {
		if !v.Fixed {
			n++
		}
	}
	return n
}

// InitialValues assembles the starting assignment: variable initial values,
// optionally overridden by a warm-start vector from a previous solve.
// Pinned variables always take their pinned value.
func (s *System) InitialValues(warm []float64) []float64 {
	x := make([]float64, len(s.vars))
	for i, v := range s.vars {
		x[i] = v.Init
		if warm != nil && i < len(warm) && !v.Fixed {
			x[i] = warm[i]
		}
	}
	return x
}

// Residuals evaluates every equation at x into out, which must have
// length NumEquations.
func (s *System) Residuals(x, out []float64) {
	for i, eq := range s.equations {
		out[i] = eq.Residual(x)
	}
}

// CheckBounds verifies the assignment against every variable's box bounds.
func (s *System) CheckBounds(x []float64, tol float64) error {
	for i, v := range s.vars {
		if x[i] < v.Lo-tol || x[i] > v.Hi+tol {
			return fmt.Errorf("%w: variable %s = %g outside [%g, %g]", ErrInfeasible, v.Name, x[i], v.Lo, v.Hi)
		}
	}
	return nil
}

// clamp projects a value into a variable's bounds.
func clamp(v float64, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
